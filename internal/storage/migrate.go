package storage

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"libshelf/internal/log"
)

//go:embed migration
var migrationFS embed.FS

const migrationTable = "schema_migrations"

var createMigrationTable = map[string]string{
	"postgres": `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL
	)`,
	"sqlite": `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL
	)`,
}

func (db *DB) migrationDir() string {
	if db.driver == DriverSQLite {
		return "sqlite"
	}
	return "postgres"
}

// Migrate applies every embedded migration that is not yet recorded in schema_migrations, in file name order,
// and returns the versions it applied. Each file runs in its own transaction.
func (db *DB) Migrate(ctx context.Context) ([]string, error) {
	dir := db.migrationDir()
	if _, err := db.ExecContext(ctx, createMigrationTable[dir]); err != nil {
		return nil, errors.Wrap(err, "failed to create migration history table")
	}

	var done []string
	if err := Select(ctx, db, &done, db.From(migrationTable).Select("version")); err != nil {
		return nil, errors.Wrap(err, "failed to find migration history")
	}

	// 0001_init.sql, 0002_xxx.sql, ... are applied in order
	filenames, err := fs.Glob(migrationFS, fmt.Sprintf("migration/%s/*.sql", dir))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to find %s migration files", dir)
	}
	slices.Sort(filenames)

	var applied []string
	for _, filename := range filenames {
		version := strings.TrimSuffix(path.Base(filename), ".sql")
		if slices.Contains(done, version) {
			continue
		}

		buf, err := migrationFS.ReadFile(filename)
		if err != nil {
			return applied, errors.Wrapf(err, "failed to read migration file: %q", filename)
		}

		err = db.InTx(ctx, "migrate", func(tx *sqlx.Tx) error {
			for _, stmt := range splitStatements(string(buf)) {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return errors.Wrapf(err, "failed to execute: %s", stmt)
				}
			}
			_, err := Exec(ctx, tx, db.Insert(migrationTable).Rows(goqu.Record{
				"version":    version,
				"applied_at": time.Now().UTC(),
			}))
			return err
		})
		if err != nil {
			return applied, errors.Wrapf(err, "failed to apply migration %s", version)
		}

		log.Info("applied migration", zap.String("version", version), zap.String("dialect", dir))
		applied = append(applied, version)
	}
	return applied, nil
}

// splitStatements breaks a migration file on semicolons. Migration files must not contain semicolons
// inside literals.
func splitStatements(script string) []string {
	var stmts []string
	for _, part := range strings.Split(script, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}
