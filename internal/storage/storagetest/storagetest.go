// Package storagetest provides migrated, throwaway databases for package tests.
//
// SQLite is always available. Setting LIBSHELF_TEST_POSTGRES_DSN to a server the tests may create schemas on
// adds Postgres runs through both the lib/pq and pgx drivers, each in a fresh schema.
package storagetest

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"libshelf/internal/storage"
)

// TempDB opens a fresh SQLite file under t.TempDir() with the full schema applied.
func TempDB(t *testing.T) *storage.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.Open(context.Background(), storage.DriverSQLite, filepath.Join(dir, "test.db"), storage.PoolOptions{
		MaxOpenConns: 8,
	})
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// PostgresDSNEnv names the variable holding the Postgres DSN for tests.
const PostgresDSNEnv = "LIBSHELF_TEST_POSTGRES_DSN"

// Each runs fn as a subtest per available database: sqlite, then postgres and pgx when PostgresDSNEnv is set.
func Each(t *testing.T, fn func(t *testing.T, db *storage.DB)) {
	t.Helper()
	t.Run(storage.DriverSQLite, func(t *testing.T) {
		fn(t, TempDB(t))
	})
	for _, driver := range []string{storage.DriverPostgres, storage.DriverPgx} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			fn(t, Postgres(t, driver))
		})
	}
}

// Postgres opens a migrated database in a schema of its own, dropped when the test ends.
// The test is skipped when PostgresDSNEnv is unset.
func Postgres(t *testing.T, driver string) *storage.DB {
	t.Helper()
	dsn := os.Getenv(PostgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", PostgresDSNEnv)
	}
	ctx := context.Background()

	admin, err := storage.Open(ctx, driver, dsn, storage.PoolOptions{MaxOpenConns: 2})
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	schema := "libshelf_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	if _, err := admin.ExecContext(ctx, "CREATE SCHEMA "+schema); err != nil {
		admin.Close()
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		if _, err := admin.ExecContext(context.Background(), "DROP SCHEMA "+schema+" CASCADE"); err != nil {
			t.Logf("drop schema %s: %v", schema, err)
		}
		admin.Close()
	})

	db, err := storage.Open(ctx, driver, withSearchPath(dsn, schema), storage.PoolOptions{MaxOpenConns: 16})
	if err != nil {
		t.Fatalf("open schema %s: %v", schema, err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// withSearchPath pins every pooled connection to schema. Both drivers pass unknown DSN keys on as
// session parameters.
func withSearchPath(dsn, schema string) string {
	if strings.Contains(dsn, "://") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return dsn + sep + "search_path=" + schema
	}
	return dsn + " search_path=" + schema
}

// SeedBook inserts a bare book row and returns its id.
func SeedBook(t *testing.T, db *storage.DB) uuid.UUID {
	t.Helper()
	id := uuid.New()
	isbn := fmt.Sprintf("978%010d", rand.Int63n(1e10))
	_, err := storage.Exec(context.Background(), db, db.Insert("books").Rows(goqu.Record{
		"id":         id,
		"isbn13":     isbn,
		"title":      "Seeded " + isbn,
		"created_at": time.Now().UTC(),
	}))
	if err != nil {
		t.Fatalf("seed book: %v", err)
	}
	return id
}

// SeedCopy inserts a copy of bookID acquired on the given date.
func SeedCopy(t *testing.T, db *storage.DB, bookID uuid.UUID, acquired time.Time) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := storage.Exec(context.Background(), db, db.Insert("book_copies").Rows(goqu.Record{
		"id":            id,
		"book_id":       bookID,
		"acquired_date": acquired.UTC(),
	}))
	if err != nil {
		t.Fatalf("seed copy: %v", err)
	}
	return id
}

// SeedLoan inserts an open loan of copyID for userID.
func SeedLoan(t *testing.T, db *storage.DB, userID, copyID uuid.UUID) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := storage.Exec(context.Background(), db, db.Insert("loans").Rows(goqu.Record{
		"id":            id,
		"user_id":       userID,
		"book_copy_id":  copyID,
		"borrowed_date": time.Now().UTC().Truncate(time.Microsecond),
	}))
	if err != nil {
		t.Fatalf("seed loan: %v", err)
	}
	return id
}
