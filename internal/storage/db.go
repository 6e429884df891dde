// Package storage owns the relational handle shared by every circulation component.
package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // postgres dialect
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // sqlite3 dialect
	_ "github.com/jackc/pgx/v5/stdlib"                  // pgx driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite" // sqlite driver
)

const (
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
	DriverSQLite   = "sqlite"

	defaultMaxConnLifetime = time.Hour
	defaultMaxConnIdleTime = 5 * time.Minute
)

// Querier is satisfied by both *sqlx.DB and *sqlx.Tx, so stores run unchanged inside or outside a transaction.
type Querier interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}

// Statement is anything goqu can render into SQL plus arguments.
type Statement interface {
	ToSQL() (string, []interface{}, error)
}

// DB wraps the sqlx handle with the goqu dialect matching its driver.
type DB struct {
	*sqlx.DB
	driver  string
	dialect goqu.DialectWrapper
	tracer  trace.Tracer
}

// PoolOptions tunes the connection pool; zero values keep database/sql defaults.
type PoolOptions struct {
	MaxOpenConns int
	MaxIdleConns int
}

// Open connects to dsn with the named driver and verifies the connection.
func Open(ctx context.Context, driver, dsn string, pool PoolOptions) (*DB, error) {
	if dsn == "" {
		return nil, errors.New("database dsn is required")
	}
	if driver == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", driver)
	}

	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	db.SetConnMaxLifetime(defaultMaxConnLifetime)
	db.SetConnMaxIdleTime(defaultMaxConnIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "ping %s database", driver)
	}

	return New(db, driver)
}

// New wraps an already opened handle.
func New(db *sqlx.DB, driver string) (*DB, error) {
	dialect, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	return &DB{
		DB:      db,
		driver:  driver,
		dialect: goqu.Dialect(dialect),
		tracer:  otel.Tracer("libshelf/storage"),
	}, nil
}

func dialectFor(driver string) (string, error) {
	switch driver {
	case DriverPostgres, DriverPgx:
		return "postgres", nil
	case DriverSQLite:
		return "sqlite3", nil
	default:
		return "", errors.Errorf("unsupported database driver %q", driver)
	}
}

// sqliteDSN turns a bare path into a DSN with foreign keys enforced and write transactions taken eagerly,
// which serializes concurrent writers instead of failing them at commit.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_txlock") {
		return dsn
	}
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)" +
		"&_txlock=immediate&_time_format=sqlite"
}

// Driver is the database/sql driver name the handle was opened with.
func (db *DB) Driver() string {
	return db.driver
}

// SupportsRowLocks reports whether SELECT ... FOR UPDATE is available. SQLite serializes writers instead.
func (db *DB) SupportsRowLocks() bool {
	return db.driver != DriverSQLite
}

// From starts a prepared SELECT against table.
func (db *DB) From(table ...interface{}) *goqu.SelectDataset {
	return db.dialect.From(table...).Prepared(true)
}

func (db *DB) Insert(table interface{}) *goqu.InsertDataset {
	return db.dialect.Insert(table).Prepared(true)
}

func (db *DB) Update(table interface{}) *goqu.UpdateDataset {
	return db.dialect.Update(table).Prepared(true)
}

func (db *DB) Delete(table interface{}) *goqu.DeleteDataset {
	return db.dialect.Delete(table).Prepared(true)
}

// XactLock takes the advisory lock key through q and holds it until q's transaction ends. On SQLite it
// does nothing: writers there already hold the database lock from BEGIN.
func (db *DB) XactLock(ctx context.Context, q Querier, key int64) error {
	if !db.SupportsRowLocks() {
		return nil
	}
	query, args, err := db.dialect.Select(goqu.Func("pg_advisory_xact_lock", key)).Prepared(true).ToSQL()
	if err != nil {
		return errors.Wrap(err, "build advisory lock")
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(Classify(err), "advisory lock")
	}
	return nil
}

func (db *DB) txOptions() *sql.TxOptions {
	if db.driver == DriverSQLite {
		return nil
	}
	return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
}

// InTx runs fn in a transaction. The transaction is rolled back when fn fails or ctx is cancelled,
// and the error is classified so callers can recognise conflicts.
func (db *DB) InTx(ctx context.Context, name string, fn func(tx *sqlx.Tx) error) error {
	ctx, span := db.tracer.Start(ctx, "storage.tx",
		trace.WithAttributes(
			attribute.String("tx.name", name),
			attribute.String("db.driver", db.driver),
		),
	)
	defer span.End()

	tx, err := db.BeginTxx(ctx, db.txOptions())
	if err != nil {
		err = Classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "begin")
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		err = Classify(err)
		span.SetAttributes(attribute.Bool("conflict.detected", IsConflict(err)))
		return err
	}

	if err := tx.Commit(); err != nil {
		err = Classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit")
		return errors.Wrap(err, "commit transaction")
	}
	return nil
}

// Get renders stmt and scans exactly one row into dest. A missing row surfaces as sql.ErrNoRows.
func Get(ctx context.Context, q Querier, dest interface{}, stmt Statement) error {
	query, args, err := stmt.ToSQL()
	if err != nil {
		return errors.Wrap(err, "build query")
	}
	if err := sqlx.GetContext(ctx, q, dest, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return Classify(err)
	}
	return nil
}

// Select renders stmt and scans all rows into dest, which must be a pointer to a slice.
func Select(ctx context.Context, q Querier, dest interface{}, stmt Statement) error {
	query, args, err := stmt.ToSQL()
	if err != nil {
		return errors.Wrap(err, "build query")
	}
	if err := sqlx.SelectContext(ctx, q, dest, query, args...); err != nil {
		return Classify(err)
	}
	return nil
}

// Exec renders stmt and returns the number of affected rows.
func Exec(ctx context.Context, q Querier, stmt Statement) (int64, error) {
	query, args, err := stmt.ToSQL()
	if err != nil {
		return 0, errors.Wrap(err, "build statement")
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, Classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "rows affected")
	}
	return n, nil
}

// IsNoRows reports whether err means the queried row does not exist.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
