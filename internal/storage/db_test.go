package storage_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libshelf/internal/storage"
	"libshelf/internal/storage/storagetest"
)

func insertBook(t *testing.T, db *storage.DB, isbn string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := storage.Exec(context.Background(), db, db.Insert("books").Rows(goqu.Record{
		"id":         id,
		"isbn13":     isbn,
		"title":      "Dune",
		"created_at": time.Now().UTC(),
	}))
	require.NoError(t, err)
	return id
}

func TestMigrateIsIdempotent(t *testing.T) {
	storagetest.Each(t, func(t *testing.T, db *storage.DB) {
		applied, err := db.Migrate(context.Background())
		require.NoError(t, err)
		assert.Empty(t, applied, "second run must not reapply migrations")

		var versions []string
		require.NoError(t, storage.Select(context.Background(), db, &versions, db.From("schema_migrations").Select("version")))
		assert.Contains(t, versions, "0001_init")
	})
}

func TestUniqueViolationIsClassified(t *testing.T) {
	db := storagetest.TempDB(t)
	insertBook(t, db, "9780441172719")

	_, err := storage.Exec(context.Background(), db, db.Insert("books").Rows(goqu.Record{
		"id":         uuid.New(),
		"isbn13":     "9780441172719",
		"title":      "Dune again",
		"created_at": time.Now().UTC(),
	}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrUniqueViolation))
	assert.True(t, storage.IsConflict(err))
}

func TestOneActiveLoanPerCopyIndex(t *testing.T) {
	storagetest.Each(t, testOneActiveLoanPerCopyIndex)
}

func testOneActiveLoanPerCopyIndex(t *testing.T, db *storage.DB) {
	ctx := context.Background()
	bookID := insertBook(t, db, "9780441172719")

	copyID := uuid.New()
	_, err := storage.Exec(ctx, db, db.Insert("book_copies").Rows(goqu.Record{
		"id":            copyID,
		"book_id":       bookID,
		"acquired_date": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, err)

	loan := func() error {
		_, err := storage.Exec(ctx, db, db.Insert("loans").Rows(goqu.Record{
			"id":            uuid.New(),
			"user_id":       uuid.New(),
			"book_copy_id":  copyID,
			"borrowed_date": time.Now().UTC(),
		}))
		return err
	}

	require.NoError(t, loan())
	err = loan()
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrUniqueViolation))

	_, err = storage.Exec(ctx, db, db.Update("loans").
		Set(goqu.Record{"returned_date": time.Now().UTC().Add(time.Second)}).
		Where(goqu.C("book_copy_id").Eq(copyID)))
	require.NoError(t, err)
	require.NoError(t, loan(), "a returned loan no longer blocks the copy")
}

func TestOneOpenReservationPerUserAndCopyIndex(t *testing.T) {
	storagetest.Each(t, func(t *testing.T, db *storage.DB) {
		ctx := context.Background()
		copyID := storagetest.SeedCopy(t, db, storagetest.SeedBook(t, db), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
		user := uuid.New()

		reserve := func(fulfilled bool) error {
			_, err := storage.Exec(ctx, db, db.Insert("reservations").Rows(goqu.Record{
				"id":           uuid.New(),
				"user_id":      user,
				"book_copy_id": copyID,
				"reserved_at":  time.Now().UTC(),
				"fulfilled":    fulfilled,
			}))
			return err
		}

		require.NoError(t, reserve(true))
		require.NoError(t, reserve(true), "fulfilled reservations may repeat")
		require.NoError(t, reserve(false))
		assert.True(t, errors.Is(reserve(false), storage.ErrUniqueViolation))
	})
}

func TestForeignKeysAreEnforced(t *testing.T) {
	storagetest.Each(t, func(t *testing.T, db *storage.DB) {
		_, err := storage.Exec(context.Background(), db, db.Insert("book_copies").Rows(goqu.Record{
			"id":            uuid.New(),
			"book_id":       uuid.New(),
			"acquired_date": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		}))
		require.Error(t, err)
		assert.True(t, errors.Is(err, storage.ErrForeignKeyViolation))
	})
}

func TestInTxRollsBackOnError(t *testing.T) {
	storagetest.Each(t, testInTxRollsBackOnError)
}

func testInTxRollsBackOnError(t *testing.T, db *storage.DB) {
	ctx := context.Background()
	boom := fmt.Errorf("boom")

	err := db.InTx(ctx, "test", func(tx *sqlx.Tx) error {
		_, err := storage.Exec(ctx, tx, db.Insert("books").Rows(goqu.Record{
			"id":         uuid.New(),
			"isbn13":     "9780441172719",
			"title":      "Dune",
			"created_at": time.Now().UTC(),
		}))
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, storage.Get(ctx, db, &count, db.From("books").Select(goqu.COUNT("*"))))
	assert.Zero(t, count)
}

func TestGetMissingRow(t *testing.T) {
	db := storagetest.TempDB(t)

	var title string
	err := storage.Get(context.Background(), db, &title, db.From("books").Select("title").Where(goqu.C("id").Eq(uuid.New())))
	assert.True(t, storage.IsNoRows(err))
}

func TestClassifyPostgresCodes(t *testing.T) {
	cases := map[pq.ErrorCode]error{
		"23505": storage.ErrUniqueViolation,
		"23503": storage.ErrForeignKeyViolation,
		"40001": storage.ErrConflict,
		"40P01": storage.ErrConflict,
	}
	for code, want := range cases {
		err := storage.Classify(errors.Wrap(&pq.Error{Code: code}, "insert"))
		assert.True(t, errors.Is(err, want), string(code))
	}

	plain := errors.New("connection reset")
	assert.Equal(t, plain, storage.Classify(plain))
	assert.False(t, storage.IsConflict(plain))
}

func TestBuildersUseDialectPlaceholders(t *testing.T) {
	db := storagetest.TempDB(t)
	query, args, err := db.From("loans").Where(goqu.C("user_id").Eq("u1")).ToSQL()
	require.NoError(t, err)
	assert.Contains(t, query, "?")
	assert.Equal(t, []interface{}{"u1"}, args)

	pg, err := storage.New(db.DB, storage.DriverPgx)
	require.NoError(t, err)
	query, _, err = pg.From("loans").Where(goqu.C("user_id").Eq("u1")).ToSQL()
	require.NoError(t, err)
	assert.Contains(t, query, "$1")
	assert.True(t, pg.SupportsRowLocks())
	assert.False(t, db.SupportsRowLocks())
	assert.Equal(t, storage.DriverPgx, pg.Driver())
}
