package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libshelf/internal/apperror"
	"libshelf/internal/journal"
	"libshelf/internal/storage"
	"libshelf/internal/storage/storagetest"
)

type knownBooks map[uuid.UUID]bool

func (k knownBooks) BookExists(_ context.Context, id uuid.UUID) (bool, error) {
	return k[id], nil
}

type fixture struct {
	db      *storage.DB
	journal *journal.Journal
	svc     Service
	bookID  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storagetest.TempDB(t)
	j := journal.New(db)
	bookID := storagetest.SeedBook(t, db)
	return &fixture{
		db:      db,
		journal: j,
		svc:     NewService(db, knownBooks{bookID: true}, j),
		bookID:  bookID,
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCreateCopy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	c, err := f.svc.CreateCopy(ctx, f.bookID, time.Date(2024, 3, 5, 17, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, day(2024, 3, 5), c.AcquiredDate)
	assert.Nil(t, c.DiscardedDate)

	got, err := f.svc.GetCopy(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.Available)
	assert.True(t, day(2024, 3, 5).Equal(got.AcquiredDate))

	history, err := f.journal.History(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, journal.CopyAcquired, history[0].EventType)
}

func TestCreateCopyRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.CreateCopy(ctx, f.bookID, time.Time{})
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	_, err = f.svc.CreateCopy(ctx, uuid.New(), day(2024, 1, 1))
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestIsAvailable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	free := storagetest.SeedCopy(t, f.db, f.bookID, day(2023, 1, 1))
	lent := storagetest.SeedCopy(t, f.db, f.bookID, day(2023, 1, 1))
	storagetest.SeedLoan(t, f.db, uuid.New(), lent)

	ok, err := f.svc.IsAvailable(ctx, free)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.IsAvailable(ctx, lent)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.svc.DiscardCopy(ctx, free, day(2024, 1, 1))
	require.NoError(t, err)
	ok, err = f.svc.IsAvailable(ctx, free)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.svc.IsAvailable(ctx, uuid.New())
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestResolveAvailableCopyPrefersOldest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	newer := storagetest.SeedCopy(t, f.db, f.bookID, day(2024, 6, 1))
	oldest := storagetest.SeedCopy(t, f.db, f.bookID, day(2020, 1, 1))
	middle := storagetest.SeedCopy(t, f.db, f.bookID, day(2022, 1, 1))

	c, err := f.svc.ResolveAvailableCopy(ctx, f.bookID)
	require.NoError(t, err)
	assert.Equal(t, oldest, c.ID)

	storagetest.SeedLoan(t, f.db, uuid.New(), oldest)
	_, err = f.svc.DiscardCopy(ctx, middle, day(2024, 1, 1))
	require.NoError(t, err)

	c, err = f.svc.ResolveAvailableCopy(ctx, f.bookID)
	require.NoError(t, err)
	assert.Equal(t, newer, c.ID)

	storagetest.SeedLoan(t, f.db, uuid.New(), newer)
	_, err = f.svc.ResolveAvailableCopy(ctx, f.bookID)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestResolveAvailableCopyBreaksTiesByID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := storagetest.SeedCopy(t, f.db, f.bookID, day(2021, 5, 5))
	b := storagetest.SeedCopy(t, f.db, f.bookID, day(2021, 5, 5))
	want := a
	if b.String() < a.String() {
		want = b
	}

	c, err := f.svc.ResolveAvailableCopy(ctx, f.bookID)
	require.NoError(t, err)
	assert.Equal(t, want, c.ID)
}

func TestDiscardCopy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	copyID := storagetest.SeedCopy(t, f.db, f.bookID, day(2023, 6, 1))

	_, err := f.svc.DiscardCopy(ctx, copyID, day(2023, 5, 31))
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	_, err = f.svc.DiscardCopy(ctx, copyID, time.Time{})
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	c, err := f.svc.DiscardCopy(ctx, copyID, day(2023, 6, 1))
	require.NoError(t, err)
	require.NotNil(t, c.DiscardedDate)
	assert.Equal(t, day(2023, 6, 1), *c.DiscardedDate)

	_, err = f.svc.DiscardCopy(ctx, copyID, day(2024, 1, 1))
	assert.True(t, errors.Is(err, apperror.ErrValidation))

	_, err = f.svc.DiscardCopy(ctx, uuid.New(), day(2024, 1, 1))
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	history, err := f.journal.History(ctx, copyID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, journal.CopyDiscarded, history[0].EventType)
}

func TestDiscardCopyOnLoanIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	copyID := storagetest.SeedCopy(t, f.db, f.bookID, day(2023, 6, 1))
	storagetest.SeedLoan(t, f.db, uuid.New(), copyID)

	_, err := f.svc.DiscardCopy(ctx, copyID, day(2024, 1, 1))
	require.True(t, errors.Is(err, apperror.ErrValidation))
	assert.Contains(t, err.Error(), "on loan")

	got, err := f.svc.GetCopy(ctx, copyID)
	require.NoError(t, err)
	assert.Nil(t, got.DiscardedDate)
}

func TestListCopies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := storagetest.SeedCopy(t, f.db, f.bookID, day(2020, 1, 1))
	second := storagetest.SeedCopy(t, f.db, f.bookID, day(2021, 1, 1))
	third := storagetest.SeedCopy(t, f.db, f.bookID, day(2022, 1, 1))
	storagetest.SeedLoan(t, f.db, uuid.New(), second)
	_, err := f.svc.DiscardCopy(ctx, third, day(2023, 1, 1))
	require.NoError(t, err)

	copies, err := f.svc.ListCopies(ctx, f.bookID)
	require.NoError(t, err)
	require.Len(t, copies, 3)
	assert.Equal(t, []uuid.UUID{first, second, third}, []uuid.UUID{copies[0].ID, copies[1].ID, copies[2].ID})
	assert.Equal(t, []bool{true, false, false}, []bool{copies[0].Available, copies[1].Available, copies[2].Available})

	_, err = f.svc.ListCopies(ctx, uuid.New())
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestDeleteCopyCascades(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	copyID := storagetest.SeedCopy(t, f.db, f.bookID, day(2020, 1, 1))
	storagetest.SeedLoan(t, f.db, uuid.New(), copyID)

	require.NoError(t, f.svc.DeleteCopy(ctx, copyID))

	_, err := f.svc.GetCopy(ctx, copyID)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	var loans int
	require.NoError(t, storage.Get(ctx, f.db, &loans, f.db.From("loans").Select(goqu.COUNT("*"))))
	assert.Zero(t, loans)

	err = f.svc.DeleteCopy(ctx, copyID)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	history, err := f.journal.History(ctx, copyID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, journal.CopyDeleted, history[0].EventType)
}

func TestDateKeepsCallerCalendarDay(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	assert.Equal(t, day(2024, 6, 1), Date(time.Date(2024, 6, 1, 8, 0, 0, 0, tokyo)))

	honolulu := time.FixedZone("HST", -10*60*60)
	assert.Equal(t, day(2024, 6, 1), Date(time.Date(2024, 6, 1, 20, 0, 0, 0, honolulu)))
	assert.Equal(t, day(2024, 6, 1), Date(day(2024, 6, 1)))
}

func TestCreateCopyStoresCallerCalendarDay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	c, err := f.svc.CreateCopy(ctx, f.bookID, time.Date(2024, 6, 1, 8, 0, 0, 0, time.FixedZone("JST", 9*60*60)))
	require.NoError(t, err)
	assert.Equal(t, day(2024, 6, 1), c.AcquiredDate)

	got, err := f.svc.GetCopy(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, day(2024, 6, 1).Equal(got.AcquiredDate))
}

func TestLockedCopiesAreSkippedAndWaitedOn(t *testing.T) {
	storagetest.Each(t, func(t *testing.T, db *storage.DB) {
		if !db.SupportsRowLocks() {
			t.Skip("row locks need a server database")
		}
		ctx := context.Background()
		store := NewStore(db, journal.New(db))
		bookID := storagetest.SeedBook(t, db)
		oldest := storagetest.SeedCopy(t, db, bookID, day(2024, 1, 1))
		newest := storagetest.SeedCopy(t, db, bookID, day(2024, 2, 1))

		first, err := db.BeginTxx(ctx, nil)
		require.NoError(t, err)
		defer first.Rollback()
		second, err := db.BeginTxx(ctx, nil)
		require.NoError(t, err)
		defer second.Rollback()

		c, err := store.FindAvailableCopy(ctx, first, bookID, true)
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.Equal(t, oldest, c.ID)

		c, err = store.FindAvailableCopy(ctx, second, bookID, true)
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.Equal(t, newest, c.ID, "a locked copy is skipped")

		c, err = store.FindAvailableCopy(ctx, db, bookID, true)
		require.NoError(t, err)
		assert.Nil(t, c, "every copy is locked")

		found := make(chan error, 1)
		go func() {
			_, err := store.FindCopy(ctx, db, oldest, true)
			found <- err
		}()

		select {
		case <-found:
			t.Fatal("locking a held copy must wait for its holder")
		case <-time.After(200 * time.Millisecond):
		}

		require.NoError(t, first.Rollback())
		select {
		case err := <-found:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("lock was not released by rollback")
		}
	})
}
