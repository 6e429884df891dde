package reservation

import (
	"context"
	"testing"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"libshelf/internal/apperror"
	"libshelf/internal/identity"
	"libshelf/internal/inventory"
	"libshelf/internal/journal"
	"libshelf/internal/storage"
	"libshelf/internal/storage/storagetest"
)

type fixture struct {
	db      *storage.DB
	journal *journal.Journal
	svc     Service
	copyID  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, storagetest.TempDB(t))
}

func newFixtureOn(t *testing.T, db *storage.DB) *fixture {
	t.Helper()
	j := journal.New(db)
	bookID := storagetest.SeedBook(t, db)
	return &fixture{
		db:      db,
		journal: j,
		svc:     NewService(db, j),
		copyID:  storagetest.SeedCopy(t, db, bookID, time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
}

func (f *fixture) rows(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, storage.Get(context.Background(), f.db, &n, f.db.From("reservations").Select(goqu.COUNT("*"))))
	return n
}

func TestDuplicateReservationPerUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user7, user8 := uuid.New(), uuid.New()

	first, err := f.svc.Reserve(ctx, user7, f.copyID)
	require.NoError(t, err)
	assert.False(t, first.Fulfilled)

	_, err = f.svc.Reserve(ctx, user7, f.copyID)
	assert.True(t, errors.Is(err, apperror.ErrDuplicateReservation))

	_, err = f.svc.Reserve(ctx, user8, f.copyID)
	require.NoError(t, err)

	queue, err := f.svc.QueueForCopy(ctx, f.copyID)
	require.NoError(t, err)
	require.Len(t, queue, 2)
	assert.Equal(t, user7, queue[0].UserID)
	assert.Equal(t, user8, queue[1].UserID)
}

func TestReserveAfterFulfillIsAllowed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := uuid.New()

	r, err := f.svc.Reserve(ctx, user, f.copyID)
	require.NoError(t, err)
	_, err = f.svc.Fulfill(ctx, r.ID, identity.Actor{UserID: user})
	require.NoError(t, err)

	again, err := f.svc.Reserve(ctx, user, f.copyID)
	require.NoError(t, err)
	assert.NotEqual(t, r.ID, again.ID)

	list, err := f.svc.ListForUser(ctx, user)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, again.ID, list[0].ID, "open reservations come first")
	assert.True(t, list[1].Fulfilled)
}

func TestReserveUnknownCopy(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Reserve(context.Background(), uuid.New(), uuid.New())
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

// staleCopies reports every copy as present, as a lookup that raced a delete would.
type staleCopies struct{}

func (staleCopies) FindCopy(_ context.Context, _ storage.Querier, id uuid.UUID, _ bool) (*inventory.Copy, error) {
	return &inventory.Copy{ID: id}, nil
}

func TestReserveCopyDeletedAfterLookup(t *testing.T) {
	storagetest.Each(t, func(t *testing.T, db *storage.DB) {
		f := newFixtureOn(t, db)
		f.svc.(*service).copies = staleCopies{}

		_, err := f.svc.Reserve(context.Background(), uuid.New(), uuid.New())
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperror.ErrNotFound), "got %v", err)
		assert.Equal(t, 0, f.rows(t))
	})
}

func TestConcurrentReservationsForSamePair(t *testing.T) {
	storagetest.Each(t, testConcurrentReservationsForSamePair)
}

func testConcurrentReservationsForSamePair(t *testing.T, db *storage.DB) {
	ctx := context.Background()
	f := newFixtureOn(t, db)
	user := uuid.New()

	const attempts = 6
	results := make(chan error, attempts)
	var g errgroup.Group
	for i := 0; i < attempts; i++ {
		g.Go(func() error {
			_, err := f.svc.Reserve(ctx, user, f.copyID)
			results <- err
			return nil
		})
	}
	require.NoError(t, g.Wait())
	close(results)

	var ok, dup int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperror.ErrDuplicateReservation):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, attempts-1, dup)
	assert.Equal(t, 1, f.rows(t))
}

func TestCancelFulfilledReservationIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := uuid.New()

	r, err := f.svc.Reserve(ctx, user, f.copyID)
	require.NoError(t, err)
	fulfilled, err := f.svc.Fulfill(ctx, r.ID, identity.Actor{UserID: user})
	require.NoError(t, err)
	assert.True(t, fulfilled.Fulfilled)

	err = f.svc.Cancel(ctx, r.ID, identity.Actor{UserID: user})
	assert.True(t, errors.Is(err, apperror.ErrAlreadyFulfilled))

	_, err = f.svc.Fulfill(ctx, r.ID, identity.Actor{UserID: user})
	assert.True(t, errors.Is(err, apperror.ErrAlreadyFulfilled))

	got, err := f.svc.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, got.Fulfilled)
	assert.Equal(t, 1, f.rows(t))
}

func TestCancelDeletesReservation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := uuid.New()

	r, err := f.svc.Reserve(ctx, user, f.copyID)
	require.NoError(t, err)
	require.NoError(t, f.svc.Cancel(ctx, r.ID, identity.Actor{UserID: user}))

	_, err = f.svc.GetReservation(ctx, r.ID)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
	err = f.svc.Cancel(ctx, r.ID, identity.Actor{UserID: user})
	assert.True(t, errors.Is(err, apperror.ErrNotFound))

	history, err := f.journal.History(ctx, f.copyID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, journal.ReservationPlaced, history[0].EventType)
	assert.Equal(t, journal.ReservationCancelled, history[1].EventType)
}

func TestReservationOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := uuid.New()

	r, err := f.svc.Reserve(ctx, owner, f.copyID)
	require.NoError(t, err)

	stranger := identity.Actor{UserID: uuid.New()}
	_, err = f.svc.Fulfill(ctx, r.ID, stranger)
	assert.True(t, errors.Is(err, apperror.ErrForbidden))
	err = f.svc.Cancel(ctx, r.ID, stranger)
	assert.True(t, errors.Is(err, apperror.ErrForbidden))

	fulfilled, err := f.svc.Fulfill(ctx, r.ID, identity.Actor{UserID: uuid.New(), Admin: true})
	require.NoError(t, err)
	assert.True(t, fulfilled.Fulfilled)
}

func TestReservingLentOrDiscardedCopyIsAllowed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	storagetest.SeedLoan(t, f.db, uuid.New(), f.copyID)

	_, err := f.svc.Reserve(ctx, uuid.New(), f.copyID)
	require.NoError(t, err)

	_, err = storage.Exec(ctx, f.db, f.db.Update("book_copies").
		Set(goqu.Record{"discarded_date": time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}).
		Where(goqu.C("id").Eq(f.copyID)))
	require.NoError(t, err)

	_, err = f.svc.Reserve(ctx, uuid.New(), f.copyID)
	require.NoError(t, err)
}
