package journal

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libshelf/internal/storage"
	"libshelf/internal/storage/storagetest"
)

type loanPayload struct {
	LoanID uuid.UUID `json:"loan_id"`
}

func TestAppendAndHistory(t *testing.T) {
	ctx := context.Background()
	db := storagetest.TempDB(t)
	j := New(db)

	copyID := uuid.New()
	actor := uuid.New()
	loanID := uuid.New()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	err := db.InTx(ctx, "test", func(tx *sqlx.Tx) error {
		return j.Append(ctx, tx,
			Event{AggregateType: AggregateCopy, AggregateID: copyID, Type: CopyAcquired, Data: map[string]string{"book": "b"}, OccurredAt: at},
			Event{AggregateType: AggregateCopy, AggregateID: copyID, Type: LoanOpened, ActorID: actor, Data: loanPayload{LoanID: loanID}, OccurredAt: at},
		)
	})
	require.NoError(t, err)

	history, err := j.History(ctx, copyID)
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, CopyAcquired, history[0].EventType)
	assert.False(t, history[0].ActorID.Valid)
	assert.Equal(t, LoanOpened, history[1].EventType)
	assert.Equal(t, actor, history[1].ActorID.UUID)
	assert.True(t, at.Equal(history[1].OccurredAt))
	assert.Less(t, history[0].ID, history[1].ID)

	var payload loanPayload
	require.NoError(t, json.Unmarshal(history[1].Payload, &payload))
	assert.Equal(t, loanID, payload.LoanID)
}

func TestAppendIsRolledBackWithTransaction(t *testing.T) {
	ctx := context.Background()
	db := storagetest.TempDB(t)
	j := New(db)
	copyID := uuid.New()

	err := db.InTx(ctx, "test", func(tx *sqlx.Tx) error {
		require.NoError(t, j.Append(ctx, tx, Event{AggregateType: AggregateCopy, AggregateID: copyID, Type: CopyDiscarded}))
		return errors.New("abort")
	})
	require.Error(t, err)

	history, err := j.History(ctx, copyID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStreamPagesThroughJournal(t *testing.T) {
	ctx := context.Background()
	db := storagetest.TempDB(t)
	j := New(db)

	for i := 0; i < 5; i++ {
		require.NoError(t, j.Append(ctx, db, Event{AggregateType: AggregateBook, AggregateID: uuid.New(), Type: BookRegistered}))
	}

	first, err := j.Stream(ctx, 0, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)

	rest, err := j.Stream(ctx, first[len(first)-1].ID, 3)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
	assert.Greater(t, rest[0].ID, first[2].ID)
}

func TestStreamNeverSkipsAnUncommittedAppend(t *testing.T) {
	storagetest.Each(t, func(t *testing.T, db *storage.DB) {
		ctx := context.Background()
		j := New(db)
		first, second := uuid.New(), uuid.New()

		slow, err := db.BeginTxx(ctx, nil)
		require.NoError(t, err)
		defer slow.Rollback()
		require.NoError(t, j.Append(ctx, slow, Event{AggregateType: AggregateBook, AggregateID: first, Type: BookRegistered}))

		done := make(chan error, 1)
		go func() {
			done <- db.InTx(ctx, "later", func(tx *sqlx.Tx) error {
				return j.Append(ctx, tx, Event{AggregateType: AggregateBook, AggregateID: second, Type: BookRegistered})
			})
		}()

		select {
		case err := <-done:
			t.Fatalf("later append committed while an earlier one was open: %v", err)
		case <-time.After(200 * time.Millisecond):
		}
		visible, err := j.Stream(ctx, 0, 10)
		require.NoError(t, err)
		assert.Empty(t, visible)

		require.NoError(t, slow.Commit())
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(15 * time.Second):
			t.Fatal("later append never committed")
		}

		entries, err := j.Stream(ctx, 0, 10)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, first, entries[0].AggregateID)
		assert.Equal(t, second, entries[1].AggregateID)
		assert.Less(t, entries[0].ID, entries[1].ID)
	})
}
