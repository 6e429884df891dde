// Package journal is the append-only audit trail of circulation state changes.
//
// Entries are written through the caller's transaction, so an entry exists exactly when the change it
// describes was committed.
package journal

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libshelf/internal/storage"
)

const table = "circulation_events"

// appendLock orders appends on Postgres so ids become visible in increasing order and a Stream
// cursor never passes an id whose transaction has yet to commit.
const appendLock int64 = 0x6c696273_00000001

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type AggregateType string

const (
	AggregateBook   AggregateType = "book"
	AggregateCopy   AggregateType = "copy"
	AggregateMember AggregateType = "member"
)

type EventType string

const (
	BookRegistered       EventType = "BookRegistered"
	BookDeleted          EventType = "BookDeleted"
	CopyAcquired         EventType = "CopyAcquired"
	CopyDiscarded        EventType = "CopyDiscarded"
	CopyDeleted          EventType = "CopyDeleted"
	LoanOpened           EventType = "LoanOpened"
	LoanClosed           EventType = "LoanClosed"
	ReservationPlaced    EventType = "ReservationPlaced"
	ReservationFulfilled EventType = "ReservationFulfilled"
	ReservationCancelled EventType = "ReservationCancelled"
	MemberRegistered     EventType = "MemberRegistered"
)

// Event is what a component records. Data is encoded as the JSON payload.
type Event struct {
	AggregateType AggregateType
	AggregateID   uuid.UUID
	Type          EventType
	ActorID       uuid.UUID
	Data          interface{}
	OccurredAt    time.Time
}

// Entry is a stored event.
type Entry struct {
	ID            int64               `json:"id"`
	AggregateType AggregateType       `json:"aggregate_type"`
	AggregateID   uuid.UUID           `json:"aggregate_id"`
	EventType     EventType           `json:"event_type"`
	Payload       jsoniter.RawMessage `json:"payload"`
	ActorID       uuid.NullUUID       `json:"actor_id"`
	OccurredAt    time.Time           `json:"occurred_at"`
}

type entryRow struct {
	ID            int64         `db:"id"`
	AggregateType string        `db:"aggregate_type"`
	AggregateID   uuid.UUID     `db:"aggregate_id"`
	EventType     string        `db:"event_type"`
	Payload       string        `db:"payload"`
	ActorID       uuid.NullUUID `db:"actor_id"`
	OccurredAt    time.Time     `db:"occurred_at"`
}

func (r entryRow) entry() Entry {
	return Entry{
		ID:            r.ID,
		AggregateType: AggregateType(r.AggregateType),
		AggregateID:   r.AggregateID,
		EventType:     EventType(r.EventType),
		Payload:       jsoniter.RawMessage(r.Payload),
		ActorID:       r.ActorID,
		OccurredAt:    r.OccurredAt.UTC(),
	}
}

// Journal appends and reads circulation events.
type Journal struct {
	db     *storage.DB
	tracer trace.Tracer
}

func New(db *storage.DB) *Journal {
	return &Journal{
		db:     db,
		tracer: otel.Tracer("libshelf/journal"),
	}
}

// Append writes events through q, normally the transaction that made the change. Appending
// transactions are serialized from their first Append until they commit.
func (j *Journal) Append(ctx context.Context, q storage.Querier, events ...Event) error {
	ctx, span := j.tracer.Start(ctx, "journal.append",
		trace.WithAttributes(attribute.Int("event.count", len(events))),
	)
	defer span.End()

	if err := j.db.XactLock(ctx, q, appendLock); err != nil {
		return errors.Wrap(err, "serialize append")
	}

	for i, event := range events {
		payload, err := json.MarshalToString(event.Data)
		if err != nil {
			return errors.Wrapf(err, "marshal event %d payload", i)
		}

		occurredAt := event.OccurredAt
		if occurredAt.IsZero() {
			occurredAt = time.Now()
		}
		actor := uuid.NullUUID{UUID: event.ActorID, Valid: event.ActorID != uuid.Nil}

		stmt := j.db.Insert(table).Rows(goqu.Record{
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID,
			"event_type":     string(event.Type),
			"payload":        payload,
			"actor_id":       actor,
			"occurred_at":    occurredAt.UTC(),
		})
		if _, err := storage.Exec(ctx, q, stmt); err != nil {
			return errors.Wrapf(err, "insert event %s", event.Type)
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.String("aggregate.id", event.AggregateID.String()),
			attribute.String("event.type", string(event.Type)),
		))
	}
	return nil
}

// History returns every entry recorded for an aggregate, oldest first.
func (j *Journal) History(ctx context.Context, aggregateID uuid.UUID) ([]Entry, error) {
	ctx, span := j.tracer.Start(ctx, "journal.history",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID.String())),
	)
	defer span.End()

	stmt := j.db.From(table).
		Where(goqu.C("aggregate_id").Eq(aggregateID)).
		Order(goqu.C("id").Asc())

	entries, err := j.load(ctx, stmt)
	if err != nil {
		return nil, errors.Wrap(err, "query history")
	}
	span.SetAttributes(attribute.Int("events.loaded", len(entries)))
	return entries, nil
}

// Stream is a cursor over the whole journal: it returns up to batchSize entries with an id above fromID.
func (j *Journal) Stream(ctx context.Context, fromID int64, batchSize int) ([]Entry, error) {
	ctx, span := j.tracer.Start(ctx, "journal.stream",
		trace.WithAttributes(
			attribute.Int64("from.id", fromID),
			attribute.Int("batch.size", batchSize),
		),
	)
	defer span.End()

	if batchSize <= 0 {
		batchSize = 100
	}
	stmt := j.db.From(table).
		Where(goqu.C("id").Gt(fromID)).
		Order(goqu.C("id").Asc()).
		Limit(uint(batchSize))

	entries, err := j.load(ctx, stmt)
	if err != nil {
		return nil, errors.Wrap(err, "query event stream")
	}
	span.SetAttributes(attribute.Int("events.streamed", len(entries)))
	return entries, nil
}

func (j *Journal) load(ctx context.Context, stmt *goqu.SelectDataset) ([]Entry, error) {
	var rows []entryRow
	if err := storage.Select(ctx, j.db, &rows, stmt.Select(
		"id", "aggregate_type", "aggregate_id", "event_type", "payload", "actor_id", "occurred_at",
	)); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.entry())
	}
	return entries, nil
}
