// internal/reservation/implementation.go
package reservation

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libshelf/internal/apperror"
	"libshelf/internal/identity"
	"libshelf/internal/inventory"
	"libshelf/internal/journal"
	"libshelf/internal/storage"
)

const table = "reservations"

var columns = []interface{}{"id", "user_id", "book_copy_id", "reserved_at", "fulfilled"}

type copyFinder interface {
	FindCopy(ctx context.Context, q storage.Querier, id uuid.UUID, lock bool) (*inventory.Copy, error)
}

type service struct {
	db      *storage.DB
	copies  copyFinder
	journal *journal.Journal
	tracer  trace.Tracer
	now     func() time.Time
}

// NewService creates the reservation queue.
func NewService(db *storage.DB, j *journal.Journal) Service {
	return &service{
		db:      db,
		copies:  inventory.NewStore(db, j),
		journal: j,
		tracer:  otel.Tracer("libshelf/reservation"),
		now:     time.Now,
	}
}

func duplicate(userID, copyID uuid.UUID) error {
	return apperror.New(apperror.KindDuplicateReservation,
		"user %s already holds an open reservation for copy %s", userID, copyID)
}

func alreadyFulfilled(id uuid.UUID) error {
	return apperror.New(apperror.KindAlreadyFulfilled, "reservation %s is already fulfilled", id)
}

// Reserve queues userID for copyID. Availability is not consulted: an idle or discarded copy may be reserved.
func (s *service) Reserve(ctx context.Context, userID, copyID uuid.UUID) (*Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.reserve",
		trace.WithAttributes(
			attribute.String("user.id", userID.String()),
			attribute.String("copy.id", copyID.String()),
		),
	)
	defer span.End()

	if userID == uuid.Nil {
		return nil, apperror.Validation("user_id is required")
	}

	r := &Reservation{
		ID:         uuid.New(),
		UserID:     userID,
		BookCopyID: copyID,
		ReservedAt: s.now().UTC().Truncate(time.Microsecond),
	}
	err := s.db.InTx(ctx, "reservation.reserve", func(tx *sqlx.Tx) error {
		c, err := s.copies.FindCopy(ctx, tx, copyID, false)
		if err != nil {
			return err
		}
		if c == nil {
			return apperror.NotFound("copy %s not found", copyID)
		}

		var open int
		if err := storage.Get(ctx, tx, &open, s.db.From(table).Select(goqu.COUNT("*")).Where(
			goqu.C("user_id").Eq(userID),
			goqu.C("book_copy_id").Eq(copyID),
			goqu.C("fulfilled").IsFalse(),
		)); err != nil {
			return errors.Wrap(err, "count open reservations")
		}
		if open > 0 {
			return duplicate(userID, copyID)
		}

		if _, err := storage.Exec(ctx, tx, s.db.Insert(table).Rows(goqu.Record{
			"id":           r.ID,
			"user_id":      r.UserID,
			"book_copy_id": r.BookCopyID,
			"reserved_at":  r.ReservedAt,
			"fulfilled":    false,
		})); err != nil {
			return errors.Wrap(err, "insert reservation")
		}

		actor := identity.FromContext(ctx).UserID
		if actor == uuid.Nil {
			actor = userID
		}
		return s.journal.Append(ctx, tx, journal.Event{
			AggregateType: journal.AggregateCopy,
			AggregateID:   copyID,
			Type:          journal.ReservationPlaced,
			ActorID:       actor,
			Data:          ReservationPlacedEvent{ReservationID: r.ID, UserID: userID, CopyID: copyID},
			OccurredAt:    r.ReservedAt,
		})
	})
	switch {
	case err == nil:
		span.SetAttributes(attribute.String("reservation.id", r.ID.String()))
		return r, nil
	case errors.Is(err, storage.ErrUniqueViolation):
		// lost the race to a concurrent Reserve for the same pair
		return nil, duplicate(userID, copyID)
	case errors.Is(err, storage.ErrForeignKeyViolation):
		// copy deleted after it was looked up
		return nil, apperror.NotFound("copy %s not found", copyID)
	case apperror.IsDomain(err):
		return nil, err
	default:
		return nil, errors.Wrap(err, "failed to reserve")
	}
}

// Fulfill marks a reservation satisfied on behalf of its owner or an admin.
func (s *service) Fulfill(ctx context.Context, reservationID uuid.UUID, actor identity.Actor) (*Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.fulfill",
		trace.WithAttributes(attribute.String("reservation.id", reservationID.String())),
	)
	defer span.End()

	var fulfilled *Reservation
	err := s.db.InTx(ctx, "reservation.fulfill", func(tx *sqlx.Tx) error {
		r, err := s.findOpenable(ctx, tx, reservationID, actor)
		if err != nil {
			return err
		}

		n, err := storage.Exec(ctx, tx, s.db.Update(table).
			Set(goqu.Record{"fulfilled": true}).
			Where(goqu.C("id").Eq(reservationID), goqu.C("fulfilled").IsFalse()))
		if err != nil {
			return errors.Wrap(err, "fulfill reservation")
		}
		if n == 0 {
			return alreadyFulfilled(reservationID)
		}
		r.Fulfilled = true
		fulfilled = r

		return s.journal.Append(ctx, tx, journal.Event{
			AggregateType: journal.AggregateCopy,
			AggregateID:   r.BookCopyID,
			Type:          journal.ReservationFulfilled,
			ActorID:       actor.UserID,
			Data:          ReservationFulfilledEvent{ReservationID: r.ID, UserID: r.UserID},
		})
	})
	if err != nil {
		if apperror.IsDomain(err) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to fulfill reservation")
	}
	return fulfilled, nil
}

// Cancel deletes an unfulfilled reservation on behalf of its owner or an admin.
func (s *service) Cancel(ctx context.Context, reservationID uuid.UUID, actor identity.Actor) error {
	ctx, span := s.tracer.Start(ctx, "reservation.cancel",
		trace.WithAttributes(attribute.String("reservation.id", reservationID.String())),
	)
	defer span.End()

	err := s.db.InTx(ctx, "reservation.cancel", func(tx *sqlx.Tx) error {
		r, err := s.findOpenable(ctx, tx, reservationID, actor)
		if err != nil {
			return err
		}

		n, err := storage.Exec(ctx, tx, s.db.Delete(table).
			Where(goqu.C("id").Eq(reservationID), goqu.C("fulfilled").IsFalse()))
		if err != nil {
			return errors.Wrap(err, "delete reservation")
		}
		if n == 0 {
			return alreadyFulfilled(reservationID)
		}

		return s.journal.Append(ctx, tx, journal.Event{
			AggregateType: journal.AggregateCopy,
			AggregateID:   r.BookCopyID,
			Type:          journal.ReservationCancelled,
			ActorID:       actor.UserID,
			Data:          ReservationCancelledEvent{ReservationID: r.ID, UserID: r.UserID},
		})
	})
	if err != nil && !apperror.IsDomain(err) {
		return errors.Wrap(err, "failed to cancel reservation")
	}
	return err
}

// findOpenable loads a reservation the actor may still fulfill or cancel.
func (s *service) findOpenable(ctx context.Context, tx storage.Querier, id uuid.UUID, actor identity.Actor) (*Reservation, error) {
	r, err := s.find(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, apperror.NotFound("reservation %s not found", id)
	}
	if err := actor.Authorize(r.UserID, "reservation"); err != nil {
		return nil, err
	}
	if r.Fulfilled {
		return nil, alreadyFulfilled(id)
	}
	return r, nil
}

func (s *service) find(ctx context.Context, q storage.Querier, id uuid.UUID, lock bool) (*Reservation, error) {
	stmt := s.db.From(table).Select(columns...).Where(goqu.C("id").Eq(id))
	if lock && s.db.SupportsRowLocks() {
		stmt = stmt.ForUpdate(exp.Wait)
	}

	var r Reservation
	err := storage.Get(ctx, q, &r, stmt)
	if storage.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find reservation")
	}
	r.ReservedAt = r.ReservedAt.UTC()
	return &r, nil
}

func (s *service) GetReservation(ctx context.Context, reservationID uuid.UUID) (*Reservation, error) {
	r, err := s.find(ctx, s.db, reservationID, false)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get reservation")
	}
	if r == nil {
		return nil, apperror.NotFound("reservation %s not found", reservationID)
	}
	return r, nil
}

// ListForUser returns the user's reservations, open ones first, each group oldest first.
func (s *service) ListForUser(ctx context.Context, userID uuid.UUID) ([]Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.list_for_user",
		trace.WithAttributes(attribute.String("user.id", userID.String())),
	)
	defer span.End()

	return s.list(ctx, s.db.From(table).Select(columns...).
		Where(goqu.C("user_id").Eq(userID)).
		Order(goqu.C("fulfilled").Asc(), goqu.C("reserved_at").Asc(), goqu.C("id").Asc()))
}

// QueueForCopy lists open reservations for a copy in arrival order. The order is informational;
// nothing forces fulfillment to follow it.
func (s *service) QueueForCopy(ctx context.Context, copyID uuid.UUID) ([]Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "reservation.queue_for_copy",
		trace.WithAttributes(attribute.String("copy.id", copyID.String())),
	)
	defer span.End()

	c, err := s.copies.FindCopy(ctx, s.db, copyID, false)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperror.NotFound("copy %s not found", copyID)
	}

	return s.list(ctx, s.db.From(table).Select(columns...).
		Where(goqu.C("book_copy_id").Eq(copyID), goqu.C("fulfilled").IsFalse()).
		Order(goqu.C("reserved_at").Asc(), goqu.C("id").Asc()))
}

func (s *service) list(ctx context.Context, stmt *goqu.SelectDataset) ([]Reservation, error) {
	reservations := []Reservation{}
	if err := storage.Select(ctx, s.db, &reservations, stmt); err != nil {
		return nil, errors.Wrap(err, "failed to list reservations")
	}
	for i := range reservations {
		reservations[i].ReservedAt = reservations[i].ReservedAt.UTC()
	}
	return reservations, nil
}
