// internal/inventory/implementation.go
package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libshelf/internal/apperror"
	"libshelf/internal/identity"
	"libshelf/internal/journal"
	"libshelf/internal/storage"
)

type service struct {
	db      *storage.DB
	store   *Store
	catalog Catalog
	journal *journal.Journal
	tracer  trace.Tracer
}

// NewService creates the inventory ledger. catalog is consulted before a copy is added to a book.
func NewService(db *storage.DB, catalog Catalog, j *journal.Journal) Service {
	return &service{
		db:      db,
		store:   NewStore(db, j),
		catalog: catalog,
		journal: j,
		tracer:  otel.Tracer("libshelf/inventory"),
	}
}

func (s *service) IsAvailable(ctx context.Context, copyID uuid.UUID) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.is_available",
		trace.WithAttributes(attribute.String("copy.id", copyID.String())),
	)
	defer span.End()

	c, err := s.store.FindCopy(ctx, s.db, copyID, false)
	if err != nil {
		return false, err
	}
	if c == nil {
		return false, apperror.NotFound("copy %s not found", copyID)
	}
	return s.store.IsAvailable(ctx, s.db, c)
}

// ResolveAvailableCopy returns the oldest available copy of a book without reserving it.
func (s *service) ResolveAvailableCopy(ctx context.Context, bookID uuid.UUID) (*Copy, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.resolve_available",
		trace.WithAttributes(attribute.String("book.id", bookID.String())),
	)
	defer span.End()

	c, err := s.store.FindAvailableCopy(ctx, s.db, bookID, false)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperror.NotFound("no available copy of book %s", bookID)
	}
	return c, nil
}

func (s *service) CreateCopy(ctx context.Context, bookID uuid.UUID, acquiredDate time.Time) (*Copy, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.create_copy",
		trace.WithAttributes(attribute.String("book.id", bookID.String())),
	)
	defer span.End()

	if acquiredDate.IsZero() {
		return nil, apperror.Validation("acquired_date is required")
	}
	exists, err := s.catalog.BookExists(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperror.NotFound("book %s not found", bookID)
	}

	c := &Copy{ID: uuid.New(), BookID: bookID, AcquiredDate: Date(acquiredDate)}
	err = s.db.InTx(ctx, "inventory.create_copy", func(tx *sqlx.Tx) error {
		return s.store.AddCopy(ctx, tx, c, identity.FromContext(ctx).UserID)
	})
	if errors.Is(err, storage.ErrForeignKeyViolation) {
		return nil, apperror.NotFound("book %s not found", bookID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create copy")
	}

	span.SetAttributes(attribute.String("copy.id", c.ID.String()))
	return c, nil
}

func (s *service) DiscardCopy(ctx context.Context, copyID uuid.UUID, discardedDate time.Time) (*Copy, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.discard_copy",
		trace.WithAttributes(attribute.String("copy.id", copyID.String())),
	)
	defer span.End()

	if discardedDate.IsZero() {
		return nil, apperror.Validation("discarded_date is required")
	}
	date := Date(discardedDate)

	var discarded *Copy
	err := s.db.InTx(ctx, "inventory.discard_copy", func(tx *sqlx.Tx) error {
		c, err := s.store.FindCopy(ctx, tx, copyID, true)
		if err != nil {
			return err
		}
		if c == nil {
			return apperror.NotFound("copy %s not found", copyID)
		}
		if c.Discarded() {
			return apperror.Validation("copy %s was already discarded on %s", copyID, c.DiscardedDate.Format("2006-01-02"))
		}
		if date.Before(c.AcquiredDate) {
			return apperror.Validation("discarded_date must not be before acquired_date %s", c.AcquiredDate.Format("2006-01-02"))
		}
		onLoan, err := s.store.HasActiveLoan(ctx, tx, copyID)
		if err != nil {
			return err
		}
		if onLoan {
			return apperror.Validation("copy is currently on loan")
		}

		c.DiscardedDate = &date
		if err := s.store.SetDiscarded(ctx, tx, copyID, date); err != nil {
			return err
		}
		discarded = c
		return s.journal.Append(ctx, tx, journal.Event{
			AggregateType: journal.AggregateCopy,
			AggregateID:   copyID,
			Type:          journal.CopyDiscarded,
			ActorID:       identity.FromContext(ctx).UserID,
			Data:          CopyDiscardedEvent{CopyID: copyID, DiscardedDate: date},
		})
	})
	if err != nil {
		if apperror.IsDomain(err) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to discard copy")
	}
	return discarded, nil
}

func (s *service) GetCopy(ctx context.Context, copyID uuid.UUID) (*CopyStatus, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.get_copy",
		trace.WithAttributes(attribute.String("copy.id", copyID.String())),
	)
	defer span.End()

	c, err := s.store.FindCopy(ctx, s.db, copyID, false)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperror.NotFound("copy %s not found", copyID)
	}
	available, err := s.store.IsAvailable(ctx, s.db, c)
	if err != nil {
		return nil, err
	}
	return &CopyStatus{Copy: *c, Available: available}, nil
}

func (s *service) ListCopies(ctx context.Context, bookID uuid.UUID) ([]CopyStatus, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.list_copies",
		trace.WithAttributes(attribute.String("book.id", bookID.String())),
	)
	defer span.End()

	exists, err := s.catalog.BookExists(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperror.NotFound("book %s not found", bookID)
	}
	return s.store.ListCopies(ctx, s.db, bookID)
}

// DeleteCopy physically removes a copy together with its loans and reservations.
func (s *service) DeleteCopy(ctx context.Context, copyID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "inventory.delete_copy",
		trace.WithAttributes(attribute.String("copy.id", copyID.String())),
	)
	defer span.End()

	err := s.db.InTx(ctx, "inventory.delete_copy", func(tx *sqlx.Tx) error {
		c, err := s.store.FindCopy(ctx, tx, copyID, true)
		if err != nil {
			return err
		}
		if c == nil {
			return apperror.NotFound("copy %s not found", copyID)
		}
		if _, err := s.store.DeleteCopy(ctx, tx, copyID); err != nil {
			return err
		}
		return s.journal.Append(ctx, tx, journal.Event{
			AggregateType: journal.AggregateCopy,
			AggregateID:   copyID,
			Type:          journal.CopyDeleted,
			ActorID:       identity.FromContext(ctx).UserID,
			Data:          CopyDeletedEvent{CopyID: copyID, BookID: c.BookID},
		})
	})
	if err != nil && !apperror.IsDomain(err) {
		return errors.Wrap(err, "failed to delete copy")
	}
	return err
}
