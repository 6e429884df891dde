// internal/availability/implementation.go
package availability

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libshelf/internal/apperror"
	"libshelf/internal/inventory"
	"libshelf/internal/journal"
	"libshelf/internal/storage"
)

type service struct {
	db        *storage.DB
	copies    *inventory.Store
	books     Books
	directory Directory
	tracer    trace.Tracer
}

func NewService(db *storage.DB, j *journal.Journal, books Books, directory Directory) Service {
	return &service{
		db:        db,
		copies:    inventory.NewStore(db, j),
		books:     books,
		directory: directory,
		tracer:    otel.Tracer("libshelf/availability"),
	}
}

func (s *service) requireBook(ctx context.Context, bookID uuid.UUID) error {
	exists, err := s.books.BookExists(ctx, bookID)
	if err != nil {
		return err
	}
	if !exists {
		return apperror.NotFound("book %s not found", bookID)
	}
	return nil
}

func (s *service) InventoryStatus(ctx context.Context, bookID uuid.UUID) (*InventoryStatus, error) {
	ctx, span := s.tracer.Start(ctx, "availability.inventory_status",
		trace.WithAttributes(attribute.String("book.id", bookID.String())),
	)
	defer span.End()

	if err := s.requireBook(ctx, bookID); err != nil {
		return nil, err
	}
	return s.status(ctx, bookID)
}

func (s *service) status(ctx context.Context, bookID uuid.UUID) (*InventoryStatus, error) {
	copies, err := s.copies.ListCopies(ctx, s.db, bookID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute inventory status")
	}

	var status InventoryStatus
	for _, c := range copies {
		if c.Discarded() {
			continue
		}
		status.TotalCopies++
		if c.Available {
			status.AvailableCount++
		}
	}
	status.BorrowedCount = status.TotalCopies - status.AvailableCount
	return &status, nil
}

func (s *service) CurrentLoans(ctx context.Context, bookID uuid.UUID) ([]CurrentLoan, error) {
	ctx, span := s.tracer.Start(ctx, "availability.current_loans",
		trace.WithAttributes(attribute.String("book.id", bookID.String())),
	)
	defer span.End()

	if err := s.requireBook(ctx, bookID); err != nil {
		return nil, err
	}
	return s.currentLoans(ctx, bookID)
}

func (s *service) currentLoans(ctx context.Context, bookID uuid.UUID) ([]CurrentLoan, error) {
	var rows []struct {
		UserID       uuid.UUID `db:"user_id"`
		CopyID       uuid.UUID `db:"copy_id"`
		BorrowedDate time.Time `db:"borrowed_date"`
	}
	stmt := s.db.From(goqu.T("loans").As("l")).
		Join(goqu.T("book_copies").As("c"), goqu.On(goqu.I("c.id").Eq(goqu.I("l.book_copy_id")))).
		Select(
			goqu.I("l.user_id").As("user_id"),
			goqu.I("l.book_copy_id").As("copy_id"),
			goqu.I("l.borrowed_date").As("borrowed_date"),
		).
		Where(goqu.I("c.book_id").Eq(bookID), goqu.I("l.returned_date").IsNull()).
		Order(goqu.I("l.borrowed_date").Asc(), goqu.I("l.id").Asc())
	if err := storage.Select(ctx, s.db, &rows, stmt); err != nil {
		return nil, errors.Wrap(err, "failed to list current loans")
	}

	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.UserID)
	}
	names, err := s.directory.DisplayNames(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve borrowers")
	}

	loans := make([]CurrentLoan, 0, len(rows))
	for _, row := range rows {
		loans = append(loans, CurrentLoan{
			Borrower:     Borrower{UserID: row.UserID, DisplayName: names[row.UserID]},
			CopyID:       row.CopyID,
			BorrowedDate: row.BorrowedDate.UTC(),
		})
	}
	return loans, nil
}

func (s *service) Summary(ctx context.Context, bookID uuid.UUID) (*Summary, error) {
	ctx, span := s.tracer.Start(ctx, "availability.summary",
		trace.WithAttributes(attribute.String("book.id", bookID.String())),
	)
	defer span.End()

	book, err := s.books.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	status, err := s.status(ctx, bookID)
	if err != nil {
		return nil, err
	}
	loans, err := s.currentLoans(ctx, bookID)
	if err != nil {
		return nil, err
	}
	return &Summary{Book: book, Status: *status, CurrentLoans: loans}, nil
}
