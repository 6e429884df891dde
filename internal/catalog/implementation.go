// internal/catalog/implementation.go
package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
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

const table = "books"

var columns = []interface{}{
	"id", "isbn13", "title", "publisher", "published_date", "description", "external_id", "cover_url", "created_at",
}

// service implements the Service interface.
type service struct {
	db      *storage.DB
	copies  *inventory.Store
	journal *journal.Journal
	tracer  trace.Tracer
	now     func() time.Time
}

// NewService creates a new catalog service instance.
func NewService(db *storage.DB, j *journal.Journal) Service {
	return &service{
		db:      db,
		copies:  inventory.NewStore(db, j),
		journal: j,
		tracer:  otel.Tracer("libshelf/catalog"),
		now:     time.Now,
	}
}

// NormalizeISBN strips hyphens and spaces and requires exactly 13 digits.
func NormalizeISBN(raw string) (string, error) {
	isbn := strings.NewReplacer("-", "", " ", "").Replace(raw)
	if len(isbn) != 13 {
		return "", apperror.Validation("isbn13 must have exactly 13 digits, got %q", raw)
	}
	for _, r := range isbn {
		if r < '0' || r > '9' {
			return "", apperror.Validation("isbn13 must have exactly 13 digits, got %q", raw)
		}
	}
	return isbn, nil
}

// RegisterBook stores a book and its first copy in one transaction.
func (s *service) RegisterBook(ctx context.Context, in NewBook, acquiredDate time.Time) (*Registration, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.register_book")
	defer span.End()

	isbn, err := NormalizeISBN(in.ISBN13)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, apperror.Validation("title is required")
	}
	if acquiredDate.IsZero() {
		return nil, apperror.Validation("acquired_date is required")
	}

	book := &Book{
		ID:          uuid.New(),
		ISBN13:      isbn,
		Title:       title,
		Publisher:   strings.TrimSpace(in.Publisher),
		Description: in.Description,
		ExternalID:  in.ExternalID,
		CoverURL:    in.CoverURL,
		CreatedAt:   s.now().UTC().Truncate(time.Microsecond),
	}
	if in.PublishedDate != nil {
		published := inventory.Date(*in.PublishedDate)
		book.PublishedDate = &published
	}
	first := &inventory.Copy{ID: uuid.New(), BookID: book.ID, AcquiredDate: inventory.Date(acquiredDate)}
	actor := identity.FromContext(ctx).UserID

	err = s.db.InTx(ctx, "catalog.register_book", func(tx *sqlx.Tx) error {
		if _, err := storage.Exec(ctx, tx, s.db.Insert(table).Rows(goqu.Record{
			"id":             book.ID,
			"isbn13":         book.ISBN13,
			"title":          book.Title,
			"publisher":      book.Publisher,
			"published_date": book.PublishedDate,
			"description":    book.Description,
			"external_id":    book.ExternalID,
			"cover_url":      book.CoverURL,
			"created_at":     book.CreatedAt,
		})); err != nil {
			return err
		}
		if err := s.journal.Append(ctx, tx, journal.Event{
			AggregateType: journal.AggregateBook,
			AggregateID:   book.ID,
			Type:          journal.BookRegistered,
			ActorID:       actor,
			Data:          BookRegisteredEvent{ID: book.ID, ISBN13: book.ISBN13, Title: book.Title, FirstCopyID: first.ID},
			OccurredAt:    book.CreatedAt,
		}); err != nil {
			return err
		}
		return s.copies.AddCopy(ctx, tx, first, actor)
	})
	if errors.Is(err, storage.ErrUniqueViolation) {
		return nil, apperror.Validation("a book with isbn13 %s already exists", isbn)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to register book")
	}

	span.SetAttributes(
		attribute.String("book.id", book.ID.String()),
		attribute.String("copy.id", first.ID.String()),
	)
	return &Registration{Book: book, FirstCopy: first}, nil
}

// GetBook retrieves a book by its ID.
func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	var book Book
	err := storage.Get(ctx, s.db, &book, s.db.From(table).Select(columns...).Where(goqu.C("id").Eq(id)))
	if storage.IsNoRows(err) {
		return nil, apperror.NotFound("book %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get book")
	}
	book.CreatedAt = book.CreatedAt.UTC()
	if book.PublishedDate != nil {
		published := book.PublishedDate.UTC()
		book.PublishedDate = &published
	}
	return &book, nil
}

func (s *service) BookExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int
	if err := storage.Get(ctx, s.db, &count, s.db.From(table).Select(goqu.COUNT("*")).Where(goqu.C("id").Eq(id))); err != nil {
		return false, errors.Wrap(err, "failed to check book")
	}
	return count > 0, nil
}

// DeleteBook removes a book. Its copies, and their loans and reservations, go with it.
func (s *service) DeleteBook(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "catalog.delete_book",
		trace.WithAttributes(attribute.String("book.id", id.String())),
	)
	defer span.End()

	err := s.db.InTx(ctx, "catalog.delete_book", func(tx *sqlx.Tx) error {
		var copyIDs []uuid.UUID
		if err := storage.Select(ctx, tx, &copyIDs, s.db.From("book_copies").Select("id").
			Where(goqu.C("book_id").Eq(id)).Order(goqu.C("acquired_date").Asc(), goqu.C("id").Asc())); err != nil {
			return err
		}

		n, err := storage.Exec(ctx, tx, s.db.Delete(table).Where(goqu.C("id").Eq(id)))
		if err != nil {
			return err
		}
		if n == 0 {
			return apperror.NotFound("book %s not found", id)
		}
		return s.journal.Append(ctx, tx, journal.Event{
			AggregateType: journal.AggregateBook,
			AggregateID:   id,
			Type:          journal.BookDeleted,
			ActorID:       identity.FromContext(ctx).UserID,
			Data:          BookDeletedEvent{ID: id, CopyIDs: copyIDs},
		})
	})
	if err != nil && !apperror.IsDomain(err) {
		return errors.Wrap(err, "failed to delete book")
	}
	return err
}
