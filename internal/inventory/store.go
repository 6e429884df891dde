// internal/inventory/store.go
package inventory

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"libshelf/internal/journal"
	"libshelf/internal/storage"
)

const (
	copiesTable = "book_copies"
	loansTable  = "loans"
)

var copyColumns = []interface{}{"id", "book_id", "acquired_date", "discarded_date"}

// Store is the copy table as seen from inside a caller's transaction.
type Store struct {
	db      *storage.DB
	journal *journal.Journal
}

func NewStore(db *storage.DB, j *journal.Journal) *Store {
	return &Store{db: db, journal: j}
}

// FindCopy loads a copy, returning nil when it does not exist. With lock set the row stays locked until
// the surrounding transaction ends.
func (s *Store) FindCopy(ctx context.Context, q storage.Querier, id uuid.UUID, lock bool) (*Copy, error) {
	stmt := s.db.From(copiesTable).Select(copyColumns...).Where(goqu.C("id").Eq(id))
	if lock && s.db.SupportsRowLocks() {
		stmt = stmt.ForUpdate(exp.Wait)
	}

	var c Copy
	err := storage.Get(ctx, q, &c, stmt)
	if storage.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find copy")
	}
	c.normalize()
	return &c, nil
}

// HasActiveLoan reports whether an unreturned loan references the copy.
func (s *Store) HasActiveLoan(ctx context.Context, q storage.Querier, copyID uuid.UUID) (bool, error) {
	var count int
	stmt := s.db.From(loansTable).Select(goqu.COUNT("*")).Where(
		goqu.C("book_copy_id").Eq(copyID),
		goqu.C("returned_date").IsNull(),
	)
	if err := storage.Get(ctx, q, &count, stmt); err != nil {
		return false, errors.Wrap(err, "count active loans")
	}
	return count > 0, nil
}

// IsAvailable is the derived availability predicate: in the collection and not on loan.
func (s *Store) IsAvailable(ctx context.Context, q storage.Querier, c *Copy) (bool, error) {
	if c.Discarded() {
		return false, nil
	}
	onLoan, err := s.HasActiveLoan(ctx, q, c.ID)
	if err != nil {
		return false, err
	}
	return !onLoan, nil
}

func activeLoanCopies(db *storage.DB) *goqu.SelectDataset {
	return db.From(loansTable).Select("book_copy_id").Where(goqu.C("returned_date").IsNull())
}

// FindAvailableCopy picks the oldest available copy of a book (acquired_date, then id), or nil when none is.
// With lock set on Postgres, rows locked by concurrent borrowers are skipped so they fan out across copies.
func (s *Store) FindAvailableCopy(ctx context.Context, q storage.Querier, bookID uuid.UUID, lock bool) (*Copy, error) {
	stmt := s.db.From(copiesTable).Select(copyColumns...).
		Where(
			goqu.C("book_id").Eq(bookID),
			goqu.C("discarded_date").IsNull(),
			goqu.C("id").NotIn(activeLoanCopies(s.db)),
		).
		Order(goqu.C("acquired_date").Asc(), goqu.C("id").Asc()).
		Limit(1)
	if lock && s.db.SupportsRowLocks() {
		stmt = stmt.ForUpdate(exp.SkipLocked)
	}

	var c Copy
	err := storage.Get(ctx, q, &c, stmt)
	if storage.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find available copy")
	}
	c.normalize()
	return &c, nil
}

// ListCopies returns every copy of a book, discarded ones included, oldest first, with availability.
func (s *Store) ListCopies(ctx context.Context, q storage.Querier, bookID uuid.UUID) ([]CopyStatus, error) {
	var rows []Copy
	stmt := s.db.From(copiesTable).Select(copyColumns...).
		Where(goqu.C("book_id").Eq(bookID)).
		Order(goqu.C("acquired_date").Asc(), goqu.C("id").Asc())
	if err := storage.Select(ctx, q, &rows, stmt); err != nil {
		return nil, errors.Wrap(err, "list copies")
	}

	var lent []uuid.UUID
	onLoan := activeLoanCopies(s.db).Where(goqu.C("book_copy_id").In(
		s.db.From(copiesTable).Select("id").Where(goqu.C("book_id").Eq(bookID)),
	))
	if err := storage.Select(ctx, q, &lent, onLoan); err != nil {
		return nil, errors.Wrap(err, "list lent copies")
	}
	lentSet := make(map[uuid.UUID]struct{}, len(lent))
	for _, id := range lent {
		lentSet[id] = struct{}{}
	}

	copies := make([]CopyStatus, 0, len(rows))
	for _, c := range rows {
		c.normalize()
		_, isLent := lentSet[c.ID]
		copies = append(copies, CopyStatus{Copy: c, Available: !c.Discarded() && !isLent})
	}
	return copies, nil
}

func (s *Store) InsertCopy(ctx context.Context, q storage.Querier, c *Copy) error {
	_, err := storage.Exec(ctx, q, s.db.Insert(copiesTable).Rows(goqu.Record{
		"id":             c.ID,
		"book_id":        c.BookID,
		"acquired_date":  c.AcquiredDate,
		"discarded_date": c.DiscardedDate,
	}))
	return errors.Wrap(err, "insert copy")
}

// AddCopy inserts c and journals its acquisition through q.
func (s *Store) AddCopy(ctx context.Context, q storage.Querier, c *Copy, actor uuid.UUID) error {
	if err := s.InsertCopy(ctx, q, c); err != nil {
		return err
	}
	return s.journal.Append(ctx, q, journal.Event{
		AggregateType: journal.AggregateCopy,
		AggregateID:   c.ID,
		Type:          journal.CopyAcquired,
		ActorID:       actor,
		Data:          CopyAcquiredEvent{CopyID: c.ID, BookID: c.BookID, AcquiredDate: c.AcquiredDate},
	})
}

func (s *Store) SetDiscarded(ctx context.Context, q storage.Querier, id uuid.UUID, date time.Time) error {
	_, err := storage.Exec(ctx, q, s.db.Update(copiesTable).
		Set(goqu.Record{"discarded_date": date}).
		Where(goqu.C("id").Eq(id)))
	return errors.Wrap(err, "discard copy")
}

func (s *Store) DeleteCopy(ctx context.Context, q storage.Querier, id uuid.UUID) (bool, error) {
	n, err := storage.Exec(ctx, q, s.db.Delete(copiesTable).Where(goqu.C("id").Eq(id)))
	if err != nil {
		return false, errors.Wrap(err, "delete copy")
	}
	return n > 0, nil
}
