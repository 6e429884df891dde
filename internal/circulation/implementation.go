// internal/circulation/implementation.go
package circulation

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
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"libshelf/internal/apperror"
	"libshelf/internal/identity"
	"libshelf/internal/inventory"
	"libshelf/internal/journal"
	"libshelf/internal/log"
	"libshelf/internal/storage"
)

const table = "loans"

var columns = []interface{}{"id", "user_id", "book_copy_id", "borrowed_date", "returned_date"}

// Borrow outcomes reported on the borrow counter.
const (
	OutcomeBorrowed    = "borrowed"
	OutcomeUnavailable = "unavailable"
	OutcomeRejected    = "rejected"
	OutcomeFailed      = "failed"
)

// service implements the Service interface.
type service struct {
	db        *storage.DB
	copies    *inventory.Store
	catalog   inventory.Catalog
	journal   *journal.Journal
	tracer    trace.Tracer
	now       func() time.Time
	meter     metric.MeterProvider
	borrows   metric.Int64Counter
	conflicts metric.Int64Counter
}

type Option func(*service)

// WithClock replaces time.Now as the source of borrowed and returned timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// WithMeterProvider reports borrow metrics to mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *service) {
		s.meter = mp
	}
}

// NewService creates a new circulation service instance.
func NewService(db *storage.DB, catalog inventory.Catalog, j *journal.Journal, opts ...Option) (Service, error) {
	s := &service{
		db:      db,
		copies:  inventory.NewStore(db, j),
		catalog: catalog,
		journal: j,
		tracer:  otel.Tracer("libshelf/circulation"),
		now:     time.Now,
		meter:   otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(s)
	}

	meter := s.meter.Meter("libshelf/circulation")
	var err error
	s.borrows, err = meter.Int64Counter("libshelf.circulation.borrows",
		metric.WithDescription("Borrow attempts by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create borrow counter")
	}
	s.conflicts, err = meter.Int64Counter("libshelf.circulation.borrow_conflicts",
		metric.WithDescription("Borrow transactions aborted by a concurrent writer"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create conflict counter")
	}
	return s, nil
}

func (s *service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Borrow lends a copy to req.UserID. The availability check and the loan insert share one transaction
// in which the copy row is locked; the one-active-loan-per-copy index rejects whatever slips past.
// A conflicting transaction is retried once before the copy is reported unavailable.
func (s *service) Borrow(ctx context.Context, req BorrowRequest) (*Loan, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.borrow",
		trace.WithAttributes(attribute.String("user.id", req.UserID.String())),
	)
	defer span.End()

	loan, err := s.borrow(ctx, req)
	outcome := OutcomeBorrowed
	switch {
	case err == nil:
		span.SetAttributes(
			attribute.String("loan.id", loan.ID.String()),
			attribute.String("copy.id", loan.BookCopyID.String()),
		)
	case errors.Is(err, apperror.ErrUnavailable):
		outcome = OutcomeUnavailable
	case apperror.IsDomain(err):
		outcome = OutcomeRejected
	default:
		outcome = OutcomeFailed
	}
	s.borrows.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return loan, err
}

func (s *service) borrow(ctx context.Context, req BorrowRequest) (*Loan, error) {
	if req.UserID == uuid.Nil {
		return nil, apperror.Validation("user_id is required")
	}
	byCopy, byBook := req.CopyID != uuid.Nil, req.BookID != uuid.Nil
	if byCopy == byBook {
		return nil, apperror.Validation("exactly one of copy_id or book_id must be given")
	}

	if byBook {
		exists, err := s.catalog.BookExists(ctx, req.BookID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, apperror.NotFound("book %s not found", req.BookID)
		}
	}

	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		var loan *Loan
		loan, err = s.tryBorrow(ctx, req)
		if err == nil {
			return loan, nil
		}
		if !storage.IsConflict(err) {
			break
		}
		s.conflicts.Add(ctx, 1, metric.WithAttributes(attribute.Int("attempt", attempt)))
		log.Debug("borrow conflicted with a concurrent transaction",
			zap.Int("attempt", attempt),
			zap.Stringer("copy_id", req.CopyID),
			zap.Stringer("book_id", req.BookID),
			zap.Error(err),
		)
	}

	if storage.IsConflict(err) {
		return nil, unavailable(req)
	}
	if apperror.IsDomain(err) {
		return nil, err
	}
	return nil, errors.Wrap(err, "failed to borrow")
}

func unavailable(req BorrowRequest) error {
	if req.BookID != uuid.Nil {
		return apperror.Unavailable("no copy of this book is available")
	}
	return apperror.Unavailable("this copy is not available")
}

func (s *service) tryBorrow(ctx context.Context, req BorrowRequest) (*Loan, error) {
	var loan *Loan
	err := s.db.InTx(ctx, "circulation.borrow", func(tx *sqlx.Tx) error {
		c, err := s.resolveCopy(ctx, tx, req)
		if err != nil {
			return err
		}

		loan = &Loan{
			ID:           uuid.New(),
			UserID:       req.UserID,
			BookCopyID:   c.ID,
			BorrowedDate: s.timestamp(),
		}
		if _, err := storage.Exec(ctx, tx, s.db.Insert(table).Rows(goqu.Record{
			"id":            loan.ID,
			"user_id":       loan.UserID,
			"book_copy_id":  loan.BookCopyID,
			"borrowed_date": loan.BorrowedDate,
			"returned_date": loan.ReturnedDate,
		})); err != nil {
			return errors.Wrap(err, "insert loan")
		}

		actor := identity.FromContext(ctx).UserID
		if actor == uuid.Nil {
			actor = req.UserID
		}
		return s.journal.Append(ctx, tx, journal.Event{
			AggregateType: journal.AggregateCopy,
			AggregateID:   c.ID,
			Type:          journal.LoanOpened,
			ActorID:       actor,
			Data: LoanOpenedEvent{
				LoanID:       loan.ID,
				UserID:       loan.UserID,
				CopyID:       c.ID,
				BookID:       c.BookID,
				BorrowedDate: loan.BorrowedDate,
			},
			OccurredAt: loan.BorrowedDate,
		})
	})
	if err != nil {
		return nil, err
	}
	return loan, nil
}

// resolveCopy locks and returns the copy to lend, or a domain error when there is none.
func (s *service) resolveCopy(ctx context.Context, tx storage.Querier, req BorrowRequest) (*inventory.Copy, error) {
	if req.BookID != uuid.Nil {
		c, err := s.copies.FindAvailableCopy(ctx, tx, req.BookID, true)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, unavailable(req)
		}
		return c, nil
	}

	c, err := s.copies.FindCopy(ctx, tx, req.CopyID, true)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperror.NotFound("copy %s not found", req.CopyID)
	}
	available, err := s.copies.IsAvailable(ctx, tx, c)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, unavailable(req)
	}
	return c, nil
}

// Return closes a loan on behalf of actor, who must be the borrower or an admin.
func (s *service) Return(ctx context.Context, loanID uuid.UUID, actor identity.Actor) (*Loan, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.return",
		trace.WithAttributes(
			attribute.String("loan.id", loanID.String()),
			attribute.Bool("actor.admin", actor.Admin),
		),
	)
	defer span.End()

	var loan *Loan
	err := s.db.InTx(ctx, "circulation.return", func(tx *sqlx.Tx) error {
		var err error
		loan, err = s.findLoan(ctx, tx, loanID, true)
		if err != nil {
			return err
		}
		if loan == nil {
			return apperror.NotFound("loan %s not found", loanID)
		}
		if !actor.CanActFor(loan.UserID) {
			return apperror.Forbidden("only the borrower or an admin may return this loan")
		}
		if !loan.Active() {
			return apperror.New(apperror.KindAlreadyReturned, "loan %s was already returned", loanID)
		}

		returned := s.timestamp()
		if returned.Before(loan.BorrowedDate) {
			returned = loan.BorrowedDate
		}
		n, err := storage.Exec(ctx, tx, s.db.Update(table).
			Set(goqu.Record{"returned_date": returned}).
			Where(goqu.C("id").Eq(loanID), goqu.C("returned_date").IsNull()))
		if err != nil {
			return errors.Wrap(err, "close loan")
		}
		if n == 0 {
			return apperror.New(apperror.KindAlreadyReturned, "loan %s was already returned", loanID)
		}
		loan.ReturnedDate = &returned

		return s.journal.Append(ctx, tx, journal.Event{
			AggregateType: journal.AggregateCopy,
			AggregateID:   loan.BookCopyID,
			Type:          journal.LoanClosed,
			ActorID:       actor.UserID,
			Data: LoanClosedEvent{
				LoanID:       loan.ID,
				UserID:       loan.UserID,
				CopyID:       loan.BookCopyID,
				ReturnedDate: returned,
			},
			OccurredAt: returned,
		})
	})
	if err != nil {
		if apperror.IsDomain(err) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to return loan")
	}
	return loan, nil
}

func (s *service) findLoan(ctx context.Context, q storage.Querier, id uuid.UUID, lock bool) (*Loan, error) {
	stmt := s.db.From(table).Select(columns...).Where(goqu.C("id").Eq(id))
	if lock && s.db.SupportsRowLocks() {
		stmt = stmt.ForUpdate(exp.Wait)
	}

	var loan Loan
	err := storage.Get(ctx, q, &loan, stmt)
	if storage.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "find loan")
	}
	loan.normalize()
	return &loan, nil
}

func (s *service) GetLoan(ctx context.Context, loanID uuid.UUID) (*Loan, error) {
	loan, err := s.findLoan(ctx, s.db, loanID, false)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get loan")
	}
	if loan == nil {
		return nil, apperror.NotFound("loan %s not found", loanID)
	}
	return loan, nil
}

// ActiveLoans lists the user's unreturned loans, most recent first.
func (s *service) ActiveLoans(ctx context.Context, userID uuid.UUID) ([]Loan, error) {
	return s.listLoans(ctx, userID, goqu.C("returned_date").IsNull(), goqu.C("borrowed_date").Desc())
}

// LoanHistory lists the user's returned loans, most recently returned first.
func (s *service) LoanHistory(ctx context.Context, userID uuid.UUID) ([]Loan, error) {
	return s.listLoans(ctx, userID, goqu.C("returned_date").IsNotNull(), goqu.C("returned_date").Desc())
}

func (s *service) listLoans(ctx context.Context, userID uuid.UUID, filter exp.Expression, order exp.OrderedExpression) ([]Loan, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.list_loans",
		trace.WithAttributes(attribute.String("user.id", userID.String())),
	)
	defer span.End()

	var loans []Loan
	stmt := s.db.From(table).Select(columns...).
		Where(goqu.C("user_id").Eq(userID), filter).
		Order(order, goqu.C("id").Asc())
	if err := storage.Select(ctx, s.db, &loans, stmt); err != nil {
		return nil, errors.Wrap(err, "failed to list loans")
	}
	for i := range loans {
		loans[i].normalize()
	}
	if loans == nil {
		loans = []Loan{}
	}
	return loans, nil
}
