package chaos

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"libshelf/internal/apperror"
	"libshelf/internal/clients"
	"libshelf/internal/membership"
)

// Suite builds experiments that drive the API through an admin client.
type Suite struct {
	admin       *clients.Client
	Concurrency int
	Duration    time.Duration
	SampleEvery time.Duration
}

func NewSuite(admin *clients.Client, concurrency int) *Suite {
	if concurrency < 2 {
		concurrency = 2
	}
	return &Suite{
		admin:       admin,
		Concurrency: concurrency,
		Duration:    3 * time.Second,
		SampleEvery: 500 * time.Millisecond,
	}
}

// Bootstrap returns an admin client. With a nil adminID it registers the first admin,
// which only succeeds against a server that has none yet.
func Bootstrap(ctx context.Context, base *clients.Client, adminID uuid.UUID) (*clients.Client, error) {
	if adminID != uuid.Nil {
		return base.As(adminID), nil
	}
	admin, err := base.RegisterMember(ctx, membership.NewMember{
		Name:  "Chaos Admin",
		Email: fmt.Sprintf("chaos-%s@example.invalid", uuid.NewString()[:8]),
		Role:  membership.RoleAdmin,
	})
	if err != nil {
		return nil, errors.Wrap(err, "register chaos admin")
	}
	return base.As(admin.ID), nil
}

// Register adds every experiment of the suite to the engine.
func (s *Suite) Register(e *Engine) {
	e.Register(s.ConcurrentBorrowRace(3))
	e.Register(s.ConcurrentReturnRace())
	e.Register(s.DuplicateReservationRace())
}

func randomISBN() string {
	return fmt.Sprintf("978%010d", rand.Int63n(1e10))
}

func (s *Suite) members(ctx context.Context, n int) ([]*clients.Client, error) {
	out := make([]*clients.Client, n)
	for i := range out {
		m, err := s.admin.RegisterMember(ctx, membership.NewMember{
			Name:  fmt.Sprintf("Chaos Reader %d", i+1),
			Email: fmt.Sprintf("reader-%s@example.invalid", uuid.NewString()),
		})
		if err != nil {
			return nil, errors.Wrap(err, "register member")
		}
		out[i] = s.admin.As(m.ID)
	}
	return out, nil
}

// fanOut runs fn n times at once. Errors for which expected returns true are tolerated;
// the first other error is returned.
func fanOut(ctx context.Context, n int, fn func(ctx context.Context, i int) error, expected func(error) bool) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := fn(ctx, i); err != nil && !expected(err) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func isCode(kind apperror.Kind) func(error) bool {
	return func(err error) bool { return clients.IsCode(err, string(kind)) }
}

func zeroOrLess() Threshold { return Threshold{Operator: "<=", Value: 0} }

func isZero(v float64) bool { return v == 0 }

// ConcurrentBorrowRace has more members than copies borrow the same book at once.
func (s *Suite) ConcurrentBorrowRace(copies int) Experiment {
	var (
		bookID  uuid.UUID
		readers []*clients.Client
		won     int64
		refused int64
	)

	return Experiment{
		Name:       "concurrent-borrow-race",
		Hypothesis: "Concurrent borrows by book never lend a copy twice and never refuse while a copy is idle",
		Prepare: func(ctx context.Context) error {
			reg, err := s.admin.RegisterBook(ctx, randomISBN(), "Chaos: borrow race", time.Now().UTC())
			if err != nil {
				return err
			}
			bookID = reg.Book.ID
			for i := 1; i < copies; i++ {
				if _, err := s.admin.CreateCopy(ctx, bookID, time.Now().UTC()); err != nil {
					return err
				}
			}
			readers, err = s.members(ctx, s.Concurrency)
			return err
		},
		SteadyState: []Metric{
			{
				Name: "double_lent_copies",
				Query: func(ctx context.Context) (float64, error) {
					summary, err := s.admin.Summary(ctx, bookID)
					if err != nil {
						return 0, err
					}
					seen := map[uuid.UUID]bool{}
					doubled := 0
					for _, l := range summary.CurrentLoans {
						if seen[l.CopyID] {
							doubled++
						}
						seen[l.CopyID] = true
					}
					return float64(doubled), nil
				},
				Threshold: zeroOrLess(),
			},
			{
				Name: "unaccounted_loans",
				Query: func(ctx context.Context) (float64, error) {
					status, err := s.admin.InventoryStatus(ctx, bookID)
					if err != nil {
						return 0, err
					}
					diff := int64(status.BorrowedCount) - atomic.LoadInt64(&won)
					if diff < 0 {
						diff = -diff
					}
					return float64(diff), nil
				},
				Threshold: zeroOrLess(),
			},
			{
				Name: "idle_copies_after_refusal",
				Query: func(ctx context.Context) (float64, error) {
					if atomic.LoadInt64(&refused) == 0 {
						return 0, nil
					}
					status, err := s.admin.InventoryStatus(ctx, bookID)
					if err != nil {
						return 0, err
					}
					return float64(status.AvailableCount), nil
				},
				Threshold: zeroOrLess(),
			},
		},
		Method: []Action{
			{
				Type:   "concurrent-requests",
				Target: "circulation",
				Execute: func(ctx context.Context) error {
					return fanOut(ctx, len(readers), func(ctx context.Context, i int) error {
						_, err := readers[i].BorrowBook(ctx, bookID)
						switch {
						case err == nil:
							atomic.AddInt64(&won, 1)
						case clients.IsCode(err, string(apperror.KindUnavailable)):
							atomic.AddInt64(&refused, 1)
						}
						return err
					}, isCode(apperror.KindUnavailable))
				},
			},
		},
		Validation: []Assertion{
			{Metric: "double_lent_copies", Condition: isZero, Message: "no copy may be lent twice"},
			{Metric: "unaccounted_loans", Condition: isZero, Message: "every accepted borrow must appear as exactly one active loan"},
			{Metric: "idle_copies_after_refusal", Condition: isZero, Message: "a borrow may be refused only when every copy is lent"},
		},
		Duration:    s.Duration,
		SampleEvery: s.SampleEvery,
	}
}

// ConcurrentReturnRace has the borrower return the same loan many times at once.
func (s *Suite) ConcurrentReturnRace() Experiment {
	var (
		bookID   uuid.UUID
		borrower *clients.Client
		loanID   uuid.UUID
		accepted int64
	)

	return Experiment{
		Name:       "concurrent-return-race",
		Hypothesis: "A loan is closed exactly once however many returns race for it",
		Prepare: func(ctx context.Context) error {
			reg, err := s.admin.RegisterBook(ctx, randomISBN(), "Chaos: return race", time.Now().UTC())
			if err != nil {
				return err
			}
			bookID = reg.Book.ID
			readers, err := s.members(ctx, 1)
			if err != nil {
				return err
			}
			borrower = readers[0]
			loan, err := borrower.Borrow(ctx, reg.FirstCopy.ID)
			if err != nil {
				return err
			}
			loanID = loan.ID
			return nil
		},
		SteadyState: []Metric{
			{
				Name: "returns_accepted",
				Query: func(ctx context.Context) (float64, error) {
					return float64(atomic.LoadInt64(&accepted)), nil
				},
				Threshold: Threshold{Operator: "<=", Value: 1},
			},
			{
				Name: "active_loans",
				Query: func(ctx context.Context) (float64, error) {
					status, err := s.admin.InventoryStatus(ctx, bookID)
					if err != nil {
						return 0, err
					}
					return float64(status.BorrowedCount), nil
				},
				Threshold: Threshold{Operator: "<=", Value: 1},
			},
		},
		Method: []Action{
			{
				Type:   "concurrent-requests",
				Target: "circulation",
				Execute: func(ctx context.Context) error {
					return fanOut(ctx, s.Concurrency, func(ctx context.Context, _ int) error {
						_, err := borrower.Return(ctx, loanID)
						if err == nil {
							atomic.AddInt64(&accepted, 1)
						}
						return err
					}, isCode(apperror.KindAlreadyReturned))
				},
			},
		},
		Validation: []Assertion{
			{Metric: "returns_accepted", Condition: func(v float64) bool { return v == 1 }, Message: "exactly one return must succeed"},
			{Metric: "active_loans", Condition: isZero, Message: "the copy must be available after the race"},
		},
		Duration:    s.Duration,
		SampleEvery: s.SampleEvery,
	}
}

// DuplicateReservationRace has one member reserve the same copy many times at once.
func (s *Suite) DuplicateReservationRace() Experiment {
	var (
		copyID uuid.UUID
		member *clients.Client
		userID uuid.UUID
	)

	return Experiment{
		Name:       "duplicate-reservation-race",
		Hypothesis: "A member never holds two open reservations for one copy",
		Prepare: func(ctx context.Context) error {
			reg, err := s.admin.RegisterBook(ctx, randomISBN(), "Chaos: reservation race", time.Now().UTC())
			if err != nil {
				return err
			}
			copyID = reg.FirstCopy.ID
			m, err := s.admin.RegisterMember(ctx, membership.NewMember{
				Name:  "Chaos Reserver",
				Email: fmt.Sprintf("reserver-%s@example.invalid", uuid.NewString()),
			})
			if err != nil {
				return errors.Wrap(err, "register member")
			}
			userID = m.ID
			member = s.admin.As(m.ID)
			return nil
		},
		SteadyState: []Metric{
			{
				Name: "open_reservations",
				Query: func(ctx context.Context) (float64, error) {
					queue, err := s.admin.ReservationQueue(ctx, copyID)
					if err != nil {
						return 0, err
					}
					n := 0
					for _, r := range queue {
						if r.UserID == userID {
							n++
						}
					}
					return float64(n), nil
				},
				Threshold: Threshold{Operator: "<=", Value: 1},
			},
		},
		Method: []Action{
			{
				Type:   "concurrent-requests",
				Target: "reservation",
				Execute: func(ctx context.Context) error {
					return fanOut(ctx, s.Concurrency, func(ctx context.Context, _ int) error {
						_, err := member.Reserve(ctx, copyID)
						return err
					}, isCode(apperror.KindDuplicateReservation))
				},
			},
		},
		Validation: []Assertion{
			{Metric: "open_reservations", Condition: func(v float64) bool { return v == 1 }, Message: "exactly one reservation must be open"},
		},
		Duration:    s.Duration,
		SampleEvery: s.SampleEvery,
	}
}
