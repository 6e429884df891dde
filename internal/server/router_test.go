package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"libshelf/internal/apperror"
	"libshelf/internal/clients"
	"libshelf/internal/journal"
	"libshelf/internal/membership"
	"libshelf/internal/storage/storagetest"
)

type harness struct {
	anon  *clients.Client
	admin *clients.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	services, err := NewServices(storagetest.TempDB(t))
	require.NoError(t, err)

	srv := httptest.NewServer(NewRouter(services, RouterOptions{}))
	t.Cleanup(srv.Close)

	anon := clients.New(srv.URL)
	admin, err := anon.RegisterMember(context.Background(), membership.NewMember{
		Name: "Head Librarian", Email: "librarian@example.org", Role: membership.RoleAdmin,
	})
	require.NoError(t, err)
	return &harness{anon: anon, admin: anon.As(admin.ID)}
}

func (h *harness) member(t *testing.T, name, email string) *clients.Client {
	t.Helper()
	m, err := h.admin.RegisterMember(context.Background(), membership.NewMember{Name: name, Email: email})
	require.NoError(t, err)
	return h.anon.As(m.ID)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestBorrowReturnFlow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ada := h.member(t, "Ada", "ada@example.org")

	reg, err := h.admin.RegisterBook(ctx, "978-1-59327-928-8", "The Go Programming Language", day(2021, 3, 1))
	require.NoError(t, err)
	require.NotNil(t, reg.FirstCopy)
	assert.Equal(t, "9781593279288", reg.Book.ISBN13)

	loan, err := ada.Borrow(ctx, reg.FirstCopy.ID)
	require.NoError(t, err)
	assert.Nil(t, loan.ReturnedDate)

	status, err := h.anon.InventoryStatus(ctx, reg.Book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.BorrowedCount)
	assert.Equal(t, 0, status.AvailableCount)

	summary, err := h.anon.Summary(ctx, reg.Book.ID)
	require.NoError(t, err)
	require.Len(t, summary.CurrentLoans, 1)
	assert.Equal(t, "Ada", summary.CurrentLoans[0].Borrower.DisplayName)

	_, err = ada.BorrowBook(ctx, reg.Book.ID)
	assert.True(t, clients.IsCode(err, string(apperror.KindUnavailable)))

	returned, err := ada.Return(ctx, loan.ID)
	require.NoError(t, err)
	require.NotNil(t, returned.ReturnedDate)

	_, err = ada.Return(ctx, loan.ID)
	assert.True(t, clients.IsCode(err, string(apperror.KindAlreadyReturned)))

	history, err := ada.MemberLoans(ctx, loan.UserID, "history")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, loan.ID, history[0].ID)
}

func TestConcurrentBorrowOverHTTP(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	reg, err := h.admin.RegisterBook(ctx, "9780134190440", "Last Copy", day(2020, 1, 1))
	require.NoError(t, err)

	const borrowers = 8
	members := make([]*clients.Client, borrowers)
	for i := range members {
		members[i] = h.member(t, "Reader", uuid.NewString()+"@example.org")
	}

	errs := make([]error, borrowers)
	var g errgroup.Group
	for i, m := range members {
		i, m := i, m
		g.Go(func() error {
			_, errs[i] = m.BorrowBook(ctx, reg.Book.ID)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var won int
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		assert.True(t, clients.IsCode(err, string(apperror.KindUnavailable)), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, won)

	status, err := h.anon.InventoryStatus(ctx, reg.Book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.BorrowedCount)
}

func TestReservationFlow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ada := h.member(t, "Ada", "ada@example.org")
	bob := h.member(t, "Bob", "bob@example.org")

	reg, err := h.admin.RegisterBook(ctx, "9780134190440", "Reserved", day(2020, 1, 1))
	require.NoError(t, err)
	copyID := reg.FirstCopy.ID

	r, err := ada.Reserve(ctx, copyID)
	require.NoError(t, err)
	_, err = ada.Reserve(ctx, copyID)
	assert.True(t, clients.IsCode(err, string(apperror.KindDuplicateReservation)))
	_, err = bob.Reserve(ctx, copyID)
	require.NoError(t, err)

	err = bob.CancelReservation(ctx, r.ID)
	assert.True(t, clients.IsCode(err, string(apperror.KindForbidden)))

	fulfilled, err := ada.FulfillReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, fulfilled.Fulfilled)

	queue, err := h.anon.ReservationQueue(ctx, copyID)
	require.NoError(t, err)
	require.Len(t, queue, 1)
}

func TestAccessControl(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ada := h.member(t, "Ada", "ada@example.org")

	_, err := h.anon.RegisterBook(ctx, "9780134190440", "Anonymous", day(2020, 1, 1))
	var apiErr *clients.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	_, err = ada.RegisterBook(ctx, "9780134190440", "Member", day(2020, 1, 1))
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)

	_, err = h.anon.Borrow(ctx, uuid.New())
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	_, err = h.anon.RegisterMember(ctx, membership.NewMember{Name: "Mallory", Email: "mallory@example.org", Role: membership.RoleAdmin})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestJournalFeed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	ada := h.member(t, "Ada", "ada@example.org")

	reg, err := h.admin.RegisterBook(ctx, "9780134190440", "Journaled", day(2020, 1, 1))
	require.NoError(t, err)
	_, err = ada.Borrow(ctx, reg.FirstCopy.ID)
	require.NoError(t, err)

	_, err = ada.Journal(ctx, 0, 10)
	assert.True(t, clients.IsCode(err, string(apperror.KindForbidden)))

	// admin registration, ada's registration, book, first copy, loan
	first, err := h.admin.Journal(ctx, 0, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	rest, err := h.admin.Journal(ctx, first[2].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, journal.CopyAcquired, rest[0].EventType)
	assert.Equal(t, journal.LoanOpened, rest[1].EventType)

	_, err = h.admin.Journal(ctx, 0, 0)
	assert.True(t, clients.IsCode(err, string(apperror.KindValidation)))
}

func TestHealthcheckAndVersion(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.anon.Healthy(context.Background()))

	services, err := NewServices(storagetest.TempDB(t))
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	NewRouter(services, RouterOptions{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), Version)

	rec = httptest.NewRecorder()
	NewRouter(services, RouterOptions{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := New("127.0.0.1:0", http.NotFoundHandler(), time.Second)

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
