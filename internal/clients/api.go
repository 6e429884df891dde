package clients

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"libshelf/internal/availability"
	"libshelf/internal/catalog"
	"libshelf/internal/circulation"
	"libshelf/internal/httpx"
	"libshelf/internal/inventory"
	"libshelf/internal/journal"
	"libshelf/internal/membership"
	"libshelf/internal/reservation"
)

const apiPrefix = "/api/v1"

func (c *Client) RegisterMember(ctx context.Context, in membership.NewMember) (*membership.Member, error) {
	var m membership.Member
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/members", in, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

type RegisterBookInput struct {
	ISBN13       string `json:"isbn13"`
	Title        string `json:"title"`
	Publisher    string `json:"publisher,omitempty"`
	AcquiredDate string `json:"acquired_date"`
}

// RegisterBook adds a book with its first copy acquired on acquired.
func (c *Client) RegisterBook(ctx context.Context, isbn, title string, acquired time.Time) (*catalog.Registration, error) {
	in := RegisterBookInput{ISBN13: isbn, Title: title, AcquiredDate: acquired.Format(httpx.DateLayout)}
	var reg catalog.Registration
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/books", in, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

func (c *Client) CreateCopy(ctx context.Context, bookID uuid.UUID, acquired time.Time) (*inventory.Copy, error) {
	in := map[string]string{"acquired_date": acquired.Format(httpx.DateLayout)}
	var cp inventory.Copy
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("%s/books/%s/copies", apiPrefix, bookID), in, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (c *Client) DiscardCopy(ctx context.Context, copyID uuid.UUID, discarded time.Time) (*inventory.Copy, error) {
	in := map[string]string{"discarded_date": discarded.Format(httpx.DateLayout)}
	var cp inventory.Copy
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("%s/copies/%s/discard", apiPrefix, copyID), in, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (c *Client) ListCopies(ctx context.Context, bookID uuid.UUID) ([]inventory.CopyStatus, error) {
	var copies []inventory.CopyStatus
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/books/%s/copies", apiPrefix, bookID), nil, &copies); err != nil {
		return nil, err
	}
	return copies, nil
}

// Borrow opens a loan for the client's user on a specific copy.
func (c *Client) Borrow(ctx context.Context, copyID uuid.UUID) (*circulation.Loan, error) {
	return c.borrow(ctx, circulation.BorrowRequest{CopyID: copyID})
}

// BorrowBook opens a loan on whichever copy of the book the server picks.
func (c *Client) BorrowBook(ctx context.Context, bookID uuid.UUID) (*circulation.Loan, error) {
	return c.borrow(ctx, circulation.BorrowRequest{BookID: bookID})
}

func (c *Client) borrow(ctx context.Context, req circulation.BorrowRequest) (*circulation.Loan, error) {
	var loan circulation.Loan
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/loans", req, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

func (c *Client) Return(ctx context.Context, loanID uuid.UUID) (*circulation.Loan, error) {
	var loan circulation.Loan
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("%s/loans/%s/return", apiPrefix, loanID), nil, &loan); err != nil {
		return nil, err
	}
	return &loan, nil
}

// MemberLoans lists a member's loans; state is "active" or "history".
func (c *Client) MemberLoans(ctx context.Context, userID uuid.UUID, state string) ([]circulation.Loan, error) {
	var loans []circulation.Loan
	path := fmt.Sprintf("%s/members/%s/loans?state=%s", apiPrefix, userID, state)
	if err := c.do(ctx, http.MethodGet, path, nil, &loans); err != nil {
		return nil, err
	}
	return loans, nil
}

func (c *Client) Reserve(ctx context.Context, copyID uuid.UUID) (*reservation.Reservation, error) {
	in := map[string]uuid.UUID{"copy_id": copyID}
	var r reservation.Reservation
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/reservations", in, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) FulfillReservation(ctx context.Context, id uuid.UUID) (*reservation.Reservation, error) {
	var r reservation.Reservation
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("%s/reservations/%s/fulfill", apiPrefix, id), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) CancelReservation(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("%s/reservations/%s", apiPrefix, id), nil, nil)
}

func (c *Client) ReservationQueue(ctx context.Context, copyID uuid.UUID) ([]reservation.Reservation, error) {
	var queue []reservation.Reservation
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/copies/%s/reservations", apiPrefix, copyID), nil, &queue); err != nil {
		return nil, err
	}
	return queue, nil
}

func (c *Client) InventoryStatus(ctx context.Context, bookID uuid.UUID) (*availability.InventoryStatus, error) {
	var st availability.InventoryStatus
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/books/%s/status", apiPrefix, bookID), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) Summary(ctx context.Context, bookID uuid.UUID) (*availability.Summary, error) {
	var s availability.Summary
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/books/%s", apiPrefix, bookID), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Journal reads up to limit journal entries with an id above after. Admin only.
func (c *Client) Journal(ctx context.Context, after int64, limit int) ([]journal.Entry, error) {
	var entries []journal.Entry
	path := fmt.Sprintf("%s/journal?after=%d&limit=%d", apiPrefix, after, limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Healthy reports whether /healthcheck answers 200.
func (c *Client) Healthy(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthcheck", nil, nil)
}
