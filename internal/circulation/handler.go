// internal/circulation/handler.go
package circulation

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"libshelf/internal/apperror"
	"libshelf/internal/httpx"
	"libshelf/internal/identity"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(identity.RequireUser)
		r.Post("/loans", h.handleBorrow)
		r.Get("/loans/{loanID}", h.handleGetLoan)
		r.Post("/loans/{loanID}/return", h.handleReturn)
		r.Get("/members/{userID}/loans", h.handleMemberLoans)
	})
}

// A member borrows for themselves; admins may name another borrower.
func (h *Handler) handleBorrow(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())

	var req BorrowRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	if req.UserID == uuid.Nil {
		req.UserID = actor.UserID
	}
	if err := actor.Authorize(req.UserID, "borrower account"); err != nil {
		httpx.Error(w, r, err)
		return
	}

	loan, err := h.service.Borrow(r.Context(), req)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.Created(w, r, loan)
}

func (h *Handler) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "loanID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	loan, err := h.service.GetLoan(r.Context(), id)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := identity.FromContext(r.Context()).Authorize(loan.UserID, "loan"); err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.OK(w, r, loan)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "loanID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	loan, err := h.service.Return(r.Context(), id, identity.FromContext(r.Context()))
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.OK(w, r, loan)
}

func (h *Handler) handleMemberLoans(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.UUIDParam(r, "userID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := identity.FromContext(r.Context()).Authorize(userID, "loan list"); err != nil {
		httpx.Error(w, r, err)
		return
	}

	var loans []Loan
	switch state := r.URL.Query().Get("state"); state {
	case "", "active":
		loans, err = h.service.ActiveLoans(r.Context(), userID)
	case "history":
		loans, err = h.service.LoanHistory(r.Context(), userID)
	default:
		err = apperror.Validation("state must be active or history, got %q", state)
	}
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.OK(w, r, loans)
}
