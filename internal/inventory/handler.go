// internal/inventory/handler.go
package inventory

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"libshelf/internal/httpx"
	"libshelf/internal/identity"
	"libshelf/internal/journal"
)

type Handler struct {
	service Service
	journal *journal.Journal
}

func NewHandler(service Service, j *journal.Journal) *Handler {
	return &Handler{service: service, journal: j}
}

type createCopyRequest struct {
	AcquiredDate string `json:"acquired_date"`
}

type discardCopyRequest struct {
	DiscardedDate string `json:"discarded_date"`
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/books/{bookID}/copies", h.handleListCopies)
	r.Get("/copies/{copyID}", h.handleGetCopy)

	r.Group(func(r chi.Router) {
		r.Use(identity.RequireAdmin)
		r.Post("/books/{bookID}/copies", h.handleCreateCopy)
		r.Delete("/copies/{copyID}", h.handleDeleteCopy)
		r.Post("/copies/{copyID}/discard", h.handleDiscardCopy)
		r.Get("/copies/{copyID}/history", h.handleHistory)
	})
}

func (h *Handler) handleListCopies(w http.ResponseWriter, r *http.Request) {
	bookID, err := httpx.UUIDParam(r, "bookID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	copies, err := h.service.ListCopies(r.Context(), bookID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.OK(w, r, copies)
}

func (h *Handler) handleGetCopy(w http.ResponseWriter, r *http.Request) {
	copyID, err := httpx.UUIDParam(r, "copyID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	c, err := h.service.GetCopy(r.Context(), copyID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.OK(w, r, c)
}

func (h *Handler) handleCreateCopy(w http.ResponseWriter, r *http.Request) {
	bookID, err := httpx.UUIDParam(r, "bookID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var req createCopyRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	acquired, err := httpx.ParseDate("acquired_date", req.AcquiredDate)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}

	c, err := h.service.CreateCopy(r.Context(), bookID, acquired)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.Created(w, r, c)
}

func (h *Handler) handleDiscardCopy(w http.ResponseWriter, r *http.Request) {
	copyID, err := httpx.UUIDParam(r, "copyID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var req discardCopyRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	discarded, err := httpx.ParseDate("discarded_date", req.DiscardedDate)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}

	c, err := h.service.DiscardCopy(r.Context(), copyID, discarded)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.OK(w, r, c)
}

func (h *Handler) handleDeleteCopy(w http.ResponseWriter, r *http.Request) {
	copyID, err := httpx.UUIDParam(r, "copyID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.service.DeleteCopy(r.Context(), copyID); err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.NoContent(w, r)
}

// History of a deleted copy stays readable, so this does not check that the copy exists.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	copyID, err := httpx.UUIDParam(r, "copyID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	entries, err := h.journal.History(r.Context(), copyID)
	if err != nil {
		httpx.ServerError(w, r, err)
		return
	}
	httpx.OK(w, r, entries)
}
