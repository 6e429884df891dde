// internal/availability/handler.go
package availability

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"libshelf/internal/httpx"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/books/{bookID}", h.handleSummary)
	r.Get("/books/{bookID}/status", h.handleStatus)
	r.Get("/books/{bookID}/loans", h.handleCurrentLoans)
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	bookID, err := httpx.UUIDParam(r, "bookID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	summary, err := h.service.Summary(r.Context(), bookID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.OK(w, r, summary)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	bookID, err := httpx.UUIDParam(r, "bookID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	status, err := h.service.InventoryStatus(r.Context(), bookID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.OK(w, r, status)
}

func (h *Handler) handleCurrentLoans(w http.ResponseWriter, r *http.Request) {
	bookID, err := httpx.UUIDParam(r, "bookID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	loans, err := h.service.CurrentLoans(r.Context(), bookID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.OK(w, r, loans)
}
