// internal/catalog/handler.go
package catalog

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"libshelf/internal/httpx"
	"libshelf/internal/identity"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type registerBookRequest struct {
	ISBN13        string  `json:"isbn13"`
	Title         string  `json:"title"`
	Publisher     string  `json:"publisher"`
	PublishedDate string  `json:"published_date"`
	Description   string  `json:"description"`
	ExternalID    *string `json:"external_id"`
	CoverURL      *string `json:"cover_url"`
	AcquiredDate  string  `json:"acquired_date"`
}

// Routes mounts catalog administration. Reading a book is served by the availability summary.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(identity.RequireAdmin)
		r.Post("/books", h.handleRegisterBook)
		r.Delete("/books/{bookID}", h.handleDeleteBook)
	})
}

func (h *Handler) handleRegisterBook(w http.ResponseWriter, r *http.Request) {
	var req registerBookRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}

	acquired, err := httpx.ParseDate("acquired_date", req.AcquiredDate)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	in := NewBook{
		ISBN13:      req.ISBN13,
		Title:       req.Title,
		Publisher:   req.Publisher,
		Description: req.Description,
		ExternalID:  req.ExternalID,
		CoverURL:    req.CoverURL,
	}
	if req.PublishedDate != "" {
		var published time.Time
		if published, err = httpx.ParseDate("published_date", req.PublishedDate); err != nil {
			httpx.Error(w, r, err)
			return
		}
		in.PublishedDate = &published
	}

	registration, err := h.service.RegisterBook(r.Context(), in, acquired)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.Created(w, r, registration)
}

func (h *Handler) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "bookID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.service.DeleteBook(r.Context(), id); err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.NoContent(w, r)
}
