package journal

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"libshelf/internal/apperror"
	"libshelf/internal/httpx"
	"libshelf/internal/identity"
)

const maxBatch = 500

type Handler struct {
	journal *Journal
}

func NewHandler(j *Journal) *Handler {
	return &Handler{journal: j}
}

// Routes mounts the admin feed: GET /journal?after=<id>&limit=<n>.
func (h *Handler) Routes(r chi.Router) {
	r.With(identity.RequireAdmin).Get("/journal", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	after, err := httpx.QueryInt(r, "after", 0)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	limit, err := httpx.QueryInt(r, "limit", 100)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if after < 0 || limit < 1 || limit > maxBatch {
		httpx.Error(w, r, apperror.Validation("after must be >= 0 and limit between 1 and %d", maxBatch))
		return
	}

	entries, err := h.journal.Stream(r.Context(), int64(after), limit)
	if err != nil {
		httpx.ServerError(w, r, err)
		return
	}
	httpx.OK(w, r, entries)
}
