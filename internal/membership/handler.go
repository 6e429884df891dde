// internal/membership/handler.go
package membership

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

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

// Routes mounts the member directory under /members.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/members", h.handleRegisterMember)
	r.Get("/members/{userID}", h.handleGetMember)
}

// Until an admin exists anyone may register; afterwards only admins can add members.
func (h *Handler) handleRegisterMember(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())
	if !actor.Admin {
		exists, err := h.service.AdminExists(r.Context())
		if err != nil {
			httpx.ServerError(w, r, err)
			return
		}
		if exists {
			if !actor.Authenticated() {
				httpx.Unauthorized(w, r)
				return
			}
			httpx.Error(w, r, apperror.Forbidden("admin role required"))
			return
		}
	}

	var req NewMember
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}

	register := h.service.RegisterMember
	if !actor.Admin {
		register = h.service.Bootstrap
	}
	member, err := register(r.Context(), req)
	if errors.Is(err, apperror.ErrForbidden) && !actor.Authenticated() {
		httpx.Unauthorized(w, r)
		return
	}
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.Created(w, r, member)
}

func (h *Handler) handleGetMember(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "userID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}

	member, err := h.service.GetMember(r.Context(), id)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.OK(w, r, member)
}
