// internal/reservation/handler.go
package reservation

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

type reserveRequest struct {
	UserID uuid.UUID `json:"user_id"`
	CopyID uuid.UUID `json:"copy_id"`
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/copies/{copyID}/reservations", h.handleQueue)

	r.Group(func(r chi.Router) {
		r.Use(identity.RequireUser)
		r.Post("/reservations", h.handleReserve)
		r.Get("/reservations/{reservationID}", h.handleGet)
		r.Post("/reservations/{reservationID}/fulfill", h.handleFulfill)
		r.Delete("/reservations/{reservationID}", h.handleCancel)
		r.Get("/members/{userID}/reservations", h.handleListForUser)
	})
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	actor := identity.FromContext(r.Context())

	var req reserveRequest
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	if req.CopyID == uuid.Nil {
		httpx.Error(w, r, apperror.Validation("copy_id is required"))
		return
	}
	if req.UserID == uuid.Nil {
		req.UserID = actor.UserID
	}
	if err := actor.Authorize(req.UserID, "member's reservations"); err != nil {
		httpx.Error(w, r, err)
		return
	}

	reservation, err := h.service.Reserve(r.Context(), req.UserID, req.CopyID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.Created(w, r, reservation)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "reservationID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	reservation, err := h.service.GetReservation(r.Context(), id)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := identity.FromContext(r.Context()).Authorize(reservation.UserID, "reservation"); err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.OK(w, r, reservation)
}

func (h *Handler) handleFulfill(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "reservationID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	reservation, err := h.service.Fulfill(r.Context(), id, identity.FromContext(r.Context()))
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.OK(w, r, reservation)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "reservationID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.service.Cancel(r.Context(), id, identity.FromContext(r.Context())); err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.NoContent(w, r)
}

func (h *Handler) handleListForUser(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.UUIDParam(r, "userID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := identity.FromContext(r.Context()).Authorize(userID, "reservation list"); err != nil {
		httpx.Error(w, r, err)
		return
	}
	reservations, err := h.service.ListForUser(r.Context(), userID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.OK(w, r, reservations)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	copyID, err := httpx.UUIDParam(r, "copyID")
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	queue, err := h.service.QueueForCopy(r.Context(), copyID)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.OK(w, r, queue)
}
