// internal/reservation/service.go
package reservation

import (
	"context"

	"github.com/google/uuid"

	"libshelf/internal/identity"
)

// Service is the reservation queue. Fulfillment is always an explicit call; returning a loan never triggers it.
type Service interface {
	Reserve(ctx context.Context, userID, copyID uuid.UUID) (*Reservation, error)
	Fulfill(ctx context.Context, reservationID uuid.UUID, actor identity.Actor) (*Reservation, error)
	Cancel(ctx context.Context, reservationID uuid.UUID, actor identity.Actor) error
	GetReservation(ctx context.Context, reservationID uuid.UUID) (*Reservation, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]Reservation, error)
	QueueForCopy(ctx context.Context, copyID uuid.UUID) ([]Reservation, error)
}
