// internal/reservation/domain.go
package reservation

import (
	"time"

	"github.com/google/uuid"
)

// Reservation is a user's claim on a specific copy. Once fulfilled it is kept as a record and never reopens.
type Reservation struct {
	ID         uuid.UUID `json:"id" db:"id"`
	UserID     uuid.UUID `json:"user_id" db:"user_id"`
	BookCopyID uuid.UUID `json:"book_copy_id" db:"book_copy_id"`
	ReservedAt time.Time `json:"reserved_at" db:"reserved_at"`
	Fulfilled  bool      `json:"fulfilled" db:"fulfilled"`
}

type ReservationPlacedEvent struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	UserID        uuid.UUID `json:"user_id"`
	CopyID        uuid.UUID `json:"copy_id"`
}

type ReservationFulfilledEvent struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	UserID        uuid.UUID `json:"user_id"`
}

type ReservationCancelledEvent struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	UserID        uuid.UUID `json:"user_id"`
}
