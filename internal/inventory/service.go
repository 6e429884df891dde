// internal/inventory/service.go
package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service is the inventory ledger: which physical copies exist and whether each can be lent.
type Service interface {
	IsAvailable(ctx context.Context, copyID uuid.UUID) (bool, error)
	ResolveAvailableCopy(ctx context.Context, bookID uuid.UUID) (*Copy, error)
	// CreateCopy and DiscardCopy store the calendar day of the given time in its own location.
	CreateCopy(ctx context.Context, bookID uuid.UUID, acquiredDate time.Time) (*Copy, error)
	DiscardCopy(ctx context.Context, copyID uuid.UUID, discardedDate time.Time) (*Copy, error)
	GetCopy(ctx context.Context, copyID uuid.UUID) (*CopyStatus, error)
	ListCopies(ctx context.Context, bookID uuid.UUID) ([]CopyStatus, error)
	DeleteCopy(ctx context.Context, copyID uuid.UUID) error
}

// Catalog answers whether a book exists. The catalog package satisfies it.
type Catalog interface {
	BookExists(ctx context.Context, id uuid.UUID) (bool, error)
}
