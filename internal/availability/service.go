// internal/availability/service.go
package availability

import (
	"context"

	"github.com/google/uuid"

	"libshelf/internal/catalog"
)

// Service answers read-only questions about a book's copies.
type Service interface {
	InventoryStatus(ctx context.Context, bookID uuid.UUID) (*InventoryStatus, error)
	CurrentLoans(ctx context.Context, bookID uuid.UUID) ([]CurrentLoan, error)
	Summary(ctx context.Context, bookID uuid.UUID) (*Summary, error)
}

// Books is the slice of the catalog this service reads.
type Books interface {
	GetBook(ctx context.Context, id uuid.UUID) (*catalog.Book, error)
	BookExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// Directory resolves member ids to display names. Unknown ids are simply absent from the result.
type Directory interface {
	DisplayNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
}
