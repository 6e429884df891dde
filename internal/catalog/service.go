// internal/catalog/service.go
package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service defines the interface for the catalog service.
type Service interface {
	RegisterBook(ctx context.Context, in NewBook, acquiredDate time.Time) (*Registration, error)
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	BookExists(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteBook(ctx context.Context, id uuid.UUID) error
}
