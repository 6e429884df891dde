// internal/membership/service.go
package membership

import (
	"context"

	"github.com/google/uuid"
)

// Service defines the interface for the member directory.
type Service interface {
	RegisterMember(ctx context.Context, in NewMember) (*Member, error)
	// Bootstrap registers in only while no admin exists, checked in the registering transaction.
	// Once an admin exists it fails with a forbidden error.
	Bootstrap(ctx context.Context, in NewMember) (*Member, error)
	GetMember(ctx context.Context, id uuid.UUID) (*Member, error)
	IsAdmin(ctx context.Context, id uuid.UUID) (bool, error)
	AdminExists(ctx context.Context) (bool, error)
	// DisplayNames maps each known id to the member's name; unknown ids are omitted.
	DisplayNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
}
