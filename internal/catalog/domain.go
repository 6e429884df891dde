// internal/catalog/domain.go
package catalog

import (
	"time"

	"github.com/google/uuid"

	"libshelf/internal/inventory"
)

// Book is a catalog entry. Its physical copies live in the inventory ledger.
type Book struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	ISBN13        string     `json:"isbn13" db:"isbn13"`
	Title         string     `json:"title" db:"title"`
	Publisher     string     `json:"publisher" db:"publisher"`
	PublishedDate *time.Time `json:"published_date,omitempty" db:"published_date"`
	Description   string     `json:"description" db:"description"`
	ExternalID    *string    `json:"external_id,omitempty" db:"external_id"`
	CoverURL      *string    `json:"cover_url,omitempty" db:"cover_url"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// NewBook is the input to RegisterBook.
type NewBook struct {
	ISBN13        string
	Title         string
	Publisher     string
	PublishedDate *time.Time
	Description   string
	ExternalID    *string
	CoverURL      *string
}

// Registration is a freshly registered book together with its first copy.
type Registration struct {
	Book      *Book           `json:"book"`
	FirstCopy *inventory.Copy `json:"first_copy"`
}

// BookRegisteredEvent is journaled against the book when it enters the catalog.
type BookRegisteredEvent struct {
	ID          uuid.UUID `json:"id"`
	ISBN13      string    `json:"isbn13"`
	Title       string    `json:"title"`
	FirstCopyID uuid.UUID `json:"first_copy_id"`
}

// BookDeletedEvent is journaled against the book when it is removed with its copies.
type BookDeletedEvent struct {
	ID      uuid.UUID   `json:"id"`
	CopyIDs []uuid.UUID `json:"copy_ids"`
}
