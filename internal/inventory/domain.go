// internal/inventory/domain.go
package inventory

import (
	"time"

	"github.com/google/uuid"
)

// Copy is one lendable unit of a book. DiscardedDate is nil while the copy is in the collection.
type Copy struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	BookID        uuid.UUID  `json:"book_id" db:"book_id"`
	AcquiredDate  time.Time  `json:"acquired_date" db:"acquired_date"`
	DiscardedDate *time.Time `json:"discarded_date,omitempty" db:"discarded_date"`
}

func (c *Copy) Discarded() bool {
	return c.DiscardedDate != nil
}

func (c *Copy) normalize() {
	c.AcquiredDate = c.AcquiredDate.UTC()
	if c.DiscardedDate != nil {
		d := c.DiscardedDate.UTC()
		c.DiscardedDate = &d
	}
}

// CopyStatus is a copy together with its derived availability.
type CopyStatus struct {
	Copy
	Available bool `json:"available"`
}

// CopyAcquiredEvent is journaled when a copy enters the collection.
type CopyAcquiredEvent struct {
	CopyID       uuid.UUID `json:"copy_id"`
	BookID       uuid.UUID `json:"book_id"`
	AcquiredDate time.Time `json:"acquired_date"`
}

// CopyDiscardedEvent is journaled when a copy leaves the collection.
type CopyDiscardedEvent struct {
	CopyID        uuid.UUID `json:"copy_id"`
	DiscardedDate time.Time `json:"discarded_date"`
}

// CopyDeletedEvent is journaled when an admin physically removes a copy.
type CopyDeletedEvent struct {
	CopyID uuid.UUID `json:"copy_id"`
	BookID uuid.UUID `json:"book_id"`
}

// Date returns the calendar day of t, read in t's own location, as
// midnight UTC. 2024-06-01T08:00+09:00 is 2024-06-01.
func Date(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
