// internal/availability/domain.go
package availability

import (
	"time"

	"github.com/google/uuid"

	"libshelf/internal/catalog"
)

// InventoryStatus counts a book's copies still in the collection. Discarded copies are not counted.
type InventoryStatus struct {
	TotalCopies    int `json:"total_copies"`
	BorrowedCount  int `json:"borrowed_count"`
	AvailableCount int `json:"available_count"`
}

// Borrower is the public identity of a member holding a copy.
type Borrower struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
}

// CurrentLoan is one copy of a book that is out right now.
type CurrentLoan struct {
	Borrower     Borrower  `json:"user"`
	CopyID       uuid.UUID `json:"copy_id"`
	BorrowedDate time.Time `json:"borrowed_date"`
}

// Summary is a book with its inventory status and current loans.
type Summary struct {
	Book         *catalog.Book   `json:"book"`
	Status       InventoryStatus `json:"status"`
	CurrentLoans []CurrentLoan   `json:"current_loans"`
}
