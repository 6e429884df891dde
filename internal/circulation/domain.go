// internal/circulation/domain.go
package circulation

import (
	"time"

	"github.com/google/uuid"
)

// Loan records one borrowing of one copy. It is active until ReturnedDate is set, and never reopens.
type Loan struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	UserID       uuid.UUID  `json:"user_id" db:"user_id"`
	BookCopyID   uuid.UUID  `json:"book_copy_id" db:"book_copy_id"`
	BorrowedDate time.Time  `json:"borrowed_date" db:"borrowed_date"`
	ReturnedDate *time.Time `json:"returned_date,omitempty" db:"returned_date"`
}

func (l *Loan) Active() bool {
	return l.ReturnedDate == nil
}

func (l *Loan) normalize() {
	l.BorrowedDate = l.BorrowedDate.UTC()
	if l.ReturnedDate != nil {
		returned := l.ReturnedDate.UTC()
		l.ReturnedDate = &returned
	}
}

// BorrowRequest names the borrower and exactly one target: a specific copy or any copy of a book.
type BorrowRequest struct {
	UserID uuid.UUID `json:"user_id"`
	CopyID uuid.UUID `json:"copy_id"`
	BookID uuid.UUID `json:"book_id"`
}

// LoanOpenedEvent is journaled against the copy when it is lent.
type LoanOpenedEvent struct {
	LoanID       uuid.UUID `json:"loan_id"`
	UserID       uuid.UUID `json:"user_id"`
	CopyID       uuid.UUID `json:"copy_id"`
	BookID       uuid.UUID `json:"book_id"`
	BorrowedDate time.Time `json:"borrowed_date"`
}

// LoanClosedEvent is journaled against the copy when it comes back.
type LoanClosedEvent struct {
	LoanID       uuid.UUID `json:"loan_id"`
	UserID       uuid.UUID `json:"user_id"`
	CopyID       uuid.UUID `json:"copy_id"`
	ReturnedDate time.Time `json:"returned_date"`
}
