// internal/circulation/service.go
package circulation

import (
	"context"

	"github.com/google/uuid"

	"libshelf/internal/identity"
)

// Service defines the interface for the circulation service.
type Service interface {
	Borrow(ctx context.Context, req BorrowRequest) (*Loan, error)
	Return(ctx context.Context, loanID uuid.UUID, actor identity.Actor) (*Loan, error)
	GetLoan(ctx context.Context, loanID uuid.UUID) (*Loan, error)
	ActiveLoans(ctx context.Context, userID uuid.UUID) ([]Loan, error)
	LoanHistory(ctx context.Context, userID uuid.UUID) ([]Loan, error)
}
