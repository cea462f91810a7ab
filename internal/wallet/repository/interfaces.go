package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/satmobi/satsgate/internal/platform/database"
	"github.com/satmobi/satsgate/internal/wallet/domain"
)

// AccountRepository persists accounts. The ledger service is the only writer
// of balances; everything else reads.
type AccountRepository interface {
	// GetByPhone returns the account for a normalized phone number, or
	// domain.ErrAccountNotFound.
	GetByPhone(ctx context.Context, q database.Querier, phone string) (*domain.Account, error)

	// GetOrCreate lazily materializes an account with a zero balance.
	GetOrCreate(ctx context.Context, q database.Querier, phone string) (*domain.Account, error)

	// LockForUpdate acquires an exclusive row hold on the account. Callers
	// must lock multiple accounts in ascending phone-number order.
	LockForUpdate(ctx context.Context, q database.Querier, phone string) (*domain.Account, error)

	// UpdateBalance sets the balance of a held account row.
	UpdateBalance(ctx context.Context, q database.Querier, id uuid.UUID, balanceSats int64) error

	// UpdateLanguage sets the account's preferred menu language.
	UpdateLanguage(ctx context.Context, q database.Querier, id uuid.UUID, language string) error
}

// TransactionRepository is the append-only transaction log plus the
// idempotency lookup used inside the same hold as the mutation it guards.
type TransactionRepository interface {
	// GetByOperationID returns the transaction recorded for an operation id,
	// or nil if the id has never been seen.
	GetByOperationID(ctx context.Context, q database.Querier, operationID string) (*domain.Transaction, error)

	// Create appends a transaction row. A duplicate operation id fails the
	// unique constraint.
	Create(ctx context.Context, q database.Querier, txn *domain.Transaction) error

	// SetStatus finalizes a pending transaction.
	SetStatus(ctx context.Context, q database.Querier, id uuid.UUID, status domain.TransactionStatus) error

	// ListByAccount returns transactions touching the account, newest first.
	ListByAccount(ctx context.Context, q database.Querier, accountID uuid.UUID, limit int) ([]domain.Transaction, error)
}
