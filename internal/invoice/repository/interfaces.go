package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/satmobi/satsgate/internal/invoice/domain"
	"github.com/satmobi/satsgate/internal/platform/database"
)

// InvoiceRepository persists invoices. The invoice service is the only
// writer; it touches account balances exclusively through the ledger.
type InvoiceRepository interface {
	Create(ctx context.Context, q database.Querier, inv *domain.Invoice) error

	// GetByPaymentHash returns the invoice or domain.ErrInvoiceNotFound.
	GetByPaymentHash(ctx context.Context, q database.Querier, paymentHash string) (*domain.Invoice, error)

	// LockByPaymentHash acquires an exclusive row hold for a status
	// transition.
	LockByPaymentHash(ctx context.Context, q database.Querier, paymentHash string) (*domain.Invoice, error)

	// MarkPaid transitions a pending invoice to paid.
	MarkPaid(ctx context.Context, q database.Querier, id uuid.UUID, paidAt time.Time) error

	// SetStatus transitions a pending invoice to a terminal state.
	SetStatus(ctx context.Context, q database.Querier, id uuid.UUID, status domain.InvoiceStatus) error

	// ExpireDue moves every pending invoice past its expiry to expired and
	// returns how many rows changed. Pure bookkeeping, no balance effect.
	ExpireDue(ctx context.Context, q database.Querier, now time.Time) (int64, error)

	// ListByAccount returns the account's invoices, newest first.
	ListByAccount(ctx context.Context, q database.Querier, accountID uuid.UUID, limit int) ([]domain.Invoice, error)
}
