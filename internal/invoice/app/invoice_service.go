package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/satmobi/satsgate/internal/invoice/backend"
	"github.com/satmobi/satsgate/internal/invoice/domain"
	"github.com/satmobi/satsgate/internal/invoice/repository"
	"github.com/satmobi/satsgate/internal/platform/database"
	walletdomain "github.com/satmobi/satsgate/internal/wallet/domain"
	walletrepo "github.com/satmobi/satsgate/internal/wallet/repository"
)

// settlementOpPrefix namespaces the operation id derived from a payment hash,
// so duplicate settlement notifications can never double-credit.
const settlementOpPrefix = "invoice-settle:"

// SettlementOperationID returns the deterministic operation id for crediting
// a paid invoice.
func SettlementOperationID(paymentHash string) string {
	return settlementOpPrefix + paymentHash
}

// Ledger is the slice of the account ledger the invoice lifecycle needs.
type Ledger interface {
	Credit(ctx context.Context, operationID, phone string, amountSats int64, txnType walletdomain.TransactionType, invoiceID *uuid.UUID, description string) (*walletdomain.Transaction, error)
}

// Config bounds invoice creation.
type Config struct {
	MinAmountSats int64
	MaxAmountSats int64
	DefaultTTL    time.Duration
}

// InvoiceService drives the invoice lifecycle: created -> paid/expired/
// cancelled. It owns invoice rows and credits balances only through the
// ledger.
type InvoiceService struct {
	db       database.Querier
	txm      database.TxManager
	invoices repository.InvoiceRepository
	accounts walletrepo.AccountRepository
	ledger   Ledger
	backend  backend.PaymentBackend
	cfg      Config
	logger   *slog.Logger
}

func NewInvoiceService(
	db database.Querier,
	txm database.TxManager,
	invoices repository.InvoiceRepository,
	accounts walletrepo.AccountRepository,
	ledger Ledger,
	paymentBackend backend.PaymentBackend,
	cfg Config,
	logger *slog.Logger,
) *InvoiceService {
	return &InvoiceService{
		db:       db,
		txm:      txm,
		invoices: invoices,
		accounts: accounts,
		ledger:   ledger,
		backend:  paymentBackend,
		cfg:      cfg,
		logger:   logger.With("service", "invoice"),
	}
}

// Create allocates a payment request from the backend and persists a pending
// invoice. The backend call happens before any database transaction so no
// ledger hold is ever held across a slow external call, and a backend failure
// leaves no half-created row.
func (s *InvoiceService) Create(ctx context.Context, phone string, amountSats int64, description string, ttl time.Duration) (*domain.Invoice, error) {
	if amountSats < s.cfg.MinAmountSats || amountSats > s.cfg.MaxAmountSats {
		return nil, fmt.Errorf("%w: amount %d outside [%d, %d]",
			walletdomain.ErrInvalidAmount, amountSats, s.cfg.MinAmountSats, s.cfg.MaxAmountSats)
	}
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}

	created, err := s.backend.CreateInvoice(ctx, amountSats, description, ttl)
	if err != nil {
		return nil, err
	}

	inv := &domain.Invoice{
		PhoneNumber:    phone,
		PaymentHash:    created.PaymentHash,
		PaymentRequest: created.PaymentRequest,
		AmountSats:     amountSats,
		Status:         domain.InvoiceStatusPending,
		Description:    description,
		ExpiresAt:      time.Now().UTC().Add(ttl),
	}

	err = s.txm.WithinTx(ctx, func(q database.Querier) error {
		acc, err := s.accounts.GetOrCreate(ctx, q, phone)
		if err != nil {
			return err
		}
		inv.AccountID = acc.ID
		return s.invoices.Create(ctx, q, inv)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist invoice: %w", err)
	}

	s.logger.InfoContext(ctx, "invoice created",
		"payment_hash", inv.PaymentHash, "phone", phone, "amount_sats", amountSats)
	return inv, nil
}

// MarkPaid settles an invoice. Idempotent: an already-paid invoice returns
// unchanged, and the credit's operation id is derived from the payment hash
// so an at-least-once delivery channel can never double-credit. Settlement
// past expiry is refused.
func (s *InvoiceService) MarkPaid(ctx context.Context, paymentHash string) (*domain.Invoice, error) {
	var settled *domain.Invoice
	var opErr error

	err := s.txm.WithinTx(ctx, func(q database.Querier) error {
		settled, opErr = nil, nil

		inv, err := s.invoices.LockByPaymentHash(ctx, q, paymentHash)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		switch {
		case inv.Status == domain.InvoiceStatusPaid:
			settled = inv
			return nil
		case inv.Status == domain.InvoiceStatusExpired || inv.IsExpired(now):
			if inv.Status == domain.InvoiceStatusPending {
				if err := s.invoices.SetStatus(ctx, q, inv.ID, domain.InvoiceStatusExpired); err != nil {
					return err
				}
			}
			settled, opErr = inv, domain.ErrInvoiceExpired
			return nil
		case inv.Status == domain.InvoiceStatusCancelled:
			settled, opErr = inv, domain.ErrInvoiceNotPending
			return nil
		}

		// The credit runs in its own ledger transaction while the invoice
		// row hold is kept, so the expiry sweep cannot interleave. If this
		// unit fails after the credit commits, a redelivered notification
		// replays the credit and finishes the transition.
		if _, err := s.ledger.Credit(ctx, SettlementOperationID(paymentHash), inv.PhoneNumber,
			inv.AmountSats, walletdomain.TransactionTypeInvoiceSettlement, &inv.ID,
			fmt.Sprintf("settlement of invoice %s", shortHash(paymentHash))); err != nil {
			return fmt.Errorf("settlement credit failed: %w", err)
		}

		if err := s.invoices.MarkPaid(ctx, q, inv.ID, now); err != nil {
			return err
		}
		inv.Status = domain.InvoiceStatusPaid
		inv.PaidAt = &now
		settled = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	if opErr != nil {
		return settled, opErr
	}

	s.logger.InfoContext(ctx, "invoice settled", "payment_hash", paymentHash, "amount_sats", settled.AmountSats)
	return settled, nil
}

// Cancel transitions a pending invoice to cancelled. No balance effect.
func (s *InvoiceService) Cancel(ctx context.Context, paymentHash string) error {
	return s.txm.WithinTx(ctx, func(q database.Querier) error {
		inv, err := s.invoices.LockByPaymentHash(ctx, q, paymentHash)
		if err != nil {
			return err
		}
		if inv.Status != domain.InvoiceStatusPending {
			return domain.ErrInvoiceNotPending
		}
		return s.invoices.SetStatus(ctx, q, inv.ID, domain.InvoiceStatusCancelled)
	})
}

// ExpireDue sweeps all pending invoices past expiry to expired. Safe to run
// concurrently and repeatedly; it never touches balances.
func (s *InvoiceService) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := s.txm.WithinTx(ctx, func(q database.Querier) error {
		var err error
		n, err = s.invoices.ExpireDue(ctx, q, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "expired due invoices", "count", n)
	}
	return n, nil
}

// CheckStatus is the read-only poll used by flows waiting on payment.
func (s *InvoiceService) CheckStatus(ctx context.Context, paymentHash string) (domain.InvoiceStatus, error) {
	inv, err := s.invoices.GetByPaymentHash(ctx, s.db, paymentHash)
	if err != nil {
		return "", err
	}
	return inv.Status, nil
}

// Get returns the invoice for a payment hash.
func (s *InvoiceService) Get(ctx context.Context, paymentHash string) (*domain.Invoice, error) {
	return s.invoices.GetByPaymentHash(ctx, s.db, paymentHash)
}

// ListByPhone returns an account's invoices, newest first.
func (s *InvoiceService) ListByPhone(ctx context.Context, phone string, limit int) ([]domain.Invoice, error) {
	acc, err := s.accounts.GetByPhone(ctx, s.db, phone)
	if err != nil {
		if errors.Is(err, walletdomain.ErrAccountNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return s.invoices.ListByAccount(ctx, s.db, acc.ID, limit)
}

// RunExpirySweeper periodically expires due invoices until the context ends.
func (s *InvoiceService) RunExpirySweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("invoice expiry sweeper started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("invoice expiry sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.ExpireDue(ctx, time.Now()); err != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "invoice expiry sweep failed", "error", err)
			}
		}
	}
}

func shortHash(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}
