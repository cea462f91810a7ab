package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/satmobi/satsgate/internal/platform/database"
	"github.com/satmobi/satsgate/internal/wallet/domain"
	"github.com/satmobi/satsgate/internal/wallet/repository"
)

const defaultRetryAttempts = 3

// LedgerService owns account balances. Every mutation runs as one database
// transaction: idempotency lookup, ordered account holds, balance check,
// balance write and transaction append are indivisible.
type LedgerService struct {
	db       database.Querier
	txm      database.TxManager
	accounts repository.AccountRepository
	txns     repository.TransactionRepository
	logger   *slog.Logger
	retries  int
}

func NewLedgerService(
	db database.Querier,
	txm database.TxManager,
	accounts repository.AccountRepository,
	txns repository.TransactionRepository,
	logger *slog.Logger,
	retryAttempts int,
) *LedgerService {
	if retryAttempts <= 0 {
		retryAttempts = defaultRetryAttempts
	}
	return &LedgerService{
		db:       db,
		txm:      txm,
		accounts: accounts,
		txns:     txns,
		logger:   logger.With("service", "ledger"),
		retries:  retryAttempts,
	}
}

// GetBalance returns the balance for a phone number. Unknown accounts read as
// zero; they are materialized on first mutation, not here.
func (s *LedgerService) GetBalance(ctx context.Context, phone string) (int64, error) {
	acc, err := s.accounts.GetByPhone(ctx, s.db, phone)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("balance lookup failed: %w", err)
	}
	return acc.BalanceSats, nil
}

// History returns the account's transactions, newest first. Transfers are
// stored once with type "send"; rows where this account is the destination
// are presented as "receive".
func (s *LedgerService) History(ctx context.Context, phone string, limit int) ([]domain.Transaction, error) {
	acc, err := s.accounts.GetByPhone(ctx, s.db, phone)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, nil
		}
		return nil, err
	}
	txns, err := s.txns.ListByAccount(ctx, s.db, acc.ID, limit)
	if err != nil {
		return nil, err
	}
	for i := range txns {
		if txns[i].Type == domain.TransactionTypeSend &&
			txns[i].ToAccountID != nil && *txns[i].ToAccountID == acc.ID {
			txns[i].Type = domain.TransactionTypeReceive
		}
	}
	return txns, nil
}

// Language returns the account's preferred menu language. Unknown accounts
// read as the default language.
func (s *LedgerService) Language(ctx context.Context, phone string) (string, error) {
	acc, err := s.accounts.GetByPhone(ctx, s.db, phone)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return domain.DefaultLanguage, nil
		}
		return "", fmt.Errorf("language lookup failed: %w", err)
	}
	if acc.Language == "" {
		return domain.DefaultLanguage, nil
	}
	return acc.Language, nil
}

// SetLanguage stores the account's preferred menu language, materializing the
// account if this is its first contact.
func (s *LedgerService) SetLanguage(ctx context.Context, phone, language string) error {
	if !domain.IsSupportedLanguage(language) {
		return domain.ErrUnsupportedLanguage
	}
	return s.txm.WithinTx(ctx, func(q database.Querier) error {
		acc, err := s.accounts.GetOrCreate(ctx, q, phone)
		if err != nil {
			return err
		}
		return s.accounts.UpdateLanguage(ctx, q, acc.ID, language)
	})
}

// Transfer moves amountSats from one account to the other as one atomic unit.
// Replaying an operation id returns the previously recorded outcome unchanged.
func (s *LedgerService) Transfer(ctx context.Context, operationID, fromPhone, toPhone string, amountSats int64, description string) (*domain.Transaction, error) {
	if amountSats <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	if fromPhone == toPhone {
		return nil, domain.ErrSelfTransfer
	}

	var result *domain.Transaction
	var opErr error

	err := s.applyWithRetry(ctx, func(q database.Querier) error {
		result, opErr = nil, nil

		prior, replayed, err := s.checkReplay(ctx, q, operationID)
		if err != nil {
			return err
		}
		if replayed {
			result, opErr = prior, replayErr(prior)
			return nil
		}

		from, err := s.accounts.GetOrCreate(ctx, q, fromPhone)
		if err != nil {
			return err
		}
		to, err := s.accounts.GetOrCreate(ctx, q, toPhone)
		if err != nil {
			return err
		}

		// Holds are always taken in ascending phone order so a concurrent
		// reverse transfer cannot deadlock with this one.
		first, second := fromPhone, toPhone
		if first > second {
			first, second = second, first
		}
		locked := map[string]*domain.Account{}
		for _, phone := range []string{first, second} {
			acc, err := s.accounts.LockForUpdate(ctx, q, phone)
			if err != nil {
				return err
			}
			locked[phone] = acc
		}
		from, to = locked[fromPhone], locked[toPhone]

		txn := &domain.Transaction{
			OperationID:   operationID,
			Type:          domain.TransactionTypeSend,
			Status:        domain.TransactionStatusPending,
			FromAccountID: &from.ID,
			ToAccountID:   &to.ID,
			AmountSats:    amountSats,
			Description:   description,
		}
		if err := s.txns.Create(ctx, q, txn); err != nil {
			return err
		}

		if from.BalanceSats < amountSats {
			if err := s.txns.SetStatus(ctx, q, txn.ID, domain.TransactionStatusFailed); err != nil {
				return err
			}
			txn.Status = domain.TransactionStatusFailed
			result, opErr = txn, domain.ErrInsufficientFunds
			return nil
		}

		if err := s.accounts.UpdateBalance(ctx, q, from.ID, from.BalanceSats-amountSats); err != nil {
			return err
		}
		if err := s.accounts.UpdateBalance(ctx, q, to.ID, to.BalanceSats+amountSats); err != nil {
			return err
		}
		if err := s.txns.SetStatus(ctx, q, txn.ID, domain.TransactionStatusCompleted); err != nil {
			return err
		}
		txn.Status = domain.TransactionStatusCompleted
		result = txn
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.observe(domain.TransactionTypeSend, opErr)
	return result, opErr
}

// Credit adds amountSats to an account (topups and invoice settlements).
func (s *LedgerService) Credit(ctx context.Context, operationID, phone string, amountSats int64, txnType domain.TransactionType, invoiceID *uuid.UUID, description string) (*domain.Transaction, error) {
	if amountSats <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	var result *domain.Transaction
	var opErr error

	err := s.applyWithRetry(ctx, func(q database.Querier) error {
		result, opErr = nil, nil

		prior, replayed, err := s.checkReplay(ctx, q, operationID)
		if err != nil {
			return err
		}
		if replayed {
			result, opErr = prior, replayErr(prior)
			return nil
		}

		if _, err := s.accounts.GetOrCreate(ctx, q, phone); err != nil {
			return err
		}
		acc, err := s.accounts.LockForUpdate(ctx, q, phone)
		if err != nil {
			return err
		}

		txn := &domain.Transaction{
			OperationID: operationID,
			Type:        txnType,
			Status:      domain.TransactionStatusPending,
			ToAccountID: &acc.ID,
			AmountSats:  amountSats,
			InvoiceID:   invoiceID,
			Description: description,
		}
		if err := s.txns.Create(ctx, q, txn); err != nil {
			return err
		}
		if err := s.accounts.UpdateBalance(ctx, q, acc.ID, acc.BalanceSats+amountSats); err != nil {
			return err
		}
		if err := s.txns.SetStatus(ctx, q, txn.ID, domain.TransactionStatusCompleted); err != nil {
			return err
		}
		txn.Status = domain.TransactionStatusCompleted
		result = txn
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.observe(txnType, opErr)
	return result, opErr
}

// Debit removes amountSats from an account (withdrawals).
func (s *LedgerService) Debit(ctx context.Context, operationID, phone string, amountSats int64, txnType domain.TransactionType, description string) (*domain.Transaction, error) {
	if amountSats <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	var result *domain.Transaction
	var opErr error

	err := s.applyWithRetry(ctx, func(q database.Querier) error {
		result, opErr = nil, nil

		prior, replayed, err := s.checkReplay(ctx, q, operationID)
		if err != nil {
			return err
		}
		if replayed {
			result, opErr = prior, replayErr(prior)
			return nil
		}

		if _, err := s.accounts.GetOrCreate(ctx, q, phone); err != nil {
			return err
		}
		acc, err := s.accounts.LockForUpdate(ctx, q, phone)
		if err != nil {
			return err
		}

		txn := &domain.Transaction{
			OperationID:   operationID,
			Type:          txnType,
			Status:        domain.TransactionStatusPending,
			FromAccountID: &acc.ID,
			AmountSats:    amountSats,
			Description:   description,
		}
		if err := s.txns.Create(ctx, q, txn); err != nil {
			return err
		}

		if acc.BalanceSats < amountSats {
			if err := s.txns.SetStatus(ctx, q, txn.ID, domain.TransactionStatusFailed); err != nil {
				return err
			}
			txn.Status = domain.TransactionStatusFailed
			result, opErr = txn, domain.ErrInsufficientFunds
			return nil
		}

		if err := s.accounts.UpdateBalance(ctx, q, acc.ID, acc.BalanceSats-amountSats); err != nil {
			return err
		}
		if err := s.txns.SetStatus(ctx, q, txn.ID, domain.TransactionStatusCompleted); err != nil {
			return err
		}
		txn.Status = domain.TransactionStatusCompleted
		result = txn
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.observe(txnType, opErr)
	return result, opErr
}

// checkReplay resolves an operation id against the transaction log. The read
// runs inside the caller's transaction so it shares the same hold as the
// mutation it guards.
func (s *LedgerService) checkReplay(ctx context.Context, q database.Querier, operationID string) (*domain.Transaction, bool, error) {
	prior, err := s.txns.GetByOperationID(ctx, q, operationID)
	if err != nil {
		return nil, false, err
	}
	if prior == nil {
		return nil, false, nil
	}
	if !prior.Status.IsTerminal() {
		// A committed pending row means an earlier unit crashed between
		// append and finalize, which the single-transaction design rules
		// out. Refuse rather than guess.
		return nil, false, fmt.Errorf("operation %s: %w", operationID, domain.ErrConcurrentModification)
	}
	ledgerReplaysTotal.Inc()
	s.logger.InfoContext(ctx, "idempotent replay", "operation_id", operationID, "status", prior.Status)
	return prior, true, nil
}

func replayErr(txn *domain.Transaction) error {
	if txn.Status == domain.TransactionStatusFailed {
		return domain.ErrInsufficientFunds
	}
	return nil
}

// applyWithRetry re-runs the transactional unit on serialization failures,
// deadlocks and unique-key races (a concurrent request with the same
// operation id turns into a replay on the next attempt).
func (s *LedgerService) applyWithRetry(ctx context.Context, fn func(q database.Querier) error) error {
	var err error
	for attempt := 1; attempt <= s.retries; attempt++ {
		err = s.txm.WithinTx(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
		ledgerRetriesTotal.Inc()
		s.logger.WarnContext(ctx, "ledger transaction retry", "attempt", attempt, "error", err)
	}
	return fmt.Errorf("%w: %v", domain.ErrConcurrentModification, err)
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "23505": // serialization failure, deadlock, unique violation
		return true
	}
	return false
}

func (s *LedgerService) observe(txnType domain.TransactionType, opErr error) {
	outcome := "completed"
	if opErr != nil {
		outcome = "failed"
	}
	ledgerOperationsTotal.WithLabelValues(string(txnType), outcome).Inc()
}
