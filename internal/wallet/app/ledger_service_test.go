package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satmobi/satsgate/internal/platform/database"
	"github.com/satmobi/satsgate/internal/wallet/domain"
)

// passthroughTxManager runs the unit directly; the fakes below provide their
// own locking so behavior under concurrent calls still serializes.
type passthroughTxManager struct {
	mu sync.Mutex
}

func (m *passthroughTxManager) WithinTx(ctx context.Context, fn func(q database.Querier) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(nil)
}

type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: make(map[string]*domain.Account)}
}

func (r *fakeAccountRepo) GetByPhone(_ context.Context, _ database.Querier, phone string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.accounts[phone]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *acc
	return &cp, nil
}

func (r *fakeAccountRepo) GetOrCreate(ctx context.Context, q database.Querier, phone string) (*domain.Account, error) {
	r.mu.Lock()
	if _, ok := r.accounts[phone]; !ok {
		r.accounts[phone] = &domain.Account{ID: uuid.New(), PhoneNumber: phone}
	}
	r.mu.Unlock()
	return r.GetByPhone(ctx, q, phone)
}

func (r *fakeAccountRepo) LockForUpdate(ctx context.Context, q database.Querier, phone string) (*domain.Account, error) {
	return r.GetByPhone(ctx, q, phone)
}

func (r *fakeAccountRepo) UpdateBalance(_ context.Context, _ database.Querier, id uuid.UUID, balanceSats int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, acc := range r.accounts {
		if acc.ID == id {
			acc.BalanceSats = balanceSats
			return nil
		}
	}
	return domain.ErrAccountNotFound
}

func (r *fakeAccountRepo) UpdateLanguage(_ context.Context, _ database.Querier, id uuid.UUID, language string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, acc := range r.accounts {
		if acc.ID == id {
			acc.Language = language
			return nil
		}
	}
	return domain.ErrAccountNotFound
}

func (r *fakeAccountRepo) seed(phone string, balance int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[phone] = &domain.Account{ID: uuid.New(), PhoneNumber: phone, BalanceSats: balance}
}

func (r *fakeAccountRepo) balance(phone string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if acc, ok := r.accounts[phone]; ok {
		return acc.BalanceSats
	}
	return 0
}

type fakeTransactionRepo struct {
	mu   sync.Mutex
	byOp map[string]*domain.Transaction
	byID map[uuid.UUID]*domain.Transaction
}

func newFakeTransactionRepo() *fakeTransactionRepo {
	return &fakeTransactionRepo{
		byOp: make(map[string]*domain.Transaction),
		byID: make(map[uuid.UUID]*domain.Transaction),
	}
}

func (r *fakeTransactionRepo) GetByOperationID(_ context.Context, _ database.Querier, operationID string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	txn, ok := r.byOp[operationID]
	if !ok {
		return nil, nil
	}
	cp := *txn
	return &cp, nil
}

func (r *fakeTransactionRepo) Create(_ context.Context, _ database.Querier, txn *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byOp[txn.OperationID]; ok {
		return &pgconn.PgError{Code: "23505", ConstraintName: "transactions_operation_id_key"}
	}
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	cp := *txn
	r.byOp[txn.OperationID] = &cp
	r.byID[txn.ID] = &cp
	return nil
}

func (r *fakeTransactionRepo) SetStatus(_ context.Context, _ database.Querier, id uuid.UUID, status domain.TransactionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	txn, ok := r.byID[id]
	if !ok {
		return errors.New("transaction not found")
	}
	txn.Status = status
	return nil
}

func (r *fakeTransactionRepo) ListByAccount(_ context.Context, _ database.Querier, accountID uuid.UUID, limit int) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Transaction
	for _, txn := range r.byID {
		if (txn.FromAccountID != nil && *txn.FromAccountID == accountID) ||
			(txn.ToAccountID != nil && *txn.ToAccountID == accountID) {
			out = append(out, *txn)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeTransactionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func newTestLedger(t *testing.T) (*LedgerService, *fakeAccountRepo, *fakeTransactionRepo) {
	t.Helper()
	accounts := newFakeAccountRepo()
	txns := newFakeTransactionRepo()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewLedgerService(nil, &passthroughTxManager{}, accounts, txns, logger, 3)
	return svc, accounts, txns
}

func TestTransferMovesFundsAndLogsOnce(t *testing.T) {
	svc, accounts, txns := newTestLedger(t)
	accounts.seed("254700000001", 100_000)
	accounts.seed("254700000002", 50_000)

	txn, err := svc.Transfer(context.Background(), "op-1", "254700000001", "254700000002", 20_000, "sats transfer")
	require.NoError(t, err)
	require.NotNil(t, txn)

	assert.Equal(t, domain.TransactionStatusCompleted, txn.Status)
	assert.Equal(t, domain.TransactionTypeSend, txn.Type)
	assert.Equal(t, int64(20_000), txn.AmountSats)
	assert.Equal(t, int64(80_000), accounts.balance("254700000001"))
	assert.Equal(t, int64(70_000), accounts.balance("254700000002"))
	assert.Equal(t, 1, txns.count())
}

func TestTransferIsIdempotent(t *testing.T) {
	svc, accounts, txns := newTestLedger(t)
	accounts.seed("254700000001", 100_000)
	accounts.seed("254700000002", 0)

	first, err := svc.Transfer(context.Background(), "op-dup", "254700000001", "254700000002", 10_000, "")
	require.NoError(t, err)

	second, err := svc.Transfer(context.Background(), "op-dup", "254700000001", "254700000002", 10_000, "")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(90_000), accounts.balance("254700000001"))
	assert.Equal(t, int64(10_000), accounts.balance("254700000002"))
	assert.Equal(t, 1, txns.count())
}

func TestTransferInsufficientFundsRecordedAsFailed(t *testing.T) {
	svc, accounts, txns := newTestLedger(t)
	accounts.seed("254700000001", 1_000)

	txn, err := svc.Transfer(context.Background(), "op-poor", "254700000001", "254700000002", 20_000, "")
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	require.NotNil(t, txn)

	assert.Equal(t, domain.TransactionStatusFailed, txn.Status)
	assert.Equal(t, int64(1_000), accounts.balance("254700000001"))
	assert.Equal(t, int64(0), accounts.balance("254700000002"))
	assert.Equal(t, 1, txns.count())

	// The failed outcome replays too.
	again, err := svc.Transfer(context.Background(), "op-poor", "254700000001", "254700000002", 20_000, "")
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, txn.ID, again.ID)
	assert.Equal(t, 1, txns.count())
}

func TestTransferValidation(t *testing.T) {
	svc, _, _ := newTestLedger(t)

	_, err := svc.Transfer(context.Background(), "op-a", "254700000001", "254700000002", 0, "")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.Transfer(context.Background(), "op-b", "254700000001", "254700000002", -5, "")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = svc.Transfer(context.Background(), "op-c", "254700000001", "254700000001", 100, "")
	assert.ErrorIs(t, err, domain.ErrSelfTransfer)
}

func TestTransferConservation(t *testing.T) {
	svc, accounts, _ := newTestLedger(t)
	accounts.seed("254700000001", 100_000)
	accounts.seed("254700000002", 50_000)
	accounts.seed("254700000003", 25_000)

	ops := []struct {
		op, from, to string
		amount       int64
	}{
		{"c-1", "254700000001", "254700000002", 5_000},
		{"c-2", "254700000002", "254700000003", 12_000},
		{"c-3", "254700000003", "254700000001", 7_500},
		{"c-4", "254700000001", "254700000003", 1},
	}
	for _, op := range ops {
		_, err := svc.Transfer(context.Background(), op.op, op.from, op.to, op.amount, "")
		require.NoError(t, err)
	}

	total := accounts.balance("254700000001") +
		accounts.balance("254700000002") +
		accounts.balance("254700000003")
	assert.Equal(t, int64(175_000), total)
}

func TestConcurrentOpposingTransfersComplete(t *testing.T) {
	svc, accounts, _ := newTestLedger(t)
	accounts.seed("254700000001", 100_000)
	accounts.seed("254700000002", 100_000)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		opAB := "ab-" + uuid.NewString()
		opBA := "ba-" + uuid.NewString()
		go func() {
			defer wg.Done()
			_, err := svc.Transfer(context.Background(), opAB, "254700000001", "254700000002", 100, "")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := svc.Transfer(context.Background(), opBA, "254700000002", "254700000001", 100, "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	total := accounts.balance("254700000001") + accounts.balance("254700000002")
	assert.Equal(t, int64(200_000), total)
}

func TestCreditAndDebit(t *testing.T) {
	svc, accounts, txns := newTestLedger(t)

	// Credit materializes the account lazily.
	txn, err := svc.Credit(context.Background(), "topup-1", "254700000009", 50_000, domain.TransactionTypeTopup, nil, "M-Pesa topup")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, txn.Status)
	assert.Equal(t, int64(50_000), accounts.balance("254700000009"))

	// Duplicate credit replays.
	_, err = svc.Credit(context.Background(), "topup-1", "254700000009", 50_000, domain.TransactionTypeTopup, nil, "M-Pesa topup")
	require.NoError(t, err)
	assert.Equal(t, int64(50_000), accounts.balance("254700000009"))

	_, err = svc.Debit(context.Background(), "wd-1", "254700000009", 20_000, domain.TransactionTypeWithdraw, "M-Pesa withdrawal")
	require.NoError(t, err)
	assert.Equal(t, int64(30_000), accounts.balance("254700000009"))

	_, err = svc.Debit(context.Background(), "wd-2", "254700000009", 999_999, domain.TransactionTypeWithdraw, "")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, int64(30_000), accounts.balance("254700000009"))

	assert.Equal(t, 3, txns.count())
}

func TestGetBalanceUnknownAccountIsZero(t *testing.T) {
	svc, _, _ := newTestLedger(t)
	bal, err := svc.GetBalance(context.Background(), "254711111111")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal)
}

func TestHistoryShowsReceiveOnDestinationSide(t *testing.T) {
	svc, accounts, _ := newTestLedger(t)
	accounts.seed("254700000001", 100_000)
	accounts.seed("254700000002", 0)

	_, err := svc.Transfer(context.Background(), "op-hist", "254700000001", "254700000002", 20_000, "")
	require.NoError(t, err)

	// One stored row, two views: the sender sees a send, the recipient
	// sees a receive.
	sent, err := svc.History(context.Background(), "254700000001", 10)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, domain.TransactionTypeSend, sent[0].Type)

	received, err := svc.History(context.Background(), "254700000002", 10)
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, domain.TransactionTypeReceive, received[0].Type)
	assert.Equal(t, int64(20_000), received[0].AmountSats)
}

func TestSetLanguage(t *testing.T) {
	svc, _, _ := newTestLedger(t)

	// Setting a language materializes the account lazily.
	require.NoError(t, svc.SetLanguage(context.Background(), "254700000010", "sw"))
	lang, err := svc.Language(context.Background(), "254700000010")
	require.NoError(t, err)
	assert.Equal(t, "sw", lang)

	err = svc.SetLanguage(context.Background(), "254700000010", "fr")
	assert.ErrorIs(t, err, domain.ErrUnsupportedLanguage)

	// Unknown accounts read as the default.
	lang, err = svc.Language(context.Background(), "254799999999")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultLanguage, lang)
}
