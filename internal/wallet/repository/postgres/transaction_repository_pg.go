package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/satmobi/satsgate/internal/platform/database"
	"github.com/satmobi/satsgate/internal/wallet/domain"
	"github.com/satmobi/satsgate/internal/wallet/repository"
)

type pgTransactionRepository struct{}

// NewPgTransactionRepository creates the PostgreSQL TransactionRepository.
func NewPgTransactionRepository() repository.TransactionRepository {
	return &pgTransactionRepository{}
}

const transactionColumns = `id, operation_id, type, status, from_account_id, to_account_id,
	amount_sats, invoice_id, description, created_at, updated_at`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	txn := &domain.Transaction{}
	err := row.Scan(
		&txn.ID, &txn.OperationID, &txn.Type, &txn.Status, &txn.FromAccountID,
		&txn.ToAccountID, &txn.AmountSats, &txn.InvoiceID, &txn.Description,
		&txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (r *pgTransactionRepository) GetByOperationID(ctx context.Context, q database.Querier, operationID string) (*domain.Transaction, error) {
	row := q.QueryRow(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE operation_id = $1", operationID)
	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return txn, nil
}

func (r *pgTransactionRepository) Create(ctx context.Context, q database.Querier, txn *domain.Transaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	now := time.Now().UTC()
	txn.CreatedAt = now
	txn.UpdatedAt = now

	_, err := q.Exec(ctx, `
		INSERT INTO transactions (id, operation_id, type, status, from_account_id, to_account_id,
		                          amount_sats, invoice_id, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		txn.ID, txn.OperationID, txn.Type, txn.Status, txn.FromAccountID, txn.ToAccountID,
		txn.AmountSats, txn.InvoiceID, txn.Description, txn.CreatedAt, txn.UpdatedAt,
	)
	return err
}

func (r *pgTransactionRepository) SetStatus(ctx context.Context, q database.Querier, id uuid.UUID, status domain.TransactionStatus) error {
	tag, err := q.Exec(ctx,
		"UPDATE transactions SET status = $1, updated_at = $2 WHERE id = $3",
		status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("transaction not found")
	}
	return nil
}

func (r *pgTransactionRepository) ListByAccount(ctx context.Context, q database.Querier, accountID uuid.UUID, limit int) ([]domain.Transaction, error) {
	rows, err := q.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE from_account_id = $1 OR to_account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		var txn domain.Transaction
		err := rows.Scan(
			&txn.ID, &txn.OperationID, &txn.Type, &txn.Status, &txn.FromAccountID,
			&txn.ToAccountID, &txn.AmountSats, &txn.InvoiceID, &txn.Description,
			&txn.CreatedAt, &txn.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}
