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

type pgAccountRepository struct{}

// NewPgAccountRepository creates the PostgreSQL AccountRepository.
func NewPgAccountRepository() repository.AccountRepository {
	return &pgAccountRepository{}
}

const accountColumns = "id, phone_number, balance_sats, language, created_at, updated_at"

func scanAccount(row pgx.Row) (*domain.Account, error) {
	acc := &domain.Account{}
	err := row.Scan(&acc.ID, &acc.PhoneNumber, &acc.BalanceSats, &acc.Language, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return acc, nil
}

func (r *pgAccountRepository) GetByPhone(ctx context.Context, q database.Querier, phone string) (*domain.Account, error) {
	row := q.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE phone_number = $1", phone)
	return scanAccount(row)
}

func (r *pgAccountRepository) GetOrCreate(ctx context.Context, q database.Querier, phone string) (*domain.Account, error) {
	now := time.Now().UTC()
	_, err := q.Exec(ctx, `
		INSERT INTO accounts (id, phone_number, balance_sats, language, created_at, updated_at)
		VALUES ($1, $2, 0, $3, $4, $4)
		ON CONFLICT (phone_number) DO NOTHING`,
		uuid.New(), phone, domain.DefaultLanguage, now,
	)
	if err != nil {
		return nil, err
	}
	return r.GetByPhone(ctx, q, phone)
}

func (r *pgAccountRepository) LockForUpdate(ctx context.Context, q database.Querier, phone string) (*domain.Account, error) {
	row := q.QueryRow(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE phone_number = $1 FOR UPDATE", phone)
	return scanAccount(row)
}

func (r *pgAccountRepository) UpdateBalance(ctx context.Context, q database.Querier, id uuid.UUID, balanceSats int64) error {
	tag, err := q.Exec(ctx,
		"UPDATE accounts SET balance_sats = $1, updated_at = $2 WHERE id = $3",
		balanceSats, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (r *pgAccountRepository) UpdateLanguage(ctx context.Context, q database.Querier, id uuid.UUID, language string) error {
	tag, err := q.Exec(ctx,
		"UPDATE accounts SET language = $1, updated_at = $2 WHERE id = $3",
		language, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}
