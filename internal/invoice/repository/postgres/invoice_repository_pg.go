package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/satmobi/satsgate/internal/invoice/domain"
	"github.com/satmobi/satsgate/internal/invoice/repository"
	"github.com/satmobi/satsgate/internal/platform/database"
)

type pgInvoiceRepository struct{}

// NewPgInvoiceRepository creates the PostgreSQL InvoiceRepository.
func NewPgInvoiceRepository() repository.InvoiceRepository {
	return &pgInvoiceRepository{}
}

const invoiceColumns = `i.id, i.account_id, a.phone_number, i.payment_hash, i.payment_request,
	i.amount_sats, i.status, i.description, i.expires_at, i.paid_at, i.created_at, i.updated_at`

func scanInvoice(row pgx.Row) (*domain.Invoice, error) {
	inv := &domain.Invoice{}
	err := row.Scan(
		&inv.ID, &inv.AccountID, &inv.PhoneNumber, &inv.PaymentHash, &inv.PaymentRequest,
		&inv.AmountSats, &inv.Status, &inv.Description, &inv.ExpiresAt, &inv.PaidAt,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrInvoiceNotFound
		}
		return nil, err
	}
	return inv, nil
}

func (r *pgInvoiceRepository) Create(ctx context.Context, q database.Querier, inv *domain.Invoice) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	now := time.Now().UTC()
	inv.CreatedAt = now
	inv.UpdatedAt = now

	_, err := q.Exec(ctx, `
		INSERT INTO invoices (id, account_id, payment_hash, payment_request, amount_sats,
		                      status, description, expires_at, paid_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		inv.ID, inv.AccountID, inv.PaymentHash, inv.PaymentRequest, inv.AmountSats,
		inv.Status, inv.Description, inv.ExpiresAt, inv.PaidAt, inv.CreatedAt, inv.UpdatedAt,
	)
	return err
}

func (r *pgInvoiceRepository) GetByPaymentHash(ctx context.Context, q database.Querier, paymentHash string) (*domain.Invoice, error) {
	row := q.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices i JOIN accounts a ON a.id = i.account_id
		WHERE i.payment_hash = $1`, paymentHash)
	return scanInvoice(row)
}

func (r *pgInvoiceRepository) LockByPaymentHash(ctx context.Context, q database.Querier, paymentHash string) (*domain.Invoice, error) {
	row := q.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices i JOIN accounts a ON a.id = i.account_id
		WHERE i.payment_hash = $1
		FOR UPDATE OF i`, paymentHash)
	return scanInvoice(row)
}

func (r *pgInvoiceRepository) MarkPaid(ctx context.Context, q database.Querier, id uuid.UUID, paidAt time.Time) error {
	tag, err := q.Exec(ctx, `
		UPDATE invoices
		SET status = $1, paid_at = $2, updated_at = $2
		WHERE id = $3 AND status = $4`,
		domain.InvoiceStatusPaid, paidAt.UTC(), id, domain.InvoiceStatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvoiceNotPending
	}
	return nil
}

func (r *pgInvoiceRepository) SetStatus(ctx context.Context, q database.Querier, id uuid.UUID, status domain.InvoiceStatus) error {
	tag, err := q.Exec(ctx, `
		UPDATE invoices
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		status, time.Now().UTC(), id, domain.InvoiceStatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvoiceNotPending
	}
	return nil
}

func (r *pgInvoiceRepository) ExpireDue(ctx context.Context, q database.Querier, now time.Time) (int64, error) {
	tag, err := q.Exec(ctx, `
		UPDATE invoices
		SET status = $1, updated_at = $2
		WHERE status = $3 AND expires_at <= $2`,
		domain.InvoiceStatusExpired, now.UTC(), domain.InvoiceStatusPending)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *pgInvoiceRepository) ListByAccount(ctx context.Context, q database.Querier, accountID uuid.UUID, limit int) ([]domain.Invoice, error) {
	rows, err := q.Query(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices i JOIN accounts a ON a.id = i.account_id
		WHERE i.account_id = $1
		ORDER BY i.created_at DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []domain.Invoice
	for rows.Next() {
		var inv domain.Invoice
		err := rows.Scan(
			&inv.ID, &inv.AccountID, &inv.PhoneNumber, &inv.PaymentHash, &inv.PaymentRequest,
			&inv.AmountSats, &inv.Status, &inv.Description, &inv.ExpiresAt, &inv.PaidAt,
			&inv.CreatedAt, &inv.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}
