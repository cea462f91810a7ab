package domain

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InvoiceStatus is the lifecycle state of an invoice. Transitions only run
// pending -> {paid, expired, cancelled}; terminal states are never revisited.
type InvoiceStatus string

const (
	InvoiceStatusPending   InvoiceStatus = "pending"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusExpired   InvoiceStatus = "expired"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// Value implements driver.Valuer for InvoiceStatus.
func (is InvoiceStatus) Value() (driver.Value, error) {
	return string(is), nil
}

// Scan implements sql.Scanner for InvoiceStatus.
func (is *InvoiceStatus) Scan(value interface{}) error {
	strVal, ok := value.(string)
	if !ok {
		bytesVal, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("failed to scan InvoiceStatus: value is %T, not string or []byte", value)
		}
		strVal = string(bytesVal)
	}
	*is = InvoiceStatus(strVal)
	switch *is {
	case InvoiceStatusPending, InvoiceStatusPaid, InvoiceStatusExpired, InvoiceStatusCancelled:
		return nil
	default:
		return fmt.Errorf("unknown InvoiceStatus value: %s", strVal)
	}
}

// Invoice is a request to receive funds, keyed by Lightning payment hash.
type Invoice struct {
	ID             uuid.UUID     `json:"id"`
	AccountID      uuid.UUID     `json:"account_id"`
	PhoneNumber    string        `json:"phone_number"`
	PaymentHash    string        `json:"payment_hash"`
	PaymentRequest string        `json:"payment_request"`
	AmountSats     int64         `json:"amount_sats"`
	Status         InvoiceStatus `json:"status"`
	Description    string        `json:"description,omitempty"`
	ExpiresAt      time.Time     `json:"expires_at"`
	PaidAt         *time.Time    `json:"paid_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// IsExpired reports whether a still-pending invoice is past its expiry.
func (i *Invoice) IsExpired(now time.Time) bool {
	return i.Status == InvoiceStatusPending && now.After(i.ExpiresAt)
}

var (
	// ErrInvoiceNotFound is returned for unknown payment hashes, including
	// settlement notifications that match no invoice.
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrInvoiceExpired is returned when settling past expiry. The credit is
	// refused; reconciliation is manual.
	ErrInvoiceExpired = errors.New("invoice expired")

	// ErrInvoiceNotPending is returned for transitions out of a terminal state.
	ErrInvoiceNotPending = errors.New("invoice is not pending")

	// ErrBackendUnavailable is returned when the payment backend cannot be
	// reached or rejects the request.
	ErrBackendUnavailable = errors.New("payment backend unavailable")
)
