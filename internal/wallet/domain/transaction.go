package domain

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TransactionType defines the nature of a balance-affecting event.
type TransactionType string

const (
	TransactionTypeSend TransactionType = "send"
	// TransactionTypeReceive is the destination-side presentation of a
	// transfer. Transfers are stored once as "send"; history reads rewrite
	// the type for the receiving account. Never persisted.
	TransactionTypeReceive           TransactionType = "receive"
	TransactionTypeInvoiceSettlement TransactionType = "invoice_settlement"
	TransactionTypeTopup             TransactionType = "topup"
	TransactionTypeWithdraw          TransactionType = "withdraw"
)

// Value implements driver.Valuer for TransactionType.
func (tt TransactionType) Value() (driver.Value, error) {
	return string(tt), nil
}

// Scan implements sql.Scanner for TransactionType.
func (tt *TransactionType) Scan(value interface{}) error {
	strVal, ok := value.(string)
	if !ok {
		bytesVal, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("failed to scan TransactionType: value is %T, not string or []byte", value)
		}
		strVal = string(bytesVal)
	}
	*tt = TransactionType(strVal)
	// "receive" is excluded: it is derived at read time, never stored.
	switch *tt {
	case TransactionTypeSend, TransactionTypeInvoiceSettlement,
		TransactionTypeTopup, TransactionTypeWithdraw:
		return nil
	default:
		return fmt.Errorf("unknown TransactionType value: %s", strVal)
	}
}

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// IsTerminal reports whether the status is completed or failed. Terminal rows
// are never mutated again except for the updated timestamp.
func (ts TransactionStatus) IsTerminal() bool {
	return ts == TransactionStatusCompleted || ts == TransactionStatusFailed
}

// Transaction is the immutable record of one balance-affecting event.
// OperationID is the idempotency key: a replayed operation id returns this
// row instead of re-applying the effect.
type Transaction struct {
	ID            uuid.UUID         `json:"id"`
	OperationID   string            `json:"operation_id"`
	Type          TransactionType   `json:"type"`
	Status        TransactionStatus `json:"status"`
	FromAccountID *uuid.UUID        `json:"from_account_id,omitempty"` // nil for topups
	ToAccountID   *uuid.UUID        `json:"to_account_id,omitempty"`   // nil for withdrawals
	AmountSats    int64             `json:"amount_sats"`
	InvoiceID     *uuid.UUID        `json:"invoice_id,omitempty"`
	Description   string            `json:"description,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}
