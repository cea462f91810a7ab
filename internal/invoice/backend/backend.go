// Package backend holds the payment-backend port and its adapters. The
// engine never sees Lightning internals; it only asks for a payment hash and
// an opaque payment request.
package backend

import (
	"context"
	"time"
)

// CreatedInvoice is what a backend returns for a new invoice.
type CreatedInvoice struct {
	PaymentHash    string
	PaymentRequest string
}

// PaymentBackend issues Lightning payment requests. Settlement arrives
// asynchronously over NATS or the settlement webhook, not through this
// interface.
type PaymentBackend interface {
	CreateInvoice(ctx context.Context, amountSats int64, memo string, ttl time.Duration) (*CreatedInvoice, error)
}
