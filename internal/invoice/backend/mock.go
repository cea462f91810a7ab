package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

// MockBackend issues deterministic fake invoices for development and tests.
type MockBackend struct {
	seq atomic.Uint64
}

func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

func (b *MockBackend) CreateInvoice(_ context.Context, amountSats int64, memo string, _ time.Duration) (*CreatedInvoice, error) {
	n := b.seq.Add(1)
	sum := sha256.Sum256([]byte(fmt.Sprintf("mock:%d:%d:%s", n, amountSats, memo)))
	hash := hex.EncodeToString(sum[:])
	return &CreatedInvoice{
		PaymentHash:    hash,
		PaymentRequest: fmt.Sprintf("lnmock1%s", hash[:32]),
	}, nil
}
