package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satmobi/satsgate/internal/invoice/domain"
	"github.com/satmobi/satsgate/internal/platform/logger"
)

func TestLNBitsCreateInvoice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/payments", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))

		var req lnbitsCreateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Out)
		assert.Equal(t, int64(5000), req.Amount)
		assert.Equal(t, int64(3600), req.Expiry)

		json.NewEncoder(w).Encode(lnbitsCreateResponse{
			PaymentHash:    "abc123",
			PaymentRequest: "lnbc50u1...",
		})
	}))
	defer server.Close()

	b := NewLNBitsBackend(logger.New("error"), server.URL, "test-key", server.Client())
	created, err := b.CreateInvoice(context.Background(), 5000, "test invoice", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "abc123", created.PaymentHash)
	assert.Equal(t, "lnbc50u1...", created.PaymentRequest)
}

func TestLNBitsCreateInvoiceServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"wallet not found"}`, http.StatusForbidden)
	}))
	defer server.Close()

	b := NewLNBitsBackend(logger.New("error"), server.URL, "bad-key", server.Client())
	_, err := b.CreateInvoice(context.Background(), 5000, "test", time.Hour)
	assert.ErrorIs(t, err, domain.ErrBackendUnavailable)
}

func TestLNBitsCreateInvoiceUnreachable(t *testing.T) {
	b := NewLNBitsBackend(logger.New("error"), "http://127.0.0.1:1", "key", &http.Client{Timeout: time.Second})
	_, err := b.CreateInvoice(context.Background(), 5000, "test", time.Hour)
	assert.ErrorIs(t, err, domain.ErrBackendUnavailable)
}

func TestMockBackendDeterministicShape(t *testing.T) {
	b := NewMockBackend()
	first, err := b.CreateInvoice(context.Background(), 100, "a", time.Hour)
	require.NoError(t, err)
	second, err := b.CreateInvoice(context.Background(), 100, "a", time.Hour)
	require.NoError(t, err)

	assert.Len(t, first.PaymentHash, 64)
	assert.NotEqual(t, first.PaymentHash, second.PaymentHash)
}
