package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/satmobi/satsgate/internal/invoice/domain"
)

// LNBitsBackend creates invoices against an LNbits instance.
type LNBitsBackend struct {
	logger     *slog.Logger
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func NewLNBitsBackend(logger *slog.Logger, baseURL, apiKey string, httpClient *http.Client) *LNBitsBackend {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &LNBitsBackend{
		logger:     logger.With("backend", "lnbits"),
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

type lnbitsCreateRequest struct {
	Out    bool   `json:"out"`
	Amount int64  `json:"amount"`
	Memo   string `json:"memo"`
	Expiry int64  `json:"expiry"`
}

type lnbitsCreateResponse struct {
	PaymentHash    string `json:"payment_hash"`
	PaymentRequest string `json:"payment_request"`
	// Some LNbits versions return the request under "bolt11".
	Bolt11 string `json:"bolt11"`
}

func (b *LNBitsBackend) CreateInvoice(ctx context.Context, amountSats int64, memo string, ttl time.Duration) (*CreatedInvoice, error) {
	reqBody := lnbitsCreateRequest{
		Out:    false,
		Amount: amountSats,
		Memo:   memo,
		Expiry: int64(ttl.Seconds()),
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lnbits request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/v1/payments", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build lnbits request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		b.logger.ErrorContext(ctx, "lnbits request failed", "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", domain.ErrBackendUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b.logger.ErrorContext(ctx, "lnbits rejected invoice creation",
			"status_code", resp.StatusCode, "body", string(body))
		return nil, fmt.Errorf("%w: status %d", domain.ErrBackendUnavailable, resp.StatusCode)
	}

	var created lnbitsCreateResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", domain.ErrBackendUnavailable, err)
	}

	paymentRequest := created.PaymentRequest
	if paymentRequest == "" {
		paymentRequest = created.Bolt11
	}
	if created.PaymentHash == "" || paymentRequest == "" {
		return nil, fmt.Errorf("%w: incomplete response", domain.ErrBackendUnavailable)
	}

	b.logger.InfoContext(ctx, "lnbits invoice created",
		"payment_hash", created.PaymentHash, "amount_sats", amountSats)
	return &CreatedInvoice{
		PaymentHash:    created.PaymentHash,
		PaymentRequest: paymentRequest,
	}, nil
}
