package api_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satmobi/satsgate/internal/api"
	invoicedomain "github.com/satmobi/satsgate/internal/invoice/domain"
	ussdhttp "github.com/satmobi/satsgate/internal/ussd/adapters/http"
	ussdapp "github.com/satmobi/satsgate/internal/ussd/app"
	walletdomain "github.com/satmobi/satsgate/internal/wallet/domain"
)

const testJWTSecret = "test-secret"

type stubWallet struct {
	balances map[string]int64
	txns     []walletdomain.Transaction
}

func (s *stubWallet) GetBalance(_ context.Context, phone string) (int64, error) {
	return s.balances[phone], nil
}

func (s *stubWallet) History(_ context.Context, _ string, limit int) ([]walletdomain.Transaction, error) {
	if limit < len(s.txns) {
		return s.txns[:limit], nil
	}
	return s.txns, nil
}

type stubInvoices struct {
	byHash     map[string]*invoicedomain.Invoice
	markPaidIn []string
	createErr  error
}

func (s *stubInvoices) Create(_ context.Context, phone string, amountSats int64, description string, ttl time.Duration) (*invoicedomain.Invoice, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	inv := &invoicedomain.Invoice{
		ID:             uuid.New(),
		PhoneNumber:    phone,
		PaymentHash:    "hash-" + phone,
		PaymentRequest: "lnmock1example",
		AmountSats:     amountSats,
		Status:         invoicedomain.InvoiceStatusPending,
		Description:    description,
		ExpiresAt:      time.Now().Add(ttl),
		CreatedAt:      time.Now(),
	}
	s.byHash[inv.PaymentHash] = inv
	return inv, nil
}

func (s *stubInvoices) Get(_ context.Context, paymentHash string) (*invoicedomain.Invoice, error) {
	inv, ok := s.byHash[paymentHash]
	if !ok {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return inv, nil
}

func (s *stubInvoices) MarkPaid(_ context.Context, paymentHash string) (*invoicedomain.Invoice, error) {
	s.markPaidIn = append(s.markPaidIn, paymentHash)
	inv, ok := s.byHash[paymentHash]
	if !ok {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	inv.Status = invoicedomain.InvoiceStatusPaid
	return inv, nil
}

func (s *stubInvoices) Cancel(_ context.Context, paymentHash string) error {
	inv, ok := s.byHash[paymentHash]
	if !ok {
		return invoicedomain.ErrInvoiceNotFound
	}
	if inv.Status != invoicedomain.InvoiceStatusPending {
		return invoicedomain.ErrInvoiceNotPending
	}
	inv.Status = invoicedomain.InvoiceStatusCancelled
	return nil
}

func (s *stubInvoices) ListByPhone(_ context.Context, phone string, _ int) ([]invoicedomain.Invoice, error) {
	var out []invoicedomain.Invoice
	for _, inv := range s.byHash {
		if inv.PhoneNumber == phone {
			out = append(out, *inv)
		}
	}
	return out, nil
}

type noopProcessor struct{}

func (noopProcessor) Handle(context.Context, string, string, string) (*ussdapp.Reply, error) {
	return &ussdapp.Reply{Text: "ok", Terminate: true}, nil
}

func newTestServer(t *testing.T, wallet *stubWallet, invoices *stubInvoices) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handlers := api.NewHandlers(wallet, invoices, validator.New(), logger, "254", time.Hour)
	ussdHandler := ussdhttp.NewUSSDHandler(noopProcessor{}, logger)
	router := api.NewRouter(ussdHandler, handlers, testJWTSecret, 6, 2, logger)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func operatorToken(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "ops@satsgate",
		"role": "operator",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return token
}

func doAuthed(t *testing.T, method, url, token, body string) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rdr)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestBalanceEndpoint(t *testing.T) {
	wallet := &stubWallet{balances: map[string]int64{"254712345678": 12345}}
	srv := newTestServer(t, wallet, &stubInvoices{byHash: map[string]*invoicedomain.Invoice{}})

	resp := doAuthed(t, http.MethodGet, srv.URL+"/v1/accounts/0712345678/balance", operatorToken(t), "")
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		PhoneNumber string `json:"phone_number"`
		BalanceSats int64  `json:"balance_sats"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "254712345678", body.PhoneNumber)
	assert.Equal(t, int64(12345), body.BalanceSats)
}

func TestManagementRoutesRequireToken(t *testing.T) {
	srv := newTestServer(t, &stubWallet{balances: map[string]int64{}},
		&stubInvoices{byHash: map[string]*invoicedomain.Invoice{}})

	resp := doAuthed(t, http.MethodGet, srv.URL+"/v1/accounts/0712345678/balance", "", "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	badToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	resp = doAuthed(t, http.MethodGet, srv.URL+"/v1/accounts/0712345678/balance", badToken, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUSSDRouteIsOpen(t *testing.T) {
	srv := newTestServer(t, &stubWallet{balances: map[string]int64{}},
		&stubInvoices{byHash: map[string]*invoicedomain.Invoice{}})

	resp, err := http.PostForm(srv.URL+"/ussd", url.Values{
		"sessionId":   {"s1"},
		"phoneNumber": {"0712345678"},
		"text":        {""},
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "END ok", string(body))
}

type blockingProcessor struct {
	entered chan struct{}
	release chan struct{}
}

func (p *blockingProcessor) Handle(context.Context, string, string, string) (*ussdapp.Reply, error) {
	p.entered <- struct{}{}
	<-p.release
	return &ussdapp.Reply{Text: "done", Terminate: true}, nil
}

// The gateway route holds two pool connections per in-flight confirmation,
// so it sheds load beyond its budget instead of queueing without bound.
func TestUSSDRouteShedsExcessLoad(t *testing.T) {
	proc := &blockingProcessor{
		entered: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handlers := api.NewHandlers(&stubWallet{balances: map[string]int64{}},
		&stubInvoices{byHash: map[string]*invoicedomain.Invoice{}},
		validator.New(), logger, "254", time.Hour)
	router := api.NewRouter(ussdhttp.NewUSSDHandler(proc, logger), handlers, testJWTSecret, 1, 1, logger)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	form := url.Values{
		"sessionId":   {"s1"},
		"phoneNumber": {"0712345678"},
		"text":        {""},
	}

	codes := make(chan int, 2)
	post := func() {
		resp, err := http.PostForm(srv.URL+"/ussd", form)
		if err != nil {
			codes <- 0
			return
		}
		resp.Body.Close()
		codes <- resp.StatusCode
	}

	// First request occupies the single slot.
	go post()
	<-proc.entered

	// Second request sits in the backlog.
	go post()
	time.Sleep(100 * time.Millisecond)

	// Slot and backlog are both full: the third is rejected immediately.
	resp, err := http.PostForm(srv.URL+"/ussd", form)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	close(proc.release)
	assert.Equal(t, http.StatusOK, <-codes)
	assert.Equal(t, http.StatusOK, <-codes)
}

func TestCreateInvoiceEndpoint(t *testing.T) {
	invoices := &stubInvoices{byHash: map[string]*invoicedomain.Invoice{}}
	srv := newTestServer(t, &stubWallet{balances: map[string]int64{}}, invoices)
	token := operatorToken(t)

	resp := doAuthed(t, http.MethodPost, srv.URL+"/v1/invoices", token,
		`{"phone_number":"0712345678","amount_sats":5000,"description":"test"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body struct {
		PaymentHash string `json:"payment_hash"`
		AmountSats  int64  `json:"amount_sats"`
		Status      string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "hash-254712345678", body.PaymentHash)
	assert.Equal(t, int64(5000), body.AmountSats)
	assert.Equal(t, "pending", body.Status)

	// Missing amount fails validation.
	resp = doAuthed(t, http.MethodPost, srv.URL+"/v1/invoices", token,
		`{"phone_number":"0712345678"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateInvoiceBackendDown(t *testing.T) {
	invoices := &stubInvoices{
		byHash:    map[string]*invoicedomain.Invoice{},
		createErr: invoicedomain.ErrBackendUnavailable,
	}
	srv := newTestServer(t, &stubWallet{balances: map[string]int64{}}, invoices)

	resp := doAuthed(t, http.MethodPost, srv.URL+"/v1/invoices", operatorToken(t),
		`{"phone_number":"0712345678","amount_sats":5000}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestSettlementWebhook(t *testing.T) {
	inv := &invoicedomain.Invoice{
		ID:          uuid.New(),
		PhoneNumber: "254712345678",
		PaymentHash: "abc123",
		AmountSats:  5000,
		Status:      invoicedomain.InvoiceStatusPending,
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	invoices := &stubInvoices{byHash: map[string]*invoicedomain.Invoice{"abc123": inv}}
	srv := newTestServer(t, &stubWallet{balances: map[string]int64{}}, invoices)
	token := operatorToken(t)

	resp := doAuthed(t, http.MethodPost, srv.URL+"/v1/webhooks/settlement", token,
		`{"payment_hash":"abc123"}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"abc123"}, invoices.markPaidIn)

	resp = doAuthed(t, http.MethodPost, srv.URL+"/v1/webhooks/settlement", token,
		`{"payment_hash":"missing"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInvoiceGetAndCancel(t *testing.T) {
	inv := &invoicedomain.Invoice{
		ID:          uuid.New(),
		PhoneNumber: "254712345678",
		PaymentHash: "abc123",
		AmountSats:  5000,
		Status:      invoicedomain.InvoiceStatusPending,
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	invoices := &stubInvoices{byHash: map[string]*invoicedomain.Invoice{"abc123": inv}}
	srv := newTestServer(t, &stubWallet{balances: map[string]int64{}}, invoices)
	token := operatorToken(t)

	resp := doAuthed(t, http.MethodGet, srv.URL+"/v1/invoices/abc123", token, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doAuthed(t, http.MethodDelete, srv.URL+"/v1/invoices/abc123", token, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, invoicedomain.InvoiceStatusCancelled, inv.Status)

	// Cancelling again conflicts.
	resp = doAuthed(t, http.MethodDelete, srv.URL+"/v1/invoices/abc123", token, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doAuthed(t, http.MethodGet, srv.URL+"/v1/invoices/missing", token, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
