package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	invoicedomain "github.com/satmobi/satsgate/internal/invoice/domain"
	ussdapp "github.com/satmobi/satsgate/internal/ussd/app"
	walletdomain "github.com/satmobi/satsgate/internal/wallet/domain"
)

const maxListLimit = 100

// WalletReader is the read-only slice of the ledger the management API
// exposes.
type WalletReader interface {
	GetBalance(ctx context.Context, phone string) (int64, error)
	History(ctx context.Context, phone string, limit int) ([]walletdomain.Transaction, error)
}

// InvoiceManager is the slice of the invoice lifecycle the management API
// exposes.
type InvoiceManager interface {
	Create(ctx context.Context, phone string, amountSats int64, description string, ttl time.Duration) (*invoicedomain.Invoice, error)
	Get(ctx context.Context, paymentHash string) (*invoicedomain.Invoice, error)
	MarkPaid(ctx context.Context, paymentHash string) (*invoicedomain.Invoice, error)
	Cancel(ctx context.Context, paymentHash string) error
	ListByPhone(ctx context.Context, phone string, limit int) ([]invoicedomain.Invoice, error)
}

// Handlers serves the operator-facing management endpoints.
type Handlers struct {
	wallet      WalletReader
	invoices    InvoiceManager
	validate    *validator.Validate
	logger      *slog.Logger
	countryCode string
	invoiceTTL  time.Duration
}

func NewHandlers(
	wallet WalletReader,
	invoices InvoiceManager,
	validate *validator.Validate,
	logger *slog.Logger,
	countryCode string,
	invoiceTTL time.Duration,
) *Handlers {
	return &Handlers{
		wallet:      wallet,
		invoices:    invoices,
		validate:    validate,
		logger:      logger.With("component", "api"),
		countryCode: countryCode,
		invoiceTTL:  invoiceTTL,
	}
}

func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/accounts/{phone}/balance", h.GetBalance)
	r.Get("/accounts/{phone}/transactions", h.ListTransactions)
	r.Post("/invoices", h.CreateInvoice)
	r.Get("/invoices/{paymentHash}", h.GetInvoice)
	r.Delete("/invoices/{paymentHash}", h.CancelInvoice)
	r.Get("/accounts/{phone}/invoices", h.ListInvoices)
}

func (h *Handlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	phone, err := ussdapp.NormalizePhone(chi.URLParam(r, "phone"), h.countryCode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid phone number")
		return
	}

	balance, err := h.wallet.GetBalance(ctx, phone)
	if err != nil {
		h.internalError(ctx, w, "get balance failed", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{PhoneNumber: phone, BalanceSats: balance})
}

func (h *Handlers) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	phone, err := ussdapp.NormalizePhone(chi.URLParam(r, "phone"), h.countryCode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid phone number")
		return
	}
	limit := parseLimit(r, 20)

	txns, err := h.wallet.History(ctx, phone, limit)
	if err != nil {
		if errors.Is(err, walletdomain.ErrAccountNotFound) {
			writeJSON(w, http.StatusOK, []transactionResponse{})
			return
		}
		h.internalError(ctx, w, "list transactions failed", err)
		return
	}

	out := make([]transactionResponse, 0, len(txns))
	for _, txn := range txns {
		out = append(out, transactionResponse{
			ID:          txn.ID.String(),
			OperationID: txn.OperationID,
			Type:        string(txn.Type),
			Status:      string(txn.Status),
			AmountSats:  txn.AmountSats,
			Description: txn.Description,
			CreatedAt:   txn.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("validation error: %s", err))
		return
	}
	phone, err := ussdapp.NormalizePhone(req.PhoneNumber, h.countryCode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid phone number")
		return
	}

	inv, err := h.invoices.Create(ctx, phone, req.AmountSats, req.Description, h.invoiceTTL)
	if err != nil {
		switch {
		case errors.Is(err, walletdomain.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "amount out of range")
		case errors.Is(err, invoicedomain.ErrBackendUnavailable):
			writeError(w, http.StatusBadGateway, "payment backend unavailable")
		default:
			h.internalError(ctx, w, "create invoice failed", err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceResponse(inv))
}

func (h *Handlers) GetInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inv, err := h.invoices.Get(ctx, chi.URLParam(r, "paymentHash"))
	if err != nil {
		if errors.Is(err, invoicedomain.ErrInvoiceNotFound) {
			writeError(w, http.StatusNotFound, "invoice not found")
			return
		}
		h.internalError(ctx, w, "get invoice failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceResponse(inv))
}

func (h *Handlers) CancelInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	err := h.invoices.Cancel(ctx, chi.URLParam(r, "paymentHash"))
	if err != nil {
		switch {
		case errors.Is(err, invoicedomain.ErrInvoiceNotFound):
			writeError(w, http.StatusNotFound, "invoice not found")
		case errors.Is(err, invoicedomain.ErrInvoiceNotPending):
			writeError(w, http.StatusConflict, "invoice is not pending")
		default:
			h.internalError(ctx, w, "cancel invoice failed", err)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ListInvoices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	phone, err := ussdapp.NormalizePhone(chi.URLParam(r, "phone"), h.countryCode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid phone number")
		return
	}

	invoices, err := h.invoices.ListByPhone(ctx, phone, parseLimit(r, 20))
	if err != nil {
		h.internalError(ctx, w, "list invoices failed", err)
		return
	}
	out := make([]invoiceResponse, 0, len(invoices))
	for i := range invoices {
		out = append(out, toInvoiceResponse(&invoices[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleSettlementWebhook lets a payment backend without NATS connectivity
// report settlements over HTTP. It converges with the broker path through
// the same settlement operation, so duplicate delivery across both is safe.
func (h *Handlers) HandleSettlementWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req settlementWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.StructCtx(ctx, req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("validation error: %s", err))
		return
	}

	inv, err := h.invoices.MarkPaid(ctx, req.PaymentHash)
	if err != nil {
		switch {
		case errors.Is(err, invoicedomain.ErrInvoiceNotFound):
			writeError(w, http.StatusNotFound, "invoice not found")
		case errors.Is(err, invoicedomain.ErrInvoiceExpired):
			writeError(w, http.StatusConflict, "invoice expired")
		case errors.Is(err, invoicedomain.ErrInvoiceNotPending):
			writeError(w, http.StatusConflict, "invoice is not pending")
		default:
			h.internalError(ctx, w, "settlement webhook failed", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceResponse(inv))
}

func (h *Handlers) internalError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	h.logger.ErrorContext(ctx, msg, "request_id", chi_middleware.GetReqID(ctx), "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func toInvoiceResponse(inv *invoicedomain.Invoice) invoiceResponse {
	return invoiceResponse{
		ID:             inv.ID.String(),
		PhoneNumber:    inv.PhoneNumber,
		PaymentHash:    inv.PaymentHash,
		PaymentRequest: inv.PaymentRequest,
		AmountSats:     inv.AmountSats,
		Status:         string(inv.Status),
		Description:    inv.Description,
		ExpiresAt:      inv.ExpiresAt,
		PaidAt:         inv.PaidAt,
		CreatedAt:      inv.CreatedAt,
	}
}

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
