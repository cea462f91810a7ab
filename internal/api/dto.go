package api

import "time"

type balanceResponse struct {
	PhoneNumber string `json:"phone_number"`
	BalanceSats int64  `json:"balance_sats"`
}

type transactionResponse struct {
	ID          string    `json:"id"`
	OperationID string    `json:"operation_id"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	AmountSats  int64     `json:"amount_sats"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type createInvoiceRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required"`
	AmountSats  int64  `json:"amount_sats" validate:"required,gt=0"`
	Description string `json:"description"`
}

type invoiceResponse struct {
	ID             string     `json:"id"`
	PhoneNumber    string     `json:"phone_number"`
	PaymentHash    string     `json:"payment_hash"`
	PaymentRequest string     `json:"payment_request"`
	AmountSats     int64      `json:"amount_sats"`
	Status         string     `json:"status"`
	Description    string     `json:"description,omitempty"`
	ExpiresAt      time.Time  `json:"expires_at"`
	PaidAt         *time.Time `json:"paid_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type settlementWebhookRequest struct {
	PaymentHash string `json:"payment_hash" validate:"required"`
}

type errorResponse struct {
	Error string `json:"error"`
}
