package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/satmobi/satsgate/internal/invoice/domain"
	"github.com/satmobi/satsgate/internal/platform/messagebroker"
)

// SettlementNotification is the payload delivered when the payment backend
// observes an invoice being paid. Delivery is at-least-once; duplicates are
// expected and harmless.
type SettlementNotification struct {
	PaymentHash string `json:"payment_hash"`
}

// SettlementConsumer feeds NATS settlement notifications into MarkPaid.
type SettlementConsumer struct {
	natsClient *messagebroker.NATSClient
	invoices   *InvoiceService
	logger     *slog.Logger
}

func NewSettlementConsumer(natsClient *messagebroker.NATSClient, invoices *InvoiceService, logger *slog.Logger) *SettlementConsumer {
	return &SettlementConsumer{
		natsClient: natsClient,
		invoices:   invoices,
		logger:     logger.With("component", "settlement_consumer"),
	}
}

// Start subscribes to the settlement subject with a queue group and blocks
// until the context is cancelled.
func (c *SettlementConsumer) Start(ctx context.Context, subject, queueGroup string) error {
	msgHandler := func(msg *nats.Msg) {
		var note SettlementNotification
		if err := json.Unmarshal(msg.Data, &note); err != nil {
			c.logger.ErrorContext(ctx, "failed to decode settlement notification",
				"error", err, "subject", msg.Subject, "data", string(msg.Data))
			return
		}
		if note.PaymentHash == "" {
			c.logger.WarnContext(ctx, "settlement notification without payment hash", "subject", msg.Subject)
			return
		}
		c.handle(ctx, note.PaymentHash)
	}

	sub, err := c.natsClient.SubscribeQueue(subject, queueGroup, msgHandler)
	if err != nil {
		return err
	}

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil {
		c.logger.Warn("failed to unsubscribe settlement consumer", "error", err)
	}
	c.logger.Info("settlement consumer stopped")
	return nil
}

func (c *SettlementConsumer) handle(ctx context.Context, paymentHash string) {
	_, err := c.invoices.MarkPaid(ctx, paymentHash)
	switch {
	case err == nil:
		c.logger.InfoContext(ctx, "settlement applied", "payment_hash", paymentHash)
	case errors.Is(err, domain.ErrInvoiceNotFound):
		// Unknown hash: logged, no side effect.
		c.logger.WarnContext(ctx, "settlement for unknown payment hash", "payment_hash", paymentHash)
	case errors.Is(err, domain.ErrInvoiceExpired):
		c.logger.WarnContext(ctx, "settlement refused for expired invoice", "payment_hash", paymentHash)
	case errors.Is(err, domain.ErrInvoiceNotPending):
		c.logger.WarnContext(ctx, "settlement for cancelled invoice", "payment_hash", paymentHash)
	default:
		c.logger.ErrorContext(ctx, "settlement processing failed", "payment_hash", paymentHash, "error", err)
	}
}
