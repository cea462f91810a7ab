package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	invoicedomain "github.com/satmobi/satsgate/internal/invoice/domain"
	"github.com/satmobi/satsgate/internal/platform/database"
	"github.com/satmobi/satsgate/internal/rates"
	"github.com/satmobi/satsgate/internal/ussd/domain"
	"github.com/satmobi/satsgate/internal/ussd/repository"
	walletdomain "github.com/satmobi/satsgate/internal/wallet/domain"
)

// Ledger is the slice of the account ledger the menu flows use.
type Ledger interface {
	GetBalance(ctx context.Context, phone string) (int64, error)
	Transfer(ctx context.Context, operationID, fromPhone, toPhone string, amountSats int64, description string) (*walletdomain.Transaction, error)
	Credit(ctx context.Context, operationID, phone string, amountSats int64, txnType walletdomain.TransactionType, invoiceID *uuid.UUID, description string) (*walletdomain.Transaction, error)
	Debit(ctx context.Context, operationID, phone string, amountSats int64, txnType walletdomain.TransactionType, description string) (*walletdomain.Transaction, error)
	History(ctx context.Context, phone string, limit int) ([]walletdomain.Transaction, error)
	Language(ctx context.Context, phone string) (string, error)
	SetLanguage(ctx context.Context, phone, language string) error
}

// Invoicer is the slice of the invoice lifecycle the menu flows use.
type Invoicer interface {
	Create(ctx context.Context, phone string, amountSats int64, description string, ttl time.Duration) (*invoicedomain.Invoice, error)
}

// Config tunes the state machine.
type Config struct {
	CountryCode    string
	SessionTimeout time.Duration
	InvoiceTTL     time.Duration
	SatsPerKES     int64
	TopupMinKES    int64
	TopupMaxKES    int64
	HistoryLimit   int
}

// SessionService reconstructs and advances per-session menu state across
// stateless gateway calls. The session row is held exclusively for the
// duration of each step, so concurrent requests for the same session id
// serialize instead of diverging.
type SessionService struct {
	txm      database.TxManager
	sessions repository.SessionRepository
	ledger   Ledger
	invoicer Invoicer
	cfg      Config
	logger   *slog.Logger
	handlers map[domain.MenuState]stateHandler
}

type stateHandler func(ctx context.Context, sess *domain.Session, input string, step int) (*Reply, error)

func NewSessionService(
	txm database.TxManager,
	sessions repository.SessionRepository,
	ledger Ledger,
	invoicer Invoicer,
	cfg Config,
	logger *slog.Logger,
) *SessionService {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 5
	}
	s := &SessionService{
		txm:      txm,
		sessions: sessions,
		ledger:   ledger,
		invoicer: invoicer,
		cfg:      cfg,
		logger:   logger.With("service", "ussd"),
	}
	s.handlers = map[domain.MenuState]stateHandler{
		domain.StateMainMenu:        s.handleMainMenu,
		domain.StateSendRecipient:   s.handleSendRecipient,
		domain.StateSendAmount:      s.handleSendAmount,
		domain.StateSendConfirm:     s.handleSendConfirm,
		domain.StateInvoiceAmount:   s.handleInvoiceAmount,
		domain.StateTopupAmount:     s.handleTopupAmount,
		domain.StateTopupConfirm:    s.handleTopupConfirm,
		domain.StateWithdrawAmount:  s.handleWithdrawAmount,
		domain.StateWithdrawConfirm: s.handleWithdrawConfirm,
		domain.StateLanguageSelect:  s.handleLanguageSelect,
	}
	return s
}

// operationID derives the idempotency key for the operation confirmed at a
// given step. A gateway retry of the same request replays the same key, so
// re-sending a confirmation can never re-execute the payment.
func operationID(sessionID string, step int) string {
	return fmt.Sprintf("ussd:%s:%d", sessionID, step)
}

// Handle advances the dialogue by one input. It loads or creates the session
// under an exclusive hold, applies the newest trail token to the current
// state, and persists the updated session in the same unit before returning.
func (s *SessionService) Handle(ctx context.Context, sessionID, rawPhone, inputTrail string) (*Reply, error) {
	phone, err := NormalizePhone(rawPhone, s.cfg.CountryCode)
	if err != nil {
		return nil, err
	}

	var reply *Reply
	err = s.txm.WithinTx(ctx, func(q database.Querier) error {
		sess, err := s.sessions.GetOrCreateForUpdate(ctx, q, sessionID, phone)
		if err != nil {
			return err
		}
		if sess.PhoneNumber != phone {
			return domain.ErrSessionPhoneMismatch
		}

		// Each genuine request appends one token to the trail and
		// consumes one step. A trail one token short of the counter is
		// a gateway retry of the last request: answer it with the same
		// reply, without advancing state or touching any balance.
		if sess.StepCount > 0 && trailTokens(inputTrail) == sess.StepCount-1 && sess.LastReplyText != "" {
			reply = &Reply{Text: sess.LastReplyText, Terminate: sess.LastReplyFinal}
			return nil
		}

		now := time.Now().UTC()
		if !sess.IsActive || sess.IsStale(now, s.cfg.SessionTimeout) {
			sess.Reset()
		}

		// The step counter is consumed before advancing so a retried
		// request that reaches a confirmation derives the same
		// operation id as the original attempt.
		step := sess.StepCount
		sess.StepCount++

		input := LatestInput(inputTrail)
		reply, err = s.dispatch(ctx, sess, input, step)
		if err != nil {
			return err
		}

		sess.LastActivity = now
		sess.LastReplyText = reply.Text
		sess.LastReplyFinal = reply.Terminate
		if reply.Terminate {
			sess.IsActive = false
		}
		return s.sessions.Update(ctx, q, sess)
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (s *SessionService) dispatch(ctx context.Context, sess *domain.Session, input string, step int) (*Reply, error) {
	if input == "0" && sess.CurrentState != domain.StateSendConfirm &&
		sess.CurrentState != domain.StateTopupConfirm &&
		sess.CurrentState != domain.StateWithdrawConfirm {
		return terminate(menuString(s.language(ctx, sess.PhoneNumber), "goodbye")), nil
	}

	handler, ok := s.handlers[sess.CurrentState]
	if !ok {
		// Unknown persisted state: recover to the main menu.
		s.logger.WarnContext(ctx, "unknown session state, resetting",
			"session_id", sess.SessionID, "state", sess.CurrentState)
		sess.Reset()
		handler = s.handleMainMenu
		input = ""
	}
	return handler(ctx, sess, input, step)
}

func (s *SessionService) handleMainMenu(ctx context.Context, sess *domain.Session, input string, _ int) (*Reply, error) {
	if input == "" {
		return s.renderMainMenu(ctx, sess, "")
	}

	opt := findMenuOption(input)
	if opt == nil {
		return s.renderMainMenu(ctx, sess, menuString(s.language(ctx, sess.PhoneNumber), "invalid")+"\n\n")
	}

	if opt.next != "" {
		sess.CurrentState = opt.next
		sess.InputBuffer = map[string]string{}
		return cont(statePrompts[opt.next]), nil
	}

	switch opt.action {
	case "balance":
		balance, err := s.ledger.GetBalance(ctx, sess.PhoneNumber)
		if err != nil {
			return nil, err
		}
		return terminate(fmt.Sprintf("Your balance is %d sats.", balance)), nil
	case "history":
		return s.renderHistory(ctx, sess)
	default:
		return s.renderMainMenu(ctx, sess, menuString(s.language(ctx, sess.PhoneNumber), "invalid")+"\n\n")
	}
}

// language resolves the account's preferred language, falling back to the
// default when the lookup fails. Menu rendering must not fail a dialogue
// over a language read.
func (s *SessionService) language(ctx context.Context, phone string) string {
	lang, err := s.ledger.Language(ctx, phone)
	if err != nil || lang == "" {
		return walletdomain.DefaultLanguage
	}
	return lang
}

func (s *SessionService) renderMainMenu(ctx context.Context, sess *domain.Session, prefix string) (*Reply, error) {
	balance, err := s.ledger.GetBalance(ctx, sess.PhoneNumber)
	if err != nil {
		return nil, err
	}
	return cont(prefix + renderMainMenu(balance, s.language(ctx, sess.PhoneNumber))), nil
}

func (s *SessionService) handleLanguageSelect(ctx context.Context, sess *domain.Session, input string, _ int) (*Reply, error) {
	var lang string
	switch input {
	case "1":
		lang = "en"
	case "2":
		lang = "sw"
	default:
		return cont(statePrompts[domain.StateLanguageSelect]), nil
	}
	if err := s.ledger.SetLanguage(ctx, sess.PhoneNumber, lang); err != nil {
		return nil, err
	}
	sess.Reset()
	return s.renderMainMenu(ctx, sess, menuString(lang, "language_set")+"\n\n")
}

func (s *SessionService) renderHistory(ctx context.Context, sess *domain.Session) (*Reply, error) {
	txns, err := s.ledger.History(ctx, sess.PhoneNumber, s.cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}
	if len(txns) == 0 {
		return terminate("No transactions yet."), nil
	}
	text := "Recent transactions:\n"
	for _, txn := range txns {
		text += fmt.Sprintf("%s %d sats (%s)\n", txn.Type, txn.AmountSats, txn.Status)
	}
	return terminate(text), nil
}

func (s *SessionService) handleSendRecipient(_ context.Context, sess *domain.Session, input string, _ int) (*Reply, error) {
	recipient, err := NormalizePhone(input, s.cfg.CountryCode)
	if err != nil {
		return cont("Invalid phone number. Enter recipient phone number:"), nil
	}
	if recipient == sess.PhoneNumber {
		return cont("You cannot send to yourself. Enter recipient phone number:"), nil
	}
	sess.InputBuffer["recipient"] = recipient
	sess.CurrentState = domain.StateSendAmount
	return cont(statePrompts[domain.StateSendAmount]), nil
}

func (s *SessionService) handleSendAmount(ctx context.Context, sess *domain.Session, input string, _ int) (*Reply, error) {
	amount, err := parseSats(input)
	if err != nil {
		return cont("Invalid amount. Enter amount in sats to send:"), nil
	}

	balance, err := s.ledger.GetBalance(ctx, sess.PhoneNumber)
	if err != nil {
		return nil, err
	}
	if balance < amount {
		return cont(fmt.Sprintf("Insufficient balance (%d sats available). Enter amount in sats to send:", balance)), nil
	}

	sess.InputBuffer["amount_sats"] = strconv.FormatInt(amount, 10)
	sess.CurrentState = domain.StateSendConfirm
	return cont(fmt.Sprintf("Confirm transaction:\n\nTo: %s\nAmount: %d sats\n\n1. Confirm\n0. Cancel",
		sess.InputBuffer["recipient"], amount)), nil
}

func (s *SessionService) handleSendConfirm(ctx context.Context, sess *domain.Session, input string, step int) (*Reply, error) {
	if input != "1" {
		sess.Reset()
		return s.renderMainMenu(ctx, sess, "Transaction cancelled.\n\n")
	}

	recipient := sess.InputBuffer["recipient"]
	amount, err := parseSats(sess.InputBuffer["amount_sats"])
	if err != nil || recipient == "" {
		sess.Reset()
		return s.renderMainMenu(ctx, sess, "Transaction data missing.\n\n")
	}

	opID := operationID(sess.SessionID, step)
	_, err = s.ledger.Transfer(ctx, opID, sess.PhoneNumber, recipient, amount, "USSD send")
	if err != nil {
		if errors.Is(err, walletdomain.ErrInsufficientFunds) {
			return terminate("Insufficient balance. Transaction not completed."), nil
		}
		if errors.Is(err, walletdomain.ErrConcurrentModification) {
			return terminate("Service busy, please try again."), nil
		}
		return nil, err
	}
	return terminate(fmt.Sprintf("Sent %d sats to %s.", amount, recipient)), nil
}

func (s *SessionService) handleInvoiceAmount(ctx context.Context, sess *domain.Session, input string, _ int) (*Reply, error) {
	amount, err := parseSats(input)
	if err != nil {
		return cont("Invalid amount. Enter amount in sats:"), nil
	}

	inv, err := s.invoicer.Create(ctx, sess.PhoneNumber, amount,
		fmt.Sprintf("USSD invoice for %d sats", amount), s.cfg.InvoiceTTL)
	if err != nil {
		if errors.Is(err, walletdomain.ErrInvalidAmount) {
			return cont("Amount out of range. Enter amount in sats:"), nil
		}
		if errors.Is(err, invoicedomain.ErrBackendUnavailable) {
			return terminate("Service temporarily unavailable. Please try again later."), nil
		}
		return nil, err
	}
	return terminate(fmt.Sprintf("Invoice created:\n%s\n\nAmount: %d sats", inv.PaymentRequest, amount)), nil
}

func (s *SessionService) handleTopupAmount(_ context.Context, sess *domain.Session, input string, _ int) (*Reply, error) {
	amountKES, err := parseSats(input)
	if err != nil {
		return cont("Invalid amount. Enter amount in KES:"), nil
	}
	if amountKES < s.cfg.TopupMinKES {
		return cont(fmt.Sprintf("Minimum purchase is %d KES. Enter amount in KES:", s.cfg.TopupMinKES)), nil
	}
	if amountKES > s.cfg.TopupMaxKES {
		return cont(fmt.Sprintf("Maximum purchase is %d KES. Enter amount in KES:", s.cfg.TopupMaxKES)), nil
	}

	amountSats := rates.KESToSats(amountKES, s.cfg.SatsPerKES)
	sess.InputBuffer["amount_kes"] = strconv.FormatInt(amountKES, 10)
	sess.InputBuffer["amount_sats"] = strconv.FormatInt(amountSats, 10)
	sess.CurrentState = domain.StateTopupConfirm
	return cont(fmt.Sprintf("Lightning purchase:\n\nPay: %d KES via M-Pesa\nReceive: %d sats\n\n1. Confirm\n0. Cancel",
		amountKES, amountSats)), nil
}

func (s *SessionService) handleTopupConfirm(ctx context.Context, sess *domain.Session, input string, step int) (*Reply, error) {
	if input != "1" {
		sess.Reset()
		return s.renderMainMenu(ctx, sess, "Purchase cancelled.\n\n")
	}

	amountSats, err := parseSats(sess.InputBuffer["amount_sats"])
	if err != nil {
		sess.Reset()
		return s.renderMainMenu(ctx, sess, "Purchase data missing.\n\n")
	}

	opID := operationID(sess.SessionID, step)
	_, err = s.ledger.Credit(ctx, opID, sess.PhoneNumber, amountSats,
		walletdomain.TransactionTypeTopup, nil,
		fmt.Sprintf("M-Pesa topup of %s KES", sess.InputBuffer["amount_kes"]))
	if err != nil {
		if errors.Is(err, walletdomain.ErrConcurrentModification) {
			return terminate("Service busy, please try again."), nil
		}
		return nil, err
	}
	return terminate(fmt.Sprintf("Top-up successful. Received %d sats.", amountSats)), nil
}

func (s *SessionService) handleWithdrawAmount(ctx context.Context, sess *domain.Session, input string, _ int) (*Reply, error) {
	amount, err := parseSats(input)
	if err != nil {
		return cont("Invalid amount. Enter amount in sats:"), nil
	}

	balance, err := s.ledger.GetBalance(ctx, sess.PhoneNumber)
	if err != nil {
		return nil, err
	}
	if balance < amount {
		return cont(fmt.Sprintf("Insufficient balance (%d sats available). Enter amount in sats:", balance)), nil
	}

	amountKES := rates.SatsToKES(amount, s.cfg.SatsPerKES)
	sess.InputBuffer["amount_sats"] = strconv.FormatInt(amount, 10)
	sess.CurrentState = domain.StateWithdrawConfirm
	return cont(fmt.Sprintf("M-Pesa withdrawal:\n\nWithdraw: %d sats (~%d KES)\n\n1. Confirm\n0. Cancel",
		amount, amountKES)), nil
}

func (s *SessionService) handleWithdrawConfirm(ctx context.Context, sess *domain.Session, input string, step int) (*Reply, error) {
	if input != "1" {
		sess.Reset()
		return s.renderMainMenu(ctx, sess, "Withdrawal cancelled.\n\n")
	}

	amount, err := parseSats(sess.InputBuffer["amount_sats"])
	if err != nil {
		sess.Reset()
		return s.renderMainMenu(ctx, sess, "Withdrawal data missing.\n\n")
	}

	opID := operationID(sess.SessionID, step)
	_, err = s.ledger.Debit(ctx, opID, sess.PhoneNumber, amount,
		walletdomain.TransactionTypeWithdraw, "M-Pesa withdrawal")
	if err != nil {
		if errors.Is(err, walletdomain.ErrInsufficientFunds) {
			return terminate("Insufficient balance. Withdrawal not completed."), nil
		}
		if errors.Is(err, walletdomain.ErrConcurrentModification) {
			return terminate("Service busy, please try again."), nil
		}
		return nil, err
	}
	return terminate(fmt.Sprintf("Withdrawal of %d sats initiated.", amount)), nil
}

func parseSats(input string) (int64, error) {
	n, err := strconv.ParseInt(input, 10, 64)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, walletdomain.ErrInvalidAmount
	}
	return n, nil
}

// RunReaper periodically deactivates idle sessions and purges long-dead
// rows. Reaping only flips the active flag; it never touches balances.
func (s *SessionService) RunReaper(ctx context.Context, interval, purgeAfter time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("session reaper started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session reaper stopped")
			return nil
		case <-ticker.C:
			err := s.txm.WithinTx(ctx, func(q database.Querier) error {
				now := time.Now().UTC()
				reaped, err := s.sessions.ReapIdle(ctx, q, now.Add(-s.cfg.SessionTimeout))
				if err != nil {
					return err
				}
				purged, err := s.sessions.PurgeDead(ctx, q, now.Add(-purgeAfter))
				if err != nil {
					return err
				}
				if reaped > 0 || purged > 0 {
					s.logger.InfoContext(ctx, "session sweep", "reaped", reaped, "purged", purged)
				}
				return nil
			})
			if err != nil && ctx.Err() == nil {
				s.logger.ErrorContext(ctx, "session sweep failed", "error", err)
			}
		}
	}
}
