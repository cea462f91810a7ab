package domain

import (
	"errors"
	"time"
)

// MenuState is a node in the menu graph. The persisted state plus the input
// buffer encode the full continuation of a dialogue across stateless calls.
type MenuState string

const (
	StateMainMenu        MenuState = "main_menu"
	StateSendRecipient   MenuState = "send_recipient"
	StateSendAmount      MenuState = "send_amount"
	StateSendConfirm     MenuState = "send_confirm"
	StateInvoiceAmount   MenuState = "invoice_amount"
	StateTopupAmount     MenuState = "topup_amount"
	StateTopupConfirm    MenuState = "topup_confirm"
	StateWithdrawAmount  MenuState = "withdraw_amount"
	StateWithdrawConfirm MenuState = "withdraw_confirm"
	StateLanguageSelect  MenuState = "language_select"
)

// Session is one in-progress USSD dialogue, keyed by the gateway-issued
// session id.
type Session struct {
	SessionID    string            `json:"session_id"`
	PhoneNumber  string            `json:"phone_number"`
	CurrentState MenuState         `json:"current_state"`
	InputBuffer  map[string]string `json:"input_buffer"`
	StepCount    int               `json:"step_count"`
	IsActive     bool              `json:"is_active"`
	LastActivity time.Time         `json:"last_activity"`
	CreatedAt    time.Time         `json:"created_at"`

	// LastReplyText and LastReplyFinal record the reply sent for the most
	// recently consumed trail token, so a gateway retry of that request
	// can be answered with the same reply instead of being applied as new
	// input at the already-advanced state.
	LastReplyText  string `json:"last_reply_text"`
	LastReplyFinal bool   `json:"last_reply_final"`
}

// IsStale reports whether the session exceeded the inactivity timeout.
func (s *Session) IsStale(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastActivity) > timeout
}

// Reset returns the session to the main menu with an empty buffer.
func (s *Session) Reset() {
	s.CurrentState = StateMainMenu
	s.InputBuffer = map[string]string{}
	s.IsActive = true
}

var (
	// ErrSessionPhoneMismatch is returned when a request's phone differs
	// from the session's owning phone. Possible spoofing; the dialogue is
	// terminated without state mutation.
	ErrSessionPhoneMismatch = errors.New("session phone mismatch")

	// ErrSessionNotFound is returned for lookups of unknown session ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidPhoneNumber is returned when a phone number cannot be
	// normalized.
	ErrInvalidPhoneNumber = errors.New("invalid phone number")
)
