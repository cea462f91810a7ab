package domain

import (
	"time"

	"github.com/google/uuid"
)

// DefaultLanguage is assigned at lazy account creation.
const DefaultLanguage = "en"

// SupportedLanguages lists the menu languages accounts may select.
var SupportedLanguages = []string{"en", "sw"}

// IsSupportedLanguage reports whether the code is a selectable language.
func IsSupportedLanguage(code string) bool {
	for _, lang := range SupportedLanguages {
		if lang == code {
			return true
		}
	}
	return false
}

// Account is a ledger entry keyed by normalized phone number. Balances are
// held in satoshis and never go negative.
type Account struct {
	ID          uuid.UUID `json:"id"`
	PhoneNumber string    `json:"phone_number"`
	BalanceSats int64     `json:"balance_sats"`
	Language    string    `json:"language"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
