package app

import (
	"fmt"
	"strings"

	"github.com/satmobi/satsgate/internal/ussd/domain"
	walletdomain "github.com/satmobi/satsgate/internal/wallet/domain"
)

// Reply is what the state machine hands back to the gateway adapter.
type Reply struct {
	Text      string
	Terminate bool
}

func cont(text string) *Reply      { return &Reply{Text: text} }
func terminate(text string) *Reply { return &Reply{Text: text, Terminate: true} }

// menuOption is one main-menu entry. New menu items are configuration, not
// new control flow: an option either moves the dialogue to a collection
// state or names an immediate action handled by the service.
type menuOption struct {
	key    string
	labels map[string]string
	next   domain.MenuState // empty for immediate actions
	action string           // "balance", "history", set when next is empty
}

var mainMenuOptions = []menuOption{
	{key: "1", labels: map[string]string{"en": "Send Bitcoin", "sw": "Tuma Bitcoin"}, next: domain.StateSendRecipient},
	{key: "2", labels: map[string]string{"en": "Generate Invoice", "sw": "Tengeneza Ankara"}, next: domain.StateInvoiceAmount},
	{key: "3", labels: map[string]string{"en": "Buy Bitcoin (M-Pesa)", "sw": "Nunua Bitcoin (M-Pesa)"}, next: domain.StateTopupAmount},
	{key: "4", labels: map[string]string{"en": "Withdraw (M-Pesa)", "sw": "Toa (M-Pesa)"}, next: domain.StateWithdrawAmount},
	{key: "5", labels: map[string]string{"en": "Check Balance", "sw": "Angalia Salio"}, action: "balance"},
	{key: "6", labels: map[string]string{"en": "Transaction History", "sw": "Historia ya Miamala"}, action: "history"},
	{key: "7", labels: map[string]string{"en": "Language", "sw": "Lugha"}, next: domain.StateLanguageSelect},
}

// menuStrings holds the per-language variants of the main-menu frame.
// Collection prompts stay English for now; the menu itself is what
// subscribers see on every dial-in, so it follows the account language.
var menuStrings = map[string]map[string]string{
	"en": {
		"balance":      "Balance",
		"exit":         "Exit",
		"goodbye":      "Goodbye.",
		"invalid":      "Invalid option.",
		"language_set": "Language updated.",
	},
	"sw": {
		"balance":      "Salio",
		"exit":         "Ondoka",
		"goodbye":      "Kwaheri.",
		"invalid":      "Chaguo batili.",
		"language_set": "Lugha imebadilishwa.",
	},
}

func menuString(lang, key string) string {
	if s, ok := menuStrings[lang][key]; ok {
		return s
	}
	return menuStrings[walletdomain.DefaultLanguage][key]
}

// statePrompts are the entry prompts rendered when a flow moves into a
// collection state.
var statePrompts = map[domain.MenuState]string{
	domain.StateSendRecipient:  "Send Bitcoin\n\nEnter recipient phone number:",
	domain.StateSendAmount:     "Enter amount in sats to send:",
	domain.StateInvoiceAmount:  "Generate Invoice\n\nEnter amount in sats:",
	domain.StateTopupAmount:    "Buy Bitcoin via M-Pesa\n\nEnter amount in KES:",
	domain.StateWithdrawAmount: "M-Pesa Withdrawal\n\nEnter amount in sats:",
	domain.StateLanguageSelect: "Select language / Chagua lugha:\n1. English\n2. Kiswahili",
}

func renderMainMenu(balanceSats int64, lang string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Lightning Wallet\n%s: %d sats\n\n", menuString(lang, "balance"), balanceSats)
	for _, opt := range mainMenuOptions {
		label, ok := opt.labels[lang]
		if !ok {
			label = opt.labels[walletdomain.DefaultLanguage]
		}
		fmt.Fprintf(&b, "%s. %s\n", opt.key, label)
	}
	fmt.Fprintf(&b, "0. %s", menuString(lang, "exit"))
	return b.String()
}

func findMenuOption(key string) *menuOption {
	for i := range mainMenuOptions {
		if mainMenuOptions[i].key == key {
			return &mainMenuOptions[i]
		}
	}
	return nil
}
