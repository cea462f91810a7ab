package domain

import "errors"

var (
	// ErrInvalidAmount is returned when an amount is zero, negative, or
	// outside configured bounds.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientFunds is returned when a debit would take a balance
	// below zero. Checked under the account hold, not at validation time.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountNotFound is returned for lookups of accounts that were
	// never materialized.
	ErrAccountNotFound = errors.New("account not found")

	// ErrConcurrentModification is returned after the retry budget for
	// contended holds is exhausted.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrSelfTransfer is returned when source and destination accounts are
	// the same.
	ErrSelfTransfer = errors.New("cannot transfer to the same account")

	// ErrUnsupportedLanguage is returned when setting a menu language that
	// is not in SupportedLanguages.
	ErrUnsupportedLanguage = errors.New("unsupported language")
)
