package service

import (
	"errors"
	"fmt"
	"strings"

	"payledger/internal/repository"

	"github.com/shopspring/decimal"
)

// =============================================================================
// Sentinel errors, matched with errors.Is
// =============================================================================

var (
	// ErrAccountNotFound also covers accounts owned by someone else, so the
	// caller cannot tell whether the account exists.
	ErrAccountNotFound     = repository.ErrAccountNotFound
	ErrTransactionNotFound = repository.ErrTransactionNotFound

	ErrAccountFrozen     = errors.New("account is not active")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrCurrencyMismatch  = errors.New("currency mismatch")

	// ErrConcurrencyConflict means every attempt lost the version race.
	ErrConcurrencyConflict = errors.New("concurrent modification, retry the request")
	// ErrConcurrentDuplicate means another request with the same idempotency
	// key won the insert but its row is not visible yet.
	ErrConcurrentDuplicate = errors.New("concurrent duplicate request, retry the request")

	ErrInvalidArgument         = errors.New("invalid argument")
	ErrIncompleteTransfer      = errors.New("transfer is missing a leg")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
)

// =============================================================================
// Structured errors
// =============================================================================

type InsufficientFundsError struct {
	AccountID int64
	Balance   decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds on account %d: balance %s, requested %s",
		e.AccountID, e.Balance.StringFixed(4), e.Requested.StringFixed(4))
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

type CurrencyMismatchError struct {
	SourceCurrency string
	DestCurrency   string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("currency mismatch: %s -> %s", e.SourceCurrency, e.DestCurrency)
}

func (e *CurrencyMismatchError) Unwrap() error {
	return ErrCurrencyMismatch
}

// AccountStateError reports an account that is FROZEN or CLOSED.
type AccountStateError struct {
	AccountID int64
	Status    string
}

func (e *AccountStateError) Error() string {
	return fmt.Sprintf("account %d is %s", e.AccountID, e.Status)
}

func (e *AccountStateError) Unwrap() error {
	return ErrAccountFrozen
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid argument: " + e.Reason
	}
	return fmt.Sprintf("invalid argument: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidArgument
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

type StatusTransitionError struct {
	From string
	To   string
}

func (e *StatusTransitionError) Error() string {
	if e.From == e.To {
		return "account is already " + e.From
	}
	return "cannot change status of a " + strings.ToLower(e.From) + " account"
}

func (e *StatusTransitionError) Unwrap() error {
	return ErrInvalidStatusTransition
}

// =============================================================================
// Helpers
// =============================================================================

// IsRetryable reports whether the same request may succeed if sent again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) || errors.Is(err, ErrConcurrentDuplicate)
}

// IsBusinessError reports whether err is a typed ledger rule failure rather
// than an infrastructure error.
func IsBusinessError(err error) bool {
	for _, target := range []error{
		ErrAccountNotFound, ErrTransactionNotFound, ErrAccountFrozen, ErrInsufficientFunds,
		ErrCurrencyMismatch, ErrConcurrencyConflict, ErrConcurrentDuplicate,
		ErrInvalidArgument, ErrIncompleteTransfer, ErrInvalidStatusTransition,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
