package credits

import (
	"errors"
	"fmt"

	"github.com/xraph/credits/catalog"
)

// Sentinel errors for common failure scenarios.
var (
	// Account errors
	ErrAccountNotFound      = errors.New("credits: account not found")
	ErrAccountExists        = errors.New("credits: account already exists")
	ErrSubscriptionNotFound = errors.New("credits: no account for subscription")

	// Mutation errors
	ErrInsufficientCredits  = errors.New("credits: insufficient credits")
	ErrInvalidInput         = errors.New("credits: invalid input")
	ErrInvalidType          = errors.New("credits: invalid transaction type")
	ErrDuplicateTransaction = errors.New("credits: duplicate transaction")
	ErrTransactionNotFound  = errors.New("credits: transaction not found")

	// Store errors
	ErrTransactionFailed   = errors.New("credits: transaction failed")
	ErrTransactionConflict = errors.New("credits: transaction conflict")
	ErrStoreClosed         = errors.New("credits: store is closed")

	// Catalog errors
	ErrCatalogNotFound = catalog.ErrNotFound

	// Billing errors
	ErrInvalidSignature = errors.New("credits: webhook signature invalid")
)

// ValidationError represents a precondition failure on one input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("credits: validation failed for %s: %s", e.Field, e.Message)
}

// Is lets errors.Is(err, ErrInvalidInput) match any ValidationError.
func (e ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// Code is the stable, machine-readable failure code of a ledger operation.
type Code string

const (
	CodeOK                   Code = ""
	CodeInsufficientCredits  Code = "insufficient_credits"
	CodeAccountNotFound      Code = "user_not_found"
	CodeTransactionFailed    Code = "transaction_failed"
	CodeInvalidInput         Code = "invalid_input"
	CodeDuplicateTransaction Code = "duplicate_transaction"
	CodeAccountExists        Code = "account_exists"
)

// CodeOf maps an error returned by the Ledger to its Code.
// Errors the ledger does not recognise map to CodeTransactionFailed.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrInsufficientCredits):
		return CodeInsufficientCredits
	case errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrSubscriptionNotFound):
		return CodeAccountNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidType), errors.Is(err, ErrTransactionNotFound):
		return CodeInvalidInput
	case errors.Is(err, ErrDuplicateTransaction):
		return CodeDuplicateTransaction
	case errors.Is(err, ErrAccountExists):
		return CodeAccountExists
	default:
		return CodeTransactionFailed
	}
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrCatalogNotFound)
}

// IsRetryable returns true if the whole operation may be retried safely
// because the failure left no partial state behind.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransactionConflict) ||
		errors.Is(err, ErrTransactionFailed)
}
