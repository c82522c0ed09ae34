package farmledger

import (
	"errors"
	"fmt"

	"github.com/xraph/farmledger/event"
	"github.com/xraph/farmledger/gl"
	"github.com/xraph/farmledger/journal"
	"github.com/xraph/farmledger/lock"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrAlreadyExists = errors.New("farmledger: already exists")

	// Posting errors
	ErrInvalidEventState        = errors.New("farmledger: invalid event state")
	ErrNoGLLinesComputed        = gl.ErrNoLines
	ErrUnknownEventType         = event.ErrUnknownType
	ErrInvalidPayload           = event.ErrInvalidPayload
	ErrRequiredAccountsNotFound = gl.ErrRequiredAccounts
	ErrUnbalancedTransaction    = journal.ErrUnbalanced
	ErrLockNotAcquired          = errors.New("farmledger: event lock not acquired")
	ErrKeyedLockNotObtained     = lock.ErrNotObtained

	// Ledger errors
	ErrAlreadyReversed         = errors.New("farmledger: transaction already reversed")
	ErrDuplicateIdempotencyKey = errors.New("farmledger: duplicate idempotency key")

	// Lookup errors
	ErrEventNotFound       = errors.New("farmledger: event not found")
	ErrTransactionNotFound = errors.New("farmledger: transaction not found")
	ErrTenantNotFound      = errors.New("farmledger: tenant not found")
	ErrAccountNotFound     = errors.New("farmledger: account not found")
	ErrItemNotFound        = errors.New("farmledger: item not found")
	ErrRequisitionNotFound = errors.New("farmledger: requisition not found")

	// Chart of accounts errors
	ErrSystemAccount = errors.New("farmledger: system account cannot be deactivated")

	// Store errors
	ErrConcurrentModification = errors.New("farmledger: concurrent modification")
	ErrTransactionFailed      = errors.New("farmledger: transaction failed")
	ErrMigrationFailed        = errors.New("farmledger: migration failed")
)

// RequiredAccountsError lists the account codes missing from a tenant's chart.
type RequiredAccountsError = gl.RequiredAccountsError

// UnbalancedError carries the totals of a rejected transaction.
type UnbalancedError = journal.UnbalancedError

// InvalidEventStateError reports the status an event was found in when it
// could not be claimed for posting.
type InvalidEventStateError struct {
	EventID string
	Status  event.Status
}

func (e *InvalidEventStateError) Error() string {
	return fmt.Sprintf("farmledger: invalid event state: event %s is %s", e.EventID, e.Status)
}

// Unwrap lets errors.Is match ErrInvalidEventState.
func (e *InvalidEventStateError) Unwrap() error { return ErrInvalidEventState }

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("farmledger: validation failed for %s: %s", e.Field, e.Message)
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEventNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrTenantNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrRequisitionNotFound)
}

// IsConfigurationError returns true if the error can only be fixed by
// changing tenant data or the event itself, so retrying is pointless.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrRequiredAccountsNotFound) ||
		errors.Is(err, ErrUnknownEventType) ||
		errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrNoGLLinesComputed) ||
		errors.Is(err, ErrUnbalancedTransaction) ||
		errors.Is(err, ErrTenantNotFound) ||
		errors.Is(err, ErrItemNotFound)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransactionFailed) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrKeyedLockNotObtained)
}
