package domain

import "errors"

// Validation errors: the caller supplied bad input and may retry with a
// corrected request.
var (
	ErrInvalidQuestion = errors.New("invalid question")
	ErrInvalidDuration = errors.New("invalid duration")
	ErrZeroAmount      = errors.New("amount must be greater than zero")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidSide     = errors.New("invalid prediction side")
	ErrInvalidAddress  = errors.New("invalid address")
	ErrAmountOverflow  = errors.New("amount overflows pool")
	ErrNotFound        = errors.New("not found")
)

// State-machine violations: the market is in the wrong phase for the
// requested operation.
var (
	ErrMarketEnded       = errors.New("market ended")
	ErrTooEarly          = errors.New("market has not ended yet")
	ErrAlreadyResolved   = errors.New("market already resolved")
	ErrNotResolved       = errors.New("market not resolved")
	ErrAlreadyWithdrawn  = errors.New("already withdrawn")
	ErrNothingToWithdraw = errors.New("nothing to withdraw")
	ErrReentrantCall     = errors.New("reentrant call into ledger")
)

// Authorization errors.
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Collaborator and infrastructure errors.
var (
	ErrTransferFailed        = errors.New("value transfer failed")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrReplayMismatch        = errors.New("event log does not match ledger state")
	ErrAlreadyExists         = errors.New("already exists")
	ErrLockHeld              = errors.New("lock already held")
	ErrRateLimited           = errors.New("rate limited")
	ErrJournalUnavailable    = errors.New("event log unavailable")
	ErrNotWriter             = errors.New("replica does not hold the writer lease")
)

// ErrorKind groups errors by who can fix them.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindNotFound      ErrorKind = "not_found"
	KindState         ErrorKind = "state"
	KindAuthorization ErrorKind = "authorization"
	KindCollaborator  ErrorKind = "collaborator"
	KindUnavailable   ErrorKind = "unavailable"
	KindInternal      ErrorKind = "internal"
)

var errorKinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrNotFound, KindNotFound},
	{ErrInvalidQuestion, KindValidation},
	{ErrInvalidDuration, KindValidation},
	{ErrZeroAmount, KindValidation},
	{ErrInvalidAmount, KindValidation},
	{ErrInvalidSide, KindValidation},
	{ErrInvalidAddress, KindValidation},
	{ErrAmountOverflow, KindValidation},
	{ErrMarketEnded, KindState},
	{ErrTooEarly, KindState},
	{ErrAlreadyResolved, KindState},
	{ErrNotResolved, KindState},
	{ErrAlreadyWithdrawn, KindState},
	{ErrNothingToWithdraw, KindState},
	{ErrReentrantCall, KindState},
	{ErrLockHeld, KindState},
	{ErrUnauthorized, KindAuthorization},
	{ErrInvalidSignature, KindAuthorization},
	// Insufficient funds are reported through ErrTransferFailed by the
	// ledger, so they are matched before the generic collaborator bucket.
	{ErrInsufficientBalance, KindCollaborator},
	{ErrInsufficientAllowance, KindCollaborator},
	{ErrTransferFailed, KindCollaborator},
	{ErrJournalUnavailable, KindUnavailable},
	{ErrNotWriter, KindUnavailable},
}

// KindOf classifies err into one of the ErrorKind buckets. Unknown errors
// are KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, ek := range errorKinds {
		if errors.Is(err, ek.err) {
			return ek.kind
		}
	}
	return KindInternal
}
