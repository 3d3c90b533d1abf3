package saga

import (
	"errors"

	"github.com/xraph/escrow"
)

// Sentinel errors for errors.Is() support. The outcome sentinels are the
// root package's, so failures recorded by the workflow engine keep their
// classification across replay.
var (
	ErrInsufficient      = escrow.ErrInsufficient
	ErrInvalid           = escrow.ErrInvalid
	ErrRemoteUnreachable = escrow.ErrRemoteUnreachable
	ErrFatal             = escrow.ErrFatal

	// ErrInvalidPhase is returned when a saga operation is called out of
	// order, for example Await before Handoff.
	ErrInvalidPhase = errors.New("saga: operation not allowed in current phase")

	// ErrMissingCorrelation is returned by Callout.Post when the request
	// carries no correlation header.
	ErrMissingCorrelation = errors.New("saga: missing correlation header")
)

// DetailError is a business failure whose message is shown to callers as
// is. It matches its sentinel with errors.Is.
type DetailError struct {
	Detail   string
	Sentinel error
}

func (e *DetailError) Error() string { return e.Detail }

func (e *DetailError) Unwrap() error { return e.Sentinel }

// Failure returns an error with message detail that wraps sentinel.
func Failure(sentinel error, detail string) error {
	return &DetailError{Detail: detail, Sentinel: sentinel}
}

// Insufficient reports a balance or inventory shortfall.
func Insufficient(detail string) error { return Failure(ErrInsufficient, detail) }

// Invalid reports a request that can never succeed as given.
func Invalid(detail string) error { return Failure(ErrInvalid, detail) }

// Unreachable reports a remote party that could not confirm an action.
func Unreachable(detail string) error { return Failure(ErrRemoteUnreachable, detail) }

// FatalError is a non-retryable failure, such as a ledger whose reversal
// does not match the forward transaction. Workflow handlers return it as
// their error so the execution fails and is dead-lettered.
type FatalError struct {
	Detail string
	Cause  error
}

// Fatal creates a FatalError.
func Fatal(detail string) *FatalError {
	return &FatalError{Detail: detail}
}

func (e *FatalError) Error() string { return e.Detail }

func (e *FatalError) Unwrap() error { return e.Cause }

func (e *FatalError) Is(target error) bool {
	return target == ErrFatal
}
