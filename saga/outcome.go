package saga

import (
	"errors"

	"github.com/xraph/escrow"
)

// Kind tags the result of a saga operation.
type Kind string

const (
	KindOK                Kind = "ok"
	KindInvalid           Kind = "invalid"
	KindInsufficient      Kind = "insufficient"
	KindRemoteUnreachable Kind = "remote_unreachable"
	KindFatal             Kind = "fatal"
)

// Outcome is a tagged result. Expected business failures travel as
// values; only KindFatal becomes a Go error via Err.
type Outcome struct {
	Kind   Kind   `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// OK returns a successful outcome carrying detail.
func OK(detail string) Outcome { return Outcome{Kind: KindOK, Detail: detail} }

// Classify maps an error to an outcome. A nil error is KindOK. Errors that
// match none of the domain sentinels are treated as fatal.
func Classify(err error) Outcome {
	if err == nil {
		return Outcome{Kind: KindOK}
	}
	detail := err.Error()
	switch {
	case errors.Is(err, ErrFatal):
		return Outcome{Kind: KindFatal, Detail: detail}
	case errors.Is(err, ErrInsufficient):
		return Outcome{Kind: KindInsufficient, Detail: detail}
	case errors.Is(err, ErrRemoteUnreachable):
		return Outcome{Kind: KindRemoteUnreachable, Detail: detail}
	case errors.Is(err, ErrInvalid),
		errors.Is(err, escrow.ErrAccountNotFound),
		errors.Is(err, escrow.ErrProductNotFound),
		errors.Is(err, escrow.ErrOrderNotFound),
		errors.Is(err, escrow.ErrSessionNotFound):
		return Outcome{Kind: KindInvalid, Detail: detail}
	default:
		return Outcome{Kind: KindFatal, Detail: detail}
	}
}

// Resolve classifies err for a workflow handler. Expected failures come
// back as the Outcome with a nil error. A fatal failure is also returned
// as a *FatalError wrapping err, for the handler to return.
func Resolve(err error) (Outcome, error) {
	out := Classify(err)
	if out.Kind != KindFatal {
		return out, nil
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return out, fe
	}
	return out, &FatalError{Detail: out.Detail, Cause: err}
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool { return o.Kind == KindOK }

// Err returns a *FatalError for fatal outcomes and nil otherwise.
func (o Outcome) Err() error {
	if o.Kind != KindFatal {
		return nil
	}
	return Fatal(o.Detail)
}

func (o Outcome) String() string {
	if o.Detail == "" {
		return string(o.Kind)
	}
	return string(o.Kind) + ": " + o.Detail
}
