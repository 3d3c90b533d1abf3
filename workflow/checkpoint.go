package workflow

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/id"
)

// Checkpoint stores the recorded outcome of a completed step, keyed by
// "name#n" where n is the call order of that name within the execution.
type Checkpoint struct {
	ID          id.CheckpointID `json:"id"`
	ExecutionID string          `json:"execution_id"`
	Key         string          `json:"key"`
	Data        []byte          `json:"data"`
	CreatedAt   time.Time       `json:"created_at"`
}

// record is the JSON envelope saved as checkpoint data. A step either
// produced an output or failed with an error message.
type record struct {
	Output   json.RawMessage `json:"output,omitempty"`
	Error    string          `json:"error,omitempty"`
	Sentinel string          `json:"sentinel,omitempty"`
}

func (r record) failed() bool { return r.Error != "" }

// sentinels lists the errors whose identity survives replay. Order
// matters: the first match wins.
var sentinels = []struct {
	name string
	err  error
}{
	{"fatal", escrow.ErrFatal},
	{"insufficient", escrow.ErrInsufficient},
	{"invalid", escrow.ErrInvalid},
	{"remote_unreachable", escrow.ErrRemoteUnreachable},
	{"account_not_found", escrow.ErrAccountNotFound},
	{"product_not_found", escrow.ErrProductNotFound},
	{"order_not_found", escrow.ErrOrderNotFound},
	{"session_not_found", escrow.ErrSessionNotFound},
}

func sentinelName(err error) string {
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.name
		}
	}
	return ""
}

func sentinelErr(name string) error {
	for _, s := range sentinels {
		if s.name == name {
			return s.err
		}
	}
	return nil
}

// StepError is returned by a failed step, both when the step body fails
// and when the failure is replayed from its checkpoint. Error returns the
// step's own message; Unwrap exposes the cause, which on replay is the
// recorded sentinel.
type StepError struct {
	Step    string
	Message string
	cause   error
}

func (e *StepError) Error() string { return e.Message }

func (e *StepError) Unwrap() error { return e.cause }

func encodeFailure(err error) ([]byte, error) {
	return json.Marshal(record{Error: err.Error(), Sentinel: sentinelName(err)})
}

func encodeOutput(v any) ([]byte, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(record{Output: out})
}

// decodeRecord reads checkpoint data into out. A recorded failure is
// returned as a *StepError.
func decodeRecord(key string, data []byte, out any) error {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	if rec.failed() {
		return &StepError{Step: key, Message: rec.Error, cause: sentinelErr(rec.Sentinel)}
	}
	if out == nil || len(rec.Output) == 0 {
		return nil
	}
	return json.Unmarshal(rec.Output, out)
}
