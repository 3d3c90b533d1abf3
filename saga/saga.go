package saga

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/escrow/workflow"
)

// Phase is the position of a saga in its lifecycle.
type Phase string

const (
	PhaseStarted      Phase = "started"
	PhaseReserving    Phase = "reserving"
	PhaseAwaiting     Phase = "awaiting_confirmation"
	PhaseCommitting   Phase = "committing"
	PhaseCompensating Phase = "compensating"
	PhaseTerminal     Phase = "terminal"
)

// Decision is the result of the await phase.
type Decision string

const (
	// Confirmed means a positive confirmation arrived before the deadline.
	Confirmed Decision = "confirmed"
	// Declined means a negative confirmation arrived before the deadline.
	Declined Decision = "declined"
	// RecheckedPaid means the deadline elapsed but the re-check against
	// the system of record found the action completed.
	RecheckedPaid Decision = "rechecked_paid"
	// TimedOut means the deadline elapsed and the re-check did not
	// confirm the action.
	TimedOut Decision = "timed_out"
)

// Commits reports whether the decision leads to the commit path.
func (d Decision) Commits() bool { return d == Confirmed || d == RecheckedPaid }

// Reservation is a forward step of the reserve phase and its inverse.
// Do runs as the durable step "reserve:<Name>".
type Reservation struct {
	Name string
	Do   func(ctx context.Context) error
	Undo Undo
}

// Predicate decides whether a received confirmation payload is positive.
type Predicate func(payload []byte) bool

// Equals returns a Predicate that accepts the JSON encoding of want.
func Equals(want any) Predicate {
	enc, err := json.Marshal(want)
	return func(payload []byte) bool {
		return err == nil && bytes.Equal(bytes.TrimSpace(payload), enc)
	}
}

// Recheck queries the system of record once after the await deadline. It
// runs as a durable step; an error counts as "not confirmed".
type Recheck func(ctx context.Context) (bool, error)

// Saga drives one execution through the reserve, handoff, await, resolve
// and notify phases. Every method must be called from the workflow
// handler's goroutine.
type Saga struct {
	wf       *workflow.Workflow
	ledger   *Ledger
	notifier *Notifier
	release  func()
	phase    Phase
	logger   *slog.Logger
}

// New starts a saga for the running execution. The given topics are
// guarded: Close publishes null on any of them left unpublished.
func New(wf *workflow.Workflow, topics ...string) *Saga {
	n := NewNotifier(wf)
	return &Saga{
		wf:       wf,
		ledger:   NewLedger(wf),
		notifier: n,
		release:  n.Guard(topics...),
		phase:    PhaseStarted,
		logger:   wf.Logger().With(slog.String("saga_id", wf.ExecutionID())),
	}
}

// Phase returns the current phase.
func (s *Saga) Phase() Phase { return s.phase }

// Ledger returns the compensation ledger.
func (s *Saga) Ledger() *Ledger { return s.ledger }

// Notifier returns the outcome notifier.
func (s *Saga) Notifier() *Notifier { return s.notifier }

func (s *Saga) transition(op string, to Phase, from ...Phase) error {
	for _, p := range from {
		if s.phase == p {
			s.logger.Debug("saga phase change",
				slog.String("from", string(s.phase)),
				slog.String("to", string(to)),
			)
			s.phase = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s during %s", ErrInvalidPhase, op, s.phase)
}

// Reserve runs each reservation in order, registering its undo action
// once it succeeds. On the first failure the ledger is executed, undoing
// every earlier reservation of the saga, and the failure is returned as
// an Outcome; the saga is then terminal and the execution compensated.
// An interrupted execution returns a fatal outcome without compensating.
func (s *Saga) Reserve(reservations ...Reservation) Outcome {
	if err := s.transition("reserve", PhaseReserving, PhaseStarted, PhaseReserving); err != nil {
		return Classify(Fatal(err.Error()))
	}

	for _, r := range reservations {
		if err := s.wf.Step("reserve:"+r.Name, r.Do); err != nil {
			out := Classify(err)
			if s.wf.Context().Err() != nil {
				return out
			}
			s.logger.Warn("reservation failed",
				slog.String("reservation", r.Name),
				slog.String("outcome", out.String()),
			)
			s.ledger.ExecuteAll()
			s.wf.MarkCompensated()
			s.phase = PhaseTerminal
			return out
		}
		if r.Undo != nil {
			s.ledger.Register(r.Name, r.Undo)
		}
	}
	return Outcome{Kind: KindOK}
}

// Handoff publishes the intermediate value produced by produce on topic.
// When produce reports no value, null is published and the saga moves
// to the compensate path. It returns whether a value was handed off.
func (s *Saga) Handoff(topic string, produce func() (any, bool)) (bool, error) {
	if s.phase != PhaseStarted && s.phase != PhaseReserving {
		return false, fmt.Errorf("%w: handoff during %s", ErrInvalidPhase, s.phase)
	}

	value, ok := produce()
	if !ok {
		s.phase = PhaseCompensating
		s.logger.Warn("handoff produced no value", slog.String("topic", topic))
		return false, s.notifier.PublishOnce(topic, nil)
	}

	s.phase = PhaseAwaiting
	return true, s.notifier.PublishOnce(topic, value)
}

// Await waits durably for a confirmation on topic. A payload accepted by
// confirmed commits, any other payload declines. When the deadline
// passes, recheck (if any) is consulted exactly once.
func (s *Saga) Await(topic string, timeout time.Duration, confirmed Predicate, recheck Recheck) (Decision, error) {
	if s.phase != PhaseAwaiting {
		return "", fmt.Errorf("%w: await during %s", ErrInvalidPhase, s.phase)
	}

	payload, err := s.wf.Receive(topic, timeout)
	if err != nil {
		return "", err
	}

	var d Decision
	switch {
	case payload != nil && confirmed(payload):
		d = Confirmed
	case payload != nil:
		d = Declined
	case recheck == nil:
		d = TimedOut
	default:
		s.logger.Warn("confirmation timed out, re-checking", slog.String("topic", topic))
		paid, checkErr := workflow.StepWithResult(s.wf, "recheck:"+topic, recheck)
		if checkErr != nil {
			if s.wf.Context().Err() != nil {
				return "", checkErr
			}
			s.logger.Error("re-check failed", slog.String("error", checkErr.Error()))
		}
		d = TimedOut
		if checkErr == nil && paid {
			d = RecheckedPaid
		}
	}

	if d.Commits() {
		s.phase = PhaseCommitting
	} else {
		s.phase = PhaseCompensating
	}
	s.logger.Info("confirmation decided", slog.String("decision", string(d)))
	return d, nil
}

// Commit makes every reservation permanent: the ledger is discarded
// without running and finalize (if any) records the business result.
func (s *Saga) Commit(finalize func() error) error {
	if err := s.transition("commit", PhaseTerminal, PhaseReserving, PhaseAwaiting, PhaseCommitting); err != nil {
		return err
	}
	s.ledger.CancelAll()
	if finalize == nil {
		return nil
	}
	return finalize()
}

// Abort undoes every registered reservation and then runs markCancelled
// (if any). The execution finishes as compensated.
func (s *Saga) Abort(markCancelled func() error) error {
	if err := s.transition("abort", PhaseTerminal, PhaseStarted, PhaseReserving, PhaseAwaiting, PhaseCompensating); err != nil {
		return err
	}
	s.ledger.ExecuteAll()
	s.wf.MarkCompensated()
	if markCancelled == nil {
		return nil
	}
	return markCancelled()
}

// Notify publishes the final result on topic once.
func (s *Saga) Notify(topic string, value any) error {
	return s.notifier.PublishOnce(topic, value)
}

// Close ends the saga. When neither Commit nor Abort ran, the ledger is
// executed. Every guarded topic still unpublished receives null. Close
// does nothing to the ledger while the execution is being interrupted.
func (s *Saga) Close() {
	if s.wf.Context().Err() == nil && s.phase != PhaseTerminal && s.ledger.Len() > 0 {
		s.logger.Warn("saga ended without resolution, compensating",
			slog.String("phase", string(s.phase)),
		)
		s.ledger.ExecuteAll()
		s.wf.MarkCompensated()
	}
	s.release()
}
