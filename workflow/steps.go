package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/escrow"
)

// StepFunc is a type-erased step body that accepts and returns raw JSON.
type StepFunc func(ctx context.Context, input []byte) ([]byte, error)

// Steps is an explicit registry of named step functions that workflows
// invoke with Call. It is safe for concurrent use.
type Steps struct {
	mu  sync.RWMutex
	fns map[string]StepFunc
}

// NewSteps creates an empty step registry.
func NewSteps() *Steps {
	return &Steps{fns: make(map[string]StepFunc)}
}

// RegisterStep registers a typed step function under name. Registering
// an existing name replaces it.
func RegisterStep[I, O any](s *Steps, name string, fn func(ctx context.Context, input I) (O, error)) {
	erased := func(ctx context.Context, raw []byte) ([]byte, error) {
		var in I
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &in); err != nil {
				return nil, fmt.Errorf("unmarshal input for step %q: %w", name, err)
			}
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		return json.Marshal(out)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fns[name] = erased
}

// Lookup returns the step function registered under name.
func (s *Steps) Lookup(name string) (StepFunc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.fns[name]
	return fn, ok
}

// Names returns all registered step names in sorted order.
func (s *Steps) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.fns))
	for name := range s.fns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call runs the registered step name as a durable step with the given
// input. On replay the recorded output (or failure) is returned without
// invoking the step.
func Call[I, O any](w *Workflow, name string, input I) (O, error) {
	var zero O

	if w.steps == nil {
		return zero, fmt.Errorf("%w: %q (no step registry)", escrow.ErrStepNotFound, name)
	}
	fn, ok := w.steps.Lookup(name)
	if !ok {
		return zero, fmt.Errorf("%w: %q", escrow.ErrStepNotFound, name)
	}

	raw, err := json.Marshal(input)
	if err != nil {
		return zero, fmt.Errorf("workflow %s: marshal input for step %q: %w", w.exec.Name, name, err)
	}

	return StepWithResult(w, name, func(ctx context.Context) (O, error) {
		var out O
		data, err := fn(ctx, raw)
		if err != nil {
			return out, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &out); err != nil {
				return out, fmt.Errorf("unmarshal output for step %q: %w", name, err)
			}
		}
		return out, nil
	})
}
