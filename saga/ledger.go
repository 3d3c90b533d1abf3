package saga

import (
	"context"
	"log/slog"
	"sync"

	"github.com/xraph/escrow/workflow"
)

// Undo reverses a committed forward step. It runs as a durable step, so
// it must perform its side effect directly rather than call other steps.
type Undo func(ctx context.Context) error

type entry struct {
	name string
	undo Undo
}

// Ledger holds the compensations a saga still owes. Entries are executed
// in registration order, each as the durable step "undo:<name>".
type Ledger struct {
	wf     *workflow.Workflow
	logger *slog.Logger

	mu       sync.Mutex
	entries  []entry
	executed bool
}

// NewLedger creates an empty ledger for the running execution.
func NewLedger(wf *workflow.Workflow) *Ledger {
	return &Ledger{
		wf:     wf,
		logger: wf.Logger().With(slog.String("saga_id", wf.ExecutionID())),
	}
}

// Register adds an undo action under name. Registering an existing name
// replaces its action in place.
func (l *Ledger) Register(name string, undo Undo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].name == name {
			l.entries[i].undo = undo
			return
		}
	}
	l.entries = append(l.entries, entry{name: name, undo: undo})
}

// Cancel drops the undo action registered under name. The forward effect
// is now permanent. Unknown names are ignored.
func (l *Ledger) Cancel(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].name == name {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}

// CancelAll drops every registered undo action.
func (l *Ledger) CancelAll() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

// Len returns the number of registered undo actions.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Names returns the registered entry names in execution order.
func (l *Ledger) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, len(l.entries))
	for i, e := range l.entries {
		names[i] = e.name
	}
	return names
}

// ExecuteAll runs every registered undo action once. A failing action is
// logged and the rest still run. Calls after the first are no-ops.
func (l *Ledger) ExecuteAll() {
	l.mu.Lock()
	if l.executed {
		l.mu.Unlock()
		return
	}
	l.executed = true
	entries := l.entries
	l.entries = nil
	l.mu.Unlock()

	for _, e := range entries {
		if err := l.wf.Step("undo:"+e.name, e.undo); err != nil {
			l.logger.Error("compensation failed",
				slog.String("compensation", e.name),
				slog.String("error", err.Error()),
			)
			continue
		}
		l.logger.Info("compensation applied", slog.String("compensation", e.name))
	}
}

// Executed reports whether ExecuteAll has run.
func (l *Ledger) Executed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.executed
}
