package saga_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/xraph/escrow/saga"
	"github.com/xraph/escrow/workflow"
)

type recorder struct {
	mu  sync.Mutex
	log []string
}

func (r *recorder) undo(name string) saga.Undo {
	return func(context.Context) error {
		r.mu.Lock()
		r.log = append(r.log, name)
		r.mu.Unlock()
		return nil
	}
}

func (r *recorder) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.log, ",")
}

func TestLedger_ExecuteAllInRegistrationOrder(t *testing.T) {
	r, reg := newTestRunner(t)
	rec := &recorder{}

	res := runHandler(t, r, reg, "ledger-1", func(wf *workflow.Workflow, _ struct{}) (int, error) {
		l := saga.NewLedger(wf)
		l.Register("a", rec.undo("a-old"))
		l.Register("b", rec.undo("b"))
		l.Register("c", rec.undo("c"))
		l.Register("a", rec.undo("a"))
		l.Cancel("b")
		l.Cancel("unknown")
		if got := strings.Join(l.Names(), ","); got != "a,c" {
			return 0, errors.New("names = " + got)
		}
		l.ExecuteAll()
		l.ExecuteAll()
		if !l.Executed() {
			return 0, errors.New("ledger not marked executed")
		}
		return l.Len(), nil
	})

	if res.Status != workflow.StatusCommitted {
		t.Fatalf("status = %q (%s), want %q", res.Status, res.Error, workflow.StatusCommitted)
	}
	if string(res.Output) != "0" {
		t.Errorf("entries left = %s, want 0", res.Output)
	}
	if got := rec.String(); got != "a,c" {
		t.Errorf("undo order = %q, want %q", got, "a,c")
	}
}

func TestLedger_FailingUndoDoesNotStopOthers(t *testing.T) {
	r, reg := newTestRunner(t)
	rec := &recorder{}

	res := runHandler(t, r, reg, "ledger-2", func(wf *workflow.Workflow, _ struct{}) (struct{}, error) {
		l := saga.NewLedger(wf)
		l.Register("first", rec.undo("first"))
		l.Register("broken", func(context.Context) error { return errors.New("db down") })
		l.Register("last", rec.undo("last"))
		l.ExecuteAll()
		return struct{}{}, nil
	})

	if res.Status != workflow.StatusCommitted {
		t.Fatalf("status = %q, want %q", res.Status, workflow.StatusCommitted)
	}
	if got := rec.String(); got != "first,last" {
		t.Errorf("undo log = %q, want %q", got, "first,last")
	}
}

func TestLedger_ReplayDoesNotUndoTwice(t *testing.T) {
	r, reg := newTestRunner(t)
	rec := &recorder{}

	runHandler(t, r, reg, "ledger-3", func(wf *workflow.Workflow, _ struct{}) (struct{}, error) {
		l := saga.NewLedger(wf)
		l.Register("inventory", rec.undo("inventory"))
		l.Register("order", rec.undo("order"))
		l.ExecuteAll()
		return struct{}{}, wf.Step("done", func(context.Context) error { return nil })
	})

	h, err := r.ReplayFrom(context.Background(), "ledger-3", "done#1")
	if err != nil {
		t.Fatalf("ReplayFrom: %v", err)
	}
	if _, err := h.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := rec.String(); got != "inventory,order" {
		t.Errorf("undo log after replay = %q, want %q", got, "inventory,order")
	}
}
