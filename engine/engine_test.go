package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/bank"
	"github.com/xraph/escrow/dlq"
	"github.com/xraph/escrow/engine"
	"github.com/xraph/escrow/saga"
	"github.com/xraph/escrow/store/memory"
	"github.com/xraph/escrow/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(t *testing.T, opts ...engine.Option) (*engine.Engine, *memory.Store) {
	t.Helper()
	s := memory.New()
	base := []engine.Option{
		engine.WithStore(s),
		engine.WithLogger(testLogger()),
	}
	eng, err := engine.New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })
	return eng, s
}

// deadLetterSpy records dead-letter notifications.
type deadLetterSpy struct {
	mu      sync.Mutex
	entries []*dlq.Entry
}

func (s *deadLetterSpy) Name() string { return "dead-letter-spy" }

func (s *deadLetterSpy) OnDeadLettered(_ context.Context, entry *dlq.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *deadLetterSpy) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := engine.New()
	if !errors.Is(err, escrow.ErrNoStore) {
		t.Fatalf("New() err = %v, want %v", err, escrow.ErrNoStore)
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := escrow.DefaultConfig()
	cfg.ConfirmationTimeout = 0
	_, err := engine.New(engine.WithStore(memory.New()), engine.WithConfig(cfg))
	if !errors.Is(err, escrow.ErrInvalidConfig) {
		t.Fatalf("New() err = %v, want %v", err, escrow.ErrInvalidConfig)
	}

	cfg = escrow.DefaultConfig()
	cfg.RecoverySchedule = "whenever"
	_, err = engine.New(engine.WithStore(memory.New()), engine.WithConfig(cfg))
	if !errors.Is(err, escrow.ErrInvalidConfig) {
		t.Fatalf("New() with bad schedule err = %v, want %v", err, escrow.ErrInvalidConfig)
	}
}

func TestEngine_RegistersBusinessWorkflows(t *testing.T) {
	eng, _ := newEngine(t)

	names := eng.Runner().Registry().Names()
	want := []string{
		bank.DepositWorkflow, bank.WithdrawWorkflow, bank.TransferWorkflow,
		"shop.checkout", "widget.checkout", "widget.dispatch", "payment.session",
	}
	have := make(map[string]bool, len(names))
	for _, n := range names {
		have[n] = true
	}
	for _, n := range want {
		if !have[n] {
			t.Errorf("workflow %q not registered", n)
		}
	}
}

func TestEngine_CashDeposit(t *testing.T) {
	eng, s := newEngine(t)
	ctx := context.Background()

	acct := &bank.Account{OwnerName: "alice", Type: "checking"}
	if err := s.CreateAccount(ctx, acct); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	h, err := workflow.StartOrResume(ctx, eng.Runner(), "dep-1", bank.DepositWorkflow, bank.TransactionRecord{
		FromLocation: bank.LocationCash,
		ToAccountID:  acct.ID,
		ToLocation:   bank.LocationLocal,
		Amount:       250,
	})
	if err != nil {
		t.Fatalf("StartOrResume: %v", err)
	}
	res, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	receipt, err := workflow.DecodeOutput[bank.Receipt](res)
	if err != nil {
		t.Fatalf("DecodeOutput: %v", err)
	}
	if receipt.Kind != saga.KindOK {
		t.Errorf("receipt kind = %q, want %q", receipt.Kind, saga.KindOK)
	}

	got, _ := s.GetAccount(ctx, acct.ID)
	if got.Balance != 250 {
		t.Errorf("balance = %d, want 250", got.Balance)
	}
}

func TestEngine_FatalFailureIsDeadLetteredAndResolvedOnReplay(t *testing.T) {
	spy := &deadLetterSpy{}
	eng, s := newEngine(t, engine.WithExtension(spy))
	ctx := context.Background()

	var attempts atomic.Int32
	workflow.RegisterDefinition(eng.Runner().Registry(), workflow.NewWorkflow("test.flaky",
		func(wf *workflow.Workflow, _ struct{}) (string, error) {
			if attempts.Add(1) == 1 {
				return "", saga.Fatal("Mismatch")
			}
			return "ok", nil
		}))

	h, err := workflow.StartOrResume(ctx, eng.Runner(), "flaky-1", "test.flaky", struct{}{})
	if err != nil {
		t.Fatalf("StartOrResume: %v", err)
	}
	res, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Status != workflow.StatusFailed {
		t.Fatalf("status = %q, want %q", res.Status, workflow.StatusFailed)
	}

	entry, err := s.GetDLQByExecution(ctx, "flaky-1")
	if err != nil {
		t.Fatalf("GetDLQByExecution: %v", err)
	}
	if entry.Workflow != "test.flaky" || entry.Error != "Mismatch" {
		t.Errorf("entry = %+v", entry)
	}
	if spy.count() != 1 {
		t.Errorf("dead-letter notifications = %d, want 1", spy.count())
	}

	h, err = eng.DLQService().Replay(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	res, err = h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait after replay: %v", err)
	}
	if res.Status != workflow.StatusCommitted {
		t.Fatalf("status after replay = %q, want %q", res.Status, workflow.StatusCommitted)
	}

	entry, _ = s.GetDLQByExecution(ctx, "flaky-1")
	if !entry.Resolved() {
		t.Error("dead letter not resolved after successful replay")
	}
}

func TestEngine_MetricsExposed(t *testing.T) {
	eng, _ := newEngine(t)
	ctx := context.Background()

	workflow.RegisterDefinition(eng.Runner().Registry(), workflow.NewWorkflow("test.noop",
		func(*workflow.Workflow, struct{}) (int, error) { return 1, nil }))
	h, err := workflow.Start(ctx, eng.Runner(), "test.noop", struct{}{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := h.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	rec := httptest.NewRecorder()
	eng.Metrics().Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `escrow_executions_started_total{workflow="test.noop"} 1`) {
		t.Errorf("metrics missing started counter:\n%s", body)
	}
	if !strings.Contains(body, `escrow_executions_finished_total{outcome="committed",workflow="test.noop"} 1`) {
		t.Errorf("metrics missing finished counter:\n%s", body)
	}
}

func TestEngine_StartSeedsWidgetAndStopIsClean(t *testing.T) {
	cfg := escrow.DefaultConfig()
	cfg.WidgetRestockLevel = 7
	eng, s := newEngine(t, engine.WithConfig(cfg))
	ctx := context.Background()

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	w, err := s.GetWidget(ctx)
	if err != nil {
		t.Fatalf("GetWidget: %v", err)
	}
	if w.Inventory != 7 {
		t.Errorf("inventory = %d, want 7", w.Inventory)
	}
	if eng.Recovery().NextRun().IsZero() {
		t.Error("recovery scheduler not started")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := eng.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
