package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/bank"
	"github.com/xraph/escrow/event"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/shop"
	pgstore "github.com/xraph/escrow/store/postgres"
	"github.com/xraph/escrow/workflow"
)

// newTestStore connects to ESCROW_TEST_POSTGRES_DSN and migrates it. The
// tests are skipped when the variable is unset.
func newTestStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("ESCROW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ESCROW_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	s, err := pgstore.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	// Migrating twice is a no-op.
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate again: %v", err)
	}
	return s
}

func uniqueKey(prefix string) string {
	return prefix + "-" + id.NewExecutionID().String()
}

func TestCheckpoints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exec := uniqueKey("cp")

	e := &workflow.Execution{Entity: escrow.NewEntity(), ID: exec, Name: "bank.deposit", State: workflow.StateRunning, StartedAt: time.Now().UTC()}
	if err := s.CreateExecution(ctx, e); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	if err := s.CreateExecution(ctx, e); !errors.Is(err, escrow.ErrExecutionExists) {
		t.Fatalf("duplicate: got %v, want %v", err, escrow.ErrExecutionExists)
	}

	for _, k := range []string{"a#1", "b#1"} {
		if err := s.SaveCheckpoint(ctx, exec, k, []byte(`"`+k+`"`)); err != nil {
			t.Fatalf("SaveCheckpoint: %v", err)
		}
	}
	_ = s.SaveCheckpoint(ctx, exec, "a#1", []byte(`"late"`))

	data, err := s.GetCheckpoint(ctx, exec, "a#1")
	if err != nil || string(data) != `"a#1"` {
		t.Fatalf("GetCheckpoint: got (%s, %v), want \"a#1\"", data, err)
	}

	if err := s.DeleteCheckpointsAfter(ctx, exec, "a#1"); err != nil {
		t.Fatalf("DeleteCheckpointsAfter: %v", err)
	}
	cps, _ := s.ListCheckpoints(ctx, exec)
	if len(cps) != 1 || cps[0].Key != "a#1" {
		t.Errorf("checkpoints after truncation: got %d", len(cps))
	}
}

func TestSignalOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exec := uniqueKey("sig")

	sig := &event.Signal{ID: id.NewSignalID(), ExecutionID: exec, Topic: "order_id", Value: []byte(`"7"`), CreatedAt: time.Now().UTC()}
	if err := s.PublishSignal(ctx, sig); err != nil {
		t.Fatalf("PublishSignal: %v", err)
	}
	if err := s.PublishSignal(ctx, sig); !errors.Is(err, escrow.ErrSignalExists) {
		t.Fatalf("duplicate: got %v, want %v", err, escrow.ErrSignalExists)
	}
	if got, _ := s.GetSignal(ctx, exec, "missing"); got != nil {
		t.Errorf("missing signal: got %v, want nil", got)
	}
}

func TestListenWakesMessageWait(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	exec := uniqueKey("listen")

	// An hour-long poll interval leaves the notification as the only
	// way the wait can return in time.
	bus := event.NewBus(s, event.WithPollInterval(time.Hour))

	type result struct {
		msg *event.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := bus.AwaitMessage(ctx, exec, "payment_status", 30*time.Second)
		done <- result{msg, err}
	}()

	// Give the waiter time to register its watch and read once.
	time.Sleep(300 * time.Millisecond)
	if _, err := bus.Send(ctx, exec, "payment_status", "paid"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case r := <-done:
		if r.err != nil || r.msg == nil {
			t.Fatalf("AwaitMessage = (%v, %v), want the sent message", r.msg, r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("AwaitMessage did not wake on NOTIFY")
	}
}

func TestBalanceNeverNegative(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	acct := &bank.Account{OwnerName: uniqueKey("owner"), Type: "checking"}
	if err := s.CreateAccount(ctx, acct); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	dep := &bank.TransactionRecord{ToAccountID: acct.ID, ToLocation: bank.LocationLocal, FromLocation: bank.LocationCash, Amount: 100}
	txn, err := s.ApplyTransaction(ctx, acct.ID, dep, true, 0)
	if err != nil || txn == 0 {
		t.Fatalf("deposit: got (%d, %v)", txn, err)
	}

	wd := &bank.TransactionRecord{FromAccountID: acct.ID, FromLocation: bank.LocationLocal, ToLocation: bank.LocationCash, Amount: 101}
	if _, err := s.ApplyTransaction(ctx, acct.ID, wd, false, 0); !errors.Is(err, escrow.ErrInsufficient) {
		t.Fatalf("overdraw: got %v, want %v", err, escrow.ErrInsufficient)
	}

	got, _ := s.GetAccount(ctx, acct.ID)
	if got.Balance != 100 {
		t.Errorf("balance: got %d, want 100", got.Balance)
	}

	undone, err := s.ApplyTransaction(ctx, acct.ID, dep, false, txn)
	if err != nil || undone != txn {
		t.Fatalf("reverse deposit: got (%d, %v), want %d", undone, err, txn)
	}
	history, _ := s.ListTransactions(ctx, acct.ID)
	if len(history) != 0 {
		t.Errorf("history after reversal: got %d, want 0", len(history))
	}
}

func TestUndoMissingTransactionRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	acct := &bank.Account{OwnerName: uniqueKey("owner"), Type: "checking", Balance: 100}
	if err := s.CreateAccount(ctx, acct); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	rec := &bank.TransactionRecord{FromAccountID: acct.ID, FromLocation: bank.LocationLocal, ToLocation: bank.LocationCash, Amount: 40}
	if _, err := s.ApplyTransaction(ctx, acct.ID, rec, false, -1); !errors.Is(err, escrow.ErrTransactionNotFound) {
		t.Fatalf("undo missing: got %v, want %v", err, escrow.ErrTransactionNotFound)
	}
	got, _ := s.GetAccount(ctx, acct.ID)
	if got.Balance != 100 {
		t.Errorf("balance after failed undo: got %d, want 100", got.Balance)
	}
}

func TestSubtractInventoryAllOrNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &shop.Product{Name: uniqueKey("pen"), Price: 100, Inventory: 5}
	b := &shop.Product{Name: uniqueKey("ink"), Price: 200, Inventory: 1}
	for _, p := range []*shop.Product{a, b} {
		if err := s.CreateProduct(ctx, p); err != nil {
			t.Fatalf("CreateProduct: %v", err)
		}
	}

	items := []shop.LineItem{{ProductID: a.ID, Quantity: 2}, {ProductID: b.ID, Quantity: 2}}
	if err := s.SubtractInventory(ctx, items); !errors.Is(err, escrow.ErrInsufficient) {
		t.Fatalf("SubtractInventory: got %v, want %v", err, escrow.ErrInsufficient)
	}
	got, _ := s.GetProduct(ctx, a.ID)
	if got.Inventory != 5 {
		t.Errorf("inventory of %s: got %d, want 5", a.Name, got.Inventory)
	}
}
