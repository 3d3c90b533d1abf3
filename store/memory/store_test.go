package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/bank"
	"github.com/xraph/escrow/dlq"
	"github.com/xraph/escrow/event"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/payment"
	"github.com/xraph/escrow/shop"
	"github.com/xraph/escrow/widget"
	"github.com/xraph/escrow/workflow"
)

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", func() error { return s.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Workflow Store tests
// ──────────────────────────────────────────────────

func newExecution(execID, name string) *workflow.Execution {
	return &workflow.Execution{
		Entity:    escrow.NewEntity(),
		ID:        execID,
		Name:      name,
		State:     workflow.StateRunning,
		StartedAt: time.Now().UTC(),
	}
}

func TestExecutionCreateAndGet(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	e := newExecution("order-1", "shop.checkout")
	if err := s.CreateExecution(ctx, e); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}
	if err := s.CreateExecution(ctx, e); !errors.Is(err, escrow.ErrExecutionExists) {
		t.Fatalf("duplicate CreateExecution: got %v, want %v", err, escrow.ErrExecutionExists)
	}

	got, err := s.GetExecution(ctx, "order-1")
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Name != "shop.checkout" {
		t.Errorf("Name: got %q, want %q", got.Name, "shop.checkout")
	}

	got.State = workflow.StateCommitted
	again, _ := s.GetExecution(ctx, "order-1")
	if again.State != workflow.StateRunning {
		t.Errorf("stored execution mutated through returned copy: state %q", again.State)
	}

	if _, err := s.GetExecution(ctx, "missing"); !errors.Is(err, escrow.ErrExecutionNotFound) {
		t.Errorf("GetExecution missing: got %v, want %v", err, escrow.ErrExecutionNotFound)
	}
}

func TestExecutionUpdateAndList(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	for _, execID := range []string{"a", "b", "c"} {
		if err := s.CreateExecution(ctx, newExecution(execID, "bank.deposit")); err != nil {
			t.Fatalf("CreateExecution(%s): %v", execID, err)
		}
	}
	child := newExecution("a-dispatch", "widget.dispatch")
	child.ParentID = "a"
	if err := s.CreateExecution(ctx, child); err != nil {
		t.Fatalf("CreateExecution(child): %v", err)
	}

	b, _ := s.GetExecution(ctx, "b")
	b.State = workflow.StateCommitted
	if err := s.UpdateExecution(ctx, b); err != nil {
		t.Fatalf("UpdateExecution: %v", err)
	}
	if err := s.UpdateExecution(ctx, newExecution("zzz", "x")); !errors.Is(err, escrow.ErrExecutionNotFound) {
		t.Errorf("UpdateExecution missing: got %v, want %v", err, escrow.ErrExecutionNotFound)
	}

	running, err := s.ListExecutions(ctx, workflow.ListOpts{State: workflow.StateRunning, Name: "bank.deposit"})
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(running) != 2 {
		t.Errorf("running deposits: got %d, want 2", len(running))
	}

	limited, _ := s.ListExecutions(ctx, workflow.ListOpts{Limit: 1, Offset: 1})
	if len(limited) != 1 {
		t.Errorf("paged executions: got %d, want 1", len(limited))
	}

	stale, _ := s.ListExecutions(ctx, workflow.ListOpts{UpdatedBefore: time.Now().Add(-time.Hour)})
	if len(stale) != 0 {
		t.Errorf("stale executions: got %d, want 0", len(stale))
	}

	children, err := s.ListChildExecutions(ctx, "a")
	if err != nil {
		t.Fatalf("ListChildExecutions: %v", err)
	}
	if len(children) != 1 || children[0].ID != "a-dispatch" {
		t.Errorf("children of a: got %v, want [a-dispatch]", children)
	}
}

func TestCheckpoints(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	for i, key := range []string{"get_cart#1", "create_order#1", "reserve:inventory#1"} {
		data := []byte{byte('0' + i)}
		if err := s.SaveCheckpoint(ctx, "x", key, data); err != nil {
			t.Fatalf("SaveCheckpoint(%s): %v", key, err)
		}
	}

	// The first write for a key wins.
	if err := s.SaveCheckpoint(ctx, "x", "get_cart#1", []byte("9")); err != nil {
		t.Fatalf("SaveCheckpoint overwrite: %v", err)
	}
	data, err := s.GetCheckpoint(ctx, "x", "get_cart#1")
	if err != nil {
		t.Fatalf("GetCheckpoint: %v", err)
	}
	if string(data) != "0" {
		t.Errorf("checkpoint data: got %q, want %q", data, "0")
	}

	missing, err := s.GetCheckpoint(ctx, "x", "nope#1")
	if err != nil || missing != nil {
		t.Errorf("GetCheckpoint missing: got (%v, %v), want (nil, nil)", missing, err)
	}

	if err := s.DeleteCheckpointsAfter(ctx, "x", "get_cart#1"); err != nil {
		t.Fatalf("DeleteCheckpointsAfter: %v", err)
	}
	cps, _ := s.ListCheckpoints(ctx, "x")
	if len(cps) != 1 || cps[0].Key != "get_cart#1" {
		t.Fatalf("checkpoints after truncation: got %d, want [get_cart#1]", len(cps))
	}

	if err := s.DeleteCheckpointsAfter(ctx, "x", "unknown#1"); !errors.Is(err, escrow.ErrCheckpointNotFound) {
		t.Errorf("DeleteCheckpointsAfter unknown: got %v, want %v", err, escrow.ErrCheckpointNotFound)
	}
	if err := s.DeleteCheckpointsAfter(ctx, "x", ""); err != nil {
		t.Fatalf("DeleteCheckpointsAfter all: %v", err)
	}
	cps, _ = s.ListCheckpoints(ctx, "x")
	if len(cps) != 0 {
		t.Errorf("checkpoints after delete all: got %d, want 0", len(cps))
	}
}

// ──────────────────────────────────────────────────
// Event Store tests
// ──────────────────────────────────────────────────

func TestSignals(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	sig := &event.Signal{ID: id.NewSignalID(), ExecutionID: "e1", Topic: "order_id", Value: []byte("7")}
	if err := s.PublishSignal(ctx, sig); err != nil {
		t.Fatalf("PublishSignal: %v", err)
	}
	dup := &event.Signal{ID: id.NewSignalID(), ExecutionID: "e1", Topic: "order_id", Value: []byte("8")}
	if err := s.PublishSignal(ctx, dup); !errors.Is(err, escrow.ErrSignalExists) {
		t.Fatalf("duplicate PublishSignal: got %v, want %v", err, escrow.ErrSignalExists)
	}

	got, err := s.GetSignal(ctx, "e1", "order_id")
	if err != nil {
		t.Fatalf("GetSignal: %v", err)
	}
	if string(got.Value) != "7" {
		t.Errorf("signal value: got %q, want %q", got.Value, "7")
	}
	if none, _ := s.GetSignal(ctx, "e1", "payment_id"); none != nil {
		t.Errorf("unpublished signal: got %v, want nil", none)
	}
}

func TestMessagesFIFO(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	first := &event.Message{ID: id.NewMessageID(), ExecutionID: "e1", Topic: "t", Payload: []byte(`"a"`)}
	second := &event.Message{ID: id.NewMessageID(), ExecutionID: "e1", Topic: "t", Payload: []byte(`"b"`)}
	other := &event.Message{ID: id.NewMessageID(), ExecutionID: "e2", Topic: "t", Payload: []byte(`"c"`)}
	for _, m := range []*event.Message{first, second, other} {
		if err := s.SendMessage(ctx, m); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
	}

	next, err := s.NextMessage(ctx, "e1", "t")
	if err != nil {
		t.Fatalf("NextMessage: %v", err)
	}
	if string(next.Payload) != `"a"` {
		t.Fatalf("first message: got %s, want \"a\"", next.Payload)
	}
	if err := s.ConsumeMessage(ctx, next.ID); err != nil {
		t.Fatalf("ConsumeMessage: %v", err)
	}

	next, _ = s.NextMessage(ctx, "e1", "t")
	if string(next.Payload) != `"b"` {
		t.Errorf("second message: got %s, want \"b\"", next.Payload)
	}

	if err := s.ConsumeMessage(ctx, id.NewMessageID()); !errors.Is(err, escrow.ErrMessageNotFound) {
		t.Errorf("ConsumeMessage unknown: got %v, want %v", err, escrow.ErrMessageNotFound)
	}
}

// ──────────────────────────────────────────────────
// DLQ Store tests
// ──────────────────────────────────────────────────

func TestDLQ(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)
	due := &dlq.Entry{ID: id.NewDeadLetterID(), ExecutionID: "e1", Workflow: "bank.deposit", NextRetryAt: &past, FailedAt: past}
	later := &dlq.Entry{ID: id.NewDeadLetterID(), ExecutionID: "e2", Workflow: "shop.checkout", NextRetryAt: &future, FailedAt: time.Now().UTC()}
	for _, e := range []*dlq.Entry{due, later} {
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
	}

	dueNow, err := s.ListDLQ(ctx, dlq.ListOpts{DueBefore: time.Now().UTC()})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(dueNow) != 1 || dueNow[0].ExecutionID != "e1" {
		t.Fatalf("due entries: got %d, want [e1]", len(dueNow))
	}

	byExec, err := s.GetDLQByExecution(ctx, "e2")
	if err != nil {
		t.Fatalf("GetDLQByExecution: %v", err)
	}
	now := time.Now().UTC()
	byExec.ResolvedAt = &now
	if err := s.UpdateDLQ(ctx, byExec); err != nil {
		t.Fatalf("UpdateDLQ: %v", err)
	}
	got, _ := s.GetDLQ(ctx, byExec.ID)
	if !got.Resolved() {
		t.Error("entry not resolved after UpdateDLQ")
	}

	if _, err := s.GetDLQ(ctx, id.NewDeadLetterID()); !errors.Is(err, escrow.ErrDeadLetterNotFound) {
		t.Errorf("GetDLQ missing: got %v, want %v", err, escrow.ErrDeadLetterNotFound)
	}

	purged, _ := s.PurgeDLQ(ctx, now.Add(-time.Second))
	if purged != 1 {
		t.Errorf("purged: got %d, want 1", purged)
	}
	if n, _ := s.CountDLQ(ctx); n != 1 {
		t.Errorf("count: got %d, want 1", n)
	}
}

// ──────────────────────────────────────────────────
// Bank Store tests
// ──────────────────────────────────────────────────

func TestApplyTransaction(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	acct := &bank.Account{OwnerName: "alice", Type: "checking"}
	if err := s.CreateAccount(ctx, acct); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	rec := &bank.TransactionRecord{ToAccountID: acct.ID, ToLocation: bank.LocationLocal, FromLocation: bank.LocationCash, Amount: 100}
	txn, err := s.ApplyTransaction(ctx, acct.ID, rec, true, 0)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}

	withdraw := &bank.TransactionRecord{FromAccountID: acct.ID, FromLocation: bank.LocationLocal, ToLocation: bank.LocationCash, Amount: 150}
	if _, err := s.ApplyTransaction(ctx, acct.ID, withdraw, false, 0); !errors.Is(err, bank.ErrNotEnoughBalance) {
		t.Fatalf("overdraft: got %v, want %v", err, bank.ErrNotEnoughBalance)
	}

	undone, err := s.ApplyTransaction(ctx, acct.ID, rec, false, txn)
	if err != nil {
		t.Fatalf("undo deposit: %v", err)
	}
	if undone != txn {
		t.Errorf("undo txn: got %d, want %d", undone, txn)
	}
	got, _ := s.GetAccount(ctx, acct.ID)
	if got.Balance != 0 {
		t.Errorf("balance after undo: got %d, want 0", got.Balance)
	}
	if hist, _ := s.ListTransactions(ctx, acct.ID); len(hist) != 0 {
		t.Errorf("history after undo: got %d records, want 0", len(hist))
	}

	if _, err := s.GetAccount(ctx, 999); !errors.Is(err, escrow.ErrAccountNotFound) {
		t.Errorf("GetAccount missing: got %v, want %v", err, escrow.ErrAccountNotFound)
	}
}

func TestApplyTransaction_UndoMissingRecordKeepsBalance(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	acct := &bank.Account{OwnerName: "carol", Type: "checking", Balance: 100}
	if err := s.CreateAccount(ctx, acct); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	rec := &bank.TransactionRecord{FromAccountID: acct.ID, FromLocation: bank.LocationLocal, ToLocation: bank.LocationCash, Amount: 40}
	undone, err := s.ApplyTransaction(ctx, acct.ID, rec, false, 999)
	if !errors.Is(err, escrow.ErrTransactionNotFound) {
		t.Fatalf("undo missing: got (%d, %v), want %v", undone, err, escrow.ErrTransactionNotFound)
	}
	got, _ := s.GetAccount(ctx, acct.ID)
	if got.Balance != 100 {
		t.Errorf("balance after failed undo: got %d, want 100", got.Balance)
	}
}

func TestTransfer(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	from := &bank.Account{OwnerName: "alice", Balance: 50}
	to := &bank.Account{OwnerName: "bob"}
	_ = s.CreateAccount(ctx, from)
	_ = s.CreateAccount(ctx, to)

	rec := &bank.TransactionRecord{
		FromAccountID: from.ID, FromLocation: bank.LocationLocal,
		ToAccountID: to.ID, ToLocation: bank.LocationLocal,
		Amount: 30,
	}
	if _, err := s.Transfer(ctx, rec); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	rec.Amount = 30
	if _, err := s.Transfer(ctx, rec); !errors.Is(err, bank.ErrNotEnoughBalance) {
		t.Fatalf("second Transfer: got %v, want %v", err, bank.ErrNotEnoughBalance)
	}

	a, _ := s.GetAccount(ctx, from.ID)
	b, _ := s.GetAccount(ctx, to.ID)
	if a.Balance != 20 || b.Balance != 30 {
		t.Errorf("balances: got (%d, %d), want (20, 30)", a.Balance, b.Balance)
	}
}

// ──────────────────────────────────────────────────
// Shop Store tests
// ──────────────────────────────────────────────────

func TestSubtractInventoryAllOrNothing(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	pen := &shop.Product{Name: "pen", Price: 150, Inventory: 5}
	ink := &shop.Product{Name: "ink", Price: 300, Inventory: 1}
	_ = s.CreateProduct(ctx, pen)
	_ = s.CreateProduct(ctx, ink)

	items := []shop.LineItem{
		{ProductID: pen.ID, Quantity: 2},
		{ProductID: ink.ID, Quantity: 2},
	}
	if err := s.SubtractInventory(ctx, items); !errors.Is(err, escrow.ErrInsufficient) {
		t.Fatalf("SubtractInventory: got %v, want %v", err, escrow.ErrInsufficient)
	}
	got, _ := s.GetProduct(ctx, pen.ID)
	if got.Inventory != 5 {
		t.Errorf("pen inventory after failed subtract: got %d, want 5", got.Inventory)
	}

	if err := s.SubtractInventory(ctx, items[:1]); err != nil {
		t.Fatalf("SubtractInventory pen: %v", err)
	}
	if err := s.RestoreInventory(ctx, items[:1]); err != nil {
		t.Fatalf("RestoreInventory: %v", err)
	}
	got, _ = s.GetProduct(ctx, pen.ID)
	if got.Inventory != 5 {
		t.Errorf("pen inventory after restore: got %d, want 5", got.Inventory)
	}
}

func TestCartAndOrders(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	pen := &shop.Product{Name: "pen", Price: 150, Inventory: 5}
	_ = s.CreateProduct(ctx, pen)

	for range 3 {
		if err := s.AddToCart(ctx, "alice", pen.ID); err != nil {
			t.Fatalf("AddToCart: %v", err)
		}
	}
	if err := s.AddToCart(ctx, "alice", 42); !errors.Is(err, escrow.ErrProductNotFound) {
		t.Errorf("AddToCart unknown product: got %v, want %v", err, escrow.ErrProductNotFound)
	}

	cart, _ := s.GetCart(ctx, "alice")
	if len(cart) != 1 || cart[0].Quantity != 3 || cart[0].Price != 150 {
		t.Fatalf("cart: got %+v, want one line of 3 at 150", cart)
	}

	orderID, err := s.CreateOrder(ctx, &shop.Order{Username: "alice", ExecutionID: "checkout-1"}, cart)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if err := s.SetOrderPaymentSession(ctx, orderID, "psess_1"); err != nil {
		t.Fatalf("SetOrderPaymentSession: %v", err)
	}
	if err := s.UpdateOrderStatus(ctx, orderID, shop.OrderFulfilled); err != nil {
		t.Fatalf("UpdateOrderStatus: %v", err)
	}

	o, err := s.GetOrderByExecution(ctx, "checkout-1")
	if err != nil {
		t.Fatalf("GetOrderByExecution: %v", err)
	}
	if o.ID != orderID || o.Status != shop.OrderFulfilled || o.PaymentSessionID != "psess_1" {
		t.Errorf("order: got %+v", o)
	}
	lines, _ := s.ListOrderItems(ctx, orderID)
	if len(lines) != 1 || lines[0].Quantity != 3 {
		t.Errorf("order items: got %+v", lines)
	}

	_ = s.ClearCart(ctx, "alice")
	if cart, _ := s.GetCart(ctx, "alice"); len(cart) != 0 {
		t.Errorf("cart after clear: got %d lines, want 0", len(cart))
	}
	if _, err := s.GetOrder(ctx, 999); !errors.Is(err, escrow.ErrOrderNotFound) {
		t.Errorf("GetOrder missing: got %v, want %v", err, escrow.ErrOrderNotFound)
	}
}

// ──────────────────────────────────────────────────
// Widget Store tests
// ──────────────────────────────────────────────────

func TestWidgetReserveAndDispatch(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	if _, err := s.GetWidget(ctx); !errors.Is(err, escrow.ErrProductNotFound) {
		t.Fatalf("GetWidget before put: got %v, want %v", err, escrow.ErrProductNotFound)
	}
	_ = s.PutWidget(ctx, &widget.Product{Name: "widget", Inventory: 1, Price: 99.99})

	ok, err := s.ReserveWidget(ctx)
	if err != nil || !ok {
		t.Fatalf("first ReserveWidget: got (%v, %v), want (true, nil)", ok, err)
	}
	ok, _ = s.ReserveWidget(ctx)
	if ok {
		t.Fatal("second ReserveWidget succeeded with empty inventory")
	}
	_ = s.ReleaseWidget(ctx)
	_ = s.RestockWidgets(ctx, 100)
	p, _ := s.GetWidget(ctx)
	if p.Inventory != 100 || p.ID != widget.ProductID {
		t.Errorf("widget: got %+v, want inventory 100 id %d", p, widget.ProductID)
	}

	orderID, _ := s.CreateWidgetOrder(ctx, 2)
	if left, _ := s.AdvanceWidgetDispatch(ctx, orderID); left != 1 {
		t.Errorf("progress: got %d, want 1", left)
	}
	if left, _ := s.AdvanceWidgetDispatch(ctx, orderID); left != 0 {
		t.Errorf("progress: got %d, want 0", left)
	}
	o, _ := s.GetWidgetOrder(ctx, orderID)
	if o.Status != widget.OrderDispatched {
		t.Errorf("status: got %v, want %v", o.Status, widget.OrderDispatched)
	}
	orders, _ := s.ListWidgetOrders(ctx)
	if len(orders) != 1 {
		t.Errorf("orders: got %d, want 1", len(orders))
	}
}

// ──────────────────────────────────────────────────
// Payment Store tests
// ──────────────────────────────────────────────────

func TestPaymentSessions(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	sess := &payment.Session{ID: "psess_1", Status: payment.StatusPending, SuccessURL: "s", CancelURL: "c"}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.UpdateSessionStatus(ctx, "psess_1", payment.StatusPaid); err != nil {
		t.Fatalf("UpdateSessionStatus: %v", err)
	}
	// Creating again does not reset the status.
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession again: %v", err)
	}
	got, _ := s.GetSession(ctx, "psess_1")
	if got.Status != payment.StatusPaid {
		t.Errorf("status: got %q, want %q", got.Status, payment.StatusPaid)
	}
	if _, err := s.GetSession(ctx, "nope"); !errors.Is(err, escrow.ErrSessionNotFound) {
		t.Errorf("GetSession missing: got %v, want %v", err, escrow.ErrSessionNotFound)
	}
}
