package widget_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/event"
	"github.com/xraph/escrow/saga"
	"github.com/xraph/escrow/store/memory"
	"github.com/xraph/escrow/widget"
	"github.com/xraph/escrow/workflow"
)

type harness struct {
	shop   *widget.Shop
	store  *memory.Store
	runner *workflow.Runner
}

func newHarness(t *testing.T, inventory int) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := escrow.DefaultConfig()
	cfg.ConfirmationTimeout = 5 * time.Second
	cfg.HandoffTimeout = 5 * time.Second
	cfg.ResultTimeout = 5 * time.Second
	cfg.DispatchSteps = 3
	cfg.DispatchInterval = time.Millisecond
	cfg.WidgetRestockLevel = 50

	s := memory.New()
	if err := s.PutWidget(context.Background(), &widget.Product{Name: "widget", Inventory: inventory, Price: 99.99}); err != nil {
		t.Fatalf("PutWidget: %v", err)
	}
	reg := workflow.NewRegistry()
	steps := workflow.NewSteps()
	sh := widget.New(s, cfg, widget.WithLogger(logger))
	sh.Register(reg, steps)

	r := workflow.NewRunner(reg, s, event.NewBus(s, event.WithPollInterval(2*time.Millisecond)),
		workflow.WithSteps(steps), workflow.WithLogger(logger))
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	return &harness{shop: sh, store: s, runner: r}
}

func (h *harness) inventory(t *testing.T) int {
	t.Helper()
	p, err := h.store.GetWidget(context.Background())
	if err != nil {
		t.Fatalf("GetWidget: %v", err)
	}
	return p.Inventory
}

func (h *harness) order(t *testing.T, orderID string) *widget.Order {
	t.Helper()
	n, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		t.Fatalf("order id %q: %v", orderID, err)
	}
	o, err := h.store.GetWidgetOrder(context.Background(), n)
	if err != nil {
		t.Fatalf("GetWidgetOrder: %v", err)
	}
	return o
}

func TestCheckout_PaidDispatches(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()

	paymentID, err := h.shop.Checkout(ctx, h.runner, "key-1")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if paymentID != "key-1" {
		t.Errorf("payment id = %q, want %q", paymentID, "key-1")
	}
	if got := h.inventory(t); got != 1 {
		t.Errorf("inventory = %d, want 1", got)
	}

	orderID, err := h.shop.Pay(ctx, h.runner.Bus(), paymentID, widget.PaymentPaid)
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	var o *widget.Order
	for time.Now().Before(deadline) {
		o = h.order(t, orderID)
		if o.Status == widget.OrderDispatched {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if o.Status != widget.OrderDispatched || o.ProgressRemaining != 0 {
		t.Errorf("order = (%v, %d), want (dispatched, 0)", o.Status, o.ProgressRemaining)
	}
	if got := h.inventory(t); got != 1 {
		t.Errorf("inventory after payment = %d, want 1", got)
	}
}

func TestCheckout_SameKeyReservesOnce(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	first, err := h.shop.Checkout(ctx, h.runner, "key-dup")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	second, err := h.shop.Checkout(ctx, h.runner, "key-dup")
	if err != nil {
		t.Fatalf("Checkout again: %v", err)
	}
	if first != second {
		t.Errorf("payment ids differ: %q vs %q", first, second)
	}
	if got := h.inventory(t); got != 4 {
		t.Errorf("inventory = %d, want 4", got)
	}
}

func TestCheckout_OutOfStock(t *testing.T) {
	h := newHarness(t, 0)

	_, err := h.shop.Checkout(context.Background(), h.runner, "key-empty")
	if !errors.Is(err, widget.ErrCheckoutFailed) {
		t.Fatalf("Checkout = %v, want %v", err, widget.ErrCheckoutFailed)
	}

	orders, err := h.store.ListWidgetOrders(context.Background())
	if err != nil {
		t.Fatalf("ListWidgetOrders: %v", err)
	}
	if len(orders) != 1 || orders[0].Status != widget.OrderCancelled {
		t.Errorf("orders = %v, want one cancelled order", orders)
	}
	if got := h.inventory(t); got != 0 {
		t.Errorf("inventory = %d, want 0", got)
	}
}

func TestCheckout_PaymentDeclined(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	paymentID, err := h.shop.Checkout(ctx, h.runner, "key-declined")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	orderID, err := h.shop.Pay(ctx, h.runner.Bus(), paymentID, "declined")
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}

	if o := h.order(t, orderID); o.Status != widget.OrderCancelled {
		t.Errorf("order status = %v, want %v", o.Status, widget.OrderCancelled)
	}
	if got := h.inventory(t); got != 1 {
		t.Errorf("inventory = %d, want 1", got)
	}
}

func TestCheckout_RequiresKey(t *testing.T) {
	h := newHarness(t, 1)
	if _, err := h.shop.Checkout(context.Background(), h.runner, ""); !errors.Is(err, saga.ErrInvalid) {
		t.Errorf("Checkout without key = %v, want %v", err, saga.ErrInvalid)
	}
}

func TestRestock(t *testing.T) {
	h := newHarness(t, 3)
	if err := h.shop.Restock(context.Background()); err != nil {
		t.Fatalf("Restock: %v", err)
	}
	if got := h.inventory(t); got != 50 {
		t.Errorf("inventory = %d, want 50", got)
	}
}
