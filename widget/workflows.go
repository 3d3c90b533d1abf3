package widget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/event"
	"github.com/xraph/escrow/saga"
	"github.com/xraph/escrow/workflow"
)

// Workflow names.
const (
	CheckoutWorkflow = "widget.checkout"
	DispatchWorkflow = "widget.dispatch"
)

// Signal and message topics of a checkout execution.
const (
	TopicPaymentID     = "payment_id"
	TopicPaymentStatus = "payment_status"
	TopicOrderID       = "order_id"
)

// Step names.
const (
	StepCreateOrder     = "widget.create_order"
	StepUpdateStatus    = "widget.update_order_status"
	StepUpdateProgress  = "widget.update_order_progress"
	reservationName     = "inventory"
	dispatchDelayName   = "widget.dispatch_delay"
	dispatchChildSuffix = "-dispatch"
)

// PaymentPaid is the payment status that pays an order.
const PaymentPaid = "paid"

// Errors returned by the checkout helpers.
var (
	ErrCheckoutFailed = errors.New("widget: checkout failed")
	ErrPaymentFailed  = errors.New("widget: payment failed to process")
)

// CheckoutResult is the output of a checkout execution.
type CheckoutResult struct {
	saga.Outcome
	OrderID int64 `json:"order_id"`
}

type statusInput struct {
	OrderID int64       `json:"order_id"`
	Status  OrderStatus `json:"status"`
}

// Option configures a Shop.
type Option func(*Shop)

// WithLogger sets the widget store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Shop) { s.logger = l }
}

// Shop runs widget checkouts and dispatches against a Store.
type Shop struct {
	store            Store
	confirmTimeout   time.Duration
	handoffTimeout   time.Duration
	resultTimeout    time.Duration
	restockLevel     int
	dispatchSteps    int
	dispatchInterval time.Duration
	logger           *slog.Logger
}

// New creates a Shop. cfg supplies the timeouts, the restock level and
// the dispatch progress shape.
func New(store Store, cfg escrow.Config, opts ...Option) *Shop {
	s := &Shop{
		store:            store,
		confirmTimeout:   cfg.ConfirmationTimeout,
		handoffTimeout:   cfg.HandoffTimeout,
		resultTimeout:    cfg.ResultTimeout,
		restockLevel:     cfg.WidgetRestockLevel,
		dispatchSteps:    cfg.DispatchSteps,
		dispatchInterval: cfg.DispatchInterval,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the widget store.
func (s *Shop) Store() Store { return s.store }

// Register adds the widget steps and workflows to the registries.
func (s *Shop) Register(reg *workflow.Registry, steps *workflow.Steps) {
	workflow.RegisterStep(steps, StepCreateOrder, func(ctx context.Context, progress int) (int64, error) {
		return s.store.CreateWidgetOrder(ctx, progress)
	})
	workflow.RegisterStep(steps, StepUpdateStatus, func(ctx context.Context, in statusInput) (int64, error) {
		return in.OrderID, s.store.UpdateWidgetOrderStatus(ctx, in.OrderID, in.Status)
	})
	workflow.RegisterStep(steps, StepUpdateProgress, func(ctx context.Context, orderID int64) (int, error) {
		return s.store.AdvanceWidgetDispatch(ctx, orderID)
	})

	workflow.RegisterDefinition(reg, workflow.NewWorkflow(CheckoutWorkflow, s.checkout))
	workflow.RegisterDefinition(reg, workflow.NewWorkflow(DispatchWorkflow, s.dispatch))
}

// Seed creates the widget at the restock level when it does not exist
// yet. An existing widget is left untouched.
func (s *Shop) Seed(ctx context.Context) error {
	_, err := s.store.GetWidget(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, escrow.ErrProductNotFound) {
		return fmt.Errorf("get widget: %w", err)
	}
	p := &Product{
		ID:          ProductID,
		Name:        "a pen",
		Description: "such a stylish pen",
		Inventory:   s.restockLevel,
		Price:       1000,
	}
	if err := s.store.PutWidget(ctx, p); err != nil {
		return fmt.Errorf("seed widget: %w", err)
	}
	return nil
}

// Restock sets the widget inventory to the configured level.
func (s *Shop) Restock(ctx context.Context) error {
	if err := s.store.RestockWidgets(ctx, s.restockLevel); err != nil {
		return fmt.Errorf("restock widgets: %w", err)
	}
	s.logger.Info("widgets restocked", slog.Int("inventory", s.restockLevel))
	return nil
}

func (s *Shop) checkout(wf *workflow.Workflow, _ struct{}) (CheckoutResult, error) {
	paymentID := wf.ExecutionID()
	logger := wf.Logger().With(slog.String("payment_id", paymentID))

	sg := saga.New(wf, TopicPaymentID, TopicOrderID)
	defer sg.Close()

	orderID, err := workflow.Call[int, int64](wf, StepCreateOrder, s.dispatchSteps)
	if err != nil {
		return s.settle(wf, 0, err)
	}
	logger = logger.With(slog.Int64("order_id", orderID))

	out := sg.Reserve(saga.Reservation{
		Name: reservationName,
		Do: func(ctx context.Context) error {
			ok, err := s.store.ReserveWidget(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return ErrOutOfStock
			}
			return nil
		},
		Undo: s.store.ReleaseWidget,
	})
	if !out.OK() {
		logger.Warn("no inventory", slog.String("outcome", out.String()))
		if out.Kind == saga.KindFatal {
			return CheckoutResult{Outcome: out, OrderID: orderID}, out.Err()
		}
		if err := s.setStatus(wf, orderID, OrderCancelled); err != nil {
			return s.settle(wf, orderID, err)
		}
		return CheckoutResult{Outcome: out, OrderID: orderID}, nil
	}

	if _, err := sg.Handoff(TopicPaymentID, func() (any, bool) { return paymentID, true }); err != nil {
		return CheckoutResult{OrderID: orderID}, err
	}

	decision, err := sg.Await(TopicPaymentStatus, s.confirmTimeout, saga.Equals(PaymentPaid), nil)
	if err != nil {
		return CheckoutResult{OrderID: orderID}, err
	}

	if decision.Commits() {
		logger.Info("payment success")
		err := sg.Commit(func() error {
			if err := s.setStatus(wf, orderID, OrderPaid); err != nil {
				return err
			}
			_, err := workflow.SpawnChild(wf, paymentID+dispatchChildSuffix, DispatchWorkflow, orderID)
			return err
		})
		if err != nil {
			return s.settle(wf, orderID, err)
		}
		return s.finish(sg, orderID, saga.OK("Order paid"))
	}

	logger.Warn("payment failed", slog.String("decision", string(decision)))
	if err := sg.Abort(func() error { return s.setStatus(wf, orderID, OrderCancelled) }); err != nil {
		return s.settle(wf, orderID, err)
	}
	return s.finish(sg, orderID, saga.Outcome{Kind: saga.KindRemoteUnreachable, Detail: "Payment failed"})
}

func (s *Shop) dispatch(wf *workflow.Workflow, orderID int64) (int, error) {
	remaining := s.dispatchSteps
	for i := 0; i < s.dispatchSteps; i++ {
		if err := wf.Sleep(dispatchDelayName, s.dispatchInterval); err != nil {
			wf.Logger().Error("dispatch delay failed", slog.Int64("order_id", orderID), slog.String("error", err.Error()))
			return remaining, err
		}
		left, err := workflow.Call[int64, int](wf, StepUpdateProgress, orderID)
		if err != nil {
			wf.Logger().Error("progress tracking failed", slog.Int64("order_id", orderID), slog.String("error", err.Error()))
			return remaining, err
		}
		remaining = left
	}
	return remaining, nil
}

func (s *Shop) setStatus(wf *workflow.Workflow, orderID int64, status OrderStatus) error {
	_, err := workflow.Call[statusInput, int64](wf, StepUpdateStatus, statusInput{OrderID: orderID, Status: status})
	return err
}

func (s *Shop) finish(sg *saga.Saga, orderID int64, out saga.Outcome) (CheckoutResult, error) {
	if err := sg.Notify(TopicOrderID, strconv.FormatInt(orderID, 10)); err != nil {
		return CheckoutResult{Outcome: out, OrderID: orderID}, err
	}
	return CheckoutResult{Outcome: out, OrderID: orderID}, nil
}

func (s *Shop) settle(wf *workflow.Workflow, orderID int64, err error) (CheckoutResult, error) {
	out, fatal := saga.Resolve(err)
	if fatal != nil {
		return CheckoutResult{Outcome: out, OrderID: orderID}, fatal
	}
	wf.MarkCompensated()
	return CheckoutResult{Outcome: out, OrderID: orderID}, nil
}

// Checkout starts (or joins) the checkout keyed by idempotencyKey and
// waits for its payment ID. A checkout that could not reserve a widget
// returns ErrCheckoutFailed.
func (s *Shop) Checkout(ctx context.Context, r *workflow.Runner, idempotencyKey string) (string, error) {
	if idempotencyKey == "" {
		return "", saga.Invalid("idempotency key is required")
	}
	h, err := workflow.StartOrResume(ctx, r, idempotencyKey, CheckoutWorkflow, struct{}{})
	if err != nil {
		return "", fmt.Errorf("start widget checkout: %w", err)
	}
	return awaitString(ctx, r.Bus(), h.ID(), TopicPaymentID, s.handoffTimeout, ErrCheckoutFailed)
}

// Pay delivers a payment status to the checkout paymentID and waits for
// the resulting order ID.
func (s *Shop) Pay(ctx context.Context, bus *event.Bus, paymentID, status string) (string, error) {
	if _, err := bus.Send(ctx, paymentID, TopicPaymentStatus, status); err != nil {
		return "", fmt.Errorf("send payment status: %w", err)
	}
	return awaitString(ctx, bus, paymentID, TopicOrderID, s.resultTimeout, ErrPaymentFailed)
}

func awaitString(ctx context.Context, bus *event.Bus, executionID, topic string, timeout time.Duration, missing error) (string, error) {
	sig, err := bus.AwaitSignal(ctx, executionID, topic, timeout)
	if err != nil {
		return "", err
	}
	v, ok, err := event.Decode[string](sig)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", topic, err)
	}
	if !ok || v == "" {
		return "", fmt.Errorf("%w: no %s for %s", missing, topic, executionID)
	}
	return v, nil
}
