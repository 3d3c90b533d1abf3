package shop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/event"
	"github.com/xraph/escrow/payment"
	"github.com/xraph/escrow/saga"
	"github.com/xraph/escrow/workflow"
)

// CheckoutWorkflow is the workflow name of a checkout.
const CheckoutWorkflow = "shop.checkout"

// Signal and message topics of a checkout execution.
const (
	TopicCheckoutURL      = "payment_checkout_url"
	TopicCheckoutComplete = "payment_checkout_complete"
	TopicOrderID          = "order_id"
)

// Step names.
const (
	StepGetCart       = "shop.get_cart"
	StepCreateOrder   = "shop.create_order"
	StepCreateSession = "shop.create_payment_session"
	StepSetSession    = "shop.set_payment_session"
	StepFulfillOrder  = "shop.fulfill_order"
	StepCancelOrder   = "shop.cancel_order"
	StepClearCart     = "shop.clear_cart"
)

// Checkout result messages.
const (
	MsgOrderFulfilled     = "Order fulfilled"
	MsgEmptyCart          = "Empty cart"
	MsgPaymentUnavailable = "Payment session unavailable"
	MsgPaymentNotReceived = "Payment not received"
)

// Errors returned by the shop.
var (
	ErrInsufficientInventory = saga.Insufficient(MsgInsufficientInventory)

	// ErrWebhookDropped is returned for a payment notification that
	// cannot be tied to a waiting checkout. It is not retried.
	ErrWebhookDropped = errors.New("shop: payment webhook dropped")
)

// CheckoutInput is the input of a checkout execution.
type CheckoutInput struct {
	Username string `json:"username"`
	Origin   string `json:"origin"`
}

// CheckoutResult is the output of a checkout execution.
type CheckoutResult struct {
	saga.Outcome
	OrderID int64 `json:"order_id,omitempty"`
}

type createOrderInput struct {
	Username    string     `json:"username"`
	ExecutionID string     `json:"execution_id"`
	Items       []LineItem `json:"items"`
}

type orderSession struct {
	OrderID   int64  `json:"order_id"`
	SessionID string `json:"session_id"`
}

// Option configures a Shop.
type Option func(*Shop)

// WithLogger sets the shop logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Shop) { s.logger = l }
}

// Shop wires the storefront store, the payment processor callout and the
// event bus into the checkout workflow.
type Shop struct {
	store          Store
	callout        *saga.Callout
	paymentHost    string
	localHost      string
	confirmTimeout time.Duration
	handoffTimeout time.Duration
	logger         *slog.Logger
}

// New creates a Shop. cfg supplies the payment and local hosts and the
// confirmation and handoff timeouts.
func New(store Store, callout *saga.Callout, cfg escrow.Config, opts ...Option) *Shop {
	s := &Shop{
		store:          store,
		callout:        callout,
		paymentHost:    strings.TrimSuffix(cfg.PaymentHost, "/"),
		localHost:      strings.TrimSuffix(cfg.LocalHost, "/"),
		confirmTimeout: cfg.ConfirmationTimeout,
		handoffTimeout: cfg.HandoffTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the storefront store.
func (s *Shop) Store() Store { return s.store }

// Seed adds products to an empty catalog. A catalog that already has
// products is left untouched.
func (s *Shop) Seed(ctx context.Context, products ...Product) error {
	existing, err := s.store.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("list products: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}
	for i := range products {
		if err := s.store.CreateProduct(ctx, &products[i]); err != nil {
			return fmt.Errorf("seed product %q: %w", products[i].Name, err)
		}
	}
	return nil
}

// Register adds the checkout steps and workflow to the registries.
func (s *Shop) Register(reg *workflow.Registry, steps *workflow.Steps) {
	workflow.RegisterStep(steps, StepGetCart, func(ctx context.Context, username string) ([]LineItem, error) {
		return s.store.GetCart(ctx, username)
	})
	workflow.RegisterStep(steps, StepCreateOrder, func(ctx context.Context, in createOrderInput) (int64, error) {
		return s.store.CreateOrder(ctx, &Order{
			Username:    in.Username,
			Status:      OrderPending,
			ExecutionID: in.ExecutionID,
		}, in.Items)
	})
	workflow.RegisterStep(steps, StepSetSession, func(ctx context.Context, in orderSession) (int64, error) {
		return in.OrderID, s.store.SetOrderPaymentSession(ctx, in.OrderID, in.SessionID)
	})
	workflow.RegisterStep(steps, StepFulfillOrder, func(ctx context.Context, orderID int64) (int64, error) {
		return orderID, s.store.UpdateOrderStatus(ctx, orderID, OrderFulfilled)
	})
	workflow.RegisterStep(steps, StepCancelOrder, func(ctx context.Context, orderID int64) (int64, error) {
		return orderID, s.store.UpdateOrderStatus(ctx, orderID, OrderCancelled)
	})
	workflow.RegisterStep(steps, StepClearCart, func(ctx context.Context, username string) (string, error) {
		return username, s.store.ClearCart(ctx, username)
	})

	workflow.RegisterDefinition(reg, workflow.NewWorkflow(CheckoutWorkflow, s.checkout))
}

func (s *Shop) checkout(wf *workflow.Workflow, in CheckoutInput) (CheckoutResult, error) {
	logger := wf.Logger().With(slog.String("username", in.Username))

	sg := saga.New(wf, TopicCheckoutURL, TopicOrderID)
	defer sg.Close()

	items, err := workflow.Call[string, []LineItem](wf, StepGetCart, in.Username)
	if err != nil {
		return s.settle(wf, 0, err)
	}
	if len(items) == 0 {
		logger.Error("checkout failed: empty cart")
		wf.MarkCompensated()
		return CheckoutResult{Outcome: saga.Outcome{Kind: saga.KindInvalid, Detail: MsgEmptyCart}}, nil
	}

	orderID, err := workflow.Call[createOrderInput, int64](wf, StepCreateOrder, createOrderInput{
		Username:    in.Username,
		ExecutionID: wf.ExecutionID(),
		Items:       items,
	})
	if err != nil {
		return s.settle(wf, 0, err)
	}
	logger = logger.With(slog.Int64("order_id", orderID))

	if out := sg.Reserve(s.reservations(items)...); !out.OK() {
		logger.Error("checkout failed: inventory reservation", slog.String("outcome", out.String()))
		if out.Kind == saga.KindFatal {
			return CheckoutResult{Outcome: out, OrderID: orderID}, out.Err()
		}
		if _, err := workflow.Call[int64, int64](wf, StepCancelOrder, orderID); err != nil {
			return s.settle(wf, orderID, err)
		}
		return CheckoutResult{Outcome: out, OrderID: orderID}, nil
	}

	session, err := workflow.StepWithResult(wf, StepCreateSession, func(ctx context.Context) (payment.SessionView, error) {
		return s.createSession(ctx, wf.ExecutionID(), in.Origin, items)
	})
	if err != nil {
		return s.settle(wf, orderID, err)
	}

	if session.SessionID != "" {
		if _, err := workflow.Call[orderSession, int64](wf, StepSetSession, orderSession{
			OrderID:   orderID,
			SessionID: session.SessionID,
		}); err != nil {
			return s.settle(wf, orderID, err)
		}
	}

	handed, err := sg.Handoff(TopicCheckoutURL, func() (any, bool) {
		return session.URL, session.URL != ""
	})
	if err != nil {
		return CheckoutResult{OrderID: orderID}, err
	}
	if !handed {
		logger.Error("checkout failed: couldn't create payment session")
		if err := sg.Abort(func() error { return s.cancelOrder(wf, orderID) }); err != nil {
			return CheckoutResult{OrderID: orderID}, err
		}
		return s.finish(sg, orderID, saga.Outcome{Kind: saga.KindRemoteUnreachable, Detail: MsgPaymentUnavailable})
	}

	decision, err := sg.Await(TopicCheckoutComplete, s.confirmTimeout, saga.Equals(payment.StatusPaid),
		func(ctx context.Context) (bool, error) {
			return s.retrieveSession(ctx, session.SessionID)
		})
	if err != nil {
		return CheckoutResult{OrderID: orderID}, err
	}

	if decision.Commits() {
		err := sg.Commit(func() error {
			if _, err := workflow.Call[int64, int64](wf, StepFulfillOrder, orderID); err != nil {
				return err
			}
			_, err := workflow.Call[string, string](wf, StepClearCart, in.Username)
			return err
		})
		if err != nil {
			return s.settle(wf, orderID, err)
		}
		logger.Info("checkout fulfilled", slog.String("decision", string(decision)))
		return s.finish(sg, orderID, saga.OK(MsgOrderFulfilled))
	}

	logger.Warn("checkout failed: payment not received", slog.String("decision", string(decision)))
	err = sg.Abort(func() error {
		if err := s.cancelOrder(wf, orderID); err != nil {
			return err
		}
		// An explicit cancellation keeps the cart so the customer can try
		// again; a payment that never arrived clears it.
		if decision == saga.Declined {
			return nil
		}
		_, err := workflow.Call[string, string](wf, StepClearCart, in.Username)
		return err
	})
	if err != nil {
		return s.settle(wf, orderID, err)
	}
	return s.finish(sg, orderID, saga.Outcome{Kind: saga.KindRemoteUnreachable, Detail: MsgPaymentNotReceived})
}

// reservations returns one inventory reservation per cart line, so a
// shortfall on a later line undoes the earlier ones.
func (s *Shop) reservations(items []LineItem) []saga.Reservation {
	rs := make([]saga.Reservation, len(items))
	for i, item := range items {
		line := []LineItem{item}
		rs[i] = saga.Reservation{
			Name: fmt.Sprintf("inventory:%d", item.ProductID),
			Do: func(ctx context.Context) error {
				return s.store.SubtractInventory(ctx, line)
			},
			Undo: func(ctx context.Context) error {
				return s.store.RestoreInventory(ctx, line)
			},
		}
	}
	return rs
}

func (s *Shop) cancelOrder(wf *workflow.Workflow, orderID int64) error {
	_, err := workflow.Call[int64, int64](wf, StepCancelOrder, orderID)
	return err
}

func (s *Shop) finish(sg *saga.Saga, orderID int64, out saga.Outcome) (CheckoutResult, error) {
	if err := sg.Notify(TopicOrderID, orderID); err != nil {
		return CheckoutResult{Outcome: out, OrderID: orderID}, err
	}
	return CheckoutResult{Outcome: out, OrderID: orderID}, nil
}

// settle turns a step failure into the checkout result.
func (s *Shop) settle(wf *workflow.Workflow, orderID int64, err error) (CheckoutResult, error) {
	out, fatal := saga.Resolve(err)
	if fatal != nil {
		return CheckoutResult{Outcome: out, OrderID: orderID}, fatal
	}
	wf.MarkCompensated()
	return CheckoutResult{Outcome: out, OrderID: orderID}, nil
}

// createSession asks the payment processor for a session. A processor
// that cannot be reached yields an empty session.
func (s *Shop) createSession(ctx context.Context, executionID, origin string, items []LineItem) (payment.SessionView, error) {
	req := payment.CreateRequest{
		Webhook:           s.localHost + "/payment_webhook",
		SuccessURL:        origin + "/checkout/success",
		CancelURL:         origin + "/checkout/cancel",
		ClientReferenceID: executionID,
	}
	for _, item := range items {
		req.Items = append(req.Items, payment.Item{
			Description: item.Name,
			Quantity:    item.Quantity,
			Price:       fmt.Sprintf("%.2f", float64(item.Price)/100),
		})
	}

	header := http.Header{}
	header.Set(saga.CorrelationHeader, executionID)

	var view payment.SessionView
	ok, err := s.callout.Exchange(ctx, s.paymentHost+"/api/create_payment_session", req, header, &view)
	if err != nil || !ok {
		return payment.SessionView{}, err
	}
	return view, nil
}

// retrieveSession reports whether the processor has the session as paid.
func (s *Shop) retrieveSession(ctx context.Context, sessionID string) (bool, error) {
	var view payment.SessionView
	ok, err := s.callout.Get(ctx, s.paymentHost+"/api/session/"+sessionID, &view)
	if err != nil || !ok {
		return false, err
	}
	return view.PaymentStatus == payment.StatusPaid, nil
}

// CheckoutSession is the caller's view of a started checkout. An empty
// URL means the checkout was cancelled before the handoff.
type CheckoutSession struct {
	ExecutionID string `json:"execution_id"`
	URL         string `json:"url,omitempty"`
}

// Checkout starts a checkout for username and waits for the payment URL.
func (s *Shop) Checkout(ctx context.Context, r *workflow.Runner, in CheckoutInput) (*CheckoutSession, error) {
	h, err := workflow.Start(ctx, r, CheckoutWorkflow, in)
	if err != nil {
		return nil, err
	}
	sig, err := r.Bus().AwaitSignal(ctx, h.ID(), TopicCheckoutURL, s.handoffTimeout)
	if err != nil {
		return nil, err
	}
	url, _, err := event.Decode[string](sig)
	if err != nil {
		return nil, fmt.Errorf("decode checkout url: %w", err)
	}
	if url == "" {
		s.logger.Warn("canceling checkout",
			slog.String("username", in.Username),
			slog.String("execution_id", h.ID()),
		)
	}
	return &CheckoutSession{ExecutionID: h.ID(), URL: url}, nil
}

// HandleWebhook forwards a payment notification to the checkout that
// created the session. Notifications without a client reference, for an
// unknown checkout or for a session other than the order's are dropped
// with a logged error and ErrWebhookDropped.
func (s *Shop) HandleWebhook(ctx context.Context, bus *event.Bus, n payment.Notification) error {
	logger := s.logger.With(
		slog.String("session_id", n.SessionID),
		slog.String("client_reference_id", n.ClientReferenceID),
	)
	if n.ClientReferenceID == "" {
		logger.Error("invalid payment webhook callback")
		return fmt.Errorf("%w: missing client_reference_id", ErrWebhookDropped)
	}

	order, err := s.store.GetOrderByExecution(ctx, n.ClientReferenceID)
	if errors.Is(err, escrow.ErrOrderNotFound) {
		logger.Error("payment webhook for unknown checkout")
		return fmt.Errorf("%w: unknown checkout %q", ErrWebhookDropped, n.ClientReferenceID)
	}
	if err != nil {
		return err
	}
	if order.PaymentSessionID != n.SessionID {
		logger.Error("payment webhook session mismatch", slog.String("order_session_id", order.PaymentSessionID))
		return fmt.Errorf("%w: session %q does not belong to checkout %q",
			ErrWebhookDropped, n.SessionID, n.ClientReferenceID)
	}

	_, err = bus.Send(ctx, n.ClientReferenceID, TopicCheckoutComplete, n.PaymentStatus)
	return err
}
