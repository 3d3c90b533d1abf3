package payment

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
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/saga"
	"github.com/xraph/escrow/workflow"
)

// SessionWorkflow is the workflow name of a payment session.
const SessionWorkflow = "payment.session"

// Step names.
const (
	StepInsertSession = "payment.insert_session"
	StepSetStatus     = "payment.set_status"
	StepNotify        = "payment.notify_webhook"
)

// ErrUnknownEvent is returned when a session receives a message other
// than EventSubmitted or EventCancelled.
var ErrUnknownEvent = errors.New("payment: unknown session event")

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the processor logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// Processor runs payment sessions.
type Processor struct {
	store          Store
	callout        *saga.Callout
	frontendHost   string
	sessionTimeout time.Duration
	logger         *slog.Logger
}

// NewProcessor creates a Processor. cfg supplies the frontend host used
// in session URLs and the session timeout.
func NewProcessor(store Store, callout *saga.Callout, cfg escrow.Config, opts ...Option) *Processor {
	p := &Processor{
		store:          store,
		callout:        callout,
		frontendHost:   strings.TrimSuffix(cfg.FrontendHost, "/"),
		sessionTimeout: cfg.PaymentSessionTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Store returns the session store.
func (p *Processor) Store() Store { return p.store }

// Register adds the session steps and workflow to the registries.
func (p *Processor) Register(reg *workflow.Registry, steps *workflow.Steps) {
	workflow.RegisterStep(steps, StepInsertSession, p.insertSession)
	workflow.RegisterStep(steps, StepSetStatus, p.setStatus)
	workflow.RegisterDefinition(reg, workflow.NewWorkflow(SessionWorkflow, p.session))
}

// URL returns the customer-facing URL of a session.
func (p *Processor) URL(sessionID string) string {
	return p.frontendHost + "/" + sessionID
}

// CreateSession starts a session execution and returns its view. The
// session ID is the execution ID.
func (p *Processor) CreateSession(ctx context.Context, r *workflow.Runner, req CreateRequest) (*SessionView, error) {
	if req.SuccessURL == "" || req.CancelURL == "" {
		return nil, saga.Invalid("success_url and cancel_url are required")
	}
	sessionID := id.NewSessionID().String()
	h, err := workflow.StartOrResume(ctx, r, sessionID, SessionWorkflow, req)
	if err != nil {
		return nil, fmt.Errorf("start payment session: %w", err)
	}
	return &SessionView{
		SessionID:     h.ID(),
		URL:           p.URL(h.ID()),
		PaymentStatus: StatusPending,
	}, nil
}

// GetSession reports the current status of a session.
func (p *Processor) GetSession(ctx context.Context, sessionID string) (*SessionView, error) {
	s, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &SessionView{SessionID: s.ID, URL: p.URL(s.ID), PaymentStatus: s.Status}, nil
}

// Submit delivers the customer's payment to the session.
func (p *Processor) Submit(ctx context.Context, bus *event.Bus, sessionID string) error {
	return p.decide(ctx, bus, sessionID, EventSubmitted)
}

// Cancel delivers the customer's cancellation to the session.
func (p *Processor) Cancel(ctx context.Context, bus *event.Bus, sessionID string) error {
	return p.decide(ctx, bus, sessionID, EventCancelled)
}

func (p *Processor) decide(ctx context.Context, bus *event.Bus, sessionID, decision string) error {
	if _, err := p.store.GetSession(ctx, sessionID); err != nil {
		return err
	}
	_, err := bus.Send(ctx, sessionID, TopicComplete, decision)
	return err
}

type statusInput struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

func (p *Processor) insertSession(ctx context.Context, s Session) (string, error) {
	if err := p.store.CreateSession(ctx, &s); err != nil {
		return "", err
	}
	return s.ID, nil
}

func (p *Processor) setStatus(ctx context.Context, in statusInput) (string, error) {
	if err := p.store.UpdateSessionStatus(ctx, in.SessionID, in.Status); err != nil {
		return "", err
	}
	return in.Status, nil
}

func (p *Processor) session(wf *workflow.Workflow, req CreateRequest) (string, error) {
	sessionID := wf.ExecutionID()
	now := wf.Execution().StartedAt

	if _, err := workflow.Call[Session, string](wf, StepInsertSession, Session{
		ID:                sessionID,
		ClientReferenceID: req.ClientReferenceID,
		SuccessURL:        req.SuccessURL,
		CancelURL:         req.CancelURL,
		Webhook:           req.Webhook,
		Status:            StatusPending,
		Items:             req.Items,
		CreatedAt:         now,
		UpdatedAt:         now,
	}); err != nil {
		return "", err
	}

	decision, ok, err := workflow.ReceiveValue[string](wf, TopicComplete, p.sessionTimeout)
	if err != nil {
		return "", err
	}
	if !ok {
		wf.Logger().Warn("payment session expired", slog.String("session_id", sessionID))
		return StatusPending, nil
	}

	var status string
	switch decision {
	case EventSubmitted:
		status = StatusPaid
	case EventCancelled:
		status = StatusCanceled
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEvent, decision)
	}

	if _, err := workflow.Call[statusInput, string](wf, StepSetStatus, statusInput{
		SessionID: sessionID,
		Status:    status,
	}); err != nil {
		return "", err
	}

	if req.Webhook != "" {
		delivered, err := workflow.StepWithResult(wf, StepNotify, func(ctx context.Context) (bool, error) {
			ref := req.ClientReferenceID
			if ref == "" {
				ref = sessionID
			}
			header := http.Header{}
			header.Set(saga.CorrelationHeader, ref)
			return p.callout.Post(ctx, req.Webhook, Notification{
				SessionID:         sessionID,
				ClientReferenceID: req.ClientReferenceID,
				PaymentStatus:     status,
			}, header)
		})
		if err != nil {
			return "", err
		}
		if !delivered {
			wf.Logger().Warn("payment webhook not delivered",
				slog.String("session_id", sessionID),
				slog.String("webhook", req.Webhook),
			)
		}
	}

	if status == StatusCanceled {
		wf.MarkCompensated()
	}
	return status, nil
}
