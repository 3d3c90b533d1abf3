// Package payment is a mock payment processor. Each payment session is a
// durable execution keyed by its session ID that waits for the customer
// to submit or cancel and then notifies the merchant's webhook.
package payment

import (
	"context"
	"time"
)

// Session statuses.
const (
	StatusPending  = "pending"
	StatusPaid     = "paid"
	StatusCanceled = "canceled"
)

// Messages accepted on TopicComplete.
const (
	EventSubmitted = "payment.submitted"
	EventCancelled = "payment.cancelled"
)

// TopicComplete is the topic a session waits on for the customer's
// decision.
const TopicComplete = "payment_complete_topic"

// Item is a line of a payment session. Price is a display string with two
// decimals.
type Item struct {
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	Price       string `json:"price"`
}

// Session is the stored record of a payment session.
type Session struct {
	ID                string    `json:"session_id"`
	ClientReferenceID string    `json:"client_reference_id,omitempty"`
	SuccessURL        string    `json:"success_url"`
	CancelURL         string    `json:"cancel_url"`
	Webhook           string    `json:"webhook,omitempty"`
	Status            string    `json:"status"`
	Items             []Item    `json:"items,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CreateRequest is the body of a session creation request.
type CreateRequest struct {
	SuccessURL        string `json:"success_url"`
	CancelURL         string `json:"cancel_url"`
	Webhook           string `json:"webhook,omitempty"`
	ClientReferenceID string `json:"client_reference_id,omitempty"`
	Items             []Item `json:"items,omitempty"`
}

// SessionView is what the processor reports about a session to merchants.
type SessionView struct {
	SessionID     string `json:"session_id"`
	URL           string `json:"url,omitempty"`
	PaymentStatus string `json:"payment_status"`
}

// Notification is the webhook body posted to the merchant.
type Notification struct {
	SessionID         string `json:"session_id"`
	ClientReferenceID string `json:"client_reference_id,omitempty"`
	PaymentStatus     string `json:"payment_status"`
}

// Store defines the persistence contract for payment sessions.
type Store interface {
	// CreateSession persists a new session. Creating an existing session
	// again is a no-op.
	CreateSession(ctx context.Context, s *Session) error

	// GetSession returns a session. It returns escrow.ErrSessionNotFound
	// when none exists.
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// UpdateSessionStatus sets the status of a session.
	UpdateSessionStatus(ctx context.Context, sessionID, status string) error
}
