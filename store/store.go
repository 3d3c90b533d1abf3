package store

import (
	"context"

	"github.com/xraph/escrow/bank"
	"github.com/xraph/escrow/dlq"
	"github.com/xraph/escrow/event"
	"github.com/xraph/escrow/payment"
	"github.com/xraph/escrow/shop"
	"github.com/xraph/escrow/widget"
	"github.com/xraph/escrow/workflow"
)

// Engine is the persistence the durable execution engine needs on its
// own. The Redis backend implements only this part.
type Engine interface {
	workflow.Store
	event.Store
	dlq.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

// Store is the aggregate persistence interface. A single backend
// (postgres, memory) implements all of it so business steps and
// checkpoints live in the same database.
type Store interface {
	Engine
	bank.Store
	shop.Store
	widget.Store
	payment.Store
}
