package escrow

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("escrow: no store configured")
	ErrStoreClosed     = errors.New("escrow: store closed")
	ErrMigrationFailed = errors.New("escrow: migration failed")

	// Not found errors.
	ErrExecutionNotFound   = errors.New("escrow: execution not found")
	ErrWorkflowNotFound    = errors.New("escrow: workflow not registered")
	ErrStepNotFound        = errors.New("escrow: step not registered")
	ErrCheckpointNotFound  = errors.New("escrow: checkpoint not found")
	ErrMessageNotFound     = errors.New("escrow: message not found")
	ErrDeadLetterNotFound  = errors.New("escrow: dead letter not found")
	ErrAccountNotFound     = errors.New("escrow: account not found")
	ErrTransactionNotFound = errors.New("escrow: transaction not found")
	ErrProductNotFound     = errors.New("escrow: product not found")
	ErrOrderNotFound       = errors.New("escrow: order not found")
	ErrSessionNotFound     = errors.New("escrow: payment session not found")

	// Conflict errors.
	ErrExecutionExists = errors.New("escrow: execution already exists")
	ErrSignalExists    = errors.New("escrow: signal already published")

	// State errors.
	ErrInvalidState  = errors.New("escrow: invalid state transition")
	ErrInvalidConfig = errors.New("escrow: invalid configuration")
	ErrShuttingDown  = errors.New("escrow: runner is shutting down")

	// Business outcome errors. Step failures wrapping one of these keep
	// their classification when replayed from a checkpoint.
	ErrInsufficient      = errors.New("escrow: insufficient funds or inventory")
	ErrInvalid           = errors.New("escrow: invalid request")
	ErrRemoteUnreachable = errors.New("escrow: remote party unreachable")

	// ErrFatal marks an execution failure that must not be resolved
	// automatically, such as a ledger that no longer balances. Errors
	// wrapping it are dead-lettered by the engine.
	ErrFatal = errors.New("escrow: fatal execution error")
)
