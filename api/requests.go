package api

import (
	"encoding/json"
	"strconv"

	"github.com/xraph/escrow/shop"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// TransactionRequest is the body of POST /api/deposit, /api/withdraw and
// /api/transfer. Amount is a JSON number in integer minor units.
type TransactionRequest struct {
	FromAccountID int64       `json:"fromAccountId"`
	FromLocation  string      `json:"fromLocation"`
	ToAccountID   int64       `json:"toAccountId"`
	ToLocation    string      `json:"toLocation"`
	Amount        json.Number `json:"amount"`
}

// CreateAccountRequest is the body of POST /api/accounts.
type CreateAccountRequest struct {
	OwnerName string `json:"ownerName" binding:"required"`
	Type      string `json:"type" binding:"required"`
	Balance   int64  `json:"balance"`
}

// CartRequest is the body of POST /api/add_to_cart and /api/get_cart.
type CartRequest struct {
	Username  string `json:"username" binding:"required"`
	ProductID int64  `json:"product_id"`
}

// ProductView is a product with its formatted price.
type ProductView struct {
	*shop.Product
	DisplayPrice string `json:"display_price"`
}

// SessionRequest is the body of POST /payment/api/submit_payment and
// /payment/api/cancel_payment.
type SessionRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// ReplayRequest is the body of POST /v1/executions/:id/replay.
type ReplayRequest struct {
	From string `json:"from" binding:"required"`
}

// HandleResponse identifies an execution started or resumed by a request.
type HandleResponse struct {
	ExecutionID string `json:"execution_id"`
}

// SweepResponse reports a manual recovery sweep.
type SweepResponse struct {
	Resumed int `json:"resumed"`
	Retried int `json:"retried"`
}

func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func defaultLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
