package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/saga"
)

// statusFor maps an error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case isNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, escrow.ErrExecutionExists),
		errors.Is(err, escrow.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, saga.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, escrow.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, escrow.ErrExecutionNotFound) ||
		errors.Is(err, escrow.ErrWorkflowNotFound) ||
		errors.Is(err, escrow.ErrCheckpointNotFound) ||
		errors.Is(err, escrow.ErrDeadLetterNotFound) ||
		errors.Is(err, escrow.ErrAccountNotFound) ||
		errors.Is(err, escrow.ErrProductNotFound) ||
		errors.Is(err, escrow.ErrOrderNotFound) ||
		errors.Is(err, escrow.ErrSessionNotFound)
}

// statusForOutcome maps a finished saga outcome to an HTTP status code.
// Only ok is 200, which is what peers calling through saga.Callout treat
// as success.
func statusForOutcome(o saga.Outcome) int {
	switch o.Kind {
	case saga.KindOK:
		return http.StatusOK
	case saga.KindInvalid:
		return http.StatusBadRequest
	case saga.KindInsufficient:
		return http.StatusConflict
	case saga.KindRemoteUnreachable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), ErrorResponse{Error: err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}
