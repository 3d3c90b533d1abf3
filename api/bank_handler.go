package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xraph/escrow/bank"
	"github.com/xraph/escrow/saga"
	"github.com/xraph/escrow/workflow"
)

func (a *API) deposit(c *gin.Context) {
	rec, ok := bindTransaction(c)
	if !ok {
		return
	}
	if rec.FromLocation == "" {
		badRequest(c, "fromLocation must not be empty!")
		return
	}
	rec.ToLocation = bank.LocationLocal
	a.runBank(c, bank.DepositWorkflow, rec)
}

func (a *API) withdraw(c *gin.Context) {
	rec, ok := bindTransaction(c)
	if !ok {
		return
	}
	if rec.ToLocation == "" {
		badRequest(c, "toLocation must not be empty!")
		return
	}
	rec.FromLocation = bank.LocationLocal
	a.runBank(c, bank.WithdrawWorkflow, rec)
}

func (a *API) transfer(c *gin.Context) {
	rec, ok := bindTransaction(c)
	if !ok {
		return
	}
	if (rec.FromLocation != "" && rec.FromLocation != bank.LocationLocal) ||
		(rec.ToLocation != "" && rec.ToLocation != bank.LocationLocal) {
		badRequest(c, fmt.Sprintf("Must be a local transaction! Instead: %s -> %s", rec.FromLocation, rec.ToLocation))
		return
	}
	if rec.FromAccountID == 0 || rec.ToAccountID == 0 {
		badRequest(c, "Invalid input!")
		return
	}
	rec.FromLocation = bank.LocationLocal
	rec.ToLocation = bank.LocationLocal
	a.runBank(c, bank.TransferWorkflow, rec)
}

// bindTransaction decodes a bank request and checks its amount before
// anything else. Amounts are integer minor units; a fractional amount is
// rejected like a non-positive one.
func bindTransaction(c *gin.Context) (bank.TransactionRecord, bool) {
	var req TransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return bank.TransactionRecord{}, false
	}
	rec := bank.TransactionRecord{
		FromAccountID: req.FromAccountID,
		FromLocation:  req.FromLocation,
		ToAccountID:   req.ToAccountID,
		ToLocation:    req.ToLocation,
	}
	if req.Amount != "" {
		amount, err := strconv.ParseInt(req.Amount.String(), 10, 64)
		if err != nil {
			rejectOutcome(c, saga.Invalid("Invalid amount! "+req.Amount.String()))
			return bank.TransactionRecord{}, false
		}
		rec.Amount = amount
	}
	if err := rec.Validate(); err != nil {
		rejectOutcome(c, err)
		return bank.TransactionRecord{}, false
	}
	return rec, true
}

// rejectOutcome replies with the receipt of a request refused before any
// workflow ran.
func rejectOutcome(c *gin.Context, err error) {
	out := saga.Classify(err)
	c.JSON(statusForOutcome(out), bank.Receipt{Outcome: out})
}

// runBank runs a bank workflow and replies with its receipt. A request
// carrying the correlation header joins the execution with that ID, so a
// peer retrying a callout never applies it twice.
func (a *API) runBank(c *gin.Context, name string, rec bank.TransactionRecord) {
	ctx, cancel := a.resultContext(c)
	defer cancel()

	var (
		h   *workflow.Handle
		err error
	)
	if key := c.GetHeader(saga.CorrelationHeader); key != "" {
		h, err = workflow.StartOrResume(ctx, a.eng.Runner(), key, name, rec)
	} else {
		h, err = workflow.Start(ctx, a.eng.Runner(), name, rec)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	res, err := h.Wait(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	receipt, err := workflow.DecodeOutput[bank.Receipt](res)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(statusForOutcome(receipt.Outcome), receipt)
}

func (a *API) createAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Balance < 0 {
		badRequest(c, "balance must not be negative")
		return
	}
	acct := &bank.Account{OwnerName: req.OwnerName, Type: req.Type, Balance: req.Balance}
	if err := a.eng.Bank().Store().CreateAccount(c.Request.Context(), acct); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, acct)
}

func (a *API) listAccounts(c *gin.Context) {
	owner := c.Query("owner")
	if owner == "" {
		badRequest(c, "owner is required")
		return
	}
	accts, err := a.eng.Bank().Store().ListAccounts(c.Request.Context(), owner)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, accts)
}

func (a *API) getAccount(c *gin.Context) {
	accountID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid account ID")
		return
	}
	acct, err := a.eng.Bank().Store().GetAccount(c.Request.Context(), accountID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (a *API) transactionHistory(c *gin.Context) {
	accountID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid account ID")
		return
	}
	txns, err := a.eng.Bank().Store().ListTransactions(c.Request.Context(), accountID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, txns)
}
