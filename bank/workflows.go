package bank

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/saga"
	"github.com/xraph/escrow/workflow"
)

// Workflow names.
const (
	DepositWorkflow  = "bank.deposit"
	WithdrawWorkflow = "bank.withdraw"
	TransferWorkflow = "bank.transfer"
)

// Step names.
const (
	StepUpdateAccount    = "bank.update_account"
	StepInternalTransfer = "bank.internal_transfer"
	StepRemoteWithdraw   = "bank.remote_withdraw"
	StepRemoteDeposit    = "bank.remote_deposit"
)

// UpdateInput is the input of the update-account step.
type UpdateInput struct {
	AccountID int64             `json:"accountId"`
	Record    TransactionRecord `json:"record"`
	Deposit   bool              `json:"deposit"`
	UndoTxn   int64             `json:"undoTxn,omitempty"`
}

// Receipt is the output of every bank workflow.
type Receipt struct {
	saga.Outcome
	TxnID int64 `json:"txnId,omitempty"`
}

// Option configures a Bank.
type Option func(*Bank)

// WithLogger sets the bank logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bank) { b.logger = l }
}

// Bank wires the ledger store and the peer callout into workflows.
type Bank struct {
	store   Store
	callout *saga.Callout
	name    string
	port    int
	logger  *slog.Logger
}

// New creates a Bank. cfg supplies the name and port this bank reports
// to its peers.
func New(store Store, callout *saga.Callout, cfg escrow.Config, opts ...Option) *Bank {
	b := &Bank{
		store:   store,
		callout: callout,
		name:    cfg.BankName,
		port:    cfg.BankPort,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Store returns the ledger store.
func (b *Bank) Store() Store { return b.store }

// Register adds the bank steps and workflows to the registries.
func (b *Bank) Register(reg *workflow.Registry, steps *workflow.Steps) {
	workflow.RegisterStep(steps, StepUpdateAccount, b.updateAccount)
	workflow.RegisterStep(steps, StepInternalTransfer, b.internalTransfer)

	workflow.RegisterDefinition(reg, workflow.NewWorkflow(DepositWorkflow, b.deposit))
	workflow.RegisterDefinition(reg, workflow.NewWorkflow(WithdrawWorkflow, b.withdraw))
	workflow.RegisterDefinition(reg, workflow.NewWorkflow(TransferWorkflow, b.transfer))
}

func (b *Bank) updateAccount(ctx context.Context, in UpdateInput) (int64, error) {
	return b.store.ApplyTransaction(ctx, in.AccountID, &in.Record, in.Deposit, in.UndoTxn)
}

func (b *Bank) internalTransfer(ctx context.Context, rec TransactionRecord) (string, error) {
	if _, err := b.store.Transfer(ctx, &rec); err != nil {
		return "", err
	}
	return MsgTransferSucceeded, nil
}

// peer returns the location this bank reports to a peer.
func (b *Bank) peer() string {
	return fmt.Sprintf("%s%s:%d", RemotePrefix, b.name, b.port)
}

func (b *Bank) deposit(wf *workflow.Workflow, rec TransactionRecord) (Receipt, error) {
	if err := rec.Validate(); err != nil {
		return settle(wf, err)
	}

	txnID, err := workflow.Call[UpdateInput, int64](wf, StepUpdateAccount, UpdateInput{
		AccountID: rec.ToAccountID,
		Record:    rec,
		Deposit:   true,
	})
	if err != nil {
		return settle(wf, err)
	}

	if !IsRemote(rec.FromLocation) {
		wf.Logger().Info("deposit from", slog.String("location", rec.FromLocation))
		return Receipt{Outcome: saga.OK(MsgDepositSucceeded), TxnID: txnID}, nil
	}

	wf.Logger().Info("deposit from another bank",
		slog.String("location", rec.FromLocation),
		slog.Int64("account_id", rec.FromAccountID),
	)
	remote := TransactionRecord{
		FromAccountID: rec.FromAccountID,
		FromLocation:  LocationLocal,
		ToAccountID:   rec.ToAccountID,
		ToLocation:    b.peer(),
		Amount:        rec.Amount,
	}
	ok, err := b.remote(wf, StepRemoteWithdraw, rec.FromLocation+"/api/withdraw", remote, "-withdraw")
	if err != nil {
		return Receipt{}, err
	}
	if ok {
		return Receipt{Outcome: saga.OK(MsgDepositSucceeded), TxnID: txnID}, nil
	}

	// The reversal of a deposit is a withdrawal of the same record.
	if err := b.reverse(wf, rec.ToAccountID, rec, false, txnID); err != nil {
		return Receipt{}, err
	}
	wf.MarkCompensated()
	return Receipt{Outcome: saga.Outcome{Kind: saga.KindRemoteUnreachable, Detail: MsgRemoteWithdraw}}, nil
}

func (b *Bank) withdraw(wf *workflow.Workflow, rec TransactionRecord) (Receipt, error) {
	if err := rec.Validate(); err != nil {
		return settle(wf, err)
	}

	txnID, err := workflow.Call[UpdateInput, int64](wf, StepUpdateAccount, UpdateInput{
		AccountID: rec.FromAccountID,
		Record:    rec,
		Deposit:   false,
	})
	if err != nil {
		return settle(wf, err)
	}

	if !IsRemote(rec.ToLocation) {
		wf.Logger().Info("withdraw to", slog.String("location", rec.ToLocation))
		return Receipt{Outcome: saga.OK(MsgWithdrawSucceeded), TxnID: txnID}, nil
	}

	wf.Logger().Info("deposit to another bank",
		slog.String("location", rec.ToLocation),
		slog.Int64("account_id", rec.ToAccountID),
	)
	remote := TransactionRecord{
		FromAccountID: rec.FromAccountID,
		FromLocation:  b.peer(),
		ToAccountID:   rec.ToAccountID,
		ToLocation:    LocationLocal,
		Amount:        rec.Amount,
	}
	ok, err := b.remote(wf, StepRemoteDeposit, rec.ToLocation+"/api/deposit", remote, "-deposit")
	if err != nil {
		return Receipt{}, err
	}
	if ok {
		return Receipt{Outcome: saga.OK(MsgWithdrawSucceeded), TxnID: txnID}, nil
	}

	// The reversal of a withdrawal is a deposit of the same record.
	if err := b.reverse(wf, rec.FromAccountID, rec, true, txnID); err != nil {
		return Receipt{}, err
	}
	wf.MarkCompensated()
	return Receipt{Outcome: saga.Outcome{Kind: saga.KindRemoteUnreachable, Detail: MsgRemoteDeposit}}, nil
}

func (b *Bank) transfer(wf *workflow.Workflow, rec TransactionRecord) (Receipt, error) {
	if err := rec.Validate(); err != nil {
		return settle(wf, err)
	}
	msg, err := workflow.Call[TransactionRecord, string](wf, StepInternalTransfer, rec)
	if err != nil {
		return settle(wf, err)
	}
	return Receipt{Outcome: saga.OK(msg)}, nil
}

// remote asks the peer bank at url to apply its side of the transfer.
// The peer uses the correlation header as its own execution ID, so a
// repeated request runs its workflow only once.
func (b *Bank) remote(wf *workflow.Workflow, step, url string, rec TransactionRecord, suffix string) (bool, error) {
	ok, err := workflow.StepWithResult(wf, step, func(ctx context.Context) (bool, error) {
		header := http.Header{}
		header.Set(saga.CorrelationHeader, wf.ExecutionID()+suffix)
		return b.callout.Post(ctx, url, rec, header)
	})
	if err != nil {
		_, fatal := saga.Resolve(err)
		return false, fatal
	}
	return ok, nil
}

// reverse applies the inverse of the transaction txnID and checks that
// the reversal removed exactly that transaction.
func (b *Bank) reverse(wf *workflow.Workflow, accountID int64, rec TransactionRecord, deposit bool, txnID int64) error {
	undo, err := workflow.Call[UpdateInput, int64](wf, StepUpdateAccount, UpdateInput{
		AccountID: accountID,
		Record:    rec,
		Deposit:   deposit,
		UndoTxn:   txnID,
	})
	if err != nil {
		if wf.Context().Err() != nil {
			return err
		}
		return &saga.FatalError{
			Detail: fmt.Sprintf("Mismatch: Original txnId: %d, undo failed: %s", txnID, err.Error()),
			Cause:  err,
		}
	}
	if undo != txnID {
		wf.Logger().Error("ledger mismatch",
			slog.Int64("txn_id", txnID),
			slog.Int64("undo_txn_id", undo),
		)
		return saga.Fatal(fmt.Sprintf("Mismatch: Original txnId: %d, undo txnId: %d", txnID, undo))
	}
	return nil
}

// settle turns a step failure into the workflow result. Expected failures
// end the execution as compensated with the outcome as output.
func settle(wf *workflow.Workflow, err error) (Receipt, error) {
	out, fatal := saga.Resolve(err)
	if fatal != nil {
		return Receipt{Outcome: out}, fatal
	}
	wf.MarkCompensated()
	return Receipt{Outcome: out}, nil
}
