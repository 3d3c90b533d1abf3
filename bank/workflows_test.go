package bank_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/bank"
	"github.com/xraph/escrow/event"
	"github.com/xraph/escrow/saga"
	"github.com/xraph/escrow/store/memory"
	"github.com/xraph/escrow/workflow"
)

type harness struct {
	runner *workflow.Runner
	store  bank.Store
}

func newHarness(t *testing.T, store bank.Store, engine workflow.Store, bus *event.Bus) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := workflow.NewRegistry()
	steps := workflow.NewSteps()
	b := bank.New(store, saga.NewCallout(saga.WithTimeout(time.Second), saga.WithCalloutLogger(logger)), escrow.DefaultConfig(), bank.WithLogger(logger))
	b.Register(reg, steps)

	r := workflow.NewRunner(reg, engine, bus, workflow.WithSteps(steps), workflow.WithLogger(logger))
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	return &harness{runner: r, store: store}
}

func newMemoryHarness(t *testing.T) *harness {
	s := memory.New()
	return newHarness(t, s, s, event.NewBus(s, event.WithPollInterval(2*time.Millisecond)))
}

func (h *harness) account(t *testing.T, balance int64) int64 {
	t.Helper()
	a := &bank.Account{OwnerName: "alice", Type: "checking"}
	if err := h.store.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if balance > 0 {
		rec := &bank.TransactionRecord{FromLocation: bank.LocationCash, ToAccountID: a.ID, ToLocation: bank.LocationLocal, Amount: balance}
		if _, err := h.store.ApplyTransaction(context.Background(), a.ID, rec, true, 0); err != nil {
			t.Fatalf("seed balance: %v", err)
		}
	}
	return a.ID
}

func (h *harness) balance(t *testing.T, accountID int64) int64 {
	t.Helper()
	a, err := h.store.GetAccount(context.Background(), accountID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	return a.Balance
}

func (h *harness) run(t *testing.T, executionID, name string, rec bank.TransactionRecord) (*workflow.Result, bank.Receipt) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	handle, err := workflow.StartOrResume(ctx, h.runner, executionID, name, rec)
	if err != nil {
		t.Fatalf("StartOrResume: %v", err)
	}
	res, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	var receipt bank.Receipt
	if len(res.Output) > 0 {
		if err := json.Unmarshal(res.Output, &receipt); err != nil {
			t.Fatalf("decode receipt: %v", err)
		}
	}
	return res, receipt
}

func TestDeposit_Cash(t *testing.T) {
	h := newMemoryHarness(t)
	acct := h.account(t, 0)

	res, receipt := h.run(t, "dep-1", bank.DepositWorkflow, bank.TransactionRecord{
		FromLocation: bank.LocationCash, ToAccountID: acct, ToLocation: bank.LocationLocal, Amount: 100,
	})

	if res.Status != workflow.StatusCommitted {
		t.Fatalf("status = %q (%s), want %q", res.Status, res.Error, workflow.StatusCommitted)
	}
	if receipt.Kind != saga.KindOK || receipt.Detail != bank.MsgDepositSucceeded {
		t.Errorf("receipt = %+v, want ok %q", receipt, bank.MsgDepositSucceeded)
	}
	if receipt.TxnID == 0 {
		t.Error("receipt has no txn id")
	}
	if got := h.balance(t, acct); got != 100 {
		t.Errorf("balance = %d, want 100", got)
	}
}

func TestDeposit_IsIdempotent(t *testing.T) {
	h := newMemoryHarness(t)
	acct := h.account(t, 0)
	rec := bank.TransactionRecord{FromLocation: bank.LocationCash, ToAccountID: acct, ToLocation: bank.LocationLocal, Amount: 40}

	h.run(t, "dep-twice", bank.DepositWorkflow, rec)
	h.run(t, "dep-twice", bank.DepositWorkflow, rec)

	if got := h.balance(t, acct); got != 40 {
		t.Errorf("balance = %d, want 40", got)
	}
}

func TestWithdraw_ExpectedFailures(t *testing.T) {
	h := newMemoryHarness(t)
	acct := h.account(t, 50)

	tests := []struct {
		name string
		rec  bank.TransactionRecord
		want saga.Kind
	}{
		{"insufficient", bank.TransactionRecord{FromAccountID: acct, FromLocation: bank.LocationLocal, ToLocation: bank.LocationCash, Amount: 51}, saga.KindInsufficient},
		{"zero amount", bank.TransactionRecord{FromAccountID: acct, FromLocation: bank.LocationLocal, ToLocation: bank.LocationCash}, saga.KindInvalid},
		{"missing account", bank.TransactionRecord{FromAccountID: 999, FromLocation: bank.LocationLocal, ToLocation: bank.LocationCash, Amount: 1}, saga.KindInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, receipt := h.run(t, "wd-"+strings.ReplaceAll(tt.name, " ", "-"), bank.WithdrawWorkflow, tt.rec)
			if res.Status != workflow.StatusCompensated {
				t.Fatalf("status = %q (%s), want %q", res.Status, res.Error, workflow.StatusCompensated)
			}
			if receipt.Kind != tt.want {
				t.Errorf("kind = %q, want %q", receipt.Kind, tt.want)
			}
		})
	}

	if got := h.balance(t, acct); got != 50 {
		t.Errorf("balance = %d, want 50", got)
	}
}

func TestWithdraw_RemotePeerAccepts(t *testing.T) {
	var calls atomic.Int32
	var correlation atomic.Value
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		correlation.Store(r.Header.Get(saga.CorrelationHeader))
		if r.URL.Path != "/api/deposit" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer peer.Close()

	h := newMemoryHarness(t)
	acct := h.account(t, 100)

	res, receipt := h.run(t, "wd-remote", bank.WithdrawWorkflow, bank.TransactionRecord{
		FromAccountID: acct, FromLocation: bank.LocationLocal, ToAccountID: 7, ToLocation: peer.URL, Amount: 30,
	})

	if res.Status != workflow.StatusCommitted {
		t.Fatalf("status = %q (%s), want %q", res.Status, res.Error, workflow.StatusCommitted)
	}
	if receipt.Detail != bank.MsgWithdrawSucceeded {
		t.Errorf("detail = %q, want %q", receipt.Detail, bank.MsgWithdrawSucceeded)
	}
	if got := h.balance(t, acct); got != 70 {
		t.Errorf("balance = %d, want 70", got)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("peer calls = %d, want 1", n)
	}
	if got, _ := correlation.Load().(string); got != "wd-remote-deposit" {
		t.Errorf("correlation = %q, want %q", got, "wd-remote-deposit")
	}
}

func TestDeposit_RemotePeerFailureReverses(t *testing.T) {
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer peer.Close()

	h := newMemoryHarness(t)
	acct := h.account(t, 10)
	before, _ := h.store.ListTransactions(context.Background(), acct)

	res, receipt := h.run(t, "dep-remote", bank.DepositWorkflow, bank.TransactionRecord{
		FromAccountID: 3, FromLocation: peer.URL, ToAccountID: acct, ToLocation: bank.LocationLocal, Amount: 25,
	})

	if res.Status != workflow.StatusCompensated {
		t.Fatalf("status = %q (%s), want %q", res.Status, res.Error, workflow.StatusCompensated)
	}
	if receipt.Kind != saga.KindRemoteUnreachable || receipt.Detail != bank.MsgRemoteWithdraw {
		t.Errorf("receipt = %+v, want remote_unreachable %q", receipt, bank.MsgRemoteWithdraw)
	}
	if got := h.balance(t, acct); got != 10 {
		t.Errorf("balance = %d, want 10", got)
	}
	after, _ := h.store.ListTransactions(context.Background(), acct)
	if len(after) != len(before) {
		t.Errorf("history length = %d, want %d", len(after), len(before))
	}
}

// skewedStore reports a different record than the one a reversal deleted.
type skewedStore struct {
	*memory.Store
}

func (s skewedStore) ApplyTransaction(ctx context.Context, accountID int64, rec *bank.TransactionRecord, deposit bool, undoTxn int64) (int64, error) {
	id, err := s.Store.ApplyTransaction(ctx, accountID, rec, deposit, undoTxn)
	if err != nil || undoTxn == 0 {
		return id, err
	}
	return id + 1000, nil
}

func TestWithdraw_ReversalMismatchIsFatal(t *testing.T) {
	peer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer peer.Close()

	mem := memory.New()
	h := newHarness(t, skewedStore{mem}, mem, event.NewBus(mem, event.WithPollInterval(2*time.Millisecond)))
	acct := h.account(t, 100)

	res, _ := h.run(t, "wd-mismatch", bank.WithdrawWorkflow, bank.TransactionRecord{
		FromAccountID: acct, FromLocation: bank.LocationLocal, ToAccountID: 7, ToLocation: peer.URL, Amount: 30,
	})

	if res.Status != workflow.StatusFailed {
		t.Fatalf("status = %q, want %q", res.Status, workflow.StatusFailed)
	}
	if !strings.Contains(res.Error, "Mismatch") {
		t.Errorf("error = %q, want it to mention Mismatch", res.Error)
	}
}

func TestTransfer_Local(t *testing.T) {
	h := newMemoryHarness(t)
	from := h.account(t, 80)
	to := h.account(t, 0)

	res, receipt := h.run(t, "xfer-1", bank.TransferWorkflow, bank.TransactionRecord{
		FromAccountID: from, FromLocation: bank.LocationLocal, ToAccountID: to, ToLocation: bank.LocationLocal, Amount: 80,
	})
	if res.Status != workflow.StatusCommitted {
		t.Fatalf("status = %q (%s), want %q", res.Status, res.Error, workflow.StatusCommitted)
	}
	if receipt.Detail != bank.MsgTransferSucceeded {
		t.Errorf("detail = %q, want %q", receipt.Detail, bank.MsgTransferSucceeded)
	}
	if got := h.balance(t, from); got != 0 {
		t.Errorf("from balance = %d, want 0", got)
	}
	if got := h.balance(t, to); got != 80 {
		t.Errorf("to balance = %d, want 80", got)
	}

	res, receipt = h.run(t, "xfer-2", bank.TransferWorkflow, bank.TransactionRecord{
		FromAccountID: from, FromLocation: bank.LocationLocal, ToAccountID: to, ToLocation: bank.LocationLocal, Amount: 1,
	})
	if res.Status != workflow.StatusCompensated || receipt.Kind != saga.KindInsufficient {
		t.Errorf("overdraft transfer = (%q, %q), want (compensated, insufficient)", res.Status, receipt.Kind)
	}
}
