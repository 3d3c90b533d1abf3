// Package bank is a ledger of accounts and transaction history with
// deposit, withdraw and transfer workflows. Deposits and withdrawals may
// name a peer bank as the other side of the transfer; the peer is called
// after the local effect is applied, and a failed call reverses it.
package bank

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/saga"
)

// Location values with special meaning.
const (
	// LocationLocal marks the side of a transaction held by this bank.
	LocationLocal = "local"
	// LocationCash marks a cash deposit or withdrawal.
	LocationCash = "cash"
	// RemotePrefix marks a location that names the peer bank which
	// initiated the transfer; no call back is made for it.
	RemotePrefix = "remoteDB-"
)

// Result messages returned to callers.
const (
	MsgDepositSucceeded  = "Deposit succeeded!"
	MsgWithdrawSucceeded = "Withdraw succeeded!"
	MsgTransferSucceeded = "Internal transfer succeeded!"
	MsgRemoteWithdraw    = "Failed to withdraw from remote bank."
	MsgRemoteDeposit     = "Failed to deposit to remote bank."
)

// Errors returned by Store implementations.
var (
	ErrAccountMissing   = saga.Failure(escrow.ErrAccountNotFound, "Cannot find account!")
	ErrNotEnoughBalance = saga.Insufficient("Not enough balance!")
)

// Account is a customer account. Balance never goes negative.
type Account struct {
	ID        int64     `json:"accountId"`
	OwnerName string    `json:"ownerName"`
	Type      string    `json:"type"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"createdAt"`
}

// TransactionRecord is one entry of the transaction history. Every
// balance change inserts a record; a reversal deletes the record of the
// change it undoes. Amount is in integer minor units.
type TransactionRecord struct {
	ID            int64     `json:"txnId,omitempty"`
	FromAccountID int64     `json:"fromAccountId"`
	FromLocation  string    `json:"fromLocation"`
	ToAccountID   int64     `json:"toAccountId"`
	ToLocation    string    `json:"toLocation"`
	Amount        int64     `json:"amount"`
	Timestamp     time.Time `json:"timestamp,omitempty"`
}

// Validate checks that the amount is positive.
func (r *TransactionRecord) Validate() error {
	if r.Amount <= 0 {
		return saga.Invalid(fmt.Sprintf("Invalid amount! %d", r.Amount))
	}
	return nil
}

// IsRemote reports whether location names a peer bank that must be
// called to complete a transfer.
func IsRemote(location string) bool {
	return location != "" &&
		location != LocationLocal &&
		location != LocationCash &&
		!strings.HasPrefix(location, RemotePrefix)
}

// Store defines the persistence contract for accounts and history.
type Store interface {
	// CreateAccount persists a new account and assigns its ID.
	CreateAccount(ctx context.Context, a *Account) error

	// GetAccount returns an account. It returns ErrAccountMissing when
	// none exists.
	GetAccount(ctx context.Context, accountID int64) (*Account, error)

	// ListAccounts returns the accounts of an owner ordered by ID.
	ListAccounts(ctx context.Context, ownerName string) ([]*Account, error)

	// ApplyTransaction atomically adds rec.Amount to (deposit) or
	// subtracts it from the balance of accountID. A withdrawal that would
	// leave a negative balance fails with ErrNotEnoughBalance. With
	// undoTxn zero the record is inserted and its new ID returned;
	// otherwise the record undoTxn is deleted and its ID returned. A
	// missing undoTxn fails with escrow.ErrTransactionNotFound and leaves
	// the balance untouched.
	ApplyTransaction(ctx context.Context, accountID int64, rec *TransactionRecord, deposit bool, undoTxn int64) (int64, error)

	// Transfer atomically moves rec.Amount between two local accounts and
	// records it, returning the new record ID.
	Transfer(ctx context.Context, rec *TransactionRecord) (int64, error)

	// ListTransactions returns the local history of an account, newest
	// first.
	ListTransactions(ctx context.Context, accountID int64) ([]*TransactionRecord, error)
}
