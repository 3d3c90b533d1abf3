package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/bank"
)

// CreateAccount persists a new account and assigns its ID.
func (s *Store) CreateAccount(ctx context.Context, a *bank.Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO bank_accounts (owner_name, type, balance, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING account_id`,
		a.OwnerName, a.Type, a.Balance, a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("escrow/postgres: create account: %w", err)
	}
	return nil
}

// GetAccount returns an account.
func (s *Store) GetAccount(ctx context.Context, accountID int64) (*bank.Account, error) {
	var a bank.Account
	err := s.pool.QueryRow(ctx, `
		SELECT account_id, owner_name, type, balance, created_at
		FROM bank_accounts WHERE account_id = $1`,
		accountID,
	).Scan(&a.ID, &a.OwnerName, &a.Type, &a.Balance, &a.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, bank.ErrAccountMissing
		}
		return nil, fmt.Errorf("escrow/postgres: get account: %w", err)
	}
	return &a, nil
}

// ListAccounts returns the accounts of an owner ordered by ID.
func (s *Store) ListAccounts(ctx context.Context, ownerName string) ([]*bank.Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT account_id, owner_name, type, balance, created_at
		FROM bank_accounts WHERE owner_name = $1
		ORDER BY account_id ASC`,
		ownerName,
	)
	if err != nil {
		return nil, fmt.Errorf("escrow/postgres: list accounts: %w", err)
	}
	defer rows.Close()

	var result []*bank.Account
	for rows.Next() {
		var a bank.Account
		if scanErr := rows.Scan(&a.ID, &a.OwnerName, &a.Type, &a.Balance, &a.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("escrow/postgres: scan account: %w", scanErr)
		}
		result = append(result, &a)
	}
	return result, rows.Err()
}

// adjustBalance adds delta to a balance unless the result would be
// negative.
func adjustBalance(ctx context.Context, tx pgx.Tx, accountID, delta int64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE bank_accounts SET balance = balance + $2
		WHERE account_id = $1 AND balance + $2 >= 0`,
		accountID, delta,
	)
	if err != nil {
		return fmt.Errorf("escrow/postgres: update balance: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM bank_accounts WHERE account_id = $1)`,
		accountID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("escrow/postgres: check account: %w", err)
	}
	if !exists {
		return bank.ErrAccountMissing
	}
	return bank.ErrNotEnoughBalance
}

func insertTransaction(ctx context.Context, tx pgx.Tx, rec *bank.TransactionRecord) (int64, error) {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	var txnID int64
	err := tx.QueryRow(ctx, `
		INSERT INTO bank_transactions (
			from_account_id, from_location, to_account_id, to_location, amount, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING txn_id`,
		rec.FromAccountID, rec.FromLocation, rec.ToAccountID, rec.ToLocation, rec.Amount, ts,
	).Scan(&txnID)
	if err != nil {
		return 0, fmt.Errorf("escrow/postgres: insert transaction: %w", err)
	}
	return txnID, nil
}

// ApplyTransaction updates a balance and inserts or deletes the matching
// history record in one database transaction.
func (s *Store) ApplyTransaction(ctx context.Context, accountID int64, rec *bank.TransactionRecord, deposit bool, undoTxn int64) (int64, error) {
	delta := rec.Amount
	if !deposit {
		delta = -delta
	}

	var txnID int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := adjustBalance(ctx, tx, accountID, delta); err != nil {
			return err
		}

		if undoTxn != 0 {
			tag, err := tx.Exec(ctx, `DELETE FROM bank_transactions WHERE txn_id = $1`, undoTxn)
			if err != nil {
				return fmt.Errorf("escrow/postgres: delete transaction: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("escrow/postgres: undo %d: %w", undoTxn, escrow.ErrTransactionNotFound)
			}
			txnID = undoTxn
			return nil
		}

		var err error
		txnID, err = insertTransaction(ctx, tx, rec)
		return err
	})
	if err != nil {
		return 0, err
	}
	return txnID, nil
}

// Transfer moves an amount between two local accounts and records it.
func (s *Store) Transfer(ctx context.Context, rec *bank.TransactionRecord) (int64, error) {
	var txnID int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := adjustBalance(ctx, tx, rec.FromAccountID, -rec.Amount); err != nil {
			return err
		}
		if err := adjustBalance(ctx, tx, rec.ToAccountID, rec.Amount); err != nil {
			return err
		}
		var err error
		txnID, err = insertTransaction(ctx, tx, rec)
		return err
	})
	if err != nil {
		return 0, err
	}
	return txnID, nil
}

// ListTransactions returns the local history of an account, newest first.
func (s *Store) ListTransactions(ctx context.Context, accountID int64) ([]*bank.TransactionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT txn_id, from_account_id, from_location, to_account_id, to_location, amount, timestamp
		FROM bank_transactions
		WHERE (from_account_id = $1 AND from_location = $2)
		   OR (to_account_id = $1 AND to_location = $2)
		ORDER BY txn_id DESC`,
		accountID, bank.LocationLocal,
	)
	if err != nil {
		return nil, fmt.Errorf("escrow/postgres: list transactions: %w", err)
	}
	defer rows.Close()

	var result []*bank.TransactionRecord
	for rows.Next() {
		var r bank.TransactionRecord
		scanErr := rows.Scan(&r.ID, &r.FromAccountID, &r.FromLocation, &r.ToAccountID, &r.ToLocation, &r.Amount, &r.Timestamp)
		if scanErr != nil {
			return nil, fmt.Errorf("escrow/postgres: scan transaction: %w", scanErr)
		}
		result = append(result, &r)
	}
	return result, rows.Err()
}
