package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/maauso/eogum-api/internal/credit"
)

// Compile-time check that Store implements credit.Store.
var _ credit.Store = (*Store)(nil)

// maxReleaseAttempts bounds the exact-then-floor loop in ReleaseHold.
const maxReleaseAttempts = 3

// GetAccount returns the credit row or credit.ErrAccountNotFound.
func (s *Store) GetAccount(ctx context.Context, accountID string) (credit.Account, error) {
	var (
		acct    credit.Account
		updated sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT account_id, balance_seconds, held_seconds, updated_at FROM credits WHERE account_id = ?`,
		accountID,
	).Scan(&acct.AccountID, &acct.BalanceSeconds, &acct.HeldSeconds, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return credit.Account{}, credit.ErrAccountNotFound
	}
	if err != nil {
		return credit.Account{}, fmt.Errorf("get credits: %w", err)
	}
	acct.UpdatedAt = parseTime(updated)
	return acct, nil
}

// TryHold increments held only while balance - held covers seconds.
func (s *Store) TryHold(ctx context.Context, accountID string, seconds int) (bool, error) {
	n, err := s.execAffected(ctx,
		`UPDATE credits SET held_seconds = held_seconds + ?, updated_at = ?
         WHERE account_id = ? AND balance_seconds - held_seconds >= ?`,
		seconds, formatTime(time.Now()), accountID, seconds,
	)
	if err != nil {
		return false, fmt.Errorf("hold credits: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	return false, s.requireAccount(ctx, accountID)
}

// Settle moves seconds out of both balance and held while held covers them.
func (s *Store) Settle(ctx context.Context, accountID string, seconds int) (bool, error) {
	n, err := s.execAffected(ctx,
		`UPDATE credits SET balance_seconds = balance_seconds - ?, held_seconds = held_seconds - ?, updated_at = ?
         WHERE account_id = ? AND held_seconds >= ?`,
		seconds, seconds, formatTime(time.Now()), accountID, seconds,
	)
	if err != nil {
		return false, fmt.Errorf("settle credits: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	return false, s.requireAccount(ctx, accountID)
}

// ReleaseHold decrements held by seconds, flooring at zero. Each branch is a
// single conditional UPDATE, so the over-release flag matches the row state
// the write actually saw.
func (s *Store) ReleaseHold(ctx context.Context, accountID string, seconds int) (bool, error) {
	for attempt := 0; attempt < maxReleaseAttempts; attempt++ {
		now := formatTime(time.Now())
		n, err := s.execAffected(ctx,
			`UPDATE credits SET held_seconds = held_seconds - ?, updated_at = ?
             WHERE account_id = ? AND held_seconds >= ?`,
			seconds, now, accountID, seconds,
		)
		if err != nil {
			return false, fmt.Errorf("release hold: %w", err)
		}
		if n == 1 {
			return false, nil
		}

		n, err = s.execAffected(ctx,
			`UPDATE credits SET held_seconds = 0, updated_at = ?
             WHERE account_id = ? AND held_seconds < ?`,
			now, accountID, seconds,
		)
		if err != nil {
			return false, fmt.Errorf("release hold: %w", err)
		}
		if n == 1 {
			return true, nil
		}

		if err := s.requireAccount(ctx, accountID); err != nil {
			return false, err
		}
	}
	return false, fmt.Errorf("release hold: row changed concurrently %d times", maxReleaseAttempts)
}

// AddBalance increments balance, creating the row when missing.
func (s *Store) AddBalance(ctx context.Context, accountID string, seconds int) error {
	_, err := s.execWithRetry(ctx,
		`INSERT INTO credits (account_id, balance_seconds, held_seconds, updated_at) VALUES (?, ?, 0, ?)
         ON CONFLICT (account_id) DO UPDATE SET
             balance_seconds = balance_seconds + excluded.balance_seconds,
             updated_at = excluded.updated_at`,
		accountID, seconds, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("add balance: %w", err)
	}
	return nil
}

// AppendTransaction inserts an audit record.
func (s *Store) AppendTransaction(ctx context.Context, tx credit.Transaction) error {
	_, err := s.execWithRetry(ctx,
		`INSERT INTO credit_transactions (id, account_id, amount_seconds, kind, job_id, description, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		tx.AccountID,
		tx.AmountSeconds,
		string(tx.Kind),
		nullableString(tx.JobID),
		nullableString(tx.Description),
		formatTime(tx.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// ListTransactions returns an account's records newest first. A non-positive
// limit returns everything after offset.
func (s *Store) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]credit.Transaction, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, amount_seconds, kind, job_id, description, created_at
         FROM credit_transactions WHERE account_id = ?
         ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		accountID, limit, max(offset, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	txs := make([]credit.Transaction, 0)
	for rows.Next() {
		var (
			tx          credit.Transaction
			kind        string
			jobID       sql.NullString
			description sql.NullString
			created     sql.NullString
		)
		if err := rows.Scan(&tx.ID, &tx.AccountID, &tx.AmountSeconds, &kind, &jobID, &description, &created); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.Kind = credit.Kind(kind)
		tx.JobID = jobID.String
		tx.Description = description.String
		tx.CreatedAt = parseTime(created)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (s *Store) requireAccount(ctx context.Context, accountID string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM credits WHERE account_id = ?`, accountID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return credit.ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("check credits: %w", err)
	}
	return nil
}
