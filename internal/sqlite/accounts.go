package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/maauso/eogum-api/internal/account"
)

// Compile-time check that Store implements account.Directory.
var _ account.Directory = (*Store)(nil)

// Account is a registered user as stored in the accounts table.
type Account struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// AddAccount registers an account or replaces its contact email.
func (s *Store) AddAccount(ctx context.Context, accountID, email string) error {
	_, err := s.execWithRetry(ctx,
		`INSERT INTO accounts (id, email, created_at) VALUES (?, ?, ?)
         ON CONFLICT (id) DO UPDATE SET email = excluded.email`,
		accountID, email, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("add account: %w", err)
	}
	return nil
}

// ContactEmail returns the registered email for accountID.
func (s *Store) ContactEmail(ctx context.Context, accountID string) (string, error) {
	var email string
	err := s.db.QueryRowContext(ctx, `SELECT email FROM accounts WHERE id = ?`, accountID).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", account.ErrAccountNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get account email: %w", err)
	}
	return email, nil
}

// ListAccounts returns every registered account, oldest first.
func (s *Store) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, email, created_at FROM accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []Account
	for rows.Next() {
		var (
			a       Account
			created sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.Email, &created); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		a.CreatedAt = parseTime(created)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}
