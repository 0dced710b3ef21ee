package credit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Ledger exposes reserve / commit / release over a Store.
//
// For any job, exactly one of Commit or Release must follow a successful
// Reserve; the caller owns that exclusivity.
type Ledger struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewLedger creates a Ledger backed by store.
func NewLedger(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Balance returns balance, held and available seconds for an account.
func (l *Ledger) Balance(ctx context.Context, accountID string) (Balance, error) {
	acct, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		Balance:   acct.BalanceSeconds,
		Held:      acct.HeldSeconds,
		Available: acct.Available(),
	}, nil
}

// Reserve holds seconds against the account for jobID.
// Returns *InsufficientCreditError when available < seconds.
func (l *Ledger) Reserve(ctx context.Context, accountID string, seconds int, jobID string) error {
	if seconds <= 0 {
		return ErrInvalidAmount
	}

	ok, err := l.store.TryHold(ctx, accountID, seconds)
	if err != nil {
		return fmt.Errorf("hold credits: %w", err)
	}
	if !ok {
		acct, err := l.store.GetAccount(ctx, accountID)
		if err != nil {
			return fmt.Errorf("hold credits: %w", err)
		}
		return &InsufficientCreditError{Required: seconds, Available: acct.Available()}
	}

	l.record(ctx, Transaction{
		AccountID:     accountID,
		AmountSeconds: -seconds,
		Kind:          KindHold,
		JobID:         jobID,
		Description:   fmt.Sprintf("processing hold (%ds)", seconds),
	})
	return nil
}

// Commit converts a hold of seconds into a permanent deduction.
func (l *Ledger) Commit(ctx context.Context, accountID string, seconds int, jobID string) error {
	if seconds <= 0 {
		return ErrInvalidAmount
	}

	ok, err := l.store.Settle(ctx, accountID, seconds)
	if err != nil {
		return fmt.Errorf("confirm usage: %w", err)
	}
	if !ok {
		return fmt.Errorf("confirm usage for job %s: %w", jobID, ErrHoldMissing)
	}

	l.record(ctx, Transaction{
		AccountID:     accountID,
		AmountSeconds: -seconds,
		Kind:          KindUsage,
		JobID:         jobID,
		Description:   fmt.Sprintf("processing completed (%ds used)", seconds),
	})
	return nil
}

// Release cancels a hold of seconds without charging. The held amount is
// floored at zero so a retried release cannot drive it negative; an
// over-release is logged as an invariant violation.
func (l *Ledger) Release(ctx context.Context, accountID string, seconds int, jobID string) error {
	if seconds <= 0 {
		return ErrInvalidAmount
	}

	over, err := l.store.ReleaseHold(ctx, accountID, seconds)
	if err != nil {
		return fmt.Errorf("release hold: %w", err)
	}
	if over {
		l.logger.Warn("release exceeded held amount, floored at zero",
			slog.String("account_id", accountID),
			slog.String("job_id", jobID),
			slog.Int("seconds", seconds),
		)
	}

	l.record(ctx, Transaction{
		AccountID:     accountID,
		AmountSeconds: seconds,
		Kind:          KindHoldRelease,
		JobID:         jobID,
		Description:   fmt.Sprintf("processing failed, hold released (%ds restored)", seconds),
	})
	return nil
}

// Grant adds seconds to an account balance, creating the account if needed.
func (l *Ledger) Grant(ctx context.Context, accountID string, seconds int, description string) error {
	if seconds <= 0 {
		return ErrInvalidAmount
	}
	if err := l.store.AddBalance(ctx, accountID, seconds); err != nil {
		return fmt.Errorf("grant credits: %w", err)
	}
	if description == "" {
		description = fmt.Sprintf("credit grant (%ds)", seconds)
	}
	l.record(ctx, Transaction{
		AccountID:     accountID,
		AmountSeconds: seconds,
		Kind:          KindGrant,
		Description:   description,
	})
	return nil
}

// Transactions lists an account's audit records newest first.
func (l *Ledger) Transactions(ctx context.Context, accountID string, limit, offset int) ([]Transaction, error) {
	if _, err := l.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return l.store.ListTransactions(ctx, accountID, limit, offset)
}

// OutstandingHold returns the seconds still held for jobID according to the
// audit trail: holds minus usage and releases recorded against the job.
func (l *Ledger) OutstandingHold(ctx context.Context, accountID, jobID string) (int, error) {
	txs, err := l.store.ListTransactions(ctx, accountID, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("list transactions: %w", err)
	}
	held := 0
	for _, tx := range txs {
		if tx.JobID != jobID {
			continue
		}
		switch tx.Kind {
		case KindHold:
			held -= tx.AmountSeconds
		case KindUsage:
			held += tx.AmountSeconds
		case KindHoldRelease:
			held -= tx.AmountSeconds
		}
	}
	return max(held, 0), nil
}

// record appends an audit row. The balance row is authoritative, so a failed
// insert is logged rather than returned.
func (l *Ledger) record(ctx context.Context, tx Transaction) {
	tx.ID = uuid.NewString()
	tx.CreatedAt = l.now()
	if err := l.store.AppendTransaction(ctx, tx); err != nil {
		level := slog.LevelError
		if errors.Is(err, context.Canceled) {
			level = slog.LevelWarn
		}
		l.logger.Log(ctx, level, "failed to record credit transaction",
			slog.String("account_id", tx.AccountID),
			slog.String("job_id", tx.JobID),
			slog.String("kind", string(tx.Kind)),
			slog.Int("amount_seconds", tx.AmountSeconds),
			slog.String("error", err.Error()),
		)
	}
}
