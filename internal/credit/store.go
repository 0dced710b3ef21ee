package credit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store is the persistence port used by Ledger. Each mutating method must be
// a single atomic row update; the audit insert is a separate call.
type Store interface {
	// GetAccount returns the credit row or ErrAccountNotFound.
	GetAccount(ctx context.Context, accountID string) (Account, error)

	// TryHold increments held by seconds only if balance-held >= seconds.
	// It returns ok=false without error when the condition does not hold.
	TryHold(ctx context.Context, accountID string, seconds int) (ok bool, err error)

	// Settle decrements both balance and held by seconds only if held >= seconds.
	// It returns ok=false without error when the condition does not hold.
	Settle(ctx context.Context, accountID string, seconds int) (ok bool, err error)

	// ReleaseHold decrements held by seconds, flooring at zero. overRelease
	// reports that the floor was applied.
	ReleaseHold(ctx context.Context, accountID string, seconds int) (overRelease bool, err error)

	// AddBalance increments balance, creating the row when missing.
	AddBalance(ctx context.Context, accountID string, seconds int) error

	// AppendTransaction inserts an audit record.
	AppendTransaction(ctx context.Context, tx Transaction) error

	// ListTransactions returns an account's records newest first.
	ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]Transaction, error)
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory implementation of Store.
// A single mutex makes every row update atomic.
type MemoryStore struct {
	mu           sync.Mutex
	accounts     map[string]Account
	transactions []Transaction
}

// NewMemoryStore creates an empty in-memory credit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]Account)}
}

// GetAccount returns a copy of the account row.
func (s *MemoryStore) GetAccount(_ context.Context, accountID string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acct, nil
}

// TryHold implements Store.
func (s *MemoryStore) TryHold(_ context.Context, accountID string, seconds int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	if !ok {
		return false, ErrAccountNotFound
	}
	if acct.BalanceSeconds-acct.HeldSeconds < seconds {
		return false, nil
	}
	acct.HeldSeconds += seconds
	acct.UpdatedAt = time.Now()
	s.accounts[accountID] = acct
	return true, nil
}

// Settle implements Store.
func (s *MemoryStore) Settle(_ context.Context, accountID string, seconds int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	if !ok {
		return false, ErrAccountNotFound
	}
	if acct.HeldSeconds < seconds {
		return false, nil
	}
	acct.BalanceSeconds -= seconds
	acct.HeldSeconds -= seconds
	acct.UpdatedAt = time.Now()
	s.accounts[accountID] = acct
	return true, nil
}

// ReleaseHold implements Store.
func (s *MemoryStore) ReleaseHold(_ context.Context, accountID string, seconds int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	if !ok {
		return false, ErrAccountNotFound
	}
	over := acct.HeldSeconds < seconds
	acct.HeldSeconds = max(0, acct.HeldSeconds-seconds)
	acct.UpdatedAt = time.Now()
	s.accounts[accountID] = acct
	return over, nil
}

// AddBalance implements Store.
func (s *MemoryStore) AddBalance(_ context.Context, accountID string, seconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.accounts[accountID]
	acct.AccountID = accountID
	acct.BalanceSeconds += seconds
	acct.UpdatedAt = time.Now()
	s.accounts[accountID] = acct
	return nil
}

// AppendTransaction implements Store.
func (s *MemoryStore) AppendTransaction(_ context.Context, tx Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = append(s.transactions, tx)
	return nil
}

// ListTransactions implements Store.
func (s *MemoryStore) ListTransactions(_ context.Context, accountID string, limit, offset int) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []Transaction
	for _, tx := range s.transactions {
		if tx.AccountID == accountID {
			matched = append(matched, tx)
		}
	}
	// Stable sort keeps insertion order for equal timestamps; reverse for newest first.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}

	if offset >= len(matched) {
		return []Transaction{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}
