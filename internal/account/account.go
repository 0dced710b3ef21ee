// Package account resolves account identity for notification purposes.
package account

import (
	"context"
	"errors"
	"sync"
)

// ErrAccountNotFound is returned when no account record exists for an ID.
var ErrAccountNotFound = errors.New("account not found")

// Directory looks up contact details for an account.
type Directory interface {
	// ContactEmail returns the address notifications are sent to.
	// Returns ErrAccountNotFound if the account does not exist.
	ContactEmail(ctx context.Context, accountID string) (string, error)
}

// Compile-time check that MemoryDirectory implements Directory.
var _ Directory = (*MemoryDirectory)(nil)

// MemoryDirectory is an in-memory Directory used by tests and local runs.
type MemoryDirectory struct {
	mu     sync.RWMutex
	emails map[string]string
}

// NewMemoryDirectory creates an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{emails: make(map[string]string)}
}

// Add registers or replaces the contact email for an account.
func (d *MemoryDirectory) Add(accountID, email string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emails[accountID] = email
}

// ContactEmail returns the registered email for accountID.
func (d *MemoryDirectory) ContactEmail(_ context.Context, accountID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	email, ok := d.emails[accountID]
	if !ok {
		return "", ErrAccountNotFound
	}
	return email, nil
}
