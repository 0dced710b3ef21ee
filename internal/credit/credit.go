// Package credit provides the prepaid seconds-of-video ledger.
// Each account has a balance and a held (reserved but unspent) amount; all
// mutations go through Ledger, which pairs a single atomic row update with an
// append-only audit transaction.
package credit

import (
	"errors"
	"fmt"
	"time"

	"github.com/maauso/eogum-api/internal/account"
)

// Kind classifies a ledger transaction.
type Kind string

const (
	// KindHold records a reservation taken before processing starts.
	KindHold Kind = "hold"
	// KindUsage records a hold converted into a permanent deduction.
	KindUsage Kind = "usage"
	// KindHoldRelease records a hold cancelled without charge.
	KindHoldRelease Kind = "hold_release"
	// KindGrant records seconds added to an account balance.
	KindGrant Kind = "grant"
)

// Static errors for ledger operations.
var (
	// ErrAccountNotFound is returned when no credit row exists for an account.
	ErrAccountNotFound = account.ErrAccountNotFound
	// ErrInsufficientCredit is matched by *InsufficientCreditError.
	ErrInsufficientCredit = errors.New("insufficient credit")
	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("credit: amount must be positive")
	// ErrHoldMissing is returned when a commit exceeds the held amount.
	ErrHoldMissing = errors.New("credit: commit exceeds held amount")
)

// InsufficientCreditError carries the amounts shown to the user when a
// reservation cannot be satisfied.
type InsufficientCreditError struct {
	Required  int
	Available int
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient credit: required %ds, available %ds", e.Required, e.Available)
}

// Is reports whether target is ErrInsufficientCredit.
func (e *InsufficientCreditError) Is(target error) bool {
	return target == ErrInsufficientCredit
}

// Account is the persisted credit row for one account.
type Account struct {
	AccountID      string
	BalanceSeconds int
	HeldSeconds    int
	UpdatedAt      time.Time
}

// Available returns balance minus held, clamped at zero.
func (a Account) Available() int {
	if avail := a.BalanceSeconds - a.HeldSeconds; avail > 0 {
		return avail
	}
	return 0
}

// Balance is the read view returned by Ledger.Balance.
type Balance struct {
	Balance   int `json:"balance_seconds"`
	Held      int `json:"held_seconds"`
	Available int `json:"available_seconds"`
}

// Transaction is an immutable audit record of a ledger mutation.
type Transaction struct {
	ID            string
	AccountID     string
	AmountSeconds int
	Kind          Kind
	JobID         string
	Description   string
	CreatedAt     time.Time
}
