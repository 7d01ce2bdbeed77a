// Package ledger tracks account balances with available/frozen buckets and
// optimistic per-balance versioning. All arithmetic is checked fixed-point;
// an overflow rejects the mutation and leaves the balance untouched.
package ledger

import (
	"time"

	"github.com/thy3368/rustlob-sub002/internal/fixedpoint"
)

type AccountStatus string

const (
	AccountActive AccountStatus = "active"
	AccountFrozen AccountStatus = "frozen"
	AccountClosed AccountStatus = "closed"
)

type AccountType string

const (
	AccountTypeUser   AccountType = "user"
	AccountTypeFee    AccountType = "fee"
	AccountTypeSystem AccountType = "system"
)

// Account is the owner of a set of per-asset balances. Balances are created
// lazily on first mutation and never deleted.
type Account struct {
	ID        uint64
	UserID    uint64
	Type      AccountType
	Status    AccountStatus
	CreatedAt time.Time
}

// BalanceKey addresses one balance bucket.
type BalanceKey struct {
	AccountID uint64
	Asset     string
}

// Balance is one asset bucket. Version increments on every mutation and is
// the optimistic-lock token; readers that want compare-and-swap semantics
// pass the version they read back as ExpectedVersion.
type Balance struct {
	Available fixedpoint.Decimal
	Frozen    fixedpoint.Decimal
	Version   uint64
	UpdatedAt time.Time
}

// Total returns available plus frozen.
func (b Balance) Total() (fixedpoint.Decimal, error) {
	return b.Available.Add(b.Frozen)
}

func (b *Balance) freeze(amount fixedpoint.Decimal, now time.Time) error {
	if b.Available.Cmp(amount) < 0 {
		return ErrInsufficientAvailable
	}
	available, err := b.Available.Sub(amount)
	if err != nil {
		return ErrOverflow
	}
	frozen, err := b.Frozen.Add(amount)
	if err != nil {
		return ErrOverflow
	}
	b.Available = available
	b.Frozen = frozen
	b.bump(now)
	return nil
}

func (b *Balance) unfreeze(amount fixedpoint.Decimal, now time.Time) error {
	if b.Frozen.Cmp(amount) < 0 {
		return ErrInsufficientFrozen
	}
	frozen, err := b.Frozen.Sub(amount)
	if err != nil {
		return ErrOverflow
	}
	available, err := b.Available.Add(amount)
	if err != nil {
		return ErrOverflow
	}
	b.Frozen = frozen
	b.Available = available
	b.bump(now)
	return nil
}

func (b *Balance) credit(amount fixedpoint.Decimal, now time.Time) error {
	available, err := b.Available.Add(amount)
	if err != nil {
		return ErrOverflow
	}
	b.Available = available
	b.bump(now)
	return nil
}

func (b *Balance) debit(amount fixedpoint.Decimal, now time.Time) error {
	if b.Available.Cmp(amount) < 0 {
		return ErrInsufficientAvailable
	}
	available, err := b.Available.Sub(amount)
	if err != nil {
		return ErrOverflow
	}
	b.Available = available
	b.bump(now)
	return nil
}

func (b *Balance) debitFrozen(amount fixedpoint.Decimal, now time.Time) error {
	if b.Frozen.Cmp(amount) < 0 {
		return ErrInsufficientFrozen
	}
	frozen, err := b.Frozen.Sub(amount)
	if err != nil {
		return ErrOverflow
	}
	b.Frozen = frozen
	b.bump(now)
	return nil
}

func (b *Balance) bump(now time.Time) {
	b.Version++
	b.UpdatedAt = now
}
