package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thy3368/rustlob-sub002/internal/fixedpoint"
)

var (
	ErrAccountNotFound       = errors.New("account not found")
	ErrAccountExists         = errors.New("account already exists")
	ErrAccountFrozen         = errors.New("account frozen")
	ErrAccountClosed         = errors.New("account closed")
	ErrInsufficientAvailable = errors.New("insufficient available balance")
	ErrInsufficientFrozen    = errors.New("insufficient frozen balance")
	ErrOverflow              = errors.New("balance overflow")
	ErrVersionConflict       = errors.New("balance version conflict")
	ErrInvalidAmount         = errors.New("amount must be positive")
)

const maxRetries = 3

// balanceSlot holds one balance behind an atomic pointer. Every mutation
// stages a copy and commits by swapping the pointer, so a commit lands only
// if the version the mutation read is still current.
type balanceSlot struct {
	ptr atomic.Pointer[Balance]
}

func newBalanceSlot() *balanceSlot {
	s := &balanceSlot{}
	s.ptr.Store(&Balance{Available: fixedpoint.Zero, Frozen: fixedpoint.Zero})
	return s
}

func (s *balanceSlot) load() Balance { return *s.ptr.Load() }

// mutate applies one change through the compare-and-swap commit. A caller
// that holds an ExpectedVersion token gets ErrVersionConflict on any lost
// race; without a token the mutation re-reads the fresh balance and retries
// until it commits or the apply step itself fails.
func (s *balanceSlot) mutate(expected uint64, apply func(*Balance) error) (Balance, error) {
	for {
		cur := s.ptr.Load()
		if expected != 0 && expected != cur.Version {
			return Balance{}, ErrVersionConflict
		}
		staged := *cur
		if err := apply(&staged); err != nil {
			return Balance{}, err
		}
		if s.ptr.CompareAndSwap(cur, &staged) {
			return staged, nil
		}
		if expected != 0 {
			return Balance{}, ErrVersionConflict
		}
	}
}

// Ledger holds every account and balance. The mutex guards only the maps;
// balance mutations commit through the per-balance version CAS, so commands
// on different balances never contend with each other.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[uint64]*Account
	balances map[BalanceKey]*balanceSlot
	logger   *slog.Logger
	metrics  *Metrics
	now      func() time.Time
}

func New(logger *slog.Logger, metrics *Metrics) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		accounts: make(map[uint64]*Account),
		balances: make(map[BalanceKey]*balanceSlot),
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// CreateAccount registers a new active account.
func (l *Ledger) CreateAccount(id, userID uint64, typ AccountType) (*Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.accounts[id]; exists {
		return nil, ErrAccountExists
	}
	account := &Account{
		ID:        id,
		UserID:    userID,
		Type:      typ,
		Status:    AccountActive,
		CreatedAt: l.now(),
	}
	l.accounts[id] = account
	return account, nil
}

// SetAccountStatus freezes, unfreezes or closes an account. A closed account
// stays closed.
func (l *Ledger) SetAccountStatus(id uint64, status AccountStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	account, ok := l.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	if account.Status == AccountClosed {
		return ErrAccountClosed
	}
	account.Status = status
	return nil
}

// Deposit credits available funds without status checks. It is the entry
// point for external funding, used by tests and the seed path.
func (l *Ledger) Deposit(accountID uint64, asset string, amount fixedpoint.Decimal) (AccountCommandResult, error) {
	return l.Execute(AccountCommand{Op: OpCredit, AccountID: accountID, Asset: asset, Amount: amount})
}

// Execute runs one account command atomically. Failed commands leave every
// balance exactly as it was.
func (l *Ledger) Execute(cmd AccountCommand) (AccountCommandResult, error) {
	start := time.Now()
	result, err := l.execute(cmd)
	l.metrics.ObserveCommand(string(cmd.Op), err, time.Since(start))
	return result, err
}

// ExecuteWithRetry re-runs a version-conditional command on conflict,
// refreshing the expected version each attempt. Other errors return
// immediately.
func (l *Ledger) ExecuteWithRetry(cmd AccountCommand) (AccountCommandResult, error) {
	var result AccountCommandResult
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		result, err = l.Execute(cmd)
		if !errors.Is(err, ErrVersionConflict) {
			return result, err
		}
		l.metrics.IncConflictRetry()
		if cmd.ExpectedVersion != 0 {
			snapshot, lookupErr := l.Execute(AccountCommand{
				Op:        OpGetBalance,
				AccountID: cmd.AccountID,
				Asset:     cmd.Asset,
			})
			if lookupErr != nil {
				return AccountCommandResult{}, lookupErr
			}
			cmd.ExpectedVersion = snapshot.Version
		}
	}
	return result, err
}

func (l *Ledger) execute(cmd AccountCommand) (AccountCommandResult, error) {
	switch cmd.Op {
	case OpGetBalance:
		account, err := l.account(cmd.AccountID, true)
		if err != nil {
			return AccountCommandResult{}, err
		}
		return l.result(account.ID, cmd.Asset, l.slot(account.ID, cmd.Asset).load()), nil

	case OpCheckAndFreeze:
		return l.mutate(cmd, func(b *Balance, now time.Time) error {
			return b.freeze(cmd.Amount, now)
		})

	case OpUnfreeze:
		return l.mutate(cmd, func(b *Balance, now time.Time) error {
			return b.unfreeze(cmd.Amount, now)
		})

	case OpCredit:
		return l.mutate(cmd, func(b *Balance, now time.Time) error {
			return b.credit(cmd.Amount, now)
		})

	case OpDebit:
		return l.mutate(cmd, func(b *Balance, now time.Time) error {
			return b.debit(cmd.Amount, now)
		})

	case OpDebitFrozen:
		return l.mutate(cmd, func(b *Balance, now time.Time) error {
			return b.debitFrozen(cmd.Amount, now)
		})

	case OpTransfer:
		return l.transfer(cmd)

	case OpSettlePnl:
		return l.settlePnl(cmd)
	}
	return AccountCommandResult{}, fmt.Errorf("unknown account op %q", cmd.Op)
}

// mutate applies one single-balance mutation with status and amount checks,
// then commits it through the slot's version CAS.
func (l *Ledger) mutate(cmd AccountCommand, apply func(*Balance, time.Time) error) (AccountCommandResult, error) {
	if !cmd.Amount.IsPositive() {
		return AccountCommandResult{}, ErrInvalidAmount
	}
	account, err := l.account(cmd.AccountID, cmd.Op == OpCredit)
	if err != nil {
		return AccountCommandResult{}, err
	}

	now := l.now()
	balance, err := l.slot(account.ID, cmd.Asset).mutate(cmd.ExpectedVersion, func(b *Balance) error {
		return apply(b, now)
	})
	if err != nil {
		return AccountCommandResult{}, err
	}
	return l.result(account.ID, cmd.Asset, balance), nil
}

// transfer debits the source and credits the destination, each through its
// own balance CAS. A failed credit undoes the debit so funds cannot vanish.
func (l *Ledger) transfer(cmd AccountCommand) (AccountCommandResult, error) {
	if !cmd.Amount.IsPositive() {
		return AccountCommandResult{}, ErrInvalidAmount
	}
	from, err := l.account(cmd.AccountID, false)
	if err != nil {
		return AccountCommandResult{}, err
	}
	to, err := l.account(cmd.ToAccountID, true)
	if err != nil {
		return AccountCommandResult{}, err
	}

	now := l.now()
	fromSlot := l.slot(from.ID, cmd.Asset)
	toSlot := l.slot(to.ID, cmd.Asset)

	fromBalance, err := fromSlot.mutate(cmd.ExpectedVersion, func(b *Balance) error {
		return b.debit(cmd.Amount, now)
	})
	if err != nil {
		return AccountCommandResult{}, err
	}

	toBalance, err := toSlot.mutate(0, func(b *Balance) error {
		return b.credit(cmd.Amount, now)
	})
	if err != nil {
		if _, undoErr := fromSlot.mutate(0, func(b *Balance) error {
			return b.credit(cmd.Amount, now)
		}); undoErr != nil {
			l.logger.Error("transfer rollback failed",
				"from", from.ID, "to", to.ID, "asset", cmd.Asset, "error", undoErr)
		}
		return AccountCommandResult{}, err
	}

	result := l.result(from.ID, cmd.Asset, fromBalance)
	toResult := l.result(to.ID, cmd.Asset, toBalance)
	result.To = &toResult
	return result, nil
}

// settlePnl adjusts available funds by a signed amount. Losses larger than
// the available balance are rejected rather than driving it negative.
func (l *Ledger) settlePnl(cmd AccountCommand) (AccountCommandResult, error) {
	if cmd.Amount.IsZero() {
		return AccountCommandResult{}, ErrInvalidAmount
	}
	account, err := l.account(cmd.AccountID, false)
	if err != nil {
		return AccountCommandResult{}, err
	}

	now := l.now()
	balance, err := l.slot(account.ID, cmd.Asset).mutate(cmd.ExpectedVersion, func(b *Balance) error {
		if cmd.Amount.IsPositive() {
			return b.credit(cmd.Amount, now)
		}
		loss, absErr := cmd.Amount.Abs()
		if absErr != nil {
			return ErrOverflow
		}
		return b.debit(loss, now)
	})
	if err != nil {
		return AccountCommandResult{}, err
	}
	return l.result(account.ID, cmd.Asset, balance), nil
}

// account looks up an account and enforces its status. Credits and reads are
// allowed on frozen accounts so settlement and refunds still land; debits
// and freezes are not.
func (l *Ledger) account(id uint64, allowFrozen bool) (*Account, error) {
	l.mu.RLock()
	account, ok := l.accounts[id]
	var status AccountStatus
	if ok {
		status = account.Status
	}
	l.mu.RUnlock()

	if !ok {
		return nil, ErrAccountNotFound
	}
	switch status {
	case AccountClosed:
		return nil, ErrAccountClosed
	case AccountFrozen:
		if !allowFrozen {
			return nil, ErrAccountFrozen
		}
	}
	return account, nil
}

// slot fetches or lazily creates the balance slot; the lock covers the map
// lookup only, never the mutation.
func (l *Ledger) slot(accountID uint64, asset string) *balanceSlot {
	key := BalanceKey{AccountID: accountID, Asset: asset}
	l.mu.RLock()
	s, ok := l.balances[key]
	l.mu.RUnlock()
	if ok {
		return s
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.balances[key]; ok {
		return s
	}
	s = newBalanceSlot()
	l.balances[key] = s
	return s
}

func (l *Ledger) result(accountID uint64, asset string, b Balance) AccountCommandResult {
	return AccountCommandResult{
		AccountID: accountID,
		Asset:     asset,
		Available: b.Available,
		Frozen:    b.Frozen,
		Version:   b.Version,
	}
}
