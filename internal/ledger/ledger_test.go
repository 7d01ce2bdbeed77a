package ledger

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/thy3368/rustlob-sub002/internal/fixedpoint"
)

func newTestLedger(t *testing.T, accounts ...uint64) *Ledger {
	t.Helper()
	l := New(nil, nil)
	for _, id := range accounts {
		if _, err := l.CreateAccount(id, id, AccountTypeUser); err != nil {
			t.Fatalf("create account %d: %v", id, err)
		}
	}
	return l
}

func fp(t *testing.T, s string) fixedpoint.Decimal {
	t.Helper()
	d, err := fixedpoint.FromString(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return d
}

func TestFreezeUnfreezeRoundTrip(t *testing.T) {
	l := newTestLedger(t, 1)
	if _, err := l.Deposit(1, "USDT", fp(t, "1000")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	before, err := l.Execute(AccountCommand{Op: OpGetBalance, AccountID: 1, Asset: "USDT"})
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}

	if _, err := l.Execute(AccountCommand{Op: OpCheckAndFreeze, AccountID: 1, Asset: "USDT", Amount: fp(t, "400")}); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	mid, _ := l.Execute(AccountCommand{Op: OpGetBalance, AccountID: 1, Asset: "USDT"})
	if !mid.Available.Equal(fp(t, "600")) || !mid.Frozen.Equal(fp(t, "400")) {
		t.Fatalf("after freeze: available=%s frozen=%s", mid.Available, mid.Frozen)
	}

	if _, err := l.Execute(AccountCommand{Op: OpUnfreeze, AccountID: 1, Asset: "USDT", Amount: fp(t, "400")}); err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	after, _ := l.Execute(AccountCommand{Op: OpGetBalance, AccountID: 1, Asset: "USDT"})
	if !after.Available.Equal(before.Available) || !after.Frozen.Equal(before.Frozen) {
		t.Fatalf("round trip changed balances: %+v vs %+v", after, before)
	}
	if after.Version != before.Version+2 {
		t.Fatalf("version = %d, want %d", after.Version, before.Version+2)
	}
}

func TestFreezeInsufficientAvailable(t *testing.T) {
	l := newTestLedger(t, 1)
	if _, err := l.Deposit(1, "USDT", fp(t, "100")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	_, err := l.Execute(AccountCommand{Op: OpCheckAndFreeze, AccountID: 1, Asset: "USDT", Amount: fp(t, "100.00000001")})
	if !errors.Is(err, ErrInsufficientAvailable) {
		t.Fatalf("err = %v, want ErrInsufficientAvailable", err)
	}
	snap, _ := l.Execute(AccountCommand{Op: OpGetBalance, AccountID: 1, Asset: "USDT"})
	if !snap.Available.Equal(fp(t, "100")) || !snap.Frozen.IsZero() {
		t.Fatalf("failed freeze must not move funds: %+v", snap)
	}
}

func TestCreditOverflowLeavesBalanceUntouched(t *testing.T) {
	l := newTestLedger(t, 1)
	huge := fixedpoint.FromRaw(math.MaxInt64 / 2)
	if _, err := l.Deposit(1, "USDT", huge); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := l.Deposit(1, "USDT", huge); err != nil {
		t.Fatalf("second deposit: %v", err)
	}

	before, _ := l.Execute(AccountCommand{Op: OpGetBalance, AccountID: 1, Asset: "USDT"})

	_, err := l.Deposit(1, "USDT", huge)
	if !errors.Is(err, ErrOverflow) {
		t.Fatalf("err = %v, want ErrOverflow", err)
	}
	after, _ := l.Execute(AccountCommand{Op: OpGetBalance, AccountID: 1, Asset: "USDT"})
	if !after.Available.Equal(before.Available) || after.Version != before.Version {
		t.Fatalf("overflowing credit must be a no-op: %+v vs %+v", after, before)
	}
}

func TestVersionMonotonicPerMutation(t *testing.T) {
	l := newTestLedger(t, 1)
	amount := fp(t, "10")

	version := uint64(0)
	step := func(cmd AccountCommand) {
		t.Helper()
		result, err := l.Execute(cmd)
		if err != nil {
			t.Fatalf("%s: %v", cmd.Op, err)
		}
		if result.Version != version+1 {
			t.Fatalf("%s: version = %d, want %d", cmd.Op, result.Version, version+1)
		}
		version = result.Version
	}

	step(AccountCommand{Op: OpCredit, AccountID: 1, Asset: "BTC", Amount: amount})
	step(AccountCommand{Op: OpCheckAndFreeze, AccountID: 1, Asset: "BTC", Amount: amount})
	step(AccountCommand{Op: OpUnfreeze, AccountID: 1, Asset: "BTC", Amount: amount})
	step(AccountCommand{Op: OpDebit, AccountID: 1, Asset: "BTC", Amount: amount})
}

func TestExpectedVersionConflict(t *testing.T) {
	l := newTestLedger(t, 1)
	if _, err := l.Deposit(1, "USDT", fp(t, "100")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	snap, _ := l.Execute(AccountCommand{Op: OpGetBalance, AccountID: 1, Asset: "USDT"})

	// Concurrent writer bumps the version.
	if _, err := l.Deposit(1, "USDT", fp(t, "1")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	_, err := l.Execute(AccountCommand{
		Op: OpDebit, AccountID: 1, Asset: "USDT",
		Amount: fp(t, "50"), ExpectedVersion: snap.Version,
	})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("err = %v, want ErrVersionConflict", err)
	}

	// Retry refreshes the version and succeeds.
	result, err := l.ExecuteWithRetry(AccountCommand{
		Op: OpDebit, AccountID: 1, Asset: "USDT",
		Amount: fp(t, "50"), ExpectedVersion: snap.Version,
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !result.Available.Equal(fp(t, "51")) {
		t.Fatalf("available = %s, want 51", result.Available)
	}
}

func TestConcurrentMutationsCommitPerBalance(t *testing.T) {
	l := newTestLedger(t, 1)
	one := fp(t, "1")

	const workers = 8
	const perWorker = 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if _, err := l.Execute(AccountCommand{Op: OpCredit, AccountID: 1, Asset: "USDT", Amount: one}); err != nil {
					t.Errorf("credit: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	snap, err := l.Execute(AccountCommand{Op: OpGetBalance, AccountID: 1, Asset: "USDT"})
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	want := fixedpoint.FromRaw(int64(workers*perWorker) * fixedpoint.Unit)
	if !snap.Available.Equal(want) {
		t.Fatalf("available = %s, want %s", snap.Available, want)
	}
	// One version bump per committed mutation, none lost.
	if snap.Version != workers*perWorker {
		t.Fatalf("version = %d, want %d", snap.Version, workers*perWorker)
	}
}

func TestTransferConservesTotal(t *testing.T) {
	l := newTestLedger(t, 1, 2)
	if _, err := l.Deposit(1, "USDT", fp(t, "500")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	result, err := l.Execute(AccountCommand{
		Op: OpTransfer, AccountID: 1, ToAccountID: 2,
		Asset: "USDT", Amount: fp(t, "120"),
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !result.Available.Equal(fp(t, "380")) {
		t.Fatalf("source available = %s, want 380", result.Available)
	}
	if result.To == nil || !result.To.Available.Equal(fp(t, "120")) {
		t.Fatalf("destination result = %+v", result.To)
	}

	sum, err := result.Available.Add(result.To.Available)
	if err != nil || !sum.Equal(fp(t, "500")) {
		t.Fatalf("transfer must conserve the total: %s", sum)
	}
}

func TestTransferInsufficientIsAtomic(t *testing.T) {
	l := newTestLedger(t, 1, 2)
	if _, err := l.Deposit(1, "USDT", fp(t, "10")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	_, err := l.Execute(AccountCommand{
		Op: OpTransfer, AccountID: 1, ToAccountID: 2,
		Asset: "USDT", Amount: fp(t, "20"),
	})
	if !errors.Is(err, ErrInsufficientAvailable) {
		t.Fatalf("err = %v, want ErrInsufficientAvailable", err)
	}
	dest, _ := l.Execute(AccountCommand{Op: OpGetBalance, AccountID: 2, Asset: "USDT"})
	if !dest.Available.IsZero() || dest.Version != 0 {
		t.Fatalf("failed transfer must not touch the destination: %+v", dest)
	}
}

func TestSettlePnlSigned(t *testing.T) {
	l := newTestLedger(t, 1)
	if _, err := l.Deposit(1, "USDT", fp(t, "100")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	gain, err := l.Execute(AccountCommand{Op: OpSettlePnl, AccountID: 1, Asset: "USDT", Amount: fp(t, "25")})
	if err != nil {
		t.Fatalf("settle gain: %v", err)
	}
	if !gain.Available.Equal(fp(t, "125")) {
		t.Fatalf("after gain available = %s", gain.Available)
	}

	loss, err := l.Execute(AccountCommand{Op: OpSettlePnl, AccountID: 1, Asset: "USDT", Amount: fp(t, "-100")})
	if err != nil {
		t.Fatalf("settle loss: %v", err)
	}
	if !loss.Available.Equal(fp(t, "25")) {
		t.Fatalf("after loss available = %s", loss.Available)
	}

	_, err = l.Execute(AccountCommand{Op: OpSettlePnl, AccountID: 1, Asset: "USDT", Amount: fp(t, "-100")})
	if !errors.Is(err, ErrInsufficientAvailable) {
		t.Fatalf("oversized loss err = %v, want ErrInsufficientAvailable", err)
	}
}

func TestAccountStatusGates(t *testing.T) {
	l := newTestLedger(t, 1)
	if _, err := l.Deposit(1, "USDT", fp(t, "100")); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := l.SetAccountStatus(1, AccountFrozen); err != nil {
		t.Fatalf("freeze account: %v", err)
	}
	_, err := l.Execute(AccountCommand{Op: OpDebit, AccountID: 1, Asset: "USDT", Amount: fp(t, "10")})
	if !errors.Is(err, ErrAccountFrozen) {
		t.Fatalf("debit on frozen account err = %v", err)
	}
	// Credits still land on frozen accounts.
	if _, err := l.Deposit(1, "USDT", fp(t, "10")); err != nil {
		t.Fatalf("credit on frozen account: %v", err)
	}

	if err := l.SetAccountStatus(1, AccountClosed); err != nil {
		t.Fatalf("close account: %v", err)
	}
	_, err = l.Execute(AccountCommand{Op: OpCredit, AccountID: 1, Asset: "USDT", Amount: fp(t, "1")})
	if !errors.Is(err, ErrAccountClosed) {
		t.Fatalf("credit on closed account err = %v", err)
	}
	if err := l.SetAccountStatus(1, AccountActive); !errors.Is(err, ErrAccountClosed) {
		t.Fatalf("reopening a closed account err = %v", err)
	}
}

func TestUnknownAccount(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Execute(AccountCommand{Op: OpGetBalance, AccountID: 42, Asset: "USDT"})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("err = %v, want ErrAccountNotFound", err)
	}
}
