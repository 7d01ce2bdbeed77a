package ledger

import (
	"github.com/thy3368/rustlob-sub002/internal/command"
	"github.com/thy3368/rustlob-sub002/internal/fixedpoint"
)

// Op tags an account command variant. Dispatch is an exhaustive switch.
type Op string

const (
	OpCheckAndFreeze Op = "check_and_freeze"
	OpUnfreeze       Op = "unfreeze"
	OpCredit         Op = "credit"
	OpDebit          Op = "debit"
	OpDebitFrozen    Op = "debit_frozen"
	OpTransfer       Op = "transfer"
	OpSettlePnl      Op = "settle_pnl"
	OpGetBalance     Op = "get_balance"
)

// AccountCommand is one balance mutation or lookup. ExpectedVersion, when
// non-zero, makes the mutation conditional on the balance version the caller
// read; a mismatch fails with ErrVersionConflict and changes nothing.
type AccountCommand struct {
	Op        Op
	AccountID uint64
	Asset     string
	// Amount is the magnitude for every op except SettlePnl, where the
	// sign is meaningful.
	Amount fixedpoint.Decimal
	// ToAccountID is the transfer destination.
	ToAccountID     uint64
	ExpectedVersion uint64
}

// AccountCommandResult snapshots the balance after the command. Transfer
// reports the destination in To.
type AccountCommandResult struct {
	AccountID uint64
	Asset     string
	Available fixedpoint.Decimal
	Frozen    fixedpoint.Decimal
	Version   uint64
	To        *AccountCommandResult
}

// CodeOf maps a ledger error to the caller-visible error code.
func CodeOf(err error) command.ErrorCode {
	switch err {
	case nil:
		return ""
	case ErrAccountNotFound:
		return command.ErrAccountNotFound
	case ErrAccountFrozen:
		return command.ErrAccountFrozen
	case ErrAccountClosed:
		return command.ErrAccountClosed
	case ErrInsufficientAvailable:
		return command.ErrInsufficientAvailable
	case ErrInsufficientFrozen:
		return command.ErrInsufficientFrozen
	case ErrOverflow:
		return command.ErrOverflow
	case ErrVersionConflict:
		return command.ErrVersionConflict
	case ErrInvalidAmount:
		return command.ErrInvalidArgument
	}
	return command.ErrInternal
}
