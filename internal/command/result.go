package command

import (
	"fmt"

	"github.com/thy3368/rustlob-sub002/internal/fixedpoint"
)

// ErrorCode classifies command failures for callers. Validation and
// capacity errors are terminal for the command; version_conflict is the
// only retryable code and is normally absorbed by the ledger's bounded
// retry before a caller ever sees it.
type ErrorCode string

const (
	ErrInvalidArgument       ErrorCode = "invalid_argument"
	ErrAccountNotFound       ErrorCode = "account_not_found"
	ErrAccountFrozen         ErrorCode = "account_frozen"
	ErrAccountClosed         ErrorCode = "account_closed"
	ErrInsufficientAvailable ErrorCode = "insufficient_available"
	ErrInsufficientFrozen    ErrorCode = "insufficient_frozen"
	ErrOverflow              ErrorCode = "overflow"
	ErrOrderNotFound         ErrorCode = "order_not_found"
	ErrPostOnlyWouldCross    ErrorCode = "post_only_would_cross"
	ErrVersionConflict       ErrorCode = "version_conflict"
	ErrCapacityExceeded      ErrorCode = "capacity_exceeded"
	ErrInternal              ErrorCode = "internal"
)

// Error is the typed error surfaced through the response envelope. It is
// never coerced into a success shape.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a typed command error.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// OrderState is the caller-visible snapshot of an order after execution.
type OrderState struct {
	OrderID           uint64             `json:"order_id"`
	AccountID         uint64             `json:"account_id"`
	Pair              TradingPair        `json:"pair"`
	Side              Side               `json:"side"`
	Price             fixedpoint.Decimal `json:"price"`
	OriginalQuantity  fixedpoint.Decimal `json:"original_quantity"`
	RemainingQuantity fixedpoint.Decimal `json:"remaining_quantity"`
	FilledQuantity    fixedpoint.Decimal `json:"filled_quantity"`
	Status            string             `json:"status"`
}

// TradeReport describes one fill from the taker's perspective.
type TradeReport struct {
	TradeID      string             `json:"trade_id"`
	MakerOrderID uint64             `json:"maker_order_id"`
	TakerOrderID uint64             `json:"taker_order_id"`
	Price        fixedpoint.Decimal `json:"price"`
	Quantity     fixedpoint.Decimal `json:"quantity"`
	TakerSide    Side               `json:"taker_side"`
	Fee          fixedpoint.Decimal `json:"fee"`
	FeeAsset     string             `json:"fee_asset"`
	ExecutedAtNs int64              `json:"executed_at_ns"`
}

// BalanceSnapshot is the caller-visible balance state after an account
// command. Transfer reports the destination in To.
type BalanceSnapshot struct {
	AccountID uint64             `json:"account_id"`
	Asset     string             `json:"asset"`
	Available fixedpoint.Decimal `json:"available"`
	Frozen    fixedpoint.Decimal `json:"frozen"`
	Version   uint64             `json:"version"`
	To        *BalanceSnapshot   `json:"to,omitempty"`
}

// Result is the outcome of one command execution. Err is set instead of the
// other fields when the command was rejected; SettleIncomplete reports the
// deliberately asymmetric settlement guarantee: matched trades stand even
// when settling one of them failed.
type Result struct {
	Order            *OrderState      `json:"order,omitempty"`
	Trades           []TradeReport    `json:"trades,omitempty"`
	Balance          *BalanceSnapshot `json:"balance,omitempty"`
	Cancelled        bool             `json:"cancelled,omitempty"`
	SettleIncomplete bool             `json:"settle_incomplete,omitempty"`
	Err              *Error           `json:"error,omitempty"`
}

// Metadata carries the idempotency outcome of a submission.
type Metadata struct {
	Nonce       Nonce  `json:"nonce"`
	IsDuplicate bool   `json:"is_duplicate"`
	ReceivedAt  uint64 `json:"received_at"`
}

// Resp is the response envelope returned for every accepted submission,
// including rejected commands (the rejection travels in Result.Err).
type Resp struct {
	Metadata Metadata `json:"metadata"`
	Result   Result   `json:"result"`
}

// NewResp builds a first-execution response.
func NewResp(nonce Nonce, receivedAt uint64, result Result) Resp {
	return Resp{
		Metadata: Metadata{Nonce: nonce, ReceivedAt: receivedAt},
		Result:   result,
	}
}

// AsDuplicate marks a cached response as an idempotency hit.
func (r Resp) AsDuplicate() Resp {
	r.Metadata.IsDuplicate = true
	return r
}
