// Package command defines the envelopes gateways use to drive the trading
// core: the idempotent Cmd wrapper, the typed payload variants, and the
// response/error shapes returned to callers.
package command

import (
	"fmt"
	"strings"

	"github.com/thy3368/rustlob-sub002/internal/fixedpoint"
)

// Nonce is the client-generated unique command identifier. The same nonce is
// executed at most once.
type Nonce = uint64

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// TimeInForce governs how unmatched residual quantity is handled.
type TimeInForce string

const (
	TIFGoodTillCancel    TimeInForce = "GTC"
	TIFImmediateOrCancel TimeInForce = "IOC"
	TIFFillOrKill        TimeInForce = "FOK"
	TIFPostOnly          TimeInForce = "PostOnly"
)

func (t TimeInForce) Valid() bool {
	switch t {
	case TIFGoodTillCancel, TIFImmediateOrCancel, TIFFillOrKill, TIFPostOnly:
		return true
	}
	return false
}

// TradingPair identifies one market; each pair owns exactly one order book.
type TradingPair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// ParsePair splits a "BTC-USDT" style symbol.
func ParsePair(symbol string) (TradingPair, error) {
	parts := strings.SplitN(strings.TrimSpace(symbol), "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return TradingPair{}, fmt.Errorf("invalid trading pair %q", symbol)
	}
	return TradingPair{Base: strings.ToUpper(parts[0]), Quote: strings.ToUpper(parts[1])}, nil
}

// Symbol renders the canonical "BASE-QUOTE" form.
func (p TradingPair) Symbol() string { return p.Base + "-" + p.Quote }

func (p TradingPair) IsZero() bool { return p.Base == "" && p.Quote == "" }

// Type tags the payload variant carried by a Cmd.
type Type string

const (
	TypeLimitOrder  Type = "limit_order"
	TypeMarketOrder Type = "market_order"
	TypeCancelOrder Type = "cancel_order"
	TypeAccount     Type = "account"
)

// AccountOp selects the balance operation carried by an account command.
// The set mirrors the ledger's command variants; freezing and settlement use
// the same operations internally.
type AccountOp string

const (
	AccountOpCheckAndFreeze AccountOp = "check_and_freeze"
	AccountOpUnfreeze       AccountOp = "unfreeze"
	AccountOpCredit         AccountOp = "credit"
	AccountOpDebit          AccountOp = "debit"
	AccountOpDebitFrozen    AccountOp = "debit_frozen"
	AccountOpTransfer       AccountOp = "transfer"
	AccountOpSettlePnl      AccountOp = "settle_pnl"
	AccountOpGetBalance     AccountOp = "get_balance"
)

func (op AccountOp) Valid() bool {
	switch op {
	case AccountOpCheckAndFreeze, AccountOpUnfreeze, AccountOpCredit,
		AccountOpDebit, AccountOpDebitFrozen, AccountOpTransfer,
		AccountOpSettlePnl, AccountOpGetBalance:
		return true
	}
	return false
}

// LimitOrder places a new limit order.
type LimitOrder struct {
	AccountID   uint64             `json:"account_id"`
	Pair        TradingPair        `json:"pair"`
	Side        Side               `json:"side"`
	Price       fixedpoint.Decimal `json:"price"`
	Quantity    fixedpoint.Decimal `json:"quantity"`
	TimeInForce TimeInForce        `json:"time_in_force"`
}

// MarketOrder places a new market order. Buys must carry a protection price:
// it bounds the worst fill and derives the quote freeze amount.
type MarketOrder struct {
	AccountID       uint64             `json:"account_id"`
	Pair            TradingPair        `json:"pair"`
	Side            Side               `json:"side"`
	Quantity        fixedpoint.Decimal `json:"quantity"`
	ProtectionPrice fixedpoint.Decimal `json:"protection_price,omitempty"`
}

// CancelOrder removes a resting order from its book.
type CancelOrder struct {
	AccountID uint64      `json:"account_id"`
	OrderID   uint64      `json:"order_id"`
	Pair      TradingPair `json:"pair"`
}

// AccountRequest drives one balance operation directly, outside of order
// flow. Settlement and margin collaborators use this to move funds with the
// same version semantics order freezing uses.
type AccountRequest struct {
	Op        AccountOp `json:"op"`
	AccountID uint64    `json:"account_id"`
	Asset     string    `json:"asset"`
	// Amount is a magnitude for every op except settle_pnl, where the sign
	// is meaningful. Unused for get_balance.
	Amount          fixedpoint.Decimal `json:"amount,omitempty"`
	ToAccountID     uint64             `json:"to_account_id,omitempty"`
	ExpectedVersion uint64             `json:"expected_version,omitempty"`
}

// Payload is the tagged union of command variants. Exactly one of the
// pointers matching Type is set; dispatch is an exhaustive switch on Type.
type Payload struct {
	Type    Type            `json:"type"`
	Limit   *LimitOrder     `json:"limit,omitempty"`
	Market  *MarketOrder    `json:"market,omitempty"`
	Cancel  *CancelOrder    `json:"cancel,omitempty"`
	Account *AccountRequest `json:"account,omitempty"`
}

// Cmd wraps a payload with the idempotency nonce and submission metadata.
type Cmd struct {
	UserID      uint64  `json:"user_id"`
	Nonce       Nonce   `json:"nonce"`
	TimestampMs uint64  `json:"timestamp_ms"`
	Payload     Payload `json:"payload"`
}

// Pair returns the trading pair the command targets.
func (c Cmd) Pair() TradingPair {
	switch c.Payload.Type {
	case TypeLimitOrder:
		if c.Payload.Limit != nil {
			return c.Payload.Limit.Pair
		}
	case TypeMarketOrder:
		if c.Payload.Market != nil {
			return c.Payload.Market.Pair
		}
	case TypeCancelOrder:
		if c.Payload.Cancel != nil {
			return c.Payload.Cancel.Pair
		}
	}
	return TradingPair{}
}

// Validate rejects malformed envelopes before they reach a shard.
func (c Cmd) Validate() error {
	if c.Nonce == 0 {
		return fmt.Errorf("nonce is required")
	}
	switch c.Payload.Type {
	case TypeLimitOrder:
		lo := c.Payload.Limit
		if lo == nil {
			return fmt.Errorf("limit payload is required")
		}
		if !lo.Side.Valid() {
			return fmt.Errorf("invalid side %q", lo.Side)
		}
		if !lo.TimeInForce.Valid() {
			return fmt.Errorf("invalid time in force %q", lo.TimeInForce)
		}
		if lo.Pair.IsZero() {
			return fmt.Errorf("trading pair is required")
		}
		if !lo.Price.IsPositive() {
			return fmt.Errorf("price must be positive")
		}
		if !lo.Quantity.IsPositive() {
			return fmt.Errorf("quantity must be positive")
		}
	case TypeMarketOrder:
		mo := c.Payload.Market
		if mo == nil {
			return fmt.Errorf("market payload is required")
		}
		if !mo.Side.Valid() {
			return fmt.Errorf("invalid side %q", mo.Side)
		}
		if mo.Pair.IsZero() {
			return fmt.Errorf("trading pair is required")
		}
		if !mo.Quantity.IsPositive() {
			return fmt.Errorf("quantity must be positive")
		}
		if mo.Side == SideBuy && !mo.ProtectionPrice.IsPositive() {
			return fmt.Errorf("market buy requires a protection price")
		}
	case TypeCancelOrder:
		co := c.Payload.Cancel
		if co == nil {
			return fmt.Errorf("cancel payload is required")
		}
		if co.OrderID == 0 {
			return fmt.Errorf("order id is required")
		}
		if co.Pair.IsZero() {
			return fmt.Errorf("trading pair is required")
		}
	case TypeAccount:
		ar := c.Payload.Account
		if ar == nil {
			return fmt.Errorf("account payload is required")
		}
		if !ar.Op.Valid() {
			return fmt.Errorf("invalid account op %q", ar.Op)
		}
		if ar.AccountID == 0 {
			return fmt.Errorf("account id is required")
		}
		if ar.Asset == "" {
			return fmt.Errorf("asset is required")
		}
		switch ar.Op {
		case AccountOpGetBalance:
		case AccountOpSettlePnl:
			if ar.Amount.IsZero() {
				return fmt.Errorf("amount must be non-zero")
			}
		case AccountOpTransfer:
			if ar.ToAccountID == 0 {
				return fmt.Errorf("destination account id is required")
			}
			fallthrough
		default:
			if !ar.Amount.IsPositive() {
				return fmt.Errorf("amount must be positive")
			}
		}
	default:
		return fmt.Errorf("unknown command type %q", c.Payload.Type)
	}
	return nil
}
