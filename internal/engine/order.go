package engine

import (
	"time"

	"github.com/thy3368/rustlob-sub002/internal/command"
	"github.com/thy3368/rustlob-sub002/internal/fixedpoint"
)

// OrderStatus is the lifecycle state of an order.
//
// New -> PartiallyFilled -> Filled
// New/PartiallyFilled -> Cancelled (explicit cancel, IOC/FOK discard, STP)
// New -> Rejected (validation, PostOnly-would-cross; never stored)
// New/PartiallyFilled -> Expired
type OrderStatus string

const (
	StatusNew             OrderStatus = "new"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCancelled       OrderStatus = "cancelled"
	StatusRejected        OrderStatus = "rejected"
	StatusExpired         OrderStatus = "expired"
)

// Order is a single order as tracked by the book. Remaining quantity is
// derived, so remaining+filled == original holds by construction.
type Order struct {
	ID          uint64
	AccountID   uint64
	UserID      uint64
	Pair        command.TradingPair
	Side        command.Side
	// Price is the limit price, or the protection price for market buys.
	// Zero means an unconstrained market sell.
	Price       fixedpoint.Decimal
	Quantity    fixedpoint.Decimal
	Filled      fixedpoint.Decimal
	Market      bool
	TimeInForce command.TimeInForce
	Status      OrderStatus

	// FrozenRemaining is the portion of the acquire-stage freeze not yet
	// consumed by settlement; released on cancel/discard.
	FrozenRemaining fixedpoint.Decimal
	FrozenAsset     string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() fixedpoint.Decimal {
	rem, err := o.Quantity.Sub(o.Filled)
	if err != nil {
		return fixedpoint.Zero
	}
	return rem
}

// IsFilled reports whether nothing is left to match.
func (o *Order) IsFilled() bool { return o.Remaining().IsZero() }

func (o *Order) fill(qty fixedpoint.Decimal, now time.Time) {
	sum, err := o.Filled.Add(qty)
	if err != nil {
		return
	}
	o.Filled = sum
	if o.IsFilled() {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartiallyFilled
	}
	o.UpdatedAt = now
}

// State converts to the caller-visible snapshot.
func (o *Order) State() *command.OrderState {
	return &command.OrderState{
		OrderID:           o.ID,
		AccountID:         o.AccountID,
		Pair:              o.Pair,
		Side:              o.Side,
		Price:             o.Price,
		OriginalQuantity:  o.Quantity,
		RemainingQuantity: o.Remaining(),
		FilledQuantity:    o.Filled,
		Status:            string(o.Status),
	}
}

// Trade is the immutable record of one fill. It is created once by the
// matcher and never mutated; fees are reported separately by settlement.
type Trade struct {
	TradeID        string
	Pair           command.TradingPair
	MakerOrderID   uint64
	TakerOrderID   uint64
	MakerAccountID uint64
	TakerAccountID uint64
	Price          fixedpoint.Decimal
	Quantity       fixedpoint.Decimal
	TakerSide      command.Side
	ExecutedAt     time.Time
}
