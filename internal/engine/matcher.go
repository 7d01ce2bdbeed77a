package engine

import (
	"errors"
	"sort"
	"time"

	"github.com/thy3368/rustlob-sub002/internal/command"
	"github.com/thy3368/rustlob-sub002/internal/fixedpoint"
)

var ErrPostOnlyWouldCross = errors.New("post-only order would cross the book")

// MatchResult reports everything one matching pass touched: the taker with
// its final status, the trades in execution order, and every maker order
// whose quantity changed (removed makers included).
type MatchResult struct {
	Taker  *Order
	Trades []Trade
	Makers []*Order
	// SelfTradeStop is set when matching halted because the next maker
	// belonged to the taker's account; the taker remainder was cancelled
	// and the resting order left untouched.
	SelfTradeStop bool
}

// MatchOrder executes one incoming order against the book with strict
// price-time priority. FOK feasibility is simulated before any mutation, so
// an infeasible FOK has zero side effects. GTC residuals rest; IOC, FOK and
// market residuals are discarded.
func (ob *OrderBook) MatchOrder(taker *Order, now time.Time) (*MatchResult, error) {
	if taker == nil {
		return nil, errors.New("order required")
	}

	if taker.TimeInForce == command.TIFPostOnly {
		if ob.wouldCross(taker) {
			taker.Status = StatusRejected
			taker.UpdatedAt = now
			return nil, ErrPostOnlyWouldCross
		}
		if err := ob.AddOrder(taker); err != nil {
			taker.Status = StatusRejected
			taker.UpdatedAt = now
			return nil, err
		}
		return &MatchResult{Taker: taker}, nil
	}

	if taker.TimeInForce == command.TIFFillOrKill {
		if !ob.canFill(taker) {
			taker.Status = StatusCancelled
			taker.UpdatedAt = now
			return &MatchResult{Taker: taker}, nil
		}
	}

	opposite := ob.sells
	if taker.Side == command.SideSell {
		opposite = ob.buys
	}

	result := &MatchResult{Taker: taker}
	makerSeen := make(map[uint64]bool)

	for !taker.Remaining().IsZero() {
		best := opposite.best()
		if best == nil || !priceCrosses(taker, best.price) {
			break
		}

		makerElem := best.orders.Front()
		if makerElem == nil {
			break
		}
		maker := makerElem.Value.(*Order)

		if maker.AccountID == taker.AccountID {
			result.SelfTradeStop = true
			taker.Status = StatusCancelled
			taker.UpdatedAt = now
			return result, nil
		}

		matchQty := fixedpoint.Min(taker.Remaining(), maker.Remaining())
		maker.fill(matchQty, now)
		taker.fill(matchQty, now)

		result.Trades = append(result.Trades, Trade{
			Pair:           ob.pair,
			MakerOrderID:   maker.ID,
			TakerOrderID:   taker.ID,
			MakerAccountID: maker.AccountID,
			TakerAccountID: taker.AccountID,
			Price:          best.price,
			Quantity:       matchQty,
			TakerSide:      taker.Side,
			ExecutedAt:     now,
		})
		if !makerSeen[maker.ID] {
			makerSeen[maker.ID] = true
			result.Makers = append(result.Makers, maker)
		}

		if maker.IsFilled() {
			ob.RemoveOrder(maker.ID)
		}
	}

	if !taker.Remaining().IsZero() {
		switch {
		case taker.Market,
			taker.TimeInForce == command.TIFImmediateOrCancel,
			taker.TimeInForce == command.TIFFillOrKill:
			taker.Status = StatusCancelled
			taker.UpdatedAt = now
		default:
			if err := ob.AddOrder(taker); err != nil {
				if len(result.Trades) == 0 {
					taker.Status = StatusRejected
					taker.UpdatedAt = now
					return result, err
				}
				// Fills already happened; discard the remainder rather
				// than failing the whole command.
				taker.Status = StatusCancelled
				taker.UpdatedAt = now
			}
		}
	}

	return result, nil
}

// canFill simulates the exact matching walk without mutating anything,
// including the self-trade stop, and reports whether the full quantity
// would execute.
func (ob *OrderBook) canFill(taker *Order) bool {
	opposite := ob.sells
	if taker.Side == command.SideSell {
		opposite = ob.buys
	}

	levels := make([]*priceLevel, 0, len(opposite.levels))
	for _, level := range opposite.levels {
		levels = append(levels, level)
	}
	sort.Slice(levels, func(i, j int) bool {
		cmp := levels[i].price.Cmp(levels[j].price)
		if taker.Side == command.SideBuy {
			return cmp < 0
		}
		return cmp > 0
	})

	remaining := taker.Remaining()
	for _, level := range levels {
		if !priceCrosses(taker, level.price) {
			break
		}
		for e := level.orders.Front(); e != nil; e = e.Next() {
			maker := e.Value.(*Order)
			if maker.AccountID == taker.AccountID {
				return false
			}
			var err error
			remaining, err = remaining.Sub(maker.Remaining())
			if err != nil || !remaining.IsPositive() {
				return true
			}
		}
	}
	return false
}

// wouldCross reports whether a limit order would take liquidity at entry.
func (ob *OrderBook) wouldCross(order *Order) bool {
	if order.Side == command.SideBuy {
		if ask, ok := ob.BestAsk(); ok {
			return ask.Cmp(order.Price) <= 0
		}
		return false
	}
	if bid, ok := ob.BestBid(); ok {
		return bid.Cmp(order.Price) >= 0
	}
	return false
}

// priceCrosses reports whether the maker price satisfies the taker's limit.
// Market sells are unconstrained; market buys are bounded by the protection
// price stored in Price.
func priceCrosses(taker *Order, makerPrice fixedpoint.Decimal) bool {
	if taker.Market && taker.Price.IsZero() {
		return true
	}
	if taker.Side == command.SideBuy {
		return makerPrice.Cmp(taker.Price) <= 0
	}
	return makerPrice.Cmp(taker.Price) >= 0
}
