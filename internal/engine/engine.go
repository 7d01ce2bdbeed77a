package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/thy3368/rustlob-sub002/internal/command"
	"github.com/thy3368/rustlob-sub002/libs/kafka"
)

type Metrics interface {
	ObserveOrder(symbol, side, orderType string, duration time.Duration)
	ObserveTrades(symbol string, count int)
	SetOrderbookDepth(symbol, side string, depth float64)
	SetOrderbookSpread(symbol string, spread float64)
}

// Engine owns every order book. Books are created lazily and never removed;
// the map lock guards only creation, since each book is mutated by a single
// pipeline shard.
type Engine struct {
	mu      sync.RWMutex
	books   map[string]*OrderBook
	logger  *slog.Logger
	metrics Metrics
}

func NewEngine(logger *slog.Logger, metrics Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		books:   make(map[string]*OrderBook),
		logger:  logger,
		metrics: metrics,
	}
}

// ProcessOrder matches one incoming order against its pair's book and
// assigns deterministic trade ids, so a replayed command produces identical
// trades.
func (e *Engine) ProcessOrder(order *Order, now time.Time) (*MatchResult, error) {
	start := time.Now()
	if order == nil {
		return nil, fmt.Errorf("order required")
	}
	book := e.Book(order.Pair)

	result, err := book.MatchOrder(order, now)
	if err != nil {
		return nil, err
	}

	for idx := range result.Trades {
		result.Trades[idx].TradeID = kafka.DeterministicEventID(
			"trade", order.Pair.Symbol(), fmt.Sprintf("%d", order.ID), fmt.Sprintf("%d", idx))
	}

	e.updateMetrics(order, book, len(result.Trades), time.Since(start))
	return result, nil
}

// CancelOrder removes a resting order, returning it if it was still on the
// book. Nil means the order was never there or already fully consumed.
func (e *Engine) CancelOrder(pair command.TradingPair, orderID uint64) *Order {
	return e.Book(pair).RemoveOrder(orderID)
}

// Book returns the order book for a pair, creating it on first use.
func (e *Engine) Book(pair command.TradingPair) *OrderBook {
	sym := pair.Symbol()

	e.mu.RLock()
	book := e.books[sym]
	e.mu.RUnlock()
	if book != nil {
		return book
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	book = e.books[sym]
	if book == nil {
		book = NewOrderBook(pair)
		e.books[sym] = book
	}
	return book
}

func (e *Engine) ActivePairs() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.books)
}

func (e *Engine) TotalOrders() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	count := 0
	for _, book := range e.books {
		count += book.Depth(command.SideBuy)
		count += book.Depth(command.SideSell)
	}
	return count
}

func (e *Engine) updateMetrics(order *Order, book *OrderBook, trades int, duration time.Duration) {
	if e.metrics == nil || order == nil {
		return
	}
	orderType := "limit"
	if order.Market {
		orderType = "market"
	}
	sym := order.Pair.Symbol()
	e.metrics.ObserveOrder(sym, string(order.Side), orderType, duration)
	if trades > 0 {
		e.metrics.ObserveTrades(sym, trades)
	}

	e.metrics.SetOrderbookDepth(sym, string(command.SideBuy), float64(book.Depth(command.SideBuy)))
	e.metrics.SetOrderbookDepth(sym, string(command.SideSell), float64(book.Depth(command.SideSell)))

	bid, hasBid := book.BestBid()
	ask, hasAsk := book.BestAsk()
	if hasBid && hasAsk {
		if spread, err := ask.Sub(bid); err == nil {
			e.metrics.SetOrderbookSpread(sym, spread.ToDecimal().InexactFloat64())
		}
	}
}
