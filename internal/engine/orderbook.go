package engine

import (
	"container/heap"
	"container/list"
	"errors"
	"fmt"

	"github.com/thy3368/rustlob-sub002/internal/command"
	"github.com/thy3368/rustlob-sub002/internal/fixedpoint"
)

var (
	ErrPriceOutOfRange  = errors.New("price out of range")
	ErrCapacityExceeded = errors.New("order book capacity exceeded")
	ErrDuplicateOrder   = errors.New("duplicate order id")
)

const defaultMaxOpenOrders = 1_000_000

// OrderBook holds the resting limit orders for one trading pair. Price
// levels are heap-indexed for O(log n) best-price access and each level is
// a FIFO list, so insertion order within a level is time priority. The book
// is owned by exactly one pipeline shard and therefore does no locking.
type OrderBook struct {
	pair      command.TradingPair
	buys      *bookSide
	sells     *bookSide
	orders    map[uint64]*orderRef
	maxOrders int
}

func NewOrderBook(pair command.TradingPair) *OrderBook {
	return &OrderBook{
		pair:      pair,
		buys:      newBookSide(true),
		sells:     newBookSide(false),
		orders:    make(map[uint64]*orderRef),
		maxOrders: defaultMaxOpenOrders,
	}
}

func (ob *OrderBook) Pair() command.TradingPair { return ob.pair }

// Depth returns the number of resting orders on one side.
func (ob *OrderBook) Depth(side command.Side) int {
	count := 0
	for _, ref := range ob.orders {
		if ref.order.Side == side {
			count++
		}
	}
	return count
}

// BestBid returns the highest resting buy price.
func (ob *OrderBook) BestBid() (fixedpoint.Decimal, bool) {
	if level := ob.buys.best(); level != nil {
		return level.price, true
	}
	return fixedpoint.Zero, false
}

// BestAsk returns the lowest resting sell price.
func (ob *OrderBook) BestAsk() (fixedpoint.Decimal, bool) {
	if level := ob.sells.best(); level != nil {
		return level.price, true
	}
	return fixedpoint.Zero, false
}

// AddOrder rests a limit order on the book. Market orders never rest.
func (ob *OrderBook) AddOrder(order *Order) error {
	if order == nil {
		return fmt.Errorf("order required")
	}
	if order.ID == 0 {
		return fmt.Errorf("order id required")
	}
	if _, exists := ob.orders[order.ID]; exists {
		return ErrDuplicateOrder
	}
	if order.Market {
		return nil
	}
	if !order.Price.IsPositive() {
		return ErrPriceOutOfRange
	}
	if order.Remaining().IsZero() {
		return nil
	}
	if len(ob.orders) >= ob.maxOrders {
		return ErrCapacityExceeded
	}

	switch order.Side {
	case command.SideBuy:
		ob.orders[order.ID] = ob.buys.add(order)
	case command.SideSell:
		ob.orders[order.ID] = ob.sells.add(order)
	default:
		return fmt.Errorf("invalid side %q", order.Side)
	}
	return nil
}

// RemoveOrder takes an order off the book, returning it if present. A
// missing id is not an error here: cancels race with fills and the caller
// decides how to report it.
func (ob *OrderBook) RemoveOrder(orderID uint64) *Order {
	ref, ok := ob.orders[orderID]
	if !ok {
		return nil
	}
	ref.sideBook.remove(ref)
	delete(ob.orders, orderID)
	return ref.order
}

// Order returns the resting order with the given id, if any.
func (ob *OrderBook) Order(orderID uint64) *Order {
	if ref, ok := ob.orders[orderID]; ok {
		return ref.order
	}
	return nil
}

type orderRef struct {
	order    *Order
	element  *list.Element
	level    *priceLevel
	sideBook *bookSide
}

type priceLevel struct {
	price  fixedpoint.Decimal
	orders *list.List
	index  int
}

type bookSide struct {
	levels map[int64]*priceLevel
	heap   priceHeap
}

func newBookSide(isBuy bool) *bookSide {
	side := &bookSide{
		levels: make(map[int64]*priceLevel),
		heap:   priceHeap{isMax: isBuy},
	}
	heap.Init(&side.heap)
	return side
}

func (s *bookSide) add(order *Order) *orderRef {
	key := order.Price.Raw()
	level := s.levels[key]
	if level == nil {
		level = &priceLevel{price: order.Price, orders: list.New()}
		heap.Push(&s.heap, level)
		s.levels[key] = level
	}
	element := level.orders.PushBack(order)
	return &orderRef{order: order, element: element, level: level, sideBook: s}
}

func (s *bookSide) remove(ref *orderRef) {
	if ref == nil || ref.level == nil || ref.element == nil {
		return
	}
	ref.level.orders.Remove(ref.element)
	if ref.level.orders.Len() == 0 {
		heap.Remove(&s.heap, ref.level.index)
		delete(s.levels, ref.level.price.Raw())
	}
}

func (s *bookSide) best() *priceLevel {
	if s.heap.Len() == 0 {
		return nil
	}
	return s.heap.levels[0]
}

type priceHeap struct {
	levels []*priceLevel
	isMax  bool
}

func (h priceHeap) Len() int { return len(h.levels) }

func (h priceHeap) Less(i, j int) bool {
	cmp := h.levels[i].price.Cmp(h.levels[j].price)
	if h.isMax {
		return cmp > 0
	}
	return cmp < 0
}

func (h priceHeap) Swap(i, j int) {
	h.levels[i], h.levels[j] = h.levels[j], h.levels[i]
	h.levels[i].index = i
	h.levels[j].index = j
}

func (h *priceHeap) Push(x interface{}) {
	level := x.(*priceLevel)
	level.index = len(h.levels)
	h.levels = append(h.levels, level)
}

func (h *priceHeap) Pop() interface{} {
	old := h.levels
	n := len(old)
	item := old[n-1]
	item.index = -1
	h.levels = old[:n-1]
	return item
}
