package engine

import (
	"testing"
	"time"

	"github.com/thy3368/rustlob-sub002/internal/command"
)

func TestEngineDeterministicTradeIDs(t *testing.T) {
	run := func() []string {
		eng := NewEngine(nil, nil)
		book := eng.Book(testPair)
		if err := book.AddOrder(limitOrder(t, 1, 1, command.SideSell, "10000", "2")); err != nil {
			t.Fatalf("add: %v", err)
		}
		res, err := eng.ProcessOrder(limitOrder(t, 2, 2, command.SideBuy, "10000", "2"), time.Now())
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		ids := make([]string, 0, len(res.Trades))
		for _, tr := range res.Trades {
			ids = append(ids, tr.TradeID)
		}
		return ids
	}

	first, second := run(), run()
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("each run should produce one trade: %v %v", first, second)
	}
	if first[0] != second[0] {
		t.Fatalf("replayed match must produce identical trade ids: %s vs %s", first[0], second[0])
	}
	if first[0] == "" {
		t.Fatalf("trade id must be assigned")
	}
}

func TestEngineCancelOrder(t *testing.T) {
	eng := NewEngine(nil, nil)
	book := eng.Book(testPair)
	if err := book.AddOrder(limitOrder(t, 9, 1, command.SideBuy, "100", "1")); err != nil {
		t.Fatalf("add: %v", err)
	}

	if got := eng.CancelOrder(testPair, 9); got == nil || got.ID != 9 {
		t.Fatalf("cancel returned %+v", got)
	}
	if eng.CancelOrder(testPair, 9) != nil {
		t.Fatalf("cancelling twice should return nil")
	}
	if eng.TotalOrders() != 0 {
		t.Fatalf("book should be empty")
	}
}

func TestEngineBooksPerPair(t *testing.T) {
	eng := NewEngine(nil, nil)
	other := command.TradingPair{Base: "ETH", Quote: "USDT"}

	if eng.Book(testPair) != eng.Book(testPair) {
		t.Fatalf("same pair must map to the same book")
	}
	if eng.Book(testPair) == eng.Book(other) {
		t.Fatalf("different pairs must not share a book")
	}
	if eng.ActivePairs() != 2 {
		t.Fatalf("active pairs = %d, want 2", eng.ActivePairs())
	}
}
