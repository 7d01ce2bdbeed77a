package command

import (
	"testing"

	"github.com/thy3368/rustlob-sub002/internal/fixedpoint"
)

func dec(t *testing.T, s string) fixedpoint.Decimal {
	t.Helper()
	d, err := fixedpoint.FromString(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return d
}

func TestParsePair(t *testing.T) {
	pair, err := ParsePair("btc-usdt")
	if err != nil {
		t.Fatalf("ParsePair: %v", err)
	}
	if pair.Base != "BTC" || pair.Quote != "USDT" {
		t.Fatalf("unexpected pair %+v", pair)
	}
	if pair.Symbol() != "BTC-USDT" {
		t.Fatalf("unexpected symbol %q", pair.Symbol())
	}

	for _, symbol := range []string{"", "BTC", "BTC-", "-USDT"} {
		if _, err := ParsePair(symbol); err == nil {
			t.Fatalf("expected error for %q", symbol)
		}
	}
}

func TestSideOpposite(t *testing.T) {
	if SideBuy.Opposite() != SideSell || SideSell.Opposite() != SideBuy {
		t.Fatal("Opposite mismatch")
	}
}

func validLimit(t *testing.T) Cmd {
	t.Helper()
	return Cmd{
		UserID:      7,
		Nonce:       1,
		TimestampMs: 1700000000000,
		Payload: Payload{
			Type: TypeLimitOrder,
			Limit: &LimitOrder{
				AccountID:   7,
				Pair:        TradingPair{Base: "BTC", Quote: "USDT"},
				Side:        SideBuy,
				Price:       dec(t, "100"),
				Quantity:    dec(t, "0.5"),
				TimeInForce: TIFGoodTillCancel,
			},
		},
	}
}

func TestValidateLimit(t *testing.T) {
	cmd := validLimit(t)
	if err := cmd.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cmd.Pair().Symbol() != "BTC-USDT" {
		t.Fatalf("unexpected pair %q", cmd.Pair().Symbol())
	}

	tests := []struct {
		name   string
		mutate func(*Cmd)
	}{
		{"zero nonce", func(c *Cmd) { c.Nonce = 0 }},
		{"missing payload", func(c *Cmd) { c.Payload.Limit = nil }},
		{"bad side", func(c *Cmd) { c.Payload.Limit.Side = "short" }},
		{"bad tif", func(c *Cmd) { c.Payload.Limit.TimeInForce = "GTD" }},
		{"zero pair", func(c *Cmd) { c.Payload.Limit.Pair = TradingPair{} }},
		{"zero price", func(c *Cmd) { c.Payload.Limit.Price = fixedpoint.Decimal{} }},
		{"zero quantity", func(c *Cmd) { c.Payload.Limit.Quantity = fixedpoint.Decimal{} }},
		{"unknown type", func(c *Cmd) { c.Payload.Type = "swap" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cmd := validLimit(t)
			tc.mutate(&cmd)
			if err := cmd.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidateMarketBuyNeedsProtectionPrice(t *testing.T) {
	cmd := Cmd{
		UserID: 7,
		Nonce:  2,
		Payload: Payload{
			Type: TypeMarketOrder,
			Market: &MarketOrder{
				AccountID: 7,
				Pair:      TradingPair{Base: "BTC", Quote: "USDT"},
				Side:      SideBuy,
				Quantity:  dec(t, "1"),
			},
		},
	}
	if err := cmd.Validate(); err == nil {
		t.Fatal("expected protection price error")
	}

	cmd.Payload.Market.ProtectionPrice = dec(t, "105")
	if err := cmd.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	// Sells liquidate base they already hold; no cap needed.
	cmd.Payload.Market.Side = SideSell
	cmd.Payload.Market.ProtectionPrice = fixedpoint.Decimal{}
	if err := cmd.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateCancel(t *testing.T) {
	cmd := Cmd{
		UserID: 7,
		Nonce:  3,
		Payload: Payload{
			Type: TypeCancelOrder,
			Cancel: &CancelOrder{
				AccountID: 7,
				OrderID:   42,
				Pair:      TradingPair{Base: "BTC", Quote: "USDT"},
			},
		},
	}
	if err := cmd.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	cmd.Payload.Cancel.OrderID = 0
	if err := cmd.Validate(); err == nil {
		t.Fatal("expected order id error")
	}
}

func validAccount(t *testing.T) Cmd {
	t.Helper()
	return Cmd{
		UserID: 7,
		Nonce:  4,
		Payload: Payload{
			Type: TypeAccount,
			Account: &AccountRequest{
				Op:        AccountOpCredit,
				AccountID: 7,
				Asset:     "USDT",
				Amount:    dec(t, "100"),
			},
		},
	}
}

func TestValidateAccount(t *testing.T) {
	cmd := validAccount(t)
	if err := cmd.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !cmd.Pair().IsZero() {
		t.Fatalf("account command has no pair, got %+v", cmd.Pair())
	}

	tests := []struct {
		name   string
		mutate func(*Cmd)
	}{
		{"missing payload", func(c *Cmd) { c.Payload.Account = nil }},
		{"bad op", func(c *Cmd) { c.Payload.Account.Op = "mint" }},
		{"zero account", func(c *Cmd) { c.Payload.Account.AccountID = 0 }},
		{"empty asset", func(c *Cmd) { c.Payload.Account.Asset = "" }},
		{"zero amount", func(c *Cmd) { c.Payload.Account.Amount = fixedpoint.Decimal{} }},
		{"transfer without destination", func(c *Cmd) {
			c.Payload.Account.Op = AccountOpTransfer
			c.Payload.Account.ToAccountID = 0
		}},
		{"zero pnl", func(c *Cmd) {
			c.Payload.Account.Op = AccountOpSettlePnl
			c.Payload.Account.Amount = fixedpoint.Decimal{}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cmd := validAccount(t)
			tc.mutate(&cmd)
			if err := cmd.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	// Lookups carry no amount; settlement losses are negative by design.
	cmd = validAccount(t)
	cmd.Payload.Account.Op = AccountOpGetBalance
	cmd.Payload.Account.Amount = fixedpoint.Decimal{}
	if err := cmd.Validate(); err != nil {
		t.Fatalf("get_balance: %v", err)
	}
	cmd = validAccount(t)
	cmd.Payload.Account.Op = AccountOpSettlePnl
	cmd.Payload.Account.Amount = dec(t, "-25")
	if err := cmd.Validate(); err != nil {
		t.Fatalf("negative settle_pnl: %v", err)
	}
}

func TestRespDuplicate(t *testing.T) {
	resp := NewResp(9, 1700000000000, Result{Cancelled: true})
	if resp.Metadata.IsDuplicate {
		t.Fatal("fresh response marked duplicate")
	}
	dup := resp.AsDuplicate()
	if !dup.Metadata.IsDuplicate {
		t.Fatal("duplicate flag not set")
	}
	if resp.Metadata.IsDuplicate {
		t.Fatal("original mutated")
	}
	if dup.Metadata.Nonce != 9 || !dup.Result.Cancelled {
		t.Fatal("duplicate lost payload")
	}
}
