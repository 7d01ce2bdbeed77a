package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/thy3368/rustlob-sub002/internal/changelog"
	"github.com/thy3368/rustlob-sub002/internal/command"
	"github.com/thy3368/rustlob-sub002/internal/engine"
	"github.com/thy3368/rustlob-sub002/internal/fixedpoint"
	"github.com/thy3368/rustlob-sub002/internal/ledger"
)

// executeOrder runs the acquire, match, settle and publish stages for one
// new order. Once matching succeeds the trades are final: settlement
// failures are reported, never rolled back.
func (p *Pipeline) executeOrder(ctx context.Context, cmd command.Cmd, order *engine.Order) command.Resp {
	asset, amount, err := freezeFor(order)
	if err != nil {
		return p.reject(cmd, command.ErrOverflow, "order notional overflows")
	}

	if _, err := p.ledger.ExecuteWithRetry(ledger.AccountCommand{
		Op:        ledger.OpCheckAndFreeze,
		AccountID: order.AccountID,
		Asset:     asset,
		Amount:    amount,
	}); err != nil {
		return p.reject(cmd, ledger.CodeOf(err), "freeze %s %s: %s", amount, asset, err)
	}
	order.FrozenAsset = asset
	order.FrozenRemaining = amount

	result, err := p.engine.ProcessOrder(order, time.Now())
	if err != nil {
		p.releaseResidual(ctx, order)
		switch {
		case errors.Is(err, engine.ErrPostOnlyWouldCross):
			return p.reject(cmd, command.ErrPostOnlyWouldCross, "order would cross the book")
		case errors.Is(err, engine.ErrCapacityExceeded):
			return p.reject(cmd, command.ErrCapacityExceeded, "order book is full")
		case errors.Is(err, engine.ErrDuplicateOrder), errors.Is(err, engine.ErrPriceOutOfRange):
			return p.reject(cmd, command.ErrInvalidArgument, "%s", err.Error())
		}
		return p.reject(cmd, command.ErrInternal, "matching failed: %s", err)
	}

	reports := make([]command.TradeReport, 0, len(result.Trades))
	settleIncomplete := false
	for i := range result.Trades {
		report, err := p.settleTrade(ctx, &result.Trades[i], order, result)
		if err != nil {
			settleIncomplete = true
			p.metrics.IncSettleFailure()
			p.logger.Error("trade settlement failed",
				"trade_id", result.Trades[i].TradeID,
				"pair", order.Pair.Symbol(),
				"error", err)
		}
		reports = append(reports, report)
	}

	p.releaseResidual(ctx, order)
	for _, maker := range result.Makers {
		p.releaseResidual(ctx, maker)
	}

	p.publishOrder(ctx, order, changelog.ChangeCreated)
	for _, maker := range result.Makers {
		p.publishOrder(ctx, maker, changelog.ChangeUpdated)
	}
	for i := range result.Trades {
		p.publishTrade(ctx, &result.Trades[i])
	}

	return command.NewResp(cmd.Nonce, 0, command.Result{
		Order:            order.State(),
		Trades:           reports,
		SettleIncomplete: settleIncomplete,
	})
}

// executeCancel removes a resting order and releases its remaining freeze.
// An unknown, foreign or already-consumed order reports order_not_found;
// cancels race with fills, so that outcome is ordinary.
func (p *Pipeline) executeCancel(ctx context.Context, cmd command.Cmd) command.Resp {
	co := cmd.Payload.Cancel
	book := p.engine.Book(co.Pair)

	resting := book.Order(co.OrderID)
	if resting == nil || resting.AccountID != co.AccountID {
		return p.reject(cmd, command.ErrOrderNotFound, "order %d not found", co.OrderID)
	}

	order := book.RemoveOrder(co.OrderID)
	order.Status = engine.StatusCancelled
	order.UpdatedAt = time.Now()

	p.releaseResidual(ctx, order)
	p.publishOrder(ctx, order, changelog.ChangeUpdated)

	return command.NewResp(cmd.Nonce, 0, command.Result{
		Order:     order.State(),
		Cancelled: true,
	})
}

// executeAccount runs one direct balance operation through the ledger with
// the same retry semantics settlement uses. Mutations land on the changelog;
// lookups do not.
func (p *Pipeline) executeAccount(ctx context.Context, cmd command.Cmd) command.Resp {
	req := cmd.Payload.Account
	result, err := p.ledger.ExecuteWithRetry(ledger.AccountCommand{
		Op:              ledger.Op(req.Op),
		AccountID:       req.AccountID,
		Asset:           req.Asset,
		Amount:          req.Amount,
		ToAccountID:     req.ToAccountID,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		return p.reject(cmd, ledger.CodeOf(err), "account %s on %d: %s", req.Op, req.AccountID, err)
	}

	if req.Op != command.AccountOpGetBalance {
		p.publishBalance(ctx, result)
		if result.To != nil {
			p.publishBalance(ctx, *result.To)
		}
	}

	return command.NewResp(cmd.Nonce, 0, command.Result{
		Balance: balanceSnapshot(result),
	})
}

func balanceSnapshot(result ledger.AccountCommandResult) *command.BalanceSnapshot {
	snap := &command.BalanceSnapshot{
		AccountID: result.AccountID,
		Asset:     result.Asset,
		Available: result.Available,
		Frozen:    result.Frozen,
		Version:   result.Version,
	}
	if result.To != nil {
		snap.To = balanceSnapshot(*result.To)
	}
	return snap
}

// freezeFor computes the asset and amount the acquire stage locks. Buys
// lock the worst-case quote notional (limit or protection price times
// quantity); sells lock the base quantity.
func freezeFor(order *engine.Order) (string, fixedpoint.Decimal, error) {
	if order.Side == command.SideBuy {
		notional, err := order.Price.Mul(order.Quantity)
		if err != nil {
			return "", fixedpoint.Zero, err
		}
		return order.Pair.Quote, notional, nil
	}
	return order.Pair.Base, order.Quantity, nil
}

// settleTrade moves funds for one fill. The buyer pays quote from frozen
// and receives base; the seller pays base from frozen and receives quote.
// Fees come out of the received asset and land on the fee account.
func (p *Pipeline) settleTrade(ctx context.Context, trade *engine.Trade, taker *engine.Order, result *engine.MatchResult) (command.TradeReport, error) {
	report := command.TradeReport{
		TradeID:      trade.TradeID,
		MakerOrderID: trade.MakerOrderID,
		TakerOrderID: trade.TakerOrderID,
		Price:        trade.Price,
		Quantity:     trade.Quantity,
		TakerSide:    trade.TakerSide,
		ExecutedAtNs: trade.ExecutedAt.UnixNano(),
	}

	cost, err := trade.Price.Mul(trade.Quantity)
	if err != nil {
		return report, err
	}

	buyOrder, sellOrder := taker, p.makerOrder(trade, result)
	if trade.TakerSide == command.SideSell {
		buyOrder, sellOrder = sellOrder, buyOrder
	}
	if buyOrder == nil || sellOrder == nil {
		return report, fmt.Errorf("maker order %d missing from match result", trade.MakerOrderID)
	}

	takerFeeRate, makerFeeRate := p.feeRates()
	buyerRate, sellerRate := takerFeeRate, makerFeeRate
	if trade.TakerSide == command.SideSell {
		buyerRate, sellerRate = makerFeeRate, takerFeeRate
	}

	// Buyer leg: frozen quote out, base in.
	if err := p.settleLeg(ctx, buyOrder, trade.Pair.Quote, cost, trade.Pair.Base, trade.Quantity, buyerRate); err != nil {
		return report, fmt.Errorf("buyer leg: %w", err)
	}
	// Seller leg: frozen base out, quote in.
	if err := p.settleLeg(ctx, sellOrder, trade.Pair.Base, trade.Quantity, trade.Pair.Quote, cost, sellerRate); err != nil {
		return report, fmt.Errorf("seller leg: %w", err)
	}

	// The report carries the taker's fee.
	takerReceived, takerAsset := trade.Quantity, trade.Pair.Base
	if trade.TakerSide == command.SideSell {
		takerReceived, takerAsset = cost, trade.Pair.Quote
	}
	fee, err := takerReceived.Mul(takerFeeRate)
	if err != nil {
		return report, err
	}
	report.Fee = fee
	report.FeeAsset = takerAsset
	return report, nil
}

// settleLeg debits one order's frozen funds and credits what it bought,
// minus the fee.
func (p *Pipeline) settleLeg(ctx context.Context, order *engine.Order, payAsset string, payAmount fixedpoint.Decimal, recvAsset string, recvAmount fixedpoint.Decimal, feeRate fixedpoint.Decimal) error {
	debited, err := p.ledger.ExecuteWithRetry(ledger.AccountCommand{
		Op:        ledger.OpDebitFrozen,
		AccountID: order.AccountID,
		Asset:     payAsset,
		Amount:    payAmount,
	})
	if err != nil {
		return fmt.Errorf("debit frozen %s %s: %w", payAmount, payAsset, err)
	}
	remaining, err := order.FrozenRemaining.Sub(payAmount)
	if err != nil || remaining.IsNegative() {
		remaining = fixedpoint.Zero
	}
	order.FrozenRemaining = remaining
	p.publishBalance(ctx, debited)

	fee, err := recvAmount.Mul(feeRate)
	if err != nil {
		return err
	}
	net, err := recvAmount.Sub(fee)
	if err != nil {
		return err
	}

	if net.IsPositive() {
		credited, err := p.ledger.ExecuteWithRetry(ledger.AccountCommand{
			Op:        ledger.OpCredit,
			AccountID: order.AccountID,
			Asset:     recvAsset,
			Amount:    net,
		})
		if err != nil {
			return fmt.Errorf("credit %s %s: %w", net, recvAsset, err)
		}
		p.publishBalance(ctx, credited)
	}

	if fee.IsPositive() && p.cfg.FeeAccountID != 0 {
		feeResult, err := p.ledger.ExecuteWithRetry(ledger.AccountCommand{
			Op:        ledger.OpCredit,
			AccountID: p.cfg.FeeAccountID,
			Asset:     recvAsset,
			Amount:    fee,
		})
		if err != nil {
			return fmt.Errorf("credit fee %s %s: %w", fee, recvAsset, err)
		}
		p.publishBalance(ctx, feeResult)
	}
	return nil
}

func (p *Pipeline) makerOrder(trade *engine.Trade, result *engine.MatchResult) *engine.Order {
	for _, maker := range result.Makers {
		if maker.ID == trade.MakerOrderID {
			return maker
		}
	}
	return nil
}

// releaseResidual unfreezes everything beyond what the order's remaining
// quantity still requires. Resting buys keep remaining*limit, resting sells
// keep the remaining quantity; terminal orders keep nothing.
func (p *Pipeline) releaseResidual(ctx context.Context, order *engine.Order) {
	if order.FrozenAsset == "" {
		return
	}

	expected := fixedpoint.Zero
	if !terminal(order) {
		var err error
		if order.Side == command.SideBuy {
			expected, err = order.Price.Mul(order.Remaining())
		} else {
			expected = order.Remaining()
		}
		if err != nil {
			expected = fixedpoint.Zero
		}
	}

	release, err := order.FrozenRemaining.Sub(expected)
	if err != nil || !release.IsPositive() {
		return
	}

	result, err := p.ledger.ExecuteWithRetry(ledger.AccountCommand{
		Op:        ledger.OpUnfreeze,
		AccountID: order.AccountID,
		Asset:     order.FrozenAsset,
		Amount:    release,
	})
	if err != nil {
		p.logger.Error("residual unfreeze failed",
			"order_id", order.ID, "asset", order.FrozenAsset,
			"amount", release.String(), "error", err)
		return
	}
	order.FrozenRemaining = expected
	p.publishBalance(ctx, result)
}

func terminal(order *engine.Order) bool {
	switch order.Status {
	case engine.StatusFilled, engine.StatusCancelled, engine.StatusRejected, engine.StatusExpired:
		return true
	}
	return false
}

func (p *Pipeline) reject(cmd command.Cmd, code command.ErrorCode, format string, args ...any) command.Resp {
	p.metrics.IncRejection(string(code))
	return command.NewResp(cmd.Nonce, 0, command.Result{
		Err: command.NewError(code, format, args...),
	})
}

func (p *Pipeline) publishOrder(ctx context.Context, order *engine.Order, change changelog.ChangeType) {
	if p.recorder == nil {
		return
	}
	p.recorder.Record(ctx, changelog.EntityOrder, fmt.Sprintf("%d", order.ID), change, map[string]string{
		"pair":      order.Pair.Symbol(),
		"side":      string(order.Side),
		"status":    string(order.Status),
		"remaining": order.Remaining().String(),
		"filled":    order.Filled.String(),
	})
}

func (p *Pipeline) publishTrade(ctx context.Context, trade *engine.Trade) {
	if p.recorder == nil {
		return
	}
	p.recorder.Record(ctx, changelog.EntityTrade, trade.TradeID, changelog.ChangeCreated, map[string]string{
		"pair":           trade.Pair.Symbol(),
		"price":          trade.Price.String(),
		"quantity":       trade.Quantity.String(),
		"maker_order_id": fmt.Sprintf("%d", trade.MakerOrderID),
		"taker_order_id": fmt.Sprintf("%d", trade.TakerOrderID),
		"taker_side":     string(trade.TakerSide),
	})
}

func (p *Pipeline) publishBalance(ctx context.Context, result ledger.AccountCommandResult) {
	if p.recorder == nil {
		return
	}
	p.recorder.Record(ctx, changelog.EntityBalance,
		fmt.Sprintf("%d:%s", result.AccountID, result.Asset),
		changelog.ChangeUpdated, map[string]string{
			"available": result.Available.String(),
			"frozen":    result.Frozen.String(),
			"version":   fmt.Sprintf("%d", result.Version),
		})
}

func bpsRate(bps int64) fixedpoint.Decimal {
	return fixedpoint.FromRaw(bps * 10_000)
}

// feeRates returns the taker and maker fee rates. Without a fee account the
// rates are zero: there is nowhere to credit a fee, and charging one anyway
// would debit the payer and destroy the funds.
func (p *Pipeline) feeRates() (taker, maker fixedpoint.Decimal) {
	if p.cfg.FeeAccountID == 0 {
		return fixedpoint.Zero, fixedpoint.Zero
	}
	return bpsRate(p.cfg.Fees.TakerBps), bpsRate(p.cfg.Fees.MakerBps)
}
