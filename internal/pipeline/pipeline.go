// Package pipeline executes trading commands through four in-process
// stages: acquire funds, match, settle, publish. Commands for one trading
// pair always land on the same shard goroutine, so each order book has a
// single writer and needs no locking of its own.
package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thy3368/rustlob-sub002/internal/changelog"
	"github.com/thy3368/rustlob-sub002/internal/command"
	"github.com/thy3368/rustlob-sub002/internal/engine"
	"github.com/thy3368/rustlob-sub002/internal/idempotency"
	"github.com/thy3368/rustlob-sub002/internal/ledger"
)

const (
	defaultShards     = 4
	defaultQueueDepth = 1024
)

// FeeSchedule is expressed in basis points of the received asset. Zero
// means no fee.
type FeeSchedule struct {
	MakerBps int64
	TakerBps int64
}

type Config struct {
	Shards       int
	QueueDepth   int
	Fees         FeeSchedule
	FeeAccountID uint64
}

func (c Config) withDefaults() Config {
	if c.Shards <= 0 {
		c.Shards = defaultShards
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = defaultQueueDepth
	}
	return c
}

type task struct {
	ctx   context.Context
	cmd   command.Cmd
	reply chan command.Resp
}

// Pipeline is the assembled trading core: every dependency is injected and
// owned here rather than living in package globals.
type Pipeline struct {
	cfg      Config
	engine   *engine.Engine
	ledger   *ledger.Ledger
	guard    *idempotency.Guard
	recorder *changelog.Recorder
	logger   *slog.Logger
	metrics  *Metrics

	shards      []chan task
	nextOrderID atomic.Uint64

	wg       sync.WaitGroup
	shutdown chan struct{}
	once     sync.Once
}

func New(cfg Config, eng *engine.Engine, led *ledger.Ledger, guard *idempotency.Guard, recorder *changelog.Recorder, logger *slog.Logger, metrics *Metrics) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	p := &Pipeline{
		cfg:      cfg,
		engine:   eng,
		ledger:   led,
		guard:    guard,
		recorder: recorder,
		logger:   logger,
		metrics:  metrics,
		shards:   make([]chan task, cfg.Shards),
		shutdown: make(chan struct{}),
	}
	for i := range p.shards {
		p.shards[i] = make(chan task, cfg.QueueDepth)
		p.wg.Add(1)
		go p.runShard(i)
	}
	return p
}

// Submit executes one command and returns its response envelope. Duplicate
// nonces return the stored response without touching a shard. The error
// return covers infrastructure failures only; command rejections travel
// inside the response.
func (p *Pipeline) Submit(ctx context.Context, cmd command.Cmd) (command.Resp, error) {
	receivedAt := uint64(time.Now().UnixMilli())

	if err := cmd.Validate(); err != nil {
		if cmd.Nonce == 0 {
			return command.Resp{}, err
		}
		return p.guard.ExecuteOnce(ctx, cmd.UserID, cmd.Nonce, func() command.Resp {
			return command.NewResp(cmd.Nonce, receivedAt, command.Result{
				Err: command.NewError(command.ErrInvalidArgument, "%s", err.Error()),
			})
		})
	}

	return p.guard.ExecuteOnce(ctx, cmd.UserID, cmd.Nonce, func() command.Resp {
		resp, err := p.dispatch(ctx, cmd, receivedAt)
		if err != nil {
			return command.NewResp(cmd.Nonce, receivedAt, command.Result{
				Err: command.NewError(command.ErrInternal, "%s", err.Error()),
			})
		}
		return resp
	})
}

func (p *Pipeline) dispatch(ctx context.Context, cmd command.Cmd, receivedAt uint64) (command.Resp, error) {
	t := task{ctx: ctx, cmd: cmd, reply: make(chan command.Resp, 1)}
	shard := p.shards[p.shardFor(cmd.Pair())]

	// A closed pipeline must not accept new work: the shard channel may
	// still have buffer space, but nothing will ever read it again.
	select {
	case <-p.shutdown:
		return command.Resp{}, fmt.Errorf("pipeline shutting down")
	default:
	}

	select {
	case shard <- t:
	case <-p.shutdown:
		return command.Resp{}, fmt.Errorf("pipeline shutting down")
	case <-ctx.Done():
		return command.Resp{}, ctx.Err()
	}

	select {
	case resp := <-t.reply:
		resp.Metadata.ReceivedAt = receivedAt
		return resp, nil
	case <-ctx.Done():
		return command.Resp{}, ctx.Err()
	}
}

// shardFor routes a pair to its shard with FNV-1a over the symbol.
func (p *Pipeline) shardFor(pair command.TradingPair) int {
	h := fnv.New32a()
	h.Write([]byte(pair.Symbol()))
	return int(h.Sum32() % uint32(len(p.shards)))
}

func (p *Pipeline) runShard(idx int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.shutdown:
			p.drainShard(idx)
			return
		case t := <-p.shards[idx]:
			start := time.Now()
			resp := p.execute(t.ctx, t.cmd)
			p.metrics.ObserveCommand(string(t.cmd.Payload.Type), resp.Result.Err, time.Since(start))
			p.metrics.SetQueueDepth(idx, len(p.shards[idx]))
			t.reply <- resp
		}
	}
}

func (p *Pipeline) execute(ctx context.Context, cmd command.Cmd) command.Resp {
	switch cmd.Payload.Type {
	case command.TypeLimitOrder:
		return p.executeOrder(ctx, cmd, orderFromLimit(cmd, p.nextOrderID.Add(1)))
	case command.TypeMarketOrder:
		return p.executeOrder(ctx, cmd, orderFromMarket(cmd, p.nextOrderID.Add(1)))
	case command.TypeCancelOrder:
		return p.executeCancel(ctx, cmd)
	case command.TypeAccount:
		return p.executeAccount(ctx, cmd)
	}
	return command.NewResp(cmd.Nonce, 0, command.Result{
		Err: command.NewError(command.ErrInvalidArgument, "unknown command type %q", cmd.Payload.Type),
	})
}

// drainShard answers tasks still queued on a shard so their submitters do
// not block forever once the shard loop has stopped executing.
func (p *Pipeline) drainShard(idx int) {
	for {
		select {
		case t := <-p.shards[idx]:
			t.reply <- command.NewResp(t.cmd.Nonce, 0, command.Result{
				Err: command.NewError(command.ErrInternal, "pipeline shutting down"),
			})
		default:
			return
		}
	}
}

// Close stops accepting work and waits for the shard loops to drain.
func (p *Pipeline) Close() {
	p.once.Do(func() {
		close(p.shutdown)
	})
	p.wg.Wait()
	// Catch tasks that raced past the shutdown check after the shard
	// loops exited.
	for i := range p.shards {
		p.drainShard(i)
	}
}

func orderFromLimit(cmd command.Cmd, id uint64) *engine.Order {
	lo := cmd.Payload.Limit
	now := time.Now()
	return &engine.Order{
		ID:          id,
		AccountID:   lo.AccountID,
		UserID:      cmd.UserID,
		Pair:        lo.Pair,
		Side:        lo.Side,
		Price:       lo.Price,
		Quantity:    lo.Quantity,
		TimeInForce: lo.TimeInForce,
		Status:      engine.StatusNew,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func orderFromMarket(cmd command.Cmd, id uint64) *engine.Order {
	mo := cmd.Payload.Market
	now := time.Now()
	return &engine.Order{
		ID:          id,
		AccountID:   mo.AccountID,
		UserID:      cmd.UserID,
		Pair:        mo.Pair,
		Side:        mo.Side,
		Price:       mo.ProtectionPrice,
		Quantity:    mo.Quantity,
		Market:      true,
		TimeInForce: command.TIFImmediateOrCancel,
		Status:      engine.StatusNew,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
