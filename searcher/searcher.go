// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package searcher

import (
	"context"
	"errors"
	"runtime"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/log"

	"github.com/luxfi/backrun/event"
	"github.com/luxfi/backrun/market"
	"github.com/luxfi/backrun/state"
	"github.com/luxfi/backrun/swap"
)

// GasFloor is the minimum gas a candidate must be able to pay for at the
// next base fee before it is worth composing.
const GasFloor = 100_000

// defaultMaxInput bounds the search when no balance source is wired
// (100 ETH equivalent).
var defaultMaxInput = uint256.NewInt(0).Mul(uint256.NewInt(100), uint256.NewInt(1_000_000_000_000_000_000))

// BalanceSource resolves the searcher account's spendable balance per
// token; nil balances fall back to the default bound.
type BalanceSource interface {
	BalanceOf(account common.Address, token common.Address) *uint256.Int
}

// Config tunes one Searcher.
type Config struct {
	// Smart gates candidates through BestSwapCompose.
	Smart bool
	// Threads sizes the compute pool; 0 means ⌊CPU/2⌋.
	Threads int
	// Eoa is the account whose balances bound amount_in.
	Eoa common.Address
}

// Searcher consumes StateUpdateEvents and emits priced candidates.
type Searcher struct {
	cfg      Config
	market   *market.Market
	balances BalanceSource

	in      *event.Subscription[event.StateUpdateEvent]
	compose *event.Broadcaster[*event.Compose]
	health  *event.Broadcaster[event.HealthEvent]

	wg sync.WaitGroup
}

// New wires a searcher; balances may be nil.
func New(cfg Config, mkt *market.Market, balances BalanceSource,
	in *event.Subscription[event.StateUpdateEvent],
	compose *event.Broadcaster[*event.Compose],
	health *event.Broadcaster[event.HealthEvent]) *Searcher {
	if cfg.Threads <= 0 {
		cfg.Threads = runtime.NumCPU() / 2
		if cfg.Threads < 1 {
			cfg.Threads = 1
		}
	}
	return &Searcher{cfg: cfg, market: mkt, balances: balances, in: in, compose: compose, health: health}
}

// Start launches the consume loop; it exits when the input channel
// closes or ctx is cancelled.
func (s *Searcher) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-s.in.Ch():
				if !ok {
					return
				}
				s.Handle(ctx, &ev)
			}
		}
	}()
}

// Wait blocks until the consume loop exits.
func (s *Searcher) Wait() { s.wg.Wait() }

// pathsFor expands the event's directions into candidate paths, skipping
// anything touching an unhealthy pool.
func (s *Searcher) pathsFor(ev *event.StateUpdateEvent) []*market.SwapPath {
	seen := make(map[common.Hash]struct{})
	var out []*market.SwapPath
	add := func(paths []*market.SwapPath) {
		for _, p := range paths {
			if p.Disabled {
				continue
			}
			healthy := true
			for _, pool := range p.Pools {
				if !s.market.IsPoolOk(pool.Address()) {
					healthy = false
					break
				}
			}
			if !healthy {
				continue
			}
			if _, ok := seen[p.Key()]; !ok {
				seen[p.Key()] = struct{}{}
				out = append(out, p)
			}
		}
	}

	for pool, dirs := range ev.Directions {
		paths := s.market.PoolPaths(pool)
		if len(paths) == 0 {
			// a pool registered after the last path build: enumerate now
			paths = s.market.BuildSwapPaths(map[common.Address][]market.SwapDirection{pool: dirs})
		}
		add(paths)
	}
	return out
}

// maxInputFor bounds the search by the spendable balance of the anchor
// token.
func (s *Searcher) maxInputFor(token *market.Token) *uint256.Int {
	if s.balances != nil {
		if bal := s.balances.BalanceOf(s.cfg.Eoa, token.Address()); bal != nil && !bal.IsZero() {
			return bal
		}
	}
	return defaultMaxInput
}

type searchResult struct {
	line    *swap.SwapLine
	swapErr *swap.Error
}

// Handle prices every candidate path of one event on the compute pool
// and forwards the survivors. Deterministic swap failures are reported
// to the health channel exactly once per unique (pool, reason).
func (s *Searcher) Handle(ctx context.Context, ev *event.StateUpdateEvent) {
	if len(ev.Directions) == 0 {
		return
	}

	db := ev.MarketState
	if db == nil {
		db = state.NewMarketDB(nil)
	}
	for _, update := range ev.StateUpdate {
		db.ApplyGethUpdate(update)
	}

	paths := s.pathsFor(ev)
	if len(paths) == 0 {
		log.Debug("No swap paths for event", "stuffing", ev.StuffingTxHash())
		return
	}
	log.Debug("Search started", "paths", len(paths), "stuffing", ev.StuffingTxHash(), "next", ev.NextBlockNumber)

	env := ev.Env()
	jobs := make(chan *market.SwapPath)
	results := make(chan searchResult, len(paths))

	var workers sync.WaitGroup
	for w := 0; w < s.cfg.Threads; w++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for path := range jobs {
				line := swap.NewSwapLine(path)
				calc := &Calculator{MaxInput: s.maxInputFor(line.Token())}
				if err := calc.Optimize(line, db, env); err != nil {
					var swapErr *swap.Error
					if errors.As(err, &swapErr) {
						results <- searchResult{swapErr: swapErr}
					}
					continue
				}
				results <- searchResult{line: line}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, path := range paths {
			select {
			case jobs <- path:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		workers.Wait()
		close(results)
	}()

	best := NewBestSwapCompose(9000)
	reported := make(map[string]struct{})
	accepted := 0

	for res := range results {
		if res.swapErr != nil {
			key := res.swapErr.Pool.Hex() + "/" + res.swapErr.Err.Error()
			if _, ok := reported[key]; ok {
				continue
			}
			reported[key] = struct{}{}
			if s.health != nil {
				s.health.Send(event.HealthEvent{
					Kind:   event.HealthPoolSwapError,
					Pool:   res.swapErr.Pool,
					Reason: res.swapErr.Err.Error(),
					Block:  ev.NextBlockNumber,
				})
			}
			continue
		}

		line := res.line
		profit, positive := line.Profit()
		if !positive {
			continue
		}
		profitEth := line.ProfitEth()
		if profitEth == nil {
			// no price hint for the anchor token: cannot prove gas
			// coverage
			continue
		}
		floor := new(uint256.Int).Mul(ev.NextBaseFee, uint256.NewInt(GasFloor))
		if profitEth.Cmp(floor) <= 0 {
			continue
		}

		tips := new(uint256.Int).Mul(profit, uint256.NewInt(uint64(ev.TipsPct)))
		tips.Div(tips, uint256.NewInt(10_000))
		if s.cfg.Smart && !best.Check(profit, tips, line.GasUsed) {
			continue
		}

		accepted++
		if s.compose != nil {
			s.compose.Send(&event.Compose{
				Kind:               event.ComposeRoute,
				Eoa:                s.cfg.Eoa,
				Swap:               &swap.BackrunSwapLine{Line: line},
				StuffingTxs:        ev.StuffingTxs,
				StuffingTxHashes:   ev.StuffingTxHashes,
				NextBlockNumber:    ev.NextBlockNumber,
				NextBlockTimestamp: ev.NextBlockTimestamp,
				NextBaseFee:        ev.NextBaseFee,
				Gas:                line.GasUsed,
				TipsPct:            ev.TipsPct,
				PoolDB:             db,
			})
		}
	}
	log.Debug("Search finished", "paths", len(paths), "accepted", accepted, "stuffing", ev.StuffingTxHash())
}
