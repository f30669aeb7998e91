// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/log"
	"github.com/luxfi/geth/rpc"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/backrun/accounts"
	"github.com/luxfi/backrun/broadcast"
	"github.com/luxfi/backrun/collector"
	"github.com/luxfi/backrun/composer"
	"github.com/luxfi/backrun/config"
	"github.com/luxfi/backrun/event"
	"github.com/luxfi/backrun/history"
	"github.com/luxfi/backrun/loader"
	"github.com/luxfi/backrun/market"
	"github.com/luxfi/backrun/mempool"
	"github.com/luxfi/backrun/monitor"
	"github.com/luxfi/backrun/node"
	"github.com/luxfi/backrun/searcher"
	"github.com/luxfi/backrun/state"
	"github.com/luxfi/backrun/tips"
)

const shutdownGrace = 5 * time.Second

// chainHead adapts block history into the composer's staleness source.
type chainHead struct {
	history *history.BlockHistory
}

// NextBlock implements composer.ChainHead.
func (h *chainHead) NextBlock() (uint64, *uint256.Int) {
	entry := h.history.LatestEntry()
	if entry == nil || entry.Header == nil {
		return 0, nil
	}
	next := collector.NextBlockFromHeader(entry.Header)
	return next.Number, next.BaseFee
}

// runtime owns the actor graph and the shared state.
type runtime struct {
	cfg *config.Config

	market      *market.Market
	marketState *state.SharedDB
	blocks      *history.BlockHistory
	pool        *mempool.Mempool
	registry    *accounts.Registry

	feed         *node.Feed
	marketEvents *event.Broadcaster[event.MarketEvent]
	mempoolEv    *event.Broadcaster[event.MempoolEvent]
	healthEv     *event.Broadcaster[event.HealthEvent]
	searchEv     *event.Broadcaster[event.StateUpdateEvent]
	composeBus   *event.Broadcaster[*event.Compose]
	readyBus     *event.Broadcaster[*event.Compose]

	signers  *broadcast.SignerSet
	txSigner types.Signer

	poller      *node.Poller
	loader      *loader.Loader
	collector   *collector.Collector
	searcher    *searcher.Searcher
	composer    *composer.Composer
	broadcaster *broadcast.Broadcaster
	health      *monitor.HealthMonitor
	stateHealth *monitor.StateHealthMonitor
	stuffing    *monitor.StuffingTxMonitor
	tipsCurve   *tips.Curve

	wg sync.WaitGroup
}

// newRuntime wires the whole actor graph from config.
func newRuntime(cfg *config.Config, keys []*ecdsa.PrivateKey, reg prometheus.Registerer) (*runtime, error) {
	rpcClient, err := rpc.Dial(cfg.NodeURL)
	if err != nil {
		return nil, err
	}

	r := &runtime{cfg: cfg}
	r.marketEvents = event.NewBroadcaster[event.MarketEvent](event.CapMarketEvents)
	r.mempoolEv = event.NewBroadcaster[event.MempoolEvent](event.CapMempoolEvents)
	r.healthEv = event.NewBroadcaster[event.HealthEvent](event.CapHealthEvents)
	r.searchEv = event.NewBroadcaster[event.StateUpdateEvent](event.CapStateUpdateEvents)
	r.composeBus = event.NewBroadcaster[*event.Compose](event.CapCompose)
	r.readyBus = event.NewBroadcaster[*event.Compose](event.CapCompose)

	r.market = market.NewMarket()
	r.market.SetMaxHops(cfg.MaxHops)
	r.marketState = state.NewSharedDB(state.NewMarketDB(nil))
	r.blocks = history.NewBlockHistory(uint64(cfg.Pools.History), r.marketEvents)
	r.pool = mempool.NewMempool(r.mempoolEv)
	r.registry = accounts.NewRegistry()
	r.tipsCurve = tips.NewCurve(cfg.Tips)

	r.feed = node.NewFeed()
	r.poller = node.NewPoller(rpcClient, r.feed)
	r.loader = loader.New(r.poller.Client(), r.market, r.marketState, loader.MainnetFactories(), r.marketEvents, config.DefaultLoaderLimit)
	r.collector = collector.New(r.market, r.marketState, r.loader, r.tipsCurve.StartPct(), r.searchEv)

	if len(keys) == 0 {
		return nil, broadcast.ErrNoSigners
	}
	signers, err := broadcast.NewSignerSet(cfg.ChainID, keys, keys[0], time.Now().UnixNano())
	if err != nil {
		return nil, err
	}
	r.signers = signers
	r.txSigner = types.LatestSignerForChainID(new(big.Int).SetUint64(cfg.ChainID))
	for _, addr := range signers.Addresses() {
		r.registry.Add(addr)
	}

	head := &chainHead{history: r.blocks}
	r.searcher = searcher.New(searcher.Config{
		Smart:   cfg.Backrun.Smart,
		Threads: cfg.Pools.Threads,
		Eoa:     cfg.EoaAddress(),
	}, r.market, r.registry, r.searchEv.Subscribe(), r.composeBus, r.healthEv)
	r.composer = composer.New(cfg.MulticallerAddress(), head, nil, r.composeBus.Subscribe(), r.readyBus)

	relays := make([]broadcast.Relay, 0, len(cfg.Relays))
	for _, relay := range cfg.Relays {
		relays = append(relays, broadcast.Relay{URL: relay.URL, NoSign: relay.NoSign})
	}
	r.broadcaster = broadcast.New(signers, relays, r.readyBus.Subscribe(), reg)
	r.health = monitor.NewHealthMonitor(r.market, r.healthEv.Subscribe(), config.DefaultHealthHeal, reg)
	r.stateHealth = monitor.NewStateHealthMonitor(r.marketState)
	r.stuffing = monitor.NewStuffingTxMonitor(reg)
	return r, nil
}

// Run starts every actor and blocks until a signal or fatal error.
func (r *runtime) Run(parent context.Context) error {
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	r.poller.Start(ctx)
	r.searcher.Start(ctx)
	r.composer.Start(ctx)
	r.broadcaster.Start(ctx)
	r.health.Start(ctx)
	r.startIngestLoops(ctx)

	log.Info("Backrun searcher started",
		"chain", r.cfg.ChainID,
		"relays", len(r.cfg.Relays),
		"multicaller", r.cfg.Multicaller,
	)

	<-ctx.Done()
	log.Info("Shutting down")

	// closing the producers lets every consumer observe Closed and exit
	r.feed.Close()
	r.searchEv.Close()
	r.composeBus.Close()
	r.readyBus.Close()
	r.healthEv.Close()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		r.searcher.Wait()
		r.composer.Wait()
		r.broadcaster.Wait()
		r.health.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		log.Warn("Shutdown grace expired, abandoning stragglers")
	}
	return nil
}

// startIngestLoops bridges the node feed into the shared state and the
// collector.
func (r *runtime) startIngestLoops(ctx context.Context) {
	headers := r.feed.Headers.Subscribe()
	blocks := r.feed.Blocks.Subscribe()
	logsSub := r.feed.Logs.Subscribe()
	diffs := r.feed.StateUpdates.Subscribe()
	txs := r.feed.MempoolTxs.Subscribe()
	traces := r.feed.Traces.Subscribe()
	ready := r.readyBus.Subscribe()
	marketEv := r.marketEvents.Subscribe()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case header, ok := <-headers.Ch():
				if !ok {
					return
				}
				r.blocks.AddHeader(header)
				r.health.OnNewBlock(header.Number.Uint64())
				r.pool.GC(header.Number.Uint64())
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case block, ok := <-blocks.Ch():
				if !ok {
					return
				}
				r.blocks.AddBlock(block)
				hashes := make([]common.Hash, 0, len(block.Transactions()))
				for _, tx := range block.Transactions() {
					r.pool.SetMined(tx.Hash(), block.NumberU64())
					hashes = append(hashes, tx.Hash())
				}
				r.stuffing.OnBlockTxs(block.NumberU64(), hashes)
				// observed nonces correct the optimistic local view
				r.registry.ProcessBlock(block, nil, r.txSigner)
				for _, addr := range r.signers.Addresses() {
					r.signers.ObserveNonce(addr, r.registry.Nonce(addr))
				}
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case bl, ok := <-logsSub.Ch():
				if !ok {
					return
				}
				r.blocks.AddLogs(bl.Hash, bl.Logs)
				for i := range bl.Logs {
					r.registry.ApplyTransferLog(&bl.Logs[i])
				}
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case diff, ok := <-diffs.Ch():
				if !ok {
					return
				}
				r.blocks.AddStateDiff(diff.Hash, diff.Diffs)
				merged := state.Merge(diff.Diffs...)
				snapshot := r.marketState.Advance(merged)
				r.blocks.AddDB(diff.Hash, snapshot)
				r.stateHealth.Verify()
				r.loader.ProcessCodeDiffs(ctx, merged)
				r.collectFromBlock(ctx, diff)
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case tx, ok := <-txs.Ch():
				if !ok {
					return
				}
				entry := r.blocks.LatestEntry()
				var baseFee *uint256.Int
				if entry != nil && entry.Header != nil {
					baseFee, _ = uint256.FromBig(entry.Header.BaseFee)
				}
				r.pool.AddTx(tx.Tx, tx.Source, baseFee)
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ready.Ch():
				if !ok {
					return
				}
				r.stuffing.Watch(msg.StuffingTxHashes, msg.NextBlockNumber)
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-marketEv.Ch():
				if !ok {
					return
				}
				if ev.Kind != event.MarketEventNewPoolLoaded {
					continue
				}
				// pin the new pool's read-only cells so a bad
				// registration surfaces on the next block diff
				if pool := r.market.Pool(ev.Pool); pool != nil {
					for _, slot := range pool.ReadOnlyCells() {
						r.stateHealth.Pin(pool.Address(), slot)
					}
				}
			}
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case trace, ok := <-traces.Ch():
				if !ok {
					return
				}
				r.pool.AddLogs(trace.Hash, trace.Logs)
				r.pool.AddStateUpdate(trace.Hash, trace.Post)
				r.collectFromTrace(ctx, trace)
			}
		}
	}()
}

// collectFromTrace emits a search event for one enriched mempool tx.
func (r *runtime) collectFromTrace(ctx context.Context, trace node.MempoolTrace) {
	entry := r.blocks.LatestEntry()
	if entry == nil || entry.Header == nil {
		return
	}
	next := collector.NextBlockFromHeader(entry.Header)
	if !r.pool.IsValidForInclusion(trace.Hash, next.BaseFee) {
		return
	}
	mtx := r.pool.Get(trace.Hash)
	if mtx == nil || mtx.Tx == nil {
		return
	}
	r.collector.Collect(ctx, "mempool", []*types.Transaction{mtx.Tx}, []state.GethStateUpdate{trace.Post}, next)
}

// collectFromBlock emits search events for a committed block's diff so
// freshly moved pools are re-priced without a stuffing tx.
func (r *runtime) collectFromBlock(ctx context.Context, diff node.BlockStateUpdate) {
	entry := r.blocks.LatestEntry()
	if entry == nil || entry.Header == nil {
		return
	}
	next := collector.NextBlockFromHeader(entry.Header)
	r.collector.Collect(ctx, "block", nil, diff.Diffs, next)
}
