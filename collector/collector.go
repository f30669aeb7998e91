// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package collector correlates incoming state diffs with the market
// graph: it resolves which pools a diff touches, discovers pools hiding
// behind fresh bytecode, and emits the StateUpdateEvents that drive the
// searcher.
package collector

import (
	"context"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/consensus/misc/eip1559"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/log"
	"github.com/luxfi/geth/params"

	"github.com/luxfi/backrun/event"
	"github.com/luxfi/backrun/loader"
	"github.com/luxfi/backrun/market"
	"github.com/luxfi/backrun/state"
)

// NextBlock is the block context candidates will execute under.
type NextBlock struct {
	Number    uint64
	Timestamp uint64
	BaseFee   *uint256.Int
}

// NextBlockFromHeader derives the context of the block after header.
func NextBlockFromHeader(header *types.Header) NextBlock {
	baseFee := eip1559.CalcBaseFee(params.MainnetChainConfig, header)
	fee, _ := uint256.FromBig(baseFee)
	return NextBlock{
		Number:    header.Number.Uint64() + 1,
		Timestamp: header.Time + 12,
		BaseFee:   fee,
	}
}

// Collector is the state-change resolution actor.
type Collector struct {
	market   *market.Market
	marketDB *state.SharedDB
	loader   *loader.Loader

	tipsPct uint32
	out     *event.Broadcaster[event.StateUpdateEvent]
}

// New builds a collector; loader may be nil to disable discovery.
func New(mkt *market.Market, db *state.SharedDB, l *loader.Loader, tipsPct uint32, out *event.Broadcaster[event.StateUpdateEvent]) *Collector {
	return &Collector{market: mkt, marketDB: db, loader: l, tipsPct: tipsPct, out: out}
}

// Collect resolves the pools affected by updates and emits one
// StateUpdateEvent carrying a private fork of the market state. Events
// for traces are emitted in arrival order because Collect runs on the
// consuming goroutine. Nothing is emitted when no known pool is
// affected.
func (c *Collector) Collect(ctx context.Context, origin string, stuffingTxs []*types.Transaction, updates []state.GethStateUpdate, next NextBlock) *event.StateUpdateEvent {
	directions := make(map[common.Address][]market.SwapDirection)

	for _, update := range updates {
		for addr, diff := range update {
			if pool := c.market.Pool(addr); pool != nil {
				if _, ok := directions[addr]; !ok {
					directions[addr] = pool.SwapDirections()
				}
				continue
			}
			// fresh bytecode: try to discover a pool behind it
			if len(diff.Code) > 0 && c.loader != nil {
				class := c.loader.ClassifyCode(diff.Code)
				if class == market.PoolClassUnknown {
					continue
				}
				if err := c.loader.FetchAndAddPool(ctx, addr, class); err != nil {
					continue
				}
				if pool := c.market.Pool(addr); pool != nil {
					directions[addr] = pool.SwapDirections()
				}
			}
		}
	}

	if len(directions) == 0 {
		log.Debug("State update touches no pools", "origin", origin, "accounts", len(state.AffectedAddresses(updates...)))
		return nil
	}

	hashes := make([]common.Hash, 0, len(stuffingTxs))
	for _, tx := range stuffingTxs {
		hashes = append(hashes, tx.Hash())
	}

	ev := event.StateUpdateEvent{
		Origin:             origin,
		StuffingTxs:        stuffingTxs,
		StuffingTxHashes:   hashes,
		StateUpdate:        updates,
		Directions:         directions,
		NextBlockNumber:    next.Number,
		NextBlockTimestamp: next.Timestamp,
		NextBaseFee:        next.BaseFee,
		TipsPct:            c.tipsPct,
		MarketState:        c.marketDB.Fork(),
	}
	log.Debug("State update event", "origin", origin, "pools", len(directions), "next", next.Number)
	if c.out != nil {
		c.out.Send(ev)
	}
	return &ev
}
