// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package composer

import (
	"context"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/log"

	"github.com/luxfi/backrun/event"
	"github.com/luxfi/backrun/market"
	"github.com/luxfi/backrun/state"
)

// ChainHead supplies the live next-block context; composed work whose
// context no longer matches is stale and dropped.
type ChainHead interface {
	NextBlock() (number uint64, baseFee *uint256.Int)
}

// EstimatorBackend runs the second EVM pass; the default is the
// in-process Estimator.
type EstimatorBackend interface {
	Estimate(c *event.Compose, db *state.MarketDB) (*EstimateResult, error)
}

// Composer drives candidates through merge, encode and estimate, and
// emits Ready messages for the broadcaster.
type Composer struct {
	multicaller common.Address
	head        ChainHead
	estimator   EstimatorBackend

	in  *event.Subscription[*event.Compose]
	out *event.Broadcaster[*event.Compose]

	merger *Merger
	wg     sync.WaitGroup
}

// New wires a composer.
func New(multicaller common.Address, head ChainHead, estimator EstimatorBackend,
	in *event.Subscription[*event.Compose], out *event.Broadcaster[*event.Compose]) *Composer {
	if estimator == nil {
		estimator = &Estimator{Multicaller: multicaller}
	}
	return &Composer{
		multicaller: multicaller,
		head:        head,
		estimator:   estimator,
		in:          in,
		out:         out,
	}
}

// Start launches the consume loop.
func (c *Composer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-c.in.Ch():
				if !ok {
					return
				}
				c.Handle(msg)
			}
		}
	}()
}

// Wait blocks until the consume loop exits.
func (c *Composer) Wait() { c.wg.Wait() }

// stale reports whether the message's block context has been overtaken.
func (c *Composer) stale(msg *event.Compose) bool {
	if c.head == nil {
		return false
	}
	number, baseFee := c.head.NextBlock()
	if msg.NextBlockNumber != number {
		return true
	}
	return baseFee != nil && msg.NextBaseFee != nil && !baseFee.Eq(msg.NextBaseFee)
}

// Handle advances one message through the pipeline stages. Each stage
// re-checks staleness so late search results die here instead of on a
// relay.
func (c *Composer) Handle(msg *event.Compose) {
	if c.stale(msg) {
		log.Debug("Dropping stale compose message", "kind", msg.Kind, "target", msg.NextBlockNumber)
		return
	}

	switch msg.Kind {
	case event.ComposeRoute:
		c.handleRoute(msg)
	case event.ComposePrepare:
		c.handlePrepare(msg)
	case event.ComposeEstimate:
		c.handleEstimate(msg)
	case event.ComposeReady, event.ComposeBroadcast:
		if c.out != nil {
			c.out.Send(msg)
		}
	}
}

func (c *Composer) envOf(msg *event.Compose) *market.Env {
	return &market.Env{
		BlockNumber:    msg.NextBlockNumber,
		BlockTimestamp: msg.NextBlockTimestamp,
		BaseFee:        msg.NextBaseFee,
	}
}

// handleRoute windows the candidate, tries the two cross-merges, and
// forwards the shared-pool merge if there is one, else the disjoint merge,
// else the candidate itself, to encoding.
func (c *Composer) handleRoute(msg *event.Compose) {
	if c.merger == nil || c.merger.TargetBlock() != msg.NextBlockNumber {
		c.merger = NewMerger(msg.NextBlockNumber)
	}
	if !c.merger.AddRoute(msg) {
		return
	}

	db := msg.PoolDB
	if db == nil {
		db = state.NewMarketDB(nil)
	}
	env := c.envOf(msg)

	forward := msg
	if merged := c.merger.MergeSharedPool(msg, db, env); merged != nil {
		forward = merged
	} else if merged := c.merger.MergeDisjoint(msg, db, env); merged != nil {
		forward = merged
	}
	c.Handle(forward.WithKind(event.ComposePrepare))
}

// handlePrepare encodes the swap plus tips into multicaller calldata.
func (c *Composer) handlePrepare(msg *event.Compose) {
	db := msg.PoolDB
	if db == nil {
		db = state.NewMarketDB(nil)
	}
	enc := &Encoder{Multicaller: c.multicaller, DB: db, Env: c.envOf(msg)}
	tips := TipsFor(msg.Swap.Profit(), msg.TipsPct)

	calldata, err := enc.Encode(msg.Swap, tips)
	if err != nil {
		log.Debug("Encoding failed", "err", err, "swap", msg.Swap)
		return
	}
	next := msg.WithKind(event.ComposeEstimate)
	next.Calldata = calldata
	next.Tips = tips
	c.Handle(next)
}

// handleEstimate runs the EVM pass, recomputes tips on real gas,
// re-encodes and emits Ready.
func (c *Composer) handleEstimate(msg *event.Compose) {
	db := msg.PoolDB
	if db == nil {
		db = state.NewMarketDB(nil)
	}

	result, err := c.estimator.Estimate(msg, db.Fork())
	if err != nil {
		log.Debug("Estimation failed", "err", err, "swap", msg.Swap)
		return
	}

	// tips recomputed on the real gas cost
	gasCost := new(uint256.Int).Mul(msg.NextBaseFee, uint256.NewInt(result.GasUsed))
	profit := msg.Swap.Profit()
	if profit.Cmp(gasCost) <= 0 {
		log.Debug("Profit does not cover estimated gas", "profit", profit, "gasCost", gasCost)
		return
	}
	net := new(uint256.Int).Sub(profit, gasCost)
	tips := TipsFor(net, msg.TipsPct)

	enc := &Encoder{Multicaller: c.multicaller, DB: db, Env: c.envOf(msg)}
	calldata, err := enc.Encode(msg.Swap, tips)
	if err != nil {
		log.Debug("Re-encoding failed", "err", err)
		return
	}

	ready := msg.WithKind(event.ComposeReady)
	ready.Calldata = calldata
	ready.Tips = tips
	ready.Gas = result.GasUsed + result.GasUsed/5 // headroom
	ready.AccessList = result.AccessList
	ready.TxRequest = types.NewTx(&types.DynamicFeeTx{
		To:         &c.multicaller,
		Gas:        ready.Gas,
		GasFeeCap:  new(uint256.Int).Mul(msg.NextBaseFee, uint256.NewInt(2)).ToBig(),
		GasTipCap:  new(uint256.Int).ToBig(),
		Data:       calldata,
		AccessList: result.AccessList,
	})

	if c.stale(ready) {
		log.Debug("Dropping stale ready bundle", "target", ready.NextBlockNumber)
		return
	}
	log.Info("Bundle ready", "target", ready.NextBlockNumber, "profit", profit, "tips", tips, "gas", ready.Gas)
	if c.out != nil {
		c.out.Send(ready)
	}
}
