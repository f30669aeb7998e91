// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package node defines the ingestion contract between the searcher and
// its node feed, plus a JSON-RPC polling worker implementing it. ExEx
// streaming shims satisfy the same Feed surface.
package node

import (
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"

	"github.com/luxfi/backrun/event"
	"github.com/luxfi/backrun/state"
)

// BlockLogs pairs a block hash with its ordered logs.
type BlockLogs struct {
	Hash common.Hash
	Logs []types.Log
}

// BlockStateUpdate pairs a block hash with its per-tx account diffs;
// Diffs has the same length as the block's tx list.
type BlockStateUpdate struct {
	Hash  common.Hash
	Diffs []state.GethStateUpdate
}

// MempoolTx is one pending-tx arrival with its informational source tag.
type MempoolTx struct {
	Tx     *types.Transaction
	Source string
}

// MempoolTrace is the optional enrichment for a queued tx.
type MempoolTrace struct {
	Hash common.Hash
	Pre  state.GethStateUpdate
	Post state.GethStateUpdate
	Logs []types.Log
}

// Feed is the set of channels an ingestion shim publishes on.
type Feed struct {
	Headers      *event.Broadcaster[*types.Header]
	Blocks       *event.Broadcaster[*types.Block]
	Logs         *event.Broadcaster[BlockLogs]
	StateUpdates *event.Broadcaster[BlockStateUpdate]
	MempoolTxs   *event.Broadcaster[MempoolTx]
	Traces       *event.Broadcaster[MempoolTrace]
}

// NewFeed allocates the channel set at the standard capacities.
func NewFeed() *Feed {
	return &Feed{
		Headers:      event.NewBroadcaster[*types.Header](event.CapHeaders),
		Blocks:       event.NewBroadcaster[*types.Block](event.CapBlocks),
		Logs:         event.NewBroadcaster[BlockLogs](event.CapLogs),
		StateUpdates: event.NewBroadcaster[BlockStateUpdate](event.CapStateUpdates),
		MempoolTxs:   event.NewBroadcaster[MempoolTx](event.CapMempoolTxs),
		Traces:       event.NewBroadcaster[MempoolTrace](event.CapMempoolTxs),
	}
}

// Close closes every channel; consumers observe close and exit.
func (f *Feed) Close() {
	f.Headers.Close()
	f.Blocks.Close()
	f.Logs.Close()
	f.StateUpdates.Close()
	f.MempoolTxs.Close()
	f.Traces.Close()
}
