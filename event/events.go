// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package event

import (
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"

	"github.com/luxfi/backrun/market"
	"github.com/luxfi/backrun/state"
	"github.com/luxfi/backrun/swap"
)

// Default channel capacities. Exceeding one drops the oldest message for
// the lagging subscriber.
const (
	CapHeaders           = 10
	CapBlocks            = 10
	CapLogs              = 10
	CapStateUpdates      = 10
	CapMempoolTxs        = 5000
	CapMarketEvents      = 100
	CapMempoolEvents     = 2000
	CapHealthEvents      = 1000
	CapCompose           = 100
	CapStateUpdateEvents = 100
	CapTasks             = 1000
	CapInflux            = 1000
)

// BlockRange names a span of block numbers on one chain branch.
type BlockRange struct {
	From uint64
	To   uint64
}

// MarketEventKind discriminates MarketEvent.
type MarketEventKind uint8

const (
	// MarketEventNewPoolLoaded fires when the loader registers a pool and
	// its paths.
	MarketEventNewPoolLoaded MarketEventKind = iota
	// MarketEventChainReorged fires when block history rebases onto a
	// competing branch.
	MarketEventChainReorged
)

// MarketEvent is the market-events channel payload.
type MarketEvent struct {
	Kind MarketEventKind

	Pool     common.Address
	NewPaths int

	OldRange BlockRange
	NewRange BlockRange
}

// MempoolEventKind discriminates MempoolEvent.
type MempoolEventKind uint8

const (
	// MempoolEventTxUpdate fires when a transaction body arrives.
	MempoolEventTxUpdate MempoolEventKind = iota
	// MempoolEventLogUpdate fires when trace logs arrive.
	MempoolEventLogUpdate
	// MempoolEventStateUpdate fires when a trace state diff arrives.
	MempoolEventStateUpdate
	// MempoolEventActualTxUpdate fires only for txs passing the gas
	// predicate; it is the search trigger.
	MempoolEventActualTxUpdate
)

// MempoolEvent is the mempool-events channel payload.
type MempoolEvent struct {
	Kind   MempoolEventKind
	TxHash common.Hash
}

// HealthEventKind discriminates HealthEvent.
type HealthEventKind uint8

const (
	// HealthPoolSwapError reports one deduplicated deterministic swap
	// failure.
	HealthPoolSwapError HealthEventKind = iota
)

// HealthEvent is the health channel payload.
type HealthEvent struct {
	Kind   HealthEventKind
	Pool   common.Address
	Reason string
	Block  uint64
}

// StateUpdateEvent is the central work unit: everything the searcher needs
// to price paths affected by a batch of state changes.
type StateUpdateEvent struct {
	// Origin tags the producer ("mempool", "block") for logs only.
	Origin string

	StuffingTxs      []*types.Transaction
	StuffingTxHashes []common.Hash

	StateUpdate []state.GethStateUpdate
	Directions  map[common.Address][]market.SwapDirection

	NextBlockNumber    uint64
	NextBlockTimestamp uint64
	NextBaseFee        *uint256.Int
	TipsPct            uint32

	// MarketState is a private fork; the searcher overlays StateUpdate on
	// it without affecting any other event.
	MarketState *state.MarketDB
}

// Env returns the block context candidates are priced under.
func (e *StateUpdateEvent) Env() *market.Env {
	return &market.Env{
		BlockNumber:    e.NextBlockNumber,
		BlockTimestamp: e.NextBlockTimestamp,
		BaseFee:        e.NextBaseFee,
	}
}

// StuffingTxHash returns the correlation key: the first stuffing hash.
func (e *StateUpdateEvent) StuffingTxHash() common.Hash {
	if len(e.StuffingTxHashes) == 0 {
		return common.Hash{}
	}
	return e.StuffingTxHashes[0]
}

// ComposeKind sequences a candidate through the composer stages.
type ComposeKind uint8

const (
	// ComposeRoute is a freshly priced candidate from the searcher.
	ComposeRoute ComposeKind = iota
	// ComposePrepare is a merged candidate awaiting encoding.
	ComposePrepare
	// ComposeEstimate is an encoded transaction awaiting the EVM pass.
	ComposeEstimate
	// ComposeReady is a fully estimated transaction request.
	ComposeReady
	// ComposeBroadcast is a signed bundle handed to the broadcaster.
	ComposeBroadcast
)

// Compose is the compose channel payload; fields accumulate as the
// message moves through the stages.
type Compose struct {
	Kind ComposeKind

	Eoa              common.Address
	Swap             swap.Swap
	StuffingTxs      []*types.Transaction
	StuffingTxHashes []common.Hash

	NextBlockNumber    uint64
	NextBlockTimestamp uint64
	NextBaseFee        *uint256.Int

	Gas     uint64
	TipsPct uint32
	Tips    *uint256.Int

	// PoolDB is the post-stuffing-tx fork candidates were priced on; the
	// estimator replays against it.
	PoolDB *state.MarketDB

	// Calldata and AccessList are filled by the encoder and estimator.
	Calldata   []byte
	AccessList types.AccessList
	TxRequest  *types.Transaction
}

// WithKind shallow-copies the message at the next stage.
func (c *Compose) WithKind(kind ComposeKind) *Compose {
	cp := *c
	cp.Kind = kind
	return &cp
}
