// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package mempool tracks pending transactions along with their trace
// enrichment (logs and state diffs) and mined/failed status.
package mempool

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"

	"github.com/luxfi/backrun/event"
	"github.com/luxfi/backrun/state"
)

const (
	// gcBlockDepth: entries older than latest - gcBlockDepth blocks are
	// collected.
	gcBlockDepth = 50
	// gcMaxAge: entries are collected after this wall-clock age
	// regardless of blocks.
	gcMaxAge = 20 * time.Minute

	// minGasLimit is the validity floor; txs below it cannot move a pool.
	minGasLimit = 50_000

	// evictedCacheSize remembers recently collected hashes so late trace
	// arrivals do not resurrect entries.
	evictedCacheSize = 16384
)

// Tx is one mempool entry. Each field is write-once; either arrival path
// (tx body or trace) may create the entry.
type Tx struct {
	Hash        common.Hash
	Tx          *types.Transaction
	Logs        []types.Log
	StateUpdate state.GethStateUpdate

	Source    string
	FirstSeen time.Time

	MinedBlock uint64
	Failed     bool
}

// Mined reports whether the tx was observed in a block.
func (t *Tx) Mined() bool { return t.MinedBlock != 0 }

// Mempool is the shared pending-tx set. Insertion order is preserved for
// iteration; all access is behind one RWMutex.
type Mempool struct {
	mu sync.RWMutex

	txs   map[common.Hash]*Tx
	order []common.Hash

	evicted *lru.Cache

	events *event.Broadcaster[event.MempoolEvent]
}

// NewMempool returns an empty pool; events may be nil in tests.
func NewMempool(events *event.Broadcaster[event.MempoolEvent]) *Mempool {
	evicted, _ := lru.New(evictedCacheSize)
	return &Mempool{
		txs:     make(map[common.Hash]*Tx),
		evicted: evicted,
		events:  events,
	}
}

// Len returns the number of live entries.
func (m *Mempool) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txs)
}

// Get returns the entry for hash, nil when absent.
func (m *Mempool) Get(hash common.Hash) *Tx {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.txs[hash]
}

func (m *Mempool) entryLocked(hash common.Hash, source string) *Tx {
	if t, ok := m.txs[hash]; ok {
		return t
	}
	t := &Tx{Hash: hash, Source: source, FirstSeen: time.Now()}
	m.txs[hash] = t
	m.order = append(m.order, hash)
	return t
}

func (m *Mempool) emit(kind event.MempoolEventKind, hash common.Hash) {
	if m.events != nil {
		m.events.Send(event.MempoolEvent{Kind: kind, TxHash: hash})
	}
}

// AddTx records a transaction arrival. Emits TxUpdate, and
// ActualTxUpdate when the tx passes the gas predicate against
// currentBaseFee.
func (m *Mempool) AddTx(tx *types.Transaction, source string, currentBaseFee *uint256.Int) {
	hash := tx.Hash()
	m.mu.Lock()
	if m.evicted.Contains(hash) {
		m.mu.Unlock()
		return
	}
	t := m.entryLocked(hash, source)
	already := t.Tx != nil
	if !already {
		t.Tx = tx
	}
	m.mu.Unlock()
	if already {
		return
	}
	m.emit(event.MempoolEventTxUpdate, hash)
	if txPassesGasPredicate(tx, currentBaseFee) {
		m.emit(event.MempoolEventActualTxUpdate, hash)
	}
}

// AddLogs records trace logs for hash. Write-once.
func (m *Mempool) AddLogs(hash common.Hash, logs []types.Log) {
	m.mu.Lock()
	if m.evicted.Contains(hash) {
		m.mu.Unlock()
		return
	}
	t := m.entryLocked(hash, "trace")
	already := t.Logs != nil
	if !already {
		t.Logs = logs
	}
	m.mu.Unlock()
	if !already {
		m.emit(event.MempoolEventLogUpdate, hash)
	}
}

// AddStateUpdate records a trace state diff for hash. Write-once.
func (m *Mempool) AddStateUpdate(hash common.Hash, update state.GethStateUpdate) {
	m.mu.Lock()
	if m.evicted.Contains(hash) {
		m.mu.Unlock()
		return
	}
	t := m.entryLocked(hash, "trace")
	already := t.StateUpdate != nil
	if !already {
		t.StateUpdate = update
	}
	m.mu.Unlock()
	if !already {
		m.emit(event.MempoolEventStateUpdate, hash)
	}
}

// SetMined marks hash as included in block number.
func (m *Mempool) SetMined(hash common.Hash, block uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.txs[hash]; ok {
		t.MinedBlock = block
	}
}

// SetFailed marks hash as failed (dropped or reverted upstream).
func (m *Mempool) SetFailed(hash common.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.txs[hash]; ok {
		t.Failed = true
	}
}

// IsValidForInclusion applies the gas-price predicate: big enough gas
// limit, gas price at the next block's base fee, not mined, not failed.
func (m *Mempool) IsValidForInclusion(hash common.Hash, nextBaseFee *uint256.Int) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.txs[hash]
	if !ok || t.Tx == nil || t.Mined() || t.Failed {
		return false
	}
	return txPassesGasPredicate(t.Tx, nextBaseFee)
}

func txPassesGasPredicate(tx *types.Transaction, baseFee *uint256.Int) bool {
	if tx.Gas() <= minGasLimit {
		return false
	}
	if baseFee == nil {
		return true
	}
	cap, _ := uint256.FromBig(tx.GasFeeCap())
	return cap != nil && cap.Cmp(baseFee) >= 0
}

// Pending returns live, unmined, unfailed entries in insertion order.
func (m *Mempool) Pending() []*Tx {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Tx, 0, len(m.order))
	for _, hash := range m.order {
		t, ok := m.txs[hash]
		if ok && !t.Mined() && !t.Failed {
			out = append(out, t)
		}
	}
	return out
}

// GC collects entries mined more than gcBlockDepth blocks ago or first
// seen more than gcMaxAge ago, returning how many were removed.
func (m *Mempool) GC(latestBlock uint64) int {
	cutoff := time.Now().Add(-gcMaxAge)
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	keep := m.order[:0]
	for _, hash := range m.order {
		t, ok := m.txs[hash]
		if !ok {
			continue
		}
		old := t.FirstSeen.Before(cutoff)
		buried := t.Mined() && latestBlock > gcBlockDepth && t.MinedBlock < latestBlock-gcBlockDepth
		if old || buried {
			delete(m.txs, hash)
			m.evicted.Add(hash, struct{}{})
			removed++
			continue
		}
		keep = append(keep, hash)
	}
	m.order = keep
	return removed
}
