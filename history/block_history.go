// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package history keeps a depth-bounded ring of recent blocks with their
// headers, logs, state diffs and per-block forked databases.
package history

import (
	"errors"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/log"

	"github.com/luxfi/backrun/event"
	"github.com/luxfi/backrun/state"
)

// DefaultDepth is how many blocks behind the tip entries survive.
const DefaultDepth = 10

// ErrUnknownBlock is returned for hashes outside the ring.
var ErrUnknownBlock = errors.New("unknown block")

// Entry collects everything known about one block hash. Fields arrive out
// of order and are merged in; an entry may exist before its header.
type Entry struct {
	Hash   common.Hash
	Header *types.Header
	Block  *types.Block
	Logs   []types.Log

	// StateDiff is the per-tx post-state of the block.
	StateDiff []state.GethStateUpdate

	// DB is the forked market DB at this block's tip.
	DB *state.MarketDB

	// Reverted marks entries on an abandoned branch. They are kept one
	// extra epoch so in-flight work can resolve them.
	Reverted bool
}

// BlockHistory is the ring. All access is behind one RWMutex with short
// critical sections.
type BlockHistory struct {
	mu sync.RWMutex

	entries      map[common.Hash]*Entry
	numberToHash map[uint64]common.Hash
	latestNumber uint64
	depth        uint64

	marketEvents *event.Broadcaster[event.MarketEvent]
}

// NewBlockHistory returns an empty ring of the given depth; marketEvents
// may be nil when reorg notifications are not needed.
func NewBlockHistory(depth uint64, marketEvents *event.Broadcaster[event.MarketEvent]) *BlockHistory {
	if depth == 0 {
		depth = DefaultDepth
	}
	return &BlockHistory{
		entries:      make(map[common.Hash]*Entry),
		numberToHash: make(map[uint64]common.Hash),
		depth:        depth,
		marketEvents: marketEvents,
	}
}

// Latest returns the tip number.
func (h *BlockHistory) Latest() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latestNumber
}

// LatestEntry returns the tip entry, nil before the first header.
func (h *BlockHistory) LatestEntry() *Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	hash, ok := h.numberToHash[h.latestNumber]
	if !ok {
		return nil
	}
	return h.entries[hash]
}

func (h *BlockHistory) entry(hash common.Hash) *Entry {
	e, ok := h.entries[hash]
	if !ok {
		e = &Entry{Hash: hash}
		h.entries[hash] = e
	}
	return e
}

// tooOld reports whether number is below the retained window.
func (h *BlockHistory) tooOld(number uint64) bool {
	return h.latestNumber > h.depth && number < h.latestNumber-h.depth
}

// AddHeader merges a header, advancing the tip and handling branch
// switches. Inserts below the retained window are silently discarded.
func (h *BlockHistory) AddHeader(header *types.Header) {
	h.mu.Lock()
	defer h.mu.Unlock()

	number := header.Number.Uint64()
	if h.tooOld(number) {
		return
	}
	hash := header.Hash()
	e := h.entry(hash)
	e.Header = header

	if prev, ok := h.numberToHash[number]; ok && prev != hash {
		h.reorgLocked(header, prev)
	}
	h.numberToHash[number] = hash
	if number > h.latestNumber {
		h.latestNumber = number
		h.gcLocked()
	}
}

// reorgLocked walks the abandoned branch back to the fork point, marks
// its entries reverted and emits ChainReorged. Reverted entries survive
// one extra epoch so in-flight work can resolve them.
func (h *BlockHistory) reorgLocked(newHeader *types.Header, oldHash common.Hash) {
	number := newHeader.Number.Uint64()
	forkPoint := number
	newParent := newHeader.ParentHash
	for hash := oldHash; hash != newParent; {
		e, ok := h.entries[hash]
		if !ok || e.Header == nil {
			break
		}
		e.Reverted = true
		forkPoint = e.Header.Number.Uint64()
		hash = e.Header.ParentHash
		if ne, ok := h.entries[hash]; ok && ne.Header != nil {
			newParent = h.parentAt(ne.Header.Number.Uint64(), newHeader)
		}
	}

	log.Warn("Chain reorged", "number", number, "old", oldHash, "new", newHeader.Hash())
	if h.marketEvents != nil {
		h.marketEvents.Send(event.MarketEvent{
			Kind:     event.MarketEventChainReorged,
			OldRange: event.BlockRange{From: forkPoint, To: h.latestNumber},
			NewRange: event.BlockRange{From: forkPoint, To: number},
		})
	}
}

// parentAt resolves the new branch's ancestor hash at a height, walking
// the entry map as far as headers are known.
func (h *BlockHistory) parentAt(number uint64, from *types.Header) common.Hash {
	header := from
	for header != nil && header.Number.Uint64() > number+1 {
		e, ok := h.entries[header.ParentHash]
		if !ok || e.Header == nil {
			return common.Hash{}
		}
		header = e.Header
	}
	if header == nil {
		return common.Hash{}
	}
	return header.ParentHash
}

// gcLocked discards entries older than latest - depth, with one epoch of
// grace for reverted entries.
func (h *BlockHistory) gcLocked() {
	if h.latestNumber <= h.depth {
		return
	}
	floor := h.latestNumber - h.depth
	for hash, e := range h.entries {
		if e.Header == nil {
			continue
		}
		number := e.Header.Number.Uint64()
		if (!e.Reverted && number < floor) || (e.Reverted && number+1 < floor) {
			delete(h.entries, hash)
			if h.numberToHash[number] == hash {
				delete(h.numberToHash, number)
			}
		}
	}
}

// AddBlock merges the full block.
func (h *BlockHistory) AddBlock(block *types.Block) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.tooOld(block.NumberU64()) {
		return
	}
	e := h.entry(block.Hash())
	e.Block = block
	if e.Header == nil {
		e.Header = block.Header()
	}
}

// AddLogs merges the block's logs.
func (h *BlockHistory) AddLogs(hash common.Hash, logs []types.Log) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := h.entry(hash)
	e.Logs = logs
}

// AddStateDiff merges the block's per-tx state diff.
func (h *BlockHistory) AddStateDiff(hash common.Hash, diff []state.GethStateUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := h.entry(hash)
	e.StateDiff = diff
}

// AddDB attaches the forked DB at this block's tip.
func (h *BlockHistory) AddDB(hash common.Hash, db *state.MarketDB) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e := h.entry(hash)
	e.DB = db
}

// Entry returns the entry for hash.
func (h *BlockHistory) Entry(hash common.Hash) (*Entry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.entries[hash]
	if !ok {
		return nil, ErrUnknownBlock
	}
	return e, nil
}

// EntryByNumber returns the canonical entry at a height.
func (h *BlockHistory) EntryByNumber(number uint64) (*Entry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	hash, ok := h.numberToHash[number]
	if !ok {
		return nil, ErrUnknownBlock
	}
	return h.entries[hash], nil
}
