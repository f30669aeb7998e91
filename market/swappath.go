// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package market

import (
	"strings"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/crypto"
)

// SwapPath is an ordered walk through the graph: tokens[i-1] swaps to
// tokens[i] through pools[i-1]. A path is cyclic when it starts and ends
// on the same token; the backrun searcher only ever prices cyclic paths.
type SwapPath struct {
	Tokens []*Token
	Pools  []Pool

	// Disabled is sticky: disabling any pool disables every path through
	// it until the health monitor heals the pool.
	Disabled bool

	key common.Hash
}

// NewSwapPath builds a path and memoises its identity key.
func NewSwapPath(tokens []*Token, pools []Pool) *SwapPath {
	p := &SwapPath{Tokens: tokens, Pools: pools}
	p.key = p.computeKey()
	return p
}

func (p *SwapPath) computeKey() common.Hash {
	buf := make([]byte, 0, (len(p.Tokens)+len(p.Pools))*common.AddressLength)
	for _, t := range p.Tokens {
		buf = append(buf, t.Address().Bytes()...)
	}
	for _, pool := range p.Pools {
		buf = append(buf, pool.Address().Bytes()...)
	}
	return crypto.Keccak256Hash(buf)
}

// Key is the identity of the path: a hash over the ordered token and pool
// address sequences.
func (p *SwapPath) Key() common.Hash { return p.key }

// IsCyclic reports whether the path returns to its first token.
func (p *SwapPath) IsCyclic() bool {
	return len(p.Tokens) > 1 && p.Tokens[0].Address() == p.Tokens[len(p.Tokens)-1].Address()
}

// PoolCount returns the number of hops.
func (p *SwapPath) PoolCount() int { return len(p.Pools) }

// ContainsPool reports whether addr is one of the path's pools.
func (p *SwapPath) ContainsPool(addr common.Address) bool {
	for _, pool := range p.Pools {
		if pool.Address() == addr {
			return true
		}
	}
	return false
}

// SharesPoolWith reports whether the two paths have any pool in common.
func (p *SwapPath) SharesPoolWith(other *SwapPath) bool {
	for _, pool := range other.Pools {
		if p.ContainsPool(pool.Address()) {
			return true
		}
	}
	return false
}

// poolAddressTuple renders the ordered pool addresses, the enumeration
// tie-break key.
func (p *SwapPath) poolAddressTuple() string {
	var b strings.Builder
	for _, pool := range p.Pools {
		b.Write(pool.Address().Bytes())
	}
	return b.String()
}

func (p *SwapPath) String() string {
	var b strings.Builder
	for i, t := range p.Tokens {
		if i > 0 {
			b.WriteString("->")
			b.WriteString(p.Pools[i-1].Address().Hex()[:10])
			b.WriteString("->")
		}
		b.WriteString(t.String())
	}
	return b.String()
}

// SwapPathIndex keeps two views over one path set: identity-keyed for
// dedup, and per-pool for "all paths touching this pool". The views hold
// the same *SwapPath values at all times; updates replace rather than add
// so both views keep pointing at one object per identity.
type SwapPathIndex struct {
	paths  map[common.Hash]*SwapPath
	byPool map[common.Address]map[common.Hash]*SwapPath
}

// NewSwapPathIndex returns an empty index.
func NewSwapPathIndex() *SwapPathIndex {
	return &SwapPathIndex{
		paths:  make(map[common.Hash]*SwapPath),
		byPool: make(map[common.Address]map[common.Hash]*SwapPath),
	}
}

// Len returns the number of distinct paths.
func (idx *SwapPathIndex) Len() int { return len(idx.paths) }

// Add inserts a path if its identity is new, returning whether it was
// added.
func (idx *SwapPathIndex) Add(path *SwapPath) bool {
	if _, ok := idx.paths[path.Key()]; ok {
		return false
	}
	idx.replace(path)
	return true
}

// Replace inserts or overwrites by identity in both views.
func (idx *SwapPathIndex) Replace(path *SwapPath) { idx.replace(path) }

func (idx *SwapPathIndex) replace(path *SwapPath) {
	idx.paths[path.Key()] = path
	for _, pool := range path.Pools {
		slot, ok := idx.byPool[pool.Address()]
		if !ok {
			slot = make(map[common.Hash]*SwapPath)
			idx.byPool[pool.Address()] = slot
		}
		slot[path.Key()] = path
	}
}

// PoolPaths returns every enabled path through the pool.
func (idx *SwapPathIndex) PoolPaths(addr common.Address) []*SwapPath {
	slot, ok := idx.byPool[addr]
	if !ok {
		return nil
	}
	out := make([]*SwapPath, 0, len(slot))
	for _, path := range slot {
		if !path.Disabled {
			out = append(out, path)
		}
	}
	return out
}

// AllPoolPaths returns every path through the pool, disabled included.
func (idx *SwapPathIndex) AllPoolPaths(addr common.Address) []*SwapPath {
	slot, ok := idx.byPool[addr]
	if !ok {
		return nil
	}
	out := make([]*SwapPath, 0, len(slot))
	for _, path := range slot {
		out = append(out, path)
	}
	return out
}

// DisablePool flips the disabled flag on every path through the pool,
// replacing each path so both views observe the change.
func (idx *SwapPathIndex) DisablePool(addr common.Address, disabled bool) {
	slot, ok := idx.byPool[addr]
	if !ok {
		return
	}
	for _, path := range slot {
		updated := *path
		updated.Disabled = disabled
		idx.replace(&updated)
	}
}

// Contains reports whether the identity is indexed.
func (idx *SwapPathIndex) Contains(path *SwapPath) bool {
	_, ok := idx.paths[path.Key()]
	return ok
}
