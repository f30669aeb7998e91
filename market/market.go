// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package market

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/log"
)

// MaxHops bounds cyclic path enumeration; mainnet profit beyond four hops
// does not survive gas.
const MaxHops = 4

// ErrPoolAlreadyExists is returned when a pool address is registered twice.
var ErrPoolAlreadyExists = errors.New("pool already exists")

// Market is the shared market graph. All access goes through one RWMutex;
// write critical sections never perform I/O.
type Market struct {
	mu sync.RWMutex

	tokens map[common.Address]*Token
	pools  map[common.Address]Pool
	// tokenPools is the adjacency view: token -> pools pricing it.
	tokenPools map[common.Address][]Pool
	paths      *SwapPathIndex
	disabled   mapset.Set[common.Address]

	maxHops int
}

// NewMarket returns an empty graph with the default hop bound.
func NewMarket() *Market {
	return &Market{
		tokens:     make(map[common.Address]*Token),
		pools:      make(map[common.Address]Pool),
		tokenPools: make(map[common.Address][]Pool),
		paths:      NewSwapPathIndex(),
		disabled:   mapset.NewSet[common.Address](),
		maxHops:    MaxHops,
	}
}

// SetMaxHops overrides the enumeration depth (config `max_hops`).
func (m *Market) SetMaxHops(hops int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hops >= 2 {
		m.maxHops = hops
	}
}

// AddToken registers a token, merging hint fields when the address is
// already known. Idempotent by address.
func (m *Market) AddToken(token *Token) *Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.tokens[token.Address()]; ok {
		existing.merge(token)
		return existing
	}
	m.tokens[token.Address()] = token
	return token
}

// Token returns the registered token, or a bare record for an unknown
// address.
func (m *Market) Token(addr common.Address) *Token {
	m.mu.RLock()
	if t, ok := m.tokens[addr]; ok {
		m.mu.RUnlock()
		return t
	}
	m.mu.RUnlock()
	return m.AddToken(NewToken(addr))
}

// AddPool registers a pool, failing if the address is taken.
func (m *Market) AddPool(pool Pool) (Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr := pool.Address()
	if _, ok := m.pools[addr]; ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolAlreadyExists, addr)
	}
	m.pools[addr] = pool
	for _, token := range pool.Tokens() {
		m.tokenPools[token] = append(m.tokenPools[token], pool)
	}
	log.Debug("Pool added to market", "pool", addr, "class", pool.Class())
	return pool, nil
}

// Pool returns the registered pool for addr, nil when unknown.
func (m *Market) Pool(addr common.Address) Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pools[addr]
}

// IsPool reports whether addr is a registered pool.
func (m *Market) IsPool(addr common.Address) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.pools[addr]
	return ok
}

// PoolCount returns the number of registered pools.
func (m *Market) PoolCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pools)
}

// DisablePool marks a pool (un)healthy and flips every path through it.
func (m *Market) DisablePool(addr common.Address, disabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if disabled {
		m.disabled.Add(addr)
	} else {
		m.disabled.Remove(addr)
	}
	m.paths.DisablePool(addr, disabled)
	log.Info("Pool health changed", "pool", addr, "disabled", disabled)
}

// IsPoolOk reports whether the pool is healthy.
func (m *Market) IsPoolOk(addr common.Address) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.disabled.Contains(addr)
}

// PoolPaths returns the enabled precomputed paths through a pool.
func (m *Market) PoolPaths(addr common.Address) []*SwapPath {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths.PoolPaths(addr)
}

// PathCount returns the size of the master index.
func (m *Market) PathCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths.Len()
}

// AddPaths indexes new paths, returning the ones actually added.
func (m *Market) AddPaths(paths []*SwapPath) []*SwapPath {
	m.mu.Lock()
	defer m.mu.Unlock()
	var added []*SwapPath
	for _, path := range paths {
		if m.paths.Add(path) {
			added = append(added, path)
		}
	}
	return added
}

// BuildSwapPaths enumerates cyclic paths for every seeded (pool,
// direction): each result starts and ends on the direction's input token,
// includes the seed hop, uses only healthy pools, revisits no pool, and
// has between 2 and maxHops hops. Results are deduplicated and ordered
// lexicographically by their pool-address tuple, so enumeration is
// deterministic.
func (m *Market) BuildSwapPaths(seeds map[common.Address][]SwapDirection) []*SwapPath {
	m.mu.RLock()
	defer m.mu.RUnlock()

	found := make(map[common.Hash]*SwapPath)
	for poolAddr, directions := range seeds {
		pool, ok := m.pools[poolAddr]
		if !ok || m.disabled.Contains(poolAddr) {
			continue
		}
		for _, dir := range directions {
			m.extendCycle(pool, dir, found)
		}
	}

	out := make([]*SwapPath, 0, len(found))
	for _, path := range found {
		out = append(out, path)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].poolAddressTuple() < out[j].poolAddressTuple()
	})
	return out
}

// extendCycle walks forward from the seed hop's output token until it
// returns to the anchor.
func (m *Market) extendCycle(seed Pool, dir SwapDirection, found map[common.Hash]*SwapPath) {
	anchor := dir.TokenIn
	tokens := []*Token{m.tokenLocked(dir.TokenIn), m.tokenLocked(dir.TokenOut)}
	pools := []Pool{seed}
	m.dfs(anchor, dir.TokenOut, tokens, pools, found)
}

func (m *Market) dfs(anchor, current common.Address, tokens []*Token, pools []Pool, found map[common.Hash]*SwapPath) {
	if current == anchor {
		// self-swaps (single-pool cycles) are rejected at enumeration time
		if len(pools) >= 2 {
			path := NewSwapPath(append([]*Token(nil), tokens...), append([]Pool(nil), pools...))
			found[path.Key()] = path
		}
		return
	}
	if len(pools) >= m.maxHops {
		return
	}

	candidates := append([]Pool(nil), m.tokenPools[current]...)
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Address().Cmp(candidates[j].Address()) < 0
	})

next:
	for _, pool := range candidates {
		if m.disabled.Contains(pool.Address()) {
			continue
		}
		for _, used := range pools {
			if used.Address() == pool.Address() {
				continue next
			}
		}
		for _, pdir := range pool.SwapDirections() {
			if pdir.TokenIn != current {
				continue
			}
			// intermediates must be middle-capable or the closing anchor
			if pdir.TokenOut != anchor {
				t, ok := m.tokens[pdir.TokenOut]
				if !ok || !(t.IsMiddle() || t.IsBasic()) {
					continue
				}
			}
			m.dfs(anchor, pdir.TokenOut,
				append(tokens, m.tokenLocked(pdir.TokenOut)),
				append(pools, pool), found)
		}
	}
}

// tokenLocked is Token without re-locking; callers hold at least the read
// lock.
func (m *Market) tokenLocked(addr common.Address) *Token {
	if t, ok := m.tokens[addr]; ok {
		return t
	}
	return NewToken(addr)
}
