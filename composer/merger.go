// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package composer

import (
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"

	"github.com/luxfi/backrun/event"
	"github.com/luxfi/backrun/market"
	"github.com/luxfi/backrun/state"
	"github.com/luxfi/backrun/swap"
)

// mergeOverheadGas is the batching overhead a merge must pay for before
// it beats its parents.
const mergeOverheadGas = 30_000

// pathKeyOf renders a swap's identity for same-path dedup: the ordered
// pool tuple.
func pathKeyOf(s swap.Swap) string {
	key := make([]byte, 0, 20*4)
	for _, p := range s.Pools() {
		key = append(key, p.Bytes()...)
	}
	return string(key)
}

// Merger implements the three merge strategies over a window of routed
// candidates targeting one block.
type Merger struct {
	targetBlock uint64

	// bestByPath keeps the best candidate per ordered path (SamePath).
	bestByPath map[string]*event.Compose
	// window holds candidates eligible for cross-merging.
	window []*event.Compose
}

// NewMerger opens a window for one target block.
func NewMerger(targetBlock uint64) *Merger {
	return &Merger{
		targetBlock: targetBlock,
		bestByPath:  make(map[string]*event.Compose),
	}
}

// TargetBlock returns the block this window composes for.
func (m *Merger) TargetBlock() uint64 { return m.targetBlock }

// AddRoute applies SamePath dedup: the candidate is kept only when no
// better candidate over the same ordered path is already windowed.
func (m *Merger) AddRoute(c *event.Compose) bool {
	key := pathKeyOf(c.Swap)
	if prev, ok := m.bestByPath[key]; ok {
		if prev.Swap.Profit().Cmp(c.Swap.Profit()) >= 0 {
			return false
		}
	}
	m.bestByPath[key] = c
	m.window = append(m.window, c)
	return true
}

// profitableMerge verifies the merge invariant: combined simulated
// profit must not fall short of the parents' sum minus the overhead
// allowance.
func profitableMerge(merged *uint256.Int, parents []*uint256.Int, baseFee *uint256.Int) bool {
	sum := new(uint256.Int)
	for _, p := range parents {
		sum.Add(sum, p)
	}
	allowance := new(uint256.Int).Mul(baseFee, uint256.NewInt(mergeOverheadGas))
	if sum.Cmp(allowance) <= 0 {
		return merged.Sign() > 0
	}
	sum.Sub(sum, allowance)
	return merged.Cmp(sum) >= 0
}

// MergeDisjoint pairs the candidate with every windowed candidate that
// shares no pool, concatenating them into a Multiple whose post-states
// apply sequentially. The best passing combination is returned, nil when
// none.
func (m *Merger) MergeDisjoint(c *event.Compose, db state.Reader, env *market.Env) *event.Compose {
	var best *event.Compose
	var bestProfit *uint256.Int
	for _, other := range m.window {
		if other == c || !swap.Disjoint(other.Swap, c.Swap) {
			continue
		}
		combined := &swap.Multiple{Swaps: []swap.Swap{other.Swap, c.Swap}}
		profit, err := swap.Recalculate(combined, db, env)
		if err != nil {
			continue
		}
		if !profitableMerge(profit, []*uint256.Int{other.Swap.Profit(), c.Swap.Profit()}, c.NextBaseFee) {
			continue
		}
		if bestProfit == nil || profit.Cmp(bestProfit) > 0 {
			merged := c.WithKind(c.Kind)
			merged.Swap = combined
			merged.Gas = other.Gas + c.Gas
			merged.StuffingTxs = concatTxs(other, c)
			merged.StuffingTxHashes = concatHashes(other, c)
			best = merged
			bestProfit = profit
		}
	}
	return best
}

// MergeSharedPool tries the flash-swap merge with every windowed
// candidate sharing a pool, re-optimizing the combined steps.
func (m *Merger) MergeSharedPool(c *event.Compose, db state.Reader, env *market.Env) *event.Compose {
	line, ok := c.Swap.(*swap.BackrunSwapLine)
	if !ok {
		return nil
	}
	for _, other := range m.window {
		if other == c {
			continue
		}
		otherLine, ok := other.Swap.(*swap.BackrunSwapLine)
		if !ok || swap.Disjoint(other.Swap, c.Swap) {
			continue
		}
		steps, err := swap.MergeSwapPaths(otherLine.Line, line.Line)
		if err != nil {
			continue
		}
		profit, err := optimizeSwapSteps(steps, db, env)
		if err != nil {
			continue
		}
		if !profitableMerge(profit, []*uint256.Int{other.Swap.Profit(), c.Swap.Profit()}, c.NextBaseFee) {
			continue
		}
		merged := c.WithKind(c.Kind)
		merged.Swap = steps
		merged.Gas = steps.GasUsed()
		merged.StuffingTxs = concatTxs(other, c)
		merged.StuffingTxHashes = concatHashes(other, c)
		return merged
	}
	return nil
}

// optimizeSwapSteps reprices a flash pair, ternary-searching the flash
// leg's borrow amount around its current optimum.
func optimizeSwapSteps(steps *swap.BackrunSwapSteps, db state.Reader, env *market.Env) (*uint256.Int, error) {
	lead := steps.First.Lines[0]
	base := new(uint256.Int).Set(lead.AmountIn)

	bestProfit := new(uint256.Int)
	bestAmount := new(uint256.Int).Set(base)
	// bracket ±50% around the parent optimum, arithmetic midpoints
	lo := new(uint256.Int).Div(base, uint256.NewInt(2))
	hi := new(uint256.Int).Mul(base, uint256.NewInt(3))
	hi.Div(hi, uint256.NewInt(2))
	if lo.IsZero() {
		lo = uint256.NewInt(1)
	}

	for i := 0; i < 12; i++ {
		width := new(uint256.Int).Sub(hi, lo)
		width.Mul(width, uint256.NewInt(10_000))
		if width.Cmp(lo) < 0 {
			break
		}
		mid := new(uint256.Int).Add(lo, hi)
		mid.Rsh(mid, 1)
		m1 := new(uint256.Int).Add(lo, mid)
		m1.Rsh(m1, 1)
		m2 := new(uint256.Int).Add(mid, hi)
		m2.Rsh(m2, 1)

		p1, err := stepsProfitAt(steps, db, env, m1)
		if err != nil {
			return nil, err
		}
		p2, err := stepsProfitAt(steps, db, env, m2)
		if err != nil {
			return nil, err
		}
		if p1.Cmp(p2) >= 0 {
			hi = m2
			if p1.Cmp(bestProfit) > 0 {
				bestProfit.Set(p1)
				bestAmount.Set(m1)
			}
		} else {
			lo = m1
			if p2.Cmp(bestProfit) > 0 {
				bestProfit.Set(p2)
				bestAmount.Set(m2)
			}
		}
	}

	lead.AmountIn = bestAmount
	if err := steps.First.Recalculate(db, env); err != nil {
		return nil, err
	}
	if err := steps.Second.Recalculate(db, env); err != nil {
		return nil, err
	}
	return steps.Profit(), nil
}

func stepsProfitAt(steps *swap.BackrunSwapSteps, db state.Reader, env *market.Env, amount *uint256.Int) (*uint256.Int, error) {
	lead := steps.First.Lines[0]
	saved := lead.AmountIn
	lead.AmountIn = amount
	defer func() { lead.AmountIn = saved }()
	if err := steps.First.Recalculate(db, env); err != nil {
		return nil, err
	}
	return steps.Profit(), nil
}

func concatTxs(a, b *event.Compose) []*types.Transaction {
	seen := make(map[common.Hash]struct{})
	var out []*types.Transaction
	for _, c := range []*event.Compose{a, b} {
		for _, tx := range c.StuffingTxs {
			if _, ok := seen[tx.Hash()]; !ok {
				seen[tx.Hash()] = struct{}{}
				out = append(out, tx)
			}
		}
	}
	return out
}

func concatHashes(a, b *event.Compose) []common.Hash {
	seen := make(map[common.Hash]struct{})
	var out []common.Hash
	for _, c := range []*event.Compose{a, b} {
		for _, h := range c.StuffingTxHashes {
			if _, ok := seen[h]; !ok {
				seen[h] = struct{}{}
				out = append(out, h)
			}
		}
	}
	return out
}
