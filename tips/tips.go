// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package tips models the proposer-tip percentage as a step-down curve
// over expected profit: small wins share aggressively, large wins keep
// more.
package tips

import (
	"sort"

	"github.com/holiman/uint256"

	"github.com/luxfi/backrun/config"
)

var oneEther = uint256.NewInt(1_000_000_000_000_000_000)

// Curve resolves a tips percentage (per 10_000) for a profit amount.
type Curve struct {
	startPct uint32
	// breakpoints sorted ascending by threshold (wei).
	thresholds []*uint256.Int
	pcts       []uint32
}

// NewCurve compiles the configured decay curve; every pct is clamped to
// [0, 10_000].
func NewCurve(cfg config.TipsConfig) *Curve {
	c := &Curve{startPct: clamp(cfg.StartPct)}
	points := append([]config.TipsBreakPt(nil), cfg.Curve...)
	sort.Slice(points, func(i, j int) bool { return points[i].ProfitEth < points[j].ProfitEth })
	for _, p := range points {
		threshold := new(uint256.Int).Mul(uint256.NewInt(p.ProfitEth), oneEther)
		c.thresholds = append(c.thresholds, threshold)
		c.pcts = append(c.pcts, clamp(p.Pct))
	}
	return c
}

func clamp(pct uint32) uint32 {
	if pct > 10_000 {
		return 10_000
	}
	return pct
}

// PctFor returns the percentage for a profit in wei: the start pct until
// the first breakpoint, then each breakpoint's pct once crossed.
func (c *Curve) PctFor(profitWei *uint256.Int) uint32 {
	pct := c.startPct
	if profitWei == nil {
		return pct
	}
	for i, threshold := range c.thresholds {
		if profitWei.Cmp(threshold) >= 0 {
			pct = c.pcts[i]
		}
	}
	return pct
}

// StartPct returns the base percentage.
func (c *Curve) StartPct() uint32 { return c.startPct }
