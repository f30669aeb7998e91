// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package searcher

import (
	"github.com/holiman/uint256"
)

// BestSwapCompose gates candidates within one event: a candidate is
// forwarded only when it improves any of four criteria — absolute
// profit, tip total, tips/gas, profit/gas — beyond a validity band.
type BestSwapCompose struct {
	// bandPct scales incumbents before comparison; 9000 means "beat 90%
	// of the best seen so far".
	bandPct *uint256.Int

	profit    *uint256.Int
	tips      *uint256.Int
	tipsGas   *uint256.Int
	profitGas *uint256.Int
}

// NewBestSwapCompose returns a tracker with the given band (per 10_000).
func NewBestSwapCompose(bandPct uint64) *BestSwapCompose {
	return &BestSwapCompose{
		bandPct:   uint256.NewInt(bandPct),
		profit:    new(uint256.Int),
		tips:      new(uint256.Int),
		tipsGas:   new(uint256.Int),
		profitGas: new(uint256.Int),
	}
}

// perGas returns v per unit of gas scaled by 1e18, so values smaller than
// the gas amount keep their precision.
func perGas(v *uint256.Int, gas uint64) *uint256.Int {
	if gas == 0 {
		return new(uint256.Int)
	}
	scaled := new(uint256.Int).Mul(v, uint256.NewInt(1e18))
	return scaled.Div(scaled, uint256.NewInt(gas))
}

func (b *BestSwapCompose) banded(v *uint256.Int) *uint256.Int {
	out := new(uint256.Int).Mul(v, b.bandPct)
	return out.Div(out, uint256.NewInt(10_000))
}

// Check reports whether the candidate improves any tracked criterion and
// updates the incumbents it beats outright.
func (b *BestSwapCompose) Check(profit, tips *uint256.Int, gas uint64) bool {
	profitGas := perGas(profit, gas)
	tipsGas := perGas(tips, gas)

	improves := profit.Cmp(b.banded(b.profit)) > 0 ||
		tips.Cmp(b.banded(b.tips)) > 0 ||
		tipsGas.Cmp(b.banded(b.tipsGas)) > 0 ||
		profitGas.Cmp(b.banded(b.profitGas)) > 0

	if profit.Cmp(b.profit) > 0 {
		b.profit.Set(profit)
	}
	if tips.Cmp(b.tips) > 0 {
		b.tips.Set(tips)
	}
	if tipsGas.Cmp(b.tipsGas) > 0 {
		b.tipsGas.Set(tipsGas)
	}
	if profitGas.Cmp(b.profitGas) > 0 {
		b.profitGas.Set(profitGas)
	}
	return improves
}
