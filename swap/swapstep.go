// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package swap

import (
	"errors"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/backrun/market"
	"github.com/luxfi/backrun/state"
)

// ErrNoSharedPool is returned when a flash merge is attempted on lines
// that share no pool.
var ErrNoSharedPool = errors.New("lines share no pool")

// SwapStep groups one or more lines that execute as a single flash-swap
// leg. The flash pool (when set) borrows the leg's input; repayment comes
// from the lines' combined output.
type SwapStep struct {
	Lines     []*SwapLine
	FlashPool market.Pool
}

// Profit sums line profits; ok is false when any line is unpriced.
func (s *SwapStep) Profit() (*uint256.Int, bool) {
	total := new(uint256.Int)
	for _, line := range s.Lines {
		p, ok := line.Profit()
		if !ok && p == nil {
			return nil, false
		}
		total.Add(total, p)
	}
	return total, true
}

// GasUsed accumulates line gas.
func (s *SwapStep) GasUsed() uint64 {
	var total uint64
	for _, line := range s.Lines {
		total += line.GasUsed
	}
	return total
}

// CanFlash reports whether the step can lead a flash leg.
func (s *SwapStep) CanFlash() bool {
	return s.FlashPool != nil && s.FlashPool.CanFlashSwap()
}

// Recalculate reprices each line with its current input amount.
func (s *SwapStep) Recalculate(db state.Reader, env *market.Env) error {
	for _, line := range s.Lines {
		out, gas, err := line.CalculateWithInAmount(db, env, line.AmountIn)
		if err != nil {
			return err
		}
		line.AmountOut = out
		line.GasUsed = gas
	}
	return nil
}

// sharedPool returns the first pool present in both paths, in a's order.
func sharedPool(a, b *SwapLine) (market.Pool, bool) {
	for _, p := range a.Path.Pools {
		if b.Path.ContainsPool(p.Address()) {
			return p, true
		}
	}
	return nil, false
}

// MergeSwapPaths combines two lines that share a pool into a flash pair:
// the shared pool becomes the flash source of the first step, and both
// lines execute inside its callback as the second step. The caller
// re-optimizes the pair and keeps it only if combined profit beats the
// parents.
func MergeSwapPaths(a, b *SwapLine) (*BackrunSwapSteps, error) {
	shared, ok := sharedPool(a, b)
	if !ok {
		return nil, ErrNoSharedPool
	}
	if !shared.CanFlashSwap() {
		return nil, ErrNoSharedPool
	}
	first := &SwapStep{Lines: []*SwapLine{cloneLine(a)}, FlashPool: shared}
	second := &SwapStep{Lines: []*SwapLine{cloneLine(b)}}
	return &BackrunSwapSteps{First: first, Second: second}, nil
}

func cloneLine(l *SwapLine) *SwapLine {
	cp := &SwapLine{Path: l.Path, GasUsed: l.GasUsed}
	if l.AmountIn != nil {
		cp.AmountIn = new(uint256.Int).Set(l.AmountIn)
	}
	if l.AmountOut != nil {
		cp.AmountOut = new(uint256.Int).Set(l.AmountOut)
	}
	return cp
}

// FlashSourceAddress returns the borrow pool of a step pair.
func (s *BackrunSwapSteps) FlashSourceAddress() common.Address {
	if s.First != nil && s.First.FlashPool != nil {
		return s.First.FlashPool.Address()
	}
	return common.Address{}
}
