// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package swap holds the priced swap shapes flowing from the searcher to
// the composer: single cyclic lines, flash-swap step pairs, and atomic
// combinations of disjoint lines.
package swap

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/backrun/market"
	"github.com/luxfi/backrun/state"
)

var (
	// ErrNotCyclic is returned when a line's path does not return to its
	// first token; only cyclic lines have a defined profit.
	ErrNotCyclic = errors.New("path is not cyclic")
	// ErrZeroAmount is returned for amount_in = 0; profit is defined as
	// zero and the line is never forwarded.
	ErrZeroAmount = errors.New("zero input amount")
)

// SwapLine is one concrete cyclic path with a chosen input amount and the
// resulting output.
type SwapLine struct {
	Path *market.SwapPath

	AmountIn  *uint256.Int
	AmountOut *uint256.Int
	GasUsed   uint64
}

// NewSwapLine wraps a path with no amounts chosen yet.
func NewSwapLine(path *market.SwapPath) *SwapLine {
	return &SwapLine{Path: path}
}

// Token returns the line's anchor token (first and, cyclically, last).
func (l *SwapLine) Token() *market.Token {
	return l.Path.Tokens[0]
}

// CalculateWithInAmount prices the whole path for amountIn, chaining each
// hop's output into the next hop's input. Gas accumulates across hops.
// The receiver is not mutated.
func (l *SwapLine) CalculateWithInAmount(db state.Reader, env *market.Env, amountIn *uint256.Int) (*uint256.Int, uint64, error) {
	if !l.Path.IsCyclic() {
		return nil, 0, ErrNotCyclic
	}
	if amountIn == nil || amountIn.IsZero() {
		return nil, 0, ErrZeroAmount
	}
	amount := new(uint256.Int).Set(amountIn)
	var gasTotal uint64
	for i, pool := range l.Path.Pools {
		tokenIn := l.Path.Tokens[i].Address()
		tokenOut := l.Path.Tokens[i+1].Address()
		out, gas, err := pool.CalculateOutAmount(db, env, tokenIn, tokenOut, amount)
		if err != nil {
			return nil, 0, &Error{Pool: pool.Address(), TokenIn: tokenIn, TokenOut: tokenOut, Amount: amount, Err: err}
		}
		if out.IsZero() {
			return nil, 0, &Error{Pool: pool.Address(), TokenIn: tokenIn, TokenOut: tokenOut, Amount: amount, Err: errors.New("zero output")}
		}
		amount = out
		gasTotal += gas
	}
	return amount, gasTotal, nil
}

// Profit returns amountOut - amountIn; ok is false when the line is
// unpriced or the subtraction underflows (a loss).
func (l *SwapLine) Profit() (*uint256.Int, bool) {
	if l.AmountIn == nil || l.AmountOut == nil {
		return nil, false
	}
	if l.AmountOut.Cmp(l.AmountIn) <= 0 {
		return new(uint256.Int), false
	}
	return new(uint256.Int).Sub(l.AmountOut, l.AmountIn), true
}

// ProfitEth converts the profit into wei via the anchor token's cached
// price; nil when the price is unknown.
func (l *SwapLine) ProfitEth() *uint256.Int {
	profit, ok := l.Profit()
	if !ok {
		return nil
	}
	return l.Token().ValueInEth(profit)
}

func (l *SwapLine) String() string {
	return fmt.Sprintf("SwapLine{%s in=%v out=%v gas=%d}", l.Path, l.AmountIn, l.AmountOut, l.GasUsed)
}

// Error wraps a deterministic pool-math failure with the failing hop, so
// the health monitor can dedup per (pool, reason).
type Error struct {
	Pool     common.Address
	TokenIn  common.Address
	TokenOut common.Address
	Amount   *uint256.Int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("swap %s->%s via %s: %v", e.TokenIn, e.TokenOut, e.Pool, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
