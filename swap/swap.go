// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package swap

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/luxfi/backrun/market"
	"github.com/luxfi/backrun/state"
)

// Swap is the unit the composer encodes: one line, a flash-step pair, or
// several pool-disjoint swaps executed atomically.
type Swap interface {
	// Pools returns every pool the swap touches.
	Pools() []common.Address
	// Profit returns the simulated profit in the anchor token.
	Profit() *uint256.Int
	// GasUsed returns the accumulated simulation gas.
	GasUsed() uint64
	fmt.Stringer
}

// BackrunSwapLine is a single cyclic line.
type BackrunSwapLine struct {
	Line *SwapLine
}

// Pools implements Swap.
func (s *BackrunSwapLine) Pools() []common.Address {
	out := make([]common.Address, 0, len(s.Line.Path.Pools))
	for _, p := range s.Line.Path.Pools {
		out = append(out, p.Address())
	}
	return out
}

// Profit implements Swap.
func (s *BackrunSwapLine) Profit() *uint256.Int {
	profit, _ := s.Line.Profit()
	if profit == nil {
		profit = new(uint256.Int)
	}
	return profit
}

// GasUsed implements Swap.
func (s *BackrunSwapLine) GasUsed() uint64 { return s.Line.GasUsed }

func (s *BackrunSwapLine) String() string { return s.Line.String() }

// BackrunSwapSteps is a flash-swap pair: the first step borrows, both
// execute inside the callback.
type BackrunSwapSteps struct {
	First  *SwapStep
	Second *SwapStep
}

// Pools implements Swap.
func (s *BackrunSwapSteps) Pools() []common.Address {
	seen := make(map[common.Address]struct{})
	var out []common.Address
	for _, step := range []*SwapStep{s.First, s.Second} {
		for _, line := range step.Lines {
			for _, p := range line.Path.Pools {
				if _, ok := seen[p.Address()]; !ok {
					seen[p.Address()] = struct{}{}
					out = append(out, p.Address())
				}
			}
		}
	}
	return out
}

// Profit implements Swap.
func (s *BackrunSwapSteps) Profit() *uint256.Int {
	total := new(uint256.Int)
	for _, step := range []*SwapStep{s.First, s.Second} {
		p, ok := step.Profit()
		if ok {
			total.Add(total, p)
		}
	}
	return total
}

// GasUsed implements Swap.
func (s *BackrunSwapSteps) GasUsed() uint64 {
	return s.First.GasUsed() + s.Second.GasUsed()
}

func (s *BackrunSwapSteps) String() string {
	return fmt.Sprintf("SwapSteps{%v | %v}", s.First, s.Second)
}

// Multiple is several pool-disjoint swaps submitted as one multicall;
// post-states apply sequentially.
type Multiple struct {
	Swaps []Swap
}

// Pools implements Swap.
func (s *Multiple) Pools() []common.Address {
	var out []common.Address
	for _, sub := range s.Swaps {
		out = append(out, sub.Pools()...)
	}
	return out
}

// Profit implements Swap.
func (s *Multiple) Profit() *uint256.Int {
	total := new(uint256.Int)
	for _, sub := range s.Swaps {
		total.Add(total, sub.Profit())
	}
	return total
}

// GasUsed implements Swap.
func (s *Multiple) GasUsed() uint64 {
	var total uint64
	for _, sub := range s.Swaps {
		total += sub.GasUsed()
	}
	return total
}

func (s *Multiple) String() string {
	return fmt.Sprintf("Multiple(%d)", len(s.Swaps))
}

// Disjoint reports whether the two swaps share no pool.
func Disjoint(a, b Swap) bool {
	seen := make(map[common.Address]struct{})
	for _, p := range a.Pools() {
		seen[p] = struct{}{}
	}
	for _, p := range b.Pools() {
		if _, ok := seen[p]; ok {
			return false
		}
	}
	return true
}

// Recalculate reprices a swap against db, returning the updated profit.
// Multiple members are repriced in order against the same db; nothing is
// written back, so a member does not see the earlier members' post-state.
func Recalculate(s Swap, db state.Reader, env *market.Env) (*uint256.Int, error) {
	switch v := s.(type) {
	case *BackrunSwapLine:
		out, gas, err := v.Line.CalculateWithInAmount(db, env, v.Line.AmountIn)
		if err != nil {
			return nil, err
		}
		v.Line.AmountOut = out
		v.Line.GasUsed = gas
		return v.Profit(), nil
	case *BackrunSwapSteps:
		if err := v.First.Recalculate(db, env); err != nil {
			return nil, err
		}
		if err := v.Second.Recalculate(db, env); err != nil {
			return nil, err
		}
		return v.Profit(), nil
	case *Multiple:
		total := new(uint256.Int)
		for _, sub := range v.Swaps {
			p, err := Recalculate(sub, db, env)
			if err != nil {
				return nil, err
			}
			total.Add(total, p)
		}
		return total, nil
	default:
		return nil, fmt.Errorf("unknown swap variant %T", s)
	}
}
