// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package searcher

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/backrun/market"
	"github.com/luxfi/backrun/state"
	"github.com/luxfi/backrun/swap"
)

// buildLine returns the profitable WETH cycle of the two-pool fixture.
func buildLine(t *testing.T) (*swap.SwapLine, *state.MarketDB) {
	t.Helper()
	mkt, db, _ := twoPoolFixture(t)
	uni := mkt.Pool(uniPair)
	paths := mkt.PoolPaths(uniPair)
	require.NotEmpty(t, paths)
	for _, p := range paths {
		if p.Tokens[0].Address() == market.WethAddress {
			// orient: first hop must go through the expensive pool
			if p.Pools[0].Address() == uni.Address() {
				return swap.NewSwapLine(p), db
			}
		}
	}
	t.Fatal("fixture path not found")
	return nil, nil
}

func TestOptimizeConverges(t *testing.T) {
	require := require.New(t)
	line, db := buildLine(t)

	calc := &Calculator{MaxInput: eth(100)}
	require.NoError(calc.Optimize(line, db, nil))

	profit, positive := line.Profit()
	require.True(positive)
	require.True(profit.Sign() > 0)

	// the optimum beats both a much smaller and a much larger input
	for _, probe := range []*uint256.Int{eth(1), eth(50)} {
		out, _, err := line.CalculateWithInAmount(db, nil, probe)
		require.NoError(err)
		probeProfit := new(uint256.Int)
		if out.Cmp(probe) > 0 {
			probeProfit.Sub(out, probe)
		}
		require.True(profit.Cmp(probeProfit) >= 0, "optimum %v beaten by probe %v", line.AmountIn, probe)
	}
}

func TestOptimizeDeterministic(t *testing.T) {
	require := require.New(t)

	line1, db := buildLine(t)
	calc := &Calculator{MaxInput: eth(100)}
	require.NoError(calc.Optimize(line1, db, nil))

	line2, _ := buildLine(t)
	require.NoError(calc.Optimize(line2, db, nil))

	require.Equal(line1.AmountIn, line2.AmountIn, "same input, bit-identical result")
	require.Equal(line1.AmountOut, line2.AmountOut)
}

func TestOptimizeRejectsEmptyBracket(t *testing.T) {
	line, db := buildLine(t)
	calc := &Calculator{MaxInput: new(uint256.Int)}
	require.ErrorIs(t, calc.Optimize(line, db, nil), swap.ErrZeroAmount)
}

func TestZeroAmountNeverForwarded(t *testing.T) {
	require := require.New(t)
	line, db := buildLine(t)

	_, _, err := line.CalculateWithInAmount(db, nil, new(uint256.Int))
	require.ErrorIs(err, swap.ErrZeroAmount)
}

func TestBestSwapComposeBands(t *testing.T) {
	require := require.New(t)
	best := NewBestSwapCompose(9000)

	// first candidate always passes
	require.True(best.Check(uint256.NewInt(1000), uint256.NewInt(500), 100_000))

	// clearly worse on all four criteria: rejected
	require.False(best.Check(uint256.NewInt(100), uint256.NewInt(50), 100_000))

	// within the 10% band on profit: still passes
	require.True(best.Check(uint256.NewInt(950), uint256.NewInt(1), 100_000))

	// better profit/gas at lower absolute profit: passes
	require.True(best.Check(uint256.NewInt(500), uint256.NewInt(250), 10_000))
}
