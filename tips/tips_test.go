// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package tips

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/backrun/config"
)

func wei(eth uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(eth), oneEther)
}

func TestDecayCurve(t *testing.T) {
	require := require.New(t)

	c := NewCurve(config.TipsConfig{
		StartPct: 9900,
		Curve: []config.TipsBreakPt{
			{ProfitEth: 50, Pct: 8000},
			{ProfitEth: 10, Pct: 9000},
		},
	})

	require.Equal(uint32(9900), c.PctFor(wei(1)))
	require.Equal(uint32(9900), c.PctFor(wei(9)))
	require.Equal(uint32(9000), c.PctFor(wei(10)), "first breakpoint crossed")
	require.Equal(uint32(9000), c.PctFor(wei(49)))
	require.Equal(uint32(8000), c.PctFor(wei(50)))
	require.Equal(uint32(8000), c.PctFor(wei(500)))
	require.Equal(uint32(9900), c.PctFor(nil))
}

func TestCurveClampsPercentages(t *testing.T) {
	require := require.New(t)

	c := NewCurve(config.TipsConfig{
		StartPct: 50_000,
		Curve:    []config.TipsBreakPt{{ProfitEth: 1, Pct: 30_000}},
	})
	require.Equal(uint32(10_000), c.StartPct())
	require.Equal(uint32(10_000), c.PctFor(wei(2)))
}
