// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package swap

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/backrun/market"
	"github.com/luxfi/backrun/pools"
	"github.com/luxfi/backrun/state"
)

var (
	uniPair   = common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc")
	sushiPair = common.HexToAddress("0x397FF1542f962076d0BFE58eA045FfA2d347ACa0")
	usdc      = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
)

func eth(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000))
}

func fixtureLine(t *testing.T) (*SwapLine, *state.MarketDB) {
	t.Helper()
	weth, err := market.NewTokenWithData(market.WethAddress, "WETH", 18, true, true, true)
	require.NoError(t, err)
	usdcTok, err := market.NewTokenWithData(usdc, "USDC", 18, true, true, false)
	require.NoError(t, err)

	uni := pools.NewUniswapV2Pool(uniPair, common.Address{}, market.WethAddress, usdc, 0)
	sushi := pools.NewUniswapV2Pool(sushiPair, common.Address{}, market.WethAddress, usdc, 0)

	path := market.NewSwapPath(
		[]*market.Token{weth, usdcTok, weth},
		[]market.Pool{uni, sushi},
	)
	require.True(t, path.IsCyclic())

	db := state.NewMarketDB(nil)
	word := func(r0, r1 *uint256.Int) common.Hash {
		w := new(uint256.Int).Lsh(r1, 112)
		w.Or(w, r0)
		return w.Bytes32()
	}
	db.ApplyGethUpdate(state.GethStateUpdate{
		uniPair:   {Storage: map[common.Hash]common.Hash{uint256.NewInt(8).Bytes32(): word(eth(100), eth(300_000))}},
		sushiPair: {Storage: map[common.Hash]common.Hash{uint256.NewInt(8).Bytes32(): word(eth(100), eth(240_000))}},
	})
	return NewSwapLine(path), db
}

func TestCalculateWithInAmountChainsHops(t *testing.T) {
	require := require.New(t)
	line, db := fixtureLine(t)

	out, gas, err := line.CalculateWithInAmount(db, nil, eth(1))
	require.NoError(err)
	require.True(out.Cmp(eth(1)) > 0, "price gap yields profit")
	require.Equal(uint64(200_000), gas, "gas accumulates across both hops")
}

func TestProfitSemantics(t *testing.T) {
	require := require.New(t)
	line, _ := fixtureLine(t)

	// unpriced line has no profit
	_, ok := line.Profit()
	require.False(ok)

	line.AmountIn = eth(1)
	line.AmountOut = new(uint256.Int).Add(eth(1), uint256.NewInt(500))
	profit, ok := line.Profit()
	require.True(ok)
	require.Equal(uint64(500), profit.Uint64())

	// losses report non-positive
	line.AmountOut = new(uint256.Int).Sub(eth(1), uint256.NewInt(1))
	profit, ok = line.Profit()
	require.False(ok)
	require.True(profit.IsZero())

	// WETH anchor: profit converts 1:1 to wei
	line.AmountOut = new(uint256.Int).Add(eth(1), uint256.NewInt(500))
	require.Equal(uint64(500), line.ProfitEth().Uint64())
}

func TestRecalculateMultipleSums(t *testing.T) {
	require := require.New(t)
	lineA, db := fixtureLine(t)
	lineB, _ := fixtureLine(t)

	for _, l := range []*SwapLine{lineA, lineB} {
		l.AmountIn = eth(1)
	}
	multi := &Multiple{Swaps: []Swap{
		&BackrunSwapLine{Line: lineA},
		&BackrunSwapLine{Line: lineB},
	}}
	total, err := Recalculate(multi, db, nil)
	require.NoError(err)

	sum := new(uint256.Int).Add(lineA.mustProfit(t), lineB.mustProfit(t))
	require.Equal(sum, total)
}

func (l *SwapLine) mustProfit(t *testing.T) *uint256.Int {
	p, ok := l.Profit()
	require.True(t, ok)
	return p
}

func TestDisjointDetection(t *testing.T) {
	require := require.New(t)
	lineA, _ := fixtureLine(t)
	lineB, _ := fixtureLine(t)

	a := &BackrunSwapLine{Line: lineA}
	b := &BackrunSwapLine{Line: lineB}
	require.False(Disjoint(a, b), "same pools")
}

func TestMergeSwapPathsNeedsSharedFlashPool(t *testing.T) {
	require := require.New(t)
	lineA, _ := fixtureLine(t)
	lineB, _ := fixtureLine(t)
	lineA.AmountIn = eth(1)
	lineB.AmountIn = eth(1)

	steps, err := MergeSwapPaths(lineA, lineB)
	require.NoError(err, "V2 pairs are flash-capable")
	require.Equal(uniPair, steps.FlashSourceAddress())
}

func TestErrorCarriesFailingPool(t *testing.T) {
	require := require.New(t)
	line, db := fixtureLine(t)

	// zero out the second pool so the second hop fails
	db.ApplyGethUpdate(state.GethStateUpdate{
		sushiPair: {Storage: map[common.Hash]common.Hash{uint256.NewInt(8).Bytes32(): {}}},
	})
	_, _, err := line.CalculateWithInAmount(db, nil, eth(1))
	require.Error(err)

	var swapErr *Error
	require.ErrorAs(err, &swapErr)
	require.Equal(sushiPair, swapErr.Pool)
}
