// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pools

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/backrun/state"
)

var testV3Pool = common.HexToAddress("0x8ad599c3A0ff1De082011EFDDc58f1908eb6e6D8")

// seedV3 prepares slot0, liquidity and zeroed bitmap words around tick 0.
func seedV3(t *testing.T, pool *UniswapV3Pool, sqrtPrice *uint256.Int, tick int32, liquidity uint64) *state.MarketDB {
	t.Helper()
	db := state.NewMarketDB(nil)

	slot0 := new(uint256.Int).Set(sqrtPrice)
	tickWord := new(uint256.Int)
	if tick < 0 {
		tickWord.SetUint64(uint64(uint32(tick)) & 0xffffff)
	} else {
		tickWord.SetUint64(uint64(tick))
	}
	slot0.Or(slot0, new(uint256.Int).Lsh(tickWord, 160))

	storage := map[common.Hash]common.Hash{
		u64Slot(univ3Slot0):     slot0.Bytes32(),
		u64Slot(univ3Liquidity): uint256.NewInt(liquidity).Bytes32(),
	}
	for w := int16(-8); w <= 8; w++ {
		storage[mappingSlot(int16Key(w), u64Slot(univ3BitmapSlot))] = common.Hash{}
	}
	db.ApplyGethUpdate(state.GethStateUpdate{pool.Address(): {Storage: storage}})
	return db
}

func TestSqrtRatioAtTickAnchors(t *testing.T) {
	require := require.New(t)

	atZero, err := sqrtRatioAtTick(0)
	require.NoError(err)
	require.Equal(q96, atZero, "tick 0 is price 1.0 in Q64.96")

	atMin, err := sqrtRatioAtTick(minTick)
	require.NoError(err)
	require.Equal(minSqrtRatio, atMin)

	up, err := sqrtRatioAtTick(100)
	require.NoError(err)
	down, err := sqrtRatioAtTick(-100)
	require.NoError(err)
	require.True(up.Cmp(q96) > 0)
	require.True(down.Cmp(q96) < 0)

	_, err = sqrtRatioAtTick(maxTick + 1)
	require.ErrorIs(err, ErrTickOutOfRange)
}

func TestV3SwapWithinTick(t *testing.T) {
	require := require.New(t)
	pool := NewUniswapV3Pool(testV3Pool, common.Address{}, testWeth, testUsdc, 3000, 60)
	// price 1.0, deep liquidity: output tracks input minus the 0.30% fee
	db := seedV3(t, pool, q96, 0, 1_000_000_000_000_000_000)

	in := uint256.NewInt(1_000_000_000)
	out, gas, err := pool.CalculateOutAmount(db, nil, testWeth, testUsdc, in)
	require.NoError(err)
	require.NotZero(gas)

	// fee bound above, fee plus slippage below
	require.True(out.CmpUint64(997_000_000) <= 0, "out=%v", out)
	require.True(out.CmpUint64(990_000_000) > 0, "out=%v", out)
}

func TestV3ZeroSqrtPriceFails(t *testing.T) {
	pool := NewUniswapV3Pool(testV3Pool, common.Address{}, testWeth, testUsdc, 3000, 60)
	db := seedV3(t, pool, new(uint256.Int), 0, 1_000_000)

	_, _, err := pool.CalculateOutAmount(db, nil, testWeth, testUsdc, uint256.NewInt(1000))
	require.ErrorIs(t, err, ErrSqrtPriceOutOfRange)
}

func TestV3DirectionMovesPriceBothWays(t *testing.T) {
	require := require.New(t)
	pool := NewUniswapV3Pool(testV3Pool, common.Address{}, testWeth, testUsdc, 3000, 60)
	db := seedV3(t, pool, q96, 0, 1_000_000_000_000_000_000)

	in := uint256.NewInt(1_000_000_000)
	out01, _, err := pool.CalculateOutAmount(db, nil, testWeth, testUsdc, in)
	require.NoError(err)
	out10, _, err := pool.CalculateOutAmount(db, nil, testUsdc, testWeth, in)
	require.NoError(err)

	// at price 1.0 both directions quote symmetrically
	diff := new(uint256.Int)
	if out01.Cmp(out10) > 0 {
		diff.Sub(out01, out10)
	} else {
		diff.Sub(out10, out01)
	}
	require.True(diff.CmpUint64(1000) < 0, "01=%v 10=%v", out01, out10)
}

func TestV3ReadOnlyCellsCoverObservations(t *testing.T) {
	pool := NewUniswapV3Pool(testV3Pool, common.Address{}, testWeth, testUsdc, 3000, 60)
	require.Contains(t, pool.ReadOnlyCells(), u64Slot(univ3ObservationsSlot))
}

func TestMulDivHelpers(t *testing.T) {
	require := require.New(t)

	a := uint256.NewInt(10)
	b := uint256.NewInt(10)
	d := uint256.NewInt(3)
	require.Equal(uint64(33), mulDiv(a, b, d).Uint64())
	require.Equal(uint64(34), mulDivRoundingUp(a, b, d).Uint64())
	require.Equal(uint64(4), divRoundingUp(uint256.NewInt(10), uint256.NewInt(3)).Uint64())

	// full 512-bit intermediate: (2^200 * 2^100) / 2^250 = 2^50
	x := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	y := new(uint256.Int).Lsh(uint256.NewInt(1), 100)
	z := new(uint256.Int).Lsh(uint256.NewInt(1), 250)
	require.Equal(new(uint256.Int).Lsh(uint256.NewInt(1), 50), mulDiv(x, y, z))
}

func TestBitHelpers(t *testing.T) {
	require := require.New(t)
	v := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	v.Or(v, uint256.NewInt(1<<9))
	require.Equal(uint(200), mostSignificantBit(v))
	require.Equal(uint(9), leastSignificantBit(v))

	require.Equal(int32(-1), floorDiv(-10, 60))
	require.Equal(int32(0), floorDiv(10, 60))
	require.Equal(int32(-2), floorDiv(-61, 60))
}
