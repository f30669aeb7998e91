// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pools

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/backrun/market"
	"github.com/luxfi/backrun/state"
)

var (
	testPair   = common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc")
	testWeth   = market.WethAddress
	testUsdc   = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	testTokenX = common.HexToAddress("0x0000000000000000000000000000000000001111")
)

// seedV2 writes a packed reserves word into a fresh DB.
func seedV2(t *testing.T, pool *UniswapV2Pool, reserve0, reserve1 uint64) *state.MarketDB {
	t.Helper()
	db := state.NewMarketDB(nil)
	word := new(uint256.Int).Lsh(uint256.NewInt(reserve1), 112)
	word.Or(word, uint256.NewInt(reserve0))
	db.ApplyGethUpdate(state.GethStateUpdate{
		pool.Address(): {Storage: map[common.Hash]common.Hash{
			u64Slot(univ2ReservesSlot): word.Bytes32(),
		}},
	})
	return db
}

func TestV2OutAmountMatchesClosedForm(t *testing.T) {
	require := require.New(t)
	pool := NewUniswapV2Pool(testPair, common.Address{}, testWeth, testUsdc, 0)
	db := seedV2(t, pool, 1_000_000_000, 2_000_000_000)

	out, gas, err := pool.CalculateOutAmount(db, nil, testWeth, testUsdc, uint256.NewInt(1_000_000))
	require.NoError(err)
	require.NotZero(gas)

	// 997 * 1e6 * 2e9 / (1e9*1000 + 997*1e6)
	require.Equal(uint64(1_992_013), out.Uint64())
}

func TestV2InAmountInvertsOutAmount(t *testing.T) {
	require := require.New(t)
	pool := NewUniswapV2Pool(testPair, common.Address{}, testWeth, testUsdc, 0)
	db := seedV2(t, pool, 1_000_000_000, 2_000_000_000)

	out, _, err := pool.CalculateOutAmount(db, nil, testWeth, testUsdc, uint256.NewInt(5_000_000))
	require.NoError(err)

	in, _, err := pool.CalculateInAmount(db, nil, testWeth, testUsdc, out)
	require.NoError(err)
	// getAmountIn rounds up, so the inverse is within one unit above
	require.LessOrEqual(in.Uint64()-5_000_000, uint64(1))
}

func TestV2DirectionOrientation(t *testing.T) {
	require := require.New(t)
	pool := NewUniswapV2Pool(testPair, common.Address{}, testWeth, testUsdc, 0)
	db := seedV2(t, pool, 1_000_000, 4_000_000_000)

	// reverse direction uses the mirrored reserves
	outFwd, _, err := pool.CalculateOutAmount(db, nil, testWeth, testUsdc, uint256.NewInt(1000))
	require.NoError(err)
	outRev, _, err := pool.CalculateOutAmount(db, nil, testUsdc, testWeth, uint256.NewInt(1000))
	require.NoError(err)
	require.True(outFwd.Cmp(outRev) > 0)

	_, _, err = pool.CalculateOutAmount(db, nil, testWeth, testTokenX, uint256.NewInt(1000))
	require.ErrorIs(err, ErrWrongDirection)
}

func TestV2EmptyReservesFail(t *testing.T) {
	pool := NewUniswapV2Pool(testPair, common.Address{}, testWeth, testUsdc, 0)
	db := seedV2(t, pool, 0, 0)

	_, _, err := pool.CalculateOutAmount(db, nil, testWeth, testUsdc, uint256.NewInt(1000))
	require.ErrorIs(t, err, ErrInsufficientLiquidity)
}

func TestMatchPoolClass(t *testing.T) {
	require := require.New(t)

	v2code := append([]byte{0x60, 0x80}, sigV2Token0[:]...)
	v2code = append(v2code, sigV2Token1[:]...)
	v2code = append(v2code, sigV2GetReserves[:]...)
	v2code = append(v2code, sigV2SwapFn[:]...)
	require.Equal(market.PoolClassUniswapV2, MatchPoolClass(v2code))

	v3code := append([]byte{0x60, 0x80}, sigV3Slot0[:]...)
	v3code = append(v3code, sigV3Liquidity[:]...)
	v3code = append(v3code, sigV3TickBitmap[:]...)
	require.Equal(market.PoolClassUniswapV3, MatchPoolClass(v3code))

	require.Equal(market.PoolClassUnknown, MatchPoolClass([]byte{0xde, 0xad}))
	require.Equal(market.PoolClassUnknown, MatchPoolClass(nil))
}
