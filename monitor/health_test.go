// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package monitor

import (
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/backrun/market"
	"github.com/luxfi/backrun/pools"
)

var (
	poolAddr = common.HexToAddress("0x8ad599c3A0ff1De082011EFDDc58f1908eb6e6D8")
	usdc     = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
)

func marketWithPool(t *testing.T) *market.Market {
	t.Helper()
	mkt := market.NewMarket()
	p := pools.NewUniswapV3Pool(poolAddr, common.Address{}, market.WethAddress, usdc, 3000, 60)
	_, err := mkt.AddPool(p)
	require.NoError(t, err)
	return mkt
}

func TestAutoDisableAfterThreshold(t *testing.T) {
	require := require.New(t)
	mkt := marketWithPool(t)
	m := NewHealthMonitor(mkt, nil, 0, nil)

	// three failures across three stuffing txs trip the threshold
	m.RecordFailure(poolAddr, "sqrt price out of range", 100)
	require.True(mkt.IsPoolOk(poolAddr))
	m.RecordFailure(poolAddr, "sqrt price out of range", 101)
	require.True(mkt.IsPoolOk(poolAddr))
	m.RecordFailure(poolAddr, "sqrt price out of range", 102)

	require.False(mkt.IsPoolOk(poolAddr), "third failure disables the pool")
	require.True(m.IsDisabled(poolAddr))
}

func TestReplayedFailureDoesNotCountTwice(t *testing.T) {
	require := require.New(t)
	mkt := marketWithPool(t)
	m := NewHealthMonitor(mkt, nil, 0, nil)

	for i := 0; i < 5; i++ {
		m.RecordFailure(poolAddr, "tick range exhausted", 100)
	}
	require.True(mkt.IsPoolOk(poolAddr), "one (reason, block) counts once")
}

func TestFailuresOutsideWindowExpire(t *testing.T) {
	require := require.New(t)
	mkt := marketWithPool(t)
	m := NewHealthMonitor(mkt, nil, 0, nil)

	m.RecordFailure(poolAddr, "a", 100)
	m.RecordFailure(poolAddr, "b", 101)
	// far outside the 256-block window: the old two no longer count
	m.RecordFailure(poolAddr, "c", 100+FailWindowBlocks+10)
	require.True(mkt.IsPoolOk(poolAddr))
}

func TestHealAfterQuietPeriod(t *testing.T) {
	require := require.New(t)
	mkt := marketWithPool(t)
	m := NewHealthMonitor(mkt, nil, 16, nil)

	m.RecordFailure(poolAddr, "a", 100)
	m.RecordFailure(poolAddr, "b", 100)
	m.RecordFailure(poolAddr, "c", 100)
	require.False(mkt.IsPoolOk(poolAddr))

	m.OnNewBlock(110)
	require.False(mkt.IsPoolOk(poolAddr), "still inside the quiet window")

	m.OnNewBlock(117)
	require.True(mkt.IsPoolOk(poolAddr), "healed after the quiet window")
	require.False(m.IsDisabled(poolAddr))
}

func TestStuffingTxMonitor(t *testing.T) {
	require := require.New(t)
	m := NewStuffingTxMonitor(nil)

	h1 := common.BytesToHash([]byte{1})
	h2 := common.BytesToHash([]byte{2})
	m.Watch([]common.Hash{h1, h2}, 100)
	require.Equal(2, m.Watching())

	// h1 lands in the target block; h2 never does
	m.OnBlockTxs(100, []common.Hash{h1})
	require.Equal(1, m.Watching())
	m.OnBlockTxs(101, nil)
	require.Zero(m.Watching())
}
