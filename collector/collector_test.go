// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package collector

import (
	"context"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/backrun/event"
	"github.com/luxfi/backrun/market"
	"github.com/luxfi/backrun/pools"
	"github.com/luxfi/backrun/state"
)

var (
	pairAddr = common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc")
	usdcAddr = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	erc20    = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func newCollector(t *testing.T) (*Collector, *market.Market, *event.Subscription[event.StateUpdateEvent]) {
	t.Helper()
	mkt := market.NewMarket()
	pool := pools.NewUniswapV2Pool(pairAddr, common.Address{}, market.WethAddress, usdcAddr, 0)
	_, err := mkt.AddPool(pool)
	require.NoError(t, err)

	bus := event.NewBroadcaster[event.StateUpdateEvent](event.CapStateUpdateEvents)
	sub := bus.Subscribe()
	db := state.NewSharedDB(state.NewMarketDB(nil))
	return New(mkt, db, nil, 9900, bus), mkt, sub
}

func stuffingTx() *types.Transaction {
	return types.NewTx(&types.DynamicFeeTx{
		Gas:       200_000,
		GasFeeCap: big.NewInt(100),
		GasTipCap: big.NewInt(1),
		To:        &common.Address{},
	})
}

func next() NextBlock {
	return NextBlock{Number: 100, Timestamp: 1_700_000_000, BaseFee: uint256.NewInt(10)}
}

func TestCollectResolvesKnownPool(t *testing.T) {
	require := require.New(t)
	c, _, sub := newCollector(t)

	tx := stuffingTx()
	update := state.GethStateUpdate{
		pairAddr: {Storage: map[common.Hash]common.Hash{uint256.NewInt(8).Bytes32(): common.BytesToHash([]byte{1})}},
	}
	ev := c.Collect(context.Background(), "mempool", []*types.Transaction{tx}, []state.GethStateUpdate{update}, next())
	require.NotNil(ev)
	require.Len(ev.Directions, 1)
	require.Contains(ev.Directions, pairAddr)
	require.Len(ev.Directions[pairAddr], 2, "both orderings of the pair")
	require.Equal(tx.Hash(), ev.StuffingTxHash())
	require.Equal(uint64(100), ev.NextBlockNumber)
	require.NotNil(ev.MarketState)

	select {
	case got := <-sub.Ch():
		require.Equal(ev.StuffingTxHash(), got.StuffingTxHash())
	default:
		t.Fatal("event not published")
	}
}

func TestCollectIgnoresUnrelatedAccounts(t *testing.T) {
	require := require.New(t)
	c, _, sub := newCollector(t)

	update := state.GethStateUpdate{
		erc20: {Storage: map[common.Hash]common.Hash{{}: common.BytesToHash([]byte{1})}},
	}
	ev := c.Collect(context.Background(), "mempool", nil, []state.GethStateUpdate{update}, next())
	require.Nil(ev, "a tx touching only an unrelated account produces no event")

	select {
	case <-sub.Ch():
		t.Fatal("no event expected")
	default:
	}
}

func TestCollectForkIsolatedPerEvent(t *testing.T) {
	require := require.New(t)
	c, _, _ := newCollector(t)

	update := state.GethStateUpdate{pairAddr: {Storage: map[common.Hash]common.Hash{}}}
	ev1 := c.Collect(context.Background(), "mempool", nil, []state.GethStateUpdate{update}, next())
	ev2 := c.Collect(context.Background(), "mempool", nil, []state.GethStateUpdate{update}, next())
	require.NotNil(ev1)
	require.NotNil(ev2)

	// each event owns a private fork: a write through one is invisible
	// to the other
	ev1.MarketState.ApplyGethUpdate(state.GethStateUpdate{
		erc20: {Balance: uint256.NewInt(1)},
	})
	info, err := ev2.MarketState.Basic(erc20)
	require.NoError(err)
	require.Nil(info)
}

func TestNextBlockFromHeader(t *testing.T) {
	require := require.New(t)
	header := &types.Header{
		Number:   big.NewInt(99),
		Time:     1000,
		BaseFee:  big.NewInt(1_000_000_000),
		GasLimit: 30_000_000,
		GasUsed:  15_000_000,
	}
	nb := NextBlockFromHeader(header)
	require.Equal(uint64(100), nb.Number)
	require.Equal(uint64(1012), nb.Timestamp)
	// at exactly the gas target the base fee carries over
	require.Equal(uint256.NewInt(1_000_000_000), nb.BaseFee)
}
