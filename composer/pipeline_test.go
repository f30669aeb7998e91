// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package composer

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/backrun/event"
	"github.com/luxfi/backrun/market"
	"github.com/luxfi/backrun/pools"
	"github.com/luxfi/backrun/searcher"
	"github.com/luxfi/backrun/state"
	"github.com/luxfi/backrun/swap"
)

// fakeEstimator stands in for the EVM pass with a plausible gas figure.
type fakeEstimator struct {
	gasUsed uint64
}

func (f *fakeEstimator) Estimate(c *event.Compose, db *state.MarketDB) (*EstimateResult, error) {
	al := types.AccessList{}
	for _, pool := range c.Swap.Pools() {
		al = append(al, types.AccessTuple{Address: pool, StorageKeys: []common.Hash{uint256.NewInt(8).Bytes32()}})
	}
	return &EstimateResult{GasUsed: f.gasUsed, AccessList: al}, nil
}

// TestSimpleV2BackrunEndToEnd drives the searcher and composer over the
// seeded two-pair market: one Ready bundle must come out, routed
// WETH -> expensive pair -> cheap pair -> WETH, with amount_in at the
// analytic optimum.
func TestSimpleV2BackrunEndToEnd(t *testing.T) {
	require := require.New(t)

	mkt := market.NewMarket()
	weth, err := market.NewTokenWithData(market.WethAddress, "WETH", 18, true, true, true)
	require.NoError(err)
	usdcTok, err := market.NewTokenWithData(usdc, "USDC", 18, true, true, false)
	require.NoError(err)
	mkt.AddToken(weth)
	mkt.AddToken(usdcTok)

	uni := mustAddV2(t, mkt, uniPair, usdc)
	mustAddV2(t, mkt, sushiPair, usdc)
	mkt.AddPaths(mkt.BuildSwapPaths(map[common.Address][]market.SwapDirection{
		uniPair: uni.SwapDirections(),
	}))

	db := state.NewMarketDB(nil)
	seedReserves := func(addr common.Address, quote uint64) {
		db.ApplyGethUpdate(state.GethStateUpdate{
			addr: {Storage: map[common.Hash]common.Hash{
				uint256.NewInt(8).Bytes32(): reservesWord(eth(100), eth(quote)),
			}},
		})
	}
	seedReserves(uniPair, 300_000)
	seedReserves(sushiPair, 240_000)

	composeBus := event.NewBroadcaster[*event.Compose](event.CapCompose)
	readyBus := event.NewBroadcaster[*event.Compose](event.CapCompose)
	readySub := readyBus.Subscribe()

	head := &fakeHead{number: 100, baseFee: uint256.NewInt(10)}
	comp := New(mcAddr, head, &fakeEstimator{gasUsed: 280_000}, nil, readyBus)

	s := searcher.New(searcher.Config{Threads: 2}, mkt, nil, nil, composeBus, nil)
	composeSub := composeBus.Subscribe()

	s.Handle(context.Background(), &event.StateUpdateEvent{
		Origin:             "test",
		Directions:         map[common.Address][]market.SwapDirection{uniPair: uni.SwapDirections()},
		NextBlockNumber:    100,
		NextBlockTimestamp: 1_700_000_000,
		NextBaseFee:        uint256.NewInt(10),
		TipsPct:            5000,
		MarketState:        db,
	})

	routed := 0
	for {
		select {
		case msg := <-composeSub.Ch():
			routed++
			comp.Handle(msg)
			continue
		default:
		}
		break
	}
	require.NotZero(routed)

	var ready *event.Compose
	select {
	case ready = <-readySub.Ch():
	default:
		t.Fatal("expected one Ready bundle")
	}
	require.Equal(event.ComposeReady, ready.Kind)
	require.NotNil(ready.TxRequest)
	require.NotEmpty(ready.Calldata)
	require.NotEmpty(ready.AccessList)
	require.True(ready.Tips.Sign() > 0)

	// the encoded route crosses both pairs
	calls, err := DecodeCalls(ready.TxRequest.Data())
	require.NoError(err)
	targets := map[common.Address]bool{}
	for _, call := range calls {
		targets[call.Target] = true
	}
	require.True(targets[uniPair])
	require.True(targets[sushiPair])
	require.True(targets[CoinbaseSentinel], "tips call trails the route")

	// analytic optimum of the two-pool cycle:
	// x* = (f*sqrt(a1*b1*a2*b2) - a1*b2) / (f*(b2 + f*b1)), about 5.1208 ETH
	amountIn := readyAmountIn(t, ready)
	lower := new(uint256.Int).Mul(uint256.NewInt(5_095), uint256.NewInt(1_000_000_000_000_000))
	upper := new(uint256.Int).Mul(uint256.NewInt(5_147), uint256.NewInt(1_000_000_000_000_000))
	require.True(amountIn.Cmp(lower) >= 0, "amount_in=%v below optimum band", amountIn)
	require.True(amountIn.Cmp(upper) <= 0, "amount_in=%v above optimum band", amountIn)
}

func mustAddV2(t *testing.T, mkt *market.Market, addr common.Address, quote common.Address) market.Pool {
	t.Helper()
	p := pools.NewUniswapV2Pool(addr, common.Address{}, market.WethAddress, quote, 0)
	_, err := mkt.AddPool(p)
	require.NoError(t, err)
	return p
}

func readyAmountIn(t *testing.T, ready *event.Compose) *uint256.Int {
	t.Helper()
	switch v := ready.Swap.(type) {
	case *swap.BackrunSwapLine:
		return v.Line.AmountIn
	default:
		t.Fatalf("unexpected swap shape %T", ready.Swap)
		return nil
	}
}
