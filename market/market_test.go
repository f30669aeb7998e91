// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package market

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/backrun/state"
)

// fakePool is the minimal Pool used across graph tests.
type fakePool struct {
	addr   common.Address
	tokens []common.Address
}

func newFakePool(addr byte, tokens ...common.Address) *fakePool {
	return &fakePool{addr: common.BytesToAddress([]byte{addr}), tokens: tokens}
}

func (p *fakePool) Class() PoolClass         { return PoolClassCustom }
func (p *fakePool) Address() common.Address  { return p.addr }
func (p *fakePool) Tokens() []common.Address { return p.tokens }
func (p *fakePool) SwapDirections() []SwapDirection {
	var dirs []SwapDirection
	for i := range p.tokens {
		for j := range p.tokens {
			if i != j {
				dirs = append(dirs, SwapDirection{TokenIn: p.tokens[i], TokenOut: p.tokens[j]})
			}
		}
	}
	return dirs
}
func (p *fakePool) CanFlashSwap() bool { return false }
func (p *fakePool) CalculateOutAmount(state.Reader, *Env, common.Address, common.Address, *uint256.Int) (*uint256.Int, uint64, error) {
	return nil, 0, ErrNotImplemented
}
func (p *fakePool) CalculateInAmount(state.Reader, *Env, common.Address, common.Address, *uint256.Int) (*uint256.Int, uint64, error) {
	return nil, 0, ErrNotImplemented
}
func (p *fakePool) StateRequired() (*RequiredState, error) { return &RequiredState{}, nil }
func (p *fakePool) ReadOnlyCells() []common.Hash           { return nil }
func (p *fakePool) Encoder() SwapEncoder                   { return nil }

func seedMarket(t *testing.T) (*Market, common.Address, common.Address) {
	t.Helper()
	m := NewMarket()
	weth := WethAddress
	usdc := common.BytesToAddress([]byte{0xcc})

	wt, err := NewTokenWithData(weth, "WETH", 18, true, true, true)
	require.NoError(t, err)
	ut, err := NewTokenWithData(usdc, "USDC", 6, true, true, false)
	require.NoError(t, err)
	m.AddToken(wt)
	m.AddToken(ut)
	return m, weth, usdc
}

func TestAddPoolDuplicate(t *testing.T) {
	require := require.New(t)
	m, weth, usdc := seedMarket(t)

	p := newFakePool(0x11, weth, usdc)
	_, err := m.AddPool(p)
	require.NoError(err)
	_, err = m.AddPool(p)
	require.ErrorIs(err, ErrPoolAlreadyExists)
}

func TestBuildSwapPathsTwoPoolCycle(t *testing.T) {
	require := require.New(t)
	m, weth, usdc := seedMarket(t)

	uni := newFakePool(0x11, weth, usdc)
	sushi := newFakePool(0x22, weth, usdc)
	_, err := m.AddPool(uni)
	require.NoError(err)
	_, err = m.AddPool(sushi)
	require.NoError(err)

	paths := m.BuildSwapPaths(map[common.Address][]SwapDirection{
		uni.Address(): {{TokenIn: weth, TokenOut: usdc}},
	})

	require.Len(paths, 1, "one cycle: weth->uni->usdc->sushi->weth")
	require.True(paths[0].IsCyclic())
	require.Equal(2, paths[0].PoolCount())
	require.True(paths[0].ContainsPool(uni.Address()))
	require.True(paths[0].ContainsPool(sushi.Address()))
}

func TestBuildSwapPathsRejectsSelfSwap(t *testing.T) {
	require := require.New(t)
	m, weth, usdc := seedMarket(t)

	uni := newFakePool(0x11, weth, usdc)
	_, err := m.AddPool(uni)
	require.NoError(err)

	paths := m.BuildSwapPaths(map[common.Address][]SwapDirection{
		uni.Address(): {{TokenIn: weth, TokenOut: usdc}},
	})
	require.Empty(paths, "a single-pool cycle is a self-swap")
}

func TestBuildSwapPathsHopBound(t *testing.T) {
	require := require.New(t)
	m, weth, usdc := seedMarket(t)

	// chain of middle tokens long enough that a closing cycle would need
	// five hops
	t1 := common.BytesToAddress([]byte{0xa1})
	t2 := common.BytesToAddress([]byte{0xa2})
	t3 := common.BytesToAddress([]byte{0xa3})
	t4 := common.BytesToAddress([]byte{0xa4})
	for _, a := range []common.Address{t1, t2, t3, t4} {
		tok, err := NewTokenWithData(a, "", 18, false, true, false)
		require.NoError(err)
		m.AddToken(tok)
	}
	_ = usdc

	p1 := newFakePool(0x11, weth, t1)
	p2 := newFakePool(0x12, t1, t2)
	p3 := newFakePool(0x13, t2, t3)
	p4 := newFakePool(0x14, t3, t4)
	p5 := newFakePool(0x15, t4, weth)
	for _, p := range []*fakePool{p1, p2, p3, p4, p5} {
		_, err := m.AddPool(p)
		require.NoError(err)
	}

	paths := m.BuildSwapPaths(map[common.Address][]SwapDirection{
		p1.Address(): {{TokenIn: weth, TokenOut: t1}},
	})
	for _, path := range paths {
		require.LessOrEqual(path.PoolCount(), MaxHops, "no path exceeds the hop bound")
	}
}

func TestBuildSwapPathsDeterministicOrder(t *testing.T) {
	require := require.New(t)
	m, weth, usdc := seedMarket(t)

	pools := []*fakePool{
		newFakePool(0x31, weth, usdc),
		newFakePool(0x22, weth, usdc),
		newFakePool(0x13, weth, usdc),
	}
	for _, p := range pools {
		_, err := m.AddPool(p)
		require.NoError(err)
	}

	seeds := map[common.Address][]SwapDirection{
		pools[0].Address(): {{TokenIn: weth, TokenOut: usdc}},
		pools[1].Address(): {{TokenIn: weth, TokenOut: usdc}},
	}
	first := m.BuildSwapPaths(seeds)
	for i := 0; i < 10; i++ {
		again := m.BuildSwapPaths(seeds)
		require.Equal(len(first), len(again))
		for j := range first {
			require.Equal(first[j].Key(), again[j].Key(), "enumeration order is deterministic")
		}
	}
}

func TestDisablePoolSticksToPaths(t *testing.T) {
	require := require.New(t)
	m, weth, usdc := seedMarket(t)

	uni := newFakePool(0x11, weth, usdc)
	sushi := newFakePool(0x22, weth, usdc)
	_, err := m.AddPool(uni)
	require.NoError(err)
	_, err = m.AddPool(sushi)
	require.NoError(err)

	paths := m.BuildSwapPaths(map[common.Address][]SwapDirection{
		uni.Address(): {{TokenIn: weth, TokenOut: usdc}},
	})
	m.AddPaths(paths)
	require.NotEmpty(m.PoolPaths(uni.Address()))

	m.DisablePool(sushi.Address(), true)
	require.False(m.IsPoolOk(sushi.Address()))
	require.Empty(m.PoolPaths(uni.Address()), "paths through a disabled pool are filtered")

	m.DisablePool(sushi.Address(), false)
	require.NotEmpty(m.PoolPaths(uni.Address()))
}

func TestPoolPathsMatchMasterIndex(t *testing.T) {
	require := require.New(t)
	m, weth, usdc := seedMarket(t)

	pools := []*fakePool{
		newFakePool(0x11, weth, usdc),
		newFakePool(0x22, weth, usdc),
		newFakePool(0x33, weth, usdc),
	}
	for _, p := range pools {
		_, err := m.AddPool(p)
		require.NoError(err)
	}
	paths := m.BuildSwapPaths(map[common.Address][]SwapDirection{
		pools[0].Address(): {{TokenIn: weth, TokenOut: usdc}},
		pools[1].Address(): {{TokenIn: weth, TokenOut: usdc}},
		pools[2].Address(): {{TokenIn: weth, TokenOut: usdc}},
	})
	m.AddPaths(paths)

	// every indexed path through P must contain P, and every master-index
	// path containing P must be reported for P
	for _, p := range pools {
		reported := m.PoolPaths(p.Address())
		for _, path := range reported {
			require.True(path.ContainsPool(p.Address()))
		}
		count := 0
		for _, path := range paths {
			if path.ContainsPool(p.Address()) {
				count++
			}
		}
		require.Len(reported, count)
	}
}

func TestAddPathsReturnsOnlyNew(t *testing.T) {
	require := require.New(t)
	m, weth, usdc := seedMarket(t)

	uni := newFakePool(0x11, weth, usdc)
	sushi := newFakePool(0x22, weth, usdc)
	_, err := m.AddPool(uni)
	require.NoError(err)
	_, err = m.AddPool(sushi)
	require.NoError(err)

	paths := m.BuildSwapPaths(map[common.Address][]SwapDirection{
		uni.Address(): {{TokenIn: weth, TokenOut: usdc}},
	})
	added := m.AddPaths(paths)
	require.Len(added, len(paths))
	require.Empty(m.AddPaths(paths), "re-adding is a no-op")
}

func TestTokenMerge(t *testing.T) {
	require := require.New(t)
	m := NewMarket()

	bare := NewToken(WethAddress)
	m.AddToken(bare)
	rich, err := NewTokenWithData(WethAddress, "WETH", 18, true, true, true)
	require.NoError(err)
	merged := m.AddToken(rich)

	require.Same(bare, merged, "idempotent by address")
	require.Equal("WETH", merged.Symbol())
	require.True(merged.IsBasic())
}

func TestTokenDecimalsBound(t *testing.T) {
	_, err := NewTokenWithData(WethAddress, "X", 78, false, false, false)
	require.Error(t, err)
}

func TestTokenEthPrice(t *testing.T) {
	require := require.New(t)
	tok, err := NewTokenWithData(common.BytesToAddress([]byte{0x01}), "USDC", 6, true, true, false)
	require.NoError(err)

	require.Nil(tok.ValueInEth(uint256.NewInt(1_000_000)))

	// 1 USDC = 5e14 wei
	tok.SetEthPrice(uint256.NewInt(500_000_000_000_000))
	v := tok.ValueInEth(uint256.NewInt(2_000_000))
	require.Equal(uint256.NewInt(1_000_000_000_000_000), v)
}
