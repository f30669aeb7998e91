// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package loader discovers pools on demand: it classifies unknown
// contracts from bytecode signatures, reads enough chain state to build
// the pool record, pre-loads the storage the pool's math needs, and
// registers the result with the market graph.
package loader

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/luxfi/geth"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/crypto"
	"github.com/luxfi/geth/log"
	"golang.org/x/sync/semaphore"

	"github.com/luxfi/backrun/event"
	"github.com/luxfi/backrun/market"
	"github.com/luxfi/backrun/pools"
	"github.com/luxfi/backrun/state"
)

const (
	// DefaultMaxConcurrent caps in-flight pool fetches.
	DefaultMaxConcurrent = 20

	fetchTimeout = 10 * time.Second
)

var (
	// ErrFactoryNotResolvable: the factory probe failed or returned junk.
	ErrFactoryNotResolvable = errors.New("factory not resolvable")
	// ErrProtocolUnsupported: the factory or bytecode maps to no known
	// protocol.
	ErrProtocolUnsupported = errors.New("protocol unsupported")
	// ErrStatePreloadFailed: the required-state fetch did not complete.
	ErrStatePreloadFailed = errors.New("state preload failed")
)

var (
	selFactory     = selectorOf("factory()")
	selToken0      = selectorOf("token0()")
	selToken1      = selectorOf("token1()")
	selFee         = selectorOf("fee()")
	selTickSpacing = selectorOf("tickSpacing()")
	selCoins       = selectorOf("coins(uint256)")
)

func selectorOf(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

// Provider is the subset of the RPC client the loader uses.
type Provider interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// FactoryTable maps known factory addresses to the protocol class they
// deploy, letting the loader skip bytecode heuristics for the majors.
type FactoryTable map[common.Address]market.PoolClass

// Loader is the pool-discovery actor.
type Loader struct {
	provider  Provider
	market    *market.Market
	marketDB  *state.SharedDB
	factories FactoryTable
	events    *event.Broadcaster[event.MarketEvent]

	sem *semaphore.Weighted

	mu   sync.Mutex
	seen map[common.Address]struct{}
}

// New builds a loader; events may be nil in tests.
func New(provider Provider, mkt *market.Market, db *state.SharedDB, factories FactoryTable, events *event.Broadcaster[event.MarketEvent], maxConcurrent int64) *Loader {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Loader{
		provider:  provider,
		market:    mkt,
		marketDB:  db,
		factories: factories,
		events:    events,
		sem:       semaphore.NewWeighted(maxConcurrent),
		seen:      make(map[common.Address]struct{}),
	}
}

// markSeen returns false if address fetch is already in flight or done,
// so concurrent requests for one address coalesce.
func (l *Loader) markSeen(addr common.Address) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[addr]; ok {
		return false
	}
	l.seen[addr] = struct{}{}
	return true
}

func (l *Loader) forget(addr common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.seen, addr)
}

// FetchAndAddPool discovers, constructs and registers the pool at addr.
// Failures are logged and the address is not retried until the next
// state diff touches its code.
func (l *Loader) FetchAndAddPool(ctx context.Context, addr common.Address, class market.PoolClass) error {
	if l.market.IsPool(addr) {
		return nil
	}
	if !l.markSeen(addr) {
		return nil
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		l.forget(addr)
		return err
	}
	defer l.sem.Release(1)

	err := l.fetchAndAdd(ctx, addr, class)
	if err != nil {
		log.Error("Pool fetch failed", "pool", addr, "class", class, "err", err)
		l.forget(addr)
	}
	return err
}

func (l *Loader) fetchAndAdd(ctx context.Context, addr common.Address, class market.PoolClass) error {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	if class == market.PoolClassUnknown {
		code, err := l.provider.CodeAt(ctx, addr, nil)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrFactoryNotResolvable, err)
		}
		class = pools.MatchPoolClass(code)
	}

	factory, err := l.callAddress(ctx, addr, selFactory)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFactoryNotResolvable, err)
	}
	if fc, ok := l.factories[factory]; ok {
		class = fc
	}

	pool, err := l.fetchPoolData(ctx, addr, factory, class)
	if err != nil {
		return err
	}
	return l.FetchStateAndAddPool(ctx, pool)
}

// fetchPoolData reads enough chain state to construct the pool record.
func (l *Loader) fetchPoolData(ctx context.Context, addr, factory common.Address, class market.PoolClass) (market.Pool, error) {
	switch class {
	case market.PoolClassUniswapV2:
		token0, err := l.callAddress(ctx, addr, selToken0)
		if err != nil {
			return nil, fmt.Errorf("%w: token0: %v", ErrStatePreloadFailed, err)
		}
		token1, err := l.callAddress(ctx, addr, selToken1)
		if err != nil {
			return nil, fmt.Errorf("%w: token1: %v", ErrStatePreloadFailed, err)
		}
		return pools.NewUniswapV2Pool(addr, factory, token0, token1, 0), nil

	case market.PoolClassUniswapV3, market.PoolClassPancakeV3:
		token0, err := l.callAddress(ctx, addr, selToken0)
		if err != nil {
			return nil, fmt.Errorf("%w: token0: %v", ErrStatePreloadFailed, err)
		}
		token1, err := l.callAddress(ctx, addr, selToken1)
		if err != nil {
			return nil, fmt.Errorf("%w: token1: %v", ErrStatePreloadFailed, err)
		}
		fee, err := l.callUint(ctx, addr, selFee)
		if err != nil {
			return nil, fmt.Errorf("%w: fee: %v", ErrStatePreloadFailed, err)
		}
		spacing, err := l.callUint(ctx, addr, selTickSpacing)
		if err != nil {
			return nil, fmt.Errorf("%w: tickSpacing: %v", ErrStatePreloadFailed, err)
		}
		if class == market.PoolClassPancakeV3 {
			return pools.NewPancakeV3Pool(addr, factory, token0, token1, fee, int32(spacing)), nil
		}
		return pools.NewUniswapV3Pool(addr, factory, token0, token1, fee, int32(spacing)), nil

	case market.PoolClassCurve:
		coins := make([]common.Address, 0, 2)
		for i := uint64(0); i < 2; i++ {
			arg := append(append([]byte(nil), selCoins...), common.BigToHash(new(big.Int).SetUint64(i)).Bytes()...)
			coin, err := l.callAddress(ctx, addr, arg)
			if err != nil {
				return nil, fmt.Errorf("%w: coins(%d): %v", ErrStatePreloadFailed, i, err)
			}
			coins = append(coins, coin)
		}
		pool, err := pools.NewCurvePool(addr, coins, nil, pools.DefaultCurveLayout())
		if err != nil {
			return nil, err
		}
		return pool, nil

	default:
		// Maverick is not supported; the LSD wrappers are registered
		// statically by AddStaticPools, not factory-probed
		return nil, fmt.Errorf("%w: class %s", ErrProtocolUnsupported, class)
	}
}

// AddStaticPools registers the singleton liquid-staking wrappers whose
// addresses are deployment constants rather than factory products.
func (l *Loader) AddStaticPools(ctx context.Context, stEth, wstEth, rEth, weth, rocketBalances common.Address, totalEthSlot, rethSupplySlot common.Hash) error {
	wst := pools.NewWstEthPool(wstEth, stEth)
	if err := l.FetchStateAndAddPool(ctx, wst); err != nil {
		return err
	}
	reth := pools.NewREthPool(rEth, weth, rocketBalances, totalEthSlot, rethSupplySlot)
	return l.FetchStateAndAddPool(ctx, reth)
}

// FetchStateAndAddPool pre-loads state_required, writes it into the
// shared DB, registers the pool, builds and indexes its swap paths and
// emits NewPoolLoaded.
func (l *Loader) FetchStateAndAddPool(ctx context.Context, pool market.Pool) error {
	required, err := pool.StateRequired()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStatePreloadFailed, err)
	}

	preload := make(state.GethStateUpdate)
	for _, cell := range required.Slots {
		raw, err := l.provider.StorageAt(ctx, cell.Address, cell.Slot, nil)
		if err != nil {
			return fmt.Errorf("%w: slot %s/%s: %v", ErrStatePreloadFailed, cell.Address, cell.Slot, err)
		}
		diff, ok := preload[cell.Address]
		if !ok {
			diff = &state.AccountDiff{Storage: make(map[common.Hash]common.Hash)}
			preload[cell.Address] = diff
		}
		diff.Storage[cell.Slot] = common.BytesToHash(raw)
	}
	for _, call := range required.Calls {
		// warming call; the result itself is discarded
		if _, err := l.provider.CallContract(ctx, ethereum.CallMsg{To: &call.To, Data: call.Data}, nil); err != nil {
			return fmt.Errorf("%w: call %s: %v", ErrStatePreloadFailed, call.To, err)
		}
	}

	l.marketDB.Update(func(db *state.MarketDB) {
		db.ApplyGethUpdate(preload)
		for _, slot := range pool.ReadOnlyCells() {
			db.AddReadOnlyCell(pool.Address(), slot)
		}
	})

	for _, token := range pool.Tokens() {
		l.market.AddToken(market.NewToken(token))
	}
	if _, err := l.market.AddPool(pool); err != nil {
		return err
	}

	paths := l.market.BuildSwapPaths(map[common.Address][]market.SwapDirection{
		pool.Address(): pool.SwapDirections(),
	})
	added := l.market.AddPaths(paths)

	log.Info("Pool loaded", "pool", pool.Address(), "class", pool.Class(), "paths", len(added))
	if l.events != nil {
		l.events.Send(event.MarketEvent{
			Kind:     event.MarketEventNewPoolLoaded,
			Pool:     pool.Address(),
			NewPaths: len(added),
		})
	}
	return nil
}

// ClassifyCode classifies deployed bytecode without a network round
// trip.
func (l *Loader) ClassifyCode(code []byte) market.PoolClass {
	return pools.MatchPoolClass(code)
}

// ProcessCodeDiffs scans a state update for newly deployed code and
// schedules discovery for anything that classifies.
func (l *Loader) ProcessCodeDiffs(ctx context.Context, update state.GethStateUpdate) {
	for addr, diff := range update {
		if len(diff.Code) == 0 || l.market.IsPool(addr) {
			continue
		}
		class := pools.MatchPoolClass(diff.Code)
		if class == market.PoolClassUnknown {
			continue
		}
		go func(addr common.Address, class market.PoolClass) {
			_ = l.FetchAndAddPool(ctx, addr, class)
		}(addr, class)
	}
}

func (l *Loader) callAddress(ctx context.Context, to common.Address, data []byte) (common.Address, error) {
	out, err := l.provider.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return common.Address{}, err
	}
	if len(out) < 32 {
		return common.Address{}, fmt.Errorf("short call result (%d bytes)", len(out))
	}
	return common.BytesToAddress(out[12:32]), nil
}

func (l *Loader) callUint(ctx context.Context, to common.Address, data []byte) (uint64, error) {
	out, err := l.provider.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return 0, err
	}
	if len(out) < 32 {
		return 0, fmt.Errorf("short call result (%d bytes)", len(out))
	}
	return new(big.Int).SetBytes(out[:32]).Uint64(), nil
}
