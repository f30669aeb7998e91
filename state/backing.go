// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"context"
	"math/big"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/ethclient"
)

const (
	// backingCallTimeout bounds every remote read.
	backingCallTimeout = 10 * time.Second
	// backingCacheBytes sizes the shared slot/code cache.
	backingCacheBytes = 256 * 1024 * 1024
)

// RemoteBacking resolves local-layer misses against a node, pinned to a
// single block number so all reads are from one consistent state root.
// Fetched slots and code are memoised in a fastcache keyed by
// (block, addr, slot) so hot pools do not hammer the node.
type RemoteBacking struct {
	client *ethclient.Client
	block  *big.Int
	cache  *fastcache.Cache
}

// NewRemoteBacking wraps client, reading at the given block number.
func NewRemoteBacking(client *ethclient.Client, block uint64) *RemoteBacking {
	return &RemoteBacking{
		client: client,
		block:  new(big.Int).SetUint64(block),
		cache:  fastcache.New(backingCacheBytes),
	}
}

// WithBlock returns a backing reading at a different block, sharing the
// client but not the cache.
func (b *RemoteBacking) WithBlock(block uint64) *RemoteBacking {
	return &RemoteBacking{
		client: b.client,
		block:  new(big.Int).SetUint64(block),
		cache:  fastcache.New(backingCacheBytes),
	}
}

func (b *RemoteBacking) cacheKey(kind byte, addr common.Address, slot common.Hash) []byte {
	key := make([]byte, 0, 1+8+common.AddressLength+common.HashLength)
	key = append(key, kind)
	key = append(key, b.block.Bytes()...)
	key = append(key, addr.Bytes()...)
	key = append(key, slot.Bytes()...)
	return key
}

// BasicRef fetches balance, nonce and code hash for addr.
func (b *RemoteBacking) BasicRef(addr common.Address) (*AccountInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), backingCallTimeout)
	defer cancel()

	balance, err := b.client.BalanceAt(ctx, addr, b.block)
	if err != nil {
		return nil, err
	}
	nonce, err := b.client.NonceAt(ctx, addr, b.block)
	if err != nil {
		return nil, err
	}
	code, err := b.CodeRef(addr)
	if err != nil {
		return nil, err
	}
	bal, _ := uint256.FromBig(balance)
	return &AccountInfo{Balance: bal, Nonce: nonce, Code: code}, nil
}

// StorageRef fetches one storage slot.
func (b *RemoteBacking) StorageRef(addr common.Address, slot common.Hash) (common.Hash, error) {
	key := b.cacheKey('s', addr, slot)
	if v, ok := b.cache.HasGet(nil, key); ok {
		return common.BytesToHash(v), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), backingCallTimeout)
	defer cancel()
	raw, err := b.client.StorageAt(ctx, addr, slot, b.block)
	if err != nil {
		return common.Hash{}, err
	}
	b.cache.Set(key, raw)
	return common.BytesToHash(raw), nil
}

// CodeRef fetches contract code.
func (b *RemoteBacking) CodeRef(addr common.Address) ([]byte, error) {
	key := b.cacheKey('c', addr, common.Hash{})
	if v, ok := b.cache.HasGet(nil, key); ok {
		return v, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), backingCallTimeout)
	defer cancel()
	code, err := b.client.CodeAt(ctx, addr, b.block)
	if err != nil {
		return nil, err
	}
	b.cache.Set(key, code)
	return code, nil
}
