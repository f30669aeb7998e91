// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package state holds the layered account database the searcher simulates
// against. A MarketDB is a chain of layers: a hot mutable upper map, an
// immutable lower layer produced by earlier forks, and an optional remote
// backing that resolves cache misses against a node.
package state

import (
	"errors"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/crypto"
)

var (
	// ErrMissingSlot is returned when neither a local layer nor the remote
	// backing can resolve a storage read.
	ErrMissingSlot = errors.New("missing storage slot")
)

// AccountState tracks how an account entered the upper layer.
type AccountState uint8

const (
	// AccountNone marks an account created implicitly by a storage write.
	AccountNone AccountState = iota
	// AccountNotExisting marks an address probed and found absent.
	AccountNotExisting
	// AccountTouched marks an account whose info was written.
	AccountTouched
	// AccountStorageCleared marks a self-destructed account; reads below
	// the clearing layer must not leak through.
	AccountStorageCleared
)

// AccountInfo is the trie-independent account record.
type AccountInfo struct {
	Balance  *uint256.Int
	Nonce    uint64
	CodeHash common.Hash
	Code     []byte
}

// Copy returns an independent copy of the info.
func (i *AccountInfo) Copy() *AccountInfo {
	out := &AccountInfo{Nonce: i.Nonce, CodeHash: i.CodeHash}
	if i.Balance != nil {
		out.Balance = new(uint256.Int).Set(i.Balance)
	} else {
		out.Balance = new(uint256.Int)
	}
	if len(i.Code) > 0 {
		out.Code = append([]byte(nil), i.Code...)
	}
	return out
}

type account struct {
	info    AccountInfo
	state   AccountState
	storage map[common.Hash]common.Hash
}

// Reader is the immutable read surface handed to pool math. Reads never
// materialise accounts into the upper layer.
type Reader interface {
	Basic(addr common.Address) (*AccountInfo, error)
	Storage(addr common.Address, slot common.Hash) (common.Hash, error)
	Code(addr common.Address) ([]byte, error)
}

// Backing resolves reads that miss every local layer, normally against a
// remote node. Implementations must be safe for concurrent use.
type Backing interface {
	BasicRef(addr common.Address) (*AccountInfo, error)
	StorageRef(addr common.Address, slot common.Hash) (common.Hash, error)
	CodeRef(addr common.Address) ([]byte, error)
}

// AccountChange is one entry of an EVM commit.
type AccountChange struct {
	Info           AccountInfo
	Storage        map[common.Hash]common.Hash
	SelfDestructed bool
}

// MarketDB is the layered database. It is not internally synchronised: the
// owner serialises writes behind its own lock, and forks treat their lower
// layer as frozen.
type MarketDB struct {
	upper   map[common.Address]*account
	lower   *MarketDB
	backing Backing

	// forceInsert addresses never report as not-existing, even when every
	// layer and the backing miss.
	forceInsert map[common.Address]struct{}
	// readOnly cells are skipped when applying incoming diffs; peripheral
	// contracts rewrite these slots without moving the pool price.
	readOnly map[common.Address]map[common.Hash]struct{}
}

// NewMarketDB returns an empty database over the given backing. A nil
// backing is allowed; unresolved reads then fail with ErrMissingSlot.
func NewMarketDB(backing Backing) *MarketDB {
	return &MarketDB{
		upper:       make(map[common.Address]*account),
		backing:     backing,
		forceInsert: make(map[common.Address]struct{}),
		readOnly:    make(map[common.Address]map[common.Hash]struct{}),
	}
}

// AddForceInsert marks an address that must always resolve to an account.
func (db *MarketDB) AddForceInsert(addr common.Address) {
	db.forceInsert[addr] = struct{}{}
}

// IsForceInsert reports whether addr is pinned.
func (db *MarketDB) IsForceInsert(addr common.Address) bool {
	_, ok := db.forceInsert[addr]
	return ok
}

// AddReadOnlyCell excludes (addr, slot) from future diff application.
func (db *MarketDB) AddReadOnlyCell(addr common.Address, slot common.Hash) {
	cells, ok := db.readOnly[addr]
	if !ok {
		cells = make(map[common.Hash]struct{})
		db.readOnly[addr] = cells
	}
	cells[slot] = struct{}{}
}

// IsReadOnlyCell reports whether (addr, slot) is excluded from diffs.
func (db *MarketDB) IsReadOnlyCell(addr common.Address, slot common.Hash) bool {
	cells, ok := db.readOnly[addr]
	if !ok {
		return false
	}
	_, ok = cells[slot]
	return ok
}

// Basic resolves the account info for addr across upper, lower and backing.
// A nil result with nil error means the account does not exist.
func (db *MarketDB) Basic(addr common.Address) (*AccountInfo, error) {
	for layer := db; layer != nil; layer = layer.lower {
		if acc, ok := layer.upper[addr]; ok {
			if acc.state == AccountNotExisting {
				break
			}
			return acc.info.Copy(), nil
		}
	}
	if db.backing != nil {
		info, err := db.backing.BasicRef(addr)
		if err != nil {
			return nil, err
		}
		if info != nil {
			return info, nil
		}
	}
	if db.IsForceInsert(addr) {
		return &AccountInfo{Balance: new(uint256.Int), CodeHash: types.EmptyCodeHash}, nil
	}
	return nil, nil
}

// Storage resolves a storage read across upper, lower and backing, honouring
// storage-cleared tombstones.
func (db *MarketDB) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	for layer := db; layer != nil; layer = layer.lower {
		if acc, ok := layer.upper[addr]; ok {
			if v, ok := acc.storage[slot]; ok {
				return v, nil
			}
			if acc.state == AccountStorageCleared || acc.state == AccountNotExisting {
				return common.Hash{}, nil
			}
		}
	}
	if db.backing != nil {
		return db.backing.StorageRef(addr, slot)
	}
	return common.Hash{}, ErrMissingSlot
}

// Code resolves contract code across the layers and backing.
func (db *MarketDB) Code(addr common.Address) ([]byte, error) {
	for layer := db; layer != nil; layer = layer.lower {
		if acc, ok := layer.upper[addr]; ok {
			if acc.state == AccountNotExisting {
				return nil, nil
			}
			if acc.info.Code != nil || acc.state == AccountTouched {
				return acc.info.Code, nil
			}
		}
	}
	if db.backing != nil {
		return db.backing.CodeRef(addr)
	}
	return nil, nil
}

// mutable returns the upper-layer entry for addr, creating it if needed.
func (db *MarketDB) mutable(addr common.Address) *account {
	acc, ok := db.upper[addr]
	if !ok {
		acc = &account{storage: make(map[common.Hash]common.Hash)}
		// inherit the visible info so partial diffs keep missing fields
		if info, err := db.Basic(addr); err == nil && info != nil {
			acc.info = *info
		} else {
			acc.info.Balance = new(uint256.Int)
		}
		db.upper[addr] = acc
	}
	return acc
}

// ApplyGethUpdate overlays a diff-mode trace result. It inserts and
// overwrites, never deletes; slots registered read-only are skipped.
func (db *MarketDB) ApplyGethUpdate(update GethStateUpdate) {
	for addr, diff := range update {
		acc := db.mutable(addr)
		if diff.Balance != nil {
			acc.info.Balance = new(uint256.Int).Set(diff.Balance)
		}
		if diff.Nonce != nil {
			acc.info.Nonce = *diff.Nonce
		}
		if len(diff.Code) > 0 {
			acc.info.Code = append([]byte(nil), diff.Code...)
			acc.info.CodeHash = crypto.Keccak256Hash(diff.Code)
		}
		for slot, value := range diff.Storage {
			if db.IsReadOnlyCell(addr, slot) {
				continue
			}
			acc.storage[slot] = value
		}
		if acc.state == AccountNone || acc.state == AccountNotExisting {
			acc.state = AccountTouched
		}
	}
}

// Commit applies EVM-produced post-state. Touched accounts transition to
// AccountTouched; self-destructed ones clear their storage below.
func (db *MarketDB) Commit(changes map[common.Address]*AccountChange) {
	for addr, change := range changes {
		acc := db.mutable(addr)
		if change.SelfDestructed {
			acc.info = AccountInfo{Balance: new(uint256.Int), CodeHash: types.EmptyCodeHash}
			acc.storage = make(map[common.Hash]common.Hash)
			acc.state = AccountStorageCleared
			continue
		}
		acc.info = *change.Info.Copy()
		for slot, value := range change.Storage {
			acc.storage[slot] = value
		}
		acc.state = AccountTouched
	}
}

// Fork returns a zero-copy child: a fresh empty upper over the receiver.
// The receiver must not be mutated while forks are live; the block-accept
// path guarantees that by forking before Maintain.
func (db *MarketDB) Fork() *MarketDB {
	return &MarketDB{
		upper:       make(map[common.Address]*account),
		lower:       db,
		backing:     db.backing,
		forceInsert: db.forceInsert,
		readOnly:    db.readOnly,
	}
}

// Maintain collapses the layer chain into a single flat upper. Called once
// per accepted block so fork chains do not grow without bound.
func (db *MarketDB) Maintain() {
	flat := make(map[common.Address]*account)
	// walk oldest-first so newer layers overwrite
	var layers []*MarketDB
	for layer := db; layer != nil; layer = layer.lower {
		layers = append(layers, layer)
	}
	for i := len(layers) - 1; i >= 0; i-- {
		for addr, acc := range layers[i].upper {
			dst, ok := flat[addr]
			if !ok || acc.state == AccountStorageCleared || acc.state == AccountNotExisting {
				cp := &account{info: *acc.info.Copy(), state: acc.state, storage: make(map[common.Hash]common.Hash, len(acc.storage))}
				for k, v := range acc.storage {
					cp.storage[k] = v
				}
				flat[addr] = cp
				continue
			}
			dst.info = *acc.info.Copy()
			dst.state = acc.state
			for k, v := range acc.storage {
				dst.storage[k] = v
			}
		}
	}
	db.upper = flat
	db.lower = nil
}

// AccountCount returns the number of accounts materialised locally.
func (db *MarketDB) AccountCount() int {
	seen := make(map[common.Address]struct{})
	for layer := db; layer != nil; layer = layer.lower {
		for addr := range layer.upper {
			seen[addr] = struct{}{}
		}
	}
	return len(seen)
}
