// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

// AccountDiff is the per-account entry of a diff-mode trace: every field is
// optional, nil/empty meaning "unchanged".
type AccountDiff struct {
	Balance *uint256.Int
	Nonce   *uint64
	Code    []byte
	Storage map[common.Hash]common.Hash
}

// GethStateUpdate is the post-state half of a diff-mode trace, keyed by the
// accounts the traced transaction touched.
type GethStateUpdate map[common.Address]*AccountDiff

// Copy deep-copies the update so callers may retain it across channel sends.
func (u GethStateUpdate) Copy() GethStateUpdate {
	out := make(GethStateUpdate, len(u))
	for addr, diff := range u {
		d := &AccountDiff{Nonce: diff.Nonce}
		if diff.Balance != nil {
			d.Balance = new(uint256.Int).Set(diff.Balance)
		}
		if len(diff.Code) > 0 {
			d.Code = append([]byte(nil), diff.Code...)
		}
		if len(diff.Storage) > 0 {
			d.Storage = make(map[common.Hash]common.Hash, len(diff.Storage))
			for k, v := range diff.Storage {
				d.Storage[k] = v
			}
		}
		out[addr] = d
	}
	return out
}

// Merge folds a sequence of updates into one, later writes winning.
func Merge(updates ...GethStateUpdate) GethStateUpdate {
	out := make(GethStateUpdate)
	for _, u := range updates {
		for addr, diff := range u {
			acc, ok := out[addr]
			if !ok {
				acc = &AccountDiff{}
				out[addr] = acc
			}
			if diff.Balance != nil {
				acc.Balance = new(uint256.Int).Set(diff.Balance)
			}
			if diff.Nonce != nil {
				n := *diff.Nonce
				acc.Nonce = &n
			}
			if len(diff.Code) > 0 {
				acc.Code = append([]byte(nil), diff.Code...)
			}
			for k, v := range diff.Storage {
				if acc.Storage == nil {
					acc.Storage = make(map[common.Hash]common.Hash)
				}
				acc.Storage[k] = v
			}
		}
	}
	return out
}

// AffectedAddresses returns the domain of the update in unspecified order.
func AffectedAddresses(updates ...GethStateUpdate) []common.Address {
	seen := make(map[common.Address]struct{})
	var out []common.Address
	for _, u := range updates {
		for addr := range u {
			if _, ok := seen[addr]; !ok {
				seen[addr] = struct{}{}
				out = append(out, addr)
			}
		}
	}
	return out
}
