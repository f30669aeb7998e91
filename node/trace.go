// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package node

import (
	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"

	"github.com/luxfi/backrun/state"
)

// rpcAccountDiff is one account entry of a prestate-tracer diff-mode
// result.
type rpcAccountDiff struct {
	Balance *hexutil.Big                `json:"balance,omitempty"`
	Nonce   *hexutil.Uint64             `json:"nonce,omitempty"`
	Code    hexutil.Bytes               `json:"code,omitempty"`
	Storage map[common.Hash]common.Hash `json:"storage,omitempty"`
}

// TraceDiff is the {pre, post} payload of one traced transaction.
type TraceDiff struct {
	Pre  map[common.Address]rpcAccountDiff `json:"pre"`
	Post map[common.Address]rpcAccountDiff `json:"post"`
}

func convertDiff(in map[common.Address]rpcAccountDiff) state.GethStateUpdate {
	out := make(state.GethStateUpdate, len(in))
	for addr, diff := range in {
		acc := &state.AccountDiff{}
		if diff.Balance != nil {
			acc.Balance, _ = uint256.FromBig(diff.Balance.ToInt())
		}
		if diff.Nonce != nil {
			n := uint64(*diff.Nonce)
			acc.Nonce = &n
		}
		if len(diff.Code) > 0 {
			acc.Code = diff.Code
		}
		if len(diff.Storage) > 0 {
			acc.Storage = make(map[common.Hash]common.Hash, len(diff.Storage))
			for k, v := range diff.Storage {
				acc.Storage[k] = v
			}
		}
		out[addr] = acc
	}
	return out
}

// PostState converts the trace's post half into the internal update
// form.
func (t *TraceDiff) PostState() state.GethStateUpdate { return convertDiff(t.Post) }

// PreState converts the trace's pre half.
func (t *TraceDiff) PreState() state.GethStateUpdate { return convertDiff(t.Pre) }
