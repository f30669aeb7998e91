// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package accounts tracks the searcher's own signing accounts: nonces
// and per-token balances, corrected from on-chain observations.
package accounts

import (
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/crypto"
	"github.com/luxfi/geth/log"
)

// transferTopic is the ERC-20 Transfer(address,address,uint256) event.
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// EthToken is the pseudo-token address for native balance entries.
var EthToken = common.Address{}

type entry struct {
	nonce    uint64
	balances map[common.Address]*uint256.Int
}

// Registry is the nonce-and-balance shared value for monitored
// accounts. All access is behind one RWMutex with short critical
// sections.
type Registry struct {
	mu       sync.RWMutex
	accounts map[common.Address]*entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{accounts: make(map[common.Address]*entry)}
}

// Add registers an account for monitoring.
func (r *Registry) Add(addr common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[addr]; !ok {
		r.accounts[addr] = &entry{balances: make(map[common.Address]*uint256.Int)}
	}
}

// IsMonitored reports whether addr is tracked.
func (r *Registry) IsMonitored(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.accounts[addr]
	return ok
}

// Nonce returns the tracked nonce.
func (r *Registry) Nonce(addr common.Address) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.accounts[addr]; ok {
		return e.nonce
	}
	return 0
}

// ObserveNonce records an on-chain nonce; it never moves backwards.
func (r *Registry) ObserveNonce(addr common.Address, nonce uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.accounts[addr]
	if !ok {
		return
	}
	if nonce > e.nonce {
		e.nonce = nonce
	}
}

// BalanceOf returns the tracked balance of token for addr, nil when
// unknown.
func (r *Registry) BalanceOf(addr common.Address, token common.Address) *uint256.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.accounts[addr]
	if !ok {
		return nil
	}
	bal, ok := e.balances[token]
	if !ok {
		return nil
	}
	return new(uint256.Int).Set(bal)
}

// SetBalance seeds or overwrites a balance.
func (r *Registry) SetBalance(addr common.Address, token common.Address, balance *uint256.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.accounts[addr]
	if !ok {
		return
	}
	e.balances[token] = new(uint256.Int).Set(balance)
}

// ApplyTransferLog adjusts balances when an ERC-20 Transfer touches a
// monitored account. The log's address is the token.
func (r *Registry) ApplyTransferLog(l *types.Log) {
	if len(l.Topics) != 3 || l.Topics[0] != transferTopic || len(l.Data) < 32 {
		return
	}
	from := common.BytesToAddress(l.Topics[1].Bytes())
	to := common.BytesToAddress(l.Topics[2].Bytes())
	amount := new(uint256.Int).SetBytes(l.Data[:32])

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.accounts[from]; ok {
		if bal, ok := e.balances[l.Address]; ok {
			if bal.Cmp(amount) < 0 {
				log.Warn("Balance underflow on transfer", "account", from, "token", l.Address)
				bal.Clear()
			} else {
				bal.Sub(bal, amount)
			}
		}
	}
	if e, ok := r.accounts[to]; ok {
		bal, ok := e.balances[l.Address]
		if !ok {
			bal = new(uint256.Int)
			e.balances[l.Address] = bal
		}
		bal.Add(bal, amount)
	}
}

// ObserveMinedTx bumps the sender's nonce past a mined transaction of a
// monitored account.
func (r *Registry) ObserveMinedTx(from common.Address, txNonce uint64) {
	r.ObserveNonce(from, txNonce+1)
}

// ProcessBlock walks a block's txs and logs, applying every observation
// relevant to monitored accounts.
func (r *Registry) ProcessBlock(block *types.Block, logs []types.Log, signer types.Signer) {
	for _, tx := range block.Transactions() {
		from, err := types.Sender(signer, tx)
		if err != nil {
			continue
		}
		if r.IsMonitored(from) {
			r.ObserveMinedTx(from, tx.Nonce())
		}
	}
	for i := range logs {
		r.ApplyTransferLog(&logs[i])
	}
}
