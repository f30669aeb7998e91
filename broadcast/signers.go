// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package broadcast signs ready bundles and fans them out to the
// configured relays.
package broadcast

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/crypto"
)

// ErrNoSigners is returned when the signer set is empty.
var ErrNoSigners = errors.New("no signers configured")

// Signer is one EOA the searcher sends from. The nonce is tracked
// optimistically: bumped on broadcast, jumped forward when an on-chain
// observation reports higher.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address

	mu    sync.Mutex
	nonce uint64
}

// NewSigner wraps a private key.
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address returns the signing EOA.
func (s *Signer) Address() common.Address { return s.address }

// Nonce returns the local view of the next nonce.
func (s *Signer) Nonce() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonce
}

// BumpNonce optimistically consumes one nonce, returning the consumed
// value.
func (s *Signer) BumpNonce() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.nonce
	s.nonce++
	return n
}

// ObserveNonce corrects the local nonce when the chain is ahead; it
// never moves backwards.
func (s *Signer) ObserveNonce(onchain uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if onchain > s.nonce {
		s.nonce = onchain
	}
}

// SignerSet holds the configured signing keys plus the bundle-auth key
// used for relay body signatures.
type SignerSet struct {
	chainID *big.Int
	signers []*Signer
	authKey *ecdsa.PrivateKey

	rng *rand.Rand
}

// NewSignerSet builds a set; authKey may equal one of the signers.
func NewSignerSet(chainID uint64, keys []*ecdsa.PrivateKey, authKey *ecdsa.PrivateKey, seed int64) (*SignerSet, error) {
	if len(keys) == 0 {
		return nil, ErrNoSigners
	}
	set := &SignerSet{
		chainID: new(big.Int).SetUint64(chainID),
		authKey: authKey,
		rng:     rand.New(rand.NewSource(seed)),
	}
	for _, key := range keys {
		set.signers = append(set.signers, NewSigner(key))
	}
	return set, nil
}

// Pick returns a random signer, or the one matching eoa when set.
func (s *SignerSet) Pick(eoa common.Address) (*Signer, error) {
	if eoa != (common.Address{}) {
		for _, signer := range s.signers {
			if signer.Address() == eoa {
				return signer, nil
			}
		}
		return nil, fmt.Errorf("%w: no key for %s", ErrNoSigners, eoa)
	}
	return s.signers[s.rng.Intn(len(s.signers))], nil
}

// Addresses lists every signing EOA.
func (s *SignerSet) Addresses() []common.Address {
	out := make([]common.Address, 0, len(s.signers))
	for _, signer := range s.signers {
		out = append(out, signer.Address())
	}
	return out
}

// ObserveNonce forwards an on-chain nonce observation to the matching
// signer.
func (s *SignerSet) ObserveNonce(addr common.Address, nonce uint64) {
	for _, signer := range s.signers {
		if signer.Address() == addr {
			signer.ObserveNonce(nonce)
			return
		}
	}
}

// SignTx fills in the signer's nonce and chain id and signs the request
// with the latest signer for the chain id. The signer's local nonce is
// bumped.
func (s *SignerSet) SignTx(signer *Signer, request *types.Transaction) (*types.Transaction, error) {
	nonce := signer.BumpNonce()
	inner := &types.DynamicFeeTx{
		ChainID:    s.chainID,
		Nonce:      nonce,
		To:         request.To(),
		Gas:        request.Gas(),
		GasFeeCap:  request.GasFeeCap(),
		GasTipCap:  request.GasTipCap(),
		Value:      request.Value(),
		Data:       request.Data(),
		AccessList: request.AccessList(),
	}
	return types.SignNewTx(signer.key, types.LatestSignerForChainID(s.chainID), inner)
}

// AuthAddress returns the bundle-auth identity.
func (s *SignerSet) AuthAddress() common.Address {
	return crypto.PubkeyToAddress(s.authKey.PublicKey)
}

// AuthKey exposes the bundle-auth key to the relay client.
func (s *SignerSet) AuthKey() *ecdsa.PrivateKey { return s.authKey }
