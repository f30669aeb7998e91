// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package market holds the shared world model: tokens, pools and the
// precomputed swap-path index the searcher expands per state change.
package market

import (
	"fmt"
	"sync/atomic"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

// WethAddress is the canonical wrapped-ether contract on mainnet.
var WethAddress = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")

// MaxTokenDecimals bounds the decimals field; nothing on chain exceeds it.
const MaxTokenDecimals = 77

// Token is one ERC-20. Identity is the address; every other field is a
// hint that may be missing or arrive late.
type Token struct {
	address  common.Address
	decimals uint8
	symbol   string

	basic    bool
	middle   bool
	wethLike bool

	// ethPrice caches the token price in wei per unit. When it is unset,
	// ValueInEth returns nil for tokens that are not WETH-like.
	ethPrice atomic.Pointer[uint256.Int]
}

// NewToken returns a token known only by address, assuming 18 decimals.
func NewToken(address common.Address) *Token {
	return &Token{address: address, decimals: 18}
}

// NewTokenWithData returns a fully described token.
func NewTokenWithData(address common.Address, symbol string, decimals uint8, basic, middle, wethLike bool) (*Token, error) {
	if decimals > MaxTokenDecimals {
		return nil, fmt.Errorf("token %s: decimals %d out of range", address, decimals)
	}
	return &Token{
		address:  address,
		symbol:   symbol,
		decimals: decimals,
		basic:    basic,
		middle:   middle,
		wethLike: wethLike,
	}, nil
}

// Address returns the token identity.
func (t *Token) Address() common.Address { return t.address }

// Decimals returns the decimals hint.
func (t *Token) Decimals() uint8 { return t.decimals }

// Symbol returns the symbol hint, empty when unknown.
func (t *Token) Symbol() string { return t.symbol }

// IsBasic reports whether the token may anchor a cyclic path.
func (t *Token) IsBasic() bool { return t.basic }

// IsMiddle reports whether the token may appear mid-path.
func (t *Token) IsMiddle() bool { return t.middle }

// IsWethLike reports whether amounts in this token are wei-comparable.
func (t *Token) IsWethLike() bool { return t.wethLike }

// SetEthPrice atomically replaces the cached price (wei per token unit).
func (t *Token) SetEthPrice(price *uint256.Int) {
	if price == nil {
		t.ethPrice.Store(nil)
		return
	}
	t.ethPrice.Store(new(uint256.Int).Set(price))
}

// EthPrice returns the cached price, or nil when unknown.
func (t *Token) EthPrice() *uint256.Int {
	return t.ethPrice.Load()
}

// ValueInEth converts amount to wei using the cached price. WETH-like
// tokens convert 1:1; an unknown price yields nil.
func (t *Token) ValueInEth(amount *uint256.Int) *uint256.Int {
	if t.wethLike || t.address == WethAddress {
		return new(uint256.Int).Set(amount)
	}
	price := t.EthPrice()
	if price == nil {
		return nil
	}
	unit := uint256.NewInt(10)
	unit.Exp(unit, uint256.NewInt(uint64(t.decimals)))
	out := new(uint256.Int).Mul(amount, price)
	return out.Div(out, unit)
}

// merge copies missing hint fields from a richer record.
func (t *Token) merge(other *Token) {
	if t.symbol == "" {
		t.symbol = other.symbol
	}
	if other.basic {
		t.basic = true
	}
	if other.middle {
		t.middle = true
	}
	if other.wethLike {
		t.wethLike = true
	}
	if t.decimals == 18 && other.decimals != 18 {
		t.decimals = other.decimals
	}
}

func (t *Token) String() string {
	if t.symbol != "" {
		return fmt.Sprintf("%s(%s)", t.symbol, t.address.Hex())
	}
	return t.address.Hex()
}
