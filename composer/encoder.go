// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package composer

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/crypto"

	"github.com/luxfi/backrun/market"
	"github.com/luxfi/backrun/state"
	"github.com/luxfi/backrun/swap"
)

// CoinbaseSentinel is the target the multicaller rewrites to
// block.coinbase at execution time; the tips transfer is a plain value
// call to it.
var CoinbaseSentinel = common.HexToAddress("0xffffFFFfFFffffffffffffffFfFFFfffFFFfFFfE")

var selTransfer = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]

// ErrNoEncoder is returned for a pool without calldata support.
var ErrNoEncoder = errors.New("pool has no swap encoder")

// Encoder compiles swaps into multicaller call sequences. DB and Env
// point at the post-stuffing-tx fork so hop amounts can be recomputed
// exactly for dialects whose calldata carries them.
type Encoder struct {
	// Multicaller is the deployed batch-executor contract.
	Multicaller common.Address

	DB  state.Reader
	Env *market.Env
}

func transferCalldata(to common.Address, amount *uint256.Int) []byte {
	out := make([]byte, 0, 4+64)
	out = append(out, selTransfer...)
	out = append(out, common.BytesToHash(to.Bytes()).Bytes()...)
	v := amount.Bytes32()
	out = append(out, v[:]...)
	return out
}

// encodeLine compiles one cyclic line into calls: fund the first pool,
// then swap hop by hop. Hop amounts are re-simulated on the fork so
// transfer-funded dialects carry exact values; dialects that return the
// out amount additionally splice it into the next hop as a runtime
// correction.
func (e *Encoder) encodeLine(line *swap.SwapLine) ([]Call, error) {
	if line.AmountIn == nil || line.AmountIn.IsZero() {
		return nil, swap.ErrZeroAmount
	}
	var calls []Call
	amount := new(uint256.Int).Set(line.AmountIn)

	prevReturn := -1
	for i, pool := range line.Path.Pools {
		enc := pool.Encoder()
		if enc == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoEncoder, pool.Address())
		}
		tokenIn := line.Path.Tokens[i].Address()
		tokenOut := line.Path.Tokens[i+1].Address()

		out, _, err := pool.CalculateOutAmount(e.DB, e.Env, tokenIn, tokenOut, amount)
		if err != nil {
			return nil, err
		}

		recipient := e.Multicaller
		if enc.PreswapRequirement() == market.PreswapTransfer {
			calls = append(calls, Call{
				Target:   tokenIn,
				Calldata: transferCalldata(pool.Address(), amount),
			})
		}

		// transfer-funded pairs take the expected out amount; callback
		// dialects take the exact input
		encodeAmount := amount
		if enc.PreswapRequirement() == market.PreswapTransfer {
			encodeAmount = out
		}
		calldata, err := enc.EncodeSwapInAmountProvided(tokenIn, tokenOut, encodeAmount, recipient, nil)
		if err != nil {
			return nil, err
		}
		call := Call{Target: pool.Address(), Calldata: calldata}
		if prevReturn >= 0 {
			if off := enc.SwapInAmountOffset(tokenIn, tokenOut); off >= 0 {
				call.CallInput = StackIO{UseStack: true, Index: uint8(prevReturn), Offset: uint16(off), Length: 32}
			}
		}
		if off := enc.SwapOutAmountReturnOffset(tokenIn, tokenOut); off >= 0 {
			call.ReturnOutput = StackIO{UseStack: true, Index: uint8(len(calls)), Offset: uint16(off), Length: 32}
			prevReturn = len(calls)
		} else {
			prevReturn = -1
		}
		calls = append(calls, call)
		amount = out
	}
	return calls, nil
}

// BalancerVault is the flash-loan source of last resort.
var BalancerVault = common.HexToAddress("0xBA12222222228d8Ba445958a75a0704d566BF2C8")

var selFlashLoan = selector4("flashLoan(address,address[],uint256[],bytes)")

func selector4(sig string) [4]byte {
	var out [4]byte
	copy(out[:], crypto.Keccak256([]byte(sig))[:4])
	return out
}

// abiBuilder packs 32-byte words after a selector.
type abiBuilder struct {
	buf []byte
}

func newCalldata4(sel [4]byte) *abiBuilder {
	return &abiBuilder{buf: append([]byte(nil), sel[:]...)}
}

func (b *abiBuilder) word(h common.Hash) *abiBuilder {
	b.buf = append(b.buf, h[:]...)
	return b
}

func (b *abiBuilder) uint(v *uint256.Int) *abiBuilder { return b.word(v.Bytes32()) }

func (b *abiBuilder) address(a common.Address) *abiBuilder {
	return b.word(common.BytesToHash(a.Bytes()))
}

// raw appends pre-encoded bytes, padded to a word boundary.
func (b *abiBuilder) raw(p []byte) *abiBuilder {
	b.buf = append(b.buf, p...)
	if pad := len(p) % 32; pad != 0 {
		b.buf = append(b.buf, make([]byte, 32-pad)...)
	}
	return b
}

func (b *abiBuilder) bytes() []byte { return b.buf }

// encodeSteps compiles a flash pair with one of three strategies: flash
// borrow against the shared pool with the in amount provided, the
// out-amount mirror when only the inverse is priced, or a vault
// flash-loan wrapping everything when neither leg can lead.
func (e *Encoder) encodeSteps(steps *swap.BackrunSwapSteps) ([]Call, error) {
	if steps.First == nil || len(steps.First.Lines) == 0 {
		return nil, swap.ErrZeroAmount
	}
	lead := steps.First.Lines[0]
	inner, err := e.encodeSwap(&swap.Multiple{Swaps: stepSwaps(steps.Second)})
	if err != nil {
		return nil, err
	}
	innerBytes := EncodeCalls(inner)

	flash := steps.First.FlashPool
	if flash == nil || !flash.CanFlashSwap() {
		return e.encodeBalancerFallback(steps, innerBytes)
	}
	enc := flash.Encoder()
	if enc == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoEncoder, flash.Address())
	}

	tokenIn := lead.Path.Tokens[0].Address()
	tokenOut := lead.Path.Tokens[1].Address()
	calldata, err := enc.EncodeSwapInAmountProvided(tokenIn, tokenOut, lead.AmountIn, e.Multicaller, innerBytes)
	if err != nil && lead.AmountOut != nil {
		// out-amount mirror: fix the output, pull the input in the
		// callback
		calldata, err = enc.EncodeSwapOutAmountProvided(tokenIn, tokenOut, lead.AmountOut, e.Multicaller, innerBytes)
	}
	if err != nil {
		return e.encodeBalancerFallback(steps, innerBytes)
	}
	return []Call{{Target: flash.Address(), Calldata: calldata}}, nil
}

// encodeBalancerFallback wraps the whole step pair inside a vault flash
// loan of the lead line's input token and amount.
func (e *Encoder) encodeBalancerFallback(steps *swap.BackrunSwapSteps, innerBytes []byte) ([]Call, error) {
	lead := steps.First.Lines[0]
	if lead.AmountIn == nil {
		return nil, swap.ErrZeroAmount
	}
	firstLeg, err := e.encodeSwap(&swap.Multiple{Swaps: stepSwaps(steps.First)})
	if err != nil {
		return nil, err
	}
	payload := append(EncodeCalls(firstLeg), innerBytes...)

	b := newCalldata4(selFlashLoan)
	b.address(e.Multicaller)
	// head offsets: recipient, tokens[], amounts[], userData
	b.uint(uint256.NewInt(4 * 32))
	b.uint(uint256.NewInt(6 * 32))
	b.uint(uint256.NewInt(8 * 32))
	b.uint(uint256.NewInt(1))
	b.address(lead.Path.Tokens[0].Address())
	b.uint(uint256.NewInt(1))
	b.uint(lead.AmountIn)
	b.uint(uint256.NewInt(uint64(len(payload))))
	b.raw(payload)
	return []Call{{Target: BalancerVault, Calldata: b.bytes()}}, nil
}

func stepSwaps(step *swap.SwapStep) []swap.Swap {
	if step == nil {
		return nil
	}
	out := make([]swap.Swap, 0, len(step.Lines))
	for _, line := range step.Lines {
		out = append(out, &swap.BackrunSwapLine{Line: line})
	}
	return out
}

func (e *Encoder) encodeSwap(s swap.Swap) ([]Call, error) {
	switch v := s.(type) {
	case *swap.BackrunSwapLine:
		return e.encodeLine(v.Line)
	case *swap.BackrunSwapSteps:
		return e.encodeSteps(v)
	case *swap.Multiple:
		var calls []Call
		for _, sub := range v.Swaps {
			sc, err := e.encodeSwap(sub)
			if err != nil {
				return nil, err
			}
			calls = append(calls, sc...)
		}
		return calls, nil
	default:
		return nil, fmt.Errorf("unknown swap variant %T", s)
	}
}

// Encode compiles the swap plus the tips transfer into the multicaller
// payload. tips may be nil or zero to omit the coinbase call.
func (e *Encoder) Encode(s swap.Swap, tips *uint256.Int) ([]byte, error) {
	calls, err := e.encodeSwap(s)
	if err != nil {
		return nil, err
	}
	if tips != nil && !tips.IsZero() {
		calls = append(calls, Call{Target: CoinbaseSentinel, Value: new(uint256.Int).Set(tips)})
	}
	return EncodeCalls(calls), nil
}

// TipsFor computes profit × tipsPct / 10_000, clamping the percentage.
func TipsFor(profit *uint256.Int, tipsPct uint32) *uint256.Int {
	if tipsPct > 10_000 {
		tipsPct = 10_000
	}
	tips := new(uint256.Int).Mul(profit, uint256.NewInt(uint64(tipsPct)))
	return tips.Div(tips, uint256.NewInt(10_000))
}
