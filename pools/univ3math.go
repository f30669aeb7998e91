// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pools

import (
	"errors"
	"math/bits"

	"github.com/holiman/uint256"
)

// Fixed-point and tick-domain constants of the concentrated-liquidity
// core contracts.
const (
	minTick int32 = -887272
	maxTick int32 = 887272
)

var (
	q96          = new(uint256.Int).Lsh(uint256.NewInt(1), 96)
	minSqrtRatio = uint256.NewInt(4295128739)
	maxSqrtRatio = mustU256("1461446703485210103287273052203988822378723970342")

	feeUnit = uint256.NewInt(1_000_000)

	// ErrSqrtPriceOutOfRange is the deterministic failure for a
	// corrupted or exhausted price state.
	ErrSqrtPriceOutOfRange = errors.New("sqrt price out of range")
	// ErrTickOutOfRange is returned when a tick walk leaves the domain.
	ErrTickOutOfRange = errors.New("tick out of range")
)

func mustU256(dec string) *uint256.Int {
	v, err := uint256.FromDecimal(dec)
	if err != nil {
		panic(err)
	}
	return v
}

func mustHexU256(hex string) *uint256.Int {
	v, err := uint256.FromHex(hex)
	if err != nil {
		panic(err)
	}
	return v
}

// sqrtRatioAtTickConstants are the per-bit multipliers of the canonical
// getSqrtRatioAtTick implementation.
var sqrtRatioAtTickConstants = []*uint256.Int{
	mustHexU256("0xfffcb933bd6fad37aa2d162d1a594001"),
	mustHexU256("0xfff97272373d413259a46990580e213a"),
	mustHexU256("0xfff2e50f5f656932ef12357cf3c7fdcc"),
	mustHexU256("0xffe5caca7e10e4e61c3624eaa0941cd0"),
	mustHexU256("0xffcb9843d60f6159c9db58835c926644"),
	mustHexU256("0xff973b41fa98c081472e6896dfb254c0"),
	mustHexU256("0xff2ea16466c96a3843ec78b326b52861"),
	mustHexU256("0xfe5dee046a99a2a811c461f1969c3053"),
	mustHexU256("0xfcbe86c7900a88aedcffc83b479aa3a4"),
	mustHexU256("0xf987a7253ac413176f2b074cf7815e54"),
	mustHexU256("0xf3392b0822b70005940c7a398e4b70f3"),
	mustHexU256("0xe7159475a2c29b7443b29c7fa6e889d9"),
	mustHexU256("0xd097f3bdfd2022b8845ad8f792aa5825"),
	mustHexU256("0xa9f746462d870fdf8a65dc1f90e061e5"),
	mustHexU256("0x70d869a156d2a1b890bb3df62baf32f7"),
	mustHexU256("0x31be135f97d08fd981231505542fcfa6"),
	mustHexU256("0x9aa508b5b7a84e1c677de54f3e99bc9"),
	mustHexU256("0x5d6af8dedb81196699c329225ee604"),
	mustHexU256("0x2216e584f5fa1ea926041bedfe98"),
	mustHexU256("0x48a170391f7dc42444e8fa2"),
}

// sqrtRatioAtTick converts a tick to its sqrt(1.0001^tick) * 2^96 price.
func sqrtRatioAtTick(tick int32) (*uint256.Int, error) {
	if tick < minTick || tick > maxTick {
		return nil, ErrTickOutOfRange
	}
	absTick := uint32(tick)
	if tick < 0 {
		absTick = uint32(-tick)
	}

	ratio := new(uint256.Int).Lsh(uint256.NewInt(1), 128)
	if absTick&1 != 0 {
		ratio.Set(sqrtRatioAtTickConstants[0])
	}
	for i := 1; i < len(sqrtRatioAtTickConstants); i++ {
		if absTick&(1<<uint(i)) != 0 {
			ratio.Mul(ratio, sqrtRatioAtTickConstants[i])
			ratio.Rsh(ratio, 128)
		}
	}
	if tick > 0 {
		max := new(uint256.Int).SetAllOne()
		ratio.Div(max, ratio)
	}

	// round up to Q64.96
	rem := new(uint256.Int).And(ratio, new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 32), 1))
	ratio.Rsh(ratio, 32)
	if !rem.IsZero() {
		ratio.AddUint64(ratio, 1)
	}
	return ratio, nil
}

// mulDiv computes floor(a*b/d) with 512-bit intermediate precision.
func mulDiv(a, b, d *uint256.Int) *uint256.Int {
	z, _ := new(uint256.Int).MulDivOverflow(a, b, d)
	return z
}

// mulDivRoundingUp computes ceil(a*b/d).
func mulDivRoundingUp(a, b, d *uint256.Int) *uint256.Int {
	z := mulDiv(a, b, d)
	if !new(uint256.Int).MulMod(a, b, d).IsZero() {
		z.AddUint64(z, 1)
	}
	return z
}

// divRoundingUp computes ceil(a/d).
func divRoundingUp(a, d *uint256.Int) *uint256.Int {
	z := new(uint256.Int).Div(a, d)
	if !new(uint256.Int).Mod(a, d).IsZero() {
		z.AddUint64(z, 1)
	}
	return z
}

// amount0Delta returns the token0 amount between two sqrt prices for a
// given liquidity.
func amount0Delta(sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) *uint256.Int {
	lo, hi := sqrtA, sqrtB
	if lo.Cmp(hi) > 0 {
		lo, hi = hi, lo
	}
	numerator1 := new(uint256.Int).Lsh(liquidity, 96)
	numerator2 := new(uint256.Int).Sub(hi, lo)
	if roundUp {
		return divRoundingUp(mulDivRoundingUp(numerator1, numerator2, hi), lo)
	}
	return new(uint256.Int).Div(mulDiv(numerator1, numerator2, hi), lo)
}

// amount1Delta returns the token1 amount between two sqrt prices.
func amount1Delta(sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) *uint256.Int {
	lo, hi := sqrtA, sqrtB
	if lo.Cmp(hi) > 0 {
		lo, hi = hi, lo
	}
	diff := new(uint256.Int).Sub(hi, lo)
	if roundUp {
		return mulDivRoundingUp(liquidity, diff, q96)
	}
	return mulDiv(liquidity, diff, q96)
}

// nextSqrtPriceFromInput moves the price by consuming amountIn of the
// input token.
func nextSqrtPriceFromInput(sqrtP, liquidity, amountIn *uint256.Int, zeroForOne bool) *uint256.Int {
	if zeroForOne {
		// price moves down: amount0 added
		numerator1 := new(uint256.Int).Lsh(liquidity, 96)
		product := new(uint256.Int).Mul(amountIn, sqrtP)
		if !amountIn.IsZero() && new(uint256.Int).Div(product, amountIn).Eq(sqrtP) {
			denominator := new(uint256.Int).Add(numerator1, product)
			if denominator.Cmp(numerator1) >= 0 {
				return mulDivRoundingUp(numerator1, sqrtP, denominator)
			}
		}
		return divRoundingUp(numerator1, new(uint256.Int).Add(new(uint256.Int).Div(numerator1, sqrtP), amountIn))
	}
	// price moves up: amount1 added
	quotient := new(uint256.Int).Lsh(amountIn, 96)
	quotient.Div(quotient, liquidity)
	return new(uint256.Int).Add(sqrtP, quotient)
}

// swapStepResult is one computeSwapStep outcome.
type swapStepResult struct {
	sqrtNext  *uint256.Int
	amountIn  *uint256.Int
	amountOut *uint256.Int
	feeAmount *uint256.Int
}

// computeSwapStep advances the price toward target consuming at most
// amountRemaining (exact input) at feePips.
func computeSwapStep(sqrtCurrent, sqrtTarget, liquidity, amountRemaining *uint256.Int, feePips uint64) swapStepResult {
	zeroForOne := sqrtCurrent.Cmp(sqrtTarget) >= 0

	feeFactor := new(uint256.Int).SubUint64(feeUnit, feePips)
	remainingLessFee := mulDiv(amountRemaining, feeFactor, feeUnit)

	var amountIn *uint256.Int
	if zeroForOne {
		amountIn = amount0Delta(sqrtTarget, sqrtCurrent, liquidity, true)
	} else {
		amountIn = amount1Delta(sqrtCurrent, sqrtTarget, liquidity, true)
	}

	var sqrtNext *uint256.Int
	if remainingLessFee.Cmp(amountIn) >= 0 {
		sqrtNext = new(uint256.Int).Set(sqrtTarget)
	} else {
		sqrtNext = nextSqrtPriceFromInput(sqrtCurrent, liquidity, remainingLessFee, zeroForOne)
	}
	max := sqrtNext.Eq(sqrtTarget)

	var amountOut *uint256.Int
	if zeroForOne {
		if !max {
			amountIn = amount0Delta(sqrtNext, sqrtCurrent, liquidity, true)
		}
		amountOut = amount1Delta(sqrtNext, sqrtCurrent, liquidity, false)
	} else {
		if !max {
			amountIn = amount1Delta(sqrtCurrent, sqrtNext, liquidity, true)
		}
		amountOut = amount0Delta(sqrtCurrent, sqrtNext, liquidity, false)
	}

	var feeAmount *uint256.Int
	if !max {
		feeAmount = new(uint256.Int).Sub(amountRemaining, amountIn)
	} else {
		feeAmount = mulDivRoundingUp(amountIn, uint256.NewInt(feePips), feeFactor)
	}
	return swapStepResult{sqrtNext: sqrtNext, amountIn: amountIn, amountOut: amountOut, feeAmount: feeAmount}
}

// mostSignificantBit returns the index of the highest set bit.
func mostSignificantBit(x *uint256.Int) uint {
	for i := 3; i >= 0; i-- {
		if w := x[i]; w != 0 {
			return uint(i*64 + bits.Len64(w) - 1)
		}
	}
	return 0
}

// leastSignificantBit returns the index of the lowest set bit.
func leastSignificantBit(x *uint256.Int) uint {
	for i := 0; i < 4; i++ {
		if w := x[i]; w != 0 {
			return uint(i*64 + bits.TrailingZeros64(w))
		}
	}
	return 0
}

// floorDiv divides rounding toward negative infinity.
func floorDiv(a, b int32) int32 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
