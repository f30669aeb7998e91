// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package composer

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core"
	"github.com/luxfi/geth/core/types"
	"github.com/luxfi/geth/core/vm"
	"github.com/luxfi/geth/params"

	"github.com/luxfi/backrun/event"
	"github.com/luxfi/backrun/state"
)

const (
	// estimateGasLimit caps the estimation call.
	estimateGasLimit = 3_000_000
	// minEstimatedGas: anything below this means the call short-circuited
	// without touching a pool.
	minEstimatedGas = 60_000
)

var (
	// ErrEstimationReverted is the deterministic failure of the EVM pass.
	ErrEstimationReverted = errors.New("estimation reverted")
	// ErrGasTooLow rejects estimations that cannot have executed the
	// swaps.
	ErrGasTooLow = errors.New("estimated gas below floor")
)

// Estimator runs the encoded transaction through the EVM against the
// forked post-state and collects gas plus the touched-state access list.
type Estimator struct {
	ChainConfig *params.ChainConfig
	Multicaller common.Address
}

// EstimateResult carries the second-pass outputs.
type EstimateResult struct {
	GasUsed    uint64
	AccessList types.AccessList
	Ret        []byte
}

// Estimate executes calldata from the EOA against db at the compose
// message's block context.
func (e *Estimator) Estimate(c *event.Compose, db *state.MarketDB) (*EstimateResult, error) {
	evmDB := state.NewEvmDB(db)

	blockCtx := vm.BlockContext{
		CanTransfer: core.CanTransfer,
		Transfer:    core.Transfer,
		GetHash:     func(uint64) common.Hash { return common.Hash{} },
		Coinbase:    common.Address{},
		BlockNumber: new(big.Int).SetUint64(c.NextBlockNumber),
		Time:        c.NextBlockTimestamp,
		Difficulty:  new(big.Int),
		GasLimit:    30_000_000,
		BaseFee:     c.NextBaseFee.ToBig(),
		Random:      &common.Hash{},
	}
	chainConfig := e.ChainConfig
	if chainConfig == nil {
		chainConfig = params.MainnetChainConfig
	}
	evm := vm.NewEVM(blockCtx, evmDB, chainConfig, vm.Config{})
	evm.SetTxContext(vm.TxContext{Origin: c.Eoa, GasPrice: c.NextBaseFee.ToBig()})

	rules := chainConfig.Rules(blockCtx.BlockNumber, true, blockCtx.Time)
	evmDB.Prepare(rules, c.Eoa, blockCtx.Coinbase, &e.Multicaller, vm.ActivePrecompiles(rules), nil)

	ret, leftOver, err := evm.Call(c.Eoa, e.Multicaller, c.Calldata, estimateGasLimit, new(uint256.Int))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEstimationReverted, err)
	}
	gasUsed := uint64(estimateGasLimit) - leftOver
	if gasUsed < minEstimatedGas {
		return nil, fmt.Errorf("%w: %d", ErrGasTooLow, gasUsed)
	}
	return &EstimateResult{
		GasUsed:    gasUsed,
		AccessList: evmDB.AccessList(),
		Ret:        ret,
	}, nil
}
