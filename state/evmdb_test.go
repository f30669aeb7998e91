// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/tracing"
	"github.com/stretchr/testify/require"
)

func TestEvmDBReadsThroughMarketDB(t *testing.T) {
	require := require.New(t)

	db := NewMarketDB(nil)
	db.ApplyGethUpdate(GethStateUpdate{
		addr(1): {
			Balance: uint256.NewInt(100),
			Storage: map[common.Hash]common.Hash{slot(1): word(0xaa)},
		},
	})

	evm := NewEvmDB(db)
	require.Equal(uint256.NewInt(100), evm.GetBalance(addr(1)))
	require.Equal(word(0xaa), evm.GetState(addr(1), slot(1)))
	require.Equal(word(0xaa), evm.GetCommittedState(addr(1), slot(1)))
	// a miss inside the EVM reads as zero, never as an error
	require.Equal(common.Hash{}, evm.GetState(addr(1), slot(9)))
}

func TestEvmDBSnapshotRevert(t *testing.T) {
	require := require.New(t)
	evm := NewEvmDB(NewMarketDB(nil))

	evm.CreateAccount(addr(1))
	evm.SetState(addr(1), slot(1), word(0x01))
	snap := evm.Snapshot()

	evm.SetState(addr(1), slot(1), word(0x02))
	evm.AddBalance(addr(1), uint256.NewInt(5), tracing.BalanceChangeUnspecified)
	require.Equal(word(0x02), evm.GetState(addr(1), slot(1)))

	evm.RevertToSnapshot(snap)
	require.Equal(word(0x01), evm.GetState(addr(1), slot(1)))
	require.True(evm.GetBalance(addr(1)).IsZero())
}

func TestEvmDBAccessListCollection(t *testing.T) {
	require := require.New(t)
	db := NewMarketDB(nil)
	db.ApplyGethUpdate(GethStateUpdate{
		addr(1): {Storage: map[common.Hash]common.Hash{slot(1): word(0xaa)}},
	})

	evm := NewEvmDB(db)
	evm.GetState(addr(1), slot(1))
	evm.GetState(addr(2), slot(2))
	evm.GetBalance(addr(3))

	al := evm.AccessList()
	require.Len(al, 3)
	// deterministic: sorted by address, slots sorted within
	require.Equal(addr(1), al[0].Address)
	require.Equal(addr(2), al[1].Address)
	require.Equal(addr(3), al[2].Address)
	require.Len(al[0].StorageKeys, 1)
	require.Empty(al[2].StorageKeys)

	// every touched slot is present: the ready bundle's access list is
	// a superset of re-simulated touches by construction
	ok, slotOk := evm.SlotInAccessList(addr(2), slot(2))
	require.True(ok)
	require.True(slotOk)
}

func TestEvmDBChangesCommitBack(t *testing.T) {
	require := require.New(t)
	db := NewMarketDB(nil)

	evm := NewEvmDB(db)
	evm.CreateAccount(addr(1))
	evm.SetState(addr(1), slot(1), word(0x7))
	evm.AddBalance(addr(1), uint256.NewInt(42), tracing.BalanceChangeUnspecified)

	db.Commit(evm.Changes())

	v, err := db.Storage(addr(1), slot(1))
	require.NoError(err)
	require.Equal(word(0x7), v)
	info, err := db.Basic(addr(1))
	require.NoError(err)
	require.Equal(uint256.NewInt(42), info.Balance)
}

func TestEvmDBRefundCounter(t *testing.T) {
	require := require.New(t)
	evm := NewEvmDB(NewMarketDB(nil))

	evm.AddRefund(100)
	evm.SubRefund(30)
	require.Equal(uint64(70), evm.GetRefund())
	evm.SubRefund(1000)
	require.Zero(evm.GetRefund(), "refund clamps at zero")
}
