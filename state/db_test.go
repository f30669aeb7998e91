// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"
)

func addr(b byte) common.Address { return common.BytesToAddress([]byte{b}) }
func slot(b byte) common.Hash    { return common.BytesToHash([]byte{b}) }
func word(b byte) common.Hash    { return common.BytesToHash([]byte{b}) }

func u64ptr(v uint64) *uint64 { return &v }

func TestApplyGethUpdate(t *testing.T) {
	require := require.New(t)

	db := NewMarketDB(nil)
	db.ApplyGethUpdate(GethStateUpdate{
		addr(1): {
			Balance: uint256.NewInt(100),
			Nonce:   u64ptr(7),
			Storage: map[common.Hash]common.Hash{slot(1): word(0xaa)},
		},
	})

	info, err := db.Basic(addr(1))
	require.NoError(err)
	require.NotNil(info)
	require.Equal(uint64(7), info.Nonce)
	require.Equal(uint256.NewInt(100), info.Balance)

	v, err := db.Storage(addr(1), slot(1))
	require.NoError(err)
	require.Equal(word(0xaa), v)

	// a second partial diff keeps the fields it does not mention
	db.ApplyGethUpdate(GethStateUpdate{
		addr(1): {Storage: map[common.Hash]common.Hash{slot(2): word(0xbb)}},
	})
	info, err = db.Basic(addr(1))
	require.NoError(err)
	require.Equal(uint64(7), info.Nonce)
}

func TestApplyGethUpdateSkipsReadOnlyCells(t *testing.T) {
	require := require.New(t)

	db := NewMarketDB(nil)
	db.ApplyGethUpdate(GethStateUpdate{
		addr(1): {Storage: map[common.Hash]common.Hash{slot(1): word(0x01)}},
	})
	db.AddReadOnlyCell(addr(1), slot(1))

	db.ApplyGethUpdate(GethStateUpdate{
		addr(1): {Storage: map[common.Hash]common.Hash{
			slot(1): word(0xff),
			slot(2): word(0x02),
		}},
	})

	v, err := db.Storage(addr(1), slot(1))
	require.NoError(err)
	require.Equal(word(0x01), v, "read-only cell must not move")
	v, err = db.Storage(addr(1), slot(2))
	require.NoError(err)
	require.Equal(word(0x02), v)
}

func TestForkIsolation(t *testing.T) {
	require := require.New(t)

	parent := NewMarketDB(nil)
	parent.ApplyGethUpdate(GethStateUpdate{
		addr(1): {Storage: map[common.Hash]common.Hash{slot(1): word(0x01)}},
	})

	forkA := parent.Fork()
	forkB := parent.Fork()

	forkA.ApplyGethUpdate(GethStateUpdate{
		addr(1): {Storage: map[common.Hash]common.Hash{slot(1): word(0xaa)}},
	})

	// fork A sees its own write
	v, err := forkA.Storage(addr(1), slot(1))
	require.NoError(err)
	require.Equal(word(0xaa), v)

	// parent and fork B do not
	v, err = parent.Storage(addr(1), slot(1))
	require.NoError(err)
	require.Equal(word(0x01), v)
	v, err = forkB.Storage(addr(1), slot(1))
	require.NoError(err)
	require.Equal(word(0x01), v)
}

func TestForkReadsThroughLower(t *testing.T) {
	require := require.New(t)

	parent := NewMarketDB(nil)
	parent.ApplyGethUpdate(GethStateUpdate{
		addr(1): {Balance: uint256.NewInt(42), Storage: map[common.Hash]common.Hash{slot(1): word(0x01)}},
	})

	fork := parent.Fork().Fork().Fork()
	v, err := fork.Storage(addr(1), slot(1))
	require.NoError(err)
	require.Equal(word(0x01), v)

	info, err := fork.Basic(addr(1))
	require.NoError(err)
	require.Equal(uint256.NewInt(42), info.Balance)
}

func TestMaintainCollapsesLayers(t *testing.T) {
	require := require.New(t)

	db := NewMarketDB(nil)
	db.ApplyGethUpdate(GethStateUpdate{
		addr(1): {Storage: map[common.Hash]common.Hash{slot(1): word(0x01)}},
	})
	db = db.Fork()
	db.ApplyGethUpdate(GethStateUpdate{
		addr(1): {Storage: map[common.Hash]common.Hash{slot(2): word(0x02)}},
		addr(2): {Balance: uint256.NewInt(5)},
	})

	db.Maintain()

	v, err := db.Storage(addr(1), slot(1))
	require.NoError(err)
	require.Equal(word(0x01), v)
	v, err = db.Storage(addr(1), slot(2))
	require.NoError(err)
	require.Equal(word(0x02), v)
	require.Equal(2, db.AccountCount())
}

func TestApplyThenReverseRestoresStorage(t *testing.T) {
	require := require.New(t)

	db := NewMarketDB(nil)
	db.ApplyGethUpdate(GethStateUpdate{
		addr(1): {Storage: map[common.Hash]common.Hash{slot(1): word(0x01), slot(2): word(0x02)}},
	})

	forward := GethStateUpdate{
		addr(1): {Storage: map[common.Hash]common.Hash{slot(1): word(0xaa)}},
	}
	reverse := GethStateUpdate{
		addr(1): {Storage: map[common.Hash]common.Hash{slot(1): word(0x01)}},
	}

	db.ApplyGethUpdate(forward)
	db.ApplyGethUpdate(reverse)

	v, err := db.Storage(addr(1), slot(1))
	require.NoError(err)
	require.Equal(word(0x01), v)
	v, err = db.Storage(addr(1), slot(2))
	require.NoError(err)
	require.Equal(word(0x02), v)
}

func TestCommitSelfDestructClearsStorage(t *testing.T) {
	require := require.New(t)

	db := NewMarketDB(nil)
	db.ApplyGethUpdate(GethStateUpdate{
		addr(1): {Storage: map[common.Hash]common.Hash{slot(1): word(0x01)}},
	})

	db.Commit(map[common.Address]*AccountChange{
		addr(1): {SelfDestructed: true},
	})

	v, err := db.Storage(addr(1), slot(1))
	require.NoError(err)
	require.Equal(common.Hash{}, v, "cleared storage reads as zero, not through lower layers")
}

func TestMissingSlotWithoutBacking(t *testing.T) {
	require := require.New(t)

	db := NewMarketDB(nil)
	_, err := db.Storage(addr(9), slot(1))
	require.ErrorIs(err, ErrMissingSlot)
}

func TestForceInsertAccounts(t *testing.T) {
	require := require.New(t)

	db := NewMarketDB(nil)
	info, err := db.Basic(addr(5))
	require.NoError(err)
	require.Nil(info)

	db.AddForceInsert(addr(5))
	info, err = db.Basic(addr(5))
	require.NoError(err)
	require.NotNil(info, "force-insert accounts never report not-existing")
}

func TestMergeUpdates(t *testing.T) {
	require := require.New(t)

	a := GethStateUpdate{addr(1): {Storage: map[common.Hash]common.Hash{slot(1): word(0x01)}}}
	b := GethStateUpdate{addr(1): {Storage: map[common.Hash]common.Hash{slot(1): word(0x02)}}}

	merged := Merge(a, b)
	require.Equal(word(0x02), merged[addr(1)].Storage[slot(1)], "later update wins")
	require.Len(AffectedAddresses(a, b), 1)
}
