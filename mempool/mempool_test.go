// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mempool

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/core/types"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/backrun/event"
	"github.com/luxfi/backrun/state"
)

func dynTx(nonce uint64, gas uint64, feeCap int64) *types.Transaction {
	return types.NewTx(&types.DynamicFeeTx{
		Nonce:     nonce,
		Gas:       gas,
		GasFeeCap: big.NewInt(feeCap),
		GasTipCap: big.NewInt(1),
		To:        &common.Address{},
	})
}

func drain(sub *event.Subscription[event.MempoolEvent]) []event.MempoolEvent {
	var out []event.MempoolEvent
	for {
		select {
		case ev := <-sub.Ch():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestAddTxEmitsActualOnlyWhenValid(t *testing.T) {
	require := require.New(t)
	bus := event.NewBroadcaster[event.MempoolEvent](event.CapMempoolEvents)
	sub := bus.Subscribe()
	m := NewMempool(bus)

	baseFee := uint256.NewInt(100)

	// gas limit too small: TxUpdate only
	m.AddTx(dynTx(0, 21_000, 200), "rpc", baseFee)
	evs := drain(sub)
	require.Len(evs, 1)
	require.Equal(event.MempoolEventTxUpdate, evs[0].Kind)

	// healthy tx: TxUpdate + ActualTxUpdate
	m.AddTx(dynTx(1, 200_000, 200), "rpc", baseFee)
	evs = drain(sub)
	require.Len(evs, 2)
	require.Equal(event.MempoolEventActualTxUpdate, evs[1].Kind)

	// fee cap below base fee: TxUpdate only
	m.AddTx(dynTx(2, 200_000, 50), "rpc", baseFee)
	evs = drain(sub)
	require.Len(evs, 1)
	require.Equal(event.MempoolEventTxUpdate, evs[0].Kind)
}

func TestFieldsAreWriteOnce(t *testing.T) {
	require := require.New(t)
	m := NewMempool(nil)

	tx := dynTx(0, 200_000, 200)
	hash := tx.Hash()

	// trace before tx body: entry created either way
	m.AddLogs(hash, []types.Log{{Address: common.BytesToAddress([]byte{1})}})
	m.AddStateUpdate(hash, state.GethStateUpdate{})
	require.NotNil(m.Get(hash))
	require.Nil(m.Get(hash).Tx)

	m.AddTx(tx, "exex", nil)
	require.NotNil(m.Get(hash).Tx)

	// second log arrival does not overwrite
	m.AddLogs(hash, []types.Log{{}, {}})
	require.Len(m.Get(hash).Logs, 1)
}

func TestValidityPredicate(t *testing.T) {
	require := require.New(t)
	m := NewMempool(nil)

	tx := dynTx(0, 200_000, 200)
	m.AddTx(tx, "rpc", nil)

	require.True(m.IsValidForInclusion(tx.Hash(), uint256.NewInt(150)))
	require.False(m.IsValidForInclusion(tx.Hash(), uint256.NewInt(300)), "fee cap below next base fee")

	m.SetMined(tx.Hash(), 100)
	require.False(m.IsValidForInclusion(tx.Hash(), uint256.NewInt(150)), "mined txs are not candidates")

	tx2 := dynTx(1, 200_000, 200)
	m.AddTx(tx2, "rpc", nil)
	m.SetFailed(tx2.Hash())
	require.False(m.IsValidForInclusion(tx2.Hash(), uint256.NewInt(150)))
}

func TestGCByBlockDepth(t *testing.T) {
	require := require.New(t)
	m := NewMempool(nil)

	tx := dynTx(0, 200_000, 200)
	m.AddTx(tx, "rpc", nil)
	m.SetMined(tx.Hash(), 10)

	require.Zero(m.GC(40), "within the depth window")
	require.Equal(1, m.GC(100))
	require.Nil(m.Get(tx.Hash()))

	// collected hashes stay dead: a late trace must not resurrect
	m.AddLogs(tx.Hash(), []types.Log{{}})
	require.Nil(m.Get(tx.Hash()))
}

func TestPendingPreservesInsertionOrder(t *testing.T) {
	require := require.New(t)
	m := NewMempool(nil)

	txs := []*types.Transaction{dynTx(0, 200_000, 200), dynTx(1, 200_000, 200), dynTx(2, 200_000, 200)}
	for _, tx := range txs {
		m.AddTx(tx, "rpc", nil)
	}
	m.SetMined(txs[1].Hash(), 5)

	pending := m.Pending()
	require.Len(pending, 2)
	require.Equal(txs[0].Hash(), pending[0].Hash)
	require.Equal(txs[2].Hash(), pending[1].Hash)
}
