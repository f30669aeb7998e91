// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package monitor

import (
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/log"
	"github.com/prometheus/client_golang/prometheus"
)

// StuffingTxMonitor tracks whether the stuffing txs our bundles were
// built around actually land; a high miss rate means the mempool feed
// lags the builders.
type StuffingTxMonitor struct {
	mu sync.Mutex
	// watching maps stuffing hash -> bundle target block.
	watching map[common.Hash]uint64

	landed prometheus.Counter
	missed prometheus.Counter
}

// NewStuffingTxMonitor builds a monitor; reg may be nil.
func NewStuffingTxMonitor(reg prometheus.Registerer) *StuffingTxMonitor {
	m := &StuffingTxMonitor{
		watching: make(map[common.Hash]uint64),
		landed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backrun_stuffing_landed_total",
			Help: "Stuffing txs observed on chain after broadcast",
		}),
		missed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backrun_stuffing_missed_total",
			Help: "Stuffing txs that never landed",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.landed, m.missed)
	}
	return m
}

// Watch records the stuffing hashes of one broadcast bundle.
func (m *StuffingTxMonitor) Watch(hashes []common.Hash, targetBlock uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range hashes {
		m.watching[h] = targetBlock
	}
}

// OnBlockTxs resolves watched hashes against a committed block's tx set;
// watched entries whose target block has passed unresolved count as
// missed.
func (m *StuffingTxMonitor) OnBlockTxs(number uint64, txHashes []common.Hash) {
	mined := make(map[common.Hash]struct{}, len(txHashes))
	for _, h := range txHashes {
		mined[h] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, target := range m.watching {
		if _, ok := mined[hash]; ok {
			m.landed.Inc()
			delete(m.watching, hash)
			continue
		}
		if number > target {
			m.missed.Inc()
			delete(m.watching, hash)
			log.Debug("Stuffing tx missed", "hash", hash, "target", target, "block", number)
		}
	}
}

// Watching returns how many hashes are outstanding.
func (m *StuffingTxMonitor) Watching() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watching)
}
