// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package monitor

import (
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/log"

	"github.com/luxfi/backrun/state"
)

// StateHealthMonitor pins the expected values of registered read-only
// cells and verifies them after each applied block diff. A moved cell
// means the read-only registration is wrong for that pool, which would
// silently corrupt pricing; it is re-pinned and reported.
type StateHealthMonitor struct {
	db *state.SharedDB

	mu       sync.Mutex
	expected map[common.Address]map[common.Hash]common.Hash
}

// NewStateHealthMonitor wraps the shared DB.
func NewStateHealthMonitor(db *state.SharedDB) *StateHealthMonitor {
	return &StateHealthMonitor{
		db:       db,
		expected: make(map[common.Address]map[common.Hash]common.Hash),
	}
}

// Pin records the current value of (addr, slot) as the invariant.
func (m *StateHealthMonitor) Pin(addr common.Address, slot common.Hash) {
	var value common.Hash
	m.db.Read(func(db *state.MarketDB) {
		value, _ = db.Storage(addr, slot)
	})
	m.mu.Lock()
	defer m.mu.Unlock()
	cells, ok := m.expected[addr]
	if !ok {
		cells = make(map[common.Hash]common.Hash)
		m.expected[addr] = cells
	}
	cells[slot] = value
}

// Verify re-reads every pinned cell, returning the addresses whose
// cells moved. Moved cells are re-pinned so one fault reports once.
func (m *StateHealthMonitor) Verify() []common.Address {
	m.mu.Lock()
	defer m.mu.Unlock()

	var moved []common.Address
	m.db.Read(func(db *state.MarketDB) {
		for addr, cells := range m.expected {
			for slot, want := range cells {
				got, err := db.Storage(addr, slot)
				if err != nil {
					continue
				}
				if got != want {
					log.Warn("Read-only cell moved", "account", addr, "slot", slot, "want", want, "got", got)
					cells[slot] = got
					moved = append(moved, addr)
				}
			}
		}
	})
	return moved
}
