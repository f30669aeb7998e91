// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package monitor watches pool health and the fate of broadcast
// bundles.
package monitor

import (
	"context"
	"sync"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/backrun/event"
	"github.com/luxfi/backrun/market"
)

const (
	// FailThreshold disables a pool after this many distinct swap errors
	// inside the window.
	FailThreshold = 3
	// FailWindowBlocks is the rolling window failures are counted over.
	FailWindowBlocks = 256
	// DefaultHealAfterBlocks re-enables a disabled pool after this many
	// blocks without a new failure.
	DefaultHealAfterBlocks = 256
)

type failure struct {
	reason string
	block  uint64
}

type poolRecord struct {
	// failures holds the deduplicated swap errors inside the window.
	failures []failure
	disabled bool
	// disabledAt is the block of the last failure while disabled.
	disabledAt uint64
}

// HealthMonitor consumes swap-error events, auto-disables pools past
// the failure threshold and heals them after a quiet period.
type HealthMonitor struct {
	market    *market.Market
	healAfter uint64

	in *event.Subscription[event.HealthEvent]

	mu      sync.Mutex
	records map[common.Address]*poolRecord

	disabledTotal prometheus.Counter
	healedTotal   prometheus.Counter

	wg sync.WaitGroup
}

// NewHealthMonitor wires a monitor; healAfter 0 selects the default.
func NewHealthMonitor(mkt *market.Market, in *event.Subscription[event.HealthEvent], healAfter uint64, reg prometheus.Registerer) *HealthMonitor {
	if healAfter == 0 {
		healAfter = DefaultHealAfterBlocks
	}
	m := &HealthMonitor{
		market:    mkt,
		healAfter: healAfter,
		in:        in,
		records:   make(map[common.Address]*poolRecord),
		disabledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backrun_pools_disabled_total",
			Help: "Pools auto-disabled after repeated swap failures",
		}),
		healedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backrun_pools_healed_total",
			Help: "Pools re-enabled after a quiet period",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.disabledTotal, m.healedTotal)
	}
	return m
}

// Start launches the consume loop.
func (m *HealthMonitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-m.in.Ch():
				if !ok {
					return
				}
				if ev.Kind == event.HealthPoolSwapError {
					m.RecordFailure(ev.Pool, ev.Reason, ev.Block)
				}
			}
		}
	}()
}

// Wait blocks until the consume loop exits.
func (m *HealthMonitor) Wait() { m.wg.Wait() }

// RecordFailure counts one distinct (pool, reason) failure at block and
// disables the pool once the threshold is crossed within the window.
func (m *HealthMonitor) RecordFailure(pool common.Address, reason string, block uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[pool]
	if !ok {
		rec = &poolRecord{}
		m.records[pool] = rec
	}
	// the searcher dedups per event; repeats of one (reason, block) here
	// are replays and do not count twice
	for _, f := range rec.failures {
		if f.reason == reason && f.block == block {
			return
		}
	}
	rec.failures = append(rec.failures, failure{reason: reason, block: block})
	if rec.disabled {
		rec.disabledAt = block
		return
	}

	// drop failures that fell out of the rolling window
	kept := rec.failures[:0]
	for _, f := range rec.failures {
		if block < FailWindowBlocks || f.block >= block-FailWindowBlocks {
			kept = append(kept, f)
		}
	}
	rec.failures = kept

	if len(rec.failures) >= FailThreshold {
		rec.disabled = true
		rec.disabledAt = block
		m.market.DisablePool(pool, true)
		m.disabledTotal.Inc()
		log.Warn("Pool auto-disabled", "pool", pool, "failures", len(rec.failures), "block", block)
	}
}

// OnNewBlock heals pools whose last failure is older than the healing
// window.
func (m *HealthMonitor) OnNewBlock(number uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for pool, rec := range m.records {
		if !rec.disabled {
			continue
		}
		if number > rec.disabledAt && number-rec.disabledAt >= m.healAfter {
			rec.disabled = false
			rec.failures = nil
			m.market.DisablePool(pool, false)
			m.healedTotal.Inc()
			log.Info("Pool healed", "pool", pool, "block", number)
		}
	}
}

// IsDisabled reports the monitor's view of a pool.
func (m *HealthMonitor) IsDisabled(pool common.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[pool]
	return ok && rec.disabled
}
