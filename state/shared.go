// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import "sync"

// SharedDB is the market-state shared value: one MarketDB behind a
// RWMutex. Writers mutate in place; readers either run under the read
// lock or take an O(1) fork and work on that.
type SharedDB struct {
	mu sync.RWMutex
	db *MarketDB
}

// NewSharedDB wraps db.
func NewSharedDB(db *MarketDB) *SharedDB {
	return &SharedDB{db: db}
}

// Fork returns a private fork of the current state.
func (s *SharedDB) Fork() *MarketDB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Fork()
}

// Apply overlays a diff under the write lock.
func (s *SharedDB) Apply(update GethStateUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.db.ApplyGethUpdate(update)
}

// Read runs fn under the read lock. fn must not retain the DB.
func (s *SharedDB) Read(fn func(*MarketDB)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.db)
}

// Update runs fn under the write lock. fn must not perform I/O.
func (s *SharedDB) Update(fn func(*MarketDB)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.db)
}

// Advance forks the current DB for the new block tip, applies the block
// diff to the shared copy and compacts it. The returned fork is the
// pre-compaction snapshot for block history.
func (s *SharedDB) Advance(update GethStateUpdate) *MarketDB {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.db.ApplyGethUpdate(update)
	snapshot := s.db.Fork()
	s.db = s.db.Fork()
	s.db.Maintain()
	return snapshot
}
