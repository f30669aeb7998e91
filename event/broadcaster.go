// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package event holds the typed broadcast channels the actor graph
// communicates over, and the message types they carry.
package event

import (
	"sync"
	"sync/atomic"
)

// Broadcaster is a bounded multi-producer/multi-consumer broadcast
// channel. Each subscriber gets every message in send order; a subscriber
// whose buffer is full loses the oldest buffered message and its lag
// counter increments.
type Broadcaster[T any] struct {
	mu       sync.Mutex
	subs     map[*Subscription[T]]struct{}
	capacity int
	closed   bool
}

// Subscription is one subscriber's view of a Broadcaster.
type Subscription[T any] struct {
	ch     chan T
	lagged atomic.Uint64
	owner  *Broadcaster[T]
}

// NewBroadcaster returns a broadcaster whose subscribers buffer capacity
// messages.
func NewBroadcaster[T any](capacity int) *Broadcaster[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Broadcaster[T]{
		subs:     make(map[*Subscription[T]]struct{}),
		capacity: capacity,
	}
}

// Subscribe registers a new subscriber. Subscribing to a closed
// broadcaster yields an already-closed subscription.
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &Subscription[T]{ch: make(chan T, b.capacity), owner: b}
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Send delivers v to every subscriber, dropping the oldest buffered
// message for any subscriber that is full.
func (b *Broadcaster[T]) Send(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		for {
			select {
			case sub.ch <- v:
			default:
				// full: drop oldest and retry
				select {
				case <-sub.ch:
					sub.lagged.Add(1)
				default:
				}
				continue
			}
			break
		}
	}
}

// Close closes every subscription channel; receivers observe channel
// close and exit.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
}

// Ch returns the receive channel.
func (s *Subscription[T]) Ch() <-chan T { return s.ch }

// Lagged returns how many messages this subscriber has lost.
func (s *Subscription[T]) Lagged() uint64 { return s.lagged.Load() }

// Unsubscribe detaches the subscription and closes its channel.
func (s *Subscription[T]) Unsubscribe() {
	b := s.owner
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
}
