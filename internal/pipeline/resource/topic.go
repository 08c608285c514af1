// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package resource

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryTopic is the in-memory Topic reference implementation. Messages are
// retained in publish order; claim state is tracked per consumer group, so
// each group sees every message while readers inside one group compete.
type MemoryTopic[T any] struct {
	name     string
	claimTTL time.Duration

	mu     sync.Mutex
	msgs   []topicMsg[T]
	nextID uint64
	groups map[string]map[uint64]*claimState
	notify chan struct{}
	now    func() time.Time // test hook
}

type topicMsg[T any] struct {
	id      uint64
	payload T
}

type claimState struct {
	leasedUntil time.Time
	acked       bool
}

// NewMemoryTopic builds a topic whose leases last claimTimeout.
func NewMemoryTopic[T any](name string, claimTimeout time.Duration) (*MemoryTopic[T], error) {
	if claimTimeout <= 0 {
		return nil, fmt.Errorf("resource: topic %q: claim timeout must be positive, got %v", name, claimTimeout)
	}
	return &MemoryTopic[T]{
		name:     name,
		claimTTL: claimTimeout,
		groups:   make(map[string]map[uint64]*claimState),
		notify:   make(chan struct{}),
		now:      time.Now,
	}, nil
}

func (t *MemoryTopic[T]) Name() string { return t.name }

// Publish appends v and wakes any blocked readers.
func (t *MemoryTopic[T]) Publish(ctx context.Context, v T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	t.nextID++
	t.msgs = append(t.msgs, topicMsg[T]{id: t.nextID, payload: v})
	wake := t.notify
	t.notify = make(chan struct{})
	t.mu.Unlock()
	close(wake)
	return nil
}

// Reader returns a competing-consumer handle for group. All readers created
// for the same group share claim state.
func (t *MemoryTopic[T]) Reader(group string) TopicReader[T] {
	return &memoryReader[T]{t: t, group: group}
}

// Stats implements the optional status surface.
func (t *MemoryTopic[T]) Stats() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return map[string]int64{"messages": int64(len(t.msgs))}
}

type memoryReader[T any] struct {
	t     *MemoryTopic[T]
	group string
}

// Poll leases the next message that is neither acked nor inside another
// reader's lease window. It waits up to timeout for one to become
// claimable, waking early on publishes and on lease expiries.
func (r *memoryReader[T]) Poll(ctx context.Context, timeout time.Duration) (Msg[T], bool, error) {
	deadline := r.t.now().Add(timeout)
	for {
		msg, ok, wake, nextExpiry := r.t.tryClaim(r.group)
		if ok {
			return msg, true, nil
		}
		now := r.t.now()
		wait := deadline.Sub(now)
		if wait <= 0 {
			return Msg[T]{}, false, nil
		}
		// A lease expiring before our deadline makes a message claimable
		// again; wake up then instead of sleeping the full timeout.
		if !nextExpiry.IsZero() {
			if until := nextExpiry.Sub(now); until > 0 && until < wait {
				wait = until
			} else if until <= 0 {
				continue
			}
		}
		timer := time.NewTimer(wait)
		select {
		case <-wake:
			timer.Stop()
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return Msg[T]{}, false, ctx.Err()
		}
	}
}

// Ack settles a message for this reader's group.
func (r *memoryReader[T]) Ack(id uint64) error {
	r.t.mu.Lock()
	defer r.t.mu.Unlock()
	st := r.t.group(r.group)[id]
	if st == nil {
		return fmt.Errorf("resource: topic %q: ack of unclaimed message %d", r.t.name, id)
	}
	st.acked = true
	return nil
}

// group returns the claim-state map for a group, creating it on first use.
// Caller must hold t.mu.
func (t *MemoryTopic[T]) group(name string) map[uint64]*claimState {
	g, ok := t.groups[name]
	if !ok {
		g = make(map[uint64]*claimState)
		t.groups[name] = g
	}
	return g
}

// tryClaim scans for the oldest claimable message for group. When none is
// claimable it returns the wake channel and the earliest outstanding lease
// expiry so the caller knows how long to wait.
func (t *MemoryTopic[T]) tryClaim(group string) (Msg[T], bool, <-chan struct{}, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	g := t.group(group)
	var nextExpiry time.Time
	for _, m := range t.msgs {
		st, claimed := g[m.id]
		if claimed && st.acked {
			continue
		}
		if claimed && st.leasedUntil.After(now) {
			if nextExpiry.IsZero() || st.leasedUntil.Before(nextExpiry) {
				nextExpiry = st.leasedUntil
			}
			continue
		}
		until := now.Add(t.claimTTL)
		if claimed {
			st.leasedUntil = until
		} else {
			g[m.id] = &claimState{leasedUntil: until}
		}
		return Msg[T]{ID: m.id, Payload: m.payload, LeasedUntil: until}, true, nil, time.Time{}
	}
	return Msg[T]{}, false, t.notify, nextExpiry
}
