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

// MemoryTracker is the in-memory Tracker reference implementation: a mutex
// guarded map of key -> mark time with TTL-based eviction. Eviction runs
// inside MarkProcessed when the entry count crosses sweepAt or when
// sweepEvery has elapsed since the last sweep; it only ever removes keys
// whose TTL has lapsed, so a key inside its TTL always answers seen.
type MemoryTracker struct {
	name       string
	ttl        time.Duration
	sweepAt    int
	sweepEvery time.Duration

	mu        sync.Mutex
	entries   map[string]time.Time
	lastSweep time.Time
	now       func() time.Time // test hook
}

// MemoryTrackerOptions configure a MemoryTracker.
type MemoryTrackerOptions struct {
	// TTL is how long a mark is retained. Must be positive.
	TTL time.Duration
	// SweepThreshold triggers an eviction sweep when the entry count
	// reaches it. Default 65536.
	SweepThreshold int
	// SweepInterval triggers a sweep when this much time has passed since
	// the previous one. Default 1 minute.
	SweepInterval time.Duration
}

// NewMemoryTracker validates opts and builds a tracker.
func NewMemoryTracker(name string, opts MemoryTrackerOptions) (*MemoryTracker, error) {
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("resource: tracker %q: ttl must be positive, got %v", name, opts.TTL)
	}
	if opts.SweepThreshold <= 0 {
		opts.SweepThreshold = 65536
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	return &MemoryTracker{
		name:       name,
		ttl:        opts.TTL,
		sweepAt:    opts.SweepThreshold,
		sweepEvery: opts.SweepInterval,
		entries:    make(map[string]time.Time),
		lastSweep:  time.Now(),
		now:        time.Now,
	}, nil
}

func (t *MemoryTracker) Name() string { return t.name }

// IsProcessed reports whether key was marked within its TTL. An expired
// entry is removed and answers false; that relaxation of exactly-once is
// part of the contract.
func (t *MemoryTracker) IsProcessed(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.entries[key]
	if !ok {
		return false, nil
	}
	if t.now().Sub(at) >= t.ttl {
		delete(t.entries, key)
		return false, nil
	}
	return true, nil
}

// MarkProcessed records key as handled. Re-marking a key refreshes its TTL
// and never double-counts it.
func (t *MemoryTracker) MarkProcessed(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key] = t.now()
	if len(t.entries) >= t.sweepAt || t.now().Sub(t.lastSweep) >= t.sweepEvery {
		t.sweepLocked()
	}
	return nil
}

// Len reports the current number of retained keys.
func (t *MemoryTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Stats implements the optional status surface.
func (t *MemoryTracker) Stats() map[string]int64 {
	return map[string]int64{"keys": int64(t.Len())}
}

func (t *MemoryTracker) sweepLocked() {
	now := t.now()
	for k, at := range t.entries {
		if now.Sub(at) >= t.ttl {
			delete(t.entries, k)
		}
	}
	t.lastSweep = now
}
