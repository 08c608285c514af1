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
	"sync"
	"testing"
	"time"
)

func newTestTracker(t *testing.T, ttl time.Duration) *MemoryTracker {
	t.Helper()
	tr, err := NewMemoryTracker("dedup", MemoryTrackerOptions{TTL: ttl})
	if err != nil {
		t.Fatalf("NewMemoryTracker: %v", err)
	}
	return tr
}

func TestTrackerRejectsNonPositiveTTL(t *testing.T) {
	if _, err := NewMemoryTracker("dedup", MemoryTrackerOptions{}); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}

func TestTrackerMarkThenSeen(t *testing.T) {
	tr := newTestTracker(t, time.Hour)
	ctx := context.Background()

	seen, err := tr.IsProcessed(ctx, "run:1")
	if err != nil || seen {
		t.Fatalf("fresh key: seen=%v err=%v", seen, err)
	}
	if err := tr.MarkProcessed(ctx, "run:1"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	seen, err = tr.IsProcessed(ctx, "run:1")
	if err != nil || !seen {
		t.Fatalf("marked key: seen=%v err=%v", seen, err)
	}
}

func TestTrackerDoesNotDoubleCount(t *testing.T) {
	tr := newTestTracker(t, time.Hour)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := tr.MarkProcessed(ctx, "same-key"); err != nil {
			t.Fatalf("MarkProcessed: %v", err)
		}
	}
	if tr.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tr.Len())
	}
}

func TestTrackerTTLExpiryAnswersUnseen(t *testing.T) {
	tr := newTestTracker(t, time.Minute)
	now := time.Unix(1000, 0)
	tr.now = func() time.Time { return now }
	ctx := context.Background()

	if err := tr.MarkProcessed(ctx, "k"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	now = now.Add(59 * time.Second)
	if seen, _ := tr.IsProcessed(ctx, "k"); !seen {
		t.Fatalf("key inside TTL must answer seen")
	}
	now = now.Add(2 * time.Second)
	if seen, _ := tr.IsProcessed(ctx, "k"); seen {
		t.Fatalf("expired key must answer unseen")
	}
	if tr.Len() != 0 {
		t.Fatalf("expired key should be dropped, Len = %d", tr.Len())
	}
}

func TestTrackerSweepKeepsLiveKeys(t *testing.T) {
	tr, err := NewMemoryTracker("dedup", MemoryTrackerOptions{TTL: time.Minute, SweepThreshold: 4})
	if err != nil {
		t.Fatalf("NewMemoryTracker: %v", err)
	}
	now := time.Unix(1000, 0)
	tr.now = func() time.Time { return now }
	ctx := context.Background()

	_ = tr.MarkProcessed(ctx, "old-1")
	_ = tr.MarkProcessed(ctx, "old-2")
	now = now.Add(2 * time.Minute)
	// These marks cross the sweep threshold; only the expired keys go.
	_ = tr.MarkProcessed(ctx, "new-1")
	_ = tr.MarkProcessed(ctx, "new-2")

	if seen, _ := tr.IsProcessed(ctx, "new-1"); !seen {
		t.Fatalf("live key evicted by sweep")
	}
	if seen, _ := tr.IsProcessed(ctx, "old-1"); seen {
		t.Fatalf("expired key survived sweep")
	}
}

func TestTrackerConcurrentMarks(t *testing.T) {
	tr := newTestTracker(t, time.Hour)
	ctx := context.Background()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = tr.MarkProcessed(ctx, "shared")
				_, _ = tr.IsProcessed(ctx, "shared")
			}
		}()
	}
	wg.Wait()
	if tr.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tr.Len())
	}
}
