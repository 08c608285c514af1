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
	"errors"
	"testing"
	"time"

	"simflow/pkg/record"
)

func TestQueueRejectsNonPositiveCapacity(t *testing.T) {
	if _, err := NewQueue[int]("q", 0); err == nil {
		t.Fatalf("expected error for capacity 0")
	}
	if _, err := NewQueue[int]("q", -1); err == nil {
		t.Fatalf("expected error for negative capacity")
	}
}

func TestQueuePutTakeFIFO(t *testing.T) {
	q, err := NewQueue[int]("q", 4)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if err := q.Put(ctx, i); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
	}
	for i := 0; i < 4; i++ {
		v, err := q.Take(ctx)
		if err != nil {
			t.Fatalf("Take: %v", err)
		}
		if v != i {
			t.Fatalf("Take = %d, want %d", v, i)
		}
	}
}

func TestQueuePutBlocksWhenFull(t *testing.T) {
	q, _ := NewQueue[int]("q", 1)
	ctx := context.Background()
	if err := q.Put(ctx, 1); err != nil {
		t.Fatalf("Put: %v", err)
	}

	blocked := make(chan error, 1)
	go func() {
		cctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		blocked <- q.Put(cctx, 2)
	}()
	if err := <-blocked; !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded from blocked Put, got %v", err)
	}

	// After making room the producer proceeds.
	if _, err := q.Take(ctx); err != nil {
		t.Fatalf("Take: %v", err)
	}
	if err := q.Put(ctx, 2); err != nil {
		t.Fatalf("Put after room: %v", err)
	}
}

func TestQueueTakeUnblocksOnCancel(t *testing.T) {
	q, _ := NewQueue[int]("q", 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := q.Take(ctx)
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Take did not unblock on cancellation")
	}
}

func TestQueueDrainTimeoutIsNotError(t *testing.T) {
	q, _ := NewQueue[int]("q", 4)
	got, err := q.Drain(context.Background(), 4, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Drain = %d elements, want 0", len(got))
	}
}

func TestQueueDrainStopsAtMax(t *testing.T) {
	q, _ := NewQueue[int]("q", 8)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = q.Put(ctx, i)
	}
	got, err := q.Drain(ctx, 3, time.Second)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Drain = %d elements, want 3", len(got))
	}
	if q.Len() != 2 {
		t.Fatalf("queue depth = %d, want 2", q.Len())
	}
}

func TestQueueDrainReturnsCollectedOnCancel(t *testing.T) {
	q, _ := NewQueue[int]("q", 8)
	_ = q.Put(context.Background(), 1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	got, err := q.Drain(ctx, 5, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected Canceled, got %v", err)
	}
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected the drained prefix [1], got %v", got)
	}
}

func TestDeadLetterQueueOfferReportsFull(t *testing.T) {
	dlq, err := NewDeadLetterQueue("dlq", 1)
	if err != nil {
		t.Fatalf("NewDeadLetterQueue: %v", err)
	}
	if !dlq.Offer(record.DeadLetter{ID: "a"}) {
		t.Fatalf("first Offer should be accepted")
	}
	if dlq.Offer(record.DeadLetter{ID: "b"}) {
		t.Fatalf("second Offer should report full")
	}
	got, err := dlq.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if got.ID != "a" {
		t.Fatalf("Take = %q, want %q", got.ID, "a")
	}
}
