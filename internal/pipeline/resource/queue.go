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
	"time"

	"simflow/pkg/record"
)

// Queue is a bounded FIFO queue backed by a buffered channel. Put blocks
// while the queue is full (backpressure toward the producer), Take blocks
// while it is empty; both unblock on context cancellation. Capacity is
// fixed at construction.
type Queue[T any] struct {
	name string
	ch   chan T
}

// NewQueue creates a queue with the given capacity. Capacity must be
// positive.
func NewQueue[T any](name string, capacity int) (*Queue[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("resource: queue %q: capacity must be positive, got %d", name, capacity)
	}
	return &Queue[T]{name: name, ch: make(chan T, capacity)}, nil
}

func (q *Queue[T]) Name() string { return q.name }

// Put enqueues v, blocking while the queue is full.
func (q *Queue[T]) Put(ctx context.Context, v T) error {
	select {
	case q.ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPut enqueues v without blocking. It reports whether v was accepted.
func (q *Queue[T]) TryPut(v T) bool {
	select {
	case q.ch <- v:
		return true
	default:
		return false
	}
}

// Take dequeues one element, blocking while the queue is empty.
func (q *Queue[T]) Take(ctx context.Context) (T, error) {
	select {
	case v := <-q.ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Drain removes up to max elements within timeout and returns them in FIFO
// order. A zero-length result on timeout is not an error. On cancellation
// the elements collected so far are returned together with the context
// error so the caller can still process them before exiting.
func (q *Queue[T]) Drain(ctx context.Context, max int, timeout time.Duration) ([]T, error) {
	if max <= 0 {
		return nil, nil
	}
	out := make([]T, 0, max)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for len(out) < max {
		select {
		case v := <-q.ch:
			out = append(out, v)
		case <-timer.C:
			return out, nil
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
	return out, nil
}

// Len reports the current queue depth.
func (q *Queue[T]) Len() int { return len(q.ch) }

// Cap reports the fixed capacity.
func (q *Queue[T]) Cap() int { return cap(q.ch) }

// Stats implements the optional status surface.
func (q *Queue[T]) Stats() map[string]int64 {
	return map[string]int64{"depth": int64(len(q.ch)), "capacity": int64(cap(q.ch))}
}

// DeadLetterQueue is a bounded sink for units of work that exhausted their
// retry allowance. Offer never blocks: a full queue is reported to the
// caller, which must record the capacity failure rather than drop silently.
type DeadLetterQueue struct {
	Queue[record.DeadLetter]
}

// NewDeadLetterQueue creates a dead-letter queue with the given capacity.
func NewDeadLetterQueue(name string, capacity int) (*DeadLetterQueue, error) {
	q, err := NewQueue[record.DeadLetter](name, capacity)
	if err != nil {
		return nil, err
	}
	return &DeadLetterQueue{Queue: *q}, nil
}

// Offer appends one dead letter, reporting false when the queue is full.
func (q *DeadLetterQueue) Offer(dl record.DeadLetter) bool {
	return q.TryPut(dl)
}
