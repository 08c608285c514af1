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

// Package resource defines the typed resource contracts services depend on
// (bounded queue, dead-letter queue, idempotency tracker, write-once store,
// claim-based topic) together with in-memory reference implementations.
//
// Every implementation must be safe for concurrent use: a resource can be
// bound to ports of several services at once and is then hit from all of
// their goroutines. Blocking operations take a context and unblock promptly
// on cancellation.
package resource

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClosed is returned by operations on a closed resource.
	ErrClosed = errors.New("resource: closed")
	// ErrKeyExists is returned by Store.OpenWriter for a key that has
	// already been finalized. Keys are write-once.
	ErrKeyExists = errors.New("resource: key already exists")
	// ErrNotFound is returned when a storage key does not exist.
	ErrNotFound = errors.New("resource: key not found")
)

// Resource is the minimal surface the manager needs to track an instance.
// Implementations that hold external handles (files, connections) also
// implement io.Closer; the manager closes those exactly once on shutdown.
type Resource interface {
	Name() string
}

// Stats is optionally implemented by resources that can report occupancy
// gauges (queue depth, tracker size, unclaimed messages) for status views.
type Stats interface {
	Stats() map[string]int64
}

// Tracker is the idempotency contract: a deduplication store answering
// "seen before" for derived record keys, with TTL-bounded retention.
// After a key's TTL expires it may be reported unseen again; callers accept
// that relaxation in exchange for bounded memory.
type Tracker interface {
	Resource
	IsProcessed(ctx context.Context, key string) (bool, error)
	MarkProcessed(ctx context.Context, key string) error
}

// Store is write-once record storage addressed by deterministic keys.
// A writer stages frames invisibly and publishes them atomically on Close;
// readers never observe a partially written key.
type Store interface {
	Resource
	OpenWriter(key string) (Writer, error)
	Open(key string) (ReadCloser, error)
	Exists(key string) (bool, error)
}

// Sizer is optionally implemented by stores that can report the byte
// size of a finalized key.
type Sizer interface {
	Size(key string) (int64, error)
}

// Writer appends length-prefixed records under a single key.
type Writer interface {
	// WriteRecord appends one frame.
	WriteRecord(v any) error
	// Close finalizes the key and makes it visible to readers. After a
	// successful Close the key's content never changes.
	Close() error
	// Discard drops everything staged so far. Safe after a failed write.
	Discard() error
	// Bytes reports how many bytes have been staged.
	Bytes() int64
}

// ReadCloser is the raw byte stream for one storage key.
type ReadCloser interface {
	Read(p []byte) (int, error)
	Close() error
}

// Topic is a claim-based publish/consume channel. Readers in the same
// consumer group compete for messages: Poll leases the next unclaimed
// message for the topic's claim timeout, and a lease that is not settled
// with Ack becomes claimable again after expiry. Delivery is at-least-once
// with no duplicate concurrent delivery inside a lease window.
type Topic[T any] interface {
	Resource
	Publish(ctx context.Context, v T) error
	Reader(group string) TopicReader[T]
}

// TopicReader is one competing consumer's handle into a group.
type TopicReader[T any] interface {
	// Poll leases the next claimable message, waiting up to timeout.
	// ok is false when nothing became claimable in time; that is not an
	// error. The returned context error is non-nil only on cancellation.
	Poll(ctx context.Context, timeout time.Duration) (Msg[T], bool, error)
	// Ack settles a leased message so it is never redelivered.
	Ack(id uint64) error
}

// Msg is a leased topic message.
type Msg[T any] struct {
	ID      uint64
	Payload T
	// LeasedUntil is when the claim lapses if not acked.
	LeasedUntil time.Time
}
