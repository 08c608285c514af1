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

// Package sink implements the concrete persistence services: a continuous
// batching sink for tick streams and a one-shot sink for run metadata.
// Both drain typed queues, write length-prefixed records to write-once
// storage under deterministic keys, and route irrecoverable failures to a
// dead-letter queue.
package sink

import (
	"context"
	"errors"
	"time"

	"simflow/internal/pipeline/resource"
)

// Logical port names shared by the sinks. The topology binds resources to
// these names; arity and type are enforced at construction.
const (
	PortInput      = "input"
	PortStorage    = "storage"
	PortDedup      = "dedup"
	PortDeadLetter = "deadletter"
	PortNotify     = "notify"
)

// Error types recorded in the service error log.
const (
	errTypeConsistency = "consistency"
	errTypeStorage     = "storage"
	errTypeDLQFull     = "dlq_full"
	errTypeDedup       = "dedup"
	errTypeNotify      = "notify"
)

// writeKeyWithRetry attempts the write closure against key up to
// maxRetries+1 times, sleeping backoff between attempts. The sleep is
// interruptible; a cancelled context aborts immediately and is reported
// as-is so callers can tell shutdown from exhaustion. A key that turns out
// to already exist counts as success: keys are deterministic and
// write-once, so the content is the same regardless of who finished it.
func writeKeyWithRetry(ctx context.Context, store resource.Store, key string, maxRetries int, backoff time.Duration, write func(resource.Writer) error) (int64, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
		n, err := writeKeyOnce(store, key, write)
		if err == nil {
			return n, nil
		}
		if errors.Is(err, resource.ErrKeyExists) {
			// A prior attempt (ours or a competing instance's) finalized
			// the key with identical content; count its size as ours when
			// the store can report it.
			if sz, ok := store.(resource.Sizer); ok {
				if n, sizeErr := sz.Size(key); sizeErr == nil {
					return n, nil
				}
			}
			return 0, nil
		}
		lastErr = err
	}
	return 0, lastErr
}

func writeKeyOnce(store resource.Store, key string, write func(resource.Writer) error) (int64, error) {
	w, err := store.OpenWriter(key)
	if err != nil {
		return 0, err
	}
	if err := write(w); err != nil {
		_ = w.Discard()
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return w.Bytes(), nil
}
