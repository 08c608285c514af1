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

package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"simflow/internal/pipeline/resource"
	"simflow/internal/pipeline/service"
	"simflow/pkg/record"
)

// MetadataSinkConfig are the recognized options of the one-shot sink.
type MetadataSinkConfig struct {
	MaxRetries     int `yaml:"maxRetries"`
	RetryBackoffMs int `yaml:"retryBackoffMs"`
}

// Validate checks option ranges.
func (c MetadataSinkConfig) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("sink: maxRetries must be non-negative, got %d", c.MaxRetries)
	}
	if c.RetryBackoffMs < 0 {
		return fmt.Errorf("sink: retryBackoffMs must be non-negative, got %d", c.RetryBackoffMs)
	}
	return nil
}

// MetadataSink consumes exactly one metadata record, validates it, writes
// it under the run's deterministic key with the same retry and dead-letter
// policy as the batching sink, then stops itself regardless of outcome.
// A stop arriving while it is still blocked on the initial receive exits
// cleanly with zero records processed and no metrics changed.
type MetadataSink struct {
	*service.Base
	cfg   MetadataSinkConfig
	input *resource.Queue[record.Metadata]
	store resource.Store
	dlq   *resource.DeadLetterQueue
	log   *slog.Logger
}

// NewMetadataSink validates cfg and the port bindings.
//
// Ports: input (Queue[Metadata], required), storage (Store, required),
// deadletter (DeadLetterQueue, optional).
func NewMetadataSink(name string, cfg MetadataSinkConfig, ports service.Ports) (*MetadataSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sink %q: %w", name, err)
	}
	input, err := service.One[*resource.Queue[record.Metadata]](ports, PortInput)
	if err != nil {
		return nil, fmt.Errorf("sink %q: %w", name, err)
	}
	store, err := service.One[resource.Store](ports, PortStorage)
	if err != nil {
		return nil, fmt.Errorf("sink %q: %w", name, err)
	}
	dlq, _, err := service.Optional[*resource.DeadLetterQueue](ports, PortDeadLetter)
	if err != nil {
		return nil, fmt.Errorf("sink %q: %w", name, err)
	}
	s := &MetadataSink{
		Base:  service.NewBase(name),
		cfg:   cfg,
		input: input,
		store: store,
		dlq:   dlq,
		log:   slog.With("service", name),
	}
	s.SetRunner(s.run)
	return s, nil
}

// receiveSlice bounds how long one receive attempt blocks, so pause and
// stop requests are honored even while the queue stays empty.
const receiveSlice = 250 * time.Millisecond

func (s *MetadataSink) run(ctx context.Context) error {
	var md record.Metadata
	for {
		if err := s.Checkpoint(ctx); err != nil {
			return err
		}
		slice, cancel := context.WithTimeout(ctx, receiveSlice)
		v, err := s.input.Take(slice)
		cancel()
		if err == nil {
			md = v
			break
		}
		if ctx.Err() != nil {
			// Shutdown before anything arrived: nothing processed,
			// nothing counted.
			return ctx.Err()
		}
		// Receive slice elapsed with an empty queue; check for pause or
		// stop and wait again.
	}

	if md.RunID == "" {
		s.AddMetric("metadata_failed", 1)
		s.RecordError(errTypeConsistency, "metadata record has empty run id")
		s.deadLetter(md, "", "metadata validation failed: empty run id")
		return nil
	}

	key := record.MetadataKey(md.RunID)
	bytes, err := writeKeyWithRetry(ctx, s.store, key, s.cfg.MaxRetries, time.Duration(s.cfg.RetryBackoffMs)*time.Millisecond, func(w resource.Writer) error {
		return w.WriteRecord(md)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		s.AddMetric("metadata_failed", 1)
		s.deadLetter(md, key, fmt.Sprintf("metadata write failed after %d attempts: %v", s.cfg.MaxRetries+1, err))
		return nil
	}

	s.AddMetric("metadata_written", 1)
	s.AddMetric("bytes_written", bytes)
	s.log.Info("metadata written", "run_id", md.RunID, "key", key, "bytes", bytes)
	return nil
}

func (s *MetadataSink) deadLetter(md record.Metadata, key, reason string) {
	if s.dlq == nil {
		s.RecordError(errTypeStorage, reason+" (no dead-letter queue bound)")
		return
	}
	dl := record.DeadLetter{
		ID:          uuid.NewString(),
		MessageType: record.TypeMetadata,
		Metadata: map[string]string{
			"run_id":      md.RunID,
			"storage_key": key,
		},
		FailureReason: reason,
		At:            time.Now(),
	}
	if !s.dlq.Offer(dl) {
		s.RecordError(errTypeDLQFull, fmt.Sprintf("dead-letter queue full, metadata for run %q lost", md.RunID))
	}
}
