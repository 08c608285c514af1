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
	"strconv"
	"time"

	"github.com/google/uuid"

	"simflow/internal/pipeline/resource"
	"simflow/internal/pipeline/service"
	"simflow/pkg/record"
)

// TickSinkConfig are the recognized options of the batching sink. Invalid
// values fail construction with a descriptive error; nothing is clamped.
type TickSinkConfig struct {
	// MaxBatchSize bounds how many ticks one batch may hold.
	MaxBatchSize int `yaml:"maxBatchSize"`
	// BatchTimeoutSeconds bounds how long a batch may stay open.
	BatchTimeoutSeconds int `yaml:"batchTimeoutSeconds"`
	// MaxRetries is how many additional write attempts follow a failure.
	MaxRetries int `yaml:"maxRetries"`
	// RetryBackoffMs is the fixed delay between attempts.
	RetryBackoffMs int `yaml:"retryBackoffMs"`
	// MaxTicks, when positive, self-stops the sink once that many ticks
	// have been written. Zero means run until stopped.
	MaxTicks int64 `yaml:"maxTicks"`
}

// Validate checks option ranges.
func (c TickSinkConfig) Validate() error {
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("sink: maxBatchSize must be positive, got %d", c.MaxBatchSize)
	}
	if c.BatchTimeoutSeconds <= 0 {
		return fmt.Errorf("sink: batchTimeoutSeconds must be positive, got %d", c.BatchTimeoutSeconds)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("sink: maxRetries must be non-negative, got %d", c.MaxRetries)
	}
	if c.RetryBackoffMs < 0 {
		return fmt.Errorf("sink: retryBackoffMs must be non-negative, got %d", c.RetryBackoffMs)
	}
	if c.MaxTicks < 0 {
		return fmt.Errorf("sink: maxTicks must be non-negative, got %d", c.MaxTicks)
	}
	return nil
}

// TickSink drains a tick queue into size/time-bounded batches, enforces
// single-run consistency per batch, deduplicates through an optional
// idempotency tracker, persists batches atomically with retry, dead-letters
// exhausted batches, and optionally announces completed batches on a topic.
type TickSink struct {
	*service.Base
	cfg     TickSinkConfig
	input   *resource.Queue[record.Tick]
	store   resource.Store
	tracker resource.Tracker
	dlq     *resource.DeadLetterQueue
	topic   resource.Topic[record.BatchNote]
	log     *slog.Logger
}

// NewTickSink validates cfg, resolves the port bindings fail-fast, and
// returns a stopped sink.
//
// Ports: input (Queue[Tick], required), storage (Store, required),
// dedup (Tracker, optional), deadletter (DeadLetterQueue, optional),
// notify (Topic[BatchNote], optional).
func NewTickSink(name string, cfg TickSinkConfig, ports service.Ports) (*TickSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sink %q: %w", name, err)
	}
	input, err := service.One[*resource.Queue[record.Tick]](ports, PortInput)
	if err != nil {
		return nil, fmt.Errorf("sink %q: %w", name, err)
	}
	store, err := service.One[resource.Store](ports, PortStorage)
	if err != nil {
		return nil, fmt.Errorf("sink %q: %w", name, err)
	}
	tracker, _, err := service.Optional[resource.Tracker](ports, PortDedup)
	if err != nil {
		return nil, fmt.Errorf("sink %q: %w", name, err)
	}
	dlq, _, err := service.Optional[*resource.DeadLetterQueue](ports, PortDeadLetter)
	if err != nil {
		return nil, fmt.Errorf("sink %q: %w", name, err)
	}
	topic, _, err := service.Optional[resource.Topic[record.BatchNote]](ports, PortNotify)
	if err != nil {
		return nil, fmt.Errorf("sink %q: %w", name, err)
	}
	s := &TickSink{
		Base:    service.NewBase(name),
		cfg:     cfg,
		input:   input,
		store:   store,
		tracker: tracker,
		dlq:     dlq,
		topic:   topic,
		log:     slog.With("service", name),
	}
	s.SetRunner(s.run)
	return s, nil
}

func (s *TickSink) run(ctx context.Context) error {
	timeout := time.Duration(s.cfg.BatchTimeoutSeconds) * time.Second
	for {
		if err := s.Checkpoint(ctx); err != nil {
			return err
		}
		batch, drainErr := s.input.Drain(ctx, s.cfg.MaxBatchSize, timeout)
		if len(batch) > 0 {
			fctx := ctx
			if drainErr != nil {
				// Final flush of the records already taken off the queue.
				// Detached from the stop signal so tracker marks and the
				// batch announcement still land; cancellation is shutdown,
				// not a batch failure.
				fctx = context.WithoutCancel(ctx)
			}
			s.flush(fctx, batch)
		}
		if drainErr != nil {
			return drainErr
		}
		if s.cfg.MaxTicks > 0 && s.Metric("ticks_written") >= s.cfg.MaxTicks {
			s.log.Info("tick limit reached, stopping", "max_ticks", s.cfg.MaxTicks)
			return nil
		}
	}
}

func (s *TickSink) flush(ctx context.Context, batch []record.Tick) {
	s.SetMetric("current_batch_size", int64(len(batch)))
	defer s.SetMetric("current_batch_size", 0)

	runID := batch[0].RunID
	for _, tk := range batch {
		if tk.RunID != runID {
			// Mixed runs abort the whole batch before any storage call.
			// The policy is to lose the batch rather than persist a
			// partial, out-of-order slice of it; mismatched records are
			// not retried individually.
			s.AddMetric("batches_failed", 1)
			s.RecordError(errTypeConsistency, fmt.Sprintf("batch mixes run %q with run %q", runID, tk.RunID))
			s.log.Error("discarding inconsistent batch", "run_id", runID, "other_run_id", tk.RunID, "size", len(batch))
			return
		}
	}

	kept := batch
	if s.tracker != nil {
		kept = make([]record.Tick, 0, len(batch))
		for _, tk := range batch {
			key := record.TickKey(tk)
			seen, err := s.tracker.IsProcessed(ctx, key)
			if err != nil {
				// A broken tracker degrades to at-least-once: keep the
				// tick rather than risk losing it. Cancellation is not a
				// tracker fault and is not logged.
				if !errors.Is(err, context.Canceled) {
					s.RecordError(errTypeDedup, fmt.Sprintf("is-processed %q: %v", key, err))
				}
				seen = false
			}
			if seen {
				s.AddMetric("duplicate_ticks_detected", 1)
				continue
			}
			if err := s.tracker.MarkProcessed(ctx, key); err != nil && !errors.Is(err, context.Canceled) {
				s.RecordError(errTypeDedup, fmt.Sprintf("mark-processed %q: %v", key, err))
			}
			kept = append(kept, tk)
		}
	}
	if len(kept) == 0 {
		return
	}

	key := record.BatchKey(runID, kept[0].Seq, kept[len(kept)-1].Seq)
	bytes, err := writeKeyWithRetry(ctx, s.store, key, s.cfg.MaxRetries, time.Duration(s.cfg.RetryBackoffMs)*time.Millisecond, func(w resource.Writer) error {
		for _, tk := range kept {
			if err := w.WriteRecord(tk); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Shutdown interrupted the retry loop; not a batch failure.
			return
		}
		s.AddMetric("batches_failed", 1)
		s.deadLetter(runID, key, kept, err)
		return
	}

	s.AddMetric("batches_written", 1)
	s.AddMetric("ticks_written", int64(len(kept)))
	s.AddMetric("bytes_written", bytes)
	s.log.Debug("batch written", "run_id", runID, "key", key, "ticks", len(kept), "bytes", bytes)

	if s.topic != nil {
		note := record.BatchNote{
			RunID:     runID,
			Path:      key,
			StartSeq:  kept[0].Seq,
			EndSeq:    kept[len(kept)-1].Seq,
			WrittenAt: time.Now(),
		}
		if err := s.topic.Publish(ctx, note); err != nil {
			// The batch is durable; a failed announcement is its own
			// error, not a batch failure.
			if !errors.Is(err, context.Canceled) {
				s.RecordError(errTypeNotify, fmt.Sprintf("publish note for %q: %v", key, err))
			}
		} else {
			s.AddMetric("notifications_sent", 1)
		}
	}
}

func (s *TickSink) deadLetter(runID, key string, batch []record.Tick, cause error) {
	reason := fmt.Sprintf("batch write failed after %d attempts: %v", s.cfg.MaxRetries+1, cause)
	if s.dlq == nil {
		s.RecordError(errTypeStorage, reason+" (no dead-letter queue bound)")
		s.log.Error("batch lost, no dead-letter queue bound", "run_id", runID, "key", key)
		return
	}
	dl := record.DeadLetter{
		ID:          uuid.NewString(),
		MessageType: record.TypeTickBatch,
		Metadata: map[string]string{
			"run_id":      runID,
			"storage_key": key,
			"start_seq":   strconv.FormatUint(batch[0].Seq, 10),
			"end_seq":     strconv.FormatUint(batch[len(batch)-1].Seq, 10),
			"batch_size":  strconv.Itoa(len(batch)),
		},
		FailureReason: reason,
		At:            time.Now(),
	}
	if !s.dlq.Offer(dl) {
		s.RecordError(errTypeDLQFull, fmt.Sprintf("dead-letter queue full, batch %q lost", key))
		s.log.Error("dead-letter queue full", "run_id", runID, "key", key)
	}
}
