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
	"math"
	"testing"
	"time"

	"simflow/internal/pipeline/resource"
	"simflow/internal/pipeline/service"
	"simflow/pkg/record"
)

type metaFixture struct {
	input *resource.Queue[record.Metadata]
	store *flakyStore
	ports service.Ports
}

func newMetaFixture(t *testing.T) *metaFixture {
	t.Helper()
	fs, err := resource.NewFileStore("runs", t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	input, err := resource.NewQueue[record.Metadata]("metadata", 4)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	store := &flakyStore{FileStore: fs}
	ports := service.Ports{}
	ports.Bind(PortInput, input)
	ports.Bind(PortStorage, store)
	return &metaFixture{input: input, store: store, ports: ports}
}

func waitStopped(t *testing.T, s *MetadataSink) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == service.StateStopped {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("sink did not stop, state = %v", s.State())
}

func TestMetadataSinkWritesOneRecordThenStops(t *testing.T) {
	fx := newMetaFixture(t)
	s, err := NewMetadataSink("meta-sink", MetadataSinkConfig{MaxRetries: 1, RetryBackoffMs: 1}, fx.ports)
	if err != nil {
		t.Fatalf("NewMetadataSink: %v", err)
	}
	in := record.Metadata{RunID: "sim-7", Name: "experiment", Attrs: map[string]string{"seed": "42"}}
	if err := fx.input.Put(context.Background(), in); err != nil {
		t.Fatalf("Put: %v", err)
	}

	_ = s.Start()
	waitStopped(t, s)

	if s.Metric("metadata_written") != 1 {
		t.Fatalf("metadata_written = %d", s.Metric("metadata_written"))
	}
	if s.Metric("metadata_failed") != 0 {
		t.Fatalf("metadata_failed = %d", s.Metric("metadata_failed"))
	}
	out, err := resource.ReadOne[record.Metadata](fx.store, record.MetadataKey("sim-7"))
	if err != nil {
		t.Fatalf("ReadOne: %v", err)
	}
	if out.RunID != in.RunID || out.Name != in.Name || out.Attrs["seed"] != "42" {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestMetadataSinkStopWhileBlockedOnReceive(t *testing.T) {
	fx := newMetaFixture(t)
	s, err := NewMetadataSink("meta-sink", MetadataSinkConfig{}, fx.ports)
	if err != nil {
		t.Fatalf("NewMetadataSink: %v", err)
	}
	_ = s.Start()
	time.Sleep(10 * time.Millisecond) // let it block on the empty queue
	s.Stop()

	if s.State() != service.StateStopped {
		t.Fatalf("state = %v", s.State())
	}
	for name, v := range s.Metrics() {
		if v != 0 {
			t.Fatalf("metric %s = %d after clean shutdown, want 0", name, v)
		}
	}
	if !s.Healthy() {
		t.Fatalf("cancelled receive must not be logged as an error")
	}
}

func TestMetadataSinkRejectsEmptyRunID(t *testing.T) {
	fx := newMetaFixture(t)
	dlq, _ := resource.NewDeadLetterQueue("failed", 4)
	fx.ports.Bind(PortDeadLetter, dlq)
	s, err := NewMetadataSink("meta-sink", MetadataSinkConfig{}, fx.ports)
	if err != nil {
		t.Fatalf("NewMetadataSink: %v", err)
	}
	_ = fx.input.Put(context.Background(), record.Metadata{Name: "missing run id"})

	_ = s.Start()
	waitStopped(t, s)

	if s.Metric("metadata_failed") != 1 {
		t.Fatalf("metadata_failed = %d", s.Metric("metadata_failed"))
	}
	if fx.store.calls() != 0 {
		t.Fatalf("invalid record reached storage")
	}
	dl, err := dlq.Take(context.Background())
	if err != nil {
		t.Fatalf("expected a dead letter: %v", err)
	}
	if dl.MessageType != record.TypeMetadata {
		t.Fatalf("MessageType = %q", dl.MessageType)
	}
}

func TestMetadataSinkExhaustedRetriesDeadLetter(t *testing.T) {
	fx := newMetaFixture(t)
	fx.store.failures = math.MaxInt
	dlq, _ := resource.NewDeadLetterQueue("failed", 4)
	fx.ports.Bind(PortDeadLetter, dlq)
	s, err := NewMetadataSink("meta-sink", MetadataSinkConfig{MaxRetries: 2, RetryBackoffMs: 1}, fx.ports)
	if err != nil {
		t.Fatalf("NewMetadataSink: %v", err)
	}
	_ = fx.input.Put(context.Background(), record.Metadata{RunID: "sim-8"})

	_ = s.Start()
	waitStopped(t, s)

	if fx.store.calls() != 3 {
		t.Fatalf("OpenWriter called %d times, want 3", fx.store.calls())
	}
	if s.Metric("metadata_written") != 0 || s.Metric("metadata_failed") != 1 {
		t.Fatalf("metrics = %v", s.Metrics())
	}
	dl, err := dlq.Take(context.Background())
	if err != nil {
		t.Fatalf("expected a dead letter: %v", err)
	}
	if dl.Metadata["run_id"] != "sim-8" || dl.Metadata["storage_key"] != record.MetadataKey("sim-8") {
		t.Fatalf("dead letter metadata = %v", dl.Metadata)
	}
}

func TestMetadataSinkConfigValidation(t *testing.T) {
	fx := newMetaFixture(t)
	if _, err := NewMetadataSink("m", MetadataSinkConfig{MaxRetries: -1}, fx.ports); err == nil {
		t.Fatalf("negative maxRetries should fail construction")
	}
	if _, err := NewMetadataSink("m", MetadataSinkConfig{RetryBackoffMs: -1}, fx.ports); err == nil {
		t.Fatalf("negative retryBackoffMs should fail construction")
	}
}
