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

// Package record defines the wire-level payloads that flow through the
// pipeline: simulation ticks, run metadata, dead letters, and batch
// completion notes. It also provides deterministic key derivation and the
// length-prefixed frame codec used by the storage layer.
//
// Records are opaque to the resource layer; only the sinks interpret them.
package record

import "time"

// Message type tags carried by dead letters so downstream tooling can tell
// what failed without decoding the original payload.
const (
	TypeTick      = "Tick"
	TypeTickBatch = "TickBatch"
	TypeMetadata  = "Metadata"
)

// Tick is one simulation step produced by a run. Seq is strictly increasing
// within a run; the producer owns that invariant, the pipeline only relies
// on it for key derivation and batch bounds.
type Tick struct {
	RunID   string    `json:"run_id"`
	Seq     uint64    `json:"seq"`
	Payload []byte    `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// Metadata describes a simulation run. It is written at most once per run.
type Metadata struct {
	RunID string            `json:"run_id"`
	Name  string            `json:"name,omitempty"`
	Attrs map[string]string `json:"attrs,omitempty"`
	At    time.Time         `json:"at"`
}

// DeadLetter wraps a unit of work that exhausted its processing budget.
// Metadata carries at minimum the run id and the storage key that was
// attempted, so an operator can replay or discard the unit by hand.
type DeadLetter struct {
	ID            string            `json:"id"`
	MessageType   string            `json:"message_type"`
	Metadata      map[string]string `json:"metadata"`
	FailureReason string            `json:"failure_reason"`
	At            time.Time         `json:"at"`
}

// BatchNote announces a durably written tick batch on a topic so indexers
// can pick it up without scanning storage.
type BatchNote struct {
	RunID     string    `json:"run_id"`
	Path      string    `json:"path"`
	StartSeq  uint64    `json:"start_seq"`
	EndSeq    uint64    `json:"end_seq"`
	WrittenAt time.Time `json:"written_at"`
}
