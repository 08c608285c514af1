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

package backend

import (
	"fmt"
	"time"

	"simflow/internal/pipeline/resource"
	"simflow/pkg/record"
)

// TrackerOptions holds the knobs for building an idempotency tracker.
type TrackerOptions struct {
	// TTL bounds how long a mark is retained.
	TTL time.Duration
	// RedisAddr selects a real Redis client when set, e.g. "127.0.0.1:6379".
	// When empty the redis kind falls back to a logging demo client.
	RedisAddr string
	// SweepThreshold and SweepInterval tune the memory tracker's eviction.
	SweepThreshold int
	SweepInterval  time.Duration
}

// BuildTracker constructs a tracker for a string selector.
// Supported kinds:
//   - "memory" (default): in-process map with TTL eviction
//   - "redis": marks stored in Redis via SET NX; uses a logging demo
//     client when no address is configured, so a topology can select the
//     adapter without infrastructure
func BuildTracker(kind, name string, opts TrackerOptions) (resource.Tracker, error) {
	switch kind {
	case "", "memory":
		return resource.NewMemoryTracker(name, resource.MemoryTrackerOptions{
			TTL:            opts.TTL,
			SweepThreshold: opts.SweepThreshold,
			SweepInterval:  opts.SweepInterval,
		})
	case "redis":
		var client RedisCmd
		if opts.RedisAddr != "" {
			client = NewRedisClient(opts.RedisAddr)
		} else {
			client = LoggingRedisCmd{}
		}
		return NewRedisTracker(name, client, opts.TTL)
	default:
		return nil, fmt.Errorf("backend: unknown tracker kind: %s", kind)
	}
}

// TopicOptions holds the knobs for building a claim topic.
type TopicOptions struct {
	// ClaimTTL bounds how long a polled message stays leased without an ack.
	ClaimTTL time.Duration
	// Path is the SQLite database file for the sqlite kind. ":memory:"
	// gives an ephemeral topic.
	Path string
}

// BuildTopic constructs a batch-note topic for a string selector.
// Supported kinds:
//   - "memory" (default): in-process topic, lost on restart
//   - "sqlite": durable topic in a SQLite database
func BuildTopic(kind, name string, opts TopicOptions) (resource.Topic[record.BatchNote], error) {
	switch kind {
	case "", "memory":
		return resource.NewMemoryTopic[record.BatchNote](name, opts.ClaimTTL)
	case "sqlite":
		return NewSQLiteTopic[record.BatchNote](name, opts.Path, opts.ClaimTTL)
	default:
		return nil, fmt.Errorf("backend: unknown topic kind: %s", kind)
	}
}
