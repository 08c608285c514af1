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

// Package backend provides resource implementations backed by external
// systems: a Redis idempotency tracker and a SQLite claim topic. Both
// satisfy the contracts in internal/pipeline/resource, so a topology can
// swap the in-memory variants for these without touching any service.
package backend

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisCmd abstracts the minimal surface the tracker needs from a Redis
// client. Implementations may wrap github.com/redis/go-redis/v9 or any
// equivalent.
type RedisCmd interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// defaultKeyPrefix namespaces tracker keys so a shared Redis can host
// several pipelines.
const defaultKeyPrefix = "simflow:dedup:"

// RedisTracker is an idempotency tracker whose marks live in Redis.
// A mark is a SET NX with an expiry, so retention is TTL-bounded on the
// server side and marks survive process restarts.
//
// Notes:
//   - MarkProcessed is idempotent: re-marking an existing key is a no-op
//     and does not refresh its TTL.
//   - An expired mark makes the key report unseen again; callers accept
//     that relaxation in exchange for bounded storage.
type RedisTracker struct {
	name   string
	client RedisCmd
	ttl    time.Duration
	prefix string
}

// NewRedisTracker returns a tracker using the given client. markerTTL
// guards against unbounded growth of marks; choose a duration comfortably
// larger than the maximum redelivery window.
func NewRedisTracker(name string, client RedisCmd, markerTTL time.Duration) (*RedisTracker, error) {
	if client == nil {
		return nil, fmt.Errorf("backend: tracker %q: redis client must not be nil", name)
	}
	if markerTTL <= 0 {
		markerTTL = 24 * time.Hour
	}
	return &RedisTracker{name: name, client: client, ttl: markerTTL, prefix: defaultKeyPrefix}, nil
}

func (t *RedisTracker) Name() string { return t.name }

func (t *RedisTracker) key(k string) string { return t.prefix + k }

// IsProcessed reports whether key carries an unexpired mark.
func (t *RedisTracker) IsProcessed(ctx context.Context, key string) (bool, error) {
	n, err := t.client.Exists(ctx, t.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("backend: tracker %q: exists %s: %w", t.name, key, err)
	}
	return n > 0, nil
}

// MarkProcessed records key as seen with the tracker's TTL.
func (t *RedisTracker) MarkProcessed(ctx context.Context, key string) error {
	if err := t.client.SetNX(ctx, t.key(key), 1, t.ttl).Err(); err != nil {
		return fmt.Errorf("backend: tracker %q: setnx %s: %w", t.name, key, err)
	}
	return nil
}

// Close releases the underlying client connection.
func (t *RedisTracker) Close() error { return t.client.Close() }

// NewRedisClient builds a go-redis client for an address like
// "127.0.0.1:6379".
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}
