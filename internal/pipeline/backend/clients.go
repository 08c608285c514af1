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
	"context"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// LoggingRedisCmd is a tiny demo client that just logs each command and
// pretends it succeeded. It lets a topology select the Redis tracker
// without needing a real Redis: every key reports unseen, every mark is
// accepted. Not for production use.
type LoggingRedisCmd struct{}

func (LoggingRedisCmd) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	if err := ctx.Err(); err != nil {
		return redis.NewBoolResult(false, err)
	}
	slog.Info("redis-demo SETNX", "key", key, "ttl", expiration)
	return redis.NewBoolResult(true, nil)
}

func (LoggingRedisCmd) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	if err := ctx.Err(); err != nil {
		return redis.NewIntResult(0, err)
	}
	slog.Info("redis-demo EXISTS", "keys", keys)
	return redis.NewIntResult(0, nil)
}

func (LoggingRedisCmd) Close() error { return nil }
