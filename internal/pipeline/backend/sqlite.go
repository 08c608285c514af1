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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"simflow/internal/pipeline/resource"
)

const sqliteTopicSchema = `
CREATE TABLE IF NOT EXISTS topic_messages (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	payload      BLOB NOT NULL,
	published_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS topic_claims (
	message_id     INTEGER NOT NULL,
	consumer_group TEXT NOT NULL,
	token          TEXT NOT NULL,
	lease_until    INTEGER NOT NULL,
	acked          INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (message_id, consumer_group)
);
`

// SQLiteTopic is a claim-based topic whose messages and leases live in a
// SQLite database, so published notes survive process restarts and can be
// consumed by a different process.
//
// Payloads are stored as JSON. Claims are per consumer group: readers in
// the same group compete for messages, and a claim that is not acked
// becomes claimable again once its lease lapses. Timestamps are stored as
// Unix milliseconds.
//
// Notes:
//   - The connection pool is capped at one connection; SQLite serializes
//     writers anyway and a single connection avoids SQLITE_BUSY churn.
//   - Poll discovers new messages by re-querying on a short interval
//     rather than an in-process wakeup, since publishers may live in
//     another process.
type SQLiteTopic[T any] struct {
	name      string
	db        *sql.DB
	claimTTL  time.Duration
	pollEvery time.Duration

	now func() time.Time
}

// NewSQLiteTopic opens (creating if needed) the database at path. Use
// ":memory:" for an ephemeral topic. claimTimeout bounds how long a
// polled message stays leased without an ack.
func NewSQLiteTopic[T any](name, path string, claimTimeout time.Duration) (*SQLiteTopic[T], error) {
	if path == "" {
		return nil, fmt.Errorf("backend: topic %q: sqlite path must not be empty", name)
	}
	if claimTimeout <= 0 {
		return nil, fmt.Errorf("backend: topic %q: claim timeout must be positive, got %v", name, claimTimeout)
	}
	// _txlock=immediate makes claim transactions take the write lock up
	// front instead of upgrading a deferred read snapshot, which would
	// SQLITE_BUSY when another process claims concurrently.
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("backend: topic %q: open %s: %w", name, path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteTopicSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("backend: topic %q: create schema: %w", name, err)
	}
	return &SQLiteTopic[T]{
		name:      name,
		db:        db,
		claimTTL:  claimTimeout,
		pollEvery: 20 * time.Millisecond,
		now:       time.Now,
	}, nil
}

func (t *SQLiteTopic[T]) Name() string { return t.name }

// Publish appends v to the topic.
func (t *SQLiteTopic[T]) Publish(ctx context.Context, v T) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("backend: topic %q: encode payload: %w", t.name, err)
	}
	_, err = t.db.ExecContext(ctx,
		`INSERT INTO topic_messages (payload, published_at) VALUES (?, ?)`,
		payload, t.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("backend: topic %q: insert: %w", t.name, err)
	}
	return nil
}

// Reader returns a consuming handle for the given group. Readers sharing
// a group compete; readers in different groups each see every message.
func (t *SQLiteTopic[T]) Reader(group string) resource.TopicReader[T] {
	return &sqliteReader[T]{topic: t, group: group, leases: make(map[uint64]string)}
}

// Stats reports total and settled message counts for status views.
func (t *SQLiteTopic[T]) Stats() map[string]int64 {
	var messages, settled int64
	_ = t.db.QueryRow(`SELECT COUNT(*) FROM topic_messages`).Scan(&messages)
	_ = t.db.QueryRow(`SELECT COUNT(*) FROM topic_claims WHERE acked = 1`).Scan(&settled)
	return map[string]int64{"messages": messages, "settled": settled}
}

// Close releases the database handle.
func (t *SQLiteTopic[T]) Close() error { return t.db.Close() }

type sqliteReader[T any] struct {
	topic *SQLiteTopic[T]
	group string

	mu     sync.Mutex
	leases map[uint64]string // message id -> claim token
}

// Poll leases the next claimable message for the reader's group, waiting
// up to timeout. ok is false when nothing became claimable in time.
func (r *sqliteReader[T]) Poll(ctx context.Context, timeout time.Duration) (resource.Msg[T], bool, error) {
	deadline := r.topic.now().Add(timeout)
	for {
		msg, ok, err := r.tryClaim(ctx)
		if err != nil || ok {
			return msg, ok, err
		}
		wait := deadline.Sub(r.topic.now())
		if wait <= 0 {
			return resource.Msg[T]{}, false, nil
		}
		if wait > r.topic.pollEvery {
			wait = r.topic.pollEvery
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return resource.Msg[T]{}, false, ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *sqliteReader[T]) tryClaim(ctx context.Context) (resource.Msg[T], bool, error) {
	t := r.topic
	now := t.now()

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return resource.Msg[T]{}, false, fmt.Errorf("backend: topic %q: begin: %w", t.name, err)
	}
	defer tx.Rollback()

	var (
		id      int64
		payload []byte
	)
	err = tx.QueryRowContext(ctx, `
		SELECT m.id, m.payload
		FROM topic_messages m
		LEFT JOIN topic_claims c
			ON c.message_id = m.id AND c.consumer_group = ?
		WHERE c.message_id IS NULL
			OR (c.acked = 0 AND c.lease_until <= ?)
		ORDER BY m.id
		LIMIT 1`,
		r.group, now.UnixMilli()).Scan(&id, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return resource.Msg[T]{}, false, nil
	}
	if err != nil {
		return resource.Msg[T]{}, false, fmt.Errorf("backend: topic %q: select claimable: %w", t.name, err)
	}

	token := uuid.NewString()
	leasedUntil := now.Add(t.claimTTL)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO topic_claims (message_id, consumer_group, token, lease_until, acked)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT (message_id, consumer_group) DO UPDATE
			SET token = excluded.token, lease_until = excluded.lease_until`,
		id, r.group, token, leasedUntil.UnixMilli())
	if err != nil {
		return resource.Msg[T]{}, false, fmt.Errorf("backend: topic %q: claim message %d: %w", t.name, id, err)
	}
	if err := tx.Commit(); err != nil {
		return resource.Msg[T]{}, false, fmt.Errorf("backend: topic %q: commit claim: %w", t.name, err)
	}

	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return resource.Msg[T]{}, false, fmt.Errorf("backend: topic %q: decode message %d: %w", t.name, id, err)
	}
	r.mu.Lock()
	r.leases[uint64(id)] = token
	r.mu.Unlock()
	return resource.Msg[T]{ID: uint64(id), Payload: v, LeasedUntil: leasedUntil}, true, nil
}

// Ack settles a message this reader leased. It fails if the reader never
// leased id or if the lease lapsed and someone else claimed it since.
func (r *sqliteReader[T]) Ack(id uint64) error {
	r.mu.Lock()
	token, leased := r.leases[id]
	delete(r.leases, id)
	r.mu.Unlock()
	if !leased {
		return fmt.Errorf("backend: topic %q: message %d is not leased by this reader", r.topic.name, id)
	}
	res, err := r.topic.db.Exec(`
		UPDATE topic_claims SET acked = 1
		WHERE message_id = ? AND consumer_group = ? AND token = ? AND acked = 0`,
		int64(id), r.group, token)
	if err != nil {
		return fmt.Errorf("backend: topic %q: ack message %d: %w", r.topic.name, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("backend: topic %q: lease on message %d lapsed before ack", r.topic.name, id)
	}
	return nil
}
