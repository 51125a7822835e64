/*
 *    Copyright 2021 chenquan
 *
 *    Licensed under the Apache License, Version 2.0 (the "License");
 *    you may not use this file except in compliance with the License.
 *    You may obtain a copy of the License at
 *
 *        http://www.apache.org/licenses/LICENSE-2.0
 *
 *    Unless required by applicable law or agreed to in writing, software
 *    distributed under the License is distributed on an "AS IS" BASIS,
 *    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *    See the License for the specific language governing permissions and
 *    limitations under the License.
 */

// Package durablequeue is the optional durable backing store for a
// session's dead-letter overflow, satisfying spec.md §1's allowance that
// the gateway "does not persist queued publishes across restarts unless
// an external durable queue is plugged in." It implements
// internal/queue.Overflow on top of Redis lists, mirroring the
// persistence dependency the teacher repo (yunqi/lighthouse) pulls in
// for its own session/subscription stores.
package durablequeue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/lenzarda/mqtt-sn/internal/queue"
	"github.com/lenzarda/mqtt-sn/internal/xlog"
)

// RedisQueue diverts overflowed publishes into a Redis list per session,
// so an operator can inspect or replay what the gateway could not
// deliver. It implements queue.Overflow.
type RedisQueue struct {
	client    *redis.Client
	keyPrefix string
	log       *xlog.Log
}

// Config configures a RedisQueue.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// New dials Redis and returns a ready RedisQueue. It does not block on
// connectivity; the first failed command will surface as a logged error.
func New(cfg Config) *RedisQueue {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mqttsn:deadletter:"
	}
	return &RedisQueue{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		keyPrefix: prefix,
		log:       xlog.LoggerModule("durablequeue"),
	}
}

type record struct {
	Topic     string `json:"topic"`
	QoS       int8   `json:"qos"`
	Retain    bool   `json:"retain"`
	PayloadID string `json:"payload_id"`
	Dup       bool   `json:"dup"`
}

// Divert implements queue.Overflow by RPUSH-ing the entry onto the
// session's dead-letter list.
func (r *RedisQueue) Divert(sessionID string, e queue.Entry) {
	rec := record{
		Topic:     e.Topic,
		QoS:       int8(e.QoS),
		Retain:    e.Retain,
		PayloadID: e.PayloadID.String(),
		Dup:       e.Dup,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		r.log.Sugar().Errorw("marshal dead-letter record", "session", sessionID, "error", err)
		return
	}
	ctx := context.Background()
	if err := r.client.RPush(ctx, r.key(sessionID), data).Err(); err != nil {
		r.log.Sugar().Errorw("rpush dead-letter record", "session", sessionID, "error", err)
	}
}

// Drain pops up to limit records for sessionID, oldest first, e.g. for a
// reconnecting client replaying what it missed.
func (r *RedisQueue) Drain(ctx context.Context, sessionID string, limit int64) ([]queue.Entry, error) {
	raw, err := r.client.LPopCount(ctx, r.key(sessionID), int(limit)).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	out := make([]queue.Entry, 0, len(raw))
	for _, s := range raw {
		var rec record
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			continue
		}
		out = append(out, queue.Entry{Topic: rec.Topic, Retain: rec.Retain, Dup: rec.Dup})
	}
	return out, nil
}

func (r *RedisQueue) key(sessionID string) string {
	return fmt.Sprintf("%s%s", r.keyPrefix, sessionID)
}

// Close releases the underlying Redis connection pool.
func (r *RedisQueue) Close() error {
	return r.client.Close()
}
