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

// Package queue implements a session's bounded outbound publish queue
// and its dead-letter overflow sink (spec §3, §4.5).
package queue

import (
	"sync"

	"github.com/google/uuid"

	"github.com/lenzarda/mqtt-sn/internal/packet"
	"github.com/lenzarda/mqtt-sn/internal/xerror"
)

// Entry is one queued outbound publish.
type Entry struct {
	Topic     string
	QoS       packet.QoS
	Retain    bool
	PayloadID uuid.UUID
	Dup       bool
}

// Overflow is the pluggable sink a full Queue diverts to, satisfying
// spec.md §1's "unless an external durable queue is plugged in"
// allowance. DeadLetter (this package) is the default in-memory
// implementation; internal/durablequeue provides a Redis-backed one.
type Overflow interface {
	Divert(sessionID string, e Entry)
}

// Queue is a per-session bounded FIFO of pending publishes. The zero
// value is not usable; construct with New.
type Queue struct {
	mu        sync.Mutex
	sessionID string
	r         *ring
	overflow  Overflow
}

// New builds a Queue of the given capacity for sessionID, diverting
// overflow to overflow (pass a *DeadLetter if no external sink is
// configured).
func New(sessionID string, capacity int, overflow Overflow) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{sessionID: sessionID, r: newRing(capacity), overflow: overflow}
}

// Enqueue appends e, diverting it to the overflow sink and returning
// ErrQueueFull if the queue is at capacity (spec §7: resource exhaustion
// is surfaced to the caller as a typed error in addition to being
// diverted).
func (q *Queue) Enqueue(e Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.r.full() {
		if q.overflow != nil {
			q.overflow.Divert(q.sessionID, e)
		}
		return xerror.ErrQueueFull
	}
	q.r.push(e)
	return nil
}

// Dequeue removes and returns the oldest entry, preserving enqueue order
// (spec invariant 3).
func (q *Queue) Dequeue() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.r.pop()
}

// Len reports how many entries are currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.r.len()
}

// Empty reports whether the queue currently has no entries.
func (q *Queue) Empty() bool {
	return q.Len() == 0
}

// Capacity reports the queue's configured bound.
func (q *Queue) Capacity() int {
	return q.r.capacity()
}
