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

// Package session owns the per-device session context (spec §3), its
// client state machine (spec §4.3), and the registries that create, look
// up and expire sessions (spec §2 "Session Registry").
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/lenzarda/mqtt-sn/internal/packet"
	"github.com/lenzarda/mqtt-sn/internal/queue"
	"github.com/lenzarda/mqtt-sn/internal/topic"
)

// ExpiryNever is the sentinel session-expiry-interval value meaning "the
// session never expires" (wire value 0xFFFFFFFF, spec §3).
const ExpiryNever = time.Duration(1<<63 - 1)

// Will is the optional last-will record carried by CONNECT.
type Will struct {
	Topic   string
	QoS     packet.QoS
	Retain  bool
	Payload []byte
}

// Inflight is the single pending, unacknowledged outbound publish for a
// session (spec §3 "Inflight slot"). At most one may be occupied at a
// time (spec invariant 2).
type Inflight struct {
	Occupied          bool
	MessageID         uint16
	TopicAlias        uint16
	QoS               packet.QoS
	PayloadID         uuid.UUID
	Attempt           int
	NextRetryDeadline time.Time
	// generation guards against a retry timer that fires after the slot
	// has already been cleared and reused for a different publish.
	generation uint64
}

// Session is one remote device's context: identified by ClientID,
// created on CONNECT, destroyed on clean DISCONNECT or expiry. All
// mutation goes through s.mu so that, per spec §5, every operation for a
// given session is serialized (an actor mailbox, not ad-hoc locking).
type Session struct {
	mu sync.Mutex

	ClientID        []byte
	ProtocolVersion packet.Version
	NetworkAddr     string

	state      State
	lastSeen   time.Time
	startedAt  time.Time
	keepalive  time.Duration
	expiry     time.Duration
	maxPacket  uint32
	will       *Will
	cleanStart bool

	Topics *topic.Registry
	Queue  *queue.Queue

	// filters mirrors the subscription records this session holds in the
	// subscription matcher (spec §3: "mirrored in the session's
	// subscription list").
	filters map[string]packet.QoS

	inflightOut Inflight
	inflightIn  Inflight

	nextMsgID atomic.Uint32 // stored widened; wraps at uint16 boundary
}

// New constructs a session in its initial DISCONNECTED state.
func New(clientID []byte, version packet.Version, predefinedAliases map[string]uint16, queueCapacity int, overflow queue.Overflow) *Session {
	now := time.Now()
	s := &Session{
		ClientID:        append([]byte(nil), clientID...),
		ProtocolVersion: version,
		state:           StateDisconnected,
		startedAt:       now,
		lastSeen:        now,
		Topics:          topic.New(predefinedAliases),
		filters:         make(map[string]packet.QoS),
	}
	s.Queue = queue.New(string(clientID), queueCapacity, overflow)
	return s
}

// Lock/Unlock expose the session mailbox lock directly to callers (the
// handler and queue processor) that need to serialize a multi-step
// operation spanning more than one of the methods below.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Touch() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

func (s *Session) SetKeepalive(d time.Duration) {
	s.mu.Lock()
	s.keepalive = d
	s.mu.Unlock()
}

func (s *Session) Keepalive() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keepalive
}

func (s *Session) SetExpiry(d time.Duration) {
	s.mu.Lock()
	s.expiry = d
	s.mu.Unlock()
}

func (s *Session) Expiry() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiry
}

func (s *Session) SetMaxPacketSize(v uint32) {
	s.mu.Lock()
	s.maxPacket = v
	s.mu.Unlock()
}

func (s *Session) SetWill(w *Will) {
	s.mu.Lock()
	s.will = w
	s.mu.Unlock()
}

func (s *Session) Will() *Will {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.will
}

func (s *Session) SetCleanStart(b bool) {
	s.mu.Lock()
	s.cleanStart = b
	s.mu.Unlock()
}

func (s *Session) CleanStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanStart
}

// AddFilter records filter in the session's mirrored subscription list.
func (s *Session) AddFilter(filter string, qos packet.QoS) {
	s.mu.Lock()
	s.filters[filter] = qos
	s.mu.Unlock()
}

// RemoveFilter drops filter from the session's mirrored subscription
// list.
func (s *Session) RemoveFilter(filter string) {
	s.mu.Lock()
	delete(s.filters, filter)
	s.mu.Unlock()
}

// Filters returns a snapshot of the session's subscribed filters.
func (s *Session) Filters() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.filters))
	for f := range s.filters {
		out = append(out, f)
	}
	return out
}

// NextMessageID allocates the next outbound message ID: monotonic per
// session, wrapping through the 16-bit space, skipping whatever ID the
// outbound inflight slot currently holds (spec §4.5).
func (s *Session) NextMessageID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uint16(s.nextMsgID.Add(1))
	if s.inflightOut.Occupied && id == s.inflightOut.MessageID {
		id = uint16(s.nextMsgID.Add(1))
	}
	return id
}

// TryOccupyOutbound installs a new outbound inflight publish if the slot
// is free, enforcing spec invariant 2 (at most one inflight publish per
// direction per session).
func (s *Session) TryOccupyOutbound(messageID, topicAlias uint16, qos packet.QoS, payloadID uuid.UUID, retryAfter time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflightOut.Occupied {
		return false
	}
	s.inflightOut = Inflight{
		Occupied:          true,
		MessageID:         messageID,
		TopicAlias:        topicAlias,
		QoS:               qos,
		PayloadID:         payloadID,
		Attempt:           1,
		NextRetryDeadline: time.Now().Add(retryAfter),
		generation:        s.inflightOut.generation + 1,
	}
	return true
}

// Outbound returns a copy of the current outbound inflight slot.
func (s *Session) Outbound() Inflight {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflightOut
}

// ClearOutbound empties the outbound inflight slot, e.g. on matching
// PUBACK or retry exhaustion.
func (s *Session) ClearOutbound() {
	s.mu.Lock()
	s.inflightOut = Inflight{generation: s.inflightOut.generation}
	s.mu.Unlock()
}

// BumpOutboundRetry increments the attempt counter and schedules the next
// retry deadline, returning the updated slot. gen must match the slot's
// current generation or the bump is ignored (the slot was cleared and
// reused since the retry timer was armed).
func (s *Session) BumpOutboundRetry(gen uint64, retryAfter time.Duration) (Inflight, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inflightOut.Occupied || s.inflightOut.generation != gen {
		return Inflight{}, false
	}
	s.inflightOut.Attempt++
	s.inflightOut.NextRetryDeadline = time.Now().Add(retryAfter)
	return s.inflightOut, true
}

// OutboundGeneration reports the outbound slot's current generation, used
// by retry timers to detect staleness.
func (s *Session) OutboundGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflightOut.generation
}
