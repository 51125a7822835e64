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

// Package delivery is the message state service and queue processor of
// spec §4.5/§4.6: it keeps at most one inflight publish per session
// (invariant 2), retries it with exponential backoff, and diverts to the
// dead-letter sink once a publish's retries are exhausted (scenario S6).
package delivery

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lenzarda/mqtt-sn/internal/message"
	"github.com/lenzarda/mqtt-sn/internal/metrics"
	"github.com/lenzarda/mqtt-sn/internal/packet"
	"github.com/lenzarda/mqtt-sn/internal/queue"
	"github.com/lenzarda/mqtt-sn/internal/session"
	"github.com/lenzarda/mqtt-sn/internal/xerror"
	"github.com/lenzarda/mqtt-sn/internal/xlog"
)

// Result is what the caller (the scheduler's per-session tick loop)
// should do after one Processor.Tick call.
type Result int

const (
	// REMOVE_PROCESS means the session's queue is empty and its inflight
	// slot is free, so the processor has nothing left to do for this
	// session right now.
	REMOVE_PROCESS Result = iota
	// BACKOFF_PROCESS means an inflight publish is outstanding; do not
	// call Tick again for this session before its retry deadline.
	BACKOFF_PROCESS
	// REPROCESS means progress was made (a new publish was sent, or a
	// stale retry was discarded) and Tick should be called again
	// immediately to keep draining the queue.
	REPROCESS
)

func (r Result) String() string {
	switch r {
	case REMOVE_PROCESS:
		return "REMOVE_PROCESS"
	case BACKOFF_PROCESS:
		return "BACKOFF_PROCESS"
	case REPROCESS:
		return "REPROCESS"
	default:
		return "UNKNOWN"
	}
}

// RetryPolicy configures the exponential backoff applied to an inflight
// publish's retransmissions.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      int
}

// nextInterval computes the backoff delay before the given retry
// attempt, using cenkalti/backoff's deterministic (unrandomized)
// exponential schedule.
func (p RetryPolicy) nextInterval(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.Multiplier = 2
	b.MaxInterval = p.MaxInterval
	b.RandomizationFactor = 0
	b.Reset()
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Sender transmits a queued entry to the session's bound network
// address. It is supplied by the handler/transport layer; this package
// only decides when and how many times to call it.
type Sender interface {
	SendPublish(s *session.Session, e queue.Entry, messageID uint16, attempt int) error
}

// Processor is the per-runtime queue processor: Tick is called once per
// session per scheduler pass.
type Processor struct {
	Policy   RetryPolicy
	Sender   Sender
	Overflow queue.Overflow
	Payloads *message.Registry
	Metrics  *metrics.Metrics
	log      *xlog.Log
}

// NewProcessor builds a Processor. m may be nil, in which case metrics
// are skipped (tests wiring a bare Processor don't need a registry).
func NewProcessor(policy RetryPolicy, sender Sender, overflow queue.Overflow, payloads *message.Registry, m *metrics.Metrics) *Processor {
	return &Processor{
		Policy:   policy,
		Sender:   sender,
		Overflow: overflow,
		Payloads: payloads,
		Metrics:  m,
		log:      xlog.LoggerModule("delivery"),
	}
}

// Tick advances session s by one step: resending an overdue inflight
// publish, diverting an exhausted one, or admitting the next queued
// entry as the new inflight publish.
func (p *Processor) Tick(s *session.Session, now time.Time) Result {
	in := s.Outbound()
	if in.Occupied {
		return p.tickInflight(s, in, now)
	}
	return p.tickQueue(s)
}

func (p *Processor) tickInflight(s *session.Session, in session.Inflight, now time.Time) Result {
	if now.Before(in.NextRetryDeadline) {
		return BACKOFF_PROCESS
	}
	if in.Attempt >= p.Policy.MaxRetries {
		p.divert(s, in)
		s.ClearOutbound()
		if !s.Queue.Empty() {
			return REPROCESS
		}
		return REMOVE_PROCESS
	}

	gen := s.OutboundGeneration()
	interval := p.Policy.nextInterval(in.Attempt + 1)
	updated, ok := s.BumpOutboundRetry(gen, interval)
	if !ok {
		// some other goroutine already cleared/reused the slot.
		return REPROCESS
	}

	payload, _ := p.Payloads.Get(updated.PayloadID)
	topicName, _ := s.Topics.LookupByAlias(updated.TopicAlias, packet.TopicIDNormal)
	entry := queue.Entry{Topic: topicName, QoS: updated.QoS, PayloadID: updated.PayloadID, Dup: true}
	if err := p.Sender.SendPublish(s, entry, updated.MessageID, updated.Attempt); err != nil {
		p.log.Sugar().Errorw("resend failed", "session", string(s.ClientID), "error", err)
	} else if p.Metrics != nil {
		p.Metrics.PublishesSent.Inc()
		p.Metrics.PublishesRetried.Inc()
	}
	_ = payload
	return BACKOFF_PROCESS
}

// tickQueue admits the next queued entry. QoS 0 publishes have no
// acknowledgement (spec §4.5 scopes the inflight slot to QoS 1): they are
// sent, released, and never occupy the outbound slot, so they can never
// block or spuriously retry behind a subscriber that never PUBACKs.
func (p *Processor) tickQueue(s *session.Session) Result {
	entry, ok := s.Queue.Dequeue()
	if !ok {
		return REMOVE_PROCESS
	}

	alias, err := s.Topics.Register(entry.Topic)
	if err != nil {
		p.log.Sugar().Warnw("topic alias registration failed, dropping entry", "session", string(s.ClientID), "topic", entry.Topic, "error", err)
		return REPROCESS
	}

	if entry.QoS == packet.QoS0 {
		if err := p.Sender.SendPublish(s, entry, 0, 1); err != nil {
			p.log.Sugar().Errorw("send failed", "session", string(s.ClientID), "error", err)
		} else if p.Metrics != nil {
			p.Metrics.PublishesSent.Inc()
		}
		p.Payloads.Release(entry.PayloadID)
		return REPROCESS
	}

	messageID := s.NextMessageID()
	interval := p.Policy.nextInterval(1)
	if !s.TryOccupyOutbound(messageID, alias, entry.QoS, entry.PayloadID, interval) {
		return REPROCESS
	}

	if err := p.Sender.SendPublish(s, entry, messageID, 1); err != nil {
		p.log.Sugar().Errorw("send failed", "session", string(s.ClientID), "error", err)
	} else if p.Metrics != nil {
		p.Metrics.PublishesSent.Inc()
	}
	return REPROCESS
}

func (p *Processor) divert(s *session.Session, in session.Inflight) {
	p.log.Sugar().Warnw("retries exhausted, diverting to dead letter",
		"session", string(s.ClientID), "messageId", in.MessageID, "attempts", in.Attempt)
	if p.Overflow != nil {
		p.Overflow.Divert(string(s.ClientID), queue.Entry{QoS: in.QoS, PayloadID: in.PayloadID})
	}
	p.Payloads.Release(in.PayloadID)
	if p.Metrics != nil {
		p.Metrics.DeadLettered.Inc()
	}
}

// HandlePuback clears the outbound inflight slot when its message ID
// matches, completing a QoS 1 publish. A mismatched ID is a protocol
// violation (spec §4.5): the acknowledgement doesn't belong to the
// session's current inflight publish.
func (p *Processor) HandlePuback(s *session.Session, messageID uint16) error {
	in := s.Outbound()
	if !in.Occupied || in.MessageID != messageID {
		return xerror.ErrUnexpectedState
	}
	s.ClearOutbound()
	p.Payloads.Release(in.PayloadID)
	return nil
}
