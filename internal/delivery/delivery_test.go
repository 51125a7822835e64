package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lenzarda/mqtt-sn/internal/message"
	"github.com/lenzarda/mqtt-sn/internal/metrics"
	"github.com/lenzarda/mqtt-sn/internal/packet"
	"github.com/lenzarda/mqtt-sn/internal/queue"
	"github.com/lenzarda/mqtt-sn/internal/session"
)

type recordingSender struct {
	sent []uint16
}

func (r *recordingSender) SendPublish(_ *session.Session, _ queue.Entry, messageID uint16, _ int) error {
	r.sent = append(r.sent, messageID)
	return nil
}

func newTestProcessor(policy RetryPolicy, overflow queue.Overflow) (*Processor, *recordingSender) {
	sender := &recordingSender{}
	p := NewProcessor(policy, sender, overflow, message.New(), metrics.New())
	return p, sender
}

// TestTickAdmitsOneInflightThenBacksOff is invariant 2: only one
// inflight publish per session, and while occupied Tick reports
// BACKOFF_PROCESS rather than admitting a second one.
func TestTickAdmitsOneInflightThenBacksOff(t *testing.T) {
	policy := RetryPolicy{InitialInterval: time.Second, MaxInterval: time.Minute, MaxRetries: 5}
	p, sender := newTestProcessor(policy, queue.NewDeadLetter(8))

	s := session.New([]byte("dev-1"), packet.V1_2, nil, 8, queue.NewDeadLetter(8))
	payloadID := p.Payloads.Put([]byte("hi"), 1)
	assert.NoError(t, s.Queue.Enqueue(queue.Entry{Topic: "a/b", QoS: packet.QoS1, PayloadID: payloadID}))

	now := time.Now()
	result := p.Tick(s, now)
	assert.Equal(t, REPROCESS, result)
	assert.Len(t, sender.sent, 1)
	assert.True(t, s.Outbound().Occupied)

	// queue is empty and the slot is occupied: Tick must not dequeue
	// another entry nor resend before the retry deadline.
	result = p.Tick(s, now)
	assert.Equal(t, BACKOFF_PROCESS, result)
	assert.Len(t, sender.sent, 1)
}

// TestRetryExhaustionDivertsToDeadLetter is scenario S6: a publish that
// never gets PUBACK'd is sent MaxRetries times in all (the first send
// and MaxRetries-1 resends), then removed from the inflight slot and
// diverted.
func TestRetryExhaustionDivertsToDeadLetter(t *testing.T) {
	policy := RetryPolicy{InitialInterval: time.Second, MaxInterval: 4 * time.Second, MaxRetries: 3}
	dl := queue.NewDeadLetter(8)
	p, sender := newTestProcessor(policy, dl)

	s := session.New([]byte("dev-6"), packet.V1_2, nil, 8, queue.NewDeadLetter(8))
	payloadID := p.Payloads.Put([]byte("payload"), 1)
	assert.NoError(t, s.Queue.Enqueue(queue.Entry{Topic: "a/b", QoS: packet.QoS1, PayloadID: payloadID}))

	now := time.Now()
	result := p.Tick(s, now) // admits inflight, attempt 1
	assert.Equal(t, REPROCESS, result)

	// drive retries forward by advancing the clock past each deadline.
	for {
		now = now.Add(time.Minute)
		result = p.Tick(s, now)
		if result == REMOVE_PROCESS {
			break
		}
	}

	assert.False(t, s.Outbound().Occupied)
	records := dl.Records()
	assert.Len(t, records, 1)
	assert.Equal(t, "dev-6", records[0].SessionID)
	assert.GreaterOrEqual(t, len(sender.sent), 1)
}

// TestTickSendsQoS0WithoutOccupyingInflightSlot is spec §4.5: a QoS 0
// publish has no PUBACK, so it must never occupy the single inflight
// slot, retry, or end up dead-lettered — it is sent once and forgotten.
func TestTickSendsQoS0WithoutOccupyingInflightSlot(t *testing.T) {
	policy := RetryPolicy{InitialInterval: time.Second, MaxInterval: time.Minute, MaxRetries: 3}
	dl := queue.NewDeadLetter(8)
	p, sender := newTestProcessor(policy, dl)

	s := session.New([]byte("dev-qos0"), packet.V1_2, nil, 8, queue.NewDeadLetter(8))
	payloadID := p.Payloads.Put([]byte("reading"), 2)
	assert.NoError(t, s.Queue.Enqueue(queue.Entry{Topic: "a/b", QoS: packet.QoS0, PayloadID: payloadID}))
	assert.NoError(t, s.Queue.Enqueue(queue.Entry{Topic: "a/b", QoS: packet.QoS0, PayloadID: payloadID}))

	now := time.Now()
	result := p.Tick(s, now)
	assert.Equal(t, REPROCESS, result)
	assert.False(t, s.Outbound().Occupied, "QoS 0 publish must not occupy the inflight slot")
	assert.Len(t, sender.sent, 1)

	// the second queued entry drains on the very next Tick: nothing is
	// blocked behind the first QoS 0 publish.
	result = p.Tick(s, now)
	assert.Equal(t, REPROCESS, result)
	assert.Len(t, sender.sent, 2)

	result = p.Tick(s, now.Add(time.Hour))
	assert.Equal(t, REMOVE_PROCESS, result, "empty queue, nothing inflight")
	assert.Empty(t, dl.Records(), "QoS 0 delivery must never be dead-lettered")
}

func TestHandlePubackClearsMatchingInflight(t *testing.T) {
	policy := RetryPolicy{InitialInterval: time.Second, MaxInterval: time.Minute, MaxRetries: 5}
	p, _ := newTestProcessor(policy, queue.NewDeadLetter(8))

	s := session.New([]byte("dev-1"), packet.V1_2, nil, 8, queue.NewDeadLetter(8))
	payloadID := p.Payloads.Put([]byte("hi"), 1)
	assert.NoError(t, s.Queue.Enqueue(queue.Entry{Topic: "a/b", QoS: packet.QoS1, PayloadID: payloadID}))
	p.Tick(s, time.Now())

	messageID := s.Outbound().MessageID
	assert.NoError(t, p.HandlePuback(s, messageID))
	assert.False(t, s.Outbound().Occupied)

	assert.Error(t, p.HandlePuback(s, messageID))
}
