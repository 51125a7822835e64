package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lenzarda/mqtt-sn/internal/delivery"
	"github.com/lenzarda/mqtt-sn/internal/handler"
	"github.com/lenzarda/mqtt-sn/internal/message"
	"github.com/lenzarda/mqtt-sn/internal/metrics"
	"github.com/lenzarda/mqtt-sn/internal/packet"
	"github.com/lenzarda/mqtt-sn/internal/queue"
	"github.com/lenzarda/mqtt-sn/internal/session"
	"github.com/lenzarda/mqtt-sn/internal/transport"
)

func newTestScheduler(t *testing.T) (*Scheduler, *session.Registry, *delivery.Processor) {
	t.Helper()
	tr := transport.NewLoopback(8)
	payloads := message.New()
	sessions := session.NewRegistry(0)
	network := session.NewNetworkRegistry()
	overflow := queue.NewDeadLetter(8)

	met := metrics.New()
	processor := delivery.NewProcessor(
		delivery.RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: 10 * time.Millisecond, MaxRetries: 3},
		&handler.TransportSender{Transport: tr, Payloads: payloads},
		overflow,
		payloads,
		met,
	)

	sched, err := New(Options{WorkerPoolSize: 4, TickInterval: 5 * time.Millisecond, SessionExpiryCheckInterval: 5 * time.Millisecond}, processor, sessions, network, met)
	require.NoError(t, err)
	return sched, sessions, processor
}

// TestTickLoopDrainsQueuedPublish exercises the periodic loop rather than
// calling Processor.Tick directly: a queued entry on an ACTIVE session
// should be delivered without any explicit caller-driven tick.
func TestTickLoopDrainsQueuedPublish(t *testing.T) {
	sched, sessions, p := newTestScheduler(t)

	s, _, err := sessions.GetOrCreate("dev-1", func() *session.Session {
		return session.New([]byte("dev-1"), packet.V1_2, nil, 8, queue.NewDeadLetter(8))
	})
	require.NoError(t, err)
	s.NetworkAddr = "dev-1-addr"
	require.NoError(t, s.HandleConnect())

	payloadID := p.Payloads.Put([]byte("hi"), 1)
	require.NoError(t, s.Queue.Enqueue(queue.Entry{Topic: "a/b", QoS: packet.QoS1, PayloadID: payloadID}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sched.Run(ctx) }()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if s.Outbound().Occupied {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.True(t, s.Outbound().Occupied, "scheduler tick loop should have admitted the queued publish as inflight")

	sched.Shutdown(time.Second)
}

// TestSweepLoopExpiresKeepalive verifies the background sweep moves a
// stale session to LOST once its keepalive grace has elapsed.
func TestSweepLoopExpiresKeepalive(t *testing.T) {
	sched, sessions, _ := newTestScheduler(t)

	s, _, err := sessions.GetOrCreate("dev-2", func() *session.Session {
		return session.New([]byte("dev-2"), packet.V1_2, nil, 8, queue.NewDeadLetter(8))
	})
	require.NoError(t, err)
	require.NoError(t, s.HandleConnect())
	s.SetKeepalive(time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sched.Run(ctx) }()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if s.State() == session.StateLost {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, session.StateLost, s.State())

	sched.Shutdown(time.Second)
}
