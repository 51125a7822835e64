package handler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/lenzarda/mqtt-sn/internal/code"
	"github.com/lenzarda/mqtt-sn/internal/connector"
	"github.com/lenzarda/mqtt-sn/internal/delivery"
	"github.com/lenzarda/mqtt-sn/internal/message"
	"github.com/lenzarda/mqtt-sn/internal/metrics"
	"github.com/lenzarda/mqtt-sn/internal/packet"
	"github.com/lenzarda/mqtt-sn/internal/queue"
	"github.com/lenzarda/mqtt-sn/internal/session"
	"github.com/lenzarda/mqtt-sn/internal/subscription"
	"github.com/lenzarda/mqtt-sn/internal/transport"
	"github.com/lenzarda/mqtt-sn/internal/xerror"
)

type testRig struct {
	h         *Handler
	transport *transport.Loopback
	sessions  *session.Registry
	network   *session.NetworkRegistry
	processor *delivery.Processor
}

func newTestRig() *testRig {
	return newTestRigWithIntegrity(false)
}

func newTestRigWithIntegrity(integrityEnabled bool) *testRig {
	tr := transport.NewLoopback(32)
	payloads := message.New()
	sessions := session.NewRegistry(0)
	network := session.NewNetworkRegistry()
	subs := subscription.New(subscription.Limits{})
	overflow := queue.NewDeadLetter(32)
	met := metrics.New()

	processor := delivery.NewProcessor(
		delivery.RetryPolicy{InitialInterval: time.Second, MaxInterval: 10 * time.Second, MaxRetries: 5},
		&TransportSender{Transport: tr, Payloads: payloads},
		overflow,
		payloads,
		met,
	)

	deps := &Deps{
		Sessions:          sessions,
		Network:           network,
		Subscriptions:     subs,
		Payloads:          payloads,
		Processor:         processor,
		Connector:         connector.NewLoopback(8),
		Transport:         tr,
		Metrics:           met,
		Tracer:            trace.NewNoopTracerProvider().Tracer("test"),
		Version:           packet.V1_2,
		PredefinedAliases: nil,
		QueueCapacity:     8,
		Overflow:          overflow,
		IntegrityEnabled:  integrityEnabled,
	}

	return &testRig{h: New(deps), transport: tr, sessions: sessions, network: network, processor: processor}
}

func connectFrame(clientID string, duration uint16) []byte {
	c := &packet.Connect{Duration: duration, ClientID: []byte(clientID)}
	frame, _ := packet.Encode(c)
	return frame
}

func subscribeFrame(messageID uint16, filter string, qos packet.QoS) []byte {
	s := &packet.Subscribe{
		Flags:     packet.NewFlags(false, qos, false, false, false, packet.TopicIDNormal),
		MessageID: messageID,
		TopicName: []byte(filter),
	}
	frame, _ := packet.Encode(s)
	return frame
}

func registerFrame(messageID uint16, topic string) []byte {
	r := &packet.Register{MessageID: messageID, TopicName: []byte(topic)}
	frame, _ := packet.Encode(r)
	return frame
}

func lastSuback(t *testRig) *packet.Suback {
	sent := t.transport.Sent()
	for i := len(sent) - 1; i >= 0; i-- {
		msg, _, err := packet.Decode(sent[i].Payload)
		if err != nil {
			continue
		}
		if s, ok := msg.(*packet.Suback); ok {
			return s
		}
	}
	return nil
}

func lastRegack(sent []transport.Datagram) *packet.Regack {
	for i := len(sent) - 1; i >= 0; i-- {
		msg, _, err := packet.Decode(sent[i].Payload)
		if err != nil {
			continue
		}
		if r, ok := msg.(*packet.Regack); ok {
			return r
		}
	}
	return nil
}

func connectSession(t *testing.T, r *testRig, addr, clientID string, duration uint16) {
	t.Helper()
	require.NoError(t, r.h.Handle(context.Background(), addr, connectFrame(clientID, duration)))
	sent := r.transport.Sent()
	require.NotEmpty(t, sent)
	msg, _, err := packet.Decode(sent[len(sent)-1].Payload)
	require.NoError(t, err)
	connack, ok := msg.(*packet.Connack)
	require.True(t, ok)
	require.Equal(t, code.Accepted, connack.ReturnCode)
}

// TestScenarioS1SimplePublish: publisher sends PUBLISH, subscriber
// previously subscribed receives it once the processor ticks.
func TestScenarioS1SimplePublish(t *testing.T) {
	r := newTestRig()
	connectSession(t, r, "pub", "publisher", 60)
	connectSession(t, r, "sub", "subscriber", 60)

	require.NoError(t, r.h.Handle(context.Background(), "sub", subscribeFrame(1, "a/b", packet.QoS1)))
	suback := lastSuback(r)
	require.NotNil(t, suback)
	assert.Equal(t, code.Accepted, suback.ReturnCode)

	require.NoError(t, r.h.Handle(context.Background(), "pub", registerFrame(1, "a/b")))
	regack := lastRegack(r.transport.Sent())
	require.NotNil(t, regack)
	topicID := regack.TopicID

	pub := &packet.Publish{
		Flags:     packet.NewFlags(false, packet.QoS1, false, false, false, packet.TopicIDNormal),
		TopicID:   topicID,
		MessageID: 5,
		Data:      []byte("hello"),
	}
	frame, err := packet.Encode(pub)
	require.NoError(t, err)
	require.NoError(t, r.h.Handle(context.Background(), "pub", frame))

	subSession, ok := r.sessions.Get("subscriber")
	require.True(t, ok)
	assert.Equal(t, 1, subSession.Queue.Len())

	result := r.processor.Tick(subSession, time.Now())
	assert.Equal(t, delivery.REPROCESS, result)

	sent := r.transport.Sent()
	found := false
	for _, d := range sent {
		if d.Addr != "sub" {
			continue
		}
		msg, _, err := packet.Decode(d.Payload)
		if err != nil {
			continue
		}
		if p, ok := msg.(*packet.Publish); ok && string(p.Data) == "hello" {
			found = true
		}
	}
	assert.True(t, found, "subscriber should have received the published payload")
}

// TestIntegrityEnvelopeUnwrapsToInnerFrame: a CONNECT wrapped in a v2.0
// integrity envelope dispatches exactly like a bare CONNECT once
// integrity is enabled.
func TestIntegrityEnvelopeUnwrapsToInnerFrame(t *testing.T) {
	r := newTestRigWithIntegrity(true)

	inner := connectFrame("wrapped-client", 60)
	env := &packet.Integrity{
		Scheme:     packet.ChaCha20Poly1305,
		KeyLen:     0,
		CounterLen: 0,
		Inner:      inner,
		AuthTag:    make([]byte, 16),
	}
	frame, err := packet.Encode(env)
	require.NoError(t, err)

	require.NoError(t, r.h.Handle(context.Background(), "wrapped", frame))

	sent := r.transport.Sent()
	require.NotEmpty(t, sent)
	msg, _, err := packet.Decode(sent[len(sent)-1].Payload)
	require.NoError(t, err)
	connack, ok := msg.(*packet.Connack)
	require.True(t, ok)
	assert.Equal(t, code.Accepted, connack.ReturnCode)
}

// TestIntegrityEnvelopeRejectedWhenDisabled: the default test rig has
// IntegrityEnabled=false, so an envelope is rejected outright rather
// than silently unwrapped.
func TestIntegrityEnvelopeRejectedWhenDisabled(t *testing.T) {
	r := newTestRig()

	env := &packet.Integrity{
		Scheme:  packet.ChaCha20Poly1305,
		Inner:   connectFrame("wrapped-client", 60),
		AuthTag: make([]byte, 16),
	}
	frame, err := packet.Encode(env)
	require.NoError(t, err)

	err = r.h.Handle(context.Background(), "wrapped", frame)
	assert.Error(t, err)
}

// TestConnectRejectsEmptyClientIDWhenAnonymousDisallowed: AllowAnonymous
// defaults to false in the test rig, so an empty ClientID must be
// rejected rather than silently accepted. The codec refuses to encode or
// decode a CONNECT with an empty ClientID, so the frame is built by hand
// and Handle returns the decode error without replying or creating a
// session.
func TestConnectRejectsEmptyClientIDWhenAnonymousDisallowed(t *testing.T) {
	r := newTestRig()
	// length 6, CONNECT, flags 0, protocol id 1, duration 60, no client id.
	frame := []byte{0x06, byte(packet.CONNECT), 0x00, 0x01, 0x00, 0x3C}
	err := r.h.Handle(context.Background(), "anon", frame)
	require.Error(t, err)
	ce, ok := xerror.AsCodec(err)
	require.True(t, ok)
	assert.Equal(t, xerror.FieldOutOfRange, ce.Kind)
	assert.Empty(t, r.transport.Sent())
	_, bound := r.network.Lookup("anon")
	assert.False(t, bound)
	assert.Equal(t, 0, r.sessions.Len())
}

// TestScenarioS2FanOutSingleLevelWildcard: two subscribers under a "+"
// filter both receive a publish to a matching topic.
func TestScenarioS2FanOutSingleLevelWildcard(t *testing.T) {
	r := newTestRig()
	connectSession(t, r, "pub", "publisher", 60)
	connectSession(t, r, "s1", "sub-1", 60)
	connectSession(t, r, "s2", "sub-2", 60)

	require.NoError(t, r.h.Handle(context.Background(), "s1", subscribeFrame(1, "sensors/+/temp", packet.QoS0)))
	require.NoError(t, r.h.Handle(context.Background(), "s2", subscribeFrame(1, "sensors/+/temp", packet.QoS0)))

	require.NoError(t, r.h.Handle(context.Background(), "pub", registerFrame(1, "sensors/room1/temp")))
	regack := lastRegack(r.transport.Sent())
	require.NotNil(t, regack)

	pub := &packet.Publish{
		Flags:     packet.NewFlags(false, packet.QoS0, false, false, false, packet.TopicIDNormal),
		TopicID:   regack.TopicID,
		MessageID: 9,
		Data:      []byte("21C"),
	}
	frame, _ := packet.Encode(pub)
	require.NoError(t, r.h.Handle(context.Background(), "pub", frame))

	sub1, _ := r.sessions.Get("sub-1")
	sub2, _ := r.sessions.Get("sub-2")
	assert.Equal(t, 1, sub1.Queue.Len())
	assert.Equal(t, 1, sub2.Queue.Len())
}

// TestScenarioS3MultiLevelWildcard: a "#" subscription matches every
// topic beneath its prefix.
func TestScenarioS3MultiLevelWildcard(t *testing.T) {
	r := newTestRig()
	connectSession(t, r, "pub", "publisher", 60)
	connectSession(t, r, "sub", "subscriber", 60)

	require.NoError(t, r.h.Handle(context.Background(), "sub", subscribeFrame(1, "sensors/#", packet.QoS0)))
	require.NoError(t, r.h.Handle(context.Background(), "pub", registerFrame(1, "sensors/room1/humidity")))
	regack := lastRegack(r.transport.Sent())
	require.NotNil(t, regack)

	pub := &packet.Publish{
		Flags:     packet.NewFlags(false, packet.QoS0, false, false, false, packet.TopicIDNormal),
		TopicID:   regack.TopicID,
		MessageID: 2,
	}
	frame, _ := packet.Encode(pub)
	require.NoError(t, r.h.Handle(context.Background(), "pub", frame))

	sub, _ := r.sessions.Get("subscriber")
	assert.Equal(t, 1, sub.Queue.Len())
}

// TestDeliverUpstreamFansOutToSubscriber exercises the connector's
// inbound direction directly, as the gateway's background drain loop
// does for a message the connector delivers on its own schedule rather
// than as the echo of a local Publish call.
func TestDeliverUpstreamFansOutToSubscriber(t *testing.T) {
	r := newTestRig()
	connectSession(t, r, "sub", "subscriber", 60)
	require.NoError(t, r.h.Handle(context.Background(), "sub", subscribeFrame(1, "a/b", packet.QoS0)))

	r.h.DeliverUpstream(connector.Message{Topic: "a/b", QoS: packet.QoS0, Payload: []byte("from-upstream")})

	sub, ok := r.sessions.Get("subscriber")
	require.True(t, ok)
	assert.Equal(t, 1, sub.Queue.Len())
}

// TestScenarioS4SleepAwakeDrainsQueue: a sleeping device wakes up with a
// PINGREQ carrying its client ID and drains what accumulated while it
// slept.
func TestScenarioS4SleepAwakeDrainsQueue(t *testing.T) {
	r := newTestRig()
	connectSession(t, r, "pub", "publisher", 60)
	connectSession(t, r, "dev", "device", 60)

	require.NoError(t, r.h.Handle(context.Background(), "dev", subscribeFrame(1, "a/b", packet.QoS1)))

	disc := &packet.Disconnect{HasDuration: true, Duration: 300}
	frame, _ := packet.Encode(disc)
	require.NoError(t, r.h.Handle(context.Background(), "dev", frame))

	devSession, ok := r.sessions.Get("device")
	require.True(t, ok)
	assert.Equal(t, session.StateAsleep, devSession.State())

	require.NoError(t, r.h.Handle(context.Background(), "pub", registerFrame(1, "a/b")))
	regack := lastRegack(r.transport.Sent())
	require.NotNil(t, regack)
	pub := &packet.Publish{
		Flags:     packet.NewFlags(false, packet.QoS1, false, false, false, packet.TopicIDNormal),
		TopicID:   regack.TopicID,
		MessageID: 3,
		Data:      []byte("queued-while-asleep"),
	}
	pframe, _ := packet.Encode(pub)
	require.NoError(t, r.h.Handle(context.Background(), "pub", pframe))
	assert.Equal(t, 1, devSession.Queue.Len())

	ping := &packet.PingReq{ClientID: []byte("device")}
	pingFrame, _ := packet.Encode(ping)
	require.NoError(t, r.h.Handle(context.Background(), "dev", pingFrame))

	assert.Equal(t, session.StateAsleep, devSession.State())
	assert.True(t, devSession.Outbound().Occupied, "drain should have admitted the queued publish as inflight")

	sent := r.transport.Sent()
	found := false
	for _, d := range sent {
		if d.Addr != "dev" {
			continue
		}
		msg, _, err := packet.Decode(d.Payload)
		if err != nil {
			continue
		}
		if p, ok := msg.(*packet.Publish); ok && string(p.Data) == "queued-while-asleep" {
			found = true
		}
	}
	assert.True(t, found, "device should have received its queued publish on wake")
}
