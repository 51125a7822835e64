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

// Package handler dispatches decoded MQTT-SN messages to the session,
// topic, subscription and delivery packages, and turns the result back
// into whatever response frame(s) the protocol calls for (spec §4).
package handler

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

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
	"github.com/lenzarda/mqtt-sn/internal/xlog"
)

// Deps bundles everything a Handler needs, passed explicitly rather than
// reached for through package-level state (spec §9: "no ambient
// singletons").
type Deps struct {
	Sessions      *session.Registry
	Network       *session.NetworkRegistry
	Subscriptions *subscription.Trie
	Payloads      *message.Registry
	Processor     *delivery.Processor
	Connector     connector.Connector
	Transport     transport.Transport
	Metrics       *metrics.Metrics
	Tracer        trace.Tracer

	Version           packet.Version
	PredefinedAliases map[string]uint16
	QueueCapacity     int
	Overflow          queue.Overflow
	AllowAnonymous    bool
	IntegrityEnabled  bool
}

// Handler dispatches one decoded frame at a time.
type Handler struct {
	deps *Deps
	log  *xlog.Log
}

// New builds a Handler.
func New(deps *Deps) *Handler {
	return &Handler{deps: deps, log: xlog.LoggerModule("handler")}
}

// Handle decodes one frame received from addr and dispatches it. Errors
// returned are always non-fatal to the runtime; for session-fatal
// protocol violations (xerror.IsFatal) the session is torn down first and
// the error is then returned as well.
func (h *Handler) Handle(ctx context.Context, addr string, raw []byte) error {
	msg, _, err := packet.Decode(raw)
	if err != nil {
		if ce, ok := xerror.AsCodec(err); ok {
			h.deps.Metrics.CodecErrors.WithLabelValues(ce.Kind.String()).Inc()
		}
		h.log.Sugar().Warnw("decode failed", "addr", addr, "error", err)
		return err
	}

	ctx, span := h.deps.Tracer.Start(ctx, msg.Type().String())
	defer span.End()

	handleErr := h.dispatch(ctx, addr, msg)

	if handleErr != nil {
		span.RecordError(handleErr)
		span.SetStatus(codes.Error, handleErr.Error())
		if xerror.IsFatal(handleErr) {
			h.teardown(addr)
		}
	}
	return handleErr
}

// dispatch type-switches on the decoded message. An Integrity envelope
// unwraps to its inner frame and dispatches that instead, so a gateway
// with integrityEnabled configured transparently accepts either wire
// format; this gateway does not carry the key material spec §4.1 leaves
// unspecified, so it validates the envelope's declared protection
// scheme and layout but does not verify the auth tag.
func (h *Handler) dispatch(ctx context.Context, addr string, msg packet.Message) error {
	switch m := msg.(type) {
	case *packet.Connect:
		return h.handleConnect(ctx, addr, m)
	case *packet.Register:
		return h.handleRegister(ctx, addr, m)
	case *packet.Publish:
		return h.handlePublish(ctx, addr, m)
	case *packet.Puback:
		return h.handlePuback(ctx, addr, m)
	case *packet.Subscribe:
		return h.handleSubscribe(ctx, addr, m)
	case *packet.PingReq:
		return h.handlePingReq(ctx, addr, m)
	case *packet.Disconnect:
		return h.handleDisconnect(ctx, addr, m)
	case *packet.Integrity:
		return h.handleIntegrity(ctx, addr, m)
	default:
		return xerror.Codec(xerror.UnknownType, "no handler for %s", msg.Type())
	}
}

func (h *Handler) handleIntegrity(ctx context.Context, addr string, f *packet.Integrity) error {
	if !h.deps.IntegrityEnabled {
		return xerror.Codec(xerror.InvalidIntegrityLayout, "integrity envelope received but integrity is not enabled")
	}
	if err := f.Scheme.Validate(); err != nil {
		return err
	}
	inner, _, err := f.DecodeInner()
	if err != nil {
		return err
	}
	if _, ok := inner.(*packet.Integrity); ok {
		return xerror.Codec(xerror.InvalidIntegrityLayout, "nested integrity envelopes are not supported")
	}
	return h.dispatch(ctx, addr, inner)
}

func (h *Handler) teardown(addr string) {
	sess, ok := h.deps.Network.Lookup(addr)
	if !ok {
		return
	}
	h.deps.Sessions.Remove(string(sess.ClientID))
	h.deps.Network.Unbind(addr)
	h.log.Sugar().Infow("session torn down", "addr", addr, "client", string(sess.ClientID))
}

func (h *Handler) send(ctx context.Context, addr string, msg packet.Message) error {
	frame, err := packet.Encode(msg)
	if err != nil {
		return err
	}
	return h.deps.Transport.Send(ctx, addr, frame)
}

func (h *Handler) sessionFor(addr string) (*session.Session, error) {
	sess, ok := h.deps.Network.Lookup(addr)
	if !ok {
		return nil, xerror.ErrUnknownClient
	}
	return sess, nil
}

func (h *Handler) handleConnect(ctx context.Context, addr string, c *packet.Connect) error {
	clientID := string(c.ClientID)
	if clientID == "" && !h.deps.AllowAnonymous {
		return h.send(ctx, addr, c.NewConnack(code.RejectedNotSupported))
	}

	sess, created, err := h.deps.Sessions.GetOrCreate(clientID, func() *session.Session {
		return session.New(c.ClientID, h.deps.Version, h.deps.PredefinedAliases, h.deps.QueueCapacity, h.deps.Overflow)
	})
	if err != nil {
		return h.send(ctx, addr, c.NewConnack(code.RejectedCongestion))
	}

	if created {
		if err := sess.HandleConnect(); err != nil {
			return err
		}
	} else {
		// A known client reconnecting while its prior session is not
		// DISCONNECTED (e.g. it was ASLEEP) supersedes that session
		// rather than being rejected: the old network binding is gone,
		// so there is nothing left to resume it.
		sess.ForceActive()
		if c.CleanSession() {
			sess.Topics.ClearNormal()
			for _, f := range sess.Filters() {
				h.deps.Subscriptions.Unsubscribe(clientID, f)
				sess.RemoveFilter(f)
			}
		}
	}

	sess.SetKeepalive(secondsToDuration(c.Duration))
	sess.SetCleanStart(c.CleanSession())
	sess.Touch()
	h.deps.Network.Bind(addr, sess)
	h.deps.Metrics.SessionsActive.Set(float64(h.deps.Sessions.Len()))

	return h.send(ctx, addr, c.NewConnack(code.Accepted))
}

func (h *Handler) handleRegister(ctx context.Context, addr string, r *packet.Register) error {
	sess, err := h.sessionFor(addr)
	if err != nil {
		return err
	}
	sess.Touch()

	alias, err := sess.Topics.Register(string(r.TopicName))
	if err != nil {
		return h.send(ctx, addr, r.NewRegack(0, code.RejectedCongestion))
	}
	return h.send(ctx, addr, r.NewRegack(alias, code.Accepted))
}

func (h *Handler) handlePublish(ctx context.Context, addr string, p *packet.Publish) error {
	sess, err := h.sessionFor(addr)
	if err != nil {
		return err
	}
	sess.Touch()

	topicName, ok := sess.Topics.LookupByAlias(p.TopicID, p.Flags.TopicIDType())
	if !ok {
		if p.Flags.QoS() != packet.QoSNegOne {
			return h.send(ctx, addr, p.NewPuback(code.RejectedInvalidTopicID))
		}
		return nil
	}

	if err := h.deps.Connector.Publish(ctx, connector.Message{
		Topic:   topicName,
		QoS:     p.Flags.QoS(),
		Retain:  p.Flags.Retain(),
		Payload: p.Data,
	}); err != nil {
		h.log.Sugar().Errorw("connector publish failed", "topic", topicName, "error", err)
	}
	h.drainUpstream()

	if p.Flags.QoS() == packet.QoS1 || p.Flags.QoS() == packet.QoS2 {
		return h.send(ctx, addr, p.NewPuback(code.Accepted))
	}
	return nil
}

// drainUpstream fans out every message currently buffered on the
// connector's delivery channel without blocking. Loopback mode
// substitutes an in-process Connector that loops Publish straight back
// onto Deliveries, and this is what re-injects that loop into the
// subscription matcher (spec §6): calling it right after Publish means a
// Loopback echo is fanned out within the same handlePublish call,
// exactly as if fan-out happened directly.
func (h *Handler) drainUpstream() {
	for {
		select {
		case msg, ok := <-h.deps.Connector.Deliveries():
			if !ok {
				return
			}
			h.fanOut(msg.Topic, msg.QoS, msg.Retain, msg.Payload, "")
		default:
			return
		}
	}
}

// DeliverUpstream fans out one message a connector delivered
// independently of any local publish (a real upstream broker pushing
// traffic with no corresponding local Publish call to drain behind). The
// gateway runs a loop over Connector.Deliveries calling this so such
// deliveries still reach subscribed devices; for the Loopback connector,
// drainUpstream usually wins the race to receive each message first,
// which is fine since either path calls fanOut with the same message.
func (h *Handler) DeliverUpstream(msg connector.Message) {
	h.fanOut(msg.Topic, msg.QoS, msg.Retain, msg.Payload, "")
}

// fanOut enqueues data for delivery to every subscriber of topic,
// content-addressing the payload once and sharing it by reference across
// every matching queue (spec §3 message registry). publisherID is not
// consulted: a publisher subscribed to topic receives its own publish.
func (h *Handler) fanOut(topic string, qos packet.QoS, retain bool, data []byte, publisherID string) {
	members := h.deps.Subscriptions.Search(topic)
	if len(members) == 0 {
		return
	}

	payloadID := h.deps.Payloads.Put(data, len(members))
	for _, m := range members {
		sub, ok := h.deps.Sessions.Get(m.Session)
		if !ok {
			h.deps.Payloads.Release(payloadID)
			continue
		}
		deliverQoS := qos
		if m.QoS < deliverQoS {
			deliverQoS = m.QoS
		}
		entry := queue.Entry{Topic: topic, QoS: deliverQoS, Retain: retain, PayloadID: payloadID}
		if err := sub.Queue.Enqueue(entry); err != nil {
			h.deps.Metrics.QueueDropped.Inc()
			h.log.Sugar().Warnw("fan-out enqueue failed", "session", m.Session, "topic", topic, "error", err)
			h.deps.Payloads.Release(payloadID)
		}
	}
}

func (h *Handler) handlePuback(_ context.Context, addr string, p *packet.Puback) error {
	sess, err := h.sessionFor(addr)
	if err != nil {
		return err
	}
	sess.Touch()
	return h.deps.Processor.HandlePuback(sess, p.MessageID)
}

func (h *Handler) handleSubscribe(ctx context.Context, addr string, s *packet.Subscribe) error {
	sess, err := h.sessionFor(addr)
	if err != nil {
		return err
	}
	sess.Touch()

	var filter string
	var topicID uint16
	if s.Flags.TopicIDType() == packet.TopicIDPredefined {
		name, ok := sess.Topics.LookupByAlias(s.TopicID, packet.TopicIDPredefined)
		if !ok {
			return h.send(ctx, addr, s.NewSuback(0, 0, code.RejectedInvalidTopicID))
		}
		filter = name
		topicID = s.TopicID
	} else {
		filter = string(s.TopicName)
	}

	if err := h.deps.Subscriptions.Subscribe(string(sess.ClientID), filter, s.Flags.QoS()); err != nil {
		return h.send(ctx, addr, s.NewSuback(0, 0, code.RejectedCongestion))
	}
	sess.AddFilter(filter, s.Flags.QoS())

	return h.send(ctx, addr, s.NewSuback(s.Flags.QoS(), topicID, code.Accepted))
}

func (h *Handler) handlePingReq(ctx context.Context, addr string, p *packet.PingReq) error {
	if len(p.ClientID) == 0 {
		sess, err := h.sessionFor(addr)
		if err != nil {
			return err
		}
		sess.Touch()
		sess.HandleTraffic()
		return h.send(ctx, addr, &packet.PingResp{})
	}

	sess, ok := h.deps.Sessions.Get(string(p.ClientID))
	if !ok {
		return xerror.ErrUnknownClient
	}
	sess.Touch()
	if err := sess.HandlePingReqAwake(); err != nil {
		return err
	}
	h.deps.Network.Bind(addr, sess)

	h.drainAwake(ctx, addr, sess)

	if err := sess.HandleQueueDrained(); err != nil {
		h.log.Warn("queue drained transition failed", zap.Error(err))
	}
	return h.send(ctx, addr, &packet.PingResp{})
}

// drainAwake ticks the queue processor until it stops reporting
// REPROCESS (spec §4.3, scenario S4). Queued QoS 0 entries are sent until
// a QoS 1 entry is reached; that one is sent and left in the inflight
// slot. drainAwake does not wait for its PUBACK, so entries queued behind
// it stay in the queue.
func (h *Handler) drainAwake(ctx context.Context, addr string, sess *session.Session) {
	_ = ctx
	_ = addr
	for {
		result := h.deps.Processor.Tick(sess, time.Now())
		if result != delivery.REPROCESS {
			return
		}
	}
}

func (h *Handler) handleDisconnect(ctx context.Context, addr string, d *packet.Disconnect) error {
	sess, err := h.sessionFor(addr)
	if err != nil {
		return err
	}

	duration := uint16(0)
	if d.HasDuration {
		duration = d.Duration
	}
	if err := sess.HandleDisconnect(duration); err != nil {
		return err
	}

	if duration == 0 {
		h.deps.Sessions.Remove(string(sess.ClientID))
		h.deps.Network.Unbind(addr)
		h.deps.Metrics.SessionsActive.Set(float64(h.deps.Sessions.Len()))
	} else {
		sess.SetExpiry(secondsToDuration(duration))
	}

	return h.send(ctx, addr, &packet.Disconnect{})
}

func secondsToDuration(seconds uint16) time.Duration {
	return time.Duration(seconds) * time.Second
}
