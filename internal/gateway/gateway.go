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

// Package gateway wires the gateway's pieces (config, transport,
// connector, storage, session/network registries, handler, processor
// and scheduler) into one runnable whole, the same way chenquan's
// internal/server bundles a broker's listeners and stores behind a
// functional-options constructor.
package gateway

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/lenzarda/mqtt-sn/config"
	"github.com/lenzarda/mqtt-sn/internal/connector"
	"github.com/lenzarda/mqtt-sn/internal/delivery"
	"github.com/lenzarda/mqtt-sn/internal/handler"
	"github.com/lenzarda/mqtt-sn/internal/message"
	"github.com/lenzarda/mqtt-sn/internal/metrics"
	"github.com/lenzarda/mqtt-sn/internal/queue"
	"github.com/lenzarda/mqtt-sn/internal/scheduler"
	"github.com/lenzarda/mqtt-sn/internal/session"
	"github.com/lenzarda/mqtt-sn/internal/storage"
	"github.com/lenzarda/mqtt-sn/internal/subscription"
	"github.com/lenzarda/mqtt-sn/internal/transport"
	"github.com/lenzarda/mqtt-sn/internal/xlog"
	"github.com/lenzarda/mqtt-sn/internal/xtrace"
)

// Option configures a Gateway at construction time.
type Option func(*Options)

// Options holds the pluggable boundary implementations a caller may
// override; anything left nil falls back to the in-memory/loopback
// default named in each With* doc comment.
type Options struct {
	Config    *config.Config
	Transport transport.Transport
	Connector connector.Connector
	Store     storage.Store
	Overflow  queue.Overflow
}

// WithConfig sets the gateway's configuration. Without it New uses
// config.Default().
func WithConfig(c *config.Config) Option {
	return func(o *Options) { o.Config = c }
}

// WithTransport overrides the default Loopback transport.
func WithTransport(t transport.Transport) Option {
	return func(o *Options) { o.Transport = t }
}

// WithConnector overrides the default Loopback upstream connector.
func WithConnector(c connector.Connector) Option {
	return func(o *Options) { o.Connector = c }
}

// WithStore overrides the default in-memory Store.
func WithStore(s storage.Store) Option {
	return func(o *Options) { o.Store = s }
}

// WithOverflow overrides the default in-memory dead-letter Overflow.
func WithOverflow(ov queue.Overflow) Option {
	return func(o *Options) { o.Overflow = ov }
}

// Gateway is a fully wired MQTT-SN gateway runtime.
type Gateway struct {
	cfg       *config.Config
	log       *xlog.Log
	transport transport.Transport
	connector connector.Connector
	store     storage.Store
	metrics   *metrics.Metrics
	sessions  *session.Registry
	network   *session.NetworkRegistry
	handler   *handler.Handler
	processor *delivery.Processor
	scheduler *scheduler.Scheduler
}

// New builds a Gateway from opts. Without WithConfig it uses
// config.Default(); every other boundary defaults to its
// in-memory/loopback implementation.
func New(opts ...Option) (*Gateway, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}
	if options.Config == nil {
		options.Config = config.Default()
	}
	cfg := options.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := xlog.LoggerModule("gateway")

	tr := options.Transport
	if tr == nil {
		tr = transport.NewLoopback(256)
	}
	conn := options.Connector
	if conn == nil {
		conn = connector.NewLoopback(256)
	}
	store := options.Store
	if store == nil {
		store = storage.NewMemoryStore()
	}
	overflow := options.Overflow
	if overflow == nil {
		overflow = queue.NewDeadLetter(1024)
	}

	payloads := message.New()
	sessions := session.NewRegistry(cfg.Gateway.MaxSessions)
	network := session.NewNetworkRegistry()
	subs := subscription.New(subscription.Limits{
		MaxPathLength:    cfg.Gateway.SubscriptionLimits.MaxPathLength,
		MaxSegments:      cfg.Gateway.SubscriptionLimits.MaxSegments,
		MaxMembersPerNode: cfg.Gateway.SubscriptionLimits.MaxMembersPerNode,
	})
	met := metrics.New()

	sender := &handler.TransportSender{Transport: tr, Payloads: payloads}
	processor := delivery.NewProcessor(
		delivery.RetryPolicy{
			InitialInterval: time.Duration(cfg.Gateway.RetryTimeoutMs) * time.Millisecond,
			MaxInterval:     time.Duration(cfg.Gateway.MaxRetryTimeoutMs) * time.Millisecond,
			MaxRetries:      cfg.Gateway.MaxRetries,
		},
		sender,
		overflow,
		payloads,
		met,
	)

	deps := &handler.Deps{
		Sessions:          sessions,
		Network:           network,
		Subscriptions:     subs,
		Payloads:          payloads,
		Processor:         processor,
		Connector:         conn,
		Transport:         tr,
		Metrics:           met,
		Tracer:            otel.GetTracerProvider().Tracer(xtrace.Name),
		Version:           cfg.Gateway.Version(),
		PredefinedAliases: cfg.Gateway.PredefinedAliases,
		QueueCapacity:     cfg.Gateway.MaxQueueSize,
		Overflow:          overflow,
		AllowAnonymous:    cfg.Gateway.AllowAnonymous,
		IntegrityEnabled:  cfg.Gateway.IntegrityEnabled,
	}
	h := handler.New(deps)

	sched, err := scheduler.New(scheduler.Options{
		WorkerPoolSize:             cfg.Gateway.WorkerPoolSize,
		KeepaliveGraceFactor:       cfg.Gateway.KeepaliveGraceFactor,
		SessionExpiryCheckInterval: cfg.Gateway.SessionExpiryCheckInterval,
	}, processor, sessions, network, met)
	if err != nil {
		return nil, err
	}

	return &Gateway{
		cfg:       cfg,
		log:       log,
		transport: tr,
		connector: conn,
		store:     store,
		metrics:   met,
		sessions:  sessions,
		network:   network,
		handler:   h,
		processor: processor,
		scheduler: sched,
	}, nil
}

// Run drives the gateway until ctx is canceled: it starts the
// scheduler's background loops and pulls datagrams off the transport,
// handing each to the handler on the worker pool.
func (g *Gateway) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- g.scheduler.Run(ctx)
	}()
	go g.drainConnector(ctx)

	for {
		dg, err := g.transport.Receive(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				g.scheduler.Shutdown(g.cfg.Gateway.ShutdownGracePeriod)
				return <-errCh
			default:
				g.log.Warn("transport receive", zap.Error(err))
				continue
			}
		}
		_ = g.scheduler.Submit(func() {
			if err := g.handler.Handle(ctx, dg.Addr, dg.Payload); err != nil {
				g.log.Warn("handle datagram", zap.String("addr", dg.Addr), zap.Error(err))
			}
		})
	}
}

// drainConnector reads messages the upstream Connector delivers
// independently of any local publish and re-injects each into the
// subscription matcher, until ctx is done or the connector closes its
// delivery channel. A Loopback connector's own echo is usually drained
// synchronously by the handler right after the publish that produced it;
// this loop exists for connectors that deliver on their own schedule.
func (g *Gateway) drainConnector(ctx context.Context) {
	deliveries := g.connector.Deliveries()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-deliveries:
			if !ok {
				return
			}
			_ = g.scheduler.Submit(func() {
				g.handler.DeliverUpstream(msg)
			})
		}
	}
}

// Transport exposes the gateway's bound transport, e.g. so a demo's
// main can inject datagrams into a Loopback.
func (g *Gateway) Transport() transport.Transport { return g.transport }

// Sessions exposes the session registry for diagnostics/tests.
func (g *Gateway) Sessions() *session.Registry { return g.sessions }

// Metrics exposes the Prometheus collectors for scraping.
func (g *Gateway) Metrics() *metrics.Metrics { return g.metrics }

// SessionSnapshot is one session's externally-visible state, for an
// admin surface or diagnostic dump.
type SessionSnapshot struct {
	ClientID   string
	State      string
	QueueDepth int
	LastSeen   time.Time
}

// Snapshot returns a read-only view of every live session, for an
// admin surface built outside this package (HTTP wiring is an external
// collaborator, per this gateway's transport/connector Non-goals).
func (g *Gateway) Snapshot() []SessionSnapshot {
	all := g.sessions.All()
	out := make([]SessionSnapshot, 0, len(all))
	for _, s := range all {
		out = append(out, SessionSnapshot{
			ClientID:   string(s.ClientID),
			State:      s.State().String(),
			QueueDepth: s.Queue.Len(),
			LastSeen:   s.LastSeen(),
		})
	}
	return out
}
