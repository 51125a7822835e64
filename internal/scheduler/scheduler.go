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

// Package scheduler drives the gateway's background work: dispatching
// inbound datagrams and per-session queue ticks onto a bounded worker
// pool (spec §5 "a worker pool, not one goroutine per session"), and
// periodically sweeping sessions for keepalive expiry and session
// expiry. Each session's work is serialized onto the same mailbox so two
// goroutines never touch one session concurrently (spec §5 actor model).
package scheduler

import (
	"context"
	"time"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/lenzarda/mqtt-sn/internal/delivery"
	"github.com/lenzarda/mqtt-sn/internal/metrics"
	"github.com/lenzarda/mqtt-sn/internal/session"
	"github.com/lenzarda/mqtt-sn/internal/xlog"
)

// Options configures a Scheduler.
type Options struct {
	WorkerPoolSize             int
	TickInterval               time.Duration
	KeepaliveGraceFactor       float64
	SessionExpiryCheckInterval time.Duration
}

// Scheduler owns the worker pool and the periodic sweep loops. Each
// session's queue is only ever ticked from one submitted task at a time
// (tickLoop submits one task per session per tick and that task loops
// internally until the session has nothing left to reprocess), which is
// what keeps the actor-mailbox invariant without a separate per-session
// lock in the scheduler itself.
type Scheduler struct {
	pool      *ants.Pool
	processor *delivery.Processor
	sessions  *session.Registry
	network   *session.NetworkRegistry
	metrics   *metrics.Metrics
	opts      Options
	log       *xlog.Log
}

// New builds a Scheduler with a worker pool of opts.WorkerPoolSize
// workers, or 256 when that is 0 or less. m may be nil to skip gauge
// updates (tests wiring a bare Scheduler don't need a registry).
func New(opts Options, processor *delivery.Processor, sessions *session.Registry, network *session.NetworkRegistry, m *metrics.Metrics) (*Scheduler, error) {
	size := opts.WorkerPoolSize
	if size <= 0 {
		size = 256
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, err
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 200 * time.Millisecond
	}
	if opts.KeepaliveGraceFactor <= 0 {
		opts.KeepaliveGraceFactor = 1.5
	}
	if opts.SessionExpiryCheckInterval <= 0 {
		opts.SessionExpiryCheckInterval = 30 * time.Second
	}
	return &Scheduler{
		pool:      pool,
		processor: processor,
		sessions:  sessions,
		network:   network,
		metrics:   m,
		opts:      opts,
		log:       xlog.LoggerModule("scheduler"),
	}, nil
}

// Submit runs fn on the worker pool. Callers dispatching inbound
// datagrams use this directly; per-session ordering for those is
// provided upstream by the transport's per-connection delivery order,
// not by the pool.
func (s *Scheduler) Submit(fn func()) error {
	return s.pool.Submit(fn)
}

// Run starts the queue-tick and keepalive/expiry sweep loops, returning
// when ctx is done. It always returns the first error encountered, if
// any, after every loop has exited.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.tickLoop(ctx) })
	g.Go(func() error { return s.sweepLoop(ctx) })

	return g.Wait()
}

func (s *Scheduler) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			for _, sess := range s.sessions.All() {
				sess := sess
				state := sess.State()
				if state != session.StateActive && state != session.StateAwake {
					continue
				}
				_ = s.pool.Submit(func() {
					for {
						result := s.processor.Tick(sess, now)
						if result != delivery.REPROCESS {
							return
						}
					}
				})
			}
		}
	}
}

func (s *Scheduler) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.SessionExpiryCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			all := s.sessions.All()
			for _, sess := range all {
				keepalive := sess.Keepalive()
				if keepalive <= 0 {
					continue
				}
				grace := time.Duration(float64(keepalive) * s.opts.KeepaliveGraceFactor)
				if now.Sub(sess.LastSeen()) >= grace {
					if err := sess.HandleKeepaliveExpired(); err == nil {
						s.log.Sugar().Infow("session lost", "client", string(sess.ClientID))
					}
				}
			}
			for _, expired := range s.sessions.ExpireOlderThan(now) {
				s.network.Unbind(expired.NetworkAddr)
				s.log.Sugar().Infow("session expired", "client", string(expired.ClientID))
			}
			s.reportGauges(all)
		}
	}
}

// reportGauges refreshes the per-state session count and per-session
// queue depth gauges. It runs on the sweep interval rather than every
// tick since these are point-in-time gauges, not counters, and the sweep
// loop already iterates every session once per pass.
func (s *Scheduler) reportGauges(sessions []*session.Session) {
	if s.metrics == nil {
		return
	}
	counts := map[string]int{}
	for _, sess := range sessions {
		state := sess.State().String()
		counts[state]++
		s.metrics.QueueDepth.WithLabelValues(string(sess.ClientID)).Set(float64(sess.Queue.Len()))
	}
	for _, state := range []string{
		session.StateDisconnected.String(),
		session.StateActive.String(),
		session.StateAsleep.String(),
		session.StateAwake.String(),
		session.StateLost.String(),
	} {
		s.metrics.SessionsByState.WithLabelValues(state).Set(float64(counts[state]))
	}
}

// Shutdown releases the worker pool, blocking until every submitted task
// has finished or the grace period elapses.
func (s *Scheduler) Shutdown(grace time.Duration) {
	deadline := time.Now().Add(grace)
	for s.pool.Running() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	s.pool.Release()
}
