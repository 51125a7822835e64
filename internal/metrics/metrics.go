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

// Package metrics exposes the gateway's runtime counters and gauges via
// prometheus/client_golang, registered against a private registry so
// multiple Runtime instances (e.g. in tests) never collide on the
// default global registerer.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector the gateway updates.
type Metrics struct {
	Registry *prometheus.Registry

	SessionsActive   prometheus.Gauge
	SessionsByState  *prometheus.GaugeVec
	QueueDepth       *prometheus.GaugeVec
	QueueDropped     prometheus.Counter
	CodecErrors      *prometheus.CounterVec
	PublishesSent    prometheus.Counter
	PublishesRetried prometheus.Counter
	DeadLettered     prometheus.Counter
}

// New builds a Metrics bundle and registers every collector.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mqttsn",
			Name:      "sessions_active",
			Help:      "Number of sessions currently registered.",
		}),
		SessionsByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mqttsn",
			Name:      "sessions_by_state",
			Help:      "Number of sessions in each state.",
		}, []string{"state"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mqttsn",
			Name:      "queue_depth",
			Help:      "Outbound queue depth per session.",
		}, []string{"session"}),
		QueueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mqttsn",
			Name:      "queue_dropped_total",
			Help:      "Publishes diverted to the dead-letter sink because a queue was full.",
		}),
		CodecErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mqttsn",
			Name:      "codec_errors_total",
			Help:      "Decode/encode failures by kind.",
		}, []string{"kind"}),
		PublishesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mqttsn",
			Name:      "publishes_sent_total",
			Help:      "Outbound publishes transmitted, including retries.",
		}),
		PublishesRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mqttsn",
			Name:      "publishes_retried_total",
			Help:      "Outbound publish retransmissions.",
		}),
		DeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mqttsn",
			Name:      "dead_lettered_total",
			Help:      "Publishes that exhausted retries and were diverted.",
		}),
	}

	m.Registry.MustRegister(
		m.SessionsActive,
		m.SessionsByState,
		m.QueueDepth,
		m.QueueDropped,
		m.CodecErrors,
		m.PublishesSent,
		m.PublishesRetried,
		m.DeadLettered,
	)
	return m
}
