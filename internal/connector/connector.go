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

// Package connector defines the contract the gateway uses to publish
// decoded application messages onward (to a broker, a local bus, or
// wherever the deployment wants MQTT-SN traffic to surface) and to
// accept application messages coming the other way for fan-out to
// devices. Concrete upstream connectors (an MQTT client, a message
// broker SDK) are out of scope (spec §1 Non-goals); this package ships
// the contract plus a Loopback and an Aggregating implementation used by
// tests and the demo binary.
package connector

import (
	"context"
	"sync"

	"github.com/lenzarda/mqtt-sn/internal/packet"
)

// Message is one application-level publish crossing the connector
// boundary, stripped of any MQTT-SN framing.
type Message struct {
	Topic   string
	QoS     packet.QoS
	Retain  bool
	Payload []byte
}

// Connector is the gateway's upstream publish/subscribe boundary.
type Connector interface {
	// Publish forwards a message a device sent to the gateway.
	Publish(ctx context.Context, msg Message) error
	// Deliveries returns the channel of messages the connector wants
	// fanned out to subscribed devices.
	Deliveries() <-chan Message
	Close() error
}

// Loopback is an in-process Connector: Publish loops a message back onto
// Deliveries, exactly what the spec's single-process demo needs and what
// tests use to assert fan-out behavior end to end.
type Loopback struct {
	out    chan Message
	mu     sync.Mutex
	closed bool
}

// NewLoopback builds a Loopback connector with the given delivery buffer
// depth.
func NewLoopback(buffer int) *Loopback {
	return &Loopback{out: make(chan Message, buffer)}
}

// Publish implements Connector.
func (l *Loopback) Publish(ctx context.Context, msg Message) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return context.Canceled
	}
	select {
	case l.out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deliveries implements Connector.
func (l *Loopback) Deliveries() <-chan Message {
	return l.out
}

// Close implements Connector.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.out)
	}
	return nil
}

// Aggregating fans a Publish out to every member Connector and merges
// their Deliveries into a single channel, for deployments that bridge
// more than one upstream (spec's supplemented "multi-upstream bridging"
// feature).
type Aggregating struct {
	members []Connector
	merged  chan Message
	wg      sync.WaitGroup
}

// NewAggregating builds an Aggregating connector over members.
func NewAggregating(members ...Connector) *Aggregating {
	a := &Aggregating{members: members, merged: make(chan Message, 64)}
	for _, m := range members {
		a.wg.Add(1)
		go func(m Connector) {
			defer a.wg.Done()
			for msg := range m.Deliveries() {
				a.merged <- msg
			}
		}(m)
	}
	return a
}

// Publish implements Connector by forwarding to every member, returning
// the first error encountered (if any) after attempting all of them.
func (a *Aggregating) Publish(ctx context.Context, msg Message) error {
	var firstErr error
	for _, m := range a.members {
		if err := m.Publish(ctx, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Deliveries implements Connector.
func (a *Aggregating) Deliveries() <-chan Message {
	return a.merged
}

// Close implements Connector, closing every member and waiting for their
// fan-in goroutines to finish before closing the merged channel.
func (a *Aggregating) Close() error {
	var firstErr error
	for _, m := range a.members {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.wg.Wait()
	close(a.merged)
	return firstErr
}
