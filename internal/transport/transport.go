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

// Package transport defines the contract between the gateway core and
// whatever carries MQTT-SN datagrams on the wire (UDP, BLE, a serial
// link...). This package ships only the contract and an in-memory
// Loopback implementation for tests and the demo binary; concrete
// network transports are out of scope (spec §1 Non-goals).
package transport

import "context"

// Datagram is one inbound frame plus the address it arrived from.
type Datagram struct {
	Addr    string
	Payload []byte
}

// Transport abstracts a datagram-oriented carrier. Addr is an opaque
// string the gateway uses only as a map key and as the destination of a
// later Send; its format is transport-specific (e.g. "udp!1.2.3.4:1234").
type Transport interface {
	// Receive blocks until a datagram arrives or ctx is done.
	Receive(ctx context.Context) (Datagram, error)
	// Send writes payload to addr.
	Send(ctx context.Context, addr string, payload []byte) error
	// Close releases any underlying resources.
	Close() error
}

// Loopback is an in-process Transport backed by a channel, used by tests
// and the loopback demo binary in place of a real network socket.
type Loopback struct {
	inbound chan Datagram
	sent    chan Datagram
	closed  chan struct{}
}

// NewLoopback builds a Loopback with the given inbound queue depth.
func NewLoopback(buffer int) *Loopback {
	return &Loopback{
		inbound: make(chan Datagram, buffer),
		sent:    make(chan Datagram, buffer),
		closed:  make(chan struct{}),
	}
}

// Deliver injects a datagram as if it had arrived over the wire, e.g.
// from a test simulating a device.
func (l *Loopback) Deliver(addr string, payload []byte) {
	select {
	case l.inbound <- Datagram{Addr: addr, Payload: payload}:
	case <-l.closed:
	}
}

// Receive implements Transport.
func (l *Loopback) Receive(ctx context.Context) (Datagram, error) {
	select {
	case d := <-l.inbound:
		return d, nil
	case <-l.closed:
		return Datagram{}, context.Canceled
	case <-ctx.Done():
		return Datagram{}, ctx.Err()
	}
}

// Send implements Transport, recording the datagram for inspection via
// Sent.
func (l *Loopback) Send(ctx context.Context, addr string, payload []byte) error {
	select {
	case l.sent <- Datagram{Addr: addr, Payload: payload}:
		return nil
	case <-l.closed:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sent drains and returns whatever has been queued by Send calls so far.
func (l *Loopback) Sent() []Datagram {
	var out []Datagram
	for {
		select {
		case d := <-l.sent:
			out = append(out, d)
		default:
			return out
		}
	}
}

// Close implements Transport.
func (l *Loopback) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return nil
}
