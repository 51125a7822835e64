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

// Package topic implements the per-session topic alias table (spec §3,
// §4.2): a bidirectional mapping between topic strings and the 16-bit
// numeric IDs MQTT-SN carries on the wire, for the normal, predefined and
// short alias kinds.
package topic

import (
	"sync"

	"github.com/lenzarda/mqtt-sn/internal/packet"
	"github.com/lenzarda/mqtt-sn/internal/xerror"
)

const (
	minNormalAlias uint16 = 0x0001
	maxNormalAlias uint16 = 0xFFFE
)

// Registry is one session's alias table. The zero value is not usable;
// construct with New.
type Registry struct {
	mu sync.RWMutex

	normal    map[uint16]string
	normalRev map[string]uint16
	next      uint16

	predefined    map[uint16]string
	predefinedRev map[string]uint16

	short    map[uint16]string
	shortRev map[string]uint16
}

// New builds a Registry seeded with the gateway-wide predefined aliases
// (negotiated out of band, stable across sessions — spec §3).
func New(predefined map[string]uint16) *Registry {
	r := &Registry{
		normal:        make(map[uint16]string),
		normalRev:     make(map[string]uint16),
		predefined:    make(map[uint16]string),
		predefinedRev: make(map[string]uint16),
		short:         make(map[uint16]string),
		shortRev:      make(map[string]uint16),
		next:          minNormalAlias,
	}
	for t, a := range predefined {
		r.predefined[a] = t
		r.predefinedRev[t] = a
	}
	return r
}

// Register allocates (or returns the existing) normal alias for topic.
// Allocation is a monotonic increment modulo the normal range, skipping
// aliases currently in use; on exhaustion it fails the caller rather than
// evicting an existing mapping (spec §4.2).
func (r *Registry) Register(topic string) (uint16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if alias, ok := r.normalRev[topic]; ok {
		return alias, nil
	}

	start := r.next
	for {
		candidate := r.next
		r.advance()
		if _, inUse := r.normal[candidate]; !inUse {
			r.normal[candidate] = topic
			r.normalRev[topic] = candidate
			return candidate, nil
		}
		if r.next == start {
			return 0, xerror.ErrRegistryFull
		}
	}
}

// advance steps r.next to the next candidate alias, wrapping from
// maxNormalAlias back to minNormalAlias (never landing on 0x0000 or
// 0xFFFF, per spec §3).
func (r *Registry) advance() {
	if r.next >= maxNormalAlias {
		r.next = minNormalAlias
		return
	}
	r.next++
}

// RegisterShort installs a two-character short topic name, encoded
// directly into the 16-bit alias field (spec §3).
func (r *Registry) RegisterShort(topic string) (uint16, error) {
	if len(topic) != 2 {
		return 0, xerror.Codec(xerror.FieldOutOfRange, "short topic must be exactly 2 characters, got %d", len(topic))
	}
	alias := uint16(topic[0])<<8 | uint16(topic[1])

	r.mu.Lock()
	defer r.mu.Unlock()
	r.short[alias] = topic
	r.shortRev[topic] = alias
	return alias, nil
}

// LookupByAlias resolves alias back to its topic string for the given
// alias kind.
func (r *Registry) LookupByAlias(alias uint16, kind packet.TopicIDType) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case packet.TopicIDPredefined:
		t, ok := r.predefined[alias]
		return t, ok
	case packet.TopicIDShort:
		t, ok := r.short[alias]
		return t, ok
	default:
		t, ok := r.normal[alias]
		return t, ok
	}
}

// LookupByTopic resolves topic to its alias and kind, searching
// predefined, then short, then normal mappings.
func (r *Registry) LookupByTopic(topic string) (uint16, packet.TopicIDType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if alias, ok := r.predefinedRev[topic]; ok {
		return alias, packet.TopicIDPredefined, true
	}
	if alias, ok := r.shortRev[topic]; ok {
		return alias, packet.TopicIDShort, true
	}
	if alias, ok := r.normalRev[topic]; ok {
		return alias, packet.TopicIDNormal, true
	}
	return 0, 0, false
}

// ClearNormal drops every normal-alias mapping, called on session expiry
// or an explicit clean start. Predefined and short mappings survive
// (spec §4.2).
func (r *Registry) ClearNormal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.normal = make(map[uint16]string)
	r.normalRev = make(map[string]uint16)
	r.next = minNormalAlias
}
