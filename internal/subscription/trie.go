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

// Package subscription implements the wildcard-aware subscription trie
// (spec §4.4): a trie mapping topic filters to subscriber sets, answering
// "who subscribes to topic T?". The trie stores session IDs, not session
// pointers (spec §9) — callers resolve IDs through the session registry.
package subscription

import (
	"sort"
	"strings"
	"sync"

	"github.com/lenzarda/mqtt-sn/internal/packet"
	"github.com/lenzarda/mqtt-sn/internal/xerror"
)

const (
	singleLevelWildcard = "+"
	multiLevelWildcard  = "#"
)

// Limits bounds the shape of the trie, configurable per deployment
// (spec §4.4, §6 subscriptionLimits). Zero means unbounded.
type Limits struct {
	MaxPathLength    int
	MaxSegments      int
	MaxMembersPerNode int
}

// Member is one subscriber at a matching trie node.
type Member struct {
	Session string
	QoS     packet.QoS
}

type wildcardKind int

const (
	notWildcard wildcardKind = iota
	singleWildcard
	multiWildcard
)

type node struct {
	children       map[string]*node
	wildcardSingle *node
	wildcardMulti  *node
	members        map[string]packet.QoS

	parent       *node
	parentKey    string
	parentKind   wildcardKind
}

func newNode(parent *node, key string, kind wildcardKind) *node {
	return &node{
		children:   make(map[string]*node),
		members:    make(map[string]packet.QoS),
		parent:     parent,
		parentKey:  key,
		parentKind: kind,
	}
}

// Trie is a concurrency-safe wildcard subscription matcher. The zero
// value is not usable; construct with New.
type Trie struct {
	mu     sync.RWMutex
	root   *node
	limits Limits
}

// New builds an empty Trie.
func New(limits Limits) *Trie {
	return &Trie{root: newNode(nil, "", notWildcard), limits: limits}
}

func splitSegments(filter string) []string {
	return strings.Split(filter, "/")
}

func (t *Trie) validate(filter string) ([]string, error) {
	if t.limits.MaxPathLength > 0 && len(filter) > t.limits.MaxPathLength {
		return nil, xerror.ErrLimitExceeded
	}
	segs := splitSegments(filter)
	if t.limits.MaxSegments > 0 && len(segs) > t.limits.MaxSegments {
		return nil, xerror.ErrLimitExceeded
	}
	for i, s := range segs {
		if s == multiLevelWildcard && i != len(segs)-1 {
			return nil, xerror.ErrMalformed
		}
	}
	return segs, nil
}

// Subscribe installs (session, qos) at filter. Re-subscribing the same
// (session, filter) pair updates the granted QoS in place.
func (t *Trie) Subscribe(session, filter string, qos packet.QoS) error {
	segs, err := t.validate(filter)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.root
	for _, seg := range segs {
		switch seg {
		case singleLevelWildcard:
			if n.wildcardSingle == nil {
				n.wildcardSingle = newNode(n, seg, singleWildcard)
			}
			n = n.wildcardSingle
		case multiLevelWildcard:
			if n.wildcardMulti == nil {
				n.wildcardMulti = newNode(n, seg, multiWildcard)
			}
			n = n.wildcardMulti
		default:
			child, ok := n.children[seg]
			if !ok {
				child = newNode(n, seg, notWildcard)
				n.children[seg] = child
			}
			n = child
		}
	}

	if _, exists := n.members[session]; !exists &&
		t.limits.MaxMembersPerNode > 0 && len(n.members) >= t.limits.MaxMembersPerNode {
		return xerror.ErrLimitExceeded
	}
	n.members[session] = qos
	return nil
}

// Unsubscribe removes session from filter. If the terminal node (and any
// ancestor left empty by the removal) has no remaining members and no
// children, it is pruned from its parent (spec §4.4 self-pruning).
func (t *Trie) Unsubscribe(session, filter string) {
	segs := splitSegments(filter)

	t.mu.Lock()
	defer t.mu.Unlock()

	n := t.root
	for _, seg := range segs {
		switch seg {
		case singleLevelWildcard:
			n = n.wildcardSingle
		case multiLevelWildcard:
			n = n.wildcardMulti
		default:
			n = n.children[seg]
		}
		if n == nil {
			return
		}
	}
	delete(n.members, session)
	t.prune(n)
}

// UnsubscribeAll removes every filter session is subscribed to. Callers
// that track a session's filter list (spec §3, subscription record
// mirrored in the session) should pass that list; this is a convenience
// for bulk teardown on session expiry.
func (t *Trie) UnsubscribeAll(session string, filters []string) {
	for _, f := range filters {
		t.Unsubscribe(session, f)
	}
}

func (t *Trie) prune(n *node) {
	for n != nil && n.parent != nil && len(n.members) == 0 &&
		len(n.children) == 0 && n.wildcardSingle == nil && n.wildcardMulti == nil {
		parent := n.parent
		switch n.parentKind {
		case singleWildcard:
			parent.wildcardSingle = nil
		case multiWildcard:
			parent.wildcardMulti = nil
		default:
			delete(parent.children, n.parentKey)
		}
		n = parent
	}
}

// Search returns every (session, qos) whose installed filter matches the
// concrete topic, per MQTT wildcard rules (spec §4.4, invariant 4).
// Ordering is unspecified but deterministic for identical insertion
// order.
func (t *Trie) Search(topic string) []Member {
	segs := splitSegments(topic)

	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Member
	t.search(t.root, segs, &out)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Session != out[j].Session {
			return out[i].Session < out[j].Session
		}
		return out[i].QoS < out[j].QoS
	})
	return out
}

func (t *Trie) search(n *node, segs []string, out *[]Member) {
	if n.wildcardMulti != nil {
		for s, q := range n.wildcardMulti.members {
			*out = append(*out, Member{Session: s, QoS: q})
		}
	}
	if len(segs) == 0 {
		for s, q := range n.members {
			*out = append(*out, Member{Session: s, QoS: q})
		}
		return
	}
	head, tail := segs[0], segs[1:]
	if child, ok := n.children[head]; ok {
		t.search(child, tail, out)
	}
	if n.wildcardSingle != nil {
		t.search(n.wildcardSingle, tail, out)
	}
}
