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

package session

import (
	"sync"
	"time"

	"github.com/lenzarda/mqtt-sn/internal/xerror"
)

// Registry creates, looks up and expires session contexts, keyed by
// client ID (spec §2 "Session Registry", §3 "Session context").
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	maxCount int
}

// NewRegistry builds a Registry admitting at most maxSessions concurrent
// sessions (0 means unbounded).
func NewRegistry(maxSessions int) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		maxCount: maxSessions,
	}
}

// GetOrCreate returns the existing session for clientID, or builds one
// via newFn if none exists. It returns xerror.ErrLimitExceeded if the
// registry is at capacity and no session for clientID already exists.
func (r *Registry) GetOrCreate(clientID string, newFn func() *Session) (*Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[clientID]; ok {
		return s, false, nil
	}
	if r.maxCount > 0 && len(r.sessions) >= r.maxCount {
		return nil, false, xerror.ErrLimitExceeded
	}
	s := newFn()
	r.sessions[clientID] = s
	return s, true, nil
}

// Get returns the session for clientID, if any.
func (r *Registry) Get(clientID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[clientID]
	return s, ok
}

// Remove deletes clientID's session, e.g. on clean DISCONNECT.
func (r *Registry) Remove(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, clientID)
}

// Len reports how many sessions are currently registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ExpireOlderThan removes and returns every session whose expiry
// interval has elapsed since it was last seen (spec §4.3: "any +
// session-expiry elapsed -> removed"). ExpiryNever sessions are never
// swept.
func (r *Registry) ExpireOlderThan(now time.Time) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []*Session
	for id, s := range r.sessions {
		exp := s.Expiry()
		if exp <= 0 || exp == ExpiryNever {
			continue
		}
		if now.Sub(s.LastSeen()) >= exp {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	return expired
}

// All returns a snapshot of every registered session, e.g. for a
// keepalive sweep.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
