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

// Package message is the content-addressed payload store (spec §3): a
// UUID → bytes map that queues and inflight slots reference by UUID
// instead of copying a fanned-out publish's payload once per subscriber.
package message

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is a reference-counted payload store. The zero value is not
// usable; construct with New.
type Registry struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entry
}

type entry struct {
	payload []byte
	refs    int
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[uuid.UUID]*entry)}
}

// Put stores payload under a fresh UUID with an initial reference count
// of refs (typically the fan-out width: one per subscribing session).
// refs must be at least 1.
func (r *Registry) Put(payload []byte, refs int) uuid.UUID {
	if refs < 1 {
		refs = 1
	}
	id := uuid.New()
	r.mu.Lock()
	r.entries[id] = &entry{payload: payload, refs: refs}
	r.mu.Unlock()
	return id
}

// Get returns the payload for id without affecting its reference count.
func (r *Registry) Get(id uuid.UUID) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.payload, true
}

// Retain increments id's reference count, e.g. when a queued reference is
// duplicated onto a retry path that outlives the original.
func (r *Registry) Retain(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.refs++
	}
}

// Release decrements id's reference count, deleting the payload once it
// reaches zero (spec §5: "a payload is released when its refcount drops
// to zero").
func (r *Registry) Release(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(r.entries, id)
	}
}

// Len reports how many distinct payloads are currently retained. Used by
// metrics and tests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
