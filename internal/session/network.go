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

import "sync"

// NetworkRegistry maps a transport-level address string to the session
// it currently carries (spec §3 "Network context... bound 1:1 to at most
// one session context at a time").
type NetworkRegistry struct {
	mu   sync.RWMutex
	byAddr map[string]*Session
}

// NewNetworkRegistry builds an empty NetworkRegistry.
func NewNetworkRegistry() *NetworkRegistry {
	return &NetworkRegistry{byAddr: make(map[string]*Session)}
}

// Bind associates addr with s, replacing any prior binding for that
// address (a new transport connection reusing the same address takes
// over, the stale session is left to time out via keepalive).
func (n *NetworkRegistry) Bind(addr string, s *Session) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.byAddr[addr] = s
	s.NetworkAddr = addr
}

// Lookup returns the session bound to addr, if any.
func (n *NetworkRegistry) Lookup(addr string) (*Session, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	s, ok := n.byAddr[addr]
	return s, ok
}

// Unbind removes addr's binding, e.g. when its session is removed.
func (n *NetworkRegistry) Unbind(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.byAddr, addr)
}
