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

import "github.com/lenzarda/mqtt-sn/internal/xerror"

// State is one of the client session states of spec §4.3.
type State int

const (
	StateDisconnected State = iota
	StateActive
	StateAsleep
	StateAwake
	StateLost
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateActive:
		return "ACTIVE"
	case StateAsleep:
		return "ASLEEP"
	case StateAwake:
		return "AWAKE"
	case StateLost:
		return "LOST"
	default:
		return "UNKNOWN"
	}
}

// The transitions below are exactly the ones spec §4.3 lists. Anything
// not explicitly implemented here is illegal (invariant 7).

// HandleConnect applies DISCONNECTED --CONNECT--> ACTIVE.
func (s *Session) HandleConnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateDisconnected {
		return xerror.ErrUnexpectedState
	}
	s.state = StateActive
	return nil
}

// HandleDisconnect applies ACTIVE --DISCONNECT(duration)--> DISCONNECTED
// when durationSeconds is zero, or ACTIVE --DISCONNECT(duration)-->
// ASLEEP when it is nonzero.
func (s *Session) HandleDisconnect(durationSeconds uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return xerror.ErrUnexpectedState
	}
	if durationSeconds == 0 {
		s.state = StateDisconnected
	} else {
		s.state = StateAsleep
	}
	return nil
}

// HandlePingReqAwake applies ASLEEP --PINGREQ(clientId)--> AWAKE.
func (s *Session) HandlePingReqAwake() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAsleep {
		return xerror.ErrUnexpectedState
	}
	s.state = StateAwake
	return nil
}

// HandleQueueDrained applies AWAKE --queue empty--> ASLEEP.
func (s *Session) HandleQueueDrained() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAwake {
		return xerror.ErrUnexpectedState
	}
	s.state = StateAsleep
	return nil
}

// HandleKeepaliveExpired applies any-state --keepalive x1.5 elapsed-->
// LOST, except from the terminal DISCONNECTED state where no keepalive
// is being tracked and from LOST itself; both return
// ErrUnexpectedState.
func (s *Session) HandleKeepaliveExpired() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected || s.state == StateLost {
		return xerror.ErrUnexpectedState
	}
	s.state = StateLost
	return nil
}

// ForceActive moves a session straight to ACTIVE regardless of its
// current state. It is used only for a client CONNECT-ing again while
// its existing session is not DISCONNECTED (e.g. it was ASLEEP): spec
// §4.3 doesn't define that transition, and rejecting the reconnect would
// strand the client behind a session it has no way to resume, so the new
// connection simply supersedes the old one.
func (s *Session) ForceActive() {
	s.mu.Lock()
	s.state = StateActive
	s.mu.Unlock()
}

// HandleTraffic applies LOST --any traffic--> ACTIVE. From any other
// state it is a legal no-op: ordinary traffic simply refreshes lastSeen,
// it does not itself cause a transition except out of LOST.
func (s *Session) HandleTraffic() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateLost {
		s.state = StateActive
	}
}
