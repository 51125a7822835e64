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

package queue

import "sync"

// DeadLetterRecord is one diverted publish, tagged with the session it
// could not be delivered to.
type DeadLetterRecord struct {
	SessionID string
	Entry     Entry
}

// DeadLetter is the default in-memory terminal sink for undeliverable
// publishes (spec's glossary: "dead-letter queue"). It keeps only the
// most recent maxRecords entries so a persistently unreachable session
// cannot grow it without bound.
type DeadLetter struct {
	mu         sync.Mutex
	maxRecords int
	records    []DeadLetterRecord
}

// NewDeadLetter builds a DeadLetter retaining at most maxRecords entries.
func NewDeadLetter(maxRecords int) *DeadLetter {
	if maxRecords <= 0 {
		maxRecords = 1000
	}
	return &DeadLetter{maxRecords: maxRecords}
}

// Divert implements Overflow.
func (d *DeadLetter) Divert(sessionID string, e Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, DeadLetterRecord{SessionID: sessionID, Entry: e})
	if len(d.records) > d.maxRecords {
		d.records = d.records[len(d.records)-d.maxRecords:]
	}
}

// Records returns a snapshot of the currently retained dead-letter
// records, oldest first.
func (d *DeadLetter) Records() []DeadLetterRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DeadLetterRecord, len(d.records))
	copy(out, d.records)
	return out
}

// Len reports how many records are currently retained.
func (d *DeadLetter) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.records)
}
