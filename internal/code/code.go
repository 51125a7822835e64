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

// Package code enumerates the one-byte return/reason codes carried in
// CONNACK, REGACK, SUBACK and friends.
package code

// Code is the return code carried by CONNACK/REGACK/SUBACK/PUBACK/UNSUBACK.
type Code byte

const (
	// Success/Accepted: the request was accepted.
	Success           Code = 0x00
	Accepted          Code = 0x00
	RejectedCongestion Code = 0x01
	RejectedInvalidTopicID Code = 0x02
	RejectedNotSupported   Code = 0x03
)

// String renders a human-readable name, used in logs.
func (c Code) String() string {
	switch c {
	case Success:
		return "accepted"
	case RejectedCongestion:
		return "rejected: congestion"
	case RejectedInvalidTopicID:
		return "rejected: invalid topic ID"
	case RejectedNotSupported:
		return "rejected: not supported"
	default:
		return "unknown"
	}
}
