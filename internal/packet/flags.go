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

package packet

// Flags is the shared one-byte flags field carried by CONNECT, PUBLISH,
// SUBSCRIBE, REGACK and friends:
//
//	bit7: DUP   bit6-5: QoS   bit4: Retain   bit3: Will
//	bit2: CleanSession        bit1-0: TopicIdType
type Flags byte

const (
	bitDup          = 1 << 7
	bitQoSHigh      = 1 << 6
	bitQoSLow       = 1 << 5
	bitRetain       = 1 << 4
	bitWill         = 1 << 3
	bitCleanSession = 1 << 2
	maskTopicIDType = 0x03
)

func NewFlags(dup bool, qos QoS, retain, will, cleanSession bool, idType TopicIDType) Flags {
	var f byte
	if dup {
		f |= bitDup
	}
	switch qos {
	case QoS1:
		f |= bitQoSLow
	case QoS2:
		f |= bitQoSHigh
	case QoSNegOne:
		f |= bitQoSHigh | bitQoSLow
	}
	if retain {
		f |= bitRetain
	}
	if will {
		f |= bitWill
	}
	if cleanSession {
		f |= bitCleanSession
	}
	f |= byte(idType) & maskTopicIDType
	return Flags(f)
}

func (f Flags) Dup() bool { return byte(f)&bitDup != 0 }

func (f Flags) QoS() QoS {
	switch byte(f) & (bitQoSHigh | bitQoSLow) {
	case bitQoSLow:
		return QoS1
	case bitQoSHigh:
		return QoS2
	case bitQoSHigh | bitQoSLow:
		return QoSNegOne
	default:
		return QoS0
	}
}

func (f Flags) Retain() bool       { return byte(f)&bitRetain != 0 }
func (f Flags) Will() bool         { return byte(f)&bitWill != 0 }
func (f Flags) CleanSession() bool { return byte(f)&bitCleanSession != 0 }
func (f Flags) TopicIDType() TopicIDType {
	return TopicIDType(byte(f) & maskTopicIDType)
}
