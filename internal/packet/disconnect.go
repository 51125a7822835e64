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

import "github.com/lenzarda/mqtt-sn/internal/xerror"

// Disconnect represents the MQTT-SN DISCONNECT message. Duration is
// present only when the client requests a sleep period (spec §4.3); zero
// duration with HasDuration false means an immediate, clean disconnect.
type Disconnect struct {
	HasDuration bool
	Duration    uint16
}

func (d *Disconnect) Type() MsgType { return DISCONNECT }

func (d *Disconnect) EncodePayload() ([]byte, error) {
	if !d.HasDuration {
		return nil, nil
	}
	return []byte{byte(d.Duration >> 8), byte(d.Duration)}, nil
}

func decodeDisconnect(payload []byte) (Message, error) {
	switch len(payload) {
	case 0:
		return &Disconnect{}, nil
	case 2:
		return &Disconnect{
			HasDuration: true,
			Duration:    uint16(payload[0])<<8 | uint16(payload[1]),
		}, nil
	default:
		return nil, xerror.Codec(xerror.InvalidLength, "DISCONNECT payload must be 0 or 2 bytes, got %d", len(payload))
	}
}

func init() {
	register(DISCONNECT, decodeDisconnect)
}
