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

import (
	"bytes"

	"github.com/lenzarda/mqtt-sn/internal/code"
	"github.com/lenzarda/mqtt-sn/internal/xerror"
)

// Subscribe represents the MQTT-SN SUBSCRIBE message. TopicName holds the
// filter when Flags.TopicIDType() is Normal or Short; TopicID holds the
// predefined alias when it is Predefined.
type Subscribe struct {
	Flags
	MessageID uint16
	TopicName []byte
	TopicID   uint16
}

func (s *Subscribe) Type() MsgType { return SUBSCRIBE }

func (s *Subscribe) EncodePayload() ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteByte(byte(s.Flags))
	buf.WriteByte(byte(s.MessageID >> 8))
	buf.WriteByte(byte(s.MessageID))
	if s.Flags.TopicIDType() == TopicIDPredefined {
		buf.WriteByte(byte(s.TopicID >> 8))
		buf.WriteByte(byte(s.TopicID))
	} else {
		buf.Write(s.TopicName)
	}
	return buf.Bytes(), nil
}

func decodeSubscribe(payload []byte) (Message, error) {
	if len(payload) < 3 {
		return nil, xerror.Codec(xerror.ShortBuffer, "SUBSCRIBE payload shorter than 3 bytes")
	}
	s := &Subscribe{
		Flags:     Flags(payload[0]),
		MessageID: uint16(payload[1])<<8 | uint16(payload[2]),
	}
	rest := payload[3:]
	if s.Flags.TopicIDType() == TopicIDPredefined {
		if len(rest) != 2 {
			return nil, xerror.Codec(xerror.InvalidLength, "predefined SUBSCRIBE topic id must be 2 bytes")
		}
		s.TopicID = uint16(rest[0])<<8 | uint16(rest[1])
	} else {
		s.TopicName = append([]byte(nil), rest...)
	}
	return s, nil
}

// NewSuback builds the SUBACK acknowledging this SUBSCRIBE.
func (s *Subscribe) NewSuback(grantedQoS QoS, topicID uint16, cd code.Code) *Suback {
	return &Suback{
		Flags:      NewFlags(false, grantedQoS, false, false, false, s.Flags.TopicIDType()),
		TopicID:    topicID,
		MessageID:  s.MessageID,
		ReturnCode: cd,
	}
}

// Suback represents the MQTT-SN SUBACK message.
type Suback struct {
	Flags
	TopicID    uint16
	MessageID  uint16
	ReturnCode code.Code
}

func (s *Suback) Type() MsgType { return SUBACK }

func (s *Suback) EncodePayload() ([]byte, error) {
	return []byte{
		byte(s.Flags),
		byte(s.TopicID >> 8), byte(s.TopicID),
		byte(s.MessageID >> 8), byte(s.MessageID),
		byte(s.ReturnCode),
	}, nil
}

func decodeSuback(payload []byte) (Message, error) {
	if len(payload) != 6 {
		return nil, xerror.Codec(xerror.InvalidLength, "SUBACK payload must be 6 bytes, got %d", len(payload))
	}
	return &Suback{
		Flags:      Flags(payload[0]),
		TopicID:    uint16(payload[1])<<8 | uint16(payload[2]),
		MessageID:  uint16(payload[3])<<8 | uint16(payload[4]),
		ReturnCode: code.Code(payload[5]),
	}, nil
}

func init() {
	register(SUBSCRIBE, decodeSubscribe)
	register(SUBACK, decodeSuback)
}
