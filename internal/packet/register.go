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

// Register represents the MQTT-SN REGISTER message. When sent
// client→gateway, TopicID is 0x0000 and is ignored; when sent
// gateway→client it carries the newly allocated alias.
type Register struct {
	TopicID   uint16
	MessageID uint16
	TopicName []byte
}

func (r *Register) Type() MsgType { return REGISTER }

func (r *Register) EncodePayload() ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteByte(byte(r.TopicID >> 8))
	buf.WriteByte(byte(r.TopicID))
	buf.WriteByte(byte(r.MessageID >> 8))
	buf.WriteByte(byte(r.MessageID))
	buf.Write(r.TopicName)
	return buf.Bytes(), nil
}

func decodeRegister(payload []byte) (Message, error) {
	if len(payload) < 4 {
		return nil, xerror.Codec(xerror.ShortBuffer, "REGISTER payload shorter than 4 bytes")
	}
	return &Register{
		TopicID:   uint16(payload[0])<<8 | uint16(payload[1]),
		MessageID: uint16(payload[2])<<8 | uint16(payload[3]),
		TopicName: append([]byte(nil), payload[4:]...),
	}, nil
}

// NewRegack builds the REGACK acknowledging this REGISTER, with the alias
// actually granted (which may differ from r.TopicID on a client→gateway
// REGISTER, where r.TopicID is always 0x0000).
func (r *Register) NewRegack(topicID uint16, cd code.Code) *Regack {
	return &Regack{TopicID: topicID, MessageID: r.MessageID, ReturnCode: cd}
}

// Regack represents the MQTT-SN REGACK message.
type Regack struct {
	TopicID    uint16
	MessageID  uint16
	ReturnCode code.Code
}

func (r *Regack) Type() MsgType { return REGACK }

func (r *Regack) EncodePayload() ([]byte, error) {
	return []byte{
		byte(r.TopicID >> 8), byte(r.TopicID),
		byte(r.MessageID >> 8), byte(r.MessageID),
		byte(r.ReturnCode),
	}, nil
}

func decodeRegack(payload []byte) (Message, error) {
	if len(payload) != 5 {
		return nil, xerror.Codec(xerror.InvalidLength, "REGACK payload must be 5 bytes, got %d", len(payload))
	}
	return &Regack{
		TopicID:    uint16(payload[0])<<8 | uint16(payload[1]),
		MessageID:  uint16(payload[2])<<8 | uint16(payload[3]),
		ReturnCode: code.Code(payload[4]),
	}, nil
}

func init() {
	register(REGISTER, decodeRegister)
	register(REGACK, decodeRegack)
}
