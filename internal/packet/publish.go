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

// Publish represents the MQTT-SN PUBLISH message.
type Publish struct {
	Flags
	TopicID   uint16
	MessageID uint16
	Data      []byte
}

func (p *Publish) Type() MsgType { return PUBLISH }

func (p *Publish) EncodePayload() ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteByte(byte(p.Flags))
	buf.WriteByte(byte(p.TopicID >> 8))
	buf.WriteByte(byte(p.TopicID))
	buf.WriteByte(byte(p.MessageID >> 8))
	buf.WriteByte(byte(p.MessageID))
	buf.Write(p.Data)
	return buf.Bytes(), nil
}

func decodePublish(payload []byte) (Message, error) {
	if len(payload) < 5 {
		return nil, xerror.Codec(xerror.ShortBuffer, "PUBLISH payload shorter than 5 bytes")
	}
	return &Publish{
		Flags:     Flags(payload[0]),
		TopicID:   uint16(payload[1])<<8 | uint16(payload[2]),
		MessageID: uint16(payload[3])<<8 | uint16(payload[4]),
		Data:      append([]byte(nil), payload[5:]...),
	}, nil
}

// NewPuback builds the PUBACK acknowledging this PUBLISH.
func (p *Publish) NewPuback(cd code.Code) *Puback {
	return &Puback{TopicID: p.TopicID, MessageID: p.MessageID, ReturnCode: cd}
}

// Puback represents the MQTT-SN PUBACK message.
type Puback struct {
	TopicID    uint16
	MessageID  uint16
	ReturnCode code.Code
}

func (p *Puback) Type() MsgType { return PUBACK }

func (p *Puback) EncodePayload() ([]byte, error) {
	return []byte{
		byte(p.TopicID >> 8), byte(p.TopicID),
		byte(p.MessageID >> 8), byte(p.MessageID),
		byte(p.ReturnCode),
	}, nil
}

func decodePuback(payload []byte) (Message, error) {
	if len(payload) != 5 {
		return nil, xerror.Codec(xerror.InvalidLength, "PUBACK payload must be 5 bytes, got %d", len(payload))
	}
	return &Puback{
		TopicID:    uint16(payload[0])<<8 | uint16(payload[1]),
		MessageID:  uint16(payload[2])<<8 | uint16(payload[3]),
		ReturnCode: code.Code(payload[4]),
	}, nil
}

func init() {
	register(PUBLISH, decodePublish)
	register(PUBACK, decodePuback)
}
