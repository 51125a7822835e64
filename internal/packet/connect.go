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

// protocolID is the single allowed value of CONNECT's ProtocolId field.
const protocolID = 0x01

// Connect represents the MQTT-SN CONNECT message.
type Connect struct {
	Flags
	Duration uint16 // keepalive, seconds
	ClientID []byte
}

func (c *Connect) Type() MsgType { return CONNECT }

func (c *Connect) EncodePayload() ([]byte, error) {
	if len(c.ClientID) == 0 || len(c.ClientID) > 65535 {
		return nil, xerror.Codec(xerror.FieldOutOfRange, "client id length %d out of range", len(c.ClientID))
	}
	buf := &bytes.Buffer{}
	buf.WriteByte(byte(c.Flags))
	buf.WriteByte(protocolID)
	buf.WriteByte(byte(c.Duration >> 8))
	buf.WriteByte(byte(c.Duration))
	buf.Write(c.ClientID)
	return buf.Bytes(), nil
}

func decodeConnect(payload []byte) (Message, error) {
	if len(payload) < 4 {
		return nil, xerror.Codec(xerror.ShortBuffer, "CONNECT payload shorter than 4 bytes")
	}
	c := &Connect{
		Flags:    Flags(payload[0]),
		ClientID: append([]byte(nil), payload[4:]...),
	}
	if payload[1] != protocolID {
		return nil, xerror.Codec(xerror.FieldOutOfRange, "unsupported protocol id 0x%02x", payload[1])
	}
	c.Duration = uint16(payload[2])<<8 | uint16(payload[3])
	if len(c.ClientID) == 0 || len(c.ClientID) > 65535 {
		return nil, xerror.Codec(xerror.FieldOutOfRange, "client id length %d out of range", len(c.ClientID))
	}
	return c, nil
}

// NewConnack builds the CONNACK in response to this CONNECT.
func (c *Connect) NewConnack(cd code.Code) *Connack {
	return &Connack{ReturnCode: cd}
}

// Connack represents the MQTT-SN CONNACK message.
type Connack struct {
	ReturnCode code.Code
}

func (c *Connack) Type() MsgType { return CONNACK }

func (c *Connack) EncodePayload() ([]byte, error) {
	return []byte{byte(c.ReturnCode)}, nil
}

func decodeConnack(payload []byte) (Message, error) {
	if len(payload) != 1 {
		return nil, xerror.Codec(xerror.InvalidLength, "CONNACK payload must be 1 byte, got %d", len(payload))
	}
	return &Connack{ReturnCode: code.Code(payload[0])}, nil
}

func init() {
	register(CONNECT, decodeConnect)
	register(CONNACK, decodeConnack)
}
