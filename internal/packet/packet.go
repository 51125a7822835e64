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

// Package packet implements the MQTT-SN 1.2/2.0 wire codec: decode/encode
// of length-prefixed frames, and a MessageFactory that lets callers
// construct typed messages without knowing byte offsets.
package packet

import (
	"github.com/lenzarda/mqtt-sn/internal/xerror"
)

// MsgType is the one-byte MQTT-SN message type.
type MsgType byte

const (
	ADVERTISE     MsgType = 0x00
	SEARCHGW      MsgType = 0x01
	GWINFO        MsgType = 0x02
	CONNECT       MsgType = 0x04
	CONNACK       MsgType = 0x05
	WILLTOPICREQ  MsgType = 0x06
	WILLTOPIC     MsgType = 0x07
	WILLMSGREQ    MsgType = 0x08
	WILLMSG       MsgType = 0x09
	REGISTER      MsgType = 0x0A
	REGACK        MsgType = 0x0B
	PUBLISH       MsgType = 0x0C
	PUBACK        MsgType = 0x0D
	PUBCOMP       MsgType = 0x0E
	PUBREC        MsgType = 0x0F
	PUBREL        MsgType = 0x10
	SUBSCRIBE     MsgType = 0x12
	SUBACK        MsgType = 0x13
	UNSUBSCRIBE   MsgType = 0x14
	UNSUBACK      MsgType = 0x15
	PINGREQ       MsgType = 0x16
	PINGRESP      MsgType = 0x17
	DISCONNECT    MsgType = 0x18
	WILLTOPICUPD  MsgType = 0x1A
	WILLTOPICRESP MsgType = 0x1B
	WILLMSGUPD    MsgType = 0x1C
	WILLMSGRESP   MsgType = 0x1D

	// FrameIntegrity is the v2.0 integrity envelope type, a gateway-local
	// extension that wraps an encapsulated inner frame (spec §4.1).
	FrameIntegrity MsgType = 0xFC
)

func (t MsgType) String() string {
	switch t {
	case ADVERTISE:
		return "ADVERTISE"
	case SEARCHGW:
		return "SEARCHGW"
	case GWINFO:
		return "GWINFO"
	case CONNECT:
		return "CONNECT"
	case CONNACK:
		return "CONNACK"
	case REGISTER:
		return "REGISTER"
	case REGACK:
		return "REGACK"
	case PUBLISH:
		return "PUBLISH"
	case PUBACK:
		return "PUBACK"
	case SUBSCRIBE:
		return "SUBSCRIBE"
	case SUBACK:
		return "SUBACK"
	case UNSUBSCRIBE:
		return "UNSUBSCRIBE"
	case UNSUBACK:
		return "UNSUBACK"
	case PINGREQ:
		return "PINGREQ"
	case PINGRESP:
		return "PINGRESP"
	case DISCONNECT:
		return "DISCONNECT"
	case FrameIntegrity:
		return "FRAME_INTEGRITY"
	default:
		return "UNKNOWN"
	}
}

// Version is the MQTT-SN protocol version the gateway speaks.
type Version byte

const (
	V1_2 Version = 0x01
	V2_0 Version = 0x02
)

// QoS mirrors MQTT's QoS levels; MQTT-SN additionally uses -1 for its
// special "publish without CONNECT" QoS, which callers represent with
// QoSNegOne.
type QoS int8

const (
	QoS0     QoS = 0
	QoS1     QoS = 1
	QoS2     QoS = 2
	QoSNegOne QoS = -1
)

// TopicIDType identifies which alias table a 16-bit topic ID is drawn
// from (spec §3).
type TopicIDType byte

const (
	TopicIDNormal     TopicIDType = 0x00
	TopicIDPredefined TopicIDType = 0x01
	TopicIDShort      TopicIDType = 0x02
)

// Message is implemented by every decoded/encodable MQTT-SN packet type.
type Message interface {
	Type() MsgType
	// EncodePayload returns the type's variable payload, excluding the
	// shared [length][type] frame header.
	EncodePayload() ([]byte, error)
}

// decodeFunc builds a Message from a type's payload bytes.
type decodeFunc func(payload []byte) (Message, error)

var factory = map[MsgType]decodeFunc{}

// register is called from each message file's init() to populate the
// MessageFactory dispatch table.
func register(t MsgType, fn decodeFunc) {
	factory[t] = fn
}

// Encode frames msg: [length][type][payload...], using a 1-byte length
// unless the total exceeds 0xFF, in which case it switches to the 3-byte
// extended form 0x01 HI LO (spec §4.1).
func Encode(msg Message) ([]byte, error) {
	payload, err := msg.EncodePayload()
	if err != nil {
		return nil, err
	}
	return EncodeFrame(msg.Type(), payload)
}

// EncodeFrame wraps a raw type+payload pair in the length-prefixed frame.
func EncodeFrame(t MsgType, payload []byte) ([]byte, error) {
	total := 2 + len(payload)
	if total <= 0xFF {
		out := make([]byte, 0, total)
		out = append(out, byte(total), byte(t))
		out = append(out, payload...)
		return out, nil
	}
	total += 2 // extended length prefix is 3 bytes instead of 1
	if total > 0xFFFF {
		return nil, xerror.Codec(xerror.InvalidLength, "frame too large: %d bytes", total)
	}
	out := make([]byte, 0, total)
	out = append(out, 0x01, byte(total>>8), byte(total), byte(t))
	out = append(out, payload...)
	return out, nil
}

// DecodeFrame splits data into a message type and its payload, reporting
// how many bytes of data the frame consumed. It validates the declared
// length against the available buffer but does not interpret the payload.
func DecodeFrame(data []byte) (t MsgType, payload []byte, consumed int, err error) {
	if len(data) < 2 {
		return 0, nil, 0, xerror.Codec(xerror.ShortBuffer, "frame shorter than 2 bytes")
	}
	var length int
	var headerLen int
	if data[0] == 0x01 {
		if len(data) < 4 {
			return 0, nil, 0, xerror.Codec(xerror.ShortBuffer, "extended length frame shorter than 4 bytes")
		}
		length = int(data[1])<<8 | int(data[2])
		headerLen = 3
		t = MsgType(data[3])
	} else {
		length = int(data[0])
		headerLen = 1
		t = MsgType(data[1])
	}
	if length < headerLen+1 {
		return 0, nil, 0, xerror.Codec(xerror.InvalidLength, "declared length %d shorter than header", length)
	}
	if length > len(data) {
		return 0, nil, 0, xerror.Codec(xerror.ShortBuffer, "declared length %d exceeds buffer of %d", length, len(data))
	}
	payload = data[headerLen+1 : length]
	return t, payload, length, nil
}

// Decode decodes exactly one frame from the front of data via the
// MessageFactory and reports how many bytes it consumed.
func Decode(data []byte) (Message, int, error) {
	t, payload, consumed, err := DecodeFrame(data)
	if err != nil {
		return nil, 0, err
	}
	fn, ok := factory[t]
	if !ok {
		return nil, 0, xerror.Codec(xerror.UnknownType, "unknown message type 0x%02x", byte(t))
	}
	msg, err := fn(payload)
	if err != nil {
		return nil, 0, err
	}
	return msg, consumed, nil
}
