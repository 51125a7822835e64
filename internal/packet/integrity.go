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

	sbinary "github.com/lenzarda/mqtt-sn/internal/binary"
	"github.com/lenzarda/mqtt-sn/internal/xerror"
)

// ProtectionScheme identifies the MAC/AEAD algorithm protecting an
// integrity frame (spec §4.1).
type ProtectionScheme byte

const (
	// HMACSHA256 is recognized on the wire but always rejected by
	// Validate — spec requires callers reject it outright.
	HMACSHA256   ProtectionScheme = 0x00
	HMACSHA3256  ProtectionScheme = 0x01
	CMAC128      ProtectionScheme = 0x02
	CMAC192      ProtectionScheme = 0x03
	CMAC256      ProtectionScheme = 0x04
	AESCCM64128  ProtectionScheme = 0x40
	AESCCM64192  ProtectionScheme = 0x41
	AESCCM64256  ProtectionScheme = 0x42
	AESCCM128128 ProtectionScheme = 0x43
	AESCCM128192 ProtectionScheme = 0x44
	AESCCM128256 ProtectionScheme = 0x45
	AESGCM128128 ProtectionScheme = 0x46
	AESGCM192128 ProtectionScheme = 0x47
	AESGCM256128 ProtectionScheme = 0x48
	ChaCha20Poly1305 ProtectionScheme = 0x49
)

// allowedSchemes is the set of protection schemes Validate accepts.
// HMACSHA256 is deliberately absent: it has a named constant, but
// Validate rejects it, and both encoding and decoding an integrity frame
// run Validate (spec §4.1).
var allowedSchemes = map[ProtectionScheme]bool{
	HMACSHA3256:      true,
	CMAC128:          true,
	CMAC192:          true,
	CMAC256:          true,
	AESCCM64128:      true,
	AESCCM64192:      true,
	AESCCM64256:      true,
	AESCCM128128:     true,
	AESCCM128192:     true,
	AESCCM128256:     true,
	AESGCM128128:     true,
	AESGCM192128:     true,
	AESGCM256128:     true,
	ChaCha20Poly1305: true,
}

// Validate reports whether scheme may be used. HMACSHA256 fails with
// InvalidProtectionScheme; any byte not in the known set fails with
// InvalidProtectionScheme too.
func (s ProtectionScheme) Validate() error {
	if allowedSchemes[s] {
		return nil
	}
	return xerror.Codec(xerror.InvalidProtectionScheme, "protection scheme 0x%02x is not permitted", byte(s))
}

const senderIDLen = 8

// Integrity represents the MQTT-SN v2.0 integrity envelope: it wraps an
// encapsulated inner frame together with authentication material.
type Integrity struct {
	Scheme      ProtectionScheme
	SenderID    [senderIDLen]byte
	Nonce       uint32
	KeyLen      int // 0, 2 or 4
	KeyMaterial uint64
	CounterLen  int // 0, 2 or 4
	Counter     uint64
	Inner       []byte // a complete, recursively valid MQTT-SN frame
	AuthTag     []byte
}

func (f *Integrity) Type() MsgType { return FrameIntegrity }

// sizeIdx maps a 0/2/4-byte field length to its 2-bit wire index.
func sizeIdx(n int) (byte, error) {
	switch n {
	case 0:
		return 0, nil
	case 2:
		return 1, nil
	case 4:
		return 2, nil
	default:
		return 0, xerror.Codec(xerror.InvalidIntegrityLayout, "field length %d is not 0, 2 or 4", n)
	}
}

// idxSize is the inverse of sizeIdx.
func idxSize(idx byte) (int, error) {
	switch idx & 0x03 {
	case 0:
		return 0, nil
	case 1:
		return 2, nil
	case 2:
		return 4, nil
	default:
		return 0, xerror.Codec(xerror.InvalidIntegrityLayout, "reserved length index 3")
	}
}

func (f *Integrity) EncodePayload() ([]byte, error) {
	if err := f.Scheme.Validate(); err != nil {
		return nil, err
	}
	if len(f.AuthTag) < 1 || len(f.AuthTag) > 16 {
		return nil, xerror.Codec(xerror.FieldOutOfRange, "auth tag length %d is not between 1 and 16 bytes", len(f.AuthTag))
	}
	keyIdx, err := sizeIdx(f.KeyLen)
	if err != nil {
		return nil, err
	}
	if f.KeyMaterial > 0xFFFFFFFF {
		return nil, xerror.Codec(xerror.FieldOutOfRange, "key material exceeds 2^32-1")
	}
	counterIdx, err := sizeIdx(f.CounterLen)
	if err != nil {
		return nil, err
	}
	if f.Counter > 0xFFFFFFFF {
		return nil, xerror.Codec(xerror.FieldOutOfRange, "counter exceeds 2^32-1")
	}

	buf := &bytes.Buffer{}
	// The AAAA nibble is a 4-bit field and so can only span 0..15, but
	// the protection schemes above always produce a 1..16 byte tag, so
	// the wire value stores length-1 and decode adds it back.
	buf.WriteByte(byte(len(f.AuthTag)-1)<<4 | keyIdx<<2 | counterIdx)
	buf.WriteByte(byte(f.Scheme))
	buf.Write(f.SenderID[:])
	if err := sbinary.WriteUint32(buf, f.Nonce); err != nil {
		return nil, err
	}
	if err := sbinary.PutSized(buf, f.KeyMaterial, f.KeyLen); err != nil {
		return nil, err
	}
	if err := sbinary.PutSized(buf, f.Counter, f.CounterLen); err != nil {
		return nil, err
	}
	buf.Write(f.Inner)
	buf.Write(f.AuthTag)
	return buf.Bytes(), nil
}

const integrityFixedHeaderLen = 1 + 1 + senderIDLen + 4 // flags, scheme, sender id, nonce

func decodeIntegrity(payload []byte) (Message, error) {
	if len(payload) < integrityFixedHeaderLen {
		return nil, xerror.Codec(xerror.ShortBuffer, "integrity frame shorter than fixed header")
	}
	flags := payload[0]
	authTagLen := int(flags>>4) + 1
	keyLen, err := idxSize(flags >> 2)
	if err != nil {
		return nil, err
	}
	counterLen, err := idxSize(flags)
	if err != nil {
		return nil, err
	}

	f := &Integrity{
		Scheme: ProtectionScheme(payload[1]),
	}
	if err := f.Scheme.Validate(); err != nil {
		return nil, err
	}
	copy(f.SenderID[:], payload[2:2+senderIDLen])
	r := bytes.NewReader(payload[2+senderIDLen:])
	nonce, err := sbinary.ReadUint32(r)
	if err != nil {
		return nil, xerror.Codec(xerror.ShortBuffer, "integrity frame truncated in nonce")
	}
	f.Nonce = nonce

	rest := payload[integrityFixedHeaderLen:]
	if len(rest) < keyLen+counterLen {
		return nil, xerror.Codec(xerror.ShortBuffer, "integrity frame truncated before key/counter material")
	}
	kr := bytes.NewReader(rest[:keyLen])
	key, err := sbinary.ReadSized(kr, keyLen)
	if err != nil {
		return nil, xerror.Codec(xerror.ShortBuffer, "integrity frame truncated in key material")
	}
	f.KeyLen, f.KeyMaterial = keyLen, key

	cr := bytes.NewReader(rest[keyLen : keyLen+counterLen])
	counter, err := sbinary.ReadSized(cr, counterLen)
	if err != nil {
		return nil, xerror.Codec(xerror.ShortBuffer, "integrity frame truncated in counter")
	}
	f.CounterLen, f.Counter = counterLen, counter

	remaining := rest[keyLen+counterLen:]
	// The encapsulated packet length is derived by subtracting every
	// declared fixed/optional field from the total; what's left after
	// that must be exactly authTagLen bytes of tag, or decode fails.
	innerLen := len(remaining) - authTagLen
	if innerLen < 0 {
		return nil, xerror.Codec(xerror.InvalidIntegrityLayout, "declared auth tag length %d exceeds remaining %d bytes", authTagLen, len(remaining))
	}
	f.Inner = append([]byte(nil), remaining[:innerLen]...)
	tag := remaining[innerLen:]
	if len(tag) != authTagLen {
		return nil, xerror.Codec(xerror.InvalidIntegrityLayout, "derived tag length %d does not match declared %d", len(tag), authTagLen)
	}
	f.AuthTag = append([]byte(nil), tag...)
	return f, nil
}

// DecodeInner decodes the encapsulated packet, which is itself a
// recursively valid MQTT-SN frame (spec §4.1).
func (f *Integrity) DecodeInner() (Message, int, error) {
	return Decode(f.Inner)
}

func init() {
	register(FrameIntegrity, decodeIntegrity)
}
