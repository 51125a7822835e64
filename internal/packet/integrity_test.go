package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lenzarda/mqtt-sn/internal/xerror"
)

// TestIntegrityRoundTrip is scenario S5: encode an integrity frame
// wrapping a PUBLISH, with ChaCha20-Poly1305, a 16-byte auth tag, 4-byte
// key material and a 2-byte counter; every field must round-trip and the
// inner PUBLISH must decode cleanly.
func TestIntegrityRoundTrip(t *testing.T) {
	inner := &Publish{
		Flags:     NewFlags(false, QoS1, false, false, false, TopicIDNormal),
		TopicID:   1,
		MessageID: 7,
		Data:      []byte{0x41, 0x42},
	}
	innerBytes, err := Encode(inner)
	assert.NoError(t, err)

	f := &Integrity{
		Scheme:      ChaCha20Poly1305,
		Nonce:       0xAABBCCDD,
		KeyLen:      4,
		KeyMaterial: 0x01020304,
		CounterLen:  2,
		Counter:     0x0005,
		Inner:       innerBytes,
		AuthTag:     make([]byte, 16),
	}
	copy(f.SenderID[:], []byte("gateway1"))
	for i := range f.AuthTag {
		f.AuthTag[i] = byte(i)
	}

	encoded, err := Encode(f)
	assert.NoError(t, err)

	decoded, _, err := Decode(encoded)
	assert.NoError(t, err)
	got := decoded.(*Integrity)

	assert.Equal(t, f.Scheme, got.Scheme)
	assert.Equal(t, f.SenderID, got.SenderID)
	assert.Equal(t, f.Nonce, got.Nonce)
	assert.Equal(t, f.KeyLen, got.KeyLen)
	assert.Equal(t, f.KeyMaterial, got.KeyMaterial)
	assert.Equal(t, f.CounterLen, got.CounterLen)
	assert.Equal(t, f.Counter, got.Counter)
	assert.Equal(t, f.AuthTag, got.AuthTag)
	assert.Equal(t, innerBytes, got.Inner)

	innerMsg, consumed, err := got.DecodeInner()
	assert.NoError(t, err)
	assert.Equal(t, len(innerBytes), consumed)
	innerPub := innerMsg.(*Publish)
	assert.Equal(t, inner.Data, innerPub.Data)
	assert.EqualValues(t, inner.MessageID, innerPub.MessageID)
}

func TestIntegrityRejectsHMACSHA256(t *testing.T) {
	f := &Integrity{Scheme: HMACSHA256, Inner: []byte{0x02, 0x17}}
	_, err := Encode(f)
	assert.Error(t, err)
	ce, ok := xerror.AsCodec(err)
	assert.True(t, ok)
	assert.Equal(t, xerror.InvalidProtectionScheme, ce.Kind)
}

func TestIntegrityRejectsUnknownScheme(t *testing.T) {
	f := &Integrity{Scheme: ProtectionScheme(0x7F), Inner: []byte{0x02, 0x17}}
	_, err := Encode(f)
	assert.Error(t, err)
	ce, ok := xerror.AsCodec(err)
	assert.True(t, ok)
	assert.Equal(t, xerror.InvalidProtectionScheme, ce.Kind)
}

func TestIntegrityDecodeRejectsMismatchedTagLength(t *testing.T) {
	f := &Integrity{
		Scheme:  CMAC128,
		Inner:   []byte{0x02, 0x17},
		AuthTag: []byte{0xAA},
	}
	payload, err := f.EncodePayload()
	assert.NoError(t, err)

	// Lie about the tag length in the flags nibble: nibble 15 claims the
	// maximum 16-byte tag (the nibble stores length-1) when only 3 bytes
	// (2-byte inner + 1-byte tag) remain. The
	// derived inner length goes negative and decode must fail.
	payload[0] = (15 << 4) | (payload[0] & 0x0F)
	_, err = decodeIntegrity(payload)
	assert.Error(t, err)
	ce, ok := xerror.AsCodec(err)
	assert.True(t, ok)
	assert.Equal(t, xerror.InvalidIntegrityLayout, ce.Kind)
}

func TestIntegrityDecodeRejectsShortBuffer(t *testing.T) {
	_, err := decodeIntegrity([]byte{0, 1, 2})
	assert.Error(t, err)
	ce, ok := xerror.AsCodec(err)
	assert.True(t, ok)
	assert.Equal(t, xerror.ShortBuffer, ce.Kind)
}
