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

// Package binary provides the big-endian primitive readers/writers shared
// by internal/packet. Every writer returns the underlying io.Writer's
// error verbatim; every reader turns a short read into an error rather
// than panicking.
package binary

import (
	"encoding/binary"
	"io"
)

// ReadBool reads a single byte and reports it as a bool (zero == false).
func ReadBool(r io.Reader) (bool, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

// WriteBool writes b as a single 0/1 byte.
func WriteBool(w io.Writer, b bool) error {
	var v byte
	if b {
		v = 1
	}
	_, err := w.Write([]byte{v})
	return err
}

// ReadUint16 reads a big-endian uint16.
func ReadUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

// WriteUint16 writes v as a big-endian uint16.
func WriteUint16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// ReadUint32 reads a big-endian uint32.
func ReadUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// WriteUint32 writes v as a big-endian uint32.
func WriteUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// ReadByte reads a single byte.
func ReadByte(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadN reads exactly n bytes.
func ReadN(r io.Reader, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadString reads a 2-byte big-endian length prefix followed by that many
// bytes, returned as a string. Used by MQTT-SN's UTF-8 string fields.
func ReadString(r io.Reader) (string, error) {
	n, err := ReadUint16(r)
	if err != nil {
		return "", err
	}
	buf, err := ReadN(r, int(n))
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteString writes a 2-byte big-endian length prefix followed by b.
func WriteString(w io.Writer, b []byte) error {
	if err := WriteUint16(w, uint16(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// SizeOf returns the smallest of 0, 2 or 4 bytes that can hold v, per the
// integrity frame's numeric field sizing rule (spec §4.1). It returns an
// error if v exceeds what 4 bytes can hold.
func SizeOf(v uint64) (int, error) {
	switch {
	case v == 0:
		return 0, nil
	case v <= 0xFFFF:
		return 2, nil
	case v <= 0xFFFFFFFF:
		return 4, nil
	default:
		return 0, io.ErrShortWrite
	}
}

// PutSized writes v into exactly n bytes (0, 2 or 4) big-endian.
func PutSized(w io.Writer, v uint64, n int) error {
	switch n {
	case 0:
		return nil
	case 2:
		return WriteUint16(w, uint16(v))
	case 4:
		return WriteUint32(w, uint32(v))
	default:
		return io.ErrShortWrite
	}
}

// ReadSized reads n bytes (0, 2 or 4) big-endian into a uint64.
func ReadSized(r io.Reader, n int) (uint64, error) {
	switch n {
	case 0:
		return 0, nil
	case 2:
		v, err := ReadUint16(r)
		return uint64(v), err
	case 4:
		v, err := ReadUint32(r)
		return uint64(v), err
	default:
		return 0, io.ErrShortWrite
	}
}
