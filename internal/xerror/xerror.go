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

// Package xerror holds the gateway's typed error taxonomy: codec errors,
// protocol violations and resource-exhaustion errors. None of the errors
// defined here are expected to cause a panic; they are returned as values
// up to whichever boundary decides the response.
package xerror

import (
	"errors"
	"fmt"
)

// CodecKind classifies a malformed-bytes failure, per spec §4.1.
type CodecKind int

const (
	ShortBuffer CodecKind = iota
	InvalidLength
	UnknownType
	FieldOutOfRange
	InvalidProtectionScheme
	InvalidIntegrityLayout
)

func (k CodecKind) String() string {
	switch k {
	case ShortBuffer:
		return "short_buffer"
	case InvalidLength:
		return "invalid_length"
	case UnknownType:
		return "unknown_type"
	case FieldOutOfRange:
		return "field_out_of_range"
	case InvalidProtectionScheme:
		return "invalid_protection_scheme"
	case InvalidIntegrityLayout:
		return "invalid_integrity_layout"
	default:
		return "unknown"
	}
}

// CodecError is returned by every decode/encode path in internal/packet.
type CodecError struct {
	Kind CodecKind
	Msg  string
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("codec: %s: %s", e.Kind, e.Msg)
}

// Codec builds a *CodecError.
func Codec(kind CodecKind, format string, args ...any) error {
	return &CodecError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// AsCodec extracts a *CodecError from err, if any.
func AsCodec(err error) (*CodecError, bool) {
	var ce *CodecError
	ok := errors.As(err, &ce)
	return ce, ok
}

// Sentinel protocol-violation and resource-exhaustion errors. The handler
// maps some of these to spec-defined rejection codes, and removes the
// owning session for the ones IsFatal reports.
var (
	ErrMalformed             = errors.New("protocol violation: malformed packet")
	ErrUnexpectedState       = errors.New("protocol violation: message not valid for current session state")
	ErrUnknownClient         = errors.New("protocol violation: unknown client id")
	ErrNotAuthenticated      = errors.New("protocol violation: authentication failed")
	ErrRegistryFull          = errors.New("resource exhaustion: topic alias registry full")
	ErrQueueFull             = errors.New("resource exhaustion: outbound queue full")
	ErrLimitExceeded         = errors.New("resource exhaustion: subscription matcher limit exceeded")
	ErrAliasUnknown          = errors.New("resource exhaustion: unknown topic alias")
	ErrInflightOccupied      = errors.New("invariant: inflight slot already occupied")
	ErrSessionLost           = errors.New("transport failure: session marked lost")
	ErrShuttingDown          = errors.New("runtime is draining")
)

// IsFatal reports whether err should tear down the owning session rather
// than simply being logged and dropped.
func IsFatal(err error) bool {
	switch {
	case errors.Is(err, ErrUnexpectedState),
		errors.Is(err, ErrUnknownClient),
		errors.Is(err, ErrNotAuthenticated),
		errors.Is(err, ErrSessionLost):
		return true
	default:
		return false
	}
}
