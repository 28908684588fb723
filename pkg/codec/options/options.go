// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package options implements the delta-length-value option encoding
// shared by every CoAP transport framing (RFC 7252 §3.1). Only the
// outer message header differs between UDP, TCP, and WebSocket; the
// option block and payload marker are identical, so the logic lives
// here once and every codec package calls into it.
package options

import (
	"fmt"

	"github.com/edgecoap/coap/pkg/coaperrors"
	"github.com/edgecoap/coap/pkg/message"
)

// PayloadMarker separates the option block from the payload.
const PayloadMarker = 0xFF

// Encode serializes a canonically-sorted option list into its
// delta-length-value wire form. opts must already be sorted (callers
// sort before calling, since sort order is meaningful at every layer
// that inspects options, not just at encode time).
func Encode(opts message.Options) ([]byte, error) {
	var buf []byte
	var last message.OptionNumber

	for _, opt := range opts {
		delta := int(opt.Number) - int(last)
		if delta < 0 {
			return nil, fmt.Errorf("%w: options not in canonical order", coaperrors.ErrFormat)
		}
		last = opt.Number

		deltaNibble, deltaExt := SplitExtended(delta)
		lenNibble, lenExt := SplitExtended(len(opt.Value))

		buf = append(buf, byte(deltaNibble<<4|lenNibble))
		buf = append(buf, deltaExt...)
		buf = append(buf, lenExt...)
		buf = append(buf, opt.Value...)
	}

	return buf, nil
}

// Decode parses the option block (and trailing payload, if any) from
// buf. It never returns an error: malformed input is reported via the
// formatErr return so the caller can set Message.HasFormatError.
func Decode(buf []byte) (opts message.Options, payload []byte, formatErr bool) {
	var last message.OptionNumber

	for len(buf) > 0 {
		first := buf[0]

		if first == PayloadMarker {
			rest := buf[1:]
			if len(rest) == 0 {
				// Marker present with no payload after it is itself a
				// format error, per RFC 7252 §3.1.
				return opts, nil, true
			}
			return opts, rest, false
		}

		buf = buf[1:]
		deltaNibble := first >> 4
		lenNibble := first & 0xF
		if deltaNibble == 15 || lenNibble == 15 {
			return opts, nil, true
		}

		delta, rest, ok := ReadExtended(deltaNibble, buf)
		if !ok {
			return opts, nil, true
		}
		buf = rest

		length, rest, ok := ReadExtended(lenNibble, buf)
		if !ok {
			return opts, nil, true
		}
		buf = rest

		if len(buf) < length {
			return opts, nil, true
		}

		number := last + message.OptionNumber(delta)
		value := append([]byte(nil), buf[:length]...)
		buf = buf[length:]
		last = number

		if def, known := message.LookupDef(number); known {
			if length < def.MinLen || length > def.MaxLen {
				return opts, nil, true
			}
		}

		opts.Add(message.Option{Number: number, Value: value})
	}

	return opts, nil, false
}

// SplitExtended returns the delta/length nibble and any RFC 7252 §3.1
// extension bytes needed to represent v (which must be in 0..65804, the
// largest value the two-byte extension can carry).
func SplitExtended(v int) (nibble byte, ext []byte) {
	switch {
	case v < 13:
		return byte(v), nil
	case v < 13+256:
		return 13, []byte{byte(v - 13)}
	default:
		v -= 269
		return 14, []byte{byte(v >> 8), byte(v)}
	}
}

// ReadExtended resolves a delta/length nibble (already known to be 13
// or 14; the caller rejects 15) against buf, consuming any extension
// bytes, and returns the resolved value.
func ReadExtended(nibble byte, buf []byte) (value int, rest []byte, ok bool) {
	switch nibble {
	case 14:
		if len(buf) < 2 {
			return 0, buf, false
		}
		return (int(buf[0])<<8 | int(buf[1])) + 269, buf[2:], true
	case 13:
		if len(buf) < 1 {
			return 0, buf, false
		}
		return int(buf[0]) + 13, buf[1:], true
	default:
		return int(nibble), buf, true
	}
}
