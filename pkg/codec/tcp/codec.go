// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tcp implements the RFC 8323 §3.2 framing used over a CoAP
// TCP connection: no Type, no Message ID, a three-tier extended Len
// field that gives the combined options+payload length, then Code,
// then an RFC 8974 extended token length, then the token, options, and
// payload.
package tcp

import (
	"github.com/edgecoap/coap/pkg/codec/options"
	"github.com/edgecoap/coap/pkg/message"
)

// Encode serializes m into a complete RFC 8323 TCP frame, including its
// length prefix.
func Encode(m *message.Message) ([]byte, error) {
	sorted := append(message.Options(nil), m.Options...)
	sorted.Sort()
	optBytes, err := options.Encode(sorted)
	if err != nil {
		return nil, err
	}

	body := optBytes
	if len(m.Payload) > 0 {
		body = append(append([]byte(nil), body...), options.PayloadMarker)
		body = append(body, m.Payload...)
	}

	lenNibble, lenExt := SplitLen(len(body))
	tklNibble, tklExt := options.SplitExtended(len(m.Token))

	buf := make([]byte, 0, 2+len(lenExt)+len(tklExt)+len(m.Token)+len(body))
	buf = append(buf, byte(lenNibble<<4|tklNibble))
	buf = append(buf, lenExt...)
	buf = append(buf, byte(m.Code))
	buf = append(buf, tklExt...)
	buf = append(buf, m.Token...)
	buf = append(buf, body...)

	return buf, nil
}

// Decode parses a single, already-delimited RFC 8323 frame (as produced
// by a HeaderLen/ReadLen-guided stream read) into a Message. Like the UDP and WS
// decoders, malformed input never returns a Go error: it sets
// HasFormatError on the returned Message.
func Decode(data []byte) *message.Message {
	m := &message.Message{Version: 1}

	if len(data) < 2 {
		m.HasFormatError = true
		return m
	}

	first := data[0]
	lenNibble := first >> 4
	tklNibble := first & 0xF
	rest := data[1:]

	bodyLen, rest, ok := ReadLen(lenNibble, rest)
	if !ok {
		m.HasFormatError = true
		return m
	}

	if len(rest) < 1 {
		m.HasFormatError = true
		return m
	}
	m.Code = message.Code(rest[0])
	rest = rest[1:]

	if tklNibble == 15 {
		m.HasFormatError = true
		return m
	}
	tkl, rest, ok := options.ReadExtended(tklNibble, rest)
	if !ok {
		m.HasFormatError = true
		return m
	}
	if len(rest) < tkl {
		m.HasFormatError = true
		return m
	}
	m.Token = append([]byte(nil), rest[:tkl]...)
	rest = rest[tkl:]

	if len(rest) != bodyLen {
		// The frame we were handed doesn't match its own declared body
		// length; the transport mis-delimited it.
		m.HasFormatError = true
		return m
	}

	opts, payload, formatErr := options.Decode(rest)
	m.Options = opts
	m.Payload = payload
	if formatErr {
		m.HasFormatError = true
	}

	if !m.HasFormatError {
		m.ValidateCriticalOptions()
	}
	return m
}

// SplitLen returns the RFC 8323 three-tier Len nibble and extension
// bytes for a body (options+payload) length v. The first two tiers
// (direct nibble and the one-byte 13 extension) share their exact
// boundaries with the option delta/length encoding, so they're
// delegated to options.SplitExtended; only the 4-byte 15 tier is
// specific to the TCP/WS Len field.
func SplitLen(v int) (nibble byte, ext []byte) {
	if v < 269+65536 {
		return options.SplitExtended(v)
	}
	v -= 65805
	return 15, []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

// ReadLen resolves the RFC 8323 three-tier Len nibble against buf,
// consuming any extension bytes, and returns the body length.
func ReadLen(nibble byte, buf []byte) (value int, rest []byte, ok bool) {
	switch nibble {
	case 15:
		if len(buf) < 4 {
			return 0, buf, false
		}
		v := int(buf[0])<<24 | int(buf[1])<<16 | int(buf[2])<<8 | int(buf[3])
		return v + 65805, buf[4:], true
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

// HeaderLen inspects the first byte of a frame and reports how many
// further bytes the Len extension occupies, so a stream reader knows
// how many bytes to read before it can call ReadLen.
func HeaderLen(first byte) (lenExtBytes int) {
	switch first >> 4 {
	case 15:
		return 4
	case 14:
		return 2
	case 13:
		return 1
	default:
		return 0
	}
}

// TokenExtLen reports how many extension bytes the TKL nibble of the
// first byte requires, mirroring HeaderLen for the token-length field.
// A nibble of 15 is reserved and signals a format error to the caller.
func TokenExtLen(first byte) (extBytes int, ok bool) {
	switch first & 0xF {
	case 15:
		return 0, false
	case 14:
		return 2, true
	case 13:
		return 1, true
	default:
		return 0, true
	}
}
