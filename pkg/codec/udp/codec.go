// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package udp implements the RFC 7252 §3 UDP wire format: a fixed
// 4-byte header, a token, delta-encoded options, and an optional
// 0xFF-marked payload, all within a single datagram. RFC 8974 extended
// token lengths are supported on both encode and decode.
package udp

import (
	"fmt"

	"github.com/edgecoap/coap/pkg/coaperrors"
	"github.com/edgecoap/coap/pkg/codec/options"
	"github.com/edgecoap/coap/pkg/message"
)

// Encode serializes m into a single UDP datagram.
func Encode(m *message.Message) ([]byte, error) {
	if len(m.Token) > 0xFFFF+269 {
		return nil, coaperrors.New("encode", "", "", fmt.Errorf("%w: token length %d exceeds RFC 8974 range", coaperrors.ErrFormat, len(m.Token)))
	}

	tkl, tklExt := options.SplitExtended(len(m.Token))

	buf := make([]byte, 0, 4+len(tklExt)+len(m.Token)+len(m.Payload)+16)
	buf = append(buf, byte(1<<6|uint8(m.Type)<<4|tkl))
	buf = append(buf, byte(m.Code))
	buf = append(buf, byte(m.ID>>8), byte(m.ID))
	buf = append(buf, tklExt...)
	buf = append(buf, m.Token...)

	sorted := append(message.Options(nil), m.Options...)
	sorted.Sort()
	optBytes, err := options.Encode(sorted)
	if err != nil {
		return nil, err
	}
	buf = append(buf, optBytes...)

	if len(m.Payload) > 0 {
		buf = append(buf, options.PayloadMarker)
		buf = append(buf, m.Payload...)
	}

	return buf, nil
}

// Decode parses a single UDP datagram into a Message. It never returns
// an error for malformed input; instead it returns as much of the
// message as could be recovered with HasFormatError set, leaving the
// caller free to RST a confirmable message or drop anything else.
func Decode(data []byte) *message.Message {
	m := &message.Message{Version: 1}

	if len(data) < 4 {
		m.HasFormatError = true
		return m
	}

	first := data[0]
	ver := first >> 6
	typ := (first >> 4) & 0x3
	tklNibble := first & 0xF

	m.Type = message.Type(typ)
	m.Code = message.Code(data[1])
	m.ID = uint16(data[2])<<8 | uint16(data[3])

	if ver != 1 {
		m.HasFormatError = true
	}

	rest := data[4:]
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
