// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ws implements the RFC 8323 §4 framing used over a CoAP
// WebSocket connection. It is the TCP framing of package tcp with the
// Len field dropped: a WebSocket message already carries its own
// length, so the leading byte's top nibble is always zero and the
// message boundary itself marks the end of the options/payload block.
package ws

import (
	"github.com/edgecoap/coap/pkg/codec/options"
	"github.com/edgecoap/coap/pkg/message"
)

// Encode serializes m into a single CoAP-over-WebSocket message.
func Encode(m *message.Message) ([]byte, error) {
	sorted := append(message.Options(nil), m.Options...)
	sorted.Sort()
	optBytes, err := options.Encode(sorted)
	if err != nil {
		return nil, err
	}

	tklNibble, tklExt := options.SplitExtended(len(m.Token))

	buf := make([]byte, 0, 2+len(tklExt)+len(m.Token)+len(optBytes)+1+len(m.Payload))
	buf = append(buf, byte(tklNibble&0xF))
	buf = append(buf, byte(m.Code))
	buf = append(buf, tklExt...)
	buf = append(buf, m.Token...)
	buf = append(buf, optBytes...)
	if len(m.Payload) > 0 {
		buf = append(buf, options.PayloadMarker)
		buf = append(buf, m.Payload...)
	}

	return buf, nil
}

// Decode parses one complete CoAP-over-WebSocket message. data is
// expected to be exactly one WebSocket message payload (the transport
// reads binary WebSocket frames as whole messages via gorilla/websocket,
// so no further length resolution is needed here). Malformed input
// never returns a Go error: HasFormatError is set on the result.
func Decode(data []byte) *message.Message {
	m := &message.Message{Version: 1}

	if len(data) < 2 {
		m.HasFormatError = true
		return m
	}

	first := data[0]
	if first>>4 != 0 {
		m.HasFormatError = true
		return m
	}
	tklNibble := first & 0xF
	rest := data[1:]

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
