// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package udp

import (
	"bytes"
	"testing"

	"github.com/edgecoap/coap/pkg/message"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := message.New(message.CON, message.GET, 42, []byte{0xAB, 0xCD})
	m.Options.Add(message.NewStringOption(message.URIPath, "sensors"))
	m.Payload = []byte("body")

	buf, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	got := Decode(buf)
	if got.HasFormatError {
		t.Fatal("unexpected format error")
	}
	if got.Type != message.CON || got.Code != message.GET || got.ID != 42 {
		t.Errorf("header = %+v", got)
	}
	if !bytes.Equal(got.Token, m.Token) {
		t.Errorf("token = %v, want %v", got.Token, m.Token)
	}
	if !bytes.Equal(got.Payload, m.Payload) {
		t.Errorf("payload = %q, want %q", got.Payload, m.Payload)
	}
}

func TestDecodeTooShort(t *testing.T) {
	got := Decode([]byte{0x40, 0x01})
	if !got.HasFormatError {
		t.Error("expected a format error for a datagram shorter than the fixed header")
	}
}

func TestDecodeBadVersion(t *testing.T) {
	buf := []byte{0x00, byte(message.GET), 0x00, 0x01}
	got := Decode(buf)
	if !got.HasFormatError {
		t.Error("expected a format error for version 0")
	}
}

func TestDecodeExtendedTokenLength(t *testing.T) {
	token := bytes.Repeat([]byte{0x42}, 300)
	m := message.New(message.NON, message.POST, 7, token)
	buf, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	got := Decode(buf)
	if got.HasFormatError {
		t.Fatal("unexpected format error")
	}
	if !bytes.Equal(got.Token, token) {
		t.Errorf("token length = %d, want %d", len(got.Token), len(token))
	}
}

func TestEncodeRejectsOversizedToken(t *testing.T) {
	m := message.New(message.CON, message.GET, 1, make([]byte, 0xFFFF+270))
	if _, err := Encode(m); err == nil {
		t.Error("expected an error for a token exceeding the RFC 8974 range")
	}
}
