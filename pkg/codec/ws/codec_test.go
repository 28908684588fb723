// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ws

import (
	"bytes"
	"testing"

	"github.com/edgecoap/coap/pkg/message"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := message.New(message.CON, message.GET, 0, []byte{0x9, 0x9})
	m.Options.Add(message.NewStringOption(message.URIPath, "x"))
	m.Payload = []byte("hi")

	buf, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	got := Decode(buf)
	if got.HasFormatError {
		t.Fatal("unexpected format error")
	}
	if got.Code != message.GET {
		t.Errorf("code = %v, want GET", got.Code)
	}
	if !bytes.Equal(got.Payload, m.Payload) {
		t.Errorf("payload = %q, want %q", got.Payload, m.Payload)
	}
}

func TestDecodeRejectsNonZeroTopNibble(t *testing.T) {
	got := Decode([]byte{0x10, byte(message.GET)})
	if !got.HasFormatError {
		t.Error("expected a format error when the leading nibble is non-zero")
	}
}

func TestDecodeTooShort(t *testing.T) {
	got := Decode([]byte{0x00})
	if !got.HasFormatError {
		t.Error("expected a format error for a message shorter than the minimal header")
	}
}
