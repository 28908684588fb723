// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"bytes"
	"testing"

	"github.com/edgecoap/coap/pkg/message"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := message.New(message.CON, message.GET, 0, []byte{0x01})
	m.Options.Add(message.NewStringOption(message.URIPath, "a"))
	m.Payload = []byte("payload")

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

func TestEncodeDecodeLargeBody(t *testing.T) {
	m := message.New(message.CON, message.POST, 0, nil)
	m.Payload = bytes.Repeat([]byte{0x01}, 70000)

	buf, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	got := Decode(buf)
	if got.HasFormatError {
		t.Fatal("unexpected format error")
	}
	if len(got.Payload) != len(m.Payload) {
		t.Errorf("payload length = %d, want %d", len(got.Payload), len(m.Payload))
	}
}

func TestDecodeMismatchedBodyLength(t *testing.T) {
	m := message.New(message.CON, message.GET, 0, nil)
	buf, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	buf = append(buf, 0x00) // trailing garbage byte not accounted for in Len
	got := Decode(buf)
	if !got.HasFormatError {
		t.Error("expected a format error when the frame body doesn't match its declared length")
	}
}

func TestSplitLenReadLenRoundTrip(t *testing.T) {
	cases := []int{0, 12, 13, 267, 268, 65804, 65805, 100000}
	for _, v := range cases {
		nibble, ext := SplitLen(v)
		got, rest, ok := ReadLen(nibble, ext)
		if !ok || got != v || len(rest) != 0 {
			t.Errorf("round trip %d -> nibble=%d ext=%v -> %d ok=%v", v, nibble, ext, got, ok)
		}
	}
}

func TestHeaderLenAndTokenExtLen(t *testing.T) {
	if HeaderLen(0xF0) != 4 {
		t.Error("expected 4 extension bytes for nibble 15")
	}
	if HeaderLen(0x00) != 0 {
		t.Error("expected 0 extension bytes for nibble 0")
	}
	if ext, ok := TokenExtLen(0x0F); ok {
		t.Errorf("expected reserved TKL nibble to be rejected, got ext=%d", ext)
	}
	if ext, ok := TokenExtLen(0x0E); !ok || ext != 2 {
		t.Errorf("TokenExtLen(0x0E) = %d, %v, want 2, true", ext, ok)
	}
}
