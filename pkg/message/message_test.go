// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package message

import "testing"

func TestMessageIsEmpty(t *testing.T) {
	m := New(CON, Empty, 1, nil)
	if !m.IsEmpty() {
		t.Error("expected IsEmpty true for code 0.00")
	}
	m.Code = GET
	if m.IsEmpty() {
		t.Error("expected IsEmpty false for GET")
	}
}

func TestMessageIsRequestIsResponse(t *testing.T) {
	req := New(CON, GET, 1, nil)
	if !req.IsRequest() {
		t.Error("expected GET to be a request")
	}
	if req.IsResponse() {
		t.Error("did not expect GET to be a response")
	}

	resp := New(ACK, Content, 1, nil)
	if resp.IsRequest() {
		t.Error("did not expect 2.05 Content to be a request")
	}
	if !resp.IsResponse() {
		t.Error("expected 2.05 Content to be a response")
	}

	empty := New(ACK, Empty, 1, nil)
	if empty.IsRequest() {
		t.Error("did not expect empty message to be a request")
	}
}

func TestMessageClone(t *testing.T) {
	orig := New(CON, POST, 42, []byte{0x01, 0x02})
	orig.Options.Add(NewStringOption(URIPath, "temp"))
	orig.Payload = []byte("hello")

	clone := orig.Clone()

	clone.Token[0] = 0xFF
	clone.Payload[0] = 'H'
	clone.Options[0].Value[0] = 'T'

	if orig.Token[0] == 0xFF {
		t.Error("mutating clone's token affected the original")
	}
	if orig.Payload[0] == 'H' {
		t.Error("mutating clone's payload affected the original")
	}
	if orig.Options[0].Value[0] == 'T' {
		t.Error("mutating clone's option affected the original")
	}
}

func TestValidateCriticalOptions(t *testing.T) {
	m := New(CON, GET, 1, nil)
	m.Options.Add(Option{Number: OptionNumber(9), Value: []byte("x")}) // odd = critical, unregistered
	m.ValidateCriticalOptions()
	if !m.HasUnknownCriticalOption {
		t.Error("expected unknown critical option to be flagged")
	}

	clean := New(CON, GET, 1, nil)
	clean.Options.Add(NewStringOption(URIPath, "a"))
	clean.ValidateCriticalOptions()
	if clean.HasUnknownCriticalOption {
		t.Error("did not expect a registered option to be flagged")
	}
}
