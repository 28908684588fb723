// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package endpoint

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/edgecoap/coap/pkg/message"
)

type fakeTransport struct {
	mu       sync.Mutex
	peer     string
	inbound  chan []byte
	written  [][]byte
	closed   bool
	bindErr  error
}

func newFakeTransport(peer string) *fakeTransport {
	return &fakeTransport{peer: peer, inbound: make(chan []byte, 8)}
}

func (f *fakeTransport) Bind(ctx context.Context) error { return f.bindErr }

func (f *fakeTransport) Read(ctx context.Context) (string, []byte, error) {
	select {
	case data, ok := <-f.inbound:
		if !ok {
			return "", nil, errors.New("closed")
		}
		return f.peer, data, nil
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

func (f *fakeTransport) Write(ctx context.Context, peer string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, data)
	return nil
}

func (f *fakeTransport) Peer() string { return f.peer }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbound)
	}
	return nil
}

func TestEndpointStartDeliversDecodedMessages(t *testing.T) {
	tr := newFakeTransport("1.2.3.4:5683")
	received := make(chan *message.Message, 1)

	ep := New("coap://1.2.3.4", message.Scheme{Transport: "udp"}, tr, func(peer string, m *message.Message) {
		received <- m
	}, nil)

	ctx := context.Background()
	if err := ep.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer ep.Stop()

	req := message.New(message.CON, message.GET, 1, []byte{0x01})
	encoded, err := ep.encode(req)
	if err != nil {
		t.Fatalf("encode() error = %v", err)
	}
	tr.inbound <- encoded

	select {
	case m := <-received:
		if m.Code != message.GET {
			t.Errorf("decoded code = %v, want GET", m.Code)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the read loop to deliver the decoded message")
	}
}

func TestEndpointSendEncodesAndWrites(t *testing.T) {
	tr := newFakeTransport("peer")
	ep := New("coap://peer", message.Scheme{Transport: "udp"}, tr, func(string, *message.Message) {}, nil)

	req := message.New(message.CON, message.GET, 1, []byte{0x01})
	if err := ep.Send(context.Background(), "peer", req); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.written) != 1 {
		t.Fatalf("written = %d frames, want 1", len(tr.written))
	}
}

func TestEndpointStopIsIdempotent(t *testing.T) {
	tr := newFakeTransport("peer")
	ep := New("coap://peer", message.Scheme{Transport: "udp"}, tr, func(string, *message.Message) {}, nil)
	ep.Start(context.Background())

	if err := ep.Stop(); err != nil {
		t.Fatalf("first Stop() error = %v", err)
	}
	if err := ep.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestCodecForSelectsByTransport(t *testing.T) {
	cases := map[string]bool{"udp": true, "dtls": true, "tcp": true, "tls": true, "ws": true, "wss": true}
	for transport := range cases {
		enc, dec := codecFor(transport)
		if enc == nil || dec == nil {
			t.Errorf("codecFor(%q) returned a nil codec", transport)
		}
	}
}
