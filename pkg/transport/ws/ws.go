// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ws implements transport.Transport over a CoAP-over-WebSocket
// connection (RFC 8323 §4), dialed with gorilla/websocket the same way
// a websocket framing adapter wraps a *websocket.Conn
// to a byte-oriented interface.
package ws

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edgecoap/coap/pkg/coaperrors"
)

// Transport dials a CoAP-over-WebSocket endpoint and exchanges whole
// binary WebSocket messages, each one complete RFC 8323 WS frame.
type Transport struct {
	url       string
	TLSConfig *tls.Config
	Header    http.Header

	mu   sync.Mutex
	conn *websocket.Conn
}

// New creates a Transport that will dial url (ws:// or wss://) on Bind.
func New(url string) *Transport {
	return &Transport{url: url}
}

// Bind dials the WebSocket endpoint with the "coap" subprotocol, per
// RFC 8323 §4.1.
func (t *Transport) Bind(ctx context.Context) error {
	dialer := websocket.Dialer{
		TLSClientConfig:  t.TLSConfig,
		Subprotocols:     []string{"coap"},
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, t.url, t.Header)
	if err != nil {
		return coaperrors.New("bind", t.url, "", fmt.Errorf("%w: %v", coaperrors.ErrTransport, err))
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return nil
}

// Read returns the next binary WebSocket message, which is exactly one
// RFC 8323 WS-framed CoAP message.
func (t *Transport) Read(ctx context.Context) (string, []byte, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return "", nil, coaperrors.New("read", t.url, "", coaperrors.ErrTransport)
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		return "", nil, coaperrors.New("read", t.url, "", fmt.Errorf("%w: %v", coaperrors.ErrTransport, err))
	}
	return t.url, data, nil
}

// Write sends data as a single binary WebSocket message. peer is
// ignored: a dialed WS connection has exactly one peer.
func (t *Transport) Write(ctx context.Context, peer string, data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return coaperrors.New("write", t.url, "", coaperrors.ErrTransport)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return coaperrors.New("write", t.url, "", fmt.Errorf("%w: %v", coaperrors.ErrTransport, err))
	}
	return nil
}

// Peer returns the dialed WebSocket URL.
func (t *Transport) Peer() string {
	return t.url
}

// Close closes the connection, unblocking any in-flight Read.
func (t *Transport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
