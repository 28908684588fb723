// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tcp implements transport.Transport over a CoAP-over-TCP
// stream (RFC 8323 §3): dial instead of listen, with the same opaque
// *tls.Config credential handoff a tls.NewListener wrapping would use.
package tcp

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/edgecoap/coap/pkg/coaperrors"
	codectcp "github.com/edgecoap/coap/pkg/codec/tcp"
	"github.com/edgecoap/coap/pkg/codec/options"
)

// Transport dials one remote CoAP-over-TCP (or, with TLSConfig set,
// CoAP-over-TLS) peer and reads/writes whole RFC 8323 frames.
type Transport struct {
	addr      string
	TLSConfig *tls.Config

	mu   sync.Mutex
	conn net.Conn
	r    *bufio.Reader
}

// New creates a Transport that will dial addr on Bind.
func New(addr string) *Transport {
	return &Transport{addr: addr}
}

// Bind dials the remote address, over TLS if TLSConfig is set.
func (t *Transport) Bind(ctx context.Context) error {
	dialer := &net.Dialer{}
	var conn net.Conn
	var err error
	if t.TLSConfig != nil {
		conn, err = tls.DialWithDialer(dialer, "tcp", t.addr, t.TLSConfig)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", t.addr)
	}
	if err != nil {
		return coaperrors.New("bind", t.addr, "", fmt.Errorf("%w: %v", coaperrors.ErrTransport, err))
	}

	t.mu.Lock()
	t.conn = conn
	t.r = bufio.NewReader(conn)
	t.mu.Unlock()
	return nil
}

// Read assembles one complete RFC 8323 frame by resolving the Len and
// TKL extension fields incrementally, then reading exactly as many
// bytes as they declare.
func (t *Transport) Read(ctx context.Context) (string, []byte, error) {
	t.mu.Lock()
	r := t.r
	t.mu.Unlock()
	if r == nil {
		return "", nil, coaperrors.New("read", t.addr, "", coaperrors.ErrTransport)
	}

	first, err := r.ReadByte()
	if err != nil {
		return "", nil, coaperrors.New("read", t.addr, "", fmt.Errorf("%w: %v", coaperrors.ErrTransport, err))
	}

	lenExt := make([]byte, codectcp.HeaderLen(first))
	if _, err := io.ReadFull(r, lenExt); err != nil {
		return "", nil, coaperrors.New("read", t.addr, "", fmt.Errorf("%w: %v", coaperrors.ErrTransport, err))
	}
	bodyLen, _, ok := codectcp.ReadLen(first>>4, lenExt)
	if !ok {
		return "", nil, coaperrors.New("read", t.addr, "", coaperrors.ErrFormat)
	}

	codeByte, err := r.ReadByte()
	if err != nil {
		return "", nil, coaperrors.New("read", t.addr, "", fmt.Errorf("%w: %v", coaperrors.ErrTransport, err))
	}

	tklExtLen, ok := codectcp.TokenExtLen(first)
	if !ok {
		return "", nil, coaperrors.New("read", t.addr, "", coaperrors.ErrFormat)
	}
	tklExt := make([]byte, tklExtLen)
	if _, err := io.ReadFull(r, tklExt); err != nil {
		return "", nil, coaperrors.New("read", t.addr, "", fmt.Errorf("%w: %v", coaperrors.ErrTransport, err))
	}
	tkl, _, ok := options.ReadExtended(first&0xF, tklExt)
	if !ok {
		return "", nil, coaperrors.New("read", t.addr, "", coaperrors.ErrFormat)
	}

	token := make([]byte, tkl)
	if _, err := io.ReadFull(r, token); err != nil {
		return "", nil, coaperrors.New("read", t.addr, "", fmt.Errorf("%w: %v", coaperrors.ErrTransport, err))
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return "", nil, coaperrors.New("read", t.addr, "", fmt.Errorf("%w: %v", coaperrors.ErrTransport, err))
	}

	frame := make([]byte, 0, 2+len(lenExt)+len(tklExt)+len(token)+len(body))
	frame = append(frame, first)
	frame = append(frame, lenExt...)
	frame = append(frame, codeByte)
	frame = append(frame, tklExt...)
	frame = append(frame, token...)
	frame = append(frame, body...)

	return t.addr, frame, nil
}

// Write sends data (a complete RFC 8323 frame) on the stream. peer is
// ignored: a dialed stream connection has exactly one peer.
func (t *Transport) Write(ctx context.Context, peer string, data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return coaperrors.New("write", t.addr, "", coaperrors.ErrTransport)
	}
	if _, err := conn.Write(data); err != nil {
		return coaperrors.New("write", t.addr, "", fmt.Errorf("%w: %v", coaperrors.ErrTransport, err))
	}
	return nil
}

// Peer returns the dialed remote address.
func (t *Transport) Peer() string {
	return t.addr
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
