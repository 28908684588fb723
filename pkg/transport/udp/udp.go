// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package udp implements transport.Transport over UDP, in two shapes:
// a dialed (not listening) datagram connection for ordinary unicast
// peers, and, when Multicast is set, an unconnected socket that can
// receive unicast replies from whichever group members answer a
// request sent to addr. Both share the same close-unblocks-read
// shutdown shape.
package udp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/edgecoap/coap/pkg/coaperrors"
)

// MaxDatagramSize bounds a single read when the caller leaves
// Transport.ReadBufferSize at its zero value.
const MaxDatagramSize = 65535

// Transport dials one remote UDP peer, or, in Multicast mode, an
// unconnected socket that sends to addr and fans in replies from
// whichever group members answer. DTLS, when TLSConfig is set, is
// handed off opaquely: this package never performs the DTLS handshake
// itself. TLSConfig is carried for API symmetry with pkg/transport/tcp
// and is not dialed here without a DTLS-capable net.Conn constructor
// supplied by the caller's transport collaborator.
type Transport struct {
	addr      string
	TLSConfig *tls.Config

	// Multicast, when true, binds an unconnected local socket instead
	// of dialing addr, so Read can accept a datagram from any sender,
	// not only addr. A connected socket (the non-multicast default)
	// silently drops replies whose source doesn't match the dialed
	// peer, which is exactly what a multicast group's individual
	// unicast responses would otherwise trip over.
	Multicast bool

	// ReadBufferSize overrides the per-datagram read buffer. Zero uses
	// MaxDatagramSize.
	ReadBufferSize int

	mu   sync.Mutex
	conn *net.UDPConn
}

// New creates a Transport that will dial addr (host:port) on Bind.
func New(addr string) *Transport {
	return &Transport{addr: addr}
}

// NewMulticast creates a Transport that sends to addr (normally a
// multicast group address) from an unconnected local socket, able to
// receive unicast replies from any of the group's members.
func NewMulticast(addr string) *Transport {
	return &Transport{addr: addr, Multicast: true}
}

// Bind dials the remote address, or, in Multicast mode, opens an
// unconnected local socket.
func (t *Transport) Bind(ctx context.Context) error {
	var conn *net.UDPConn
	if t.Multicast {
		c, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
		if err != nil {
			return coaperrors.New("bind", t.addr, "", fmt.Errorf("%w: %v", coaperrors.ErrTransport, err))
		}
		conn = c
	} else {
		raddr, err := net.ResolveUDPAddr("udp", t.addr)
		if err != nil {
			return coaperrors.New("bind", t.addr, "", fmt.Errorf("%w: %v", coaperrors.ErrTransport, err))
		}
		c, err := net.DialUDP("udp", nil, raddr)
		if err != nil {
			return coaperrors.New("bind", t.addr, "", fmt.Errorf("%w: %v", coaperrors.ErrTransport, err))
		}
		conn = c
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return nil
}

// Read returns the next datagram. A single UDP datagram is always one
// complete CoAP message, so no further framing is needed. In Multicast
// mode the returned address is the actual sender, which varies across
// reads; otherwise it's always the dialed peer.
func (t *Transport) Read(ctx context.Context) (string, []byte, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return "", nil, coaperrors.New("read", t.addr, "", coaperrors.ErrTransport)
	}

	size := t.ReadBufferSize
	if size <= 0 {
		size = MaxDatagramSize
	}
	buf := make([]byte, size)

	if t.Multicast {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return "", nil, coaperrors.New("read", t.addr, "", fmt.Errorf("%w: %v", coaperrors.ErrTransport, err))
		}
		return from.String(), buf[:n], nil
	}

	n, err := conn.Read(buf)
	if err != nil {
		return "", nil, coaperrors.New("read", t.addr, "", fmt.Errorf("%w: %v", coaperrors.ErrTransport, err))
	}
	return t.addr, buf[:n], nil
}

// Write sends data as a single datagram. On a dialed (non-multicast)
// socket, peer is ignored: a DialUDP'd socket always writes to the
// address it was bound to. In Multicast mode the socket is
// unconnected, so every write resolves and targets peer directly,
// whether that's the group address (the initial request) or an
// individual member's own address (a reply sent back to it).
func (t *Transport) Write(ctx context.Context, peer string, data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return coaperrors.New("write", t.addr, "", coaperrors.ErrTransport)
	}

	if !t.Multicast {
		if _, err := conn.Write(data); err != nil {
			return coaperrors.New("write", t.addr, "", fmt.Errorf("%w: %v", coaperrors.ErrTransport, err))
		}
		return nil
	}

	raddr, err := net.ResolveUDPAddr("udp", peer)
	if err != nil {
		return coaperrors.New("write", peer, "", fmt.Errorf("%w: %v", coaperrors.ErrTransport, err))
	}
	if _, err := conn.WriteToUDP(data, raddr); err != nil {
		return coaperrors.New("write", peer, "", fmt.Errorf("%w: %v", coaperrors.ErrTransport, err))
	}
	return nil
}

// Peer returns the dialed remote address.
func (t *Transport) Peer() string {
	return t.addr
}

// Close closes the socket, unblocking any in-flight Read with an error.
func (t *Transport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
