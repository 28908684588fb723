// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package transport defines the socket contract the client core
// drives as a bidirectional channel exchanging already-framed CoAP
// messages. Concrete UDP, TCP, and WebSocket implementations live in
// the udp, tcp, and ws subpackages.
package transport

import "context"

// Transport is a bidirectional datagram-or-stream channel yielding
// (peer, bytes) reads and accepting (peer, bytes) writes, plus a
// bind/close lifecycle. Datagram transports (UDP) may see multiple
// peers; stream transports (TCP, WS) have exactly one peer, returned
// by Peer, once Bind succeeds.
type Transport interface {
	// Bind establishes the underlying connection. For a client this
	// means dialing the remote endpoint.
	Bind(ctx context.Context) error

	// Read blocks until the next inbound message is available, or Close
	// unblocks it with an error. It returns one complete, framed
	// message's bytes, ready for the matching pkg/codec package.
	Read(ctx context.Context) (peer string, data []byte, err error)

	// Write sends a complete, already-encoded message to peer.
	Write(ctx context.Context, peer string, data []byte) error

	// Peer returns the remote address Bind connected to.
	Peer() string

	// Close releases the underlying connection and unblocks any
	// in-flight Read.
	Close() error
}
