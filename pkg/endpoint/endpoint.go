// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package endpoint implements the per-remote transport binding: one
// read loop per endpoint multiplexing decoded messages to the
// client's shared exchange registry, built on the usual
// config-with-defaults, context-cancellation shutdown server listener
// lifecycle turned inside out — the client dials instead of listens.
package endpoint

import (
	"context"
	"encoding/hex"
	"log/slog"
	"sync"

	codectcp "github.com/edgecoap/coap/pkg/codec/tcp"
	codecudp "github.com/edgecoap/coap/pkg/codec/udp"
	codecws "github.com/edgecoap/coap/pkg/codec/ws"
	"github.com/edgecoap/coap/pkg/coaperrors"
	"github.com/edgecoap/coap/pkg/message"
	"github.com/edgecoap/coap/pkg/transport"
)

// peerAddr is a minimal net.Addr so decoded messages can carry the
// string peer address their transport reported, without each
// transport having to construct a concrete net.Addr type.
type peerAddr struct {
	network, address string
}

func (a peerAddr) Network() string { return a.network }
func (a peerAddr) String() string  { return a.address }

func addr(peer string) peerAddr {
	return peerAddr{network: "coap", address: peer}
}

func hexToken(token []byte) string {
	if len(token) == 0 {
		return ""
	}
	return hex.EncodeToString(token)
}

// Handler is invoked once per decoded inbound message.
type Handler func(peer string, m *message.Message)

// Endpoint owns one remote transport binding: dial, read loop, and the
// matching encode/decode pair for its scheme's wire framing.
type Endpoint struct {
	Key       string
	Scheme    message.Scheme
	transport transport.Transport
	logger    *slog.Logger
	onMessage Handler

	encode func(*message.Message) ([]byte, error)
	decode func([]byte) *message.Message

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// New creates an Endpoint bound to key (normally scheme://host:port),
// ready for Start.
func New(key string, scheme message.Scheme, tr transport.Transport, onMessage Handler, logger *slog.Logger) *Endpoint {
	if logger == nil {
		logger = slog.Default()
	}
	enc, dec := codecFor(scheme.Transport)
	return &Endpoint{
		Key:       key,
		Scheme:    scheme,
		transport: tr,
		logger:    logger,
		onMessage: onMessage,
		encode:    enc,
		decode:    dec,
	}
}

// codecFor resolves the wire codec pair for one of the six scheme
// transports: coap/coaps share the UDP framing (DTLS is opaque to the
// codec), coap+tcp/coaps+tcp share the TCP framing, coap+ws/coaps+ws
// share the WS framing.
func codecFor(t string) (encode func(*message.Message) ([]byte, error), decode func([]byte) *message.Message) {
	switch t {
	case "tcp", "tls":
		return codectcp.Encode, codectcp.Decode
	case "ws", "wss":
		return codecws.Encode, codecws.Decode
	default: // "udp", "dtls"
		return codecudp.Encode, codecudp.Decode
	}
}

// Start binds the transport and begins the read loop.
func (e *Endpoint) Start(ctx context.Context) error {
	if err := e.transport.Bind(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.readLoop(loopCtx)

	e.logger.Debug("endpoint started", slog.String("endpoint", e.Key))
	return nil
}

func (e *Endpoint) readLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		peer, data, err := e.transport.Read(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			e.logger.Debug("endpoint read error",
				slog.String("endpoint", e.Key),
				slog.String("error", err.Error()))
			return
		}

		m := e.decode(data)
		m.Source = addr(peer)
		e.onMessage(peer, m)
	}
}

// Send encodes and writes m to peer.
func (e *Endpoint) Send(ctx context.Context, peer string, m *message.Message) error {
	data, err := e.encode(m)
	if err != nil {
		return coaperrors.New("encode", peer, hexToken(m.Token), err)
	}
	if err := e.transport.Write(ctx, peer, data); err != nil {
		return err
	}
	return nil
}

// Stop cancels the read loop and closes the transport, waiting for the
// loop to exit.
func (e *Endpoint) Stop() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := e.transport.Close()
	e.wg.Wait()
	return err
}
