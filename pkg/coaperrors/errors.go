// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package coaperrors provides structured error handling for the CoAP client engine.
package coaperrors

import (
	"errors"
	"fmt"
)

// Sentinel error kinds surfaced to callers, per the error handling design:
// TimeoutError, CancellationError, FormatError, BadOptionError,
// TransportError, MulticastWithoutHandlerError.
var (
	// ErrTimeout indicates the retransmission limit was exceeded without a matching response.
	ErrTimeout = errors.New("retransmission limit exceeded")

	// ErrCancelled indicates the exchange was explicitly cancelled by the caller.
	ErrCancelled = errors.New("exchange cancelled")

	// ErrReset indicates the peer answered with RST rather than a response,
	// e.g. an empty-message ping that got the "success" reply RFC 7252
	// §4.3 defines for that exchange: a reset.
	ErrReset = errors.New("peer reset the exchange")

	// ErrFormat indicates the decoder rejected a message as malformed.
	ErrFormat = errors.New("malformed coap message")

	// ErrBadOption indicates an unrecognized critical option on an outbound request.
	ErrBadOption = errors.New("unrecognized critical option")

	// ErrTransport indicates a socket bind/send/recv or DNS lookup failure.
	ErrTransport = errors.New("transport failure")

	// ErrMulticastWithoutHandler indicates a multicast request was sent without a
	// fan-in handler registered to receive the resulting multiple responses.
	ErrMulticastWithoutHandler = errors.New("multicast request requires a response handler")

	// ErrNoMatch indicates an inbound response carried a token with no outstanding exchange.
	ErrNoMatch = errors.New("no outstanding exchange for token")
)

// CoapError wraps an error with the exchange context it occurred in, mirroring
// a ProxyError-shaped wrapper: an operation name, the peer involved, and an
// optional token for correlation with logs.
type CoapError struct {
	Op    string // Operation that failed, e.g. "send", "decode", "retransmit"
	Peer  string // Remote address involved
	Token string // Hex-encoded token, if any
	Err   error  // Underlying error
}

// Error implements the error interface.
func (e *CoapError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("coap %s [%s] %s: %v", e.Op, e.Token, e.Peer, e.Err)
	}
	return fmt.Sprintf("coap %s %s: %v", e.Op, e.Peer, e.Err)
}

// Unwrap returns the underlying error so errors.Is/errors.As see through it.
func (e *CoapError) Unwrap() error {
	return e.Err
}

// New creates a new CoapError, or returns nil if err is nil.
func New(op, peer, token string, err error) error {
	if err == nil {
		return nil
	}
	return &CoapError{
		Op:    op,
		Peer:  peer,
		Token: token,
		Err:   err,
	}
}

// Wrap adds context to an error without the full CoapError structure.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
