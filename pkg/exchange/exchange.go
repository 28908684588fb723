// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package exchange implements the dual-keyed exchange registry and
// inbound matcher. Modeled on a UDP session manager's
// map-plus-sync.RWMutex-plus-double-checked-lock shape, keyed here by
// token and message id instead of client address.
package exchange

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgecoap/coap/pkg/message"
	"github.com/edgecoap/coap/pkg/reliability"
)

// Origin distinguishes an exchange the local client started from one
// a remote peer is driving (e.g. an inbound ping we must RST).
type Origin int

const (
	OriginLocal Origin = iota
	OriginRemote
)

// Exchange is a single request/response correlation, including its
// retransmits and, for multicast requests, every response collected.
type Exchange struct {
	Token     []byte
	MID       uint16
	Endpoint  string
	Peer      string
	Request   *message.Message
	Multicast bool
	Streaming bool // true for an Observe relation's long-lived exchange
	Origin    Origin
	TraceID   string
	CreatedAt time.Time

	Retransmitter *reliability.Retransmitter

	mu        sync.Mutex
	responses chan *message.Message
	err       error
	closed    bool
}

func newExchange(endpoint string, token []byte, mid uint16, req *message.Message, multicast bool) *Exchange {
	buf := 1
	if multicast {
		buf = 16
	}
	return &Exchange{
		Token:     token,
		MID:       mid,
		Endpoint:  endpoint,
		Request:   req,
		Multicast: multicast,
		Origin:    OriginLocal,
		TraceID:   uuid.New().String(),
		CreatedAt: time.Now(),
		responses: make(chan *message.Message, buf),
	}
}

// RTT reports the elapsed time between the exchange's creation and m's
// delivery timestamp (set in deliver). For a separate response, m's
// timestamp is when the later CON/NON carrying the response arrived,
// not when the empty ACK did, so this measures the full exchange
// latency rather than just the initial round trip.
func (ex *Exchange) RTT(m *message.Message) time.Duration {
	return m.Timestamp.Sub(ex.CreatedAt)
}

// MakeStreaming marks a freshly built exchange as long-lived: its
// response channel is never closed on delivery, the same way a
// multicast exchange's is kept open. The client façade calls this
// right after registering an Observe relation's initial GET, before
// the registration response can possibly arrive, so the one-slot
// buffer newExchange allocated is replaced by a multicast-sized one
// before anything has been delivered into it.
func (ex *Exchange) MakeStreaming() {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.Streaming = true
	ex.responses = make(chan *message.Message, 16)
}

// Responses exposes the channel the client façade reads completed
// responses from. For a unicast exchange it yields at most one message
// before closing; for a multicast or streaming exchange it stays open,
// delivering every matching response (each carrying its own Source),
// until the exchange is cancelled or fails. A response that arrives
// while the channel's buffer is full is dropped.
func (ex *Exchange) Responses() <-chan *message.Message {
	return ex.responses
}

// Err returns the terminal error, if the exchange failed rather than
// completed with a response.
func (ex *Exchange) Err() error {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.err
}

// deliver hands a response to the waiter, timestamping it first so
// latency can be measured from this exact point.
func (ex *Exchange) deliver(m *message.Message) {
	m.Timestamp = time.Now()

	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.closed {
		return
	}
	select {
	case ex.responses <- m:
	default:
	}
	if !ex.Multicast && !ex.Streaming {
		ex.closed = true
		close(ex.responses)
	}
}

// fail terminates the exchange with err, used for timeouts,
// cancellation, and RST.
func (ex *Exchange) fail(err error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.closed {
		return
	}
	ex.err = err
	ex.closed = true
	close(ex.responses)
}

// Cancel frees any retransmit timer and unblocks the waiter with the
// given error.
func (ex *Exchange) Cancel(err error) {
	if ex.Retransmitter != nil {
		ex.Retransmitter.Cancel()
	}
	ex.fail(err)
}
