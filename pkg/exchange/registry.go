// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package exchange

import (
	"encoding/hex"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/edgecoap/coap/pkg/coaperrors"
	"github.com/edgecoap/coap/pkg/dedup"
	"github.com/edgecoap/coap/pkg/message"
)

type tokenKey struct {
	endpoint string
	token    string
}

type midKey struct {
	peer string
	mid  uint16
}

// Config carries the two token/mid seeding switches that pick between
// deterministic and randomized starting values for the token and
// message id counters.
type Config struct {
	UseRandomTokenStart bool
	UseRandomIDStart    bool
}

// Registry is the dual-keyed exchange table and inbound matcher,
// analogous to a UDP session manager but keyed by token and
// message id instead of client address.
type Registry struct {
	mu      sync.RWMutex
	byToken map[tokenKey]*Exchange
	byMID   map[midKey]*Exchange
	logger  *slog.Logger

	nextToken uint64
	nextMID   uint32 // kept wider than uint16 so wraparound is an explicit mask, not overflow
}

// New creates an empty Registry, seeding the token and message id
// counters according to cfg.
func New(cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		byToken: make(map[tokenKey]*Exchange),
		byMID:   make(map[midKey]*Exchange),
		logger:  logger,
	}
	if cfg.UseRandomTokenStart {
		r.nextToken = rand.Uint64()
	}
	if cfg.UseRandomIDStart {
		r.nextMID = uint32(rand.Uint32() & 0xFFFF)
	}
	return r
}

// NewToken returns the next unused token on endpoint, monotonically
// increasing with wrap-around, skipping any token currently registered.
func (r *Registry) NewToken(endpoint string) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		v := r.nextToken
		r.nextToken++

		var buf [8]byte
		for i := 7; i >= 0; i-- {
			buf[i] = byte(v)
			v >>= 8
		}
		token := buf[:]
		if _, taken := r.byToken[tokenKey{endpoint, hex.EncodeToString(token)}]; !taken {
			return token
		}
	}
}

// NewMID returns the next message id, monotonically incremented modulo
// 2^16 per RFC 7252 §3.
func (r *Registry) NewMID() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	mid := uint16(r.nextMID & 0xFFFF)
	r.nextMID = (r.nextMID + 1) & 0xFFFF
	return mid
}

// Register adds ex to both indices.
func (r *Registry) Register(ex *Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byToken[tokenKey{ex.Endpoint, hex.EncodeToString(ex.Token)}] = ex
	r.byMID[midKey{ex.Peer, ex.MID}] = ex
}

// NewExchange builds and registers a new local exchange for req, bound to mid
// and token already assigned by the caller (the client façade, via
// NewToken/NewMID), and peer/endpoint identity.
func (r *Registry) NewExchange(endpoint, peer string, token []byte, mid uint16, req *message.Message, multicast bool) *Exchange {
	ex := newExchange(endpoint, token, mid, req, multicast)
	ex.Peer = peer
	r.Register(ex)
	return ex
}

// LookupByToken returns the exchange registered for (endpoint, token).
func (r *Registry) LookupByToken(endpoint string, token []byte) (*Exchange, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.byToken[tokenKey{endpoint, hex.EncodeToString(token)}]
	return ex, ok
}

// LookupByMID returns the exchange registered for (peer, mid).
func (r *Registry) LookupByMID(peer string, mid uint16) (*Exchange, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.byMID[midKey{peer, mid}]
	return ex, ok
}

// Remove drops ex from both indices.
func (r *Registry) Remove(ex *Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byToken, tokenKey{ex.Endpoint, hex.EncodeToString(ex.Token)})
	delete(r.byMID, midKey{ex.Peer, ex.MID})
}

// Count returns the number of exchanges tracked by token, mainly for
// tests and shutdown draining.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byToken)
}

// HandleInbound runs one inbound message through format validation,
// deduplication, and response/empty-message matching. It returns a
// reply message the caller must send back on peer (an RST or an empty
// ACK), or nil if nothing needs to be sent.
func (r *Registry) HandleInbound(endpoint, peer string, m *message.Message, dedupTable *dedup.Dedup) *message.Message {
	// Step 1: format errors on a confirmable message get RST; anything
	// else malformed is dropped silently.
	if m.HasFormatError {
		if m.Type == message.CON {
			return emptyRST(m.ID)
		}
		return nil
	}

	// Step 2: deduplicate CON/NON by (peer, mid).
	if m.Type == message.CON || m.Type == message.NON {
		if cached, dup := dedupTable.Check(peer, m.ID); dup {
			m.IsDuplicate = true
			return cached
		}
	}

	if m.IsResponse() {
		return r.handleResponse(endpoint, peer, m, dedupTable)
	}

	if m.IsEmpty() {
		return r.handleEmpty(peer, m)
	}

	// Requests arriving inbound to a client-only engine have no
	// resource dispatch target; nothing to route them to.
	return nil
}

// handleResponse matches a response to its outstanding exchange by
// token and delivers it to the waiter.
func (r *Registry) handleResponse(endpoint, peer string, m *message.Message, dedupTable *dedup.Dedup) *message.Message {
	ex, ok := r.LookupByToken(endpoint, m.Token)
	if !ok {
		return emptyRST(m.ID)
	}

	// Cancel the retransmit timer before the waiter can possibly unblock,
	// so a caller who wakes on the response never races a pending retry.
	if ex.Retransmitter != nil {
		ex.Retransmitter.Ack()
	}
	if ex.Multicast || ex.Streaming {
		ex.mu.Lock()
		if !ex.closed {
			select {
			case ex.responses <- m:
			default:
			}
		}
		ex.mu.Unlock()
	} else {
		ex.deliver(m)
	}

	// A separate response (token match, fresh MID) arrives as its own
	// CON/NON and must be ACKed on its own right, per RFC 7252 §5.2.2.
	if m.Type == message.CON {
		ack := message.New(message.ACK, message.Empty, m.ID, nil)
		dedupTable.Store(peer, m.ID, ack)
		return ack
	}
	return nil
}

// handleEmpty matches an ACK or RST to its outstanding exchange by MID.
func (r *Registry) handleEmpty(peer string, m *message.Message) *message.Message {
	switch m.Type {
	case message.ACK, message.RST:
		ex, ok := r.LookupByMID(peer, m.ID)
		if !ok {
			return nil
		}
		if ex.Retransmitter != nil {
			if m.Type == message.ACK {
				ex.Retransmitter.Ack()
			} else {
				ex.Retransmitter.Reject()
			}
		}
		if m.Type == message.RST {
			ex.fail(coaperrors.ErrReset)
		}
		return nil
	case message.CON:
		// Empty CON is a ping; reply RST with the same MID.
		return emptyRST(m.ID)
	default:
		return nil
	}
}

func emptyRST(mid uint16) *message.Message {
	return message.New(message.RST, message.Empty, mid, nil)
}
