// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package client implements the CoAP client façade: the user-visible
// get/post/put/delete/fetch/patch/ipatch/observe/discover/ping surface
// wrapping the exchange registry, endpoint registry, deduplicator,
// reliability, block-wise, and observe components. Built on a
// Config-struct-to-New-to-lifecycle-methods shape, with an
// Auth-then-notify style interceptor hook reused here as an optional
// RequestInterceptor run before a request is bound to an endpoint.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/edgecoap/coap/pkg/breaker"
	"github.com/edgecoap/coap/pkg/coaperrors"
	"github.com/edgecoap/coap/pkg/config"
	"github.com/edgecoap/coap/pkg/dedup"
	"github.com/edgecoap/coap/pkg/endpoint"
	"github.com/edgecoap/coap/pkg/exchange"
	"github.com/edgecoap/coap/pkg/message"
	"github.com/edgecoap/coap/pkg/metrics"
	"github.com/edgecoap/coap/pkg/observe"
	"github.com/edgecoap/coap/pkg/ratelimit"
	"github.com/edgecoap/coap/pkg/reliability"
	"github.com/edgecoap/coap/pkg/transport"
	tcptransport "github.com/edgecoap/coap/pkg/transport/tcp"
	udptransport "github.com/edgecoap/coap/pkg/transport/udp"
	wstransport "github.com/edgecoap/coap/pkg/transport/ws"
)

// RequestInterceptor authorizes or annotates an outbound request before
// it is bound to an endpoint and sent, mirroring handler.Handler's
// AuthPublish: return an error to reject the request, or mutate req in
// place (its Options/Payload) before forwarding.
type RequestInterceptor func(ctx context.Context, req *message.Message) error

// Config holds everything New needs to build a Client.
type Config struct {
	// Engine carries the tunable protocol defaults (timeouts, retransmit
	// counts, block size, observe cadence). Zero value is invalid; use
	// config.Default() or config.Load.
	Engine config.Config

	// Logger is the sink every owned component logs through. Nil falls
	// back to slog.Default().
	Logger *slog.Logger

	// Interceptor, if set, runs on every outbound request before it is
	// bound to an endpoint.
	Interceptor RequestInterceptor

	// TLSConfig is handed opaquely to the tcp/ws transports for
	// coaps+tcp/coaps+ws destinations; the client never performs the
	// handshake itself. DTLS (coap/coaps over UDP) has no client-side
	// collaborator in this module — see DESIGN.md.
	TLSConfig *tls.Config

	// Identity is an opaque credential identity (a DTLS PSK identity, a
	// client certificate's subject, anything the caller considers
	// distinguishing) folded into the endpoint registry key for every
	// scheme. Two Clients hitting the same host:port under
	// different Identity values never share a transport binding or
	// exchange namespace, even though they'd otherwise collide on the
	// same (scheme, host, port) key.
	Identity string

	// Metrics, if set, is fed CoAP message and request-latency counters
	// on every exchange. Nil disables instrumentation entirely.
	Metrics *metrics.Metrics

	// Breaker configures the per-endpoint circuit breaker guarding
	// sendOnce; a peer that keeps timing out trips its breaker open so
	// further requests fail fast instead of waiting out a full
	// retransmission sequence. Zero value uses breaker.New's defaults.
	Breaker breaker.Config

	// RateLimitCapacity and RateLimitRefillRate configure a per-endpoint
	// token bucket throttling outbound sends to that peer. Capacity 0
	// disables rate limiting entirely. RateLimitMaxClients bounds how
	// many distinct endpoint buckets are tracked at once (0 uses
	// ratelimit.Limiter's own default).
	RateLimitCapacity   int64
	RateLimitRefillRate int64
	RateLimitMaxClients int
}

// Client is one isolated CoAP client instance: its own endpoint
// registry, exchange registry, deduplicator, and observe manager, none
// of it shared with any other Client in the same process.
type Client struct {
	cfg    Config
	logger *slog.Logger

	endpoints  *endpoint.Registry
	exchanges  *exchange.Registry
	dedupTable *dedup.Dedup
	observeMgr *observe.Manager

	breakersMu sync.Mutex
	breakers   map[string]*breaker.CircuitBreaker

	limiter *ratelimit.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Client and starts its background sweepers (dedup
// mark-and-sweep, observe staleness checks). Call Close when done.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:    cfg,
		logger: cfg.Logger,
		endpoints: endpoint.NewRegistry(cfg.Logger),
		exchanges: exchange.New(exchange.Config{
			UseRandomTokenStart: cfg.Engine.UseRandomTokenStart,
			UseRandomIDStart:    cfg.Engine.UseRandomIDStart,
		}, cfg.Logger),
		dedupTable: dedup.New(cfg.Engine.ExchangeLifetime, cfg.Logger),
		observeMgr: observe.NewManager(observe.Config{
			NotificationMaxAge:                 cfg.Engine.NotificationMaxAge,
			NotificationCheckIntervalTime:      cfg.Engine.NotificationCheckIntervalTime,
			NotificationCheckIntervalCount:     cfg.Engine.NotificationCheckIntervalCount,
			NotificationReregistrationBackoff: cfg.Engine.NotificationReregistrationBackoff,
		}, cfg.Logger),
		breakers: make(map[string]*breaker.CircuitBreaker),
		ctx:      ctx,
		cancel:   cancel,
	}
	if cfg.RateLimitCapacity > 0 {
		c.limiter = ratelimit.NewLimiter(cfg.RateLimitCapacity, cfg.RateLimitRefillRate, cfg.RateLimitMaxClients)
	}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.dedupTable.Run(ctx, cfg.Engine.MarkAndSweepInterval)
	}()
	go func() {
		defer c.wg.Done()
		c.observeMgr.Run(ctx)
	}()

	return c
}

// Close stops every endpoint and the background sweepers, and waits
// for them to fully exit before returning.
func (c *Client) Close() error {
	c.cancel()
	err := c.endpoints.CloseAll()
	c.wg.Wait()
	if c.limiter != nil {
		c.limiter.Close()
	}
	return err
}

func (c *Client) reliabilityConfig() reliability.Config {
	return reliability.Config{
		AckTimeout:      c.cfg.Engine.AckTimeout,
		AckRandomFactor: c.cfg.Engine.AckRandomFactor,
		AckTimeoutScale: c.cfg.Engine.AckTimeoutScale,
		MaxRetransmit:   c.cfg.Engine.MaxRetransmit,
	}
}

// resolveEndpoint parses rawURI into the scheme, (host, port) pair, and
// the registry key, without performing any network I/O: DNS resolution
// (when the host is not a literal IP) is left to the transport's dialer.
// credentialSuffix, normally the Client's configured Identity, is
// folded into the key so two identities against the same host:port
// never share an endpoint.
func resolveEndpoint(rawURI, credentialSuffix string) (key, peer, host string, port int, scheme message.Scheme, err error) {
	host, port, scheme, err = splitURI(rawURI)
	if err != nil {
		return "", "", "", 0, message.Scheme{}, err
	}
	key = endpoint.Key(scheme.Name, host, port, credentialSuffix)
	peer = net.JoinHostPort(host, itoa(port))
	return key, peer, host, port, scheme, nil
}

// getEndpoint returns the registered endpoint for key, dialing and
// starting a new transport binding on first use. multicast selects an
// unconnected UDP socket able to fan in replies from several senders,
// rather than a socket dialed to a single peer.
func (c *Client) getEndpoint(ctx context.Context, key, peer string, scheme message.Scheme, multicast bool) (*endpoint.Endpoint, error) {
	return c.endpoints.GetOrCreate(ctx, key, func() (*endpoint.Endpoint, error) {
		tr, err := c.newTransport(peer, scheme, multicast)
		if err != nil {
			return nil, err
		}
		return endpoint.New(key, scheme, tr, c.onMessage(key), c.logger), nil
	})
}

func (c *Client) newTransport(peer string, scheme message.Scheme, multicast bool) (transport.Transport, error) {
	if multicast {
		if scheme.Transport != "udp" && scheme.Transport != "dtls" {
			return nil, fmt.Errorf("multicast requests are only supported over coap/coaps, not %s", scheme.Name)
		}
		t := udptransport.NewMulticast(peer)
		t.ReadBufferSize = c.cfg.Engine.ChannelReceivePacketSize
		if scheme.Transport == "dtls" {
			t.TLSConfig = c.cfg.TLSConfig
		}
		return t, nil
	}

	switch scheme.Transport {
	case "tcp":
		return tcptransport.New(peer), nil
	case "tls":
		t := tcptransport.New(peer)
		t.TLSConfig = c.cfg.TLSConfig
		return t, nil
	case "ws":
		return wstransport.New("ws://" + peer), nil
	case "wss":
		t := wstransport.New("wss://" + peer)
		t.TLSConfig = c.cfg.TLSConfig
		return t, nil
	case "dtls":
		t := udptransport.New(peer)
		t.TLSConfig = c.cfg.TLSConfig
		t.ReadBufferSize = c.cfg.Engine.ChannelReceivePacketSize
		return t, nil
	default: // "udp"
		t := udptransport.New(peer)
		t.ReadBufferSize = c.cfg.Engine.ChannelReceivePacketSize
		return t, nil
	}
}

// onMessage builds the per-endpoint inbound handler that feeds every
// decoded message through the exchange matcher and sends back
// whatever reply (RST or empty ACK) it produces.
func (c *Client) onMessage(key string) endpoint.Handler {
	return func(peer string, m *message.Message) {
		reply := c.exchanges.HandleInbound(key, peer, m, c.dedupTable)
		if reply == nil {
			return
		}
		ep, ok := c.endpoints.Get(key)
		if !ok {
			return
		}
		if err := ep.Send(c.ctx, peer, reply); err != nil {
			c.logger.Debug("failed to send matcher reply",
				slog.String("endpoint", key),
				slog.String("peer", peer),
				slog.String("error", err.Error()))
		}
	}
}

// breakerFor returns the circuit breaker guarding key, creating one on
// first use the same way endpoints and observe relations are created
// lazily elsewhere in the client.
func (c *Client) breakerFor(key string) *breaker.CircuitBreaker {
	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()
	cb, ok := c.breakers[key]
	if !ok {
		cfg := c.cfg.Breaker
		if cfg.ShouldTrip == nil {
			cfg.ShouldTrip = defaultShouldTrip
		}
		cb = breaker.New(cfg)
		c.breakers[key] = cb
	}
	return cb
}

// defaultShouldTrip excludes the error classes a misbehaving peer can
// trigger without the path to it actually being down: a malformed
// response or an unrecognized critical option is the peer's bug, not
// a sign that requests to it are failing to arrive or return.
func defaultShouldTrip(err error) bool {
	return !errors.Is(err, coaperrors.ErrFormat) && !errors.Is(err, coaperrors.ErrBadOption)
}

// sendOnce runs exactly one request/response exchange to completion,
// gated by key's rate limiter and circuit breaker and, when Metrics is
// configured, counted against it regardless of outcome. Rate limiting
// is delegated to ratelimit.Limiter, keyed by endpoint rather than by
// the client identifiers it was originally built to track.
func (c *Client) sendOnce(ctx context.Context, key, peer string, scheme message.Scheme, req *message.Message) (*message.Message, error) {
	if c.limiter != nil && !c.limiter.AllowMessage(key, req) {
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.RateLimitedRequests.WithLabelValues(key).Inc()
		}
		return nil, coaperrors.Wrap(ratelimit.ErrRateLimitExceeded, "send to "+peer)
	}

	cb := c.breakerFor(key)
	prevState := cb.State()

	var resp *message.Message
	method := message.CodeString(req.Code)
	cbErr := cb.Call(func() error {
		var err error
		if c.cfg.Metrics != nil {
			err = c.cfg.Metrics.ObserveRequest(method, func() (string, error) {
				r, sendErr := c.doSendOnce(ctx, key, peer, scheme, req)
				resp = r
				if sendErr != nil {
					return "error", sendErr
				}
				c.cfg.Metrics.CoAPMessages.WithLabelValues(method, message.CodeString(r.Code)).Inc()
				return "success", nil
			})
		} else {
			resp, err = c.doSendOnce(ctx, key, peer, scheme, req)
		}
		return err
	})

	if c.cfg.Metrics != nil {
		if newState := cb.State(); newState != prevState {
			c.cfg.Metrics.CircuitBreakerState.WithLabelValues(key).Set(float64(newState))
			if newState == breaker.StateOpen {
				c.cfg.Metrics.CircuitBreakerTrips.WithLabelValues(key).Inc()
			}
		}
	}

	if cbErr != nil {
		if errors.Is(cbErr, breaker.ErrCircuitOpen) {
			return nil, coaperrors.Wrap(coaperrors.ErrTransport, "circuit open for "+peer)
		}
		return nil, cbErr
	}
	return resp, nil
}

// doSendOnce assigns token and message id, arms the retransmit timer
// for confirmable requests, sends, and waits for either a matching
// response, the exchange's terminal error, or ctx cancellation.
func (c *Client) doSendOnce(ctx context.Context, key, peer string, scheme message.Scheme, req *message.Message) (*message.Message, error) {
	ep, err := c.getEndpoint(ctx, key, peer, scheme, false)
	if err != nil {
		return nil, coaperrors.New("send", peer, "", err)
	}

	token := c.exchanges.NewToken(key)
	mid := c.exchanges.NewMID()
	req.Token = token
	req.ID = mid

	ex := c.exchanges.NewExchange(key, peer, token, mid, req, false)
	defer c.exchanges.Remove(ex)

	if req.Type == message.CON {
		send := func(attempt int) error {
			req.Retransmits = attempt
			return ep.Send(ctx, peer, req)
		}
		ex.Retransmitter = reliability.New(c.reliabilityConfig(), send, func() {
			ex.Cancel(coaperrors.ErrTimeout)
		})
		if err := ex.Retransmitter.Start(); err != nil {
			return nil, coaperrors.New("send", peer, hexToken(token), err)
		}
	} else {
		if err := ep.Send(ctx, peer, req); err != nil {
			return nil, coaperrors.New("send", peer, hexToken(token), err)
		}
	}

	select {
	case resp, ok := <-ex.Responses():
		if !ok {
			return nil, ex.Err()
		}
		resp.RTT = ex.RTT(resp)
		return resp, nil
	case <-ctx.Done():
		ex.Cancel(coaperrors.ErrCancelled)
		return nil, ctx.Err()
	}
}
