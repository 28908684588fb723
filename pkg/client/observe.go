// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"

	"github.com/edgecoap/coap/pkg/coaperrors"
	"github.com/edgecoap/coap/pkg/exchange"
	"github.com/edgecoap/coap/pkg/message"
	"github.com/edgecoap/coap/pkg/observe"
	"github.com/edgecoap/coap/pkg/reliability"
)

// Relation is a live RFC 7641 observe subscription: a GET that keeps
// receiving freshness-filtered notifications until Cancel, a non-2.05
// response, or a failed reregistration ends it.
type Relation struct {
	*observe.Relation

	client   *Client
	ex       *exchange.Exchange
	key      string
	peer     string
	relKey   string
}

// Observe registers an RFC 7641 observe relation on uri: an initial GET
// with Observe=0, followed by a long-lived stream of notifications
// delivered through Notifications(), freshness-filtered per RFC 7641
// §3.4.
func (c *Client) Observe(ctx context.Context, uri string, opts ...message.Option) (*Relation, error) {
	opts = append(append([]message.Option{}, opts...), message.NewUintOption(message.Observe, 0))
	req, key, peer, scheme, err := buildRequest(message.CON, message.GET, uri, nil, opts, c.cfg.Identity)
	if err != nil {
		return nil, err
	}

	if c.cfg.Interceptor != nil {
		if err := c.cfg.Interceptor(ctx, req); err != nil {
			return nil, err
		}
	}

	ep, err := c.getEndpoint(ctx, key, peer, scheme, false)
	if err != nil {
		return nil, coaperrors.New("observe", peer, "", err)
	}

	token := c.exchanges.NewToken(key)
	mid := c.exchanges.NewMID()
	req.Token = token
	req.ID = mid

	ex := c.exchanges.NewExchange(key, peer, token, mid, req, false)
	ex.MakeStreaming()

	send := func(attempt int) error {
		req.Retransmits = attempt
		return ep.Send(ctx, peer, req)
	}
	ex.Retransmitter = reliability.New(c.reliabilityConfig(), send, func() {
		ex.Cancel(coaperrors.ErrTimeout)
	})
	if err := ex.Retransmitter.Start(); err != nil {
		c.exchanges.Remove(ex)
		return nil, coaperrors.New("observe", peer, hexToken(token), err)
	}

	var first *message.Message
	select {
	case m, ok := <-ex.Responses():
		if !ok {
			c.exchanges.Remove(ex)
			return nil, ex.Err()
		}
		first = m
	case <-ctx.Done():
		ex.Cancel(coaperrors.ErrCancelled)
		c.exchanges.Remove(ex)
		return nil, ctx.Err()
	}

	relKey := key + "#" + hexToken(token)
	obsCfg := observe.Config{
		NotificationMaxAge:                 c.cfg.Engine.NotificationMaxAge,
		NotificationCheckIntervalTime:      c.cfg.Engine.NotificationCheckIntervalTime,
		NotificationCheckIntervalCount:     c.cfg.Engine.NotificationCheckIntervalCount,
		NotificationReregistrationBackoff: c.cfg.Engine.NotificationReregistrationBackoff,
	}
	rel := observe.New(token, key, obsCfg, func() error {
		return c.reregisterObserve(c.ctx, key, peer, token)
	}, c.logger)

	if !rel.Deliver(first) {
		c.exchanges.Remove(ex)
		return nil, coaperrors.Wrap(coaperrors.ErrFormat, "observe registration response carried no Observe option")
	}

	c.observeMgr.Add(relKey, rel)
	wrapper := &Relation{Relation: rel, client: c, ex: ex, key: key, peer: peer, relKey: relKey}

	go c.pumpObserve(wrapper)

	return wrapper, nil
}

// pumpObserve forwards every raw notification the exchange matcher
// collects into the relation's freshness filter until the exchange's
// response channel closes (timeout, RST, or explicit Cancel).
func (c *Client) pumpObserve(r *Relation) {
	for m := range r.ex.Responses() {
		r.Relation.Deliver(m)
	}
	r.Relation.Cancel()
	c.observeMgr.Remove(r.relKey)
	c.exchanges.Remove(r.ex)
}

// Cancel ends the relation: it sends a non-confirmable GET with
// Observe=1 to deregister (best effort) and tears down local state.
// Cancelling an already-ended relation is a no-op.
func (r *Relation) Cancel(ctx context.Context) error {
	ep, ok := r.client.endpoints.Get(r.key)
	if ok {
		mid := r.client.exchanges.NewMID()
		dereg := message.New(message.NON, message.GET, mid, r.ex.Token)
		dereg.Options.Add(message.NewUintOption(message.Observe, 1))
		dereg.Options.Sort()
		_ = ep.Send(ctx, r.peer, dereg)
	}
	r.ex.Cancel(coaperrors.ErrCancelled)
	return nil
}

// reregisterObserve resends the registration GET non-confirmably,
// reusing the relation's token so the response still matches the same
// exchange. The reregistration trigger (quiet feed) only needs a fresh
// notification, not guaranteed delivery of the trigger itself.
func (c *Client) reregisterObserve(ctx context.Context, key, peer string, token []byte) error {
	ep, ok := c.endpoints.Get(key)
	if !ok {
		return coaperrors.New("reregister", peer, hexToken(token), coaperrors.ErrTransport)
	}
	mid := c.exchanges.NewMID()
	req := message.New(message.NON, message.GET, mid, token)
	req.Options.Add(message.NewUintOption(message.Observe, 0))
	req.Options.Sort()
	return ep.Send(ctx, peer, req)
}
