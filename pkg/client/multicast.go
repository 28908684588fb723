// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"

	"github.com/edgecoap/coap/pkg/coaperrors"
	"github.com/edgecoap/coap/pkg/message"
)

// Multicast sends a single non-confirmable request to a multicast
// group address and returns a channel collecting every response that
// arrives, keyed only by a shared token: unlike every other Client
// method, which completes on the first matching response, the channel
// here stays open for multiple group members to answer independently,
// per RFC 7252 §8's non-confirmable multicast request model. The
// channel closes when ctx is done; callers that want a bounded
// collection window should pass a context with a deadline.
func (c *Client) Multicast(ctx context.Context, uri string, opts ...message.Option) (<-chan *message.Message, error) {
	req, key, peer, scheme, err := buildRequest(message.NON, message.GET, uri, nil, opts, c.cfg.Identity)
	if err != nil {
		return nil, err
	}

	if c.cfg.Interceptor != nil {
		if err := c.cfg.Interceptor(ctx, req); err != nil {
			return nil, err
		}
	}

	// A multicast group endpoint needs its own unconnected socket, kept
	// separate from any unicast endpoint already registered against the
	// same key (one can't serve both shapes of read loop), so its
	// registry key is namespaced.
	key += "#multicast"

	ep, err := c.getEndpoint(ctx, key, peer, scheme, true)
	if err != nil {
		return nil, coaperrors.New("multicast", peer, "", err)
	}

	token := c.exchanges.NewToken(key)
	mid := c.exchanges.NewMID()
	req.Token = token
	req.ID = mid

	ex := c.exchanges.NewExchange(key, peer, token, mid, req, true)

	if err := ep.Send(ctx, peer, req); err != nil {
		c.exchanges.Remove(ex)
		return nil, coaperrors.New("multicast", peer, hexToken(token), err)
	}

	go func() {
		<-ctx.Done()
		ex.Cancel(coaperrors.ErrCancelled)
		c.exchanges.Remove(ex)
	}()

	return ex.Responses(), nil
}
