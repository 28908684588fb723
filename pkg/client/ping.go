// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"

	"github.com/edgecoap/coap/pkg/coaperrors"
	"github.com/edgecoap/coap/pkg/message"
	"github.com/edgecoap/coap/pkg/reliability"
)

// Ping sends an empty confirmable message (CoAP's "ping") to the
// endpoint named by uri and reports success iff the peer answers with
// RST, per RFC 7252 §4.3. A timeout without any reply is reported as
// (false, nil); any other transport error is returned as err.
func (c *Client) Ping(ctx context.Context, uri string) (bool, error) {
	key, peer, _, _, scheme, err := resolveEndpoint(uri, c.cfg.Identity)
	if err != nil {
		return false, err
	}

	ep, err := c.getEndpoint(ctx, key, peer, scheme, false)
	if err != nil {
		return false, coaperrors.New("ping", peer, "", err)
	}

	mid := c.exchanges.NewMID()
	req := message.New(message.CON, message.Empty, mid, nil)
	ex := c.exchanges.NewExchange(key, peer, nil, mid, req, false)
	defer c.exchanges.Remove(ex)

	send := func(attempt int) error {
		req.Retransmits = attempt
		return ep.Send(ctx, peer, req)
	}
	ex.Retransmitter = reliability.New(c.reliabilityConfig(), send, func() {
		ex.Cancel(coaperrors.ErrTimeout)
	})
	if err := ex.Retransmitter.Start(); err != nil {
		return false, coaperrors.New("ping", peer, "", err)
	}

	select {
	case _, ok := <-ex.Responses():
		if ok {
			// A non-empty reply to a ping is not the RFC 7252 "success"
			// signal; only RST counts.
			return false, nil
		}
		if errors.Is(ex.Err(), coaperrors.ErrReset) {
			return true, nil
		}
		if errors.Is(ex.Err(), coaperrors.ErrTimeout) {
			return false, nil
		}
		return false, ex.Err()
	case <-ctx.Done():
		ex.Cancel(coaperrors.ErrCancelled)
		return false, ctx.Err()
	}
}
