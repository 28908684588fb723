// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"

	"github.com/edgecoap/coap/pkg/blockwise"
	"github.com/edgecoap/coap/pkg/coaperrors"
	"github.com/edgecoap/coap/pkg/message"
)

// splitURI resolves a CoAP URI's scheme, host, and port without doing
// any DNS lookup; resolution (for non-literal-IP hosts) happens later
// at dial time, in the transport's own net.Dial call.
func splitURI(rawURI string) (host string, port int, scheme message.Scheme, err error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return "", 0, message.Scheme{}, fmt.Errorf("parse uri: %w", err)
	}
	if !u.IsAbs() {
		return "", 0, message.Scheme{}, fmt.Errorf("uri %q is not absolute", rawURI)
	}
	scheme, ok := message.Schemes[u.Scheme]
	if !ok {
		return "", 0, message.Scheme{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host = u.Hostname()
	port = scheme.DefaultPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, message.Scheme{}, fmt.Errorf("parse port %q: %w", p, err)
		}
	}
	return host, port, scheme, nil
}

func itoa(v int) string { return strconv.Itoa(v) }

func hexToken(token []byte) string {
	if len(token) == 0 {
		return ""
	}
	return hex.EncodeToString(token)
}

// buildRequest resolves rawURI to an endpoint and constructs a
// well-formed request message carrying the URI options plus any
// caller-supplied options, sorted per the wire canonical order.
func buildRequest(typ message.Type, code message.Code, rawURI string, payload []byte, opts []message.Option, credentialSuffix string) (req *message.Message, key, peer string, scheme message.Scheme, err error) {
	key, peer, host, port, scheme, err := resolveEndpoint(rawURI, credentialSuffix)
	if err != nil {
		return nil, "", "", message.Scheme{}, err
	}

	uriOpts, err := message.URIOptions(rawURI, host, port, false)
	if err != nil {
		return nil, "", "", message.Scheme{}, coaperrors.Wrap(coaperrors.ErrBadOption, err.Error())
	}

	req = message.New(typ, code, 0, nil)
	req.Options = append(req.Options, uriOpts...)
	req.Options = append(req.Options, opts...)
	req.Options.Sort()
	req.Payload = payload

	return req, key, peer, scheme, nil
}

// withBlock2Preference attaches an early Block2(0, false, szx) option
// advertising the client's preferred response block size (RFC 7959
// §2.4 early negotiation).
func withBlock2Preference(req *message.Message, blockSize int) {
	szx := message.SZXFromBlockSize(blockSize)
	req.Options.Add(message.EncodeBlock(message.Block2, 0, false, szx))
	req.Options.Sort()
}

// request runs one logical façade operation end to end: building the
// request, negotiating Block1 if the payload exceeds maxMessageSize,
// negotiating Block2 early so a large response is pulled automatically,
// and returning the fully reassembled response.
func (c *Client) request(ctx context.Context, typ message.Type, code message.Code, rawURI string, payload []byte, opts ...message.Option) (*message.Message, error) {
	req, key, peer, scheme, err := buildRequest(typ, code, rawURI, payload, opts, c.cfg.Identity)
	if err != nil {
		return nil, err
	}

	if c.cfg.Interceptor != nil {
		if err := c.cfg.Interceptor(ctx, req); err != nil {
			return nil, err
		}
	}

	withBlock2Preference(req, c.cfg.Engine.DefaultBlockSize)

	if len(payload) <= c.cfg.Engine.MaxMessageSize {
		resp, err := c.sendOnce(ctx, key, peer, scheme, req)
		if err != nil {
			return nil, err
		}
		return c.pullBlock2(ctx, key, peer, scheme, req, resp)
	}

	return c.sendBlock1(ctx, key, peer, scheme, req, payload)
}

// sendBlock1 fragments payload across successive Block1 exchanges,
// resuming from the server-negotiated SZX on a 2.31 Continue.
func (c *Client) sendBlock1(ctx context.Context, key, peer string, scheme message.Scheme, req *message.Message, payload []byte) (*message.Message, error) {
	szx := message.SZXFromBlockSize(c.cfg.Engine.DefaultBlockSize)
	sender := blockwise.NewBlock1Sender(payload, szx)
	defer sender.Close()

	base := req.Clone()
	for {
		if sender.Stale(c.cfg.Engine.BlockwiseStatusLifetime) {
			return nil, coaperrors.Wrap(coaperrors.ErrTimeout, "block1 transfer stalled")
		}

		opt, chunk, more := sender.Next()
		blockReq := base.Clone()
		blockReq.Options.Add(opt)
		blockReq.Options.Sort()
		blockReq.Payload = chunk

		resp, err := c.sendOnce(ctx, key, peer, scheme, blockReq)
		if err != nil {
			return nil, err
		}

		if !more || resp.Code != message.Continue {
			return c.pullBlock2(ctx, key, peer, scheme, base, resp)
		}

		respBlock1, ok := resp.Options.First(message.Block1)
		if !ok {
			return nil, coaperrors.Wrap(coaperrors.ErrFormat, "block1 continue without Block1 option")
		}
		_, _, serverSZX := message.BlockValue(respBlock1)
		sender.Advance(serverSZX)
	}
}

// pullBlock2 reassembles a response delivered across Block2 messages,
// reissuing base with an incremented NUM and the server's negotiated
// SZX until M=0.
func (c *Client) pullBlock2(ctx context.Context, key, peer string, scheme message.Scheme, base *message.Message, resp *message.Message) (*message.Message, error) {
	block2, ok := resp.Options.First(message.Block2)
	if !ok {
		return resp, nil
	}
	num, more, szx := message.BlockValue(block2)
	if !more {
		return resp, nil
	}

	puller := blockwise.NewBlock2Puller(szx)
	if _, err := puller.Accept(message.EncodeBlock(message.Block2, num, more, szx), resp.Payload); err != nil {
		return nil, err
	}

	final := resp
	for {
		if puller.Stale(c.cfg.Engine.BlockwiseStatusLifetime) {
			return nil, coaperrors.Wrap(coaperrors.ErrTimeout, "block2 reassembly stalled")
		}

		pullReq := base.Clone()
		pullReq.Options = stripBlock2(pullReq.Options)
		pullReq.Options.Add(puller.RequestOption())
		pullReq.Options.Sort()
		pullReq.Payload = nil

		r, err := c.sendOnce(ctx, key, peer, scheme, pullReq)
		if err != nil {
			return nil, err
		}
		final = r

		opt, ok := r.Options.First(message.Block2)
		if !ok {
			break
		}
		moreFollows, err2 := puller.Accept(opt, r.Payload)
		if err2 != nil {
			return nil, err2
		}
		if !moreFollows {
			break
		}
	}

	final.Payload = puller.Body()
	return final, nil
}

func stripBlock2(opts message.Options) message.Options {
	out := make(message.Options, 0, len(opts))
	for _, o := range opts {
		if o.Number != message.Block2 {
			out = append(out, o)
		}
	}
	return out
}

// Get issues a confirmable GET.
func (c *Client) Get(ctx context.Context, uri string, opts ...message.Option) (*message.Message, error) {
	return c.request(ctx, message.CON, message.GET, uri, nil, opts...)
}

// Post issues a confirmable POST carrying payload.
func (c *Client) Post(ctx context.Context, uri string, payload []byte, opts ...message.Option) (*message.Message, error) {
	return c.request(ctx, message.CON, message.POST, uri, payload, opts...)
}

// Put issues a confirmable PUT carrying payload.
func (c *Client) Put(ctx context.Context, uri string, payload []byte, opts ...message.Option) (*message.Message, error) {
	return c.request(ctx, message.CON, message.PUT, uri, payload, opts...)
}

// Delete issues a confirmable DELETE.
func (c *Client) Delete(ctx context.Context, uri string, opts ...message.Option) (*message.Message, error) {
	return c.request(ctx, message.CON, message.DELETE, uri, nil, opts...)
}

// Fetch issues a confirmable FETCH (RFC 8132) carrying a query payload.
func (c *Client) Fetch(ctx context.Context, uri string, payload []byte, opts ...message.Option) (*message.Message, error) {
	return c.request(ctx, message.CON, message.FETCH, uri, payload, opts...)
}

// Patch issues a confirmable PATCH (RFC 8132) carrying a patch document.
func (c *Client) Patch(ctx context.Context, uri string, payload []byte, opts ...message.Option) (*message.Message, error) {
	return c.request(ctx, message.CON, message.PATCH, uri, payload, opts...)
}

// IPatch issues a confirmable iPATCH (RFC 8132), the idempotent variant
// of Patch.
func (c *Client) IPatch(ctx context.Context, uri string, payload []byte, opts ...message.Option) (*message.Message, error) {
	return c.request(ctx, message.CON, message.IPATCH, uri, payload, opts...)
}
