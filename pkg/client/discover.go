// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/edgecoap/coap/pkg/coaperrors"
	"github.com/edgecoap/coap/pkg/message"
)

// Discover issues a GET /.well-known/core against the resource
// directory at baseURI and returns the raw link-format payload.
// Parsing that payload into individual links (RFC 6690) is left to
// the caller.
func (c *Client) Discover(ctx context.Context, baseURI string, opts ...message.Option) ([]byte, error) {
	uri := strings.TrimRight(baseURI, "/") + "/.well-known/core"
	resp, err := c.Get(ctx, uri, opts...)
	if err != nil {
		return nil, err
	}
	if !message.IsSuccess(resp.Code) {
		return nil, coaperrors.Wrap(
			fmt.Errorf("unexpected response %s", message.CodeString(resp.Code)),
			"discover")
	}
	return resp.Payload, nil
}
