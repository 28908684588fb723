// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package coap re-exports the client façade at the module root, so
// callers can write coap.New/coap.Get instead of reaching into
// pkg/client directly.
package coap

import "github.com/edgecoap/coap/pkg/client"

// Client is the CoAP client façade. See pkg/client.Client.
type Client = client.Client

// Config configures a Client. See pkg/client.Config.
type Config = client.Config

// RequestInterceptor is run on every outbound request before it is
// bound to an endpoint. See pkg/client.RequestInterceptor.
type RequestInterceptor = client.RequestInterceptor

// Relation is a live RFC 7641 observe subscription. See
// pkg/client.Relation.
type Relation = client.Relation

// New creates a Client. See pkg/client.New.
func New(cfg Config) *Client {
	return client.New(cfg)
}
