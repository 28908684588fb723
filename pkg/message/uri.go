// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package message

import (
	"fmt"
	"net/url"
	"strings"
)

// Scheme describes one of the six CoAP URI schemes and its defaults.
type Scheme struct {
	Name        string
	DefaultPort int
	Transport   string // "udp", "dtls", "tcp", "tls", "ws", "wss"
}

// Schemes is the coap/coaps/coap+tcp/coaps+tcp/coap+ws/coaps+ws scheme table.
var Schemes = map[string]Scheme{
	"coap":      {"coap", 5683, "udp"},
	"coaps":     {"coaps", 5684, "dtls"},
	"coap+tcp":  {"coap+tcp", 5683, "tcp"},
	"coaps+tcp": {"coaps+tcp", 5684, "tls"},
	"coap+ws":   {"coap+ws", 80, "ws"},
	"coaps+ws":  {"coaps+ws", 443, "wss"},
}

// URIOptions converts an absolute, fragmentless URI into the Uri-Host,
// Uri-Port, Uri-Path, and Uri-Query options needed to reach it, per
// RFC 7252 §6.4. destHost/destPort are the endpoint the request is
// actually being sent to; Uri-Host/Uri-Port are only emitted when they
// would differ from the destination (or when forceHost requests it).
func URIOptions(rawURI string, destHost string, destPort int, forceHost bool) (Options, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return nil, fmt.Errorf("parse uri: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("uri %q is not absolute", rawURI)
	}
	if u.Fragment != "" {
		return nil, fmt.Errorf("uri %q carries a fragment, not permitted in a CoAP request", rawURI)
	}

	scheme, ok := Schemes[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	host := u.Hostname()
	port := scheme.DefaultPort
	if p := u.Port(); p != "" {
		fmt.Sscanf(p, "%d", &port)
	}

	var opts Options
	if forceHost || host != destHost {
		opts.Add(NewStringOption(URIHost, host))
	}
	if port != scheme.DefaultPort && port != destPort {
		opts.Add(NewUintOption(URIPort, uint32(port)))
	}

	for _, seg := range strings.Split(strings.Trim(u.EscapedPath(), "/"), "/") {
		if seg == "" {
			continue
		}
		decoded, err := url.PathUnescape(seg)
		if err != nil {
			return nil, fmt.Errorf("decode path segment %q: %w", seg, err)
		}
		opts.Add(NewStringOption(URIPath, decoded))
	}

	if u.RawQuery != "" {
		for _, kv := range strings.Split(u.RawQuery, "&") {
			key, val, hasVal := strings.Cut(kv, "=")
			key, err := url.QueryUnescape(key)
			if err != nil {
				return nil, fmt.Errorf("decode query key %q: %w", kv, err)
			}
			query := key
			if hasVal {
				val, err = url.QueryUnescape(val)
				if err != nil {
					return nil, fmt.Errorf("decode query value %q: %w", kv, err)
				}
				query = key + "=" + strings.ReplaceAll(val, "&", "%26")
			}
			opts.Add(NewStringOption(URIQuery, query))
		}
	}

	return opts, nil
}

// OptionsURI reconstructs the URI a set of options refers to, per
// RFC 7252 §6.5. defaultScheme/defaultHost/defaultPort come from the
// endpoint the message was received on or will be sent to; Uri-Host,
// Uri-Port, Uri-Path, and Uri-Query options override the defaults.
func OptionsURI(opts Options, defaultScheme, defaultHost string, defaultPort int) string {
	scheme := defaultScheme
	host := defaultHost
	port := defaultPort

	if opt, ok := opts.First(URIHost); ok {
		host = opt.String()
	}
	if opt, ok := opts.First(URIPort); ok {
		port = int(opt.Uint())
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	if def, ok := Schemes[scheme]; !ok || def.DefaultPort != port {
		fmt.Fprintf(&b, ":%d", port)
	}

	segments := opts.Get(URIPath)
	if len(segments) == 0 {
		b.WriteString("/")
	}
	for _, seg := range segments {
		b.WriteString("/")
		b.WriteString(escapePathSegment(seg.String()))
	}

	queries := opts.Get(URIQuery)
	for i, q := range queries {
		if i == 0 {
			b.WriteString("?")
		} else {
			b.WriteString("&")
		}
		b.WriteString(q.String())
	}

	return b.String()
}

// escapePathSegment percent-escapes "/" within a path segment so it
// cannot be mistaken for a path separator, per RFC 7252 §6.5.
func escapePathSegment(seg string) string {
	return strings.ReplaceAll(url.PathEscape(seg), "%2f", "%2F")
}
