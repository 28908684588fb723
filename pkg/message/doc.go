// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package message defines the CoAP message and option model shared by
// every transport-specific codec, and the URI<->Option mapping of
// RFC 7252 §6.4/§6.5.
//
// # Overview
//
// A Message is the transport-independent representation produced by
// decoding a UDP datagram, a TCP/WS frame, or built by the client façade
// before encoding. Options carry typed values (empty, opaque, uint, or
// UTF-8 string) and are always materialized in canonical order: sorted
// by option number, insertion order preserved among options that share a
// number.
//
// # Option Registry
//
// Option numbers are looked up against a small built-in registry
// (Option 1 If-Match, 3 Uri-Host, … 39 Proxy-Scheme, 60 Size1) that records each
// option's wire format, repeatability, and critical/unsafe/no-cache-key
// bits, per RFC 7252 §5.10 and RFC 7959/7641 extensions (Block1, Block2,
// Size1, Size2, Observe).
package message
