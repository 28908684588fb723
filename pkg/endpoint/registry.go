// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package endpoint

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Registry is the `(scheme, host, port[, credential identity]) →
// Endpoint` table, modeled on a
// SessionManager double-checked-lock GetOrCreate/Remove/CloseAll shape.
// DTLS identity is folded into the key by callers that pass it as
// part of credentialSuffix.
type Registry struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
	logger    *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{endpoints: make(map[string]*Endpoint), logger: logger}
}

// Key builds the registry key for (scheme, host, port, credentialSuffix).
// Literal IP hosts bypass DNS entirely because the transport dials the
// literal string directly; Key does no resolution itself.
func Key(scheme, host string, port int, credentialSuffix string) string {
	key := fmt.Sprintf("%s://%s:%d", scheme, host, port)
	if credentialSuffix != "" {
		key += "#" + credentialSuffix
	}
	return key
}

// IsLiteralIP reports whether host is already a literal IP address, in
// which case DNS resolution is unnecessary.
func IsLiteralIP(host string) bool {
	return net.ParseIP(host) != nil
}

// GetOrCreate returns the existing Endpoint for key, or builds, starts,
// and registers a new one via build. build is called at most once per
// key even under concurrent callers (double-checked locking, as in the
// SessionManager.GetOrCreate).
func (r *Registry) GetOrCreate(ctx context.Context, key string, build func() (*Endpoint, error)) (*Endpoint, error) {
	r.mu.Lock()
	if ep, ok := r.endpoints[key]; ok {
		r.mu.Unlock()
		return ep, nil
	}
	r.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.endpoints[key]; ok {
		// Another caller registered it between the two checks.
		return existing, nil
	}

	ep, err := build()
	if err != nil {
		return nil, err
	}
	if err := ep.Start(ctx); err != nil {
		return nil, err
	}
	r.endpoints[key] = ep
	r.logger.Debug("endpoint registered", slog.String("endpoint", key))
	return ep, nil
}

// Get returns the endpoint for key, if already registered.
func (r *Registry) Get(key string) (*Endpoint, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.endpoints[key]
	return ep, ok
}

// Remove stops and drops the endpoint for key.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	ep, ok := r.endpoints[key]
	if ok {
		delete(r.endpoints, key)
	}
	r.mu.Unlock()
	if ok {
		ep.Stop()
	}
}

// CloseAll stops every registered endpoint concurrently and clears the
// registry, waiting for every read loop to exit before returning.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	endpoints := make([]*Endpoint, 0, len(r.endpoints))
	for k, ep := range r.endpoints {
		endpoints = append(endpoints, ep)
		delete(r.endpoints, k)
	}
	r.mu.Unlock()

	var g errgroup.Group
	for _, ep := range endpoints {
		ep := ep
		g.Go(ep.Stop)
	}
	return g.Wait()
}

// Count returns the number of registered endpoints.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.endpoints)
}
