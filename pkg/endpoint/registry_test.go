// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package endpoint

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/edgecoap/coap/pkg/message"
)

func TestKeyIncludesCredentialSuffix(t *testing.T) {
	plain := Key("coap", "example.org", 5683, "")
	if plain != "coap://example.org:5683" {
		t.Errorf("Key() = %q", plain)
	}
	withCred := Key("coaps", "example.org", 5684, "identity1")
	if withCred != "coaps://example.org:5684#identity1" {
		t.Errorf("Key() = %q", withCred)
	}
}

func TestIsLiteralIP(t *testing.T) {
	if !IsLiteralIP("127.0.0.1") {
		t.Error("expected 127.0.0.1 to be a literal IP")
	}
	if IsLiteralIP("example.org") {
		t.Error("did not expect example.org to be a literal IP")
	}
}

func newTestEndpoint(key string) *Endpoint {
	tr := newFakeTransport(key)
	return New(key, message.Scheme{Transport: "udp"}, tr, func(string, *message.Message) {}, nil)
}

func TestGetOrCreateBuildsOnce(t *testing.T) {
	r := NewRegistry(nil)
	var builds int
	var mu sync.Mutex

	build := func() (*Endpoint, error) {
		mu.Lock()
		builds++
		mu.Unlock()
		return newTestEndpoint("coap://example.org"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.GetOrCreate(context.Background(), "coap://example.org", build)
		}()
	}
	wg.Wait()

	if builds != 1 {
		t.Errorf("builds = %d, want 1", builds)
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
}

func TestGetOrCreatePropagatesBuildError(t *testing.T) {
	r := NewRegistry(nil)
	wantErr := errors.New("dial failed")
	_, err := r.GetOrCreate(context.Background(), "coap://bad", func() (*Endpoint, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestRemoveStopsEndpoint(t *testing.T) {
	r := NewRegistry(nil)
	r.GetOrCreate(context.Background(), "coap://example.org", func() (*Endpoint, error) {
		return newTestEndpoint("coap://example.org"), nil
	})
	r.Remove("coap://example.org")
	if _, ok := r.Get("coap://example.org"); ok {
		t.Error("expected the endpoint to be gone after Remove")
	}
}

func TestCloseAllClearsRegistry(t *testing.T) {
	r := NewRegistry(nil)
	for _, key := range []string{"a", "b", "c"} {
		key := key
		r.GetOrCreate(context.Background(), key, func() (*Endpoint, error) {
			return newTestEndpoint(key), nil
		})
	}
	r.CloseAll()
	if r.Count() != 0 {
		t.Errorf("Count() after CloseAll = %d, want 0", r.Count())
	}
}
