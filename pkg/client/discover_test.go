// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/edgecoap/coap/pkg/codec/udp"
	"github.com/edgecoap/coap/pkg/config"
	"github.com/edgecoap/coap/pkg/message"
)

func discoverServer(t *testing.T) (addr string, stop func()) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 2048)
		for {
			conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
			n, raddr, err := conn.ReadFromUDP(buf)
			select {
			case <-done:
				return
			default:
			}
			if err != nil {
				continue
			}
			req := udp.Decode(buf[:n])
			if req.Options.Path() != "/.well-known/core" {
				continue
			}
			resp := message.New(message.ACK, message.Content, req.ID, req.Token)
			resp.Payload = []byte(`</sensors/temp>;rt="temperature-c"`)
			data, _ := udp.Encode(resp)
			conn.WriteToUDP(data, raddr)
		}
	}()

	return conn.LocalAddr().String(), func() {
		close(done)
		conn.Close()
	}
}

func TestClientDiscover(t *testing.T) {
	addr, stop := discoverServer(t)
	defer stop()

	c := New(Config{Engine: config.Default()})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload, err := c.Discover(ctx, "coap://"+addr)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if string(payload) != `</sensors/temp>;rt="temperature-c"` {
		t.Errorf("payload = %q", payload)
	}
}
