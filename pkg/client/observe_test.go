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

// observeServer registers one relation and pushes a second
// notification shortly after the registration response.
func observeServer(t *testing.T) (addr string, stop func()) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 2048)
		var seq uint32
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
			obs, ok := req.Options.ObserveValue()
			if !ok || obs != 0 {
				continue
			}

			resp := message.New(message.ACK, message.Content, req.ID, req.Token)
			resp.Options.Add(message.NewUintOption(message.Observe, seq))
			resp.Payload = []byte("20.0")
			data, _ := udp.Encode(resp)
			conn.WriteToUDP(data, raddr)

			go func(token []byte, raddr *net.UDPAddr) {
				time.Sleep(30 * time.Millisecond)
				seq++
				notif := message.New(message.NON, message.Content, 0, token)
				notif.Options.Add(message.NewUintOption(message.Observe, seq))
				notif.Payload = []byte("21.5")
				data, _ := udp.Encode(notif)
				conn.WriteToUDP(data, raddr)
			}(append([]byte(nil), req.Token...), raddr)
		}
	}()

	return conn.LocalAddr().String(), func() {
		close(done)
		conn.Close()
	}
}

func TestClientObserveDeliversNotifications(t *testing.T) {
	addr, stop := observeServer(t)
	defer stop()

	c := New(Config{Engine: config.Default()})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rel, err := c.Observe(ctx, "coap://"+addr+"/temp")
	if err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	defer rel.Cancel(context.Background())

	select {
	case m := <-rel.Notifications():
		if string(m.Payload) != "20.0" {
			t.Errorf("registration notification payload = %q, want 20.0", m.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("expected the registration response as the first notification")
	}

	select {
	case m := <-rel.Notifications():
		if string(m.Payload) != "21.5" {
			t.Errorf("notification payload = %q, want 21.5", m.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a follow-up notification")
	}
}
