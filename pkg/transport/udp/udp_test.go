// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package udp

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestBindWriteReadRoundTrip(t *testing.T) {
	server, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	defer server.Close()

	tr := New(server.LocalAddr().String())
	if err := tr.Bind(context.Background()); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	defer tr.Close()

	if err := tr.Write(context.Background(), tr.Peer(), []byte("ping")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	server.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 64)
	n, clientAddr, err := server.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP() error = %v", err)
	}
	if string(buf[:n]) != "ping" {
		t.Errorf("server received %q, want ping", buf[:n])
	}

	if _, err := server.WriteToUDP([]byte("pong"), clientAddr); err != nil {
		t.Fatalf("WriteToUDP() error = %v", err)
	}

	_, data, err := tr.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != "pong" {
		t.Errorf("client received %q, want pong", data)
	}
}

func TestReadBeforeBindErrors(t *testing.T) {
	tr := New("127.0.0.1:0")
	if _, _, err := tr.Read(context.Background()); err == nil {
		t.Error("expected an error reading before Bind")
	}
}

func TestMulticastReceivesFromMultipleSenders(t *testing.T) {
	serverA, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	defer serverA.Close()
	serverB, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	defer serverB.Close()

	tr := NewMulticast(serverA.LocalAddr().String())
	if err := tr.Bind(context.Background()); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	defer tr.Close()

	if err := tr.Write(context.Background(), serverA.LocalAddr().String(), []byte("request")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	serverA.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 64)
	n, clientAddr, err := serverA.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP() error = %v", err)
	}
	if string(buf[:n]) != "request" {
		t.Errorf("serverA received %q, want request", buf[:n])
	}

	// Both group members answer, from their own distinct addresses.
	if _, err := serverA.WriteToUDP([]byte("from-a"), clientAddr); err != nil {
		t.Fatalf("WriteToUDP() error = %v", err)
	}
	if _, err := serverB.WriteToUDP([]byte("from-b"), clientAddr); err != nil {
		t.Fatalf("WriteToUDP() error = %v", err)
	}

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		_, data, err := tr.Read(context.Background())
		if err != nil {
			t.Fatalf("Read() #%d error = %v", i, err)
		}
		got[string(data)] = true
	}
	if !got["from-a"] || !got["from-b"] {
		t.Errorf("received %v, want replies from both senders", got)
	}
}

func TestReadBufferSizeOverride(t *testing.T) {
	server, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	defer server.Close()

	tr := New(server.LocalAddr().String())
	tr.ReadBufferSize = 4
	if err := tr.Bind(context.Background()); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	defer tr.Close()

	server.WriteToUDP([]byte("abcdefgh"), tr.conn.LocalAddr().(*net.UDPAddr))

	_, data, err := tr.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(data) != 4 {
		t.Errorf("read %d bytes, want 4 (truncated by ReadBufferSize)", len(data))
	}
}
