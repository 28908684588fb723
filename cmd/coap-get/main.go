// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Command coap-get issues a single GET against a CoAP URI and prints
// the response code and payload.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/edgecoap/coap/pkg/config"
	"github.com/edgecoap/coap/pkg/message"
	"github.com/edgecoap/coap/pkg/client"
)

func main() {
	timeout := flag.Duration("timeout", 10*time.Second, "overall request timeout")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: coap-get [-timeout dur] coap://host[:port]/path")
		os.Exit(2)
	}
	uri := flag.Arg(0)

	logHandler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(logHandler)

	engine, err := config.Load("COAP_")
	if err != nil {
		logger.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	c := client.New(client.Config{Engine: engine, Logger: logger})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp, err := c.Get(ctx, uri)
	if err != nil {
		logger.Error("request failed", slog.String("uri", uri), slog.String("error", err.Error()))
		os.Exit(1)
	}

	fmt.Printf("%s\n%s\n", message.CodeString(resp.Code), resp.Payload)
}
