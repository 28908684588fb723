// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package config loads the CoAP client engine's tunables from the
// environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every tunable protocol default: retransmission timing,
// block size, observe cadence, and exchange bookkeeping. All fields
// are overridable via environment variables using the given prefix
// (empty by default).
type Config struct {
	DefaultPort       int `env:"DEFAULT_PORT"        envDefault:"5683"`
	DefaultSecurePort int `env:"DEFAULT_SECURE_PORT"  envDefault:"5684"`

	AckTimeout      time.Duration `env:"ACK_TIMEOUT"       envDefault:"2s"`
	AckRandomFactor float64       `env:"ACK_RANDOM_FACTOR" envDefault:"1.5"`
	AckTimeoutScale float64       `env:"ACK_TIMEOUT_SCALE" envDefault:"2.0"`
	MaxRetransmit   int           `env:"MAX_RETRANSMIT"    envDefault:"4"`

	MaxMessageSize   int `env:"MAX_MESSAGE_SIZE"   envDefault:"1024"`
	DefaultBlockSize int `env:"DEFAULT_BLOCK_SIZE" envDefault:"1024"`

	BlockwiseStatusLifetime time.Duration `env:"BLOCKWISE_STATUS_LIFETIME" envDefault:"10m"`

	UseRandomIDStart    bool `env:"USE_RANDOM_ID_START"    envDefault:"true"`
	UseRandomTokenStart bool `env:"USE_RANDOM_TOKEN_START" envDefault:"true"`

	NotificationMaxAge                 time.Duration `env:"NOTIFICATION_MAX_AGE"                   envDefault:"128s"`
	NotificationCheckIntervalTime      time.Duration `env:"NOTIFICATION_CHECK_INTERVAL_TIME"        envDefault:"24h"`
	NotificationCheckIntervalCount     int           `env:"NOTIFICATION_CHECK_INTERVAL_COUNT"       envDefault:"100"`
	NotificationReregistrationBackoff time.Duration `env:"NOTIFICATION_REREGISTRATION_BACKOFF"     envDefault:"2s"`

	ExchangeLifetime     time.Duration `env:"EXCHANGE_LIFETIME"       envDefault:"247s"`
	MarkAndSweepInterval time.Duration `env:"MARK_AND_SWEEP_INTERVAL" envDefault:"10s"`

	ChannelReceivePacketSize int `env:"CHANNEL_RECEIVE_PACKET_SIZE" envDefault:"2048"`
}

// Load reads configuration from the process environment, optionally scoped
// under prefix, after attempting to load a .env file; a missing .env is
// not an error.
func Load(prefix string) (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	opts := env.Options{Prefix: prefix}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration with only the built-in defaults applied,
// ignoring the environment. Useful for tests and library callers that want
// sane defaults without requiring a process environment.
func Default() Config {
	cfg, _ := Load("COAP_NONEXISTENT_PREFIX_")
	return cfg
}
