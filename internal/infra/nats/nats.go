package natsclient

import (
	"errors"
	"fmt"
	"time"

	"github.com/adaptivelab/bitly-historics/config"
	"github.com/nats-io/nats.go"
)

const defaultConnectTimeout = 5 * time.Second

// Enabled reports whether a NATS host has been configured.
func Enabled(cfg config.NATSConfig) bool {
	return cfg.Host != ""
}

// Connect creates a NATS connection (with JetStream available) using application config.
func Connect(cfg config.NATSConfig, name string) (*nats.Conn, nats.JetStreamContext, error) {
	if name == "" {
		name = "bitly-historics"
	}
	opts := []nats.Option{
		nats.Timeout(defaultConnectTimeout),
		nats.Name(name),
	}

	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(URL(cfg), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("nats: connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("nats: init jetstream: %w", err)
	}

	return conn, js, nil
}

// EnsureStream creates the stream unless it already exists.
func EnsureStream(js nats.JetStreamContext, cfg *nats.StreamConfig) error {
	_, err := js.StreamInfo(cfg.Name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("nats: stream info %s: %w", cfg.Name, err)
	}

	if _, err := js.AddStream(cfg); err != nil {
		return fmt.Errorf("nats: add stream %s: %w", cfg.Name, err)
	}
	return nil
}

// URL returns the server URL with local defaults.
func URL(cfg config.NATSConfig) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 4222
	}
	return fmt.Sprintf("nats://%s:%d", host, port)
}
