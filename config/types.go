// Package config loads and validates the bus's runtime configuration:
// bind/public addressing, reply-timeout and ping/pong tunables, and the
// metrics listener address. YAML-first and env-overridable, with
// fsnotify hot-reload for the tunables safe to change live, narrowed to
// the single flat BusConfig this system needs.
package config

import "time"

// BusConfig holds every tunable the bus reads at startup, plus the two
// (DefaultReplyTimeout, PingInterval) that a Watcher may hot-reload.
type BusConfig struct {
	// BindHost and BindPort are where the inbound TCP server listens.
	BindHost string `yaml:"bind_host"`
	BindPort int    `yaml:"bind_port"`

	// PublicHost and PublicPort override the NodeID advertised to
	// peers, for the case where BindHost/BindPort aren't reachable from
	// outside (NAT, container port mapping). Empty/zero means "use the
	// actual bind address".
	PublicHost string `yaml:"public_host"`
	PublicPort int    `yaml:"public_port"`

	// DefaultReplyTimeout is used by Send when the caller doesn't
	// specify one. Zero means "no timeout" — the reply handler stays
	// registered until it fires or the bus closes.
	DefaultReplyTimeout time.Duration `yaml:"default_reply_timeout"`

	// PingInterval and PongTimeout govern outbound connection liveness
	// checking (transport.Pool).
	PingInterval time.Duration `yaml:"ping_interval"`
	PongTimeout  time.Duration `yaml:"pong_timeout"`

	// MetricsAddr is where the Prometheus HTTP handler listens. Empty
	// disables the metrics server.
	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultBusConfig returns the configuration used when no file or
// environment overrides are present.
func DefaultBusConfig() *BusConfig {
	return &BusConfig{
		BindHost:            "0.0.0.0",
		BindPort:            7700,
		DefaultReplyTimeout: 30 * time.Second,
		PingInterval:        20 * time.Second,
		PongTimeout:         20 * time.Second,
		MetricsAddr:         ":9700",
	}
}

// Clone returns a deep copy, safe to mutate without affecting c.
func (c *BusConfig) Clone() *BusConfig {
	cp := *c
	return &cp
}

// Validate checks the invariants the rest of the bus relies on.
func (c *BusConfig) Validate() error {
	if c.BindPort <= 0 || c.BindPort > 65535 {
		return ErrInvalidPort
	}
	if c.PublicPort != 0 && (c.PublicPort < 0 || c.PublicPort > 65535) {
		return ErrInvalidPort
	}
	if c.DefaultReplyTimeout < 0 {
		return ErrInvalidTimeout
	}
	if c.PingInterval <= 0 {
		return ErrInvalidTimeout
	}
	if c.PongTimeout <= 0 {
		return ErrInvalidTimeout
	}
	return nil
}
