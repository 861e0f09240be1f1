package config

import "errors"

var (
	// ErrConfigFileNotFound is returned by Load when an explicit path
	// doesn't exist.
	ErrConfigFileNotFound = errors.New("config: file not found")

	// ErrInvalidPort is returned by Validate for a bind or public port
	// outside 1-65535.
	ErrInvalidPort = errors.New("config: invalid port number")

	// ErrInvalidTimeout is returned by Validate for a negative timeout
	// or a non-positive ping/pong interval.
	ErrInvalidTimeout = errors.New("config: invalid timeout")
)
