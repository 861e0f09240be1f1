// Package logging provides the bus's shared structured-logging setup.
// Every package in this module gets its logger from New, so every log
// line carries a "component" field identifying its origin.
package logging

import "github.com/sirupsen/logrus"

// base is shared by every component logger so a single SetLevel call
// (e.g. from cmd/eventbusd) affects the whole bus.
var base = logrus.StandardLogger()

// New returns a logger tagged with component.
func New(component string) *logrus.Entry {
	return base.WithField("component", component)
}

// SetLevel adjusts the verbosity of every component logger at once.
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}
