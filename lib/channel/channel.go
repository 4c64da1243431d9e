// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"log/slog"
	"time"

	"github.com/globe-monitor/globe/lib/clock"
	"github.com/globe-monitor/globe/lib/eventhub"
)

// State is the connection state of a channel.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

// Channel is one named connection to one remote endpoint.
//
// Every method is safe to call from any goroutine. The command methods
// return immediately; their effect is observable through events and
// the state queries.
type Channel interface {
	Name() string
	HostAddress() string
	PortNumber() int
	// Type is the factory type that created the channel ("como").
	Type() string

	State() State
	IsConnected() bool
	// IsMustBeConnected reports the caller's intent. While true, the
	// channel reconnects after every disconnect.
	IsMustBeConnected() bool
	// Timeout is the update throttle interval. Zero means every
	// update is delivered as it arrives.
	Timeout() time.Duration

	// ConnectToHost sets the intent to connected and starts a
	// connection attempt unless one is in progress or established.
	ConnectToHost()
	// DisconnectFromHost clears the intent and tears the connection
	// down, abandoning an in-progress attempt.
	DisconnectFromHost()
	// ReconnectToHost drops the connection without changing the
	// intent, so a channel that must be connected comes straight back.
	ReconnectToHost()
	// UpdateTimeout changes the throttle interval. Switching to zero
	// delivers pending updates immediately.
	UpdateTimeout(d time.Duration)
	// RequestSources asks the remote end to announce its sources
	// again. A no-op while not connected.
	RequestSources()

	// Subscribe returns a subscription receiving every event emitted
	// after the call, in emission order.
	Subscribe() *eventhub.Subscription[Event]

	// Close stops the channel. A connected channel emits Disconnected
	// first. Every subscription is closed after its last event.
	Close() error
}

// Config carries what a factory needs to build a channel.
type Config struct {
	Name    string
	Address string
	Port    int

	// UpdateTimeout is the initial throttle interval.
	UpdateTimeout time.Duration

	// DialTimeout bounds a single connection attempt. Zero means the
	// implementation default.
	DialTimeout time.Duration

	// ReconnectDelay is how long a channel that must be connected waits
	// before the next attempt. Zero retries immediately.
	ReconnectDelay time.Duration

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to discarding output.
	Logger *slog.Logger
}
