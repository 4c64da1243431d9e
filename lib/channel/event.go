// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/globe-monitor/globe/lib/source"
)

// EventKind discriminates Event.
type EventKind int

const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventSourceUpdated
	EventSourceDeregistered
	EventMessagesRate
	EventError
)

var eventKindNames = map[EventKind]string{
	EventConnected:          "connected",
	EventDisconnected:       "disconnected",
	EventSourceUpdated:      "source_updated",
	EventSourceDeregistered: "source_deregistered",
	EventMessagesRate:       "messages_rate",
	EventError:              "error",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// ErrorKind classifies an EventError.
type ErrorKind int

const (
	// ErrorConnect is a failed connection attempt (refused, timed out,
	// unresolvable host).
	ErrorConnect ErrorKind = iota + 1
	// ErrorTransport is a socket failure on an established
	// connection, other than a clean remote close.
	ErrorTransport
	// ErrorProtocol is a malformed message from the remote end.
	ErrorProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorConnect:
		return "connect"
	case ErrorTransport:
		return "transport"
	case ErrorProtocol:
		return "protocol"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Event is something that happened on a channel. Which fields are set
// depends on Kind:
//
//   - SourceUpdated, SourceDeregistered: Source.
//   - MessagesRate: Rate, the source messages received in the last
//     second.
//   - Error: ErrorKind and Error.
//
// Session identifies the connection attempt the event belongs to; it
// is the zero UUID for events emitted while no attempt is active.
type Event struct {
	Kind      EventKind
	Channel   string
	Session   uuid.UUID
	Time      time.Time
	Source    source.Source
	Rate      int
	ErrorKind ErrorKind
	Error     error
}

func (e Event) String() string {
	switch e.Kind {
	case EventSourceUpdated, EventSourceDeregistered:
		return fmt.Sprintf("%s %s %s", e.Channel, e.Kind, e.Source)
	case EventMessagesRate:
		return fmt.Sprintf("%s %s %d/s", e.Channel, e.Kind, e.Rate)
	case EventError:
		return fmt.Sprintf("%s %s %s: %v", e.Channel, e.Kind, e.ErrorKind, e.Error)
	}
	return e.Channel + " " + e.Kind.String()
}
