// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package eventlog

import (
	"time"

	"github.com/google/uuid"

	"github.com/globe-monitor/globe/lib/channel"
	"github.com/globe-monitor/globe/lib/source"
)

// Record is one stored channel event. ID is assigned by Append and is
// zero on records that have not been stored.
type Record struct {
	ID      int64
	Time    time.Time
	Channel string
	Session uuid.UUID
	Kind    channel.EventKind

	// SourceID and Source are set for SourceUpdated and
	// SourceDeregistered. A deregistration that arrived without a
	// value has Source.Type == TypeInvalid.
	SourceID SourceID
	Source   source.Source

	Rate      int
	ErrorKind channel.ErrorKind
	Error     string
}

// RecordOf converts a channel event. channelName overrides the
// event's own Channel field when non-empty.
func RecordOf(channelName string, event channel.Event) Record {
	if channelName == "" {
		channelName = event.Channel
	}
	record := Record{
		Time:    event.Time,
		Channel: channelName,
		Session: event.Session,
		Kind:    event.Kind,
		Rate:    event.Rate,
	}
	switch event.Kind {
	case channel.EventSourceUpdated, channel.EventSourceDeregistered:
		record.Source = event.Source
		record.SourceID = SourceIDOf(channelName, event.Source.Key())
	case channel.EventError:
		record.ErrorKind = event.ErrorKind
		if event.Error != nil {
			record.Error = event.Error.Error()
		}
	}
	return record
}
