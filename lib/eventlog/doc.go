// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventlog records channel events in a SQLite database.
//
// A [Log] stores one row per event in the channel_events table: the
// channel, the connection session, the event kind, and for source
// events the source identity, type and value. Values are stored twice,
// as a CBOR blob that decodes back to the exact Go representation and
// as display text for ad-hoc SQL.
//
// Rows for the same source share a [SourceID], a BLAKE3 keyed hash of
// the channel name and the source key, so a source's history can be
// found through one index without comparing strings.
//
// A [Sink] adapts a Log to the channel registry's observer interface.
// Events are queued without blocking the relay and written in batches
// by [Sink.Run]. MessagesRate events are not recorded; metrics carry
// them.
package eventlog
