// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry holds the process-wide tables of channels and of
// the sources they have announced.
//
// [ChannelRegistry] is the authority for channel existence. It enforces
// unique names and unique (address, port) endpoints, creates channels
// through a channel.Factories table, and tears them down with a
// graceful drain: a connected channel is asked to disconnect and its
// Disconnected event is observed before the channel is closed.
//
// For every channel the registry runs one relay goroutine. The relay
// consumes the channel's events in order and applies each one first to
// the [SourceRegistry] and then to every [Observer] (event log,
// metrics). Per-channel ordering therefore holds end to end; there is
// no ordering across channels.
//
// Both registries are ordinary values constructed by the caller and
// passed to whatever needs them.
package registry
