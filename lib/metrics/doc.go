// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics exports per-channel Prometheus metrics.
//
// An [Exporter] is a channel registry observer. It keeps, per channel:
//
//   - globe_channel_connected: 1 while connected, 0 otherwise.
//   - globe_channel_messages_rate: the last MessagesRate sample.
//   - globe_channel_events_total{kind}: events by kind.
//   - globe_channel_errors_total{kind}: Error events by error kind.
//
// Series of a removed channel are deleted when the registry forgets
// it. The exporter owns its own prometheus.Registry, so several can
// coexist in one process and in tests.
package metrics
