// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

// Package channel defines what a telemetry channel is, independent of
// the wire protocol behind it.
//
// A [Channel] owns one connection to one remote endpoint. Callers drive
// it with fire-and-forget commands (ConnectToHost, DisconnectFromHost,
// ReconnectToHost, UpdateTimeout) and observe the results as [Event]s
// on a subscription. Commands never block on the network.
//
// Protocol implementations register a [Factory] in a [Factories] table
// keyed by channel type; the channel registry creates channels through
// that table and never names a concrete implementation.
//
// [Throttle] and [RateCounter] are the batching and rate-measurement
// building blocks implementations share.
package channel
