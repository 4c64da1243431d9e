// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Globe packages.
//
// [RequireReceive], [RequireNoReceive], and [RequireClosed] wrap the
// select-with-timeout pattern so tests never block forever on an event
// channel. They are the only place tests use wall-clock timeouts;
// timer-driven behaviour under test runs on lib/clock's FakeClock.
//
// [ReceiveUntil] skips events a test does not care about (rate ticks,
// for instance) until one matches.
//
// All helpers call t.Fatalf on failure.
package testutil
