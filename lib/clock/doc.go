// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the time source used by channel loops.
//
// Every timer a channel runs (the update throttle, the one-second rate
// counter, the optional reconnect delay) is created through a [Clock]
// so that tests can drive them deterministically. Production code uses
// [Real]; tests use [Fake] and move time with [FakeClock.Advance]:
//
//	fakeClock := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	transport := comochannel.New(comochannel.Config{Clock: fakeClock, ...})
//	fakeClock.WaitForTimers(2)       // rate ticker + throttle ticker
//	fakeClock.Advance(time.Second)   // both fire
//
// WaitForTimers closes the race between a goroutine registering a timer
// and the test advancing past it.
package clock
