// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventhub moves values between goroutines without blocking the
// producer and without dropping or reordering anything.
//
// [Queue] is an unbounded FIFO with a level-triggered notification
// channel, suitable for a select loop that owns some state and accepts
// commands from arbitrary goroutines. [Hub] fans published values out
// to any number of [Subscription]s, each with its own Queue and a pump
// goroutine that feeds a plain receive channel.
//
// A slow subscriber grows its own queue; it never stalls the publisher
// or other subscribers. Channel transports rely on this: the loop
// goroutine that owns a socket must keep reading even while a consumer
// is busy, and every event must arrive in emission order.
package eventhub
