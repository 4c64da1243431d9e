// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

// Package comochannel is the Como protocol implementation of
// channel.Channel.
//
// Each Channel runs one loop goroutine that owns the socket, the
// protocol decoder, the update throttle, the rate counter and the
// channel's view of the remote source list. Dialing and blocking reads
// happen in helper goroutines that hand their results to the loop
// tagged with a connection generation; results from a superseded
// connection are discarded. Commands reach the loop through an
// unbounded FIFO queue, and events leave it through an eventhub.Hub,
// so neither direction can block the other.
//
// State machine:
//
//	Disconnected --ConnectToHost--> Connecting --dial ok--> Connected
//	     ^                              |                      |
//	     +---------- dial failed -------+---- closed/error ----+
//
// On Connected the channel sends GetListOfSources. Whenever it lands in
// Disconnected while IsMustBeConnected is true it starts another
// attempt, immediately or after Config.ReconnectDelay.
package comochannel
