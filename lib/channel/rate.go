// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package channel

// RateCounter counts wire messages between samples. Like Throttle it
// belongs to a single goroutine.
type RateCounter struct {
	count int
}

// Observe records one message.
func (r *RateCounter) Observe() {
	r.count++
}

// Sample returns the count since the previous Sample and resets it.
func (r *RateCounter) Sample() int {
	count := r.count
	r.count = 0
	return count
}
