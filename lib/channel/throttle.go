// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import "github.com/globe-monitor/globe/lib/source"

// Throttle coalesces source updates between flushes. At most one value
// is pending per source key; a later Add replaces it in place, keeping
// the position of the first Add in the interval.
//
// A Throttle is owned by one goroutine and is not safe for concurrent
// use.
type Throttle struct {
	pending []source.Source
	index   map[source.Key]int
}

// NewThrottle returns an empty throttle.
func NewThrottle() *Throttle {
	return &Throttle{index: make(map[source.Key]int)}
}

// Add stores s as the pending value for its key. It reports whether
// s replaced an earlier pending value.
func (t *Throttle) Add(s source.Source) bool {
	key := s.Key()
	if position, exists := t.index[key]; exists {
		t.pending[position] = s
		return true
	}
	t.index[key] = len(t.pending)
	t.pending = append(t.pending, s)
	return false
}

// Take removes and returns the pending value for key, if any.
func (t *Throttle) Take(key source.Key) (source.Source, bool) {
	position, exists := t.index[key]
	if !exists {
		return source.Source{}, false
	}
	taken := t.pending[position]
	t.pending = append(t.pending[:position], t.pending[position+1:]...)
	delete(t.index, key)
	for index := position; index < len(t.pending); index++ {
		t.index[t.pending[index].Key()] = index
	}
	return taken, true
}

// Flush returns every pending value in first-arrival order and empties
// the throttle. It returns nil when nothing is pending.
func (t *Throttle) Flush() []source.Source {
	if len(t.pending) == 0 {
		return nil
	}
	flushed := t.pending
	t.pending = nil
	clear(t.index)
	return flushed
}

// Len returns the number of pending values.
func (t *Throttle) Len() int {
	return len(t.pending)
}
