// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package eventhub

import "sync"

// Queue is an unbounded, lossless FIFO queue safe for concurrent use.
// The zero value is not usable; call NewQueue.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	// notify has capacity 1. Push and Close leave a token in it so a
	// consumer parked on Notify wakes up.
	notify chan struct{}
}

// NewQueue returns an empty, open queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{notify: make(chan struct{}, 1)}
}

// Push appends value. It returns false, discarding value, if the queue
// has been closed.
func (q *Queue[T]) Push(value T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, value)
	q.mu.Unlock()
	q.signal()
	return true
}

// Notify returns a channel that becomes ready after Push or Close.
// Readiness is a hint: always call Drain after waking.
func (q *Queue[T]) Notify() <-chan struct{} {
	return q.notify
}

// Drain removes and returns every queued value in FIFO order. open is
// false once the queue has been closed; values pushed before Close are
// still returned.
func (q *Queue[T]) Drain() (items []T, open bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items = q.items
	q.items = nil
	return items, !q.closed
}

// Len returns the number of queued values.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the queue from accepting values. Values already queued
// remain available to Drain. Close is idempotent.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *Queue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
