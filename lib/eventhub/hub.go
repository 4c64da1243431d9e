// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package eventhub

import "sync"

// Hub delivers every published value to every current subscriber, in
// publication order.
type Hub[T any] struct {
	mu          sync.Mutex
	subscribers []*Subscription[T]
	closed      bool
}

// NewHub returns a hub with no subscribers.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{}
}

// Publish enqueues value for every subscriber. It never blocks on a
// subscriber. Publishing to a closed hub is a no-op.
func (h *Hub[T]) Publish(value T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, subscription := range h.subscribers {
		subscription.queue.Push(value)
	}
}

// Subscribe registers a new subscriber. It receives values published
// after this call. Subscribing to a closed hub returns a subscription
// whose channel is already closed.
func (h *Hub[T]) Subscribe() *Subscription[T] {
	subscription := &Subscription[T]{
		hub:   h,
		queue: NewQueue[T](),
		out:   make(chan T),
		done:  make(chan struct{}),
	}
	h.mu.Lock()
	if h.closed {
		subscription.queue.Close()
	} else {
		h.subscribers = append(h.subscribers, subscription)
	}
	h.mu.Unlock()

	go subscription.pump()
	return subscription
}

// SubscriberCount returns the number of live subscriptions.
func (h *Hub[T]) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Close ends every subscription. Values published before Close are
// still delivered; each subscription's channel closes after its last
// value. Close is idempotent.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	subscribers := h.subscribers
	h.subscribers = nil
	h.closed = true
	h.mu.Unlock()

	for _, subscription := range subscribers {
		subscription.queue.Close()
	}
}

func (h *Hub[T]) remove(target *Subscription[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for index, subscription := range h.subscribers {
		if subscription == target {
			h.subscribers = append(h.subscribers[:index], h.subscribers[index+1:]...)
			return
		}
	}
}

// Subscription is one consumer of a Hub.
type Subscription[T any] struct {
	hub       *Hub[T]
	queue     *Queue[T]
	out       chan T
	done      chan struct{}
	closeOnce sync.Once
}

// C returns the receive channel. It is closed after the hub closes and
// every pending value has been received, or after Close.
func (s *Subscription[T]) C() <-chan T {
	return s.out
}

// Close unsubscribes. Values not yet received are discarded and C is
// closed. Close is idempotent.
func (s *Subscription[T]) Close() {
	s.closeOnce.Do(func() {
		s.hub.remove(s)
		close(s.done)
		s.queue.Close()
	})
}

// pump moves values from the queue to the receive channel.
func (s *Subscription[T]) pump() {
	defer close(s.out)
	for {
		items, open := s.queue.Drain()
		for _, item := range items {
			select {
			case s.out <- item:
			case <-s.done:
				return
			}
		}
		if !open {
			return
		}
		select {
		case <-s.queue.Notify():
		case <-s.done:
			return
		}
	}
}
