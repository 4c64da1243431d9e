// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	// ErrDuplicateFactory is returned when a channel type is registered
	// twice.
	ErrDuplicateFactory = errors.New("channel: factory already registered")

	// ErrUnknownType is returned by Lookup for an unregistered type.
	ErrUnknownType = errors.New("channel: unknown channel type")
)

// Factory builds channels of one type.
type Factory interface {
	// Type is the channel type string, such as "como".
	Type() string
	// NewChannel returns a new channel in the Disconnected state with
	// IsMustBeConnected false.
	NewChannel(config Config) (Channel, error)
}

// Factories maps channel types to factories. Safe for concurrent use.
type Factories struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewFactories returns a table holding the given factories. It panics
// on a duplicate type, which is a programming error at startup.
func NewFactories(factories ...Factory) *Factories {
	table := &Factories{factories: make(map[string]Factory)}
	for _, factory := range factories {
		if err := table.Register(factory); err != nil {
			panic(err)
		}
	}
	return table
}

// Register adds factory under its type.
func (f *Factories) Register(factory Factory) error {
	channelType := factory.Type()
	if channelType == "" {
		return fmt.Errorf("channel: factory %T has an empty type", factory)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.factories[channelType]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateFactory, channelType)
	}
	f.factories[channelType] = factory
	return nil
}

// Lookup returns the factory for channelType.
func (f *Factories) Lookup(channelType string) (Factory, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	factory, exists := f.factories[channelType]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, channelType)
	}
	return factory, nil
}

// Types returns the registered types, sorted.
func (f *Factories) Types() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.factories))
	for channelType := range f.factories {
		types = append(types, channelType)
	}
	slices.Sort(types)
	return types
}
