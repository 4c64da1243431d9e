// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/globe-monitor/globe/lib/channel"
	"github.com/globe-monitor/globe/lib/clock"
	"github.com/globe-monitor/globe/lib/eventhub"
	"github.com/globe-monitor/globe/lib/logging"
)

var (
	// ErrNameConflict is returned by CreateChannel when the name is
	// taken by a channel with a different endpoint.
	ErrNameConflict = errors.New("registry: channel name already used with a different endpoint")

	// ErrEndpointConflict is returned by CreateChannel when another
	// channel already uses the address and port.
	ErrEndpointConflict = errors.New("registry: address and port already used by another channel")

	// ErrUnknownChannelType is returned by CreateChannel when no
	// factory serves the requested type.
	ErrUnknownChannelType = errors.New("registry: unknown channel type")

	// ErrClosed is returned by CreateChannel after Shutdown.
	ErrClosed = errors.New("registry: shut down")
)

// Observer receives every channel event after the source registry has
// applied it. Calls for one channel are sequential and in emission
// order; calls for different channels may be concurrent.
type Observer interface {
	ObserveChannelEvent(channelName string, event channel.Event)
	// ForgetChannel is called when the state kept under channelName
	// is dropped: once a removed channel has been torn down, or when a
	// new channel takes the name of one still draining. Events from the
	// old channel are not delivered after that.
	ForgetChannel(channelName string)
}

// EventKind discriminates registry events.
type EventKind int

const (
	ChannelCreated EventKind = iota + 1
	ChannelRemoved
)

func (k EventKind) String() string {
	switch k {
	case ChannelCreated:
		return "channel_created"
	case ChannelRemoved:
		return "channel_removed"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event reports a change in the channel table.
type Event struct {
	Kind    EventKind
	Channel channel.Channel
}

// Config configures a ChannelRegistry.
type Config struct {
	// Factories is required.
	Factories *channel.Factories

	// Sources receives every channel's events. Defaults to a new
	// SourceRegistry.
	Sources *SourceRegistry

	Observers []Observer

	// DrainTimeout bounds how long a removed, connected channel may
	// take to report Disconnected before it is closed anyway. Zero
	// waits indefinitely.
	DrainTimeout time.Duration

	// DialTimeout and ReconnectDelay are passed to every channel.
	DialTimeout    time.Duration
	ReconnectDelay time.Duration

	// Clock is passed to every channel and times drains. Defaults to
	// clock.Real().
	Clock clock.Clock

	Logger *slog.Logger
}

// ChannelRegistry is the table of named channels.
type ChannelRegistry struct {
	factories      *channel.Factories
	sources        *SourceRegistry
	observers      []Observer
	drainTimeout   time.Duration
	dialTimeout    time.Duration
	reconnectDelay time.Duration
	clock          clock.Clock
	logger         *slog.Logger

	mu      sync.Mutex
	entries map[string]*channelEntry
	order   []*channelEntry
	closed  bool

	events     *eventhub.Hub[Event]
	destroying sync.WaitGroup

	// owners maps a name to the entry whose events reach the source
	// registry and observers under that name. A removed entry keeps
	// the name while it drains, until a new channel claims it.
	ownersMu sync.Mutex
	owners   map[string]*channelEntry
}

// channelEntry tracks one channel and its relay. connected mirrors the
// relayed Connected and Disconnected events.
type channelEntry struct {
	name         string
	channel      channel.Channel
	subscription *eventhub.Subscription[channel.Event]
	relayDone    chan struct{}

	mu        sync.Mutex
	connected bool
	removing  bool
	drained   chan struct{}
	drainOnce sync.Once
}

// New returns an empty registry.
func New(config Config) (*ChannelRegistry, error) {
	if config.Factories == nil {
		return nil, errors.New("registry: Factories is required")
	}
	if config.DrainTimeout < 0 {
		return nil, fmt.Errorf("registry: negative drain timeout %v", config.DrainTimeout)
	}
	if config.Sources == nil {
		config.Sources = NewSourceRegistry()
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	return &ChannelRegistry{
		factories:      config.Factories,
		sources:        config.Sources,
		observers:      slices.Clone(config.Observers),
		drainTimeout:   config.DrainTimeout,
		dialTimeout:    config.DialTimeout,
		reconnectDelay: config.ReconnectDelay,
		clock:          config.Clock,
		logger:         logging.OrDiscard(config.Logger),
		entries:        make(map[string]*channelEntry),
		owners:         make(map[string]*channelEntry),
		events:         eventhub.NewHub[Event](),
	}, nil
}

// Sources returns the source registry the relays write to.
func (r *ChannelRegistry) Sources() *SourceRegistry {
	return r.sources
}

// CreateChannel returns the channel called name, creating it if needed.
// An existing channel is returned only if its endpoint matches. A new
// channel starts Disconnected; call ConnectToHost to start it.
func (r *ChannelRegistry) CreateChannel(name, address string, port int, channelType string) (channel.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if existing, exists := r.entries[name]; exists {
		if existing.channel.HostAddress() == address && existing.channel.PortNumber() == port {
			return existing.channel, nil
		}
		return nil, fmt.Errorf("%w: %q is %s:%d", ErrNameConflict, name,
			existing.channel.HostAddress(), existing.channel.PortNumber())
	}
	if other := r.byEndpointLocked(address, port); other != nil {
		return nil, fmt.Errorf("%w: %s:%d belongs to %q", ErrEndpointConflict, address, port, other.name)
	}
	factory, err := r.factories.Lookup(channelType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnknownChannelType, err)
	}
	created, err := factory.NewChannel(channel.Config{
		Name:           name,
		Address:        address,
		Port:           port,
		DialTimeout:    r.dialTimeout,
		ReconnectDelay: r.reconnectDelay,
		Clock:          r.clock,
		Logger:         r.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("registry: create channel %q: %w", name, err)
	}

	entry := &channelEntry{
		name:         name,
		channel:      created,
		subscription: created.Subscribe(),
		relayDone:    make(chan struct{}),
		drained:      make(chan struct{}),
	}
	r.entries[name] = entry
	r.order = append(r.order, entry)
	r.claim(entry)
	go r.relay(entry)

	r.logger.Info("channel created", "channel", name, "address", address, "port", port, "type", channelType)
	r.events.Publish(Event{Kind: ChannelCreated, Channel: created})
	return created, nil
}

// RemoveChannel unregisters name and tears the channel down in the
// background. Removing an unknown name is a no-op.
func (r *ChannelRegistry) RemoveChannel(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, exists := r.entries[name]
	if !exists {
		return
	}
	delete(r.entries, name)
	r.order = slices.DeleteFunc(r.order, func(candidate *channelEntry) bool { return candidate == entry })
	r.destroying.Add(1)
	r.events.Publish(Event{Kind: ChannelRemoved, Channel: entry.channel})
	go r.destroy(entry)
}

// ChannelByName returns the channel called name.
func (r *ChannelRegistry) ChannelByName(name string) (channel.Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, exists := r.entries[name]
	if !exists {
		return nil, false
	}
	return entry.channel, true
}

// IsNameUnique reports whether no channel is called name.
func (r *ChannelRegistry) IsNameUnique(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.entries[name]
	return !exists
}

// IsAddressAndPortUnique reports whether no channel uses the endpoint.
func (r *ChannelRegistry) IsAddressAndPortUnique(address string, port int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byEndpointLocked(address, port) == nil
}

// Channels returns the registered channels in creation order.
func (r *ChannelRegistry) Channels() []channel.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	channels := make([]channel.Channel, len(r.order))
	for index, entry := range r.order {
		channels[index] = entry.channel
	}
	return channels
}

// Subscribe returns a subscription to ChannelCreated and ChannelRemoved
// events.
func (r *ChannelRegistry) Subscribe() *eventhub.Subscription[Event] {
	return r.events.Subscribe()
}

// Shutdown removes every channel and waits for all of them to be torn
// down, or for ctx to end. Registry subscriptions are closed either
// way. Later CreateChannel calls fail with ErrClosed.
func (r *ChannelRegistry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	names := make([]string, len(r.order))
	for index, entry := range r.order {
		names[index] = entry.name
	}
	r.mu.Unlock()

	for _, name := range names {
		r.RemoveChannel(name)
	}

	done := make(chan struct{})
	go func() {
		r.destroying.Wait()
		close(done)
	}()
	defer r.events.Close()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("registry: shutdown: %w", ctx.Err())
	}
}

func (r *ChannelRegistry) byEndpointLocked(address string, port int) *channelEntry {
	for _, entry := range r.order {
		if entry.channel.HostAddress() == address && entry.channel.PortNumber() == port {
			return entry
		}
	}
	return nil
}

// relay applies one channel's events in order until the channel closes.
func (r *ChannelRegistry) relay(entry *channelEntry) {
	defer close(entry.relayDone)
	defer entry.markDrained()
	for event := range entry.subscription.C() {
		drained := entry.track(event)
		r.ownersMu.Lock()
		if r.owners[entry.name] == entry {
			r.sources.Apply(entry.name, event)
			for _, observer := range r.observers {
				observer.ObserveChannelEvent(entry.name, event)
			}
		}
		r.ownersMu.Unlock()
		if drained {
			entry.markDrained()
		}
	}
}

// destroy drains and closes a removed channel.
func (r *ChannelRegistry) destroy(entry *channelEntry) {
	defer r.destroying.Done()
	logger := r.logger.With("channel", entry.name)

	entry.mu.Lock()
	entry.removing = true
	connected := entry.connected
	entry.mu.Unlock()

	if connected {
		entry.channel.DisconnectFromHost()
		var deadline <-chan time.Time
		if r.drainTimeout > 0 {
			deadline = r.clock.After(r.drainTimeout)
		}
		select {
		case <-entry.drained:
		case <-deadline:
			logger.Warn("channel did not disconnect in time, closing it", "drain_timeout", r.drainTimeout)
		}
	} else {
		// Stop a pending attempt so Close does not race a new
		// connection.
		entry.channel.DisconnectFromHost()
	}

	entry.channel.Close()
	<-entry.relayDone

	r.ownersMu.Lock()
	if r.owners[entry.name] == entry {
		delete(r.owners, entry.name)
		r.forgetLocked(entry.name)
	}
	r.ownersMu.Unlock()
	logger.Info("channel removed")
}

// claim makes entry the owner of its name. State left behind by a
// previous channel of that name that is still draining is dropped
// first, and that channel's remaining events are discarded.
func (r *ChannelRegistry) claim(entry *channelEntry) {
	r.ownersMu.Lock()
	defer r.ownersMu.Unlock()
	if previous, exists := r.owners[entry.name]; exists && previous != entry {
		r.logger.Debug("name taken over from a draining channel", "channel", entry.name)
		r.forgetLocked(entry.name)
	}
	r.owners[entry.name] = entry
}

func (r *ChannelRegistry) forgetLocked(name string) {
	r.sources.RemoveChannel(name)
	for _, observer := range r.observers {
		observer.ForgetChannel(name)
	}
}

// track records the connection state carried by event and reports
// whether a removal in progress may now finish.
func (e *channelEntry) track(event channel.Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch event.Kind {
	case channel.EventConnected:
		e.connected = true
	case channel.EventDisconnected:
		e.connected = false
	}
	return e.removing && !e.connected
}

func (e *channelEntry) markDrained() {
	e.drainOnce.Do(func() { close(e.drained) })
}
