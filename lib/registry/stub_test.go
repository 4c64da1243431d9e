// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"slices"
	"sync"
	"time"

	"github.com/globe-monitor/globe/lib/channel"
	"github.com/globe-monitor/globe/lib/eventhub"
)

const stubType = "stub"

// stubChannel connects instantly. When stuck, DisconnectFromHost never
// produces a Disconnected event until finishDisconnect is called.
type stubChannel struct {
	name    string
	address string
	port    int
	stuck   bool
	events  *eventhub.Hub[channel.Event]

	mu                 sync.Mutex
	connected          bool
	mustBeConnected    bool
	closed             bool
	disconnectRequests int
}

func (c *stubChannel) Name() string        { return c.name }
func (c *stubChannel) HostAddress() string { return c.address }
func (c *stubChannel) PortNumber() int     { return c.port }
func (c *stubChannel) Type() string        { return stubType }

func (c *stubChannel) State() channel.State {
	if c.IsConnected() {
		return channel.StateConnected
	}
	return channel.StateDisconnected
}

func (c *stubChannel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *stubChannel) IsMustBeConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mustBeConnected
}

func (c *stubChannel) Timeout() time.Duration { return 0 }

func (c *stubChannel) ConnectToHost() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustBeConnected = true
	if !c.connected {
		c.connected = true
		c.events.Publish(channel.Event{Kind: channel.EventConnected, Channel: c.name})
	}
}

func (c *stubChannel) DisconnectFromHost() {
	c.mu.Lock()
	c.mustBeConnected = false
	c.disconnectRequests++
	stuck := c.stuck
	c.mu.Unlock()
	if !stuck {
		c.finishDisconnect()
	}
}

func (c *stubChannel) finishDisconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		c.connected = false
		c.events.Publish(channel.Event{Kind: channel.EventDisconnected, Channel: c.name})
	}
}

func (c *stubChannel) ReconnectToHost()            {}
func (c *stubChannel) UpdateTimeout(time.Duration) {}
func (c *stubChannel) RequestSources()             {}

func (c *stubChannel) Subscribe() *eventhub.Subscription[channel.Event] {
	return c.events.Subscribe()
}

func (c *stubChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.events.Close()
	return nil
}

func (c *stubChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *stubChannel) disconnectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnectRequests
}

type stubFactory struct {
	stuck bool

	mu      sync.Mutex
	created map[string]*stubChannel
}

func newStubFactory(stuck bool) *stubFactory {
	return &stubFactory{stuck: stuck, created: make(map[string]*stubChannel)}
}

func (f *stubFactory) Type() string { return stubType }

func (f *stubFactory) NewChannel(config channel.Config) (channel.Channel, error) {
	created := &stubChannel{
		name:    config.Name,
		address: config.Address,
		port:    config.Port,
		stuck:   f.stuck,
		events:  eventhub.NewHub[channel.Event](),
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created[config.Name] = created
	return created, nil
}

func (f *stubFactory) channel(name string) *stubChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[name]
}

// recordingObserver keeps every observed event per channel.
type recordingObserver struct {
	mu        sync.Mutex
	events    map[string][]channel.Event
	forgotten []string
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{events: make(map[string][]channel.Event)}
}

func (o *recordingObserver) ObserveChannelEvent(channelName string, event channel.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events[channelName] = append(o.events[channelName], event)
}

func (o *recordingObserver) ForgetChannel(channelName string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.forgotten = append(o.forgotten, channelName)
}

func (o *recordingObserver) saw(channelName string, kind channel.EventKind) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.ContainsFunc(o.events[channelName], func(event channel.Event) bool { return event.Kind == kind })
}

func (o *recordingObserver) forgot(channelName string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Contains(o.forgotten, channelName)
}

func (o *recordingObserver) count(channelName string, kind channel.EventKind) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	counted := 0
	for _, event := range o.events[channelName] {
		if event.Kind == kind {
			counted++
		}
	}
	return counted
}

func (o *recordingObserver) forgetCount(channelName string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	counted := 0
	for _, name := range o.forgotten {
		if name == channelName {
			counted++
		}
	}
	return counted
}
