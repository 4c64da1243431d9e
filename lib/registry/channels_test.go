// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/globe-monitor/globe/lib/channel"
	"github.com/globe-monitor/globe/lib/clock"
	"github.com/globe-monitor/globe/lib/como"
	"github.com/globe-monitor/globe/lib/comochannel"
	"github.com/globe-monitor/globe/lib/source"
	"github.com/globe-monitor/globe/lib/testutil"
)

const waitTimeout = 5 * time.Second

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T, configure func(*Config)) *ChannelRegistry {
	t.Helper()
	config := Config{
		Factories: channel.NewFactories(newStubFactory(false)),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if configure != nil {
		configure(&config)
	}
	registry, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		registry.Shutdown(ctx)
	})
	return registry
}

func startComoServer(t *testing.T) *como.Server {
	t.Helper()
	server, err := como.Listen("127.0.0.1:0", como.ServerConfig{Clock: clock.Fake(testEpoch)})
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-served
	})
	return server
}

func comoFactories() *channel.Factories {
	return channel.NewFactories(comochannel.Factory{})
}

func TestNewRequiresFactories(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New without factories succeeded")
	}
	if _, err := New(Config{Factories: channel.NewFactories(), DrainTimeout: -time.Second}); err == nil {
		t.Fatal("New with a negative drain timeout succeeded")
	}
}

func TestCreateChannelIsIdempotentForSameEndpoint(t *testing.T) {
	registry := newTestRegistry(t, nil)

	first, err := registry.CreateChannel("A", "127.0.0.1", 4545, stubType)
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	again, err := registry.CreateChannel("A", "127.0.0.1", 4545, stubType)
	if err != nil {
		t.Fatalf("CreateChannel again: %v", err)
	}
	if again != first {
		t.Fatal("second CreateChannel returned a different channel")
	}
	if got := len(registry.Channels()); got != 1 {
		t.Fatalf("Channels() has %d entries, want 1", got)
	}
}

func TestCreateChannelConflicts(t *testing.T) {
	registry := newTestRegistry(t, nil)
	if _, err := registry.CreateChannel("A", "127.0.0.1", 4545, stubType); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}

	if _, err := registry.CreateChannel("A", "127.0.0.1", 4546, stubType); !errors.Is(err, ErrNameConflict) {
		t.Errorf("same name, other port: err = %v, want ErrNameConflict", err)
	}
	if _, err := registry.CreateChannel("B", "127.0.0.1", 4545, stubType); !errors.Is(err, ErrEndpointConflict) {
		t.Errorf("other name, same endpoint: err = %v, want ErrEndpointConflict", err)
	}
	_, err := registry.CreateChannel("C", "127.0.0.1", 4547, "serial")
	if !errors.Is(err, ErrUnknownChannelType) {
		t.Errorf("unknown type: err = %v, want ErrUnknownChannelType", err)
	}
	if !errors.Is(err, channel.ErrUnknownType) {
		t.Errorf("unknown type: err = %v does not wrap channel.ErrUnknownType", err)
	}
	if got := len(registry.Channels()); got != 1 {
		t.Fatalf("failed creations left %d channels, want 1", got)
	}
}

func TestUniquenessQueries(t *testing.T) {
	registry := newTestRegistry(t, nil)
	if !registry.IsNameUnique("A") || !registry.IsAddressAndPortUnique("127.0.0.1", 4545) {
		t.Fatal("empty registry reports a conflict")
	}
	if _, err := registry.CreateChannel("A", "127.0.0.1", 4545, stubType); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	if registry.IsNameUnique("A") {
		t.Error("IsNameUnique(A) = true after creating A")
	}
	if !registry.IsNameUnique("B") {
		t.Error("IsNameUnique(B) = false")
	}
	if registry.IsAddressAndPortUnique("127.0.0.1", 4545) {
		t.Error("IsAddressAndPortUnique = true for A's endpoint")
	}
	if !registry.IsAddressAndPortUnique("127.0.0.1", 4546) {
		t.Error("IsAddressAndPortUnique = false for a free port")
	}
	if !registry.IsAddressAndPortUnique("10.0.0.1", 4545) {
		t.Error("IsAddressAndPortUnique = false for another host")
	}
}

func TestChannelsAndChannelByName(t *testing.T) {
	registry := newTestRegistry(t, nil)
	for index, name := range []string{"C", "A", "B"} {
		if _, err := registry.CreateChannel(name, "127.0.0.1", 5000+index, stubType); err != nil {
			t.Fatalf("CreateChannel(%s): %v", name, err)
		}
	}

	var names []string
	for _, created := range registry.Channels() {
		names = append(names, created.Name())
	}
	if len(names) != 3 || names[0] != "C" || names[1] != "A" || names[2] != "B" {
		t.Fatalf("Channels() names = %v, want creation order [C A B]", names)
	}

	found, ok := registry.ChannelByName("A")
	if !ok || found.Name() != "A" || found.PortNumber() != 5001 {
		t.Fatalf("ChannelByName(A) = %v, %v", found, ok)
	}
	if _, ok := registry.ChannelByName("missing"); ok {
		t.Fatal("ChannelByName(missing) found a channel")
	}
}

func TestRegistryEvents(t *testing.T) {
	registry := newTestRegistry(t, nil)
	events := registry.Subscribe()
	defer events.Close()

	created, err := registry.CreateChannel("A", "127.0.0.1", 4545, stubType)
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	event := testutil.RequireReceive(t, events.C(), waitTimeout, "waiting for ChannelCreated")
	if event.Kind != ChannelCreated || event.Channel != created {
		t.Fatalf("first event = %v %v, want channel_created for A", event.Kind, event.Channel)
	}

	// An idempotent create publishes nothing.
	if _, err := registry.CreateChannel("A", "127.0.0.1", 4545, stubType); err != nil {
		t.Fatalf("CreateChannel again: %v", err)
	}
	testutil.RequireNoReceive(t, events.C(), 50*time.Millisecond, "idempotent create published an event")

	registry.RemoveChannel("A")
	event = testutil.RequireReceive(t, events.C(), waitTimeout, "waiting for ChannelRemoved")
	if event.Kind != ChannelRemoved || event.Channel != created {
		t.Fatalf("second event = %v %v, want channel_removed for A", event.Kind, event.Channel)
	}

	registry.RemoveChannel("A")
	testutil.RequireNoReceive(t, events.C(), 50*time.Millisecond, "removing an absent channel published an event")
}

func TestRemoveDisconnectedChannelClosesIt(t *testing.T) {
	factory := newStubFactory(false)
	observer := newRecordingObserver()
	registry := newTestRegistry(t, func(config *Config) {
		config.Factories = channel.NewFactories(factory)
		config.Observers = []Observer{observer}
	})
	if _, err := registry.CreateChannel("A", "127.0.0.1", 4545, stubType); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}

	registry.RemoveChannel("A")
	if _, ok := registry.ChannelByName("A"); ok {
		t.Fatal("ChannelByName(A) still finds a removed channel")
	}
	if !registry.IsNameUnique("A") {
		t.Fatal("removed name is not free for reuse")
	}
	stub := factory.channel("A")
	testutil.Eventually(t, waitTimeout, stub.isClosed, "removed channel was never closed")
	testutil.Eventually(t, waitTimeout, func() bool { return observer.forgot("A") }, "observer never forgot A")
}

func TestRemoveConnectedChannelWaitsForDisconnect(t *testing.T) {
	factory := newStubFactory(true)
	observer := newRecordingObserver()
	registry := newTestRegistry(t, func(config *Config) {
		config.Factories = channel.NewFactories(factory)
		config.Observers = []Observer{observer}
	})
	created, err := registry.CreateChannel("A", "127.0.0.1", 4545, stubType)
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	created.ConnectToHost()
	testutil.Eventually(t, waitTimeout, func() bool { return observer.saw("A", channel.EventConnected) },
		"relay never saw Connected")

	registry.RemoveChannel("A")
	stub := factory.channel("A")
	testutil.Eventually(t, waitTimeout, func() bool { return stub.disconnectCount() == 1 },
		"removal never asked the channel to disconnect")

	time.Sleep(50 * time.Millisecond)
	if stub.isClosed() {
		t.Fatal("channel closed before it reported Disconnected")
	}

	stub.finishDisconnect()
	testutil.Eventually(t, waitTimeout, stub.isClosed, "channel not closed after Disconnected")
	testutil.Eventually(t, waitTimeout, func() bool { return observer.forgot("A") }, "observer never forgot A")
	if !observer.saw("A", channel.EventDisconnected) {
		t.Fatal("observer missed the final Disconnected")
	}
}

func TestDrainTimeoutForcesTeardown(t *testing.T) {
	factory := newStubFactory(true)
	observer := newRecordingObserver()
	fakeClock := clock.Fake(testEpoch)
	registry := newTestRegistry(t, func(config *Config) {
		config.Factories = channel.NewFactories(factory)
		config.Observers = []Observer{observer}
		config.Clock = fakeClock
		config.DrainTimeout = time.Second
	})
	created, err := registry.CreateChannel("A", "127.0.0.1", 4545, stubType)
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	created.ConnectToHost()
	testutil.Eventually(t, waitTimeout, func() bool { return observer.saw("A", channel.EventConnected) },
		"relay never saw Connected")

	registry.RemoveChannel("A")
	fakeClock.WaitForTimers(1)
	stub := factory.channel("A")
	if stub.isClosed() {
		t.Fatal("channel closed before the drain timeout")
	}

	fakeClock.Advance(time.Second)
	testutil.Eventually(t, waitTimeout, stub.isClosed, "drain timeout did not close the channel")
	testutil.Eventually(t, waitTimeout, func() bool { return observer.forgot("A") }, "observer never forgot A")
}

func TestReusedNameKeepsNewChannelState(t *testing.T) {
	factory := newStubFactory(true)
	observer := newRecordingObserver()
	registry := newTestRegistry(t, func(config *Config) {
		config.Factories = channel.NewFactories(factory)
		config.Observers = []Observer{observer}
	})
	created, err := registry.CreateChannel("A", "127.0.0.1", 4545, stubType)
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	created.ConnectToHost()
	testutil.Eventually(t, waitTimeout, func() bool { return observer.saw("A", channel.EventConnected) },
		"relay never saw Connected")
	old := factory.channel("A")

	registry.RemoveChannel("A")
	if observer.forgot("A") {
		t.Fatal("removal forgot A before the old channel drained")
	}
	replacement, err := registry.CreateChannel("A", "127.0.0.1", 4546, stubType)
	if err != nil {
		t.Fatalf("CreateChannel reusing the name: %v", err)
	}
	if got := observer.forgetCount("A"); got != 1 {
		t.Fatalf("ForgetChannel(A) called %d times when the name was taken over, want 1", got)
	}
	replacement.ConnectToHost()
	testutil.Eventually(t, waitTimeout, func() bool { return observer.count("A", channel.EventConnected) == 2 },
		"relay never saw the new channel connect")

	old.finishDisconnect()
	testutil.Eventually(t, waitTimeout, old.isClosed, "old channel never closed")
	time.Sleep(50 * time.Millisecond)
	if got := observer.count("A", channel.EventDisconnected); got != 0 {
		t.Errorf("observer saw %d Disconnected events under A from the old channel, want 0", got)
	}
	if got := observer.forgetCount("A"); got != 1 {
		t.Errorf("tearing down the old channel forgot A again (%d calls)", got)
	}
	factory.channel("A").finishDisconnect()
}

func TestShutdownTearsDownEveryChannel(t *testing.T) {
	factory := newStubFactory(false)
	registry, err := New(Config{Factories: channel.NewFactories(factory)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	events := registry.Subscribe()
	first, err := registry.CreateChannel("A", "127.0.0.1", 4545, stubType)
	if err != nil {
		t.Fatalf("CreateChannel(A): %v", err)
	}
	if _, err := registry.CreateChannel("B", "127.0.0.1", 4546, stubType); err != nil {
		t.Fatalf("CreateChannel(B): %v", err)
	}
	first.ConnectToHost()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := registry.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	for _, name := range []string{"A", "B"} {
		if !factory.channel(name).isClosed() {
			t.Errorf("channel %s not closed after Shutdown", name)
		}
	}
	if got := len(registry.Channels()); got != 0 {
		t.Errorf("Channels() has %d entries after Shutdown", got)
	}
	if _, err := registry.CreateChannel("C", "127.0.0.1", 4547, stubType); !errors.Is(err, ErrClosed) {
		t.Errorf("CreateChannel after Shutdown: err = %v, want ErrClosed", err)
	}
	removed := 0
	for event := range events.C() {
		if event.Kind == ChannelRemoved {
			removed++
		}
	}
	if removed != 2 {
		t.Errorf("saw %d channel_removed events before the subscription closed, want 2", removed)
	}
}

func TestShutdownHonorsContext(t *testing.T) {
	factory := newStubFactory(true)
	observer := newRecordingObserver()
	registry, err := New(Config{Factories: channel.NewFactories(factory), Observers: []Observer{observer}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	created, err := registry.CreateChannel("A", "127.0.0.1", 4545, stubType)
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	created.ConnectToHost()
	testutil.Eventually(t, waitTimeout, func() bool { return observer.saw("A", channel.EventConnected) },
		"relay never saw Connected")
	events := registry.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := registry.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown with a stuck channel: err = %v, want DeadlineExceeded", err)
	}

	removed := 0
	deadline := time.After(waitTimeout)
	for open := true; open; {
		select {
		case event, ok := <-events.C():
			if !ok {
				open = false
				break
			}
			if event.Kind == ChannelRemoved {
				removed++
			}
		case <-deadline:
			t.Fatal("registry subscription still open after Shutdown gave up")
		}
	}
	if removed != 1 {
		t.Errorf("saw %d ChannelRemoved events, want 1", removed)
	}

	factory.channel("A").finishDisconnect()
	testutil.Eventually(t, waitTimeout, factory.channel("A").isClosed, "stuck channel never closed")
}

func TestSourcesFollowComoChannel(t *testing.T) {
	server := startComoServer(t)
	registry := newTestRegistry(t, func(config *Config) {
		config.Factories = comoFactories()
		config.Clock = clock.Fake(testEpoch)
	})
	created, err := registry.CreateChannel("A", "127.0.0.1", server.Port(), comochannel.Type)
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	created.ConnectToHost()
	testutil.Eventually(t, waitTimeout, func() bool { return server.StreamingClientCount() == 1 },
		"channel never started streaming")

	key := source.Key{Name: "SecondObject", TypeName: "Counter"}
	sources := registry.Sources()
	if err := server.Register(source.Source{
		Type: source.TypeInt, Name: key.Name, TypeName: key.TypeName, Value: int32(0), Timestamp: testEpoch,
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	testutil.Eventually(t, waitTimeout, func() bool {
		current, registered, found := sources.Lookup("A", key)
		return found && registered && current.Value == int32(0)
	}, "registration never reached the source registry")

	if err := server.Update(key, int32(1), testEpoch.Add(time.Second)); err != nil {
		t.Fatalf("Update: %v", err)
	}
	testutil.Eventually(t, waitTimeout, func() bool {
		current, registered, _ := sources.Lookup("A", key)
		return registered && current.Value == int32(1)
	}, "update never reached the source registry")

	if err := server.Deregister(key); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	testutil.Eventually(t, waitTimeout, func() bool {
		current, registered, found := sources.Lookup("A", key)
		return found && !registered && current.Value == int32(1)
	}, "deregistration never reached the source registry")
}

func TestUnexpectedDisconnectDeregistersAndReconnects(t *testing.T) {
	server := startComoServer(t)
	fakeClock := clock.Fake(testEpoch)
	registry := newTestRegistry(t, func(config *Config) {
		config.Factories = comoFactories()
		config.Clock = fakeClock
		config.ReconnectDelay = time.Second
	})
	for index, name := range []string{"Alpha", "Beta", "Gamma"} {
		if err := server.Register(source.Source{
			Type: source.TypeInt, Name: name, TypeName: "Counter", Value: int32(index), Timestamp: testEpoch,
		}); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}
	created, err := registry.CreateChannel("A", "127.0.0.1", server.Port(), comochannel.Type)
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	created.ConnectToHost()

	sources := registry.Sources()
	testutil.Eventually(t, waitTimeout, func() bool {
		registered, _ := sources.Counts("A")
		return registered == 3
	}, "announcement never reached the source registry")

	server.DisconnectClients()
	testutil.Eventually(t, waitTimeout, func() bool {
		registered, deregistered := sources.Counts("A")
		return registered == 0 && deregistered == 3
	}, "disconnect did not mark every source deregistered")

	if err := server.Update(source.Key{Name: "Beta", TypeName: "Counter"}, int32(42), testEpoch); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// The rate ticker and the reconnect delay.
	fakeClock.WaitForTimers(2)
	fakeClock.Advance(time.Second)
	testutil.Eventually(t, waitTimeout, func() bool {
		registered, _ := sources.Counts("A")
		current, _, _ := sources.Lookup("A", source.Key{Name: "Beta", TypeName: "Counter"})
		return registered == 3 && current.Value == int32(42)
	}, "reconnect did not re-announce the sources")
}

func TestRemoveComoChannelDropsItsSources(t *testing.T) {
	server := startComoServer(t)
	observer := newRecordingObserver()
	registry := newTestRegistry(t, func(config *Config) {
		config.Factories = comoFactories()
		config.Observers = []Observer{observer}
		config.Clock = clock.Fake(testEpoch)
	})
	if err := server.Register(source.Source{
		Type: source.TypeString, Name: "Status", TypeName: "Text", Value: "ok", Timestamp: testEpoch,
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	created, err := registry.CreateChannel("A", "127.0.0.1", server.Port(), comochannel.Type)
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	created.ConnectToHost()
	sources := registry.Sources()
	testutil.Eventually(t, waitTimeout, func() bool {
		registered, _ := sources.Counts("A")
		return registered == 1
	}, "announcement never reached the source registry")

	registry.RemoveChannel("A")
	testutil.Eventually(t, waitTimeout, func() bool { return observer.forgot("A") }, "observer never forgot A")
	if registered, deregistered := sources.Counts("A"); registered != 0 || deregistered != 0 {
		t.Fatalf("Counts(A) = %d, %d after removal, want 0, 0", registered, deregistered)
	}
	if !observer.saw("A", channel.EventDisconnected) {
		t.Fatal("removal of a connected channel emitted no Disconnected")
	}
	testutil.Eventually(t, waitTimeout, func() bool { return server.ClientCount() == 0 },
		"server still has the removed channel's connection")
}

func TestReusedNameDoesNotInheritOldSources(t *testing.T) {
	oldServer := startComoServer(t)
	newServer := startComoServer(t)
	registry := newTestRegistry(t, func(config *Config) {
		config.Factories = comoFactories()
		config.Clock = clock.Fake(testEpoch)
	})
	oldKey := source.Key{Name: "Old", TypeName: "Counter"}
	newKey := source.Key{Name: "New", TypeName: "Counter"}
	if err := oldServer.Register(source.Source{
		Type: source.TypeInt, Name: oldKey.Name, TypeName: oldKey.TypeName, Value: int32(1), Timestamp: testEpoch,
	}); err != nil {
		t.Fatalf("Register(Old): %v", err)
	}
	if err := newServer.Register(source.Source{
		Type: source.TypeInt, Name: newKey.Name, TypeName: newKey.TypeName, Value: int32(2), Timestamp: testEpoch,
	}); err != nil {
		t.Fatalf("Register(New): %v", err)
	}

	first, err := registry.CreateChannel("A", "127.0.0.1", oldServer.Port(), comochannel.Type)
	if err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	first.ConnectToHost()
	sources := registry.Sources()
	testutil.Eventually(t, waitTimeout, func() bool {
		_, registered, _ := sources.Lookup("A", oldKey)
		return registered
	}, "Old never registered")

	registry.RemoveChannel("A")
	second, err := registry.CreateChannel("A", "127.0.0.1", newServer.Port(), comochannel.Type)
	if err != nil {
		t.Fatalf("CreateChannel reusing the name: %v", err)
	}
	if _, _, found := sources.Lookup("A", oldKey); found {
		t.Fatal("new channel A inherited the old endpoint's source Old")
	}
	second.ConnectToHost()
	testutil.Eventually(t, waitTimeout, func() bool {
		_, registered, _ := sources.Lookup("A", newKey)
		return registered
	}, "New never registered")

	testutil.Eventually(t, waitTimeout, func() bool { return oldServer.ClientCount() == 0 },
		"old channel never disconnected")
	time.Sleep(50 * time.Millisecond)

	registered := sources.RegisteredSources("A")
	if len(registered) != 1 || registered[0].Key() != newKey || registered[0].Value != int32(2) {
		t.Errorf("RegisteredSources(A) = %v, want only Counter/New = 2", registered)
	}
	if deregistered := sources.DeregisteredSources("A"); len(deregistered) != 0 {
		t.Errorf("DeregisteredSources(A) = %v, want none", deregistered)
	}
}
