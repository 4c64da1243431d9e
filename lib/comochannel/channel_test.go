// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package comochannel

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/globe-monitor/globe/lib/channel"
	"github.com/globe-monitor/globe/lib/clock"
	"github.com/globe-monitor/globe/lib/codec"
	"github.com/globe-monitor/globe/lib/como"
	"github.com/globe-monitor/globe/lib/eventhub"
	"github.com/globe-monitor/globe/lib/source"
	"github.com/globe-monitor/globe/lib/testutil"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

const waitTimeout = 5 * time.Second

func startServer(t *testing.T) *como.Server {
	t.Helper()
	server, err := como.Listen("127.0.0.1:0", como.ServerConfig{Clock: clock.Fake(epoch)})
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

type harness struct {
	t       *testing.T
	server  *como.Server
	clock   *clock.FakeClock
	channel *Channel
	events  *eventhub.Subscription[channel.Event]
}

// newHarness starts a server and a channel pointed at port (the
// server's port when zero).
func newHarness(t *testing.T, port int, configure func(*channel.Config)) *harness {
	t.Helper()
	server := startServer(t)
	if port == 0 {
		port = server.Port()
	}
	fakeClock := clock.Fake(epoch)
	config := channel.Config{Name: "A", Address: "127.0.0.1", Port: port, Clock: fakeClock}
	if configure != nil {
		configure(&config)
	}
	created, err := New(config, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	subscription := created.Subscribe()
	t.Cleanup(func() { created.Close() })
	return &harness{t: t, server: server, clock: fakeClock, channel: created, events: subscription}
}

func (h *harness) next(kind channel.EventKind) channel.Event {
	h.t.Helper()
	return testutil.ReceiveUntil(h.t, h.events.C(), waitTimeout, func(event channel.Event) bool {
		return event.Kind == kind
	}, "waiting for %s", kind)
}

// collectUntil returns every event up to and including the first one
// match accepts.
func (h *harness) collectUntil(match func(channel.Event) bool) []channel.Event {
	h.t.Helper()
	var events []channel.Event
	deadline := time.After(waitTimeout)
	for {
		select {
		case event, ok := <-h.events.C():
			if !ok {
				h.t.Fatalf("subscription closed; collected %v", events)
			}
			events = append(events, event)
			if match(event) {
				return events
			}
		case <-deadline:
			h.t.Fatalf("timed out; collected %v", events)
		}
	}
}

// expectNone fails if an event of kind arrives within wait.
func (h *harness) expectNone(kind channel.EventKind, wait time.Duration) {
	h.t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case event, ok := <-h.events.C():
			if !ok {
				return
			}
			if event.Kind == kind {
				h.t.Fatalf("unexpected %s", event)
			}
		case <-deadline:
			return
		}
	}
}

func (h *harness) connect() channel.Event {
	h.t.Helper()
	h.channel.ConnectToHost()
	connected := h.next(channel.EventConnected)
	testutil.Eventually(h.t, waitTimeout, func() bool { return h.server.StreamingClientCount() == 1 },
		"server never saw GetListOfSources")
	return connected
}

func (h *harness) register(s source.Source) {
	h.t.Helper()
	if err := h.server.Register(s); err != nil {
		h.t.Fatalf("Register(%s): %v", s.Key(), err)
	}
}

func (h *harness) update(key source.Key, value any) {
	h.t.Helper()
	if err := h.server.Update(key, value, time.Time{}); err != nil {
		h.t.Fatalf("Update(%s): %v", key, err)
	}
}

func (h *harness) deregister(key source.Key) {
	h.t.Helper()
	if err := h.server.Deregister(key); err != nil {
		h.t.Fatalf("Deregister(%s): %v", key, err)
	}
}

func intSource(name string, value int32) source.Source {
	return source.Source{Type: source.TypeInt, Name: name, TypeName: "IntSource", Value: value}
}

func isDeregistrationOf(name string) func(channel.Event) bool {
	return func(event channel.Event) bool {
		return event.Kind == channel.EventSourceDeregistered && event.Source.Name == name
	}
}

func TestRegisterUpdateDeregister(t *testing.T) {
	h := newHarness(t, 0, nil)
	key := source.Key{Name: "SecondObject", TypeName: "IntSource"}
	h.register(intSource("SecondObject", 0))

	connected := h.connect()
	if connected.Session == uuid.Nil {
		t.Error("Connected event has no session id")
	}
	if connected.Channel != "A" {
		t.Errorf("Connected.Channel = %q", connected.Channel)
	}
	if !h.channel.IsConnected() || !h.channel.IsMustBeConnected() {
		t.Errorf("IsConnected=%v IsMustBeConnected=%v after connect", h.channel.IsConnected(), h.channel.IsMustBeConnected())
	}

	registered := h.next(channel.EventSourceUpdated)
	if registered.Source.Key() != key || registered.Source.Type != source.TypeInt || registered.Source.Value != int32(0) {
		t.Fatalf("registration delivered as %+v", registered.Source)
	}
	if registered.Session != connected.Session {
		t.Error("events of one connection carry different sessions")
	}

	h.update(key, 50)
	updated := h.next(channel.EventSourceUpdated)
	if updated.Source.Value != int32(50) {
		t.Fatalf("update value = %#v, want int32(50)", updated.Source.Value)
	}

	h.deregister(key)
	deregistered := h.next(channel.EventSourceDeregistered)
	if deregistered.Source.Key() != key || deregistered.Source.Value != int32(50) {
		t.Fatalf("deregistration = %+v, want the last value 50", deregistered.Source)
	}
}

func TestThrottleCoalescesToLastValue(t *testing.T) {
	h := newHarness(t, 0, func(config *channel.Config) { config.UpdateTimeout = time.Second })
	h.connect()

	key := source.Key{Name: "Fast", TypeName: "IntSource"}
	h.register(intSource("Fast", 0))
	for value := 1; value <= 5; value++ {
		h.update(key, value)
	}
	// The sentinel's deregistration arrives after every update above.
	h.register(intSource("Sentinel", 0))
	h.deregister(source.Key{Name: "Sentinel", TypeName: "IntSource"})

	for _, event := range h.collectUntil(isDeregistrationOf("Sentinel")) {
		if event.Kind == channel.EventSourceUpdated && event.Source.Name == "Fast" {
			t.Fatalf("update delivered before the interval elapsed: %s", event)
		}
	}

	h.clock.WaitForTimers(2)
	h.clock.Advance(time.Second)

	var flushed *channel.Event
	var rate *channel.Event
	deadline := time.After(waitTimeout)
	for flushed == nil || rate == nil {
		select {
		case event := <-h.events.C():
			switch {
			case event.Kind == channel.EventSourceUpdated && event.Source.Name == "Fast":
				if flushed != nil {
					t.Fatalf("second flush event %s", event)
				}
				flushed = &event
			case event.Kind == channel.EventMessagesRate:
				rate = &event
			}
		case <-deadline:
			t.Fatalf("flush=%v rate=%v after advancing the clock", flushed, rate)
		}
	}
	if flushed.Source.Value != int32(5) {
		t.Errorf("flushed value = %v, want the fifth update", flushed.Source.Value)
	}
	if rate.Rate != 8 {
		t.Errorf("messages rate = %d, want 8 (6 for Fast, 2 for Sentinel)", rate.Rate)
	}
	h.expectNone(channel.EventSourceUpdated, 100*time.Millisecond)
}

func TestSwitchingThrottleOffFlushesOnce(t *testing.T) {
	h := newHarness(t, 0, func(config *channel.Config) { config.UpdateTimeout = time.Second })
	h.connect()

	key := source.Key{Name: "Fast", TypeName: "IntSource"}
	h.register(intSource("Fast", 0))
	h.update(key, 1)
	h.update(key, 2)
	h.update(key, 3)
	h.register(intSource("Sentinel", 0))
	h.deregister(source.Key{Name: "Sentinel", TypeName: "IntSource"})
	h.collectUntil(isDeregistrationOf("Sentinel"))

	h.channel.UpdateTimeout(0)
	if h.channel.Timeout() != 0 {
		t.Errorf("Timeout() = %v after UpdateTimeout(0)", h.channel.Timeout())
	}
	flushed := h.next(channel.EventSourceUpdated)
	if flushed.Source.Value != int32(3) {
		t.Fatalf("flushed value = %v, want 3", flushed.Source.Value)
	}

	h.update(key, 99)
	immediate := h.next(channel.EventSourceUpdated)
	if immediate.Source.Value != int32(99) {
		t.Fatalf("next update = %v, want 99 with no duplicate flush in between", immediate.Source.Value)
	}
}

func TestDeregistrationFlushesPendingUpdateFirst(t *testing.T) {
	h := newHarness(t, 0, func(config *channel.Config) { config.UpdateTimeout = time.Minute })
	h.connect()

	key := source.Key{Name: "Brief", TypeName: "IntSource"}
	h.register(intSource("Brief", 7))
	h.deregister(key)

	var sourceEvents []channel.Event
	for _, event := range h.collectUntil(isDeregistrationOf("Brief")) {
		if event.Kind == channel.EventSourceUpdated || event.Kind == channel.EventSourceDeregistered {
			sourceEvents = append(sourceEvents, event)
		}
	}
	if len(sourceEvents) != 2 || sourceEvents[0].Kind != channel.EventSourceUpdated || sourceEvents[0].Source.Value != int32(7) {
		t.Fatalf("source events = %v, want the pending update then the deregistration", sourceEvents)
	}
	if sourceEvents[1].Source.Value != int32(7) {
		t.Errorf("deregistration value = %v, want 7", sourceEvents[1].Source.Value)
	}
}

func TestDisconnectFlushesPendingBeforeDisconnected(t *testing.T) {
	h := newHarness(t, 0, func(config *channel.Config) { config.UpdateTimeout = time.Minute })
	h.connect()

	h.register(intSource("Pending", 1))
	h.register(intSource("Sentinel", 0))
	h.deregister(source.Key{Name: "Sentinel", TypeName: "IntSource"})
	h.collectUntil(isDeregistrationOf("Sentinel"))

	h.channel.DisconnectFromHost()
	events := h.collectUntil(func(event channel.Event) bool { return event.Kind == channel.EventDisconnected })
	var sawPending bool
	for _, event := range events {
		if event.Kind == channel.EventSourceUpdated && event.Source.Name == "Pending" {
			sawPending = true
		}
	}
	if !sawPending {
		t.Errorf("pending update not delivered before Disconnected: %v", events)
	}
}

func TestDisconnectFromHostDoesNotReconnect(t *testing.T) {
	h := newHarness(t, 0, nil)
	h.connect()

	h.channel.DisconnectFromHost()
	h.next(channel.EventDisconnected)
	if h.channel.IsMustBeConnected() || h.channel.IsConnected() {
		t.Errorf("IsMustBeConnected=%v IsConnected=%v after disconnect", h.channel.IsMustBeConnected(), h.channel.IsConnected())
	}
	testutil.Eventually(t, waitTimeout, func() bool { return h.server.ClientCount() == 0 })
	h.expectNone(channel.EventConnected, 200*time.Millisecond)
	if h.server.ClientCount() != 0 {
		t.Error("channel reconnected after DisconnectFromHost")
	}
}

func TestRemoteCloseReconnects(t *testing.T) {
	h := newHarness(t, 0, nil)
	first := h.connect()

	h.server.DisconnectClients()
	for _, event := range h.collectUntil(func(event channel.Event) bool { return event.Kind == channel.EventDisconnected }) {
		if event.Kind == channel.EventError {
			t.Errorf("clean remote close reported an error: %s", event)
		}
	}
	second := h.next(channel.EventConnected)
	if second.Session == first.Session {
		t.Error("reconnection reused the session id")
	}
	if !h.channel.IsMustBeConnected() {
		t.Error("IsMustBeConnected cleared by a remote close")
	}
}

func TestReconnectToHost(t *testing.T) {
	h := newHarness(t, 0, nil)
	h.register(intSource("Kept", 3))
	first := h.connect()
	h.next(channel.EventSourceUpdated)

	h.channel.ReconnectToHost()
	h.next(channel.EventDisconnected)
	second := h.next(channel.EventConnected)
	if second.Session == first.Session {
		t.Error("ReconnectToHost reused the session id")
	}
	announced := h.next(channel.EventSourceUpdated)
	if announced.Source.Name != "Kept" {
		t.Errorf("re-announcement = %s", announced)
	}
}

// resettingListener accepts connections and resets them at once.
func resettingListener(t *testing.T) (port int, accepts *atomic.Int32) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })
	accepts = &atomic.Int32{}
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			accepts.Add(1)
			conn.(*net.TCPConn).SetLinger(0)
			conn.Close()
		}
	}()
	return listener.Addr().(*net.TCPAddr).Port, accepts
}

func TestTransportErrorReconnectsAfterDelay(t *testing.T) {
	port, accepts := resettingListener(t)
	h := newHarness(t, port, func(config *channel.Config) { config.ReconnectDelay = time.Second })

	h.channel.ConnectToHost()
	events := h.collectUntil(func(event channel.Event) bool { return event.Kind == channel.EventDisconnected })
	var transportError bool
	for _, event := range events {
		if event.Kind == channel.EventError && event.ErrorKind == channel.ErrorTransport {
			transportError = true
		}
	}
	if !transportError {
		t.Fatalf("no transport error before Disconnected: %v", events)
	}
	if got := accepts.Load(); got != 1 {
		t.Fatalf("accepts = %d before the reconnect delay elapsed", got)
	}

	h.clock.WaitForTimers(2)
	h.clock.Advance(time.Second)
	h.next(channel.EventConnected)
	testutil.Eventually(t, waitTimeout, func() bool { return accepts.Load() >= 2 }, "no second connection attempt")
}

func TestConnectRefusedRetriesWithoutDisconnectedEvent(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	h := newHarness(t, port, func(config *channel.Config) { config.ReconnectDelay = time.Second })
	h.channel.ConnectToHost()

	isConnectError := func(event channel.Event) bool {
		return event.Kind == channel.EventError && event.ErrorKind == channel.ErrorConnect
	}
	h.collectUntil(isConnectError)
	testutil.Eventually(t, waitTimeout, func() bool { return h.channel.State() == channel.StateDisconnected })

	h.clock.WaitForTimers(2)
	h.clock.Advance(time.Second)
	for _, event := range h.collectUntil(isConnectError) {
		if event.Kind == channel.EventDisconnected || event.Kind == channel.EventConnected {
			t.Errorf("unexpected %s between failed attempts", event)
		}
	}
	if !h.channel.IsMustBeConnected() {
		t.Error("failed attempts cleared IsMustBeConnected")
	}
}

// garbageListener accepts connections and writes an invalid frame.
func garbageListener(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	var mu sync.Mutex
	var conns []net.Conn
	t.Cleanup(func() {
		listener.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range conns {
			conn.Close()
		}
	})
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
			conn.Write([]byte{0xee, 0x01, 0, 0, 0, 0})
		}
	}()
	return listener.Addr().(*net.TCPAddr).Port
}

func TestProtocolErrorDropsConnection(t *testing.T) {
	port := garbageListener(t)
	h := newHarness(t, port, func(config *channel.Config) { config.ReconnectDelay = time.Minute })
	h.channel.ConnectToHost()
	h.next(channel.EventConnected)

	failure := h.next(channel.EventError)
	if failure.ErrorKind != channel.ErrorProtocol || !errors.Is(failure.Error, como.ErrDecode) {
		t.Fatalf("error event = %s, want a protocol decode error", failure)
	}
	h.next(channel.EventDisconnected)
}

func TestIncompatibleUpdateIsProtocolError(t *testing.T) {
	h := newHarness(t, 0, func(config *channel.Config) { config.ReconnectDelay = time.Minute })
	h.register(intSource("Typed", 1))
	h.connect()
	h.next(channel.EventSourceUpdated)

	if err := h.server.Broadcast(como.Updated(source.Key{Name: "Typed", TypeName: "IntSource"}, "text", epoch)); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	failure := h.next(channel.EventError)
	if failure.ErrorKind != channel.ErrorProtocol || !errors.Is(failure.Error, source.ErrValueMismatch) {
		t.Fatalf("error event = %s", failure)
	}
	h.next(channel.EventDisconnected)
}

func TestUnregisteredUpdateInfersType(t *testing.T) {
	h := newHarness(t, 0, nil)
	h.connect()

	key := source.Key{Name: "Loose", TypeName: "Free"}
	if err := h.server.Broadcast(como.Updated(key, "hello", epoch.Add(time.Hour))); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	updated := h.next(channel.EventSourceUpdated)
	if updated.Source.Key() != key || updated.Source.Type != source.TypeString || updated.Source.Value != "hello" {
		t.Fatalf("update = %+v", updated.Source)
	}
	if !updated.Source.Timestamp.Equal(epoch.Add(time.Hour)) {
		t.Errorf("timestamp = %v", updated.Source.Timestamp)
	}
}

func TestRegistrationWithoutTimestampIsStamped(t *testing.T) {
	h := newHarness(t, 0, nil)
	h.connect()
	h.clock.Advance(10 * time.Millisecond)

	unstamped := como.Message{
		Kind:     como.KindSourceRegistered,
		Type:     source.TypeString,
		Name:     "Unstamped",
		TypeName: "Text",
		Value:    "v",
	}
	if err := h.server.Broadcast(unstamped); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	registered := h.next(channel.EventSourceUpdated)
	if !registered.Source.Timestamp.Equal(epoch.Add(10 * time.Millisecond)) {
		t.Errorf("timestamp = %v, want the channel clock", registered.Source.Timestamp)
	}
}

func TestRequestSourcesReannounces(t *testing.T) {
	h := newHarness(t, 0, nil)
	h.register(intSource("Listed", 4))
	h.connect()
	h.next(channel.EventSourceUpdated)

	h.channel.RequestSources()
	again := h.next(channel.EventSourceUpdated)
	if again.Source.Name != "Listed" || again.Source.Value != int32(4) {
		t.Errorf("re-announcement = %s", again)
	}
}

func TestMessagesRate(t *testing.T) {
	h := newHarness(t, 0, nil)
	h.connect()
	key := source.Key{Name: "Counted", TypeName: "IntSource"}
	h.register(intSource("Counted", 0))
	h.update(key, 1)
	h.update(key, 2)
	for range 3 {
		h.next(channel.EventSourceUpdated)
	}

	h.clock.WaitForTimers(1)
	h.clock.Advance(time.Second)
	if rate := h.next(channel.EventMessagesRate); rate.Rate != 3 {
		t.Errorf("first sample = %d, want 3", rate.Rate)
	}
	h.clock.Advance(time.Second)
	if rate := h.next(channel.EventMessagesRate); rate.Rate != 0 {
		t.Errorf("second sample = %d, want 0", rate.Rate)
	}
}

func TestMessagesRateOnlyWhileConnected(t *testing.T) {
	h := newHarness(t, 0, nil)

	h.clock.WaitForTimers(1)
	h.clock.Advance(time.Second)
	h.expectNone(channel.EventMessagesRate, 200*time.Millisecond)

	h.connect()
	h.clock.Advance(time.Second)
	if rate := h.next(channel.EventMessagesRate); rate.Rate != 0 {
		t.Errorf("sample with no traffic = %d, want 0", rate.Rate)
	}

	h.channel.DisconnectFromHost()
	h.next(channel.EventDisconnected)
	h.clock.Advance(time.Second)
	h.expectNone(channel.EventMessagesRate, 200*time.Millisecond)
}

func TestCloseWhileConnected(t *testing.T) {
	h := newHarness(t, 0, nil)
	h.connect()

	if err := h.channel.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	h.next(channel.EventDisconnected)
	h.drainUntilClosed()
	if err := h.channel.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	h.channel.ConnectToHost()
	if h.channel.IsConnected() {
		t.Error("closed channel reports connected")
	}
	testutil.Eventually(t, waitTimeout, func() bool { return h.server.ClientCount() == 0 })
}

// drainUntilClosed discards events until the subscription closes.
func (h *harness) drainUntilClosed() {
	h.t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case _, ok := <-h.events.C():
			if !ok {
				return
			}
		case <-deadline:
			h.t.Fatal("subscription not closed")
		}
	}
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name   string
		config channel.Config
	}{
		{"empty name", channel.Config{Address: "localhost", Port: 4545}},
		{"empty address", channel.Config{Name: "A", Port: 4545}},
		{"port zero", channel.Config{Name: "A", Address: "localhost"}},
		{"port too large", channel.Config{Name: "A", Address: "localhost", Port: 70000}},
		{"negative timeout", channel.Config{Name: "A", Address: "localhost", Port: 4545, UpdateTimeout: -time.Second}},
	}
	for _, test := range tests {
		if _, err := New(test.config, nil); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: New error = %v, want ErrInvalidConfig", test.name, err)
		}
	}
}

func TestFactory(t *testing.T) {
	factories := channel.NewFactories(Factory{})
	factory, err := factories.Lookup(Type)
	if err != nil {
		t.Fatalf("Lookup(%q): %v", Type, err)
	}
	created, err := factory.NewChannel(channel.Config{
		Name:          "sample",
		Address:       "localhost",
		Port:          4545,
		UpdateTimeout: 250 * time.Millisecond,
		Clock:         clock.Fake(epoch),
	})
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	defer created.Close()

	if created.Name() != "sample" || created.HostAddress() != "localhost" || created.PortNumber() != 4545 || created.Type() != Type {
		t.Errorf("identity = %s %s:%d %s", created.Name(), created.HostAddress(), created.PortNumber(), created.Type())
	}
	if created.State() != channel.StateDisconnected || created.IsMustBeConnected() {
		t.Errorf("new channel state=%s mustBeConnected=%v", created.State(), created.IsMustBeConnected())
	}
	if created.Timeout() != 250*time.Millisecond {
		t.Errorf("Timeout() = %v", created.Timeout())
	}

	if _, err := factory.NewChannel(channel.Config{}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewChannel(empty) = %v, want ErrInvalidConfig", err)
	}
}

func TestDescribePayload(t *testing.T) {
	encoded, err := codec.Marshal(map[string]any{"name": "", "type_name": "t"})
	if err != nil {
		t.Fatal(err)
	}
	if got := describePayload(encoded); !strings.Contains(got, `"type_name"`) {
		t.Errorf("describePayload(cbor) = %q, want diagnostic notation", got)
	}
	if got := describePayload([]byte{0xff, 0x01}); got != "ff01" {
		t.Errorf("describePayload(garbage) = %q, want hex", got)
	}
	long := make([]byte, 1000)
	for index := range long {
		long[index] = 0xff
	}
	if got := describePayload(long); !strings.HasSuffix(got, "(1000 bytes)") || len(got) > 2*maxDescribedPayload {
		t.Errorf("describePayload(long garbage) = %q, want a truncated hex dump", got)
	}
}
