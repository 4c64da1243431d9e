// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package comochannel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/globe-monitor/globe/lib/channel"
	"github.com/globe-monitor/globe/lib/clock"
	"github.com/globe-monitor/globe/lib/codec"
	"github.com/globe-monitor/globe/lib/como"
	"github.com/globe-monitor/globe/lib/eventhub"
	"github.com/globe-monitor/globe/lib/logging"
	"github.com/globe-monitor/globe/lib/netutil"
	"github.com/globe-monitor/globe/lib/source"
)

// DefaultDialTimeout applies when Config.DialTimeout is zero.
const DefaultDialTimeout = 5 * time.Second

// rateInterval is the MessagesRate sampling period.
const rateInterval = time.Second

// readBufferSize is the chunk size of a single socket read.
const readBufferSize = 32 * 1024

// ErrInvalidConfig is returned by New for an unusable configuration.
var ErrInvalidConfig = errors.New("comochannel: invalid config")

var _ channel.Channel = (*Channel)(nil)

type commandKind int

const (
	commandConnect commandKind = iota
	commandDisconnect
	commandReconnect
	commandUpdateTimeout
	commandRequestSources
)

type command struct {
	kind    commandKind
	timeout time.Duration
}

type dialResult struct {
	generation uint64
	conn       net.Conn
	err        error
}

type readResult struct {
	generation uint64
	data       []byte
	err        error
}

// Channel is a Como protocol channel. Create it with New or through
// Factory.
type Channel struct {
	name           string
	address        string
	port           int
	endpoint       string
	dialTimeout    time.Duration
	reconnectDelay time.Duration
	dialer         Dialer
	clock          clock.Clock
	logger         *slog.Logger

	// Shared with callers, guarded by mu.
	mu              sync.Mutex
	state           channel.State
	mustBeConnected bool
	timeout         time.Duration

	commands *eventhub.Queue[command]
	events   *eventhub.Hub[channel.Event]

	ctx         context.Context
	cancel      context.CancelFunc
	waitGroup   sync.WaitGroup
	closeOnce   sync.Once
	dialResults chan dialResult
	readResults chan readResult

	// Owned by the loop goroutine.
	generation     uint64
	session        uuid.UUID
	conn           net.Conn
	cancelDial     context.CancelFunc
	decoder        como.Decoder
	sources        map[source.Key]source.Source
	throttle       *channel.Throttle
	throttleTicker *clock.Ticker
	rate           channel.RateCounter
	reconnectTimer <-chan time.Time
}

// New validates config and starts the channel's loop goroutine. A nil
// dialer uses a TCPDialer.
func New(config channel.Config, dialer Dialer) (*Channel, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("%w: empty channel name", ErrInvalidConfig)
	}
	if config.Address == "" {
		return nil, fmt.Errorf("%w: channel %q has no address", ErrInvalidConfig, config.Name)
	}
	if config.Port < 1 || config.Port > 65535 {
		return nil, fmt.Errorf("%w: channel %q port %d out of range", ErrInvalidConfig, config.Name, config.Port)
	}
	if config.UpdateTimeout < 0 || config.DialTimeout < 0 || config.ReconnectDelay < 0 {
		return nil, fmt.Errorf("%w: channel %q has a negative duration", ErrInvalidConfig, config.Name)
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = DefaultDialTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if dialer == nil {
		dialer = &TCPDialer{Timeout: config.DialTimeout}
	}

	endpoint := net.JoinHostPort(config.Address, strconv.Itoa(config.Port))
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		name:           config.Name,
		address:        config.Address,
		port:           config.Port,
		endpoint:       endpoint,
		dialTimeout:    config.DialTimeout,
		reconnectDelay: config.ReconnectDelay,
		dialer:         dialer,
		clock:          config.Clock,
		logger:         logging.OrDiscard(config.Logger).With("channel", config.Name, "endpoint", endpoint),
		state:          channel.StateDisconnected,
		timeout:        config.UpdateTimeout,
		commands:       eventhub.NewQueue[command](),
		events:         eventhub.NewHub[channel.Event](),
		ctx:            ctx,
		cancel:         cancel,
		dialResults:    make(chan dialResult),
		readResults:    make(chan readResult),
		sources:        make(map[source.Key]source.Source),
		throttle:       channel.NewThrottle(),
	}
	c.waitGroup.Add(1)
	go c.run(config.UpdateTimeout)
	return c, nil
}

// Fixed identity; see channel.Channel.
func (c *Channel) Name() string        { return c.name }
func (c *Channel) HostAddress() string { return c.address }
func (c *Channel) PortNumber() int     { return c.port }
func (c *Channel) Type() string        { return Type }

// State returns the current connection state.
func (c *Channel) State() channel.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the channel has a live connection.
func (c *Channel) IsConnected() bool {
	return c.State() == channel.StateConnected
}

// IsMustBeConnected reports whether the caller wants the channel
// connected.
func (c *Channel) IsMustBeConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mustBeConnected
}

// Timeout returns the throttle interval last requested.
func (c *Channel) Timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

// ConnectToHost marks the channel as wanted and starts connecting if it
// is not already.
func (c *Channel) ConnectToHost() {
	c.setMustBeConnected(true)
	c.commands.Push(command{kind: commandConnect})
}

// DisconnectFromHost marks the channel as unwanted and drops the
// connection or abandons a dial in progress.
func (c *Channel) DisconnectFromHost() {
	c.setMustBeConnected(false)
	c.commands.Push(command{kind: commandDisconnect})
}

// ReconnectToHost drops the current connection without changing
// IsMustBeConnected, so a wanted channel connects again.
func (c *Channel) ReconnectToHost() {
	c.commands.Push(command{kind: commandReconnect})
}

// UpdateTimeout changes the throttle interval. Negative values are
// treated as zero.
func (c *Channel) UpdateTimeout(d time.Duration) {
	d = max(d, 0)
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
	c.commands.Push(command{kind: commandUpdateTimeout, timeout: d})
}

// RequestSources sends GetListOfSources again on the live connection.
func (c *Channel) RequestSources() {
	c.commands.Push(command{kind: commandRequestSources})
}

// Subscribe returns a subscription to the channel's events.
func (c *Channel) Subscribe() *eventhub.Subscription[channel.Event] {
	return c.events.Subscribe()
}

// Close stops the loop and every helper goroutine, then closes all
// subscriptions. It is idempotent and always returns nil.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.setMustBeConnected(false)
		c.commands.Close()
		c.cancel()
		c.waitGroup.Wait()
		c.events.Close()
	})
	return nil
}

func (c *Channel) setMustBeConnected(value bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustBeConnected = value
}

func (c *Channel) setState(state channel.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// run is the loop goroutine.
func (c *Channel) run(initialTimeout time.Duration) {
	defer c.waitGroup.Done()

	rateTicker := c.clock.NewTicker(rateInterval)
	defer rateTicker.Stop()
	c.applyTimeout(initialTimeout)

	for {
		var throttleTick <-chan time.Time
		if c.throttleTicker != nil {
			throttleTick = c.throttleTicker.C
		}

		select {
		case <-c.ctx.Done():
			c.shutdown()
			return

		case <-c.commands.Notify():
			commands, _ := c.commands.Drain()
			for _, queued := range commands {
				c.handleCommand(queued)
			}

		case result := <-c.dialResults:
			c.handleDial(result)

		case result := <-c.readResults:
			c.handleRead(result)

		case <-throttleTick:
			c.flushThrottle()

		case <-rateTicker.C:
			sampled := c.rate.Sample()
			if c.State() == channel.StateConnected {
				c.emit(channel.Event{Kind: channel.EventMessagesRate, Rate: sampled})
			}

		case <-c.reconnectTimer:
			c.reconnectTimer = nil
			if c.IsMustBeConnected() && c.State() == channel.StateDisconnected {
				c.startDial()
			}
		}
	}
}

func (c *Channel) handleCommand(cmd command) {
	switch cmd.kind {
	case commandConnect:
		if c.State() == channel.StateDisconnected && c.IsMustBeConnected() {
			c.reconnectTimer = nil
			c.startDial()
		}

	case commandDisconnect:
		c.reconnectTimer = nil
		switch c.State() {
		case channel.StateConnecting:
			c.abandonDial()
		case channel.StateConnected:
			c.logger.Info("disconnecting on request")
			c.connectionLost()
		}

	case commandReconnect:
		switch c.State() {
		case channel.StateConnecting:
			c.abandonDial()
			c.scheduleReconnect()
		case channel.StateConnected:
			c.logger.Info("reconnecting on request")
			c.connectionLost()
		case channel.StateDisconnected:
			if c.reconnectTimer != nil && c.IsMustBeConnected() {
				c.reconnectTimer = nil
				c.startDial()
			}
		}

	case commandUpdateTimeout:
		c.applyTimeout(cmd.timeout)

	case commandRequestSources:
		if c.conn != nil {
			if err := como.WriteMessage(c.conn, como.GetListOfSources()); err != nil {
				c.transportFailure(err)
			}
		}
	}
}

// applyTimeout reconfigures batching. Turning it off delivers what is
// pending.
func (c *Channel) applyTimeout(d time.Duration) {
	if d <= 0 {
		if c.throttleTicker != nil {
			c.throttleTicker.Stop()
			c.throttleTicker = nil
		}
		c.flushThrottle()
		return
	}
	if c.throttleTicker == nil {
		c.throttleTicker = c.clock.NewTicker(d)
		return
	}
	c.throttleTicker.Reset(d)
}

func (c *Channel) startDial() {
	c.generation++
	c.session = uuid.New()
	c.setState(channel.StateConnecting)
	c.logger.Debug("connecting", "session", c.session.String())

	ctx, cancel := context.WithTimeout(c.ctx, c.dialTimeout)
	c.cancelDial = cancel
	c.waitGroup.Add(1)
	go c.dial(ctx, c.generation)
}

// abandonDial forgets an in-progress attempt. The dial goroutine's
// result will carry a stale generation and be discarded.
func (c *Channel) abandonDial() {
	c.generation++
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	c.session = uuid.Nil
	c.setState(channel.StateDisconnected)
}

func (c *Channel) dial(ctx context.Context, generation uint64) {
	defer c.waitGroup.Done()
	conn, err := c.dialer.DialContext(ctx, "tcp", c.endpoint)
	select {
	case c.dialResults <- dialResult{generation: generation, conn: conn, err: err}:
	case <-c.ctx.Done():
		if conn != nil {
			conn.Close()
		}
	}
}

func (c *Channel) handleDial(result dialResult) {
	if result.generation != c.generation || c.State() != channel.StateConnecting {
		if result.conn != nil {
			result.conn.Close()
		}
		return
	}
	c.cancelDial()
	c.cancelDial = nil

	if result.err != nil {
		c.logger.Warn("connection attempt failed", "session", c.session.String(), "error", result.err)
		c.emitError(channel.ErrorConnect, result.err)
		c.session = uuid.Nil
		c.setState(channel.StateDisconnected)
		c.scheduleReconnect()
		return
	}

	c.conn = result.conn
	c.decoder.Reset()
	clear(c.sources)
	c.setState(channel.StateConnected)
	c.logger.Info("connected", "session", c.session.String())
	c.emit(channel.Event{Kind: channel.EventConnected})

	if err := como.WriteMessage(c.conn, como.GetListOfSources()); err != nil {
		c.transportFailure(err)
		return
	}
	c.waitGroup.Add(1)
	go c.read(c.generation, c.conn)
}

// read forwards socket chunks to the loop. The unbuffered hand-off
// keeps chunks in arrival order and stops reading while the loop is
// busy.
func (c *Channel) read(generation uint64, conn net.Conn) {
	defer c.waitGroup.Done()
	buffer := make([]byte, readBufferSize)
	for {
		count, err := conn.Read(buffer)
		if count > 0 {
			chunk := append([]byte(nil), buffer[:count]...)
			select {
			case c.readResults <- readResult{generation: generation, data: chunk}:
			case <-c.ctx.Done():
				return
			}
		}
		if err != nil {
			select {
			case c.readResults <- readResult{generation: generation, err: err}:
			case <-c.ctx.Done():
			}
			return
		}
	}
}

func (c *Channel) handleRead(result readResult) {
	if result.generation != c.generation || c.conn == nil {
		return
	}
	if result.err != nil {
		if netutil.IsCleanClose(result.err) {
			c.logger.Info("remote closed the connection", "session", c.session.String())
			c.connectionLost()
			return
		}
		c.transportFailure(result.err)
		return
	}

	messages, decodeErr := c.decoder.Feed(result.data)
	for _, message := range messages {
		if err := c.handleMessage(message); err != nil {
			c.protocolFailure(err)
			return
		}
	}
	if decodeErr != nil {
		if rejected := c.decoder.Rejected(); rejected != nil {
			c.logger.Debug("rejected payload", "session", c.session.String(), "payload", describePayload(rejected))
		}
		c.protocolFailure(decodeErr)
	}
}

// maxDescribedPayload bounds how much of a rejected payload is logged.
const maxDescribedPayload = 256

// describePayload renders a payload for the debug log: CBOR diagnostic
// notation when it parses, hex otherwise.
func describePayload(payload []byte) string {
	if diagnostic, err := codec.Diagnose(payload); err == nil {
		if len(diagnostic) > maxDescribedPayload {
			return diagnostic[:maxDescribedPayload] + "..."
		}
		return diagnostic
	}
	if len(payload) > maxDescribedPayload/2 {
		return fmt.Sprintf("%x... (%d bytes)", payload[:maxDescribedPayload/2], len(payload))
	}
	return fmt.Sprintf("%x", payload)
}

func (c *Channel) handleMessage(message como.Message) error {
	key := message.Key()
	switch message.Kind {
	case como.KindSourceRegistered:
		c.rate.Observe()
		registered := message.Source()
		if registered.Timestamp.IsZero() {
			registered.Timestamp = c.clock.Now()
		}
		c.sources[key] = registered
		c.deliver(registered)

	case como.KindSourceUpdated:
		c.rate.Observe()
		updated, known := c.sources[key]
		if !known {
			updated = source.Source{Type: source.InferType(message.Value), Name: message.Name, TypeName: message.TypeName}
			c.logger.Debug("update for unregistered source", "source", key.String(), "inferred_type", updated.Type.String())
		}
		value, err := source.Coerce(updated.Type, message.Value)
		if err != nil {
			return fmt.Errorf("update for %s: %w", key, err)
		}
		updated.Value = value
		updated.Timestamp = message.Timestamp
		if updated.Timestamp.IsZero() {
			updated.Timestamp = c.clock.Now()
		}
		c.sources[key] = updated
		c.deliver(updated)

	case como.KindSourceDeregistered:
		c.rate.Observe()
		if pending, ok := c.throttle.Take(key); ok {
			c.emitSource(channel.EventSourceUpdated, pending)
		}
		last, known := c.sources[key]
		if !known {
			last = source.Source{Name: message.Name, TypeName: message.TypeName}
		}
		delete(c.sources, key)
		c.emitSource(channel.EventSourceDeregistered, last)

	case como.KindGetListOfSources:
		c.logger.Debug("ignoring GetListOfSources from the remote end")
	}
	return nil
}

// deliver emits an update now or parks it in the throttle.
func (c *Channel) deliver(updated source.Source) {
	if c.throttleTicker != nil {
		c.throttle.Add(updated)
		return
	}
	c.emitSource(channel.EventSourceUpdated, updated)
}

func (c *Channel) flushThrottle() {
	for _, pending := range c.throttle.Flush() {
		c.emitSource(channel.EventSourceUpdated, pending)
	}
}

func (c *Channel) transportFailure(err error) {
	if netutil.IsExpectedCloseError(err) {
		c.logger.Info("connection dropped", "session", c.session.String(), "error", err)
	} else {
		c.logger.Warn("connection failed", "session", c.session.String(), "error", err)
	}
	c.emitError(channel.ErrorTransport, err)
	c.connectionLost()
}

func (c *Channel) protocolFailure(err error) {
	c.logger.Warn("protocol error, dropping connection", "session", c.session.String(), "error", err)
	c.emitError(channel.ErrorProtocol, err)
	c.connectionLost()
}

// connectionLost tears down a live connection: pending updates go out
// first, then Disconnected, then the reconnect policy applies.
func (c *Channel) connectionLost() {
	c.generation++
	c.conn.Close()
	c.conn = nil
	c.flushThrottle()
	clear(c.sources)
	c.setState(channel.StateDisconnected)
	c.emit(channel.Event{Kind: channel.EventDisconnected})
	c.session = uuid.Nil
	c.scheduleReconnect()
}

func (c *Channel) scheduleReconnect() {
	if !c.IsMustBeConnected() {
		return
	}
	if c.reconnectDelay <= 0 {
		c.startDial()
		return
	}
	c.reconnectTimer = c.clock.After(c.reconnectDelay)
}

// shutdown runs on the loop goroutine when Close cancels the context.
func (c *Channel) shutdown() {
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	if c.conn != nil {
		c.generation++
		c.conn.Close()
		c.conn = nil
		c.flushThrottle()
		c.setState(channel.StateDisconnected)
		c.emit(channel.Event{Kind: channel.EventDisconnected})
		c.logger.Info("channel closed while connected")
	}
	c.setState(channel.StateDisconnected)
	if c.throttleTicker != nil {
		c.throttleTicker.Stop()
		c.throttleTicker = nil
	}
}

func (c *Channel) emitSource(kind channel.EventKind, s source.Source) {
	c.emit(channel.Event{Kind: kind, Source: s})
}

func (c *Channel) emitError(kind channel.ErrorKind, err error) {
	c.emit(channel.Event{Kind: channel.EventError, ErrorKind: kind, Error: err})
}

func (c *Channel) emit(event channel.Event) {
	event.Channel = c.name
	event.Session = c.session
	event.Time = c.clock.Now()
	c.events.Publish(event)
}
