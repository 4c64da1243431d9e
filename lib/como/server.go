// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package como

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/globe-monitor/globe/lib/clock"
	"github.com/globe-monitor/globe/lib/eventhub"
	"github.com/globe-monitor/globe/lib/logging"
	"github.com/globe-monitor/globe/lib/netutil"
	"github.com/globe-monitor/globe/lib/source"
)

var (
	// ErrServerClosed is returned by source operations after Close.
	ErrServerClosed = errors.New("como: server closed")

	// ErrUnknownSource is returned by Update and Deregister for a key
	// that is not registered.
	ErrUnknownSource = errors.New("como: unknown source")
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Clock stamps registrations and updates that carry no timestamp.
	// Defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to discarding output.
	Logger *slog.Logger
}

// Server is the monitored-process side of the protocol. It keeps a
// table of live sources and streams changes to every client that has
// asked for the source list.
type Server struct {
	listener net.Listener
	clock    clock.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	sources []source.Source
	index   map[source.Key]int
	clients map[*serverClient]struct{}
	closed  bool

	waitGroup sync.WaitGroup
}

// serverClient is one accepted connection. streaming is guarded by
// Server.mu.
type serverClient struct {
	conn      net.Conn
	outgoing  *eventhub.Queue[Message]
	streaming bool
	dropOnce  sync.Once
}

// Listen opens a TCP listener on address ("host:port"; port 0 picks a
// free port). Call Serve to accept clients.
func Listen(address string, config ServerConfig) (*Server, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("como: listen on %s: %w", address, err)
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	return &Server{
		listener: listener,
		clock:    config.Clock,
		logger:   logging.OrDiscard(config.Logger),
		index:    make(map[source.Key]int),
		clients:  make(map[*serverClient]struct{}),
	}, nil
}

// Address returns the listener address.
func (s *Server) Address() string {
	return s.listener.Addr().String()
}

// Port returns the TCP port the listener is bound to.
func (s *Server) Port() int {
	if tcpAddress, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return tcpAddress.Port
	}
	return 0
}

// Serve accepts clients until ctx is cancelled or Close is called. It
// returns nil on a requested shutdown.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			return fmt.Errorf("como: accept: %w", err)
		}
		s.startClient(conn)
	}
}

// Close stops accepting, disconnects every client and waits for their
// goroutines to exit. Close is idempotent.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.waitGroup.Wait()
		return nil
	}
	s.closed = true
	clients := make([]*serverClient, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.mu.Unlock()

	err := s.listener.Close()
	for _, client := range clients {
		s.drop(client)
	}
	s.waitGroup.Wait()
	return err
}

// Register adds s or, for an existing key, replaces every attribute.
// Streaming clients receive SourceRegistered. A zero timestamp is
// replaced with the current time.
func (s *Server) Register(src source.Source) error {
	if err := src.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	if src.Timestamp.IsZero() {
		src.Timestamp = s.clock.Now()
	}
	if position, exists := s.index[src.Key()]; exists {
		s.sources[position] = src
	} else {
		s.index[src.Key()] = len(s.sources)
		s.sources = append(s.sources, src)
	}
	s.broadcastLocked(Registered(src))
	return nil
}

// Update sets a new value for a registered source. value may be any
// representation source.Coerce accepts for the source's type.
func (s *Server) Update(key source.Key, value any, timestamp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	position, exists := s.index[key]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownSource, key)
	}
	current := &s.sources[position]
	coerced, err := source.Coerce(current.Type, value)
	if err != nil {
		return fmt.Errorf("como: update %s: %w", key, err)
	}
	if timestamp.IsZero() {
		timestamp = s.clock.Now()
	}
	current.Value = coerced
	current.Timestamp = timestamp
	s.broadcastLocked(Updated(key, coerced, timestamp))
	return nil
}

// Deregister removes a source and tells streaming clients.
func (s *Server) Deregister(key source.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	position, exists := s.index[key]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownSource, key)
	}
	s.sources = append(s.sources[:position], s.sources[position+1:]...)
	delete(s.index, key)
	for index := position; index < len(s.sources); index++ {
		s.index[s.sources[index].Key()] = index
	}
	s.broadcastLocked(Deregistered(key))
	return nil
}

// Broadcast sends m to every streaming client without touching the
// source table. Useful for exercising clients with messages the table
// would not produce.
func (s *Server) Broadcast(m Message) error {
	if _, err := Encode(m); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	s.broadcastLocked(m)
	return nil
}

// Sources returns the live sources in registration order.
func (s *Server) Sources() []source.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]source.Source(nil), s.sources...)
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// StreamingClientCount returns the number of clients that have sent
// GetListOfSources.
func (s *Server) StreamingClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for client := range s.clients {
		if client.streaming {
			count++
		}
	}
	return count
}

// DisconnectClients drops every connected client but keeps listening.
func (s *Server) DisconnectClients() {
	s.mu.Lock()
	clients := make([]*serverClient, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.mu.Unlock()
	for _, client := range clients {
		s.drop(client)
	}
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) broadcastLocked(m Message) {
	for client := range s.clients {
		if client.streaming {
			client.outgoing.Push(m)
		}
	}
}

func (s *Server) startClient(conn net.Conn) {
	client := &serverClient{conn: conn, outgoing: eventhub.NewQueue[Message]()}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[client] = struct{}{}
	s.waitGroup.Add(2)
	s.mu.Unlock()

	s.logger.Info("como client connected", "remote", conn.RemoteAddr().String())
	go s.readLoop(client)
	go s.writeLoop(client)
}

// announce marks client as streaming and queues the full source list.
// Holding mu across both keeps the list and later broadcasts in order.
func (s *Server) announce(client *serverClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, live := s.clients[client]; !live {
		return
	}
	client.streaming = true
	for _, src := range s.sources {
		client.outgoing.Push(Registered(src))
	}
}

func (s *Server) readLoop(client *serverClient) {
	defer s.waitGroup.Done()
	defer s.drop(client)

	var decoder Decoder
	buffer := make([]byte, 4096)
	for {
		count, err := client.conn.Read(buffer)
		if count > 0 {
			messages, decodeErr := decoder.Feed(buffer[:count])
			for _, message := range messages {
				if message.Kind == KindGetListOfSources {
					s.announce(client)
					continue
				}
				s.logger.Warn("como client sent a server-side message",
					"remote", client.conn.RemoteAddr().String(),
					"kind", message.Kind.String())
			}
			if decodeErr != nil {
				s.logger.Warn("como client stream malformed",
					"remote", client.conn.RemoteAddr().String(),
					"error", decodeErr)
				return
			}
		}
		if err != nil {
			if !netutil.IsExpectedCloseError(err) {
				s.logger.Warn("como client read failed",
					"remote", client.conn.RemoteAddr().String(),
					"error", err)
			}
			return
		}
	}
}

// writeLoop encodes everything queued since the last wakeup into one
// buffer and writes it with a single call.
func (s *Server) writeLoop(client *serverClient) {
	defer s.waitGroup.Done()
	defer s.drop(client)

	var batch []byte
	for {
		messages, open := client.outgoing.Drain()
		batch = batch[:0]
		for _, message := range messages {
			frame, err := Encode(message)
			if err != nil {
				s.logger.Error("como encode failed", "kind", message.Kind.String(), "error", err)
				continue
			}
			batch = append(batch, frame...)
		}
		if len(batch) > 0 {
			if _, err := client.conn.Write(batch); err != nil {
				if !netutil.IsExpectedCloseError(err) {
					s.logger.Warn("como client write failed",
						"remote", client.conn.RemoteAddr().String(),
						"error", err)
				}
				return
			}
		}
		if !open {
			return
		}
		<-client.outgoing.Notify()
	}
}

func (s *Server) drop(client *serverClient) {
	client.dropOnce.Do(func() {
		s.mu.Lock()
		delete(s.clients, client)
		s.mu.Unlock()
		client.outgoing.Close()
		client.conn.Close()
		s.logger.Info("como client disconnected", "remote", client.conn.RemoteAddr().String())
	})
}
