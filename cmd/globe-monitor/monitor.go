// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/globe-monitor/globe/lib/channel"
	"github.com/globe-monitor/globe/lib/clock"
	"github.com/globe-monitor/globe/lib/comochannel"
	"github.com/globe-monitor/globe/lib/config"
	"github.com/globe-monitor/globe/lib/eventlog"
	"github.com/globe-monitor/globe/lib/metrics"
	"github.com/globe-monitor/globe/lib/registry"
)

// retentionInterval is how often the event log is pruned.
const retentionInterval = time.Hour

// shutdownTimeout bounds channel teardown on exit.
const shutdownTimeout = 10 * time.Second

// monitor owns every long-lived component of the process.
type monitor struct {
	config   *config.Config
	clock    clock.Clock
	logger   *slog.Logger
	channels *registry.ChannelRegistry

	exporter *metrics.Exporter
	eventLog *eventlog.Log
	sink     *eventlog.Sink

	summaryInterval time.Duration
	summaryOutput   io.Writer
}

func newMonitor(monitorConfig *config.Config, clk clock.Clock, logger *slog.Logger) (*monitor, error) {
	m := &monitor{config: monitorConfig, clock: clk, logger: logger}

	observers := []registry.Observer{&loggingObserver{logger: logger}}
	if monitorConfig.Metrics.Listen != "" {
		m.exporter = metrics.New(logger)
		observers = append(observers, m.exporter)
	}
	if monitorConfig.EventLog.Path != "" {
		eventLog, err := eventlog.Open(eventlog.Config{
			Path:   monitorConfig.EventLog.Path,
			Clock:  clk,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		m.eventLog = eventLog
		m.sink = eventlog.NewSink(eventLog, logger)
		observers = append(observers, m.sink)
	}

	channels, err := registry.New(registry.Config{
		Factories:      channel.NewFactories(comochannel.Factory{}),
		Observers:      observers,
		DrainTimeout:   monitorConfig.Transport.DrainTimeout.Std(),
		DialTimeout:    monitorConfig.Transport.DialTimeout.Std(),
		ReconnectDelay: monitorConfig.Transport.ReconnectDelay.Std(),
		Clock:          clk,
		Logger:         logger,
	})
	if err != nil {
		m.closeEventLog()
		return nil, err
	}
	m.channels = channels
	return m, nil
}

// startChannels creates the configured channels and connects the ones
// marked to connect.
func (m *monitor) startChannels() error {
	for _, channelConfig := range m.config.Channels {
		created, err := m.channels.CreateChannel(channelConfig.Name, channelConfig.Address, channelConfig.Port, channelConfig.Type)
		if err != nil {
			return fmt.Errorf("channel %q: %w", channelConfig.Name, err)
		}
		created.UpdateTimeout(channelConfig.UpdateTimeout())
		if channelConfig.ShouldConnect() {
			created.ConnectToHost()
		}
	}
	return nil
}

// run starts the channels and background workers, blocks until ctx
// ends, then tears everything down.
func (m *monitor) run(ctx context.Context) error {
	var metricsListener net.Listener
	if m.exporter != nil {
		listener, err := net.Listen("tcp", m.config.Metrics.Listen)
		if err != nil {
			m.shutdown()
			m.closeEventLog()
			return fmt.Errorf("metrics listener: %w", err)
		}
		metricsListener = listener
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	var waitGroup sync.WaitGroup
	start := func(name string, work func(context.Context) error) {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			if err := work(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error("worker failed", "worker", name, "error", err)
			}
		}()
	}

	if metricsListener != nil {
		start("metrics", func(ctx context.Context) error { return m.exporter.Serve(ctx, metricsListener) })
	}
	if m.sink != nil {
		// The sink stops on Close so it can record the final
		// disconnects produced by shutdown.
		start("event_log", func(context.Context) error { return m.sink.Run(context.Background()) })
		if retention := m.config.EventLog.Retention.Std(); retention > 0 {
			start("retention", func(ctx context.Context) error { return m.pruneLoop(ctx, retention) })
		}
	}
	if m.summaryInterval > 0 && m.summaryOutput != nil {
		start("summary", m.summaryLoop)
	}

	if err := m.startChannels(); err != nil {
		cancelWorkers()
		m.shutdown()
		waitGroup.Wait()
		m.closeEventLog()
		return err
	}

	<-ctx.Done()
	m.logger.Info("globe monitor shutting down")
	err := m.shutdown()
	cancelWorkers()
	waitGroup.Wait()
	m.closeEventLog()
	return err
}

// shutdown removes every channel and stops the event log sink.
func (m *monitor) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := m.channels.Shutdown(ctx)
	if m.sink != nil {
		m.sink.Close()
	}
	return err
}

func (m *monitor) closeEventLog() {
	if m.eventLog == nil {
		return
	}
	if err := m.eventLog.Close(); err != nil {
		m.logger.Error("closing event log failed", "error", err)
	}
}

func (m *monitor) pruneLoop(ctx context.Context, retention time.Duration) error {
	ticker := m.clock.NewTicker(retentionInterval)
	defer ticker.Stop()
	for {
		if _, err := m.eventLog.Prune(ctx, m.clock.Now().Add(-retention)); err != nil && ctx.Err() == nil {
			m.logger.Warn("event log prune failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *monitor) summaryLoop(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.summaryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fmt.Fprintln(m.summaryOutput, renderSummary(m.channels.Channels(), m.channels.Sources()))
		}
	}
}

// loggingObserver logs connection changes and errors.
type loggingObserver struct {
	logger *slog.Logger
}

func (o *loggingObserver) ObserveChannelEvent(channelName string, event channel.Event) {
	switch event.Kind {
	case channel.EventConnected:
		o.logger.Info("channel connected", "channel", channelName, "session", event.Session)
	case channel.EventDisconnected:
		o.logger.Info("channel disconnected", "channel", channelName)
	case channel.EventError:
		o.logger.Warn("channel error", "channel", channelName, "kind", event.ErrorKind, "error", event.Error)
	}
}

func (o *loggingObserver) ForgetChannel(string) {}
