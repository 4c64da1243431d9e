// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/globe-monitor/globe/lib/channel"
	"github.com/globe-monitor/globe/lib/logging"
)

const namespace = "globe"

// Exporter turns channel events into metrics.
type Exporter struct {
	registry  *prometheus.Registry
	connected *prometheus.GaugeVec
	rate      *prometheus.GaugeVec
	events    *prometheus.CounterVec
	errors    *prometheus.CounterVec
	logger    *slog.Logger
}

// New returns an exporter with the channel metrics and the Go runtime
// and process collectors registered.
func New(logger *slog.Logger) *Exporter {
	exporter := &Exporter{
		registry: prometheus.NewRegistry(),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "connected",
			Help:      "Whether the channel is connected to its remote process.",
		}, []string{"channel"}),
		rate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "messages_rate",
			Help:      "Source messages received in the last second.",
		}, []string{"channel"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "events_total",
			Help:      "Channel events by kind.",
		}, []string{"channel", "kind"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "errors_total",
			Help:      "Channel errors by error kind.",
		}, []string{"channel", "kind"}),
		logger: logging.OrDiscard(logger),
	}
	exporter.registry.MustRegister(
		exporter.connected,
		exporter.rate,
		exporter.events,
		exporter.errors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return exporter
}

// Registry returns the registry the metrics are registered in.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// ObserveChannelEvent updates the channel's series.
func (e *Exporter) ObserveChannelEvent(channelName string, event channel.Event) {
	e.events.WithLabelValues(channelName, event.Kind.String()).Inc()
	switch event.Kind {
	case channel.EventConnected:
		e.connected.WithLabelValues(channelName).Set(1)
	case channel.EventDisconnected:
		e.connected.WithLabelValues(channelName).Set(0)
		e.rate.WithLabelValues(channelName).Set(0)
	case channel.EventMessagesRate:
		e.rate.WithLabelValues(channelName).Set(float64(event.Rate))
	case channel.EventError:
		e.errors.WithLabelValues(channelName, event.ErrorKind.String()).Inc()
	}
}

// ForgetChannel deletes every series of the channel.
func (e *Exporter) ForgetChannel(channelName string) {
	e.connected.DeleteLabelValues(channelName)
	e.rate.DeleteLabelValues(channelName)
	labels := prometheus.Labels{"channel": channelName}
	e.events.DeletePartialMatch(labels)
	e.errors.DeletePartialMatch(labels)
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry})
}

// Serve answers /metrics on listener until ctx ends.
func (e *Exporter) Serve(ctx context.Context, listener net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	})
	defer stop()

	e.logger.Info("serving metrics", "address", listener.Addr().String())
	err := server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("metrics: serve: %w", err)
}
