// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

// globe-monitor connects to remote Como processes and keeps a live
// view of the sources they publish.
//
// Channels come from the configuration file and from repeated
// --channel flags. The monitor logs connection changes, exports
// per-channel metrics on /metrics when metrics.listen is set, records
// every channel event in a SQLite log when event_log.path is set, and
// prints a summary of channels and sources every --summary-interval.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/globe-monitor/globe/lib/clock"
	"github.com/globe-monitor/globe/lib/config"
	"github.com/globe-monitor/globe/lib/logging"
	"github.com/globe-monitor/globe/lib/process"
	"github.com/globe-monitor/globe/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath      string
		channelFlags    []string
		updateTimeout   time.Duration
		logLevel        string
		logFormat       string
		eventLogPath    string
		metricsListen   string
		summaryInterval time.Duration
		showVersion     bool
	)
	flagSet := pflag.NewFlagSet("globe-monitor", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to a .yaml or .jsonc configuration file")
	flagSet.StringArrayVar(&channelFlags, "channel", nil, "add a channel as name=host:port (repeatable)")
	flagSet.DurationVar(&updateTimeout, "update-timeout", 0, "throttle interval for channels added with --channel")
	flagSet.StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	flagSet.StringVar(&logFormat, "log-format", "", "override logging.format (auto, text, json)")
	flagSet.StringVar(&eventLogPath, "event-log", "", "override event_log.path")
	flagSet.StringVar(&metricsListen, "metrics-listen", "", "override metrics.listen")
	flagSet.DurationVar(&summaryInterval, "summary-interval", 10*time.Second, "how often to print the channel summary (0 disables)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if showVersion {
		version.Print(os.Stdout, "globe-monitor")
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	monitorConfig := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}
		monitorConfig = loaded
	}
	if logLevel != "" {
		monitorConfig.Logging.Level = logLevel
	}
	if logFormat != "" {
		monitorConfig.Logging.Format = logging.Format(logFormat)
	}
	if eventLogPath != "" {
		monitorConfig.EventLog.Path = eventLogPath
	}
	if metricsListen != "" {
		monitorConfig.Metrics.Listen = metricsListen
	}
	for _, value := range channelFlags {
		channelConfig, err := parseChannelFlag(value)
		if err != nil {
			return err
		}
		channelConfig.UpdateTimeoutMS = int(updateTimeout / time.Millisecond)
		monitorConfig.Channels = append(monitorConfig.Channels, channelConfig)
	}
	if summaryInterval < 0 {
		return fmt.Errorf("--summary-interval must not be negative")
	}
	if err := monitorConfig.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:  monitorConfig.Logging.Level,
		Format: monitorConfig.Logging.Format,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	monitor, err := newMonitor(monitorConfig, clock.Real(), logger)
	if err != nil {
		return err
	}
	monitor.summaryInterval = summaryInterval
	monitor.summaryOutput = os.Stdout
	logger.Info("globe monitor starting", "version", version.Info(), "channels", len(monitorConfig.Channels))
	return monitor.run(ctx)
}

// parseChannelFlag parses name=host:port.
func parseChannelFlag(value string) (config.ChannelConfig, error) {
	name, endpoint, found := strings.Cut(value, "=")
	if !found || name == "" {
		return config.ChannelConfig{}, fmt.Errorf("--channel %q: want name=host:port", value)
	}
	host, portText, err := net.SplitHostPort(endpoint)
	if err != nil {
		return config.ChannelConfig{}, fmt.Errorf("--channel %q: %w", value, err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return config.ChannelConfig{}, fmt.Errorf("--channel %q: port %q is not a number", value, portText)
	}
	return config.ChannelConfig{Name: name, Type: config.DefaultChannelType, Address: host, Port: port}, nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `globe-monitor: live view of sources published by Como processes.

Usage:
  globe-monitor [flags]

Examples:
  # Watch the sample publisher
  globe-monitor --channel sample=127.0.0.1:4545

  # Run from a configuration file with metrics and an event log
  globe-monitor --config /etc/globe/monitor.yaml

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
