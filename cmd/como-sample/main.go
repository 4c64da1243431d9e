// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

// como-sample is a Como endpoint that publishes a handful of changing
// sources, for trying globe-monitor without a real remote process.
//
// It registers one source of each common type, updates them every
// --interval, and deregisters and re-registers the Blinker source so
// monitors see both transitions.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/globe-monitor/globe/lib/clock"
	"github.com/globe-monitor/globe/lib/como"
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
		listen      string
		interval    time.Duration
		logLevel    string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("como-sample", pflag.ContinueOnError)
	flagSet.StringVar(&listen, "listen", "127.0.0.1:4545", "address to accept monitors on")
	flagSet.DurationVar(&interval, "interval", time.Second, "time between updates")
	flagSet.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print(os.Stdout, "como-sample")
		return nil
	}
	if interval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}

	logger, err := logging.New(logging.Config{Level: logLevel})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	realClock := clock.Real()
	server, err := como.Listen(listen, como.ServerConfig{Clock: realClock, Logger: logger})
	if err != nil {
		return err
	}
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()

	sample := newPublisher(server, realClock)
	if err := sample.registerAll(); err != nil {
		server.Close()
		return err
	}
	logger.Info("como sample publishing", "address", server.Address(), "interval", interval)

	publishErr := sample.run(ctx, interval)
	server.Close()
	if err := <-served; err != nil {
		return err
	}
	if errors.Is(publishErr, context.Canceled) {
		return nil
	}
	return publishErr
}
