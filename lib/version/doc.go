// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for Globe binaries.
//
// Values are injected at build time:
//
//	go build -ldflags "-X github.com/globe-monitor/globe/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version
