// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil classifies socket errors seen by channel transports.
package netutil
