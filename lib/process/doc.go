// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds entrypoint helpers shared by Globe binaries.
// Fatal is for errors returned from run() before or after the
// structured logger exists.
package process
