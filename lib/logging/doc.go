// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the process-wide slog.Logger for Globe
// binaries.
//
// Libraries never construct their own handlers: they accept a
// *slog.Logger and fall back to [OrDiscard] when the caller passes nil.
package logging
