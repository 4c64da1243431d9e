// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the Globe monitor configuration.
//
// Configuration comes from one file passed explicitly to [LoadFile].
// There is no search path and environment variables do not override
// values. The file format follows the extension: .yaml and .yml are
// YAML, .json and .jsonc are JSON with comments and trailing commas.
// Unknown fields are errors in both.
//
//	logging: {level: info, format: auto}
//	transport: {dial_timeout: 5s, reconnect_delay: 0s, drain_timeout: 0s}
//	event_log: {path: "${GLOBE_STATE:-/var/lib/globe}/events.db", retention: 168h}
//	metrics: {listen: "127.0.0.1:9464"}
//	channels:
//	  - {name: A, type: como, address: 127.0.0.1, port: 4545, update_timeout_ms: 0}
//
// ${VAR} and ${VAR:-default} are expanded in event_log.path only.
// Channel type defaults to "como" and connect defaults to true.
package config
