// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

// Package como implements the Como telemetry protocol: the wire format
// a monitored process uses to announce its sources to a monitoring
// client, and a [Server] that plays the monitored-process side.
//
// The protocol runs over any reliable byte stream (TCP in practice).
// Every message is a frame:
//
//	+---------+------+----------------------+-----------------+
//	| version | kind | payload length (BE)  | payload         |
//	| 1 byte  | 1    | 4 bytes              | length bytes    |
//	+---------+------+----------------------+-----------------+
//
// The version byte is [ProtocolVersion]. Payloads are CBOR maps with
// text keys, encoded with Core Deterministic Encoding:
//
//	GetListOfSources    client→server  empty
//	SourceRegistered    server→client  {type, name, type_name, value, description, timestamp?}
//	SourceUpdated       server→client  {name, type_name, value, timestamp?}
//	SourceDeregistered  server→client  {name, type_name}
//
// Values use the wire representation from package source. Timestamps
// are unix milliseconds; a receiver stamps arrival time when one is
// absent. Unknown map keys are ignored so later protocol revisions can
// add fields without bumping the version.
//
// A client receives nothing until it sends GetListOfSources. The server
// then announces every live source with SourceRegistered and streams
// subsequent changes. Sending GetListOfSources again re-announces.
package como
