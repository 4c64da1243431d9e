// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds Globe's CBOR configuration.
//
// CBOR carries the payload of every Como frame and the value blobs
// kept by the event log. Both sides of the protocol and the log must
// agree on one encoding, so the modes live here rather than being
// configured at each call site. Encoding uses Core Deterministic
// Encoding (RFC 8949 §4.2), so equal values always produce equal bytes.
//
// Decoding into an any-typed target yields uint64 for non-negative
// integers, int64 for negative integers, float64 for floats, string
// for text and map[string]any for maps. lib/source relies on exactly
// these shapes when it coerces wire values.
package codec
