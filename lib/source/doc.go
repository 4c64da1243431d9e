// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

// Package source defines the telemetry value a remote process exposes
// over a channel.
//
// A [Source] is identified by its [Key]: the pair (name, type name).
// The type name is a user-facing category label ("IntSource",
// "Temperature") and is distinct from the [ValueType], which says how
// the value is represented. Value, timestamp, value type and
// description are mutable attributes and never part of identity.
//
// Each ValueType has exactly one Go representation:
//
//	Int       int32
//	UInt      uint32
//	LongLong  int64
//	ULongLong uint64
//	Double    float64
//	String    string
//	DateTime  time.Time (UTC, millisecond precision)
//	Time      TimeOfDay
//
// On the wire values travel in a narrower form (integers, float64,
// text, with DateTime as unix milliseconds and Time as milliseconds
// since midnight). [WireValue] and [Coerce] convert between the two.
package source
