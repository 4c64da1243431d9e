// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package eventlog

import (
	"encoding/hex"

	"github.com/zeebo/blake3"

	"github.com/globe-monitor/globe/lib/source"
)

// SourceID identifies a source on a channel across sessions.
type SourceID [16]byte

// sourceDomainKey is the ASCII domain name zero-padded to 32 bytes.
// Changing it changes every stored SourceID.
var sourceDomainKey = [32]byte{
	'g', 'l', 'o', 'b', 'e', '.', 'e', 'v', 'e', 'n', 't', 'l', 'o', 'g', '.',
	's', 'o', 'u', 'r', 'c', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// SourceIDOf returns the id of key on channelName. The fields are
// NUL-separated so ("ab", "c") and ("a", "bc") differ.
func SourceIDOf(channelName string, key source.Key) SourceID {
	hasher, err := blake3.NewKeyed(sourceDomainKey[:])
	if err != nil {
		panic("eventlog: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	input := make([]byte, 0, len(channelName)+len(key.TypeName)+len(key.Name)+2)
	input = append(input, channelName...)
	input = append(input, 0)
	input = append(input, key.TypeName...)
	input = append(input, 0)
	input = append(input, key.Name...)
	hasher.Write(input)

	var digest [32]byte
	hasher.Sum(digest[:0])
	var id SourceID
	copy(id[:], digest[:])
	return id
}

// IsZero reports whether id is unset.
func (id SourceID) IsZero() bool {
	return id == SourceID{}
}

func (id SourceID) String() string {
	return hex.EncodeToString(id[:])
}
