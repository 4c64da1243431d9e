// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package source

import (
	"cmp"
	"errors"
	"fmt"
	"time"
)

// ErrEmptyName is returned by Validate for a source without a name.
var ErrEmptyName = errors.New("source: empty name")

// Key identifies a source within a channel.
type Key struct {
	Name     string
	TypeName string
}

// String renders the key as "TypeName/Name".
func (k Key) String() string {
	return k.TypeName + "/" + k.Name
}

// Compare orders keys by type name, then name.
func (k Key) Compare(other Key) int {
	if c := cmp.Compare(k.TypeName, other.TypeName); c != 0 {
		return c
	}
	return cmp.Compare(k.Name, other.Name)
}

// Source is one named, typed, timestamped telemetry value.
type Source struct {
	Type        ValueType
	Name        string
	TypeName    string
	Value       any
	Timestamp   time.Time
	Description string
}

// Key returns the identity of s.
func (s Source) Key() Key {
	return Key{Name: s.Name, TypeName: s.TypeName}
}

// Equal reports whether every attribute of s and other matches.
func (s Source) Equal(other Source) bool {
	return s.Type == other.Type &&
		s.Name == other.Name &&
		s.TypeName == other.TypeName &&
		s.Description == other.Description &&
		s.Timestamp.Equal(other.Timestamp) &&
		valuesEqual(s.Value, other.Value)
}

// Validate checks that s has a name, a concrete type, and a value in
// that type's Go representation.
func (s Source) Validate() error {
	if s.Name == "" {
		return ErrEmptyName
	}
	if !s.Type.Valid() {
		return fmt.Errorf("%w: %d for %s", ErrInvalidType, uint8(s.Type), s.Key())
	}
	if actual := TypeOf(s.Value); actual != s.Type {
		return fmt.Errorf("%w: %s holds %T, declared %s", ErrValueMismatch, s.Key(), s.Value, s.Type)
	}
	return nil
}

func (s Source) String() string {
	return fmt.Sprintf("%s(%s)=%s", s.Key(), s.Type, FormatValue(s.Value))
}
