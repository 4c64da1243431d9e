// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package source

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

// ValueType tags the representation of a source value. The numeric
// values are part of the Como wire protocol and must not be reordered.
type ValueType uint8

const (
	TypeInvalid ValueType = iota
	TypeInt
	TypeUInt
	TypeLongLong
	TypeULongLong
	TypeDouble
	TypeString
	TypeDateTime
	TypeTime
)

var valueTypeNames = [...]string{
	TypeInvalid:   "Invalid",
	TypeInt:       "Int",
	TypeUInt:      "UInt",
	TypeLongLong:  "LongLong",
	TypeULongLong: "ULongLong",
	TypeDouble:    "Double",
	TypeString:    "String",
	TypeDateTime:  "DateTime",
	TypeTime:      "Time",
}

var (
	// ErrInvalidType is returned for a ValueType outside the known set.
	ErrInvalidType = errors.New("source: invalid value type")

	// ErrValueMismatch is returned when a value cannot represent the
	// requested ValueType at all (text for an Int, for example).
	ErrValueMismatch = errors.New("source: value does not match type")

	// ErrValueOutOfRange is returned when a numeric value does not fit
	// the requested ValueType.
	ErrValueOutOfRange = errors.New("source: value out of range")
)

// Valid reports whether t is one of the eight concrete types.
func (t ValueType) Valid() bool {
	return t > TypeInvalid && t <= TypeTime
}

func (t ValueType) String() string {
	if int(t) < len(valueTypeNames) {
		return valueTypeNames[t]
	}
	return "ValueType(" + strconv.Itoa(int(t)) + ")"
}

// ParseValueType returns the ValueType named s ("Int", "Double", ...).
func ParseValueType(s string) (ValueType, error) {
	for index, name := range valueTypeNames {
		if index != int(TypeInvalid) && name == s {
			return ValueType(index), nil
		}
	}
	return TypeInvalid, fmt.Errorf("%w: %q", ErrInvalidType, s)
}

// MarshalText implements encoding.TextMarshaler.
func (t ValueType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidType, uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ValueType) UnmarshalText(text []byte) error {
	parsed, err := ParseValueType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TimeOfDay is a wall-clock time without a date, stored as the offset
// from midnight.
type TimeOfDay time.Duration

const day = 24 * time.Hour

// TimeOfDayOf returns the time-of-day part of t in t's location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	hour, minute, second := t.Clock()
	offset := time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute +
		time.Duration(second)*time.Second + time.Duration(t.Nanosecond())
	return TimeOfDay(offset.Truncate(time.Millisecond))
}

// Milliseconds returns the offset from midnight in milliseconds.
func (t TimeOfDay) Milliseconds() int64 {
	return time.Duration(t).Milliseconds()
}

// String renders t as "15:04:05.000".
func (t TimeOfDay) String() string {
	offset := time.Duration(t)
	hours := offset / time.Hour
	offset -= hours * time.Hour
	minutes := offset / time.Minute
	offset -= minutes * time.Minute
	seconds := offset / time.Second
	offset -= seconds * time.Second
	return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, offset/time.Millisecond)
}

// TypeOf returns the ValueType whose Go representation is v's dynamic
// type, or TypeInvalid.
func TypeOf(v any) ValueType {
	switch v.(type) {
	case int32:
		return TypeInt
	case uint32:
		return TypeUInt
	case int64:
		return TypeLongLong
	case uint64:
		return TypeULongLong
	case float64:
		return TypeDouble
	case string:
		return TypeString
	case time.Time:
		return TypeDateTime
	case TimeOfDay:
		return TypeTime
	}
	return TypeInvalid
}

// InferType guesses a ValueType for a wire value that arrived without
// a registration. Integers that fit int64 become LongLong.
func InferType(wire any) ValueType {
	switch value := wire.(type) {
	case uint64:
		if value > math.MaxInt64 {
			return TypeULongLong
		}
		return TypeLongLong
	case int64:
		return TypeLongLong
	case float64:
		return TypeDouble
	case string:
		return TypeString
	}
	return TypeInvalid
}

// Coerce converts v to the Go representation of t. v may be a decoded
// wire value or any native Go numeric, string or time value.
func Coerce(t ValueType, v any) (any, error) {
	switch t {
	case TypeInt:
		n, err := signed(v)
		if err != nil {
			return nil, err
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("%w: %d for Int", ErrValueOutOfRange, n)
		}
		return int32(n), nil
	case TypeUInt:
		n, err := unsigned(v)
		if err != nil {
			return nil, err
		}
		if n > math.MaxUint32 {
			return nil, fmt.Errorf("%w: %d for UInt", ErrValueOutOfRange, n)
		}
		return uint32(n), nil
	case TypeLongLong:
		return signed(v)
	case TypeULongLong:
		return unsigned(v)
	case TypeDouble:
		return float(v)
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return nil, mismatch(t, v)
	case TypeDateTime:
		if moment, ok := v.(time.Time); ok {
			return moment.UTC().Truncate(time.Millisecond), nil
		}
		milliseconds, err := signed(v)
		if err != nil {
			return nil, err
		}
		return time.UnixMilli(milliseconds).UTC(), nil
	case TypeTime:
		if timeOfDay, ok := v.(TimeOfDay); ok {
			v = uint64(timeOfDay.Milliseconds())
		}
		milliseconds, err := unsigned(v)
		if err != nil {
			return nil, err
		}
		if milliseconds >= uint64(day.Milliseconds()) {
			return nil, fmt.Errorf("%w: %dms since midnight", ErrValueOutOfRange, milliseconds)
		}
		return TimeOfDay(time.Duration(milliseconds) * time.Millisecond), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrInvalidType, uint8(t))
}

// WireValue converts a Go representation into its wire form.
func WireValue(v any) (any, error) {
	switch value := v.(type) {
	case int32:
		return int64(value), nil
	case uint32:
		return uint64(value), nil
	case int64, uint64, float64, string:
		return value, nil
	case time.Time:
		return value.UnixMilli(), nil
	case TimeOfDay:
		return uint64(value.Milliseconds()), nil
	}
	return nil, fmt.Errorf("%w: unsupported Go type %T", ErrValueMismatch, v)
}

// FormatValue renders a Go representation for logs and summaries.
func FormatValue(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case time.Time:
		return value.Format("2006-01-02T15:04:05.000Z07:00")
	case float64:
		return strconv.FormatFloat(value, 'g', -1, 64)
	case string:
		return value
	}
	return fmt.Sprint(v)
}

// valuesEqual compares two Go representations.
func valuesEqual(a, b any) bool {
	if aTime, ok := a.(time.Time); ok {
		bTime, ok := b.(time.Time)
		return ok && aTime.Equal(bTime)
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) || !reflect.TypeOf(a).Comparable() {
		return false
	}
	return a == b
}

func mismatch(t ValueType, v any) error {
	return fmt.Errorf("%w: %T for %s", ErrValueMismatch, v, t)
}

func signed(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d", ErrValueOutOfRange, n)
		}
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d", ErrValueOutOfRange, n)
		}
		return int64(n), nil
	}
	return 0, fmt.Errorf("%w: %T is not an integer", ErrValueMismatch, v)
}

func unsigned(v any) (uint64, error) {
	switch n := v.(type) {
	case uint:
		return uint64(n), nil
	case uint8:
		return uint64(n), nil
	case uint16:
		return uint64(n), nil
	case uint32:
		return uint64(n), nil
	case uint64:
		return n, nil
	}
	n, err := signed(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %d is negative", ErrValueOutOfRange, n)
	}
	return uint64(n), nil
}

func float(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	}
	if n, err := signed(v); err == nil {
		return float64(n), nil
	}
	if n, err := unsigned(v); err == nil {
		return float64(n), nil
	}
	return 0, fmt.Errorf("%w: %T for Double", ErrValueMismatch, v)
}
