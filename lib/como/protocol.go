// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package como

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/globe-monitor/globe/lib/codec"
	"github.com/globe-monitor/globe/lib/source"
)

// ProtocolVersion is the first byte of every frame.
const ProtocolVersion byte = 1

// HeaderLength is the fixed frame header size: version, kind, and a
// 4-byte big-endian payload length.
const HeaderLength = 6

// MaxPayloadLength bounds a single payload. Source messages are a few
// dozen bytes; anything near this limit is a corrupt or hostile stream.
const MaxPayloadLength = 1 << 20

// Kind identifies a message.
type Kind byte

const (
	// KindGetListOfSources asks the server to (re-)announce every live
	// source. Client→server, empty payload.
	KindGetListOfSources Kind = 0x01

	// KindSourceRegistered announces a source with all its attributes.
	KindSourceRegistered Kind = 0x02

	// KindSourceUpdated carries a new value and timestamp for a source
	// identified by name and type name.
	KindSourceUpdated Kind = 0x03

	// KindSourceDeregistered announces that a source no longer exists.
	KindSourceDeregistered Kind = 0x04
)

func (k Kind) String() string {
	switch k {
	case KindGetListOfSources:
		return "GetListOfSources"
	case KindSourceRegistered:
		return "SourceRegistered"
	case KindSourceUpdated:
		return "SourceUpdated"
	case KindSourceDeregistered:
		return "SourceDeregistered"
	}
	return fmt.Sprintf("Kind(0x%02x)", byte(k))
}

func (k Kind) valid() bool {
	return k >= KindGetListOfSources && k <= KindSourceDeregistered
}

var (
	// ErrDecode wraps every error from Decoder.Feed.
	ErrDecode = errors.New("como: decode error")

	// ErrInvalidMessage is returned by Encode for a message that cannot
	// be represented on the wire.
	ErrInvalidMessage = errors.New("como: invalid message")
)

// Message is one decoded protocol message. Which fields are meaningful
// depends on Kind:
//
//   - GetListOfSources: none.
//   - SourceRegistered: all. Value is the Go representation of Type.
//   - SourceUpdated: Name, TypeName, Value, Timestamp. After decoding,
//     Value is still in wire form (uint64, int64, float64 or string)
//     because the type is only known from the registration.
//   - SourceDeregistered: Name, TypeName.
//
// A zero Timestamp means the sender did not provide one.
type Message struct {
	Kind        Kind
	Type        source.ValueType
	Name        string
	TypeName    string
	Value       any
	Timestamp   time.Time
	Description string
}

// Key returns the identity of the source the message is about.
func (m Message) Key() source.Key {
	return source.Key{Name: m.Name, TypeName: m.TypeName}
}

// Source returns the source carried by a SourceRegistered message.
func (m Message) Source() source.Source {
	return source.Source{
		Type:        m.Type,
		Name:        m.Name,
		TypeName:    m.TypeName,
		Value:       m.Value,
		Timestamp:   m.Timestamp,
		Description: m.Description,
	}
}

// GetListOfSources returns the list request message.
func GetListOfSources() Message {
	return Message{Kind: KindGetListOfSources}
}

// Registered returns a SourceRegistered message for s.
func Registered(s source.Source) Message {
	return Message{
		Kind:        KindSourceRegistered,
		Type:        s.Type,
		Name:        s.Name,
		TypeName:    s.TypeName,
		Value:       s.Value,
		Timestamp:   s.Timestamp,
		Description: s.Description,
	}
}

// Updated returns a SourceUpdated message.
func Updated(key source.Key, value any, timestamp time.Time) Message {
	return Message{
		Kind:      KindSourceUpdated,
		Name:      key.Name,
		TypeName:  key.TypeName,
		Value:     value,
		Timestamp: timestamp,
	}
}

// Deregistered returns a SourceDeregistered message.
func Deregistered(key source.Key) Message {
	return Message{Kind: KindSourceDeregistered, Name: key.Name, TypeName: key.TypeName}
}

// CBOR payload shapes, one per kind.

type registeredPayload struct {
	Type        uint8  `cbor:"type"`
	Name        string `cbor:"name"`
	TypeName    string `cbor:"type_name"`
	Value       any    `cbor:"value"`
	Description string `cbor:"description"`
	Timestamp   *int64 `cbor:"timestamp,omitempty"`
}

type updatedPayload struct {
	Name      string `cbor:"name"`
	TypeName  string `cbor:"type_name"`
	Value     any    `cbor:"value"`
	Timestamp *int64 `cbor:"timestamp,omitempty"`
}

type deregisteredPayload struct {
	Name     string `cbor:"name"`
	TypeName string `cbor:"type_name"`
}

// Encode returns the complete frame for m.
func Encode(m Message) ([]byte, error) {
	payload, err := encodePayload(m)
	if err != nil {
		return nil, err
	}
	if len(payload) > MaxPayloadLength {
		return nil, fmt.Errorf("%w: %s payload length %d exceeds maximum %d",
			ErrInvalidMessage, m.Kind, len(payload), MaxPayloadLength)
	}
	frame := make([]byte, HeaderLength+len(payload))
	frame[0] = ProtocolVersion
	frame[1] = byte(m.Kind)
	binary.BigEndian.PutUint32(frame[2:HeaderLength], uint32(len(payload)))
	copy(frame[HeaderLength:], payload)
	return frame, nil
}

// WriteMessage encodes m and writes the frame to w in a single Write.
func WriteMessage(w io.Writer, m Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write %s: %w", m.Kind, err)
	}
	return nil
}

func encodePayload(m Message) ([]byte, error) {
	if m.Kind != KindGetListOfSources && m.Name == "" {
		return nil, fmt.Errorf("%w: %s without a source name", ErrInvalidMessage, m.Kind)
	}
	switch m.Kind {
	case KindGetListOfSources:
		return nil, nil

	case KindSourceRegistered:
		if !m.Type.Valid() {
			return nil, fmt.Errorf("%w: %s has value type %d", ErrInvalidMessage, m.Key(), uint8(m.Type))
		}
		wire, err := source.WireValue(m.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidMessage, m.Key(), err)
		}
		if _, err := source.Coerce(m.Type, wire); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidMessage, m.Key(), err)
		}
		return codec.Marshal(registeredPayload{
			Type:        uint8(m.Type),
			Name:        m.Name,
			TypeName:    m.TypeName,
			Value:       wire,
			Description: m.Description,
			Timestamp:   unixMilli(m.Timestamp),
		})

	case KindSourceUpdated:
		wire, err := source.WireValue(m.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidMessage, m.Key(), err)
		}
		return codec.Marshal(updatedPayload{
			Name:      m.Name,
			TypeName:  m.TypeName,
			Value:     wire,
			Timestamp: unixMilli(m.Timestamp),
		})

	case KindSourceDeregistered:
		return codec.Marshal(deregisteredPayload{Name: m.Name, TypeName: m.TypeName})
	}
	return nil, fmt.Errorf("%w: unknown kind %s", ErrInvalidMessage, m.Kind)
}

func unixMilli(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	milliseconds := t.UnixMilli()
	return &milliseconds
}

func fromUnixMilli(milliseconds *int64) time.Time {
	if milliseconds == nil {
		return time.Time{}
	}
	return time.UnixMilli(*milliseconds).UTC()
}
