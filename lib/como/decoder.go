// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package como

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/globe-monitor/globe/lib/codec"
	"github.com/globe-monitor/globe/lib/source"
)

// Decoder turns an arbitrarily chunked byte stream into messages. The
// zero value is ready to use. A Decoder is not safe for concurrent use.
type Decoder struct {
	buffer   []byte
	err      error
	rejected []byte
}

// Feed appends data to the stream and returns every message that is
// now complete, in stream order. An incomplete trailing frame stays
// buffered for the next call.
//
// On a malformed frame Feed returns the messages decoded before it
// together with an error wrapping ErrDecode. The stream cannot be
// resynchronized after that: every later call returns the same error.
func (d *Decoder) Feed(data []byte) ([]Message, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.buffer = append(d.buffer, data...)

	var messages []Message
	offset := 0
	for {
		frame := d.buffer[offset:]
		if err := checkHeader(frame); err != nil {
			d.err = err
			break
		}
		if len(frame) < HeaderLength {
			break
		}
		frameLength := HeaderLength + int(binary.BigEndian.Uint32(frame[2:HeaderLength]))
		if len(frame) < frameLength {
			break
		}
		payload := frame[HeaderLength:frameLength]
		message, err := decodePayload(Kind(frame[1]), payload)
		if err != nil {
			d.err = err
			d.rejected = bytes.Clone(payload)
			break
		}
		messages = append(messages, message)
		offset += frameLength
	}

	if d.err != nil {
		d.buffer = nil
		return messages, d.err
	}
	remaining := copy(d.buffer, d.buffer[offset:])
	d.buffer = d.buffer[:remaining]
	return messages, nil
}

// Buffered returns the number of bytes held for an incomplete frame.
func (d *Decoder) Buffered() int {
	return len(d.buffer)
}

// Rejected returns the payload of the frame that poisoned the decoder,
// or nil if the error was in a frame header or there is no error.
func (d *Decoder) Rejected() []byte {
	return d.rejected
}

// Reset discards buffered bytes and clears a previous error, for reuse
// on a new connection.
func (d *Decoder) Reset() {
	d.buffer = d.buffer[:0]
	d.err = nil
	d.rejected = nil
}

// checkHeader validates as much of the header as frame contains, so a
// stream with a bad version byte fails before the rest arrives.
func checkHeader(frame []byte) error {
	if len(frame) >= 1 && frame[0] != ProtocolVersion {
		return fmt.Errorf("%w: unsupported protocol version %d", ErrDecode, frame[0])
	}
	if len(frame) >= 2 && !Kind(frame[1]).valid() {
		return fmt.Errorf("%w: unknown message kind %s", ErrDecode, Kind(frame[1]))
	}
	if len(frame) >= HeaderLength {
		length := binary.BigEndian.Uint32(frame[2:HeaderLength])
		if length > MaxPayloadLength {
			return fmt.Errorf("%w: payload length %d exceeds maximum %d", ErrDecode, length, MaxPayloadLength)
		}
	}
	return nil
}

func decodePayload(kind Kind, payload []byte) (Message, error) {
	switch kind {
	case KindGetListOfSources:
		return GetListOfSources(), nil

	case KindSourceRegistered:
		var decoded registeredPayload
		if err := codec.Unmarshal(payload, &decoded); err != nil {
			return Message{}, fmt.Errorf("%w: %s payload: %w", ErrDecode, kind, err)
		}
		if decoded.Name == "" {
			return Message{}, fmt.Errorf("%w: %s without a source name", ErrDecode, kind)
		}
		valueType := source.ValueType(decoded.Type)
		if !valueType.Valid() {
			return Message{}, fmt.Errorf("%w: %s/%s has value type %d", ErrDecode, decoded.TypeName, decoded.Name, decoded.Type)
		}
		value, err := source.Coerce(valueType, decoded.Value)
		if err != nil {
			return Message{}, fmt.Errorf("%w: %s/%s: %w", ErrDecode, decoded.TypeName, decoded.Name, err)
		}
		return Message{
			Kind:        kind,
			Type:        valueType,
			Name:        decoded.Name,
			TypeName:    decoded.TypeName,
			Value:       value,
			Timestamp:   fromUnixMilli(decoded.Timestamp),
			Description: decoded.Description,
		}, nil

	case KindSourceUpdated:
		var decoded updatedPayload
		if err := codec.Unmarshal(payload, &decoded); err != nil {
			return Message{}, fmt.Errorf("%w: %s payload: %w", ErrDecode, kind, err)
		}
		if decoded.Name == "" {
			return Message{}, fmt.Errorf("%w: %s without a source name", ErrDecode, kind)
		}
		if source.InferType(decoded.Value) == source.TypeInvalid {
			return Message{}, fmt.Errorf("%w: %s/%s carries unsupported value %T", ErrDecode, decoded.TypeName, decoded.Name, decoded.Value)
		}
		return Message{
			Kind:      kind,
			Name:      decoded.Name,
			TypeName:  decoded.TypeName,
			Value:     decoded.Value,
			Timestamp: fromUnixMilli(decoded.Timestamp),
		}, nil

	case KindSourceDeregistered:
		var decoded deregisteredPayload
		if err := codec.Unmarshal(payload, &decoded); err != nil {
			return Message{}, fmt.Errorf("%w: %s payload: %w", ErrDecode, kind, err)
		}
		if decoded.Name == "" {
			return Message{}, fmt.Errorf("%w: %s without a source name", ErrDecode, kind)
		}
		return Message{Kind: kind, Name: decoded.Name, TypeName: decoded.TypeName}, nil
	}
	return Message{}, fmt.Errorf("%w: unknown message kind %s", ErrDecode, kind)
}
