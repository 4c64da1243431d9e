// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package eventlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/globe-monitor/globe/lib/channel"
	"github.com/globe-monitor/globe/lib/clock"
	"github.com/globe-monitor/globe/lib/codec"
	"github.com/globe-monitor/globe/lib/logging"
	"github.com/globe-monitor/globe/lib/source"
	"github.com/globe-monitor/globe/lib/sqlitepool"
)

// DefaultQueryLimit caps Query results when Filter.Limit is not
// positive.
const DefaultQueryLimit = 100

var schema = []string{`
CREATE TABLE channel_events (
	id             INTEGER PRIMARY KEY,
	time_ms        INTEGER NOT NULL,
	channel        TEXT    NOT NULL,
	session        BLOB,
	kind           INTEGER NOT NULL,
	source_id      BLOB,
	source_name    TEXT,
	type_name      TEXT,
	value_type     INTEGER,
	value          BLOB,
	value_text     TEXT,
	source_time_ms INTEGER,
	description    TEXT,
	rate           INTEGER,
	error_kind     INTEGER,
	error          TEXT
);
CREATE INDEX channel_events_channel_time ON channel_events (channel, time_ms);
CREATE INDEX channel_events_source_time ON channel_events (source_id, time_ms);
`}

const selectColumns = "id, time_ms, channel, session, kind, source_id, source_name, type_name, " +
	"value_type, value, source_time_ms, description, rate, error_kind, error"

// Config configures Open. Path is required.
type Config struct {
	Path     string
	PoolSize int

	// Clock stamps records whose Time is zero. Defaults to
	// clock.Real().
	Clock  clock.Clock
	Logger *slog.Logger
}

// Log is an append-only store of channel events. Safe for concurrent
// use.
type Log struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// Filter selects records for Query. Zero fields do not filter.
type Filter struct {
	Channel string

	// Source restricts results to one source. It requires Channel.
	Source *source.Key

	Kinds []channel.EventKind

	// Since is inclusive, Until exclusive.
	Since time.Time
	Until time.Time

	Limit int
}

// Open opens or creates the log database.
func Open(config Config) (*Log, error) {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	logger := logging.OrDiscard(config.Logger)
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     config.Path,
		PoolSize: config.PoolSize,
		Schema:   schema,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("eventlog: %w", err)
	}
	return &Log{pool: pool, clock: config.Clock, logger: logger}, nil
}

// Close closes the database.
func (l *Log) Close() error {
	return l.pool.Close()
}

// Append stores records in one transaction. Either all of them are
// stored or none.
func (l *Log) Append(ctx context.Context, records ...Record) (err error) {
	if len(records) == 0 {
		return nil
	}
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("eventlog: append: %w", err)
	}
	defer l.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("eventlog: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for index := range records {
		if err = l.insert(conn, &records[index]); err != nil {
			return err
		}
	}
	return nil
}

func (l *Log) insert(conn *sqlite.Conn, record *Record) error {
	if record.Time.IsZero() {
		record.Time = l.clock.Now()
	}
	args := []any{
		record.Time.UnixMilli(),
		record.Channel,
		sessionArg(record.Session),
		int64(record.Kind),
	}

	switch record.Kind {
	case channel.EventSourceUpdated, channel.EventSourceDeregistered:
		value, valueText, err := encodeValue(record.Source.Value)
		if err != nil {
			return fmt.Errorf("eventlog: %s: %w", record.Source.Key(), err)
		}
		var valueType, sourceTime any
		if record.Source.Type.Valid() {
			valueType = int64(record.Source.Type)
		}
		if !record.Source.Timestamp.IsZero() {
			sourceTime = record.Source.Timestamp.UnixMilli()
		}
		args = append(args,
			record.SourceID[:],
			record.Source.Name,
			record.Source.TypeName,
			valueType,
			value,
			valueText,
			sourceTime,
			record.Source.Description,
		)
	default:
		args = append(args, nil, nil, nil, nil, nil, nil, nil, nil)
	}

	switch record.Kind {
	case channel.EventMessagesRate:
		args = append(args, int64(record.Rate), nil, nil)
	case channel.EventError:
		args = append(args, nil, int64(record.ErrorKind), record.Error)
	default:
		args = append(args, nil, nil, nil)
	}

	err := sqlitex.Execute(conn,
		"INSERT INTO channel_events (time_ms, channel, session, kind, source_id, source_name, type_name, "+
			"value_type, value, value_text, source_time_ms, description, rate, error_kind, error) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		&sqlitex.ExecOptions{Args: args})
	if err != nil {
		return fmt.Errorf("eventlog: insert %s event for %q: %w", record.Kind, record.Channel, err)
	}
	record.ID = conn.LastInsertRowID()
	return nil
}

// Query returns matching records, newest first.
func (l *Log) Query(ctx context.Context, filter Filter) ([]Record, error) {
	if filter.Source != nil && filter.Channel == "" {
		return nil, errors.New("eventlog: a source filter requires a channel")
	}
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query: %w", err)
	}
	defer l.pool.Put(conn)

	var conditions []string
	var args []any
	if filter.Channel != "" {
		conditions = append(conditions, "channel = ?")
		args = append(args, filter.Channel)
	}
	if filter.Source != nil {
		id := SourceIDOf(filter.Channel, *filter.Source)
		conditions = append(conditions, "source_id = ?")
		args = append(args, id[:])
	}
	if len(filter.Kinds) > 0 {
		placeholders := make([]string, len(filter.Kinds))
		for index, kind := range filter.Kinds {
			placeholders[index] = "?"
			args = append(args, int64(kind))
		}
		conditions = append(conditions, "kind IN ("+strings.Join(placeholders, ", ")+")")
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "time_ms >= ?")
		args = append(args, filter.Since.UnixMilli())
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "time_ms < ?")
		args = append(args, filter.Until.UnixMilli())
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	query := "SELECT " + selectColumns + " FROM channel_events"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	var records []Record
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			record, err := scanRecord(stmt)
			if err != nil {
				return err
			}
			records = append(records, record)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("eventlog: query: %w", err)
	}
	return records, nil
}

// Prune deletes records older than before and returns how many were
// deleted.
func (l *Log) Prune(ctx context.Context, before time.Time) (int, error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("eventlog: prune: %w", err)
	}
	defer l.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM channel_events WHERE time_ms < ?", &sqlitex.ExecOptions{
		Args: []any{before.UnixMilli()},
	})
	if err != nil {
		return 0, fmt.Errorf("eventlog: prune: %w", err)
	}
	deleted := conn.Changes()
	if deleted > 0 {
		l.logger.Info("event log pruned", "before", before, "deleted", deleted)
	}
	return deleted, nil
}

func scanRecord(stmt *sqlite.Stmt) (Record, error) {
	record := Record{
		ID:      stmt.ColumnInt64(0),
		Time:    time.UnixMilli(stmt.ColumnInt64(1)).UTC(),
		Channel: stmt.ColumnText(2),
		Kind:    channel.EventKind(stmt.ColumnInt64(4)),
	}
	if session := columnBlob(stmt, 3); len(session) > 0 {
		parsed, err := uuid.FromBytes(session)
		if err != nil {
			return Record{}, fmt.Errorf("eventlog: record %d: session: %w", record.ID, err)
		}
		record.Session = parsed
	}

	switch record.Kind {
	case channel.EventSourceUpdated, channel.EventSourceDeregistered:
		copy(record.SourceID[:], columnBlob(stmt, 5))
		record.Source = source.Source{
			Name:        stmt.ColumnText(6),
			TypeName:    stmt.ColumnText(7),
			Description: stmt.ColumnText(11),
		}
		if stmt.ColumnType(8) != sqlite.TypeNull {
			record.Source.Type = source.ValueType(stmt.ColumnInt64(8))
			value, err := decodeValue(record.Source.Type, columnBlob(stmt, 9))
			if err != nil {
				return Record{}, fmt.Errorf("eventlog: record %d: %w", record.ID, err)
			}
			record.Source.Value = value
		}
		if stmt.ColumnType(10) != sqlite.TypeNull {
			record.Source.Timestamp = time.UnixMilli(stmt.ColumnInt64(10)).UTC()
		}
	case channel.EventMessagesRate:
		record.Rate = int(stmt.ColumnInt64(12))
	case channel.EventError:
		record.ErrorKind = channel.ErrorKind(stmt.ColumnInt64(13))
		record.Error = stmt.ColumnText(14)
	}
	return record, nil
}

func columnBlob(stmt *sqlite.Stmt, column int) []byte {
	if stmt.ColumnType(column) == sqlite.TypeNull {
		return nil
	}
	buffer := make([]byte, stmt.ColumnLen(column))
	stmt.ColumnBytes(column, buffer)
	return buffer
}

func sessionArg(session uuid.UUID) any {
	if session == uuid.Nil {
		return nil
	}
	return session[:]
}

// encodeValue returns the CBOR blob and display text for a Go value,
// or two nils for a missing value.
func encodeValue(value any) (any, any, error) {
	if value == nil {
		return nil, nil, nil
	}
	wire, err := source.WireValue(value)
	if err != nil {
		return nil, nil, err
	}
	blob, err := codec.Marshal(wire)
	if err != nil {
		return nil, nil, fmt.Errorf("encode value: %w", err)
	}
	return blob, source.FormatValue(value), nil
}

func decodeValue(valueType source.ValueType, blob []byte) (any, error) {
	if blob == nil {
		return nil, nil
	}
	var wire any
	if err := codec.Unmarshal(blob, &wire); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return source.Coerce(valueType, wire)
}
