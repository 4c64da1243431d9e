// Copyright 2026 The Globe Authors
// SPDX-License-Identifier: Apache-2.0

package eventlog

import (
	"context"
	"log/slog"

	"github.com/globe-monitor/globe/lib/channel"
	"github.com/globe-monitor/globe/lib/eventhub"
	"github.com/globe-monitor/globe/lib/logging"
)

// DefaultBatchSize bounds how many records one Append transaction
// carries.
const DefaultBatchSize = 256

// Sink queues channel events and writes them to a Log in batches. Its
// ObserveChannelEvent never blocks.
type Sink struct {
	log       *Log
	queue     *eventhub.Queue[Record]
	batchSize int
	logger    *slog.Logger
}

// NewSink returns a sink writing to log. Call Run to start writing.
func NewSink(log *Log, logger *slog.Logger) *Sink {
	return &Sink{
		log:       log,
		queue:     eventhub.NewQueue[Record](),
		batchSize: DefaultBatchSize,
		logger:    logging.OrDiscard(logger),
	}
}

// ObserveChannelEvent queues event. Events are dropped once the sink
// is closed.
func (s *Sink) ObserveChannelEvent(channelName string, event channel.Event) {
	if event.Kind == channel.EventMessagesRate {
		return
	}
	s.queue.Push(RecordOf(channelName, event))
}

// ForgetChannel keeps the history of removed channels.
func (s *Sink) ForgetChannel(string) {}

// Pending returns the number of queued, unwritten records.
func (s *Sink) Pending() int {
	return s.queue.Len()
}

// Run writes queued records until Close is called, then writes what
// is left and returns. If ctx ends first, Run writes what is queued at
// that moment and returns ctx.Err(). Write failures are logged and the
// failed batch is dropped.
func (s *Sink) Run(ctx context.Context) error {
	for {
		select {
		case <-s.queue.Notify():
			records, open := s.queue.Drain()
			s.write(ctx, records)
			if !open {
				return nil
			}
		case <-ctx.Done():
			records, _ := s.queue.Drain()
			s.write(context.WithoutCancel(ctx), records)
			return ctx.Err()
		}
	}
}

// Close stops accepting events. Run returns after writing the rest.
func (s *Sink) Close() {
	s.queue.Close()
}

func (s *Sink) write(ctx context.Context, records []Record) {
	for len(records) > 0 {
		batch := records[:min(len(records), s.batchSize)]
		records = records[len(batch):]
		if err := s.log.Append(ctx, batch...); err != nil {
			s.logger.Error("event log write failed", "records", len(batch), "error", err)
		}
	}
}
