// Coscribe - Real-Time Document Collaboration Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coscribe

// Package audit persists access-log records without blocking the relay.
// Records flow through a bounded queue to a single writer goroutine;
// when the queue is full the record is dropped and counted, never
// queued unboundedly.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/coscribe/internal/logging"
	"github.com/tomtom215/coscribe/internal/metrics"
	"github.com/tomtom215/coscribe/internal/relay"
)

const writeTimeout = 10 * time.Second

// Store is the persistence backend for audit records.
type Store interface {
	SaveAccessLog(ctx context.Context, rec relay.AuditRecord) error
}

// Logger implements relay.AuditSink with an asynchronous writer.
type Logger struct {
	store  Store
	events chan relay.AuditRecord

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewLogger starts the writer goroutine. bufferSize bounds the number of
// records in flight; zero or negative selects a default.
func NewLogger(store Store, bufferSize int) *Logger {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	l := &Logger{
		store:  store,
		events: make(chan relay.AuditRecord, bufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// Append queues one record. Never blocks: a full queue drops the record
// and increments a counter so the loss is visible.
func (l *Logger) Append(rec relay.AuditRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	select {
	case l.events <- rec:
		metrics.AuditQueueDepth.Set(float64(len(l.events)))
	default:
		metrics.AuditRecordsDropped.Inc()
		logging.Warn().
			Str("document_id", rec.DocumentID).
			Str("action", rec.Action).
			Msg("audit queue full, record dropped")
	}
}

// Close stops the writer after draining queued records. Safe to call
// more than once.
func (l *Logger) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done
}

func (l *Logger) run() {
	defer close(l.done)

	for {
		select {
		case rec := <-l.events:
			l.write(rec)
			metrics.AuditQueueDepth.Set(float64(len(l.events)))

		case <-l.stop:
			// Drain whatever was queued before the stop signal.
			for {
				select {
				case rec := <-l.events:
					l.write(rec)
				default:
					metrics.AuditQueueDepth.Set(0)
					return
				}
			}
		}
	}
}

func (l *Logger) write(rec relay.AuditRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := l.store.SaveAccessLog(ctx, rec); err != nil {
		logging.Error().
			Err(err).
			Str("document_id", rec.DocumentID).
			Str("action", rec.Action).
			Msg("failed to persist audit record")
	}
}
