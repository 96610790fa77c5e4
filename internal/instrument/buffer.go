package instrument

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"automation-core/internal/store"
)

var eventColumns = []string{"id", "trace_id", "span_id", "parent_span_id", "event_type", "source", "component", "action", "entity", "record_id", "duration_ms", "status", "metadata"}

// EventBuffer collects events in memory and periodically flushes them
// to the _events table in a batch insert.
type EventBuffer struct {
	mu      sync.Mutex
	events  []Event
	store   *store.Store
	maxSize int
	ticker  *time.Ticker
	done    chan struct{}
	stopped sync.Once
}

// NewEventBuffer creates a buffer that flushes on a timer or when full.
func NewEventBuffer(s *store.Store, maxSize int, flushIntervalMs int) *EventBuffer {
	if maxSize <= 0 {
		maxSize = 500
	}
	if flushIntervalMs <= 0 {
		flushIntervalMs = 100
	}
	eb := &EventBuffer{
		store:   s,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	eb.ticker = time.NewTicker(time.Duration(flushIntervalMs) * time.Millisecond)
	go eb.run()
	return eb
}

func (eb *EventBuffer) run() {
	for {
		select {
		case <-eb.done:
			return
		case <-eb.ticker.C:
			eb.Flush()
		}
	}
}

// Enqueue adds an event to the buffer. If the buffer is full, a flush
// is triggered asynchronously.
func (eb *EventBuffer) Enqueue(event Event) {
	eb.mu.Lock()
	eb.events = append(eb.events, event)
	shouldFlush := len(eb.events) >= eb.maxSize
	eb.mu.Unlock()
	if shouldFlush {
		go eb.Flush()
	}
}

// Pending returns the number of events waiting for the next flush.
func (eb *EventBuffer) Pending() int {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.events)
}

// Flush writes all buffered events to the database in a single batch insert.
func (eb *EventBuffer) Flush() {
	eb.mu.Lock()
	if len(eb.events) == 0 {
		eb.mu.Unlock()
		return
	}
	batch := eb.events
	eb.events = nil
	eb.mu.Unlock()

	if err := eb.insert(context.Background(), batch); err != nil {
		log.WithField("events", len(batch)).Errorf("Event buffer flush failed: %v", err)
	}
}

func (eb *EventBuffer) insert(ctx context.Context, batch []Event) error {
	tx, err := eb.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if stmt := eb.store.Dialect.SyncCommitOff(); stmt != "" {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("set sync commit: %w", err)
		}
	}

	pb := eb.store.Dialect.NewParamBuilder()
	placeholders := make([]string, 0, len(batch))
	for _, e := range batch {
		var metaJSON any
		if e.Metadata != nil {
			b, _ := json.Marshal(e.Metadata)
			metaJSON = string(b)
		}
		id := e.ID
		if id == "" {
			id = newUUID()
		}
		values := []any{id, e.TraceID, e.SpanID, e.ParentSpanID, e.EventType, e.Source, e.Component, e.Action, e.Entity, e.RecordID, e.DurationMs, e.Status, metaJSON}
		ph := make([]string, len(values))
		for j, v := range values {
			ph[j] = pb.Add(v)
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ",")+")")
	}

	sqlStr := fmt.Sprintf("INSERT INTO _events (%s) VALUES %s", strings.Join(eventColumns, ","), strings.Join(placeholders, ","))
	if _, err := tx.ExecContext(ctx, sqlStr, pb.Params()...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Stop halts the background ticker and flushes remaining events. It is safe
// to call more than once.
func (eb *EventBuffer) Stop() {
	eb.stopped.Do(func() {
		eb.ticker.Stop()
		close(eb.done)
		eb.Flush()
	})
}
