package engine

import (
	"context"
	"math"
	"sync"
	"time"
)

const (
	// DefaultLogCapacity bounds the in-memory delivery log.
	DefaultLogCapacity = 1000
	// DefaultSnapshotSize is the number of newest entries handed to the sink.
	DefaultSnapshotSize = 100
)

// LogEntry records one HTTP delivery attempt.
type LogEntry struct {
	ID           string          `json:"id"`
	Timestamp    time.Time       `json:"timestamp"`
	EndpointID   string          `json:"webhook_id"`
	EndpointName string          `json:"webhook_name"`
	URL          string          `json:"url"`
	Event        string          `json:"event"`
	Success      bool            `json:"success"`
	StatusCode   *int            `json:"status_code"`
	ResponseTime int64           `json:"response_time"` // milliseconds
	Error        *string         `json:"error"`
	Payload      *WebhookPayload `json:"payload"`
	Attempt      int             `json:"attempt"`
}

// LogSink persists a trimmed snapshot of the delivery log.
type LogSink interface {
	SaveLogs(ctx context.Context, entries []*LogEntry) error
	// ClearLogs drops the persisted snapshot.
	ClearLogs(ctx context.Context) error
}

// Stats aggregates the logged attempts of a single endpoint.
type Stats struct {
	TotalCalls          int `json:"total_calls"`
	SuccessfulCalls     int `json:"successful_calls"`
	FailedCalls         int `json:"failed_calls"`
	SuccessRate         int `json:"success_rate"`          // percent, rounded
	AverageResponseTime int `json:"average_response_time"` // ms, rounded
}

// DeliveryLog is a capped, newest-first list of log entries.
type DeliveryLog struct {
	mu       sync.RWMutex
	entries  []*LogEntry
	capacity int
}

func NewDeliveryLog(capacity int) *DeliveryLog {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &DeliveryLog{capacity: capacity}
}

// Append adds e at the front and evicts the oldest entries beyond capacity.
func (l *DeliveryLog) Append(e *LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, nil)
	copy(l.entries[1:], l.entries)
	l.entries[0] = e
	if len(l.entries) > l.capacity {
		for i := l.capacity; i < len(l.entries); i++ {
			l.entries[i] = nil
		}
		l.entries = l.entries[:l.capacity]
	}
}

// Entries returns a copy of the log, newest first.
func (l *DeliveryLog) Entries() []*LogEntry {
	return l.Newest(0)
}

// Newest returns up to n newest entries; n <= 0 means all.
func (l *DeliveryLog) Newest(n int) []*LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]*LogEntry, n)
	copy(out, l.entries[:n])
	return out
}

// Len returns the number of stored entries.
func (l *DeliveryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Load replaces the log contents, e.g. from a persisted snapshot. Nil
// entries are dropped.
func (l *DeliveryLog) Load(entries []*LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make([]*LogEntry, 0, min(len(entries), l.capacity))
	for _, e := range entries {
		if e == nil {
			continue
		}
		if len(l.entries) == l.capacity {
			break
		}
		l.entries = append(l.entries, e)
	}
}

// Clear drops every entry.
func (l *DeliveryLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

// Stats computes aggregate figures for endpointID. An endpoint with no
// logged attempts gets all-zero stats.
func (l *DeliveryLog) Stats(endpointID string) Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var s Stats
	var totalTime int64
	for _, e := range l.entries {
		if e.EndpointID != endpointID {
			continue
		}
		s.TotalCalls++
		if e.Success {
			s.SuccessfulCalls++
		} else {
			s.FailedCalls++
		}
		totalTime += e.ResponseTime
	}
	if s.TotalCalls == 0 {
		return Stats{}
	}
	s.SuccessRate = int(math.Round(float64(s.SuccessfulCalls) / float64(s.TotalCalls) * 100))
	s.AverageResponseTime = int(math.Round(float64(totalTime) / float64(s.TotalCalls)))
	return s
}
