package instrument

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Source names the subsystem that opened a span. It fills _events.source
// and decides _events.component.
type Source string

const (
	SourceHTTP     Source = "http"
	SourceWebhook  Source = "webhook"
	SourceAI       Source = "ai"
	SourceBusiness Source = "business"
)

func (s Source) component() string {
	switch s {
	case SourceHTTP:
		return "handler"
	case SourceWebhook:
		return "dispatcher"
	case SourceAI:
		return "gateway"
	default:
		return "core"
	}
}

// Actions written to _events.action.
const (
	ActionRequest        = "request"
	ActionTrigger        = "webhook.trigger"
	ActionDeliver        = "webhook.dispatch"
	ActionGenerate       = "ai.generate"
	ActionFallback       = "ai.fallback"
	ActionWebhookCreated = "webhook.created"
	ActionWebhookDeleted = "webhook.deleted"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Request describes an inbound API call.
type Request struct {
	Method     string
	Path       string
	StatusCode int
}

// Delivery describes one webhook POST attempt.
type Delivery struct {
	EndpointID string
	URL        string
	Event      string
	Attempt    int
	StatusCode int
}

// Generation describes one call to an AI provider.
type Generation struct {
	ProviderID   string
	Family       string
	Model        string
	Tokens       int
	FallbackFrom string
}

func (r Request) attrs() map[string]any {
	m := map[string]any{"method": r.Method, "path": r.Path}
	if r.StatusCode != 0 {
		m["status_code"] = r.StatusCode
	}
	return m
}

func (d Delivery) attrs() map[string]any {
	m := map[string]any{"endpoint_id": d.EndpointID, "url": d.URL, "event": d.Event, "attempt": d.Attempt}
	if d.StatusCode != 0 {
		m["status_code"] = d.StatusCode
	}
	return m
}

func (g Generation) attrs() map[string]any {
	m := map[string]any{"provider": g.ProviderID, "family": g.Family, "model": g.Model}
	if g.Tokens > 0 {
		m["tokens"] = g.Tokens
	}
	if g.FallbackFrom != "" {
		m["fallback_from"] = g.FallbackFrom
	}
	return m
}

// Instrumenter opens spans and records one-shot business events.
type Instrumenter interface {
	StartSpan(ctx context.Context, source Source, action string) (context.Context, Span)
	// EmitEndpointChange records a webhook registration change.
	EmitEndpointChange(ctx context.Context, action, endpointID string)
	// EmitFallback records a generation served by a fallback provider.
	EmitFallback(ctx context.Context, g Generation)
}

// Span is a timed operation. The typed setters may be called more than
// once; later values win.
type Span interface {
	Request(r Request)
	Trigger(event string, recipients int)
	Delivery(d Delivery)
	Generation(g Generation)
	Succeed()
	Fail(reason string)
	End()
	TraceID() string
	SpanID() string
}

// Event represents a row in the _events table.
type Event struct {
	ID           string         `json:"id"`
	TraceID      string         `json:"trace_id"`
	SpanID       string         `json:"span_id"`
	ParentSpanID *string        `json:"parent_span_id"`
	EventType    string         `json:"event_type"`
	Source       string         `json:"source"`
	Component    string         `json:"component"`
	Action       string         `json:"action"`
	Entity       *string        `json:"entity"`
	RecordID     *string        `json:"record_id"`
	DurationMs   *float64       `json:"duration_ms"`
	Status       *string        `json:"status"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

func newUUID() string {
	return uuid.New().String()
}

type ctxKey int

const (
	traceIDKey ctxKey = iota
	parentSpanIDKey
	instrumenterKey
)

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

func withParentSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, parentSpanIDKey, spanID)
}

func parentSpanID(ctx context.Context) *string {
	if id, _ := ctx.Value(parentSpanIDKey).(string); id != "" {
		return &id
	}
	return nil
}

func WithInstrumenter(ctx context.Context, inst Instrumenter) context.Context {
	return context.WithValue(ctx, instrumenterKey, inst)
}

// GetInstrumenter returns the request's instrumenter, or a no-op one when
// tracing is off for this context.
func GetInstrumenter(ctx context.Context) Instrumenter {
	if inst, ok := ctx.Value(instrumenterKey).(Instrumenter); ok {
		return inst
	}
	return &NoopInstrumenter{}
}

// Tracer writes spans and business events to an EventBuffer.
type Tracer struct {
	buffer *EventBuffer
}

func NewTracer(buffer *EventBuffer) *Tracer {
	return &Tracer{buffer: buffer}
}

// StartSpan opens a span; spans started from the returned context become
// its children.
func (t *Tracer) StartSpan(ctx context.Context, source Source, action string) (context.Context, Span) {
	s := &span{
		buffer:  t.buffer,
		started: time.Now(),
		event: Event{
			TraceID:      GetTraceID(ctx),
			SpanID:       newUUID(),
			ParentSpanID: parentSpanID(ctx),
			EventType:    "system",
			Source:       string(source),
			Component:    source.component(),
			Action:       action,
			Metadata:     make(map[string]any),
		},
	}
	return withParentSpanID(ctx, s.event.SpanID), s
}

func (t *Tracer) EmitEndpointChange(ctx context.Context, action, endpointID string) {
	t.emit(ctx, action, "webhook", endpointID, nil)
}

func (t *Tracer) EmitFallback(ctx context.Context, g Generation) {
	t.emit(ctx, ActionFallback, "provider", g.ProviderID, g.attrs())
}

func (t *Tracer) emit(ctx context.Context, action, entity, recordID string, attrs map[string]any) {
	t.buffer.Enqueue(Event{
		ID:           newUUID(),
		TraceID:      GetTraceID(ctx),
		SpanID:       newUUID(),
		ParentSpanID: parentSpanID(ctx),
		EventType:    "business",
		Source:       string(SourceBusiness),
		Component:    SourceBusiness.component(),
		Action:       action,
		Entity:       &entity,
		RecordID:     &recordID,
		Metadata:     attrs,
	})
}

type span struct {
	mu      sync.Mutex
	buffer  *EventBuffer
	started time.Time
	event   Event
	ended   bool
}

func (s *span) TraceID() string { return s.event.TraceID }
func (s *span) SpanID() string  { return s.event.SpanID }

func (s *span) Request(r Request) {
	s.merge("", "", r.attrs())
}

func (s *span) Trigger(event string, recipients int) {
	s.merge("event", event, map[string]any{"event": event, "recipients": recipients})
}

func (s *span) Delivery(d Delivery) {
	s.merge("webhook", d.EndpointID, d.attrs())
}

func (s *span) Generation(g Generation) {
	s.merge("provider", g.ProviderID, g.attrs())
}

func (s *span) Succeed() {
	s.setStatus(StatusOK, "")
}

func (s *span) Fail(reason string) {
	s.setStatus(StatusError, reason)
}

func (s *span) merge(entity, recordID string, attrs map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entity != "" {
		s.event.Entity = &entity
		s.event.RecordID = &recordID
	}
	for k, v := range attrs {
		s.event.Metadata[k] = v
	}
}

func (s *span) setStatus(status, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.event.Status = &status
	if reason != "" {
		s.event.Metadata["error"] = reason
	} else {
		delete(s.event.Metadata, "error")
	}
}

// End enqueues the span once; further calls are ignored.
func (s *span) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true

	ms := float64(time.Since(s.started).Microseconds()) / 1000.0
	e := s.event
	e.ID = newUUID()
	e.DurationMs = &ms
	if len(e.Metadata) == 0 {
		e.Metadata = nil
	}
	s.buffer.Enqueue(e)
}
