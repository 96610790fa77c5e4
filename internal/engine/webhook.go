package engine

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"automation-core/internal/instrument"
	"automation-core/internal/metadata"
	"automation-core/internal/metrics"
)

// Header names set on every delivery.
const (
	HeaderEvent     = "X-Webhook-Event"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderSignature = "X-Webhook-Signature"

	DefaultUserAgent = "AutomationCore-Webhook/1.0"
	DefaultRetryBase = time.Second

	timeoutMessage = "Request timeout"
)

// WebhookPayload is the JSON body sent to webhook endpoints.
type WebhookPayload struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

// BuildWebhookPayload constructs the payload shared by all recipients of one
// trigger.
func BuildWebhookPayload(event string, data any, at time.Time) *WebhookPayload {
	if data == nil {
		data = map[string]any{}
	}
	return &WebhookPayload{
		Event:     event,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		Data:      data,
	}
}

// Dispatcher delivers event notifications to registered endpoints.
type Dispatcher struct {
	registry   *metadata.Registry
	client     *http.Client
	log        *DeliveryLog
	sink       LogSink
	hub        *StreamHub
	userAgent  string
	retryBase  time.Duration
	snapshotN  int
	defTimeout time.Duration

	sleep func(ctx context.Context, d time.Duration)
	now   func() time.Time
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithHTTPClient(c *http.Client) DispatcherOption {
	return func(d *Dispatcher) { d.client = c }
}

func WithLogSink(s LogSink) DispatcherOption {
	return func(d *Dispatcher) { d.sink = s }
}

func WithStreamHub(h *StreamHub) DispatcherOption {
	return func(d *Dispatcher) { d.hub = h }
}

func WithUserAgent(ua string) DispatcherOption {
	return func(d *Dispatcher) {
		if ua != "" {
			d.userAgent = ua
		}
	}
}

// WithRetryBase sets the first retry delay; later delays double.
func WithRetryBase(base time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if base > 0 {
			d.retryBase = base
		}
	}
}

func WithLogCapacity(n int) DispatcherOption {
	return func(d *Dispatcher) { d.log = NewDeliveryLog(n) }
}

func WithSnapshotSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.snapshotN = n
		}
	}
}

// WithDefaultTimeout applies to endpoints that leave Timeout at zero.
func WithDefaultTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if t > 0 {
			d.defTimeout = t
		}
	}
}

// WithSleep replaces the wait between retries.
func WithSleep(fn func(ctx context.Context, d time.Duration)) DispatcherOption {
	return func(d *Dispatcher) { d.sleep = fn }
}

func WithClock(fn func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = fn }
}

func NewDispatcher(reg *metadata.Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:   reg,
		client:     &http.Client{},
		log:        NewDeliveryLog(DefaultLogCapacity),
		userAgent:  DefaultUserAgent,
		retryBase:  DefaultRetryBase,
		snapshotN:  DefaultSnapshotSize,
		defTimeout: metadata.DefaultEndpointTimeout,
		sleep:      sleepContext,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.registry == nil {
		d.registry = metadata.NewRegistry()
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// SetEndpoints replaces the endpoint registry wholesale. Conditions that
// fail to compile are logged and left for lazy compilation, which will
// report the error on every trigger.
func (d *Dispatcher) SetEndpoints(endpoints []*metadata.Endpoint) {
	for _, ep := range endpoints {
		if ep == nil || ep.Condition == "" || ep.CompiledCondition != nil {
			continue
		}
		prog, err := CompileCondition(ep.Condition)
		if err != nil {
			log.WithField("endpoint_id", ep.ID).Warnf("Invalid webhook condition: %v", err)
			continue
		}
		ep.CompiledCondition = prog
	}
	d.registry.Load(endpoints)
}

// Endpoints returns the registered endpoints in registration order.
func (d *Dispatcher) Endpoints() []*metadata.Endpoint {
	return d.registry.AllEndpoints()
}

// Registry exposes the endpoint registry.
func (d *Dispatcher) Registry() *metadata.Registry {
	return d.registry
}

// Logs returns the delivery log, newest first.
func (d *Dispatcher) Logs() []*LogEntry {
	return d.log.Entries()
}

// RecentLogs returns up to n newest entries.
func (d *Dispatcher) RecentLogs(n int) []*LogEntry {
	return d.log.Newest(n)
}

// RestoreLogs seeds the in-memory log from a persisted snapshot.
func (d *Dispatcher) RestoreLogs(entries []*LogEntry) {
	d.log.Load(entries)
}

// ClearLogs empties the log and drops the persisted snapshot.
func (d *Dispatcher) ClearLogs(ctx context.Context) {
	d.log.Clear()
	if d.sink == nil {
		return
	}
	if err := d.sink.ClearLogs(context.WithoutCancel(ctx)); err != nil {
		log.Errorf("Failed to clear persisted webhook logs: %v", err)
	}
}

// Stats returns aggregate delivery figures for one endpoint.
func (d *Dispatcher) Stats(endpointID string) Stats {
	return d.log.Stats(endpointID)
}

// TriggerEvent delivers event to every enabled endpoint subscribed to it,
// sequentially in registration order. Failed first attempts are retried
// inline with exponential backoff before moving on to the next endpoint.
// The returned slice holds only the first-attempt entries.
func (d *Dispatcher) TriggerEvent(ctx context.Context, event string, data any) []*LogEntry {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, instrument.SourceWebhook, instrument.ActionTrigger)
	defer span.End()

	payload := BuildWebhookPayload(event, data, d.now())
	endpoints := d.registry.GetEndpointsForEvent(event)

	results := make([]*LogEntry, 0, len(endpoints))
	for _, ep := range endpoints {
		fire, err := EvaluateCondition(ep, payload)
		if err != nil {
			log.WithFields(log.Fields{"endpoint_id": ep.ID, "event": event}).
				Errorf("Webhook condition evaluation failed: %v", err)
			continue
		}
		if !fire {
			continue
		}

		entry := d.deliverAttempt(ctx, ep, payload, 1)
		results = append(results, entry)
		if !entry.Success && ep.RetryBudget() > 0 {
			d.retry(ctx, ep, payload)
		}
	}
	span.Trigger(event, len(results))
	return results
}

// retry re-delivers payload up to ep.RetryBudget() times, waiting
// 2^(n-1) * base before the nth retry, and stops on the first success.
func (d *Dispatcher) retry(ctx context.Context, ep *metadata.Endpoint, payload *WebhookPayload) {
	budget := ep.RetryBudget()
	for n := 1; n <= budget; n++ {
		delay := d.retryBase * time.Duration(1<<(n-1))
		log.WithFields(log.Fields{"endpoint_id": ep.ID, "event": payload.Event, "retry": n}).
			Infof("Retrying webhook in %s", delay)
		metrics.WebhookRetries.Inc()

		d.sleep(ctx, delay)
		if ctx.Err() != nil {
			return
		}
		if entry := d.deliverAttempt(ctx, ep, payload, n+1); entry.Success {
			return
		}
	}
}

// Deliver sends a single POST attempt to ep. It never fails; the outcome is
// recorded in the returned entry, which is also appended to the log.
func (d *Dispatcher) Deliver(ctx context.Context, ep *metadata.Endpoint, payload *WebhookPayload) *LogEntry {
	return d.deliverAttempt(ctx, ep, payload, 1)
}

func (d *Dispatcher) deliverAttempt(ctx context.Context, ep *metadata.Endpoint, payload *WebhookPayload, attempt int) *LogEntry {
	ctx, span := instrument.GetInstrumenter(ctx).StartSpan(ctx, instrument.SourceWebhook, instrument.ActionDeliver)
	defer span.End()

	started := d.now()
	entry := &LogEntry{
		ID:           uuid.New().String(),
		Timestamp:    started,
		EndpointID:   ep.ID,
		EndpointName: ep.Name,
		URL:          ep.URL,
		Event:        payload.Event,
		Payload:      payload,
		Attempt:      attempt,
	}

	statusCode, err := d.send(ctx, ep, payload, started)
	elapsed := time.Since(started)
	entry.ResponseTime = elapsed.Milliseconds()
	if statusCode != 0 {
		code := statusCode
		entry.StatusCode = &code
	}
	span.Delivery(instrument.Delivery{
		EndpointID: ep.ID,
		URL:        ep.URL,
		Event:      payload.Event,
		Attempt:    attempt,
		StatusCode: statusCode,
	})
	if err != nil {
		msg := err.Error()
		entry.Error = &msg
		span.Fail(msg)
	} else {
		entry.Success = true
		span.Succeed()
	}

	d.registry.RecordAttempt(ep, entry.Success, started)
	metrics.WebhookDeliveries.WithLabelValues(payload.Event, metrics.Outcome(entry.Success)).Inc()
	metrics.WebhookDeliveryDuration.WithLabelValues(payload.Event).Observe(elapsed.Seconds())

	if !entry.Success {
		log.WithFields(log.Fields{
			"endpoint_id": ep.ID,
			"event":       payload.Event,
			"attempt":     attempt,
		}).Warnf("Webhook delivery failed: %s", *entry.Error)
	}

	d.record(ctx, entry)
	return entry
}

// send performs the HTTP call and returns the response status (0 when no
// response arrived) plus an error describing any failure.
func (d *Dispatcher) send(ctx context.Context, ep *metadata.Endpoint, payload *WebhookPayload, at time.Time) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}

	timeout := d.defTimeout
	if ep.Timeout > 0 {
		timeout = ep.TimeoutDuration()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set(HeaderEvent, payload.Event)
	req.Header.Set(HeaderTimestamp, at.UTC().Format(time.RFC3339Nano))
	for k, v := range ResolveHeaders(ep.Headers) {
		req.Header.Set(k, v)
	}
	if ep.Secret != "" {
		req.Header.Set(HeaderSignature, SignPayload(ep.Secret, body))
	} else {
		req.Header.Del(HeaderSignature)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			return 0, errors.New(timeoutMessage)
		}
		return 0, transportError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024)) // max 64KB

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return resp.StatusCode, nil
}

// transportError unwraps *url.Error so the message names the cause rather
// than repeating the method and URL.
func transportError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) && ue.Err != nil {
		return ue.Err
	}
	return err
}

// record appends entry to the log, hands the newest snapshot to the sink
// and publishes the entry to stream subscribers.
func (d *Dispatcher) record(ctx context.Context, entry *LogEntry) {
	d.log.Append(entry)
	d.persist(ctx)
	if d.hub != nil {
		d.hub.Publish(entry)
	}
}

func (d *Dispatcher) persist(ctx context.Context) {
	if d.sink == nil {
		return
	}
	if err := d.sink.SaveLogs(context.WithoutCancel(ctx), d.log.Newest(d.snapshotN)); err != nil {
		log.Errorf("Failed to persist webhook logs: %v", err)
	}
}

// SignPayload returns "sha256=" followed by the hex HMAC-SHA256 of body
// keyed by secret.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// ResolveHeaders replaces {{env.VAR_NAME}} in header values with os env values.
func ResolveHeaders(headers map[string]string) map[string]string {
	resolved := make(map[string]string, len(headers))
	for k, v := range headers {
		resolved[k] = resolveEnvVars(v)
	}
	return resolved
}

func resolveEnvVars(s string) string {
	for {
		start := strings.Index(s, "{{env.")
		if start == -1 {
			return s
		}
		end := strings.Index(s[start:], "}}")
		if end == -1 {
			return s
		}
		end += start
		varName := s[start+6 : end]
		envVal := os.Getenv(varName)
		s = s[:start] + envVal + s[end+2:]
	}
}

// CompileCondition compiles a boolean condition expression.
func CompileCondition(condition string) (*vm.Program, error) {
	prog, err := expr.Compile(condition, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile webhook condition: %w", err)
	}
	return prog, nil
}

// EvaluateCondition evaluates an endpoint's condition expression against
// {event, timestamp, data}. An empty condition always returns true. The
// compiled program is cached on the endpoint.
func EvaluateCondition(ep *metadata.Endpoint, payload *WebhookPayload) (bool, error) {
	if ep.Condition == "" {
		return true, nil
	}

	env := map[string]any{
		"event":     payload.Event,
		"timestamp": payload.Timestamp,
		"data":      payload.Data,
	}

	if ep.CompiledCondition == nil {
		prog, err := CompileCondition(ep.Condition)
		if err != nil {
			return false, err
		}
		ep.CompiledCondition = prog
	}
	result, err := expr.Run(ep.CompiledCondition, env)
	if err != nil {
		return false, fmt.Errorf("evaluate webhook condition: %w", err)
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("webhook condition did not return bool")
	}
	return b, nil
}
