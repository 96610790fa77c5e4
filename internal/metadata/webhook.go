package metadata

import (
	"slices"
	"time"

	"github.com/expr-lang/expr/vm"
	"github.com/rs/xid"
)

// EndpointIDPrefix prefixes every generated endpoint ID.
const EndpointIDPrefix = "wh_"

// DefaultEndpointTimeout applies when an endpoint leaves Timeout at zero.
const DefaultEndpointTimeout = 30 * time.Second

// MaxRetryAttempts bounds retries per delivery, whatever the stored record says.
const MaxRetryAttempts = 10

// Endpoint is a registered third-party HTTP destination subscribed to one
// or more event types.
type Endpoint struct {
	ID            string            `json:"id"`
	Name          string            `json:"name" validate:"required,max=120"`
	URL           string            `json:"url" validate:"required,url"`
	Events        []string          `json:"events" validate:"required,min=1,dive,required,knownevent"`
	Headers       map[string]string `json:"headers,omitempty"`
	Secret        string            `json:"secret,omitempty"`
	Enabled       bool              `json:"enabled"`
	RetryAttempts int               `json:"retry_attempts" validate:"gte=0,lte=10"`
	Timeout       int               `json:"timeout" validate:"gte=0"` // milliseconds
	Condition     string            `json:"condition,omitempty"`      // expression; empty = always fire

	TotalCalls      int        `json:"total_calls"`
	SuccessfulCalls int        `json:"successful_calls"`
	FailedCalls     int        `json:"failed_calls"`
	LastTriggered   *time.Time `json:"last_triggered,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`

	CompiledCondition *vm.Program `json:"-" validate:"-"`
}

// RetryBudget is RetryAttempts clamped to [0, MaxRetryAttempts].
func (e *Endpoint) RetryBudget() int {
	return min(max(e.RetryAttempts, 0), MaxRetryAttempts)
}

// NewEndpointID returns a fresh "wh_" prefixed identifier.
func NewEndpointID() string {
	return EndpointIDPrefix + xid.New().String()
}

// SubscribesTo reports whether the endpoint listens for the given event.
func (e *Endpoint) SubscribesTo(event string) bool {
	return slices.Contains(e.Events, event)
}

// Receives reports whether a trigger of event should reach this endpoint.
func (e *Endpoint) Receives(event string) bool {
	return e.Enabled && e.SubscribesTo(event)
}

// TimeoutDuration returns the per-attempt deadline.
func (e *Endpoint) TimeoutDuration() time.Duration {
	if e.Timeout <= 0 {
		return DefaultEndpointTimeout
	}
	return time.Duration(e.Timeout) * time.Millisecond
}

// RecordAttempt bumps the call counters for one delivery attempt.
func (e *Endpoint) RecordAttempt(success bool, at time.Time) {
	e.TotalCalls++
	if success {
		e.SuccessfulCalls++
	} else {
		e.FailedCalls++
	}
	e.LastTriggered = &at
}
