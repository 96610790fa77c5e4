package instrument

import (
	"math/rand"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"automation-core/internal/config"
)

// TraceHeader carries the trace ID in and out of the API.
const TraceHeader = "X-Trace-ID"

// Middleware returns a Fiber middleware that sets up tracing for each request.
// It generates (or propagates) a trace ID, creates a root HTTP span, and injects
// the instrumenter into the request context so dispatcher and gateway spans
// nest under it. A nil buffer disables tracing.
func Middleware(cfg config.InstrumentationConfig, buffer *EventBuffer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !cfg.Enabled || buffer == nil {
			return c.Next()
		}

		// Sampling: skip tracing for a proportion of requests
		if cfg.SamplingRate < 1.0 && rand.Float64() > cfg.SamplingRate {
			return c.Next()
		}

		traceID := c.Get(TraceHeader)
		if traceID == "" {
			traceID = newUUID()
		}

		tracer := NewTracer(buffer)
		ctx := WithInstrumenter(WithTraceID(c.UserContext(), traceID), tracer)
		ctx, span := tracer.StartSpan(ctx, SourceHTTP, ActionRequest)
		c.SetUserContext(ctx)
		c.Set(TraceHeader, traceID)

		err := c.Next()

		statusCode := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			statusCode = fe.Code
		}
		span.Request(Request{Method: c.Method(), Path: c.Path(), StatusCode: statusCode})
		switch {
		case err != nil:
			span.Fail(err.Error())
		case statusCode >= 400:
			span.Fail(utils.StatusMessage(statusCode))
		default:
			span.Succeed()
		}
		span.End()

		return err
	}
}
