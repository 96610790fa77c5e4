package instrument

import "context"

// NoopInstrumenter discards everything. Used when instrumentation is
// disabled or the request was sampled out.
type NoopInstrumenter struct{}

func (*NoopInstrumenter) StartSpan(ctx context.Context, _ Source, _ string) (context.Context, Span) {
	return ctx, noopSpan{}
}

func (*NoopInstrumenter) EmitEndpointChange(context.Context, string, string) {}
func (*NoopInstrumenter) EmitFallback(context.Context, Generation)           {}

type noopSpan struct{}

func (noopSpan) Request(Request)       {}
func (noopSpan) Trigger(string, int)   {}
func (noopSpan) Delivery(Delivery)     {}
func (noopSpan) Generation(Generation) {}
func (noopSpan) Succeed()              {}
func (noopSpan) Fail(string)           {}
func (noopSpan) End()                  {}
func (noopSpan) TraceID() string       { return "" }
func (noopSpan) SpanID() string        { return "" }
