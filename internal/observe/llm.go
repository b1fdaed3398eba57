package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/callcoach/pkg/provider/llm"
	"github.com/MrWong99/callcoach/pkg/types"
)

// InstrumentedLLM wraps an [llm.Provider] with a span, a latency histogram
// sample and a request counter per call.
type InstrumentedLLM struct {
	inner   llm.Provider
	name    string
	purpose string
	metrics *Metrics
}

var _ llm.Provider = (*InstrumentedLLM)(nil)

// InstrumentLLM wraps p. name identifies the backend (or chain) and purpose
// is the caller, e.g. "coaching" or "summary".
func InstrumentLLM(p llm.Provider, name, purpose string, m *Metrics) *InstrumentedLLM {
	return &InstrumentedLLM{inner: p, name: name, purpose: purpose, metrics: m}
}

// Complete forwards to the wrapped provider.
func (l *InstrumentedLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	ctx, span := StartSpan(ctx, "llm."+l.purpose,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			Attr("llm.provider", l.name),
			attribute.Int("llm.messages", len(req.Messages)),
			attribute.Bool("llm.structured", req.ResponseSchema != nil),
		),
	)
	if id := CallID(ctx); id != "" {
		span.SetAttributes(Attr("call.id", id))
	}
	start := time.Now()
	resp, err := l.inner.Complete(ctx, req)
	l.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(Attr("purpose", l.purpose)))

	status := "ok"
	if err != nil {
		status = "error"
	} else if resp != nil {
		span.SetAttributes(attribute.Int("llm.total_tokens", resp.Usage.TotalTokens))
	}
	l.metrics.RecordProviderRequest(ctx, l.name, status)
	EndSpan(span, err)
	return resp, err
}

// Capabilities forwards to the wrapped provider.
func (l *InstrumentedLLM) Capabilities() types.ModelCapabilities {
	return l.inner.Capabilities()
}
