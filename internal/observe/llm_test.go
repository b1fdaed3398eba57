package observe

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/callcoach/pkg/provider/llm"
	"github.com/MrWong99/callcoach/pkg/provider/llm/mock"
	"github.com/MrWong99/callcoach/pkg/types"
)

func TestInstrumentedLLM_Success(t *testing.T) {
	m, reader, exp := testSetup(t)

	inner := &mock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: "{}",
		Usage:   llm.Usage{TotalTokens: 42},
	}}
	p := InstrumentLLM(inner, "openai", "summary", m)

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil || resp.Content != "{}" {
		t.Fatalf("Complete = %+v, %v", resp, err)
	}
	if len(inner.Calls()) != 1 {
		t.Errorf("inner calls = %d, want 1", len(inner.Calls()))
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "llm.summary" {
		t.Fatalf("spans = %+v", spans)
	}

	rm := collect(t, reader)
	hist, ok := findMetric(rm, "callcoach.llm.duration").Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatal("expected one llm duration data point")
	}
	if v, _ := hist.DataPoints[0].Attributes.Value("purpose"); v.AsString() != "summary" {
		t.Errorf("purpose = %q", v.AsString())
	}
	if v, _ := sumFor(t, rm, "callcoach.provider.requests", "status", "ok"); v != 1 {
		t.Errorf("ok requests = %d, want 1", v)
	}
}

func TestInstrumentedLLM_Error(t *testing.T) {
	m, reader, exp := testSetup(t)

	inner := &mock.Provider{CompleteErr: errors.New("rate limited")}
	p := InstrumentLLM(inner, "openai", "coaching", m)

	if _, err := p.Complete(context.Background(), llm.CompletionRequest{}); err == nil {
		t.Fatal("expected error")
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Status.Code != codes.Error {
		t.Errorf("span status = %+v", spans)
	}
	rm := collect(t, reader)
	if v, _ := sumFor(t, rm, "callcoach.provider.errors", "provider", "openai"); v != 1 {
		t.Errorf("errors = %d, want 1", v)
	}
}

func TestInstrumentedLLM_ForwardsCapabilities(t *testing.T) {
	m, _ := newTestMetrics(t)
	inner := &mock.Provider{ModelCapabilities: types.ModelCapabilities{ContextWindow: 128000}}
	p := InstrumentLLM(inner, "x", "coaching", m)
	if caps := p.Capabilities(); caps.ContextWindow != 128000 {
		t.Errorf("Capabilities not forwarded: %+v", caps)
	}
	if inner.CapabilitiesCalls() != 1 {
		t.Errorf("inner Capabilities calls = %d, want 1", inner.CapabilitiesCalls())
	}
}

func TestInstrumentedLLM_SpanCarriesCallID(t *testing.T) {
	m, _, exp := testSetup(t)
	p := InstrumentLLM(&mock.Provider{}, "ollama", "coaching", m)

	ctx := WithCallID(context.Background(), "call-9")
	req := llm.CompletionRequest{ResponseSchema: &llm.ResponseSchema{Name: "coaching_suggestions"}}
	if _, err := p.Complete(ctx, req); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans", len(spans))
	}
	attrs := make(map[string]string)
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["call.id"] != "call-9" {
		t.Errorf("call.id = %q, want call-9", attrs["call.id"])
	}
	if attrs["llm.structured"] != "true" {
		t.Errorf("llm.structured = %q, want true", attrs["llm.structured"])
	}
}
