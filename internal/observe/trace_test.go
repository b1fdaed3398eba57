package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTracer installs an in-memory tracer provider as the global provider for
// the duration of the test.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs redirects the default logger into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCallID(t *testing.T) {
	ctx := context.Background()
	if got := CallID(ctx); got != "" {
		t.Errorf("CallID(background) = %q", got)
	}
	if got := WithCallID(ctx, ""); got != ctx {
		t.Error("empty id should return ctx unchanged")
	}
	if got := CallID(WithCallID(ctx, "call-1")); got != "call-1" {
		t.Errorf("CallID = %q, want call-1", got)
	}
}

func TestCorrelationID(t *testing.T) {
	useTracer(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	seen := make(map[string]bool)
	for range 20 {
		ctx, span := StartSpan(context.Background(), "call.analyse")
		cid := CorrelationID(ctx)
		span.End()
		if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
			t.Fatalf("correlation ID %q is not a 32-char hex trace ID", cid)
		}
		if seen[cid] {
			t.Fatalf("duplicate correlation ID %s", cid)
		}
		seen[cid] = true
	}
}

func TestEndSpan(t *testing.T) {
	exp := useTracer(t)

	_, ok := StartSpan(context.Background(), "summary")
	EndSpan(ok, nil)
	_, failed := StartSpan(context.Background(), "coaching")
	EndSpan(failed, context.DeadlineExceeded)

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].Name != "summary" || len(spans[0].Events) != 0 {
		t.Errorf("ok span = %q with %d events", spans[0].Name, len(spans[0].Events))
	}
	if spans[1].Status.Description != context.DeadlineExceeded.Error() {
		t.Errorf("failed span status = %q", spans[1].Status.Description)
	}
	if len(spans[1].Events) == 0 {
		t.Error("failed span should record the error event")
	}
}

func TestLogger(t *testing.T) {
	useTracer(t)

	tests := []struct {
		name    string
		ctx     func() (context.Context, func())
		want    []string
		notWant []string
	}{
		{
			name:    "bare context",
			ctx:     func() (context.Context, func()) { return context.Background(), func() {} },
			notWant: []string{"trace_id", "call_id"},
		},
		{
			name: "call only",
			ctx: func() (context.Context, func()) {
				return WithCallID(context.Background(), "c-42"), func() {}
			},
			want:    []string{"call_id=c-42"},
			notWant: []string{"trace_id"},
		},
		{
			name: "call and span",
			ctx: func() (context.Context, func()) {
				ctx, span := StartSpan(WithCallID(context.Background(), "c-7"), "op")
				return ctx, func() { span.End() }
			},
			want: []string{"call_id=c-7", "trace_id=", "span_id="},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)
			ctx, done := tt.ctx()
			defer done()

			Logger(ctx).Info("fallback used")

			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q missing %q", out, w)
				}
			}
			for _, nw := range tt.notWant {
				if strings.Contains(out, nw) {
					t.Errorf("log %q should not contain %q", out, nw)
				}
			}
		})
	}
}
