// Package tracing emits LLM-call and tool-call spans to an OpenTelemetry
// collector, matching the teacher's `internal/agent/loop_tracing.go` usage
// (grounded directly on that file, which already calls this package's API).
// Traces are ambient observability, not part of the relational persistence
// layout in spec §6 — see internal/store/tracing_types.go.
package tracing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/fieldnote-ai/warden/internal/store"
)

// Collector creates traces and emits spans, forwarding both to an
// OpenTelemetry tracer when one is configured. It also keeps a small
// in-memory index of open root spans so that FinishTrace can end them.
type Collector struct {
	tracer  oteltrace.Tracer
	verbose bool

	mu     sync.Mutex
	traces map[uuid.UUID]oteltrace.Span
}

// NewCollector creates a Collector. tracer may be nil, in which case nothing
// is tracked or exported and every method returns at once (useful for tests
// or when telemetry.enabled=false).
func NewCollector(tracer oteltrace.Tracer, verbose bool) *Collector {
	return &Collector{tracer: tracer, verbose: verbose, traces: make(map[uuid.UUID]oteltrace.Span)}
}

// Verbose reports whether full message/content previews should be recorded
// (the gateway passes its --verbose flag), rather than the default
// truncated previews.
func (c *Collector) Verbose() bool { return c.verbose }

// CreateTrace opens the root span for a chat/delegation run.
func (c *Collector) CreateTrace(ctx context.Context, t *store.TraceData) error {
	if c.tracer == nil {
		return nil
	}
	_, span := c.tracer.Start(ctx, t.Name, oteltrace.WithAttributes(
		attribute.String("trace_id", t.ID.String()),
		attribute.String("run_id", t.RunID),
		attribute.String("session_key", t.SessionKey),
		attribute.String("channel", t.Channel),
	))
	c.mu.Lock()
	c.traces[t.ID] = span
	c.mu.Unlock()
	return nil
}

// FinishTrace closes the root span for traceID.
func (c *Collector) FinishTrace(ctx context.Context, traceID uuid.UUID, status, errMsg, outputPreview string) {
	c.mu.Lock()
	span, ok := c.traces[traceID]
	if ok {
		delete(c.traces, traceID)
	}
	c.mu.Unlock()
	if !ok || span == nil {
		return
	}
	if status == store.TraceStatusError {
		span.SetStatus(codes.Error, errMsg)
	}
	span.SetAttributes(attribute.String("output_preview", outputPreview))
	span.End()
}

// EmitSpan records a single LLM-call, tool-call, or agent span as a
// standalone OTEL span with the call's own start/end time. It is not
// parented under the trace's root span; the trace id is carried only as
// the trace_id attribute.
func (c *Collector) EmitSpan(span store.SpanData) {
	if c.tracer == nil {
		return
	}
	ctx := context.Background()
	_, otelSpan := c.tracer.Start(ctx, span.Name, oteltrace.WithTimestamp(span.StartTime))
	attrs := []attribute.KeyValue{
		attribute.String("span_type", span.SpanType),
		attribute.String("trace_id", span.TraceID.String()),
		attribute.String("status", span.Status),
	}
	if span.Model != "" {
		attrs = append(attrs, attribute.String("model", span.Model))
	}
	if span.Provider != "" {
		attrs = append(attrs, attribute.String("provider", span.Provider))
	}
	if span.ToolName != "" {
		attrs = append(attrs, attribute.String("tool_name", span.ToolName))
	}
	if span.InputTokens > 0 {
		attrs = append(attrs, attribute.Int("input_tokens", span.InputTokens))
	}
	if span.OutputTokens > 0 {
		attrs = append(attrs, attribute.Int("output_tokens", span.OutputTokens))
	}
	otelSpan.SetAttributes(attrs...)
	if span.Status == store.SpanStatusError {
		otelSpan.SetStatus(codes.Error, span.Error)
	}
	end := time.Now()
	if span.EndTime != nil {
		end = *span.EndTime
	}
	otelSpan.End(oteltrace.WithTimestamp(end))
}

// --- context plumbing ---

type ctxKey string

const (
	keyTraceID             ctxKey = "tracing_trace_id"
	keyCollector           ctxKey = "tracing_collector"
	keyParentSpanID        ctxKey = "tracing_parent_span_id"
	keyAnnounceParentSpan  ctxKey = "tracing_announce_parent_span_id"
	keyDelegateParentTrace ctxKey = "tracing_delegate_parent_trace_id"
)

func WithTraceID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, keyTraceID, id)
}

func TraceIDFromContext(ctx context.Context) uuid.UUID {
	v, _ := ctx.Value(keyTraceID).(uuid.UUID)
	return v
}

func WithCollector(ctx context.Context, c *Collector) context.Context {
	return context.WithValue(ctx, keyCollector, c)
}

func CollectorFromContext(ctx context.Context) *Collector {
	v, _ := ctx.Value(keyCollector).(*Collector)
	return v
}

func WithParentSpanID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, keyParentSpanID, id)
}

func ParentSpanIDFromContext(ctx context.Context) uuid.UUID {
	v, _ := ctx.Value(keyParentSpanID).(uuid.UUID)
	return v
}

func WithAnnounceParentSpanID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, keyAnnounceParentSpan, id)
}

func AnnounceParentSpanIDFromContext(ctx context.Context) uuid.UUID {
	v, _ := ctx.Value(keyAnnounceParentSpan).(uuid.UUID)
	return v
}

// WithDelegateParentTraceID marks ctx as belonging to a delegated
// (subagent) run whose parent trace is id.
func WithDelegateParentTraceID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, keyDelegateParentTrace, id)
}

func DelegateParentTraceIDFromContext(ctx context.Context) uuid.UUID {
	v, _ := ctx.Value(keyDelegateParentTrace).(uuid.UUID)
	return v
}
