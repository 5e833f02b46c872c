package tracing

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestNilTracerCollectorIsNoOp(t *testing.T) {
	c := NewCollector(nil, false)
	if err := c.CreateTrace(context.Background(), nil); err != nil {
		t.Fatalf("expected CreateTrace with nil tracer to no-op, got %v", err)
	}
	// FinishTrace on an unknown id must not panic even with a nil tracer.
	c.FinishTrace(context.Background(), uuid.New(), "ok", "", "")
}

func TestVerboseReflectsConstructorArg(t *testing.T) {
	c := NewCollector(nil, true)
	if !c.Verbose() {
		t.Fatal("expected Verbose() to be true")
	}
	c2 := NewCollector(nil, false)
	if c2.Verbose() {
		t.Fatal("expected Verbose() to be false")
	}
}

func TestContextRoundTripsTraceAndSpanIDs(t *testing.T) {
	ctx := context.Background()
	traceID := uuid.New()
	spanID := uuid.New()
	announceID := uuid.New()
	delegateID := uuid.New()

	ctx = WithTraceID(ctx, traceID)
	ctx = WithParentSpanID(ctx, spanID)
	ctx = WithAnnounceParentSpanID(ctx, announceID)
	ctx = WithDelegateParentTraceID(ctx, delegateID)

	if got := TraceIDFromContext(ctx); got != traceID {
		t.Fatalf("got %v, want %v", got, traceID)
	}
	if got := ParentSpanIDFromContext(ctx); got != spanID {
		t.Fatalf("got %v, want %v", got, spanID)
	}
	if got := AnnounceParentSpanIDFromContext(ctx); got != announceID {
		t.Fatalf("got %v, want %v", got, announceID)
	}
	if got := DelegateParentTraceIDFromContext(ctx); got != delegateID {
		t.Fatalf("got %v, want %v", got, delegateID)
	}
}

func TestContextWithoutValuesReturnsZeroUUID(t *testing.T) {
	ctx := context.Background()
	if got := TraceIDFromContext(ctx); got != uuid.Nil {
		t.Fatalf("got %v, want uuid.Nil", got)
	}
}

func TestCollectorFromContextRoundTrips(t *testing.T) {
	c := NewCollector(nil, false)
	ctx := WithCollector(context.Background(), c)
	if got := CollectorFromContext(ctx); got != c {
		t.Fatal("expected the same collector instance back")
	}
}
