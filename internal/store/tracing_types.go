package store

import (
	"time"

	"github.com/google/uuid"
)

// Span/trace types feed internal/tracing's OpenTelemetry export of LLM-call
// and tool-call spans (SPEC_FULL, AMBIENT STACK). They are not part of
// the relational persistence layout in spec §6 — traces are an ambient
// observability concern exported to OTEL, not durable application state —
// so there is deliberately no TraceStore/SpanStore in Stores.

// Span kinds.
const (
	SpanTypeAgent    = "agent"
	SpanTypeLLMCall  = "llm_call"
	SpanTypeToolCall = "tool_call"
)

// Span/trace status values.
const (
	SpanStatusCompleted = "completed"
	SpanStatusError     = "error"

	TraceStatusRunning   = "running"
	TraceStatusCompleted = "completed"
	TraceStatusError     = "error"
	TraceStatusCancelled = "cancelled"
)

// SpanLevelDefault is the OTEL "level" attribute used when none is specified.
const SpanLevelDefault = "DEFAULT"

// SpanData is one LLM-call, tool-call, or agent-run span within a trace.
type SpanData struct {
	ID           uuid.UUID
	TraceID      uuid.UUID
	ParentSpanID *uuid.UUID
	AgentID      *uuid.UUID
	SpanType     string
	Name         string
	StartTime    time.Time
	EndTime      *time.Time
	DurationMS   int
	Model        string
	Provider     string
	Status       string
	Level        string
	Error        string
	FinishReason string
	InputPreview  string
	OutputPreview string
	InputTokens   int
	OutputTokens  int
	ToolName      string
	ToolCallID    string
	Metadata      []byte
	CreatedAt     time.Time
}

// TraceData is the root record for one chat/delegation run, parenting all
// spans emitted during it.
type TraceData struct {
	ID            uuid.UUID
	ParentTraceID *uuid.UUID
	RunID         string
	SessionKey    string
	UserID        string
	Channel       string
	AgentID       *uuid.UUID
	Name          string
	InputPreview  string
	OutputPreview string
	Status        string
	Error         string
	Tags          []string
	StartTime     time.Time
	EndTime       *time.Time
	CreatedAt     time.Time
}
