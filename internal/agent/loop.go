// Package agent implements spec §4.2's L1 Agent Loop: the think-act-observe
// cycle that turns one chat turn into zero or more LLM calls and tool
// executions, gated by the Permission Engine and routed through the LLM
// Router rather than talking to a provider directly.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldnote-ai/warden/internal/config"
	"github.com/fieldnote-ai/warden/internal/gateway"
	"github.com/fieldnote-ai/warden/internal/llmrouter"
	"github.com/fieldnote-ai/warden/internal/permissions"
	"github.com/fieldnote-ai/warden/internal/providers"
	"github.com/fieldnote-ai/warden/internal/sessions"
	"github.com/fieldnote-ai/warden/internal/store"
	"github.com/fieldnote-ai/warden/internal/tools"
	"github.com/fieldnote-ai/warden/pkg/protocol"
)

// defaultMaxToolIterations bounds a single turn's think-act-observe cycles
// so a misbehaving model can't loop forever without ever producing a final
// answer (spec §4.2 "bounded iteration").
const defaultMaxToolIterations = 20

// defaultMaxTurnSeconds is the wall-clock ceiling for a single chat turn
// when AgentDefaults.MaxTurnSeconds is unset (spec §5).
const defaultMaxTurnSeconds = 600

// ErrPreempted is returned by RunHeadless when shouldAbort reported true
// between rounds of tool calls, letting a background caller (the
// Autonomous Mind) yield to a user chat turn mid-cycle instead of only
// between wake cycles (spec §4.5 scenario (e)).
var ErrPreempted = errors.New("agent: preempted")

// Loop is the concrete L1 Agent Loop, one instance per running agent
// (spec currently scopes to a single default agent; Loop takes agentID so
// a future multi-agent deployment only needs another instance, not a
// rewrite).
type Loop struct {
	agentID     string
	cfg         config.AgentDefaults
	perms       *permissions.Engine
	mode        permissions.Mode
	authority   permissions.AuthorityTier
	registry    *tools.Registry
	router      *llmrouter.Router
	sessions    store.SessionStore
	fingerprint string

	mu        sync.Mutex
	cancel    map[string]context.CancelFunc
	truncated map[string]bool // sessionKey -> last completion's SuspectedTruncated
}

// NewLoop builds a Loop. mode/authority are the process-wide defaults from
// config.PermissionsConfig; a session's PermissionModeOverride, when set,
// takes precedence per turn (spec §9 Open Question resolution).
func NewLoop(agentID string, cfg config.AgentDefaults, perms *permissions.Engine, mode permissions.Mode, authority permissions.AuthorityTier, registry *tools.Registry, router *llmrouter.Router, sessionStore store.SessionStore, fingerprint string) *Loop {
	return &Loop{
		agentID:     agentID,
		cfg:         cfg,
		perms:       perms,
		mode:        mode,
		authority:   authority,
		registry:    registry,
		router:      router,
		sessions:    sessionStore,
		fingerprint: fingerprint,
		cancel:      make(map[string]context.CancelFunc),
		truncated:   make(map[string]bool),
	}
}

// HandleChat implements gateway.ChatRunner: it runs one full turn for
// sessionKey and streams run/tool lifecycle events to events as they
// happen, finishing with a response-typed GatewayMessage carrying the
// assistant's final reply.
func (l *Loop) HandleChat(ctx context.Context, sessionKey, channel, chatID, content string, events chan<- protocol.GatewayMessage, requestApproval gateway.ApprovalRequester) error {
	maxTurn := time.Duration(l.cfg.MaxTurnSeconds) * time.Second
	if l.cfg.MaxTurnSeconds <= 0 {
		maxTurn = defaultMaxTurnSeconds * time.Second
	}
	turnCtx, cancel := context.WithTimeout(ctx, maxTurn)
	l.mu.Lock()
	l.cancel[sessionKey] = cancel
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.cancel, sessionKey)
		l.mu.Unlock()
		cancel()
	}()

	sess := l.sessions.GetOrCreate(sessionKey)
	l.sessions.SetUserInfo(sessionKey, chatID, channel)
	l.sessions.AddMessage(sessionKey, providers.Message{Role: "user", Content: content})

	events <- runEvent(protocol.EventRunStarted, sessionKey, nil)

	mode := l.mode
	if sess.PermissionModeOverride != "" {
		mode = permissions.Mode(sess.PermissionModeOverride)
	}

	reply, err := l.runTurn(turnCtx, sessionKey, channel, chatID, mode, events, requestApproval, nil)
	if err != nil {
		events <- runEvent(protocol.EventRunFailed, sessionKey, map[string]string{"error": err.Error()})
		return err
	}

	events <- runEvent(protocol.EventRunCompleted, sessionKey, nil)
	events <- protocol.GatewayMessage{
		ID:      uuid.NewString(),
		Type:    protocol.MessageTypeResponse,
		Sent:    time.Now().UTC(),
		Content: reply,
	}
	return nil
}

// RunHeadless runs one turn for sessionKey with an explicit mode, outside
// the gateway's per-client event pump — used by the Autonomous Mind (§4.5)
// and the Goal Runner (§4.6), neither of which has a WebSocket client to
// stream to. Tool/run lifecycle events are discarded except through the
// caller-supplied publish callback.
//
// shouldAbort, if non-nil, is polled before each LLM round-trip (so between
// one batch of tool calls and the next, not just between wake cycles); when
// it reports true the turn stops early with ErrPreempted instead of making
// its next LLM call, letting a background caller yield mid-cycle to
// newly-arrived user activity. Pass nil to never preempt.
func (l *Loop) RunHeadless(ctx context.Context, sessionKey, channel string, mode permissions.Mode, content string, publish func(name string, payload interface{}), requestApproval gateway.ApprovalRequester, shouldAbort func() bool) (string, error) {
	l.sessions.AddMessage(sessionKey, providers.Message{Role: "user", Content: content})

	events := make(chan protocol.GatewayMessage, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			if ev.Type == protocol.MessageTypeEvent {
				if m, ok := ev.Payload.(map[string]interface{}); ok {
					if name, ok := m["name"].(string); ok && publish != nil {
						publish(name, m["payload"])
					}
				}
			}
		}
	}()

	reply, err := l.runTurn(ctx, sessionKey, channel, "headless", mode, events, requestApproval, shouldAbort)
	close(events)
	<-done
	return reply, err
}

// Cancel aborts sessionKey's in-flight turn, if any (spec's "clear"/"cancel"
// commands).
func (l *Loop) Cancel(sessionKey string) {
	l.mu.Lock()
	cancel, ok := l.cancel[sessionKey]
	l.mu.Unlock()
	if ok {
		cancel()
	}
}

func runEvent(name, sessionKey string, payload interface{}) protocol.GatewayMessage {
	return protocol.GatewayMessage{
		ID:   uuid.NewString(),
		Type: protocol.MessageTypeEvent,
		Sent: time.Now().UTC(),
		Payload: map[string]interface{}{
			"name":        name,
			"session_key": sessionKey,
			"payload":     payload,
		},
	}
}

// runTurn is the think-act-observe cycle: call the LLM, and if it returns
// tool calls, gate and execute each one (respecting the Permission Engine),
// feed the results back, and repeat until the model stops calling tools or
// the iteration bound is hit. shouldAbort, when non-nil, is checked before
// each LLM round-trip — i.e. between one batch of tool invocations and the
// next, never mid-batch, so a preempted turn never leaves a tool_call
// without its matching tool result in session history. A true result stops
// the turn with ErrPreempted.
func (l *Loop) runTurn(ctx context.Context, sessionKey, channel, chatID string, mode permissions.Mode, events chan<- protocol.GatewayMessage, requestApproval gateway.ApprovalRequester, shouldAbort func() bool) (string, error) {
	maxIter := l.cfg.MaxToolIterations
	if maxIter <= 0 {
		maxIter = defaultMaxToolIterations
	}

	// Each turn is a new task for the router's per-task budget.
	l.router.ResetTaskBudgets()

	taskType := "planning"
	for iter := 0; iter < maxIter; iter++ {
		if shouldAbort != nil && shouldAbort() {
			return "", ErrPreempted
		}

		history := l.sessions.GetHistory(sessionKey)
		messages := l.buildMessages(sessionKey, channel, taskType, history)

		resp, entry, err := l.router.Complete(ctx, taskType, providers.ChatRequest{
			Messages: messages,
			Tools:    l.registry.ProviderDefs(),
		}, sessionKey)
		if err != nil {
			return "", fmt.Errorf("agent: llm call failed: %w", err)
		}
		l.mu.Lock()
		l.truncated[sessionKey] = entry != nil && entry.SuspectedTruncated
		l.mu.Unlock()
		taskType = "coding"

		if len(resp.ToolCalls) == 0 {
			clean := SanitizeAssistantContent(resp.Content)
			l.sessions.AddMessage(sessionKey, providers.Message{Role: "assistant", Content: resp.Content})
			return clean, nil
		}

		l.sessions.AddMessage(sessionKey, providers.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

		for _, tc := range resp.ToolCalls {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			default:
			}

			events <- runEvent(protocol.EventToolCall, sessionKey, map[string]interface{}{"tool": tc.Name, "args": tc.Arguments})

			result, gateErr := l.gateAndExecute(ctx, sessionKey, channel, chatID, mode, tc, requestApproval)
			if gateErr != nil {
				result = tools.ErrorResult(gateErr.Error())
			}

			events <- runEvent(protocol.EventToolResult, sessionKey, map[string]interface{}{"tool": tc.Name, "is_error": result.IsError})

			l.sessions.AddMessage(sessionKey, providers.Message{
				Role:       "tool",
				Content:    result.ForLLM,
				ToolCallID: tc.ID,
			})
		}
	}

	return "", fmt.Errorf("agent: exceeded max tool iterations (%d)", maxIter)
}

// gateAndExecute evaluates tc against the Permission Engine and either runs
// it directly, blocks on an approval future, or refuses it outright
// (spec §4.2/§4.3, and the invariant that no MODERATE+ tool runs in
// ask_always mode without a resolved approval).
func (l *Loop) gateAndExecute(ctx context.Context, sessionKey, channel, chatID string, mode permissions.Mode, tc providers.ToolCall, requestApproval gateway.ApprovalRequester) (*tools.Result, error) {
	tier := l.registry.Tier(tc.Name)
	decision := l.perms.Evaluate(tc.Name, tier, l.authority, mode)

	switch decision {
	case permissions.Deny:
		return nil, fmt.Errorf("%w: %s requires tier above policy for mode %s", permissions.ErrDenied, tc.Name, mode)

	case permissions.RequireApproval:
		if requestApproval == nil {
			return nil, fmt.Errorf("%w: approval required but no approval channel available", permissions.ErrDenied)
		}
		req := &permissions.ApprovalRequest{
			ID:          uuid.NewString(),
			ToolName:    tc.Name,
			Description: fmt.Sprintf("run %s", tc.Name),
			Params:      tc.Arguments,
			SessionKey:  sessionKey,
			Channel:     channel,
			CreatedAt:   time.Now().UTC(),
		}
		future := requestApproval(req)
		approved, err := permissions.Await(ctx, future)
		if err != nil {
			return nil, err
		}
		if !approved {
			return nil, fmt.Errorf("%w: %s was not approved", permissions.ErrDenied, tc.Name)
		}
	}

	peerKind := "direct"
	if sessions.IsCronSession(sessionKey) {
		peerKind = "cron"
	} else if sessions.IsSubagentSession(sessionKey) {
		peerKind = "subagent"
	}

	result := l.registry.ExecuteWithContext(ctx, tc.Name, tc.Arguments, channel, chatID, peerKind, sessionKey, nil)
	return result, nil
}

func (l *Loop) buildMessages(sessionKey, channel, taskType string, history []providers.Message) []providers.Message {
	l.mu.Lock()
	lastTruncated := l.truncated[sessionKey]
	l.mu.Unlock()

	state := BuildRuntimeState(RuntimeStateInput{
		Fingerprint:       l.fingerprint,
		Registry:          l.registry,
		CurrentUser:       sessionKey,
		Authority:         l.authority,
		Channel:           channel,
		ContextMode:       "full",
		ActiveProcs:       0,
		MaxProcs:          1,
		ProviderNames:     l.router.CandidateProviders(taskType),
		ProviderStats:     l.router.Stats(),
		LastCallTruncated: lastTruncated,
	})

	system := state
	if l.cfg.AgentType != "" {
		system = fmt.Sprintf("You are the %s agent.\n\n%s", l.cfg.AgentType, state)
	}

	msgs := make([]providers.Message, 0, len(history)+1)
	msgs = append(msgs, providers.Message{Role: "system", Content: system})
	msgs = append(msgs, history...)
	return msgs
}

