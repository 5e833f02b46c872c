package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/fieldnote-ai/warden/internal/agent"
	"github.com/fieldnote-ai/warden/internal/bus"
	"github.com/fieldnote-ai/warden/internal/config"
	"github.com/fieldnote-ai/warden/internal/permissions"
	"github.com/fieldnote-ai/warden/internal/sessions"
	"github.com/fieldnote-ai/warden/pkg/protocol"
)

// channelDispatcher is spec §4.1's gateway fan-in for channel adapters: it
// is the piece of the "WebSocket broker" responsibility that applies when
// the adapter is an in-process channel (cli/telegram/discord) talking over
// the bus rather than a remote process talking WebSocket JSON directly to
// gateway.Server. It consumes bus.InboundMessage, derives the canonical
// session key (internal/sessions), and drives the same agent.Loop.HandleChat
// entry point gateway.Server uses for WS clients, publishing the reply back
// onto the bus as an OutboundMessage for the channel manager to deliver.
type channelDispatcher struct {
	msgBus         *bus.MessageBus
	loop           *agent.Loop
	approvals      *permissions.Queue
	sessionsCfg    config.SessionsConfig
	defaultAgentID string

	mu      sync.Mutex
	queues  map[string]chan bus.InboundMessage
	pending map[string]string // sessionKey -> outstanding approval request id
}

func newChannelDispatcher(msgBus *bus.MessageBus, loop *agent.Loop, approvals *permissions.Queue, sessionsCfg config.SessionsConfig, defaultAgentID string) *channelDispatcher {
	return &channelDispatcher{
		msgBus:         msgBus,
		loop:           loop,
		approvals:      approvals,
		sessionsCfg:    sessionsCfg,
		defaultAgentID: defaultAgentID,
		queues:         make(map[string]chan bus.InboundMessage),
		pending:        make(map[string]string),
	}
}

// Run consumes inbound channel messages until ctx is cancelled. One message
// is read from the bus at a time, but each session's turns are handed off
// to a dedicated per-session worker goroutine so a slow agent turn on one
// session never delays dispatch for another (spec §5: "across sessions,
// processing is unordered and may overlap" but within a session messages
// must process strictly in arrival order).
func (d *channelDispatcher) Run(ctx context.Context) {
	for {
		msg, ok := d.msgBus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		sessionKey := d.sessionKeyFor(msg)

		if approved, handled := d.tryResolveApprovalReply(sessionKey, msg.Content); handled {
			d.msgBus.PublishOutbound(bus.OutboundMessage{
				Channel: msg.Channel, ChatID: msg.ChatID,
				Content: approvalAckText(approved),
			})
			continue
		}

		d.enqueue(ctx, sessionKey, msg)
	}
}

func (d *channelDispatcher) sessionKeyFor(msg bus.InboundMessage) string {
	agentID := msg.AgentID
	if agentID == "" {
		agentID = d.defaultAgentID
	}
	kind := sessions.PeerKindFromGroup(msg.PeerKind == "group")
	return sessions.BuildScopedSessionKey(agentID, msg.Channel, kind, msg.ChatID, d.sessionsCfg.Scope, d.sessionsCfg.DmScope, d.sessionsCfg.MainKey)
}

// enqueue hands msg to sessionKey's worker, starting one if this is the
// session's first message. The worker drains its queue strictly in order.
func (d *channelDispatcher) enqueue(ctx context.Context, sessionKey string, msg bus.InboundMessage) {
	d.mu.Lock()
	q, ok := d.queues[sessionKey]
	if !ok {
		q = make(chan bus.InboundMessage, 64)
		d.queues[sessionKey] = q
		go d.drain(ctx, sessionKey, q)
	}
	d.mu.Unlock()

	select {
	case q <- msg:
	case <-ctx.Done():
	}
}

func (d *channelDispatcher) drain(ctx context.Context, sessionKey string, q chan bus.InboundMessage) {
	for {
		select {
		case msg := <-q:
			d.process(ctx, sessionKey, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (d *channelDispatcher) process(ctx context.Context, sessionKey string, msg bus.InboundMessage) {
	events := make(chan protocol.GatewayMessage, 16)
	done := make(chan struct{})
	var reply string
	go func() {
		defer close(done)
		for ev := range events {
			if ev.Type == protocol.MessageTypeResponse {
				reply = ev.Content
			}
		}
	}()

	requestApproval := d.requestApprovalFor(sessionKey, msg)
	err := d.loop.HandleChat(ctx, sessionKey, msg.Channel, msg.ChatID, msg.Content, events, requestApproval)
	close(events)
	<-done

	if err != nil {
		slog.Warn("channel_dispatch.turn_failed", "session_key", sessionKey, "channel", msg.Channel, "error", err)
		d.msgBus.PublishOutbound(bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: "Sorry, something went wrong handling that."})
		return
	}
	if reply == "" {
		return
	}
	d.msgBus.PublishOutbound(bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: reply})
}

// requestApprovalFor wires a tool-gated turn's approval prompt out through
// the originating channel: it enqueues on the shared Approval Queue (the
// same one gateway.Server uses for WebSocket clients) and asks the user to
// reply yes/no. The reply is intercepted in Run via tryResolveApprovalReply
// before it would otherwise be treated as a new chat turn.
func (d *channelDispatcher) requestApprovalFor(sessionKey string, msg bus.InboundMessage) func(req *permissions.ApprovalRequest) <-chan bool {
	return func(req *permissions.ApprovalRequest) <-chan bool {
		d.mu.Lock()
		d.pending[sessionKey] = req.ID
		d.mu.Unlock()

		future := d.approvals.Enqueue(req)
		d.msgBus.PublishOutbound(bus.OutboundMessage{
			Channel: msg.Channel, ChatID: msg.ChatID,
			Content: fmt.Sprintf("Approval needed to run %q (%s). Reply yes or no — this request expires in 5 minutes.", req.ToolName, req.Description),
		})
		return future
	}
}

// tryResolveApprovalReply checks whether sessionKey has an outstanding
// approval and, if content parses as a yes/no reply, resolves it and
// reports the message as consumed (not a new chat turn).
func (d *channelDispatcher) tryResolveApprovalReply(sessionKey, content string) (approved bool, handled bool) {
	d.mu.Lock()
	reqID, waiting := d.pending[sessionKey]
	d.mu.Unlock()
	if !waiting {
		return false, false
	}

	decision, ok := parseYesNo(content)
	if !ok {
		return false, false
	}

	d.approvals.Resolve(reqID, decision)
	d.mu.Lock()
	delete(d.pending, sessionKey)
	d.mu.Unlock()
	return decision, true
}

// clearPending drops sessionKey's outstanding-approval bookkeeping if it
// still refers to reqID — wired onto the Approval Queue's OnTimeout so a
// lapsed request doesn't leave the dispatcher waiting forever for a
// yes/no that will never resolve anything (spec §7 "approval timeouts").
func (d *channelDispatcher) clearPending(sessionKey, reqID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending[sessionKey] == reqID {
		delete(d.pending, sessionKey)
	}
}

func parseYesNo(content string) (approved bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(content)) {
	case "y", "yes", "approve", "approved", "ok", "go ahead":
		return true, true
	case "n", "no", "deny", "denied", "stop", "cancel":
		return false, true
	default:
		return false, false
	}
}

func approvalAckText(approved bool) string {
	if approved {
		return "Approved. Continuing…"
	}
	return "Denied."
}
