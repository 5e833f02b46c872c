// Package gateway implements spec §4.1's L0 Gateway: the single WebSocket
// broker every channel and UI talks to, dispatching GatewayMessage frames
// to the agent loop, the permission Approval Queue, and the Autonomous
// Mind's control surface.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldnote-ai/warden/internal/bus"
	"github.com/fieldnote-ai/warden/internal/channels"
	"github.com/fieldnote-ai/warden/internal/config"
	"github.com/fieldnote-ai/warden/internal/permissions"
	"github.com/fieldnote-ai/warden/pkg/protocol"
)

// ChatRunner hands a chat turn off to the agent loop. Implemented by
// *agent.Loop; kept as an interface here so the gateway never imports the
// agent package (the agent package already depends on permissions, tools,
// and llmrouter — a two-way import would cycle).
type ChatRunner interface {
	HandleChat(ctx context.Context, sessionKey, channel, chatID, content string, events chan<- protocol.GatewayMessage, requestApproval ApprovalRequester) error
	Cancel(sessionKey string)
}

// ApprovalRequester lets the agent loop ask the gateway to surface an
// approval_request to whichever client owns the session, without the
// agent package importing this one (spec §4.3).
type ApprovalRequester func(req *permissions.ApprovalRequest) <-chan bool

// MindController is the gateway's view of the Autonomous Mind (spec §4.5
// "mind start"/"mind stop" commands).
type MindController interface {
	Start()
	Stop()
	State() string
}

// GoalLookup answers the "status" command's active-goal field.
type GoalLookup interface {
	ActiveGoalID() (string, bool)
}

// Server is the concrete L0 Gateway broker.
type Server struct {
	cfg       config.GatewayConfig
	events    bus.EventPublisher
	approvals *permissions.Queue
	chat      ChatRunner
	mind      MindController
	goals     GoalLookup
	startedAt time.Time
	limiter   *channels.RateLimiter

	mu      sync.Mutex
	clients map[string]*Client

	chatMu     sync.Mutex
	chatQueues map[string]chan chatJob
}

// chatJob is one queued chat frame awaiting its turn on sessionKey's worker.
type chatJob struct {
	client *Client
	msg    protocol.GatewayMessage
}

// NewServer builds a Server wired to its collaborators. mind and goals may
// be nil (status/mind-control degrade gracefully) when those subsystems
// are disabled in config.
func NewServer(cfg config.GatewayConfig, events bus.EventPublisher, approvals *permissions.Queue, chat ChatRunner, mind MindController, goals GoalLookup) *Server {
	s := &Server{
		cfg:        cfg,
		events:     events,
		approvals:  approvals,
		chat:       chat,
		mind:       mind,
		goals:      goals,
		startedAt:  time.Now(),
		limiter:    channels.NewRateLimiter(time.Minute, cfg.RateLimitRPM),
		clients:    make(map[string]*Client),
		chatQueues: make(map[string]chan chatJob),
	}
	if approvals != nil {
		approvals.OnTimeout = s.onApprovalTimeout
	}
	return s
}

// ServeHTTP upgrades the connection and starts the client's pumps. Mount at
// whatever path the deployment wants ("/ws" conventionally).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.originAllowed(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	if s.cfg.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.cfg.Token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("gateway.upgrade_failed", "err", err)
		return
	}

	client := NewClient(conn, s)
	s.mu.Lock()
	s.clients[client.ID] = client
	s.mu.Unlock()

	client.SendEvent(s.statusFrame(""))
	if s.events != nil {
		s.events.Subscribe(client.ID, func(ev bus.Event) {
			client.SendEvent(protocol.GatewayMessage{
				ID:      uuid.NewString(),
				Type:    protocol.MessageTypeEvent,
				Sent:    time.Now().UTC(),
				Payload: map[string]interface{}{"name": ev.Name, "payload": ev.Payload},
			})
		})
	}

	slog.Info("gateway.client_connected", "client_id", client.ID)
	client.Run()
}

func (s *Server) originAllowed(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range s.cfg.AllowedOrigins {
		if o == origin || o == "*" {
			return true
		}
	}
	return false
}

func (s *Server) removeClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.ID)
	s.mu.Unlock()
	if s.events != nil {
		s.events.Unsubscribe(c.ID)
	}
	slog.Info("gateway.client_disconnected", "client_id", c.ID)
}

// BroadcastEvent fans a server-side event out to every connected client,
// independent of the per-client Subscribe above — used when the caller
// already has a bus.Event in hand (e.g. the cmd layer on startup/shutdown).
func (s *Server) BroadcastEvent(ev bus.Event) {
	if s.events != nil {
		s.events.Broadcast(ev)
	}
}

// dispatch routes one inbound frame from client (spec §4.1's per-connection
// dispatch loop). Commands run on their own goroutine so a slow agent turn
// never blocks this client's read pump from observing a cancel/
// approval_response for a different in-flight turn. Chat frames are handed
// to the client's session worker instead of a bare goroutine: a session is
// bound to exactly one SessionKey (spec §5 Ordering — "the gateway must not
// start processing message N+1 for a session while the loop for N is still
// running"), so two chats on the same session must run strictly in arrival
// order even though different sessions may overlap freely.
func (s *Server) dispatch(c *Client, msg protocol.GatewayMessage) {
	switch msg.Type {
	case protocol.MessageTypeChat:
		if c.SessionKey == "" {
			c.SessionKey = "agent:default:gateway:direct:" + c.ID
		}
		s.enqueueChat(c, msg)
	case protocol.MessageTypeCommand:
		go s.handleCommand(c, msg)
	case protocol.MessageTypeApprovalResponse:
		s.handleApprovalResponse(msg)
	default:
		c.SendEvent(errorReply(msg.ID, "unknown message type: "+string(msg.Type)))
	}
}

// enqueueChat hands msg to sessionKey's worker, starting one if this is the
// session's first chat frame. The worker drains its queue strictly in
// order, mirroring the bus-path channelDispatcher's per-session worker.
func (s *Server) enqueueChat(c *Client, msg protocol.GatewayMessage) {
	s.chatMu.Lock()
	q, ok := s.chatQueues[c.SessionKey]
	if !ok {
		q = make(chan chatJob, 64)
		s.chatQueues[c.SessionKey] = q
		go s.drainChat(q)
	}
	s.chatMu.Unlock()

	select {
	case q <- chatJob{client: c, msg: msg}:
	default:
		c.SendEvent(errorReply(msg.ID, "too many pending chat messages for this session"))
	}
}

func (s *Server) drainChat(q chan chatJob) {
	for job := range q {
		s.handleChat(job.client, job.msg)
	}
}

func (s *Server) handleChat(c *Client, msg protocol.GatewayMessage) {
	if len(msg.Content) > s.maxMessageChars() {
		c.SendEvent(errorReply(msg.ID, "message exceeds max_message_chars"))
		return
	}
	if !s.limiter.Allow(c.ID) {
		c.SendEvent(errorReply(msg.ID, "rate limit exceeded"))
		return
	}

	events := make(chan protocol.GatewayMessage, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			if ev.Type == protocol.MessageTypeResponse && ev.ReplyTo == "" {
				ev.ReplyTo = msg.ID
			}
			c.SendEvent(ev)
		}
	}()

	ctx := context.Background()
	if s.chat == nil {
		c.SendEvent(errorReply(msg.ID, "chat runner not configured"))
		close(events)
		<-done
		return
	}
	requestApproval := func(req *permissions.ApprovalRequest) <-chan bool {
		return s.RequestApproval(c.ID, req)
	}
	if err := s.chat.HandleChat(ctx, c.SessionKey, "gateway", c.ID, msg.Content, events, requestApproval); err != nil {
		close(events)
		<-done
		c.SendEvent(errorReply(msg.ID, err.Error()))
		return
	}
	close(events)
	<-done
}

func (s *Server) maxMessageChars() int {
	if s.cfg.MaxMessageChars > 0 {
		return s.cfg.MaxMessageChars
	}
	return 32000
}

func (s *Server) handleCommand(c *Client, msg protocol.GatewayMessage) {
	switch msg.Command {
	case protocol.CommandStatus:
		c.SendEvent(s.statusFrame(msg.ID))
	case protocol.CommandHealth:
		c.SendEvent(protocol.GatewayMessage{
			ID: uuid.NewString(), Type: protocol.MessageTypeResponse, ReplyTo: msg.ID, Sent: time.Now().UTC(),
			Payload: map[string]interface{}{"ok": true, "uptime": time.Since(s.startedAt).String()},
		})
	case protocol.CommandClear, protocol.CommandCancel:
		if s.chat != nil && c.SessionKey != "" {
			s.chat.Cancel(c.SessionKey)
		}
		c.SendEvent(protocol.GatewayMessage{ID: uuid.NewString(), Type: protocol.MessageTypeResponse, ReplyTo: msg.ID, Sent: time.Now().UTC()})
	case protocol.CommandMindStart:
		if s.mind != nil {
			s.mind.Start()
		}
		c.SendEvent(protocol.GatewayMessage{ID: uuid.NewString(), Type: protocol.MessageTypeResponse, ReplyTo: msg.ID, Sent: time.Now().UTC()})
	case protocol.CommandMindStop:
		if s.mind != nil {
			s.mind.Stop()
		}
		c.SendEvent(protocol.GatewayMessage{ID: uuid.NewString(), Type: protocol.MessageTypeResponse, ReplyTo: msg.ID, Sent: time.Now().UTC()})
	case protocol.CommandMind:
		state := "disabled"
		if s.mind != nil {
			state = s.mind.State()
		}
		c.SendEvent(protocol.GatewayMessage{ID: uuid.NewString(), Type: protocol.MessageTypeResponse, ReplyTo: msg.ID, Sent: time.Now().UTC(), Payload: map[string]string{"state": state}})
	case protocol.CommandRestart:
		c.SendEvent(protocol.GatewayMessage{ID: uuid.NewString(), Type: protocol.MessageTypeResponse, ReplyTo: msg.ID, Sent: time.Now().UTC(), Payload: map[string]string{"note": "restart must be triggered by the process supervisor"}})
	default:
		c.SendEvent(errorReply(msg.ID, "unknown command: "+msg.Command))
	}
}

// handleApprovalResponse resolves the Approval Queue entry named by
// ReplyTo (spec §4.3: the approval_response's ReplyTo is the original
// approval_request's ID).
func (s *Server) handleApprovalResponse(msg protocol.GatewayMessage) {
	if s.approvals == nil || msg.ReplyTo == "" {
		return
	}
	s.approvals.Resolve(msg.ReplyTo, msg.Approved)
}

// onApprovalTimeout is wired as the Queue's OnTimeout so clients are told a
// request they never answered lapsed (spec §7 invariant 6).
func (s *Server) onApprovalTimeout(req *permissions.ApprovalRequest) {
	s.BroadcastEvent(bus.Event{Name: protocol.EventApprovalTimedOut, Payload: req})
}

// RequestApproval enqueues req on the Approval Queue and pushes an
// approval_request frame to the originating client, returning the future
// the agent loop should await.
func (s *Server) RequestApproval(clientID string, req *permissions.ApprovalRequest) <-chan bool {
	future := s.approvals.Enqueue(req)

	s.mu.Lock()
	c, ok := s.clients[clientID]
	s.mu.Unlock()
	if ok {
		c.SendEvent(protocol.GatewayMessage{
			ID:   req.ID,
			Type: protocol.MessageTypeApprovalRequest,
			Sent: time.Now().UTC(),
			Payload: map[string]interface{}{
				"tool_name":   req.ToolName,
				"description": req.Description,
				"params":      req.Params,
			},
		})
	}
	return future
}

func (s *Server) statusFrame(replyTo string) protocol.GatewayMessage {
	payload := protocol.StatusPayload{
		Mode:   "gateway",
		Uptime: time.Since(s.startedAt).String(),
	}
	if s.mind != nil {
		payload.MindState = s.mind.State()
	}
	if s.goals != nil {
		if id, ok := s.goals.ActiveGoalID(); ok {
			payload.ActiveGoalID = id
		}
	}
	return protocol.GatewayMessage{
		ID:      uuid.NewString(),
		Type:    protocol.MessageTypeStatus,
		ReplyTo: replyTo,
		Sent:    time.Now().UTC(),
		Payload: payload,
	}
}

// ClientCount reports currently connected clients, for health checks.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
