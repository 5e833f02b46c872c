// Package protocol defines the wire envelope exchanged between the gateway
// and its WebSocket clients (spec §4.1, §6): a single GatewayMessage type
// discriminated by Type, rather than the teacher's menagerie of per-feature
// event/method constants.
package protocol

import "time"

// ProtocolVersion is bumped whenever GatewayMessage's shape changes in a
// way clients must special-case.
const ProtocolVersion = 1

// MessageType discriminates a GatewayMessage's purpose.
type MessageType string

const (
	// Client -> server
	MessageTypeChat             MessageType = "chat"
	MessageTypeCommand          MessageType = "command"
	MessageTypeApprovalResponse MessageType = "approval_response"

	// Server -> client
	MessageTypeResponse        MessageType = "response"
	MessageTypeApprovalRequest MessageType = "approval_request"
	MessageTypeEvent           MessageType = "event"
	MessageTypeError           MessageType = "error"
	MessageTypeStatus          MessageType = "status"
)

// GatewayMessage is the single envelope every frame on the connection uses
// (spec §3 "GatewayMessage"). ID is the correlation key: a response,
// approval_request, or error that answers a given client message carries
// ReplyTo set to that message's ID; an approval_response sent by the client
// sets ReplyTo to the approval_request's own ID.
type GatewayMessage struct {
	ID      string      `json:"id"`
	Type    MessageType `json:"type"`
	ReplyTo string      `json:"reply_to,omitempty"`
	Sent    time.Time   `json:"sent"`

	// Chat
	Content string   `json:"content,omitempty"`
	Media   []string `json:"media,omitempty"`

	// Command
	Command string                 `json:"command,omitempty"`
	Args    map[string]interface{} `json:"args,omitempty"`

	// ApprovalResponse
	Approved bool `json:"approved,omitempty"`

	// Response / Event / Error / Status / ApprovalRequest payload
	Payload interface{} `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Event names broadcast inside a MessageTypeEvent GatewayMessage's Payload
// (spec §7, §4.5). Run lifecycle events are grounded in the teacher's
// AgentEventRunStarted/Completed/Failed family; mind/goal events are this
// spec's own additions.
const (
	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunFailed    = "run_failed"
	EventToolCall     = "tool_call"
	EventToolResult   = "tool_result"

	EventMindWakeup  = "mind_wakeup"
	EventMindToolUse = "mind_tool_use"
	EventMindAction  = "mind_action"
	EventMindSleep   = "mind_sleep"
	EventMindPaused  = "mind_paused"
	EventMindResumed = "mind_resumed"
	EventMindError   = "mind_error"

	EventGoalCreated   = "goal_created"
	EventGoalProgress  = "goal_progress"
	EventGoalCompleted = "goal_completed"
	EventGoalFailed    = "goal_failed"

	EventApprovalTimedOut = "approval_timed_out"
)

// StatusPayload answers the "status" command and is also sent unsolicited
// on connect (spec §4.1 "STATUS-on-connect").
type StatusPayload struct {
	SessionKey   string `json:"session_key"`
	Mode         string `json:"mode"`
	MindState    string `json:"mind_state,omitempty"`
	ActiveGoalID string `json:"active_goal_id,omitempty"`
	Uptime       string `json:"uptime"`
}
