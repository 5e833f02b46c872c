package gateway

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/fieldnote-ai/warden/internal/bus"
	"github.com/fieldnote-ai/warden/internal/config"
	"github.com/fieldnote-ai/warden/internal/permissions"
	"github.com/fieldnote-ai/warden/pkg/protocol"
)

// fakeChatRunner is a minimal ChatRunner stub so gateway tests don't need a
// real agent.Loop (which would require providers/router/store wiring).
type fakeChatRunner struct {
	reply string
	err   error
}

func (f *fakeChatRunner) HandleChat(ctx context.Context, sessionKey, channel, chatID, content string, events chan<- protocol.GatewayMessage, requestApproval ApprovalRequester) error {
	if f.err != nil {
		return f.err
	}
	events <- protocol.GatewayMessage{Type: protocol.MessageTypeResponse, Content: f.reply}
	return nil
}

func (f *fakeChatRunner) Cancel(sessionKey string) {}

func dialTestServer(t *testing.T, srv *Server) (*websocket.Conn, func()) {
	t.Helper()
	httpSrv := httptest.NewServer(srv)
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn, func() {
		conn.Close()
		httpSrv.Close()
	}
}

// readUntil reads frames off conn until pred matches one or the deadline
// passes, returning the matching frame.
func readUntil(t *testing.T, conn *websocket.Conn, pred func(protocol.GatewayMessage) bool) protocol.GatewayMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg protocol.GatewayMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if pred(msg) {
			return msg
		}
	}
}

// TestReplyToMatchesTriggeringMessage covers spec §8 invariant 1 / scenario
// (a): a chat message answered by a response carries reply_to equal to the
// triggering message's id, and the first frame off any new connection is a
// status frame.
func TestReplyToMatchesTriggeringMessage(t *testing.T) {
	chat := &fakeChatRunner{reply: "Hello"}
	srv := NewServer(config.GatewayConfig{}, bus.New(), permissions.NewQueue(time.Minute), chat, nil, nil)

	conn, closeFn := dialTestServer(t, srv)
	defer closeFn()

	var status protocol.GatewayMessage
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	require.NoError(t, conn.ReadJSON(&status))
	require.Equal(t, protocol.MessageTypeStatus, status.Type)

	chatMsg := protocol.GatewayMessage{ID: "req-1", Type: protocol.MessageTypeChat, Content: "hi"}
	require.NoError(t, conn.WriteJSON(chatMsg))

	resp := readUntil(t, conn, func(m protocol.GatewayMessage) bool { return m.Type == protocol.MessageTypeResponse })
	require.Equal(t, "Hello", resp.Content)
	require.Equal(t, "req-1", resp.ReplyTo)
}

// TestChatRunnerErrorProducesErrorWithReplyTo covers the failure path: a
// ChatRunner error must still reach the client as an error frame carrying
// the triggering message's id.
func TestChatRunnerErrorProducesErrorWithReplyTo(t *testing.T) {
	chat := &fakeChatRunner{err: fmt.Errorf("boom")}
	srv := NewServer(config.GatewayConfig{}, bus.New(), permissions.NewQueue(time.Minute), chat, nil, nil)

	conn, closeFn := dialTestServer(t, srv)
	defer closeFn()

	var status protocol.GatewayMessage
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	require.NoError(t, conn.ReadJSON(&status))
	require.Equal(t, protocol.MessageTypeStatus, status.Type)

	chatMsg := protocol.GatewayMessage{ID: "req-2", Type: protocol.MessageTypeChat, Content: "hi"}
	require.NoError(t, conn.WriteJSON(chatMsg))

	resp := readUntil(t, conn, func(m protocol.GatewayMessage) bool { return m.Type == protocol.MessageTypeError })
	require.Equal(t, "req-2", resp.ReplyTo)
	require.Contains(t, resp.Error, "boom")
}

// trackingChatRunner records how many calls are in flight at once, so tests
// can detect whether two turns on the same session ever overlapped.
type trackingChatRunner struct {
	inFlight    int32
	maxInFlight int32
	order       chan string // content relayed back in arrival order of completion
	hold        chan struct{}
}

func (f *trackingChatRunner) HandleChat(ctx context.Context, sessionKey, channel, chatID, content string, events chan<- protocol.GatewayMessage, requestApproval ApprovalRequester) error {
	n := atomic.AddInt32(&f.inFlight, 1)
	for {
		old := atomic.LoadInt32(&f.maxInFlight)
		if n <= old || atomic.CompareAndSwapInt32(&f.maxInFlight, old, n) {
			break
		}
	}
	if f.hold != nil {
		<-f.hold
	}
	atomic.AddInt32(&f.inFlight, -1)
	if f.order != nil {
		f.order <- content
	}
	events <- protocol.GatewayMessage{Type: protocol.MessageTypeResponse, Content: content}
	return nil
}

func (f *trackingChatRunner) Cancel(sessionKey string) {}

// TestChatTurnsOnSameSessionAreSerialized covers spec §5 Ordering: two CHAT
// frames on the same connection (and therefore the same SessionKey) must
// never run HandleChat concurrently, and must finish in arrival order.
func TestChatTurnsOnSameSessionAreSerialized(t *testing.T) {
	chat := &trackingChatRunner{order: make(chan string, 2), hold: make(chan struct{})}
	srv := NewServer(config.GatewayConfig{}, bus.New(), permissions.NewQueue(time.Minute), chat, nil, nil)

	conn, closeFn := dialTestServer(t, srv)
	defer closeFn()

	var status protocol.GatewayMessage
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	require.NoError(t, conn.ReadJSON(&status))

	require.NoError(t, conn.WriteJSON(protocol.GatewayMessage{ID: "a", Type: protocol.MessageTypeChat, Content: "first"}))
	require.NoError(t, conn.WriteJSON(protocol.GatewayMessage{ID: "b", Type: protocol.MessageTypeChat, Content: "second"}))

	// Give the server a moment to have dispatched both frames, then release
	// the first turn: if they were serialized, only one call is in flight.
	time.Sleep(100 * time.Millisecond)
	require.EqualValues(t, 1, atomic.LoadInt32(&chat.maxInFlight))
	chat.hold <- struct{}{}
	chat.hold <- struct{}{}

	require.Equal(t, "first", <-chat.order)
	require.Equal(t, "second", <-chat.order)
}
