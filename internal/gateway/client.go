package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fieldnote-ai/warden/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1MB
	outboundBuffer = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // origin filtering done by Server before upgrade
}

// Client is one WebSocket connection's read/write pump pair (spec §4.1). A
// single buffered outbound channel serializes writes from whichever
// goroutine (the agent loop, the mind, an event broadcast) wants to send
// this client a frame, so only Run's writePump ever calls conn.WriteJSON.
type Client struct {
	ID         string
	SessionKey string // canonical agent session key bound on the first chat frame

	conn    *websocket.Conn
	server  *Server
	send    chan protocol.GatewayMessage
	closeCh chan struct{}
}

// NewClient wraps an upgraded connection. Call Run to start its pumps.
func NewClient(conn *websocket.Conn, server *Server) *Client {
	return &Client{
		ID:      uuid.NewString(),
		conn:    conn,
		server:  server,
		send:    make(chan protocol.GatewayMessage, outboundBuffer),
		closeCh: make(chan struct{}),
	}
}

// SendEvent enqueues frame for delivery to this client. Never blocks: when
// the outbound queue is full, frame itself is dropped (and logged) rather
// than stalling the broadcaster (spec §7, "a slow client must not
// back-pressure the rest of the fleet").
func (c *Client) SendEvent(frame protocol.GatewayMessage) {
	select {
	case c.send <- frame:
	default:
		slog.Warn("gateway.client.send_dropped", "client_id", c.ID, "type", frame.Type)
	}
}

// Run blocks running the read and write pumps until the connection closes
// (the read pump returns on its first read error).
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		close(c.closeCh)
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg protocol.GatewayMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("gateway.client.read_error", "client_id", c.ID, "err", err)
			}
			return
		}
		c.server.dispatch(c, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closeCh:
			return
		}
	}
}

// errorReply is a convenience for building a MessageTypeError reply.
func errorReply(replyTo, msg string) protocol.GatewayMessage {
	return protocol.GatewayMessage{
		ID:      uuid.NewString(),
		Type:    protocol.MessageTypeError,
		ReplyTo: replyTo,
		Sent:    time.Now().UTC(),
		Error:   msg,
	}
}

func mustJSON(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}
