// Package cli adapts a local stdin/stdout terminal session to the
// channels.Channel interface (spec §6 "reference implementations"),
// grounded on original_source/channels/cli_adapter.py's read-a-line,
// print-a-reply loop. It is the minimal channel: no policy, no mention
// gating, a single fixed sender.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/fieldnote-ai/warden/internal/bus"
	"github.com/fieldnote-ai/warden/internal/channels"
	"github.com/fieldnote-ai/warden/internal/sessions"
)

const (
	localSenderID = "local"
	localChatID   = "local"
)

// Channel reads lines from stdin and writes replies to stdout.
type Channel struct {
	*channels.BaseChannel
	scanner *bufio.Scanner
	done    chan struct{}
}

// New creates a CLI channel over the process's own stdin/stdout.
func New(msgBus *bus.MessageBus) *Channel {
	return &Channel{
		BaseChannel: channels.NewBaseChannel("cli", msgBus, nil),
		scanner:     bufio.NewScanner(os.Stdin),
		done:        make(chan struct{}),
	}
}

func (c *Channel) Start(ctx context.Context) error {
	c.SetRunning(true)
	fmt.Println("warden cli channel ready — type a message and press enter (Ctrl+D to quit)")
	go c.readLoop(ctx)
	return nil
}

func (c *Channel) readLoop(ctx context.Context) {
	defer close(c.done)
	for c.scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := c.scanner.Text()
		if line == "" {
			continue
		}
		c.HandleMessage(localSenderID, localChatID, line, nil, nil, string(sessions.PeerDirect))
	}
	if err := c.scanner.Err(); err != nil {
		slog.Warn("cli.read_failed", "error", err)
	}
}

func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return nil
}

func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	fmt.Println(msg.Content)
	return nil
}
