// Package discord adapts a Discord bot to the channels.Channel interface
// (spec §6). Grounded on the teacher's discord.go gateway-event handling and
// message chunking; pairing, group file writers, and the /tasks team
// commands the teacher wires in here are Non-goals and are dropped.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/fieldnote-ai/warden/internal/bus"
	"github.com/fieldnote-ai/warden/internal/channels"
	"github.com/fieldnote-ai/warden/internal/config"
	"github.com/fieldnote-ai/warden/internal/typing"
)

const discordMessageMaxLen = 2000

// Channel connects to Discord via the gateway (websocket) API.
type Channel struct {
	*channels.BaseChannel
	session        *discordgo.Session
	cfg            config.DiscordConfig
	botUserID      string
	requireMention bool
	placeholders   sync.Map // inbound message ID -> placeholder message ID
	typingCtrls    sync.Map // channel ID -> *typing.Controller
}

// New creates a new Discord channel from config.
func New(cfg config.DiscordConfig, msgBus *bus.MessageBus) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	requireMention := true
	if cfg.RequireMention != nil {
		requireMention = *cfg.RequireMention
	}

	return &Channel{
		BaseChannel:    channels.NewBaseChannel("discord", msgBus, []string(cfg.AllowFrom)),
		session:        session,
		cfg:            cfg,
		requireMention: requireMention,
	}, nil
}

func (c *Channel) Start(_ context.Context) error {
	slog.Info("starting discord bot")
	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID
	c.SetRunning(true)
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping discord bot")
	c.SetRunning(false)
	return c.session.Close()
}

func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}
	channelID := msg.ChatID
	if channelID == "" {
		return fmt.Errorf("empty chat id for discord send")
	}

	placeholderKey := channelID
	if pk := msg.Metadata["placeholder_key"]; pk != "" {
		placeholderKey = pk
	}

	if ctrl, ok := c.typingCtrls.LoadAndDelete(channelID); ok {
		ctrl.(*typing.Controller).Stop()
	}

	content := msg.Content
	if content == "" {
		if pID, ok := c.placeholders.LoadAndDelete(placeholderKey); ok {
			_ = c.session.ChannelMessageDelete(channelID, pID.(string))
		}
		return nil
	}

	if pID, ok := c.placeholders.LoadAndDelete(placeholderKey); ok {
		msgID := pID.(string)
		editContent, remaining := splitAt(content, discordMessageMaxLen)
		if _, err := c.session.ChannelMessageEdit(channelID, msgID, editContent); err == nil {
			if remaining != "" {
				return c.sendChunked(channelID, remaining)
			}
			return nil
		}
		slog.Warn("discord: placeholder edit failed, sending new message", "channel_id", channelID)
	}

	return c.sendChunked(channelID, content)
}

func (c *Channel) sendChunked(channelID, content string) error {
	for len(content) > 0 {
		var chunk string
		chunk, content = splitAt(content, discordMessageMaxLen)
		if _, err := c.session.ChannelMessageSend(channelID, chunk); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}
	return nil
}

// splitAt breaks s at the last newline before maxLen, or at maxLen itself
// if none exists, returning (head, rest).
func splitAt(s string, maxLen int) (string, string) {
	if len(s) <= maxLen {
		return s, ""
	}
	cutAt := maxLen
	for i := maxLen - 1; i > maxLen/2; i-- {
		if s[i] == '\n' {
			cutAt = i + 1
			break
		}
	}
	return s[:cutAt], s[cutAt:]
}

func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}

	senderID := m.Author.ID
	senderName := resolveDisplayName(m)
	channelID := m.ChannelID
	isDM := m.GuildID == ""
	peerKind := "group"
	if isDM {
		peerKind = "direct"
	}

	if !c.CheckPolicy(peerKind, c.cfg.DMPolicy, c.cfg.GroupPolicy, senderID) {
		slog.Debug("discord message rejected by policy", "user_id", senderID, "peer_kind", peerKind)
		return
	}

	content := m.Content
	for _, att := range m.Attachments {
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("[attachment: %s]", att.URL)
	}
	if content == "" {
		content = "[empty message]"
	}

	if peerKind == "group" && c.requireMention {
		mentioned := false
		for _, u := range m.Mentions {
			if u.ID == c.botUserID {
				mentioned = true
				break
			}
		}
		if !mentioned {
			return
		}
	}

	slog.Debug("discord message received", "sender_id", senderID, "channel_id", channelID, "is_dm", isDM)

	typingCtrl := typing.New(typing.Options{
		MaxDuration:       60 * time.Second,
		KeepaliveInterval: 9 * time.Second,
		StartFn: func() error {
			return c.session.ChannelTyping(channelID)
		},
	})
	if prev, ok := c.typingCtrls.Load(channelID); ok {
		prev.(*typing.Controller).Stop()
	}
	c.typingCtrls.Store(channelID, typingCtrl)
	typingCtrl.Start()

	placeholder, err := c.session.ChannelMessageSend(channelID, "Thinking...")
	if err == nil {
		c.placeholders.Store(m.ID, placeholder.ID)
	}

	finalContent := content
	if peerKind == "group" {
		finalContent = fmt.Sprintf("[From: %s]\n%s", senderName, content)
	}

	metadata := map[string]string{
		"message_id":      m.ID,
		"username":        m.Author.Username,
		"display_name":    senderName,
		"guild_id":        m.GuildID,
		"placeholder_key": m.ID,
	}

	c.HandleMessage(senderID, channelID, finalContent, nil, metadata, peerKind)
}

func resolveDisplayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
