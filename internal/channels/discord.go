package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/agentpilot/agentpilot/internal/bus"
	"github.com/agentpilot/agentpilot/internal/config"
)

const discordMaxMessage = 2000

// DiscordChannel connects to the Discord gateway with discordgo.
type DiscordChannel struct {
	BaseChannel
	token string

	mu        sync.Mutex
	session   *discordgo.Session
	connected atomic.Bool
}

// NewDiscordChannel creates the Discord adapter.
func NewDiscordChannel(cfg config.DiscordConfig, messageBus *bus.MessageBus) *DiscordChannel {
	return &DiscordChannel{
		BaseChannel: BaseChannel{Bus: messageBus, AllowFrom: cfg.AllowFrom},
		token:       cfg.BotToken,
	}
}

func (c *DiscordChannel) Name() string { return "discord" }

func (c *DiscordChannel) Connected() bool { return c.connected.Load() }

func (c *DiscordChannel) Start(ctx context.Context) error {
	if c.token == "" {
		return fmt.Errorf("discord: bot token is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return nil
	}
	session, err := discordgo.New("Bot " + c.token)
	if err != nil {
		return fmt.Errorf("discord: creating session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	session.AddHandler(c.onMessageCreate)
	if err := session.Open(); err != nil {
		return fmt.Errorf("discord: opening gateway: %w", err)
	}
	c.session = session
	c.connected.Store(true)
	if u := session.State.User; u != nil {
		slog.Info("Discord connected", "bot", u.Username, "id", u.ID)
	}
	return nil
}

func (c *DiscordChannel) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	c.connected.Store(false)
	return err
}

func (c *DiscordChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return fmt.Errorf("discord: not connected")
	}
	for _, chunk := range SplitMessage(msg.Content, discordMaxMessage) {
		if _, err := session.ChannelMessageSend(msg.ChannelID, chunk, discordgo.WithContext(ctx)); err != nil {
			return err
		}
	}
	return nil
}

func (c *DiscordChannel) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	selfID := ""
	if s.State != nil && s.State.User != nil {
		selfID = s.State.User.ID
	}
	c.handle(selfID, m.Message)
}

// handle turns a Discord message into an inbound bus message. Bot messages
// and the bot's own messages are ignored.
func (c *DiscordChannel) handle(selfID string, m *discordgo.Message) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == selfID {
		return
	}
	if strings.TrimSpace(m.Content) == "" {
		return
	}
	if !c.Allowed(m.Author.ID, m.Author.Username) {
		return
	}
	var attachments []bus.Attachment
	for _, a := range m.Attachments {
		attachments = append(attachments, bus.Attachment{Name: a.Filename, MimeType: a.ContentType, URL: a.URL})
	}
	c.Publish(&bus.InboundMessage{
		ID:          m.ID,
		ChannelType: c.Name(),
		ChannelID:   m.ChannelID,
		UserID:      m.Author.ID,
		Content:     m.Content,
		Attachments: attachments,
		Timestamp:   m.Timestamp,
	})
}
