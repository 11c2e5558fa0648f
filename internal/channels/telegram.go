package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentpilot/agentpilot/internal/bus"
	"github.com/agentpilot/agentpilot/internal/config"
)

const (
	telegramDefaultBase = "https://api.telegram.org"
	telegramMaxMessage  = 4096
	telegramPollTimeout = 30
	telegramMaxBackoff  = 30 * time.Second
)

// TelegramChannel talks to the Telegram Bot API with long polling.
type TelegramChannel struct {
	BaseChannel
	token   string
	apiBase string
	client  *http.Client

	offset    int64
	connected atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
	mu        sync.Mutex
}

// NewTelegramChannel creates the Telegram adapter.
func NewTelegramChannel(cfg config.TelegramConfig, messageBus *bus.MessageBus) *TelegramChannel {
	base := strings.TrimSuffix(cfg.APIBase, "/")
	if base == "" {
		base = telegramDefaultBase
	}
	return &TelegramChannel{
		BaseChannel: BaseChannel{Bus: messageBus, AllowFrom: cfg.AllowFrom},
		token:       cfg.BotToken,
		apiBase:     base,
		client:      &http.Client{Timeout: (telegramPollTimeout + 10) * time.Second},
	}
}

func (c *TelegramChannel) Name() string { return "telegram" }

// Connected reports whether the last poll succeeded.
func (c *TelegramChannel) Connected() bool { return c.connected.Load() }

func (c *TelegramChannel) Start(ctx context.Context) error {
	if c.token == "" {
		return fmt.Errorf("telegram: bot token is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.pollLoop(ctx)
	return nil
}

func (c *TelegramChannel) Stop() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	c.connected.Store(false)
	return nil
}

func (c *TelegramChannel) pollLoop(ctx context.Context) {
	defer close(c.done)
	backoff := time.Second
	for {
		updates, err := c.getUpdates(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.connected.Store(false)
			slog.Warn("Telegram poll failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, telegramMaxBackoff)
			continue
		}
		c.connected.Store(true)
		backoff = time.Second
		for _, u := range updates {
			if u.UpdateID >= c.offset {
				c.offset = u.UpdateID + 1
			}
			c.handleUpdate(u)
		}
	}
}

func (c *TelegramChannel) handleUpdate(u telegramUpdate) {
	m := u.Message
	if m == nil || m.From == nil || m.From.IsBot || strings.TrimSpace(m.Text) == "" {
		return
	}
	userID := strconv.FormatInt(m.From.ID, 10)
	if !c.Allowed(userID, m.From.Username) {
		slog.Debug("Telegram sender not allowed", "user", userID)
		return
	}
	c.Publish(&bus.InboundMessage{
		ID:          strconv.FormatInt(m.MessageID, 10),
		ChannelType: c.Name(),
		ChannelID:   strconv.FormatInt(m.Chat.ID, 10),
		UserID:      userID,
		Content:     m.Text,
		Timestamp:   time.Unix(m.Date, 0),
	})
}

func (c *TelegramChannel) getUpdates(ctx context.Context) ([]telegramUpdate, error) {
	q := url.Values{}
	q.Set("timeout", strconv.Itoa(telegramPollTimeout))
	if c.offset > 0 {
		q.Set("offset", strconv.FormatInt(c.offset, 10))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.method("getUpdates")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var updates []telegramUpdate
	if err := c.do(req, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// Send posts text to a chat, split at the Telegram message limit.
func (c *TelegramChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	for _, chunk := range SplitMessage(msg.Content, telegramMaxMessage) {
		body, _ := json.Marshal(map[string]any{"chat_id": msg.ChannelID, "text": chunk})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.method("sendMessage"), bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if err := c.do(req, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *TelegramChannel) method(name string) string {
	return c.apiBase + "/bot" + c.token + "/" + name
}

func (c *TelegramChannel) do(req *http.Request, result any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var env struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("telegram: decode response (status %d): %w", resp.StatusCode, err)
	}
	if !env.OK {
		if env.Description == "" {
			env.Description = resp.Status
		}
		return errors.New("telegram: " + env.Description)
	}
	if result != nil && len(env.Result) > 0 {
		return json.Unmarshal(env.Result, result)
	}
	return nil
}

type telegramUpdate struct {
	UpdateID int64            `json:"update_id"`
	Message  *telegramMessage `json:"message"`
}

type telegramMessage struct {
	MessageID int64 `json:"message_id"`
	From      *struct {
		ID       int64  `json:"id"`
		IsBot    bool   `json:"is_bot"`
		Username string `json:"username"`
	} `json:"from"`
	Chat struct {
		ID   int64  `json:"id"`
		Type string `json:"type"`
	} `json:"chat"`
	Date int64  `json:"date"`
	Text string `json:"text"`
}
