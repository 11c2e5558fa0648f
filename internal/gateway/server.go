// Package gateway serves the local HTTP API and the live event WebSocket.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agentpilot/agentpilot/internal/channels"
	"github.com/agentpilot/agentpilot/internal/config"
	"github.com/agentpilot/agentpilot/internal/events"
	"github.com/agentpilot/agentpilot/internal/policy"
	"github.com/agentpilot/agentpilot/internal/store"
)

// Store is the read side of the repository plus permission writes.
type Store interface {
	ListSessions(ctx context.Context, limit, offset int) ([]store.Session, error)
	GetSession(ctx context.Context, id string) (*store.Session, error)
	ListMessages(ctx context.Context, sessionID string, limit int) ([]store.Message, error)
	ListAudit(ctx context.Context, f store.AuditFilter) ([]store.AuditEntry, error)
	ListPermissions(ctx context.Context) ([]store.PermissionRule, error)
	SetPermission(ctx context.Context, rule store.PermissionRule) (*store.PermissionRule, error)
	ListTasks(ctx context.Context, userID string) ([]store.ScheduledTask, error)
}

// ChannelStatus reports connected channels.
type ChannelStatus interface {
	Names() []string
	Statuses() []channels.Status
}

// Options configures a Server.
type Options struct {
	Config     *config.Config
	Store      Store
	Channels   ChannelStatus
	Events     *events.Bus
	Version    string
	AIProvider string
	// AgentReady is false when no model provider could be resolved.
	AgentReady bool
	// HasKey reports whether an API key is available for a provider id.
	HasKey func(provider string) bool
}

// Server is the gateway HTTP server.
type Server struct {
	opts  Options
	http  *http.Server
	hub   *hub
	ready chan struct{}
	addr  net.Addr
}

// New builds the server. Nothing listens until Start.
func New(opts Options) *Server {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	s := &Server{opts: opts, hub: newHub(opts.Events), ready: make(chan struct{})}
	s.http = &http.Server{
		Addr:              net.JoinHostPort(opts.Config.Gateway.Host, strconv.Itoa(opts.Config.Gateway.Port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler with CORS and auth applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/config", s.handleConfig)
	api.HandleFunc("GET /api/channels", s.handleChannels)
	api.HandleFunc("GET /api/sessions", s.handleSessions)
	api.HandleFunc("GET /api/sessions/{id}/messages", s.handleMessages)
	api.HandleFunc("GET /api/audit", s.handleAudit)
	api.HandleFunc("GET /api/permissions", s.handlePermissions)
	api.HandleFunc("POST /api/permissions", s.handleSetPermission)
	api.HandleFunc("GET /api/tasks", s.handleTasks)
	api.HandleFunc("GET /ws", s.hub.serveWS)

	guarded := s.requireToken(api)
	mux.Handle("/api/", guarded)
	mux.Handle("/ws", guarded)
	return withCORS(mux)
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen on %s: %w", s.http.Addr, err)
	}
	s.addr = ln.Addr()
	close(s.ready)
	slog.Info("Gateway listening", "addr", s.addr.String())
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Gateway server failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address after Start.
func (s *Server) Addr() string {
	select {
	case <-s.ready:
		return s.addr.String()
	default:
		return s.http.Addr
	}
}

// Shutdown stops accepting requests and closes WebSocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()
	return s.http.Shutdown(ctx)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireToken enforces the configured bearer token. Browsers cannot set
// headers on WebSocket upgrades, so ?token= is accepted as well.
func (s *Server) requireToken(next http.Handler) http.Handler {
	token := s.opts.Config.Gateway.AuthToken
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got == "" {
			got = r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := []string{}
	if s.opts.Channels != nil {
		names = s.opts.Channels.Names()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    s.opts.Version,
		"channels":   names,
		"aiProvider": s.opts.AIProvider,
		"agentReady": s.opts.AgentReady,
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.opts.Config
	has := func(id string) bool {
		if s.opts.HasKey != nil {
			return s.opts.HasKey(id)
		}
		return false
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"aiProvider":       cfg.AI.Primary,
		"model":            cfg.AI.Model,
		"maxIterations":    cfg.AI.MaxIterations,
		"defaultLevel":     policy.Level(cfg.Permissions.DefaultLevel).String(),
		"gatewayPort":      cfg.Gateway.Port,
		"schedulerEnabled": cfg.Scheduler.Enabled,
		"telegramEnabled":  cfg.Channels.Telegram.Enabled,
		"discordEnabled":   cfg.Channels.Discord.Enabled,
		"slackEnabled":     cfg.Channels.Slack.Enabled,
		"hasAnthropicKey":  has("anthropic"),
		"hasGeminiKey":     has("gemini"),
		"hasOpenRouterKey": has("openrouter"),
		"hasOpenAIKey":     has("openai"),
	})
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	out := []channels.Status{}
	if s.opts.Channels != nil {
		out = s.opts.Channels.Statuses()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	list, err := s.opts.Store.ListSessions(r.Context(), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.opts.Store.GetSession(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	msgs, err := s.opts.Store.ListMessages(r.Context(), id, queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nonNil(msgs))
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := s.opts.Store.ListAudit(r.Context(), store.AuditFilter{
		SessionID: q.Get("sessionId"),
		Domain:    q.Get("domain"),
		UserID:    q.Get("userId"),
		Limit:     queryInt(r, "limit", 50),
		Offset:    queryInt(r, "offset", 0),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

func (s *Server) handlePermissions(w http.ResponseWriter, r *http.Request) {
	rules, err := s.opts.Store.ListPermissions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rules))
}

type setPermissionRequest struct {
	ChannelType string          `json:"channelType"`
	ChannelID   string          `json:"channelId"`
	UserID      string          `json:"userId"`
	Domain      string          `json:"domain"`
	Level       json.RawMessage `json:"level"`
}

func (s *Server) handleSetPermission(w http.ResponseWriter, r *http.Request) {
	var req setPermissionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ChannelType == "" || req.ChannelID == "" || req.Domain == "" || len(req.Level) == 0 {
		writeError(w, http.StatusBadRequest, "channelType, channelId, domain and level are required")
		return
	}
	raw := strings.Trim(string(req.Level), `"`)
	level, err := policy.ParseLevel(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rule, err := s.opts.Store.SetPermission(r.Context(), store.PermissionRule{
		ChannelType: req.ChannelType,
		ChannelID:   req.ChannelID,
		UserID:      req.UserID,
		Domain:      req.Domain,
		Level:       int(level),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	slog.Info("Permission set via gateway", "channel", req.ChannelType, "chat", req.ChannelID, "user", req.UserID, "domain", req.Domain, "level", level.String())
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.opts.Store.ListTasks(r.Context(), r.URL.Query().Get("userId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nonNil(tasks))
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
