// Package session provides identity-keyed conversation sessions backed by the store.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentpilot/agentpilot/internal/bus"
	"github.com/agentpilot/agentpilot/internal/store"
)

// DefaultHistoryLimit bounds the history replayed into the model context.
const DefaultHistoryLimit = 100

// Identity is the (channel type, channel id, user id) triple that owns a session.
type Identity struct {
	ChannelType string
	ChannelID   string
	UserID      string
}

// Key returns "<channelType>:<channelId>:<userId>".
func (id Identity) Key() string {
	return bus.IdentityKey(id.ChannelType, id.ChannelID, id.UserID)
}

// Repository is the slice of the store the manager needs.
type Repository interface {
	GetOrCreateSession(ctx context.Context, channelType, channelID, userID string) (*store.Session, bool, error)
	AddMessage(ctx context.Context, sessionID, role, content string) (*store.Message, error)
	ListMessages(ctx context.Context, sessionID string, limit int) ([]store.Message, error)
}

// Manager resolves sessions by identity and keeps their history.
type Manager struct {
	repo  Repository
	cache map[string]*store.Session
	mu    sync.RWMutex
}

// NewManager creates a session manager over repo.
func NewManager(repo Repository) *Manager {
	return &Manager{
		repo:  repo,
		cache: make(map[string]*store.Session),
	}
}

// GetOrCreate returns the session for id, creating it on first contact.
func (m *Manager) GetOrCreate(ctx context.Context, id Identity) (*store.Session, error) {
	key := id.Key()
	m.mu.RLock()
	sess, ok := m.cache[key]
	m.mu.RUnlock()
	if ok {
		return sess, nil
	}

	sess, _, err := m.repo.GetOrCreateSession(ctx, id.ChannelType, id.ChannelID, id.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve session %s: %w", key, err)
	}
	m.mu.Lock()
	m.cache[key] = sess
	m.mu.Unlock()
	return sess, nil
}

// Append adds a message to the session history.
func (m *Manager) Append(ctx context.Context, sessionID, role, content string) error {
	if _, err := m.repo.AddMessage(ctx, sessionID, role, content); err != nil {
		return fmt.Errorf("append %s message: %w", role, err)
	}
	return nil
}

// History returns up to limit of the most recent messages, oldest first.
func (m *Manager) History(ctx context.Context, sessionID string, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return m.repo.ListMessages(ctx, sessionID, limit)
}
