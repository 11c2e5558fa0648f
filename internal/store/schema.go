package store

import (
	"encoding/json"
	"time"
)

// Session is the conversation owned by one (channel type, channel id, user id) identity.
type Session struct {
	ID          string          `json:"id"`
	ChannelType string          `json:"channelType"`
	ChannelID   string          `json:"channelId"`
	UserID      string          `json:"userId"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one entry of a session's append-only history.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// PermissionRule grants an authorization level for one action domain.
// An empty UserID makes the rule channel-scoped.
type PermissionRule struct {
	ID          string    `json:"id"`
	ChannelType string    `json:"channelType"`
	ChannelID   string    `json:"channelId"`
	UserID      string    `json:"userId,omitempty"`
	Domain      string    `json:"domain"`
	Level       int       `json:"level"`
	CreatedAt   time.Time `json:"createdAt"`
}

// AuditEntry records one attempted action dispatch.
type AuditEntry struct {
	ID                   string          `json:"id"`
	SessionID            string          `json:"sessionId,omitempty"`
	ChannelType          string          `json:"channelType"`
	ChannelID            string          `json:"channelId"`
	UserID               string          `json:"userId"`
	Domain               string          `json:"domain"`
	Operation            string          `json:"operation"`
	Input                json.RawMessage `json:"input,omitempty"`
	Output               json.RawMessage `json:"output,omitempty"`
	PermissionLevel      int             `json:"permissionLevel"`
	ConfirmationRequired bool            `json:"confirmationRequired"`
	Confirmed            bool            `json:"confirmed"`
	CreatedAt            time.Time       `json:"createdAt"`
}

// AuditFilter narrows ListAudit. Zero values mean no filter.
type AuditFilter struct {
	Limit     int
	Offset    int
	SessionID string
	Domain    string
	UserID    string
}

// ScheduledTask is a recurring prompt fed back into the agent on a cron schedule.
type ScheduledTask struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	CronExpression string     `json:"cronExpression"`
	Prompt         string     `json:"prompt"`
	ChannelType    string     `json:"channelType"`
	ChannelID      string     `json:"channelId"`
	UserID         string     `json:"userId"`
	Enabled        bool       `json:"enabled"`
	LastRun        *time.Time `json:"lastRun,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Schema is applied on every open; all statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	channel_type TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	metadata TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_identity ON sessions(channel_type, channel_id, user_id);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);

CREATE TABLE IF NOT EXISTS permissions (
	id TEXT PRIMARY KEY,
	channel_type TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	domain TEXT NOT NULL,
	level INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_permissions_rule ON permissions(channel_type, channel_id, user_id, domain);
CREATE INDEX IF NOT EXISTS idx_permissions_channel ON permissions(channel_type, channel_id);

CREATE TABLE IF NOT EXISTS audit_log (
	id TEXT PRIMARY KEY,
	session_id TEXT,
	channel_type TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	domain TEXT NOT NULL,
	operation TEXT NOT NULL,
	input TEXT,
	output TEXT,
	permission_level INTEGER NOT NULL,
	confirmation_required BOOLEAN NOT NULL,
	confirmed BOOLEAN NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS scheduled_tasks (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	cron_expression TEXT NOT NULL,
	prompt TEXT NOT NULL,
	channel_type TEXT NOT NULL,
	channel_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT 1,
	last_run DATETIME,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_enabled ON scheduled_tasks(enabled);
`
