// Package config provides configuration types and loading for agentpilot.
package config

import "time"

// Config is the root configuration struct.
type Config struct {
	AI          AIConfig          `json:"ai"`
	Channels    ChannelsConfig    `json:"channels"`
	Permissions PermissionsConfig `json:"permissions"`
	Gateway     GatewayConfig     `json:"gateway"`
	Database    DatabaseConfig    `json:"database"`
	Paths       PathsConfig       `json:"paths"`
	Tools       ToolsConfig       `json:"tools"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Events      EventsConfig      `json:"events"`
	Logging     LoggingConfig     `json:"logging"`
}

// ---------------------------------------------------------------------------
// AI – model provider and agent loop
// ---------------------------------------------------------------------------

// AIConfig selects the model provider and bounds the agent loop.
type AIConfig struct {
	Primary          string  `json:"primary" envconfig:"AI_PRIMARY"`
	Model            string  `json:"model,omitempty" envconfig:"AI_MODEL"`
	MaxIterations    int     `json:"maxIterations" envconfig:"AI_MAX_ITERATIONS"`
	MaxTokens        int     `json:"maxTokens" envconfig:"AI_MAX_TOKENS"`
	Temperature      float64 `json:"temperature" envconfig:"AI_TEMPERATURE"`
	AnthropicAPIKey  string  `json:"anthropicApiKey,omitempty" envconfig:"ANTHROPIC_API_KEY"`
	GeminiAPIKey     string  `json:"geminiApiKey,omitempty" envconfig:"GEMINI_API_KEY"`
	OpenRouterAPIKey string  `json:"openRouterApiKey,omitempty" envconfig:"OPENROUTER_API_KEY"`
	OpenAIAPIKey     string  `json:"openaiApiKey,omitempty" envconfig:"OPENAI_API_KEY"`
	APIBase          string  `json:"apiBase,omitempty" envconfig:"AI_API_BASE"`
}

// ---------------------------------------------------------------------------
// Channels – messaging integrations
// ---------------------------------------------------------------------------

// ChannelsConfig contains all channel configurations.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Slack    SlackConfig    `json:"slack"`
}

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Enabled   bool     `json:"enabled" envconfig:"TELEGRAM_ENABLED"`
	BotToken  string   `json:"botToken,omitempty" envconfig:"TELEGRAM_BOT_TOKEN"`
	AllowFrom []string `json:"allowFrom,omitempty" envconfig:"TELEGRAM_ALLOW_FROM"`
	APIBase   string   `json:"apiBase,omitempty" envconfig:"TELEGRAM_API_BASE"`
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Enabled   bool     `json:"enabled" envconfig:"DISCORD_ENABLED"`
	BotToken  string   `json:"botToken,omitempty" envconfig:"DISCORD_BOT_TOKEN"`
	AllowFrom []string `json:"allowFrom,omitempty" envconfig:"DISCORD_ALLOW_FROM"`
}

// SlackConfig configures the Slack socket-mode channel.
type SlackConfig struct {
	Enabled   bool     `json:"enabled" envconfig:"SLACK_ENABLED"`
	BotToken  string   `json:"botToken,omitempty" envconfig:"SLACK_BOT_TOKEN"`
	AppToken  string   `json:"appToken,omitempty" envconfig:"SLACK_APP_TOKEN"`
	AllowFrom []string `json:"allowFrom,omitempty" envconfig:"SLACK_ALLOW_FROM"`
}

// ---------------------------------------------------------------------------
// Permissions
// ---------------------------------------------------------------------------

// PermissionsConfig tunes the permission guard.
type PermissionsConfig struct {
	DefaultLevel    int            `json:"defaultLevel" envconfig:"PERMISSIONS_DEFAULT_LEVEL"`
	DestructiveOps  []string       `json:"destructiveOps,omitempty" envconfig:"PERMISSIONS_DESTRUCTIVE_OPS"`
	RequiredLevels  map[string]int `json:"requiredLevels,omitempty"`
	ConfirmationTTL time.Duration  `json:"confirmationTTL" envconfig:"PERMISSIONS_CONFIRMATION_TTL"`
}

// ---------------------------------------------------------------------------
// Gateway, storage, paths
// ---------------------------------------------------------------------------

// GatewayConfig configures the HTTP/WebSocket gateway.
type GatewayConfig struct {
	Host      string `json:"host" envconfig:"GATEWAY_HOST"`
	Port      int    `json:"port" envconfig:"GATEWAY_PORT"`
	AuthToken string `json:"authToken,omitempty" envconfig:"GATEWAY_AUTH_TOKEN"`
}

// DatabaseConfig points at the SQLite file.
type DatabaseConfig struct {
	Path string `json:"path" envconfig:"DB_PATH"`
}

// PathsConfig groups filesystem locations used by the workers and skills.
type PathsConfig struct {
	Notes     string `json:"notes" envconfig:"PATHS_NOTES"`
	Skills    string `json:"skills" envconfig:"PATHS_SKILLS"`
	FilesRoot string `json:"filesRoot,omitempty" envconfig:"PATHS_FILES_ROOT"`
}

// ---------------------------------------------------------------------------
// Tools – worker settings
// ---------------------------------------------------------------------------

// ToolsConfig contains tool configurations.
type ToolsConfig struct {
	Shell ShellToolConfig `json:"shell"`
	Web   WebToolConfig   `json:"web"`
	Email EmailToolConfig `json:"email"`
}

// ShellToolConfig configures shell_exec.
type ShellToolConfig struct {
	Timeout time.Duration `json:"timeout" envconfig:"SHELL_TIMEOUT"`
	WorkDir string        `json:"workDir,omitempty" envconfig:"SHELL_WORK_DIR"`
}

// WebToolConfig configures browse_web and web_search.
type WebToolConfig struct {
	SearchURL string        `json:"searchUrl,omitempty" envconfig:"WEB_SEARCH_URL"`
	Timeout   time.Duration `json:"timeout" envconfig:"WEB_TIMEOUT"`
	UserAgent string        `json:"userAgent,omitempty" envconfig:"WEB_USER_AGENT"`
}

// EmailToolConfig configures IMAP reading and SMTP sending.
type EmailToolConfig struct {
	IMAPHost string `json:"imapHost,omitempty" envconfig:"EMAIL_IMAP_HOST"`
	IMAPPort int    `json:"imapPort" envconfig:"EMAIL_IMAP_PORT"`
	SMTPHost string `json:"smtpHost,omitempty" envconfig:"EMAIL_SMTP_HOST"`
	SMTPPort int    `json:"smtpPort" envconfig:"EMAIL_SMTP_PORT"`
	Username string `json:"username,omitempty" envconfig:"EMAIL_USERNAME"`
	Password string `json:"password,omitempty" envconfig:"EMAIL_PASSWORD"`
	From     string `json:"from,omitempty" envconfig:"EMAIL_FROM"`
}

// ---------------------------------------------------------------------------
// Scheduler, events, logging
// ---------------------------------------------------------------------------

// SchedulerConfig configures cron-driven task execution.
type SchedulerConfig struct {
	Enabled       bool          `json:"enabled" envconfig:"SCHEDULER_ENABLED"`
	MaxConcurrent int           `json:"maxConcurrent" envconfig:"SCHEDULER_MAX_CONCURRENT"`
	ReloadDelay   time.Duration `json:"reloadDelay" envconfig:"SCHEDULER_RELOAD_DELAY"`
	LockPath      string        `json:"lockPath,omitempty" envconfig:"SCHEDULER_LOCK_PATH"`
}

// EventsConfig configures optional event sinks.
type EventsConfig struct {
	Kafka KafkaEventsConfig `json:"kafka"`
}

// KafkaEventsConfig enables the Kafka event sink when Brokers is set.
type KafkaEventsConfig struct {
	Brokers string `json:"brokers,omitempty" envconfig:"KAFKA_BROKERS"`
	Topic   string `json:"topic,omitempty" envconfig:"KAFKA_TOPIC"`
}

// LoggingConfig sets the slog level.
type LoggingConfig struct {
	Level string `json:"level" envconfig:"LOG_LEVEL"`
}

// DefaultDestructiveOps always require confirmation, at any level.
var DefaultDestructiveOps = []string{"send_email", "delete_file", "shell_exec"}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		AI: AIConfig{
			Primary:       "anthropic",
			MaxIterations: 10,
			MaxTokens:     4096,
			Temperature:   0.7,
		},
		Permissions: PermissionsConfig{
			DefaultLevel:   0,
			DestructiveOps: append([]string(nil), DefaultDestructiveOps...),
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1", // Secure default
			Port: 3100,
		},
		Database: DatabaseConfig{
			Path: "~/.agentpilot/agentpilot.db",
		},
		Paths: PathsConfig{
			Notes:  "~/.agentpilot/notes",
			Skills: "~/.agentpilot/skills",
		},
		Tools: ToolsConfig{
			Shell: ShellToolConfig{
				Timeout: 30 * time.Second,
			},
			Web: WebToolConfig{
				SearchURL: "https://html.duckduckgo.com/html/",
				Timeout:   20 * time.Second,
			},
			Email: EmailToolConfig{
				IMAPPort: 993,
				SMTPPort: 587,
			},
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			MaxConcurrent: 4,
			ReloadDelay:   2 * time.Second,
		},
		Events: EventsConfig{
			Kafka: KafkaEventsConfig{
				Topic: "agentpilot.events",
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
