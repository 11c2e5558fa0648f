package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentpilot/agentpilot/internal/agent"
	"github.com/agentpilot/agentpilot/internal/approval"
	"github.com/agentpilot/agentpilot/internal/bus"
	"github.com/agentpilot/agentpilot/internal/channels"
	"github.com/agentpilot/agentpilot/internal/config"
	"github.com/agentpilot/agentpilot/internal/events"
	"github.com/agentpilot/agentpilot/internal/gateway"
	"github.com/agentpilot/agentpilot/internal/policy"
	"github.com/agentpilot/agentpilot/internal/provider"
	"github.com/agentpilot/agentpilot/internal/scheduler"
	"github.com/agentpilot/agentpilot/internal/secrets"
	"github.com/agentpilot/agentpilot/internal/session"
	"github.com/agentpilot/agentpilot/internal/skills"
	"github.com/agentpilot/agentpilot/internal/store"
	"github.com/agentpilot/agentpilot/internal/tools"
)

const (
	shutdownTimeout    = 5 * time.Second
	settingLastStarted = "gateway.last_started"
)

var gatewayCmd = &cobra.Command{
	Use:     "gateway",
	Aliases: []string{"serve"},
	Short:   "Start the daemon: channels, agent, scheduler and HTTP gateway",
	RunE:    runGateway,
}

// daemon holds every long-lived component the gateway command wires.
type daemon struct {
	cfg       *config.Config
	store     *store.Store
	events    *events.Bus
	bus       *bus.MessageBus
	channels  *channels.Manager
	loop      *agent.Loop
	skills    *skills.Loader
	scheduler *scheduler.Scheduler
	server    *gateway.Server
	sink      *events.KafkaSink
	agentOK   bool
	unwatch   func()
	cleanup   []func()
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Logging.Level)

	d, err := newDaemon(cfg, newKeyring())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.start(ctx); err != nil {
		d.shutdown()
		return err
	}
	printHeader(cmd.OutOrStdout(), "🚀 AgentPilot Gateway")
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s\n", d.server.Addr())
	if !d.agentOK {
		fmt.Fprintln(cmd.OutOrStdout(), "⚠️  No AI provider key found; messages will get an error reply.")
	}

	dispatched := make(chan error, 1)
	go func() { dispatched <- d.channels.Dispatch(ctx, d.loop) }()

	<-ctx.Done()
	slog.Info("Shutdown signal received")
	d.stop(dispatched)
	return nil
}

// stop runs the shutdown sequence once the dispatch context is done: no new
// scheduled turns, drain running turns for at most shutdownTimeout, then
// close everything.
func (d *daemon) stop(dispatched <-chan error) {
	d.stopScheduler()
	<-dispatched
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.channels.Wait(ctx); err != nil {
		slog.Warn("Turns still running at shutdown", "error", err)
	}
	d.shutdown()
}

func (d *daemon) stopScheduler() {
	if d.unwatch != nil {
		d.unwatch()
		d.unwatch = nil
	}
	if d.scheduler == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.scheduler.Stop(ctx); err != nil {
		slog.Warn("Scheduler stop incomplete", "error", err)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// newDaemon opens storage and builds every component. Nothing runs until start.
func newDaemon(cfg *config.Config, kr *secrets.Keyring) (*daemon, error) {
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	d := &daemon{cfg: cfg, store: st, events: events.NewBus(), bus: bus.NewMessageBus()}

	registry, err := buildTools(cfg, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	llm, err := provider.Resolve(cfg.AI, kr)
	if err != nil {
		slog.Warn("AI provider unavailable", "provider", cfg.AI.Primary, "error", err)
	} else {
		d.agentOK = true
	}

	required := make(map[string]policy.Level, len(cfg.Permissions.RequiredLevels))
	for domain, lvl := range cfg.Permissions.RequiredLevels {
		required[domain] = policy.Level(lvl)
	}
	guard := policy.NewGuard(st, policy.Config{
		DefaultLevel:   policy.Level(cfg.Permissions.DefaultLevel),
		DestructiveOps: cfg.Permissions.DestructiveOps,
		RequiredLevels: required,
	})

	d.skills = skills.NewLoader(cfg.Paths.Skills)
	if err := d.skills.Load(); err != nil {
		slog.Warn("Skills not loaded", "dir", cfg.Paths.Skills, "error", err)
	}

	d.loop = agent.NewLoop(agent.LoopOptions{
		Provider:      llm,
		Tools:         registry,
		Guard:         guard,
		Sessions:      session.NewManager(st),
		Confirmations: approval.NewRegistry(approval.WithTTL(cfg.Permissions.ConfirmationTTL)),
		Locker:        session.NewLocker(),
		Events:        d.events,
		Skills:        d.skills,
		Model:         cfg.AI.Model,
		MaxIterations: cfg.AI.MaxIterations,
		MaxTokens:     cfg.AI.MaxTokens,
		Temperature:   cfg.AI.Temperature,
	})

	d.channels = channels.NewManager(d.bus)
	if c := cfg.Channels.Telegram; c.Enabled {
		d.channels.Register(channels.NewTelegramChannel(c, d.bus))
	}
	if c := cfg.Channels.Discord; c.Enabled {
		d.channels.Register(channels.NewDiscordChannel(c, d.bus))
	}
	if c := cfg.Channels.Slack; c.Enabled {
		d.channels.Register(channels.NewSlackChannel(c, d.bus))
	}

	if cfg.Events.Kafka.Brokers != "" {
		d.sink = events.NewKafkaSink(cfg.Events.Kafka.Brokers, cfg.Events.Kafka.Topic)
		d.cleanup = append(d.cleanup, d.sink.Attach(d.events))
	}

	if cfg.Scheduler.Enabled {
		lockPath := cfg.Scheduler.LockPath
		if lockPath == "" {
			lockPath = filepath.Join(filepath.Dir(cfg.Database.Path), "scheduler.lock")
		}
		d.scheduler = scheduler.New(scheduler.Config{
			MaxConcurrent: cfg.Scheduler.MaxConcurrent,
			LockPath:      lockPath,
		}, st, d.loop, d.channels)
		d.unwatch = d.scheduler.WatchEvents(d.events, cfg.Scheduler.ReloadDelay)
	}

	d.server = gateway.New(gateway.Options{
		Config:     cfg,
		Store:      st,
		Channels:   d.channels,
		Events:     d.events,
		Version:    version,
		AIProvider: provider.NormalizeProviderID(cfg.AI.Primary),
		AgentReady: d.agentOK,
		HasKey: func(id string) bool {
			return provider.APIKeyFor(cfg.AI, id) != "" || kr.ProviderKey(id) != ""
		},
	})
	return d, nil
}

// buildTools registers every capability worker in catalog order.
func buildTools(cfg *config.Config, st *store.Store) (*tools.Registry, error) {
	notes, err := tools.NewNotesWorker(cfg.Paths.Notes)
	if err != nil {
		return nil, err
	}
	registry := tools.NewRegistry()
	for _, w := range []tools.Worker{
		tools.NewFilesWorker(cfg.Paths.FilesRoot),
		tools.NewShellWorker(cfg.Tools.Shell.Timeout, cfg.Tools.Shell.WorkDir),
		notes,
		tools.NewBrowserWorker(cfg.Tools.Web.SearchURL, cfg.Tools.Web.UserAgent, cfg.Tools.Web.Timeout),
		tools.NewEmailWorker(cfg.Tools.Email),
		tools.NewScheduleWorker(st),
	} {
		if err := registry.Register(w); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (d *daemon) start(ctx context.Context) error {
	go d.skills.Watch(ctx, 0)
	if n := d.channels.StartAll(ctx); n == 0 && len(d.channels.Names()) > 0 {
		slog.Warn("No channel connected")
	}
	if d.scheduler != nil {
		if err := d.scheduler.Start(ctx); err != nil {
			return err
		}
	}
	if err := d.server.Start(); err != nil {
		return err
	}
	_ = d.store.SetSetting(ctx, settingLastStarted, time.Now().UTC().Format(time.RFC3339))
	return nil
}

// shutdown stops components in reverse dependency order.
func (d *daemon) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	d.stopScheduler()
	for _, fn := range d.cleanup {
		fn()
	}
	d.channels.StopAll()
	if err := d.server.Shutdown(ctx); err != nil {
		slog.Warn("Gateway shutdown incomplete", "error", err)
	}
	if d.sink != nil {
		_ = d.sink.Close()
	}
	if err := d.store.Close(); err != nil {
		slog.Warn("Store close failed", "error", err)
	}
	slog.Info("AgentPilot stopped")
}
