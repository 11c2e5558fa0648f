// Package scheduler runs stored tasks on cron schedules by feeding their
// prompts back through the agent as synthetic messages.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agentpilot/agentpilot/internal/bus"
	"github.com/agentpilot/agentpilot/internal/events"
	"github.com/agentpilot/agentpilot/internal/store"
)

// Parser accepts standard 5-field expressions and descriptors such as @daily.
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSpec reports whether expr parses with Parser.
func ValidateSpec(expr string) error {
	_, err := Parser.Parse(expr)
	return err
}

// Handler processes one message and sends exactly one reply through reply.
type Handler interface {
	HandleMessage(ctx context.Context, msg *bus.InboundMessage, reply func(string) error) error
}

// Sender delivers text to a channel.
type Sender interface {
	Send(ctx context.Context, channelType, channelID, text string) error
}

// TaskStore is the slice of the repository the scheduler needs.
type TaskStore interface {
	ListEnabledTasks(ctx context.Context) ([]store.ScheduledTask, error)
	MarkTaskRun(ctx context.Context, id string, at time.Time) error
}

// Config holds scheduler settings.
type Config struct {
	MaxConcurrent int
	LockPath      string
}

// Scheduler owns one cron runner and the entry for each task id.
type Scheduler struct {
	cfg     Config
	tasks   TaskStore
	handler Handler
	sender  Sender

	cron    *cron.Cron
	sem     *Semaphore
	lock    *FileLock
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]cron.EntryID
	started bool
	closed  bool
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// waitCtx bounds fires queued for a slot; Stop cancels it first.
	waitCtx     context.Context
	stopWaiting context.CancelFunc

	reloadMu    sync.Mutex
	reloadTimer *time.Timer
}

// New creates a Scheduler. MaxConcurrent defaults to 4.
func New(cfg Config, tasks TaskStore, handler Handler, sender Sender) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	s := &Scheduler{
		cfg:     cfg,
		tasks:   tasks,
		handler: handler,
		sender:  sender,
		cron:    cron.New(cron.WithParser(Parser)),
		sem:     NewSemaphore(cfg.MaxConcurrent),
		now:     time.Now,
		entries: make(map[string]cron.EntryID),
	}
	s.waitCtx, s.stopWaiting = context.WithCancel(context.Background())
	if cfg.LockPath != "" {
		s.lock = NewFileLock(cfg.LockPath)
	}
	return s
}

// Start registers every enabled task and starts the cron runner. If another
// process holds the lock file, the scheduler stays idle.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return nil
	}
	if s.lock != nil && !s.lock.Held() {
		ok, err := s.lock.TryLock()
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("scheduler lock: %w", err)
		}
		if !ok {
			s.mu.Unlock()
			slog.Warn("Scheduler idle: lock held by another process", "path", s.cfg.LockPath)
			return nil
		}
	}
	s.runCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.started = true
	s.mu.Unlock()

	if err := s.load(ctx); err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("Scheduler started", "jobs", s.Len())
	return nil
}

func (s *Scheduler) load(ctx context.Context) error {
	tasks, err := s.tasks.ListEnabledTasks(ctx)
	if err != nil {
		return fmt.Errorf("list scheduled tasks: %w", err)
	}
	for _, t := range tasks {
		if err := s.AddJob(t); err != nil {
			slog.Warn("Scheduler skipped task", "task", t.ID, "name", t.Name, "cron", t.CronExpression, "error", err)
		}
	}
	return nil
}

// AddJob registers or replaces the cron entry for one task.
func (s *Scheduler) AddJob(t store.ScheduledTask) error {
	sched, err := Parser.Parse(t.CronExpression)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", t.CronExpression, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[t.ID]; ok {
		s.cron.Remove(id)
	}
	task := t
	s.entries[t.ID] = s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(task) }))
	return nil
}

// RemoveJob drops a task's cron entry. Unknown ids are ignored.
func (s *Scheduler) RemoveJob(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[id]; ok {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
}

// Reload removes every entry and registers the enabled tasks again.
func (s *Scheduler) Reload(ctx context.Context) error {
	s.mu.Lock()
	for id, entry := range s.entries {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
	started, closed := s.started, s.closed
	s.mu.Unlock()
	if closed {
		return nil
	}
	if !started {
		return s.Start(ctx)
	}
	if err := s.load(ctx); err != nil {
		return err
	}
	slog.Info("Scheduler reloaded", "jobs", s.Len())
	return nil
}

// Stop halts the cron runner and waits for running jobs until ctx is done.
// Fires still waiting for a slot are abandoned. A stopped scheduler does not
// start again.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stopWaiting()
	s.mu.Lock()
	wasStarted := s.started
	s.started = false
	s.closed = true
	s.mu.Unlock()
	if !wasStarted {
		return nil
	}

	s.reloadMu.Lock()
	if s.reloadTimer != nil {
		s.reloadTimer.Stop()
	}
	s.reloadMu.Unlock()

	cronDone := s.cron.Stop()
	jobsDone := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(jobsDone)
	}()

	var err error
	select {
	case <-jobsDone:
	case <-ctx.Done():
		err = ctx.Err()
	}
	s.cancel()
	if s.lock != nil {
		if uerr := s.lock.Unlock(); uerr != nil {
			err = errors.Join(err, uerr)
		}
	}
	slog.Info("Scheduler stopped")
	return err
}

// Running reports whether the cron runner is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.closed
}

// Len returns the number of registered entries.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Has reports whether a task has a registered entry.
func (s *Scheduler) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// fire runs one task, bounded by the semaphore. When every slot is busy the
// fire waits for one; cron runs each fire in its own goroutine, so other
// timers keep ticking meanwhile.
func (s *Scheduler) fire(t store.ScheduledTask) {
	s.wg.Add(1)
	defer s.wg.Done()
	if !s.sem.TryAcquire() {
		slog.Info("Scheduler job waiting for a free slot", "task", t.ID, "name", t.Name)
		if err := s.sem.Acquire(s.waitCtx); err != nil {
			slog.Warn("Scheduler job abandoned: scheduler stopping", "task", t.ID, "name", t.Name)
			return
		}
	}
	defer s.sem.Release()
	s.RunTask(s.runCtx, t)
}

// RunTask executes one task synchronously. Panics in the handler are
// recovered and logged; last_run is only stamped when the handler succeeds.
func (s *Scheduler) RunTask(ctx context.Context, t store.ScheduledTask) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Scheduler job panicked", "task", t.ID, "name", t.Name, "panic", r)
		}
	}()

	now := s.now()
	msg := &bus.InboundMessage{
		ID:          fmt.Sprintf("sched_%s_%d", t.ID, now.UnixMilli()),
		ChannelType: t.ChannelType,
		ChannelID:   t.ChannelID,
		UserID:      t.UserID,
		Content:     t.Prompt,
		Metadata:    map[string]any{bus.MetaKeyScheduledTask: t.ID},
		Timestamp:   now,
	}
	slog.Info("Scheduler dispatching job", "task", t.ID, "name", t.Name)

	reply := func(text string) error {
		return s.sender.Send(ctx, t.ChannelType, t.ChannelID, text)
	}
	if err := s.handler.HandleMessage(ctx, msg, reply); err != nil {
		slog.Error("Scheduler job failed", "task", t.ID, "name", t.Name, "error", err)
		return
	}
	if err := s.tasks.MarkTaskRun(ctx, t.ID, now); err != nil {
		slog.Warn("Scheduler could not record run", "task", t.ID, "error", err)
	}
}

// WatchEvents reloads the schedule shortly after the agent schedules or
// cancels a task. Bursts within delay collapse into one reload. The
// returned function unsubscribes.
func (s *Scheduler) WatchEvents(b *events.Bus, delay time.Duration) func() {
	if delay <= 0 {
		delay = 2 * time.Second
	}
	return b.Subscribe(func(e events.Event) {
		if e.Type != events.TypeAction {
			return
		}
		switch e.Data["tool"] {
		case "schedule_task", "cancel_task":
			s.scheduleReload(delay)
		}
	})
}

func (s *Scheduler) scheduleReload(delay time.Duration) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	if s.reloadTimer != nil {
		s.reloadTimer.Stop()
	}
	s.reloadTimer = time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.Reload(ctx); err != nil {
			slog.Warn("Scheduler reload failed", "error", err)
		}
	})
}
