package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/agentpilot/agentpilot/internal/bus"
	"github.com/agentpilot/agentpilot/internal/events"
	"github.com/agentpilot/agentpilot/internal/store"
)

type fakeTasks struct {
	mu     sync.Mutex
	tasks  []store.ScheduledTask
	marked map[string]time.Time
	lists  int
}

func (f *fakeTasks) ListEnabledTasks(context.Context) ([]store.ScheduledTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	return append([]store.ScheduledTask(nil), f.tasks...), nil
}

func (f *fakeTasks) MarkTaskRun(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.marked == nil {
		f.marked = map[string]time.Time{}
	}
	f.marked[id] = at
	return nil
}

func (f *fakeTasks) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

type handlerFunc func(ctx context.Context, msg *bus.InboundMessage, reply func(string) error) error

func (h handlerFunc) HandleMessage(ctx context.Context, msg *bus.InboundMessage, reply func(string) error) error {
	return h(ctx, msg, reply)
}

type sent struct{ channelType, channelID, text string }

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeSender) Send(_ context.Context, channelType, channelID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{channelType, channelID, text})
	return f.err
}

func echoHandler(msgs *[]*bus.InboundMessage) Handler {
	var mu sync.Mutex
	return handlerFunc(func(_ context.Context, msg *bus.InboundMessage, reply func(string) error) error {
		mu.Lock()
		*msgs = append(*msgs, msg)
		mu.Unlock()
		return reply("done: " + msg.Content)
	})
}

func task(id, expr string) store.ScheduledTask {
	return store.ScheduledTask{
		ID: id, Name: "task-" + id, CronExpression: expr, Prompt: "summarize " + id,
		ChannelType: "telegram", ChannelID: "42", UserID: "u1", Enabled: true,
	}
}

func TestStartRegistersValidTasksAndSkipsInvalid(t *testing.T) {
	ts := &fakeTasks{tasks: []store.ScheduledTask{task("a", "0 9 * * *"), task("b", "not a cron"), task("c", "@daily")}}
	s := New(Config{}, ts, echoHandler(new([]*bus.InboundMessage)), &fakeSender{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())

	if s.Len() != 2 || !s.Has("a") || !s.Has("c") || s.Has("b") {
		t.Fatalf("unexpected entries: len=%d", s.Len())
	}
}

func TestRunTaskRepliesThroughSenderAndMarksRun(t *testing.T) {
	ts := &fakeTasks{}
	sender := &fakeSender{}
	var msgs []*bus.InboundMessage
	s := New(Config{}, ts, echoHandler(&msgs), sender)
	fixed := time.UnixMilli(1700000000123)
	s.now = func() time.Time { return fixed }

	s.RunTask(context.Background(), task("t1", "* * * * *"))

	if len(msgs) != 1 {
		t.Fatalf("expected one handled message, got %d", len(msgs))
	}
	msg := msgs[0]
	if msg.ID != "sched_t1_1700000000123" || !msg.IsScheduled() || msg.Content != "summarize t1" {
		t.Fatalf("unexpected synthesized message %+v", msg)
	}
	if msg.IdentityKey() != "telegram:42:u1" {
		t.Fatalf("unexpected identity %s", msg.IdentityKey())
	}
	if len(sender.sent) != 1 || sender.sent[0] != (sent{"telegram", "42", "done: summarize t1"}) {
		t.Fatalf("unexpected sends %+v", sender.sent)
	}
	if got := ts.marked["t1"]; !got.Equal(fixed) {
		t.Fatalf("expected last run stamped, got %v", got)
	}
}

func TestRunTaskDoesNotMarkOnFailure(t *testing.T) {
	ts := &fakeTasks{}
	sender := &fakeSender{err: errors.New("channel down")}
	s := New(Config{}, ts, echoHandler(new([]*bus.InboundMessage)), sender)
	s.RunTask(context.Background(), task("t1", "* * * * *"))
	if _, ok := ts.marked["t1"]; ok {
		t.Fatal("last run must not be stamped when reply fails")
	}
}

func TestRunTaskRecoversPanic(t *testing.T) {
	ts := &fakeTasks{}
	h := handlerFunc(func(context.Context, *bus.InboundMessage, func(string) error) error {
		panic("boom")
	})
	s := New(Config{}, ts, h, &fakeSender{})
	s.RunTask(context.Background(), task("t1", "* * * * *"))
	if len(ts.marked) != 0 {
		t.Fatal("panicking task must not be stamped")
	}
}

func TestFireWaitsForSlot(t *testing.T) {
	var msgs []*bus.InboundMessage
	s := New(Config{MaxConcurrent: 1}, &fakeTasks{}, echoHandler(&msgs), &fakeSender{})
	s.runCtx = context.Background()
	if !s.sem.TryAcquire() {
		t.Fatal("expected free slot")
	}
	done := make(chan struct{})
	go func() {
		s.fire(task("t1", "* * * * *"))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("fire must wait while all slots are taken")
	case <-time.After(50 * time.Millisecond):
	}
	s.sem.Release()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fire did not run after the slot was released")
	}
	if len(msgs) != 1 {
		t.Fatalf("expected the delayed fire to be delivered, got %d", len(msgs))
	}
}

func TestStopAbandonsWaitingFire(t *testing.T) {
	var msgs []*bus.InboundMessage
	s := New(Config{MaxConcurrent: 1}, &fakeTasks{}, echoHandler(&msgs), &fakeSender{})
	s.runCtx = context.Background()
	if !s.sem.TryAcquire() {
		t.Fatal("expected free slot")
	}
	done := make(chan struct{})
	go func() {
		s.fire(task("t1", "* * * * *"))
		close(done)
	}()
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("waiting fire was not released by Stop")
	}
	if len(msgs) != 0 {
		t.Fatalf("abandoned fire must not run, got %d", len(msgs))
	}
}

func TestRemoveJobIsIdempotentAndReloadPicksUpChanges(t *testing.T) {
	ts := &fakeTasks{tasks: []store.ScheduledTask{task("a", "*/5 * * * *")}}
	s := New(Config{}, ts, echoHandler(new([]*bus.InboundMessage)), &fakeSender{})
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(ctx)

	s.RemoveJob("a")
	s.RemoveJob("a")
	s.RemoveJob("missing")
	if s.Len() != 0 {
		t.Fatalf("expected no entries, got %d", s.Len())
	}

	ts.mu.Lock()
	ts.tasks = append(ts.tasks, task("b", "0 * * * *"))
	ts.mu.Unlock()
	if err := s.Reload(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if s.Len() != 2 || !s.Has("a") || !s.Has("b") {
		t.Fatalf("expected a and b after reload, got %d", s.Len())
	}
}

func TestLockKeepsSecondSchedulerIdle(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "run", "scheduler.lock")
	ts := &fakeTasks{tasks: []store.ScheduledTask{task("a", "@hourly")}}
	ctx := context.Background()

	s1 := New(Config{LockPath: lockPath}, ts, echoHandler(new([]*bus.InboundMessage)), &fakeSender{})
	s2 := New(Config{LockPath: lockPath}, ts, echoHandler(new([]*bus.InboundMessage)), &fakeSender{})
	if err := s1.Start(ctx); err != nil {
		t.Fatalf("start s1: %v", err)
	}
	if err := s2.Start(ctx); err != nil {
		t.Fatalf("start s2: %v", err)
	}
	if s1.Len() != 1 || s2.Len() != 0 {
		t.Fatalf("expected only s1 active, got s1=%d s2=%d", s1.Len(), s2.Len())
	}

	if err := s1.Stop(ctx); err != nil {
		t.Fatalf("stop s1: %v", err)
	}
	if err := s2.Reload(ctx); err != nil {
		t.Fatalf("reload s2: %v", err)
	}
	if s2.Len() != 1 {
		t.Fatalf("expected s2 to take over after release, got %d", s2.Len())
	}
	_ = s2.Stop(ctx)
}

func TestWatchEventsDebouncesReload(t *testing.T) {
	ts := &fakeTasks{}
	s := New(Config{}, ts, echoHandler(new([]*bus.InboundMessage)), &fakeSender{})
	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(ctx)
	base := ts.listCount()

	eb := events.NewBus()
	unsubscribe := s.WatchEvents(eb, 30*time.Millisecond)
	defer unsubscribe()

	eb.Emit(events.Event{Type: events.TypeAction, Data: map[string]any{"tool": "read_note"}})
	for i := 0; i < 3; i++ {
		eb.Emit(events.Event{Type: events.TypeAction, Data: map[string]any{"tool": "schedule_task"}})
	}
	eb.Emit(events.Event{Type: events.TypeAction, Data: map[string]any{"tool": "cancel_task"}})

	deadline := time.Now().Add(2 * time.Second)
	for ts.listCount() == base && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)
	if got := ts.listCount() - base; got != 1 {
		t.Fatalf("expected exactly one debounced reload, got %d", got)
	}
}

func TestStoppedSchedulerDoesNotRestart(t *testing.T) {
	s := New(Config{}, &fakeTasks{tasks: []store.ScheduledTask{task("a", "@daily")}}, echoHandler(new([]*bus.InboundMessage)), &fakeSender{})
	ctx := context.Background()
	_ = s.Start(ctx)
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := s.Reload(ctx); err != nil {
		t.Fatalf("reload after stop: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expected no entries after stop, got %d", s.Len())
	}
}

func TestValidateSpec(t *testing.T) {
	for _, ok := range []string{"0 15 * * *", "*/30 * * * *", "0 9 * * 1", "@daily", "@every 1h"} {
		if err := ValidateSpec(ok); err != nil {
			t.Errorf("%q should parse: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "* * *", "0 0 0 * * *", "61 * * * *"} {
		if err := ValidateSpec(bad); err == nil {
			t.Errorf("%q should not parse", bad)
		}
	}
}

func TestSemaphoreConcurrencyLimit(t *testing.T) {
	sem := NewSemaphore(2)
	if !sem.TryAcquire() || !sem.TryAcquire() {
		t.Fatal("first two acquires should succeed")
	}
	if sem.TryAcquire() {
		t.Error("third acquire should fail (cap=2)")
	}
	sem.Release()
	if sem.Available() != 1 {
		t.Errorf("Available() = %d, want 1", sem.Available())
	}
}
