package tools

import (
	"path/filepath"
	"testing"

	"github.com/agentpilot/agentpilot/internal/store"
)

func newScheduleWorker(t *testing.T) (*ScheduleWorker, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewScheduleWorker(st), st
}

func TestScheduleTaskValidation(t *testing.T) {
	w, _ := newScheduleWorker(t)
	res := run(t, w, "schedule_task", map[string]any{"name": "x", "cron": "0 9 * * *"})
	if res.Error != "Missing name, cron, or prompt" {
		t.Fatalf("unexpected %+v", res)
	}
	res = run(t, w, "schedule_task", map[string]any{"name": "x", "cron": "every day", "prompt": "p"})
	want := `Invalid cron expression: "every day". Use 5 fields: minute hour day-of-month month day-of-week`
	if res.Error != want {
		t.Fatalf("unexpected error %q", res.Error)
	}
}

func TestScheduleListCancel(t *testing.T) {
	w, st := newScheduleWorker(t)
	d := data(t, run(t, w, "schedule_task", map[string]any{"name": "daily", "cron": "0 9 * * *", "prompt": "summarize notes"}))
	id := d["id"].(string)
	if id == "" || d["cron"] != "0 9 * * *" {
		t.Fatalf("unexpected result %v", d)
	}

	stored, err := st.GetTask(t.Context(), id)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if stored.ChannelType != "telegram" || stored.ChannelID != "42" || stored.UserID != "u1" || !stored.Enabled {
		t.Fatalf("task not bound to caller identity: %+v", stored)
	}

	d = data(t, run(t, w, "list_scheduled_tasks", nil))
	tasks := d["tasks"].([]map[string]any)
	if d["count"] != 1 || tasks[0]["lastRun"] != "never" {
		t.Fatalf("unexpected list %v", d)
	}

	if res := run(t, w, "cancel_task", nil); res.Error != "Missing task id" {
		t.Fatalf("unexpected %+v", res)
	}
	data(t, run(t, w, "cancel_task", map[string]any{"id": id}))
	if res := run(t, w, "cancel_task", map[string]any{"id": id}); res.Success {
		t.Fatal("second cancel should report not found")
	}
}
