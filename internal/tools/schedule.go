package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentpilot/agentpilot/internal/provider"
	"github.com/agentpilot/agentpilot/internal/scheduler"
	"github.com/agentpilot/agentpilot/internal/store"
)

// TaskRepository is the storage the schedule worker writes to.
type TaskRepository interface {
	CreateTask(ctx context.Context, t store.ScheduledTask) (*store.ScheduledTask, error)
	ListTasks(ctx context.Context, userID string) ([]store.ScheduledTask, error)
	DeleteTask(ctx context.Context, id string) error
}

// ScheduleWorker lets the agent create, list and cancel recurring tasks.
// The running scheduler picks up changes on its next reload.
type ScheduleWorker struct {
	tasks TaskRepository
}

// NewScheduleWorker creates a schedule worker over a task repository.
func NewScheduleWorker(tasks TaskRepository) *ScheduleWorker {
	return &ScheduleWorker{tasks: tasks}
}

func (w *ScheduleWorker) Domain() string { return "scheduler" }

func (w *ScheduleWorker) Tools() []provider.ToolDefinition {
	return []provider.ToolDefinition{
		provider.NewToolDefinition("schedule_task",
			"Schedule a recurring task using a cron expression. The prompt will be executed by the agent at each scheduled time and the result sent to the user.",
			objectSchema(map[string]any{
				"name": stringProp("Short name for the task (e.g. 'daily-summary')"),
				"cron": stringProp("Cron expression (5 fields: minute hour day-of-month month day-of-week). " +
					"Examples: '0 15 * * *' = daily at 15:00, '*/30 * * * *' = every 30 min, '0 9 * * 1' = Mondays at 9:00"),
				"prompt": stringProp("The instruction to execute at each scheduled time"),
			}, "name", "cron", "prompt")),
		provider.NewToolDefinition("list_scheduled_tasks", "List all scheduled tasks for the current user",
			objectSchema(map[string]any{})),
		provider.NewToolDefinition("cancel_task", "Cancel/delete a scheduled task by its ID",
			objectSchema(map[string]any{"id": stringProp("The task ID to cancel")}, "id")),
	}
}

func (w *ScheduleWorker) Execute(ctx context.Context, req *ActionRequest) (*ActionResult, error) {
	switch req.Operation {
	case "schedule_task":
		return w.schedule(ctx, req)
	case "list_scheduled_tasks":
		return w.list(ctx, req)
	case "cancel_task":
		return w.cancel(ctx, req)
	}
	return UnknownOperation(req.Operation), nil
}

func (w *ScheduleWorker) schedule(ctx context.Context, req *ActionRequest) (*ActionResult, error) {
	vals, ok := requireStrings(req.Params, "name", "cron", "prompt")
	if !ok {
		return Fail("Missing name, cron, or prompt"), nil
	}
	name, expr, prompt := vals[0], vals[1], vals[2]
	if err := scheduler.ValidateSpec(expr); err != nil {
		return Fail("Invalid cron expression: %q. Use 5 fields: minute hour day-of-month month day-of-week", expr), nil
	}
	t, err := w.tasks.CreateTask(ctx, store.ScheduledTask{
		Name:           name,
		CronExpression: expr,
		Prompt:         prompt,
		ChannelType:    req.ChannelType,
		ChannelID:      req.ChannelID,
		UserID:         req.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return OK(map[string]any{
		"id":      t.ID,
		"name":    t.Name,
		"cron":    t.CronExpression,
		"prompt":  t.Prompt,
		"message": fmt.Sprintf("Scheduled task %q created with cron %q", t.Name, t.CronExpression),
	}), nil
}

func (w *ScheduleWorker) list(ctx context.Context, req *ActionRequest) (*ActionResult, error) {
	tasks, err := w.tasks.ListTasks(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		lastRun := "never"
		if t.LastRun != nil {
			lastRun = t.LastRun.UTC().Format(time.RFC3339)
		}
		out = append(out, map[string]any{
			"id":      t.ID,
			"name":    t.Name,
			"cron":    t.CronExpression,
			"prompt":  t.Prompt,
			"enabled": t.Enabled,
			"lastRun": lastRun,
		})
	}
	return OK(map[string]any{"tasks": out, "count": len(out)}), nil
}

func (w *ScheduleWorker) cancel(ctx context.Context, req *ActionRequest) (*ActionResult, error) {
	id := GetString(req.Params, "id", "")
	if id == "" {
		return Fail("Missing task id"), nil
	}
	if err := w.tasks.DeleteTask(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Fail("Task %s not found", id), nil
		}
		return nil, fmt.Errorf("delete task: %w", err)
	}
	return OK(map[string]any{"id": id, "message": fmt.Sprintf("Task %s cancelled", id)}), nil
}
