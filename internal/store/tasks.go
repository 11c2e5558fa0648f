package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const taskColumns = `id, name, cron_expression, prompt, channel_type, channel_id, user_id, enabled, last_run, created_at`

// CreateTask stores a new enabled scheduled task and returns it with ID set.
func (s *Store) CreateTask(ctx context.Context, t ScheduledTask) (*ScheduledTask, error) {
	if t.ID == "" {
		t.ID = newID()
	}
	t.Enabled = true
	t.LastRun = nil
	t.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO scheduled_tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.CronExpression, t.Prompt, t.ChannelType, t.ChannelID, t.UserID, t.Enabled, nil, t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return &t, nil
}

// GetTask returns a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// ListEnabledTasks returns every enabled task, oldest first.
func (s *Store) ListEnabledTasks(ctx context.Context) ([]ScheduledTask, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks WHERE enabled = 1 ORDER BY created_at, rowid`)
}

// ListTasks returns all tasks, or only those owned by userID when it is non-empty.
func (s *Store) ListTasks(ctx context.Context, userID string) ([]ScheduledTask, error) {
	if userID == "" {
		return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks ORDER BY created_at, rowid`)
	}
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks WHERE user_id = ? ORDER BY created_at, rowid`, userID)
}

// DeleteTask removes a task. ErrNotFound when the id is unknown.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTaskEnabled toggles a task without deleting it.
func (s *Store) SetTaskEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE scheduled_tasks SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkTaskRun stamps the last successful run of a task.
func (s *Store) MarkTaskRun(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE scheduled_tasks SET last_run = ? WHERE id = ?`, at.UTC(), id)
	return err
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTask(r rowScanner) (*ScheduledTask, error) {
	var t ScheduledTask
	var lastRun sql.NullTime
	if err := r.Scan(&t.ID, &t.Name, &t.CronExpression, &t.Prompt, &t.ChannelType, &t.ChannelID, &t.UserID,
		&t.Enabled, &lastRun, &t.CreatedAt); err != nil {
		return nil, err
	}
	if lastRun.Valid {
		lr := lastRun.Time
		t.LastRun = &lr
	}
	return &t, nil
}
