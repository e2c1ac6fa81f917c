package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Task statuses.
const (
	TaskActive = "active"
	TaskDone   = "done"
	TaskFailed = "failed"
)

// Task is what the user is currently working on. At most one task is active
// at any time, across all sessions.
type Task struct {
	ID          int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Title       string
	Status      string
	ContextJSON string
}

// UpsertActiveTask updates the singleton active task, or inserts one when
// none exists. This is the only way a task becomes active, which keeps the
// active row singular.
func (s *Store) UpsertActiveTask(title, contextJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var id int64
	err := s.db.QueryRow("SELECT id FROM tasks WHERE status = ? LIMIT 1", TaskActive).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.Exec(
			"INSERT INTO tasks (created_at, updated_at, title, status, context_json) VALUES (?, ?, ?, ?, ?)",
			now, now, title, TaskActive, contextJSON,
		)
	case err == nil:
		_, err = s.db.Exec(
			"UPDATE tasks SET title = ?, context_json = ?, updated_at = ? WHERE id = ?",
			title, contextJSON, now, id,
		)
	}
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

// ActiveTask returns the active task, or nil when there is none.
func (s *Store) ActiveTask() (*Task, error) {
	var t Task
	err := s.db.QueryRow(
		"SELECT id, created_at, updated_at, title, status, COALESCE(context_json, '') "+
			"FROM tasks WHERE status = ? ORDER BY updated_at DESC LIMIT 1",
		TaskActive,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt, &t.Title, &t.Status, &t.ContextJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active task: %w", err)
	}
	return &t, nil
}

// CompleteActiveTask marks the active task done. No-op when none is active.
func (s *Store) CompleteActiveTask() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE tasks SET status = ?, updated_at = ? WHERE status = ?",
		TaskDone, time.Now().UTC(), TaskActive,
	)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return nil
}

// AllTasks returns the most recent tasks, newest first.
func (s *Store) AllTasks(limit int) ([]Task, error) {
	rows, err := s.db.Query(
		"SELECT id, created_at, updated_at, title, status, COALESCE(context_json, '') "+
			"FROM tasks ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt, &t.Title, &t.Status, &t.ContextJSON); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
