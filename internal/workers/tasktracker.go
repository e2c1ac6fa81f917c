package workers

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/bolt/internal/config"
	"github.com/nextlevelbuilder/bolt/internal/store"
)

// TaskTracker detects what the user is working on from each exchange.
// Runs synchronously after a turn — it is one cheap router call.
type TaskTracker struct {
	cfg    *config.Config
	store  *store.Store
	gen    Generator
	logger *slog.Logger
}

// NewTaskTracker wires the tracker.
func NewTaskTracker(cfg *config.Config, st *store.Store, gen Generator, logger *slog.Logger) *TaskTracker {
	return &TaskTracker{cfg: cfg, store: st, gen: gen, logger: logger}
}

// Check analyzes the latest exchange for task information. Detection
// failures are logged and swallowed — task tracking never breaks a turn.
func (t *TaskTracker) Check(ctx context.Context, userMsg, assistantMsg string) {
	if len(userMsg) > 500 {
		userMsg = userMsg[:500]
	}
	if len(assistantMsg) > 500 {
		assistantMsg = assistantMsg[:500]
	}
	reply, err := t.gen.Generate(ctx, t.cfg.Model(config.ModelRouter), config.TaskDetectPrompt(userMsg, assistantMsg))
	if err != nil {
		t.logger.Warn("task detection failed", "error", err)
		t.store.LogEvent("task_tracker_error", err.Error())
		return
	}
	t.apply(reply)
}

// apply parses the TASK:/STATUS: reply and updates the store. TASK: NONE
// and unknown statuses are no-ops.
func (t *TaskTracker) apply(reply string) {
	title, status := ParseTaskReply(reply)
	if title == "" || strings.EqualFold(title, "NONE") {
		return
	}
	switch status {
	case "done":
		if err := t.store.CompleteActiveTask(); err != nil {
			t.logger.Warn("complete task failed", "error", err)
			return
		}
		t.store.LogEvent("task_done", title)
	case "active":
		if err := t.store.UpsertActiveTask(title, ""); err != nil {
			t.logger.Warn("upsert task failed", "error", err)
			return
		}
		t.store.LogEvent("task_detected", title)
	}
}

// ParseTaskReply extracts the TASK and STATUS lines. Prefix matching is
// case-insensitive; status is lowercased.
func ParseTaskReply(reply string) (title, status string) {
	for _, line := range strings.Split(strings.TrimSpace(reply), "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "TASK:"):
			title = strings.TrimSpace(line[5:])
		case strings.HasPrefix(upper, "STATUS:"):
			status = strings.ToLower(strings.TrimSpace(line[7:]))
		}
	}
	return title, status
}
