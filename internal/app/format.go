package app

import (
	"fmt"
	"strings"
)

// FormatStatus renders the /status panel: mode, build state, session
// counters, current task, and summary coverage.
func (a *App) FormatStatus() string {
	lines := []string{
		fmt.Sprintf("  Mode:  %s", a.Mode()),
	}
	if a.PipelineRunning() {
		lines = append(lines, "  Build: yes")
	} else {
		lines = append(lines, "  Build: no")
	}

	count, _ := a.store.CountMessages(a.sessionID)
	lines = append(lines,
		fmt.Sprintf("  Session: %s", a.sessionID),
		fmt.Sprintf("  Messages this session: %d", count),
	)

	if task, _ := a.store.ActiveTask(); task != nil {
		lines = append(lines, fmt.Sprintf("  Current task: %s (%s)", task.Title, task.Status))
	} else {
		lines = append(lines, "  Current task: none")
	}

	if summary, _ := a.store.LatestSummary(a.sessionID); summary != nil {
		lines = append(lines, fmt.Sprintf("  Last summary covers through message #%d", summary.CoversUpTo))
	} else {
		lines = append(lines, "  No summaries yet")
	}
	return strings.Join(lines, "\n")
}

// FormatTimeline renders BOLT's activity log for /timeline.
func (a *App) FormatTimeline(limit int) string {
	rows, err := a.store.Timeline(limit)
	if err != nil || len(rows) == 0 {
		return "  No events yet."
	}
	var lines []string
	for _, r := range rows {
		detail := ""
		if r.Details != "" {
			detail = " — " + r.Details
		}
		lines = append(lines, fmt.Sprintf("  [%s] %s%s",
			r.Timestamp.Format("2006-01-02 15:04:05"), r.Event, detail))
	}
	return strings.Join(lines, "\n")
}

// FormatMemory renders what BOLT remembers for /memory: the latest
// summary plus the last ten messages, each clipped to 120 chars.
func (a *App) FormatMemory() string {
	var lines []string

	if summary, _ := a.store.LatestSummary(a.sessionID); summary != nil {
		lines = append(lines, "  === Summary ===", "  "+summary.Text, "")
	}

	recent, _ := a.store.RecentMessages(a.sessionID, 10)
	if len(recent) == 0 {
		lines = append(lines, "  No messages yet.")
		return strings.Join(lines, "\n")
	}
	lines = append(lines, "  === Recent Messages ===")
	for _, m := range recent {
		content := m.Content
		if len(content) > 120 {
			content = content[:120] + "..."
		}
		lines = append(lines, fmt.Sprintf("  [%s] %s", m.Role, content))
	}
	return strings.Join(lines, "\n")
}

// FormatTasks renders the task list for /task with done/failed/active
// markers.
func (a *App) FormatTasks() string {
	tasks, err := a.store.AllTasks(50)
	if err != nil || len(tasks) == 0 {
		return "  No tasks."
	}
	var lines []string
	for _, t := range tasks {
		marker := "→"
		switch t.Status {
		case "done":
			marker = "✓"
		case "failed":
			marker = "✗"
		}
		lines = append(lines, fmt.Sprintf("  %s [%d] %s (%s)", marker, t.ID, t.Title, t.Status))
	}
	return strings.Join(lines, "\n")
}
