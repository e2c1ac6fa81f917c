package store

import (
	"fmt"
	"time"
)

// TimelineEvent is one append-only log entry: routing decisions, tool calls,
// errors, session boundaries.
type TimelineEvent struct {
	ID        int64
	Timestamp time.Time
	Event     string
	Details   string
}

// LogEvent appends an event to the timeline. Logging failures are returned
// but callers generally treat them as non-fatal.
func (s *Store) LogEvent(event, details string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT INTO timeline (ts, event, details) VALUES (?, ?, ?)",
		time.Now().UTC(), event, details,
	)
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// Timeline returns the most recent events in chronological order.
func (s *Store) Timeline(limit int) ([]TimelineEvent, error) {
	rows, err := s.db.Query(
		"SELECT id, ts, event, COALESCE(details, '') FROM timeline ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}
	defer rows.Close()

	var events []TimelineEvent
	for rows.Next() {
		var e TimelineEvent
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Event, &e.Details); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}
