package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SessionSnapshot is a compacted record of a finished session: when it ran,
// how much was said, the last summary, and a short trailing context.
type SessionSnapshot struct {
	SessionID    string
	StartedAt    time.Time
	EndedAt      time.Time
	MessageCount int
	Summary      string
	Context      string
}

// SaveSessionSnapshot compacts and upserts a snapshot for the session.
// Called on clean shutdown and on /clear; repeat calls refresh ended_at.
// Sessions with no messages are skipped.
func (s *Store) SaveSessionSnapshot(sessionID string) error {
	// Aggregate expressions lose the DATETIME decltype under the sqlite
	// driver, so fetch the first message's ts by id instead of MIN(ts).
	var count int
	var firstID int64
	err := s.db.QueryRow(
		"SELECT COUNT(*), COALESCE(MIN(id), 0) FROM messages WHERE session_id = ?", sessionID,
	).Scan(&count, &firstID)
	if err != nil {
		return fmt.Errorf("snapshot stats: %w", err)
	}
	if count == 0 {
		return nil
	}
	var first time.Time
	if err := s.db.QueryRow(
		"SELECT ts FROM messages WHERE id = ?", firstID,
	).Scan(&first); err != nil {
		return fmt.Errorf("snapshot first message: %w", err)
	}

	var summary string
	if sum, err := s.LatestSummary(sessionID); err == nil && sum != nil {
		summary = sum.Text
	}

	// Compact context: the last few exchanges, tool traffic skipped,
	// each line capped at 200 chars.
	recent, err := s.RecentMessages(sessionID, 20)
	if err != nil {
		return err
	}
	var parts []string
	for _, m := range recent {
		if m.Role == RoleTool || m.Role == RoleToolResult {
			continue
		}
		content := m.Content
		if len(content) > 200 {
			content = content[:200] + "..."
		}
		parts = append(parts, m.Role+": "+content)
	}
	context := strings.Join(parts, "\n")

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`INSERT INTO session_snapshots (session_id, started_at, ended_at, message_count, summary, context)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		     ended_at = excluded.ended_at,
		     message_count = excluded.message_count,
		     summary = COALESCE(NULLIF(excluded.summary, ''), session_snapshots.summary),
		     context = excluded.context`,
		sessionID, first, time.Now().UTC(), count, summary, context,
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// SessionSnapshots returns recent snapshots, most recently ended first.
func (s *Store) SessionSnapshots(limit int) ([]SessionSnapshot, error) {
	rows, err := s.db.Query(
		"SELECT session_id, started_at, ended_at, message_count, COALESCE(summary, ''), COALESCE(context, '') "+
			"FROM session_snapshots ORDER BY ended_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []SessionSnapshot
	for rows.Next() {
		var sn SessionSnapshot
		var started sql.NullTime
		if err := rows.Scan(&sn.SessionID, &started, &sn.EndedAt, &sn.MessageCount, &sn.Summary, &sn.Context); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		sn.StartedAt = started.Time
		if !started.Valid {
			sn.StartedAt = sn.EndedAt
		}
		snaps = append(snaps, sn)
	}
	return snaps, rows.Err()
}

// SessionSnapshot returns one snapshot, or nil when absent.
func (s *Store) SessionSnapshot(sessionID string) (*SessionSnapshot, error) {
	var sn SessionSnapshot
	var started sql.NullTime
	err := s.db.QueryRow(
		"SELECT session_id, started_at, ended_at, message_count, COALESCE(summary, ''), COALESCE(context, '') "+
			"FROM session_snapshots WHERE session_id = ?",
		sessionID,
	).Scan(&sn.SessionID, &started, &sn.EndedAt, &sn.MessageCount, &sn.Summary, &sn.Context)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	sn.StartedAt = started.Time
	if !started.Valid {
		sn.StartedAt = sn.EndedAt
	}
	return &sn, nil
}
