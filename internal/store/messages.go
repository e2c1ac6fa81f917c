package store

import (
	"fmt"
	"time"
)

// Message roles. Tool traffic is persisted with its own roles and remapped to
// provider-safe roles only at context assembly time.
const (
	RoleUser       = "user"
	RoleAssistant  = "assistant"
	RoleSystem     = "system"
	RoleTool       = "tool"
	RoleToolResult = "tool_result"
)

// Message is one persisted conversation message. Messages are append-only —
// never mutated, never deleted during a session.
type Message struct {
	ID            int64
	SessionID     string
	Timestamp     time.Time
	Role          string
	Content       string
	TokenEstimate int
}

// SaveMessage stores a message and returns its id. IDs are assigned by the
// database in call order, so they are strictly monotonic per store.
func (s *Store) SaveMessage(sessionID, role, content string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"INSERT INTO messages (session_id, ts, role, content, token_estimate) VALUES (?, ?, ?, ?, ?)",
		sessionID, time.Now().UTC(), role, content, EstimateTokens(content),
	)
	if err != nil {
		return 0, fmt.Errorf("save message: %w", err)
	}
	return res.LastInsertId()
}

// RecentMessages returns the most recent messages for a session in
// chronological order.
func (s *Store) RecentMessages(sessionID string, limit int) ([]Message, error) {
	rows, err := s.db.Query(
		"SELECT id, session_id, ts, role, content, COALESCE(token_estimate, 0) "+
			"FROM messages WHERE session_id = ? ORDER BY id DESC LIMIT ?",
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Timestamp, &m.Role, &m.Content, &m.TokenEstimate); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// CountMessages returns the total message count for a session.
func (s *Store) CountMessages(sessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM messages WHERE session_id = ?", sessionID,
	).Scan(&n)
	return n, err
}

// CountUnsummarized counts messages newer than the latest summary's coverage.
func (s *Store) CountUnsummarized(sessionID string) (int, error) {
	afterID, err := s.latestCoverage(sessionID)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.db.QueryRow(
		"SELECT COUNT(*) FROM messages WHERE session_id = ? AND id > ?",
		sessionID, afterID,
	).Scan(&n)
	return n, err
}

// UnsummarizedMessages returns the messages not yet covered by a summary,
// in chronological order.
func (s *Store) UnsummarizedMessages(sessionID string) ([]Message, error) {
	afterID, err := s.latestCoverage(sessionID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(
		"SELECT id, session_id, ts, role, content, COALESCE(token_estimate, 0) "+
			"FROM messages WHERE session_id = ? AND id > ? ORDER BY id",
		sessionID, afterID,
	)
	if err != nil {
		return nil, fmt.Errorf("unsummarized messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Timestamp, &m.Role, &m.Content, &m.TokenEstimate); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// LatestMessageID returns the id of the most recent message, or 0.
func (s *Store) LatestMessageID(sessionID string) (int64, error) {
	var id int64
	err := s.db.QueryRow(
		"SELECT COALESCE(MAX(id), 0) FROM messages WHERE session_id = ?", sessionID,
	).Scan(&id)
	return id, err
}
