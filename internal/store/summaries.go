package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Summary is a compressed slice of conversation history. CoversUpTo strictly
// increases per session; messages with larger ids are "unsummarized".
type Summary struct {
	ID            int64
	SessionID     string
	Timestamp     time.Time
	Text          string
	CoversUpTo    int64
	TokenEstimate int
}

// SaveSummary stores a new summary covering messages up to coversUpTo.
func (s *Store) SaveSummary(sessionID, text string, coversUpTo int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.latestCoverage(sessionID)
	if err != nil {
		return err
	}
	if coversUpTo <= prev {
		return fmt.Errorf("summary coverage must increase: %d <= %d", coversUpTo, prev)
	}

	_, err = s.db.Exec(
		"INSERT INTO summaries (session_id, ts, summary, covers_up_to, token_estimate) VALUES (?, ?, ?, ?, ?)",
		sessionID, time.Now().UTC(), text, coversUpTo, EstimateTokens(text),
	)
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

// LatestSummary returns the most recent summary for a session, or nil.
func (s *Store) LatestSummary(sessionID string) (*Summary, error) {
	var sum Summary
	err := s.db.QueryRow(
		"SELECT id, session_id, ts, summary, COALESCE(covers_up_to, 0), COALESCE(token_estimate, 0) "+
			"FROM summaries WHERE session_id = ? ORDER BY id DESC LIMIT 1",
		sessionID,
	).Scan(&sum.ID, &sum.SessionID, &sum.Timestamp, &sum.Text, &sum.CoversUpTo, &sum.TokenEstimate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest summary: %w", err)
	}
	return &sum, nil
}

// latestCoverage returns the covers_up_to of the latest summary, or 0.
func (s *Store) latestCoverage(sessionID string) (int64, error) {
	var id int64
	err := s.db.QueryRow(
		"SELECT COALESCE(MAX(covers_up_to), 0) FROM summaries WHERE session_id = ?",
		sessionID,
	).Scan(&id)
	return id, err
}
