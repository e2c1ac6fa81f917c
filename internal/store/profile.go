package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ProfileFact is one learned fact about the user, keyed by (category, key).
type ProfileFact struct {
	ID         int64
	Category   string
	Key        string
	Value      string
	Confidence float64
	UpdatedAt  time.Time
}

// SaveFact upserts a fact. An existing fact is only overwritten when the
// new confidence is at least as high as the stored one; lower-confidence
// updates are dropped so a casual mention never clobbers a firm fact.
// Returns true when the fact was written.
func (s *Store) SaveFact(category, key, value string, confidence float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing float64
	err := s.db.QueryRow(
		"SELECT confidence FROM user_profile WHERE category = ? AND key = ?",
		category, key,
	).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		now := time.Now().UTC()
		_, err = s.db.Exec(
			"INSERT INTO user_profile (category, key, value, confidence, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
			category, key, value, confidence, now, now,
		)
		if err != nil {
			return false, fmt.Errorf("insert fact: %w", err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("lookup fact: %w", err)
	}

	if confidence < existing {
		return false, nil
	}
	_, err = s.db.Exec(
		"UPDATE user_profile SET value = ?, confidence = ?, updated_at = ? WHERE category = ? AND key = ?",
		value, confidence, time.Now().UTC(), category, key,
	)
	if err != nil {
		return false, fmt.Errorf("update fact: %w", err)
	}
	return true, nil
}

// Facts returns all facts ordered by category then key.
func (s *Store) Facts() ([]ProfileFact, error) {
	rows, err := s.db.Query(
		"SELECT id, category, key, value, confidence, updated_at FROM user_profile ORDER BY category, key",
	)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	defer rows.Close()

	var facts []ProfileFact
	for rows.Next() {
		var f ProfileFact
		if err := rows.Scan(&f.ID, &f.Category, &f.Key, &f.Value, &f.Confidence, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// ForgetFact removes one fact by category and key. Returns true when a
// row was deleted.
func (s *Store) ForgetFact(category, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec("DELETE FROM user_profile WHERE category = ? AND key = ?", category, key)
	if err != nil {
		return false, fmt.Errorf("forget fact: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ClearProfile deletes every learned fact.
func (s *Store) ClearProfile() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("DELETE FROM user_profile"); err != nil {
		return fmt.Errorf("clear profile: %w", err)
	}
	return nil
}

// Handoff is a briefing left by one model for the next when routing
// switches mid-session.
type Handoff struct {
	ID        int64
	SessionID string
	FromModel string
	ToModel   string
	Content   string
	CreatedAt time.Time
}

// SaveHandoff appends a relay briefing. Handoffs are never updated in
// place; the newest one per session wins.
func (s *Store) SaveHandoff(sessionID, fromModel, toModel, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"INSERT INTO context_relay (ts, from_model, to_model, handoff, session_id) VALUES (?, ?, ?, ?, ?)",
		time.Now().UTC(), fromModel, toModel, content, sessionID,
	)
	if err != nil {
		return fmt.Errorf("save handoff: %w", err)
	}
	return nil
}

// LatestHandoff returns the most recent handoff for the session, or nil.
func (s *Store) LatestHandoff(sessionID string) (*Handoff, error) {
	var h Handoff
	err := s.db.QueryRow(
		"SELECT id, COALESCE(session_id, ''), COALESCE(from_model, ''), COALESCE(to_model, ''), handoff, ts "+
			"FROM context_relay WHERE session_id = ? ORDER BY id DESC LIMIT 1",
		sessionID,
	).Scan(&h.ID, &h.SessionID, &h.FromModel, &h.ToModel, &h.Content, &h.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest handoff: %w", err)
	}
	return &h, nil
}
