package store

import (
	"fmt"
	"time"
)

// ChatTurn is one saved user/assistant exchange.
type ChatTurn struct {
	ID               int64
	UserContent      string
	AssistantContent string
	CreatedAt        string
}

// SaveTurn persists a completed exchange.
func (s *Store) SaveTurn(userContent, assistantContent string) error {
	_, err := s.db.Exec(
		"INSERT INTO chat_turns (user_content, assistant_content, created_at) VALUES (?, ?, ?)",
		userContent, assistantContent, s.nowCreatedAt(),
	)
	if err != nil {
		return fmt.Errorf("save chat turn: %w", err)
	}
	return nil
}

// RecentTurns returns up to limit turns from the lookback window, oldest first.
func (s *Store) RecentTurns(lookback time.Duration, limit int) ([]ChatTurn, error) {
	cutoff := s.now().Add(-lookback).Format(createdAtLayout)
	rows, err := s.db.Query(
		`SELECT id, user_content, assistant_content, created_at
		 FROM chat_turns WHERE created_at >= ?
		 ORDER BY id DESC LIMIT ?`,
		cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	var turns []ChatTurn
	for rows.Next() {
		var turn ChatTurn
		if err := rows.Scan(&turn.ID, &turn.UserContent, &turn.AssistantContent, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat turn: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse to chronological order for model input.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// SearchTurns returns up to limit turns containing the keyword, newest first.
func (s *Store) SearchTurns(keyword string, limit int) ([]ChatTurn, error) {
	pattern := "%" + keyword + "%"
	rows, err := s.db.Query(
		`SELECT id, user_content, assistant_content, created_at
		 FROM chat_turns
		 WHERE user_content LIKE ? OR assistant_content LIKE ?
		 ORDER BY id DESC LIMIT ?`,
		pattern, pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search turns: %w", err)
	}
	defer rows.Close()

	var turns []ChatTurn
	for rows.Next() {
		var turn ChatTurn
		if err := rows.Scan(&turn.ID, &turn.UserContent, &turn.AssistantContent, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat turn: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}
