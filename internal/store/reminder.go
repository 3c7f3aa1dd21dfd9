package store

import (
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// HasReminderDelivery reports whether a reminder key was already delivered.
func (s *Store) HasReminderDelivery(key string) (bool, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(1) FROM reminder_deliveries WHERE reminder_key = ?", key).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check reminder delivery: %w", err)
	}
	return count > 0, nil
}

// SaveReminderDelivery records one delivered reminder occurrence. Returns
// false when the key was already recorded (a concurrent poller won the race).
func (s *Store) SaveReminderDelivery(key, sourceType string, sourceID int64, occurrenceTime, remindTime string) (bool, error) {
	_, err := s.db.Exec(
		`INSERT INTO reminder_deliveries (reminder_key, source_type, source_id, occurrence_time, remind_time, delivered_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		key, sourceType, sourceID, nullable(occurrenceTime), remindTime, s.nowCreatedAt(),
	)
	if err != nil {
		if sqliteErr, ok := err.(sqlite3.Error); ok && sqliteErr.Code == sqlite3.ErrConstraint {
			return false, nil
		}
		return false, fmt.Errorf("save reminder delivery: %w", err)
	}
	return true, nil
}
