package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// Schedule is one schedule row with its optional recurrence rule.
type Schedule struct {
	ID              int64
	Title           string
	Tag             string
	EventTime       string
	DurationMinutes int
	RemindAt        string
	CreatedAt       string
	Recurrence      *Recurrence
}

// Recurrence is a repeat rule attached to a schedule. Times == -1 means
// repeat forever; otherwise Times is the total occurrence count (>= 2).
type Recurrence struct {
	ScheduleID      int64
	StartTime       string
	IntervalMinutes int
	Times           int
	RemindStartTime string
	Enabled         bool
}

// ScheduleUpdate holds optional field updates; nil pointers leave the column unchanged.
type ScheduleUpdate struct {
	Title           *string
	Tag             *string
	EventTime       *string
	DurationMinutes *int
	RemindAt        *string // empty string clears the column
}

const scheduleColumns = "id, title, tag, event_time, duration_minutes, remind_at, created_at"

// AddSchedule inserts a schedule and returns its id.
func (s *Store) AddSchedule(title, tag, eventTime string, durationMinutes int, remindAt string) (int64, error) {
	if durationMinutes < 1 {
		return 0, fmt.Errorf("duration_minutes must be >= 1, got %d", durationMinutes)
	}
	res, err := s.db.Exec(
		`INSERT INTO schedules (title, tag, event_time, duration_minutes, remind_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		title, NormalizeTag(tag), eventTime, durationMinutes, nullable(remindAt), s.nowCreatedAt(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert schedule: %w", err)
	}
	return res.LastInsertId()
}

// GetSchedule returns the schedule with the given id, or nil when absent.
func (s *Store) GetSchedule(id int64) (*Schedule, error) {
	row := s.db.QueryRow("SELECT "+scheduleColumns+" FROM schedules WHERE id = ?", id)
	item, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	if err := s.attachRecurrences([]*Schedule{item}); err != nil {
		return nil, err
	}
	return item, nil
}

// ListSchedules returns schedules whose event_time falls inside
// [windowStart, windowEnd], ordered by event time. Empty bounds disable the
// window; empty tag means all tags.
func (s *Store) ListSchedules(windowStart, windowEnd, tag string) ([]Schedule, error) {
	query := "SELECT " + scheduleColumns + " FROM schedules"
	conds := []string{}
	args := []interface{}{}
	if windowStart != "" {
		conds = append(conds, "event_time >= ?")
		args = append(args, windowStart)
	}
	if windowEnd != "" {
		conds = append(conds, "event_time <= ?")
		args = append(args, windowEnd)
	}
	if tag != "" {
		conds = append(conds, "tag = ?")
		args = append(args, NormalizeTag(tag))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY event_time ASC, id ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	var items []Schedule
	var refs []*Schedule
	for rows.Next() {
		item, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		items = append(items, *item)
		refs = append(refs, &items[len(items)-1])
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachRecurrences(refs); err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateSchedule applies the non-nil fields of the update.
func (s *Store) UpdateSchedule(id int64, update ScheduleUpdate) (bool, error) {
	fields := []string{}
	values := []interface{}{}
	if update.Title != nil {
		fields = append(fields, "title = ?")
		values = append(values, *update.Title)
	}
	if update.Tag != nil {
		fields = append(fields, "tag = ?")
		values = append(values, NormalizeTag(*update.Tag))
	}
	if update.EventTime != nil {
		fields = append(fields, "event_time = ?")
		values = append(values, *update.EventTime)
	}
	if update.DurationMinutes != nil {
		if *update.DurationMinutes < 1 {
			return false, fmt.Errorf("duration_minutes must be >= 1, got %d", *update.DurationMinutes)
		}
		fields = append(fields, "duration_minutes = ?")
		values = append(values, *update.DurationMinutes)
	}
	if update.RemindAt != nil {
		fields = append(fields, "remind_at = ?")
		values = append(values, nullable(*update.RemindAt))
	}
	if len(fields) == 0 {
		return false, nil
	}

	values = append(values, id)
	res, err := s.db.Exec("UPDATE schedules SET "+strings.Join(fields, ", ")+" WHERE id = ?", values...)
	if err != nil {
		return false, fmt.Errorf("update schedule: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteSchedule removes a schedule and its recurrence rule.
func (s *Store) DeleteSchedule(id int64) (bool, error) {
	if _, err := s.db.Exec("DELETE FROM schedule_recurrences WHERE schedule_id = ?", id); err != nil {
		return false, fmt.Errorf("delete recurrence: %w", err)
	}
	res, err := s.db.Exec("DELETE FROM schedules WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete schedule: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetRecurrence creates or replaces the repeat rule of a schedule.
func (s *Store) SetRecurrence(scheduleID int64, startTime string, intervalMinutes, times int, remindStartTime string) error {
	if intervalMinutes < 1 {
		return fmt.Errorf("interval_minutes must be >= 1, got %d", intervalMinutes)
	}
	if times != -1 && times < 2 {
		return fmt.Errorf("times must be -1 or >= 2, got %d", times)
	}
	_, err := s.db.Exec(
		`INSERT INTO schedule_recurrences (schedule_id, start_time, interval_minutes, times, remind_start_time, enabled)
		 VALUES (?, ?, ?, ?, ?, 1)
		 ON CONFLICT(schedule_id) DO UPDATE SET
		   start_time = excluded.start_time,
		   interval_minutes = excluded.interval_minutes,
		   times = excluded.times,
		   remind_start_time = excluded.remind_start_time,
		   enabled = 1`,
		scheduleID, startTime, intervalMinutes, times, nullable(remindStartTime),
	)
	if err != nil {
		return fmt.Errorf("set recurrence: %w", err)
	}
	return nil
}

// ClearRecurrence removes the repeat rule of a schedule.
func (s *Store) ClearRecurrence(scheduleID int64) error {
	if _, err := s.db.Exec("DELETE FROM schedule_recurrences WHERE schedule_id = ?", scheduleID); err != nil {
		return fmt.Errorf("clear recurrence: %w", err)
	}
	return nil
}

// SetRecurrenceEnabled toggles a repeat rule. Returns false when the
// schedule has no rule to toggle.
func (s *Store) SetRecurrenceEnabled(scheduleID int64, enabled bool) (bool, error) {
	value := 0
	if enabled {
		value = 1
	}
	res, err := s.db.Exec("UPDATE schedule_recurrences SET enabled = ? WHERE schedule_id = ?", value, scheduleID)
	if err != nil {
		return false, fmt.Errorf("toggle recurrence: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListRecurrences returns all repeat rules keyed by schedule id.
func (s *Store) ListRecurrences() (map[int64]Recurrence, error) {
	rows, err := s.db.Query(
		"SELECT schedule_id, start_time, interval_minutes, times, remind_start_time, enabled FROM schedule_recurrences")
	if err != nil {
		return nil, fmt.Errorf("query recurrences: %w", err)
	}
	defer rows.Close()

	rules := map[int64]Recurrence{}
	for rows.Next() {
		rule, err := scanRecurrence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recurrence: %w", err)
		}
		rules[rule.ScheduleID] = *rule
	}
	return rules, rows.Err()
}

func (s *Store) attachRecurrences(items []*Schedule) error {
	if len(items) == 0 {
		return nil
	}
	rules, err := s.ListRecurrences()
	if err != nil {
		return err
	}
	for _, item := range items {
		if rule, ok := rules[item.ID]; ok {
			ruleCopy := rule
			item.Recurrence = &ruleCopy
		}
	}
	return nil
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	var item Schedule
	var remindAt sql.NullString
	if err := row.Scan(&item.ID, &item.Title, &item.Tag, &item.EventTime,
		&item.DurationMinutes, &remindAt, &item.CreatedAt); err != nil {
		return nil, err
	}
	item.RemindAt = fromNull(remindAt)
	return &item, nil
}

func scanRecurrence(row rowScanner) (*Recurrence, error) {
	var rule Recurrence
	var remindStart sql.NullString
	var enabled int
	if err := row.Scan(&rule.ScheduleID, &rule.StartTime, &rule.IntervalMinutes,
		&rule.Times, &remindStart, &enabled); err != nil {
		return nil, err
	}
	rule.RemindStartTime = fromNull(remindStart)
	rule.Enabled = enabled != 0
	return &rule, nil
}
