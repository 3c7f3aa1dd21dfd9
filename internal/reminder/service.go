// Package reminder polls the store for due todo and schedule reminders and
// delivers each occurrence exactly once through a Sink. Recurring schedules
// are expanded on the fly; delivered occurrences are deduplicated by a
// per-occurrence key persisted in the store.
package reminder

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/harrison/steward/internal/logger"
	"github.com/harrison/steward/internal/store"
)

// Event is one due reminder.
type Event struct {
	Key            string
	SourceType     string
	SourceID       int64
	OccurrenceTime string
	RemindTime     string
	Content        string
}

// Sink delivers a reminder to the user. Emit failing leaves the occurrence
// undelivered so a later poll retries it.
type Sink interface {
	Emit(event Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(event Event) error

// Emit implements Sink.
func (f SinkFunc) Emit(event Event) error { return f(event) }

// ContentRewriter restyles reminder text before delivery. Implementations
// must return the input unchanged on any failure.
type ContentRewriter interface {
	RewriteReminderContent(ctx context.Context, text string) string
}

// Store is the persistence slice the poller needs. *store.Store satisfies it.
type Store interface {
	ListTodos(tag string) ([]store.Todo, error)
	ListSchedules(windowStart, windowEnd, tag string) ([]store.Schedule, error)
	HasReminderDelivery(key string) (bool, error)
	SaveReminderDelivery(key, sourceType string, sourceID int64, occurrenceTime, remindTime string) (bool, error)
}

// Stats summarizes one poll.
type Stats struct {
	Candidates int
	Delivered  int
	Skipped    int
	Failed     int
}

// Service scans for due reminders on a fixed interval.
type Service struct {
	store      Store
	sink       Sink
	log        *logger.ConsoleLogger
	interval   time.Duration
	lookahead  time.Duration
	batchLimit int
	now        func() time.Time
	rewriter   ContentRewriter
}

// NewService creates a poller. interval and lookahead fall back to 15s/30s;
// batchLimit caps deliveries per poll.
func NewService(st Store, sink Sink, log *logger.ConsoleLogger, interval, lookahead time.Duration, batchLimit int) *Service {
	if interval < time.Second {
		interval = 15 * time.Second
	}
	if lookahead < 0 {
		lookahead = 30 * time.Second
	}
	if batchLimit < 1 {
		batchLimit = 200
	}
	if log == nil {
		log = logger.NewConsoleLogger(nil, "info")
	}
	return &Service{
		store:      st,
		sink:       sink,
		log:        log,
		interval:   interval,
		lookahead:  lookahead,
		batchLimit: batchLimit,
		now:        time.Now,
	}
}

// SetClock overrides wall-clock time. Test hook.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// SetRewriter installs an optional content rewriter applied to each event
// just before delivery. Skipped and deduplicated events are never rewritten.
func (s *Service) SetRewriter(rewriter ContentRewriter) {
	s.rewriter = rewriter
}

// Run polls until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := s.PollOnce()
			if stats.Candidates > 0 {
				s.log.Debugf("reminder poll: candidates=%d delivered=%d skipped=%d failed=%d",
					stats.Candidates, stats.Delivered, stats.Skipped, stats.Failed)
			}
		}
	}
}

// PollOnce runs one scan/deliver cycle.
func (s *Service) PollOnce() Stats {
	scanStart, scanEnd := s.scanWindow()
	candidates := s.collectCandidates(scanStart, scanEnd)

	stats := Stats{Candidates: len(candidates)}
	for _, event := range candidates {
		delivered, err := s.store.HasReminderDelivery(event.Key)
		if err != nil {
			stats.Failed++
			s.log.Warnf("reminder dedup lookup failed: %s (%v)", event.Key, err)
			continue
		}
		if delivered {
			stats.Skipped++
			continue
		}
		if s.rewriter != nil {
			event.Content = s.rewriter.RewriteReminderContent(context.Background(), event.Content)
		}
		if err := s.sink.Emit(event); err != nil {
			stats.Failed++
			s.log.Warnf("reminder delivery failed: %s (%v)", event.Key, err)
			continue
		}
		saved, err := s.store.SaveReminderDelivery(event.Key, event.SourceType, event.SourceID, event.OccurrenceTime, event.RemindTime)
		if err != nil {
			stats.Failed++
			s.log.Warnf("reminder delivery record failed: %s (%v)", event.Key, err)
			continue
		}
		if saved {
			stats.Delivered++
		} else {
			stats.Skipped++
		}
	}
	return stats
}

// scanWindow spans [floor-to-minute(now), ceil-to-minute(now + lookahead)].
func (s *Service) scanWindow() (time.Time, time.Time) {
	now := s.now()
	start := now.Truncate(time.Minute)
	return start, ceilToMinute(now.Add(s.lookahead))
}

func ceilToMinute(value time.Time) time.Time {
	floored := value.Truncate(time.Minute)
	if floored.Equal(value) {
		return value
	}
	return floored.Add(time.Minute)
}

func (s *Service) collectCandidates(scanStart, scanEnd time.Time) []Event {
	var candidates []Event

	todos, err := s.store.ListTodos("")
	if err != nil {
		s.log.Warnf("reminder todo scan failed: %v", err)
	}
	for _, todo := range todos {
		if event, ok := todoEvent(todo, scanStart, scanEnd); ok {
			candidates = append(candidates, event)
		}
	}

	schedules, err := s.store.ListSchedules("", "", "")
	if err != nil {
		s.log.Warnf("reminder schedule scan failed: %v", err)
	}
	for _, item := range schedules {
		if item.Recurrence == nil || !item.Recurrence.Enabled {
			if event, ok := scheduleEvent(item, scanStart, scanEnd); ok {
				candidates = append(candidates, event)
			}
			continue
		}
		candidates = append(candidates, recurringEvents(item, scanStart, scanEnd)...)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].RemindTime != candidates[j].RemindTime {
			return candidates[i].RemindTime < candidates[j].RemindTime
		}
		return candidates[i].Key < candidates[j].Key
	})
	if len(candidates) > s.batchLimit {
		candidates = candidates[:s.batchLimit]
	}
	return candidates
}

func todoEvent(todo store.Todo, scanStart, scanEnd time.Time) (Event, bool) {
	if todo.Done || todo.RemindAt == "" {
		return Event{}, false
	}
	remindTime, ok := parseMinute(todo.RemindAt)
	if !ok || remindTime.Before(scanStart) || remindTime.After(scanEnd) {
		return Event{}, false
	}
	return Event{
		Key:        fmt.Sprintf("todo:%d:%s", todo.ID, todo.RemindAt),
		SourceType: "todo",
		SourceID:   todo.ID,
		RemindTime: todo.RemindAt,
		Content:    fmt.Sprintf("待办提醒 #%d: %s（提醒时间 %s）", todo.ID, todo.Content, todo.RemindAt),
	}, true
}

func scheduleEvent(item store.Schedule, scanStart, scanEnd time.Time) (Event, bool) {
	if item.RemindAt == "" {
		return Event{}, false
	}
	remindTime, ok := parseMinute(item.RemindAt)
	if !ok || remindTime.Before(scanStart) || remindTime.After(scanEnd) {
		return Event{}, false
	}
	return Event{
		Key:        fmt.Sprintf("schedule:%d:%s:%s", item.ID, item.EventTime, item.RemindAt),
		SourceType: "schedule",
		SourceID:   item.ID,
		RemindTime: item.RemindAt,
		Content: fmt.Sprintf("日程提醒 #%d: %s（日程时间 %s，提醒时间 %s）",
			item.ID, item.Title, item.EventTime, item.RemindAt),
	}, true
}

// recurringEvents expands an enabled recurrence rule into the occurrences
// whose remind time falls inside the scan window. The remind series starts at
// the rule's remind_start_time, falling back to the base schedule's remind_at
// so every occurrence keeps the same remind-to-event delta.
func recurringEvents(item store.Schedule, scanStart, scanEnd time.Time) []Event {
	rule := item.Recurrence
	baseEvent, ok := parseMinute(item.EventTime)
	if !ok || rule.IntervalMinutes < 1 {
		return nil
	}
	interval := time.Duration(rule.IntervalMinutes) * time.Minute

	remindStart, ok := recurrenceRemindStart(item)
	if !ok {
		return nil
	}

	index := firstOccurrenceIndex(remindStart, interval, scanStart)
	var events []Event
	for {
		if rule.Times != -1 && index >= rule.Times {
			break
		}
		remindTime := remindStart.Add(time.Duration(index) * interval)
		if remindTime.After(scanEnd) {
			break
		}
		occurrence := baseEvent.Add(time.Duration(index) * interval)
		occurrenceText := occurrence.Format(store.TimeLayout)
		remindText := remindTime.Format(store.TimeLayout)
		events = append(events, Event{
			Key:            fmt.Sprintf("schedule:%d:%s:%s", item.ID, occurrenceText, remindText),
			SourceType:     "schedule",
			SourceID:       item.ID,
			OccurrenceTime: occurrenceText,
			RemindTime:     remindText,
			Content: fmt.Sprintf("日程提醒 #%d: %s（日程时间 %s，提醒时间 %s）",
				item.ID, item.Title, occurrenceText, remindText),
		})
		index++
	}
	return events
}

func recurrenceRemindStart(item store.Schedule) (time.Time, bool) {
	if item.Recurrence.RemindStartTime != "" {
		return parseMinute(item.Recurrence.RemindStartTime)
	}
	if item.RemindAt == "" {
		return time.Time{}, false
	}
	return parseMinute(item.RemindAt)
}

// firstOccurrenceIndex skips occurrences whose remind time precedes the scan
// window so expansion cost stays proportional to the window, not the rule's
// age.
func firstOccurrenceIndex(start time.Time, interval time.Duration, scanStart time.Time) int {
	if !scanStart.After(start) {
		return 0
	}
	if interval <= 0 {
		return 0
	}
	index := int(scanStart.Sub(start) / interval)
	if index < 0 {
		index = 0
	}
	if start.Add(time.Duration(index) * interval).Before(scanStart) {
		index++
	}
	return index
}

func parseMinute(value string) (time.Time, bool) {
	parsed, err := time.ParseInLocation(store.TimeLayout, value, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}
