package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/steward/internal/store"
)

type recordingSink struct {
	events []Event
	err    error
}

func (r *recordingSink) Emit(event Event) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func newService(t *testing.T, now time.Time) (*Service, *store.Store, *recordingSink) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	sink := &recordingSink{}
	svc := NewService(st, sink, nil, 15*time.Second, 30*time.Second, 200)
	svc.SetClock(func() time.Time { return now })
	return svc, st, sink
}

func TestTodoReminderDeliveredOnce(t *testing.T) {
	now := time.Date(2026, 8, 24, 9, 59, 50, 0, time.Local)
	svc, st, sink := newService(t, now)

	id, err := st.AddTodo("交水电费", "default", 0, "2026-08-24 12:00", "2026-08-24 10:00")
	require.NoError(t, err)

	stats := svc.PollOnce()
	assert.Equal(t, 1, stats.Candidates)
	assert.Equal(t, 1, stats.Delivered)
	require.Len(t, sink.events, 1)
	event := sink.events[0]
	assert.Equal(t, "todo", event.SourceType)
	assert.Equal(t, id, event.SourceID)
	assert.Equal(t, "2026-08-24 10:00", event.RemindTime)
	assert.Contains(t, event.Content, "待办提醒 #1: 交水电费")

	// A second poll inside the same window deduplicates.
	stats = svc.PollOnce()
	assert.Equal(t, 1, stats.Candidates)
	assert.Equal(t, 0, stats.Delivered)
	assert.Equal(t, 1, stats.Skipped)
	assert.Len(t, sink.events, 1)
}

func TestDoneAndOutOfWindowTodosIgnored(t *testing.T) {
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.Local)
	svc, st, sink := newService(t, now)

	doneID, err := st.AddTodo("已完成", "default", 0, "2026-08-24 12:00", "2026-08-24 10:00")
	require.NoError(t, err)
	_, err = st.MarkTodoDone(doneID)
	require.NoError(t, err)
	_, err = st.AddTodo("太远", "default", 0, "2026-08-25 12:00", "2026-08-25 10:00")
	require.NoError(t, err)
	_, err = st.AddTodo("已过去", "default", 0, "2026-08-24 09:00", "2026-08-24 08:00")
	require.NoError(t, err)

	stats := svc.PollOnce()
	assert.Equal(t, 0, stats.Candidates)
	assert.Empty(t, sink.events)
}

func TestPlainScheduleReminder(t *testing.T) {
	now := time.Date(2026, 8, 24, 9, 59, 0, 0, time.Local)
	svc, st, sink := newService(t, now)

	id, err := st.AddSchedule("评审会", "work", "2026-08-24 10:30", 60, "2026-08-24 10:00")
	require.NoError(t, err)

	stats := svc.PollOnce()
	assert.Equal(t, 1, stats.Delivered)
	require.Len(t, sink.events, 1)
	event := sink.events[0]
	assert.Equal(t, "schedule", event.SourceType)
	assert.Equal(t, id, event.SourceID)
	assert.Contains(t, event.Content, "日程提醒 #1: 评审会（日程时间 2026-08-24 10:30，提醒时间 2026-08-24 10:00）")
}

func TestRecurringScheduleExpandsOccurrences(t *testing.T) {
	// Hourly schedule starting 08:00 with reminds 10 minutes early. The
	// scan window around 09:50 hits the second occurrence's remind time.
	now := time.Date(2026, 8, 24, 9, 49, 40, 0, time.Local)
	svc, st, sink := newService(t, now)

	id, err := st.AddSchedule("喝水", "default", "2026-08-24 08:00", 5, "")
	require.NoError(t, err)
	require.NoError(t, st.SetRecurrence(id, "2026-08-24 08:00", 60, -1, "2026-08-24 07:50"))

	stats := svc.PollOnce()
	assert.Equal(t, 1, stats.Delivered)
	require.Len(t, sink.events, 1)
	event := sink.events[0]
	assert.Equal(t, "2026-08-24 10:00", event.OccurrenceTime)
	assert.Equal(t, "2026-08-24 09:50", event.RemindTime)
	assert.Equal(t, "schedule:1:2026-08-24 10:00:2026-08-24 09:50", event.Key)

	// The next hour's occurrence gets its own key and delivery.
	svc.SetClock(func() time.Time {
		return time.Date(2026, 8, 24, 10, 49, 40, 0, time.Local)
	})
	stats = svc.PollOnce()
	assert.Equal(t, 1, stats.Delivered)
	require.Len(t, sink.events, 2)
	assert.Equal(t, "2026-08-24 11:00", sink.events[1].OccurrenceTime)
}

func TestRecurrenceTimesBoundStopsExpansion(t *testing.T) {
	// Two occurrences only: 08:00 and 09:00. By 10:00 nothing is due.
	now := time.Date(2026, 8, 24, 9, 59, 40, 0, time.Local)
	svc, st, _ := newService(t, now)

	id, err := st.AddSchedule("吃药", "default", "2026-08-24 08:00", 5, "")
	require.NoError(t, err)
	require.NoError(t, st.SetRecurrence(id, "2026-08-24 08:00", 60, 2, "2026-08-24 08:00"))

	stats := svc.PollOnce()
	assert.Equal(t, 0, stats.Candidates)
}

func TestDisabledRecurrenceFallsBackToBaseReminder(t *testing.T) {
	now := time.Date(2026, 8, 24, 9, 59, 0, 0, time.Local)
	svc, st, sink := newService(t, now)

	id, err := st.AddSchedule("站会", "default", "2026-08-24 10:30", 15, "2026-08-24 10:00")
	require.NoError(t, err)
	require.NoError(t, st.SetRecurrence(id, "2026-08-24 10:30", 60, -1, ""))
	_, err = st.SetRecurrenceEnabled(id, false)
	require.NoError(t, err)

	stats := svc.PollOnce()
	assert.Equal(t, 1, stats.Delivered)
	require.Len(t, sink.events, 1)
	assert.Equal(t, "2026-08-24 10:00", sink.events[0].RemindTime)
}

type recordingRewriter struct {
	inputs []string
}

func (r *recordingRewriter) RewriteReminderContent(ctx context.Context, text string) string {
	r.inputs = append(r.inputs, text)
	return "喵！" + text
}

func TestRewriterStylesDeliveredContentOnly(t *testing.T) {
	now := time.Date(2026, 8, 24, 9, 59, 50, 0, time.Local)
	svc, st, sink := newService(t, now)
	rewriter := &recordingRewriter{}
	svc.SetRewriter(rewriter)

	_, err := st.AddTodo("交水电费", "default", 0, "2026-08-24 12:00", "2026-08-24 10:00")
	require.NoError(t, err)

	stats := svc.PollOnce()
	assert.Equal(t, 1, stats.Delivered)
	require.Len(t, sink.events, 1)
	assert.Contains(t, sink.events[0].Content, "喵！待办提醒 #1: 交水电费")
	require.Len(t, rewriter.inputs, 1)
	assert.Contains(t, rewriter.inputs[0], "待办提醒 #1: 交水电费")

	// The deduplicated second poll never touches the rewriter.
	stats = svc.PollOnce()
	assert.Equal(t, 1, stats.Skipped)
	assert.Len(t, rewriter.inputs, 1)
}

func TestSinkFailureRetriesNextPoll(t *testing.T) {
	now := time.Date(2026, 8, 24, 9, 59, 50, 0, time.Local)
	svc, st, sink := newService(t, now)

	_, err := st.AddTodo("发周报", "work", 0, "2026-08-24 12:00", "2026-08-24 10:00")
	require.NoError(t, err)

	sink.err = errors.New("pipe closed")
	stats := svc.PollOnce()
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Delivered)

	sink.err = nil
	stats = svc.PollOnce()
	assert.Equal(t, 1, stats.Delivered)
	require.Len(t, sink.events, 1)
}
