package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(v string) *string { return &v }
func intPtr(v int) *int       { return &v }
func boolPtr(v bool) *bool    { return &v }

func TestTodoCRUD(t *testing.T) {
	s := newTestStore(t)

	id, err := s.AddTodo("买牛奶", "Life", 2, "2026-08-24 09:00", "2026-08-24 08:30")
	require.NoError(t, err)

	todo, err := s.GetTodo(id)
	require.NoError(t, err)
	require.NotNil(t, todo)
	assert.Equal(t, "买牛奶", todo.Content)
	assert.Equal(t, "life", todo.Tag, "tags are normalized to lowercase")
	assert.Equal(t, 2, todo.Priority)
	assert.False(t, todo.Done)
	assert.Equal(t, "2026-08-24 09:00", todo.DueAt)
	assert.Equal(t, "2026-08-24 08:30", todo.RemindAt)

	ok, err := s.UpdateTodo(id, TodoUpdate{Content: strPtr("买两瓶牛奶"), Priority: intPtr(0)})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkTodoDone(id)
	require.NoError(t, err)
	assert.True(t, ok)

	todo, err = s.GetTodo(id)
	require.NoError(t, err)
	assert.True(t, todo.Done)
	assert.NotEmpty(t, todo.CompletedAt)

	ok, err = s.DeleteTodo(id)
	require.NoError(t, err)
	assert.True(t, ok)

	todo, err = s.GetTodo(id)
	require.NoError(t, err)
	assert.Nil(t, todo)
}

func TestAddTodoRemindRequiresDue(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AddTodo("x", "", 0, "", "2026-08-24 08:30")
	assert.Error(t, err)
}

func TestUpdateTodoCannotOrphanReminder(t *testing.T) {
	s := newTestStore(t)
	id, err := s.AddTodo("x", "", 0, "2026-08-24 09:00", "2026-08-24 08:30")
	require.NoError(t, err)

	// Clearing due while a reminder remains is rejected.
	_, err = s.UpdateTodo(id, TodoUpdate{DueAt: strPtr("")})
	assert.Error(t, err)

	// Clearing both is fine.
	ok, err := s.UpdateTodo(id, TodoUpdate{DueAt: strPtr(""), RemindAt: strPtr("")})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListAndSearchTodosByTag(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddTodo("报销差旅", "work", 0, "", "")
	require.NoError(t, err)
	_, err = s.AddTodo("买菜", "life", 1, "", "")
	require.NoError(t, err)
	_, err = s.AddTodo("买книги", "life", 0, "", "")
	require.NoError(t, err)

	all, err := s.ListTodos("")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	life, err := s.ListTodos("life")
	require.NoError(t, err)
	require.Len(t, life, 2)
	// priority ASC ordering
	assert.Equal(t, 0, life[0].Priority)

	hits, err := s.SearchTodos("买", "life")
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = s.SearchTodos("报销", "life")
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestScheduleCRUDAndRecurrence(t *testing.T) {
	s := newTestStore(t)

	id, err := s.AddSchedule("站会", "work", "2026-08-24 10:00", 30, "2026-08-24 09:50")
	require.NoError(t, err)

	require.NoError(t, s.SetRecurrence(id, "2026-08-24 10:00", 1440, 5, ""))

	item, err := s.GetSchedule(id)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "站会", item.Title)
	assert.Equal(t, 30, item.DurationMinutes)
	require.NotNil(t, item.Recurrence)
	assert.Equal(t, 1440, item.Recurrence.IntervalMinutes)
	assert.Equal(t, 5, item.Recurrence.Times)
	assert.True(t, item.Recurrence.Enabled)

	ok, err := s.SetRecurrenceEnabled(id, false)
	require.NoError(t, err)
	assert.True(t, ok)

	item, err = s.GetSchedule(id)
	require.NoError(t, err)
	assert.False(t, item.Recurrence.Enabled)

	require.NoError(t, s.ClearRecurrence(id))
	item, err = s.GetSchedule(id)
	require.NoError(t, err)
	assert.Nil(t, item.Recurrence)

	ok, err = s.DeleteSchedule(id)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSetRecurrenceValidation(t *testing.T) {
	s := newTestStore(t)
	id, err := s.AddSchedule("x", "", "2026-08-24 10:00", 60, "")
	require.NoError(t, err)

	assert.Error(t, s.SetRecurrence(id, "2026-08-24 10:00", 0, -1, ""))
	assert.Error(t, s.SetRecurrence(id, "2026-08-24 10:00", 30, 1, ""))
	assert.NoError(t, s.SetRecurrence(id, "2026-08-24 10:00", 30, -1, ""))
}

func TestListSchedulesWindow(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddSchedule("早", "", "2026-08-24 08:00", 60, "")
	require.NoError(t, err)
	_, err = s.AddSchedule("晚", "", "2026-08-30 20:00", 60, "")
	require.NoError(t, err)

	items, err := s.ListSchedules("2026-08-24 00:00", "2026-08-25 00:00", "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "早", items[0].Title)
}

func TestChatTurns(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 8, 23, 12, 0, 0, 0, time.Local)
	current := base
	s.SetClock(func() time.Time { return current })

	require.NoError(t, s.SaveTurn("hello", "hi"))
	current = base.Add(time.Minute)
	require.NoError(t, s.SaveTurn("列出今天的待办", "共 2 条"))

	turns, err := s.RecentTurns(24*time.Hour, 50)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	// Chronological order.
	assert.Equal(t, "hello", turns[0].UserContent)

	hits, err := s.SearchTurns("待办", 20)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "列出今天的待办", hits[0].UserContent)

	// Lookback excludes old turns.
	current = base.Add(48 * time.Hour)
	turns, err = s.RecentTurns(24*time.Hour, 50)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestReminderDeliveryDedup(t *testing.T) {
	s := newTestStore(t)

	saved, err := s.SaveReminderDelivery("todo:1:2026-08-24 08:30", "todo", 1, "", "2026-08-24 08:30")
	require.NoError(t, err)
	assert.True(t, saved)

	has, err := s.HasReminderDelivery("todo:1:2026-08-24 08:30")
	require.NoError(t, err)
	assert.True(t, has)

	saved, err = s.SaveReminderDelivery("todo:1:2026-08-24 08:30", "todo", 1, "", "2026-08-24 08:30")
	require.NoError(t, err)
	assert.False(t, saved, "duplicate keys are ignored")
}
