package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/steward/internal/decision"
	"github.com/harrison/steward/internal/search"
	"github.com/harrison/steward/internal/store"
)

type fakeSearch struct {
	results []search.Result
	err     error
	lastQ   string
}

func (f *fakeSearch) Search(ctx context.Context, query string, topK int) ([]search.Result, error) {
	f.lastQ = query
	return f.results, f.err
}

func newExecutor(t *testing.T) (*Executor, *store.Store, *fakeSearch) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	provider := &fakeSearch{}
	e := NewExecutor(st, provider, 3, 31)
	return e, st, provider
}

func call(tool, input string) decision.ToolCall {
	return decision.ToolCall{Tool: tool, Input: json.RawMessage(input)}
}

func TestExecuteUnknownTool(t *testing.T) {
	e, _, _ := newExecutor(t)
	ok, result := e.Execute(context.Background(), call("email", `{}`))
	assert.False(t, ok)
	assert.Contains(t, result, "未知工具")
}

func TestExecuteTodoRejectsNonObjectInput(t *testing.T) {
	e, _, _ := newExecutor(t)
	ok, result := e.Execute(context.Background(), call("todo", `"not an object"`))
	assert.False(t, ok)
	assert.Contains(t, result, "需要 JSON 对象")
}

func TestExecuteTodoUnwrapsDoubleEncodedInput(t *testing.T) {
	e, _, _ := newExecutor(t)
	ok, result := e.Execute(context.Background(),
		call("todo", `"{\"action\":\"add\",\"content\":\"买牛奶\"}"`))
	assert.True(t, ok)
	assert.Contains(t, result, "已添加待办 #1")
}

func TestTodoAddAndGet(t *testing.T) {
	e, _, _ := newExecutor(t)
	ok, result := e.Execute(context.Background(),
		call("todo", `{"action":"add","content":"买牛奶","tag":"Life","priority":2,"due_at":"2026-09-01 09:00","remind_at":"2026-09-01 08:30"}`))
	require.True(t, ok, result)
	assert.Contains(t, result, "[标签:life]")
	assert.Contains(t, result, "优先级:2")
	assert.Contains(t, result, "截止:2026-09-01 09:00")

	ok, result = e.Execute(context.Background(), call("todo", `{"action":"get","id":1}`))
	require.True(t, ok, result)
	assert.Contains(t, result, "待办详情")
	assert.Contains(t, result, "买牛奶")
}

func TestTodoAddValidation(t *testing.T) {
	e, _, _ := newExecutor(t)
	cases := map[string]struct {
		input    string
		expected string
	}{
		"missing content":        {`{"action":"add"}`, "缺少 content"},
		"negative priority":      {`{"action":"add","content":"x","priority":-1}`, "priority 需为 >=0"},
		"bad due_at":             {`{"action":"add","content":"x","due_at":"tomorrow"}`, "due_at 格式非法"},
		"remind without due":     {`{"action":"add","content":"x","remind_at":"2026-09-01 08:30"}`, "提醒时间需要和截止时间一起设置"},
		"unknown action":         {`{"action":"archive"}`, "todo.action 非法"},
		"string priority passes": {`{"action":"add","content":"x","priority":"3"}`, "优先级:3"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, result := e.Execute(context.Background(), call("todo", tc.input))
			assert.Contains(t, result, tc.expected)
		})
	}
}

func TestTodoViews(t *testing.T) {
	e, st, _ := newExecutor(t)
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.Local)
	e.SetClock(func() time.Time { return now })

	_, err := st.AddTodo("今天到期", "default", 0, "2026-08-23 18:00", "")
	require.NoError(t, err)
	_, err = st.AddTodo("已过期", "default", 0, "2026-08-20 09:00", "")
	require.NoError(t, err)
	_, err = st.AddTodo("下周到期", "default", 0, "2026-08-26 09:00", "")
	require.NoError(t, err)
	_, err = st.AddTodo("没有截止", "default", 0, "", "")
	require.NoError(t, err)

	expect := map[string]string{
		"today":    "今天到期",
		"overdue":  "已过期",
		"upcoming": "下周到期",
		"inbox":    "没有截止",
	}
	for view, want := range expect {
		ok, result := e.Execute(context.Background(),
			call("todo", fmt.Sprintf(`{"action":"view","view":"%s"}`, view)))
		require.True(t, ok, result)
		assert.Contains(t, result, want, view)
		for _, other := range expect {
			if other != want {
				assert.NotContains(t, result, other, view)
			}
		}
	}

	_, result := e.Execute(context.Background(), call("todo", `{"action":"view","view":"weekly"}`))
	assert.Contains(t, result, "todo.view 需要合法 view")
}

func TestTodoListEmptyIsFailureObservation(t *testing.T) {
	e, _, _ := newExecutor(t)
	ok, result := e.Execute(context.Background(), call("todo", `{"action":"list"}`))
	assert.False(t, ok)
	assert.Equal(t, "暂无待办。", result)
}

func TestTodoUpdateCrossFieldValidation(t *testing.T) {
	e, st, _ := newExecutor(t)
	id, err := st.AddTodo("原内容", "default", 0, "", "")
	require.NoError(t, err)

	// remind without an effective due date is rejected.
	ok, result := e.Execute(context.Background(),
		call("todo", fmt.Sprintf(`{"action":"update","id":%d,"content":"新内容","remind_at":"2026-09-01 08:30"}`, id)))
	assert.False(t, ok)
	assert.Contains(t, result, "提醒时间需要和截止时间一起设置")

	// setting both in one update succeeds.
	ok, result = e.Execute(context.Background(),
		call("todo", fmt.Sprintf(`{"action":"update","id":%d,"content":"新内容","due_at":"2026-09-01 09:00","remind_at":"2026-09-01 08:30"}`, id)))
	require.True(t, ok, result)
	assert.Contains(t, result, "已更新待办")
	assert.Contains(t, result, "新内容")
}

func TestTodoDoneAndDelete(t *testing.T) {
	e, st, _ := newExecutor(t)
	id, err := st.AddTodo("完成我", "default", 0, "", "")
	require.NoError(t, err)

	ok, result := e.Execute(context.Background(), call("todo", fmt.Sprintf(`{"action":"done","id":%d}`, id)))
	require.True(t, ok, result)
	assert.Contains(t, result, "已完成")

	ok, result = e.Execute(context.Background(), call("todo", fmt.Sprintf(`{"action":"delete","id":%d}`, id)))
	require.True(t, ok, result)
	assert.Contains(t, result, "已删除")

	ok, result = e.Execute(context.Background(), call("todo", fmt.Sprintf(`{"action":"delete","id":%d}`, id)))
	assert.False(t, ok)
	assert.Contains(t, result, "未找到待办")
}

func TestScheduleAddPlain(t *testing.T) {
	e, _, _ := newExecutor(t)
	ok, result := e.Execute(context.Background(),
		call("schedule", `{"action":"add","title":"站会","event_time":"2026-08-24 10:00","duration_minutes":30,"remind_at":"2026-08-24 09:50"}`))
	require.True(t, ok, result)
	assert.Contains(t, result, "已添加日程 #1")
	assert.Contains(t, result, "(30 分钟)")
	assert.Contains(t, result, "提醒:2026-08-24 09:50")
}

func TestScheduleAddRepeatMatrix(t *testing.T) {
	e, _, _ := newExecutor(t)
	cases := map[string]struct {
		input    string
		expected string
	}{
		"times without interval": {
			`{"action":"add","title":"喝水","event_time":"2026-08-24 10:00","times":5}`,
			"提供 times 时必须同时提供 interval_minutes",
		},
		"times one rejected": {
			`{"action":"add","title":"喝水","event_time":"2026-08-24 10:00","interval_minutes":60,"times":1}`,
			"times 需为 -1 或 >=2 的整数",
		},
		"remind_start without interval": {
			`{"action":"add","title":"喝水","event_time":"2026-08-24 10:00","remind_start_time":"2026-08-24 09:00"}`,
			"提供 remind_start_time 时必须提供 interval_minutes",
		},
		"unbounded default": {
			`{"action":"add","title":"喝水","event_time":"2026-08-24 10:00","interval_minutes":60}`,
			"已添加无限重复日程",
		},
		"bounded repeat": {
			`{"action":"add","title":"喝水","event_time":"2026-08-24 10:00","interval_minutes":60,"times":5}`,
			"已添加重复日程 5 条",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, result := e.Execute(context.Background(), call("schedule", tc.input))
			assert.Contains(t, result, tc.expected)
		})
	}
}

func TestScheduleViewDayAnchor(t *testing.T) {
	e, st, _ := newExecutor(t)
	_, err := st.AddSchedule("当天会议", "default", "2026-08-24 10:00", 60, "")
	require.NoError(t, err)
	_, err = st.AddSchedule("第二天会议", "default", "2026-08-25 10:00", 60, "")
	require.NoError(t, err)

	ok, result := e.Execute(context.Background(),
		call("schedule", `{"action":"view","view":"day","anchor":"2026-08-24"}`))
	require.True(t, ok, result)
	assert.Contains(t, result, "日历视图(day, 2026-08-24)")
	assert.Contains(t, result, "当天会议")
	assert.NotContains(t, result, "第二天会议")

	_, result = e.Execute(context.Background(),
		call("schedule", `{"action":"view","view":"month","anchor":"2026-13"}`))
	assert.Contains(t, result, "anchor 非法")
}

func TestScheduleUpdateClearsRecurrenceWithoutRule(t *testing.T) {
	e, st, _ := newExecutor(t)
	id, err := st.AddSchedule("喝水", "default", "2026-08-24 10:00", 60, "")
	require.NoError(t, err)
	require.NoError(t, st.SetRecurrence(id, "2026-08-24 10:00", 60, -1, ""))

	ok, result := e.Execute(context.Background(),
		call("schedule", fmt.Sprintf(`{"action":"update","id":%d,"title":"喝水改","event_time":"2026-08-24 11:00"}`, id)))
	require.True(t, ok, result)
	assert.Contains(t, result, "已更新日程")

	item, err := st.GetSchedule(id)
	require.NoError(t, err)
	assert.Nil(t, item.Recurrence, "update without repeat fields drops the rule")
}

func TestScheduleRepeatToggle(t *testing.T) {
	e, st, _ := newExecutor(t)
	id, err := st.AddSchedule("喝水", "default", "2026-08-24 10:00", 60, "")
	require.NoError(t, err)

	ok, result := e.Execute(context.Background(),
		call("schedule", fmt.Sprintf(`{"action":"repeat","id":%d,"enabled":false}`, id)))
	assert.False(t, ok)
	assert.Contains(t, result, "没有可切换的重复规则")

	require.NoError(t, st.SetRecurrence(id, "2026-08-24 10:00", 60, -1, ""))
	ok, result = e.Execute(context.Background(),
		call("schedule", fmt.Sprintf(`{"action":"repeat","id":%d,"enabled":false}`, id)))
	require.True(t, ok, result)
	assert.Contains(t, result, "已停用日程")
}

func TestInternetSearch(t *testing.T) {
	e, _, provider := newExecutor(t)
	provider.results = []search.Result{
		{Title: "Go Blog", Snippet: "generics", URL: "https://go.dev/blog"},
	}

	ok, result := e.Execute(context.Background(), call("internet_search", `"golang 泛型"`))
	require.True(t, ok, result)
	assert.Equal(t, "golang 泛型", provider.lastQ)
	assert.Contains(t, result, "互联网搜索结果（Top 3）")
	assert.Contains(t, result, "1. Go Blog")
	assert.Contains(t, result, "链接: https://go.dev/blog")
}

func TestInternetSearchObjectInput(t *testing.T) {
	e, _, provider := newExecutor(t)
	provider.results = []search.Result{{Title: "t", Snippet: "s", URL: "https://x"}}

	ok, _ := e.Execute(context.Background(), call("internet_search", `{"query":"天气"}`))
	assert.True(t, ok)
	assert.Equal(t, "天气", provider.lastQ)
}

func TestInternetSearchFailures(t *testing.T) {
	e, _, provider := newExecutor(t)

	ok, result := e.Execute(context.Background(), call("internet_search", `"  "`))
	assert.False(t, ok)
	assert.Contains(t, result, "缺少查询词")

	provider.err = errors.New("timeout")
	ok, result = e.Execute(context.Background(), call("internet_search", `"天气"`))
	assert.False(t, ok)
	assert.Contains(t, result, "搜索失败")

	provider.err = nil
	provider.results = nil
	ok, result = e.Execute(context.Background(), call("internet_search", `"不存在的词"`))
	assert.False(t, ok)
	assert.Contains(t, result, "未搜索到与“不存在的词”相关的结果")
}

func TestHistorySearch(t *testing.T) {
	e, st, _ := newExecutor(t)
	require.NoError(t, st.SaveTurn("明天的天气怎么样", "明天晴"))
	require.NoError(t, st.SaveTurn("无关内容", "无关回答"))

	ok, result := e.Execute(context.Background(), call("history_search", `{"keyword":"天气"}`))
	require.True(t, ok, result)
	assert.Contains(t, result, "历史搜索(关键词: 天气, 命中 1 轮)")
	assert.Contains(t, result, "明天晴")

	ok, result = e.Execute(context.Background(), call("history_search", `{"keyword":""}`))
	assert.False(t, ok)
	assert.Contains(t, result, "keyword 不能为空")

	ok, result = e.Execute(context.Background(), call("history_search", `{"keyword":"x","limit":0}`))
	assert.False(t, ok)
	assert.Contains(t, result, "limit 必须为正整数")
}
