// Package tools executes validated tool calls against the local
// collaborators (todo/schedule store, chat history, web search) and renders
// their outcomes as Chinese observation text. Failures never propagate as
// errors: every outcome is an {ok, result} observation the next decision
// can react to.
package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harrison/steward/internal/decision"
	"github.com/harrison/steward/internal/display"
	"github.com/harrison/steward/internal/search"
	"github.com/harrison/steward/internal/store"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
	historyCellLimit    = 300

	defaultScheduleDurationMinutes = 60
)

// Executor dispatches tool calls to the fixed tool set.
type Executor struct {
	store      *store.Store
	search     search.Provider
	topK       int
	windowDays int
	now        func() time.Time
}

// NewExecutor creates an Executor. topK bounds internet search results;
// windowDays bounds the default schedule listing window.
func NewExecutor(st *store.Store, provider search.Provider, topK, windowDays int) *Executor {
	if topK < 1 {
		topK = 1
	}
	if windowDays < 1 {
		windowDays = 1
	}
	return &Executor{store: st, search: provider, topK: topK, windowDays: windowDays, now: time.Now}
}

// SetClock overrides wall-clock time for view filtering. Test hook.
func (e *Executor) SetClock(now func() time.Time) {
	e.now = now
}

// Execute runs one tool call and returns its observation.
func (e *Executor) Execute(ctx context.Context, call decision.ToolCall) (bool, string) {
	switch call.Tool {
	case decision.ToolTodo:
		var input todoInput
		if err := decodeObject(call.Input, &input); err != nil {
			return false, "todo 工具参数无效：需要 JSON 对象。"
		}
		return e.executeTodo(input)
	case decision.ToolSchedule:
		var input scheduleInput
		if err := decodeObject(call.Input, &input); err != nil {
			return false, "schedule 工具参数无效：需要 JSON 对象。"
		}
		return e.executeSchedule(input)
	case decision.ToolInternetSearch:
		return e.executeInternetSearch(ctx, call)
	case decision.ToolHistorySearch:
		var input historySearchInput
		if err := decodeObject(call.Input, &input); err != nil {
			return false, "history_search 工具参数无效：需要 JSON 对象。"
		}
		return e.executeHistorySearch(input)
	}
	return false, fmt.Sprintf("未知工具: %s", call.Tool)
}

func (e *Executor) executeInternetSearch(ctx context.Context, call decision.ToolCall) (bool, string) {
	query := call.InputText()
	// Tolerate models wrapping the query in an object.
	var wrapped struct {
		Query string `json:"query"`
	}
	if err := decodeObject(call.Input, &wrapped); err == nil && strings.TrimSpace(wrapped.Query) != "" {
		query = strings.TrimSpace(wrapped.Query)
	}
	if query == "" {
		return false, "internet_search 缺少查询词。"
	}
	results, err := e.search.Search(ctx, query, e.topK)
	if err != nil {
		return false, fmt.Sprintf("搜索失败: %v", err)
	}
	if len(results) == 0 {
		return false, fmt.Sprintf("未搜索到与“%s”相关的结果。", query)
	}
	return true, formatSearchResults(results, e.topK)
}

func formatSearchResults(results []search.Result, topK int) string {
	if topK < 1 {
		topK = 1
	}
	lines := []string{fmt.Sprintf("互联网搜索结果（Top %d）:", topK)}
	for i, item := range results {
		if i >= topK {
			break
		}
		snippet := item.Snippet
		if snippet == "" {
			snippet = "-"
		}
		lines = append(lines,
			fmt.Sprintf("%d. %s", i+1, item.Title),
			fmt.Sprintf("   摘要: %s", snippet),
			fmt.Sprintf("   链接: %s", item.URL),
		)
	}
	return strings.Join(lines, "\n")
}

type historySearchInput struct {
	Keyword string  `json:"keyword"`
	Limit   *optInt `json:"limit"`
}

func (e *Executor) executeHistorySearch(input historySearchInput) (bool, string) {
	keyword := strings.TrimSpace(input.Keyword)
	if keyword == "" {
		return false, "history_search.keyword 不能为空。"
	}
	limit := defaultHistoryLimit
	if input.Limit != nil {
		parsed, ok := input.Limit.Positive()
		if !ok {
			return false, "history_search.limit 必须为正整数。"
		}
		limit = parsed
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}
	}
	turns, err := e.store.SearchTurns(keyword, limit)
	if err != nil {
		return false, fmt.Sprintf("历史搜索失败: %v", err)
	}
	if len(turns) == 0 {
		return false, fmt.Sprintf("未找到包含“%s”的历史会话。", keyword)
	}
	rows := make([][]string, 0, len(turns))
	for i, turn := range turns {
		rows = append(rows, []string{
			fmt.Sprint(i + 1),
			truncateText(turn.UserContent, historyCellLimit),
			truncateText(turn.AssistantContent, historyCellLimit),
			turn.CreatedAt,
		})
	}
	table := display.RenderTable([]string{"#", "用户输入", "最终回答", "时间"}, rows)
	return true, fmt.Sprintf("历史搜索(关键词: %s, 命中 %d 轮):\n%s", keyword, len(turns), table)
}
