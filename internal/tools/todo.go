package tools

import (
	"fmt"
	"strings"
	"time"

	"github.com/harrison/steward/internal/display"
	"github.com/harrison/steward/internal/store"
)

var todoTableHeaders = []string{"ID", "状态", "标签", "优先级", "内容", "创建时间", "完成时间", "截止时间", "提醒时间"}

type todoInput struct {
	Action   string  `json:"action"`
	Content  string  `json:"content"`
	Tag      *string `json:"tag"`
	Priority *optInt `json:"priority"`
	DueAt    *string `json:"due_at"`
	RemindAt *string `json:"remind_at"`
	Keyword  string  `json:"keyword"`
	View     *string `json:"view"`
	ID       *optInt `json:"id"`
}

func (e *Executor) executeTodo(input todoInput) (bool, string) {
	switch strings.ToLower(strings.TrimSpace(input.Action)) {
	case "add":
		return e.todoAdd(input)
	case "list":
		return e.todoList(input, false)
	case "view":
		return e.todoList(input, true)
	case "search":
		return e.todoSearch(input)
	case "get":
		return e.todoGet(input)
	case "update":
		return e.todoUpdate(input)
	case "done":
		return e.todoDone(input)
	case "delete":
		return e.todoDelete(input)
	}
	return false, "todo.action 非法。"
}

func (e *Executor) todoAdd(input todoInput) (bool, string) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return false, "todo.add 缺少 content。"
	}
	tag := normalizeTag(input.Tag)
	if tag == "" {
		tag = "default"
	}
	priority := 0
	if input.Priority != nil {
		parsed, ok := input.Priority.NonNegative()
		if !ok {
			return false, "todo.add priority 需为 >=0 的整数。"
		}
		priority = parsed
	}
	dueAt, _, invalid := optionalDatetime(input.DueAt)
	if invalid {
		return false, "todo.add due_at 格式非法，需为 YYYY-MM-DD HH:MM。"
	}
	remindAt, _, invalid := optionalDatetime(input.RemindAt)
	if invalid {
		return false, "todo.add remind_at 格式非法，需为 YYYY-MM-DD HH:MM。"
	}
	id, err := e.store.AddTodo(content, tag, priority, dueAt, remindAt)
	if err != nil {
		return false, "提醒时间需要和截止时间一起设置，且优先级必须为大于等于 0 的整数。"
	}
	return true, fmt.Sprintf("已添加待办 #%d [标签:%s]: %s%s",
		id, tag, content, todoMetaInline(dueAt, remindAt, priority))
}

func (e *Executor) todoList(input todoInput, viewRequired bool) (bool, string) {
	view := "all"
	if input.View != nil {
		view = strings.ToLower(strings.TrimSpace(*input.View))
	}
	if !validTodoView(view) {
		if viewRequired {
			return false, "todo.view 需要合法 view(all|today|overdue|upcoming|inbox)。"
		}
		return false, "todo.list 的 view 参数非法。"
	}
	if viewRequired && input.View == nil {
		return false, "todo.view 需要合法 view(all|today|overdue|upcoming|inbox)。"
	}
	tag := normalizeTag(input.Tag)
	todos, err := e.store.ListTodos(tag)
	if err != nil {
		return false, fmt.Sprintf("待办查询失败: %v", err)
	}
	todos = filterTodosByView(todos, view, e.now())
	if len(todos) == 0 {
		return false, todoListEmptyText(tag, view)
	}
	return true, todoListHeader(tag, view) + "\n" + renderTodoTable(todos)
}

func (e *Executor) todoSearch(input todoInput) (bool, string) {
	keyword := strings.TrimSpace(input.Keyword)
	if keyword == "" {
		return false, "todo.search 缺少 keyword。"
	}
	tag := normalizeTag(input.Tag)
	todos, err := e.store.SearchTodos(keyword, tag)
	if err != nil {
		return false, fmt.Sprintf("待办搜索失败: %v", err)
	}
	if len(todos) == 0 {
		if tag == "" {
			return false, fmt.Sprintf("未找到包含“%s”的待办。", keyword)
		}
		return false, fmt.Sprintf("未在标签 %s 下找到包含“%s”的待办。", tag, keyword)
	}
	header := fmt.Sprintf("搜索结果(关键词: %s):", keyword)
	if tag != "" {
		header = fmt.Sprintf("搜索结果(关键词: %s, 标签: %s):", keyword, tag)
	}
	return true, header + "\n" + renderTodoTable(todos)
}

func (e *Executor) todoID(input todoInput) (int64, bool) {
	if input.ID == nil {
		return 0, false
	}
	id, ok := input.ID.Positive()
	return int64(id), ok
}

func (e *Executor) todoGet(input todoInput) (bool, string) {
	id, ok := e.todoID(input)
	if !ok {
		return false, "todo.id 必须为正整数。"
	}
	todo, err := e.store.GetTodo(id)
	if err != nil {
		return false, fmt.Sprintf("待办查询失败: %v", err)
	}
	if todo == nil {
		return false, fmt.Sprintf("未找到待办 #%d", id)
	}
	return true, "待办详情:\n" + renderTodoTable([]store.Todo{*todo})
}

func (e *Executor) todoUpdate(input todoInput) (bool, string) {
	id, ok := e.todoID(input)
	if !ok {
		return false, "todo.id 必须为正整数。"
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return false, "todo.update 缺少 content。"
	}
	current, err := e.store.GetTodo(id)
	if err != nil {
		return false, fmt.Sprintf("待办查询失败: %v", err)
	}
	if current == nil {
		return false, fmt.Sprintf("未找到待办 #%d", id)
	}

	update := store.TodoUpdate{Content: &content}
	if input.Priority != nil {
		priority, ok := input.Priority.NonNegative()
		if !ok {
			return false, "todo.update priority 需为 >=0 的整数。"
		}
		update.Priority = &priority
	}
	dueAt, clearDue, invalid := optionalDatetime(input.DueAt)
	if invalid {
		return false, "todo.update due_at 格式非法，需为 YYYY-MM-DD HH:MM。"
	}
	remindAt, clearRemind, invalid := optionalDatetime(input.RemindAt)
	if invalid {
		return false, "todo.update remind_at 格式非法，需为 YYYY-MM-DD HH:MM。"
	}
	if remindAt != "" {
		effectiveDue := current.DueAt
		if input.DueAt != nil {
			effectiveDue = dueAt
		}
		if effectiveDue == "" {
			return false, "提醒时间需要和截止时间一起设置。"
		}
	}
	if input.DueAt != nil {
		value := dueAt
		if clearDue {
			value = ""
		}
		update.DueAt = &value
	}
	if input.RemindAt != nil {
		value := remindAt
		if clearRemind {
			value = ""
		}
		update.RemindAt = &value
	}
	if input.Tag != nil {
		tag := normalizeTag(input.Tag)
		if tag == "" {
			tag = "default"
		}
		update.Tag = &tag
	}

	updated, err := e.store.UpdateTodo(id, update)
	if err != nil {
		return false, "提醒时间需要和截止时间一起设置。"
	}
	if !updated {
		return false, fmt.Sprintf("未找到待办 #%d", id)
	}
	todo, err := e.store.GetTodo(id)
	if err != nil || todo == nil {
		return true, fmt.Sprintf("已更新待办 #%d: %s", id, content)
	}
	return true, fmt.Sprintf("已更新待办 #%d [标签:%s]: %s%s",
		id, todo.Tag, content, todoMetaInline(todo.DueAt, todo.RemindAt, todo.Priority))
}

func (e *Executor) todoDone(input todoInput) (bool, string) {
	id, ok := e.todoID(input)
	if !ok {
		return false, "todo.id 必须为正整数。"
	}
	done, err := e.store.MarkTodoDone(id)
	if err != nil {
		return false, fmt.Sprintf("待办更新失败: %v", err)
	}
	if !done {
		return false, fmt.Sprintf("未找到待办 #%d", id)
	}
	completedAt := e.now().Format("2006-01-02 15:04:05")
	if todo, err := e.store.GetTodo(id); err == nil && todo != nil && todo.CompletedAt != "" {
		completedAt = todo.CompletedAt
	}
	return true, fmt.Sprintf("待办 #%d 已完成。完成时间: %s", id, completedAt)
}

func (e *Executor) todoDelete(input todoInput) (bool, string) {
	id, ok := e.todoID(input)
	if !ok {
		return false, "todo.id 必须为正整数。"
	}
	deleted, err := e.store.DeleteTodo(id)
	if err != nil {
		return false, fmt.Sprintf("待办删除失败: %v", err)
	}
	if !deleted {
		return false, fmt.Sprintf("未找到待办 #%d", id)
	}
	return true, fmt.Sprintf("待办 #%d 已删除。", id)
}

func validTodoView(view string) bool {
	switch view {
	case "all", "today", "overdue", "upcoming", "inbox":
		return true
	}
	return false
}

// filterTodosByView applies the calendar-style views. Completed todos only
// appear in the all view.
func filterTodosByView(todos []store.Todo, view string, now time.Time) []store.Todo {
	if view == "all" {
		return todos
	}
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	todayEnd := todayStart.AddDate(0, 0, 1)
	upcomingEnd := now.AddDate(0, 0, 7)

	filtered := make([]store.Todo, 0, len(todos))
	for _, item := range todos {
		if item.Done {
			continue
		}
		dueAt, hasDue := parseMinuteTime(item.DueAt)
		switch view {
		case "today":
			if hasDue && !dueAt.Before(todayStart) && dueAt.Before(todayEnd) {
				filtered = append(filtered, item)
			}
		case "overdue":
			if hasDue && dueAt.Before(now) {
				filtered = append(filtered, item)
			}
		case "upcoming":
			if hasDue && !dueAt.Before(todayEnd) && !dueAt.After(upcomingEnd) {
				filtered = append(filtered, item)
			}
		case "inbox":
			if !hasDue {
				filtered = append(filtered, item)
			}
		}
	}
	return filtered
}

func parseMinuteTime(value string) (time.Time, bool) {
	text := strings.TrimSpace(value)
	if text == "" {
		return time.Time{}, false
	}
	parsed, err := time.ParseInLocation(store.TimeLayout, text, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

func todoListHeader(tag, view string) string {
	var parts []string
	if tag != "" {
		parts = append(parts, fmt.Sprintf("标签: %s", tag))
	}
	if view != "all" {
		parts = append(parts, fmt.Sprintf("视图: %s", view))
	}
	if len(parts) == 0 {
		return "待办列表:"
	}
	return fmt.Sprintf("待办列表(%s):", strings.Join(parts, ", "))
}

func todoListEmptyText(tag, view string) string {
	switch {
	case tag == "" && view == "all":
		return "暂无待办。"
	case tag == "":
		return fmt.Sprintf("视图 %s 下暂无待办。", view)
	case view == "all":
		return fmt.Sprintf("标签 %s 下暂无待办。", tag)
	default:
		return fmt.Sprintf("标签 %s 的 %s 视图下暂无待办。", tag, view)
	}
}

func todoMetaInline(dueAt, remindAt string, priority int) string {
	parts := []string{fmt.Sprintf("优先级:%d", priority)}
	if dueAt != "" {
		parts = append(parts, fmt.Sprintf("截止:%s", dueAt))
	}
	if remindAt != "" {
		parts = append(parts, fmt.Sprintf("提醒:%s", remindAt))
	}
	return " | " + strings.Join(parts, " ")
}

func renderTodoTable(todos []store.Todo) string {
	rows := make([][]string, 0, len(todos))
	for _, item := range todos {
		status := "待办"
		if item.Done {
			status = "完成"
		}
		rows = append(rows, []string{
			fmt.Sprint(item.ID),
			status,
			item.Tag,
			fmt.Sprint(item.Priority),
			item.Content,
			item.CreatedAt,
			orDash(item.CompletedAt),
			orDash(item.DueAt),
			orDash(item.RemindAt),
		})
	}
	return display.RenderTable(todoTableHeaders, rows)
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
