package tools

import (
	"fmt"
	"strings"
	"time"

	"github.com/harrison/steward/internal/display"
	"github.com/harrison/steward/internal/store"
)

var scheduleTableHeaders = []string{
	"ID", "时间", "时长(分钟)", "标签", "标题", "提醒时间",
	"重复提醒开始", "重复间隔(分钟)", "重复次数", "重复启用", "创建时间",
}

type scheduleInput struct {
	Action          string  `json:"action"`
	Title           string  `json:"title"`
	Tag             *string `json:"tag"`
	EventTime       string  `json:"event_time"`
	DurationMinutes *optInt `json:"duration_minutes"`
	RemindAt        *string `json:"remind_at"`
	View            *string `json:"view"`
	Anchor          *string `json:"anchor"`
	ID              *optInt `json:"id"`
	IntervalMinutes *optInt `json:"interval_minutes"`
	Times           *optInt `json:"times"`
	RemindStartTime *string `json:"remind_start_time"`
	Enabled         *bool   `json:"enabled"`
}

// repeatRule is the validated recurrence slice of one add/update input.
type repeatRule struct {
	interval       int  // 0 means no recurrence
	times          int  // -1 unbounded, >=2 bounded, 1 none
	remindStart    string
	hasRemindStart bool
}

func (e *Executor) executeSchedule(input scheduleInput) (bool, string) {
	switch strings.ToLower(strings.TrimSpace(input.Action)) {
	case "add":
		return e.scheduleAdd(input)
	case "list":
		return e.scheduleList(input)
	case "view":
		return e.scheduleView(input)
	case "get":
		return e.scheduleGet(input)
	case "update":
		return e.scheduleUpdate(input)
	case "delete":
		return e.scheduleDelete(input)
	case "repeat":
		return e.scheduleRepeat(input)
	}
	return false, "schedule.action 非法。"
}

// resolveRepeatRule validates the cross-field recurrence contract shared by
// add and update: times requires interval_minutes, interval_minutes forbids
// times=1, remind_start_time requires interval_minutes.
func resolveRepeatRule(input scheduleInput, action string) (repeatRule, string) {
	rule := repeatRule{times: 1}
	if input.IntervalMinutes != nil {
		interval, ok := input.IntervalMinutes.AtLeast(1)
		if !ok {
			return rule, fmt.Sprintf("schedule.%s interval_minutes 需为 >=1 的整数。", action)
		}
		rule.interval = interval
	}
	if input.Times != nil {
		times, ok := input.Times.RepeatTimes()
		if !ok {
			return rule, fmt.Sprintf("schedule.%s times 需为 -1 或 >=2 的整数。", action)
		}
		rule.times = times
	} else if rule.interval > 0 {
		rule.times = -1
	}
	remindStart, _, invalid := optionalDatetime(input.RemindStartTime)
	if invalid {
		return rule, fmt.Sprintf("schedule.%s remind_start_time 格式非法。", action)
	}
	rule.remindStart = remindStart
	rule.hasRemindStart = input.RemindStartTime != nil
	if rule.interval == 0 && rule.times != 1 {
		return rule, fmt.Sprintf("schedule.%s 提供 times 时必须同时提供 interval_minutes。", action)
	}
	if rule.interval > 0 && rule.times == 1 {
		return rule, fmt.Sprintf("schedule.%s interval_minutes 存在时，times 不能为 1。", action)
	}
	if rule.hasRemindStart && rule.interval == 0 {
		return rule, fmt.Sprintf("schedule.%s 提供 remind_start_time 时必须提供 interval_minutes。", action)
	}
	return rule, ""
}

func (e *Executor) scheduleAdd(input scheduleInput) (bool, string) {
	eventTime := normalizeDatetime(input.EventTime)
	title := strings.TrimSpace(input.Title)
	if eventTime == "" || title == "" {
		return false, "schedule.add 缺少 event_time/title 或格式非法。"
	}
	tag := normalizeTag(input.Tag)
	if tag == "" {
		tag = "default"
	}
	duration := defaultScheduleDurationMinutes
	if input.DurationMinutes != nil {
		parsed, ok := input.DurationMinutes.AtLeast(1)
		if !ok {
			return false, "schedule.add duration_minutes 需为 >=1 的整数。"
		}
		duration = parsed
	}
	remindAt, _, invalid := optionalDatetime(input.RemindAt)
	if invalid {
		return false, "schedule.add remind_at 格式非法。"
	}
	rule, errText := resolveRepeatRule(input, "add")
	if errText != "" {
		return false, errText
	}

	id, err := e.store.AddSchedule(title, tag, eventTime, duration, remindAt)
	if err != nil {
		return false, fmt.Sprintf("日程添加失败: %v", err)
	}
	if rule.interval > 0 {
		if err := e.store.SetRecurrence(id, eventTime, rule.interval, rule.times, rule.remindStart); err != nil {
			return false, fmt.Sprintf("重复规则设置失败: %v", err)
		}
	}
	remindMeta := scheduleRemindMetaInline(remindAt, rule.remindStart)
	switch rule.times {
	case 1:
		return true, fmt.Sprintf("已添加日程 #%d [标签:%s]: %s %s (%d 分钟)%s",
			id, tag, eventTime, title, duration, remindMeta)
	case -1:
		return true, fmt.Sprintf("已添加无限重复日程 #%d [标签:%s]: %s %s (duration=%dm, interval=%dm%s)",
			id, tag, eventTime, title, duration, rule.interval, remindMeta)
	default:
		return true, fmt.Sprintf("已添加重复日程 %d 条 [标签:%s]: %s %s (duration=%dm, interval=%dm, times=%d%s)",
			rule.times, tag, eventTime, title, duration, rule.interval, rule.times, remindMeta)
	}
}

func (e *Executor) scheduleList(input scheduleInput) (bool, string) {
	tag := normalizeTag(input.Tag)
	start, end := e.defaultListWindow()
	items, err := e.store.ListSchedules(start, end, tag)
	if err != nil {
		return false, fmt.Sprintf("日程查询失败: %v", err)
	}
	if len(items) == 0 {
		if tag != "" {
			return false, fmt.Sprintf("前天起未来 %d 天内（标签:%s）暂无日程。", e.windowDays, tag)
		}
		return false, fmt.Sprintf("前天起未来 %d 天内暂无日程。", e.windowDays)
	}
	title := fmt.Sprintf("日程列表(前天起未来 %d 天)", e.windowDays)
	if tag != "" {
		title = fmt.Sprintf("日程列表(前天起未来 %d 天，标签:%s)", e.windowDays, tag)
	}
	return true, title + ":\n" + renderScheduleTable(items)
}

// defaultListWindow spans from the start of the day before yesterday to
// windowDays later.
func (e *Executor) defaultListWindow() (string, string) {
	now := e.now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, -2)
	end := start.AddDate(0, 0, e.windowDays)
	return start.Format(store.TimeLayout), end.Format(store.TimeLayout)
}

func (e *Executor) scheduleView(input scheduleInput) (bool, string) {
	view := ""
	if input.View != nil {
		view = strings.ToLower(strings.TrimSpace(*input.View))
	}
	if !validScheduleView(view) {
		return false, "schedule.view 需要合法 view(day|week|month)。"
	}
	anchor := ""
	if input.Anchor != nil && strings.TrimSpace(*input.Anchor) != "" {
		normalized, ok := normalizeViewAnchor(view, *input.Anchor)
		if !ok {
			return false, "schedule.view 的 anchor 非法。"
		}
		anchor = normalized
	}
	start, end := resolveViewWindow(view, anchor, e.now())
	tag := normalizeTag(input.Tag)
	items, err := e.store.ListSchedules(start.Format(store.TimeLayout), end.Format(store.TimeLayout), tag)
	if err != nil {
		return false, fmt.Sprintf("日程查询失败: %v", err)
	}
	if len(items) == 0 {
		tagNote := ""
		if tag != "" {
			tagNote = fmt.Sprintf("（标签:%s）", tag)
		}
		return false, fmt.Sprintf("%s 视图下%s暂无日程。", view, tagNote)
	}
	title := fmt.Sprintf("日历视图(%s)", view)
	if anchor != "" {
		title = fmt.Sprintf("日历视图(%s, %s)", view, anchor)
	}
	if tag != "" {
		title = fmt.Sprintf("%s [标签:%s]", title, tag)
	}
	return true, title + ":\n" + renderScheduleTable(items)
}

func validScheduleView(view string) bool {
	switch view {
	case "day", "week", "month":
		return true
	}
	return false
}

// normalizeViewAnchor accepts YYYY-MM-DD for day/week and YYYY-MM for month.
func normalizeViewAnchor(view, value string) (string, bool) {
	text := strings.TrimSpace(value)
	if view == "month" {
		parsed, err := time.ParseInLocation("2006-01", text, time.Local)
		if err != nil {
			return "", false
		}
		return parsed.Format("2006-01"), true
	}
	parsed, err := time.ParseInLocation("2006-01-02", text, time.Local)
	if err != nil {
		return "", false
	}
	return parsed.Format("2006-01-02"), true
}

func resolveViewWindow(view, anchor string, now time.Time) (time.Time, time.Time) {
	anchorTime := now
	if anchor != "" {
		layout := "2006-01-02"
		if view == "month" {
			layout = "2006-01"
		}
		if parsed, err := time.ParseInLocation(layout, anchor, now.Location()); err == nil {
			anchorTime = parsed
		}
	}
	dayStart := time.Date(anchorTime.Year(), anchorTime.Month(), anchorTime.Day(), 0, 0, 0, 0, anchorTime.Location())
	switch view {
	case "day":
		return dayStart, dayStart.AddDate(0, 0, 1)
	case "week":
		// Monday-based week.
		offset := (int(dayStart.Weekday()) + 6) % 7
		weekStart := dayStart.AddDate(0, 0, -offset)
		return weekStart, weekStart.AddDate(0, 0, 7)
	default:
		monthStart := time.Date(anchorTime.Year(), anchorTime.Month(), 1, 0, 0, 0, 0, anchorTime.Location())
		return monthStart, monthStart.AddDate(0, 1, 0)
	}
}

func (e *Executor) scheduleID(input scheduleInput) (int64, bool) {
	if input.ID == nil {
		return 0, false
	}
	id, ok := input.ID.Positive()
	return int64(id), ok
}

func (e *Executor) scheduleGet(input scheduleInput) (bool, string) {
	id, ok := e.scheduleID(input)
	if !ok {
		return false, "schedule.id 必须为正整数。"
	}
	item, err := e.store.GetSchedule(id)
	if err != nil {
		return false, fmt.Sprintf("日程查询失败: %v", err)
	}
	if item == nil {
		return false, fmt.Sprintf("未找到日程 #%d", id)
	}
	return true, "日程详情:\n" + renderScheduleTable([]store.Schedule{*item})
}

func (e *Executor) scheduleUpdate(input scheduleInput) (bool, string) {
	id, ok := e.scheduleID(input)
	if !ok {
		return false, "schedule.id 必须为正整数。"
	}
	eventTime := normalizeDatetime(input.EventTime)
	title := strings.TrimSpace(input.Title)
	if eventTime == "" || title == "" {
		return false, "schedule.update 缺少 event_time/title 或格式非法。"
	}
	current, err := e.store.GetSchedule(id)
	if err != nil {
		return false, fmt.Sprintf("日程查询失败: %v", err)
	}
	if current == nil {
		return false, fmt.Sprintf("未找到日程 #%d", id)
	}
	duration := current.DurationMinutes
	if input.DurationMinutes != nil {
		parsed, ok := input.DurationMinutes.AtLeast(1)
		if !ok {
			return false, "schedule.update duration_minutes 需为 >=1 的整数。"
		}
		duration = parsed
	}
	remindAt, clearRemind, invalid := optionalDatetime(input.RemindAt)
	if invalid {
		return false, "schedule.update remind_at 格式非法。"
	}
	rule, errText := resolveRepeatRule(input, "update")
	if errText != "" {
		return false, errText
	}

	update := store.ScheduleUpdate{
		Title:           &title,
		EventTime:       &eventTime,
		DurationMinutes: &duration,
	}
	if input.Tag != nil {
		tag := normalizeTag(input.Tag)
		if tag == "" {
			tag = "default"
		}
		update.Tag = &tag
	}
	if input.RemindAt != nil {
		value := remindAt
		if clearRemind {
			value = ""
		}
		update.RemindAt = &value
	}
	updated, err := e.store.UpdateSchedule(id, update)
	if err != nil {
		return false, fmt.Sprintf("日程更新失败: %v", err)
	}
	if !updated {
		return false, fmt.Sprintf("未找到日程 #%d", id)
	}

	if rule.times == 1 {
		if err := e.store.ClearRecurrence(id); err != nil {
			return false, fmt.Sprintf("重复规则清除失败: %v", err)
		}
		item, _ := e.store.GetSchedule(id)
		tag := current.Tag
		remindMeta := ""
		if item != nil {
			tag = item.Tag
			remindMeta = scheduleRemindMetaInline(item.RemindAt, recurrenceRemindStart(item))
		}
		return true, fmt.Sprintf("已更新日程 #%d [标签:%s]: %s %s (%d 分钟)%s",
			id, tag, eventTime, title, duration, remindMeta)
	}

	remindStart := rule.remindStart
	if !rule.hasRemindStart {
		remindStart = recurrenceRemindStart(current)
	}
	if err := e.store.SetRecurrence(id, eventTime, rule.interval, rule.times, remindStart); err != nil {
		return false, fmt.Sprintf("重复规则设置失败: %v", err)
	}
	item, _ := e.store.GetSchedule(id)
	tag := current.Tag
	remindMeta := scheduleRemindMetaInline(remindAt, remindStart)
	if item != nil {
		tag = item.Tag
		remindMeta = scheduleRemindMetaInline(item.RemindAt, recurrenceRemindStart(item))
	}
	if rule.times == -1 {
		return true, fmt.Sprintf("已更新为无限重复日程 #%d [标签:%s]: %s %s (duration=%dm, interval=%dm%s)",
			id, tag, eventTime, title, duration, rule.interval, remindMeta)
	}
	return true, fmt.Sprintf("已更新日程 #%d [标签:%s]: %s %s (duration=%dm, interval=%dm, times=%d%s)",
		id, tag, eventTime, title, duration, rule.interval, rule.times, remindMeta)
}

func (e *Executor) scheduleDelete(input scheduleInput) (bool, string) {
	id, ok := e.scheduleID(input)
	if !ok {
		return false, "schedule.id 必须为正整数。"
	}
	deleted, err := e.store.DeleteSchedule(id)
	if err != nil {
		return false, fmt.Sprintf("日程删除失败: %v", err)
	}
	if !deleted {
		return false, fmt.Sprintf("未找到日程 #%d", id)
	}
	return true, fmt.Sprintf("日程 #%d 已删除。", id)
}

func (e *Executor) scheduleRepeat(input scheduleInput) (bool, string) {
	id, ok := e.scheduleID(input)
	if !ok {
		return false, "schedule.id 必须为正整数。"
	}
	if input.Enabled == nil {
		return false, "schedule.repeat 需要 enabled 布尔值。"
	}
	changed, err := e.store.SetRecurrenceEnabled(id, *input.Enabled)
	if err != nil {
		return false, fmt.Sprintf("重复规则切换失败: %v", err)
	}
	if !changed {
		return false, fmt.Sprintf("日程 #%d 没有可切换的重复规则。", id)
	}
	status := "停用"
	if *input.Enabled {
		status = "启用"
	}
	return true, fmt.Sprintf("已%s日程 #%d 的重复规则。", status, id)
}

func recurrenceRemindStart(item *store.Schedule) string {
	if item == nil || item.Recurrence == nil {
		return ""
	}
	return item.Recurrence.RemindStartTime
}

func scheduleRemindMetaInline(remindAt, remindStart string) string {
	var parts []string
	if remindAt != "" {
		parts = append(parts, fmt.Sprintf("提醒:%s", remindAt))
	}
	if remindStart != "" {
		parts = append(parts, fmt.Sprintf("重复提醒开始:%s", remindStart))
	}
	if len(parts) == 0 {
		return ""
	}
	return " | " + strings.Join(parts, " ")
}

func renderScheduleTable(items []store.Schedule) string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		interval, times, enabled, remindStart := "-", "-", "-", "-"
		if item.Recurrence != nil {
			interval = fmt.Sprint(item.Recurrence.IntervalMinutes)
			times = fmt.Sprint(item.Recurrence.Times)
			if item.Recurrence.Enabled {
				enabled = "on"
			} else {
				enabled = "off"
			}
			if item.Recurrence.RemindStartTime != "" {
				remindStart = item.Recurrence.RemindStartTime
			}
		}
		rows = append(rows, []string{
			fmt.Sprint(item.ID),
			item.EventTime,
			fmt.Sprint(item.DurationMinutes),
			item.Tag,
			item.Title,
			orDash(item.RemindAt),
			remindStart,
			interval,
			times,
			enabled,
			item.CreatedAt,
		})
	}
	return display.RenderTable(scheduleTableHeaders, rows)
}
