package profile

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/steward/internal/llm"
	"github.com/harrison/steward/internal/store"
)

type stubTurns struct {
	turns []store.ChatTurn
	err   error
}

func (s *stubTurns) RecentTurns(lookback time.Duration, limit int) ([]store.ChatTurn, error) {
	return s.turns, s.err
}

type stubClient struct {
	reply    string
	err      error
	requests [][]llm.Message
}

func (s *stubClient) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	s.requests = append(s.requests, messages)
	return s.reply, s.err
}

func writeProfileFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "user_profile.md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func sampleTurns() []store.ChatTurn {
	return []store.ChatTurn{
		{ID: 1, UserContent: "明天提醒我交房租", AssistantContent: "已添加待办 #3", CreatedAt: "2026-08-22 09:00"},
		{ID: 2, UserContent: "  ", AssistantContent: "", CreatedAt: "2026-08-22 09:05"},
		{ID: 3, UserContent: "我最近在学吉他", AssistantContent: "已记录", CreatedAt: "2026-08-22 21:00"},
	}
}

func TestManualRefreshWritesFileAndReloads(t *testing.T) {
	path := writeProfileFile(t, "# 用户画像\n- 喜欢早起")
	client := &stubClient{reply: "# 用户画像\n- 喜欢早起\n- 在学吉他"}
	var reloaded string
	svc := NewRefreshService(&stubTurns{turns: sampleTurns()}, client, func(p string) { reloaded = p }, nil, Config{Path: path})

	got := svc.RunManual(context.Background())
	assert.Equal(t, "# 用户画像\n- 喜欢早起\n- 在学吉他", got)
	assert.Equal(t, got, reloaded)

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, got, string(written))

	require.Len(t, client.requests, 1)
	messages := client.requests[0]
	require.Len(t, messages, 2)
	assert.Contains(t, messages[0].Content, "用户画像维护器")

	var payload struct {
		Task   string `json:"task"`
		Limits struct {
			MaxTurns    int `json:"max_turns"`
			ActualTurns int `json:"actual_turns"`
		} `json:"limits"`
		CurrentUserProfile string `json:"current_user_profile"`
		ChatTurns          []struct {
			UserContent string `json:"user_content"`
		} `json:"chat_turns"`
	}
	require.NoError(t, json.Unmarshal([]byte(messages[1].Content), &payload))
	assert.Equal(t, "refresh_user_profile", payload.Task)
	assert.Equal(t, "# 用户画像\n- 喜欢早起", payload.CurrentUserProfile)
	// blank turn filtered out
	assert.Equal(t, 2, payload.Limits.ActualTurns)
	require.Len(t, payload.ChatTurns, 2)
	assert.Equal(t, "明天提醒我交房租", payload.ChatTurns[0].UserContent)
}

func TestManualRefreshSkipsWithoutTurns(t *testing.T) {
	path := writeProfileFile(t, "# 用户画像")
	client := &stubClient{reply: "should not run"}
	svc := NewRefreshService(&stubTurns{}, client, nil, nil, Config{Path: path})

	got := svc.RunManual(context.Background())
	assert.Contains(t, got, "暂无可用对话")
	assert.Empty(t, client.requests)
}

func TestManualRefreshSkipsMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.md")
	client := &stubClient{reply: "should not run"}
	svc := NewRefreshService(&stubTurns{turns: sampleTurns()}, client, nil, nil, Config{Path: missing})

	got := svc.RunManual(context.Background())
	assert.Contains(t, got, "未找到 user_profile 文件")
	assert.Empty(t, client.requests)
}

func TestManualRefreshSkipsWithoutPath(t *testing.T) {
	svc := NewRefreshService(&stubTurns{turns: sampleTurns()}, &stubClient{}, nil, nil, Config{})
	got := svc.RunManual(context.Background())
	assert.Contains(t, got, "未配置 user_profile 路径")
}

func TestManualRefreshKeepsFileOnLLMError(t *testing.T) {
	path := writeProfileFile(t, "# 用户画像")
	svc := NewRefreshService(&stubTurns{turns: sampleTurns()}, &stubClient{err: errors.New("gateway down")}, nil, nil, Config{Path: path})

	got := svc.RunManual(context.Background())
	assert.Contains(t, got, "调用 LLM 刷新 user_profile 失败")

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# 用户画像", string(written))
}

func TestManualRefreshKeepsFileOnEmptyReply(t *testing.T) {
	path := writeProfileFile(t, "# 用户画像")
	svc := NewRefreshService(&stubTurns{turns: sampleTurns()}, &stubClient{reply: "  \n "}, nil, nil, Config{Path: path})

	got := svc.RunManual(context.Background())
	assert.Contains(t, got, "LLM 返回空内容")

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# 用户画像", string(written))
}

func TestScheduledRefreshRunsOncePerDay(t *testing.T) {
	path := writeProfileFile(t, "# 用户画像")
	client := &stubClient{reply: "# 用户画像 v2"}
	svc := NewRefreshService(&stubTurns{turns: sampleTurns()}, client, nil, nil, Config{Path: path, ScheduledHour: 4})

	day := time.Date(2026, 8, 23, 0, 0, 0, 0, time.Local)
	current := day.Add(3 * time.Hour)
	svc.SetClock(func() time.Time { return current })

	// Before the scheduled hour.
	current = day.Add(3*time.Hour + 30*time.Minute)
	svc.PollScheduled(context.Background())
	assert.Empty(t, client.requests)

	// Crossing the scheduled hour runs once.
	current = day.Add(4*time.Hour + time.Minute)
	svc.PollScheduled(context.Background())
	assert.Len(t, client.requests, 1)

	// Later polls the same day do not run again.
	current = day.Add(10 * time.Hour)
	svc.PollScheduled(context.Background())
	assert.Len(t, client.requests, 1)

	// The next day's crossing runs again.
	current = day.Add(24 * time.Hour)
	svc.PollScheduled(context.Background())
	current = day.Add(24*time.Hour + 4*time.Hour + time.Minute)
	svc.PollScheduled(context.Background())
	assert.Len(t, client.requests, 2)
}

func TestScheduledRefreshResetsOnClockRewind(t *testing.T) {
	path := writeProfileFile(t, "# 用户画像")
	client := &stubClient{reply: "# 用户画像 v2"}
	svc := NewRefreshService(&stubTurns{turns: sampleTurns()}, client, nil, nil, Config{Path: path, ScheduledHour: 4})

	current := time.Date(2026, 8, 23, 10, 0, 0, 0, time.Local)
	svc.SetClock(func() time.Time { return current })

	// Clock moved backwards across the scheduled hour: skip, re-baseline.
	current = time.Date(2026, 8, 23, 3, 0, 0, 0, time.Local)
	svc.PollScheduled(context.Background())
	assert.Empty(t, client.requests)

	current = time.Date(2026, 8, 23, 4, 30, 0, 0, time.Local)
	svc.PollScheduled(context.Background())
	assert.Len(t, client.requests, 1)
}
