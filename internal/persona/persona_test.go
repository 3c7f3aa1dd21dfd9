package persona

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/steward/internal/llm"
)

type stubClient struct {
	reply    string
	err      error
	requests [][]llm.Message
}

func (s *stubClient) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	s.requests = append(s.requests, messages)
	return s.reply, s.err
}

func TestRewriteKeepsSceneAndFactsInPayload(t *testing.T) {
	client := &stubClient{reply: "喵～已添加待办 #3（截止 2026-08-25 10:00）"}
	rewriter := NewRewriter(client, "一只说话带喵的猫娘助理", nil)

	got := rewriter.RewriteFinalResponse(context.Background(), "已添加待办 #3（截止 2026-08-25 10:00）")
	assert.Equal(t, "喵～已添加待办 #3（截止 2026-08-25 10:00）", got)

	require.Len(t, client.requests, 1)
	messages := client.requests[0]
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].Role)
	assert.Contains(t, messages[0].Content, "文本风格改写器")

	var payload struct {
		Scene        string   `json:"scene"`
		Persona      string   `json:"persona"`
		Text         string   `json:"text"`
		Requirements []string `json:"requirements"`
	}
	require.NoError(t, json.Unmarshal([]byte(messages[1].Content), &payload))
	assert.Equal(t, "final_response", payload.Scene)
	assert.Equal(t, "一只说话带喵的猫娘助理", payload.Persona)
	assert.Equal(t, "已添加待办 #3（截止 2026-08-25 10:00）", payload.Text)
	assert.Len(t, payload.Requirements, 3)
}

func TestRewriteReminderUsesReminderScene(t *testing.T) {
	client := &stubClient{reply: "喵！待办提醒 #1: 交水电费"}
	rewriter := NewRewriter(client, "猫娘", nil)

	got := rewriter.RewriteReminderContent(context.Background(), "待办提醒 #1: 交水电费")
	assert.Equal(t, "喵！待办提醒 #1: 交水电费", got)

	require.Len(t, client.requests, 1)
	assert.Contains(t, client.requests[0][1].Content, `"scene":"reminder"`)
}

func TestRewriteFallsBackOnFailure(t *testing.T) {
	original := "已删除待办 #2。"

	client := &stubClient{err: errors.New("gateway down")}
	rewriter := NewRewriter(client, "猫娘", nil)
	assert.Equal(t, original, rewriter.RewriteFinalResponse(context.Background(), original))

	client = &stubClient{reply: "   "}
	rewriter = NewRewriter(client, "猫娘", nil)
	assert.Equal(t, original, rewriter.RewriteFinalResponse(context.Background(), original))
}

func TestRewriteDisabledWithoutPersonaOrClient(t *testing.T) {
	client := &stubClient{reply: "should not be called"}
	rewriter := NewRewriter(client, "   ", nil)
	assert.False(t, rewriter.Enabled())
	assert.Equal(t, "原文", rewriter.RewriteFinalResponse(context.Background(), "原文"))
	assert.Empty(t, client.requests)

	rewriter = NewRewriter(nil, "猫娘", nil)
	assert.False(t, rewriter.Enabled())
	assert.Equal(t, "原文", rewriter.RewriteFinalResponse(context.Background(), "原文"))
}

func TestRewriteSkipsBlankText(t *testing.T) {
	client := &stubClient{reply: "x"}
	rewriter := NewRewriter(client, "猫娘", nil)
	assert.Equal(t, "  ", rewriter.RewriteFinalResponse(context.Background(), "  "))
	assert.Empty(t, client.requests)
}
