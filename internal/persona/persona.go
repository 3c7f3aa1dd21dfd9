// Package persona restyles user-facing text into a configured persona voice.
// The rewriter is a pure post-processing pass: it must preserve every fact,
// number, id and conclusion of the input, and any failure falls back to the
// original text so replies are never lost to a styling call.
package persona

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/harrison/steward/internal/llm"
	"github.com/harrison/steward/internal/logger"
)

const rewriteSystemPrompt = `你是一个“文本风格改写器”。
任务：把输入文本改写成指定人物风格，但必须严格保留原始事实信息。

硬性约束（必须遵守）：
1. 不新增、不删除、不篡改事实。
2. 不改变时间、日期、数字、ID、命令、实体名称。
3. 不改变任务结论与执行状态。
4. 不输出解释、分析、前后缀说明，只输出最终改写文本。`

type rewriteRequest struct {
	Scene        string   `json:"scene"`
	Persona      string   `json:"persona"`
	Text         string   `json:"text"`
	Requirements []string `json:"requirements"`
}

var rewriteRequirements = []string{
	"保持原文语言",
	"可润色语气与表达顺序，但不得改变事实内容",
	"输出长度控制在原文的 0.7~1.3 倍",
}

// Rewriter restyles text through the LLM client. One rewrite runs at a time.
type Rewriter struct {
	client  llm.Client
	persona string
	log     *logger.ConsoleLogger
	mu      sync.Mutex
}

// NewRewriter creates a rewriter for the given persona description. An empty
// persona or nil client disables rewriting.
func NewRewriter(client llm.Client, personaText string, log *logger.ConsoleLogger) *Rewriter {
	if log == nil {
		log = logger.NewConsoleLogger(nil, "info")
	}
	return &Rewriter{client: client, persona: strings.TrimSpace(personaText), log: log}
}

// Enabled reports whether rewriting would do anything.
func (r *Rewriter) Enabled() bool {
	return r != nil && r.client != nil && r.persona != ""
}

// RewriteFinalResponse restyles a completed task's final reply.
func (r *Rewriter) RewriteFinalResponse(ctx context.Context, text string) string {
	return r.rewrite(ctx, "final_response", text)
}

// RewriteReminderContent restyles a reminder delivery line.
func (r *Rewriter) RewriteReminderContent(ctx context.Context, text string) string {
	return r.rewrite(ctx, "reminder", text)
}

func (r *Rewriter) rewrite(ctx context.Context, scene, text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || !r.Enabled() {
		return text
	}

	body, err := json.Marshal(rewriteRequest{
		Scene:        scene,
		Persona:      r.persona,
		Text:         trimmed,
		Requirements: rewriteRequirements,
	})
	if err != nil {
		return text
	}
	messages := []llm.Message{
		{Role: "system", Content: rewriteSystemPrompt},
		{Role: "user", Content: string(body)},
	}

	r.mu.Lock()
	raw, err := r.client.Complete(ctx, messages)
	r.mu.Unlock()
	if err != nil {
		r.log.Warnf("persona rewrite (%s): %v", scene, err)
		return text
	}
	rewritten := strings.TrimSpace(raw)
	if rewritten == "" {
		return text
	}
	return rewritten
}
