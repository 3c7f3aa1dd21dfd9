// Package profile maintains the user-profile document: a daily LLM pass
// regenerates the markdown from the current profile plus recent chat turns
// and writes it back, so planning context stays current without manual
// editing.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/harrison/steward/internal/llm"
	"github.com/harrison/steward/internal/logger"
	"github.com/harrison/steward/internal/store"
)

const refreshSystemPrompt = `你是“用户画像维护器”。
目标：基于“当前 user_profile + 最近对话样本”产出一份完整的新 user_profile（Markdown）。

硬性约束（必须遵守）：
1) 仅依据输入信息更新，禁止凭空捏造。
2) 保留稳定且仍然成立的信息；对明显过时或冲突的信息做修订。
3) 若证据不足，不要下结论；可在“待观察”中记录假设。
4) 输出必须是可直接落盘的完整 Markdown 文本，不要输出解释、前后缀、代码块标记。
5) 时间敏感偏好优先参考近 30 天对话中的高频和近期信号。
6) 尽量保持原有 user_profile 的结构与字段命名；若原结构缺失，可补充清晰小节。`

// TurnSource supplies the recent chat turns the refresh reads. *store.Store
// satisfies it.
type TurnSource interface {
	RecentTurns(lookback time.Duration, limit int) ([]store.ChatTurn, error)
}

// Result reports one refresh attempt.
type Result struct {
	OK        bool
	Reason    string
	Profile   string
	UsedTurns int
}

// Config bounds one refresh service.
type Config struct {
	// Path is the profile file to read and rewrite.
	Path string

	// ScheduledHour is the local hour (0..23) the daily refresh runs at.
	ScheduledHour int

	// LookbackDays scopes the chat turns fed into the refresh.
	LookbackDays int

	// MaxTurns caps the turns per refresh.
	MaxTurns int

	// PollInterval is the scheduler tick period.
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ScheduledHour < 0 {
		c.ScheduledHour = 0
	}
	if c.ScheduledHour > 23 {
		c.ScheduledHour = 23
	}
	if c.LookbackDays < 1 {
		c.LookbackDays = 30
	}
	if c.MaxTurns < 1 {
		c.MaxTurns = 10000
	}
	if c.PollInterval < time.Second {
		c.PollInterval = time.Minute
	}
	return c
}

// RefreshService runs the daily profile regeneration. reload, when non-nil,
// receives the new profile text after a successful write so a running engine
// picks it up without restart.
type RefreshService struct {
	turns  TurnSource
	client llm.Client
	reload func(profile string)
	log    *logger.ConsoleLogger
	cfg    Config

	now         func() time.Time
	lastPoll    time.Time
	lastRunDate string
}

// NewRefreshService creates the service. A nil log discards output.
func NewRefreshService(turns TurnSource, client llm.Client, reload func(string), log *logger.ConsoleLogger, cfg Config) *RefreshService {
	if log == nil {
		log = logger.NewConsoleLogger(nil, "info")
	}
	s := &RefreshService{
		turns:  turns,
		client: client,
		reload: reload,
		log:    log,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
	s.lastPoll = s.now()
	return s
}

// SetClock overrides wall-clock time and resets the poll baseline. Test hook.
func (s *RefreshService) SetClock(now func() time.Time) {
	s.now = now
	s.lastPoll = now()
}

// Run polls the schedule until ctx is cancelled.
func (s *RefreshService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.PollScheduled(ctx)
		}
	}
}

// PollScheduled runs the refresh once per day when a poll crosses the
// scheduled hour.
func (s *RefreshService) PollScheduled(ctx context.Context) {
	now := s.now()
	due := s.shouldRunScheduled(now)
	s.lastPoll = now
	if !due {
		return
	}
	s.lastRunDate = now.Format("2006-01-02")
	s.refresh(ctx, "scheduled", now)
}

// RunManual refreshes immediately and returns the new profile text, or the
// reason it did not happen.
func (s *RefreshService) RunManual(ctx context.Context) string {
	result := s.refresh(ctx, "manual", s.now())
	if result.OK {
		return result.Profile
	}
	return result.Reason
}

func (s *RefreshService) shouldRunScheduled(now time.Time) bool {
	if s.lastRunDate == now.Format("2006-01-02") {
		return false
	}
	due := time.Date(now.Year(), now.Month(), now.Day(), s.cfg.ScheduledHour, 0, 0, 0, now.Location())
	if s.lastPoll.After(now) {
		return false
	}
	return s.lastPoll.Before(due) && !due.After(now)
}

func (s *RefreshService) refresh(ctx context.Context, trigger string, now time.Time) Result {
	path := strings.TrimSpace(s.cfg.Path)
	if path == "" {
		return s.skip(trigger, "未配置 user_profile 路径，已跳过 user_profile 刷新。")
	}
	current, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s.skip(trigger, fmt.Sprintf("未找到 user_profile 文件: %s", path))
		}
		return s.fail(trigger, fmt.Sprintf("读取 user_profile 文件失败: %v", err))
	}
	if s.client == nil {
		return s.skip(trigger, "当前未配置 LLM，无法刷新 user_profile。")
	}

	turns, err := s.collectTurns()
	if err != nil {
		return s.fail(trigger, fmt.Sprintf("读取最近对话失败: %v", err))
	}
	if len(turns) == 0 {
		return s.skip(trigger, fmt.Sprintf("最近 %d 天暂无可用对话，已跳过 user_profile 刷新。", s.cfg.LookbackDays))
	}

	messages, err := s.buildMessages(strings.TrimSpace(string(current)), turns, now)
	if err != nil {
		return s.fail(trigger, fmt.Sprintf("构造刷新请求失败: %v", err))
	}
	raw, err := s.client.Complete(ctx, messages)
	if err != nil {
		return s.fail(trigger, fmt.Sprintf("调用 LLM 刷新 user_profile 失败: %v", err))
	}
	refreshed := strings.TrimSpace(raw)
	if refreshed == "" {
		return s.fail(trigger, "LLM 返回空内容，未刷新 user_profile。")
	}

	if err := os.WriteFile(path, []byte(refreshed), 0644); err != nil {
		return s.fail(trigger, fmt.Sprintf("写回 user_profile 文件失败: %v", err))
	}
	if s.reload != nil {
		s.reload(refreshed)
	}

	s.log.Infof("user profile refreshed: trigger=%s turns=%d path=%s", trigger, len(turns), path)
	return Result{
		OK:        true,
		Reason:    fmt.Sprintf("user_profile 刷新成功（使用 %d 条对话）。", len(turns)),
		Profile:   refreshed,
		UsedTurns: len(turns),
	}
}

func (s *RefreshService) collectTurns() ([]store.ChatTurn, error) {
	lookback := time.Duration(s.cfg.LookbackDays) * 24 * time.Hour
	turns, err := s.turns.RecentTurns(lookback, s.cfg.MaxTurns)
	if err != nil {
		return nil, err
	}
	filtered := turns[:0]
	for _, turn := range turns {
		if strings.TrimSpace(turn.UserContent) != "" || strings.TrimSpace(turn.AssistantContent) != "" {
			filtered = append(filtered, turn)
		}
	}
	return filtered, nil
}

type refreshTurn struct {
	CreatedAt        string `json:"created_at"`
	UserContent      string `json:"user_content"`
	AssistantContent string `json:"assistant_content"`
}

type refreshRequest struct {
	Task string `json:"task"`
	Time struct {
		Now        string `json:"now"`
		WindowDays int    `json:"window_days"`
	} `json:"time"`
	Limits struct {
		MaxTurns    int `json:"max_turns"`
		ActualTurns int `json:"actual_turns"`
	} `json:"limits"`
	CurrentUserProfile string        `json:"current_user_profile"`
	ChatTurns          []refreshTurn `json:"chat_turns"`
	OutputRequirements []string      `json:"output_requirements"`
}

func (s *RefreshService) buildMessages(currentProfile string, turns []store.ChatTurn, now time.Time) ([]llm.Message, error) {
	request := refreshRequest{
		Task:               "refresh_user_profile",
		CurrentUserProfile: currentProfile,
		ChatTurns:          make([]refreshTurn, 0, len(turns)),
		OutputRequirements: []string{
			"输出完整新版 user_profile Markdown",
			"不要输出解释文本",
			"若信息不足，保留原有条目并标注待观察",
		},
	}
	request.Time.Now = now.Format(store.TimeLayout)
	request.Time.WindowDays = s.cfg.LookbackDays
	request.Limits.MaxTurns = s.cfg.MaxTurns
	request.Limits.ActualTurns = len(turns)
	for _, turn := range turns {
		request.ChatTurns = append(request.ChatTurns, refreshTurn{
			CreatedAt:        turn.CreatedAt,
			UserContent:      turn.UserContent,
			AssistantContent: turn.AssistantContent,
		})
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}
	return []llm.Message{
		{Role: "system", Content: refreshSystemPrompt},
		{Role: "user", Content: string(body)},
	}, nil
}

func (s *RefreshService) skip(trigger, reason string) Result {
	s.log.Warnf("user profile refresh skipped: trigger=%s %s", trigger, reason)
	return Result{OK: false, Reason: reason}
}

func (s *RefreshService) fail(trigger, reason string) Result {
	s.log.Warnf("user profile refresh failed: trigger=%s %s", trigger, reason)
	return Result{OK: false, Reason: reason}
}
