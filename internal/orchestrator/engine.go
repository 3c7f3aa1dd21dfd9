// Package orchestrator drives one natural-language goal through the
// Plan → Thought → Act/Observe → Replan loop under a hard step budget. The
// Engine owns one task slot per conversation context: a submission either
// runs its task to a terminal outcome or suspends it on a clarification
// question, and the next submission for that context resumes it. No internal
// error crosses Submit; every outcome is a user-facing Result.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/harrison/steward/internal/decision"
	"github.com/harrison/steward/internal/llm"
	"github.com/harrison/steward/internal/store"
	"github.com/harrison/steward/internal/task"
)

// ResultKind classifies one submission's outcome.
type ResultKind int

const (
	// ResultFinal carries the task's terminal reply: success, structured
	// step-limit fallback, or the fixed unavailable text.
	ResultFinal ResultKind = iota
	// ResultClarification suspends the task on a question for the user.
	ResultClarification
	// ResultCancelled acknowledges an explicit cancellation.
	ResultCancelled
	// ResultNothingToCancel answers a cancellation with no active task.
	ResultNothingToCancel
)

// Result is the user-facing outcome of one Submit call.
type Result struct {
	Kind ResultKind
	Text string
}

// EventListener receives progress lines while a task runs. Implementations
// must not block: the loop calls them inline.
type EventListener interface {
	Progress(contextID, text string)
}

// ListenerFunc adapts a function to EventListener.
type ListenerFunc func(contextID, text string)

// Progress implements EventListener.
func (f ListenerFunc) Progress(contextID, text string) { f(contextID, text) }

// NopListener discards progress events.
type NopListener struct{}

// Progress implements EventListener.
func (NopListener) Progress(string, string) {}

// ResponseRewriter restyles a completed task's final reply. Implementations
// must return the input text unchanged on any failure.
type ResponseRewriter interface {
	RewriteFinalResponse(ctx context.Context, text string) string
}

// ToolRunner executes one validated tool call. *tools.Executor satisfies it.
type ToolRunner interface {
	Execute(ctx context.Context, call decision.ToolCall) (bool, string)
}

// TurnHistory persists chat turns and replays recent ones into new tasks.
// *store.Store satisfies it.
type TurnHistory interface {
	RecentTurns(lookback time.Duration, limit int) ([]store.ChatTurn, error)
	SaveTurn(userContent, assistantContent string) error
}

// Config bounds one Engine's tasks.
type Config struct {
	// MaxSteps is the hard budget: every Thought call, Replan call, and
	// executed tool action consumes one step; Plan and suspensions do not.
	MaxSteps int

	// FailureLimit is the consecutive Thought/Replan failure threshold
	// that collapses the task to the unavailable text. It also bounds
	// repeated re-asks of an answered clarification question.
	FailureLimit int

	// MaxClarifications caps total questions one task may ask.
	MaxClarifications int

	// CancelPhrase is matched verbatim against the submitted text.
	CancelPhrase string

	// ObservationChars / ObservationCount bound retained observations.
	ObservationChars int
	ObservationCount int

	// HistoryLookback / HistoryLimit scope the chat turns replayed into a
	// new task's decision conversation.
	HistoryLookback time.Duration
	HistoryLimit    int

	// UserProfile is free-form text forwarded in decision contexts.
	UserProfile string

	// Rewriter optionally restyles final replies of completed tasks.
	Rewriter ResponseRewriter
}

func (c Config) withDefaults() Config {
	if c.MaxSteps < 1 {
		c.MaxSteps = 20
	}
	if c.FailureLimit < 1 {
		c.FailureLimit = 2
	}
	if c.MaxClarifications < 1 {
		c.MaxClarifications = 6
	}
	if c.CancelPhrase == "" {
		c.CancelPhrase = "取消当前任务"
	}
	if c.ObservationChars < 1 {
		c.ObservationChars = 10000
	}
	if c.ObservationCount < 1 {
		c.ObservationCount = 100
	}
	if c.HistoryLookback <= 0 {
		c.HistoryLookback = 24 * time.Hour
	}
	if c.HistoryLimit < 1 {
		c.HistoryLimit = 50
	}
	return c
}

// Engine runs one task at a time per conversation context.
type Engine struct {
	gateway  *decision.Gateway
	tools    ToolRunner
	history  TurnHistory
	listener EventListener
	cfg      Config

	mu      sync.Mutex
	pending map[string]*task.State

	profileMu sync.RWMutex
	profile   string
}

// NewEngine wires the loop's collaborators. history may be nil, in which
// case tasks start without replayed chat turns and finished turns are not
// persisted.
func NewEngine(gateway *decision.Gateway, tools ToolRunner, history TurnHistory, listener EventListener, cfg Config) *Engine {
	if listener == nil {
		listener = NopListener{}
	}
	return &Engine{
		gateway:  gateway,
		tools:    tools,
		history:  history,
		listener: listener,
		cfg:      cfg.withDefaults(),
		pending:  make(map[string]*task.State),
		profile:  strings.TrimSpace(cfg.UserProfile),
	}
}

// SetUserProfile replaces the profile text injected into decision contexts.
// Safe to call while tasks run; in-flight decisions keep the text they were
// built with.
func (e *Engine) SetUserProfile(text string) {
	e.profileMu.Lock()
	e.profile = strings.TrimSpace(text)
	e.profileMu.Unlock()
}

func (e *Engine) userProfile() string {
	e.profileMu.RLock()
	defer e.profileMu.RUnlock()
	return e.profile
}

// Submit runs text against the context's task slot: the cancel phrase clears
// the slot, an answer resumes a suspended task, and anything else starts a
// new task. The call returns when the task terminates or suspends.
func (e *Engine) Submit(ctx context.Context, contextID, text string) Result {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{Kind: ResultFinal, Text: "请输入内容。"}
	}

	if text == e.cfg.CancelPhrase {
		if e.takePending(contextID) == nil {
			return Result{Kind: ResultNothingToCancel, Text: "当前没有进行中的任务。"}
		}
		return Result{Kind: ResultCancelled, Text: "已取消当前任务。"}
	}

	st := e.takePending(contextID)
	if st != nil {
		st.AppendAnswer(text)
	} else {
		st = task.New(text, task.Limits{
			ObservationChars: e.cfg.ObservationChars,
			ObservationCount: e.cfg.ObservationCount,
		})
		st.History = e.recentHistory()
	}

	result := e.run(ctx, contextID, st)
	if result.Kind == ResultClarification {
		e.putPending(contextID, st)
	}
	e.saveTurn(text, result.Text)
	return result
}

// HasPendingTask reports whether the context has a suspended task.
func (e *Engine) HasPendingTask(contextID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending[contextID] != nil
}

func (e *Engine) takePending(contextID string) *task.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.pending[contextID]
	delete(e.pending, contextID)
	return st
}

func (e *Engine) putPending(contextID string, st *task.State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[contextID] = st
}

// recentHistory replays the recent chat turns as plain messages so plan and
// replan decisions see the surrounding conversation.
func (e *Engine) recentHistory() []llm.Message {
	if e.history == nil {
		return nil
	}
	turns, err := e.history.RecentTurns(e.cfg.HistoryLookback, e.cfg.HistoryLimit)
	if err != nil {
		return nil
	}
	messages := make([]llm.Message, 0, len(turns)*2)
	for _, turn := range turns {
		if strings.TrimSpace(turn.UserContent) != "" {
			messages = append(messages, llm.Message{Role: "user", Content: turn.UserContent})
		}
		if strings.TrimSpace(turn.AssistantContent) != "" {
			messages = append(messages, llm.Message{Role: "assistant", Content: turn.AssistantContent})
		}
	}
	return messages
}

func (e *Engine) saveTurn(userText, assistantText string) {
	if e.history == nil || assistantText == "" {
		return
	}
	// Persistence failures never affect the reply.
	_ = e.history.SaveTurn(userText, assistantText)
}

func (e *Engine) progress(contextID, text string) {
	e.listener.Progress(contextID, text)
}
