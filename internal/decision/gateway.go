package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/harrison/steward/internal/llm"
	"github.com/harrison/steward/internal/logger"
)

// Turn is one clarification exchange entry: an assistant question or the
// user's answer.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Clarification roles.
const (
	RoleAssistantQuestion = "assistant_question"
	RoleUserAnswer        = "user_answer"
)

// CompletedSubtask pairs a finished plan item with its merged result text,
// surfaced to Plan/Replan so progress is never re-derived from raw
// observations.
type CompletedSubtask struct {
	Item   string `json:"item"`
	Result string `json:"result"`
}

// ContextObservation is the serialized form of one tool observation handed
// back to the Thought prompt.
type ContextObservation struct {
	Tool   string `json:"tool"`
	Input  string `json:"input"`
	OK     bool   `json:"ok"`
	Result string `json:"result"`
}

// Subtask identifies the plan item a Thought decision must advance.
type Subtask struct {
	Item  string `json:"item"`
	Index *int   `json:"index"`
	Total *int   `json:"total"`
}

// PlanContext is the request payload of Plan and Replan decisions.
type PlanContext struct {
	Goal                 string             `json:"goal"`
	ClarificationHistory []Turn             `json:"clarification_history"`
	StepCount            int                `json:"step_count"`
	MaxSteps             int                `json:"max_steps"`
	LatestPlan           []PlanItem         `json:"latest_plan"`
	CurrentPlanIndex     int                `json:"current_plan_index"`
	CompletedSubtasks    []CompletedSubtask `json:"completed_subtasks"`
	UserProfile          string             `json:"user_profile,omitempty"`
	Time                 string             `json:"time"`
	Phase                string             `json:"phase"`
	CurrentPlanItem      string             `json:"current_plan_item,omitempty"`
	PendingFinalResponse string             `json:"pending_final_response,omitempty"`
}

// ThoughtContext is the request payload of Thought decisions, scoped to the
// current subtask.
type ThoughtContext struct {
	ClarificationHistory []Turn               `json:"clarification_history"`
	StepCount            int                  `json:"step_count"`
	MaxSteps             int                  `json:"max_steps"`
	CurrentSubtask       Subtask              `json:"current_subtask"`
	CompletedSubtasks    []CompletedSubtask   `json:"completed_subtasks"`
	Observations         []ContextObservation `json:"current_subtask_observations"`
	UserProfile          string               `json:"user_profile,omitempty"`
	Time                 string               `json:"time"`
	Phase                string               `json:"phase"`
}

// Exchange is the request payload and raw reply of one successful decision,
// replayed into subsequent Plan/Replan calls as conversation history.
type Exchange struct {
	Request  string
	Response string
}

// Gateway issues decisions against an llm.Client with per-decision retry.
// One Gateway call is one decision attempt from the loop's point of view;
// contract retries inside a call do not consume additional budget. Every
// request/response pair is captured by the trace logger.
type Gateway struct {
	client     llm.Client
	retryCount int
	trace      *logger.TraceLogger
	now        func() time.Time
}

// NewGateway wraps client with retryCount extra attempts per decision.
func NewGateway(client llm.Client, retryCount int, trace *logger.TraceLogger) *Gateway {
	if retryCount < 0 {
		retryCount = 0
	}
	return &Gateway{client: client, retryCount: retryCount, trace: trace, now: time.Now}
}

// SetClock overrides the context timestamp source. Test hook.
func (g *Gateway) SetClock(now func() time.Time) {
	g.now = now
}

// Timestamp returns the wall-clock string embedded in decision contexts.
func (g *Gateway) Timestamp() string {
	return g.now().Format("2006-01-02 15:04")
}

// Plan issues the one-shot Plan decision. history carries recent chat turns
// as plain messages between the system prompt and the context payload.
func (g *Gateway) Plan(ctx context.Context, history []llm.Message, pc PlanContext) (*PlanDecision, Exchange, error) {
	pc.Phase = "plan"
	pc.Time = g.Timestamp()
	messages, err := buildMessages(planPrompt, history, pc)
	if err != nil {
		return nil, Exchange{}, err
	}
	raw, err := g.invoke(ctx, "plan", messages, func(raw string) error {
		_, normErr := NormalizePlan(raw)
		return normErr
	})
	if err != nil {
		return nil, Exchange{}, err
	}
	parsed, err := NormalizePlan(raw)
	if err != nil {
		return nil, Exchange{}, err
	}
	return parsed, Exchange{Request: messages[len(messages)-1].Content, Response: raw}, nil
}

// Thought issues one inner-loop decision for the current subtask.
func (g *Gateway) Thought(ctx context.Context, history []llm.Message, tc ThoughtContext) (*ThoughtDecision, error) {
	tc.Phase = "thought"
	tc.Time = g.Timestamp()
	messages, err := buildMessages(thoughtPrompt, history, tc)
	if err != nil {
		return nil, err
	}
	raw, err := g.invoke(ctx, "thought", messages, func(raw string) error {
		_, normErr := NormalizeThought(raw)
		return normErr
	})
	if err != nil {
		return nil, err
	}
	return NormalizeThought(raw)
}

// Replan issues the outer-loop plan update after a subtask completes.
func (g *Gateway) Replan(ctx context.Context, history []llm.Message, pc PlanContext) (*ReplanDecision, Exchange, error) {
	pc.Phase = "replan"
	pc.Time = g.Timestamp()
	messages, err := buildMessages(replanPrompt, history, pc)
	if err != nil {
		return nil, Exchange{}, err
	}
	raw, err := g.invoke(ctx, "replan", messages, func(raw string) error {
		_, normErr := NormalizeReplan(raw)
		return normErr
	})
	if err != nil {
		return nil, Exchange{}, err
	}
	parsed, err := NormalizeReplan(raw)
	if err != nil {
		return nil, Exchange{}, err
	}
	return parsed, Exchange{Request: messages[len(messages)-1].Content, Response: raw}, nil
}

func buildMessages(systemPrompt string, history []llm.Message, payload interface{}) ([]llm.Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode decision context: %w", err)
	}
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: string(body)})
	return messages, nil
}

// invoke runs the retry loop: gateway failures and contract violations both
// consume an attempt. The last raw reply that passed validation is returned;
// exhaustion surfaces the final error wrapped with the attempt count.
func (g *Gateway) invoke(ctx context.Context, phase string, messages []llm.Message, validate func(string) error) (string, error) {
	maxAttempts := 1 + g.retryCount
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		callID := g.trace.NextCallID()
		g.trace.Log(logger.TraceEvent{
			Event:       "llm_request",
			CallID:      callID,
			Phase:       phase,
			Attempt:     attempt,
			MaxAttempts: maxAttempts,
			Messages:    messages,
		})
		raw, err := g.client.Complete(ctx, messages)
		if err != nil {
			g.trace.Log(logger.TraceEvent{
				Event:   "llm_response_error",
				CallID:  callID,
				Phase:   phase,
				Attempt: attempt,
				Error:   err.Error(),
			})
			lastErr = err
			continue
		}
		g.trace.Log(logger.TraceEvent{
			Event:    "llm_response",
			CallID:   callID,
			Phase:    phase,
			Attempt:  attempt,
			Response: raw,
		})
		if err := validate(raw); err != nil {
			lastErr = err
			continue
		}
		return raw, nil
	}
	return "", fmt.Errorf("%s decision failed after %d attempts: %w", phase, maxAttempts, lastErr)
}
