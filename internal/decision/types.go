// Package decision owns the three decision contracts of the planning loop
// (Plan, Thought, Replan): their prompt texts, their pure normalizers, and
// the retrying Gateway that turns raw model output into validated decisions.
package decision

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrContract marks model output that does not satisfy a decision contract.
// Contract violations are retryable at the Gateway layer and count toward
// the task's consecutive failure budget once retries are exhausted.
var ErrContract = errors.New("decision contract violation")

// Tool names a Thought decision may dispatch to.
const (
	ToolTodo           = "todo"
	ToolSchedule       = "schedule"
	ToolInternetSearch = "internet_search"
	ToolHistorySearch  = "history_search"
)

// Thought decision statuses.
const (
	ThoughtContinue = "continue"
	ThoughtAskUser  = "ask_user"
	ThoughtDone     = "done"
)

// Replan decision statuses.
const (
	ReplanReplanned = "replanned"
	ReplanDone      = "done"
)

// PlanDecision is the one-shot initial plan. Goal, when non-empty, is the
// model's expansion of the user's colloquial request and replaces the task
// goal.
type PlanDecision struct {
	Goal string
	Plan []string
}

// ToolCall is the validated next_action of a continue Thought. Input stays
// raw JSON; the tool executor decodes it against the per-tool schema.
type ToolCall struct {
	Tool  string
	Input json.RawMessage
}

// InputText renders the call input for observations and progress lines: a
// bare JSON string is unquoted, anything else stays as compact JSON.
func (c ToolCall) InputText() string {
	var text string
	if err := json.Unmarshal(c.Input, &text); err == nil {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(string(c.Input))
}

// ThoughtDecision is one inner-loop decision for the current plan item.
// Exactly one of NextAction/Question is set depending on Status; Response
// is only meaningful on done and is consumed by the subsequent Replan, never
// shown to the user directly.
type ThoughtDecision struct {
	Status      string
	CurrentStep string
	NextAction  *ToolCall
	Question    string
	Response    string
}

// PlanItem is one entry of a replanned plan with its completion flag.
type PlanItem struct {
	Task      string `json:"task"`
	Completed bool   `json:"completed"`
}

// ReplanDecision updates the plan after a subtask completes, or collapses
// the task with a final response.
type ReplanDecision struct {
	Status   string
	Plan     []PlanItem
	Response string
}
