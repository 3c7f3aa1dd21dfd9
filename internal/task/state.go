// Package task holds the mutable record of one in-flight orchestration:
// goal, plan, cursor, observations, counters, and clarification state. The
// orchestration loop owns a State exclusively for its lifetime; nothing here
// performs I/O.
package task

import (
	"strings"

	"github.com/google/uuid"

	"github.com/harrison/steward/internal/decision"
	"github.com/harrison/steward/internal/llm"
)

// Observation records one executed action's bounded outcome.
type Observation struct {
	Tool   string
	Input  string
	OK     bool
	Result string
}

// Limits bounds retained observation data so long tasks cannot grow the
// decision context without bound.
type Limits struct {
	// ObservationChars caps each observation result.
	ObservationChars int

	// ObservationCount caps the retained observation history; oldest
	// entries are dropped first.
	ObservationCount int
}

// State is one task's full orchestration record.
type State struct {
	ID   string
	Goal string

	PlanItems       []decision.PlanItem
	Cursor          int
	PlanInitialized bool
	NeedsReplan     bool

	AwaitingClarification bool
	PendingQuestion       string
	ClarificationHistory  []decision.Turn

	// History carries the conversational messages (recent chat turns plus
	// decision request/response pairs) replayed to every decision.
	History []llm.Message

	Observations      []Observation
	CompletedSubtasks []decision.CompletedSubtask

	StepCount       int
	SuccessfulSteps int
	FailedSteps     int

	ConsecutiveDecisionFailures int

	// Repeat-question guard state.
	LastQuestion            string
	LastQuestionAnsweredLen int
	QuestionRepeatCount     int

	PendingFinalResponse string

	limits Limits
	// subtaskMark is the index in Observations where the current subtask's
	// observations begin.
	subtaskMark int
}

// New creates the State for a fresh goal.
func New(goal string, limits Limits) *State {
	if limits.ObservationChars < 1 {
		limits.ObservationChars = 1
	}
	if limits.ObservationCount < 1 {
		limits.ObservationCount = 1
	}
	return &State{
		ID:     uuid.NewString(),
		Goal:   strings.TrimSpace(goal),
		limits: limits,
	}
}

// TruncateResult caps text at the observation char limit.
func (s *State) TruncateResult(text string) string {
	return truncate(text, s.limits.ObservationChars)
}

func truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	cut := limit - 3
	if cut < 0 {
		cut = 0
	}
	return string(runes[:cut]) + "..."
}

// AppendObservation bounds the result, appends, and evicts the oldest
// entries past the history cap. Returns the stored form.
func (s *State) AppendObservation(obs Observation) Observation {
	obs.Result = s.TruncateResult(obs.Result)
	s.Observations = append(s.Observations, obs)
	if overflow := len(s.Observations) - s.limits.ObservationCount; overflow > 0 {
		s.Observations = s.Observations[overflow:]
		s.subtaskMark -= overflow
		if s.subtaskMark < 0 {
			s.subtaskMark = 0
		}
	}
	return obs
}

// BeginSubtask marks the start of a new inner thought/act/observe cycle.
func (s *State) BeginSubtask() {
	s.subtaskMark = len(s.Observations)
}

// SubtaskObservations returns the observations of the current subtask only.
func (s *State) SubtaskObservations() []Observation {
	if s.subtaskMark >= len(s.Observations) {
		return nil
	}
	return s.Observations[s.subtaskMark:]
}

// SetPlan replaces the plan wholesale and re-derives the cursor.
func (s *State) SetPlan(items []decision.PlanItem) {
	s.PlanItems = items
	s.Cursor = 0
	s.SyncCursor()
}

// CurrentPlanItem returns the description under the cursor, or "" when the
// cursor sits past the last item.
func (s *State) CurrentPlanItem() string {
	if s.Cursor < 0 || s.Cursor >= len(s.PlanItems) {
		return ""
	}
	return s.PlanItems[s.Cursor].Task
}

// SyncCursor moves the cursor to the first uncompleted item at or after its
// current position, wrapping to the front before giving up. A fully
// completed plan parks the cursor at len(PlanItems).
func (s *State) SyncCursor() {
	if len(s.PlanItems) == 0 {
		s.Cursor = 0
		return
	}
	start := s.Cursor
	if start < 0 {
		start = 0
	}
	if start > len(s.PlanItems) {
		start = len(s.PlanItems)
	}
	for i := start; i < len(s.PlanItems); i++ {
		if !s.PlanItems[i].Completed {
			s.Cursor = i
			return
		}
	}
	for i := range s.PlanItems {
		if !s.PlanItems[i].Completed {
			s.Cursor = i
			return
		}
	}
	s.Cursor = len(s.PlanItems)
}

// CompleteCurrentItem marks the item under the cursor done and advances.
func (s *State) CompleteCurrentItem() {
	if len(s.PlanItems) == 0 {
		return
	}
	if s.Cursor >= 0 && s.Cursor < len(s.PlanItems) {
		s.PlanItems[s.Cursor].Completed = true
	}
	s.Cursor++
	if s.Cursor > len(s.PlanItems) {
		s.Cursor = len(s.PlanItems)
	}
	s.SyncCursor()
}

// AddCompletedSubtask records a finished plan item with its merged result.
func (s *State) AddCompletedSubtask(item, result string) {
	item = strings.TrimSpace(item)
	if item == "" {
		item = "当前子任务"
	}
	result = strings.TrimSpace(result)
	if result == "" {
		result = "子任务已完成。"
	}
	s.CompletedSubtasks = append(s.CompletedSubtasks, decision.CompletedSubtask{
		Item:   item,
		Result: s.TruncateResult(result),
	})
}

// LatestSuccessResult returns the most recent ok tool observation, skipping
// decision-phase records.
func (s *State) LatestSuccessResult() string {
	for i := len(s.Observations) - 1; i >= 0; i-- {
		obs := s.Observations[i]
		if obs.OK && !isDecisionPhase(obs.Tool) {
			return obs.Result
		}
	}
	return ""
}

func isDecisionPhase(tool string) bool {
	switch tool {
	case "plan", "thought", "replan":
		return true
	}
	return false
}

// AppendQuestion records an outgoing clarification question and arms the
// repeat guard.
func (s *State) AppendQuestion(question string) {
	s.QuestionRepeatCount = 0
	s.LastQuestion = question
	s.LastQuestionAnsweredLen = len(s.ClarificationHistory)
	s.ClarificationHistory = append(s.ClarificationHistory, decision.Turn{
		Role:    decision.RoleAssistantQuestion,
		Content: question,
	})
	s.AwaitingClarification = true
	s.PendingQuestion = question
}

// AppendAnswer records the user's clarification answer and resumes the task.
// Resumption always forces a Replan so the plan can absorb the new
// information.
func (s *State) AppendAnswer(answer string) {
	s.ClarificationHistory = append(s.ClarificationHistory, decision.Turn{
		Role:    decision.RoleUserAnswer,
		Content: answer,
	})
	s.AwaitingClarification = false
	s.PendingQuestion = ""
	s.NeedsReplan = true
}

// IsRepeatQuestion reports whether question re-asks what the user already
// answered since it was last posed.
func (s *State) IsRepeatQuestion(question string) bool {
	if s.LastQuestion == "" {
		return false
	}
	if len(s.ClarificationHistory) <= s.LastQuestionAnsweredLen {
		return false
	}
	return sameQuestionText(s.LastQuestion, question)
}

var questionPunct = strings.NewReplacer(
	"，", "", "。", "", "！", "", "？", "", "；", "", "：", "", "、", "",
	",", "", ".", "", "!", "", "?", "", ";", "", ":", "",
)

func sameQuestionText(previous, current string) bool {
	a := normalizeQuestionText(previous)
	b := normalizeQuestionText(current)
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.Contains(a, b) || strings.Contains(b, a)
}

func normalizeQuestionText(text string) string {
	lowered := strings.ToLower(strings.TrimSpace(text))
	lowered = strings.Join(strings.Fields(lowered), "")
	return questionPunct.Replace(lowered)
}

// QuestionTurns counts how many clarification questions this task has asked.
func (s *State) QuestionTurns() int {
	count := 0
	for _, turn := range s.ClarificationHistory {
		if turn.Role == decision.RoleAssistantQuestion {
			count++
		}
	}
	return count
}

// AppendHistory adds a decision request/response pair to the replayed
// conversation.
func (s *State) AppendHistory(userContent, assistantContent string) {
	s.History = append(s.History,
		llm.Message{Role: "user", Content: userContent},
		llm.Message{Role: "assistant", Content: assistantContent},
	)
}
