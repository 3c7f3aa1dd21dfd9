package decision

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var thinkBlockPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// extractJSON strips reasoning blocks and markdown fences from raw model
// output and returns the outermost JSON object, or "" when none is present.
func extractJSON(raw string) string {
	cleaned := thinkBlockPattern.ReplaceAllString(raw, "")
	cleaned = strings.TrimSpace(cleaned)
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end < start {
		return ""
	}
	return cleaned[start : end+1]
}

func decodePayload(raw string, out interface{}) error {
	payload := extractJSON(raw)
	if payload == "" {
		return fmt.Errorf("%w: output contains no JSON object", ErrContract)
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return fmt.Errorf("%w: %v", ErrContract, err)
	}
	return nil
}

func normalizeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

// NormalizePlan validates raw model output against the Plan contract.
// Pure: identical input always yields an identical decision or failure.
func NormalizePlan(raw string) (*PlanDecision, error) {
	var body struct {
		Status string   `json:"status"`
		Goal   string   `json:"goal"`
		Plan   []string `json:"plan"`
	}
	if err := decodePayload(raw, &body); err != nil {
		return nil, err
	}
	if normalizeStatus(body.Status) != "planned" {
		return nil, fmt.Errorf("%w: plan status must be planned, got %q", ErrContract, body.Status)
	}
	items := make([]string, 0, len(body.Plan))
	for _, item := range body.Plan {
		if text := strings.TrimSpace(item); text != "" {
			items = append(items, text)
		}
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: plan must contain at least one step", ErrContract)
	}
	return &PlanDecision{Goal: strings.TrimSpace(body.Goal), Plan: items}, nil
}

func validToolName(tool string) bool {
	switch tool {
	case ToolTodo, ToolSchedule, ToolInternetSearch, ToolHistorySearch:
		return true
	}
	return false
}

func rawInputEmpty(input json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(input))
	if trimmed == "" || trimmed == "null" {
		return true
	}
	var text string
	if err := json.Unmarshal(input, &text); err == nil {
		return strings.TrimSpace(text) == ""
	}
	return false
}

// NormalizeThought validates raw model output against the Thought contract
// and its field-presence matrix.
func NormalizeThought(raw string) (*ThoughtDecision, error) {
	var body struct {
		Status      string `json:"status"`
		CurrentStep string `json:"current_step"`
		NextAction  *struct {
			Tool  string          `json:"tool"`
			Input json.RawMessage `json:"input"`
		} `json:"next_action"`
		Question string          `json:"question"`
		Response string          `json:"response"`
		Plan     json.RawMessage `json:"plan"`
	}
	if err := decodePayload(raw, &body); err != nil {
		return nil, err
	}

	currentStep := strings.TrimSpace(body.CurrentStep)
	if currentStep == "" && len(body.Plan) > 0 {
		// Some models echo the plan instead of naming the step.
		var planItems []string
		if json.Unmarshal(body.Plan, &planItems) == nil {
			for _, item := range planItems {
				if text := strings.TrimSpace(item); text != "" {
					currentStep = text
					break
				}
			}
		}
	}

	switch normalizeStatus(body.Status) {
	case ThoughtContinue:
		if body.NextAction == nil {
			return nil, fmt.Errorf("%w: continue requires next_action", ErrContract)
		}
		tool := strings.ToLower(strings.TrimSpace(body.NextAction.Tool))
		if !validToolName(tool) {
			return nil, fmt.Errorf("%w: unknown tool %q", ErrContract, body.NextAction.Tool)
		}
		if rawInputEmpty(body.NextAction.Input) {
			return nil, fmt.Errorf("%w: continue requires a non-empty tool input", ErrContract)
		}
		if strings.TrimSpace(body.Question) != "" {
			return nil, fmt.Errorf("%w: continue must not carry a question", ErrContract)
		}
		if strings.TrimSpace(body.Response) != "" {
			return nil, fmt.Errorf("%w: continue must not carry a response", ErrContract)
		}
		return &ThoughtDecision{
			Status:      ThoughtContinue,
			CurrentStep: currentStep,
			NextAction:  &ToolCall{Tool: tool, Input: body.NextAction.Input},
		}, nil

	case ThoughtAskUser:
		question := strings.TrimSpace(body.Question)
		if question == "" {
			return nil, fmt.Errorf("%w: ask_user requires a question", ErrContract)
		}
		if body.NextAction != nil {
			return nil, fmt.Errorf("%w: ask_user must not carry a next_action", ErrContract)
		}
		if strings.TrimSpace(body.Response) != "" {
			return nil, fmt.Errorf("%w: ask_user must not carry a response", ErrContract)
		}
		return &ThoughtDecision{Status: ThoughtAskUser, CurrentStep: currentStep, Question: question}, nil

	case ThoughtDone:
		if body.NextAction != nil {
			return nil, fmt.Errorf("%w: done must not carry a next_action", ErrContract)
		}
		if strings.TrimSpace(body.Question) != "" {
			return nil, fmt.Errorf("%w: done must not carry a question", ErrContract)
		}
		return &ThoughtDecision{
			Status:      ThoughtDone,
			CurrentStep: currentStep,
			Response:    strings.TrimSpace(body.Response),
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown thought status %q", ErrContract, body.Status)
}

// NormalizeReplan validates raw model output against the Replan contract.
// A replanned plan must keep at least one uncompleted item so the loop can
// always advance; a fully completed plan must be expressed as done.
func NormalizeReplan(raw string) (*ReplanDecision, error) {
	var body struct {
		Status string `json:"status"`
		Plan   []struct {
			Task      string `json:"task"`
			Completed *bool  `json:"completed"`
		} `json:"plan"`
		Response string `json:"response"`
	}
	if err := decodePayload(raw, &body); err != nil {
		return nil, err
	}

	switch normalizeStatus(body.Status) {
	case ReplanReplanned:
		if len(body.Plan) == 0 {
			return nil, fmt.Errorf("%w: replanned requires a non-empty plan", ErrContract)
		}
		items := make([]PlanItem, 0, len(body.Plan))
		hasPending := false
		for _, item := range body.Plan {
			task := strings.TrimSpace(item.Task)
			if task == "" {
				return nil, fmt.Errorf("%w: plan item task must be non-empty", ErrContract)
			}
			if item.Completed == nil {
				return nil, fmt.Errorf("%w: plan item %q is missing completed", ErrContract, task)
			}
			if !*item.Completed {
				hasPending = true
			}
			items = append(items, PlanItem{Task: task, Completed: *item.Completed})
		}
		if !hasPending {
			return nil, fmt.Errorf("%w: replanned plan needs at least one pending item", ErrContract)
		}
		return &ReplanDecision{Status: ReplanReplanned, Plan: items}, nil

	case ReplanDone:
		response := strings.TrimSpace(body.Response)
		if response == "" {
			return nil, fmt.Errorf("%w: done requires a response", ErrContract)
		}
		return &ReplanDecision{Status: ReplanDone, Response: response}, nil
	}
	return nil, fmt.Errorf("%w: unknown replan status %q", ErrContract, body.Status)
}
