package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harrison/steward/internal/decision"
	"github.com/harrison/steward/internal/task"
)

const (
	unavailableText = "抱歉，当前计划执行服务暂时不可用。你可以稍后重试，或先使用 /todo、/schedule 命令继续操作。"

	repeatQuestionText = "我已经拿到你的补充信息，但仍无法完成重规划。请直接使用 /todo 或 /schedule 命令。"
	tooManyTurnsText   = "澄清次数过多，我仍无法稳定重规划。请直接使用 /todo 或 /schedule 命令。"
)

type gateOutcome int

const (
	gateSkipped gateOutcome = iota
	gateContinue
	gateRetry
	gateUnavailable
	gateDone
)

type innerOutcome int

const (
	innerReplan innerOutcome = iota
	innerAskUser
	innerRedirect
	innerStepLimit
	innerUnavailable
)

// run executes the outer loop: budget check, one-shot plan, clarification
// suspension, replan gate, then the inner thought/act/observe loop. It
// returns only on a terminal outcome or a suspension.
func (e *Engine) run(ctx context.Context, contextID string, st *task.State) Result {
	for {
		if st.StepCount >= e.cfg.MaxSteps {
			return e.finalize(contextID, st, e.stepLimitResponse(st))
		}
		e.progress(contextID, fmt.Sprintf("步骤进度：已执行 %d/%d，开始第 %d 步决策。",
			st.StepCount, e.cfg.MaxSteps, st.StepCount+1))

		if !st.PlanInitialized {
			if !e.initializePlan(ctx, contextID, st) {
				return e.finalize(contextID, st, unavailableText)
			}
		}

		if st.AwaitingClarification {
			question := st.PendingQuestion
			if question == "" {
				question = "请补充必要信息。"
			}
			return Result{Kind: ResultClarification, Text: "请确认：" + question}
		}

		outcome, finalText := e.replanGate(ctx, contextID, st)
		switch outcome {
		case gateRetry:
			continue
		case gateUnavailable:
			return e.finalize(contextID, st, unavailableText)
		case gateDone:
			text := finalText
			if text == "" {
				text = st.PendingFinalResponse
			}
			if text == "" {
				text = unavailableText
			}
			if e.cfg.Rewriter != nil {
				text = e.cfg.Rewriter.RewriteFinalResponse(ctx, text)
			}
			return e.finalize(contextID, st, text)
		}

		inner, payload := e.innerLoop(ctx, contextID, st)
		switch inner {
		case innerReplan:
			continue
		case innerAskUser:
			return Result{Kind: ResultClarification, Text: payload}
		case innerRedirect:
			return e.finalize(contextID, st, payload)
		case innerStepLimit:
			return e.finalize(contextID, st, e.stepLimitResponse(st))
		default:
			return e.finalize(contextID, st, unavailableText)
		}
	}
}

func (e *Engine) finalize(contextID string, st *task.State, text string) Result {
	e.progress(contextID, "任务状态：已完成。")
	if text == "" {
		text = unavailableText
	}
	return Result{Kind: ResultFinal, Text: text}
}

// initializePlan issues the one-shot Plan decision. Plan failure is fatal to
// the task and never consumes step budget.
func (e *Engine) initializePlan(ctx context.Context, contextID string, st *task.State) bool {
	planned, exchange, err := e.gateway.Plan(ctx, st.History, e.planContext(st))
	if err != nil {
		return false
	}
	if planned.Goal != "" {
		st.Goal = planned.Goal
		e.progress(contextID, "任务目标："+planned.Goal)
	}
	e.appendDecisionObservation(st, "plan", "planned", map[string]interface{}{
		"status": "planned",
		"goal":   planned.Goal,
		"plan":   planned.Plan,
	})
	st.AppendHistory(exchange.Request, exchange.Response)

	items := make([]decision.PlanItem, 0, len(planned.Plan))
	for _, text := range planned.Plan {
		items = append(items, decision.PlanItem{Task: text})
	}
	st.SetPlan(items)
	st.PlanInitialized = true
	e.progress(contextID, fmt.Sprintf("规划完成：共 %d 步。", len(items)))
	return true
}

// replanGate issues the Replan decision when a subtask boundary set
// needs_replan. Each attempt consumes one step; failures accumulate toward
// the fatal threshold and successes reset it.
func (e *Engine) replanGate(ctx context.Context, contextID string, st *task.State) (gateOutcome, string) {
	if !st.NeedsReplan {
		return gateSkipped, ""
	}

	st.StepCount++
	pc := e.planContext(st)
	pc.CurrentPlanItem = st.CurrentPlanItem()
	pc.PendingFinalResponse = st.PendingFinalResponse
	replanned, exchange, err := e.gateway.Replan(ctx, st.History, pc)
	if err != nil {
		st.ConsecutiveDecisionFailures++
		st.AppendObservation(task.Observation{
			Tool:   "replan",
			Input:  "plan",
			OK:     false,
			Result: "replan 输出不符合 JSON 契约。",
		})
		if st.ConsecutiveDecisionFailures >= e.cfg.FailureLimit {
			return gateUnavailable, ""
		}
		e.progress(contextID, "重规划失败：模型输出不符合契约，准备重试。")
		return gateRetry, ""
	}

	st.ConsecutiveDecisionFailures = 0
	e.appendDecisionObservation(st, "replan", replanned.Status, map[string]interface{}{
		"status":   replanned.Status,
		"plan":     replanned.Plan,
		"response": replanned.Response,
	})
	st.AppendHistory(exchange.Request, exchange.Response)

	if replanned.Status == decision.ReplanDone {
		st.NeedsReplan = false
		return gateDone, replanned.Response
	}

	items := make([]decision.PlanItem, len(replanned.Plan))
	copy(items, replanned.Plan)
	st.SetPlan(items)
	st.NeedsReplan = false
	e.progress(contextID, fmt.Sprintf("重规划完成：共 %d 步。", len(items)))
	return gateContinue, ""
}

// innerLoop advances the current plan item one Thought decision at a time
// until the item completes, the task suspends, or a budget/failure bound
// trips.
func (e *Engine) innerLoop(ctx context.Context, contextID string, st *task.State) (innerOutcome, string) {
	st.BeginSubtask()
	first := true
	for {
		if st.StepCount >= e.cfg.MaxSteps {
			return innerStepLimit, ""
		}
		if !first {
			e.progress(contextID, fmt.Sprintf("步骤进度：已执行 %d/%d，开始第 %d 步决策。",
				st.StepCount, e.cfg.MaxSteps, st.StepCount+1))
		}
		first = false
		if item := st.CurrentPlanItem(); item != "" {
			e.progress(contextID, fmt.Sprintf("当前计划项：第 %d/%d 步 | %s",
				st.Cursor+1, len(st.PlanItems), item))
		}

		st.StepCount++
		thought, err := e.gateway.Thought(ctx, st.History, e.thoughtContext(st))
		if err != nil {
			st.ConsecutiveDecisionFailures++
			st.AppendObservation(task.Observation{
				Tool:   "thought",
				Input:  "decision",
				OK:     false,
				Result: "thought 输出不符合 JSON 契约。",
			})
			if st.ConsecutiveDecisionFailures >= e.cfg.FailureLimit {
				return innerUnavailable, ""
			}
			e.progress(contextID, "思考失败：模型输出不符合契约，准备重试。")
			continue
		}

		st.ConsecutiveDecisionFailures = 0
		e.appendThoughtObservation(st, thought)
		stepText := thought.CurrentStep
		if stepText == "" {
			stepText = "（未提供步骤）"
		}
		e.progress(contextID, fmt.Sprintf("思考决策：%s | %s", thought.Status, stepText))

		switch thought.Status {
		case decision.ThoughtDone:
			completedItem := st.CurrentPlanItem()
			if completedItem == "" {
				completedItem = thought.CurrentStep
			}
			merged := mergeSummaryWithDetail(thought.Response, st.LatestSuccessResult())
			st.PendingFinalResponse = strings.TrimSpace(thought.Response)
			st.AddCompletedSubtask(completedItem, merged)
			st.CompleteCurrentItem()
			st.NeedsReplan = true
			return innerReplan, ""

		case decision.ThoughtAskUser:
			question := thought.Question
			if st.IsRepeatQuestion(question) {
				st.QuestionRepeatCount++
				st.AppendObservation(task.Observation{
					Tool:   "ask_user",
					Input:  question,
					OK:     false,
					Result: "重复提问：用户已补充信息，请基于已知信息执行重规划。",
				})
				if st.QuestionRepeatCount >= e.cfg.FailureLimit {
					return innerRedirect, repeatQuestionText
				}
				continue
			}
			if st.QuestionTurns() >= e.cfg.MaxClarifications {
				return innerRedirect, tooManyTurnsText
			}
			st.AppendQuestion(question)
			e.progress(contextID, "步骤动作：ask_user -> "+question)
			return innerAskUser, "请确认：" + question

		default: // continue
			call := *thought.NextAction
			inputText := call.InputText()
			e.progress(contextID, fmt.Sprintf("步骤动作：%s -> %s", call.Tool, inputText))

			st.StepCount++
			ok, result := e.tools.Execute(ctx, call)
			st.AppendObservation(task.Observation{
				Tool:   call.Tool,
				Input:  inputText,
				OK:     ok,
				Result: result,
			})
			statusText := "失败"
			if ok {
				st.SuccessfulSteps++
				statusText = "成功"
			} else {
				st.FailedSteps++
			}
			preview := previewText(result, 220)
			e.progress(contextID, fmt.Sprintf("步骤结果：%s | %s", statusText, preview))
			e.progress(contextID, fmt.Sprintf("完成情况：成功 %d 步，失败 %d 步，已执行 %d/%d 步。",
				st.SuccessfulSteps, st.FailedSteps, st.StepCount, e.cfg.MaxSteps))
		}
	}
}

func (e *Engine) planContext(st *task.State) decision.PlanContext {
	return decision.PlanContext{
		Goal:                 st.Goal,
		ClarificationHistory: clarificationTurns(st),
		StepCount:            st.StepCount,
		MaxSteps:             e.cfg.MaxSteps,
		LatestPlan:           latestPlan(st),
		CurrentPlanIndex:     st.Cursor,
		CompletedSubtasks:    completedSubtasks(st),
		UserProfile:          e.userProfile(),
	}
}

func (e *Engine) thoughtContext(st *task.State) decision.ThoughtContext {
	subtask := decision.Subtask{Item: st.CurrentPlanItem()}
	if subtask.Item != "" {
		index := st.Cursor + 1
		total := len(st.PlanItems)
		subtask.Index = &index
		subtask.Total = &total
	}
	observations := st.SubtaskObservations()
	contextObservations := make([]decision.ContextObservation, 0, len(observations))
	for _, obs := range observations {
		contextObservations = append(contextObservations, decision.ContextObservation{
			Tool:   obs.Tool,
			Input:  obs.Input,
			OK:     obs.OK,
			Result: obs.Result,
		})
	}
	return decision.ThoughtContext{
		ClarificationHistory: clarificationTurns(st),
		StepCount:            st.StepCount,
		MaxSteps:             e.cfg.MaxSteps,
		CurrentSubtask:       subtask,
		CompletedSubtasks:    completedSubtasks(st),
		Observations:         contextObservations,
		UserProfile:          e.userProfile(),
	}
}

func clarificationTurns(st *task.State) []decision.Turn {
	if st.ClarificationHistory == nil {
		return []decision.Turn{}
	}
	return st.ClarificationHistory
}

func latestPlan(st *task.State) []decision.PlanItem {
	if st.PlanItems == nil {
		return []decision.PlanItem{}
	}
	return st.PlanItems
}

func completedSubtasks(st *task.State) []decision.CompletedSubtask {
	if st.CompletedSubtasks == nil {
		return []decision.CompletedSubtask{}
	}
	return st.CompletedSubtasks
}

// appendDecisionObservation records a successful decision in the observation
// stream so later Thought calls can see the loop's own reasoning trail.
func (e *Engine) appendDecisionObservation(st *task.State, phase, status string, payload map[string]interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	st.AppendObservation(task.Observation{
		Tool:   phase,
		Input:  status,
		OK:     true,
		Result: string(body),
	})
}

func (e *Engine) appendThoughtObservation(st *task.State, thought *decision.ThoughtDecision) {
	payload := map[string]interface{}{
		"status":       thought.Status,
		"current_step": thought.CurrentStep,
	}
	if thought.NextAction != nil {
		payload["next_action"] = map[string]interface{}{
			"tool":  thought.NextAction.Tool,
			"input": json.RawMessage(thought.NextAction.Input),
		}
	}
	if thought.Question != "" {
		payload["question"] = thought.Question
	}
	if thought.Response != "" {
		payload["response"] = thought.Response
	}
	e.appendDecisionObservation(st, "thought", thought.Status, payload)
}

// mergeSummaryWithDetail combines a Thought done summary with the latest
// successful tool result. Structured query results (tables, list renderings)
// are appended verbatim so the final reply keeps the data the user asked
// for; free-text results defer to the summary.
func mergeSummaryWithDetail(summary, detail string) string {
	summary = strings.TrimSpace(summary)
	detail = strings.TrimSpace(detail)
	if summary == "" {
		return detail
	}
	if detail == "" {
		return summary
	}
	if strings.Contains(summary, detail) {
		return summary
	}
	if !isStructuredResult(detail) {
		return summary
	}
	return fmt.Sprintf("%s\n\n执行结果：\n%s", summary, detail)
}

var structuredResultPrefixes = []string{
	"待办列表",
	"待办详情",
	"搜索结果",
	"日程列表",
	"日历视图(",
	"日程详情",
	"互联网搜索结果",
}

func isStructuredResult(result string) bool {
	if strings.Contains(result, "\n|") {
		return true
	}
	for _, prefix := range structuredResultPrefixes {
		if strings.HasPrefix(result, prefix) {
			return true
		}
	}
	return false
}

// stepLimitResponse summarizes the task when the budget runs out: the last
// few completed actions, the most recent failure as the blocking reason, and
// fixed suggestions.
func (e *Engine) stepLimitResponse(st *task.State) string {
	var completed []task.Observation
	var lastFailed *task.Observation
	for i := range st.Observations {
		obs := st.Observations[i]
		if obs.OK && !isDecisionTool(obs.Tool) {
			completed = append(completed, obs)
		}
		if !obs.OK {
			lastFailed = &st.Observations[i]
		}
	}

	completedLines := make([]string, 0, 3)
	start := len(completed) - 3
	if start < 0 {
		start = 0
	}
	for _, obs := range completed[start:] {
		completedLines = append(completedLines, fmt.Sprintf("- %s: %s", obs.Tool, obs.Input))
	}
	if len(completedLines) == 0 {
		completedLines = append(completedLines, "- 暂无已完成动作。")
	}

	failedReason := "需要更多信息才能继续。"
	if lastFailed != nil {
		failedReason = lastFailed.Result
	}

	return fmt.Sprintf(
		"已达到最大执行步数（%d）。\n已完成部分:\n%s\n未完成原因:\n- %s\n下一步建议:\n- 你可以补充更具体的时间、编号或关键词；\n- 或直接使用 /todo、/schedule 命令完成关键操作。",
		e.cfg.MaxSteps, strings.Join(completedLines, "\n"), failedReason)
}

func isDecisionTool(tool string) bool {
	switch tool {
	case "plan", "thought", "replan":
		return true
	}
	return false
}

func previewText(text string, limit int) string {
	flattened := strings.ReplaceAll(text, "\n", " ")
	runes := []rune(flattened)
	if len(runes) <= limit {
		return flattened
	}
	cut := limit - 3
	if cut < 0 {
		cut = 0
	}
	return string(runes[:cut]) + "..."
}
