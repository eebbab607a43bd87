// Package reasoning turns LLM text generation into the OODA loop's
// decisions: intent classification, task planning, goal checking, replanning,
// and the streamed next-step proposal that the Driver feeds through the
// Guardrail Pipeline.
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tarsy-oss/funnel/pkg/llm"
	"github.com/tarsy-oss/funnel/pkg/session"
	"github.com/tarsy-oss/funnel/pkg/step"
)

// stepBudget is the 15-step safety cap from the Reasoning Engine contract:
// once this many steps have completed with no successful edit in the last 5,
// generate_next_step_streaming refuses to call the LLM again.
const stepBudget = 15

// Engine is the Reasoning Engine. It owns no session state itself — every
// operation is a pure function of its inputs plus one LLM call.
type Engine struct {
	client llm.Client
}

// New returns an Engine backed by client.
func New(client llm.Client) *Engine {
	return &Engine{client: client}
}

// IntentResult is the output of ClassifyIntent.
type IntentResult struct {
	Intent     string // "conversational" or "task"
	Confidence float64
}

// ClassifyIntent makes a single LLM call with a short instruction and
// classifies text as conversational or task-oriented. Any <think> block is
// stripped before matching; if the response names both categories, "task"
// wins; on any LLM error the default is {"task", 0.5}.
func (e *Engine) ClassifyIntent(ctx context.Context, text string) IntentResult {
	resp, err := e.generateSimple(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "Classify the user's message as exactly one word: 'conversational' or 'task'. Respond with only that word."},
		{Role: llm.RoleUser, Content: text},
	})
	if err != nil {
		return IntentResult{Intent: "task", Confidence: 0.5}
	}

	cleaned := stripThinkBlock(resp)
	lower := strings.ToLower(cleaned)
	hasTask := strings.Contains(lower, "task")
	hasConversational := strings.Contains(lower, "conversational")

	switch {
	case hasTask:
		return IntentResult{Intent: "task", Confidence: 0.9}
	case hasConversational:
		return IntentResult{Intent: "conversational", Confidence: 0.9}
	default:
		return IntentResult{Intent: "task", Confidence: 0.5}
	}
}

// AnswerConversational produces a plain completion, optionally inlining
// retrieved memory facts ahead of the user's text.
func (e *Engine) AnswerConversational(ctx context.Context, text string, memoryFacts []string) (string, error) {
	messages := []llm.Message{{Role: llm.RoleSystem, Content: "Answer the user's message conversationally and concisely."}}
	if len(memoryFacts) > 0 {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: "Known facts: " + strings.Join(memoryFacts, "; ")})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: text})

	resp, err := e.generateSimple(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("answer_conversational: %w", err)
	}
	return stripThinkBlock(resp), nil
}

// numberedListPattern matches a "1. foo" / "1) foo" style list item.
var numberedListPattern = regexp.MustCompile(`^\s*\d+[.)]\s+(.+)$`)
var dashListPattern = regexp.MustCompile(`^\s*[-*]\s+(.+)$`)

// GenerateTaskPlan parses the LLM's plan response into an ordered,
// deduplicated sequence of step descriptions. Accepted shapes: a numbered
// list, a dash list, a JSON object with "steps" or "plan", or a bare JSON
// array. If nothing parses, the safe fallback is ["Execute task"].
func (e *Engine) GenerateTaskPlan(ctx context.Context, task string) ([]string, error) {
	resp, err := e.generateSimple(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "Break the task into a short ordered list of concrete steps."},
		{Role: llm.RoleUser, Content: task},
	})
	if err != nil {
		return []string{"Execute task"}, fmt.Errorf("generate_task_plan: %w", err)
	}
	return parsePlanResponse(stripThinkBlock(resp)), nil
}

func parsePlanResponse(text string) []string {
	text = strings.TrimSpace(text)

	if items := parsePlanJSON(text); len(items) > 0 {
		return dedupOrdered(items)
	}

	var items []string
	for _, line := range strings.Split(text, "\n") {
		if m := numberedListPattern.FindStringSubmatch(line); m != nil {
			items = append(items, strings.TrimSpace(m[1]))
			continue
		}
		if m := dashListPattern.FindStringSubmatch(line); m != nil {
			items = append(items, strings.TrimSpace(m[1]))
		}
	}
	items = dedupOrdered(items)
	if len(items) == 0 {
		return []string{"Execute task"}
	}
	return items
}

func parsePlanJSON(text string) []string {
	var asArray []string
	if err := json.Unmarshal([]byte(text), &asArray); err == nil && len(asArray) > 0 {
		return asArray
	}

	var asObject struct {
		Steps []string `json:"steps"`
		Plan  []string `json:"plan"`
	}
	if err := json.Unmarshal([]byte(text), &asObject); err == nil {
		if len(asObject.Steps) > 0 {
			return asObject.Steps
		}
		if len(asObject.Plan) > 0 {
			return asObject.Plan
		}
	}
	return nil
}

func dedupOrdered(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" || seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}

// GoalCheck is the parsed result of check_goal_satisfaction.
type GoalCheck struct {
	Satisfied        bool   `json:"satisfied"`
	Confidence       float64 `json:"confidence"`
	Reason           string `json:"reason"`
	SuggestedAction  string `json:"suggested_action"` // "complete" or "continue"
}

// CheckGoalSatisfaction asks whether the session state already satisfies
// goal. The prompt includes state.FormatForPrompt(); on any parse failure
// the safe fallback is {satisfied:false, suggested_action:"continue"}.
func (e *Engine) CheckGoalSatisfaction(ctx context.Context, goal string, state *session.State) GoalCheck {
	fallback := GoalCheck{SuggestedAction: "continue"}

	resp, err := e.generateSimple(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "Given the goal and the current session state, decide if the goal is satisfied. Respond with JSON: {\"satisfied\": bool, \"confidence\": number, \"reason\": string, \"suggested_action\": \"complete\"|\"continue\"}."},
		{Role: llm.RoleUser, Content: "Goal: " + goal + "\n\nSession state:\n" + state.FormatForPrompt()},
	})
	if err != nil {
		return fallback
	}

	candidate := extractBalancedJSON(stripThinkBlock(resp))
	if candidate == "" {
		return fallback
	}
	var gc GoalCheck
	if err := json.Unmarshal([]byte(candidate), &gc); err != nil {
		return fallback
	}
	if gc.SuggestedAction != "complete" && gc.SuggestedAction != "continue" {
		gc.SuggestedAction = "continue"
	}
	return gc
}

// GenerateReplan asks for a fresh plan given recent failures. On total LLM
// failure it returns the safe one-item plan ["Report to user"].
func (e *Engine) GenerateReplan(ctx context.Context, goal string, state *session.State, lastErr string) ([]string, error) {
	prompt := "Goal: " + goal + "\n\nSession state:\n" + state.FormatForPrompt()
	if lastErr != "" {
		prompt += "\n\nMost recent failure: " + lastErr
	}

	resp, err := e.generateSimple(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "The current plan failed to make progress. Propose a revised ordered list of steps."},
		{Role: llm.RoleUser, Content: prompt},
	})
	if err != nil {
		return []string{"Report to user"}, fmt.Errorf("generate_replan: %w", err)
	}

	plan := parsePlanResponse(stripThinkBlock(resp))
	if len(plan) == 0 {
		return []string{"Report to user"}, nil
	}
	return plan, nil
}

// StatusCallback receives human-readable progress messages during a
// streamed generation (e.g. "Loading model... (42%)", "Reasoning... (3s)").
type StatusCallback func(message string)

// NextStepResult is one element of the async sequence yielded by
// GenerateNextStepStreaming: either a partial <think> token or, on the last
// element, the final parsed Step.
type NextStepResult struct {
	Token string
	Step  *step.Step // non-nil only on the final element
}

// GenerateNextStepStreaming streams the LLM's next-step proposal. Before
// calling the LLM it enforces the 15-step safety budget; if the budget is
// exceeded it immediately yields a forced `complete` step without any LLM
// call. results is closed when the sequence ends.
func (e *Engine) GenerateNextStepStreaming(
	ctx context.Context,
	task string,
	plan []string,
	memoryFacts []string,
	state *session.State,
	statusCB StatusCallback,
) <-chan NextStepResult {
	results := make(chan NextStepResult, 16)

	go func() {
		defer close(results)

		if state.StepBudgetExceeded(stepBudget) {
			results <- NextStepResult{Step: step.ForceComplete("Too many steps without progress")}
			return
		}

		messages := []llm.Message{
			{Role: llm.RoleSystem, Content: nextStepSystemPrompt},
			{Role: llm.RoleUser, Content: buildNextStepPrompt(task, plan, memoryFacts, state)},
		}

		if statusCB != nil {
			statusCB("Reasoning...")
		}

		stream, err := e.client.Generate(ctx, &llm.GenerateInput{Messages: messages})
		if err != nil {
			results <- NextStepResult{Step: step.ForceComplete("LLM call failed: " + err.Error())}
			return
		}

		parser := NewStreamParser()
		var rawResponse strings.Builder

		for chunk := range stream {
			switch c := chunk.(type) {
			case *llm.TextChunk:
				rawResponse.WriteString(c.Content)
				if token := parser.Feed(c.Content); token != "" {
					results <- NextStepResult{Token: token}
				}
			case *llm.ErrorChunk:
				results <- NextStepResult{Step: step.ForceComplete("LLM error: " + c.Message)}
				return
			}
		}

		if s := DetectResponseHallucination(rawResponse.String(), parser.PostThink()); s != nil {
			results <- NextStepResult{Step: s}
			return
		}

		parsed, ok := ExtractStep(parser.PostThink())
		if !ok {
			results <- NextStepResult{Step: step.ForceComplete("INVALID FORMAT: no parseable step in response")}
			return
		}

		if parsed.Tool == step.ToolComplete && parsed.Answer != "" {
			hasProgress := hasSucceededNonThink(state)
			if DetectCompletionHallucination(parsed.Answer, hasProgress) {
				results <- NextStepResult{Step: step.ForceComplete("completion answer appears fabricated")}
				return
			}
		}

		results <- NextStepResult{Step: parsed}
	}()

	return results
}

func hasSucceededNonThink(state *session.State) bool {
	for _, cs := range state.CompletedSteps() {
		if cs.Success && cs.Tool != "think" {
			return true
		}
	}
	return false
}

const nextStepSystemPrompt = `You control a remote command-execution agent through an Observe-Orient-Decide-Act loop.
Think inside <think>...</think>, then emit exactly one JSON object describing the next step:
{"tool": "...", "params": {...}, "reasoning": "..."}`

func buildNextStepPrompt(task string, plan []string, memoryFacts []string, state *session.State) string {
	var b strings.Builder
	b.WriteString("Task: " + task + "\n\n")
	if len(plan) > 0 {
		b.WriteString("Plan:\n")
		for i, p := range plan {
			b.WriteString(strconv.Itoa(i+1) + ". " + p + "\n")
		}
		b.WriteString("\n")
	}
	if len(memoryFacts) > 0 {
		b.WriteString("Known facts: " + strings.Join(memoryFacts, "; ") + "\n\n")
	}
	b.WriteString(state.FormatForPrompt())
	return b.String()
}

// generateSimple collects a non-streaming-consumer LLM call into one string,
// used by the non-streaming operations (classify_intent, answer_conversational,
// generate_task_plan, check_goal_satisfaction, generate_replan).
func (e *Engine) generateSimple(ctx context.Context, messages []llm.Message) (string, error) {
	stream, err := e.client.Generate(ctx, &llm.GenerateInput{Messages: messages})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for chunk := range stream {
		switch c := chunk.(type) {
		case *llm.TextChunk:
			b.WriteString(c.Content)
		case *llm.ErrorChunk:
			return b.String(), fmt.Errorf("llm error: %s", c.Message)
		}
	}
	return b.String(), nil
}

func stripThinkBlock(text string) string {
	start := strings.Index(text, "<think>")
	if start == -1 {
		return strings.TrimSpace(text)
	}
	end := strings.Index(text, "</think>")
	if end == -1 || end < start {
		return strings.TrimSpace(text[:start])
	}
	return strings.TrimSpace(text[:start] + text[end+len("</think>"):])
}
