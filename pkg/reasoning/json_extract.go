package reasoning

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tarsy-oss/funnel/pkg/step"
)

// extractBalancedJSON locates the first balanced {...} object in text,
// tracking string/escape state so braces inside string literals don't throw
// off the depth count. Returns "" if no balanced object is found.
func extractBalancedJSON(text string) string {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// inside a string, braces don't count
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// loneBackslashPattern matches a backslash not followed by a recognized JSON
// escape character — the last-resort repair for malformed LLM JSON.
var loneBackslashPattern = regexp.MustCompile(`\\([^\\nrt"])`)

func fixLoneBackslashes(raw string) string {
	return loneBackslashPattern.ReplaceAllString(raw, `\\$1`)
}

// rawStepShape mirrors the recognized JSON shapes from the reasoning
// contract: a tool/action/step/task/instruction name, optional params, and
// an optional free-text note under one of several aliases.
type rawStepShape struct {
	Tool        string         `json:"tool"`
	Action      string         `json:"action"`
	StepName    string         `json:"step"`
	Task        string         `json:"task"`
	Instruction string         `json:"instruction"`
	Params      map[string]any `json:"params"`
	Note        string         `json:"note"`
	Reasoning   string         `json:"reasoning"`
	Description string         `json:"description"`
	BatchID     string         `json:"batch_id"`

	Path     string `json:"path"`
	FilePath string `json:"file_path"`
	Command  string `json:"command"`
	Answer   string `json:"answer"`
}

// ExtractStep runs the full JSON-extraction pipeline over the post-<think>
// payload: locate the first balanced object, decode it (retrying once with
// the lone-backslash fix), and map the recognized shape onto a step.Step.
// Returns (nil, false) if no decodable step-shaped object is present.
func ExtractStep(payload string) (*step.Step, bool) {
	candidate := extractBalancedJSON(payload)
	if candidate == "" {
		return nil, false
	}

	var raw rawStepShape
	if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
		fixed := fixLoneBackslashes(candidate)
		if err2 := json.Unmarshal([]byte(fixed), &raw); err2 != nil {
			return nil, false
		}
	}

	toolName := firstNonEmptyStr(raw.Tool, raw.Action, raw.StepName, raw.Task, raw.Instruction)
	if toolName == "" {
		return nil, false
	}

	params := raw.Params
	if params == nil {
		params = map[string]any{}
		for k, v := range map[string]string{
			"path":      raw.Path,
			"file_path": raw.FilePath,
			"command":   raw.Command,
			"answer":    raw.Answer,
		} {
			if v != "" {
				params[k] = v
			}
		}
	}

	s := &step.Step{
		Tool:      step.Tool(toolName),
		Params:    params,
		BatchID:   raw.BatchID,
		Reasoning: firstNonEmptyStr(raw.Note, raw.Reasoning, raw.Description, raw.Instruction),
	}
	if s.Tool == step.ToolComplete {
		s.Answer = raw.Answer
		if s.Answer == "" {
			s.Answer, _ = params["answer"].(string)
		}
	}
	return s, true
}

func firstNonEmptyStr(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
