// Package guardrail validates and, where necessary, rewrites an LLM-proposed
// step before it reaches the dispatcher or a local handler. Rules run in a
// fixed order; the first rule that rewrites the step wins and short-circuits
// the rest. Every rule is pure over (step, session state) — no I/O.
package guardrail

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tarsy-oss/funnel/pkg/session"
	"github.com/tarsy-oss/funnel/pkg/step"
)

const (
	dumpStateTool       = "dump_state"
	duplicateWindow     = 10
	loopWindow          = 5
	replaceFailureLimit = 2
)

// rule is one ordered guardrail check. It returns a non-nil step when it
// rewrites or blocks the input; nil means "no opinion, try the next rule."
type rule func(s *step.Step, st *session.State, seenDumpState *bool) *step.Step

// pipeline is the fixed rule order from the guardrail contract. Index order
// is significant.
var pipeline = []rule{
	validateExecute,
	forceRemoteAfterDiscovery,
	validateCompletion,
	detectDuplicate,
	detectLoop,
	dumpStateOnce,
	escalateReplaceFailure,
	vetoReRead,
	correctPath,
}

// Apply runs the fixed guardrail pipeline over one proposed step. It never
// mutates s in place — rules that rewrite return a freshly cloned step.
func Apply(s *step.Step, st *session.State) *step.Step {
	if s == nil {
		return s
	}
	dumpStateSeen := dumpStateAlreadyUsed(st)
	for _, r := range pipeline {
		if out := r(s, st, &dumpStateSeen); out != nil {
			return out
		}
	}
	return s
}

func dumpStateAlreadyUsed(st *session.State) bool {
	for _, cs := range st.CompletedSteps() {
		if cs.Tool == dumpStateTool && cs.Success {
			return true
		}
	}
	return false
}

// 1. Execute validation.
func validateExecute(s *step.Step, st *session.State, _ *bool) *step.Step {
	if !s.Tool.IsRemoteExecute() {
		return nil
	}

	agentID := s.AgentID()
	if agentID == "localhost" {
		return fixPowerShellSyntax(s)
	}

	if len(st.DiscoveredAgents()) == 0 {
		bootstrap := s.Clone()
		bootstrap.Params = map[string]any{
			"agent_id": "localhost",
			"command":  "discover-peers",
		}
		return bootstrap
	}

	if !st.IsDiscoveredAgent(agentID) {
		available := strings.Join(st.DiscoveredAgents(), ", ")
		return step.ForceComplete(fmt.Sprintf("unknown agent %q; available agents: %s", agentID, available))
	}

	return fixPowerShellSyntax(s)
}

// powershellSyntaxFixes maps a small set of commonly hallucinated Bash-isms
// to their PowerShell equivalent. Anything not in this table is left as-is —
// the agent-side shell surfaces the real syntax error.
var powershellSyntaxFixes = []struct {
	pattern *regexp.Regexp
	replace string
}{
	{regexp.MustCompile(`^ls\b`), "Get-ChildItem"},
	{regexp.MustCompile(`^cat\b`), "Get-Content"},
	{regexp.MustCompile(`^rm\s+-rf\b`), "Remove-Item -Recurse -Force"},
	{regexp.MustCompile(`^pwd$`), "Get-Location"},
}

func fixPowerShellSyntax(s *step.Step) *step.Step {
	taskType, _ := s.Params["task_type"].(string)
	if taskType != "powershell" {
		return nil
	}
	cmd := s.Command()
	fixed := cmd
	for _, f := range powershellSyntaxFixes {
		fixed = f.pattern.ReplaceAllString(fixed, f.replace)
	}
	if fixed == cmd {
		return nil
	}
	out := s.Clone()
	out.Params["command"] = fixed
	return out
}

// 2. Force remote after discovery.
var (
	quotedTargetPattern = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
	onTargetPattern     = regexp.MustCompile(`(?i)\bon\s+(\S+)`)
)

func forceRemoteAfterDiscovery(s *step.Step, st *session.State, _ *bool) *step.Step {
	if s.Tool != step.ToolScanWorkspace && s.Tool != step.ToolExecuteShell {
		return nil
	}
	discovered := st.DiscoveredAgents()
	if len(discovered) == 0 {
		return nil
	}

	target := extractNamedTarget(s, discovered)
	if target == "" {
		target = discovered[0]
	} else if !st.IsDiscoveredAgent(target) {
		return step.ForceComplete(fmt.Sprintf("requested agent %q was not found among discovered agents", target))
	}

	out := &step.Step{
		StepID:    s.StepID,
		Tool:      step.ToolExecute,
		BatchID:   s.BatchID,
		Reasoning: s.Reasoning,
		Params: map[string]any{
			"agent_id": target,
			"command":  s.Command(),
		},
	}
	return out
}

// extractNamedTarget looks for an explicitly named agent in the step's own
// params or reasoning text, matching against the discovered id set.
func extractNamedTarget(s *step.Step, discovered []string) string {
	haystacks := []string{s.Reasoning, s.StringParam("note")}
	for _, h := range haystacks {
		if h == "" {
			continue
		}
		for _, m := range quotedTargetPattern.FindAllStringSubmatch(h, -1) {
			candidate := firstNonEmpty(m[1], m[2])
			if containsAgent(discovered, candidate) {
				return candidate
			}
		}
		if m := onTargetPattern.FindStringSubmatch(h); m != nil && containsAgent(discovered, m[1]) {
			return m[1]
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func containsAgent(ids []string, id string) bool {
	for _, a := range ids {
		if a == id {
			return true
		}
	}
	return false
}

// 3. Completion validity.
var completionHallucinationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)here (?:are|is) the top \d+ largest files`),
	regexp.MustCompile(`(?i)explorer\.exe`),
	regexp.MustCompile(`(?i)C:\\Users\\[^\\]+\\`),
	regexp.MustCompile(`(?i)System32`),
	regexp.MustCompile(`(?i)\*\*tool output:?\*\*`),
}

func validateCompletion(s *step.Step, st *session.State, _ *bool) *step.Step {
	if s.Tool != step.ToolComplete || s.Answer == "" {
		return nil
	}

	hasRealProgress := hasSucceededNonThink(st)

	for _, p := range completionHallucinationPatterns {
		if p.MatchString(s.Answer) && !hasRealProgress {
			return step.ForceComplete("completion blocked: answer appears fabricated with no prior successful action")
		}
	}

	if len(s.Answer) > 50 && len(st.DiscoveredAgents()) == 0 && !hasRealProgress {
		return step.ForceComplete("cannot complete a substantive task with no agents discovered and no actions taken")
	}

	return nil
}

func hasSucceededNonThink(st *session.State) bool {
	for _, cs := range st.CompletedSteps() {
		if cs.Success && cs.Tool != "think" {
			return true
		}
	}
	return false
}

// 4. Duplicate detection for remote_bash/execute.
func detectDuplicate(s *step.Step, st *session.State, _ *bool) *step.Step {
	if !s.Tool.IsRemoteExecute() {
		return nil
	}
	recent := lastNSuccessful(st, duplicateWindow)
	for _, cs := range recent {
		if cs.Tool != string(s.Tool) {
			continue
		}
		prevAgent := paramString(cs.Params, "agent_id", "agentId")
		prevCmd := paramString(cs.Params, "command")
		if prevAgent == s.AgentID() && prevCmd == s.Command() {
			return step.ForceComplete(fmt.Sprintf("already ran %q on agent %s; reusing its prior result", s.Command(), s.AgentID()))
		}
	}
	return nil
}

func lastNSuccessful(st *session.State, n int) []session.CompletedStep {
	all := st.CompletedSteps()
	var ok []session.CompletedStep
	for _, cs := range all {
		if cs.Success {
			ok = append(ok, cs)
		}
	}
	if len(ok) > n {
		ok = ok[len(ok)-n:]
	}
	return ok
}

func paramString(params map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := params[k]; ok {
			if str, ok := v.(string); ok {
				return str
			}
		}
	}
	return ""
}

// 5. Loop detection over the last loopWindow completed steps, regardless of
// success — execute/remote_bash are exempt (rule 4 already covers them).
// Thresholds vary by tool: file-mutation tools tolerate 1 repeat on the same
// path before tripping, once-only tools (list_agents/scan_workspace/dump_state) trip on
// the very first repeat, and every other tool tolerates 1 repeat like file
// mutation.
func detectLoop(s *step.Step, st *session.State, _ *bool) *step.Step {
	if s.Tool.IsRemoteExecute() {
		return nil
	}
	recent := st.LastCompletedSteps(loopWindow)

	path := s.Path()
	count := 0
	for _, cs := range recent {
		if cs.Tool != string(s.Tool) {
			continue
		}
		switch {
		case s.Tool.IsFileMutation():
			if paramString(cs.Params, "path", "file_path") == path {
				count++
			}
		default:
			count++
		}
	}

	threshold := 2
	if s.Tool.IsIdempotent() {
		threshold = 1
	}

	if count >= threshold {
		return step.ForceComplete(fmt.Sprintf("loop detected: %s repeated without progress", s.Tool))
	}
	return nil
}

// 6. Dump-state once per session.
func dumpStateOnce(s *step.Step, _ *session.State, seen *bool) *step.Step {
	if s.Tool != step.ToolDumpState {
		return nil
	}
	if *seen {
		return step.ForceComplete("dump_state already used this session")
	}
	*seen = true
	return nil
}

// 7. Replace failure escalation: after >= 2 failed replace_in_file on the
// same path in the last loopWindow steps, rewrite to an insert_in_file at
// "start" instead.
func escalateReplaceFailure(s *step.Step, st *session.State, _ *bool) *step.Step {
	if s.Tool != step.ToolReplaceInFile {
		return nil
	}
	path := s.Path()
	recent := st.LastCompletedSteps(loopWindow)
	failures := 0
	for _, cs := range recent {
		if cs.Tool == string(step.ToolReplaceInFile) && !cs.Success && paramString(cs.Params, "path", "file_path") == path {
			failures++
		}
	}
	if failures < replaceFailureLimit {
		return nil
	}
	out := s.Clone()
	out.Tool = step.ToolInsertInFile
	out.Params["position"] = "start"
	delete(out.Params, "find")
	delete(out.Params, "replace")
	return out
}

// 8. Re-read veto.
func vetoReRead(s *step.Step, st *session.State, _ *bool) *step.Step {
	if s.Tool != step.ToolReadFile {
		return nil
	}
	path := s.Path()
	if path != "" && st.HasRead(path) {
		return step.ForceComplete(fmt.Sprintf("%s was already read this session", path))
	}
	return nil
}

// 9. Path correction by unique suffix match.
func correctPath(s *step.Step, st *session.State, _ *bool) *step.Step {
	if !s.Tool.IsFileMutation() && s.Tool != step.ToolReadFile {
		return nil
	}
	path := s.Path()
	if path == "" {
		return nil
	}
	files := st.Files()
	if containsAgent(files, path) {
		return nil
	}

	var match string
	matches := 0
	for _, f := range files {
		if strings.HasSuffix(f, path) {
			match = f
			matches++
		}
	}
	if matches != 1 {
		return nil
	}

	out := s.Clone()
	if _, ok := out.Params["path"]; ok {
		out.Params["path"] = match
	} else {
		out.Params["file_path"] = match
	}
	return out
}
