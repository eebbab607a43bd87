// Package step defines the closed set of OODA tools and the Step/StepResult
// types that flow between the Reasoning Engine, the Guardrail Pipeline, and
// the Event/Task Driver.
package step

// Tool is the closed set of actions the LLM may propose for one OODA
// iteration. Modeling it as a typed enum (rather than a bare string) turns
// "unknown tool name" into a parser concern — see pkg/reasoning — instead of
// a dispatch concern.
type Tool string

const (
	ToolThink          Tool = "think"
	ToolComplete       Tool = "complete"
	ToolListAgents     Tool = "list_agents"
	ToolExecute        Tool = "execute"
	ToolRemoteBash     Tool = "remote_bash" // legacy alias for Execute, pre-guardrail
	ToolScanWorkspace  Tool = "scan_workspace"
	ToolReadFile       Tool = "read_file"
	ToolWriteFile      Tool = "write_file"
	ToolReplaceInFile  Tool = "replace_in_file"
	ToolInsertInFile   Tool = "insert_in_file"
	ToolAppendToFile   Tool = "append_to_file"
	ToolExecuteShell   Tool = "execute_shell"
	ToolDumpState      Tool = "dump_state"
	ToolNone           Tool = "none" // idempotent no-op
)

// IsFileMutation reports whether the tool writes to the local workspace.
func (t Tool) IsFileMutation() bool {
	switch t {
	case ToolWriteFile, ToolReplaceInFile, ToolInsertInFile, ToolAppendToFile:
		return true
	default:
		return false
	}
}

// IsIdempotent reports whether repeating the tool has no additional effect
// beyond the first successful call — used by the loop-detection guardrail.
func (t Tool) IsIdempotent() bool {
	switch t {
	case ToolListAgents, ToolDumpState, ToolScanWorkspace:
		return true
	default:
		return false
	}
}

// IsRemoteExecute reports whether the tool dispatches to a remote agent.
func (t Tool) IsRemoteExecute() bool {
	return t == ToolExecute || t == ToolRemoteBash
}

// ErrorKind classifies why a step failed, driving the replan hint the
// Reasoning Engine surfaces to the LLM.
type ErrorKind string

const (
	ErrorNone             ErrorKind = ""
	ErrorSyntax           ErrorKind = "syntax_error"
	ErrorTimeout          ErrorKind = "timeout"
	ErrorPermissionDenied ErrorKind = "permission_denied"
	ErrorNotFound         ErrorKind = "not_found"
	ErrorConnection       ErrorKind = "connection_error"
	ErrorResource         ErrorKind = "resource_error"
	ErrorExecution        ErrorKind = "execution_error"
	ErrorGRPC             ErrorKind = "grpc_error"
	ErrorHallucination    ErrorKind = "hallucination"
	ErrorLoopDetected     ErrorKind = "loop_detected"
	ErrorUnknownAgent     ErrorKind = "unknown_agent"
)

// Step describes one LLM-proposed OODA action before or after guardrails.
type Step struct {
	StepID    string
	Tool      Tool
	Params    map[string]any
	BatchID   string
	Reasoning string

	// Answer/Error are the two mutually-exclusive payloads a `complete` step
	// may carry — never both, per spec §7.
	Answer string
	Error  string
}

// Clone returns a deep-enough copy of the step safe to mutate independently.
// Guardrails never mutate the input step in place — they return a new one.
func (s *Step) Clone() *Step {
	if s == nil {
		return nil
	}
	params := make(map[string]any, len(s.Params))
	for k, v := range s.Params {
		params[k] = v
	}
	clone := *s
	clone.Params = params
	return &clone
}

// StringParam fetches a string parameter, returning "" if absent or wrong type.
func (s *Step) StringParam(key string) string {
	if s == nil || s.Params == nil {
		return ""
	}
	v, ok := s.Params[key]
	if !ok {
		return ""
	}
	str, _ := v.(string)
	return str
}

// AgentID is a convenience accessor for the common `agent_id` param.
func (s *Step) AgentID() string {
	if id := s.StringParam("agent_id"); id != "" {
		return id
	}
	return s.StringParam("agentId")
}

// Command is a convenience accessor for the common `command` param.
func (s *Step) Command() string {
	return s.StringParam("command")
}

// Path is a convenience accessor for the common `path` param.
func (s *Step) Path() string {
	if p := s.StringParam("path"); p != "" {
		return p
	}
	return s.StringParam("file_path")
}

// ForceComplete returns a new `complete` step carrying an error message,
// used by every guardrail rule that blocks a proposed step.
func ForceComplete(errMsg string) *Step {
	return &Step{Tool: ToolComplete, Error: errMsg}
}

// ForceCompleteAnswer returns a new `complete` step carrying a success answer.
func ForceCompleteAnswer(answer string) *Step {
	return &Step{Tool: ToolComplete, Answer: answer}
}

// StepResult is what a tool executor (local handler or gRPC dispatcher)
// returns for one Step.
type StepResult struct {
	Success      bool
	Output       string
	ErrorKind    ErrorKind
	ErrorMessage string
}
