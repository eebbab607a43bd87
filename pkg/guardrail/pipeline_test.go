package guardrail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-oss/funnel/pkg/session"
	"github.com/tarsy-oss/funnel/pkg/step"
)

func TestApply_LocalhostAlwaysAllowed(t *testing.T) {
	st := session.New()
	s := &step.Step{Tool: step.ToolExecute, Params: map[string]any{"agent_id": "localhost", "command": "ls"}}
	out := Apply(s, st)
	assert.Equal(t, step.ToolExecute, out.Tool)
	assert.Equal(t, "localhost", out.AgentID())
}

func TestApply_BootstrapsDiscoveryWhenNoAgents(t *testing.T) {
	st := session.New()
	s := &step.Step{Tool: step.ToolExecute, Params: map[string]any{"agent_id": "web-1", "command": "ls"}}
	out := Apply(s, st)
	require.Equal(t, step.ToolExecute, out.Tool)
	assert.Equal(t, "localhost", out.AgentID())
	assert.Equal(t, "discover-peers", out.Command())
}

func TestApply_UnknownAgentBlocked(t *testing.T) {
	st := session.New()
	st.UpdateFromStep("s1", "list_agents", nil, "web-1\nweb-2", true)
	s := &step.Step{Tool: step.ToolExecute, Params: map[string]any{"agent_id": "ghost", "command": "ls"}}
	out := Apply(s, st)
	assert.Equal(t, step.ToolComplete, out.Tool)
	assert.Contains(t, out.Error, "unknown agent")
}

func TestApply_ForcesRemoteScanAfterDiscovery(t *testing.T) {
	st := session.New()
	st.UpdateFromStep("s1", "list_agents", nil, "web-1", true)
	s := &step.Step{Tool: step.ToolScanWorkspace, Params: map[string]any{"path": "/"}}
	out := Apply(s, st)
	assert.Equal(t, step.ToolExecute, out.Tool)
	assert.Equal(t, "web-1", out.AgentID())
}

func TestApply_DuplicateExecuteBlocked(t *testing.T) {
	st := session.New()
	st.UpdateFromStep("s1", "list_agents", nil, "web-1", true)
	st.UpdateFromStep("s2", "execute", map[string]any{"agent_id": "web-1", "command": "uptime"}, "ok", true)
	s := &step.Step{Tool: step.ToolExecute, Params: map[string]any{"agent_id": "web-1", "command": "uptime"}}
	out := Apply(s, st)
	assert.Equal(t, step.ToolComplete, out.Tool)
	assert.Contains(t, out.Error, "already ran")
}

func TestApply_ReReadVetoed(t *testing.T) {
	st := session.New()
	st.UpdateFromStep("s1", "read_file", map[string]any{"path": "a.txt"}, "contents", true)
	s := &step.Step{Tool: step.ToolReadFile, Params: map[string]any{"path": "a.txt"}}
	out := Apply(s, st)
	assert.Equal(t, step.ToolComplete, out.Tool)
	assert.Contains(t, out.Error, "already read")
}

func TestApply_DumpStateOnlyOnce(t *testing.T) {
	st := session.New()
	st.UpdateFromStep("s1", "dump_state", nil, "state dump", true)
	s := &step.Step{Tool: step.ToolDumpState, Params: map[string]any{}}
	out := Apply(s, st)
	assert.Equal(t, step.ToolComplete, out.Tool)
}

// Two prior failed replace_in_file calls on the same path also satisfy rule
// 5's loop-detection threshold (same tool+path count >= 2), and rule 5 runs
// first in the pipeline — so Apply surfaces the loop-detected completion,
// not rule 7's rewrite. escalateReplaceFailure's own rewrite behavior is
// covered in isolation below.
func TestApply_ReplaceFailureAlsoTripsLoopDetectionFirst(t *testing.T) {
	st := session.New()
	st.UpdateFromStep("s1", "replace_in_file", map[string]any{"path": "a.txt"}, "syntax error", false)
	st.UpdateFromStep("s2", "replace_in_file", map[string]any{"path": "a.txt"}, "syntax error", false)
	s := &step.Step{Tool: step.ToolReplaceInFile, Params: map[string]any{"path": "a.txt", "find": "x", "replace": "y"}}
	out := Apply(s, st)
	assert.Equal(t, step.ToolComplete, out.Tool)
	assert.Contains(t, out.Error, "loop detected")
}

func TestEscalateReplaceFailure_RewritesToInsertAtStart(t *testing.T) {
	st := session.New()
	st.UpdateFromStep("s1", "replace_in_file", map[string]any{"path": "a.txt"}, "syntax error", false)
	st.UpdateFromStep("s2", "replace_in_file", map[string]any{"path": "a.txt"}, "syntax error", false)
	s := &step.Step{Tool: step.ToolReplaceInFile, Params: map[string]any{"path": "a.txt", "find": "x", "replace": "y"}}

	out := escalateReplaceFailure(s, st, nil)
	require.NotNil(t, out)
	assert.Equal(t, step.ToolInsertInFile, out.Tool)
	assert.Equal(t, "start", out.Params["position"])
	assert.NotContains(t, out.Params, "find")
	assert.NotContains(t, out.Params, "replace")
}

func TestApply_PathCorrectionByUniqueSuffix(t *testing.T) {
	st := session.New()
	st.UpdateFromStep("s1", "scan_workspace", map[string]any{"path": "/"}, "NAME TYPE SIZE MODIFIED\nsrc/main.go file 100 now\nTOTAL: 1 items (0 dirs, 1 files)", true)
	s := &step.Step{Tool: step.ToolReadFile, Params: map[string]any{"path": "main.go"}}
	out := Apply(s, st)
	assert.Equal(t, "src/main.go", out.Path())
}

func TestApply_FixedPoint(t *testing.T) {
	st := session.New()
	st.UpdateFromStep("s1", "list_agents", nil, "web-1", true)
	s := &step.Step{Tool: step.ToolExecute, Params: map[string]any{"agent_id": "web-1", "command": "uptime"}}
	once := Apply(s, st)
	twice := Apply(once, st)
	assert.Equal(t, once.Tool, twice.Tool)
	assert.Equal(t, once.AgentID(), twice.AgentID())
}
