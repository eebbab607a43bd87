package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-oss/funnel/pkg/step"
)

func TestExtractBalancedJSON_IgnoresBracesInStrings(t *testing.T) {
	text := `noise {"tool": "execute", "params": {"command": "echo \"{not a brace}\""}} trailing`
	got := extractBalancedJSON(text)
	assert.Equal(t, `{"tool": "execute", "params": {"command": "echo \"{not a brace}\""}}`, got)
}

func TestExtractBalancedJSON_NoObject(t *testing.T) {
	assert.Equal(t, "", extractBalancedJSON("just some text"))
}

func TestExtractStep_DirectParams(t *testing.T) {
	payload := `{"tool": "execute", "params": {"agent_id": "web-1", "command": "uptime"}, "reasoning": "check uptime"}`
	s, ok := ExtractStep(payload)
	require.True(t, ok)
	assert.Equal(t, step.ToolExecute, s.Tool)
	assert.Equal(t, "web-1", s.AgentID())
	assert.Equal(t, "uptime", s.Command())
	assert.Equal(t, "check uptime", s.Reasoning)
}

func TestExtractStep_ConvenienceKeysLiftedWhenParamsAbsent(t *testing.T) {
	payload := `{"action": "read_file", "path": "config.yaml"}`
	s, ok := ExtractStep(payload)
	require.True(t, ok)
	assert.Equal(t, step.Tool("read_file"), s.Tool)
	assert.Equal(t, "config.yaml", s.Path())
}

func TestExtractStep_NoToolName(t *testing.T) {
	_, ok := ExtractStep(`{"foo": "bar"}`)
	assert.False(t, ok)
}

func TestExtractStep_CompleteCarriesAnswer(t *testing.T) {
	s, ok := ExtractStep(`{"step": "complete", "answer": "done"}`)
	require.True(t, ok)
	assert.Equal(t, "done", s.Answer)
}

func TestFixLoneBackslashes(t *testing.T) {
	got := fixLoneBackslashes(`C:\Users\name`)
	assert.Equal(t, `C:\\Users\name`, got)
}
