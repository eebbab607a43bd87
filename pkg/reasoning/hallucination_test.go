package reasoning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectResponseHallucination_FabricatedToolOutput(t *testing.T) {
	s := DetectResponseHallucination("**Tool output:** everything worked", "")
	require.NotNil(t, s)
	assert.Contains(t, s.Error, "INVALID FORMAT")
}

func TestDetectResponseHallucination_LongNarrativeWithoutJSON(t *testing.T) {
	narrative := "This is a very long explanation of what I just did that goes on and on without any JSON step object attached to it at all, just prose."
	s := DetectResponseHallucination("<think>ok</think>"+narrative, narrative)
	require.NotNil(t, s)
}

func TestDetectResponseHallucination_CleanResponse(t *testing.T) {
	s := DetectResponseHallucination(`<think>ok</think>{"tool":"think"}`, `{"tool":"think"}`)
	assert.Nil(t, s)
}

func TestDetectCompletionHallucination(t *testing.T) {
	assert.True(t, DetectCompletionHallucination("Here is the top 5 largest files on your C:\\Users\\bob\\ desktop", false))
	assert.False(t, DetectCompletionHallucination("Here is the top 5 largest files you asked for", true))
	assert.False(t, DetectCompletionHallucination("Task complete.", false))
}
