package reasoning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-oss/funnel/pkg/llm"
	"github.com/tarsy-oss/funnel/pkg/session"
)

// fakeClient is a minimal llm.Client test double returning one canned
// response as a single TextChunk.
type fakeClient struct {
	response string
	err      error
}

func (f *fakeClient) Generate(ctx context.Context, input *llm.GenerateInput) (<-chan llm.Chunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan llm.Chunk, 1)
	ch <- &llm.TextChunk{Content: f.response}
	close(ch)
	return ch, nil
}

func (f *fakeClient) Close() error { return nil }

func TestParsePlanResponse_NumberedList(t *testing.T) {
	got := parsePlanResponse("1. scan the workspace\n2. read config.yaml\n2. read config.yaml")
	assert.Equal(t, []string{"scan the workspace", "read config.yaml"}, got)
}

func TestParsePlanResponse_DashList(t *testing.T) {
	got := parsePlanResponse("- first step\n- second step")
	assert.Equal(t, []string{"first step", "second step"}, got)
}

func TestParsePlanResponse_JSONArray(t *testing.T) {
	got := parsePlanResponse(`["a", "b", "a"]`)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestParsePlanResponse_JSONObjectWithSteps(t *testing.T) {
	got := parsePlanResponse(`{"steps": ["x", "y"]}`)
	assert.Equal(t, []string{"x", "y"}, got)
}

func TestParsePlanResponse_FallsBackToExecuteTask(t *testing.T) {
	got := parsePlanResponse("no structure here at all")
	assert.Equal(t, []string{"Execute task"}, got)
}

func TestStripThinkBlock(t *testing.T) {
	assert.Equal(t, "answer", stripThinkBlock("<think>reasoning</think>answer"))
	assert.Equal(t, "plain", stripThinkBlock("plain"))
}

func TestClassifyIntent_PrefersTaskOnAmbiguity(t *testing.T) {
	e := New(&fakeClient{response: "this could be conversational or task"})
	got := e.ClassifyIntent(context.Background(), "hello")
	assert.Equal(t, "task", got.Intent)
}

func TestClassifyIntent_DefaultsToTaskOnError(t *testing.T) {
	e := New(&fakeClient{err: assertError{}})
	got := e.ClassifyIntent(context.Background(), "hello")
	assert.Equal(t, "task", got.Intent)
	assert.Equal(t, 0.5, got.Confidence)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func TestGenerateNextStepStreaming_BudgetExceeded(t *testing.T) {
	st := session.New()
	for i := 0; i < 20; i++ {
		st.UpdateFromStep("s", "read_file", map[string]any{"path": "a.txt"}, "ok", true)
	}
	e := New(&fakeClient{response: `<think>x</think>{"tool":"think"}`})
	results := e.GenerateNextStepStreaming(context.Background(), "task", nil, nil, st, nil)

	var last string
	for r := range results {
		if r.Step != nil {
			last = string(r.Step.Tool)
		}
	}
	require.Equal(t, "complete", last)
}
