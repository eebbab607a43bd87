package driver

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-oss/funnel/pkg/dispatch"
	"github.com/tarsy-oss/funnel/pkg/llm"
	"github.com/tarsy-oss/funnel/pkg/reasoning"
	"github.com/tarsy-oss/funnel/pkg/session"
)

// fakeClient yields one scripted response per Generate call, in order.
type fakeClient struct {
	responses []string
	calls     int
}

func (f *fakeClient) Generate(ctx context.Context, in *llm.GenerateInput) (<-chan llm.Chunk, error) {
	out := make(chan llm.Chunk, 1)
	idx := f.calls
	f.calls++
	var resp string
	if idx < len(f.responses) {
		resp = f.responses[idx]
	}
	go func() {
		defer close(out)
		out <- &llm.TextChunk{Content: resp}
	}()
	return out, nil
}

func (f *fakeClient) Close() error { return nil }

// fakeDispatcher never gets exercised by these tests since every scripted
// step stays local, but satisfies the Dispatcher interface.
type fakeDispatcher struct{}

func (fakeDispatcher) Execute(ctx context.Context, agentID string, p dispatch.ExecuteParams) (dispatch.TaskResult, error) {
	return dispatch.TaskResult{Success: true, Stdout: "ok"}, nil
}

func TestDriver_RunCompletesOnFirstStep(t *testing.T) {
	root := t.TempDir()

	client := &fakeClient{
		responses: []string{
			"1. Inspect the workspace",                                          // GenerateTaskPlan
			`<think>done</think>{"tool":"complete","params":{"answer":"all set"}}`, // GenerateNextStepStreaming
		},
	}
	engine := reasoning.New(client)
	d := New(engine, fakeDispatcher{}, root)

	state := session.New()
	events := d.Run(context.Background(), "session-1", "inspect the repo", state)

	var seen []Event
	for ev := range events {
		seen = append(seen, ev)
	}

	require.NotEmpty(t, seen)
	assert.Equal(t, EventPlan, seen[0].EventType)
	last := seen[len(seen)-1]
	assert.Equal(t, EventComplete, last.EventType)
	assert.True(t, last.Done)
	assert.Equal(t, "all set", last.Result)
}

func TestDriver_RunExhaustsStepBudget(t *testing.T) {
	root := t.TempDir()

	responses := []string{"1. Do the thing"}
	for i := 0; i < 5; i++ {
		responses = append(responses, `<think>x</think>{"tool":"execute_shell","params":{"command":"true"}}`)
	}
	client := &fakeClient{responses: responses}
	engine := reasoning.New(client)
	d := New(engine, fakeDispatcher{}, root).WithMaxSteps(2)

	state := session.New()
	events := d.Run(context.Background(), "session-2", "loop forever", state)

	var last Event
	for ev := range events {
		last = ev
	}

	assert.Equal(t, EventComplete, last.EventType)
	assert.Equal(t, "step limit reached", last.Status)
}

func TestDriver_ExecutesLocalFileTools(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(root+"/notes.txt", []byte("hello"), 0o644))

	client := &fakeClient{
		responses: []string{
			"1. Read the file",
			`<think>reading</think>{"tool":"read_file","params":{"path":"notes.txt"}}`,
			`<think>done</think>{"tool":"complete","params":{"answer":"read it"}}`,
		},
	}
	engine := reasoning.New(client)
	d := New(engine, fakeDispatcher{}, root)

	state := session.New()
	events := d.Run(context.Background(), "session-3", "read notes.txt", state)

	var results []Event
	for ev := range events {
		if ev.EventType == EventResult {
			results = append(results, ev)
		}
	}

	require.Len(t, results, 1)
	assert.Equal(t, "read_file", results[0].Tool)
	assert.Contains(t, results[0].Result, "hello")
}
