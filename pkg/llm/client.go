// Package llm is the Go-side client for the reasoning LLM: a single
// gRPC-backed text-generation call streamed as raw content chunks. The
// model's structured "step" output lives entirely inside the streamed text
// (a trailing JSON object after a <think> block) — this package carries no
// opinion about that shape, which belongs to pkg/reasoning.
package llm

import "context"

// Client is the interface the Reasoning Engine calls against. Generate
// returns a channel of Chunk values, closed when the stream completes. A
// call that cannot be started returns an error; errors after the stream has
// started surface as a final ErrorChunk so partial output already sent to
// the caller is never lost.
type Client interface {
	Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error)
	Close() error
}

// Conversation message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the conversation sent to the LLM.
type Message struct {
	Role    string
	Content string
}

// GenerateInput is one text-generation request.
type GenerateInput struct {
	SessionID   string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Chunk is the interface for all streaming chunk types.
type Chunk interface {
	chunkType() chunkKind
}

type chunkKind string

const (
	chunkText  chunkKind = "text"
	chunkUsage chunkKind = "usage"
	chunkError chunkKind = "error"
)

// TextChunk is a raw slice of the LLM's output text, handed unmodified to
// the reasoning engine's StreamParser.
type TextChunk struct{ Content string }

// UsageChunk reports token consumption for the completed call.
type UsageChunk struct{ InputTokens, OutputTokens int }

// ErrorChunk signals an error from the LLM provider. It is the final value
// on the channel when present.
type ErrorChunk struct {
	Message   string
	Retryable bool
}

func (c *TextChunk) chunkType() chunkKind  { return chunkText }
func (c *UsageChunk) chunkType() chunkKind { return chunkUsage }
func (c *ErrorChunk) chunkType() chunkKind { return chunkError }

// ModelStatus reports on the warmup state of the backing model, as returned
// by GRPCClient.CheckModelStatus.
type ModelStatus struct {
	Loaded      bool
	VRAMPercent int
	Details     string
}
