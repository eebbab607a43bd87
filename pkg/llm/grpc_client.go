package llm

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tarsy-oss/funnel/pkg/llm/llmpb"
)

// GRPCClient implements Client by calling the LLM service described in
// proto/llm.proto. The service is expected to run as a sidecar or on
// localhost, so the channel is plaintext by default.
type GRPCClient struct {
	conn   *grpc.ClientConn
	client llmpb.LLMServiceClient
}

// NewGRPCClient dials addr and returns a ready Client.
func NewGRPCClient(addr string) (*GRPCClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial LLM service %s: %w", addr, err)
	}
	return &GRPCClient{conn: conn, client: llmpb.NewLLMServiceClient(conn)}, nil
}

// Generate streams a Generate RPC into a Chunk channel.
func (c *GRPCClient) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	req := toProtoRequest(input)

	stream, err := c.client.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("LLM Generate call failed: %w", err)
	}

	ch := make(chan Chunk, 32)
	go func() {
		defer close(ch)
		for {
			resp, err := stream.Recv()
			if err == io.EOF {
				return
			}
			if err != nil {
				select {
				case ch <- &ErrorChunk{Message: err.Error(), Retryable: false}:
				case <-ctx.Done():
				}
				return
			}
			chunk := fromProtoResponse(resp)
			if chunk == nil {
				continue
			}
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

// CheckModelStatus calls the warmup-status RPC. Nothing in this module calls
// it: the driver runs no background status task and reports no model-load
// progress.
func (c *GRPCClient) CheckModelStatus(ctx context.Context) (ModelStatus, error) {
	resp, err := c.client.Status(ctx, &llmpb.StatusRequest{})
	if err != nil {
		return ModelStatus{}, fmt.Errorf("LLM Status call failed: %w", err)
	}
	return ModelStatus{
		Loaded:      resp.GetLoaded(),
		VRAMPercent: int(resp.GetVramPercent()),
		Details:     resp.GetDetails(),
	}, nil
}

// Close releases the underlying gRPC connection.
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

func toProtoRequest(input *GenerateInput) *llmpb.GenerateRequest {
	msgs := make([]*llmpb.Message, 0, len(input.Messages))
	for _, m := range input.Messages {
		msgs = append(msgs, &llmpb.Message{Role: m.Role, Content: m.Content})
	}
	return &llmpb.GenerateRequest{
		SessionId:   input.SessionID,
		Messages:    msgs,
		Temperature: float32(input.Temperature),
		MaxTokens:   int32(input.MaxTokens),
	}
}

func fromProtoResponse(resp *llmpb.GenerateResponse) Chunk {
	switch payload := resp.GetPayload().(type) {
	case *llmpb.GenerateResponse_Text:
		return &TextChunk{Content: payload.Text}
	case *llmpb.GenerateResponse_Usage:
		return &UsageChunk{
			InputTokens:  int(payload.Usage.GetInputTokens()),
			OutputTokens: int(payload.Usage.GetOutputTokens()),
		}
	case *llmpb.GenerateResponse_Error:
		return &ErrorChunk{Message: payload.Error.GetMessage(), Retryable: payload.Error.GetRetryable()}
	default:
		return nil
	}
}
