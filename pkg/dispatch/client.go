package dispatch

import (
	"context"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tarsy-oss/funnel/pkg/dispatch/agentpb"
	"github.com/tarsy-oss/funnel/pkg/discovery"
)

// timeoutSlackSeconds is added to the caller's requested timeout when
// setting the gRPC deadline, so the agent (not the client) is the one that
// surfaces a command timeout.
const timeoutSlackSeconds = 10

// resolver is the subset of discovery.Service the dispatcher depends on.
type resolver interface {
	GetAgent(id string) (discovery.AgentCapabilities, bool)
	Discover(force bool) []discovery.AgentCapabilities
}

// Client is the gRPC Dispatcher.
type Client struct {
	pool     *channelPool
	resolver resolver
}

// NewClient returns a Client resolving agents through resolver. certPath/
// keyPath/caPath are the mTLS material paths; insecure explicitly opts out
// of mTLS regardless of whether they're set, and caFingerprint optionally
// pins every agent's leaf certificate by SHA-256 fingerprint (an agent's own
// discovery-advertised fingerprint, when present, takes precedence).
func NewClient(resolver resolver, certPath, keyPath, caPath string, insecure bool, caFingerprint string) *Client {
	return &Client{
		pool:     newChannelPool(certPath, keyPath, caPath, insecure, caFingerprint),
		resolver: resolver,
	}
}

// resolve finds agent_id via the Discovery cache, forcing one fresh
// discovery round on a cache miss. A second miss is fatal.
func (c *Client) resolve(agentID string) (discovery.AgentCapabilities, error) {
	if cap, ok := c.resolver.GetAgent(agentID); ok {
		return cap, nil
	}
	c.resolver.Discover(true)
	if cap, ok := c.resolver.GetAgent(agentID); ok {
		return cap, nil
	}
	return discovery.AgentCapabilities{}, fmt.Errorf("agent not found: %s", agentID)
}

func (c *Client) channelFor(agentID string) (*pooledChannel, error) {
	cap, err := c.resolve(agentID)
	if err != nil {
		return nil, err
	}
	key := channelKey{agentID: agentID, ip: cap.IPAddress, port: cap.GrpcPort}
	return c.pool.get(key, cap.Hostname, cap.CertificateFingerprint)
}

// Execute runs one unary command on agentID.
func (c *Client) Execute(ctx context.Context, agentID string, p ExecuteParams) (TaskResult, error) {
	pc, err := c.channelFor(agentID)
	if err != nil {
		return TaskResult{}, err
	}

	deadline := time.Duration(p.TimeoutSeconds+timeoutSlackSeconds) * time.Second
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	resp, err := pc.client.Execute(callCtx, &agentpb.ExecuteRequest{
		TaskId:           p.TaskID,
		TaskType:         protoTaskType(p.TaskType),
		Command:          p.Command,
		TimeoutSeconds:   int32(p.TimeoutSeconds),
		RequireElevation: p.RequireElevation,
		WorkingDirectory: p.WorkingDirectory,
		Environment:      p.Environment,
	})
	if err != nil {
		return TaskResult{Success: false, ErrorCode: mapGRPCError(err)}, nil
	}

	return TaskResult{
		Success:    resp.GetSuccess(),
		Stdout:     resp.GetStdout(),
		Stderr:     resp.GetStderr(),
		ExitCode:   int(resp.GetExitCode()),
		ErrorCode:  normalizeErrorCode(resp.GetErrorCode()),
		DurationMs: resp.GetDurationMs(),
		TaskID:     resp.GetTaskId(),
	}, nil
}

// ExecuteStreaming runs one streaming command, yielding TaskOutput values on
// the returned channel. Streaming errors are yielded as one final
// TaskOutput{OutputType: OutputError} rather than returned.
func (c *Client) ExecuteStreaming(ctx context.Context, agentID string, p ExecuteParams) (<-chan TaskOutput, error) {
	pc, err := c.channelFor(agentID)
	if err != nil {
		return nil, err
	}

	deadline := time.Duration(p.TimeoutSeconds+timeoutSlackSeconds) * time.Second
	callCtx, cancel := context.WithTimeout(ctx, deadline)

	stream, err := pc.client.ExecuteStreaming(callCtx, &agentpb.ExecuteRequest{
		TaskId:           p.TaskID,
		TaskType:         protoTaskType(p.TaskType),
		Command:          p.Command,
		TimeoutSeconds:   int32(p.TimeoutSeconds),
		RequireElevation: p.RequireElevation,
		WorkingDirectory: p.WorkingDirectory,
		Environment:      p.Environment,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ExecuteStreaming call failed: %w", err)
	}

	out := make(chan TaskOutput, 32)
	go func() {
		defer cancel()
		defer close(out)
		for {
			resp, err := stream.Recv()
			if err == io.EOF {
				return
			}
			if err != nil {
				out <- TaskOutput{TaskID: p.TaskID, OutputType: OutputError, Content: err.Error()}
				return
			}
			out <- TaskOutput{
				TaskID:      resp.GetTaskId(),
				OutputType:  normalizeOutputType(resp.GetOutputType()),
				Content:     resp.GetContent(),
				TimestampMs: resp.GetTimestampMs(),
			}
		}
	}()

	return out, nil
}

// Ping checks whether agentID's channel is alive.
func (c *Client) Ping(ctx context.Context, agentID string) (bool, error) {
	pc, err := c.channelFor(agentID)
	if err != nil {
		return false, err
	}
	resp, err := pc.client.Ping(ctx, &agentpb.PingRequest{})
	if err != nil {
		return false, fmt.Errorf("ping %s: %w", agentID, err)
	}
	return resp.GetAlive(), nil
}

// GetStatus reports whether taskID is still running on agentID.
func (c *Client) GetStatus(ctx context.Context, agentID, taskID string) (bool, error) {
	pc, err := c.channelFor(agentID)
	if err != nil {
		return false, err
	}
	resp, err := pc.client.GetStatus(ctx, &agentpb.StatusRequest{TaskId: taskID})
	if err != nil {
		return false, fmt.Errorf("get_status %s/%s: %w", agentID, taskID, err)
	}
	return resp.GetRunning(), nil
}

// Cancel requests cancellation of taskID on agentID.
func (c *Client) Cancel(ctx context.Context, agentID, taskID string) (bool, error) {
	pc, err := c.channelFor(agentID)
	if err != nil {
		return false, err
	}
	resp, err := pc.client.Cancel(ctx, &agentpb.CancelRequest{TaskId: taskID})
	if err != nil {
		return false, fmt.Errorf("cancel %s/%s: %w", agentID, taskID, err)
	}
	return resp.GetCancelled(), nil
}

// Close shuts down every pooled channel.
func (c *Client) Close() {
	c.pool.closeAll()
}

// mapGRPCError normalizes a transport-level gRPC error into the dispatcher's
// ErrorCode taxonomy.
func mapGRPCError(err error) ErrorCode {
	st, ok := status.FromError(err)
	if !ok {
		return ErrorCodeGRPC
	}
	switch st.Code() {
	case codes.DeadlineExceeded:
		return ErrorCodeTimeout
	case codes.Canceled:
		return ErrorCodeCancelled
	case codes.PermissionDenied, codes.Unauthenticated:
		return ErrorCodePermissionDenied
	case codes.NotFound:
		return ErrorCodeNotFound
	default:
		return ErrorCodeGRPC
	}
}
