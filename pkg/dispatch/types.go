// Package dispatch is the gRPC Dispatcher: an mTLS channel pool to remote
// agents exposing unary and server-streaming Execute, plus Ping/GetStatus/
// Cancel. It normalizes every result into TaskResult/TaskOutput regardless
// of which gRPC status code or agent-reported error the call surfaced.
package dispatch

import (
	"github.com/tarsy-oss/funnel/pkg/dispatch/agentpb"
)

// TaskType mirrors the agent-side task kinds from proto/agent.proto.
type TaskType string

const (
	TaskShell      TaskType = "shell"
	TaskPowerShell TaskType = "powershell"
	TaskReadFile   TaskType = "read_file"
	TaskWriteFile  TaskType = "write_file"
	TaskListDir    TaskType = "list_directory"
	TaskDotnet     TaskType = "dotnet_code"
)

// ErrorCode is the normalized error taxonomy surfaced to the Driver,
// regardless of whether the failure originated from gRPC transport or from
// the agent's own task execution.
type ErrorCode string

const (
	ErrorCodeNone               ErrorCode = "none"
	ErrorCodeTimeout            ErrorCode = "timeout"
	ErrorCodeElevationRequired  ErrorCode = "elevation_required"
	ErrorCodeNotFound           ErrorCode = "not_found"
	ErrorCodePermissionDenied   ErrorCode = "permission_denied"
	ErrorCodeInternal           ErrorCode = "internal"
	ErrorCodeCancelled          ErrorCode = "cancelled"
	ErrorCodeGRPC               ErrorCode = "grpc_error"
)

// TaskResult is the normalized result of one unary Execute call.
type TaskResult struct {
	Success    bool
	Stdout     string
	Stderr     string
	ExitCode   int
	ErrorCode  ErrorCode
	DurationMs int64
	TaskID     string
}

// OutputType identifies one streamed TaskOutput's content kind.
type OutputType string

const (
	OutputStdout OutputType = "stdout"
	OutputStderr OutputType = "stderr"
	OutputStatus OutputType = "status"
	OutputError  OutputType = "error"
)

// TaskOutput is one element of an ExecuteStreaming response.
type TaskOutput struct {
	TaskID      string
	OutputType  OutputType
	Content     string
	TimestampMs int64
}

// ExecuteParams is one Execute/ExecuteStreaming request.
type ExecuteParams struct {
	TaskID            string
	TaskType          TaskType
	Command           string
	TimeoutSeconds    int
	RequireElevation  bool
	WorkingDirectory  string
	Environment       map[string]string
}

func protoTaskType(t TaskType) agentpb.TaskType {
	switch t {
	case TaskShell:
		return agentpb.TaskType_SHELL
	case TaskPowerShell:
		return agentpb.TaskType_POWERSHELL
	case TaskReadFile:
		return agentpb.TaskType_READ_FILE
	case TaskWriteFile:
		return agentpb.TaskType_WRITE_FILE
	case TaskListDir:
		return agentpb.TaskType_LIST_DIRECTORY
	case TaskDotnet:
		return agentpb.TaskType_DOTNET_CODE
	default:
		return agentpb.TaskType_TASK_TYPE_UNSPECIFIED
	}
}

func normalizeErrorCode(c agentpb.ErrorCode) ErrorCode {
	switch c {
	case agentpb.ErrorCode_TIMEOUT:
		return ErrorCodeTimeout
	case agentpb.ErrorCode_ELEVATION_REQUIRED:
		return ErrorCodeElevationRequired
	case agentpb.ErrorCode_NOT_FOUND:
		return ErrorCodeNotFound
	case agentpb.ErrorCode_PERMISSION_DENIED:
		return ErrorCodePermissionDenied
	case agentpb.ErrorCode_INTERNAL:
		return ErrorCodeInternal
	case agentpb.ErrorCode_CANCELLED:
		return ErrorCodeCancelled
	default:
		return ErrorCodeNone
	}
}

func normalizeOutputType(t agentpb.OutputType) OutputType {
	switch t {
	case agentpb.OutputType_STDOUT:
		return OutputStdout
	case agentpb.OutputType_STDERR:
		return OutputStderr
	case agentpb.OutputType_STATUS:
		return OutputStatus
	default:
		return OutputError
	}
}
