package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tarsy-oss/funnel/pkg/dispatch/agentpb"
)

func TestProtoTaskType_RoundTrips(t *testing.T) {
	cases := map[TaskType]agentpb.TaskType{
		TaskShell:      agentpb.TaskType_SHELL,
		TaskPowerShell: agentpb.TaskType_POWERSHELL,
		TaskReadFile:   agentpb.TaskType_READ_FILE,
		TaskWriteFile:  agentpb.TaskType_WRITE_FILE,
		TaskListDir:    agentpb.TaskType_LIST_DIRECTORY,
		TaskDotnet:     agentpb.TaskType_DOTNET_CODE,
	}
	for in, want := range cases {
		assert.Equal(t, want, protoTaskType(in))
	}
}

func TestNormalizeErrorCode(t *testing.T) {
	assert.Equal(t, ErrorCodeTimeout, normalizeErrorCode(agentpb.ErrorCode_TIMEOUT))
	assert.Equal(t, ErrorCodePermissionDenied, normalizeErrorCode(agentpb.ErrorCode_PERMISSION_DENIED))
	assert.Equal(t, ErrorCodeNone, normalizeErrorCode(agentpb.ErrorCode_ERROR_CODE_NONE))
}

func TestMapGRPCError(t *testing.T) {
	assert.Equal(t, ErrorCodeTimeout, mapGRPCError(status.Error(codes.DeadlineExceeded, "x")))
	assert.Equal(t, ErrorCodeCancelled, mapGRPCError(status.Error(codes.Canceled, "x")))
	assert.Equal(t, ErrorCodePermissionDenied, mapGRPCError(status.Error(codes.PermissionDenied, "x")))
	assert.Equal(t, ErrorCodeGRPC, mapGRPCError(status.Error(codes.Unknown, "x")))
}

func TestTransportCredentials_InsecureWhenNoMaterialConfigured(t *testing.T) {
	p := newChannelPool("", "", "", false, "")
	creds, err := p.transportCredentials("agent-host", "")
	assert.NoError(t, err)
	assert.Equal(t, "insecure", creds.Info().SecurityProtocol)
}

func TestTransportCredentials_InsecureFlagSkipsMTLSEvenWithMaterialConfigured(t *testing.T) {
	p := newChannelPool("/no/such/cert.pem", "/no/such/key.pem", "/no/such/ca.pem", true, "")
	creds, err := p.transportCredentials("agent-host", "")
	assert.NoError(t, err)
	assert.Equal(t, "insecure", creds.Info().SecurityProtocol)
}

func TestTransportCredentials_ErrorsWhenMaterialMissingAndNotInsecure(t *testing.T) {
	p := newChannelPool("/no/such/cert.pem", "/no/such/key.pem", "/no/such/ca.pem", false, "")
	_, err := p.transportCredentials("agent-host", "")
	assert.Error(t, err)
}

func TestNormalizeFingerprint_StripsColonsAndCase(t *testing.T) {
	assert.Equal(t, "aabbcc", normalizeFingerprint("AA:BB:CC"))
}

func TestAllFilesExist(t *testing.T) {
	assert.False(t, allFilesExist("/definitely/not/here"))
}
