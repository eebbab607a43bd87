package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseAgentCapabilities_SnakeCase(t *testing.T) {
	payload := []byte(`{"agent_id":"web-1","hostname":"web1.local","platform":"linux","ip_address":"10.0.0.5","discovery_port":41234,"grpc_port":50051,"capabilities":["shell"],"workspace_roots":["/srv/app"],"certificate_fingerprint":"aa:bb:cc"}`)
	cap, err := ParseAgentCapabilities(payload)
	assert.NoError(t, err)
	assert.Equal(t, "web-1", cap.AgentID)
	assert.Equal(t, "linux", cap.Platform)
	assert.Equal(t, 50051, cap.GrpcPort)
	assert.Equal(t, "aa:bb:cc", cap.CertificateFingerprint)
	assert.True(t, cap.HasCapability("SHELL"))
}

func TestParseAgentCapabilities_CamelCase(t *testing.T) {
	payload := []byte(`{"agentId":"web-2","hostname":"web2.local","platform":"windows","ipAddress":"10.0.0.6","discoveryPort":41234,"grpcPort":50052,"capabilities":["shell"],"workspaceRoots":["C:/work/app"]}`)
	cap, err := ParseAgentCapabilities(payload)
	assert.NoError(t, err)
	assert.Equal(t, "web-2", cap.AgentID)
	assert.Equal(t, "10.0.0.6", cap.IPAddress)
	assert.Equal(t, 50052, cap.GrpcPort)
}

func TestMappingCache_TTLExpiry(t *testing.T) {
	c := newMappingCache(10 * time.Millisecond)
	assert.False(t, c.fresh(time.Now()))

	c.replace([]AgentCapabilities{{AgentID: "a"}}, time.Now())
	assert.True(t, c.fresh(time.Now()))

	time.Sleep(20 * time.Millisecond)
	assert.False(t, c.fresh(time.Now()))
}

func TestMappingCache_GetCaseInsensitive(t *testing.T) {
	c := newMappingCache(time.Minute)
	c.replace([]AgentCapabilities{{AgentID: "Web-1"}}, time.Now())

	_, ok := c.get("web-1")
	assert.True(t, ok)
}

func TestMappingCache_MarkStaleEvictsOnlyOne(t *testing.T) {
	c := newMappingCache(time.Minute)
	c.replace([]AgentCapabilities{{AgentID: "a"}, {AgentID: "b"}}, time.Now())
	c.markStale("a")

	_, aOk := c.get("a")
	_, bOk := c.get("b")
	assert.False(t, aOk)
	assert.True(t, bOk)
}

func TestMappingCache_InvalidateClearsTTL(t *testing.T) {
	c := newMappingCache(time.Minute)
	c.replace([]AgentCapabilities{{AgentID: "a"}}, time.Now())
	c.invalidate()
	assert.False(t, c.fresh(time.Now()))
	assert.Empty(t, c.snapshot())
}

func TestServesWorkspace_PathSeparatorInsensitive(t *testing.T) {
	cap := AgentCapabilities{WorkspaceRoots: []string{`C:\work\app`}}
	assert.True(t, cap.ServesWorkspace("C:/work/app/src"))
}
