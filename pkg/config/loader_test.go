package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialize_DefaultsWhenNoFile(t *testing.T) {
	cfg, err := Initialize(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().LLM.Addr, cfg.LLM.Addr)
	assert.Equal(t, "", cfg.ConfigPath())
}

func TestInitialize_MergesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "funnel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  addr: "llm.internal:9090"
driver:
  max_steps: 12
  step_budget: 20
  goal_check_every: 3
  workspace_root: "/srv/funnel"
`), 0o644))

	cfg, err := Initialize(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "llm.internal:9090", cfg.LLM.Addr)
	assert.Equal(t, 12, cfg.Driver.MaxSteps)
	assert.Equal(t, path, cfg.ConfigPath())

	// Untouched sections keep their defaults.
	assert.Equal(t, DefaultConfig().Discovery.BroadcastPort, cfg.Discovery.BroadcastPort)
}

func TestInitialize_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := Initialize(context.Background(), "/no/such/funnel.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.ListenAddr, cfg.Server.ListenAddr)
}

func TestInitialize_InvalidYAMLFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "funnel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid: yaml"), 0o644))

	_, err := Initialize(context.Background(), path)
	assert.Error(t, err)
}

func TestInitialize_EnvOverridesRedisURL(t *testing.T) {
	t.Setenv("FUNNEL_REDIS_URL", "redis://override:6379/0")

	cfg, err := Initialize(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "redis://override:6379/0", cfg.Discovery.RedisURL)
}

func TestInitialize_EnvOverridesDiscoveryAndDispatchSettings(t *testing.T) {
	t.Setenv("FUNNEL_DISCOVERY_PORT", "41234")
	t.Setenv("FUNNEL_DISCOVERY_TIMEOUT", "3s")
	t.Setenv("FUNNEL_HOST_ADDRESS", "funnel-agent.internal")
	t.Setenv("FUNNEL_INSECURE", "true")
	t.Setenv("FUNNEL_CA_FINGERPRINT", "aa:bb:cc")
	t.Setenv("ORCHESTRATOR_CERT_PATH", "/etc/funnel/cert.pem")
	t.Setenv("ORCHESTRATOR_KEY_PATH", "/etc/funnel/key.pem")
	t.Setenv("CA_CERT_PATH", "/etc/funnel/ca.pem")

	cfg, err := Initialize(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 41234, cfg.Discovery.BroadcastPort)
	assert.Equal(t, 3*time.Second, cfg.Discovery.Timeout)
	assert.Equal(t, "funnel-agent.internal", cfg.Discovery.DirectHostAddr)
	assert.True(t, cfg.Dispatch.Insecure)
	assert.Equal(t, "aa:bb:cc", cfg.Dispatch.CAFingerprint)
	assert.Equal(t, "/etc/funnel/cert.pem", cfg.Dispatch.CertPath)
	assert.Equal(t, "/etc/funnel/key.pem", cfg.Dispatch.KeyPath)
	assert.Equal(t, "/etc/funnel/ca.pem", cfg.Dispatch.CAPath)
}

func TestInitialize_ValidationFailsOnPartialMTLS(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "funnel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dispatch:
  cert_path: "/etc/funnel/cert.pem"
`), 0o644))

	_, err := Initialize(context.Background(), path)
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("FUNNEL_TEST_VAR", "expanded")
	out := ExpandEnv([]byte("addr: ${FUNNEL_TEST_VAR}:9090"))
	assert.Equal(t, "addr: expanded:9090", string(out))
}
