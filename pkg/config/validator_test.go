package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Server.ListenAddr = ":8443"
	return cfg
}

func TestValidateAll_AcceptsDefaults(t *testing.T) {
	assert.NoError(t, NewValidator(validConfig()).ValidateAll())
}

func TestValidateAll_RejectsBadListenAddr(t *testing.T) {
	cfg := validConfig()
	cfg.Server.ListenAddr = "not-a-host-port"
	assert.Error(t, NewValidator(cfg).ValidateAll())
}

func TestValidateAll_RejectsBadBroadcastAddr(t *testing.T) {
	cfg := validConfig()
	cfg.Discovery.BroadcastAddr = "not-an-ip"
	err := NewValidator(cfg).ValidateAll()
	assert.ErrorContains(t, err, "broadcast_addr")
}

func TestValidateAll_RejectsPartialMTLSMaterial(t *testing.T) {
	cfg := validConfig()
	cfg.Dispatch.CertPath = "/etc/funnel/cert.pem"
	cfg.Dispatch.KeyPath = "/etc/funnel/key.pem"
	// ca_path intentionally left empty
	err := NewValidator(cfg).ValidateAll()
	assert.ErrorContains(t, err, "cert_path/key_path/ca_path")
}

func TestValidateAll_AcceptsFullMTLSMaterial(t *testing.T) {
	cfg := validConfig()
	cfg.Dispatch.CertPath = "/etc/funnel/cert.pem"
	cfg.Dispatch.KeyPath = "/etc/funnel/key.pem"
	cfg.Dispatch.CAPath = "/etc/funnel/ca.pem"
	assert.NoError(t, NewValidator(cfg).ValidateAll())
}

func TestValidateAll_InsecureFlagBypassesPartialMTLSCheck(t *testing.T) {
	cfg := validConfig()
	cfg.Dispatch.Insecure = true
	cfg.Dispatch.CertPath = "/etc/funnel/cert.pem"
	// key_path/ca_path intentionally left empty — allowed once Insecure opts out.
	assert.NoError(t, NewValidator(cfg).ValidateAll())
}

func TestValidateAll_RejectsKeepaliveTimeoutAboveInterval(t *testing.T) {
	cfg := validConfig()
	cfg.Dispatch.KeepaliveInterval = 5 * time.Second
	cfg.Dispatch.KeepaliveTimeout = 10 * time.Second
	err := NewValidator(cfg).ValidateAll()
	assert.ErrorContains(t, err, "keepalive_timeout")
}

func TestValidateAll_RejectsAuditEnabledWithoutDSN(t *testing.T) {
	cfg := validConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.DSN = ""
	err := NewValidator(cfg).ValidateAll()
	assert.ErrorContains(t, err, "dsn")
}

func TestValidateAll_AcceptsAuditEnabledWithDSN(t *testing.T) {
	cfg := validConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.DSN = "postgres://localhost/funnel"
	assert.NoError(t, NewValidator(cfg).ValidateAll())
}

func TestValidateAll_RejectsInvalidLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "verbose"
	assert.Error(t, NewValidator(cfg).ValidateAll())
}
