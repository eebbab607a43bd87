package config

import (
	"fmt"
	"net"

	"github.com/go-playground/validator/v10"
)

// Validator validates configuration comprehensively with clear error messages.
type Validator struct {
	cfg *Config
	v   *validator.Validate
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg, v: validator.New()}
}

// ValidateAll performs comprehensive validation (fail-fast — stops at the
// first error). Struct-tag rules run first, then the cross-field invariants
// that validate tags can't express.
func (val *Validator) ValidateAll() error {
	if err := val.v.Struct(val.cfg); err != nil {
		return NewValidationError("config", "", err)
	}

	if err := val.validateServer(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}
	if err := val.validateDiscovery(); err != nil {
		return fmt.Errorf("discovery validation failed: %w", err)
	}
	if err := val.validateDispatch(); err != nil {
		return fmt.Errorf("dispatch validation failed: %w", err)
	}
	if err := val.validateAudit(); err != nil {
		return fmt.Errorf("audit validation failed: %w", err)
	}

	return nil
}

func (val *Validator) validateServer() error {
	if _, _, err := net.SplitHostPort(val.cfg.Server.ListenAddr); err != nil {
		return NewValidationError("server", "listen_addr", err)
	}
	return nil
}

func (val *Validator) validateDiscovery() error {
	d := val.cfg.Discovery
	if net.ParseIP(d.BroadcastAddr) == nil {
		return NewValidationError("discovery", "broadcast_addr", fmt.Errorf("not a valid IP address: %s", d.BroadcastAddr))
	}
	if d.Timeout <= 0 {
		return NewValidationError("discovery", "timeout", fmt.Errorf("must be positive"))
	}
	if d.CacheTTL <= 0 {
		return NewValidationError("discovery", "cache_ttl", fmt.Errorf("must be positive"))
	}
	return nil
}

// validateDispatch enforces mTLS-material all-or-nothing: either none of
// cert/key/ca are set (insecure transport, development only) or all three
// are, never a partial set that would silently degrade to insecure. The
// explicit Insecure flag bypasses this requirement entirely.
func (val *Validator) validateDispatch() error {
	d := val.cfg.Dispatch
	set := 0
	for _, p := range []string{d.CertPath, d.KeyPath, d.CAPath} {
		if p != "" {
			set++
		}
	}
	if !d.Insecure && set != 0 && set != 3 {
		return NewValidationError("dispatch", "cert_path/key_path/ca_path", fmt.Errorf("mTLS material must be all set or all empty, got %d of 3", set))
	}
	if d.KeepaliveTimeout >= d.KeepaliveInterval {
		return NewValidationError("dispatch", "keepalive_timeout", fmt.Errorf("must be less than keepalive_interval"))
	}
	return nil
}

func (val *Validator) validateAudit() error {
	a := val.cfg.Audit
	if a.Enabled && a.DSN == "" {
		return NewValidationError("audit", "dsn", fmt.Errorf("required when audit.enabled is true"))
	}
	return nil
}
