package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Initialize loads, merges, and validates the orchestrator's configuration.
// This is the primary entry point used by cmd/funnel.
//
// Steps performed:
//  1. Load a local .env file if present (development convenience only)
//  2. Load funnel.yaml from configPath, if it exists
//  3. Expand ${VAR} references inside the YAML text
//  4. Merge the parsed document onto DefaultConfig (user values override)
//  5. Apply the environment-variable overrides spec.md §6 reserves: discovery
//     tuning (FUNNEL_DISCOVERY_PORT, FUNNEL_DISCOVERY_TIMEOUT,
//     FUNNEL_HOST_ADDRESS), dispatcher transport (FUNNEL_INSECURE,
//     FUNNEL_CA_FINGERPRINT, ORCHESTRATOR_CERT_PATH, ORCHESTRATOR_KEY_PATH,
//     CA_CERT_PATH), and the two secrets that never belong in a checked-in
//     config file (FUNNEL_REDIS_URL, FUNNEL_AUDIT_DSN)
//  6. Validate the result
func Initialize(_ context.Context, configPath string) (*Config, error) {
	log := slog.With("config_path", configPath)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to load .env file", "error", err)
	}

	cfg := DefaultConfig()

	if configPath != "" {
		if err := mergeYAMLFile(cfg, configPath); err != nil {
			return nil, NewLoadError(configPath, err)
		}
		cfg.configPath = configPath
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	log.Info("configuration initialized",
		"llm_addr", cfg.LLM.Addr,
		"max_steps", cfg.Driver.MaxSteps,
		"audit_enabled", cfg.Audit.Enabled)

	return cfg, nil
}

// mergeYAMLFile parses path and merges it onto cfg, user values overriding
// the defaults already present. A missing file is not an error — funnel.yaml
// is always optional.
func mergeYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	data = ExpandEnv(data)

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	if err := mergo.Merge(cfg, parsed, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies the environment-variable bindings spec.md §6
// reserves for deployment-time configuration. Every one of these always wins
// over funnel.yaml, since they carry secrets or host-specific values that
// don't belong in a checked-in config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FUNNEL_DISCOVERY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Discovery.BroadcastPort = port
		} else {
			slog.Warn("invalid FUNNEL_DISCOVERY_PORT, ignoring", "value", v, "error", err)
		}
	}
	if v := os.Getenv("FUNNEL_DISCOVERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Discovery.Timeout = d
		} else {
			slog.Warn("invalid FUNNEL_DISCOVERY_TIMEOUT, ignoring", "value", v, "error", err)
		}
	}
	if v := os.Getenv("FUNNEL_HOST_ADDRESS"); v != "" {
		cfg.Discovery.DirectHostAddr = v
	}

	if v := os.Getenv("FUNNEL_INSECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Dispatch.Insecure = b
		} else {
			slog.Warn("invalid FUNNEL_INSECURE, ignoring", "value", v, "error", err)
		}
	}
	if v := os.Getenv("FUNNEL_CA_FINGERPRINT"); v != "" {
		cfg.Dispatch.CAFingerprint = v
	}
	if v := os.Getenv("ORCHESTRATOR_CERT_PATH"); v != "" {
		cfg.Dispatch.CertPath = v
	}
	if v := os.Getenv("ORCHESTRATOR_KEY_PATH"); v != "" {
		cfg.Dispatch.KeyPath = v
	}
	if v := os.Getenv("CA_CERT_PATH"); v != "" {
		cfg.Dispatch.CAPath = v
	}

	if v := os.Getenv("FUNNEL_REDIS_URL"); v != "" {
		cfg.Discovery.RedisURL = v
	}
	if v := os.Getenv("FUNNEL_AUDIT_DSN"); v != "" {
		cfg.Audit.DSN = v
	}
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	v := NewValidator(cfg)
	if err := v.ValidateAll(); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return verr
		}
		return err
	}
	return nil
}
