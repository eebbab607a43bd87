package config

import "time"

// Config is the umbrella object returned by Initialize and threaded through
// cmd/funnel's wiring. Session-scoped runtime state never lives here — this
// is loaded once at process start and handed down as an immutable value.
type Config struct {
	configPath string

	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Guardrail GuardrailConfig `yaml:"guardrail"`
	Driver    DriverConfig    `yaml:"driver"`
	Audit     AuditConfig     `yaml:"audit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ConfigPath returns the file this configuration was loaded from, or ""
// when it was built entirely from defaults and environment variables.
func (c *Config) ConfigPath() string {
	return c.configPath
}

// ServerConfig controls the thin HTTP/SSE surface in pkg/api.
type ServerConfig struct {
	ListenAddr  string        `yaml:"listen_addr" validate:"required"`
	ReadTimeout time.Duration `yaml:"read_timeout" validate:"required"`
	// WriteTimeout is 0 by default — unbounded, since SSE responses hold the
	// connection open indefinitely.
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"required"`
}

// LLMConfig addresses the out-of-scope LLM completion service over gRPC.
// RequestTimeout is loaded and validated but not applied to any call.
type LLMConfig struct {
	Addr           string        `yaml:"addr" validate:"required"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"required"`
}

// DiscoveryConfig tunes the UDP-broadcast agent discovery round.
type DiscoveryConfig struct {
	BroadcastAddr  string        `yaml:"broadcast_addr" validate:"required"`
	BroadcastPort  int           `yaml:"broadcast_port" validate:"required,min=1,max=65535"`
	Timeout        time.Duration `yaml:"timeout" validate:"required"`
	CacheTTL       time.Duration `yaml:"cache_ttl" validate:"required"`
	DirectHostAddr string        `yaml:"direct_host_addr,omitempty"`
	RedisURL       string        `yaml:"redis_url,omitempty"`
	RedisNamespace string        `yaml:"redis_namespace,omitempty"`
}

// DispatchConfig tunes the mTLS gRPC channel pool to remote agents. The
// pool reads the cert/key/CA paths, Insecure and CAFingerprint; the
// keepalive and message-size fields are loaded and validated, but the pool
// uses its own built-in values for them.
type DispatchConfig struct {
	CertPath string `yaml:"cert_path,omitempty"`
	KeyPath  string `yaml:"key_path,omitempty"`
	CAPath   string `yaml:"ca_path,omitempty"`
	// Insecure explicitly opts out of mTLS. Unlike the file-presence fallback
	// this is the external interface contract's actual opt-out switch — set
	// it (or FUNNEL_INSECURE) to skip mTLS even when cert/key/ca paths are
	// configured.
	Insecure bool `yaml:"insecure,omitempty"`
	// CAFingerprint, if set, pins the agent's leaf certificate to this
	// SHA-256 fingerprint (hex, colon- or non-separated) in addition to
	// standard chain verification against CAPath.
	CAFingerprint     string        `yaml:"ca_fingerprint,omitempty"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval" validate:"required"`
	KeepaliveTimeout  time.Duration `yaml:"keepalive_timeout" validate:"required"`
	MaxMessageBytes   int           `yaml:"max_message_bytes" validate:"required,min=1"`
}

// GuardrailConfig holds duplicate/loop thresholds. They are loaded and
// validated but not passed to pkg/guardrail, which uses its own built-in
// thresholds.
type GuardrailConfig struct {
	DuplicateWindow     int `yaml:"duplicate_window" validate:"required,min=1"`
	LoopWindow          int `yaml:"loop_window" validate:"required,min=1"`
	ReplaceFailureLimit int `yaml:"replace_failure_limit" validate:"required,min=1"`
}

// DriverConfig tunes the OODA loop orchestrator. Only MaxSteps is applied
// (as the default when a request gives none); StepBudget, GoalCheckEvery and
// WorkspaceRoot are loaded and validated but the driver and engine use their
// own built-in values and the request's workspace_root.
type DriverConfig struct {
	MaxSteps       int    `yaml:"max_steps" validate:"required,min=1,max=50"`
	StepBudget     int    `yaml:"step_budget" validate:"required,min=1"`
	GoalCheckEvery int    `yaml:"goal_check_every" validate:"required,min=1"`
	WorkspaceRoot  string `yaml:"workspace_root" validate:"required"`
}

// AuditConfig points the best-effort compliance log at its Postgres backend.
type AuditConfig struct {
	Enabled        bool          `yaml:"enabled"`
	DSN            string        `yaml:"dsn,omitempty"`
	MigrationsPath string        `yaml:"migrations_path,omitempty"`
	FlushInterval  time.Duration `yaml:"flush_interval,omitempty"`
}

// LoggingConfig configures the log/slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}
