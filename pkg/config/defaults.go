package config

import "time"

// DefaultConfig returns the configuration used when funnel.yaml is absent,
// and as the base a present funnel.yaml is merged onto (user values
// override, per mergo.WithOverride in loader.go).
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8443",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    0, // SSE streams hold the response open indefinitely
			ShutdownTimeout: 10 * time.Second,
		},
		LLM: LLMConfig{
			Addr:           "localhost:9090",
			RequestTimeout: 120 * time.Second,
		},
		Discovery: DiscoveryConfig{
			BroadcastAddr:  "255.255.255.255",
			BroadcastPort:  41234,
			Timeout:        2 * time.Second,
			CacheTTL:       300 * time.Second,
			RedisNamespace: "funnel:agents",
		},
		Dispatch: DispatchConfig{
			KeepaliveInterval: 30 * time.Second,
			KeepaliveTimeout:  10 * time.Second,
			MaxMessageBytes:   500 << 20,
		},
		Guardrail: GuardrailConfig{
			DuplicateWindow:     10,
			LoopWindow:          5,
			ReplaceFailureLimit: 2,
		},
		Driver: DriverConfig{
			MaxSteps:       8,
			StepBudget:     15,
			GoalCheckEvery: 3,
			WorkspaceRoot:  ".",
		},
		Audit: AuditConfig{
			Enabled:       false,
			FlushInterval: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
