package config

import "os"

// ExpandEnv expands environment variables in YAML content using Go's standard library.
// Supports both ${VAR} and $VAR syntax (standard shell-style).
//
// Examples:
//   - ${FUNNEL_AUDIT_DSN} → value of FUNNEL_AUDIT_DSN environment variable
//   - $ORCHESTRATOR_CERT_PATH → value of ORCHESTRATOR_CERT_PATH environment variable
//   - ${FUNNEL_HOST_ADDRESS}:${FUNNEL_DISCOVERY_PORT} → hostname:port with both variables expanded
//
// Missing variables expand to empty string. Validation should catch required fields that are empty.
func ExpandEnv(data []byte) []byte {
	expanded := os.ExpandEnv(string(data))
	return []byte(expanded)
}
