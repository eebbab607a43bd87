// Package discovery finds agents on the LAN via UDP broadcast (and an
// optional direct probe of a configured Docker-host address), caches the
// result with a TTL, and resolves symbolic names to endpoints for the
// gRPC Dispatcher.
package discovery

import (
	"encoding/json"
	"strings"
	"time"
)

// AgentCapabilities is what one agent reports about itself in its discovery
// reply. This is the wire format's canonical camelCase shape; ParseAgentCapabilities
// also accepts a snake_case reply for agents that serialize that way.
type AgentCapabilities struct {
	AgentID                string    `json:"agentId"`
	Hostname               string    `json:"hostname"`
	Platform               string    `json:"platform"`
	IPAddress              string    `json:"ipAddress"`
	DiscoveryPort          int       `json:"discoveryPort"`
	GrpcPort               int       `json:"grpcPort"`
	Capabilities           []string  `json:"capabilities"`
	WorkspaceRoots         []string  `json:"workspaceRoots"`
	CertificateFingerprint string    `json:"certificateFingerprint"`
	LastSeen               time.Time `json:"lastSeen"`
}

// agentCapabilitiesSnake mirrors AgentCapabilities with snake_case tags, used
// as a second decode attempt when the camelCase shape yields an empty
// AgentID (most replies use one convention consistently, but both are
// accepted per the discovery contract).
type agentCapabilitiesSnake struct {
	AgentID                string    `json:"agent_id"`
	Hostname               string    `json:"hostname"`
	Platform               string    `json:"platform"`
	IPAddress              string    `json:"ip_address"`
	DiscoveryPort          int       `json:"discovery_port"`
	GrpcPort               int       `json:"grpc_port"`
	Capabilities           []string  `json:"capabilities"`
	WorkspaceRoots         []string  `json:"workspace_roots"`
	CertificateFingerprint string    `json:"certificate_fingerprint"`
	LastSeen               time.Time `json:"last_seen"`
}

// ParseAgentCapabilities decodes a discovery reply payload, accepting either
// field-name convention.
func ParseAgentCapabilities(payload []byte) (AgentCapabilities, error) {
	var camel AgentCapabilities
	if err := json.Unmarshal(payload, &camel); err != nil {
		return AgentCapabilities{}, err
	}
	if camel.AgentID != "" {
		return camel, nil
	}

	var snake agentCapabilitiesSnake
	if err := json.Unmarshal(payload, &snake); err != nil {
		return camel, nil
	}
	return AgentCapabilities{
		AgentID:                snake.AgentID,
		Hostname:               snake.Hostname,
		Platform:               snake.Platform,
		IPAddress:              snake.IPAddress,
		DiscoveryPort:          snake.DiscoveryPort,
		GrpcPort:               snake.GrpcPort,
		Capabilities:           snake.Capabilities,
		WorkspaceRoots:         snake.WorkspaceRoots,
		CertificateFingerprint: snake.CertificateFingerprint,
		LastSeen:               snake.LastSeen,
	}, nil
}

// HasCapability reports whether cap is present, case-insensitively.
func (a AgentCapabilities) HasCapability(cap string) bool {
	for _, c := range a.Capabilities {
		if strings.EqualFold(c, cap) {
			return true
		}
	}
	return false
}

// ServesWorkspace reports whether path matches one of the agent's workspace
// roots, tolerant of path-separator differences (Windows agents report
// backslash paths).
func (a AgentCapabilities) ServesWorkspace(path string) bool {
	norm := func(p string) string { return strings.ToLower(strings.ReplaceAll(p, "\\", "/")) }
	np := norm(path)
	for _, root := range a.WorkspaceRoots {
		nr := norm(root)
		if strings.HasPrefix(np, nr) || strings.HasPrefix(nr, np) {
			return true
		}
	}
	return false
}

// cacheEntry pairs a capability record with the time it was last confirmed.
type cacheEntry struct {
	cap      AgentCapabilities
	cachedAt time.Time
}
