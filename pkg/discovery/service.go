package discovery

import (
	"fmt"
	"log/slog"
	"net"
	"time"
)

// DiscoveryMagic is the UDP payload that identifies a discovery probe to
// listening agents.
const DiscoveryMagic = "FUNNEL_DISCOVER"

const defaultDiscoveryTimeout = 2 * time.Second
const defaultTTL = 300 * time.Second
const discoveryReadBufferSize = 4096

// Service runs discovery rounds and serves cached lookups. It is safe for
// concurrent use and intended to be process-wide (the spec's "Discovery
// cache (process-wide)" data-model note).
type Service struct {
	cache            *mappingCache
	discoveryPort    int
	hostAddress      string // configured Docker-host address for direct probe, if any
	broadcastAddr    string
	discoveryTimeout time.Duration
	mirror           *redisMirror // optional, nil when unconfigured
}

// Config configures one Service instance.
type Config struct {
	DiscoveryPort    int
	HostAddress      string
	BroadcastAddr    string
	DiscoveryTimeout time.Duration
	TTL              time.Duration
}

// New returns a Service ready to run discovery rounds.
func New(cfg Config) *Service {
	timeout := cfg.DiscoveryTimeout
	if timeout <= 0 {
		timeout = defaultDiscoveryTimeout
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	broadcastAddr := cfg.BroadcastAddr
	if broadcastAddr == "" {
		broadcastAddr = "255.255.255.255"
	}
	return &Service{
		cache:            newMappingCache(ttl),
		discoveryPort:    cfg.DiscoveryPort,
		hostAddress:      cfg.HostAddress,
		broadcastAddr:    broadcastAddr,
		discoveryTimeout: timeout,
	}
}

// WithRedisMirror attaches an optional write-through cache mirror. Mirror
// failures never affect discovery results — see redis_mirror.go.
func (s *Service) WithRedisMirror(m *redisMirror) *Service {
	s.mirror = m
	return s
}

// Discover runs (or skips, if fresh and force=false) one discovery round and
// returns every known agent.
func (s *Service) Discover(force bool) []AgentCapabilities {
	now := time.Now()
	if !force && s.cache.fresh(now) {
		return s.cache.snapshot()
	}

	merged := map[string]AgentCapabilities{}

	if s.hostAddress != "" {
		if cap, ok := s.directProbe(); ok {
			cap.LastSeen = now
			merged[cap.AgentID] = cap
		}
	}

	for _, cap := range s.broadcastProbe() {
		cap.LastSeen = now
		merged[cap.AgentID] = cap
	}

	out := make([]AgentCapabilities, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	s.cache.replace(out, now)

	if s.mirror != nil {
		s.mirror.writeThrough(out)
	}

	return out
}

// GetAgent looks up one agent by id, case-insensitively, without triggering
// a new discovery round.
func (s *Service) GetAgent(id string) (AgentCapabilities, bool) {
	return s.cache.get(id)
}

// GetAgentsWithCapability returns every cached agent advertising cap.
func (s *Service) GetAgentsWithCapability(cap string) []AgentCapabilities {
	return s.cache.withCapability(cap)
}

// GetAgentsForWorkspace returns every cached agent serving path.
func (s *Service) GetAgentsForWorkspace(path string) []AgentCapabilities {
	return s.cache.forWorkspace(path)
}

// MarkAgentStale evicts a single cache entry, called by the dispatcher after
// an unreachable-agent error.
func (s *Service) MarkAgentStale(id string) { s.cache.markStale(id) }

// InvalidateCache clears the whole cache, forcing the next Discover to run a
// fresh round.
func (s *Service) InvalidateCache() { s.cache.invalidate() }

// directProbe sends one UDP datagram to the configured Docker-host address.
// The original host string is preserved in the reply's IPAddress field
// (Docker DNS handles resolution), unlike the broadcast path where the UDP
// source address supersedes whatever the agent claims.
func (s *Service) directProbe() (AgentCapabilities, bool) {
	addr := fmt.Sprintf("%s:%d", s.hostAddress, s.discoveryPort)
	conn, err := net.Dial("udp", addr)
	if err != nil {
		slog.Warn("discovery direct probe dial failed", "addr", addr, "error", err)
		return AgentCapabilities{}, false
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(DiscoveryMagic)); err != nil {
		slog.Warn("discovery direct probe send failed", "error", err)
		return AgentCapabilities{}, false
	}

	_ = conn.SetReadDeadline(time.Now().Add(s.discoveryTimeout))
	buf := make([]byte, discoveryReadBufferSize)
	n, err := conn.Read(buf)
	if err != nil {
		slog.Warn("discovery direct probe read failed", "error", err)
		return AgentCapabilities{}, false
	}

	cap, err := ParseAgentCapabilities(buf[:n])
	if err != nil {
		slog.Warn("discovery direct probe reply malformed", "error", err)
		return AgentCapabilities{}, false
	}
	cap.IPAddress = s.hostAddress
	return cap, true
}

// broadcastProbe binds an ephemeral UDP socket, broadcasts the magic to the
// LAN, and collects every reply until discoveryTimeout elapses.
func (s *Service) broadcastProbe() []AgentCapabilities {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		slog.Warn("discovery broadcast socket bind failed", "error", err)
		return nil
	}
	defer conn.Close()

	broadcastAddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", s.broadcastAddr, s.discoveryPort))
	if err != nil {
		slog.Warn("discovery broadcast address resolve failed", "error", err)
		return nil
	}

	if pc, ok := conn.(*net.UDPConn); ok {
		if err := setBroadcastOption(pc); err != nil {
			slog.Warn("discovery broadcast SO_BROADCAST failed", "error", err)
		}
	}

	if _, err := conn.WriteTo([]byte(DiscoveryMagic), broadcastAddr); err != nil {
		slog.Warn("discovery broadcast send failed", "error", err)
		return nil
	}

	deadline := time.Now().Add(s.discoveryTimeout)
	_ = conn.SetReadDeadline(deadline)

	seen := map[string]AgentCapabilities{}
	buf := make([]byte, discoveryReadBufferSize)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			break // timeout or socket closed — return what we have
		}
		cap, parseErr := ParseAgentCapabilities(buf[:n])
		if parseErr != nil {
			slog.Warn("discovery reply malformed, ignoring responder", "from", from, "error", parseErr)
			continue
		}
		if udpAddr, ok := from.(*net.UDPAddr); ok {
			cap.IPAddress = udpAddr.IP.String()
		}
		seen[cap.AgentID] = cap
	}

	out := make([]AgentCapabilities, 0, len(seen))
	for _, c := range seen {
		out = append(out, c)
	}
	return out
}
