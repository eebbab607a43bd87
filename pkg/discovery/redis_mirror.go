package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisMirrorTTL = 60 * time.Second

// redisMirror is a pure write-through layer: every agent the local process
// discovers over UDP is also written into Redis under
// <namespace>:discovery:<agent_id> with the fixed redisMirrorTTL. Nothing in
// this module reads those entries back — this process's own mappingCache
// remains the source of truth, and every process still runs its own
// broadcast rounds — and any Redis error degrades silently to a log line. This is a
// pure optimization layer, not a substitute for per-process discovery: the
// spec's single-process non-goal stands regardless of whether Redis is
// configured.
type redisMirror struct {
	client    *redis.Client
	namespace string
}

// NewRedisMirror connects to redisURL and returns a mirror, or nil (not an
// error) if the connection cannot be established — discovery must work with
// no Redis configured at all.
func NewRedisMirror(redisURL, namespace string) *redisMirror {
	if redisURL == "" {
		return nil
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		slog.Warn("discovery redis mirror: invalid URL, disabling mirror", "error", err)
		return nil
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Warn("discovery redis mirror: ping failed, disabling mirror", "error", err)
		return nil
	}

	if namespace == "" {
		namespace = "funnel"
	}
	return &redisMirror{client: client, namespace: namespace}
}

func (m *redisMirror) key(agentID string) string {
	return fmt.Sprintf("%s:discovery:%s", m.namespace, agentID)
}

// writeThrough mirrors the freshly discovered set into Redis. Errors are
// logged and otherwise ignored — the in-process cache already has the
// authoritative data.
func (m *redisMirror) writeThrough(caps []AgentCapabilities) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, c := range caps {
		data, err := json.Marshal(c)
		if err != nil {
			continue
		}
		if err := m.client.Set(ctx, m.key(c.AgentID), data, redisMirrorTTL).Err(); err != nil {
			slog.Warn("discovery redis mirror write failed", "agent_id", c.AgentID, "error", err)
		}
	}
}

// Close releases the Redis connection.
func (m *redisMirror) Close() error {
	if m == nil {
		return nil
	}
	return m.client.Close()
}
