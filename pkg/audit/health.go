package audit

import (
	"context"
	"time"
)

// HealthStatus reports audit-database connectivity and pool statistics, for
// readiness probes.
type HealthStatus struct {
	Status          string        `json:"status"`
	ResponseTime    int64         `json:"response_time_ms"`
	OpenConnections int           `json:"open_connections"`
	InUse           int           `json:"in_use"`
	Idle            int           `json:"idle"`
}

// Health pings the audit database and reports connection pool statistics.
func Health(ctx context.Context, c *Client) (*HealthStatus, error) {
	start := time.Now()
	if err := c.DB().PingContext(ctx); err != nil {
		return &HealthStatus{Status: "unhealthy", ResponseTime: time.Since(start).Milliseconds()}, err
	}

	stats := c.DB().Stats()
	return &HealthStatus{
		Status:          "healthy",
		ResponseTime:    time.Since(start).Milliseconds(),
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
	}, nil
}
