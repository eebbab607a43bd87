package audit

import (
	"context"
	"testing"
	"time"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarsy-oss/funnel/ent"
	"github.com/tarsy-oss/funnel/pkg/step"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestClient starts a throwaway Postgres container and returns an audit
// Client pointed at it, using ent's auto-migration instead of golang-migrate
// since the container starts from a blank database each run.
func newTestClient(t *testing.T) *Client {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("audit_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	drv, err := sql.Open(dialect.Postgres, connStr)
	require.NoError(t, err)

	entClient := ent.NewClient(ent.Driver(drv))
	require.NoError(t, entClient.Schema.Create(ctx))

	client := &Client{Client: entClient, db: drv.DB()}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestClient_HealthReportsConnectivity(t *testing.T) {
	client := newTestClient(t)

	health, err := Health(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
}

func TestWriter_PersistsRecord(t *testing.T) {
	client := newTestClient(t)
	w := NewWriter(client, 0)

	w.Record(Record{
		SessionID: "session-1",
		StepID:    "step-1",
		AgentID:   "agent-a",
		Tool:      step.ToolExecuteShell,
		Params:    map[string]any{"command": "ls"},
		Output:    "file.txt",
		Success:   true,
	})

	// Close drains the queue before returning, so by this point the record
	// above is either persisted or the test has already failed on Close's
	// underlying client.Close error.
	require.NoError(t, w.Close())

	rows, err := client.StepAuditRecord.Query().All(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "session-1", rows[0].SessionID)
	assert.Equal(t, "step-1", rows[0].StepID)
	assert.True(t, rows[0].Success)
}

func TestWriter_NilWriterDiscardsSilently(t *testing.T) {
	var w *Writer
	assert.NotPanics(t, func() {
		w.Record(Record{SessionID: "s", StepID: "1"})
		require.NoError(t, w.Close())
	})
}
