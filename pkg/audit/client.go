// Package audit mirrors accepted steps into a durable, best-effort
// compliance log. It is never read back to reconstruct session state — see
// pkg/session for the in-memory, process-scoped source of truth.
package audit

import (
	"context"
	stdsql "database/sql"
	"embed"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx driver under database/sql
	"github.com/tarsy-oss/funnel/ent"
	"github.com/tarsy-oss/funnel/pkg/config"
)

//go:embed migrations
var migrationsFS embed.FS

// Client wraps the generated ent client and the underlying *sql.DB.
type Client struct {
	*ent.Client
	db *stdsql.DB
}

// DB returns the underlying connection, for health checks.
func (c *Client) DB() *stdsql.DB {
	return c.db
}

// NewClient opens a connection to cfg.DSN, applies pending migrations, and
// returns a ready-to-use audit Client. Only called when cfg.Enabled is true —
// callers must check that first, since DSN is otherwise empty.
func NewClient(ctx context.Context, cfg config.AuditConfig) (*Client, error) {
	db, err := stdsql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping audit database: %w", err)
	}

	drv := entsql.OpenDB(dialect.Postgres, db)
	entClient := ent.NewClient(ent.Driver(drv))

	if err := runMigrations(db, cfg); err != nil {
		_ = entClient.Close()
		return nil, fmt.Errorf("run audit migrations: %w", err)
	}

	return &Client{Client: entClient, db: db}, nil
}

// runMigrations applies the embedded SQL migrations with golang-migrate.
// cfg.MigrationsPath overrides the embedded source, for operators who want
// to review or hand-edit migrations outside the binary.
func runMigrations(db *stdsql.DB, cfg config.AuditConfig) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	var m *migrate.Migrate
	if cfg.MigrationsPath != "" {
		m, err = migrate.NewWithDatabaseInstance("file://"+cfg.MigrationsPath, "postgres", driver)
	} else {
		src, srcErr := iofs.New(migrationsFS, "migrations")
		if srcErr != nil {
			return fmt.Errorf("create embedded migration source: %w", srcErr)
		}
		m, err = migrate.NewWithInstance("iofs", src, "postgres", driver)
	}
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
