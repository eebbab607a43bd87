// Package api is a thin HTTP/SSE surface over the Driver, for manual
// testing and for whatever external UI ends up driving tasks. It carries no
// business logic of its own: every request either fans out to the Discovery
// cache or constructs one Driver and streams its Event channel back.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tarsy-oss/funnel/pkg/audit"
	"github.com/tarsy-oss/funnel/pkg/config"
	"github.com/tarsy-oss/funnel/pkg/discovery"
	"github.com/tarsy-oss/funnel/pkg/dispatch"
	"github.com/tarsy-oss/funnel/pkg/reasoning"
)

// Server wires the Driver's dependencies to a gin.Engine. Every field is
// required except auditor, which may be nil when audit.enabled is false.
type Server struct {
	cfg        config.ServerConfig
	driverCfg  config.DriverConfig
	engine     *reasoning.Engine
	dispatcher *dispatch.Client
	discovery  *discovery.Service
	auditor    *audit.Writer
	sessions   *sessionStore

	router *gin.Engine
	http   *http.Server
}

// NewServer builds the gin.Engine and registers routes. Call Start to begin
// serving.
func NewServer(cfg config.Config, engine *reasoning.Engine, dispatcher *dispatch.Client, disco *discovery.Service, auditor *audit.Writer) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		cfg:        cfg.Server,
		driverCfg:  cfg.Driver,
		engine:     engine,
		dispatcher: dispatcher,
		discovery:  disco,
		auditor:    auditor,
		sessions:   newSessionStore(),
		router:     router,
	}

	router.Use(recovery(), requestLogger())
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	v1.POST("/tasks", s.handleCreateTask)
	v1.GET("/agents", s.handleListAgents)
}

// Start blocks serving on cfg.ListenAddr until the context is cancelled,
// then gracefully shuts down within ShutdownTimeout.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api: listening", "addr", s.cfg.ListenAddr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown gracefully stops the server, bounded by ShutdownTimeout.
func (s *Server) Shutdown() error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
