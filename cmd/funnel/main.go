// Command funnel starts the orchestrator: Discovery Service, gRPC
// Dispatcher, Reasoning Engine, best-effort audit log, and the thin
// HTTP/SSE surface that makes the Driver reachable.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tarsy-oss/funnel/pkg/api"
	"github.com/tarsy-oss/funnel/pkg/audit"
	"github.com/tarsy-oss/funnel/pkg/config"
	"github.com/tarsy-oss/funnel/pkg/discovery"
	"github.com/tarsy-oss/funnel/pkg/dispatch"
	"github.com/tarsy-oss/funnel/pkg/llm"
	"github.com/tarsy-oss/funnel/pkg/reasoning"
)

func main() {
	configPath := flag.String("config", os.Getenv("FUNNEL_CONFIG"), "path to funnel.yaml")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configPath)
	if err != nil {
		slog.Error("config initialization failed", "error", err)
		os.Exit(1)
	}
	configureLogging(cfg.Logging)

	slog.Info("funnel starting", "listen_addr", cfg.Server.ListenAddr, "config_path", cfg.ConfigPath())

	disco := discovery.New(discovery.Config{
		DiscoveryPort:    cfg.Discovery.BroadcastPort,
		HostAddress:      cfg.Discovery.DirectHostAddr,
		BroadcastAddr:    cfg.Discovery.BroadcastAddr,
		DiscoveryTimeout: cfg.Discovery.Timeout,
		TTL:              cfg.Discovery.CacheTTL,
	})
	if cfg.Discovery.RedisURL != "" {
		disco = disco.WithRedisMirror(discovery.NewRedisMirror(cfg.Discovery.RedisURL, cfg.Discovery.RedisNamespace))
	}
	disco.Discover(true)

	dispatcher := dispatch.NewClient(disco, cfg.Dispatch.CertPath, cfg.Dispatch.KeyPath, cfg.Dispatch.CAPath,
		cfg.Dispatch.Insecure, cfg.Dispatch.CAFingerprint)
	defer dispatcher.Close()

	llmClient, err := llm.NewGRPCClient(cfg.LLM.Addr)
	if err != nil {
		slog.Error("llm client dial failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := llmClient.Close(); err != nil {
			slog.Warn("llm client close failed", "error", err)
		}
	}()

	engine := reasoning.New(llmClient)

	var auditor *audit.Writer
	if cfg.Audit.Enabled {
		auditClient, err := audit.NewClient(ctx, cfg.Audit)
		if err != nil {
			slog.Error("audit client initialization failed", "error", err)
			os.Exit(1)
		}
		auditor = audit.NewWriter(auditClient, cfg.Audit.FlushInterval)
		defer func() {
			if err := auditor.Close(); err != nil {
				slog.Warn("audit writer close failed", "error", err)
			}
		}()
		slog.Info("audit log enabled")
	} else {
		slog.Info("audit log disabled")
	}

	server := api.NewServer(*cfg, engine, dispatcher, disco, auditor)
	if err := server.Start(ctx); err != nil {
		slog.Error("api server exited with error", "error", err)
		os.Exit(1)
	}

	slog.Info("funnel stopped")
}

func configureLogging(cfg config.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
