// Package app wires the proxy's components together and manages their
// lifecycle. Everything is constructed once here and injected; no package
// reaches for globals.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"trustproxy/config"
	"trustproxy/internal/audit"
	"trustproxy/internal/core"
	"trustproxy/internal/detect"
	"trustproxy/internal/extract"
	"trustproxy/internal/httpclient"
	"trustproxy/internal/redact"
	"trustproxy/internal/security"
	"trustproxy/internal/server"
	"trustproxy/internal/session"
	"trustproxy/internal/telemetry"
)

// App holds the assembled proxy.
type App struct {
	config   *config.Config
	sessions core.SessionStore
	recorder audit.Recorder
	server   *server.Server
}

// New builds the full dependency graph from configuration. The caller must
// call Close during shutdown.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	sessions, err := newSessionStore(cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}

	probeClient := httpclient.New(&httpclient.ClientConfig{
		DialTimeout:         3 * time.Second,
		TLSHandshakeTimeout: 3 * time.Second,
		Timeout:             5 * time.Second,
	})
	detector, err := detect.Select(ctx, detect.Config{
		Mode:         cfg.Detector.Mode,
		AnalyzerURL:  cfg.Detector.AnalyzerURL,
		ProbeTimeout: cfg.Detector.ProbeTimeout,
		CacheSize:    cfg.Detector.CacheSize,
	}, probeClient)
	if err != nil {
		closeErr := sessions.Close()
		return nil, errors.Join(fmt.Errorf("failed to select detector: %w", err), closeErr)
	}

	gate, err := security.New(security.Config{
		AllowedDomains:   cfg.Security.AllowedDomains,
		InjectionPhrases: cfg.Security.InjectionPhrases,
		PhraseFile:       cfg.Security.PhraseFile,
	})
	if err != nil {
		closeErr := sessions.Close()
		return nil, errors.Join(fmt.Errorf("failed to initialize security gate: %w", err), closeErr)
	}

	recorder, err := audit.New(ctx, cfg.Audit)
	if err != nil {
		closeErr := sessions.Close()
		return nil, errors.Join(fmt.Errorf("failed to initialize audit trail: %w", err), closeErr)
	}

	collectors := core.MultiCollector{recorder}
	if cfg.Server.MetricsEnabled {
		collectors = append(collectors, telemetry.NewPrometheus())
		slog.Info("prometheus metrics enabled", "endpoint", "/metrics")
	} else {
		collectors = append(collectors, telemetry.NewNoop())
		slog.Info("prometheus metrics disabled")
	}

	gateway := server.NewGateway(server.GatewayConfig{
		Redactor:       redact.New(detector, sessions, cfg.Detector.Entities),
		Restorer:       redact.NewRestorer(sessions),
		Gate:           gate,
		Extractor:      extract.New(),
		Collector:      collectors,
		Client:         httpclient.New(nil),
		ForwardTimeout: cfg.Server.ForwardTimeout,
	})

	srv := server.New(gateway, sessions, server.Config{
		MasterKey:      cfg.Server.MasterKey,
		MetricsEnabled: cfg.Server.MetricsEnabled,
		BodyLimit:      cfg.Server.BodyLimit,
	})

	slog.Info("proxy assembled",
		"detector", detector.Name(),
		"allowed_domains", len(cfg.Security.AllowedDomains),
		"audit_enabled", cfg.Audit.Enabled,
	)

	return &App{
		config:   cfg,
		sessions: sessions,
		recorder: recorder,
		server:   srv,
	}, nil
}

func newSessionStore(cfg config.SessionConfig) (core.SessionStore, error) {
	if cfg.RedisURL == "" {
		slog.Warn("REDIS_URL not set, using in-process session store",
			"limitation", "placeholder mappings are lost on restart and not shared across instances")
		return session.NewMemoryStore(cfg.TTL), nil
	}
	return session.NewRedisStore(session.RedisConfig{
		URL: cfg.RedisURL,
		TTL: cfg.TTL,
	})
}

// Start begins serving on the configured port. Blocks until the server
// stops.
func (a *App) Start() error {
	return a.server.Start(":" + a.config.Server.Port)
}

// Shutdown stops the HTTP server gracefully.
func (a *App) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

// Close releases all resources. Safe to call after Shutdown.
func (a *App) Close() error {
	var errs []error
	if err := a.recorder.Close(); err != nil {
		errs = append(errs, fmt.Errorf("audit close: %w", err))
	}
	if err := a.sessions.Close(); err != nil {
		errs = append(errs, fmt.Errorf("session store close: %w", err))
	}
	return errors.Join(errs...)
}
