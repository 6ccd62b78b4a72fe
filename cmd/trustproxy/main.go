// Package main is the entry point for the PII-anonymizing proxy server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"trustproxy/config"
	"trustproxy/internal/app"
	"trustproxy/internal/logging"
	"trustproxy/internal/version"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version information")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Optional .env for local development; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Server.LogFormat, cfg.Server.LogLevel)

	slog.Info("starting trustproxy",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
	)

	if cfg.Server.MasterKey == "" {
		slog.Warn("SECURITY WARNING: TRUSTPROXY_MASTER_KEY not set - proxy accepts unauthenticated requests",
			"recommendation", "set TRUSTPROXY_MASTER_KEY to secure this proxy")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	go func() {
		slog.Info("listening", "port", cfg.Server.Port)
		if err := a.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := a.Shutdown(ctx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
	if err := a.Close(); err != nil {
		slog.Error("failed to release resources", "error", err)
	}
	slog.Info("stopped")
}
