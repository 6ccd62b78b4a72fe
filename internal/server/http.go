package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trustproxy/internal/core"
	"trustproxy/internal/version"
)

// Server wraps the Echo server.
type Server struct {
	echo    *echo.Echo
	gateway *Gateway
}

// Config holds server configuration options.
type Config struct {
	// MasterKey, when set, is required on every route except health and
	// metrics.
	MasterKey string

	// MetricsEnabled exposes Prometheus metrics on /metrics.
	MetricsEnabled bool

	// BodyLimit is the max request body size (echo format, e.g. "10M").
	BodyLimit string
}

// New builds the HTTP server around a Gateway and the session store used by
// the admin purge endpoint.
func New(gateway *Gateway, sessions core.SessionStore, cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "10M"
	}

	// Order matters: recover first, then access log, then limits and auth.
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogMethod: true,
		LogURI:    false, // paths can embed identifiers; host+status suffice
		LogHost:   true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"host", v.Host,
				"method", v.Method,
				"status", v.Status,
				"error", v.Error,
			)
			return nil
		},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	skipAuth := []string{"/health"}
	if cfg.MetricsEnabled {
		skipAuth = append(skipAuth, "/metrics")
	}
	e.Use(AuthMiddleware(cfg.MasterKey, skipAuth))

	e.GET("/health", handleHealth)
	if cfg.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	e.DELETE("/admin/sessions/:id", handlePurgeSession(sessions))

	// Everything else is proxied.
	e.Any("/*", gateway.Handle)

	return &Server{echo: e, gateway: gateway}
}

func handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// handlePurgeSession deletes all counters and mappings of a session,
// severing the link between already-forwarded placeholders and their values.
func handlePurgeSession(sessions core.SessionStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		if id == "" {
			perr := core.NewInvalidRequestError("session id is required", nil)
			return c.JSON(perr.HTTPStatusCode(), perr.ToJSON())
		}
		if err := sessions.ClearSession(c.Request().Context(), id); err != nil {
			slog.Error("failed to purge session", "session_id", id, "error", err)
			perr := core.NewInternalError(err)
			return c.JSON(perr.HTTPStatusCode(), perr.ToJSON())
		}
		slog.Info("session purged", "session_id", id)
		return c.NoContent(http.StatusNoContent)
	}
}

// Start starts the HTTP server on the given address.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements http.Handler so the server can sit behind httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
