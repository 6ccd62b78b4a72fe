package server

import (
	"crypto/subtle"
	"strings"

	"github.com/labstack/echo/v4"

	"trustproxy/internal/core"
)

// AuthMiddleware validates the proxy master key as a Bearer token. Paths in
// skipPaths (health, metrics) stay public. An empty masterKey disables
// authentication entirely.
func AuthMiddleware(masterKey string, skipPaths []string) echo.MiddlewareFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if masterKey == "" || skip[c.Request().URL.Path] {
				return next(c)
			}

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				perr := core.NewAuthenticationError("missing authorization header")
				return c.JSON(perr.HTTPStatusCode(), perr.ToJSON())
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				perr := core.NewAuthenticationError("invalid authorization header format, expected 'Bearer <token>'")
				return c.JSON(perr.HTTPStatusCode(), perr.ToJSON())
			}

			token := strings.TrimPrefix(authHeader, prefix)
			if subtle.ConstantTimeCompare([]byte(token), []byte(masterKey)) != 1 {
				perr := core.NewAuthenticationError("invalid master key")
				return c.JSON(perr.HTTPStatusCode(), perr.ToJSON())
			}

			return next(c)
		}
	}
}
