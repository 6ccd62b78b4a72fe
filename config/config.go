// Package config provides configuration management for the application.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"trustproxy/internal/audit"
	"trustproxy/internal/detect"
)

// Config holds the application configuration.
type Config struct {
	Server   ServerConfig
	Session  SessionConfig
	Detector DetectorConfig
	Security SecurityConfig
	Audit    audit.Config
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	// Port the proxy listens on.
	Port string

	// MasterKey, when set, is required as a Bearer token on every request
	// except /health and /metrics.
	MasterKey string

	// MetricsEnabled exposes Prometheus metrics on /metrics.
	MetricsEnabled bool

	// ForwardTimeout bounds each upstream call.
	ForwardTimeout time.Duration

	// BodyLimit is the maximum accepted request body size, in echo's
	// size notation (e.g. "10M").
	BodyLimit string

	// LogFormat is "json" or "pretty"; LogLevel is debug/info/warn/error.
	LogFormat string
	LogLevel  string
}

// SessionConfig holds session store configuration.
type SessionConfig struct {
	// RedisURL selects the Redis-backed store. Empty falls back to the
	// in-process memory store (single instance only).
	RedisURL string

	// TTL is the idle expiry for session counters and mappings.
	TTL time.Duration
}

// DetectorConfig holds PII detection configuration.
type DetectorConfig struct {
	// Mode is auto, remote, or regex.
	Mode string

	// AnalyzerURL is the base URL of the remote analyzer service.
	AnalyzerURL string

	// ProbeTimeout bounds the startup analyzer capability probe.
	ProbeTimeout time.Duration

	// CacheSize bounds the detection result cache (0 disables it).
	CacheSize int

	// Entities lists the entity types to detect.
	Entities []string
}

// SecurityConfig holds domain allowlist and injection scan configuration.
type SecurityConfig struct {
	AllowedDomains   []string
	InjectionPhrases []string
	PhraseFile       string
}

// defaultEntities are detected when PII_ENTITIES is not set.
var defaultEntities = []string{
	detect.EntityPerson,
	detect.EntityEmailAddress,
	detect.EntityPhoneNumber,
	detect.EntityUSSSN,
	detect.EntityCreditCard,
	detect.EntityIPAddress,
	detect.EntityLocation,
}

// defaultAllowedDomains are the upstream AI APIs proxied by default.
var defaultAllowedDomains = []string{
	"api.openai.com",
	"api.anthropic.com",
	"generativelanguage.googleapis.com",
}

// Load reads configuration from the environment (and an optional .env file
// in the working directory).
func Load() (*Config, error) {
	v := viper.New()

	// Optional .env file; absence is fine.
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig()

	v.SetDefault("PORT", "8000")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("FORWARD_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "10M")
	v.SetDefault("SESSION_TTL", "1h")
	v.SetDefault("DETECTOR_MODE", detect.ModeAuto)
	v.SetDefault("DETECTOR_PROBE_TIMEOUT", "5s")
	v.SetDefault("DETECTOR_CACHE_SIZE", 1024)
	v.SetDefault("AUDIT_ENABLED", false)
	v.SetDefault("AUDIT_STORAGE_TYPE", audit.TypeSQLite)
	v.SetDefault("AUDIT_SQLITE_PATH", ".cache/trustproxy.db")
	v.SetDefault("AUDIT_POSTGRES_MAX_CONNS", 10)
	v.SetDefault("AUDIT_MONGO_DATABASE", "trustproxy")
	v.SetDefault("AUDIT_BUFFER_SIZE", 1000)
	v.SetDefault("AUDIT_FLUSH_INTERVAL", "5s")
	v.SetDefault("AUDIT_RETENTION_DAYS", 30)

	v.AutomaticEnv()

	forwardTimeout, err := parseDuration(v, "FORWARD_TIMEOUT")
	if err != nil {
		return nil, err
	}
	sessionTTL, err := parseDuration(v, "SESSION_TTL")
	if err != nil {
		return nil, err
	}
	probeTimeout, err := parseDuration(v, "DETECTOR_PROBE_TIMEOUT")
	if err != nil {
		return nil, err
	}
	flushInterval, err := parseDuration(v, "AUDIT_FLUSH_INTERVAL")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           v.GetString("PORT"),
			MasterKey:      v.GetString("TRUSTPROXY_MASTER_KEY"),
			MetricsEnabled: v.GetBool("METRICS_ENABLED"),
			ForwardTimeout: forwardTimeout,
			BodyLimit:      v.GetString("BODY_LIMIT"),
			LogFormat:      v.GetString("LOG_FORMAT"),
			LogLevel:       v.GetString("LOG_LEVEL"),
		},
		Session: SessionConfig{
			RedisURL: v.GetString("REDIS_URL"),
			TTL:      sessionTTL,
		},
		Detector: DetectorConfig{
			Mode:         v.GetString("DETECTOR_MODE"),
			AnalyzerURL:  v.GetString("ANALYZER_URL"),
			ProbeTimeout: probeTimeout,
			CacheSize:    v.GetInt("DETECTOR_CACHE_SIZE"),
			Entities:     splitList(v.GetString("PII_ENTITIES"), defaultEntities),
		},
		Security: SecurityConfig{
			AllowedDomains:   splitList(v.GetString("ALLOWED_DOMAINS"), defaultAllowedDomains),
			InjectionPhrases: splitList(v.GetString("INJECTION_PHRASES"), nil),
			PhraseFile:       v.GetString("INJECTION_PHRASE_FILE"),
		},
		Audit: audit.Config{
			Enabled:       v.GetBool("AUDIT_ENABLED"),
			BufferSize:    v.GetInt("AUDIT_BUFFER_SIZE"),
			FlushInterval: flushInterval,
			RetentionDays: v.GetInt("AUDIT_RETENTION_DAYS"),
			Storage: audit.StorageConfig{
				Type:             v.GetString("AUDIT_STORAGE_TYPE"),
				SQLitePath:       v.GetString("AUDIT_SQLITE_PATH"),
				PostgresURL:      v.GetString("AUDIT_POSTGRES_URL"),
				PostgresMaxConns: v.GetInt("AUDIT_POSTGRES_MAX_CONNS"),
				MongoURL:         v.GetString("AUDIT_MONGO_URL"),
				MongoDatabase:    v.GetString("AUDIT_MONGO_DATABASE"),
			},
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Detector.Mode {
	case detect.ModeAuto, detect.ModeRemote, detect.ModeRegex:
	default:
		return fmt.Errorf("invalid DETECTOR_MODE %q (valid: auto, remote, regex)", c.Detector.Mode)
	}
	if c.Detector.Mode == detect.ModeRemote && c.Detector.AnalyzerURL == "" {
		return fmt.Errorf("DETECTOR_MODE=remote requires ANALYZER_URL")
	}
	if len(c.Security.AllowedDomains) == 0 {
		return fmt.Errorf("ALLOWED_DOMAINS must not be empty")
	}
	return nil
}

// parseDuration accepts Go duration strings ("30s") or bare integers
// interpreted as seconds.
func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.GetString(key)
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	if secs := v.GetInt(key); secs > 0 {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid duration for %s: %q", key, raw)
}

// splitList parses a comma-separated env value, falling back to def when the
// value is empty.
func splitList(raw string, def []string) []string {
	if strings.TrimSpace(raw) == "" {
		return def
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
