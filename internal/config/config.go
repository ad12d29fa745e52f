package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Auth modes. Exactly one verification strategy runs per deployment.
const (
	AuthModeJWT    = "jwt"
	AuthModeAPIKey = "api_key"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Backend  BackendConfig  `yaml:"backend"`
	Auth     AuthConfig     `yaml:"auth"`
	Security SecurityConfig `yaml:"security"`
	Limits   LimitsConfig   `yaml:"limits"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	TLS      TLSConfig      `yaml:"tls"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Environment     string        `yaml:"environment"` // "development" or "production"
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// BackendConfig points at the remote execution backend's session API.
type BackendConfig struct {
	BaseURL string `yaml:"base_url"`
}

// AuthConfig selects and parameterizes the credential verifier.
type AuthConfig struct {
	Mode        string `yaml:"mode"` // jwt or api_key
	JWTSecret   string `yaml:"jwt_secret"`
	JWTAudience string `yaml:"jwt_audience"`
	KeyPrefix   string `yaml:"key_prefix"`
}

type SecurityConfig struct {
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// LimitsConfig bounds per-user resource usage. Zero means unlimited.
type LimitsConfig struct {
	MaxSandboxesPerUser int64 `yaml:"max_sandboxes_per_user"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Endpoint string  `yaml:"endpoint"`
	Sample   float64 `yaml:"sample_rate"`
}

// TLSConfig controls HTTPS/TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Load reads configuration from a YAML file. Secrets may come from the
// environment instead: DATABASE_DSN and JWT_SECRET override the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			Environment:     "development",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    310 * time.Second, // > max execution timeout + overhead
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  4 << 20, // 4MB, uploads arrive base64-encoded
		},
		Database: DatabaseConfig{
			DSN: "",
		},
		Backend: BackendConfig{
			BaseURL: "http://localhost:9000",
		},
		Auth: AuthConfig{
			Mode:        AuthModeAPIKey,
			JWTAudience: "authenticated",
			KeyPrefix:   "sbx_sk_",
		},
		Security: SecurityConfig{
			RateLimitRPS:   100,
			RateLimitBurst: 200,
		},
		Limits: LimitsConfig{
			MaxSandboxesPerUser: 0,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled: false,
			Sample:  0.1,
		},
		TLS: TLSConfig{
			Enabled: false,
		},
	}
}

func (c *Config) applyEnv() {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if url := os.Getenv("BACKEND_URL"); url != "" {
		c.Backend.BaseURL = url
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	switch c.Auth.Mode {
	case AuthModeJWT:
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret (or JWT_SECRET env) is required in jwt mode")
		}
		if c.Auth.JWTAudience == "" {
			return fmt.Errorf("auth.jwt_audience is required in jwt mode")
		}
	case AuthModeAPIKey:
		if c.Auth.KeyPrefix == "" {
			return fmt.Errorf("auth.key_prefix is required in api_key mode")
		}
	default:
		return fmt.Errorf("auth.mode must be %q or %q, got %q", AuthModeJWT, AuthModeAPIKey, c.Auth.Mode)
	}
	if c.Limits.MaxSandboxesPerUser < 0 {
		return fmt.Errorf("limits.max_sandboxes_per_user must be >= 0")
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}
	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable, connections to Postgres are unencrypted")
	}
	return nil
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Development reports whether the server runs in development mode.
// Unclassified error details reach clients only in development.
func (c *Config) Development() bool {
	return c.Server.Environment != "production"
}
