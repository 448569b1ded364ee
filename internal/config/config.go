// Package config loads process settings from the environment and reward
// programs from a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"apx-claims-api/internal/claims"
	"apx-claims-api/internal/models"
	"apx-claims-api/internal/validation"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `envconfig:"SERVER"`
	Database  DatabaseConfig  `envconfig:"DATABASE"`
	Redis     RedisConfig     `envconfig:"REDIS"`
	Security  SecurityConfig  `envconfig:"SECURITY"`
	RateLimit RateLimitConfig `envconfig:"RATE_LIMIT"`
	Tracing   TracingConfig   `envconfig:"TRACING"`
	Features  FeatureConfig   `envconfig:"FEATURE"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// ProgramsFile is the YAML file holding the reward programs.
	ProgramsFile string `envconfig:"PROGRAMS_FILE" default:"configs/programs.yaml"`
	// SweepSchedule is the cron expression of the lapsed streak sweep.
	SweepSchedule string `envconfig:"SWEEP_SCHEDULE" default:"@every 15m"`
	// AllowTimeOverride lets callers pass ?now= to evaluate claims at another
	// instant. Demo and test deployments only.
	AllowTimeOverride bool `envconfig:"ALLOW_TIME_OVERRIDE" default:"false"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	Host            string        `envconfig:"HOST" default:""`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// DatabaseConfig holds ledger database configuration.
type DatabaseConfig struct {
	Path        string        `envconfig:"PATH" default:"./apx_claims.db"`
	BusyTimeout time.Duration `envconfig:"BUSY_TIMEOUT" default:"5s"`
}

// RedisConfig holds the claim mirror configuration. An empty Addr keeps the
// mirror in process memory.
type RedisConfig struct {
	Addr     string `envconfig:"ADDR" default:""`
	Password string `envconfig:"PASSWORD" default:""`
	DB       int    `envconfig:"DB" default:"0"`
	// MirrorTTL of zero keeps mirrored records until overwritten.
	MirrorTTL time.Duration `envconfig:"MIRROR_TTL" default:"0"`
	// PurgeOnStart drops mirrored records at startup, e.g. after the ledger
	// was restored from a backup.
	PurgeOnStart bool `envconfig:"PURGE_ON_START" default:"false"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	// Max request body size in bytes (default: 1MB)
	MaxRequestBodySize int64 `envconfig:"MAX_REQUEST_BODY_SIZE" default:"1048576"`
	// Allowed CORS origins
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"*"`
	// AdminJWTSecret signs admin tokens. Admin routes are disabled when empty.
	AdminJWTSecret string `envconfig:"ADMIN_JWT_SECRET" default:""`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool          `envconfig:"ENABLED" default:"true"`
	Rate    int           `envconfig:"RATE" default:"100"`
	Window  time.Duration `envconfig:"WINDOW" default:"60s"`
}

// TracingConfig holds OpenTelemetry configuration.
type TracingConfig struct {
	Enabled     bool    `envconfig:"ENABLED" default:"false"`
	Endpoint    string  `envconfig:"ENDPOINT" default:"http://localhost:14268/api/traces"`
	Environment string  `envconfig:"ENVIRONMENT" default:"development"`
	SampleRatio float64 `envconfig:"SAMPLE_RATIO" default:"1"`
}

// FeatureConfig holds the initial state of the feature flags.
type FeatureConfig struct {
	WeeklyClaims  bool `envconfig:"WEEKLY_CLAIMS" default:"true"`
	CacheFallback bool `envconfig:"CACHE_FALLBACK" default:"true"`
	EventHooks    bool `envconfig:"EVENT_HOOKS" default:"true"`
}

// Load reads the environment into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Database.BusyTimeout < 0 {
		return fmt.Errorf("database busy timeout must not be negative")
	}
	if c.Redis.MirrorTTL < 0 {
		return fmt.Errorf("mirror ttl must not be negative")
	}
	if c.Security.MaxRequestBodySize <= 0 {
		return fmt.Errorf("max request body size must be positive")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing sample ratio must be between 0 and 1")
	}
	if c.ProgramsFile == "" {
		return fmt.Errorf("programs file is required")
	}
	if c.SweepSchedule == "" {
		return fmt.Errorf("sweep schedule is required")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// programsFile is the top-level layout of the programs YAML file.
type programsFile struct {
	Programs []models.Program `yaml:"programs"`
}

// LoadPrograms reads and validates the reward programs file. Every cadence
// must be defined exactly once.
func LoadPrograms(path string) ([]claims.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read programs file: %w", err)
	}
	return ParsePrograms(data)
}

// ParsePrograms decodes programs from YAML.
func ParsePrograms(data []byte) ([]claims.Program, error) {
	var file programsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse programs file: %w", err)
	}

	seen := make(map[claims.Cadence]bool, len(file.Programs))
	programs := make([]claims.Program, 0, len(file.Programs))
	for i, raw := range file.Programs {
		program, err := validation.ValidateProgram(raw)
		if err != nil {
			return nil, fmt.Errorf("program %d: %w", i, err)
		}
		if seen[program.Cadence] {
			return nil, fmt.Errorf("program %d: cadence %s defined twice", i, program.Cadence)
		}
		seen[program.Cadence] = true
		programs = append(programs, program)
	}

	for _, cadence := range claims.Cadences {
		if !seen[cadence] {
			return nil, fmt.Errorf("programs file has no %s program", cadence)
		}
	}
	return programs, nil
}
