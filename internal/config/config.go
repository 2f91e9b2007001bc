// Package config loads the service configuration from the environment and
// builds the process logger.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/raphaelgruber/datahub-gate/internal/models"
)

// DefaultOrigins are always allowed by CORS.
var DefaultOrigins = []string{"http://localhost:3000", "http://localhost:9002"}

// Config holds all configuration values.
type Config struct {
	// DataHub GMS
	GMSURL      string `env:"DATAHUB_GMS_URL" envDefault:"http://localhost:8080"`
	GraphQLPath string `env:"DATAHUB_GRAPHQL_PATH" envDefault:"/api/graphql"`

	// Token issuance
	JWTSecret   string        `env:"JWT_SECRET"`
	TokenTTL    time.Duration `env:"GATE_TOKEN_TTL" envDefault:"600s"`
	TokenIssuer string        `env:"GATE_TOKEN_ISSUER" envDefault:"datahub-metadata-service"`
	SystemActor string        `env:"GATE_SYSTEM_ACTOR" envDefault:"datahub"`
	OwnerType   string        `env:"GATE_OWNER_TYPE" envDefault:"TECHNICAL_OWNER"`

	// HTTP
	AcceptOrigins   []string      `env:"ACCEPT_ORIGINS" envSeparator:","`
	UploaderAddr    string        `env:"GATE_UPLOADER_ADDR" envDefault:":8002"`
	IngestAddr      string        `env:"GATE_INGEST_ADDR" envDefault:":8001"`
	MaxUploadBytes  int64         `env:"GATE_MAX_UPLOAD_BYTES" envDefault:"33554432"`
	QueryTimeout    time.Duration `env:"GATE_QUERY_TIMEOUT" envDefault:"10s"`
	DispatchTimeout time.Duration `env:"GATE_DISPATCH_TIMEOUT" envDefault:"120s"`

	// Artifacts of processed uploads, disabled when empty
	ArtifactDir string `env:"GATE_ARTIFACT_DIR"`

	// Logging
	LogFile      string     `env:"GATE_LOG_FILE" envDefault:"/tmp/datahub-gate.log"`
	LogLevelName string     `env:"GATE_LOG_LEVEL" envDefault:"INFO"`
	LogLevel     slog.Level `env:"-"`

	// Tracing, disabled when empty
	OTelEndpoint string `env:"GATE_OTEL_ENDPOINT"`
}

// Load reads configuration from environment variables. The result is not
// validated; call Validate before serving.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = parseLogLevel(cfg.LogLevelName)
	cfg.GMSURL = strings.TrimRight(cfg.GMSURL, "/")
	return cfg, nil
}

// Validate reports every setting that prevents the services from running.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if u, err := url.Parse(c.GMSURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("DATAHUB_GMS_URL %q is not an absolute url", c.GMSURL))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("GATE_TOKEN_TTL must be positive"))
	}
	if c.QueryTimeout <= 0 {
		errs = append(errs, errors.New("GATE_QUERY_TIMEOUT must be positive"))
	}
	if c.DispatchTimeout <= 0 {
		errs = append(errs, errors.New("GATE_DISPATCH_TIMEOUT must be positive"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("GATE_MAX_UPLOAD_BYTES must be positive"))
	}
	if !models.ValidOwnerType(c.OwnerType) {
		errs = append(errs, fmt.Errorf("GATE_OWNER_TYPE %q is not an owner type", c.OwnerType))
	}
	return errors.Join(errs...)
}

// GraphQLURL returns the full URL of the catalog's GraphQL endpoint.
func (c Config) GraphQLURL() string {
	return c.GMSURL + "/" + strings.TrimLeft(c.GraphQLPath, "/")
}

// AllowedOrigins returns the CORS origins: the defaults plus ACCEPT_ORIGINS.
func (c Config) AllowedOrigins() []string {
	origins := append([]string{}, DefaultOrigins...)
	for _, o := range c.AcceptOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
