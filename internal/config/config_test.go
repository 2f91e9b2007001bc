package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://localhost:8080", cfg.GMSURL)
	assert.Equal(t, "http://localhost:8080/api/graphql", cfg.GraphQLURL())
	assert.Equal(t, 600*time.Second, cfg.TokenTTL)
	assert.Equal(t, "datahub-metadata-service", cfg.TokenIssuer)
	assert.Equal(t, "datahub", cfg.SystemActor)
	assert.Equal(t, "TECHNICAL_OWNER", cfg.OwnerType)
	assert.Equal(t, ":8002", cfg.UploaderAddr)
	assert.Equal(t, ":8001", cfg.IngestAddr)
	assert.Equal(t, int64(32<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 120*time.Second, cfg.DispatchTimeout)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, DefaultOrigins, cfg.AllowedOrigins())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DATAHUB_GMS_URL", "https://gms.internal:8080/")
	t.Setenv("DATAHUB_GRAPHQL_PATH", "api/v2/graphql")
	t.Setenv("ACCEPT_ORIGINS", "https://catalog.example.com, https://ops.example.com")
	t.Setenv("GATE_LOG_LEVEL", "warning")
	t.Setenv("GATE_QUERY_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://gms.internal:8080/api/v2/graphql", cfg.GraphQLURL())
	assert.Equal(t, slog.LevelWarn, cfg.LogLevel)
	assert.Equal(t, 3*time.Second, cfg.QueryTimeout)
	assert.Equal(t, append(append([]string{}, DefaultOrigins...), "https://catalog.example.com", "https://ops.example.com"), cfg.AllowedOrigins())
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("GATE_TOKEN_TTL", "ten minutes")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing secret", func(c *Config) { c.JWTSecret = "" }, "JWT_SECRET"},
		{"relative gms url", func(c *Config) { c.GMSURL = "gms:8080" }, "DATAHUB_GMS_URL"},
		{"zero ttl", func(c *Config) { c.TokenTTL = 0 }, "GATE_TOKEN_TTL"},
		{"negative dispatch timeout", func(c *Config) { c.DispatchTimeout = -time.Second }, "GATE_DISPATCH_TIMEOUT"},
		{"unknown owner type", func(c *Config) { c.OwnerType = "JANITOR" }, "GATE_OWNER_TYPE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "s3cret")
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(&cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSetupLoggerWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "gate.log")
	logger, cleanup := SetupLogger(Config{LogFile: path, LogLevel: slog.LevelInfo})
	logger.Info("batch validated", "urn", "urn:li:dataset:x")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &line))
	assert.Equal(t, "batch validated", line["msg"])
	assert.Equal(t, "urn:li:dataset:x", line["urn"])
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelWarn)
	logger.Info("dropped")
	logger.Warn("kept", "user", "alice")

	assert.NotContains(t, stderr.String(), "dropped")
	assert.Contains(t, stderr.String(), "kept")
	assert.Contains(t, file.String(), `"user":"alice"`)
}
