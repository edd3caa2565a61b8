package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "X-Owner-ID", cfg.Auth.OwnerHeader)
	assert.Equal(t, 30*time.Minute, cfg.Formula.CacheTTL)
	assert.Equal(t, 8, cfg.Resolve.Workers)
	assert.Empty(t, cfg.Platforms.Custom)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
  read_timeout: 5s
database:
  driver: memory
logging:
  level: debug
  format: json
platforms:
  custom: [expedia, marriott]
formula:
  cache_ttl: 0s
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, []string{"expedia", "marriott"}, cfg.Platforms.Custom)
	assert.Zero(t, cfg.Formula.CacheTTL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PAYOUTRULES_SERVER_PORT", "7070")
	t.Setenv("PAYOUTRULES_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("PAYOUTRULES_PLATFORMS_CUSTOM", "expedia, marriott")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, []string{"expedia", "marriott"}, cfg.Platforms.Custom)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:    ServerConfig{Port: 8080},
			Database:  DatabaseConfig{Driver: "sqlite"},
			Logging:   LoggingConfig{Format: "text"},
			Auth:      AuthConfig{OwnerHeader: "X-Owner-ID"},
			RateLimit: RateLimitConfig{RPS: 10, Burst: 5},
			Resolve:   ResolveConfig{Workers: 2},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"driver", func(c *Config) { c.Database.Driver = "postgres" }},
		{"format", func(c *Config) { c.Logging.Format = "xml" }},
		{"negative rps", func(c *Config) { c.RateLimit.RPS = -1 }},
		{"burst", func(c *Config) { c.RateLimit.Burst = 0 }},
		{"ttl", func(c *Config) { c.Formula.CacheTTL = -time.Second }},
		{"workers", func(c *Config) { c.Resolve.Workers = 0 }},
		{"owner source", func(c *Config) { c.Auth.OwnerHeader = "" }},
	}

	base := valid()
	require.NoError(t, base.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
