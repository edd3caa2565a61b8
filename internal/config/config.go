// Package config loads service configuration from an optional YAML file,
// a .env file and PAYOUTRULES_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// PAYOUTRULES_SERVER_PORT.
const EnvPrefix = "PAYOUTRULES"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Formula   FormulaConfig   `mapstructure:"formula"`
	Adapters  AdaptersConfig  `mapstructure:"adapters"`
	Platforms PlatformsConfig `mapstructure:"platforms"`
	Resolve   ResolveConfig   `mapstructure:"resolve"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) Addr() string { return fmt.Sprintf(":%d", s.Port) }

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite" or "memory"
	DSN    string `mapstructure:"dsn"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type AuthConfig struct {
	// JWTSecret enables HS256 bearer tokens whose subject is the owner ID.
	// When empty the owner comes from OwnerHeader.
	JWTSecret   string `mapstructure:"jwt_secret"`
	OwnerHeader string `mapstructure:"owner_header"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"` // 0 disables limiting
	Burst int     `mapstructure:"burst"`
}

type FormulaConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type AdaptersConfig struct {
	File string `mapstructure:"file"`
}

type PlatformsConfig struct {
	Custom []string `mapstructure:"custom"`
}

type ResolveConfig struct {
	Workers int `mapstructure:"workers"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.owner_header", "X-Owner-ID")
	v.SetDefault("ratelimit.rps", 50.0)
	v.SetDefault("ratelimit.burst", 100)
	v.SetDefault("formula.cache_ttl", 30*time.Minute)
	v.SetDefault("adapters.file", "")
	v.SetDefault("platforms.custom", []string{})
	v.SetDefault("resolve.workers", 8)
}

// Load reads configuration. configPath may be empty; a missing .env file is
// not an error.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	// Lists from the environment arrive comma-separated.
	cfg.Platforms.Custom = splitList(strings.Join(cfg.Platforms.Custom, ","))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q: want sqlite or memory", c.Database.Driver))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q: want text or json", c.Logging.Format))
	}
	if c.RateLimit.RPS < 0 {
		errs = append(errs, errors.New("ratelimit.rps must not be negative"))
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst < 1 {
		errs = append(errs, errors.New("ratelimit.burst must be at least 1 when limiting"))
	}
	if c.Formula.CacheTTL < 0 {
		errs = append(errs, errors.New("formula.cache_ttl must not be negative"))
	}
	if c.Resolve.Workers < 1 {
		errs = append(errs, errors.New("resolve.workers must be at least 1"))
	}
	if c.Auth.JWTSecret == "" && c.Auth.OwnerHeader == "" {
		errs = append(errs, errors.New("auth.owner_header is required without auth.jwt_secret"))
	}
	return errors.Join(errs...)
}
