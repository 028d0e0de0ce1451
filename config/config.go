// Package config loads process configuration from DISHSYNC_* environment
// variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Prefix is prepended to every variable name.
const Prefix = "DISHSYNC_"

// Store backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config is the environment-derived configuration.
type Config struct {
	APIURL string `env:"API_URL" envDefault:"http://localhost:8080"`
	Token  string `env:"TOKEN"`

	Backend       string `env:"STORE" envDefault:"memory"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"dishsync.db"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"dishsync:"`
	// L1MaxCost puts a ristretto L1 of that many payloads in front of the
	// store. Zero disables it.
	L1MaxCost int64 `env:"L1_MAX_COST" envDefault:"0"`

	StaleAfter     time.Duration `env:"STALE_AFTER" envDefault:"30s"`
	EvictAfter     time.Duration `env:"EVICT_AFTER" envDefault:"5m"`
	RefetchDelay   time.Duration `env:"REFETCH_DELAY" envDefault:"500ms"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`

	RateLimit float64 `env:"RATE_LIMIT" envDefault:"0"`
	RateBurst int     `env:"RATE_BURST" envDefault:"10"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom reads the configuration from environ instead of the process
// environment. Keys carry the prefix.
func LoadFrom(environ map[string]string) (Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: environ})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values the parser cannot.
func (c Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: %sAPI_URL %q is not an http(s) URL", Prefix, c.APIURL)
	}
	switch c.Backend {
	case BackendMemory, BackendSQLite, BackendRedis:
	default:
		return fmt.Errorf("config: %sSTORE %q: want memory, sqlite or redis", Prefix, c.Backend)
	}
	if c.Backend == BackendSQLite && c.SQLitePath == "" {
		return fmt.Errorf("config: %sSQLITE_PATH is empty", Prefix)
	}
	if c.L1MaxCost < 0 || c.RateLimit < 0 || c.RateBurst < 0 {
		return fmt.Errorf("config: negative L1 cost or rate limit")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		return fmt.Errorf("config: %sLOG_FORMAT %q: want text or json", Prefix, c.LogFormat)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: %sLOG_LEVEL: %w", Prefix, err)
	}
	return l, nil
}

// Logger returns a logger writing to w at the configured level and format.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
