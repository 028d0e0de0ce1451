package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.APIURL)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, 30*time.Second, cfg.StaleAfter)
	assert.Equal(t, 5*time.Minute, cfg.EvictAfter)
	assert.Equal(t, 500*time.Millisecond, cfg.RefetchDelay)
	assert.Equal(t, "dishsync:", cfg.RedisPrefix)
	assert.Zero(t, cfg.L1MaxCost)
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"DISHSYNC_API_URL":       "https://api.example.com/v1",
		"DISHSYNC_STORE":         "redis",
		"DISHSYNC_REDIS_DB":      "3",
		"DISHSYNC_STALE_AFTER":   "10s",
		"DISHSYNC_L1_MAX_COST":   "1000",
		"DISHSYNC_LOG_LEVEL":     "debug",
		"DISHSYNC_LOG_FORMAT":    "json",
		"DISHSYNC_RATE_LIMIT":    "2.5",
		"API_URL":                "http://ignored",
		"DISHSYNC_UNKNOWN_THING": "x",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com/v1", cfg.APIURL)
	assert.Equal(t, BackendRedis, cfg.Backend)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, 10*time.Second, cfg.StaleAfter)
	assert.EqualValues(t, 1000, cfg.L1MaxCost)
	assert.InDelta(t, 2.5, cfg.RateLimit, 1e-9)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad url", map[string]string{"DISHSYNC_API_URL": "ftp://x"}},
		{"bad backend", map[string]string{"DISHSYNC_STORE": "etcd"}},
		{"bad duration", map[string]string{"DISHSYNC_STALE_AFTER": "soon"}},
		{"bad level", map[string]string{"DISHSYNC_LOG_LEVEL": "loud"}},
		{"bad format", map[string]string{"DISHSYNC_LOG_FORMAT": "xml"}},
		{"negative cost", map[string]string{"DISHSYNC_L1_MAX_COST": "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(tt.env)
			assert.Error(t, err)
		})
	}
}

func TestLogger_LevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{LogLevel: "warn", LogFormat: "json"}
	log := cfg.Logger(&buf)

	log.Info("hidden")
	log.Warn("shown", "key", "grocery:items")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"key":"grocery:items"`)
}
