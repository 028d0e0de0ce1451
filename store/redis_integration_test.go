package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func redisStore(t *testing.T) *Redis {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping Redis integration test")
	}
	r := NewRedis(addr, "", 0, "dishsync-test:"+t.Name()+":")
	t.Cleanup(func() { _ = r.Close() })
	require.NoError(t, r.Ping(t.Context()), "cannot reach Redis at %s", addr)
	return r
}

func TestRedis(t *testing.T) {
	exercise(t, redisStore(t))
}

func TestRedis_SurfacesConnectionErrors(t *testing.T) {
	// Durable writes must not fail soft.
	r := NewRedis("localhost:1", "", 0, "")
	t.Cleanup(func() { _ = r.Close() })

	ctx, cancel := context.WithTimeout(t.Context(), 500*time.Millisecond)
	defer cancel()

	require.Error(t, r.Set(ctx, "k", []byte("v")))
	_, _, err := r.Get(ctx, "k")
	require.Error(t, err)
}
