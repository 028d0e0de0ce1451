package dishsync

import (
	"context"
	"fmt"
	"os"

	dsconfig "github.com/Keksclan/dishsync/config"
	"github.com/Keksclan/dishsync/contextx"
	"github.com/Keksclan/dishsync/store"
	"github.com/Keksclan/dishsync/transport"
)

// FromConfig opens the configured store and creates a Client from cfg and
// DefaultOptions. opts are applied last. The store is closed with the Client.
func FromConfig(ctx context.Context, cfg dsconfig.Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	st, closeStore, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	topts := []transport.Option{transport.WithTimeout(cfg.RequestTimeout)}
	if cfg.RateLimit > 0 {
		topts = append(topts, transport.WithRateLimit(cfg.RateLimit, cfg.RateBurst))
	}
	if cfg.Token != "" {
		topts = append(topts, transport.WithMiddleware(transport.OrderRecovery+1, defaultActor(cfg.Token)))
	}

	all := append(DefaultOptions(),
		withOwnedStore(st, closeStore),
		WithBaseURL(cfg.APIURL),
		WithLogger(cfg.Logger(os.Stderr)),
		WithStaleAfter(cfg.StaleAfter),
		WithEvictAfter(cfg.EvictAfter),
		WithRefetchDelay(cfg.RefetchDelay),
		WithTransportOptions(topts...),
	)
	return New(append(all, opts...)...)
}

// defaultActor sends token for calls whose context carries no actor.
func defaultActor(token string) transport.Middleware {
	return func(next transport.Doer) transport.Doer {
		return func(ctx context.Context, call *transport.Call) ([]byte, error) {
			if _, ok := contextx.ActorFromContext(ctx); !ok {
				ctx = contextx.WithActor(ctx, contextx.Actor{Token: token})
			}
			return next(ctx, call)
		}
	}
}

// OpenStore opens the durable store named by cfg.Backend, behind a ristretto
// L1 when cfg.L1MaxCost is positive. The returned function releases it.
func OpenStore(ctx context.Context, cfg dsconfig.Config) (store.Store, func() error, error) {
	var (
		st      store.Store
		closeFn = func() error { return nil }
	)
	switch cfg.Backend {
	case dsconfig.BackendMemory, "":
		st = store.NewMemory()
	case dsconfig.BackendSQLite:
		s, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		st, closeFn = s, s.Close
	case dsconfig.BackendRedis:
		r := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
		if err := r.Ping(ctx); err != nil {
			_ = r.Close()
			return nil, nil, err
		}
		st, closeFn = r, r.Close
	default:
		return nil, nil, fmt.Errorf("dishsync: unknown store backend %q", cfg.Backend)
	}

	if cfg.L1MaxCost > 0 {
		t, err := store.NewTiered(st, cfg.L1MaxCost)
		if err != nil {
			_ = closeFn()
			return nil, nil, fmt.Errorf("dishsync: l1: %w", err)
		}
		backing := closeFn
		st, closeFn = t, func() error {
			t.Close()
			return backing()
		}
	}
	return st, closeFn, nil
}
