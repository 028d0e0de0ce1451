// Package dishsync assembles the optimistic mutation and cache layer of the
// dishlist app into a single Client.
//
// A Client owns one resource cache, one invalidation graph, one mutation
// pipeline and one durable store, and exposes the feature services built on
// them:
//
//	c, err := dishsync.New(
//		dishsync.WithBaseURL("https://api.example.com"),
//		dishsync.WithMetrics(prometheus.DefaultRegisterer),
//	)
//	if err != nil { ... }
//	defer c.Close()
//
//	lists, err := c.DishLists().List(ctx, "my")
package dishsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Keksclan/dishsync/cache"
	"github.com/Keksclan/dishsync/dishlist"
	"github.com/Keksclan/dishsync/grocery"
	"github.com/Keksclan/dishsync/invalidation"
	"github.com/Keksclan/dishsync/metrics"
	"github.com/Keksclan/dishsync/mutation"
	"github.com/Keksclan/dishsync/notification"
	"github.com/Keksclan/dishsync/progress"
	"github.com/Keksclan/dishsync/recipe"
	"github.com/Keksclan/dishsync/store"
	"github.com/Keksclan/dishsync/transport"
)

// Client is safe for concurrent use.
type Client struct {
	cache    *cache.Cache
	graph    *invalidation.Graph
	pipeline *mutation.Pipeline
	api      transport.Requester
	store    store.Store
	logger   *slog.Logger
	gatherer prometheus.Gatherer

	dishlists     *dishlist.Service
	recipes       *recipe.Service
	notifications *notification.Service
	grocery       *grocery.Service
	progress      *progress.Service

	closers   []func() error
	stop      context.CancelFunc
	janitor   sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New creates a Client by applying the supplied functional Option values.
// Either WithBaseURL or WithRequester is required.
func New(opts ...Option) (*Client, error) {
	cfg := config{
		staleAfter:   cache.DefaultStaleAfter,
		evictAfter:   cache.DefaultEvictAfter,
		refetchDelay: mutation.DefaultRefetchDelay,
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(&cfg)
	}

	c, err := build(cfg)
	if err != nil {
		for _, fn := range cfg.closers {
			_ = fn()
		}
		return nil, err
	}
	return c, nil
}

func build(cfg config) (*Client, error) {
	if cfg.graph == nil {
		cfg.graph = invalidation.Default()
	}
	if err := cfg.graph.Validate(); err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	gatherer := prometheus.DefaultGatherer
	if cfg.registry != nil {
		m = metrics.New(cfg.registry)
		if g, ok := cfg.registry.(prometheus.Gatherer); ok {
			gatherer = g
		}
	}

	api := cfg.requester
	if api == nil {
		if cfg.baseURL == "" {
			return nil, errors.New("dishsync: no base URL or requester configured")
		}
		topts := append([]transport.Option{
			transport.WithLogger(cfg.logger),
			transport.WithMetrics(m),
			transport.WithTracing(cfg.tracing),
		}, cfg.transport...)
		hc, err := transport.New(cfg.baseURL, topts...)
		if err != nil {
			return nil, fmt.Errorf("dishsync: %w", err)
		}
		api = hc
	}
	if cfg.store == nil {
		cfg.store = store.NewMemory()
	}

	rc := cache.New(
		cache.WithStaleAfter(cfg.staleAfter),
		cache.WithEvictAfter(cfg.evictAfter),
		cache.WithLogger(cfg.logger),
		cache.WithMetrics(m),
	)
	p := mutation.New(rc, cfg.graph,
		mutation.WithRefetchDelay(cfg.refetchDelay),
		mutation.WithLogger(cfg.logger),
		mutation.WithTracing(cfg.tracing),
		mutation.WithMetrics(m),
	)

	c := &Client{
		cache:    rc,
		graph:    cfg.graph,
		pipeline: p,
		api:      api,
		store:    cfg.store,
		logger:   cfg.logger,
		gatherer: gatherer,
		closers:  cfg.closers,

		dishlists:     dishlist.New(api, rc, p, dishlist.WithLogger(cfg.logger)),
		recipes:       recipe.New(api, rc, p),
		notifications: notification.New(api, rc, p),
		grocery: grocery.New(cfg.store,
			grocery.WithCache(rc), grocery.WithLogger(cfg.logger), grocery.WithMetrics(m)),
		progress: progress.New(cfg.store,
			progress.WithCache(rc), progress.WithLogger(cfg.logger), progress.WithMetrics(m)),
	}

	ctx, stop := context.WithCancel(context.Background())
	c.stop = stop
	if cfg.janitor {
		c.janitor.Add(1)
		go func() {
			defer c.janitor.Done()
			rc.Run(ctx)
		}()
	}
	return c, nil
}

// DishLists returns the dishlist service.
func (c *Client) DishLists() *dishlist.Service { return c.dishlists }

// Recipes returns the recipe service.
func (c *Client) Recipes() *recipe.Service { return c.recipes }

// Notifications returns the notification service.
func (c *Client) Notifications() *notification.Service { return c.notifications }

// Grocery returns the local grocery list.
func (c *Client) Grocery() *grocery.Service { return c.grocery }

// Progress returns the local cooking progress.
func (c *Client) Progress() *progress.Service { return c.progress }

// Cache returns the shared resource cache.
func (c *Client) Cache() *cache.Cache { return c.cache }

// Pipeline returns the shared mutation pipeline, for mutations the feature
// services do not cover.
func (c *Client) Pipeline() *mutation.Pipeline { return c.pipeline }

// API returns the remote transport.
func (c *Client) API() transport.Requester { return c.api }

// Store returns the durable store.
func (c *Client) Store() store.Store { return c.store }

// MetricsHandler returns an http.Handler that serves Prometheus metrics from
// the registry passed to WithMetrics, or the default gatherer.
func (c *Client) MetricsHandler() http.Handler {
	return metrics.Handler(c.gatherer)
}

// Close stops the janitor, waits for scheduled refreshes and background
// refetches, and closes a store opened by FromConfig. It is safe to call
// more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.stop()
		c.janitor.Wait()
		c.pipeline.Close()
		var errs []error
		for i := len(c.closers) - 1; i >= 0; i-- {
			errs = append(errs, c.closers[i]())
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
