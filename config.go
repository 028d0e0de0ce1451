package dishsync

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Keksclan/dishsync/invalidation"
	"github.com/Keksclan/dishsync/store"
	"github.com/Keksclan/dishsync/tracing"
	"github.com/Keksclan/dishsync/transport"
)

// config holds the internal configuration assembled via functional options.
type config struct {
	baseURL   string
	requester transport.Requester
	transport []transport.Option

	store   store.Store
	closers []func() error

	graph        *invalidation.Graph
	staleAfter   time.Duration
	evictAfter   time.Duration
	refetchDelay time.Duration
	janitor      bool

	logger   *slog.Logger
	registry prometheus.Registerer
	tracing  *tracing.TracingConfig
}
