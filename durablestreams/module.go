// Package durablestreams implements the Durable Streams Protocol HTTP
// adapter: it translates PUT/GET/POST/HEAD/DELETE/OPTIONS requests into
// calls against a *store.Store and renders the results back onto the wire
// per the protocol's header and status-code contract.
package durablestreams

import (
	"time"

	"go.uber.org/zap"

	"github.com/durable-streams/dstreamd/internal/metrics"
	"github.com/durable-streams/dstreamd/store"
)

// Options configures a Handler's protocol-visible timing knobs.
type Options struct {
	// LongPollTimeout bounds how long a GET with live=long-poll blocks
	// before returning 204.
	LongPollTimeout time.Duration

	// SSEReconnectInterval is how long a live=sse response stays open
	// before closing so CDNs/load balancers can collapse and rebalance the
	// connection (spec §4.J).
	SSEReconnectInterval time.Duration
}

// DefaultOptions mirrors the teacher's Caddy-module defaults.
func DefaultOptions() Options {
	return Options{
		LongPollTimeout:      30 * time.Second,
		SSEReconnectInterval: 60 * time.Second,
	}
}

// Handler is the stateful HTTP adapter: one per process, wrapping a single
// store.Store. Unlike the teacher's Handler, it is not a Caddy module - it
// is a plain http.Handler built with New and wired into a chi.Router by
// NewRouter, since the module now ships its own cmd/dstreamd server instead
// of loading under Caddy.
type Handler struct {
	store   *store.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	opts    Options
}

// New constructs a Handler. st and logger must be non-nil; m may be nil, in
// which case metrics are silently skipped (used by tests that don't care to
// stand up a registry).
func New(st *store.Store, logger *zap.Logger, m *metrics.Metrics, opts Options) *Handler {
	if opts.LongPollTimeout == 0 {
		opts.LongPollTimeout = DefaultOptions().LongPollTimeout
	}
	if opts.SSEReconnectInterval == 0 {
		opts.SSEReconnectInterval = DefaultOptions().SSEReconnectInterval
	}
	return &Handler{store: st, logger: logger, metrics: m, opts: opts}
}

// Close releases the handler's store.
func (h *Handler) Close() error {
	return h.store.Close()
}
