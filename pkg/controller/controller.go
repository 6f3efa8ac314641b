// Package controller implements a versioned caching controller that sits
// between HTTP callers and the network.
package controller

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/swcache/pkg/logging"
	"github.com/Sternrassler/swcache/pkg/store"
	"github.com/rs/zerolog"
)

const (
	// DefaultVersion is the store name of the current policy.
	// Bump it on any policy change so clients drop what older versions stored.
	DefaultVersion = "aiworkshop-v2"

	// DefaultWriteTimeout bounds a background cache write.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultInstallConcurrency is the number of seeds fetched in parallel.
	DefaultInstallConcurrency = 4
)

// DefaultSeeds are the resources stored at install time.
func DefaultSeeds() []string {
	return []string{"/", "/manifest.json", "/favicon.ico"}
}

// Clients is the set of callers a controller takes over when it activates.
type Clients interface {
	Claim(ctx context.Context, c *Controller) error
}

// Config holds the controller configuration.
type Config struct {
	// Version names the store this controller writes to
	Version string

	// Origin is the absolute base URL seeds are resolved against
	Origin string

	// Seeds are fetched and stored during Install
	Seeds []string

	// Bypass selects requests that are never intercepted
	Bypass BypassRules

	// Storage holds the named stores (REQUIRED)
	Storage store.Storage

	// Network performs real fetches (default: http.DefaultTransport)
	Network http.RoundTripper

	// Clients is claimed on activation (optional)
	Clients Clients

	// Logger (default: component logger "controller")
	Logger *zerolog.Logger

	// OnCacheWriteError observes failed background cache writes.
	// Failures never reach the caller of RoundTrip.
	OnCacheWriteError func(key store.RequestKey, err error)

	// WriteTimeout bounds each background cache write
	WriteTimeout time.Duration

	// InstallConcurrency limits parallel seed fetches
	InstallConcurrency int
}

// DefaultConfig returns the production policy for the given origin.
func DefaultConfig(storage store.Storage, origin string) Config {
	return Config{
		Version:            DefaultVersion,
		Origin:             origin,
		Seeds:              DefaultSeeds(),
		Bypass:             DefaultBypassRules(),
		Storage:            storage,
		Network:            http.DefaultTransport,
		WriteTimeout:       DefaultWriteTimeout,
		InstallConcurrency: DefaultInstallConcurrency,
	}
}

// Controller intercepts requests for one cache version.
//
// Lifecycle: parsed -> installing -> installed -> activating -> activated.
// A failed install, or replacement by a newer controller, ends in redundant.
type Controller struct {
	version string
	origin  *url.URL
	seeds   []string
	bypass  BypassRules
	storage store.Storage
	network http.RoundTripper
	client  *http.Client
	clients Clients
	logger  zerolog.Logger

	onWriteError       func(key store.RequestKey, err error)
	writeTimeout       time.Duration
	installConcurrency int

	state atomic.Int32

	// background cache writes
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a controller in the parsed state.
func New(cfg Config) (*Controller, error) {
	if cfg.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("version is required")
	}

	origin, err := url.Parse(cfg.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if !origin.IsAbs() || origin.Host == "" {
		return nil, fmt.Errorf("origin must be an absolute URL (got %q)", cfg.Origin)
	}

	network := cfg.Network
	if network == nil {
		network = http.DefaultTransport
	}

	logger := logging.NewLogger("controller").With().Str("version", cfg.Version).Logger()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("version", cfg.Version).Logger()
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	concurrency := cfg.InstallConcurrency
	if concurrency <= 0 {
		concurrency = DefaultInstallConcurrency
	}

	return &Controller{
		version:            cfg.Version,
		origin:             origin,
		seeds:              append([]string(nil), cfg.Seeds...),
		bypass:             cfg.Bypass,
		storage:            cfg.Storage,
		network:            network,
		client:             &http.Client{Transport: network},
		clients:            cfg.Clients,
		logger:             logger,
		onWriteError:       cfg.OnCacheWriteError,
		writeTimeout:       writeTimeout,
		installConcurrency: concurrency,
	}, nil
}

// Version returns the store name this controller writes to.
func (c *Controller) Version() string {
	return c.version
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) transition(from, to State) bool {
	if !c.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	c.logger.Debug().
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Lifecycle transition")
	return true
}

// Activate deletes every store, including the one Install just populated,
// and then claims the clients so this controller intercepts immediately.
// Nothing stored by Install survives activation.
func (c *Controller) Activate(ctx context.Context) error {
	if !c.transition(StateInstalled, StateActivating) {
		return fmt.Errorf("%w: activate from %s", ErrInvalidState, c.State())
	}

	names, err := c.storage.Names(ctx)
	if err != nil {
		return c.failActivate(fmt.Errorf("list stores: %w", err))
	}

	for _, name := range names {
		if _, err := c.storage.Delete(ctx, name); err != nil {
			return c.failActivate(fmt.Errorf("delete store %q: %w", name, err))
		}
		c.logger.Debug().Str("store", name).Msg("Deleted store")
	}

	if c.clients != nil {
		if err := c.clients.Claim(ctx, c); err != nil {
			lifecycleTotal.WithLabelValues("claim", "failure").Inc()
			return c.failActivate(fmt.Errorf("claim clients: %w", err))
		}
		lifecycleTotal.WithLabelValues("claim", "success").Inc()
	}

	c.transition(StateActivating, StateActivated)
	lifecycleTotal.WithLabelValues("activate", "success").Inc()
	c.logger.Info().
		Int("stores_deleted", len(names)).
		Msg("Controller activated")
	return nil
}

func (c *Controller) failActivate(err error) error {
	c.transition(StateActivating, StateInstalled)
	lifecycleTotal.WithLabelValues("activate", "failure").Inc()
	c.logger.Error().Err(err).Msg("Activation failed")
	return fmt.Errorf("%w: %v", ErrActivateFailed, err)
}

// retire marks a replaced controller redundant.
func (c *Controller) retire() {
	prev := c.State()
	c.state.Store(int32(StateRedundant))
	c.logger.Info().Str("from", prev.String()).Msg("Controller replaced")
}

// Close waits for background cache writes to finish.
// Writes requested after Close are dropped and reported as ErrClosed.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}
