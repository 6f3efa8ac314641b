package controller

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/Sternrassler/swcache/pkg/logging"
	"github.com/rs/zerolog"
)

// Registration routes requests to the active controller and hands control
// over to newer controllers once they activate.
type Registration struct {
	network http.RoundTripper
	logger  zerolog.Logger

	active atomic.Pointer[Controller]

	// mu serializes Register
	mu sync.Mutex

	retiredMu sync.Mutex
	retired   []*Controller
}

// NewRegistration creates a registration with no active controller.
// Until one activates, requests go straight to network.
func NewRegistration(network http.RoundTripper) *Registration {
	if network == nil {
		network = http.DefaultTransport
	}
	return &Registration{
		network: network,
		logger:  logging.NewLogger("registration"),
	}
}

// Register installs and activates c. When install fails the previously
// active controller keeps intercepting and the error is returned.
func (r *Registration) Register(ctx context.Context, c *Controller) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c.clients = r

	if err := c.Install(ctx); err != nil {
		r.logger.Warn().
			Err(err).
			Str("version", c.Version()).
			Str("active", r.activeVersion()).
			Msg("New controller failed to install, keeping the active one")
		return err
	}

	return c.Activate(ctx)
}

// Claim makes c the active controller. The controller it replaces becomes
// redundant.
func (r *Registration) Claim(_ context.Context, c *Controller) error {
	if c == nil {
		return errors.New("cannot claim with nil controller")
	}

	prev := r.active.Swap(c)
	if prev != nil && prev != c {
		prev.retire()
		r.retiredMu.Lock()
		r.retired = append(r.retired, prev)
		r.retiredMu.Unlock()
	}

	r.logger.Info().
		Str("version", c.Version()).
		Msg("Clients claimed")
	return nil
}

// Active returns the controller currently intercepting, or nil.
func (r *Registration) Active() *Controller {
	return r.active.Load()
}

func (r *Registration) activeVersion() string {
	if c := r.active.Load(); c != nil {
		return c.Version()
	}
	return ""
}

// RoundTrip sends req through the active controller, or to the network when
// there is none.
func (r *Registration) RoundTrip(req *http.Request) (*http.Response, error) {
	if c := r.active.Load(); c != nil {
		return c.RoundTrip(req)
	}
	return r.network.RoundTrip(req)
}

// Close drains background writes of the active and every replaced controller.
func (r *Registration) Close() error {
	r.retiredMu.Lock()
	controllers := append([]*Controller(nil), r.retired...)
	r.retiredMu.Unlock()

	if c := r.active.Load(); c != nil {
		controllers = append(controllers, c)
	}

	var errs []error
	for _, c := range controllers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
