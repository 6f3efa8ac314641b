package testutil

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
)

// ErrNetworkDown is returned by OfflineTransport while offline.
var ErrNetworkDown = errors.New("network down")

// OfflineTransport forwards to Base until switched offline.
type OfflineTransport struct {
	Base http.RoundTripper

	offline atomic.Bool
	mu      sync.Mutex
	calls   []string
}

// SetOffline toggles the network.
func (t *OfflineTransport) SetOffline(offline bool) {
	t.offline.Store(offline)
}

// Calls returns the URLs that reached the transport, in order.
func (t *OfflineTransport) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

// RoundTrip implements http.RoundTripper.
func (t *OfflineTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	t.calls = append(t.calls, req.URL.String())
	t.mu.Unlock()

	if t.offline.Load() {
		return nil, ErrNetworkDown
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
