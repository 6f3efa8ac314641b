package controller

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// Strategy is the handling class of an intercepted request.
type Strategy int

const (
	// StrategyBypass leaves the request to the network untouched.
	StrategyBypass Strategy = iota

	// StrategyNetworkFirst prefers the network and falls back to the store.
	StrategyNetworkFirst

	// StrategyCacheFirst prefers the store and falls back to the network.
	StrategyCacheFirst
)

// String returns the metric/log label of the strategy.
func (s Strategy) String() string {
	switch s {
	case StrategyBypass:
		return "bypass"
	case StrategyNetworkFirst:
		return "network_first"
	case StrategyCacheFirst:
		return "cache_first"
	default:
		return "unknown"
	}
}

// BypassRules select requests the controller never intercepts: local
// development hosts, the dev-server port and dev-tooling paths.
type BypassRules struct {
	Hosts       []string `yaml:"hosts"`
	Ports       []string `yaml:"ports"`
	PathMarkers []string `yaml:"path_markers"`
}

// DefaultBypassRules returns the development bypass predicates.
func DefaultBypassRules() BypassRules {
	return BypassRules{
		Hosts:       []string{"localhost", "127.0.0.1"},
		Ports:       []string{"5174"},
		PathMarkers: []string{"@vite", "@react-refresh", "src/"},
	}
}

// Matches reports whether u must bypass the controller.
func (r BypassRules) Matches(u *url.URL) bool {
	if u == nil {
		return false
	}
	if slices.Contains(r.Hosts, u.Hostname()) {
		return true
	}
	if port := u.Port(); port != "" && slices.Contains(r.Ports, port) {
		return true
	}
	for _, marker := range r.PathMarkers {
		if marker != "" && strings.Contains(u.Path, marker) {
			return true
		}
	}
	return false
}

// acceptsHTML reports whether the request asks for an HTML document.
func acceptsHTML(req *http.Request) bool {
	for _, v := range req.Header.Values("Accept") {
		if strings.Contains(v, "text/html") {
			return true
		}
	}
	return false
}
