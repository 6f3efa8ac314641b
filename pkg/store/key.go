package store

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// RequestKey identifies a stored response by request method and URL.
type RequestKey struct {
	// Method is the HTTP method (empty means GET)
	Method string

	// URL is the absolute request URL
	URL string
}

// KeyFor builds the identity of an outgoing request.
func KeyFor(req *http.Request) RequestKey {
	return RequestKey{
		Method: req.Method,
		URL:    req.URL.String(),
	}
}

// ParseKey is the inverse of RequestKey.String.
func ParseKey(s string) (RequestKey, error) {
	method, rawURL, ok := strings.Cut(s, " ")
	if !ok || method == "" || rawURL == "" {
		return RequestKey{}, fmt.Errorf("malformed request key %q", s)
	}
	return RequestKey{Method: method, URL: rawURL}, nil
}

// IsGet reports whether the key describes a GET request, the only kind a
// store can hold.
func (k RequestKey) IsGet() bool {
	return k.Method == "" || strings.EqualFold(k.Method, http.MethodGet)
}

// String generates a deterministic key string.
// Format: METHOD url
//
// The fragment is dropped and the method upper-cased, so
//
//	RequestKey{URL: "https://example.com/a#top"}
//
// becomes "GET https://example.com/a".
func (k RequestKey) String() string {
	method := strings.ToUpper(k.Method)
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + normalizeURL(k.URL)
}

func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String()
}
