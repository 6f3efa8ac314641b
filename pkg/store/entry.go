package store

import (
	"net/http"
	"time"
)

// Entry is a stored response snapshot.
type Entry struct {
	// URL is the request URL the response was fetched for
	URL string `json:"url"`

	// StatusCode is the HTTP status code of the stored response
	StatusCode int `json:"status_code"`

	// Status is the status line text (e.g. "200 OK")
	Status string `json:"status"`

	// Headers are the response headers
	Headers http.Header `json:"headers"`

	// Data is the response body
	Data []byte `json:"data"`

	// CachedAt is when the snapshot was taken
	CachedAt time.Time `json:"cached_at"`
}

// Age returns how long ago the entry was stored.
func (e *Entry) Age() time.Duration {
	if e.CachedAt.IsZero() {
		return 0
	}
	return time.Since(e.CachedAt)
}

// Size returns the body size in bytes.
func (e *Entry) Size() int {
	return len(e.Data)
}
