package controller

import (
	"errors"
	"fmt"
)

// Common errors returned by the controller.
var (
	// ErrInstallFailed is returned when the seed set could not be stored.
	ErrInstallFailed = errors.New("install failed")

	// ErrActivateFailed is returned when stale stores could not be removed.
	ErrActivateFailed = errors.New("activate failed")

	// ErrInvalidState is returned when a lifecycle step runs out of order.
	ErrInvalidState = errors.New("invalid lifecycle state")

	// ErrOffline is returned when the network failed and nothing was stored
	// for the request.
	ErrOffline = errors.New("network unavailable and no stored response")

	// ErrClosed is reported for cache writes attempted after Close.
	ErrClosed = errors.New("controller closed")
)

// FetchError is returned by RoundTrip when an intercepted request fails.
type FetchError struct {
	Strategy Strategy
	URL      string
	Err      error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	return fmt.Sprintf("%s fetch %s: %v", e.Strategy, e.URL, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}
