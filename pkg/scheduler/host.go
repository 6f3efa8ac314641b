package scheduler

import "time"

// Host supplies the clock and the single-shot timer the scheduler runs on.
// AfterFunc with a zero delay must run f on a fresh turn, never inline.
type Host interface {
	Now() time.Duration
	AfterFunc(d time.Duration, f func()) (stop func())
}

// SystemHost is a Host backed by the monotonic clock and time.AfterFunc.
type SystemHost struct {
	start time.Time
}

// NewSystemHost creates a host whose clock starts at zero now.
func NewSystemHost() *SystemHost {
	return &SystemHost{start: time.Now()}
}

// Now returns the time elapsed since the host was created.
func (h *SystemHost) Now() time.Duration {
	return time.Since(h.start)
}

// AfterFunc runs f on its own goroutine after d.
func (h *SystemHost) AfterFunc(d time.Duration, f func()) func() {
	t := time.AfterFunc(d, f)
	return func() { t.Stop() }
}
