package testutil

import (
	"sort"
	"sync"
	"time"
)

// ManualHost is a host clock whose time only moves when told to. Timers
// fire synchronously from Advance and RunDue.
type ManualHost struct {
	mu     sync.Mutex
	now    time.Duration
	seq    uint64
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Duration
	seq     uint64
	fn      func()
	stopped bool
}

// NewManualHost creates a host starting at time zero.
func NewManualHost() *ManualHost {
	return &ManualHost{}
}

// Now returns the current host time.
func (h *ManualHost) Now() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

// AfterFunc schedules fn to run d after the current host time.
func (h *ManualHost) AfterFunc(d time.Duration, fn func()) (stop func()) {
	if d < 0 {
		d = 0
	}

	h.mu.Lock()
	h.seq++
	t := &manualTimer{at: h.now + d, seq: h.seq, fn: fn}
	h.timers = append(h.timers, t)
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		t.stopped = true
		h.mu.Unlock()
	}
}

// Skew moves time forward without firing timers, as if work took d.
func (h *ManualHost) Skew(d time.Duration) {
	h.mu.Lock()
	h.now += d
	h.mu.Unlock()
}

// Advance moves time forward by d, firing due timers in time order.
// Timers armed by fired timers also run if they fall within the window.
func (h *ManualHost) Advance(d time.Duration) {
	h.mu.Lock()
	target := h.now + d
	h.mu.Unlock()

	for {
		t := h.popDue(target)
		if t == nil {
			break
		}
		t.fn()
	}

	h.mu.Lock()
	if h.now < target {
		h.now = target
	}
	h.mu.Unlock()
}

// RunDue fires every timer due at the current time, including zero-delay
// timers armed while doing so.
func (h *ManualHost) RunDue() {
	h.Advance(0)
}

// Pending returns the number of armed, unfired timers.
func (h *ManualHost) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, t := range h.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// popDue removes and returns the earliest live timer due by target and
// moves the clock to its deadline.
func (h *ManualHost) popDue(target time.Duration) *manualTimer {
	h.mu.Lock()
	defer h.mu.Unlock()

	live := h.timers[:0]
	for _, t := range h.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	h.timers = live

	sort.Slice(h.timers, func(i, j int) bool {
		if h.timers[i].at != h.timers[j].at {
			return h.timers[i].at < h.timers[j].at
		}
		return h.timers[i].seq < h.timers[j].seq
	})

	if len(h.timers) == 0 || h.timers[0].at > target {
		return nil
	}

	t := h.timers[0]
	h.timers = h.timers[1:]
	if t.at > h.now {
		h.now = t.at
	}
	return t
}
