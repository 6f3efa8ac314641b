package scheduler

import (
	"sync"
	"time"
)

var defaultScheduler = sync.OnceValue(func() *Scheduler {
	return New(Config{})
})

// Default returns the process-wide scheduler backed by a SystemHost.
func Default() *Scheduler {
	return defaultScheduler()
}

// Now returns the current time of the default scheduler's host.
func Now() time.Duration {
	return Default().Now()
}

// Schedule queues cb on the default scheduler.
func Schedule(priority Priority, cb Callback, opts ...ScheduleOption) *Task {
	return Default().Schedule(priority, cb, opts...)
}

// Cancel cancels a task of the default scheduler.
func Cancel(task *Task) {
	Default().Cancel(task)
}

// ShouldYield reports whether the default scheduler's pass is out of time.
func ShouldYield() bool {
	return Default().ShouldYield()
}

// RequestPaint is a no-op.
func RequestPaint() {
	Default().RequestPaint()
}

// CurrentPriority always returns NormalPriority.
func CurrentPriority() Priority {
	return Default().CurrentPriority()
}

// ForceFrameRate is a no-op.
func ForceFrameRate(fps int) {
	Default().ForceFrameRate(fps)
}
