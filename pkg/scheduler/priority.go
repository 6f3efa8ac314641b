package scheduler

import (
	"math"
	"time"
)

// Priority ranks a task. Lower values are more urgent.
type Priority int

const (
	ImmediatePriority Priority = iota + 1
	UserBlockingPriority
	NormalPriority
	LowPriority
	IdlePriority
)

const (
	immediateTimeout    = -1 * time.Millisecond
	userBlockingTimeout = 250 * time.Millisecond
	normalTimeout       = 5000 * time.Millisecond
	lowTimeout          = 10000 * time.Millisecond

	// idleTimeout never expires
	idleTimeout = maxDuration
)

const (
	maxDuration = time.Duration(math.MaxInt64)
	minDuration = time.Duration(math.MinInt64)
)

// String returns the priority name used in logs and metric labels.
func (p Priority) String() string {
	switch p {
	case ImmediatePriority:
		return "immediate"
	case UserBlockingPriority:
		return "user_blocking"
	case NormalPriority:
		return "normal"
	case LowPriority:
		return "low"
	case IdlePriority:
		return "idle"
	default:
		return "unknown"
	}
}

// normalize maps values outside 1..5 to NormalPriority.
func (p Priority) normalize() Priority {
	if p < ImmediatePriority || p > IdlePriority {
		return NormalPriority
	}
	return p
}

// timeout is how long a task may wait once started before it is overdue.
func (p Priority) timeout() time.Duration {
	switch p.normalize() {
	case ImmediatePriority:
		return immediateTimeout
	case UserBlockingPriority:
		return userBlockingTimeout
	case LowPriority:
		return lowTimeout
	case IdlePriority:
		return idleTimeout
	default:
		return normalTimeout
	}
}

// addSaturating returns a+b clamped to the Duration range.
func addSaturating(a, b time.Duration) time.Duration {
	if b > 0 && a > maxDuration-b {
		return maxDuration
	}
	if b < 0 && a < minDuration-b {
		return minDuration
	}
	return a + b
}
