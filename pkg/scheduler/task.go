package scheduler

import "time"

// Callback is a unit of work. didTimeout reports whether the task was
// already overdue when it ran. A non-nil returned Callback is a
// continuation: the same task runs it on a later pass, keeping its id and
// deadline. A returned error removes the task and ends the current pass.
type Callback func(didTimeout bool) (Callback, error)

type taskState int

const (
	statePending taskState = iota
	stateRunning
	stateCancelled
	stateDone
)

// Task is a handle to scheduled work. It is only useful for Cancel and for
// inspection; all mutable fields are guarded by the owning scheduler.
type Task struct {
	id             uint64
	priority       Priority
	startTime      time.Duration
	expirationTime time.Duration

	// guarded by Scheduler.mu
	state     taskState
	callback  Callback
	sortIndex time.Duration
	index     int // position in the heap it sits in, -1 when in none
}

// ID returns the task's monotonic identity.
func (t *Task) ID() uint64 { return t.id }

// Priority returns the normalized priority.
func (t *Task) Priority() Priority { return t.priority }

// StartTime is the host time at which the task becomes eligible.
func (t *Task) StartTime() time.Duration { return t.startTime }

// ExpirationTime is the task's deadline; ready tasks run in ascending order.
func (t *Task) ExpirationTime() time.Duration { return t.expirationTime }
