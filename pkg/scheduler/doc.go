// Package scheduler provides a cooperative, priority-based task scheduler.
//
// Tasks are callbacks tagged with one of five priorities. Each priority maps
// to a timeout that, added to the task's start time, gives its expiration
// time. Ready tasks run in ascending expiration order (ties by scheduling
// order) during short host-driven passes:
//
//	s := scheduler.New(scheduler.Config{})
//	task := s.Schedule(scheduler.UserBlockingPriority, func(didTimeout bool) (scheduler.Callback, error) {
//	    return nil, render()
//	})
//	s.Cancel(task) // no-op once it ran
//
// Callbacks run one at a time. A callback that has more to do polls
// ShouldYield and returns a continuation, which resumes on a later pass as
// the same task with the same deadline. Cancellation only marks the task;
// it is dropped from its queue when a pass reaches it.
//
// Timeouts:
//
//	Immediate      -1ms (always overdue)
//	UserBlocking  250ms
//	Normal          5s
//	Low            10s
//	Idle         never
package scheduler
