package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/swcache/pkg/logging"
	"github.com/rs/zerolog"
)

// DefaultFrameInterval is the time slice granted to each work pass.
const DefaultFrameInterval = 5 * time.Millisecond

// TaskError is returned when a task callback fails. The task has already
// been removed from the queue.
type TaskError struct {
	TaskID   uint64
	Priority Priority
	Err      error
}

// Error implements the error interface.
func (e *TaskError) Error() string {
	return fmt.Sprintf("task %d (%s): %v", e.TaskID, e.Priority, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TaskError) Unwrap() error {
	return e.Err
}

// Config holds the scheduler configuration.
type Config struct {
	// Host provides time and timers (default: SystemHost)
	Host Host

	// Logger (default: component logger "scheduler")
	Logger *zerolog.Logger

	// OnError observes failed task callbacks
	OnError func(err *TaskError)

	// FrameInterval is the slice each pass may use (default: 5ms)
	FrameInterval time.Duration
}

// ScheduleOption configures a single Schedule call.
type ScheduleOption func(*scheduleOptions)

type scheduleOptions struct {
	delay time.Duration
}

// WithDelay postpones eligibility by d. Non-positive delays are ignored.
func WithDelay(d time.Duration) ScheduleOption {
	return func(o *scheduleOptions) {
		o.delay = d
	}
}

// Scheduler runs callbacks cooperatively in deadline order.
//
// Callbacks never run concurrently with each other. Ready tasks are kept in
// a heap by expiration time; tasks with a future start time wait in a
// second heap by start time until a single host timeout promotes them.
type Scheduler struct {
	host          Host
	logger        zerolog.Logger
	onError       func(err *TaskError)
	frameInterval time.Duration

	mu         sync.Mutex
	taskQueue  taskQueue
	timerQueue taskQueue
	nextID     uint64

	isHostCallbackScheduled bool
	isPerformingWork        bool
	isMessageLoopRunning    bool
	hostCallbackPending     bool

	isHostTimeoutScheduled bool
	timeoutGen             uint64
	stopTimeout            func()

	deadline time.Duration
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	host := cfg.Host
	if host == nil {
		host = NewSystemHost()
	}

	logger := logging.NewLogger("scheduler")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	frame := cfg.FrameInterval
	if frame <= 0 {
		frame = DefaultFrameInterval
	}

	return &Scheduler{
		host:          host,
		logger:        logger,
		onError:       cfg.OnError,
		frameInterval: frame,
	}
}

// Now returns the current host time.
func (s *Scheduler) Now() time.Duration {
	return s.host.Now()
}

// Schedule queues cb at priority and returns a handle for Cancel.
// Unknown priorities are treated as NormalPriority.
func (s *Scheduler) Schedule(priority Priority, cb Callback, opts ...ScheduleOption) *Task {
	var o scheduleOptions
	for _, opt := range opts {
		opt(&o)
	}
	priority = priority.normalize()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.host.Now()
	start := now
	if o.delay > 0 {
		start = addSaturating(now, o.delay)
	}

	s.nextID++
	task := &Task{
		id:             s.nextID,
		priority:       priority,
		startTime:      start,
		expirationTime: addSaturating(start, priority.timeout()),
		callback:       cb,
		index:          -1,
	}
	if cb == nil {
		task.state = stateDone
		return task
	}

	if start > now {
		task.sortIndex = start
		s.timerQueue.push(task)
		// Only the earliest timer needs a host timeout, and only while no
		// ready work will re-arm it at the end of a pass.
		if s.taskQueue.peek() == nil && s.timerQueue.peek() == task {
			s.requestHostTimeout(start - now)
		}
	} else {
		task.sortIndex = task.expirationTime
		s.taskQueue.push(task)
		if !s.isHostCallbackScheduled && !s.isPerformingWork {
			s.isHostCallbackScheduled = true
			s.requestHostCallback()
		}
	}

	tasksScheduledTotal.WithLabelValues(priority.String()).Inc()
	s.logger.Debug().
		Uint64("task_id", task.id).
		Str("priority", priority.String()).
		Dur("delay", start-now).
		Msg("Task scheduled")
	return task
}

// Cancel prevents a task from running again. The task stays queued until a
// pass reaches it. Cancelling a finished, cancelled or nil task is a no-op.
// A task cancelled while its callback runs drops any continuation.
func (s *Scheduler) Cancel(task *Task) {
	if task == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if task.state != statePending && task.state != stateRunning {
		return
	}
	task.state = stateCancelled
	task.callback = nil
	tasksCancelledTotal.Inc()
	s.logger.Debug().Uint64("task_id", task.id).Msg("Task cancelled")
}

// ShouldYield reports whether the current pass has used up its slice.
// Long-running callbacks poll it and return a continuation when true.
func (s *Scheduler) ShouldYield() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shouldYieldLocked()
}

func (s *Scheduler) shouldYieldLocked() bool {
	return s.host.Now() >= s.deadline
}

// RequestPaint is a no-op; paint is not tracked.
func (s *Scheduler) RequestPaint() {}

// CurrentPriority always returns NormalPriority; nested priority context is
// not tracked.
func (s *Scheduler) CurrentPriority() Priority {
	return NormalPriority
}

// ForceFrameRate is a no-op; the slice stays at the configured interval.
func (s *Scheduler) ForceFrameRate(fps int) {}

// requestHostCallback asks the host for a work pass on a fresh turn.
// Must be called with s.mu held.
func (s *Scheduler) requestHostCallback() {
	s.hostCallbackPending = true
	if !s.isMessageLoopRunning {
		s.isMessageLoopRunning = true
		s.host.AfterFunc(0, s.performWorkUntilDeadline)
	}
}

// requestHostTimeout arms the single host timeout, replacing any previous
// one. Must be called with s.mu held.
func (s *Scheduler) requestHostTimeout(d time.Duration) {
	s.cancelHostTimeout()
	s.timeoutGen++
	gen := s.timeoutGen
	s.isHostTimeoutScheduled = true
	s.stopTimeout = s.host.AfterFunc(d, func() { s.handleTimeout(gen) })
}

// cancelHostTimeout must be called with s.mu held.
func (s *Scheduler) cancelHostTimeout() {
	if s.stopTimeout != nil {
		s.stopTimeout()
		s.stopTimeout = nil
	}
	s.isHostTimeoutScheduled = false
}

// handleTimeout promotes due timers and requests a pass, or re-arms for the
// next timer. Firings from a replaced timeout are ignored.
func (s *Scheduler) handleTimeout(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.timeoutGen || !s.isHostTimeoutScheduled {
		return
	}
	s.isHostTimeoutScheduled = false
	s.stopTimeout = nil

	now := s.host.Now()
	s.advanceTimers(now)

	if s.isHostCallbackScheduled {
		return
	}
	if s.taskQueue.peek() != nil {
		s.isHostCallbackScheduled = true
		s.requestHostCallback()
		return
	}
	if first := s.timerQueue.peek(); first != nil {
		s.requestHostTimeout(first.startTime - now)
	}
}

// advanceTimers moves timers whose start time has passed into the ready
// queue and discards cancelled ones. Must be called with s.mu held.
func (s *Scheduler) advanceTimers(now time.Duration) {
	for timer := s.timerQueue.peek(); timer != nil; timer = s.timerQueue.peek() {
		switch {
		case timer.state != statePending:
			s.timerQueue.pop()
		case timer.startTime <= now:
			s.timerQueue.pop()
			timer.sortIndex = timer.expirationTime
			s.taskQueue.push(timer)
		default:
			return
		}
	}
}

// performWorkUntilDeadline is the host callback. It runs one pass with a
// fresh slice and posts another while work remains.
func (s *Scheduler) performWorkUntilDeadline() {
	s.mu.Lock()
	if !s.hostCallbackPending {
		s.isMessageLoopRunning = false
		s.mu.Unlock()
		return
	}
	now := s.host.Now()
	s.deadline = now + s.frameInterval
	s.mu.Unlock()

	hasMore, err := s.flushWork(true, now)

	result := "drained"
	switch {
	case err != nil:
		result = "error"
		hasMore = true
		s.reportError(err)
	case hasMore:
		result = "yielded"
	}
	flushPassesTotal.WithLabelValues(result).Inc()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Work scheduled after the pass drained the queue also needs a pass.
	if hasMore || s.isHostCallbackScheduled {
		s.host.AfterFunc(0, s.performWorkUntilDeadline)
		return
	}
	s.isMessageLoopRunning = false
	s.hostCallbackPending = false
}

func (s *Scheduler) reportError(err error) {
	taskErr, ok := err.(*TaskError)
	if !ok {
		taskErr = &TaskError{Err: err}
	}

	s.logger.Error().
		Err(taskErr.Err).
		Uint64("task_id", taskErr.TaskID).
		Str("priority", taskErr.Priority.String()).
		Msg("Task failed")

	if s.onError != nil {
		s.onError(taskErr)
	}
}

// flushWork runs one pass. It reports whether ready work remains.
func (s *Scheduler) flushWork(hasTimeRemaining bool, initialTime time.Duration) (bool, error) {
	s.mu.Lock()
	s.isHostCallbackScheduled = false
	if s.isHostTimeoutScheduled {
		s.cancelHostTimeout()
	}
	s.isPerformingWork = true
	s.mu.Unlock()

	return s.workLoop(hasTimeRemaining, initialTime)
}

// workLoop runs ready tasks in deadline order until the queue is empty or
// the slice is spent and the next task is not yet overdue. A continuation
// or a failed callback ends the pass early.
func (s *Scheduler) workLoop(hasTimeRemaining bool, initialTime time.Duration) (bool, error) {
	s.mu.Lock()
	// Cleared under the same lock that decides the result, so a task
	// scheduled from another goroutine is either seen here or requests
	// its own pass.
	defer func() {
		s.isPerformingWork = false
		s.mu.Unlock()
	}()

	now := initialTime
	s.advanceTimers(now)

	for task := s.taskQueue.peek(); task != nil; task = s.taskQueue.peek() {
		if task.expirationTime > now && (!hasTimeRemaining || s.shouldYieldLocked()) {
			return true, nil
		}

		if task.state != statePending {
			s.taskQueue.pop()
			continue
		}

		cb := task.callback
		task.callback = nil
		task.state = stateRunning
		didTimeout := task.expirationTime <= now

		next, err := s.invoke(cb, didTimeout)

		now = s.host.Now()
		label := task.priority.String()

		if err != nil {
			task.state = stateDone
			s.removeIfFirst(task)
			tasksRunTotal.WithLabelValues(label, outcomeError).Inc()
			return true, &TaskError{TaskID: task.id, Priority: task.priority, Err: err}
		}

		if next != nil && task.state == stateRunning {
			task.callback = next
			task.state = statePending
			tasksRunTotal.WithLabelValues(label, outcomeContinued).Inc()
			s.advanceTimers(now)
			return true, nil
		}

		if task.state == stateRunning {
			task.state = stateDone
		}
		s.removeIfFirst(task)
		tasksRunTotal.WithLabelValues(label, outcomeDone).Inc()
		s.advanceTimers(now)
	}

	if first := s.timerQueue.peek(); first != nil {
		s.requestHostTimeout(first.startTime - now)
	}
	return false, nil
}

// invoke runs cb without holding s.mu.
func (s *Scheduler) invoke(cb Callback, didTimeout bool) (Callback, error) {
	s.mu.Unlock()
	defer s.mu.Lock()
	return cb(didTimeout)
}

// removeIfFirst pops task when it is still at the head. Otherwise a task
// scheduled during its callback took the head, and the finished task is
// discarded when a pass reaches it.
func (s *Scheduler) removeIfFirst(task *Task) {
	if s.taskQueue.peek() == task {
		s.taskQueue.pop()
	}
}
