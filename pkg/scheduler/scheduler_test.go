package scheduler

import (
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/swcache/internal/testutil"
	"github.com/rs/zerolog"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestScheduler(t *testing.T, opts ...func(*Config)) (*Scheduler, *testutil.ManualHost) {
	t.Helper()

	host := testutil.NewManualHost()
	logger := zerolog.Nop()
	cfg := Config{Host: host, Logger: &logger}
	for _, opt := range opts {
		opt(&cfg)
	}
	return New(cfg), host
}

// flush runs one pass directly with a fresh slice.
func flush(s *Scheduler) (bool, error) {
	now := s.Now()
	s.mu.Lock()
	s.deadline = now + s.frameInterval
	s.mu.Unlock()
	return s.flushWork(true, now)
}

func queueLens(s *Scheduler) (ready, timers int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.taskQueue.Len(), s.timerQueue.Len()
}

// runLog records the order callbacks ran in.
type runLog struct {
	mu    sync.Mutex
	names []string
}

func (l *runLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, name)
}

func (l *runLog) task(name string) Callback {
	return func(bool) (Callback, error) {
		l.add(name)
		return nil, nil
	}
}

func (l *runLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.names...)
}

func assertRun(t *testing.T, l *runLog, want ...string) {
	t.Helper()
	got := l.get()
	if len(got) == 0 && len(want) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ran %v, want %v", got, want)
	}
}

func TestScheduler_ImmediateRunsBeforeNormal(t *testing.T) {
	s, host := newTestScheduler(t)
	log := &runLog{}

	s.Schedule(NormalPriority, log.task("A"))
	host.Skew(time.Millisecond)
	s.Schedule(ImmediatePriority, log.task("B"))

	assertRun(t, log)
	host.RunDue()
	assertRun(t, log, "B", "A")
}

func TestScheduler_DeadlineOrder(t *testing.T) {
	s, host := newTestScheduler(t)
	log := &runLog{}

	s.Schedule(IdlePriority, log.task("idle"))
	s.Schedule(LowPriority, log.task("low"))
	s.Schedule(NormalPriority, log.task("normal-1"))
	s.Schedule(UserBlockingPriority, log.task("user"))
	s.Schedule(NormalPriority, log.task("normal-2"))
	s.Schedule(ImmediatePriority, log.task("immediate"))

	host.RunDue()
	assertRun(t, log, "immediate", "user", "normal-1", "normal-2", "low", "idle")
}

func TestScheduler_DidTimeout(t *testing.T) {
	s, host := newTestScheduler(t)

	got := map[string]bool{}
	record := func(name string) Callback {
		return func(didTimeout bool) (Callback, error) {
			got[name] = didTimeout
			return nil, nil
		}
	}

	s.Schedule(ImmediatePriority, record("immediate"))
	s.Schedule(NormalPriority, record("normal"))
	host.RunDue()

	if !got["immediate"] {
		t.Error("immediate task should run overdue")
	}
	if got["normal"] {
		t.Error("normal task should not run overdue")
	}
}

func TestScheduler_DelayedTaskPromotion(t *testing.T) {
	s, host := newTestScheduler(t)
	log := &runLog{}

	delayed := s.Schedule(NormalPriority, log.task("C"), WithDelay(100*time.Millisecond))
	s.Schedule(NormalPriority, log.task("D"))

	if delayed.StartTime() != 100*time.Millisecond {
		t.Errorf("StartTime() = %v, want 100ms", delayed.StartTime())
	}
	if delayed.ExpirationTime() != 5100*time.Millisecond {
		t.Errorf("ExpirationTime() = %v, want 5.1s", delayed.ExpirationTime())
	}

	host.RunDue()
	assertRun(t, log, "D")
	if n := host.Pending(); n != 1 {
		t.Errorf("armed host timers = %d, want 1", n)
	}

	host.Advance(99 * time.Millisecond)
	assertRun(t, log, "D")

	host.Advance(time.Millisecond)
	assertRun(t, log, "D", "C")

	if ready, timers := queueLens(s); ready != 0 || timers != 0 {
		t.Errorf("queues = (%d, %d), want empty", ready, timers)
	}
}

func TestScheduler_PromotedTaskRunsInDeadlineOrder(t *testing.T) {
	s, host := newTestScheduler(t)
	log := &runLog{}

	s.Schedule(LowPriority, log.task("F"))
	s.Schedule(UserBlockingPriority, log.task("E"), WithDelay(10*time.Millisecond))

	// Both are eligible when the pass starts; E's deadline is earlier.
	host.Skew(10 * time.Millisecond)
	host.RunDue()

	assertRun(t, log, "E", "F")
}

func TestScheduler_EarlierTimerReplacesHostTimeout(t *testing.T) {
	s, host := newTestScheduler(t)
	log := &runLog{}

	s.Schedule(NormalPriority, log.task("late"), WithDelay(100*time.Millisecond))
	s.Schedule(NormalPriority, log.task("early"), WithDelay(50*time.Millisecond))

	if n := host.Pending(); n != 1 {
		t.Errorf("armed host timers = %d, want 1", n)
	}

	host.Advance(50 * time.Millisecond)
	assertRun(t, log, "early")

	host.Advance(50 * time.Millisecond)
	assertRun(t, log, "early", "late")
}

func TestScheduler_StaleTimeoutIgnored(t *testing.T) {
	s, host := newTestScheduler(t)
	log := &runLog{}

	s.Schedule(NormalPriority, log.task("late"), WithDelay(100*time.Millisecond))
	s.Schedule(NormalPriority, log.task("early"), WithDelay(50*time.Millisecond))
	host.Skew(100 * time.Millisecond)

	// The first timeout was replaced; its firing must not promote anything.
	s.handleTimeout(1)
	if ready, _ := queueLens(s); ready != 0 {
		t.Errorf("ready tasks after stale timeout = %d, want 0", ready)
	}

	host.RunDue()
	assertRun(t, log, "early", "late")
}

func TestScheduler_Cancel(t *testing.T) {
	s, host := newTestScheduler(t)
	log := &runLog{}

	a := s.Schedule(NormalPriority, log.task("A"))
	b := s.Schedule(NormalPriority, log.task("B"))

	s.Cancel(a)
	s.Cancel(a)

	// Tombstoned, not removed
	if ready, _ := queueLens(s); ready != 2 {
		t.Errorf("ready tasks = %d, want 2", ready)
	}

	host.RunDue()
	assertRun(t, log, "B")

	s.Cancel(a)
	s.Cancel(b)
	s.Cancel(nil)

	if ready, _ := queueLens(s); ready != 0 {
		t.Errorf("ready tasks = %d, want 0", ready)
	}
}

func TestScheduler_CancelDelayed(t *testing.T) {
	s, host := newTestScheduler(t)
	log := &runLog{}

	task := s.Schedule(NormalPriority, log.task("A"), WithDelay(50*time.Millisecond))
	s.Cancel(task)

	host.Advance(time.Second)
	assertRun(t, log)

	if ready, timers := queueLens(s); ready != 0 || timers != 0 {
		t.Errorf("queues = (%d, %d), want empty", ready, timers)
	}
}

func TestScheduler_CancelWhileRunningDropsContinuation(t *testing.T) {
	s, host := newTestScheduler(t)

	calls := 0
	var task *Task
	task = s.Schedule(NormalPriority, func(bool) (Callback, error) {
		calls++
		s.Cancel(task)
		return func(bool) (Callback, error) {
			t.Error("continuation of a cancelled task ran")
			return nil, nil
		}, nil
	})

	host.RunDue()

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if ready, _ := queueLens(s); ready != 0 {
		t.Errorf("ready tasks = %d, want 0", ready)
	}
}

func TestScheduler_Continuation(t *testing.T) {
	s, host := newTestScheduler(t)

	var didTimeouts []bool
	var step Callback
	step = func(didTimeout bool) (Callback, error) {
		didTimeouts = append(didTimeouts, didTimeout)
		if len(didTimeouts) < 3 {
			return step, nil
		}
		return nil, nil
	}

	task := s.Schedule(NormalPriority, step)
	deadline := task.ExpirationTime()

	more, err := flush(s)
	if err != nil || !more {
		t.Fatalf("first pass = (%v, %v), want (true, nil)", more, err)
	}
	if ready, _ := queueLens(s); ready != 1 {
		t.Fatalf("ready tasks = %d, want the same task requeued", ready)
	}
	s.mu.Lock()
	head := s.taskQueue.peek()
	s.mu.Unlock()
	if head != task {
		t.Fatal("continuation should keep the original task")
	}

	// Past the deadline the continuation runs overdue
	host.Skew(6 * time.Second)
	if more, err := flush(s); err != nil || !more {
		t.Fatalf("second pass = (%v, %v), want (true, nil)", more, err)
	}
	if more, err := flush(s); err != nil || more {
		t.Fatalf("third pass = (%v, %v), want (false, nil)", more, err)
	}

	if want := []bool{false, true, true}; !reflect.DeepEqual(didTimeouts, want) {
		t.Errorf("didTimeout = %v, want %v", didTimeouts, want)
	}
	if task.ExpirationTime() != deadline {
		t.Errorf("ExpirationTime() = %v, want %v", task.ExpirationTime(), deadline)
	}
}

func TestScheduler_ContinuationThroughHost(t *testing.T) {
	s, host := newTestScheduler(t)
	log := &runLog{}

	remaining := 3
	var chunk Callback
	chunk = func(bool) (Callback, error) {
		log.add("chunk")
		remaining--
		if remaining > 0 {
			return chunk, nil
		}
		return nil, nil
	}

	s.Schedule(LowPriority, chunk)
	s.Schedule(NormalPriority, log.task("other"))

	host.RunDue()
	assertRun(t, log, "other", "chunk", "chunk", "chunk")
}

func TestScheduler_ErrorAbortsPass(t *testing.T) {
	s, _ := newTestScheduler(t)
	log := &runLog{}
	errBoom := errors.New("boom")

	s.Schedule(ImmediatePriority, func(bool) (Callback, error) {
		log.add("X")
		return nil, errBoom
	})
	s.Schedule(NormalPriority, log.task("Y"))

	more, err := flush(s)
	if !errors.Is(err, errBoom) {
		t.Fatalf("flush error = %v, want boom", err)
	}
	var taskErr *TaskError
	if !errors.As(err, &taskErr) {
		t.Fatalf("flush error = %T, want *TaskError", err)
	}
	if taskErr.TaskID != 1 || taskErr.Priority != ImmediatePriority {
		t.Errorf("TaskError = %+v", taskErr)
	}
	if !more {
		t.Error("remaining work should be reported")
	}
	assertRun(t, log, "X")

	if ready, _ := queueLens(s); ready != 1 {
		t.Errorf("ready tasks = %d, want 1", ready)
	}

	more, err = flush(s)
	if err != nil || more {
		t.Fatalf("second pass = (%v, %v), want (false, nil)", more, err)
	}
	assertRun(t, log, "X", "Y")
}

func TestScheduler_ErrorReportedAndWorkResumes(t *testing.T) {
	var reported []*TaskError
	s, host := newTestScheduler(t, func(cfg *Config) {
		cfg.OnError = func(err *TaskError) { reported = append(reported, err) }
	})
	log := &runLog{}

	s.Schedule(UserBlockingPriority, func(bool) (Callback, error) {
		log.add("X")
		return nil, errors.New("render failed")
	})
	s.Schedule(NormalPriority, log.task("Y"))

	host.RunDue()

	assertRun(t, log, "X", "Y")
	if len(reported) != 1 {
		t.Fatalf("reported %d errors, want 1", len(reported))
	}
	if reported[0].Priority != UserBlockingPriority {
		t.Errorf("Priority = %s, want user_blocking", reported[0].Priority)
	}
}

func TestScheduler_YieldsWhenSliceSpent(t *testing.T) {
	s, host := newTestScheduler(t)
	log := &runLog{}

	s.Schedule(NormalPriority, func(bool) (Callback, error) {
		log.add("A")
		if s.ShouldYield() {
			t.Error("ShouldYield() = true at start of slice")
		}
		host.Skew(6 * time.Millisecond)
		if !s.ShouldYield() {
			t.Error("ShouldYield() = false after slice")
		}
		return nil, nil
	})
	s.Schedule(NormalPriority, log.task("B"))

	more, err := flush(s)
	if err != nil || !more {
		t.Fatalf("flush = (%v, %v), want (true, nil)", more, err)
	}
	assertRun(t, log, "A")

	host.RunDue()
	assertRun(t, log, "A", "B")
}

func TestScheduler_OverdueTasksIgnoreYield(t *testing.T) {
	s, host := newTestScheduler(t)
	log := &runLog{}

	s.Schedule(NormalPriority, func(bool) (Callback, error) {
		log.add("A")
		host.Skew(6 * time.Second)
		return nil, nil
	})
	s.Schedule(NormalPriority, log.task("B"))

	more, err := flush(s)
	if err != nil || more {
		t.Fatalf("flush = (%v, %v), want (false, nil)", more, err)
	}
	assertRun(t, log, "A", "B")
}

func TestScheduler_NoTimeRemaining(t *testing.T) {
	s, _ := newTestScheduler(t)
	log := &runLog{}

	s.Schedule(NormalPriority, log.task("normal"))
	s.Schedule(ImmediatePriority, log.task("immediate"))

	more, err := s.flushWork(false, s.Now())
	if err != nil || !more {
		t.Fatalf("flushWork = (%v, %v), want (true, nil)", more, err)
	}
	assertRun(t, log, "immediate")
}

func TestScheduler_ScheduleDuringPass(t *testing.T) {
	s, host := newTestScheduler(t)
	log := &runLog{}

	s.Schedule(NormalPriority, func(bool) (Callback, error) {
		log.add("parent")
		s.Schedule(ImmediatePriority, log.task("child"))
		return nil, nil
	})
	s.Schedule(NormalPriority, log.task("sibling"))

	host.RunDue()
	assertRun(t, log, "parent", "child", "sibling")

	if ready, _ := queueLens(s); ready != 0 {
		t.Errorf("ready tasks = %d, want 0", ready)
	}
}

func TestScheduler_IdleNeverExpires(t *testing.T) {
	s, host := newTestScheduler(t)

	idle := s.Schedule(IdlePriority, func(bool) (Callback, error) { return nil, nil })
	if idle.ExpirationTime() != maxDuration {
		t.Errorf("ExpirationTime() = %v, want max", idle.ExpirationTime())
	}

	host.Skew(time.Hour)
	far := s.Schedule(IdlePriority, func(bool) (Callback, error) { return nil, nil }, WithDelay(maxDuration-time.Minute))
	if far.StartTime() != maxDuration {
		t.Errorf("StartTime() = %v, want clamped to max", far.StartTime())
	}
	if far.ExpirationTime() != maxDuration {
		t.Errorf("ExpirationTime() = %v, want max", far.ExpirationTime())
	}
	s.Cancel(far)
}

func TestScheduler_UnknownPriority(t *testing.T) {
	s, _ := newTestScheduler(t)

	for _, p := range []Priority{0, -3, 6, 42} {
		task := s.Schedule(p, func(bool) (Callback, error) { return nil, nil })
		if task.Priority() != NormalPriority {
			t.Errorf("Schedule(%d).Priority() = %s, want normal", p, task.Priority())
		}
		if got := task.ExpirationTime() - task.StartTime(); got != normalTimeout {
			t.Errorf("Schedule(%d) timeout = %v, want %v", p, got, normalTimeout)
		}
	}
}

func TestScheduler_NilCallback(t *testing.T) {
	s, host := newTestScheduler(t)

	task := s.Schedule(NormalPriority, nil)
	if task == nil {
		t.Fatal("Schedule() returned nil")
	}
	s.Cancel(task)

	if ready, timers := queueLens(s); ready != 0 || timers != 0 {
		t.Errorf("queues = (%d, %d), want empty", ready, timers)
	}
	if n := host.Pending(); n != 0 {
		t.Errorf("armed host timers = %d, want 0", n)
	}
}

func TestScheduler_NoOps(t *testing.T) {
	s, _ := newTestScheduler(t)

	s.RequestPaint()
	s.ForceFrameRate(120)

	if got := s.CurrentPriority(); got != NormalPriority {
		t.Errorf("CurrentPriority() = %s, want normal", got)
	}
}

func TestScheduler_SystemHost(t *testing.T) {
	nop := zerolog.Nop()
	s := New(Config{Logger: &nop})

	const n = 50
	var (
		wg      sync.WaitGroup
		running atomic.Int32
		ran     atomic.Int32
	)
	wg.Add(n + 1)

	cb := func(bool) (Callback, error) {
		if running.Add(1) > 1 {
			t.Error("callbacks overlapped")
		}
		ran.Add(1)
		running.Add(-1)
		wg.Done()
		return nil, nil
	}

	for i := 0; i < n; i++ {
		go s.Schedule(Priority(i%5+1), cb)
	}
	s.Schedule(NormalPriority, cb, WithDelay(10*time.Millisecond))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("ran %d of %d tasks", ran.Load(), n+1)
	}
}
