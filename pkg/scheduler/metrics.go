package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for task scheduling.
var (
	tasksScheduledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swcache_scheduler_tasks_scheduled_total",
		Help: "Tasks scheduled by priority",
	}, []string{"priority"})

	tasksRunTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swcache_scheduler_task_runs_total",
		Help: "Task callback invocations by priority and outcome",
	}, []string{"priority", "outcome"}) // outcome: "done", "continued", "error"

	tasksCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swcache_scheduler_tasks_cancelled_total",
		Help: "Tasks cancelled before they finished",
	})

	flushPassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "swcache_scheduler_flush_passes_total",
		Help: "Host-driven work passes by result",
	}, []string{"result"}) // result: "drained", "yielded", "error"
)

const (
	outcomeDone      = "done"
	outcomeContinued = "continued"
	outcomeError     = "error"
)
