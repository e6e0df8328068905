// Package observability exposes Prometheus metrics for the driver loop,
// control plane, and balancer, grounded on the teacher's
// control_plane/observability/metrics.go (same promauto registration
// idiom, same metric-naming convention, renamed to this module's domain).
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// enabled gates metric recording so unit tests that construct many
// short-lived WorkerThreads don't record into the default registry; the
// metrics below are registered at package init whether or not it is set.
// cmd/taskforged turns this on at startup.
var enabled = false

// Enable turns on metrics recording for the process.
func Enable() { enabled = true }

// Enabled reports whether metrics recording is turned on.
func Enabled() bool { return enabled }

var (
	// DriverTasksRun counts task fires per worker thread.
	DriverTasksRun = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskforge_driver_tasks_run_total",
		Help: "Total number of task fires executed by a worker thread",
	}, []string{"thread"})

	// DriverTaskFireSeconds is the per-fire wall-clock duration.
	DriverTaskFireSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "taskforge_driver_task_fire_seconds",
		Help:    "Duration of a single task fire",
		Buckets: prometheus.ExponentialBuckets(0.000001, 4, 12),
	})

	// DriverPendingDepth tracks the scheduled-task count per thread after
	// each pending-queue drain.
	DriverPendingDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "taskforge_driver_sched_depth",
		Help: "Number of scheduled tasks on a worker thread's SchedList",
	}, []string{"thread"})

	// ControlCommands counts dispatched control commands by cmd and status.
	ControlCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskforge_control_commands_total",
		Help: "Total control commands dispatched, by command and outcome",
	}, []string{"cmd", "status"})

	// ControlQueueDepth tracks the MsgQueue backlog.
	ControlQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taskforge_control_msgqueue_depth",
		Help: "Current depth of the control-plane message queue",
	})

	// BalancerRuns counts balancer invocations by algorithm.
	BalancerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskforge_balancer_runs_total",
		Help: "Total balancer algorithm invocations",
	}, []string{"algorithm"})

	// BalancerSigma tracks the post-balance load standard deviation.
	BalancerSigma = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "taskforge_balancer_sigma",
		Help: "Per-CPU load standard deviation after the last balance run",
	}, []string{"algorithm"})

	// BalancerMoves counts task moves executed by the balancer.
	BalancerMoves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskforge_balancer_moves_total",
		Help: "Total task placement moves executed",
	}, []string{"algorithm"})

	// CongestionDetected counts congestion episodes found per queue.
	CongestionDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskforge_congestion_detected_total",
		Help: "Total congestion episodes detected on a queue",
	}, []string{"queue"})

	// LeaderStatus is 1 if this process currently holds the HA control-plane
	// lease, 0 otherwise (single-process deployments pin this at 1).
	LeaderStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taskforge_leader_status",
		Help: "1 if this process holds the control-plane leader lease",
	})

	// RoutersLoaded tracks the number of currently-registered routers.
	RoutersLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taskforge_routers_loaded",
		Help: "Number of routers currently registered in the Master",
	})
)
