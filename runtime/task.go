// Package runtime implements the stride-scheduled per-thread task driver:
// TaskState, SchedList, PendingQueue, WorkerThread, and the process-wide
// Master registry.
package runtime

import (
	"sync"
	"sync/atomic"
)

// STRIDE1 is the fixed large constant stride math is derived from.
// Mirrors Click's Task::STRIDE1.
const STRIDE1 = 1 << 20

// DefaultTickets is the per-task initial ticket allocation.
const DefaultTickets = 1

// ProfileThreshold is the run-count below which cycle EWMA samples are
// skipped to avoid biasing the estimate with cold-start measurements.
const ProfileThreshold = 20

// cyclesWindow is the EWMA window for cycle samples: the newest sample gets
// weight 1/32, as in Click's original (new/32 + old*31/32).
const cyclesWindow = 32

// Fire is the element work function a Task wraps. It returns true if the
// task did useful work (packets moved), false if it found nothing to do.
type Fire func() bool

// passGT implements Click's wrap-safe signed-difference pass comparison:
// (int32)(a-b) > 0.
func passGT(a, b uint32) bool {
	return int32(a-b) > 0
}

// Task is the schedulable unit bound to an element's work function (TaskState
// in spec.md §3). All fields marked "owning thread only" are touched solely
// by the WorkerThread that currently schedules the task; cross-thread
// mutation goes through a PendingQueue op.
type Task struct {
	// Identity
	ElementID string
	RouterID  string

	fire Fire

	// home is the thread id that currently runs this task. Written only by
	// the owning WorkerThread while draining a change-home pending op.
	home atomic.Int32

	// Stride-scheduling state. Owning thread only.
	pass     uint32
	stride   uint32
	tickets  int
	heapIdx  int // index into the owning SchedList's heap; -1 if absent

	// scheduled is true iff this Task is currently linked into its home
	// thread's SchedList.
	scheduled       atomic.Bool
	strongUnsched   atomic.Bool

	// Profiling. Owning thread writes; Balancer reads under mu.
	mu         sync.Mutex
	runs       uint64
	cycles     uint32 // EWMA, cycles per fire
	rate       float64 // packets/sec, externally updated by upstream queue
	taskLoad   float64 // cached cycles * rate, set by the balancer

	// pendingOp is the task's outstanding PendingQueue entry, if any. Guarded
	// by the owning PendingQueue's coalescing logic (see pending.go).
	pendingOp atomic.Pointer[PendingOp]
}

// NewTask creates a Task with default tickets, homed on homeThread.
func NewTask(elementID, routerID string, homeThread int, fire Fire) *Task {
	t := &Task{
		ElementID: elementID,
		RouterID:  routerID,
		fire:      fire,
		tickets:   DefaultTickets,
		stride:    STRIDE1 / DefaultTickets,
		heapIdx:   -1,
	}
	t.home.Store(int32(homeThread))
	return t
}

// HomeThreadID returns the thread currently owning this task.
func (t *Task) HomeThreadID() int { return int(t.home.Load()) }

// Scheduled reports whether the task is linked into its home SchedList.
func (t *Task) Scheduled() bool { return t.scheduled.Load() }

// SetTickets updates the ticket count and recomputes stride. Must only be
// called by the task's owning thread (tickets reallocation happens inside
// the adaptive-scheduler restride, which runs on the owning thread).
func (t *Task) SetTickets(tickets int) {
	if tickets < 1 {
		tickets = 1
	}
	t.tickets = tickets
	t.stride = STRIDE1 / uint32(tickets)
}

// Fire runs the task's work function and returns its work-done result. It
// does not touch the cycle EWMA: the caller (WorkerThread) samples its clock
// before and after and passes the delta to UpdateCycles.
func (t *Task) Fire() bool {
	return t.fire()
}

// UpdateCycles folds a newly observed per-fire cycle delta into the EWMA,
// but only once the task has run more than ProfileThreshold times (cold-start
// bias avoidance, spec.md §4.1).
func (t *Task) UpdateCycles(delta uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs++
	if t.runs <= ProfileThreshold {
		return
	}
	t.cycles = delta/cyclesWindow + (t.cycles*(cyclesWindow-1))/cyclesWindow
}

// Cycles returns the current cycle EWMA.
func (t *Task) Cycles() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cycles
}

// SetRate is called by an upstream queue to publish its observed packet
// rate for this task.
func (t *Task) SetRate(rate float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rate = rate
}

// Rate returns the last externally-published packet rate.
func (t *Task) Rate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rate
}

// Load returns cycles * rate, the load metric balancers consume.
func (t *Task) Load() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return float64(t.cycles) * t.rate
}

// SetTaskLoad caches a balancer-computed load value (used to report
// conservation across a balance run without recomputing from raw samples).
func (t *Task) SetTaskLoad(load float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.taskLoad = load
}

// TaskLoad returns the cached balancer load value.
func (t *Task) TaskLoad() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.taskLoad
}
