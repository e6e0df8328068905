package runtime

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/itskum47/taskforge/observability"
)

// Default driver-loop tuning (spec.md §4.1).
const (
	DefaultTasksPerIter = 128
	MaxTasksPerIter     = 32768
	DefaultItersPerOS   = 2
	DefaultTimerStride  = 20
)

// CycleClock returns a monotonically increasing cycle-like counter. On
// userlevel systems without a cycle-counter syscall, a nanosecond clock is
// an adequate stand-in; production builds may swap in an architecture cycle
// counter.
type CycleClock func() uint64

func defaultCycleClock() uint64 { return uint64(time.Now().UnixNano()) }

// WorkerThread runs the single-threaded cooperative driver loop over its
// own SchedList (spec.md §4.1), grounded on
// original_source/lib/routerthread.cc's run_tasks/process_pending/run_os
// and on the teacher's scheduler.worker() goroutine+ticker idiom
// (control_plane/scheduler/scheduler.go).
type WorkerThread struct {
	ID int

	sched   *SchedList
	pending *PendingQueue
	master  *Master

	TasksPerIter int
	ItersPerOS   int
	TimerStride  int

	clock CycleClock

	stop     atomic.Bool
	wake     chan struct{}
	fireDone chan struct{} // closed once the loop goroutine returns

	mu      sync.Mutex
	running bool

	onTimer  func()
	onSignal func()
}

// NewWorkerThread constructs a WorkerThread with spec defaults.
func NewWorkerThread(id int, master *Master) *WorkerThread {
	return &WorkerThread{
		ID:           id,
		sched:        NewSchedList(),
		pending:      NewPendingQueue(),
		master:       master,
		TasksPerIter: DefaultTasksPerIter,
		ItersPerOS:   DefaultItersPerOS,
		TimerStride:  DefaultTimerStride,
		clock:        defaultCycleClock,
		wake:         make(chan struct{}, 1),
		fireDone:     make(chan struct{}),
	}
}

// SchedList exposes the thread's private scheduled-task list (test/inspection
// use; production callers should not mutate it directly — use Pending()).
func (w *WorkerThread) SchedList() *SchedList { return w.sched }

// Pending returns this thread's PendingQueue, the only channel by which
// other threads may influence its scheduling.
func (w *WorkerThread) Pending() *PendingQueue { return w.pending }

// Wake interrupts a blocked run_os wait immediately.
func (w *WorkerThread) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Stop requests the driver loop exit at the top of its next iteration.
func (w *WorkerThread) Stop() {
	w.stop.Store(true)
	w.Wake()
}

// SetTimerHandler / SetSignalHandler install the timer-wheel and signal
// callbacks the driver loop invokes at the cadence spec.md §4.1 describes.
// Both are external collaborators (§1); nil is a valid no-op.
func (w *WorkerThread) SetTimerHandler(f func())  { w.onTimer = f }
func (w *WorkerThread) SetSignalHandler(f func()) { w.onSignal = f }

// Run executes the driver loop until Stop is called. Intended to be run in
// its own goroutine, one per logical CPU, exactly as Click pins one
// RouterThread per worker thread.
func (w *WorkerThread) Run() {
	w.mu.Lock()
	w.running = true
	w.mu.Unlock()
	defer close(w.fireDone)

	iter := 0
	for {
		if w.stop.Load() {
			return
		}

		w.drainPending()
		w.runTasks(w.TasksPerIter)

		if w.onSignal != nil {
			w.onSignal()
		}

		iter++
		if w.TimerStride > 0 && iter%w.TimerStride == 0 && w.onTimer != nil {
			w.onTimer()
		}
		if w.ItersPerOS > 0 && iter%w.ItersPerOS == 0 {
			w.runOS()
		}
	}
}

// Wait blocks until the driver loop goroutine has returned after Stop.
func (w *WorkerThread) Wait() { <-w.fireDone }

// drainPending claims the entire PendingQueue and applies each op to the
// local SchedList. A change-home op whose target differs from this thread
// forwards the op onto the destination's queue without touching the local
// SchedList (spec.md §4.1 step 2).
func (w *WorkerThread) drainPending() {
	ops := w.pending.Drain()
	for _, op := range ops {
		switch op.Kind {
		case OpKill:
			w.sched.Remove(op.Task)
			if w.master != nil {
				w.master.NotifyDrained(op.Task, w.ID)
			}
		case OpRemoveSched:
			w.sched.Remove(op.Task)
		case OpAddSched:
			if op.Task.HomeThreadID() == w.ID {
				w.sched.Insert(op.Task)
			}
		case OpChangeHome:
			if op.TargetHome == w.ID {
				op.Task.home.Store(int32(w.ID))
				w.sched.Insert(op.Task)
				continue
			}
			w.sched.Remove(op.Task)
			op.Task.home.Store(int32(op.TargetHome))
			if w.master != nil {
				if dest := w.master.Thread(op.TargetHome); dest != nil {
					dest.Pending().Push(op.Task, OpAddSched, op.TargetHome)
				}
			}
		}
	}
	if observability.Enabled() {
		observability.DriverPendingDepth.WithLabelValues(threadLabel(w.ID)).Set(float64(w.sched.Len()))
	}
}

// runTasks executes up to ntasks scheduled tasks in pass order (spec.md
// §4.1 step 3 / original_source run_tasks).
func (w *WorkerThread) runTasks(ntasks int) {
	if ntasks > MaxTasksPerIter {
		ntasks = MaxTasksPerIter
	}

	for ; ntasks > 0; ntasks-- {
		t := w.sched.PeekMin()
		if t == nil || w.stop.Load() {
			break
		}

		if t.HomeThreadID() != w.ID {
			// Home changed underneath us before the move's pending op was
			// observed here; the change-home op owns re-homing it.
			w.sched.Remove(t)
			continue
		}

		runs := t.runs
		profiled := runs > ProfileThreshold
		var before uint64
		if profiled {
			before = w.clock()
		}

		t.scheduled.Store(false)
		start := time.Now()
		workDone := t.Fire()
		if observability.Enabled() {
			observability.DriverTaskFireSeconds.Observe(time.Since(start).Seconds())
			observability.DriverTasksRun.WithLabelValues(threadLabel(w.ID)).Inc()
		}

		if profiled {
			t.UpdateCycles(uint32(w.clock() - before))
		} else {
			t.runs++
		}

		if w.taskStillWanted(t) {
			t.pass += t.stride
			stopAfter := false
			if !workDone {
				if w.sched.Len() < 2 {
					stopAfter = true
				} else if next, ok := w.sched.SecondMin(); ok && passGT(next, t.pass) {
					t.pass = next
				}
			}
			t.scheduled.Store(true)
			w.sched.ReinsertCurrent(t)
			if stopAfter {
				break
			}
		} else {
			w.sched.Remove(t)
		}
	}
}

// taskStillWanted reports whether t should remain scheduled on this thread
// after firing: no kill/change-home moved it mid-fire and it did not
// request its own removal.
func (w *WorkerThread) taskStillWanted(t *Task) bool {
	return t.HomeThreadID() == w.ID && !t.strongUnsched.Load()
}

// runOS performs the iters_per_os OS-wait stand-in: block on the wake
// channel (or a short poll tick) until external readiness, a signal, or a
// timer fires, abandoning the wait immediately once woken (spec.md §4.1
// step 6 / original_source run_os).
func (w *WorkerThread) runOS() {
	if w.sched.Len() > 0 {
		return // tasks still active: never block
	}
	select {
	case <-w.wake:
	case <-time.After(10 * time.Millisecond):
	}
}

func threadLabel(id int) string {
	if id < 0 {
		return "quiescent"
	}
	return strconv.Itoa(id)
}
