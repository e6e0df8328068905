package runtime

import (
	"fmt"
	"sync"
)

// MsgStatus mirrors spec.md §6's get_msg_status outcomes.
type MsgStatus int

const (
	StatusUnknown MsgStatus = -2
	StatusFail    MsgStatus = -1
	StatusRunning MsgStatus = 0
	StatusOK      MsgStatus = 1
)

// Master is the process-wide registry: worker threads, routers by name, the
// control router, the message-id→status map, and the pause counter
// (spec.md §3). Modeled as a single owned value passed by reference to
// every thread at startup, never a package-level global (spec.md §9).
type Master struct {
	mu      sync.RWMutex
	threads []*WorkerThread // threads[0] is the distinguished quiescent thread

	routers       map[string]RouterHandle
	controlRouter string

	msgMu     sync.Mutex
	nextMsgID int
	msgStatus map[int]MsgStatus

	pauseCount int32

	unusedMu sync.Mutex
	unused   []RouterHandle // dying routers pending reap
}

// RouterHandle is the subset of topology.Router the Master needs, kept as
// an interface here to avoid an import cycle between runtime and topology
// (runtime is the lower-level package; topology depends on it for Task).
type RouterHandle interface {
	Name() string
	Tasks() []*Task
}

// NewMaster constructs a Master with nThreads worker threads plus the
// distinguished quiescent thread[0].
func NewMaster(nThreads int) *Master {
	m := &Master{
		routers:   make(map[string]RouterHandle),
		msgStatus: make(map[int]MsgStatus),
	}
	// thread[0] is quiescent: it never runs tasks, used as a parking home
	// for tasks during router load/teardown.
	m.threads = append(m.threads, NewWorkerThread(0, m))
	for i := 1; i <= nThreads; i++ {
		m.threads = append(m.threads, NewWorkerThread(i, m))
	}
	return m
}

// Threads returns the full thread vector including thread[0].
func (m *Master) Threads() []*WorkerThread {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*WorkerThread, len(m.threads))
	copy(out, m.threads)
	return out
}

// NThreads returns the number of non-quiescent worker threads.
func (m *Master) NThreads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.threads) - 1
}

// Thread returns the worker thread with the given id, or nil.
func (m *Master) Thread(id int) *WorkerThread {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id < 0 || id >= len(m.threads) {
		return nil
	}
	return m.threads[id]
}

// AddThreads creates n additional worker threads (the addthread control
// command, spec.md §4.3) and starts them running.
func (m *Master) AddThreads(n int) []*WorkerThread {
	m.mu.Lock()
	defer m.mu.Unlock()
	start := len(m.threads)
	added := make([]*WorkerThread, 0, n)
	for i := 0; i < n; i++ {
		wt := NewWorkerThread(start+i, m)
		m.threads = append(m.threads, wt)
		added = append(added, wt)
	}
	for _, wt := range added {
		go wt.Run()
	}
	return added
}

// Pause increments the pause counter (quiescing balance/teardown races).
func (m *Master) Pause() { m.mu.Lock(); m.pauseCount++; m.mu.Unlock() }

// Unpause decrements the pause counter.
func (m *Master) Unpause() { m.mu.Lock(); m.pauseCount--; m.mu.Unlock() }

// Paused reports whether any pause is outstanding.
func (m *Master) Paused() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pauseCount > 0
}

// GetRouter looks up a router by name under a read lock.
func (m *Master) GetRouter(name string) (RouterHandle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.routers[name]
	return r, ok
}

// RegisterRouter inserts r into the name map under a write lock. Returns an
// error if the name is already taken.
func (m *Master) RegisterRouter(r RouterHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.routers[r.Name()]; exists {
		return fmt.Errorf("router %q already registered", r.Name())
	}
	m.routers[r.Name()] = r
	return nil
}

// UnregisterRouter removes name from the map under a write lock and stages
// the handle into the unused list for later reap once every thread has
// drained pending ops referencing its tasks.
func (m *Master) UnregisterRouter(name string) (RouterHandle, error) {
	m.mu.Lock()
	r, ok := m.routers[name]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("router %q not found", name)
	}
	delete(m.routers, name)
	m.mu.Unlock()

	m.unusedMu.Lock()
	m.unused = append(m.unused, r)
	m.unusedMu.Unlock()
	return r, nil
}

// Routers returns a snapshot of all currently registered router names.
func (m *Master) Routers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.routers))
	for name := range m.routers {
		names = append(names, name)
	}
	return names
}

// SetControlRouter / ControlRouter manage the distinguished control router
// name (spec.md §3/§6).
func (m *Master) SetControlRouter(name string) { m.mu.Lock(); m.controlRouter = name; m.mu.Unlock() }
func (m *Master) ControlRouter() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlRouter
}

// NextMsgID allocates a new message id with StatusRunning.
func (m *Master) NextMsgID() int {
	m.msgMu.Lock()
	defer m.msgMu.Unlock()
	m.nextMsgID++
	id := m.nextMsgID
	m.msgStatus[id] = StatusRunning
	return id
}

// SetMsgStatus records the outcome of a dispatched command.
func (m *Master) SetMsgStatus(id int, status MsgStatus) {
	m.msgMu.Lock()
	defer m.msgMu.Unlock()
	m.msgStatus[id] = status
}

// GetMsgStatus returns the recorded status for id, or StatusUnknown.
func (m *Master) GetMsgStatus(id int) MsgStatus {
	m.msgMu.Lock()
	defer m.msgMu.Unlock()
	s, ok := m.msgStatus[id]
	if !ok {
		return StatusUnknown
	}
	return s
}

// NotifyDrained is invoked by a WorkerThread when it applies a kill pending
// op for t. Router teardown (delnf) detects full drain by polling
// ReapUnused rather than counting notifications here, so this hook does
// nothing; kept as the extension point original_source's driver loop uses
// to fire per-task teardown callbacks.
func (m *Master) NotifyDrained(t *Task, threadID int) {}

// ReapUnused removes handles from the unused list whose tasks are no
// longer scheduled and have no outstanding pending ops on any thread.
// Returns the reaped handles.
func (m *Master) ReapUnused() []RouterHandle {
	m.unusedMu.Lock()
	defer m.unusedMu.Unlock()

	threads := m.Threads()
	var reaped, remaining []RouterHandle
	for _, r := range m.unused {
		drained := true
		for _, t := range r.Tasks() {
			if t.Scheduled() || t.pendingOp.Load() != nil {
				drained = false
				break
			}
		}
		if drained {
			for _, th := range threads {
				if !th.Pending().Empty() {
					drained = false
					break
				}
			}
		}
		if drained {
			reaped = append(reaped, r)
		} else {
			remaining = append(remaining, r)
		}
	}
	m.unused = remaining
	return reaped
}
