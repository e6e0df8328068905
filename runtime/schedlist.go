package runtime

import "container/heap"

// SchedList is the per-thread stride-ordered collection of runnable tasks
// (spec.md §3). It has no lock of its own and no cross-thread task_blocker
// guard: only its owning WorkerThread mutates it. Internally
// it is a binary heap keyed by pass with wrap-safe comparison, the Go
// analog of the teacher's container/heap-based TaskQueue
// (control_plane/scheduler/queue.go) generalized from priority-aging to
// stride-pass ordering.
type SchedList struct {
	h   taskHeap
	seq uint64
}

// NewSchedList returns an empty SchedList.
func NewSchedList() *SchedList {
	sl := &SchedList{}
	heap.Init(&sl.h)
	return sl
}

type taskHeap struct {
	items []*Task
	order []uint64 // insertion sequence, parallel to items, for tie-breaking
}

func (h taskHeap) Len() int { return len(h.items) }

func (h taskHeap) Less(i, j int) bool {
	if h.items[i].pass != h.items[j].pass {
		return passGT(h.items[j].pass, h.items[i].pass)
	}
	return h.order[i] < h.order[j]
}

func (h taskHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.order[i], h.order[j] = h.order[j], h.order[i]
	h.items[i].heapIdx = i
	h.items[j].heapIdx = j
}

func (h *taskHeap) Push(x interface{}) {
	t := x.(*Task)
	t.heapIdx = len(h.items)
	h.items = append(h.items, t)
	h.order = append(h.order, 0)
}

func (h *taskHeap) Pop() interface{} {
	n := len(h.items)
	t := h.items[n-1]
	h.items[n-1] = nil
	h.items = h.items[:n-1]
	h.order = h.order[:n-1]
	t.heapIdx = -1
	return t
}

// Insert adds t to the list. If t has never been scheduled before (pass==0
// and it carries no prior stride position), its initial pass is set to the
// live global minimum pass plus its stride, per spec.md §3. The minimum is
// read fresh off the heap on every insert rather than cached, since a
// cached minimum only ever falls and would eventually strand it far behind
// the list's live passes, letting a freshly inserted task starve everything
// else until it caught back up.
func (sl *SchedList) Insert(t *Task) {
	if t.pass == 0 {
		base := uint32(0)
		if m := sl.PeekMin(); m != nil {
			base = m.pass
		}
		t.pass = base + t.stride
	}
	sl.seq++
	heap.Push(&sl.h, t)
	sl.h.order[t.heapIdx] = sl.seq
	heap.Fix(&sl.h, t.heapIdx)
	t.scheduled.Store(true)
}

// Remove unlinks t from the list by identity. No-op if not present.
func (sl *SchedList) Remove(t *Task) {
	if t.heapIdx < 0 || t.heapIdx >= len(sl.h.items) || sl.h.items[t.heapIdx] != t {
		return
	}
	heap.Remove(&sl.h, t.heapIdx)
	t.scheduled.Store(false)
}

// PeekMin returns the least-pass task without removing it, or nil if empty.
func (sl *SchedList) PeekMin() *Task {
	if len(sl.h.items) == 0 {
		return nil
	}
	return sl.h.items[0]
}

// SecondMin returns the pass of the second-least task, used by the driver
// loop's starvation-avoidance cap (spec.md §4.1: "advance pass to at least
// the next scheduled task's pass"). Returns (0, false) if fewer than 2 tasks
// remain.
func (sl *SchedList) SecondMin() (uint32, bool) {
	switch len(sl.h.items) {
	case 0, 1:
		return 0, false
	case 2:
		return sl.h.items[1].pass, true
	default:
		a, b := sl.h.items[1].pass, sl.h.items[2].pass
		if passGT(a, b) {
			return b, true
		}
		return a, true
	}
}

// ReinsertCurrent re-establishes heap order for t after its pass field has
// been mutated externally (e.g. by run_tasks advancing t.pass). t must
// already be present in the list.
func (sl *SchedList) ReinsertCurrent(t *Task) {
	if t.heapIdx < 0 || t.heapIdx >= len(sl.h.items) || sl.h.items[t.heapIdx] != t {
		return
	}
	heap.Fix(&sl.h, t.heapIdx)
}

// Len returns the number of scheduled tasks.
func (sl *SchedList) Len() int { return len(sl.h.items) }

// Tasks returns a snapshot slice of all scheduled tasks (owning thread only).
func (sl *SchedList) Tasks() []*Task {
	out := make([]*Task, len(sl.h.items))
	copy(out, sl.h.items)
	return out
}
