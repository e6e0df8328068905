package runtime

import "sync/atomic"

// OpKind enumerates PendingQueue operation kinds (spec.md §3/§4.2).
type OpKind int

const (
	OpAddSched OpKind = iota
	OpRemoveSched
	OpChangeHome
	OpKill
)

// precedence ranks opKinds for coalescing: kill > change-home > (add|remove).
// Matches spec.md §4.2 exactly.
func precedence(k OpKind) int {
	switch k {
	case OpKill:
		return 3
	case OpChangeHome:
		return 2
	default:
		return 1
	}
}

// PendingOp is a single cross-thread instruction deposited on a target
// thread's PendingQueue for its owning thread to apply on next drain.
type PendingOp struct {
	Task       *Task
	Kind       OpKind
	TargetHome int // valid only for OpChangeHome
	next       atomic.Pointer[PendingOp]
	queue      *PendingQueue
}

// PendingQueue is a per-thread queue of pending ops. Many threads may push
// (post an op for this thread to apply); only the owning thread drains.
// Implemented as an atomic-head singly linked list: pushers CAS-prepend,
// the owner atomically swaps the head to nil to claim the whole list in
// O(1), matching spec.md §4.2's "atomically claim the entire list" drain
// contract. Coalescing is enforced via Task.pendingOp: a task may have at
// most one outstanding op per target PendingQueue at a time.
type PendingQueue struct {
	head atomic.Pointer[PendingOp]
}

// NewPendingQueue returns an empty PendingQueue.
func NewPendingQueue() *PendingQueue { return &PendingQueue{} }

// Push enqueues an op for t, coalescing with any outstanding op already
// queued for t on this same queue per the kill > change-home > (add|remove)
// precedence rule.
func (q *PendingQueue) Push(t *Task, kind OpKind, targetHome int) {
	for {
		existing := t.pendingOp.Load()
		if existing != nil && existing.onQueue(q) {
			if precedence(kind) > precedence(existing.Kind) {
				existing.Kind = kind
				existing.TargetHome = targetHome
			}
			return
		}

		op := &PendingOp{Task: t, Kind: kind, TargetHome: targetHome}
		op.queue = q
		old := q.head.Load()
		op.next.Store(old)
		if !q.head.CompareAndSwap(old, op) {
			continue
		}
		t.pendingOp.Store(op)
		return
	}
}

// onQueue reports whether op currently belongs to q (best-effort: used only
// to decide whether a coalesce target is this queue's own pending op).
func (op *PendingOp) onQueue(q *PendingQueue) bool {
	return op.queue == q
}

// Drain atomically claims the entire pending list and returns it as a slice
// in FIFO (oldest-pushed-first) order, clearing each task's pendingOp link.
func (q *PendingQueue) Drain() []*PendingOp {
	head := q.head.Swap(nil)
	if head == nil {
		return nil
	}
	// head is in LIFO (most-recently-pushed-first) order; reverse to FIFO.
	var ops []*PendingOp
	for n := head; n != nil; n = n.next.Load() {
		ops = append(ops, n)
	}
	for i, j := 0, len(ops)-1; i < j; i, j = i+1, j-1 {
		ops[i], ops[j] = ops[j], ops[i]
	}
	for _, op := range ops {
		op.Task.pendingOp.CompareAndSwap(op, nil)
	}
	return ops
}

// Empty reports whether the queue currently has no pending ops. Racy by
// nature (another thread may push concurrently); used only for metrics and
// teardown polling, never for correctness decisions.
func (q *PendingQueue) Empty() bool { return q.head.Load() == nil }
