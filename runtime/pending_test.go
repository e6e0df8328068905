package runtime

import (
	"sync"
	"testing"
)

func TestPendingQueueDrainFIFO(t *testing.T) {
	q := NewPendingQueue()
	t1 := NewTask("t1", "r", 1, nil)
	t2 := NewTask("t2", "r", 1, nil)
	t3 := NewTask("t3", "r", 1, nil)

	q.Push(t1, OpAddSched, 1)
	q.Push(t2, OpAddSched, 1)
	q.Push(t3, OpAddSched, 1)

	ops := q.Drain()
	if len(ops) != 3 {
		t.Fatalf("expected 3 ops, got %d", len(ops))
	}
	if ops[0].Task != t1 || ops[1].Task != t2 || ops[2].Task != t3 {
		t.Fatalf("expected FIFO order t1,t2,t3")
	}
	if !q.Empty() {
		t.Fatalf("expected queue empty after drain")
	}
}

func TestPendingQueueCoalescesKillOverChangeHome(t *testing.T) {
	q := NewPendingQueue()
	task := NewTask("t", "r", 1, nil)

	q.Push(task, OpChangeHome, 2)
	q.Push(task, OpKill, 0)

	ops := q.Drain()
	if len(ops) != 1 {
		t.Fatalf("expected coalesced single op, got %d", len(ops))
	}
	if ops[0].Kind != OpKill {
		t.Fatalf("expected kill to dominate change-home, got %v", ops[0].Kind)
	}
}

func TestPendingQueueCoalesceDoesNotDowngrade(t *testing.T) {
	q := NewPendingQueue()
	task := NewTask("t", "r", 1, nil)

	q.Push(task, OpKill, 0)
	q.Push(task, OpChangeHome, 2) // must not replace the kill

	ops := q.Drain()
	if len(ops) != 1 || ops[0].Kind != OpKill {
		t.Fatalf("expected kill to remain dominant, got %+v", ops)
	}
}

func TestPendingQueueConcurrentPushersSingleDrainer(t *testing.T) {
	q := NewPendingQueue()
	const n = 200
	tasks := make([]*Task, n)
	for i := range tasks {
		tasks[i] = NewTask("t", "r", 1, nil)
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Push(tasks[i], OpAddSched, 1)
		}(i)
	}
	wg.Wait()

	ops := q.Drain()
	if len(ops) != n {
		t.Fatalf("expected %d ops, got %d", n, len(ops))
	}
}
