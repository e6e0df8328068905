package topology

import (
	"testing"

	"github.com/itskum47/taskforge/runtime"
)

func newChainRouter(t *testing.T, master *runtime.Master) (*Router, []*runtime.Task) {
	t.Helper()
	r, err := NewRouter("chain", "a,,q1,b,q1,q2,c,q2,q3,d,q3,", master)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var tasks []*runtime.Task
	for _, name := range r.model.TaskIDs() {
		task := runtime.NewTask(name, "chain", 1, func() bool { return true })
		r.BindTask(name, task)
		tasks = append(tasks, task)
	}
	return r, tasks
}

func TestUpdateChainAssignsContiguousCPUs(t *testing.T) {
	master := runtime.NewMaster(2)
	r, tasks := newChainRouter(t, master)
	r.SetChainBounds(1, 2, 0, 0, 0)

	loads := []float64{100, 80, 40, 20}
	for i, task := range tasks {
		task.SetTaskLoad(loads[i])
	}

	if err := r.UpdateChain(false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// avg = 240/2 = 120: a stays on cpu 1, b would overshoot so cpu 2 takes
	// b, c and d.
	if err := r.UpdateChain(true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int{1, 2, 2, 2}
	ops := master.Thread(1).Pending().Drain()
	if len(ops) != len(tasks) {
		t.Fatalf("expected %d move ops, got %d", len(tasks), len(ops))
	}
	for i, op := range ops {
		if op.Task != tasks[i] || op.TargetHome != want[i] {
			t.Fatalf("move %d: expected %s -> cpu %d, got %s -> cpu %d", i, tasks[i].ElementID, want[i], op.Task.ElementID, op.TargetHome)
		}
	}
}

func TestUpdateChainRejectsEmptyCPURange(t *testing.T) {
	master := runtime.NewMaster(2)
	r, _ := newChainRouter(t, master)
	r.SetChainBounds(2, 1, 0, 0, 0) // end < start

	if err := r.UpdateChain(false); err == nil {
		t.Fatalf("expected error for empty cpu range")
	}
}

type alwaysCongested struct{ n int }

func (q *alwaysCongested) PushRate() int   { return 0 }
func (q *alwaysCongested) PullRate() int   { return 0 }
func (q *alwaysCongested) PushCycles() int { return 0 }
func (q *alwaysCongested) PullCycles() int { return 0 }
func (q *alwaysCongested) Drops() int      { q.n += 1000; return q.n }

func TestCheckCongestionDetectsLargeDropDelta(t *testing.T) {
	master := runtime.NewMaster(1)
	r, _ := newChainRouter(t, master)
	r.SetChainBounds(1, 1, 10, 5, 1) // 2 samples, 5us apart, threshold 1 drop
	r.BindQueue("q1", &alwaysCongested{})

	congested := r.CheckCongestion()
	if len(congested) != 1 || congested[0] != "q1" {
		t.Fatalf("expected q1 reported congested, got %v", congested)
	}
}

func TestUpdateLocalChainRejectsWhenNotExactlyOneCongested(t *testing.T) {
	master := runtime.NewMaster(2)
	r, _ := newChainRouter(t, master)
	r.SetChainBounds(1, 2, 10, 5, 1000000) // drop_diff huge: never congested

	if err := r.UpdateLocalChain(false); err == nil {
		t.Fatalf("expected error: no congested queue")
	}
}
