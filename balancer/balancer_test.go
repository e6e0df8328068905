package balancer

import (
	"math/rand"
	"testing"

	"github.com/itskum47/taskforge/runtime"
	"github.com/itskum47/taskforge/topology"
)

// fakeRouter is a minimal topology.Info stand-in used to exercise the
// balancer algorithms without a full topology.Router/Model.
type fakeRouter struct {
	name  string
	tasks []*runtime.Task
}

func (f *fakeRouter) RouterName() string                { return f.name }
func (f *fakeRouter) UpdateInfo(ref float64)             {}
func (f *fakeRouter) SrcRate() float64                   { return 0 }
func (f *fakeRouter) Task() []*runtime.Task               { return f.tasks }
func (f *fakeRouter) TaskRate(ref float64) []float64      { return nil }
func (f *fakeRouter) TaskCycle() []int32                  { return nil }
func (f *fakeRouter) UpdateChain(move bool) error          { return nil }
func (f *fakeRouter) UpdateLocalChain(move bool) error      { return nil }
func (f *fakeRouter) CheckCongestion() []string            { return nil }
func (f *fakeRouter) ResetElement(name string)              {}

func taskWithLoad(load float64) *runtime.Task {
	t := runtime.NewTask("e", "r", 1, func() bool { return true })
	t.SetTaskLoad(load)
	return t
}

// S3 — Global LPT balance: two routers, four tasks with loads
// {100, 80, 40, 20} on 2 CPUs. After newbalance, CPU loads are {120, 120}
// and sigma = 0.
func TestGlobalLPTScenarioS3(t *testing.T) {
	r1 := &fakeRouter{name: "r1", tasks: []*runtime.Task{taskWithLoad(100), taskWithLoad(40)}}
	r2 := &fakeRouter{name: "r2", tasks: []*runtime.Task{taskWithLoad(80), taskWithLoad(20)}}

	res, err := GlobalLPT([]topology.Info{r1, r2}, 0, 2, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.SigmaAfter != 0 {
		t.Fatalf("expected sigma 0, got %v", res.SigmaAfter)
	}
	cpuLoad := make(map[int]float64)
	for _, a := range res.Assignments {
		cpuLoad[a.Thread] += a.Task.TaskLoad()
	}
	if cpuLoad[0] != 120 || cpuLoad[1] != 120 {
		t.Fatalf("expected {120,120}, got %v", cpuLoad)
	}
	if res.LoadBefore != res.LoadAfter {
		t.Fatalf("balancer conservation violated: before=%v after=%v", res.LoadBefore, res.LoadAfter)
	}
}

func TestGlobalLPTRejectsNoRouters(t *testing.T) {
	if _, err := GlobalLPT(nil, 0, 2, false); err == nil {
		t.Fatalf("expected error for empty router set")
	}
}

// S4 — Divide proportional: two routers with total loads {300, 100} on 4
// CPUs. After dividebalance, router-1 gets 3 CPUs, router-2 gets 1.
func TestDivideProportionalScenarioS4(t *testing.T) {
	r1 := &fakeRouter{name: "r1", tasks: []*runtime.Task{taskWithLoad(150), taskWithLoad(150)}}
	r2 := &fakeRouter{name: "r2", tasks: []*runtime.Task{taskWithLoad(100)}}

	res, err := DivideProportional([]topology.Info{r1, r2}, 0, 4, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.CPUQuota["r1"] != 3 {
		t.Fatalf("expected router-1 quota 3, got %d", res.CPUQuota["r1"])
	}
	if res.CPUQuota["r2"] != 1 {
		t.Fatalf("expected router-2 quota 1, got %d", res.CPUQuota["r2"])
	}
}

func TestRandomPlacementStaysWithinRange(t *testing.T) {
	r1 := &fakeRouter{name: "r1", tasks: []*runtime.Task{taskWithLoad(10), taskWithLoad(20), taskWithLoad(30)}}
	rng := rand.New(rand.NewSource(42))

	res, err := Random([]topology.Info{r1}, 2, 5, false, rng)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, a := range res.Assignments {
		if a.Thread < 2 || a.Thread >= 5 {
			t.Fatalf("assignment out of range: %+v", a)
		}
	}
}

func TestRandomRejectsEmptyThreadRange(t *testing.T) {
	r1 := &fakeRouter{name: "r1", tasks: []*runtime.Task{taskWithLoad(10)}}
	if _, err := Random([]topology.Info{r1}, 3, 3, false, nil); err == nil {
		t.Fatalf("expected error for empty thread range")
	}
}
