package topology

import (
	"fmt"
	"math"

	"github.com/itskum47/taskforge/runtime"
)

// Info is the RouterInfo interface consumed by the balancer (spec.md §6):
// router_name, update_info, src_rate, task, task_rate, task_cycle,
// update_chain, update_local_chain, check_congestion, reset_element.
type Info interface {
	RouterName() string
	UpdateInfo(ref float64)
	SrcRate() float64
	Task() []*runtime.Task
	TaskRate(ref float64) []float64
	TaskCycle() []int32
	UpdateChain(move bool) error
	UpdateLocalChain(move bool) error
	CheckCongestion() []string
	ResetElement(name string)
}

// Router is a named packet-processing graph: a parsed Model plus the live
// Task objects and Queue objects bound to the model's task/queue names
// (spec.md §4.4), grounded on routerbox.{hh,cc}'s RouterBox.
type Router struct {
	name   string
	model  *Model
	master *runtime.Master

	tasks     map[string]*runtime.Task
	queues    map[string]Queue
	taskChain []string // contiguous-chain order for update_chain, = model.TaskIDs() unless overridden

	startThread int
	endThread   int
	checkTime   int // microseconds
	checkInterval int // microseconds
	dropDiff    int
}

// NewRouter builds a Router from a topology string and binds it to master
// for pending-op based task moves. Tasks and Queues must be attached via
// BindTask/BindQueue before UpdateInfo/UpdateChain are called.
func NewRouter(name, topo string, master *runtime.Master) (*Router, error) {
	m, err := Build(topo)
	if err != nil {
		return nil, fmt.Errorf("topology: router %q: %w", name, err)
	}
	return &Router{
		name:      name,
		model:     m,
		master:    master,
		tasks:     make(map[string]*runtime.Task),
		queues:    make(map[string]Queue),
		taskChain: m.TaskIDs(),
	}, nil
}

// BindTask associates the live Task for a topology task name.
func (r *Router) BindTask(name string, t *runtime.Task) { r.tasks[name] = t }

// BindQueue associates the live Queue for a topology queue name.
func (r *Router) BindQueue(name string, q Queue) { r.queues[name] = q }

// SetChainBounds configures the CPU range and congestion-probe timing used
// by UpdateChain/UpdateLocalChain/CheckCongestion.
func (r *Router) SetChainBounds(startThread, endThread, checkTimeUS, checkIntervalUS, dropDiff int) {
	r.startThread = startThread
	r.endThread = endThread
	r.checkTime = checkTimeUS
	r.checkInterval = checkIntervalUS
	r.dropDiff = dropDiff
}

// Name implements runtime.RouterHandle.
func (r *Router) Name() string { return r.name }

// Tasks implements runtime.RouterHandle.
func (r *Router) Tasks() []*runtime.Task {
	out := make([]*runtime.Task, 0, len(r.tasks))
	for _, id := range r.model.TaskIDs() {
		if t, ok := r.tasks[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// RouterName implements Info.
func (r *Router) RouterName() string { return r.name }

func (r *Router) queueOf(name string) Queue {
	if q, ok := r.queues[name]; ok {
		return q
	}
	return nil
}

// UpdateInfo implements Info: reads every bound queue's observed rates,
// recomputes the weight matrix, and re-propagates scalar rates from ref.
func (r *Router) UpdateInfo(ref float64) {
	for name, t := range r.tasks {
		r.model.SetCycles(name, int64(t.Cycles()))
	}
	r.model.UpdateInfo(ref, r.queueOf)
	for i, name := range r.model.TaskIDs() {
		if t, ok := r.tasks[name]; ok {
			t.SetRate(r.model.Rates()[i])
			t.SetTaskLoad(float64(t.Cycles()) * r.model.Rates()[i])
		}
	}
}

// SrcRate implements Info.
func (r *Router) SrcRate() float64 { return r.model.SrcRate() }

// Task implements Info: tasks in topo order.
func (r *Router) Task() []*runtime.Task { return r.Tasks() }

// TaskRate implements Info.
func (r *Router) TaskRate(ref float64) []float64 { return r.model.TaskRate(ref, r.queueOf) }

// TaskCycle implements Info.
func (r *Router) TaskCycle() []int32 {
	cycles := r.model.Cycles()
	out := make([]int32, len(cycles))
	for i, c := range cycles {
		out[i] = int32(c)
	}
	return out
}

// ResetElement implements Info; a no-op placeholder, since element-level
// reset is the concern of the bound element, not the topology model.
func (r *Router) ResetElement(name string) {}

// MoveTask enqueues a change-home pending op moving task from its current
// home thread to target (spec.md §4.5 "Move execution").
func (r *Router) MoveTask(t *runtime.Task, target int) {
	cur := r.master.Thread(t.HomeThreadID())
	cur.Pending().Push(t, runtime.OpChangeHome, target)
}

// UpdateChain implements the chain-balancer: treats the router as a linear
// sequence of tasks and assigns contiguous runs of tasks to contiguous CPUs
// by greedy average-load partition (spec.md §4.5).
func (r *Router) UpdateChain(move bool) error {
	if r.endThread < r.startThread {
		return fmt.Errorf("topology: router %q has no cpu range for chain balance", r.name)
	}
	n := r.endThread - r.startThread + 1

	loads := make([]float64, 0, len(r.taskChain))
	tasks := make([]*runtime.Task, 0, len(r.taskChain))
	total := 0.0
	for _, name := range r.taskChain {
		t, ok := r.tasks[name]
		if !ok {
			continue
		}
		l := t.TaskLoad()
		loads = append(loads, l)
		tasks = append(tasks, t)
		total += l
	}
	if len(tasks) == 0 {
		return fmt.Errorf("topology: router %q has no tasks to chain-balance", r.name)
	}

	avg := total / float64(n)
	cpu := r.startThread
	acc := 0.0
	for i, t := range tasks {
		if cpu < r.endThread && acc+loads[i] > avg && acc > 0 {
			cpu++
			acc = 0
		}
		acc += loads[i]
		if move {
			r.MoveTask(t, cpu)
		}
	}
	return nil
}

// UpdateLocalChain implements the congestion-driven local rebalance: find
// exactly one congested queue, verify its owning task isn't on a boundary
// CPU (the start or end thread) and the congested region has >= 3 tasks,
// then try up to three placement perturbations, stopping at the first after
// which CheckCongestion reports no congested queue (spec.md §4.5).
func (r *Router) UpdateLocalChain(move bool) error {
	congested := r.CheckCongestion()
	if len(congested) != 1 {
		return fmt.Errorf("topology: router %q local-chain balance requires exactly one congested queue, found %d", r.name, len(congested))
	}
	taskName := r.model.consumerOf(congested[0])
	t, ok := r.tasks[taskName]
	if !ok {
		return fmt.Errorf("topology: router %q: congested queue %q has no bound consumer task", r.name, congested[0])
	}
	if home := t.HomeThreadID(); home == r.startThread || home == r.endThread {
		return fmt.Errorf("topology: router %q: can't update chain because there is no cpu", r.name)
	}

	idx := indexOf(r.taskChain, taskName)
	if idx < 0 {
		return fmt.Errorf("topology: router %q: congested task %q not in chain", r.name, taskName)
	}
	regionStart, regionEnd := chainRegionOnSameCPU(r.taskChain, r.tasks, idx)
	if regionEnd-regionStart+1 < 3 {
		return fmt.Errorf("topology: router %q: congested region has fewer than 3 tasks", r.name)
	}

	// Three perturbations: move first task of the region down a CPU, split
	// the region's two ends outward by one CPU each, move the last task up
	// a CPU. They are tried in that order and the first that clears
	// congestion is kept; a perturbation that does not clear it is not
	// undone, so each later one is applied on top of the earlier moves.
	perturbations := []func(){
		func() { r.MoveTask(r.tasks[r.taskChain[regionStart]], t.HomeThreadID()-1) },
		func() {
			r.MoveTask(r.tasks[r.taskChain[regionStart]], t.HomeThreadID()-1)
			r.MoveTask(r.tasks[r.taskChain[regionEnd]], t.HomeThreadID()+1)
		},
		func() { r.MoveTask(r.tasks[r.taskChain[regionEnd]], t.HomeThreadID()+1) },
	}

	if !move {
		return nil
	}
	for _, perturb := range perturbations {
		perturb()
		if len(r.CheckCongestion()) == 0 {
			return nil
		}
	}
	return fmt.Errorf("topology: router %q: no local-chain perturbation cleared congestion", r.name)
}

func indexOf(chain []string, name string) int {
	for i, n := range chain {
		if n == name {
			return i
		}
	}
	return -1
}

// chainRegionOnSameCPU returns the [start, end] index range of chain tasks
// sharing idx's current home thread.
func chainRegionOnSameCPU(chain []string, tasks map[string]*runtime.Task, idx int) (int, int) {
	home := tasks[chain[idx]].HomeThreadID()
	start, end := idx, idx
	for start > 0 {
		if t, ok := tasks[chain[start-1]]; ok && t.HomeThreadID() == home {
			start--
		} else {
			break
		}
	}
	for end < len(chain)-1 {
		if t, ok := tasks[chain[end+1]]; ok && t.HomeThreadID() == home {
			end++
		} else {
			break
		}
	}
	return start, end
}

// CheckCongestion implements IsCongestion over every bound queue and
// returns the names of any currently congested ones.
func (r *Router) CheckCongestion() []string {
	var out []string
	for name, q := range r.queues {
		if IsCongestion(q, r.checkTime, r.checkInterval, r.dropDiff) {
			out = append(out, name)
		}
	}
	return out
}

// Sigma computes the load standard deviation across a set of per-CPU
// totals, used by the balancer to report the post-balance metric.
func Sigma(cpuLoads []float64) float64 {
	if len(cpuLoads) == 0 {
		return 0
	}
	mean := 0.0
	for _, l := range cpuLoads {
		mean += l
	}
	mean /= float64(len(cpuLoads))
	var ss float64
	for _, l := range cpuLoads {
		d := l - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(cpuLoads)))
}
