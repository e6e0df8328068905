// Package balancer implements the four placement algorithms that consume
// (task, cycles, rate) triples from topology.Info and produce
// (task, target_thread) assignments (spec.md §4.5): Global LPT, divide-
// proportional, random, and the topology package's own chain-balancer
// variants. Grounded on the teacher's scheduler.Scheduler (priority/queue
// shape) for the run-and-report idiom, and on spec.md's own worked
// examples (S3, S4) for the exact math — the original_source tree does
// not carry a newbalance/dividebalance/randombalance implementation body.
package balancer

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/itskum47/taskforge/observability"
	"github.com/itskum47/taskforge/runtime"
	"github.com/itskum47/taskforge/topology"
)

// Assignment is one (task, target_thread) placement decision.
type Assignment struct {
	Task   *runtime.Task
	Thread int
}

// Result reports a balance run's outcome: executed assignments plus the
// before/after load-balance metric (spec.md §4.5, σ).
type Result struct {
	Assignments []Assignment
	SigmaBefore float64
	SigmaAfter  float64
	LoadBefore  float64
	LoadAfter   float64

	// CPUQuota is populated by DivideProportional: router name -> CPU count
	// assigned to that router's contiguous slice.
	CPUQuota map[string]int
}

type loadedTask struct {
	router topology.Info
	task   *runtime.Task
	load   float64
}

func collectLoads(routers []topology.Info) []loadedTask {
	var out []loadedTask
	for _, r := range routers {
		for _, t := range r.Task() {
			out = append(out, loadedTask{router: r, task: t, load: t.TaskLoad()})
		}
	}
	return out
}

func perCPULoads(lts []loadedTask, placement map[*runtime.Task]int, start, n int) []float64 {
	loads := make([]float64, n)
	for _, lt := range lts {
		cpu := placement[lt.task]
		if cpu < start || cpu >= start+n {
			continue
		}
		loads[cpu-start] += lt.load
	}
	return loads
}

// currentCPULoads sums each task's load onto its live home thread, giving
// the pre-move per-CPU totals a balancer run should report as SigmaBefore.
func currentCPULoads(lts []loadedTask, start, n int) []float64 {
	loads := make([]float64, n)
	for _, lt := range lts {
		cpu := lt.task.HomeThreadID()
		if cpu < start || cpu >= start+n {
			continue
		}
		loads[cpu-start] += lt.load
	}
	return loads
}

// GlobalLPT implements "newbalance": sort tasks by descending load, assign
// each to the currently-least-loaded thread in [startThread, nthreads).
// Moves execute iff execute is true; the Result is always computed either
// way so callers can preview a balance before committing it.
func GlobalLPT(routers []topology.Info, startThread, nthreads int, execute bool) (Result, error) {
	if len(routers) == 0 {
		return Result{}, fmt.Errorf("balancer: newbalance invoked with no routers")
	}
	n := nthreads - startThread
	if n <= 0 {
		return Result{}, fmt.Errorf("balancer: newbalance: empty thread range [%d, %d)", startThread, nthreads)
	}

	lts := collectLoads(routers)
	sort.Slice(lts, func(i, j int) bool { return lts[i].load > lts[j].load })

	cpuLoad := make([]float64, n)
	placement := make(map[*runtime.Task]int, len(lts))
	var totalBefore float64
	for _, lt := range lts {
		totalBefore += lt.load
	}

	for _, lt := range lts {
		min := 0
		for i := 1; i < n; i++ {
			if cpuLoad[i] < cpuLoad[min] {
				min = i
			}
		}
		cpuLoad[min] += lt.load
		placement[lt.task] = startThread + min
	}

	res := Result{
		SigmaBefore: topology.Sigma(currentCPULoads(lts, startThread, n)),
		SigmaAfter:  topology.Sigma(cpuLoad),
		LoadBefore:  totalBefore,
		LoadAfter:   totalBefore,
	}
	for _, lt := range lts {
		res.Assignments = append(res.Assignments, Assignment{Task: lt.task, Thread: placement[lt.task]})
	}

	if execute {
		executeAssignments(routers, res.Assignments)
	}
	recordRun("newbalance", res)
	return res, nil
}

// DivideProportional implements "dividebalance": give each router a real
// CPU quota proportional to its share of total load, pin routers with
// quota <= 1 to a single CPU, then distribute the remaining fractional
// CPUs by largest/smallest-fraction pairing before running LPT within each
// router's contiguous CPU slice.
func DivideProportional(routers []topology.Info, startThread, nthreads int, execute bool) (Result, error) {
	if len(routers) == 0 {
		return Result{}, fmt.Errorf("balancer: dividebalance invoked with no routers")
	}
	n := nthreads - startThread
	if n <= 0 {
		return Result{}, fmt.Errorf("balancer: dividebalance: empty thread range [%d, %d)", startThread, nthreads)
	}

	type routerLoad struct {
		router topology.Info
		load   float64
		cpus   int
	}

	rls := make([]routerLoad, len(routers))
	var total float64
	for i, r := range routers {
		var load float64
		for _, t := range r.Task() {
			load += t.TaskLoad()
		}
		rls[i] = routerLoad{router: r, load: load}
		total += load
	}
	if total <= 0 {
		return Result{}, fmt.Errorf("balancer: dividebalance: total load is zero")
	}

	remaining := rls
	pinned := make([]routerLoad, 0, len(rls))
	cpusLeft := n
	for {
		changed := false
		var next []routerLoad
		for _, rl := range remaining {
			q := rl.load / total * float64(n)
			if q <= 1 {
				rl.cpus = 1
				pinned = append(pinned, rl)
				cpusLeft--
				changed = true
				continue
			}
			next = append(next, rl)
		}
		remaining = next
		if !changed || len(remaining) == 0 {
			break
		}
		// The quota is not recomputed for the remaining routers: it stays
		// relative to the global total and n, so a repeat pass pins nothing
		// new. The fractional step below works from cpusLeft instead.
	}

	if len(remaining) > 0 && cpusLeft > 0 {
		type frac struct {
			idx  int
			frac float64
			floor int
		}
		fracs := make([]frac, len(remaining))
		assignedFloor := 0
		for i, rl := range remaining {
			q := rl.load / total * float64(n)
			floor := int(q)
			if floor < 1 {
				floor = 1
			}
			fracs[i] = frac{idx: i, frac: q - float64(int(q)), floor: floor}
			assignedFloor += floor
		}
		extra := cpusLeft - assignedFloor
		sort.Slice(fracs, func(i, j int) bool { return fracs[i].frac > fracs[j].frac })
		cpus := make([]int, len(remaining))
		for i, f := range fracs {
			cpus[f.idx] = f.floor
			if extra > 0 && i < extra {
				cpus[f.idx]++
			}
		}
		for i := range remaining {
			remaining[i].cpus = cpus[i]
		}
	}

	all := append(pinned, remaining...)

	var res Result
	lts := collectLoads(routers)
	for _, lt := range lts {
		res.LoadBefore += lt.load
	}
	res.LoadAfter = res.LoadBefore
	res.SigmaBefore = topology.Sigma(currentCPULoads(lts, startThread, n))

	cpu := startThread
	var finalCPULoads []float64
	res.CPUQuota = make(map[string]int, len(all))
	for _, rl := range all {
		if rl.cpus <= 0 {
			rl.cpus = 1
		}
		res.CPUQuota[rl.router.RouterName()] = rl.cpus
		sub, err := GlobalLPT([]topology.Info{rl.router}, cpu, cpu+rl.cpus, false)
		if err != nil {
			return Result{}, fmt.Errorf("balancer: dividebalance: router %q: %w", rl.router.RouterName(), err)
		}
		res.Assignments = append(res.Assignments, sub.Assignments...)
		cpu += rl.cpus
		finalCPULoads = append(finalCPULoads, perCPULoads(collectLoads([]topology.Info{rl.router}), assignmentsToMap(sub.Assignments), cpu-rl.cpus, rl.cpus)...)
	}
	res.SigmaAfter = topology.Sigma(finalCPULoads)

	if execute {
		executeAssignments(routers, res.Assignments)
	}
	recordRun("dividebalance", res)
	return res, nil
}

func assignmentsToMap(as []Assignment) map[*runtime.Task]int {
	m := make(map[*runtime.Task]int, len(as))
	for _, a := range as {
		m[a.Task] = a.Thread
	}
	return m
}

// Random implements "randombalance": uniform placement over
// [startThread, nthreads).
func Random(routers []topology.Info, startThread, nthreads int, execute bool, rng *rand.Rand) (Result, error) {
	if len(routers) == 0 {
		return Result{}, fmt.Errorf("balancer: randombalance invoked with no routers")
	}
	n := nthreads - startThread
	if n <= 0 {
		return Result{}, fmt.Errorf("balancer: randombalance: empty thread range [%d, %d)", startThread, nthreads)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	lts := collectLoads(routers)
	cpuLoad := make([]float64, n)
	var res Result
	res.SigmaBefore = topology.Sigma(currentCPULoads(lts, startThread, n))
	for _, lt := range lts {
		cpu := rng.Intn(n)
		cpuLoad[cpu] += lt.load
		res.Assignments = append(res.Assignments, Assignment{Task: lt.task, Thread: startThread + cpu})
		res.LoadBefore += lt.load
	}
	res.LoadAfter = res.LoadBefore
	res.SigmaAfter = topology.Sigma(cpuLoad)

	if execute {
		executeAssignments(routers, res.Assignments)
	}
	recordRun("randombalance", res)
	return res, nil
}

func executeAssignments(routers []topology.Info, assignments []Assignment) {
	byTask := make(map[*runtime.Task]topology.Info)
	for _, r := range routers {
		for _, t := range r.Task() {
			byTask[t] = r
		}
	}
	for _, a := range assignments {
		if mover, ok := byTask[a.Task].(interface {
			MoveTask(*runtime.Task, int)
		}); ok {
			mover.MoveTask(a.Task, a.Thread)
		}
	}
}

func recordRun(algorithm string, res Result) {
	if !observability.Enabled() {
		return
	}
	observability.BalancerRuns.WithLabelValues(algorithm).Inc()
	observability.BalancerSigma.WithLabelValues(algorithm).Set(res.SigmaAfter)
	observability.BalancerMoves.WithLabelValues(algorithm).Add(float64(len(res.Assignments)))
}
