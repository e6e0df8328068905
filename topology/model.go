// Package topology parses router topology strings into a task graph and
// exposes the per-router rate/weight/cycle bookkeeping consumed by the
// balancer (spec.md §4.4), grounded on
// _examples/original_source/elements/local/routerbox.{hh,cc} — that file
// only ships the configure()/add_handlers() half of RouterBox in this
// tree (the topology parser and update_chain bodies are not present in
// the retrieved source), so the parsing grammar, Kahn sort, and weight
// propagation below follow the textual algorithm description rather than
// a ported function body.
package topology

import (
	"fmt"
	"strings"
)

// Queue is the subset of a data-plane queue's counters the TopologyModel
// needs to compute rates and weights (spec.md §6, "Queue interface").
type Queue interface {
	PushRate() int
	PullRate() int
	PushCycles() int
	PullCycles() int
	Drops() int
}

// Record is one task entry from a parsed topology string: a task name plus
// the named input and output queues that connect it to its neighbors.
type Record struct {
	Name    string
	Inputs  []string
	Outputs []string
}

// ParseTopology parses a topology string of the form
// "task,in1 in2,out1 out2,task2,in1,out1,..." into an ordered list of
// Records. Commas separate fields, spaces separate queue names within a
// field; a record's fields always come in (name, inputs, outputs) triples.
func ParseTopology(s string) ([]Record, error) {
	fields := strings.Split(s, ",")
	if len(fields)%3 != 0 {
		return nil, fmt.Errorf("topology: malformed topology string %q: field count %d not a multiple of 3", s, len(fields))
	}
	recs := make([]Record, 0, len(fields)/3)
	for i := 0; i+2 < len(fields); i += 3 {
		name := strings.TrimSpace(fields[i])
		if name == "" {
			return nil, fmt.Errorf("topology: empty task name at field %d in %q", i, s)
		}
		recs = append(recs, Record{
			Name:    name,
			Inputs:  splitNonEmpty(fields[i+1]),
			Outputs: splitNonEmpty(fields[i+2]),
		})
	}
	return recs, nil
}

func splitNonEmpty(field string) []string {
	parts := strings.Fields(field)
	if len(parts) == 0 {
		return nil
	}
	return parts
}

// Model is the parsed, topo-sorted task graph for one router: dense task
// ids, adjacency, the traffic-weight matrix W, and propagated per-task
// rates (spec.md §4.4's TopologyModel).
type Model struct {
	names   []string // dense id -> task name, in topo order; id 0 is the source
	nameIdx map[string]int
	adj     [][]int // adj[i] = successor ids of i (parent -> child via a shared queue)

	queueProducer map[string]string // queue name -> producing task name
	inputQueues   map[string][]string
	outputQueues  map[string][]string

	weight [][]float64 // weight[i][j], valid only where adj contains j
	rates  []float64   // propagated rate per id, index matches names
	cycles []int64     // raw cycles per id, set by UpdateInfo's caller
}

// Build parses topo and performs the Kahn topological sort, assigning
// dense ids such that the source (the one record with no inputs) is id 0.
func Build(topo string) (*Model, error) {
	recs, err := ParseTopology(topo)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("topology: empty topology string")
	}

	m := &Model{
		nameIdx:       make(map[string]int),
		queueProducer: make(map[string]string),
		inputQueues:   make(map[string][]string),
		outputQueues:  make(map[string][]string),
	}

	byName := make(map[string]Record, len(recs))
	var source string
	for _, r := range recs {
		if _, dup := byName[r.Name]; dup {
			return nil, fmt.Errorf("topology: duplicate task name %q", r.Name)
		}
		byName[r.Name] = r
		m.inputQueues[r.Name] = r.Inputs
		m.outputQueues[r.Name] = r.Outputs
		for _, q := range r.Outputs {
			m.queueProducer[q] = r.Name
		}
		if len(r.Inputs) == 0 {
			if source != "" {
				return nil, fmt.Errorf("topology: multiple source tasks (%q and %q)", source, r.Name)
			}
			source = r.Name
		}
	}
	if source == "" {
		return nil, fmt.Errorf("topology: no source task found (every record has inputs)")
	}

	// Build a name-keyed adjacency: task -> tasks whose inputs consume one
	// of this task's output queues.
	succ := make(map[string][]string)
	indeg := make(map[string]int)
	for name := range byName {
		indeg[name] = 0
	}
	for _, r := range recs {
		for _, in := range r.Inputs {
			producer, ok := m.queueProducer[in]
			if !ok {
				return nil, fmt.Errorf("topology: task %q reads queue %q with no producer", r.Name, in)
			}
			succ[producer] = append(succ[producer], r.Name)
			indeg[r.Name]++
		}
	}

	order, err := kahnSort(source, byName, succ, indeg)
	if err != nil {
		return nil, err
	}

	m.names = order
	for i, n := range order {
		m.nameIdx[n] = i
	}
	m.adj = make([][]int, len(order))
	for i, n := range order {
		for _, s := range succ[n] {
			m.adj[i] = append(m.adj[i], m.nameIdx[s])
		}
	}
	m.weight = make([][]float64, len(order))
	for i := range m.weight {
		m.weight[i] = make([]float64, len(order))
	}
	m.rates = make([]float64, len(order))
	m.cycles = make([]int64, len(order))
	return m, nil
}

// kahnSort runs Kahn's algorithm seeded from source, breaking ties by
// insertion order of byName's original record list to keep results
// deterministic for a given topology string.
func kahnSort(source string, byName map[string]Record, succ map[string][]string, indeg map[string]int) ([]string, error) {
	indegCopy := make(map[string]int, len(indeg))
	for k, v := range indeg {
		indegCopy[k] = v
	}
	queue := []string{source}
	visited := make(map[string]bool)
	order := make([]string, 0, len(byName))

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if visited[n] {
			continue
		}
		visited[n] = true
		order = append(order, n)
		for _, s := range succ[n] {
			indegCopy[s]--
			if indegCopy[s] == 0 {
				queue = append(queue, s)
			}
		}
	}
	if len(order) != len(byName) {
		return nil, fmt.Errorf("topology: cycle detected or unreachable tasks (sorted %d of %d)", len(order), len(byName))
	}
	return order, nil
}

// TaskIDs returns the task names in topo-sorted order, id 0 is the source.
func (m *Model) TaskIDs() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// SetCycles records the most recently observed raw cycle count for task.
func (m *Model) SetCycles(task string, cycles int64) {
	if id, ok := m.nameIdx[task]; ok {
		m.cycles[id] = cycles
	}
}

// Cycles returns per-task raw cycle counts in topo order.
func (m *Model) Cycles() []int64 {
	out := make([]int64, len(m.cycles))
	copy(out, m.cycles)
	return out
}

// UpdateInfo recomputes the weight matrix from observed per-queue rates
// and re-propagates scalar rates from ref, walking tasks in topo order:
// rate[0] = ref; rate[j] += rate[i] * W[i][j] for each edge i -> j.
func (m *Model) UpdateInfo(ref float64, queueOf func(name string) Queue) {
	for i := range m.weight {
		for j := range m.weight[i] {
			m.weight[i][j] = 0
		}
	}

	for i, name := range m.names {
		outs := m.outputQueues[name]
		if len(outs) == 0 {
			continue
		}
		total := 0.0
		outRate := make(map[string]float64, len(outs))
		for _, q := range outs {
			r := 0.0
			if qq := queueOf(q); qq != nil {
				r = float64(qq.PushRate())
			}
			outRate[q] = r
			total += r
		}
		if total <= 0 {
			continue
		}
		for _, q := range outs {
			// Every output queue has exactly one consuming task; find it by
			// scanning every task's input queues.
			dst := m.consumerOf(q)
			if dst == "" {
				continue
			}
			j, ok := m.nameIdx[dst]
			if !ok {
				continue
			}
			m.weight[i][j] += outRate[q] / total
		}
	}

	for i := range m.rates {
		m.rates[i] = 0
	}
	m.rates[0] = ref
	for i, name := range m.names {
		for _, j := range m.adj[i] {
			m.rates[j] += m.rates[i] * m.weight[i][j]
		}
		_ = name
	}
}

func (m *Model) consumerOf(queue string) string {
	for name, ins := range m.inputQueues {
		for _, in := range ins {
			if in == queue {
				return name
			}
		}
	}
	return ""
}

// TaskRate multiplies the source rate by ratio and re-propagates, then
// returns the resulting per-task rates in topo order.
func (m *Model) TaskRate(ratio float64, queueOf func(name string) Queue) []float64 {
	srcRate := m.rates[0] * ratio
	m.UpdateInfo(srcRate, queueOf)
	out := make([]float64, len(m.rates))
	copy(out, m.rates)
	return out
}

// SrcRate returns the most recently propagated source (id 0) rate.
func (m *Model) SrcRate() float64 {
	if len(m.rates) == 0 {
		return 0
	}
	return m.rates[0]
}

// Rates returns the current propagated per-task rates in topo order.
func (m *Model) Rates() []float64 {
	out := make([]float64, len(m.rates))
	copy(out, m.rates)
	return out
}
