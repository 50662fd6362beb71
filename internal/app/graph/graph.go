// Package graph is the build-time API that turns connected element tasks
// into table slots with scheduling rules and wake lists.
package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tutu-network/dataflow/internal/domain"
	"github.com/tutu-network/dataflow/internal/infra/scheduler"
)

// Node is one task registered in the graph.
type Node struct {
	Slot    int    `json:"slot"`
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Rule    string `json:"rule"`
	Inputs  int    `json:"inputs"`
	Outputs int    `json:"outputs"`

	rule domain.SchedulingRule
	task domain.Task
}

// Edge is one connected channel.
type Edge struct {
	From     domain.ChannelID `json:"from"`
	To       domain.ChannelID `json:"to"`
	FromSlot int              `json:"from_slot"`
	ToSlot   int              `json:"to_slot"`
}

// View is a snapshot of the graph structure.
type View struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Graph registers tasks into a table.
type Graph struct {
	mu        sync.Mutex
	table     *scheduler.Table
	byName    map[string]*Node
	nodes     []*Node
	edges     []Edge
	committed int // nodes[:committed] have their edges registered
}

// New returns an empty graph over table.
func New(table *scheduler.Table) *Graph {
	return &Graph{table: table, byName: map[string]*Node{}}
}

// Table returns the underlying task table.
func (g *Graph) Table() *scheduler.Table { return g.table }

func kindOf(t domain.Task) string {
	if k, ok := t.(interface{ Kind() string }); ok {
		return k.Kind()
	}
	return "task"
}

// Add stores task in the next free slot with the given rule. Task names are
// unique within a graph.
func (g *Graph) Add(task domain.Task, rule domain.SchedulingRule) (int, error) {
	if task == nil {
		return -1, domain.ErrNotStored
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	name := task.Name()
	if _, exists := g.byName[name]; exists {
		return -1, fmt.Errorf("task %q: %w", name, domain.ErrAlreadyExists)
	}
	slot, err := g.table.Add(task)
	if err != nil {
		return -1, fmt.Errorf("add %q: %w", name, err)
	}
	if err := g.table.InitInfo(slot, task.OutputCount(), rule); err != nil {
		_ = g.table.Reclaim(slot)
		return -1, fmt.Errorf("init %q: %w", name, err)
	}
	n := &Node{
		Slot:    slot,
		Name:    name,
		Kind:    kindOf(task),
		Rule:    rule.String(),
		Inputs:  task.InputCount(),
		Outputs: task.OutputCount(),
		rule:    rule,
		task:    task,
	}
	g.byName[name] = n
	g.nodes = append(g.nodes, n)
	return slot, nil
}

// Slot returns the slot of the named task.
func (g *Graph) Slot(name string) (int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.byName[name]
	if !ok {
		return -1, false
	}
	return n.Slot, true
}

// Commit resolves every connected input of tasks added since the last
// Commit to its producing slot and registers the wake lists. An input whose
// producer is not in the graph fails with domain.ErrNonExistent and nothing
// from this batch is registered.
func (g *Graph) Commit() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	deps := map[int][]scheduler.Dependent{}
	var edges []Edge
	for _, n := range g.nodes[g.committed:] {
		for i := 0; i < n.task.InputCount(); i++ {
			peer, ok := n.task.InputID(i)
			if !ok {
				continue
			}
			producer, ok := g.byName[peer.Task]
			if !ok {
				return fmt.Errorf("%s input %d fed by %s: %w", n.Name, i, peer, domain.ErrNonExistent)
			}
			deps[producer.Slot] = append(deps[producer.Slot], scheduler.Dependent{Channel: peer, Slot: n.Slot})
			edges = append(edges, Edge{
				From:     peer,
				To:       domain.NewChannelID(n.Name, i),
				FromSlot: producer.Slot,
				ToSlot:   n.Slot,
			})
		}
	}

	producers := make([]int, 0, len(deps))
	for slot := range deps {
		producers = append(producers, slot)
	}
	sort.Ints(producers)
	for _, slot := range producers {
		if err := g.table.RegisterDependents(slot, deps[slot]); err != nil {
			return fmt.Errorf("register dependents of slot %d: %w", slot, err)
		}
	}
	g.edges = append(g.edges, edges...)
	g.committed = len(g.nodes)
	return nil
}

// Snapshot returns nodes in slot order and edges in commit order.
func (g *Graph) Snapshot() View {
	g.mu.Lock()
	defer g.mu.Unlock()
	v := View{Nodes: make([]Node, len(g.nodes)), Edges: append([]Edge(nil), g.edges...)}
	for i, n := range g.nodes {
		v.Nodes[i] = *n
	}
	sort.Slice(v.Nodes, func(i, j int) bool { return v.Nodes[i].Slot < v.Nodes[j].Slot })
	return v
}

// Len returns the number of registered tasks.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.nodes)
}

// DOT renders the graph with stopped tasks marked.
func (g *Graph) DOT(name string) string {
	v := g.Snapshot()
	stopped := map[int]bool{}
	for _, n := range v.Nodes {
		if g.table.StateOf(n.Slot) == "stopped" {
			stopped[n.Slot] = true
		}
	}
	return v.DOT(name, stopped)
}
