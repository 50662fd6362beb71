package pipeline

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/tutu-network/dataflow/internal/app/element"
	"github.com/tutu-network/dataflow/internal/app/graph"
	"github.com/tutu-network/dataflow/internal/domain"
)

// ─── Build ──────────────────────────────────────────────────────────────────

// Built is a pipeline registered in a graph.
type Built struct {
	Name       string
	Graph      *graph.Graph
	Slots      map[string]int
	Collectors map[string]*Collector
	Sources    []int // slots of elements without inputs
}

// BuildOption configures Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	log *slog.Logger
}

// WithLogger sets the logger handed to catalog elements.
func WithLogger(log *slog.Logger) BuildOption {
	return func(o *buildOptions) { o.log = log }
}

// Build validates def, constructs every element, connects inputs in
// declaration order and registers the result in g. The rule of an element
// without an explicit one is the kind's default, or on-message for elements
// with inputs and loop for the rest.
func Build(def *Definition, g *graph.Graph, opts ...BuildOption) (*Built, error) {
	o := buildOptions{log: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	insts := make(map[string]*instance, len(def.Elements))
	for _, e := range def.Elements {
		policy, _ := e.Policy()
		inst, err := catalog[e.Kind](buildEnv{
			def:  e,
			p:    params(e.Params),
			opts: []element.Option{element.WithErrorPolicy(policy)},
			log:  o.log,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: element %q: %w", ErrInvalidDefinition, e.Name, err)
		}
		if len(e.Inputs) > len(inst.ins) {
			return nil, fmt.Errorf("%w: element %q (%s) has %d inputs, %d given: %w",
				ErrInvalidDefinition, e.Name, e.Kind, len(inst.ins), len(e.Inputs), domain.ErrOutOfRange)
		}
		insts[e.Name] = inst
	}

	for _, e := range def.Elements {
		for i, from := range e.Inputs {
			if from == "" {
				continue
			}
			if err := element.ConnectPorts(insts[from].out, insts[e.Name].ins[i]); err != nil {
				return nil, fmt.Errorf("connect %s -> %s[%d]: %w", from, e.Name, i, err)
			}
		}
	}

	b := &Built{
		Name:       def.Name,
		Graph:      g,
		Slots:      make(map[string]int, len(def.Elements)),
		Collectors: map[string]*Collector{},
	}
	for _, e := range def.Elements {
		inst := insts[e.Name]
		rule, err := ruleFor(e, inst)
		if err != nil {
			return nil, err
		}
		slot, err := g.Add(inst.task, rule)
		if err != nil {
			return nil, fmt.Errorf("register %q: %w", e.Name, err)
		}
		b.Slots[e.Name] = slot
		if len(inst.ins) == 0 {
			b.Sources = append(b.Sources, slot)
		}
		if inst.collector != nil {
			b.Collectors[e.Name] = inst.collector
		}
	}
	sort.Ints(b.Sources)
	if err := g.Commit(); err != nil {
		return nil, err
	}
	o.log.Info("pipeline built", "pipeline", def.Name, "elements", len(def.Elements))
	return b, nil
}

func ruleFor(e ElementDef, inst *instance) (domain.SchedulingRule, error) {
	if e.Rule != "" {
		return e.SchedulingRule()
	}
	if inst.defaultRule != nil {
		return *inst.defaultRule, nil
	}
	if len(inst.ins) > 0 {
		return domain.OnMessageRule(), nil
	}
	return domain.LoopRule(), nil
}

// Settled reports whether every source has stopped and no task is running
// or runnable, together with the total execution count. A finite pipeline
// has finished once it is settled with an unchanged count across two checks.
func (b *Built) Settled() (bool, uint64) {
	table := b.Graph.Table()
	settled := true
	for _, slot := range b.Sources {
		if table.StateOf(slot) != "stopped" {
			settled = false
		}
	}
	var runs uint64
	for _, slot := range b.Slots {
		info, err := table.Inspect(slot)
		if err != nil {
			continue
		}
		runs += info.Runs
		if info.Running || (!info.Stopped && info.State == domain.StateExecute.String()) {
			settled = false
		}
	}
	return settled, runs
}
