package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tutu-network/dataflow/internal/app/element"
	"github.com/tutu-network/dataflow/internal/domain"
)

// ─── Catalog ────────────────────────────────────────────────────────────────

// instance is a constructed, not yet connected element.
type instance struct {
	task        domain.Task
	out         element.OutputPort
	ins         []element.InputPort
	defaultRule *domain.SchedulingRule
	collector   *Collector
}

type buildEnv struct {
	def  ElementDef
	p    params
	opts []element.Option
	log  *slog.Logger
}

type factory func(env buildEnv) (*instance, error)

var catalog = map[string]factory{
	"counter": newCounter,
	"ticker":  newTicker,
	"scale":   newScale,
	"format":  newFormat,
	"sum":     newSum,
	"zip":     newZip,
	"collect": newCollect,
}

// Kinds returns the catalog element kinds in name order.
func Kinds() []string {
	kinds := make([]string, 0, len(catalog))
	for k := range catalog {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// errBadValue is what scale reports for its configured failing input.
var errBadValue = errors.New("bad value")

// ─── Sources ────────────────────────────────────────────────────────────────

// counter emits start, start+step, ... one value per execution and stops
// after limit values (0 = never).
func newCounter(env buildEnv) (*instance, error) {
	start, err := env.p.Int("start", 0)
	if err != nil {
		return nil, err
	}
	step, err := env.p.Int("step", 1)
	if err != nil {
		return nil, err
	}
	limit, err := env.p.Int("limit", 10)
	if err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, fmt.Errorf("param \"limit\": must not be negative")
	}

	next, emitted := start, int64(0)
	logic := element.SourceFunc[int64](func(out *element.Sender[int64]) (domain.Schedule, error) {
		out.SendValue(next)
		next += step
		emitted++
		if limit > 0 && emitted >= limit {
			return domain.Stop(), nil
		}
		return domain.Loop(), nil
	})
	task, out := element.NewSource[int64](env.def.Name, env.def.QueueSize(), logic, env.opts...)
	return &instance{task: task, out: out}, nil
}

// ticker emits its tick number on a periodic rule (interval param, default
// 100ms) and stops after limit ticks (0 = never).
func newTicker(env buildEnv) (*instance, error) {
	interval, err := env.p.Duration("interval", 100*time.Millisecond)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		return nil, fmt.Errorf("param \"interval\": must be positive")
	}
	limit, err := env.p.Int("limit", 0)
	if err != nil {
		return nil, err
	}

	var tick int64
	logic := element.SourceFunc[int64](func(out *element.Sender[int64]) (domain.Schedule, error) {
		out.SendValue(tick)
		tick++
		if limit > 0 && tick >= limit {
			return domain.Stop(), nil
		}
		return domain.Loop(), nil
	})
	task, out := element.NewSource[int64](env.def.Name, env.def.QueueSize(), logic, env.opts...)
	rule := domain.PeriodicRule(interval)
	return &instance{task: task, out: out, defaultRule: &rule}, nil
}

// ─── Filters ────────────────────────────────────────────────────────────────

// scale multiplies by factor and adds offset. With fail_on set, that input
// value fails with "bad value".
func newScale(env buildEnv) (*instance, error) {
	factor, err := env.p.Int("factor", 2)
	if err != nil {
		return nil, err
	}
	offset, err := env.p.Int("offset", 0)
	if err != nil {
		return nil, err
	}
	failOn, err := env.p.Int("fail_on", 0)
	if err != nil {
		return nil, err
	}
	hasFail := env.p.Has("fail_on")

	logic := element.MapFilter(func(v int64) (int64, error) {
		if hasFail && v == failOn {
			return 0, errBadValue
		}
		return v*factor + offset, nil
	})
	task, out := element.NewFilter[int64, int64](env.def.Name, env.def.QueueSize(), logic, env.opts...)
	return &instance{task: task, out: out, ins: []element.InputPort{task.Input()}}, nil
}

// format renders integers with a fmt pattern (default "%d").
func newFormat(env buildEnv) (*instance, error) {
	pattern, err := env.p.String("pattern", "%d")
	if err != nil {
		return nil, err
	}
	logic := element.MapFilter(func(v int64) (string, error) {
		return fmt.Sprintf(pattern, v), nil
	})
	task, out := element.NewFilter[int64, string](env.def.Name, env.def.QueueSize(), logic, env.opts...)
	return &instance{task: task, out: out, ins: []element.InputPort{task.Input()}}, nil
}

// ─── Gather / YMerge ────────────────────────────────────────────────────────

// maxGatherInputs bounds the input arity a definition may request.
const maxGatherInputs = 1024

// sum keeps a running total over all inputs and emits it once per execution
// in which any value arrived. Faults are forwarded.
func newSum(env buildEnv) (*instance, error) {
	n, err := env.p.Int("inputs", int64(len(env.def.Inputs)))
	if err != nil {
		return nil, err
	}
	if n < int64(len(env.def.Inputs)) {
		n = int64(len(env.def.Inputs))
	}
	if n < 1 {
		return nil, fmt.Errorf("sum needs at least one input")
	}
	if n > maxGatherInputs {
		return nil, fmt.Errorf("param %q: %d exceeds the limit of %d", "inputs", n, maxGatherInputs)
	}
	poll, err := env.p.Duration("poll", time.Millisecond)
	if err != nil {
		return nil, err
	}

	var total int64
	logic := element.GatherFunc[int64, int64](func(ins []*element.Input[int64], out *element.Sender[int64]) (domain.Schedule, error) {
		got := false
		for _, in := range ins {
			for m := in.TryRecv(); !m.IsEmpty(); m = in.TryRecv() {
				if v, ok := m.Get(); ok {
					total += v
					got = true
				} else {
					out.Send(m)
				}
			}
		}
		if got {
			out.SendValue(total)
		}
		return element.AwaitAny(poll, element.Awaiters(ins)...), nil
	})
	task, out := element.NewGather[int64, int64](env.def.Name, env.def.QueueSize(), int(n), logic, env.opts...)
	ins := make([]element.InputPort, n)
	for i := range ins {
		in, _ := task.Input(i)
		ins[i] = in
	}
	return &instance{task: task, out: out, ins: ins}, nil
}

// zip pairs values from both inputs in arrival order and combines each pair
// with op: add (default), sub, mul, max.
func newZip(env buildEnv) (*instance, error) {
	op, err := env.p.String("op", "add")
	if err != nil {
		return nil, err
	}
	combine, ok := zipOps[op]
	if !ok {
		return nil, fmt.Errorf("param \"op\": unknown operation %q", op)
	}
	poll, err := env.p.Duration("poll", time.Millisecond)
	if err != nil {
		return nil, err
	}
	limit := env.def.QueueSize()

	var pa, pb []int64
	drain := func(pending []int64, in *element.Input[int64], out *element.Sender[int64]) []int64 {
		for m := in.TryRecv(); !m.IsEmpty(); m = in.TryRecv() {
			v, ok := m.Get()
			if !ok {
				out.Send(m)
				continue
			}
			if len(pending) == limit {
				pending = pending[1:]
			}
			pending = append(pending, v)
		}
		return pending
	}
	logic := element.YMergeFunc[int64, int64, int64](func(a, b *element.Input[int64], out *element.Sender[int64]) (domain.Schedule, error) {
		pa = drain(pa, a, out)
		pb = drain(pb, b, out)
		for len(pa) > 0 && len(pb) > 0 {
			out.SendValue(combine(pa[0], pb[0]))
			pa, pb = pa[1:], pb[1:]
		}
		return element.AwaitAny(poll, a, b), nil
	})
	task, out := element.NewYMerge[int64, int64, int64](env.def.Name, env.def.QueueSize(), logic, env.opts...)
	return &instance{task: task, out: out, ins: []element.InputPort{task.InputA(), task.InputB()}}, nil
}

var zipOps = map[string]func(a, b int64) int64{
	"add": func(a, b int64) int64 { return a + b },
	"sub": func(a, b int64) int64 { return a - b },
	"mul": func(a, b int64) int64 { return a * b },
	"max": func(a, b int64) int64 { return max(a, b) },
}

// ─── Collect ────────────────────────────────────────────────────────────────

// Collector keeps the most recent values and faults seen by a collect element.
type Collector struct {
	mu     sync.Mutex
	keep   int
	total  uint64
	values []any
	faults []string
}

func newCollector(keep int) *Collector {
	if keep < 1 {
		keep = 1
	}
	return &Collector{keep: keep}
}

func (c *Collector) add(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total++
	if len(c.values) == c.keep {
		c.values = c.values[1:]
	}
	c.values = append(c.values, v)
}

func (c *Collector) fault(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.faults) == c.keep {
		c.faults = c.faults[1:]
	}
	c.faults = append(c.faults, reason)
}

// Values returns the retained values, oldest first.
func (c *Collector) Values() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.values...)
}

// Faults returns the retained fault descriptions.
func (c *Collector) Faults() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.faults...)
}

// Total returns how many values were collected.
func (c *Collector) Total() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// collect records and forwards everything it receives. type selects the
// payload ("int64" default, or "string"); expect stops it after that many
// values.
func newCollect(env buildEnv) (*instance, error) {
	typ, err := env.p.String("type", "int64")
	if err != nil {
		return nil, err
	}
	keep, err := env.p.Int("keep", 100)
	if err != nil {
		return nil, err
	}
	expect, err := env.p.Int("expect", 0)
	if err != nil {
		return nil, err
	}
	c := newCollector(int(keep))
	switch typ {
	case "int64":
		return collectOf[int64](env, c, expect), nil
	case "string":
		return collectOf[string](env, c, expect), nil
	default:
		return nil, fmt.Errorf("param \"type\": unsupported payload %q", typ)
	}
}

func collectOf[T any](env buildEnv, c *Collector, expect int64) *instance {
	log := env.log.With("element", env.def.Name)
	logic := element.FilterFunc[T, T](func(in *element.Input[T], out *element.Sender[T]) (domain.Schedule, error) {
		for m := in.TryRecv(); !m.IsEmpty(); m = in.TryRecv() {
			switch {
			case m.Kind == domain.MessageValue:
				c.add(m.Payload)
				log.Debug("collected", "value", m.Payload)
			case m.IsFault():
				c.fault(fmt.Sprintf("task %d: %s", m.Origin, m.Reason))
				log.Warn("fault received", "origin", m.Origin, "reason", m.Reason)
			}
			out.Send(m)
			if expect > 0 && c.Total() >= uint64(expect) {
				return domain.Stop(), nil
			}
		}
		return in.Await(), nil
	})
	task, out := element.NewFilter[T, T](env.def.Name, env.def.QueueSize(), logic, env.opts...)
	return &instance{task: task, out: out, ins: []element.InputPort{task.Input()}, collector: c}
}
