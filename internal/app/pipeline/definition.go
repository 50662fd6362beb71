// Package pipeline loads declarative pipeline definitions and builds them
// into a graph of catalog elements.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/tutu-network/dataflow/internal/app/element"
	"github.com/tutu-network/dataflow/internal/domain"
)

// ─── Errors ─────────────────────────────────────────────────────────────────

var (
	ErrInvalidDefinition = errors.New("invalid pipeline definition")
	ErrUnsupportedFormat = errors.New("unsupported pipeline format")
)

// ─── Definition ─────────────────────────────────────────────────────────────

// Definition describes a pipeline: named elements wired by producer name.
type Definition struct {
	Name     string       `yaml:"name"`
	Elements []ElementDef `yaml:"elements"`
}

// ElementDef describes one element. Inputs lists producer names by input
// position; an empty entry leaves that position unconnected. Every output
// feeds at most one input.
type ElementDef struct {
	Name    string         `yaml:"name"`
	Kind    string         `yaml:"kind"`
	Queue   int            `yaml:"queue,omitempty"`
	Inputs  []string       `yaml:"inputs,omitempty"`
	Rule    string         `yaml:"rule,omitempty"`
	Period  string         `yaml:"period,omitempty"`
	OnError string         `yaml:"on_error,omitempty"`
	Params  map[string]any `yaml:"params,omitempty"`
}

// DefaultQueue is the channel capacity used when an element sets none.
const DefaultQueue = 64

// QueueSize returns the configured channel capacity or DefaultQueue.
func (e ElementDef) QueueSize() int {
	if e.Queue > 0 {
		return e.Queue
	}
	return DefaultQueue
}

// SchedulingRule parses Rule and Period.
func (e ElementDef) SchedulingRule() (domain.SchedulingRule, error) {
	var period time.Duration
	if e.Period != "" {
		d, err := time.ParseDuration(e.Period)
		if err != nil {
			return domain.SchedulingRule{}, fmt.Errorf("period %q: %w", e.Period, err)
		}
		period = d
	}
	return domain.ParseRule(e.Rule, period)
}

// Policy parses OnError.
func (e ElementDef) Policy() (element.ErrorPolicy, error) {
	return element.ParsePolicy(e.OnError)
}

// Element returns the named element definition.
func (d *Definition) Element(name string) (ElementDef, bool) {
	for _, e := range d.Elements {
		if e.Name == name {
			return e, true
		}
	}
	return ElementDef{}, false
}

// Validate checks names, kinds, rules, policies and input references. It
// does not check payload types; those surface when the graph is connected.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: pipeline name is required", ErrInvalidDefinition)
	}
	if len(d.Elements) == 0 {
		return fmt.Errorf("%w: pipeline %q has no elements", ErrInvalidDefinition, d.Name)
	}

	seen := make(map[string]bool, len(d.Elements))
	for _, e := range d.Elements {
		if e.Name == "" {
			return fmt.Errorf("%w: element name is required", ErrInvalidDefinition)
		}
		if seen[e.Name] {
			return fmt.Errorf("%w: element %q: %w", ErrInvalidDefinition, e.Name, domain.ErrAlreadyExists)
		}
		seen[e.Name] = true
	}

	fed := make(map[string]string)
	for _, e := range d.Elements {
		if _, ok := catalog[e.Kind]; !ok {
			return fmt.Errorf("%w: element %q kind %q: %w", ErrInvalidDefinition, e.Name, e.Kind, domain.ErrUnknownKind)
		}
		if _, err := e.SchedulingRule(); err != nil {
			return fmt.Errorf("%w: element %q: %w", ErrInvalidDefinition, e.Name, err)
		}
		if _, err := e.Policy(); err != nil {
			return fmt.Errorf("%w: element %q: %w", ErrInvalidDefinition, e.Name, err)
		}
		for _, in := range e.Inputs {
			if in == "" {
				continue
			}
			if !seen[in] {
				return fmt.Errorf("%w: element %q input %q: %w", ErrInvalidDefinition, e.Name, in, domain.ErrNonExistent)
			}
			if other, dup := fed[in]; dup {
				return fmt.Errorf("%w: %q already feeds %q, cannot also feed %q: %w",
					ErrInvalidDefinition, in, other, e.Name, domain.ErrBusy)
			}
			fed[in] = e.Name
		}
	}
	return nil
}
