package hooks

import (
	"context"
	"fmt"
	"sort"
)

// Point names an extension point.
type Point string

const (
	BeforeInitialize               Point = "BeforeInitialize"
	TestCanonicalRedirect          Point = "TestCanonicalRedirect"
	InitializeArticleMaybeRedirect Point = "InitializeArticleMaybeRedirect"
	MediaWikiPerformAction         Point = "MediaWikiPerformAction"
	UnknownAction                  Point = "UnknownAction"
	BeforeHTTPSRedirect            Point = "BeforeHttpsRedirect"
)

// Outcome is what a hook wants done with the in-flight decision.
type Outcome string

const (
	Continue Outcome = "continue"
	Veto     Outcome = "veto"
	Override Outcome = "override"
)

// Decision is returned by every hook.
type Decision struct {
	Outcome Outcome `json:"decision"`
	Value   string  `json:"value,omitempty"`
	Reason  string  `json:"reason,omitempty"`
	// Hook is the name of the hook that decided; set by the chain.
	Hook string `json:"-"`
}

// Vetoed reports whether the decision is a veto.
func (d Decision) Vetoed() bool { return d.Outcome == Veto }

// Overridden reports whether the decision carries a replacement value.
func (d Decision) Overridden() bool { return d.Outcome == Override }

// Hook handles one extension point for input type In.
type Hook[In any] interface {
	Name() string
	Handle(ctx context.Context, in In) (Decision, error)
}

type funcHook[In any] struct {
	name string
	fn   func(context.Context, In) (Decision, error)
}

func (h funcHook[In]) Name() string { return h.name }

func (h funcHook[In]) Handle(ctx context.Context, in In) (Decision, error) {
	return h.fn(ctx, in)
}

// Func adapts a function to a Hook.
func Func[In any](name string, fn func(context.Context, In) (Decision, error)) Hook[In] {
	return funcHook[In]{name: name, fn: fn}
}

type entry[In any] struct {
	order int
	hook  Hook[In]
}

// Chain is the ordered hook list for one point. A nil Chain continues.
type Chain[In any] struct {
	point   Point
	entries []entry[In]
}

// NewChain creates an empty chain for point.
func NewChain[In any](point Point) *Chain[In] {
	return &Chain[In]{point: point}
}

// Point returns the extension point the chain serves.
func (c *Chain[In]) Point() Point { return c.point }

// Add registers h. Lower order runs first; ties keep registration order.
func (c *Chain[In]) Add(h Hook[In], order int) {
	c.entries = append(c.entries, entry[In]{order: order, hook: h})
	sort.SliceStable(c.entries, func(i, j int) bool {
		return c.entries[i].order < c.entries[j].order
	})
}

// Len returns the number of registered hooks.
func (c *Chain[In]) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Run executes hooks in order until one vetoes or overrides.
func (c *Chain[In]) Run(ctx context.Context, in In) (Decision, error) {
	if c == nil || len(c.entries) == 0 {
		return Decision{Outcome: Continue}, nil
	}

	for _, e := range c.entries {
		d, err := e.hook.Handle(ctx, in)
		if err != nil {
			return Decision{Outcome: Continue}, fmt.Errorf("hook %s at %s: %w", e.hook.Name(), c.point, err)
		}

		switch d.Outcome {
		case "", Continue:
			// Next hook
		case Veto, Override:
			d.Hook = e.hook.Name()
			return d, nil
		default:
			return Decision{Outcome: Continue}, fmt.Errorf("hook %s at %s: invalid decision %q", e.hook.Name(), c.point, d.Outcome)
		}
	}

	return Decision{Outcome: Continue}, nil
}
