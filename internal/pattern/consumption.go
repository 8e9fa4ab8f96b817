package pattern

import (
	"fmt"
	"strings"
)

// SelectionStrategy restricts how often one event may be reused.
type SelectionStrategy int

const (
	// SelectionAny places no restriction on event reuse.
	SelectionAny SelectionStrategy = iota
	// SelectionSingle lets each event take part in at most one full match.
	SelectionSingle
	// SelectionNext lets each event take part in at most one partial match
	// per tree node.
	SelectionNext
)

func (s SelectionStrategy) String() string {
	switch s {
	case SelectionAny:
		return "any"
	case SelectionSingle:
		return "single"
	case SelectionNext:
		return "next"
	default:
		return fmt.Sprintf("selection(%d)", int(s))
	}
}

// ParseSelection maps "any", "single", "next" (or "") to a strategy.
func ParseSelection(s string) (SelectionStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any":
		return SelectionAny, nil
	case "single":
		return SelectionSingle, nil
	case "next":
		return SelectionNext, nil
	default:
		return SelectionAny, fmt.Errorf("unknown selection strategy %q", s)
	}
}

// ConsumptionPolicy restricts event reuse across matches.
type ConsumptionPolicy struct {
	// Selection applies to every event name.
	Selection SelectionStrategy
	// Single lists names that follow single selection regardless of Selection.
	Single []string
	// Contiguous lists groups of names whose events must be adjacent in the
	// input stream, in the listed order.
	Contiguous [][]string
	// Freeze lists names whose events block new events of names declared
	// earlier in the pattern until the freezer expires or is matched.
	Freeze []string
}

// SingleFor reports whether events bound to name follow single selection.
func (c *ConsumptionPolicy) SingleFor(name string) bool {
	if c == nil {
		return false
	}
	if c.Selection == SelectionSingle {
		return true
	}
	for _, n := range c.Single {
		if n == name {
			return true
		}
	}
	return false
}

// NextSelection reports whether next selection is active.
func (c *ConsumptionPolicy) NextSelection() bool {
	return c != nil && c.Selection == SelectionNext
}

// HasFreeze reports whether any freezer names are configured.
func (c *ConsumptionPolicy) HasFreeze() bool {
	return c != nil && len(c.Freeze) > 0
}

func (c *ConsumptionPolicy) names() []string {
	var out []string
	out = append(out, c.Single...)
	for _, group := range c.Contiguous {
		out = append(out, group...)
	}
	return append(out, c.Freeze...)
}
