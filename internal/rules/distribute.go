// internal/rules/distribute.go
package rules

/*
 * Condition distribution across evaluation-tree nodes.
 *
 * The pattern condition is flattened into atomic conjuncts once. Each tree
 * node asks for the conjuncts it can evaluate (every referenced name bound
 * in its subtree); a conjunct is handed to exactly one node and recorded in
 * the assigned mask. The condition itself is never mutated.
 *
 * Nodes must ask in post-order (children before parents) so each conjunct
 * lands at the lowest node that covers it.
 */

// Distributor hands out conjuncts of a condition to tree nodes.
type Distributor struct {
	conds    []Condition
	assigned []bool
}

// NewDistributor flattens c and any extra conditions into conjuncts.
func NewDistributor(c Condition, extra ...Condition) *Distributor {
	var conds []Condition
	conds = append(conds, Atomics(c)...)
	for _, e := range extra {
		conds = append(conds, Atomics(e)...)
	}
	return &Distributor{conds: conds, assigned: make([]bool, len(conds))}
}

// Take assigns every unassigned conjunct whose names are all in names and
// returns them as one condition, or nil when there are none. Kleene
// conditions are only handed out when kleene is true.
func (d *Distributor) Take(names []string, kleene bool) Condition {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}

	var taken []Condition
	for i, c := range d.conds {
		if d.assigned[i] || (IsKleene(c) && !kleene) {
			continue
		}
		if !covers(set, c.Names()) {
			continue
		}
		d.assigned[i] = true
		taken = append(taken, c)
	}

	switch len(taken) {
	case 0:
		return nil
	case 1:
		return taken[0]
	default:
		return NewAll(taken...)
	}
}

// Remaining returns the conjuncts no node has taken.
func (d *Distributor) Remaining() []Condition {
	var out []Condition
	for i, c := range d.conds {
		if !d.assigned[i] {
			out = append(out, c)
		}
	}
	return out
}

func covers(set map[string]struct{}, names []string) bool {
	for _, n := range names {
		if _, ok := set[n]; !ok {
			return false
		}
	}
	return true
}
