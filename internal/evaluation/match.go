package evaluation

import (
	"time"

	"github.com/solatis/cepwarden/internal/pattern"
	"github.com/solatis/cepwarden/internal/tree"
	"github.com/solatis/cepwarden/internal/types"
)

// Match is one full pattern occurrence. Events are the original input
// events in match order; Names[i] is the pattern name Events[i] is bound to.
type Match struct {
	ID      types.MatchID  `json:"id"`
	RunID   types.RunID    `json:"run_id"`
	Pattern string         `json:"pattern"`
	Names   []string       `json:"names"`
	Events  []*types.Event `json:"events"`
}

func newMatch(run types.RunID, p *pattern.Pattern, pm *tree.PartialMatch) Match {
	defs := p.Events()
	names := make([]string, len(pm.Leaves))
	for i, leaf := range pm.Leaves {
		names[i] = defs[leaf].Name
	}
	return Match{
		ID:      types.NewMatchID(),
		RunID:   run,
		Pattern: p.Name,
		Names:   names,
		Events:  pm.Events,
	}
}

// First returns the earliest event timestamp.
func (m Match) First() time.Time {
	var first time.Time
	for i, ev := range m.Events {
		if i == 0 || ev.Timestamp.Before(first) {
			first = ev.Timestamp
		}
	}
	return first
}

// Last returns the latest event timestamp.
func (m Match) Last() time.Time {
	var last time.Time
	for i, ev := range m.Events {
		if i == 0 || ev.Timestamp.After(last) {
			last = ev.Timestamp
		}
	}
	return last
}
