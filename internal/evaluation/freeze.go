package evaluation

import (
	"time"

	"github.com/solatis/cepwarden/internal/pattern"
	"github.com/solatis/cepwarden/internal/types"
)

// freezer is an accepted event of a freeze name. While active it blocks
// leaves bound to names declared before it.
type freezer struct {
	name string
	ev   *types.Event
}

type freezeState struct {
	window time.Duration
	blocks map[string]map[string]bool // freezer name -> blocked names
	active []freezer
}

func newFreezeState(p *pattern.Pattern) *freezeState {
	if !p.Consumption.HasFreeze() {
		return nil
	}
	f := &freezeState{window: p.Window, blocks: map[string]map[string]bool{}}
	for _, name := range p.Consumption.Freeze {
		earlier := map[string]bool{}
		for _, def := range p.Events() {
			if def.Name == name {
				break
			}
			earlier[def.Name] = true
		}
		f.blocks[name] = earlier
	}
	return f
}

// expire drops freezers that can no longer share a window with ts.
func (f *freezeState) expire(ts time.Time) {
	kept := f.active[:0]
	for _, fr := range f.active {
		if ts.Sub(fr.ev.Timestamp) <= f.window {
			kept = append(kept, fr)
		}
	}
	clear(f.active[len(kept):])
	f.active = kept
}

func (f *freezeState) frozen(name string) bool {
	for _, fr := range f.active {
		if f.blocks[fr.name][name] {
			return true
		}
	}
	return false
}

func (f *freezeState) register(name string, ev *types.Event) {
	if _, ok := f.blocks[name]; ok {
		f.active = append(f.active, freezer{name: name, ev: ev})
	}
}

// matched removes freezers that took part in an emitted match.
func (f *freezeState) matched(events []*types.Event) {
	kept := f.active[:0]
	for _, fr := range f.active {
		in := false
		for _, ev := range events {
			if ev == fr.ev {
				in = true
				break
			}
		}
		if !in {
			kept = append(kept, fr)
		}
	}
	clear(f.active[len(kept):])
	f.active = kept
}
