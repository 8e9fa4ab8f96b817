// Package evaluation drives an evaluation tree over an event stream.
//
// The Mechanism is single-threaded: one event is fully propagated through
// the tree and the completed matches drained before the next event is
// accepted. Callers sharing a Mechanism across goroutines must serialize
// Process and Flush.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/solatis/cepwarden/internal/pattern"
	"github.com/solatis/cepwarden/internal/tree"
	"github.com/solatis/cepwarden/internal/types"
)

// Counters summarizes one mechanism's activity.
type Counters struct {
	Events  uint64
	Frozen  uint64
	Matches uint64
}

// Mechanism routes events to the leaves of one tree and emits the matches
// completed at its root.
type Mechanism struct {
	tree    *tree.Tree
	pattern *pattern.Pattern
	runID   types.RunID
	log     *slog.Logger
	routes  map[types.EventType][]*tree.LeafNode
	freeze  *freezeState

	counters Counters
	last     tree.Stats
}

// Option configures a Mechanism.
type Option func(*Mechanism)

// WithLogger sets the mechanism's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mechanism) { m.log = l }
}

// WithRunID overrides the generated run id.
func WithRunID(id types.RunID) Option {
	return func(m *Mechanism) { m.runID = id }
}

// New builds the event-type routing table for t.
func New(t *tree.Tree, opts ...Option) *Mechanism {
	m := &Mechanism{
		tree:    t,
		pattern: t.Pattern(),
		runID:   types.NewRunID(),
		log:     slog.Default(),
		routes:  map[types.EventType][]*tree.LeafNode{},
		freeze:  newFreezeState(t.Pattern()),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, leaf := range t.Leaves() {
		m.routes[leaf.EventType()] = append(m.routes[leaf.EventType()], leaf)
	}
	return m
}

// RunID identifies this mechanism's matches.
func (m *Mechanism) RunID() types.RunID { return m.runID }

// Tree returns the evaluation tree.
func (m *Mechanism) Tree() *tree.Tree { return m.tree }

// Counters returns activity counters.
func (m *Mechanism) Counters() Counters { return m.counters }

// Process propagates ev through the tree and returns the matches it
// completed, including pending matches released by ev's timestamp. Events
// must arrive in non-decreasing timestamp order.
func (m *Mechanism) Process(ev *types.Event) []Match {
	start := time.Now()
	m.counters.Events++
	eventsTotal.WithLabelValues(m.pattern.Name).Inc()

	if m.freeze != nil {
		m.freeze.expire(ev.Timestamp)
	}
	m.tree.Advance(ev.Timestamp)

	for _, leaf := range m.routes[ev.Type] {
		if m.freeze != nil && m.freeze.frozen(leaf.EventName()) {
			m.counters.Frozen++
			frozenTotal.WithLabelValues(m.pattern.Name).Inc()
			continue
		}
		// only events the leaf accepted can freeze earlier names
		if leaf.HandleEvent(ev) && m.freeze != nil {
			m.freeze.register(leaf.EventName(), ev)
		}
	}

	out := m.drain()
	processSeconds.WithLabelValues(m.pattern.Name).Observe(time.Since(start).Seconds())
	return out
}

// Flush releases every match still waiting on unbounded negation. Call it
// once at end of stream.
func (m *Mechanism) Flush() []Match {
	m.tree.Flush()
	return m.drain()
}

func (m *Mechanism) drain() []Match {
	pms := m.tree.Matches()
	var out []Match
	if len(pms) > 0 {
		out = make([]Match, 0, len(pms))
	}
	for _, pm := range pms {
		if m.freeze != nil {
			m.freeze.matched(pm.Events)
		}
		out = append(out, newMatch(m.runID, m.pattern, pm))
	}
	m.counters.Matches += uint64(len(out))
	matchesTotal.WithLabelValues(m.pattern.Name).Add(float64(len(out)))

	cur := m.tree.Stats()
	recordStats(m.pattern.Name, m.last, cur, m.tree.Pending())
	m.last = cur
	return out
}

// Eval pulls events from src until it is exhausted or ctx is cancelled,
// writing matches to sink. Pending matches are flushed in both cases; a
// cancelled run returns ctx.Err().
func (m *Mechanism) Eval(ctx context.Context, src EventSource, sink MatchSink) error {
	m.log.Info("evaluation started", "pattern", m.pattern.Name, "run_id", m.runID)

	err := m.run(ctx, src, sink)
	if ferr := emit(context.WithoutCancel(ctx), sink, m.Flush()); ferr != nil && err == nil {
		err = ferr
	}

	st := m.tree.Stats()
	m.log.Info("evaluation finished",
		"pattern", m.pattern.Name,
		"run_id", m.runID,
		"events", m.counters.Events,
		"matches", m.counters.Matches,
		"frozen", m.counters.Frozen,
		"partial_matches", st.PartialMatches,
		"expired", st.Expired,
		"error", err)
	return err
}

func (m *Mechanism) run(ctx context.Context, src EventSource, sink MatchSink) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("read event: %w", err)
		}
		if err := emit(ctx, sink, m.Process(ev)); err != nil {
			return err
		}
	}
}

func emit(ctx context.Context, sink MatchSink, matches []Match) error {
	for _, match := range matches {
		if err := sink.Write(ctx, match); err != nil {
			return fmt.Errorf("write match %s: %w", match.ID, err)
		}
	}
	return nil
}
