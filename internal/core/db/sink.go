package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/solatis/cepwarden/internal/evaluation"
	"github.com/solatis/cepwarden/internal/types"
)

// MatchSink stores emitted matches, one transaction per match.
type MatchSink struct {
	db      *sqlx.DB
	queries *Queries
}

var _ evaluation.MatchSink = (*MatchSink)(nil)

// NewMatchSink returns a sink writing through q.
func NewMatchSink(db *sqlx.DB, q *Queries) *MatchSink {
	return &MatchSink{db: db, queries: q}
}

// Write implements evaluation.MatchSink.
func (s *MatchSink) Write(ctx context.Context, m evaluation.Match) error {
	if len(m.Events) == 0 {
		return fmt.Errorf("match %s has no events", m.ID)
	}

	// the id's embedded timestamp is the emission time
	created := types.MatchIDTime(m.ID)
	if created.IsZero() {
		created = time.Now()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = s.queries.ExecContext(ctx, tx, "insert-match",
		string(m.ID), string(m.RunID), m.Pattern,
		s.timestamp(m.First()), s.timestamp(m.Last()),
		len(m.Events), s.timestamp(created))
	if err != nil {
		return fmt.Errorf("failed to insert match: %w", err)
	}

	for i, ev := range m.Events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload of event %d: %w", ev.SequenceID, err)
		}
		name := ""
		if i < len(m.Names) {
			name = m.Names[i]
		}
		_, err = s.queries.ExecContext(ctx, tx, "insert-match-event",
			string(m.ID), i, name, string(ev.Type), s.timestamp(ev.Timestamp),
			int64(ev.SequenceID), string(payload))
		if err != nil {
			return fmt.Errorf("failed to insert match event %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// timestamp formats t for the driver: RFC3339 text for sqlite, a
// timezone-free UTC timestamp for postgres.
func (s *MatchSink) timestamp(t time.Time) any {
	t = t.UTC()
	if s.db.DriverName() == "sqlite3" {
		return t.Format(time.RFC3339Nano)
	}
	return t
}

// StoredMatch is a persisted match header.
type StoredMatch struct {
	ID         types.MatchID `db:"match_id"`
	RunID      types.RunID   `db:"run_id"`
	Pattern    string        `db:"pattern"`
	EventCount int           `db:"event_count"`
}

// StoredEvent is one persisted event of a match.
type StoredEvent struct {
	Position   int             `db:"position"`
	Name       string          `db:"name"`
	Type       types.EventType `db:"event_type"`
	SequenceID int64           `db:"sequence_id"`
	Payload    string          `db:"payload"`
}

// ListMatches returns the stored matches of a pattern in id order, which
// for UUIDv7 ids is emission order.
func (s *MatchSink) ListMatches(ctx context.Context, pattern string) ([]StoredMatch, error) {
	var out []StoredMatch
	if err := s.queries.SelectContext(ctx, "list-matches", &out, pattern); err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	return out, nil
}

// MatchEvents returns the events of one stored match in match order.
func (s *MatchSink) MatchEvents(ctx context.Context, id types.MatchID) ([]StoredEvent, error) {
	var out []StoredEvent
	if err := s.queries.SelectContext(ctx, "list-match-events", &out, string(id)); err != nil {
		return nil, fmt.Errorf("failed to list match events: %w", err)
	}
	return out, nil
}

// CountRun returns the number of matches stored for a run.
func (s *MatchSink) CountRun(ctx context.Context, run types.RunID) (int, error) {
	var n int
	if err := s.queries.GetContext(ctx, "count-run-matches", &n, string(run)); err != nil {
		return 0, fmt.Errorf("failed to count matches: %w", err)
	}
	return n, nil
}
