package evaluation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/solatis/cepwarden/internal/types"
)

// EventSource yields events in non-decreasing timestamp order. Next
// returns io.EOF when the stream is exhausted.
type EventSource interface {
	Next(ctx context.Context) (*types.Event, error)
}

// MatchSink receives emitted matches.
type MatchSink interface {
	Write(ctx context.Context, m Match) error
}

// SliceSource replays a fixed list of events.
type SliceSource struct {
	events []*types.Event
	next   int
}

// NewSliceSource returns a source over events.
func NewSliceSource(events ...*types.Event) *SliceSource {
	return &SliceSource{events: events}
}

func (s *SliceSource) Next(ctx context.Context) (*types.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.events) {
		return nil, io.EOF
	}
	ev := s.events[s.next]
	s.next++
	return ev, nil
}

// maxLineSize bounds one JSONL line; longer lines are discarded.
const maxLineSize = types.MaxPayloadSize + 1

// JSONLSource decodes one event per line. Blank lines are ignored;
// malformed and oversized lines are logged and skipped.
type JSONLSource struct {
	reader  *bufio.Reader
	buf     []byte
	log     *slog.Logger
	line    int
	skipped int
}

// NewJSONLSource reads events from r.
func NewJSONLSource(r io.Reader, log *slog.Logger) *JSONLSource {
	if log == nil {
		log = slog.Default()
	}
	return &JSONLSource{reader: bufio.NewReaderSize(r, 64*1024), log: log}
}

func (s *JSONLSource) Next(ctx context.Context) (*types.Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, size, err := s.readLine()
		if err != nil {
			return nil, err
		}
		s.line++
		if size > maxLineSize {
			s.skipped++
			s.log.Warn("skipping oversized event", "line", s.line, "bytes", size, "limit", maxLineSize)
			continue
		}
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		ev, err := types.DecodeEvent(data)
		if err != nil {
			s.skipped++
			s.log.Warn("skipping malformed event", "line", s.line, "error", err)
			continue
		}
		return ev, nil
	}
}

// readLine returns the next line without its terminator and the line's
// full size. Bytes past maxLineSize are read and dropped.
func (s *JSONLSource) readLine() ([]byte, int, error) {
	s.buf = s.buf[:0]
	size := 0
	for {
		frag, more, err := s.reader.ReadLine()
		if err != nil {
			if err == io.EOF && size > 0 {
				return s.buf, size, nil
			}
			return nil, 0, err
		}
		size += len(frag)
		if len(s.buf)+len(frag) <= maxLineSize {
			s.buf = append(s.buf, frag...)
		}
		if !more {
			return s.buf, size, nil
		}
	}
}

// Skipped returns the number of malformed or oversized lines skipped so far.
func (s *JSONLSource) Skipped() int { return s.skipped }

// JSONLWriter writes one JSON-encoded match per line.
type JSONLWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLWriter writes matches to w.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	return &JSONLWriter{enc: json.NewEncoder(w)}
}

func (w *JSONLWriter) Write(_ context.Context, m Match) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(m)
}

// Collector keeps every match in memory.
type Collector struct {
	mu      sync.Mutex
	matches []Match
}

func (c *Collector) Write(_ context.Context, m Match) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matches = append(c.matches, m)
	return nil
}

// Matches returns a copy of the collected matches.
func (c *Collector) Matches() []Match {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Match(nil), c.matches...)
}

// MultiSink writes every match to each sink in order, stopping at the
// first error.
type MultiSink []MatchSink

func (s MultiSink) Write(ctx context.Context, m Match) error {
	for _, sink := range s {
		if err := sink.Write(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
