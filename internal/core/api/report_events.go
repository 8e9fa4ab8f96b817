package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/cepwarden/internal/core/auth"
	"github.com/solatis/cepwarden/internal/evaluation"
	"github.com/solatis/cepwarden/internal/types"
)

// ReportEvents feeds a batch of events into the mechanism.
// Invalid and out-of-order events are rejected individually; the rest of
// the batch is still processed. Matches completed by the batch are written
// to the sink before the response is returned.
func (s *IngestService) ReportEvents(ctx context.Context, req *structpb.ListValue) (*structpb.Struct, error) {
	items := req.GetValues()
	if len(items) == 0 || len(items) > s.maxBatch {
		return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("batch must contain between 1 and %d events", s.maxBatch))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, status.Error(codes.Unavailable, "ingest service closed")
	}

	results := make([]any, len(items))
	accepted, rejected := 0, 0
	var matches []evaluation.Match

	for i, item := range items {
		ev, err := decodeItem(item)
		if err == nil && ev.Timestamp.Before(s.last) {
			err = fmt.Errorf("%w: %s", ErrOutOfOrder, ev.Timestamp)
		}
		if err != nil {
			rejected++
			results[i] = map[string]any{"index": i, "status": "rejected", "error": err.Error()}
			continue
		}

		s.last = ev.Timestamp
		accepted++
		matches = append(matches, s.mech.Process(ev)...)
		results[i] = map[string]any{"index": i, "status": "accepted", "sequence_id": ev.SequenceID}
	}

	ids := make([]any, 0, len(matches))
	for _, m := range matches {
		if err := s.sink.Write(ctx, m); err != nil {
			s.log.Error("failed to persist match", "match_id", m.ID, "error", err)
			return nil, status.Error(codes.Unavailable, fmt.Sprintf("match sink: %v", err))
		}
		ids = append(ids, string(m.ID))
	}

	if rejected > 0 {
		s.log.Debug("batch events rejected", "key_id", auth.KeyIDFromContext(ctx), "rejected", rejected)
	}

	resp, err := structpb.NewStruct(map[string]any{
		"accepted": accepted,
		"rejected": rejected,
		"matches":  ids,
		"results":  results,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

// decodeItem converts one list element to an event through its JSON form.
func decodeItem(item *structpb.Value) (*types.Event, error) {
	if item.GetStructValue() == nil {
		return nil, ErrNotAnObject
	}
	data, err := protojson.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return types.DecodeEvent(data)
}
