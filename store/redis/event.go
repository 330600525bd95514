package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xraph/beacon/event"
)

// entry is one list element: the encoded event and when it was stored.
type entry struct {
	StoredAt int64           `json:"s"`
	Event    json.RawMessage `json:"e"`
}

// AppendEvent pushes evt onto its job's list, trims the list to N and
// refreshes the key TTL in a single transaction.
func (s *Store) AppendEvent(ctx context.Context, evt event.Event) error {
	raw, err := event.Encode(evt)
	if err != nil {
		return fmt.Errorf("beacon/redis: append event: %w", err)
	}
	elem, err := json.Marshal(entry{StoredAt: s.now().UnixNano(), Event: raw})
	if err != nil {
		return fmt.Errorf("beacon/redis: append event: %w", err)
	}

	key := eventsKey(evt.JobID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, elem)
	pipe.LTrim(ctx, key, int64(-s.maxEvents), -1)
	pipe.PExpire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("append event", err)
	}
	return nil
}

// QueryEvents reads the newest limit elements of the job's list and
// returns the live ones oldest first, without duplicates.
func (s *Store) QueryEvents(ctx context.Context, jobID string, limit int) ([]event.Event, error) {
	if limit <= 0 || limit > s.maxEvents {
		limit = s.maxEvents
	}

	vals, err := s.client.LRange(ctx, eventsKey(jobID), int64(-limit), -1).Result()
	if err != nil {
		return nil, unavailable("query events", err)
	}

	cutoff := s.now().Add(-s.ttl).UnixNano()
	out := make([]event.Event, 0, len(vals))
	for _, v := range vals {
		var e entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			s.logger.Warn("beacon/redis: skipping undecodable entry",
				"job_id", jobID,
				"error", err,
			)
			continue
		}
		if e.StoredAt <= cutoff {
			continue
		}
		evt, err := event.Decode(e.Event)
		if err != nil {
			s.logger.Warn("beacon/redis: skipping malformed event",
				"job_id", jobID,
				"error", err,
			)
			continue
		}
		out = append(out, evt)
	}

	out = event.Unique(out, s.bucket)
	event.SortChronological(out)
	return out, nil
}
