package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/job"
)

// clearIfMatch deletes KEYS[1] only while it holds ARGV[1].
var clearIfMatch = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// CreateJob stores the record as a Hash. Finished records expire after
// the retention TTL; live ones persist until they finish.
func (s *Store) CreateJob(ctx context.Context, r *job.Record) error {
	key := jobKey(r.ID)

	created, err := s.client.HSetNX(ctx, key, "job_id", r.ID).Result()
	if err != nil {
		return unavailable("create job", err)
	}
	if !created {
		return beacon.ErrJobAlreadyExists
	}
	return s.writeJob(ctx, key, r, "create job")
}

// GetJob retrieves a record by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*job.Record, error) {
	vals, err := s.client.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, unavailable("get job", err)
	}
	if len(vals) == 0 {
		return nil, beacon.ErrJobNotFound
	}
	return mapToRecord(vals), nil
}

// UpdateJob persists changes to an existing record.
func (s *Store) UpdateJob(ctx context.Context, r *job.Record) error {
	key := jobKey(r.ID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return unavailable("update job exists", err)
	}
	if exists == 0 {
		return beacon.ErrJobNotFound
	}
	return s.writeJob(ctx, key, r, "update job")
}

func (s *Store) writeJob(ctx context.Context, key string, r *job.Record, op string) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, recordToMap(r))
	if r.Status.Terminal() {
		pipe.PExpire(ctx, key, s.ttl)
	} else {
		pipe.Persist(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable(op, err)
	}
	return nil
}

// SetActiveJob points the scope at jobID.
func (s *Store) SetActiveJob(ctx context.Context, scope, jobID string) error {
	if err := s.client.Set(ctx, activeKey(scope), jobID, 0).Err(); err != nil {
		return unavailable("set active job", err)
	}
	return nil
}

// ActiveJob returns the scope's active job ID, or "" if none.
func (s *Store) ActiveJob(ctx context.Context, scope string) (string, error) {
	v, err := s.client.Get(ctx, activeKey(scope)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", nil
		}
		return "", unavailable("get active job", err)
	}
	return v, nil
}

// ClearActiveJob clears the scope's pointer only while it still refers
// to jobID. The compare and delete run atomically in a script.
func (s *Store) ClearActiveJob(ctx context.Context, scope, jobID string) error {
	if err := clearIfMatch.Run(ctx, s.client, []string{activeKey(scope)}, jobID).Err(); err != nil {
		return unavailable("clear active job", err)
	}
	return nil
}

// ── helpers ──

func recordToMap(r *job.Record) map[string]interface{} {
	return map[string]interface{}{
		"job_id":        r.ID,
		"scope":         r.Scope,
		"status":        string(r.Status),
		"current_phase": r.CurrentPhase,
		"reason":        r.Reason,
		"created_at":    r.CreatedAt.Format(time.RFC3339Nano),
		"started_at":    formatOptTime(r.StartedAt),
		"completed_at":  formatOptTime(r.CompletedAt),
	}
}

func mapToRecord(m map[string]string) *job.Record {
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	return &job.Record{
		ID:           m["job_id"],
		Scope:        m["scope"],
		Status:       job.Status(m["status"]),
		CurrentPhase: m["current_phase"],
		Reason:       m["reason"],
		CreatedAt:    createdAt,
		StartedAt:    parseOptTime(m["started_at"]),
		CompletedAt:  parseOptTime(m["completed_at"]),
	}
}

func formatOptTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseOptTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}
