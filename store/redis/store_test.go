//go:build integration

package redis_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/job"
	redisstore "github.com/xraph/beacon/store/redis"
)

// setupClient starts a Redis container and returns a connected client.
func setupClient(t *testing.T) *goredis.Client {
	t.Helper()

	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}
	opts, err := goredis.ParseURL(uri)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	client := goredis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func logEvent(jobID string, i int, at time.Time) event.Event {
	return event.Event{
		JobID:      jobID,
		OccurredAt: at,
		Payload:    event.Log{Level: event.LevelInfo, Message: fmt.Sprintf("event-%d", i)},
	}
}

func TestStore_Ping(t *testing.T) {
	s := redisstore.New(setupClient(t))
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestStore_AppendTrimsToN(t *testing.T) {
	client := setupClient(t)
	s := redisstore.New(client, redisstore.WithMaxEvents(100))
	ctx := context.Background()
	base := time.Now().UTC()

	for i := range 150 {
		if err := s.AppendEvent(ctx, logEvent("job-1", i, base.Add(time.Duration(i)*time.Millisecond))); err != nil {
			t.Fatalf("AppendEvent %d: %v", i, err)
		}
	}

	if n := client.LLen(ctx, "beacon:events:job-1").Val(); n != 100 {
		t.Fatalf("list length = %d, want 100", n)
	}
	if ttl := client.PTTL(ctx, "beacon:events:job-1").Val(); ttl <= 0 {
		t.Fatalf("events key has no TTL: %v", ttl)
	}

	got, err := s.QueryEvents(ctx, "job-1", 0)
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(got) != 100 {
		t.Fatalf("len = %d, want 100", len(got))
	}
	if got[0].Payload.Text() != "event-50" || got[99].Payload.Text() != "event-149" {
		t.Errorf("range = [%s .. %s], want [event-50 .. event-149]",
			got[0].Payload.Text(), got[99].Payload.Text())
	}
}

func TestStore_QuerySkipsExpiredEntries(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	s := redisstore.New(setupClient(t), redisstore.WithTTL(time.Minute), redisstore.WithClock(clock))
	ctx := context.Background()

	_ = s.AppendEvent(ctx, logEvent("j", 0, now))
	now = now.Add(50 * time.Second)
	_ = s.AppendEvent(ctx, logEvent("j", 1, now))
	now = now.Add(20 * time.Second)

	got, err := s.QueryEvents(ctx, "j", 0)
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(got) != 1 || got[0].Payload.Text() != "event-1" {
		t.Fatalf("got %d events, want only event-1", len(got))
	}
}

func TestStore_QueryUnknownJob(t *testing.T) {
	s := redisstore.New(setupClient(t))
	got, err := s.QueryEvents(context.Background(), "missing", 10)
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("len = %d, want 0", len(got))
	}
}

func TestStore_JobRecords(t *testing.T) {
	client := setupClient(t)
	s := redisstore.New(client, redisstore.WithTTL(time.Hour))
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	r := &job.Record{ID: "j1", Scope: "kb", Status: job.StatusPending, CreatedAt: now}
	if err := s.CreateJob(ctx, r); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.CreateJob(ctx, r); !errors.Is(err, beacon.ErrJobAlreadyExists) {
		t.Fatalf("duplicate CreateJob err = %v", err)
	}

	_ = r.Transition(job.StatusRunning, now)
	r.CurrentPhase = "fetch"
	if err := s.UpdateJob(ctx, r); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	if ttl := client.PTTL(ctx, "beacon:job:j1").Val(); ttl >= 0 {
		t.Errorf("running record should not expire, PTTL = %v", ttl)
	}

	_ = r.Transition(job.StatusFailure, now.Add(time.Second))
	r.Reason = job.ReasonSuperseded
	if err := s.UpdateJob(ctx, r); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	if ttl := client.PTTL(ctx, "beacon:job:j1").Val(); ttl <= 0 {
		t.Errorf("finished record should expire, PTTL = %v", ttl)
	}

	got, err := s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusFailure || got.Reason != job.ReasonSuperseded || got.CurrentPhase != "fetch" {
		t.Errorf("record = %+v", got)
	}
	if got.StartedAt == nil || got.CompletedAt == nil || !got.CompletedAt.Equal(now.Add(time.Second)) {
		t.Errorf("timestamps = %v / %v", got.StartedAt, got.CompletedAt)
	}

	if _, err := s.GetJob(ctx, "nope"); !errors.Is(err, beacon.ErrJobNotFound) {
		t.Errorf("GetJob unknown err = %v", err)
	}
	if err := s.UpdateJob(ctx, &job.Record{ID: "nope"}); !errors.Is(err, beacon.ErrJobNotFound) {
		t.Errorf("UpdateJob unknown err = %v", err)
	}
}

func TestStore_ActivePointer(t *testing.T) {
	s := redisstore.New(setupClient(t))
	ctx := context.Background()

	if id, err := s.ActiveJob(ctx, "kb"); err != nil || id != "" {
		t.Fatalf("ActiveJob = %q, %v; want empty", id, err)
	}
	_ = s.SetActiveJob(ctx, "kb", "j1")
	_ = s.SetActiveJob(ctx, "kb", "j2")

	if err := s.ClearActiveJob(ctx, "kb", "j1"); err != nil {
		t.Fatalf("ClearActiveJob: %v", err)
	}
	if id, _ := s.ActiveJob(ctx, "kb"); id != "j2" {
		t.Fatalf("stale clear removed pointer: %q", id)
	}
	_ = s.ClearActiveJob(ctx, "kb", "j2")
	if id, _ := s.ActiveJob(ctx, "kb"); id != "" {
		t.Fatalf("ActiveJob = %q after clear", id)
	}
}

func TestStore_UnavailableWraps(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	s := redisstore.New(client)

	err := s.AppendEvent(context.Background(), logEvent("j", 0, time.Now()))
	if !errors.Is(err, beacon.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
}
