// Package store defines the aggregate persistence interface.
//
// The bounded per-job event log ([event.Store]) and the job records with
// their per-scope active pointer ([job.Store]) are separate contracts.
// The composite [Store] composes them so that one backend satisfies both.
//
// # Retention
//
// Every backend keeps at most N events per job and forgets events older
// than the retention TTL, whichever limit fires first. Queries return the
// most recent retained events oldest first, with fingerprint duplicates
// removed.
//
// # Available Backends
//
//   - store/memory: in-process store for development, tests and
//     single-node deployments
//   - store/redis: Redis lists and hashes with key expiry
//
// # Usage
//
//	import (
//	    goredis "github.com/redis/go-redis/v9"
//	    "github.com/xraph/beacon/store/redis"
//	)
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client, redis.WithMaxEvents(100), redis.WithTTL(time.Hour))
//	if err := s.Ping(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
package store
