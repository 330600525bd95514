// Package redis implements store.Store on top of go-redis.
//
// Appends run RPUSH, LTRIM and PEXPIRE in one MULTI/EXEC transaction, so
// the log never exceeds N entries and the whole key expires TTL after the
// last write. Each list element carries its own storage timestamp and
// queries skip elements older than the TTL, which keeps the
// whichever-fires-first rule exact for long-running jobs.
//
// The caller owns the client lifecycle; Close never closes it:
//
//	import (
//	    goredis "github.com/redis/go-redis/v9"
//	    "github.com/xraph/beacon/store/redis"
//	)
//
//	s := redis.New(goredis.NewClient(&goredis.Options{Addr: addr}))
package redis
