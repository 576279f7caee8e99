// Package redis implements job.Store on Redis. Each job is a hash; each
// queue keeps one sorted set per state so leasing, promotion of delayed
// jobs, and lease reclamation are range queries. Every transition runs as
// a Lua script, which makes lease acquisition atomic across worker
// processes sharing one Redis.
//
// Key layout (prefix "ripple:"):
//
//	job:<id>              hash     job fields, times in unix milliseconds
//	q:<queue>:waiting     zset     score = -priority*1e13 + runAt
//	q:<queue>:delayed     zset     score = runAt
//	q:<queue>:active      zset     score = lease expiry
//	q:<queue>:completed   zset     score = finished at, trimmed
//	q:<queue>:failed      zset     score = finished at
//	queues                set      every queue name ever pushed to
//
// The caller owns the client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client, redis.WithKeepCompleted(1000))
//	if err := s.Ping(ctx); err != nil { ... }
package redis
