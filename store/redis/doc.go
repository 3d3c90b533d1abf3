// Package redis implements store.Engine using Redis. Executions and dead
// letters are stored as Redis Hashes, checkpoints as a per-execution Hash
// plus an ordering List written atomically by a Lua script, signals as
// SETNX strings and messages as Streams.
//
// The Redis store carries only engine state. Business data (accounts,
// orders, sessions) lives in a relational backend.
//
// The caller owns the Redis client lifecycle -- redis never closes it:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
