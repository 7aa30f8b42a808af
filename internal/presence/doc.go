// Package presence tracks which principals hold live real-time channels and
// fans events out to them.
//
// A Router maps each principal to zero or more registered connections
// (several devices or tabs) and each room to the connections that joined it.
// Notify and Broadcast never block: every connection has a bounded buffer and
// events for a full buffer are dropped. Durable state lives in the store, so a
// client that misses a push recovers it by fetching history.
//
// With a RedisRelay attached, presence is also written to Redis sets and every
// push is published on a Redis channel so connections held by other gateway
// instances receive it.
package presence
