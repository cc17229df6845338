// Package ratelimit limits subscription traffic per client.
//
// Two limiters live here:
//
//   - Limiter is the fixed-window pipeline stage in front of the
//     subscription endpoints. Its counters sit behind Store so they can be
//     kept in process (MemoryStore) or shared between replicas (RedisStore).
//   - FloodGuard is a coarse per-IP token bucket applied to every route on
//     the public listener. It exists to blunt single-source floods before any
//     body is read.
//
// Neither protects against distributed attacks; that belongs upstream.
package ratelimit
