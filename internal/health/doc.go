// Package health provides composable health check probes and HTTP handlers
// for liveness and readiness endpoints.
//
// Probes can be combined with [All] (AND), [Any] (OR), and [Fixed] (static).
// [CheckFunc] adapts a plain function into a [Probe]; [Ping] turns a
// dependency with a Ping(ctx) method (the subscriber database, the shared rate
// limit store) into one with a bounded timeout.
//
// [ShutdownGate] coordinates graceful shutdown: once closed, readiness probes
// fail immediately so load balancers stop sending traffic before in-flight
// subscription requests are drained.
package health
