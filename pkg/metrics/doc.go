// Package metrics provides the balancer's Prometheus instrumentation and
// the cumulative registry of in-flight operation observers.
//
// The Prometheus side is process-global: counters and histograms for
// command throughput, latency and lock contention, exposed through
// Handler() on the admin server's /metrics endpoint.
//
// The Registry side is instance-scoped: each high-level balancer operation
// registers an Observer while it runs, and operational tooling queries the
// aggregate (count, remaining time of the oldest operation) to answer "is a
// long rebalance still making progress".
package metrics
