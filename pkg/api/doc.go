// Package api is the balancer's HTTP admin surface.
//
// It exposes lifecycle status, the submission gate, the shard registry and
// the Prometheus metrics endpoint. Shard-facing traffic does not go through
// here; commands reach shards via pkg/executor.
package api
