// Package commandlog persists in-flight balancer commands so they survive a
// process crash.
//
// The log holds one record per command that has been admitted but whose
// outcome is not yet known. A record is written before the command is ever
// dispatched to a shard and deleted only after the result (success or
// failure) has been observed. On startup the scheduler scans the log and
// re-issues every leftover record, which makes command delivery
// at-least-once across crashes: shards must fence by range version.
//
// The log is the sole source of truth for recovery. In-memory scheduler
// state is rebuilt from it, never the other way around.
package commandlog
