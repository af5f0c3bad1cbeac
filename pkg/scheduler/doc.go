// Package scheduler dispatches balancer commands to shards.
//
// Callers submit commands (move, merge, split, probe, measure) and get back
// a Future resolving to the command's typed outcome. Every accepted command
// is written to the persistent command log before it is eligible for
// dispatch, so a crash between acceptance and completion leaves a record
// that the next Start re-issues byte-identically. Commands whose semantics
// conflict with DDL take the namespace's distributed lock for the duration
// of the remote call and release it before the future resolves.
//
// The scheduler runs a single worker goroutine that drains an in-memory
// queue, bounded by an in-flight semaphore. Stopping cancels queued commands
// (their records are kept for recovery) and waits for dispatched ones.
package scheduler
