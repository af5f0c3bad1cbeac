// Package types defines the shared data model of the burrow balancer:
// shard identifiers, key ranges, range versions and the option/result
// structs exchanged between the scheduler and its callers.
package types
