package types

import "fmt"

// ShardID identifies a shard within the cluster.
type ShardID string

func (s ShardID) String() string { return string(s) }

// Key is a routing key within a namespace's keyspace.
type Key string

// KeyRange is a contiguous key interval [Min, Max) within a namespace.
type KeyRange struct {
	Min Key `json:"min"`
	Max Key `json:"max"`
}

func (r KeyRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Min, r.Max)
}

// Contains reports whether the key falls inside the range.
func (r KeyRange) Contains(k Key) bool {
	return k >= r.Min && k < r.Max
}

// RangeVersion is a monotonically comparable stamp attached to range
// metadata. Shards use it to reject commands built against stale metadata.
type RangeVersion struct {
	Major     uint32 `json:"major"`
	Minor     uint32 `json:"minor"`
	Epoch     string `json:"epoch"`
	Timestamp int64  `json:"timestamp"`
}

// IsNewerThan reports whether v supersedes other. Versions from different
// epochs are never comparable and always report true so the shard makes the
// final call.
func (v RangeVersion) IsNewerThan(other RangeVersion) bool {
	if v.Epoch != other.Epoch {
		return true
	}
	if v.Major != other.Major {
		return v.Major > other.Major
	}
	return v.Minor > other.Minor
}

// ForceMode controls whether a shard may migrate a range that exceeds the
// configured maximum size.
type ForceMode string

const (
	ForceNone        ForceMode = "none"
	ForceIfOversized ForceMode = "ifOversized"
	ForceAlways      ForceMode = "always"
)

// MoveSettings carries the tuning options of a range migration.
type MoveSettings struct {
	MaxRangeSizeBytes int64     `json:"maxRangeSizeBytes"`
	SecondaryThrottle bool      `json:"secondaryThrottle"`
	WaitForDelete     bool      `json:"waitForDelete"`
	Force             ForceMode `json:"force"`
}

// DefaultMoveSettings returns the settings the balancer applies when the
// caller does not override them.
func DefaultMoveSettings() MoveSettings {
	return MoveSettings{
		MaxRangeSizeBytes: 128 * 1024 * 1024,
		SecondaryThrottle: false,
		WaitForDelete:     false,
		Force:             ForceNone,
	}
}

// RangeDescriptor ties a key range to the shard that currently owns it and
// the metadata version the owner was last known at.
type RangeDescriptor struct {
	Range   KeyRange     `json:"range"`
	Shard   ShardID      `json:"shard"`
	Version RangeVersion `json:"version"`
}

// RangeStats is the result of a range size measurement.
type RangeStats struct {
	SizeBytes  int64 `json:"sizeBytes"`
	NumObjects int64 `json:"numObjects"`
}
