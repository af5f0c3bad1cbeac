package command

import (
	"encoding/json"

	"github.com/cuemby/burrow/pkg/types"
)

// Kind identifies one of the supported balancer operations.
type Kind string

const (
	KindMoveRange        Kind = "moveRange"
	KindMergeRanges      Kind = "mergeRanges"
	KindSplitRange       Kind = "splitRange"
	KindProbeSplitPoints Kind = "probeSplitPoints"
	KindMeasureRangeSize Kind = "measureRangeSize"
)

// Info describes a single balancer command: where it goes, whether it needs
// the namespace's distributed lock, and how it is encoded on the wire.
//
// Encode must be deterministic: the same logical command always produces the
// same bytes. Crash recovery re-issues the persisted encoding verbatim and
// shards may deduplicate on it.
type Info interface {
	Kind() Kind
	Namespace() string
	Target() types.ShardID
	RequiresDistLock() bool
	Encode() ([]byte, error)
}

// MoveRange instructs the target shard to migrate a range to another shard.
type MoveRange struct {
	NS                 string
	Descriptor         types.RangeDescriptor
	To                 types.ShardID
	Settings           types.MoveSettings
	IssuedByRemoteUser bool
}

func NewMoveRange(ns string, desc types.RangeDescriptor, to types.ShardID, settings types.MoveSettings, issuedByRemoteUser bool) *MoveRange {
	return &MoveRange{
		NS:                 ns,
		Descriptor:         desc,
		To:                 to,
		Settings:           settings,
		IssuedByRemoteUser: issuedByRemoteUser,
	}
}

func (c *MoveRange) Kind() Kind             { return KindMoveRange }
func (c *MoveRange) Namespace() string      { return c.NS }
func (c *MoveRange) Target() types.ShardID  { return c.Descriptor.Shard }
func (c *MoveRange) RequiresDistLock() bool { return true }

func (c *MoveRange) Encode() ([]byte, error) {
	return json.Marshal(struct {
		Command           Kind               `json:"command"`
		Namespace         string             `json:"namespace"`
		FromShard         types.ShardID      `json:"fromShard"`
		ToShard           types.ShardID      `json:"toShard"`
		Min               types.Key          `json:"min"`
		Max               types.Key          `json:"max"`
		MaxRangeSizeBytes int64              `json:"maxRangeSizeBytes"`
		SecondaryThrottle bool               `json:"secondaryThrottle"`
		WaitForDelete     bool               `json:"waitForDelete"`
		Force             types.ForceMode    `json:"force"`
		Version           types.RangeVersion `json:"version"`
	}{
		Command:           KindMoveRange,
		Namespace:         c.NS,
		FromShard:         c.Descriptor.Shard,
		ToShard:           c.To,
		Min:               c.Descriptor.Range.Min,
		Max:               c.Descriptor.Range.Max,
		MaxRangeSizeBytes: c.Settings.MaxRangeSizeBytes,
		SecondaryThrottle: c.Settings.SecondaryThrottle,
		WaitForDelete:     c.Settings.WaitForDelete,
		Force:             c.Settings.Force,
		Version:           c.Descriptor.Version,
	})
}

// MergeRanges instructs the target shard to collapse the sub-ranges covered
// by Range into a single range.
type MergeRanges struct {
	NS      string
	Shard   types.ShardID
	Range   types.KeyRange
	Version types.RangeVersion
}

func NewMergeRanges(ns string, shard types.ShardID, rng types.KeyRange, version types.RangeVersion) *MergeRanges {
	return &MergeRanges{NS: ns, Shard: shard, Range: rng, Version: version}
}

func (c *MergeRanges) Kind() Kind             { return KindMergeRanges }
func (c *MergeRanges) Namespace() string      { return c.NS }
func (c *MergeRanges) Target() types.ShardID  { return c.Shard }
func (c *MergeRanges) RequiresDistLock() bool { return true }

func (c *MergeRanges) Encode() ([]byte, error) {
	return json.Marshal(struct {
		Command   Kind               `json:"command"`
		Namespace string             `json:"namespace"`
		Shard     types.ShardID      `json:"shard"`
		Min       types.Key          `json:"min"`
		Max       types.Key          `json:"max"`
		Version   types.RangeVersion `json:"version"`
	}{
		Command:   KindMergeRanges,
		Namespace: c.NS,
		Shard:     c.Shard,
		Min:       c.Range.Min,
		Max:       c.Range.Max,
		Version:   c.Version,
	})
}

// SplitRange instructs the target shard to split a range at the given points.
type SplitRange struct {
	NS          string
	Shard       types.ShardID
	Version     types.RangeVersion
	KeyPattern  string
	Range       types.KeyRange
	SplitPoints []types.Key
}

func NewSplitRange(ns string, shard types.ShardID, version types.RangeVersion, keyPattern string, rng types.KeyRange, splitPoints []types.Key) *SplitRange {
	return &SplitRange{
		NS:          ns,
		Shard:       shard,
		Version:     version,
		KeyPattern:  keyPattern,
		Range:       rng,
		SplitPoints: splitPoints,
	}
}

func (c *SplitRange) Kind() Kind             { return KindSplitRange }
func (c *SplitRange) Namespace() string      { return c.NS }
func (c *SplitRange) Target() types.ShardID  { return c.Shard }
func (c *SplitRange) RequiresDistLock() bool { return true }

func (c *SplitRange) Encode() ([]byte, error) {
	return json.Marshal(struct {
		Command     Kind               `json:"command"`
		Namespace   string             `json:"namespace"`
		Shard       types.ShardID      `json:"shard"`
		KeyPattern  string             `json:"keyPattern"`
		Min         types.Key          `json:"min"`
		Max         types.Key          `json:"max"`
		SplitPoints []types.Key        `json:"splitPoints"`
		Version     types.RangeVersion `json:"version"`
	}{
		Command:     KindSplitRange,
		Namespace:   c.NS,
		Shard:       c.Shard,
		KeyPattern:  c.KeyPattern,
		Min:         c.Range.Min,
		Max:         c.Range.Max,
		SplitPoints: c.SplitPoints,
		Version:     c.Version,
	})
}

// ProbeSplitPoints asks the target shard for candidate split points inside a
// range. Read-only: no distributed lock is taken.
type ProbeSplitPoints struct {
	NS         string
	Shard      types.ShardID
	KeyPattern string
	Range      types.KeyRange
	MaxKeys    int
}

func NewProbeSplitPoints(ns string, shard types.ShardID, keyPattern string, rng types.KeyRange, maxKeys int) *ProbeSplitPoints {
	return &ProbeSplitPoints{NS: ns, Shard: shard, KeyPattern: keyPattern, Range: rng, MaxKeys: maxKeys}
}

func (c *ProbeSplitPoints) Kind() Kind             { return KindProbeSplitPoints }
func (c *ProbeSplitPoints) Namespace() string      { return c.NS }
func (c *ProbeSplitPoints) Target() types.ShardID  { return c.Shard }
func (c *ProbeSplitPoints) RequiresDistLock() bool { return false }

func (c *ProbeSplitPoints) Encode() ([]byte, error) {
	return json.Marshal(struct {
		Command    Kind          `json:"command"`
		Namespace  string        `json:"namespace"`
		Shard      types.ShardID `json:"shard"`
		KeyPattern string        `json:"keyPattern"`
		Min        types.Key     `json:"min"`
		Max        types.Key     `json:"max"`
		MaxKeys    int           `json:"maxKeys"`
	}{
		Command:    KindProbeSplitPoints,
		Namespace:  c.NS,
		Shard:      c.Shard,
		KeyPattern: c.KeyPattern,
		Min:        c.Range.Min,
		Max:        c.Range.Max,
		MaxKeys:    c.MaxKeys,
	})
}

// MeasureRangeSize asks the target shard for the storage size and object
// count of a range. Read-only: no distributed lock is taken.
type MeasureRangeSize struct {
	NS                 string
	Shard              types.ShardID
	Range              types.KeyRange
	Version            types.RangeVersion
	KeyPattern         string
	EstimateOnly       bool
	IssuedByRemoteUser bool
}

func NewMeasureRangeSize(ns string, shard types.ShardID, rng types.KeyRange, version types.RangeVersion, keyPattern string, estimateOnly, issuedByRemoteUser bool) *MeasureRangeSize {
	return &MeasureRangeSize{
		NS:                 ns,
		Shard:              shard,
		Range:              rng,
		Version:            version,
		KeyPattern:         keyPattern,
		EstimateOnly:       estimateOnly,
		IssuedByRemoteUser: issuedByRemoteUser,
	}
}

func (c *MeasureRangeSize) Kind() Kind             { return KindMeasureRangeSize }
func (c *MeasureRangeSize) Namespace() string      { return c.NS }
func (c *MeasureRangeSize) Target() types.ShardID  { return c.Shard }
func (c *MeasureRangeSize) RequiresDistLock() bool { return false }

func (c *MeasureRangeSize) Encode() ([]byte, error) {
	return json.Marshal(struct {
		Command      Kind               `json:"command"`
		Namespace    string             `json:"namespace"`
		Shard        types.ShardID      `json:"shard"`
		KeyPattern   string             `json:"keyPattern"`
		Min          types.Key          `json:"min"`
		Max          types.Key          `json:"max"`
		EstimateOnly bool               `json:"estimateOnly"`
		Version      types.RangeVersion `json:"version"`
	}{
		Command:      KindMeasureRangeSize,
		Namespace:    c.NS,
		Shard:        c.Shard,
		KeyPattern:   c.KeyPattern,
		Min:          c.Range.Min,
		Max:          c.Range.Max,
		EstimateOnly: c.EstimateOnly,
		Version:      c.Version,
	})
}

// Recovered wraps a command reconstructed from the persistent log. Encode
// returns the persisted bytes verbatim, which guarantees the re-issued
// request is byte-identical to the one originally dispatched.
type Recovered struct {
	kind         Kind
	ns           string
	target       types.ShardID
	requiresLock bool
	payload      []byte
}

func NewRecovered(kind Kind, ns string, target types.ShardID, requiresLock bool, payload []byte) *Recovered {
	return &Recovered{
		kind:         kind,
		ns:           ns,
		target:       target,
		requiresLock: requiresLock,
		payload:      payload,
	}
}

func (c *Recovered) Kind() Kind              { return c.kind }
func (c *Recovered) Namespace() string       { return c.ns }
func (c *Recovered) Target() types.ShardID   { return c.target }
func (c *Recovered) RequiresDistLock() bool  { return c.requiresLock }
func (c *Recovered) Encode() ([]byte, error) { return c.payload, nil }
