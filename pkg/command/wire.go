package command

import (
	"encoding/json"

	"github.com/cuemby/burrow/pkg/types"
)

// Request is the shard-side view of an encoded command document: the union
// of the fields the five kinds may carry, keyed by Command.
type Request struct {
	Command           Kind               `json:"command"`
	Namespace         string             `json:"namespace"`
	Shard             types.ShardID      `json:"shard"`
	FromShard         types.ShardID      `json:"fromShard"`
	ToShard           types.ShardID      `json:"toShard"`
	KeyPattern        string             `json:"keyPattern"`
	Min               types.Key          `json:"min"`
	Max               types.Key          `json:"max"`
	SplitPoints       []types.Key        `json:"splitPoints"`
	MaxKeys           int                `json:"maxKeys"`
	MaxRangeSizeBytes int64              `json:"maxRangeSizeBytes"`
	SecondaryThrottle bool               `json:"secondaryThrottle"`
	WaitForDelete     bool               `json:"waitForDelete"`
	Force             types.ForceMode    `json:"force"`
	EstimateOnly      bool               `json:"estimateOnly"`
	Version           types.RangeVersion `json:"version"`
}

// Range returns the key interval addressed by the request.
func (r *Request) Range() types.KeyRange {
	return types.KeyRange{Min: r.Min, Max: r.Max}
}

// DecodeRequest parses an encoded command document.
func DecodeRequest(body []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &DecodeError{Reason: err.Error()}
	}
	if req.Command == "" {
		return nil, &DecodeError{Reason: "missing command field"}
	}
	return &req, nil
}

// Ack builds the wire form of a plain success response.
func Ack() []byte {
	return []byte(`{"ok":true}`)
}

// Failure builds the wire form of a shard-reported error.
func Failure(code, errmsg string) []byte {
	body, _ := json.Marshal(struct {
		OK     bool   `json:"ok"`
		Code   string `json:"code"`
		Errmsg string `json:"errmsg"`
	}{false, code, errmsg})
	return body
}

// SplitPointsResponse builds the wire form of a ProbeSplitPoints success.
func SplitPointsResponse(points []types.Key) []byte {
	body, _ := json.Marshal(struct {
		OK          bool        `json:"ok"`
		SplitPoints []types.Key `json:"splitPoints"`
	}{true, points})
	return body
}

// RangeStatsResponse builds the wire form of a MeasureRangeSize success.
func RangeStatsResponse(stats types.RangeStats) []byte {
	body, _ := json.Marshal(struct {
		OK         bool  `json:"ok"`
		SizeBytes  int64 `json:"sizeBytes"`
		NumObjects int64 `json:"numObjects"`
	}{true, stats.SizeBytes, stats.NumObjects})
	return body
}
