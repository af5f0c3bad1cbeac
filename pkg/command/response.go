package command

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/burrow/pkg/types"
)

// RemoteError is a failure reported by the shard that executed the command.
// The code and message are surfaced to the caller verbatim.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("shard reported %s: %s", e.Code, e.Message)
}

// DecodeError marks a response that was transported successfully but could
// not be interpreted. It is a local failure, distinct from RemoteError.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed shard response: %s", e.Reason)
}

type responseEnvelope struct {
	OK          *bool       `json:"ok"`
	Code        string      `json:"code"`
	Errmsg      string      `json:"errmsg"`
	SplitPoints []types.Key `json:"splitPoints"`
	SizeBytes   *int64      `json:"sizeBytes"`
	NumObjects  *int64      `json:"numObjects"`
}

func decodeEnvelope(body []byte) (*responseEnvelope, error) {
	var env responseEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &DecodeError{Reason: err.Error()}
	}
	if env.OK == nil {
		return nil, &DecodeError{Reason: "missing ok field"}
	}
	if !*env.OK {
		code := env.Code
		if code == "" {
			code = "UnknownError"
		}
		return nil, &RemoteError{Code: code, Message: env.Errmsg}
	}
	return &env, nil
}

// DecodeAck interprets a response whose only payload is success or failure.
func DecodeAck(body []byte) error {
	_, err := decodeEnvelope(body)
	return err
}

// DecodeSplitPoints interprets the response of a ProbeSplitPoints command.
// An empty list of points is a valid outcome.
func DecodeSplitPoints(body []byte) ([]types.Key, error) {
	env, err := decodeEnvelope(body)
	if err != nil {
		return nil, err
	}
	return env.SplitPoints, nil
}

// DecodeRangeStats interprets the response of a MeasureRangeSize command.
// A well-formed success that lacks the numeric fields is a DecodeError.
func DecodeRangeStats(body []byte) (types.RangeStats, error) {
	env, err := decodeEnvelope(body)
	if err != nil {
		return types.RangeStats{}, err
	}
	if env.SizeBytes == nil {
		return types.RangeStats{}, &DecodeError{Reason: "missing sizeBytes field"}
	}
	if env.NumObjects == nil {
		return types.RangeStats{}, &DecodeError{Reason: "missing numObjects field"}
	}
	return types.RangeStats{SizeBytes: *env.SizeBytes, NumObjects: *env.NumObjects}, nil
}
