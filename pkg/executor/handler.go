package executor

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/cuemby/burrow/pkg/command"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// CommandPath is the shard-side endpoint balancer commands are posted to.
const CommandPath = "/v1/commands"

// ShardBackend is implemented by the shard process to execute the five
// balancer operations against its local storage.
type ShardBackend interface {
	MoveRange(ctx context.Context, req *command.Request) error
	MergeRanges(ctx context.Context, req *command.Request) error
	SplitRange(ctx context.Context, req *command.Request) error
	ProbeSplitPoints(ctx context.Context, req *command.Request) ([]types.Key, error)
	MeasureRangeSize(ctx context.Context, req *command.Request) (types.RangeStats, error)
}

// NewShardHandler builds the HTTP handler a shard mounts to receive balancer
// commands. Command-level failures travel inside the response envelope;
// the HTTP status stays 200 unless the request itself is unreadable.
func NewShardHandler(backend ShardBackend) http.Handler {
	logger := log.WithComponent("shard-commands")

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post(CommandPath, func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}
		decoded, err := command.DecodeRequest(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		logger.Debug().
			Str("command", string(decoded.Command)).
			Str("namespace", decoded.Namespace).
			Msg("executing balancer command")

		w.Header().Set("Content-Type", "application/json")
		w.Write(execute(req.Context(), backend, decoded))
	})
	return r
}

func execute(ctx context.Context, backend ShardBackend, req *command.Request) []byte {
	switch req.Command {
	case command.KindMoveRange:
		return ackOrFailure(backend.MoveRange(ctx, req))
	case command.KindMergeRanges:
		return ackOrFailure(backend.MergeRanges(ctx, req))
	case command.KindSplitRange:
		return ackOrFailure(backend.SplitRange(ctx, req))
	case command.KindProbeSplitPoints:
		points, err := backend.ProbeSplitPoints(ctx, req)
		if err != nil {
			return failure(err)
		}
		return command.SplitPointsResponse(points)
	case command.KindMeasureRangeSize:
		stats, err := backend.MeasureRangeSize(ctx, req)
		if err != nil {
			return failure(err)
		}
		return command.RangeStatsResponse(stats)
	default:
		return command.Failure("UnknownCommand", string(req.Command))
	}
}

func ackOrFailure(err error) []byte {
	if err != nil {
		return failure(err)
	}
	return command.Ack()
}

func failure(err error) []byte {
	var remote *command.RemoteError
	if errors.As(err, &remote) {
		return command.Failure(remote.Code, remote.Message)
	}
	return command.Failure("InternalError", err.Error())
}
