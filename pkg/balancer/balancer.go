package balancer

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/scheduler"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// ActionKind discriminates the operations a policy can emit.
type ActionKind string

const (
	ActionMoveRange   ActionKind = "moveRange"
	ActionMergeRanges ActionKind = "mergeRanges"
	ActionSplitRange  ActionKind = "splitRange"
)

// Action is one unit of rebalancing work decided by a policy.
type Action struct {
	Kind      ActionKind
	Namespace string

	// MoveRange
	Descriptor types.RangeDescriptor
	To         types.ShardID
	Settings   types.MoveSettings

	// MergeRanges and SplitRange
	Target  types.ShardID
	Range   types.KeyRange
	Version types.RangeVersion

	// SplitRange
	KeyPattern  string
	SplitPoints []types.Key
}

// Policy produces a stream of rebalancing actions and consumes their
// outcomes.
type Policy interface {
	// NextAction blocks until an action is available, the policy has too
	// many outstanding actions, or ctx is done. A nil action with nil error
	// means the stream is exhausted for now.
	NextAction(ctx context.Context) (*Action, error)

	// Acknowledge reports an action's outcome back to the policy so it can
	// plan the next round.
	Acknowledge(action *Action, result error)

	// CloseActionStream tells the policy no more actions will be pulled.
	CloseActionStream()
}

// Driver pulls actions from a policy and pushes them through the scheduler,
// acknowledging each outcome. One driver goroutine pulls; each action's
// completion is awaited on its own goroutine so a slow shard does not stall
// the stream.
type Driver struct {
	policy Policy
	sched  *scheduler.Scheduler
	logger zerolog.Logger
	ops    *metrics.Registry

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	pending  sync.WaitGroup
}

// NewDriver creates a driver; Run starts it.
func NewDriver(policy Policy, sched *scheduler.Scheduler) *Driver {
	return &Driver{
		policy: policy,
		sched:  sched,
		logger: log.WithComponent("balancer"),
		ops:    metrics.NewRegistry(),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// OperationsInFlight returns the number of actions awaiting acknowledgement.
func (d *Driver) OperationsInFlight() int {
	return d.ops.Count()
}

// OldestOperationRemainingTime reports the remaining-time estimate of the
// longest-outstanding action.
func (d *Driver) OldestOperationRemainingTime() time.Duration {
	return d.ops.OldestOperationRemainingTime()
}

// Run pulls actions until Stop is called or the policy reports an error.
// It blocks; callers usually run it on its own goroutine.
func (d *Driver) Run() {
	defer close(d.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-d.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		action, err := d.policy.NextAction(ctx)
		if err != nil {
			if ctx.Err() == nil {
				d.logger.Error().Err(err).Msg("policy stream failed")
			}
			return
		}
		if action == nil {
			return
		}

		d.pending.Add(1)
		go d.dispatch(ctx, action)
	}
}

// Stop halts the action pull, waits for outstanding acknowledgements and
// closes the policy stream. Idempotent.
func (d *Driver) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		<-d.done
		d.pending.Wait()
		d.policy.CloseActionStream()
	})
}

// actionObserver tracks one outstanding action for the operation registry.
// Without per-range progress reports from the shard the remaining time is
// unknown, so it reports the time already spent instead.
type actionObserver struct {
	start time.Time
}

func (o *actionObserver) StartTime() time.Time { return o.start }
func (o *actionObserver) RemainingTime() time.Duration {
	return time.Since(o.start)
}

func (d *Driver) dispatch(ctx context.Context, action *Action) {
	defer d.pending.Done()
	deregister := d.ops.Register(&actionObserver{start: time.Now()})
	defer deregister()

	var result error
	switch action.Kind {
	case ActionMoveRange:
		fut := d.sched.RequestMoveRange(action.Namespace, action.Descriptor, action.To, action.Settings, false)
		_, result = fut.Wait(ctx)
	case ActionMergeRanges:
		fut := d.sched.RequestMergeRanges(action.Namespace, action.Target, action.Range, action.Version)
		_, result = fut.Wait(ctx)
	case ActionSplitRange:
		fut := d.sched.RequestSplitRange(action.Namespace, action.Target, action.Version, action.KeyPattern, action.Range, action.SplitPoints)
		_, result = fut.Wait(ctx)
	default:
		d.logger.Warn().Str("kind", string(action.Kind)).Msg("unknown action kind")
		return
	}

	if result != nil {
		d.logger.Debug().Err(result).
			Str("kind", string(action.Kind)).
			Str("namespace", action.Namespace).
			Msg("action failed")
	}
	d.policy.Acknowledge(action, result)
}
