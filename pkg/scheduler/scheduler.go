package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/command"
	"github.com/cuemby/burrow/pkg/commandlog"
	"github.com/cuemby/burrow/pkg/distlock"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/executor"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/topology"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is the scheduler's lifecycle state
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

const defaultMaxInFlight = 16

// Config wires the scheduler's collaborators
type Config struct {
	Log      *commandlog.Log
	Locks    distlock.Manager
	Resolver topology.Resolver
	Remote   executor.Remote

	// Broker is optional; when set, the scheduler publishes lifecycle and
	// per-command events on it, including the deferred-cleanup checkpoint.
	Broker *events.Broker

	// MaxInFlight bounds the number of commands dispatched concurrently.
	// Zero means the default of 16.
	MaxInFlight int

	// LockTimeout bounds a single distributed-lock acquisition attempt.
	// Zero means distlock.SingleAttemptTimeout.
	LockTimeout time.Duration
}

// Scheduler accepts balancer commands, persists them for crash recovery,
// serializes lock-guarded ones per namespace, dispatches them to shards and
// resolves one future per request.
type Scheduler struct {
	cmdLog      *commandlog.Log
	locks       distlock.Manager
	resolver    topology.Resolver
	remote      executor.Remote
	broker      *events.Broker
	logger      zerolog.Logger
	maxInFlight int
	lockTimeout time.Duration

	mu    sync.Mutex
	state State

	gate       *gate
	queue      *requestQueue
	stopCh     chan struct{}
	workerDone chan struct{}
	sem        chan struct{}
	inflight   sync.WaitGroup
}

// New creates a stopped scheduler.
func New(cfg Config) *Scheduler {
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	lockTimeout := cfg.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = distlock.SingleAttemptTimeout
	}
	return &Scheduler{
		cmdLog:      cfg.Log,
		locks:       cfg.Locks,
		resolver:    cfg.Resolver,
		remote:      cfg.Remote,
		broker:      cfg.Broker,
		logger:      log.WithComponent("scheduler"),
		maxInFlight: maxInFlight,
		lockTimeout: lockTimeout,
		state:       StateStopped,
		gate:        newGate(),
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// QueueLen returns the number of admitted commands not yet dispatched.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	queue := s.queue
	s.mu.Unlock()
	if queue == nil {
		return 0
	}
	return queue.len()
}

// PauseSubmissions closes the submission gate: admitted commands stay
// queued (and persisted) without being dispatched. Lifecycle transitions
// are unaffected.
func (s *Scheduler) PauseSubmissions() {
	s.gate.pause()
}

// ResumeSubmissions reopens the submission gate.
func (s *Scheduler) ResumeSubmissions() {
	s.gate.resume()
}

// SubmissionsPaused reports whether the gate is closed.
func (s *Scheduler) SubmissionsPaused() bool {
	return s.gate.isPaused()
}

// Start transitions to Running. Before accepting the worker loop's first
// dispatch it re-enqueues every command left in the persistent log, so a
// command whose process died mid-flight is re-issued exactly as originally
// encoded. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.state == StateRunning || s.state == StateStarting {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStarting
	s.stopCh = make(chan struct{})
	s.workerDone = make(chan struct{})
	s.queue = newRequestQueue()
	s.sem = make(chan struct{}, s.maxInFlight)
	s.mu.Unlock()

	entries, err := s.cmdLog.ScanAll()
	if err != nil {
		// Commands admitted while the scan ran are queued with no worker to
		// drain them. Resolve each one; their records stay for the next
		// Start, like any cancelled-at-shutdown command.
		s.mu.Lock()
		s.state = StateStopped
		pending := s.queue.drain()
		s.mu.Unlock()
		for _, req := range pending {
			s.cancelRequest(req)
		}
		return fmt.Errorf("recovery scan failed: %w", err)
	}

	s.mu.Lock()
	for _, entry := range entries {
		req := s.newRecoveredRequest(entry)
		req.state = stateEnqueued
		s.queue.push(req)
		metrics.CommandsRecovered.Inc()
		s.publish(events.EventCommandRecovered, req, "")
	}
	s.state = StateRunning
	s.mu.Unlock()

	if len(entries) > 0 {
		s.logger.Info().Int("commands", len(entries)).Msg("re-enqueued persisted commands")
	}

	go s.runWorker()
	s.publishSimple(events.EventSchedulerStarted)
	return nil
}

// Stop transitions to Stopping, cancels every command not yet dispatched
// (their futures resolve with ErrSchedulerStopping; their persisted records
// are kept for the next Start), waits for dispatched commands to finish,
// then joins the worker. Safe to call at any time, including before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == StateStopped || s.state == StateStopping {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	stopCh := s.stopCh
	workerDone := s.workerDone
	s.mu.Unlock()

	close(stopCh)
	<-workerDone
	s.inflight.Wait()

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	s.publishSimple(events.EventSchedulerStopped)
}

// RequestMoveRange asks the range's owning shard to migrate it to another
// shard. Serialized against concurrent DDL through the namespace lock.
func (s *Scheduler) RequestMoveRange(ns string, desc types.RangeDescriptor, to types.ShardID, settings types.MoveSettings, issuedByRemoteUser bool) *Future[Empty] {
	fut := newFuture[Empty]()
	info := command.NewMoveRange(ns, desc, to, settings, issuedByRemoteUser)
	s.submit(info, issuedByRemoteUser, func(resp []byte, err error) error {
		if err == nil {
			err = command.DecodeAck(resp)
		}
		fut.fulfill(Empty{}, err)
		return err
	})
	return fut
}

// RequestMergeRanges asks the target shard to merge the contiguous ranges
// covered by rng into one.
func (s *Scheduler) RequestMergeRanges(ns string, target types.ShardID, rng types.KeyRange, version types.RangeVersion) *Future[Empty] {
	fut := newFuture[Empty]()
	info := command.NewMergeRanges(ns, target, rng, version)
	s.submit(info, false, func(resp []byte, err error) error {
		if err == nil {
			err = command.DecodeAck(resp)
		}
		fut.fulfill(Empty{}, err)
		return err
	})
	return fut
}

// RequestSplitRange asks the target shard to split a range at the given
// points.
func (s *Scheduler) RequestSplitRange(ns string, target types.ShardID, version types.RangeVersion, keyPattern string, rng types.KeyRange, splitPoints []types.Key) *Future[Empty] {
	fut := newFuture[Empty]()
	info := command.NewSplitRange(ns, target, version, keyPattern, rng, splitPoints)
	s.submit(info, false, func(resp []byte, err error) error {
		if err == nil {
			err = command.DecodeAck(resp)
		}
		fut.fulfill(Empty{}, err)
		return err
	})
	return fut
}

// RequestProbeSplitPoints asks the target shard for candidate split points
// inside a range. Read-only: no namespace lock is taken.
func (s *Scheduler) RequestProbeSplitPoints(ns string, target types.ShardID, keyPattern string, rng types.KeyRange, maxKeys int) *Future[[]types.Key] {
	fut := newFuture[[]types.Key]()
	info := command.NewProbeSplitPoints(ns, target, keyPattern, rng, maxKeys)
	s.submit(info, false, func(resp []byte, err error) error {
		var points []types.Key
		if err == nil {
			points, err = command.DecodeSplitPoints(resp)
		}
		fut.fulfill(points, err)
		return err
	})
	return fut
}

// RequestMeasureRangeSize asks the target shard for the storage size and
// object count of a range. Read-only: no namespace lock is taken.
func (s *Scheduler) RequestMeasureRangeSize(ns string, target types.ShardID, rng types.KeyRange, version types.RangeVersion, keyPattern string, estimateOnly, issuedByRemoteUser bool) *Future[types.RangeStats] {
	fut := newFuture[types.RangeStats]()
	info := command.NewMeasureRangeSize(ns, target, rng, version, keyPattern, estimateOnly, issuedByRemoteUser)
	s.submit(info, issuedByRemoteUser, func(resp []byte, err error) error {
		var stats types.RangeStats
		if err == nil {
			stats, err = command.DecodeRangeStats(resp)
		}
		fut.fulfill(stats, err)
		return err
	})
	return fut
}

// submit admits a fresh command: reject fast when not running, persist,
// then enqueue. The persisted record exists before any dispatch attempt.
func (s *Scheduler) submit(info command.Info, issuedByRemoteUser bool, complete func([]byte, error) error) {
	req := &request{
		id:                 uuid.New().String(),
		info:               info,
		issuedByRemoteUser: issuedByRemoteUser,
		state:              stateNew,
		complete:           complete,
	}

	s.mu.Lock()
	admitted := s.state == StateRunning || s.state == StateStarting
	s.mu.Unlock()
	if !admitted {
		req.complete(nil, ErrSchedulerStopped)
		return
	}

	payload, err := info.Encode()
	if err != nil {
		req.complete(nil, err)
		return
	}
	handle, err := s.cmdLog.Append(commandlog.Record{
		Namespace:        info.Namespace(),
		Target:           info.Target(),
		Kind:             info.Kind(),
		RequiresDistLock: info.RequiresDistLock(),
		Payload:          payload,
	})
	if err != nil {
		req.complete(nil, fmt.Errorf("failed to persist command: %w", err))
		return
	}
	req.handle = handle
	req.state = statePersisted

	s.mu.Lock()
	if s.state != StateRunning && s.state != StateStarting {
		// Stop raced the submission after the record was written. Treat it
		// like any other cancelled-at-shutdown command: the record stays
		// and the next Start re-issues it.
		s.mu.Unlock()
		req.state = stateCancelled
		req.complete(nil, ErrSchedulerStopping)
		return
	}
	req.state = stateEnqueued
	s.queue.push(req)
	s.mu.Unlock()

	s.publish(events.EventCommandPersisted, req, "")
	s.logger.Debug().
		Str("command_id", req.id).
		Str("kind", string(info.Kind())).
		Str("namespace", info.Namespace()).
		Bool("remote_user", issuedByRemoteUser).
		Msg("command admitted")
}

func (s *Scheduler) newRecoveredRequest(entry commandlog.Entry) *request {
	rec := entry.Record
	info := command.NewRecovered(rec.Kind, rec.Namespace, rec.Target, rec.RequiresDistLock, rec.Payload)
	req := &request{
		id:        uuid.New().String(),
		info:      info,
		handle:    entry.Handle,
		recovered: true,
	}
	logger := log.WithNamespace(rec.Namespace)
	req.complete = func(resp []byte, err error) error {
		if err == nil {
			err = command.DecodeAck(resp)
		}
		if err != nil {
			logger.Warn().Err(err).
				Str("command_id", req.id).
				Msg("recovered command failed")
		}
		return err
	}
	return req
}

// runWorker drains the queue until stop, dispatching each command on its
// own goroutine, bounded by the in-flight semaphore and gated by the
// submission gate.
func (s *Scheduler) runWorker() {
	defer close(s.workerDone)

	for {
		if !s.gate.wait(s.stopCh) {
			break
		}
		req, ok := s.queue.pop()
		if !ok {
			select {
			case <-s.queue.wakeup():
				continue
			case <-s.stopCh:
			}
			break
		}
		select {
		case s.sem <- struct{}{}:
			// stopCh may have fired while both cases were ready; never
			// dispatch after stop.
			select {
			case <-s.stopCh:
				<-s.sem
				s.cancelRequest(req)
			default:
				s.inflight.Add(1)
				go s.executeRequest(req)
			}
		case <-s.stopCh:
			s.cancelRequest(req)
		}
	}

	for _, req := range s.queue.drain() {
		s.cancelRequest(req)
	}
}

// cancelRequest resolves a queued-but-undispatched command during shutdown.
// Its persisted record is deliberately left in place: recovery owns it now.
func (s *Scheduler) cancelRequest(req *request) {
	req.state = stateCancelled
	req.complete(nil, ErrSchedulerStopping)
	metrics.CommandsTotal.WithLabelValues(string(req.info.Kind()), "cancelled").Inc()
	s.publish(events.EventCommandCancelled, req, "")
}

// executeRequest runs the full per-command path: lock, resolve, dispatch,
// decode, cleanup. The remote call is the only suspension point.
func (s *Scheduler) executeRequest(req *request) {
	defer s.inflight.Done()
	defer func() { <-s.sem }()

	timer := metrics.NewTimer()

	var lock *distlock.Lock
	if req.info.RequiresDistLock() {
		req.state = stateLockPending
		reason := fmt.Sprintf("%s on %s", req.info.Kind(), req.info.Namespace())
		acquired, err := s.locks.TryAcquire(req.info.Namespace(), reason, s.lockTimeout)
		if err != nil {
			metrics.LockAcquisitionsTotal.WithLabelValues("busy").Inc()
			s.finishRequest(req, nil, nil, err, timer)
			return
		}
		metrics.LockAcquisitionsTotal.WithLabelValues("acquired").Inc()
		lock = acquired
	}

	host, err := s.resolver.Resolve(req.info.Target())
	if err != nil {
		s.finishRequest(req, lock, nil, err, timer)
		return
	}

	body, err := req.info.Encode()
	if err != nil {
		s.finishRequest(req, lock, nil, err, timer)
		return
	}

	req.state = stateDispatched
	s.publish(events.EventCommandDispatched, req, host)
	metrics.CommandsInFlight.Inc()
	resp, err := s.remote.Send(context.Background(), host, body)
	metrics.CommandsInFlight.Dec()

	s.finishRequest(req, lock, resp, err, timer)
}

// finishRequest is the single terminal path of a command. Ordering is part
// of the contract: release the lock, then remove the persisted record, then
// fulfill the future. A caller holding the result may assume no lock is
// held on its behalf and no replay will recur.
func (s *Scheduler) finishRequest(req *request, lock *distlock.Lock, resp []byte, err error, timer *metrics.Timer) {
	if lock != nil {
		lock.Release()
	}
	s.publish(events.EventCleanupCompleted, req, "")

	if req.handle != "" {
		if removeErr := s.cmdLog.Remove(req.handle); removeErr != nil {
			logger := log.WithCommandID(req.id)
			logger.Error().Err(removeErr).
				Msg("failed to remove persisted command record")
		}
	}

	finalErr := req.complete(resp, err)
	req.state = stateCompleted

	outcome := "ok"
	if finalErr != nil {
		outcome = "error"
	}
	metrics.CommandsTotal.WithLabelValues(string(req.info.Kind()), outcome).Inc()
	timer.ObserveDuration(metrics.CommandDuration.WithLabelValues(string(req.info.Kind())))
	s.publish(events.EventCommandCompleted, req, outcome)
}

func (s *Scheduler) publish(eventType events.EventType, req *request, detail string) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{
		ID:   req.id,
		Type: eventType,
		Metadata: map[string]string{
			"kind":      string(req.info.Kind()),
			"namespace": req.info.Namespace(),
			"target":    req.info.Target().String(),
			"detail":    detail,
		},
	})
}

func (s *Scheduler) publishSimple(eventType events.EventType) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{Type: eventType})
}
