package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/command"
	"github.com/cuemby/burrow/pkg/commandlog"
	"github.com/cuemby/burrow/pkg/distlock"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/executor"
	"github.com/cuemby/burrow/pkg/topology"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

const (
	testNamespace = "testdb.coll"
	testShard0    = types.ShardID("shard0")
	testShard1    = types.ShardID("shard1")
)

// fakeRemote records every dispatched command body and answers with a
// configurable response, defaulting to a plain ack.
type fakeRemote struct {
	mu      sync.Mutex
	bodies  [][]byte
	hosts   []string
	respond func(host string, body []byte) ([]byte, error)
}

func (f *fakeRemote) Send(_ context.Context, host string, body []byte) ([]byte, error) {
	f.mu.Lock()
	f.bodies = append(f.bodies, body)
	f.hosts = append(f.hosts, host)
	respond := f.respond
	f.mu.Unlock()
	if respond != nil {
		return respond(host, body)
	}
	return command.Ack(), nil
}

func (f *fakeRemote) sentBodies() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.bodies))
	copy(out, f.bodies)
	return out
}

func (f *fakeRemote) sentHosts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.hosts))
	copy(out, f.hosts)
	return out
}

type testFixture struct {
	scheduler *Scheduler
	remote    *fakeRemote
	cmdLog    *commandlog.Log
	locks     *distlock.LocalManager
	registry  *topology.Registry
	broker    *events.Broker
}

func newFixture(t *testing.T, dataDir string) *testFixture {
	t.Helper()

	cmdLog, err := commandlog.Open(dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { cmdLog.Close() })

	registry := topology.NewRegistry()
	registry.Add(testShard0, "shard0-host:27017")
	registry.Add(testShard1, "shard1-host:27017")

	remote := &fakeRemote{}
	locks := distlock.NewLocalManager()
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	sched := New(Config{
		Log:      cmdLog,
		Locks:    locks,
		Resolver: registry,
		Remote:   remote,
		Broker:   broker,
	})
	return &testFixture{
		scheduler: sched,
		remote:    remote,
		cmdLog:    cmdLog,
		locks:     locks,
		registry:  registry,
		broker:    broker,
	}
}

func testDescriptor() types.RangeDescriptor {
	return types.RangeDescriptor{
		Range:   types.KeyRange{Min: types.Key("a"), Max: types.Key("m")},
		Shard:   testShard0,
		Version: types.RangeVersion{Major: 1, Minor: 0},
	}
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestStartAndStopSequenceCanBeRepeated(t *testing.T) {
	f := newFixture(t, t.TempDir())

	assert.Equal(t, StateStopped, f.scheduler.State())
	require.NoError(t, f.scheduler.Start())
	assert.Equal(t, StateRunning, f.scheduler.State())
	f.scheduler.Stop()
	assert.Equal(t, StateStopped, f.scheduler.State())

	require.NoError(t, f.scheduler.Start())
	assert.Equal(t, StateRunning, f.scheduler.State())
	f.scheduler.Stop()
	assert.Equal(t, StateStopped, f.scheduler.State())
}

func TestSuccessfulMoveRange(t *testing.T) {
	f := newFixture(t, t.TempDir())
	require.NoError(t, f.scheduler.Start())
	defer f.scheduler.Stop()

	cleanupSeen := f.broker.Subscribe()
	defer f.broker.Unsubscribe(cleanupSeen)

	fut := f.scheduler.RequestMoveRange(testNamespace, testDescriptor(), testShard1, types.DefaultMoveSettings(), false)
	_, err := fut.Wait(waitCtx(t))
	require.NoError(t, err)

	// The deferred cleanup checkpoint must be observable as its own event.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-cleanupSeen:
			if ev.Type == events.EventCleanupCompleted {
				goto lockCheck
			}
		case <-deadline:
			t.Fatal("cleanup checkpoint never published")
		}
	}

lockCheck:
	// The namespace lock was released before the future resolved, so it can
	// be taken again immediately.
	lock, err := f.locks.TryAcquire(testNamespace, "test", distlock.SingleAttemptTimeout)
	require.NoError(t, err)
	lock.Release()

	count, err := f.cmdLog.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSuccessfulMergeRanges(t *testing.T) {
	f := newFixture(t, t.TempDir())
	require.NoError(t, f.scheduler.Start())
	defer f.scheduler.Stop()

	fut := f.scheduler.RequestMergeRanges(testNamespace, testShard0,
		types.KeyRange{Min: types.Key("a"), Max: types.Key("z")},
		types.RangeVersion{Major: 2, Minor: 0})
	_, err := fut.Wait(waitCtx(t))
	require.NoError(t, err)

	require.Len(t, f.remote.sentBodies(), 1)
	assert.Equal(t, []string{"shard0-host:27017"}, f.remote.sentHosts())
}

func TestMergeFailsWhenShardNotFound(t *testing.T) {
	f := newFixture(t, t.TempDir())
	require.NoError(t, f.scheduler.Start())
	defer f.scheduler.Stop()

	fut := f.scheduler.RequestMergeRanges(testNamespace, types.ShardID("nonexistent"),
		types.KeyRange{Min: types.Key("a"), Max: types.Key("z")},
		types.RangeVersion{Major: 1, Minor: 0})
	_, err := fut.Wait(waitCtx(t))
	require.Error(t, err)

	var notFound *topology.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, types.ShardID("nonexistent"), notFound.Shard)

	// Resolution failures still remove the persisted record.
	count, err := f.cmdLog.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestSuccessfulProbeSplitPoints(t *testing.T) {
	f := newFixture(t, t.TempDir())
	expected := []types.Key{types.Key("d"), types.Key("k")}
	f.remote.respond = func(string, []byte) ([]byte, error) {
		return command.SplitPointsResponse(expected), nil
	}
	require.NoError(t, f.scheduler.Start())
	defer f.scheduler.Stop()

	fut := f.scheduler.RequestProbeSplitPoints(testNamespace, testShard0, "key",
		types.KeyRange{Min: types.Key("a"), Max: types.Key("z")}, 4)
	points, err := fut.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, expected, points)
}

func TestSuccessfulSplitRange(t *testing.T) {
	f := newFixture(t, t.TempDir())
	require.NoError(t, f.scheduler.Start())
	defer f.scheduler.Stop()

	fut := f.scheduler.RequestSplitRange(testNamespace, testShard0,
		types.RangeVersion{Major: 1, Minor: 1}, "key",
		types.KeyRange{Min: types.Key("a"), Max: types.Key("z")},
		[]types.Key{types.Key("m")})
	_, err := fut.Wait(waitCtx(t))
	require.NoError(t, err)
}

func TestSuccessfulMeasureRangeSize(t *testing.T) {
	f := newFixture(t, t.TempDir())
	f.remote.respond = func(string, []byte) ([]byte, error) {
		return command.RangeStatsResponse(types.RangeStats{SizeBytes: 156, NumObjects: 25}), nil
	}
	require.NoError(t, f.scheduler.Start())
	defer f.scheduler.Stop()

	fut := f.scheduler.RequestMeasureRangeSize(testNamespace, testShard0,
		types.KeyRange{Min: types.Key("a"), Max: types.Key("z")},
		types.RangeVersion{Major: 1, Minor: 0}, "key", false, false)
	stats, err := fut.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, int64(156), stats.SizeBytes)
	assert.Equal(t, int64(25), stats.NumObjects)
}

func TestRemoteErrorSurfacedVerbatim(t *testing.T) {
	f := newFixture(t, t.TempDir())
	f.remote.respond = func(string, []byte) ([]byte, error) {
		return command.Failure("RangeBusy", "range is being migrated"), nil
	}
	require.NoError(t, f.scheduler.Start())
	defer f.scheduler.Stop()

	fut := f.scheduler.RequestMoveRange(testNamespace, testDescriptor(), testShard1, types.DefaultMoveSettings(), false)
	_, err := fut.Wait(waitCtx(t))
	require.Error(t, err)

	var remoteErr *command.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	assert.Equal(t, "RangeBusy", remoteErr.Code)
	assert.Equal(t, "range is being migrated", remoteErr.Message)
}

func TestTransportErrorSurfaced(t *testing.T) {
	f := newFixture(t, t.TempDir())
	f.remote.respond = func(host string, _ []byte) ([]byte, error) {
		return nil, &executor.TransportError{Host: host, Err: fmt.Errorf("connection refused")}
	}
	require.NoError(t, f.scheduler.Start())
	defer f.scheduler.Stop()

	fut := f.scheduler.RequestMoveRange(testNamespace, testDescriptor(), testShard1, types.DefaultMoveSettings(), false)
	_, err := fut.Wait(waitCtx(t))
	require.Error(t, err)

	var transportErr *executor.TransportError
	require.ErrorAs(t, err, &transportErr)

	// A network failure does not keep the namespace lock.
	lock, err := f.locks.TryAcquire(testNamespace, "test", distlock.SingleAttemptTimeout)
	require.NoError(t, err)
	lock.Release()
}

func TestRequestFailsWhenSchedulerStopped(t *testing.T) {
	f := newFixture(t, t.TempDir())

	fut := f.scheduler.RequestMoveRange(testNamespace, testDescriptor(), testShard1, types.DefaultMoveSettings(), false)
	_, err := fut.Wait(waitCtx(t))
	require.ErrorIs(t, err, ErrSchedulerStopped)

	// Nothing was persisted for a rejected command.
	count, err := f.cmdLog.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestQueuedCommandCancelledWhenSchedulerStops(t *testing.T) {
	f := newFixture(t, t.TempDir())
	require.NoError(t, f.scheduler.Start())

	// With submissions paused the command is admitted and persisted but
	// never dispatched.
	f.scheduler.PauseSubmissions()
	fut := f.scheduler.RequestMoveRange(testNamespace, testDescriptor(), testShard1, types.DefaultMoveSettings(), false)

	count, err := f.cmdLog.Count()
	require.NoError(t, err)
	require.Equal(t, 1, count)

	f.scheduler.Stop()

	_, err = fut.Wait(waitCtx(t))
	require.ErrorIs(t, err, ErrSchedulerStopping)
	assert.Empty(t, f.remote.sentBodies())

	// The record survives shutdown so the next start can recover it.
	count, err = f.cmdLog.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCommandPersistedBeforeDispatch(t *testing.T) {
	f := newFixture(t, t.TempDir())
	require.NoError(t, f.scheduler.Start())
	defer f.scheduler.Stop()

	f.scheduler.PauseSubmissions()
	fut := f.scheduler.RequestMoveRange(testNamespace, testDescriptor(), testShard1, types.DefaultMoveSettings(), false)

	count, err := f.cmdLog.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Empty(t, f.remote.sentBodies())

	f.scheduler.ResumeSubmissions()
	_, err = fut.Wait(waitCtx(t))
	require.NoError(t, err)

	count, err = f.cmdLog.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestPersistedCommandsReissuedByteIdenticalOnRecovery(t *testing.T) {
	dataDir := t.TempDir()
	f := newFixture(t, dataDir)
	require.NoError(t, f.scheduler.Start())

	f.scheduler.PauseSubmissions()
	fut := f.scheduler.RequestMoveRange(testNamespace, testDescriptor(), testShard1, types.DefaultMoveSettings(), false)
	f.scheduler.Stop()
	_, err := fut.Wait(waitCtx(t))
	require.ErrorIs(t, err, ErrSchedulerStopping)

	expected, err := command.NewMoveRange(testNamespace, testDescriptor(), testShard1, types.DefaultMoveSettings(), false).Encode()
	require.NoError(t, err)

	// A fresh scheduler over the same log re-issues the persisted bytes.
	restarted := New(Config{
		Log:      f.cmdLog,
		Locks:    f.locks,
		Resolver: f.registry,
		Remote:   f.remote,
	})
	require.NoError(t, restarted.Start())
	defer restarted.Stop()

	require.Eventually(t, func() bool {
		return len(f.remote.sentBodies()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, expected, f.remote.sentBodies()[0])

	require.Eventually(t, func() bool {
		count, err := f.cmdLog.Count()
		return err == nil && count == 0
	}, 5*time.Second, 10*time.Millisecond)
}

// corruptCommandLog seeds the log with valid records so the recovery scan
// has work to do, then plants an unparseable record that makes it fail.
func corruptCommandLog(t *testing.T, dataDir string) {
	t.Helper()
	cmdLog, err := commandlog.Open(dataDir)
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		_, err := cmdLog.Append(commandlog.Record{
			Namespace: fmt.Sprintf("db.coll%d", i),
			Target:    testShard0,
			Kind:      command.KindMergeRanges,
			Payload:   []byte(`{}`),
		})
		require.NoError(t, err)
	}
	require.NoError(t, cmdLog.Close())

	// The key sorts after every uuid handle so the scan fails last.
	db, err := bolt.Open(filepath.Join(dataDir, "balancer.db"), 0600, nil)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte("balancer_commands")).Put([]byte("zzzz"), []byte("{not json"))
	}))
	require.NoError(t, db.Close())
}

func TestSubmissionDuringFailedStartResolves(t *testing.T) {
	dataDir := t.TempDir()
	corruptCommandLog(t, dataDir)
	f := newFixture(t, dataDir)

	startErr := make(chan error, 1)
	go func() { startErr <- f.scheduler.Start() }()

	// Submit as soon as the scheduler leaves Stopped, racing the failing
	// recovery scan.
	var startResult error
	startDone := false
	for f.scheduler.State() == StateStopped {
		select {
		case startResult = <-startErr:
			startDone = true
		default:
			time.Sleep(time.Microsecond)
		}
		if startDone {
			break
		}
	}
	fut := f.scheduler.RequestMergeRanges(testNamespace, testShard0,
		types.KeyRange{Min: types.Key("a"), Max: types.Key("z")},
		types.RangeVersion{Major: 1, Minor: 0})

	if !startDone {
		startResult = <-startErr
	}
	require.Error(t, startResult)
	assert.Equal(t, StateStopped, f.scheduler.State())

	// Whether the command was admitted during Starting or rejected after
	// the failure, its future must resolve.
	_, err := fut.Wait(waitCtx(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchedulerStopping) || errors.Is(err, ErrSchedulerStopped))
	assert.Empty(t, f.remote.sentBodies())
}

func TestDistLockPreventsMoveRange(t *testing.T) {
	f := newFixture(t, t.TempDir())
	require.NoError(t, f.scheduler.Start())
	defer f.scheduler.Stop()

	held, err := f.locks.TryAcquire(testNamespace, "ddl in progress", distlock.SingleAttemptTimeout)
	require.NoError(t, err)

	fut := f.scheduler.RequestMoveRange(testNamespace, testDescriptor(), testShard1, types.DefaultMoveSettings(), false)
	_, err = fut.Wait(waitCtx(t))
	require.ErrorIs(t, err, distlock.ErrLockBusy)
	assert.Empty(t, f.remote.sentBodies())

	// The failed command leaves no persisted record behind.
	count, err := f.cmdLog.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	held.Release()

	fut = f.scheduler.RequestMoveRange(testNamespace, testDescriptor(), testShard1, types.DefaultMoveSettings(), false)
	_, err = fut.Wait(waitCtx(t))
	require.NoError(t, err)
}

func TestReadOnlyCommandsSkipDistLock(t *testing.T) {
	f := newFixture(t, t.TempDir())
	f.remote.respond = func(string, []byte) ([]byte, error) {
		return command.RangeStatsResponse(types.RangeStats{SizeBytes: 1, NumObjects: 1}), nil
	}
	require.NoError(t, f.scheduler.Start())
	defer f.scheduler.Stop()

	held, err := f.locks.TryAcquire(testNamespace, "ddl in progress", distlock.SingleAttemptTimeout)
	require.NoError(t, err)
	defer held.Release()

	fut := f.scheduler.RequestMeasureRangeSize(testNamespace, testShard0,
		types.KeyRange{Min: types.Key("a"), Max: types.Key("z")},
		types.RangeVersion{Major: 1, Minor: 0}, "key", false, false)
	_, err = fut.Wait(waitCtx(t))
	require.NoError(t, err)
}

func TestConcurrentSubmissions(t *testing.T) {
	f := newFixture(t, t.TempDir())
	require.NoError(t, f.scheduler.Start())
	defer f.scheduler.Stop()

	const n = 32
	futures := make([]*Future[Empty], n)
	for i := 0; i < n; i++ {
		ns := fmt.Sprintf("db.coll%d", i)
		futures[i] = f.scheduler.RequestMergeRanges(ns, testShard0,
			types.KeyRange{Min: types.Key("a"), Max: types.Key("z")},
			types.RangeVersion{Major: 1, Minor: 0})
	}
	for _, fut := range futures {
		_, err := fut.Wait(waitCtx(t))
		require.NoError(t, err)
	}
	assert.Len(t, f.remote.sentBodies(), n)
}

func TestFutureWaitHonorsContext(t *testing.T) {
	f := newFixture(t, t.TempDir())
	require.NoError(t, f.scheduler.Start())

	f.scheduler.PauseSubmissions()
	fut := f.scheduler.RequestMergeRanges(testNamespace, testShard0,
		types.KeyRange{Min: types.Key("a"), Max: types.Key("z")},
		types.RangeVersion{Major: 1, Minor: 0})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := fut.Wait(ctx)
	require.True(t, errors.Is(err, context.DeadlineExceeded))

	f.scheduler.Stop()
}
