package scheduler

import "errors"

var (
	// ErrSchedulerStopped rejects submissions made while the scheduler is
	// not running. Nothing has been persisted for the command.
	ErrSchedulerStopped = errors.New("request rejected - balancer scheduler is stopped")

	// ErrSchedulerStopping cancels commands that were admitted but not yet
	// dispatched when the scheduler shut down. Their persisted records are
	// retained so a restart re-issues them.
	ErrSchedulerStopping = errors.New("request cancelled - balancer scheduler is stopping")
)
