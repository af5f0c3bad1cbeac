package scheduler

import (
	"github.com/cuemby/burrow/pkg/command"
	"github.com/cuemby/burrow/pkg/commandlog"
)

// requestState tracks where a command is in its lifecycle. The field is
// only written by the goroutine currently owning the request (submitter,
// then worker, then the per-command executor goroutine).
type requestState string

const (
	stateNew         requestState = "new"
	statePersisted   requestState = "persisted"
	stateEnqueued    requestState = "enqueued"
	stateLockPending requestState = "lock_pending"
	stateDispatched  requestState = "dispatched"
	stateCompleted   requestState = "completed"
	stateCancelled   requestState = "cancelled"
)

// request is one admitted command plus everything needed to finish it: the
// persistent log handle and the completion hook that decodes the response
// and fulfills the caller's future. complete returns the error the future
// was resolved with, if any.
type request struct {
	id                 string
	info               command.Info
	handle             commandlog.Handle
	recovered          bool
	issuedByRemoteUser bool
	state              requestState
	complete           func(resp []byte, err error) error
}
