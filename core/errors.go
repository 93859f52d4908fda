package core

import (
	"fmt"

	"github.com/xcofdk/xcofdk-py-sub004/internal/errors"
)

var (
	// ErrQueueFull is returned by an exception-on-full queue refusing a push.
	ErrQueueFull = errors.Sentinel("queue full")

	// ErrQueueEmpty is returned by an exception-on-full queue refusing a pop.
	ErrQueueEmpty = errors.Sentinel("queue empty")

	// ErrQueueShutdown is returned by task operations whose queue is shutting down.
	ErrQueueShutdown = errors.Sentinel("queue is shutting down")

	// ErrInvalidState is the cause of the panic raised for a non-lifecycle state value.
	ErrInvalidState = errors.Sentinel("invalid lifecycle state")

	// ErrTaskAlreadyStarted is returned when starting a task twice.
	ErrTaskAlreadyStarted = errors.Sentinel("task already started")

	// ErrTaskNotStarted is returned when an operation requires a started task.
	ErrTaskNotStarted = errors.Sentinel("task not started")

	// ErrNoExternalQueue is returned when posting to a task without an external queue.
	ErrNoExternalQueue = errors.Sentinel("task has no external queue")

	// ErrRuntimeClosed is returned when using a closed Runtime.
	ErrRuntimeClosed = errors.Sentinel("runtime is closed")
)

// RaisedError is returned by the error-raising task API when the impact of the
// recorded error demands that it be surfaced to the caller.
type RaisedError struct {
	Record *ErrorRecord
}

func (e *RaisedError) Error() string {
	return fmt.Sprintf("%s raised by %s: %s", e.Record.Impact(), e.Record.TaskName(), e.Record.Message())
}

// Unwrap exposes the record's cause, if any.
func (e *RaisedError) Unwrap() error {
	return e.Record.Cause()
}

// IsDie reports whether the raised error requests the runtime to die.
func (e *RaisedError) IsDie() bool {
	return e.Record.Impact().IsDieCaused()
}
