package xcore

import "github.com/xcofdk/xcofdk-py-sub004/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the xcore package for most use cases.

// Runtime owns mode flags, task ids, the task registry and error counters
type Runtime = core.Runtime

// RuntimeConfig configures a Runtime
type RuntimeConfig = core.RuntimeConfig

// Task is a unit of work executed by a carrier goroutine
type Task = core.Task

// TaskCallbacks are the phases a Task runs
type TaskCallbacks = core.TaskCallbacks

// TaskOptions configures a Task
type TaskOptions = core.TaskOptions

// ExecResult tells the carrier how to continue after a callback
type ExecResult = core.ExecResult

// TaskState is the lifecycle state of a task
type TaskState = core.TaskState

// Capability is a right granted to a task at construction
type Capability = core.Capability

// ErrorRecord is an error reported by a task
type ErrorRecord = core.ErrorRecord

// ErrorImpact is the classification of an ErrorRecord
type ErrorImpact = core.ErrorImpact

// RaisedError is returned by a call whose error record must surface
type RaisedError = core.RaisedError

// QueueOptions configures a BlockingQueue
type QueueOptions = core.QueueOptions

// QueuePolicy selects the full/empty behavior of a queue
type QueuePolicy = core.QueuePolicy

// BlockingQueue is a capacity-bounded deque for backpressure
type BlockingQueue[T any] = core.BlockingQueue[T]

// Execution results
const (
	ExecContinue = core.ExecContinue
	ExecStop     = core.ExecStop
	ExecCancel   = core.ExecCancel
	ExecAbort    = core.ExecAbort
)

// Queue policies
const (
	PolicyUnbounded       = core.PolicyUnbounded
	PolicyExceptionOnFull = core.PolicyExceptionOnFull
	PolicyBlockOnFull     = core.PolicyBlockOnFull
)

// Capabilities
const (
	CapUserTask             = core.CapUserTask
	CapErrorObserver        = core.CapErrorObserver
	CapForeignErrorListener = core.CapForeignErrorListener
)

// Constructors
var (
	NewRuntime           = core.NewRuntime
	DefaultRuntimeConfig = core.DefaultRuntimeConfig
	NewTask              = core.NewTask
	NewEnclosingTask     = core.NewEnclosingTask
	NewEnclosingTaskCtx  = core.NewEnclosingTaskContext
	GetCurrentTask       = core.GetCurrentTask
)

// NewBlockingQueue creates a queue. See core.NewBlockingQueue.
func NewBlockingQueue[T any](opts QueueOptions) (*BlockingQueue[T], error) {
	return core.NewBlockingQueue[T](opts)
}
