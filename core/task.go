package core

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
)

// TaskID uniquely identifies a task within one Runtime.
type TaskID uint64

// IsZero reports whether the id was never assigned.
func (id TaskID) IsZero() bool { return id == 0 }

func (id TaskID) String() string { return fmt.Sprintf("task-%d", uint64(id)) }

// =============================================================================
// CarrierKind, Capability, TaskFlag: fixed at construction
// =============================================================================

// CarrierKind describes what executes a task.
type CarrierKind int

const (
	// CarrierOwnThread: the task owns a dedicated goroutine started by Task.Start
	CarrierOwnThread CarrierKind = iota

	// CarrierExternal: the task is driven by a goroutine it does not own
	CarrierExternal
)

func (k CarrierKind) String() string {
	switch k {
	case CarrierOwnThread:
		return "own-thread"
	case CarrierExternal:
		return "external"
	default:
		return fmt.Sprintf("CarrierKind(%d)", int(k))
	}
}

// Capability is a right granted to a task at construction.
type Capability uint16

const (
	CapFwTask Capability = 1 << iota
	CapUserTask
	CapErrorObserver
	CapDieExceptionTarget
	CapDieExceptionDelegate
	CapForeignErrorListener
)

var capabilityNames = []struct {
	c    Capability
	name string
}{
	{CapFwTask, "fw-task"},
	{CapUserTask, "user-task"},
	{CapErrorObserver, "error-observer"},
	{CapDieExceptionTarget, "die-exception-target"},
	{CapDieExceptionDelegate, "die-exception-delegate"},
	{CapForeignErrorListener, "foreign-error-listener"},
}

func (c Capability) String() string {
	var names []string
	for _, cn := range capabilityNames {
		if c&cn.c != 0 {
			names = append(names, cn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// TaskFlag carries informational properties of a task.
type TaskFlag uint8

const (
	FlagEnclosingNativeThread TaskFlag = 1 << iota
	FlagAutoEnclosed
	FlagSupportsExternalQueue
	FlagSupportsInternalQueue
)

// =============================================================================
// TaskIdentity
// =============================================================================

// TaskIdentity is the immutable description of a task.
// Only the carrier token changes after construction.
type TaskIdentity struct {
	id    TaskID
	name  string
	kind  CarrierKind
	caps  Capability
	flags TaskFlag

	carrierToken atomic.Uint64
}

// NewTaskIdentity creates an identity. An empty name is replaced by the id's string form.
func NewTaskIdentity(id TaskID, name string, kind CarrierKind, caps Capability, flags TaskFlag) *TaskIdentity {
	if name == "" {
		name = id.String()
	}
	return &TaskIdentity{id: id, name: name, kind: kind, caps: caps, flags: flags}
}

func (t *TaskIdentity) ID() TaskID               { return t.id }
func (t *TaskIdentity) Name() string             { return t.name }
func (t *TaskIdentity) CarrierKind() CarrierKind { return t.kind }
func (t *TaskIdentity) Capabilities() Capability { return t.caps }

// Has is the single gate for capability checks.
func (t *TaskIdentity) Has(c Capability) bool {
	return t != nil && c != 0 && t.caps&c == c
}

// HasFlag reports an informational flag.
func (t *TaskIdentity) HasFlag(f TaskFlag) bool {
	return t != nil && t.flags&f == f
}

// IsEnclosingWithoutExecutor reports a task wrapping a goroutine it did not start
// and which no external executor drives.
func (t *TaskIdentity) IsEnclosingWithoutExecutor() bool {
	return t.HasFlag(FlagEnclosingNativeThread) && !t.HasFlag(FlagSupportsExternalQueue)
}

// CarrierToken returns the token of the carrier currently executing the task (0 = none).
func (t *TaskIdentity) CarrierToken() uint64 { return t.carrierToken.Load() }

func (t *TaskIdentity) setCarrierToken(token uint64) { t.carrierToken.Store(token) }

func (t *TaskIdentity) String() string {
	return fmt.Sprintf("%s(%d)", t.name, uint64(t.id))
}

// =============================================================================
// Context Helper
// =============================================================================
type currentTaskKeyType struct{}

var currentTaskKey currentTaskKeyType

// GetCurrentTask retrieves the Task whose callback is running with ctx.
func GetCurrentTask(ctx context.Context) *Task {
	if v := ctx.Value(currentTaskKey); v != nil {
		return v.(*Task)
	}
	return nil
}
