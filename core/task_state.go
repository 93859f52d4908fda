package core

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/xcofdk/xcofdk-py-sub004/internal/errors"
)

// TaskState is the lifecycle state of a task.
// The ordinal carries meaning: every predicate below is a range check on it.
type TaskState int32

const (
	StateInitialized TaskState = iota
	StatePendingRun
	StateRunning
	StateDone
	StateCanceled
	StateFailed
	StateFailedByReturnCode
	StatePendingStopRequest
	StatePendingCancelRequest
	StateProcessingCanceled
	StateProcessingStopped
	StateRunProgressAborted
	StatePreRunAborted
	StateSetupAborted
	StateProcessingAborted
	StateTeardownAborted
	StateTimerProcessingAborted
)

var taskStateNames = [...]string{
	"Initialized",
	"PendingRun",
	"Running",
	"Done",
	"Canceled",
	"Failed",
	"FailedByReturnCode",
	"PendingStopRequest",
	"PendingCancelRequest",
	"ProcessingCanceled",
	"ProcessingStopped",
	"RunProgressAborted",
	"PreRunAborted",
	"SetupAborted",
	"ProcessingAborted",
	"TeardownAborted",
	"TimerProcessingAborted",
}

// IsValid reports whether s is one of the lifecycle states.
func (s TaskState) IsValid() bool {
	return s >= StateInitialized && s <= StateTimerProcessingAborted
}

func (s TaskState) String() string {
	if !s.IsValid() {
		return fmt.Sprintf("TaskState(%d)", int32(s))
	}
	return taskStateNames[s]
}

func (s TaskState) IsStarted() bool     { return s >= StatePendingRun }
func (s TaskState) IsPendingRun() bool  { return s == StatePendingRun }
func (s TaskState) IsRunning() bool     { return s == StateRunning }
func (s TaskState) IsTerminating() bool { return s >= StatePendingStopRequest }

// IsTerminated holds for Done, Canceled and Failed only.
// FailedByReturnCode is excluded although IsFailed includes it.
func (s TaskState) IsTerminated() bool {
	return s > StateRunning && s < StateFailedByReturnCode
}

func (s TaskState) IsFailed() bool {
	return s == StateFailed || s == StateFailedByReturnCode
}

func (s TaskState) IsStopping() bool {
	return s > StateFailedByReturnCode && s < StateRunProgressAborted
}

func (s TaskState) IsCanceling() bool {
	return s > StatePendingStopRequest && s < StateProcessingStopped
}

func (s TaskState) IsAborting() bool { return s >= StateRunProgressAborted }

func (s TaskState) IsTransitional() bool { return s.IsPendingRun() || s.IsTerminating() }

// isPendingRequest reports the two request states that may only be entered once.
func (s TaskState) isPendingRequest() bool {
	return s == StatePendingStopRequest || s == StatePendingCancelRequest
}

// isFinal reports states after which the carrier never runs task code again.
func (s TaskState) isFinal() bool {
	return s.IsTerminated() || s.IsFailed() || s.IsAborting()
}

// =============================================================================
// atomicState
// =============================================================================

// atomicState is the lock-free holder of a TaskState.
type atomicState struct {
	v atomic.Int32
}

func (a *atomicState) load() TaskState   { return TaskState(a.v.Load()) }
func (a *atomicState) store(s TaskState) { a.v.Store(int32(s)) }

func (a *atomicState) compareAndSwap(old, new TaskState) bool {
	return a.v.CompareAndSwap(int32(old), int32(new))
}

// =============================================================================
// TaskStateMachine
// =============================================================================

// AliveProbe reports whether the carrier executing a task is still alive.
type AliveProbe func() bool

// TransitionObserver is told about every applied transition.
// It runs with the state lock held and must not call back into the state machine.
type TransitionObserver func(from, to TaskState)

type aliveExpectation int

const (
	expectEither aliveExpectation = iota
	expectAlive
	expectDead
)

// TaskStateMachine guards the lifecycle state of one task.
type TaskStateMachine struct {
	mu       sync.Locker
	state    atomicState
	identity *TaskIdentity
	probe    AliveProbe
	observer TransitionObserver

	mismatch atomic.Bool
}

// StateMachineOption configures a TaskStateMachine.
type StateMachineOption func(*TaskStateMachine)

// WithStateLocker makes the state machine share a caller-supplied lock with other per-task state.
func WithStateLocker(l sync.Locker) StateMachineOption {
	return func(m *TaskStateMachine) { m.mu = l }
}

// WithTransitionObserver registers a TransitionObserver.
func WithTransitionObserver(o TransitionObserver) StateMachineOption {
	return func(m *TaskStateMachine) { m.observer = o }
}

// NewTaskStateMachine creates a state machine in StateInitialized.
// A nil probe disables self-healing and the aliveness consistency check.
func NewTaskStateMachine(identity *TaskIdentity, probe AliveProbe, opts ...StateMachineOption) *TaskStateMachine {
	m := &TaskStateMachine{identity: identity, probe: probe}
	for _, opt := range opts {
		opt(m)
	}
	if m.mu == nil {
		m.mu = &sync.Mutex{}
	}
	return m
}

// Read returns the current state, self-healing an enclosing task whose carrier has died.
func (m *TaskStateMachine) Read() TaskState {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.state.load()
	alive, probed := m.probeLocked()
	if probed && !alive && m.healableLocked(s) {
		m.applyLocked(s, StateDone)
		s = StateDone
	}
	if probed {
		m.checkConsistencyLocked(s, alive)
	}
	return s
}

// Transition moves to next and returns the resulting state.
// A stop or cancel request while a request is already pending or past is a no-op
// and the current state is returned unchanged.
// Passing a value that is not a lifecycle state panics.
func (m *TaskStateMachine) Transition(next TaskState) TaskState {
	if !next.IsValid() {
		panic(errors.WithStackTraceAndPrefix(ErrInvalidState, "transition of %s to %d", m.identity, int32(next)))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.state.load()
	if next.isPendingRequest() && cur.IsTerminating() {
		return cur
	}
	if cur != next {
		m.applyLocked(cur, next)
	}

	if alive, probed := m.probeLocked(); probed {
		m.checkConsistencyLocked(next, alive)
	}
	return next
}

// CompareAndTransition moves to next only if the current state equals expected.
func (m *TaskStateMachine) CompareAndTransition(expected, next TaskState) bool {
	if !next.IsValid() {
		panic(errors.WithStackTraceAndPrefix(ErrInvalidState, "transition of %s to %d", m.identity, int32(next)))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.compareAndSwap(expected, next) {
		return false
	}
	if m.observer != nil && expected != next {
		m.observer(expected, next)
	}

	if alive, probed := m.probeLocked(); probed {
		m.checkConsistencyLocked(next, alive)
	}
	return true
}

// AlivenessMismatch reports whether a carrier aliveness mismatch was ever observed.
// The flag is sticky until ResetDiagnostics.
func (m *TaskStateMachine) AlivenessMismatch() bool { return m.mismatch.Load() }

// ResetDiagnostics clears the sticky aliveness mismatch flag.
func (m *TaskStateMachine) ResetDiagnostics() { m.mismatch.Store(false) }

func (m *TaskStateMachine) IsStarted() bool     { return m.Read().IsStarted() }
func (m *TaskStateMachine) IsPendingRun() bool  { return m.Read().IsPendingRun() }
func (m *TaskStateMachine) IsRunning() bool     { return m.Read().IsRunning() }
func (m *TaskStateMachine) IsTerminating() bool { return m.Read().IsTerminating() }
func (m *TaskStateMachine) IsTerminated() bool  { return m.Read().IsTerminated() }
func (m *TaskStateMachine) IsFailed() bool      { return m.Read().IsFailed() }
func (m *TaskStateMachine) IsStopping() bool    { return m.Read().IsStopping() }
func (m *TaskStateMachine) IsCanceling() bool   { return m.Read().IsCanceling() }
func (m *TaskStateMachine) IsAborting() bool    { return m.Read().IsAborting() }

func (m *TaskStateMachine) IsTransitional() bool { return m.Read().IsTransitional() }

func (m *TaskStateMachine) applyLocked(from, to TaskState) {
	m.state.store(to)
	if m.observer != nil {
		m.observer(from, to)
	}
}

func (m *TaskStateMachine) probeLocked() (alive, probed bool) {
	if m.probe == nil {
		return false, false
	}
	return m.probe(), true
}

// healableLocked reports whether a dead carrier forces s to Done.
func (m *TaskStateMachine) healableLocked(s TaskState) bool {
	if m.identity == nil || !m.identity.IsEnclosingWithoutExecutor() {
		return false
	}
	switch s {
	case StatePendingRun, StateRunning, StatePendingStopRequest, StatePendingCancelRequest:
		return true
	default:
		return false
	}
}

func (m *TaskStateMachine) checkConsistencyLocked(s TaskState, alive bool) {
	var mismatch bool
	switch expectedAliveness(s, m.identity) {
	case expectAlive:
		mismatch = !alive
	case expectDead:
		mismatch = alive
	}
	if mismatch {
		m.mismatch.Store(true)
	}
}

func expectedAliveness(s TaskState, identity *TaskIdentity) aliveExpectation {
	ownThread := identity == nil || identity.CarrierKind() == CarrierOwnThread

	switch s {
	case StateInitialized:
		if ownThread && !identity.HasFlag(FlagEnclosingNativeThread) {
			return expectDead
		}
		return expectEither
	case StateRunning:
		return expectAlive
	case StatePendingStopRequest, StatePendingCancelRequest:
		// a request may land while the carrier is still pending to run
		return expectEither
	case StateProcessingCanceled, StateProcessingStopped:
		if ownThread {
			return expectAlive
		}
		return expectEither
	default:
		return expectEither
	}
}
