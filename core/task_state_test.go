package core

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allTaskStates = []TaskState{
	StateInitialized,
	StatePendingRun,
	StateRunning,
	StateDone,
	StateCanceled,
	StateFailed,
	StateFailedByReturnCode,
	StatePendingStopRequest,
	StatePendingCancelRequest,
	StateProcessingCanceled,
	StateProcessingStopped,
	StateRunProgressAborted,
	StatePreRunAborted,
	StateSetupAborted,
	StateProcessingAborted,
	StateTeardownAborted,
	StateTimerProcessingAborted,
}

// TestTaskState_IsTerminatedExcludesFailedByReturnCode pins the IsTerminated boundary
// Given: Every lifecycle state
// When: IsTerminated and IsFailed are evaluated
// Then: IsTerminated holds for exactly Done, Canceled and Failed; FailedByReturnCode is failed but not terminated
//
// FailedByReturnCode sits outside IsTerminated although it is final. Callers that need
// "never runs again" must use isFinal, not IsTerminated.
func TestTaskState_IsTerminatedExcludesFailedByReturnCode(t *testing.T) {
	terminated := map[TaskState]bool{StateDone: true, StateCanceled: true, StateFailed: true}

	for _, s := range allTaskStates {
		assert.Equal(t, terminated[s], s.IsTerminated(), "IsTerminated(%s)", s)
	}

	assert.True(t, StateFailedByReturnCode.IsFailed())
	assert.False(t, StateFailedByReturnCode.IsTerminated())
	assert.True(t, StateFailedByReturnCode.isFinal())
}

// TestTaskState_Predicates verifies the range predicates
// Given: Representative lifecycle states
// When: The predicates are evaluated
// Then: Each predicate covers its ordinal range
func TestTaskState_Predicates(t *testing.T) {
	assert.False(t, StateInitialized.IsStarted())
	assert.True(t, StatePendingRun.IsStarted())
	assert.True(t, StatePendingRun.IsTransitional())
	assert.True(t, StatePendingStopRequest.IsTransitional())
	assert.False(t, StateRunning.IsTransitional())

	assert.True(t, StatePendingStopRequest.IsTerminating())
	assert.True(t, StateTimerProcessingAborted.IsTerminating())
	assert.False(t, StateFailedByReturnCode.IsTerminating())

	assert.True(t, StatePendingStopRequest.IsStopping())
	assert.True(t, StateProcessingStopped.IsStopping())
	assert.False(t, StateRunProgressAborted.IsStopping())

	assert.True(t, StatePendingCancelRequest.IsCanceling())
	assert.True(t, StateProcessingCanceled.IsCanceling())
	assert.False(t, StatePendingStopRequest.IsCanceling())
	assert.False(t, StateProcessingStopped.IsCanceling())

	for _, s := range []TaskState{StateRunProgressAborted, StatePreRunAborted, StateSetupAborted,
		StateProcessingAborted, StateTeardownAborted, StateTimerProcessingAborted} {
		assert.True(t, s.IsAborting(), "IsAborting(%s)", s)
	}
	assert.False(t, StateProcessingStopped.IsAborting())

	assert.False(t, TaskState(99).IsValid())
	assert.Equal(t, "TaskState(99)", TaskState(99).String())
}

// TestTaskStateMachine_TransitionIdempotence verifies Read after Transition
// Given: A state machine and every lifecycle state as a target
// When: Transition is applied from every start state
// Then: Read returns the target, except a pending request on a terminating state returns the prior state
func TestTaskStateMachine_TransitionIdempotence(t *testing.T) {
	for _, from := range allTaskStates {
		for _, to := range allTaskStates {
			// Arrange
			m := NewTaskStateMachine(nil, nil)
			m.Transition(from)

			// Act
			got := m.Transition(to)

			// Assert
			want := to
			if to.isPendingRequest() && from.IsTerminating() {
				want = from
			}
			assert.Equal(t, want, got, "Transition(%s -> %s)", from, to)
			assert.Equal(t, want, m.Read(), "Read after %s -> %s", from, to)
		}
	}
}

// TestTaskStateMachine_InvalidTransitionPanics verifies invalid values are refused
// Given: A state machine
// When: Transition is called with a value outside the lifecycle
// Then: It panics with ErrInvalidState and the state is unchanged
func TestTaskStateMachine_InvalidTransitionPanics(t *testing.T) {
	// Arrange
	m := NewTaskStateMachine(nil, nil)

	// Act
	var recovered any
	func() {
		defer func() { recovered = recover() }()
		m.Transition(TaskState(-1))
	}()

	// Assert
	require.NotNil(t, recovered)
	err, ok := recovered.(error)
	require.True(t, ok)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateInitialized, m.Read())
}

// TestTaskStateMachine_SelfHeal verifies the dead-carrier self-heal
// Given: Enclosing and own-thread identities in Running with a dead carrier
// When: Read is called
// Then: The enclosing task heals to Done and the own-thread task keeps Running with a mismatch flagged
func TestTaskStateMachine_SelfHeal(t *testing.T) {
	dead := func() bool { return false }

	// Arrange - enclosing task without executor
	enclosing := NewTaskIdentity(1, "enclosing", CarrierExternal, 0, FlagEnclosingNativeThread)
	var transitions []TaskState
	m := NewTaskStateMachine(enclosing, dead, WithTransitionObserver(func(_, to TaskState) {
		transitions = append(transitions, to)
	}))
	m.CompareAndTransition(StateInitialized, StateRunning)

	// Act and Assert
	assert.Equal(t, StateDone, m.Read())
	assert.Equal(t, []TaskState{StateRunning, StateDone}, transitions)

	// Arrange - own-thread task
	own := NewTaskIdentity(2, "own", CarrierOwnThread, 0, 0)
	m2 := NewTaskStateMachine(own, dead)
	m2.CompareAndTransition(StateInitialized, StateRunning)

	// Act and Assert
	assert.Equal(t, StateRunning, m2.Read())
	assert.True(t, m2.AlivenessMismatch())
	m2.ResetDiagnostics()
	assert.False(t, m2.AlivenessMismatch())
}

// TestTaskStateMachine_CompareAndTransitionChecksAliveness verifies the consistency check on the swap path
// Given: An own-thread identity whose carrier is dead
// When: The state is swapped to Running and, on a second machine, a stop request is swapped in from PendingRun
// Then: The Running swap flags a mismatch without any Read; the early request does not
func TestTaskStateMachine_CompareAndTransitionChecksAliveness(t *testing.T) {
	// Arrange
	own := NewTaskIdentity(2, "own", CarrierOwnThread, 0, 0)
	dead := func() bool { return false }
	running := NewTaskStateMachine(own, dead)
	early := NewTaskStateMachine(own, dead)
	require.True(t, early.CompareAndTransition(StateInitialized, StatePendingRun))

	// Act
	okRunning := running.CompareAndTransition(StateInitialized, StateRunning)
	okEarly := early.CompareAndTransition(StatePendingRun, StatePendingStopRequest)

	// Assert
	assert.True(t, okRunning)
	assert.True(t, okEarly)
	assert.True(t, running.AlivenessMismatch())
	assert.False(t, early.AlivenessMismatch())
}

// TestTaskStateMachine_NoHealWhenAlive verifies that a live carrier is left alone
// Given: An enclosing identity in PendingStopRequest with a live carrier
// When: Read is called
// Then: The state is unchanged and no mismatch is reported
func TestTaskStateMachine_NoHealWhenAlive(t *testing.T) {
	// Arrange
	enclosing := NewTaskIdentity(1, "enclosing", CarrierExternal, 0, FlagEnclosingNativeThread)
	m := NewTaskStateMachine(enclosing, func() bool { return true })
	m.Transition(StatePendingStopRequest)

	// Act and Assert
	assert.Equal(t, StatePendingStopRequest, m.Read())
	assert.False(t, m.AlivenessMismatch())
}

// TestTaskStateMachine_ConcurrentRequests verifies that only one pending request wins
// Given: A running state machine and many goroutines requesting stop or cancel
// When: They race
// Then: Exactly one request is applied and the state is one of the two requests
func TestTaskStateMachine_ConcurrentRequests(t *testing.T) {
	// Arrange
	var applied atomic.Int32
	m := NewTaskStateMachine(nil, nil, WithTransitionObserver(func(_, to TaskState) {
		if to.isPendingRequest() {
			applied.Add(1)
		}
	}))
	m.Transition(StateRunning)

	// Act
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				m.Transition(StatePendingStopRequest)
			} else {
				m.Transition(StatePendingCancelRequest)
			}
		}(i)
	}
	wg.Wait()

	// Assert
	assert.Equal(t, int32(1), applied.Load())
	assert.True(t, m.Read().isPendingRequest())
}
