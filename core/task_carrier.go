package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xcofdk/xcofdk-py-sub004/internal/errors"
)

const defaultPollInterval = 5 * time.Millisecond

// ExecResult is what a Run or ProcessItem callback asks the carrier to do next.
type ExecResult int

const (
	// ExecContinue: run the next cycle
	ExecContinue ExecResult = iota

	// ExecStop: stop gracefully, as if Stop was called
	ExecStop

	// ExecCancel: cancel, as if Cancel was called
	ExecCancel

	// ExecAbort: fail the task with a return-code fatal error
	ExecAbort
)

func (r ExecResult) String() string {
	switch r {
	case ExecContinue:
		return "continue"
	case ExecStop:
		return "stop"
	case ExecCancel:
		return "cancel"
	case ExecAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// TaskCallbacks are the user hooks a Task executes on its carrier.
// Every callback is optional except that a task needs Run or ProcessItem.
type TaskCallbacks struct {
	// Setup runs once before the first cycle.
	Setup func(ctx context.Context, t *Task) error

	// Run is called once per cycle. ctx is done once a stop or cancel was requested.
	Run func(ctx context.Context, t *Task) (ExecResult, error)

	// ProcessItem is called for every item popped from the task's external queue.
	ProcessItem func(ctx context.Context, t *Task, item any) (ExecResult, error)

	// Teardown runs once after the last cycle, also after a failed cycle.
	Teardown func(ctx context.Context, t *Task) error
}

// TaskOptions configures a Task.
type TaskOptions struct {
	Name         string
	Capabilities Capability

	// Queue, when set, gives the task an external queue fed by PostItem.
	Queue *QueueOptions

	// Notifier receives every error record accepted by the task's error slot.
	Notifier ErrorNotifier

	// PollInterval is the pause between polls of a queue that cannot block. Default 5ms.
	PollInterval time.Duration

	// CycleInterval is the pause between Run cycles. Default 0.
	CycleInterval time.Duration
}

// Task is a unit of work executed by a carrier goroutine, with its own lifecycle
// state, error slot and, depending on its capabilities, a foreign error table
// and an external queue.
type Task struct {
	rt        *Runtime
	identity  *TaskIdentity
	callbacks TaskCallbacks
	opts      TaskOptions

	// task-state lock, shared with the state machine
	mu      sync.Mutex
	sm      *TaskStateMachine
	slot    *TaskErrorSlot
	foreign *ForeignErrorBinTable
	queue   *BlockingQueue[any]
	history *transitionHistory
	logger  Logger

	// Lifecycle control
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	started  atomic.Bool
	alive    atomic.Bool
	tornDown atomic.Bool

	// scope of the goroutine an enclosing task wraps; done means the goroutine is gone
	scope context.Context

	processed atomic.Int64
}

// NewTask creates an own-thread task registered with rt. It does not start it.
func NewTask(rt *Runtime, callbacks TaskCallbacks, opts TaskOptions) (*Task, error) {
	if callbacks.Run == nil && callbacks.ProcessItem == nil {
		return nil, errors.Errorf("task %q: Run or ProcessItem callback required", opts.Name)
	}
	if callbacks.ProcessItem != nil && opts.Queue == nil {
		return nil, errors.Errorf("task %q: ProcessItem requires an external queue", opts.Name)
	}

	var flags TaskFlag
	if opts.Queue != nil {
		flags |= FlagSupportsExternalQueue
	}
	return newTask(rt, callbacks, opts, CarrierOwnThread, flags)
}

// NewEnclosingTask wraps the calling goroutine in a task that is running from the
// start. The caller marks it finished with Leave.
func NewEnclosingTask(rt *Runtime, name string, caps Capability) (*Task, error) {
	return NewEnclosingTaskContext(context.Background(), rt, name, caps)
}

// NewEnclosingTaskContext is NewEnclosingTask for a goroutine whose lifetime is bound
// to scope. Once scope is done the carrier counts as gone: a task that was not left
// reads as Done from then on.
func NewEnclosingTaskContext(scope context.Context, rt *Runtime, name string, caps Capability) (*Task, error) {
	t, err := newTask(rt, TaskCallbacks{}, TaskOptions{Name: name, Capabilities: caps},
		CarrierExternal, FlagEnclosingNativeThread|FlagAutoEnclosed)
	if err != nil {
		return nil, err
	}

	t.scope = scope
	t.alive.Store(true)
	t.identity.setCarrierToken(rt.nextCarrierToken())
	t.started.Store(true)
	t.sm.Transition(StatePendingRun)
	t.sm.Transition(StateRunning)
	close(t.done)
	return t, nil
}

func newTask(rt *Runtime, callbacks TaskCallbacks, opts TaskOptions, kind CarrierKind, flags TaskFlag) (*Task, error) {
	if rt.IsClosed() {
		return nil, ErrRuntimeClosed
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}

	identity := NewTaskIdentity(rt.NextTaskID(), opts.Name, kind, opts.Capabilities, flags)
	ctx, cancel := context.WithCancel(context.Background())

	t := &Task{
		rt:        rt,
		identity:  identity,
		callbacks: callbacks,
		opts:      opts,
		history:   newTransitionHistory(rt.historyCap),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	if l, ok := rt.logger.(*LogrusLogger); ok {
		t.logger = l.With(F("task_id", identity.ID()))
	} else {
		t.logger = rt.logger
	}

	t.sm = NewTaskStateMachine(identity, t.carrierAlive,
		WithStateLocker(&t.mu),
		WithTransitionObserver(t.observeTransition))

	if identity.Has(CapForeignErrorListener) {
		t.foreign = NewForeignErrorBinTable(identity,
			WithTableLogger(t.logger),
			WithTableMetrics(rt.metrics))
	}

	slotOpts := []SlotOption{
		WithOwnerCondition(func() bool { return t.sm.Read().isFinal() }),
		WithSlotLogger(t.logger),
		WithSlotMetrics(rt.metrics),
	}
	if opts.Notifier != nil {
		slotOpts = append(slotOpts, WithErrorNotifier(opts.Notifier))
	}
	if t.foreign != nil {
		slotOpts = append(slotOpts, WithForeignErrorTable(t.foreign))
	}
	t.slot = NewTaskErrorSlot(identity, rt.modes, slotOpts...)

	if opts.Queue != nil {
		qo := *opts.Queue
		if qo.Name == "" {
			qo.Name = identity.Name()
		}
		if qo.Budget == (QuiesceBudget{}) {
			qo.Budget = rt.queueBudget
		}
		if qo.Metrics == nil {
			qo.Metrics = rt.metrics
		}
		if qo.Logger == nil {
			qo.Logger = t.logger
		}
		q, err := NewBlockingQueue[any](qo)
		if err != nil {
			cancel()
			return nil, err
		}
		t.queue = q
	}

	if err := rt.register(t); err != nil {
		cancel()
		return nil, err
	}
	return t, nil
}

// observeTransition runs under the task-state lock.
func (t *Task) observeTransition(from, to TaskState) {
	t.history.Add(TransitionRecord{
		TaskID: t.identity.ID(),
		Name:   t.identity.Name(),
		From:   from,
		To:     to,
		At:     time.Now(),
	})
	t.rt.metrics.RecordStateTransition(t.identity.Name(), from, to)
}

func (t *Task) Identity() *TaskIdentity { return t.identity }
func (t *Task) ID() TaskID              { return t.identity.ID() }
func (t *Task) Name() string            { return t.identity.Name() }
func (t *Task) Runtime() *Runtime       { return t.rt }

// Queue returns the external queue, nil if the task has none.
func (t *Task) Queue() *BlockingQueue[any] { return t.queue }

// ForeignErrors returns the foreign error table, nil unless the task is a foreign-error listener.
func (t *Task) ForeignErrors() *ForeignErrorBinTable { return t.foreign }

// State returns the current lifecycle state.
func (t *Task) State() TaskState { return t.sm.Read() }

// IsAlive reports whether the task's carrier is executing.
func (t *Task) IsAlive() bool { return t.carrierAlive() }

func (t *Task) carrierAlive() bool {
	if !t.alive.Load() {
		return false
	}
	return t.scope == nil || t.scope.Err() == nil
}

// AlivenessMismatch reports a state that disagreed with the carrier's aliveness.
func (t *Task) AlivenessMismatch() bool { return t.sm.AlivenessMismatch() }

func (t *Task) isStarted() bool { return t.started.Load() }

// =============================================================================
// Lifecycle control
// =============================================================================

// Start spawns the carrier goroutine.
func (t *Task) Start() error {
	if t.identity.CarrierKind() != CarrierOwnThread {
		return errors.WithStackTraceAndPrefix(ErrTaskAlreadyStarted, "enclosing task %s", t.identity)
	}
	if t.rt.IsClosed() {
		return ErrRuntimeClosed
	}
	if !t.sm.CompareAndTransition(StateInitialized, StatePendingRun) {
		return errors.WithStackTrace(ErrTaskAlreadyStarted)
	}
	// requests are refused until started is set, so none can land before PendingRun
	t.started.Store(true)

	go t.runLoop()
	return nil
}

// Stop requests a graceful stop. It does not wait; use Join.
func (t *Task) Stop() error {
	return t.request(StatePendingStopRequest)
}

// Cancel requests cancellation. It does not wait; use Join.
func (t *Task) Cancel() error {
	return t.request(StatePendingCancelRequest)
}

func (t *Task) request(pending TaskState) error {
	if !t.started.Load() {
		return errors.WithStackTrace(ErrTaskNotStarted)
	}

	for {
		cur := t.sm.Read()
		if cur.isFinal() || cur.IsTerminating() {
			return nil
		}
		if t.sm.CompareAndTransition(cur, pending) {
			break
		}
	}
	t.logger.Debug("task request accepted", F("task", t.identity.Name()), F("state", pending))
	t.cancel()
	return nil
}

// Join waits for the carrier to finish.
func (t *Task) Join(ctx context.Context) error {
	if !t.started.Load() {
		return errors.WithStackTrace(ErrTaskNotStarted)
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed when the carrier has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Leave marks an enclosing task as finished by its goroutine.
func (t *Task) Leave() {
	if t.identity.CarrierKind() != CarrierExternal {
		return
	}

	s := t.sm.Read()
	if !s.isFinal() {
		switch {
		case s.IsCanceling():
			t.sm.Transition(StateCanceled)
		case t.slot.HasFatal():
			t.sm.Transition(StateFailed)
		default:
			t.sm.Transition(StateDone)
		}
	}
	t.identity.setCarrierToken(0)
	t.alive.Store(false)
	t.cancel()
}

// PostItem pushes item to the external queue, blocking while a block-on-full queue is full.
func (t *Task) PostItem(item any) error {
	return t.PostItemContext(context.Background(), item)
}

// PostItemContext is PostItem giving up when ctx is done.
func (t *Task) PostItemContext(ctx context.Context, item any) error {
	if t.queue == nil {
		return errors.WithStackTraceAndPrefix(ErrNoExternalQueue, "task %s", t.identity)
	}
	ok, err := t.queue.PushContext(ctx, item)
	switch {
	case err != nil:
		return err
	case ok:
		return nil
	case t.queue.IsShuttingDown():
		return ErrQueueShutdown
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// =============================================================================
// Error API
// =============================================================================

// LogError records a user error for this task.
// It returns a *RaisedError when the resolved impact demands surfacing and the
// runtime is not in release mode.
func (t *Task) LogError(msg string, opts ...ErrorOption) error {
	return t.post(NewUserError(t.identity, msg, opts...))
}

// LogFatal records a fatal error for this task. An accepted fatal record is also
// forwarded to every foreign-error listener.
func (t *Task) LogFatal(msg string, opts ...ErrorOption) error {
	return t.post(NewFatalError(t.identity, msg, opts...))
}

// LogWarning logs a warning and counts it. Warnings never reach the error slot.
func (t *Task) LogWarning(msg string, fields ...Field) {
	t.rt.recordWarning()
	t.logger.Warn(msg, append(fields, F("task", t.identity.Name()))...)
}

func (t *Task) post(rec *ErrorRecord) error {
	if !t.slot.Post(rec) {
		return nil
	}
	t.rt.recordPosted(rec)

	impact := rec.Impact()
	if impact.IsFatal() {
		t.logger.Error(rec.Message(),
			F("task", t.identity.Name()),
			F("impact", impact),
			F("uid", rec.UID()))
		t.rt.fanOut(rec)
	} else {
		t.logger.Info(rec.Message(),
			F("task", t.identity.Name()),
			F("impact", impact),
			F("uid", rec.UID()))
	}

	if impact.Raises() && !t.rt.modes.ReleaseMode() {
		return &RaisedError{Record: rec}
	}
	return nil
}

// CurrentError returns the current error record, nil if none.
func (t *Task) CurrentError() *ErrorRecord { return t.slot.CurrentRecord() }

// ClearError clears the current error record. See TaskErrorSlot.Clear.
func (t *Task) ClearError() bool { return t.slot.Clear() }

// HarvestForeignErrors returns the pending fatal errors other tasks raised, oldest
// source first. Tasks without the foreign-error listener capability get nil.
func (t *Task) HarvestForeignErrors() []*ErrorRecord {
	if t.foreign == nil {
		return nil
	}
	return t.foreign.HarvestPendingFatal()
}

// RecentTransitions returns up to limit recent state transitions, newest first.
func (t *Task) RecentTransitions(limit int) []TransitionRecord {
	return t.history.Recent(limit)
}

// Stats returns a snapshot of the task.
func (t *Task) Stats() TaskStats {
	s := TaskStats{
		ID:             t.identity.ID(),
		Name:           t.identity.Name(),
		Kind:           t.identity.CarrierKind(),
		State:          t.State(),
		Alive:          t.carrierAlive(),
		CurrentError:   t.slot.CurrentRecord(),
		ItemsProcessed: t.processed.Load(),
	}
	if t.foreign != nil {
		s.ForeignBins = t.foreign.Len()
	}
	if t.queue != nil {
		qs := t.queue.Stats()
		s.Queue = &qs
	}
	if last, ok := t.history.Last(); ok {
		s.LastTransition = last.At
	}
	return s
}

// =============================================================================
// Carrier loop
// =============================================================================

// runLoop occupies the task's dedicated goroutine.
func (t *Task) runLoop() {
	defer close(t.done)

	t.identity.setCarrierToken(t.rt.nextCarrierToken())
	t.alive.Store(true)
	defer func() {
		t.identity.setCarrierToken(0)
		t.alive.Store(false)
	}()

	// Callbacks get a context that stays valid through Teardown; cycles get one that
	// is done once a stop or cancel was requested.
	cbCtx := context.WithValue(context.Background(), currentTaskKey, t)
	cycleCtx := context.WithValue(t.ctx, currentTaskKey, t)

	final := t.runPhases(cbCtx, cycleCtx)

	if t.callbacks.Teardown != nil {
		panicked, err := t.invoke(cbCtx, "teardown", func() error { return t.callbacks.Teardown(cbCtx, t) })
		switch {
		case panicked:
			final = StateTeardownAborted
		case err != nil && !final.IsFailed() && !final.IsAborting():
			t.failWith(err, "teardown failed")
			final = StateFailed
		}
	}

	if t.queue != nil {
		t.queue.Teardown()
	}
	t.sm.Transition(final)
	t.cancel()

	t.logger.Debug("task finished", F("task", t.identity.Name()), F("state", final))
}

// runPhases runs Setup and the cycles and returns the state to finish in.
func (t *Task) runPhases(cbCtx, cycleCtx context.Context) TaskState {
	if t.callbacks.Setup != nil {
		panicked, err := t.invoke(cbCtx, "setup", func() error { return t.callbacks.Setup(cbCtx, t) })
		switch {
		case panicked:
			return StateSetupAborted
		case err != nil:
			t.failWith(err, "setup failed")
			return StateFailed
		}
	}

	if !t.sm.CompareAndTransition(StatePendingRun, StateRunning) {
		if s := t.State(); !s.IsTerminating() {
			return StatePreRunAborted
		}
	}

	for {
		switch s := t.State(); s {
		case StatePendingStopRequest:
			t.sm.Transition(StateProcessingStopped)
			return StateDone
		case StatePendingCancelRequest:
			t.sm.Transition(StateProcessingCanceled)
			return StateCanceled
		}

		res, aborted := t.cycle(cycleCtx)
		if aborted != StateInitialized {
			return aborted
		}
		if t.slot.HasFatal() {
			return StateFailed
		}

		switch res {
		case ExecStop:
			t.sm.Transition(StatePendingStopRequest)
		case ExecCancel:
			t.sm.Transition(StatePendingCancelRequest)
		case ExecAbort:
			t.raiseFailure("callback requested abort", WithReturnCode())
			return StateFailedByReturnCode
		}

		if t.opts.CycleInterval > 0 && t.callbacks.Run != nil {
			select {
			case <-cycleCtx.Done():
			case <-time.After(t.opts.CycleInterval):
			}
		}
	}
}

// cycle runs one item and/or one Run call. A terminal state other than
// StateInitialized ends the loop.
func (t *Task) cycle(ctx context.Context) (ExecResult, TaskState) {
	if t.queue != nil && t.callbacks.ProcessItem != nil {
		item, ok := t.nextItem(ctx)
		if ok {
			res, end := t.call(ctx, "process-item", StateProcessingAborted, func() (ExecResult, error) {
				return t.callbacks.ProcessItem(ctx, t, item)
			})
			t.processed.Add(1)
			if end != StateInitialized || res != ExecContinue {
				return res, end
			}
		}
	}

	if t.callbacks.Run == nil {
		return ExecContinue, StateInitialized
	}
	return t.call(ctx, "run", StateRunProgressAborted, func() (ExecResult, error) {
		return t.callbacks.Run(ctx, t)
	})
}

func (t *Task) call(ctx context.Context, phase string, onPanic TaskState, fn func() (ExecResult, error)) (ExecResult, TaskState) {
	var res ExecResult
	panicked, err := t.invoke(ctx, phase, func() error {
		var err error
		res, err = fn()
		return err
	})
	switch {
	case panicked:
		return res, onPanic
	case err != nil:
		t.failWith(err, phase+" failed")
		return res, StateFailed
	}
	return res, StateInitialized
}

// nextItem pops the next queued item. A task without Run waits for one; a task
// with Run only takes what is already there.
func (t *Task) nextItem(ctx context.Context) (any, bool) {
	if t.callbacks.Run != nil {
		item, ok, _ := t.queue.PopNowait()
		return item, ok
	}
	if t.queue.Policy() == PolicyBlockOnFull {
		item, ok, _ := t.queue.PopContext(ctx)
		return item, ok
	}

	item, ok, _ := t.queue.PopNowait()
	if ok {
		return item, true
	}
	select {
	case <-ctx.Done():
	case <-time.After(t.opts.PollInterval):
	}
	return nil, false
}

// invoke runs fn, converting a panic into a fatal error record.
func (t *Task) invoke(ctx context.Context, phase string, fn func() error) (panicked bool, err error) {
	defer errors.Recover(func(cause error) {
		panicked = true
		err = cause
		t.raiseFailure("panic in "+phase, WithCause(cause))
		t.rt.panicHandler.HandlePanic(ctx, t.identity, phase, cause)
	})
	return false, fn()
}

func (t *Task) failWith(err error, msg string) {
	t.raiseFailure(msg, WithCause(errors.WithStackTrace(err)))
}

// raiseFailure records a fatal error detected by the carrier. A held user error is
// cleared first so the failure is not rejected behind it.
func (t *Task) raiseFailure(msg string, opts ...ErrorOption) {
	if cur := t.slot.CurrentRecord(); cur != nil && !cur.Impact().IsFatal() {
		t.slot.Clear()
	}
	_ = t.LogFatal(msg, opts...)
}

// teardown releases the task's error state on runtime close and returns the number
// of foreign errors left unresolved.
func (t *Task) teardown() int {
	if !t.tornDown.CompareAndSwap(false, true) {
		return 0
	}
	if t.identity.CarrierKind() == CarrierExternal {
		t.Leave()
	}

	var pending int
	if t.foreign != nil {
		pending = t.foreign.Teardown()
	}
	t.slot.Teardown()
	if t.queue != nil && !t.started.Load() {
		t.queue.Teardown()
	}
	t.cancel()
	return pending
}
