package core

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/xcofdk/xcofdk-py-sub004/internal/errors"
)

// Runtime is the root object shared by all tasks: mode flags, task id allocation,
// the task registry and the error counters. There is no process-wide instance;
// every task is created against an explicitly constructed Runtime.
type Runtime struct {
	modes        *ModeFlags
	logger       Logger
	metrics      Metrics
	panicHandler PanicHandler

	historyCap  int
	queueBudget QuiesceBudget

	nextID      atomic.Uint64
	nextCarrier atomic.Uint64
	tasks       *xsync.MapOf[TaskID, *Task]

	userErrors    atomic.Int64
	fatalErrors   atomic.Int64
	warnings      atomic.Int64
	foreignPosted atomic.Int64

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewRuntime creates a Runtime. Missing handlers in cfg fall back to the defaults
// of DefaultRuntimeConfig; a nil cfg uses DefaultRuntimeConfig entirely.
func NewRuntime(cfg *RuntimeConfig) *Runtime {
	def := DefaultRuntimeConfig()
	if cfg == nil {
		cfg = def
	}

	rt := &Runtime{
		modes:        NewModeFlags(cfg.Modes),
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		panicHandler: cfg.PanicHandler,
		historyCap:   cfg.TransitionHistory,
		queueBudget:  cfg.QueueBudget,
		tasks:        xsync.NewMapOf[TaskID, *Task](),
	}
	if rt.logger == nil {
		rt.logger = def.Logger
	}
	if rt.metrics == nil {
		rt.metrics = def.Metrics
	}
	if rt.panicHandler == nil {
		rt.panicHandler = &LoggingPanicHandler{Logger: rt.logger}
	}
	if rt.historyCap < 1 {
		rt.historyCap = defaultTransitionHistoryCapacity
	}
	if rt.queueBudget == (QuiesceBudget{}) {
		rt.queueBudget = DefaultQuiesceBudget()
	}
	return rt
}

// Modes returns the runtime's mode flags. They may be changed at any time.
func (rt *Runtime) Modes() *ModeFlags { return rt.modes }

func (rt *Runtime) Logger() Logger   { return rt.logger }
func (rt *Runtime) Metrics() Metrics { return rt.metrics }

// NextTaskID allocates a task id. Ids start at 1.
func (rt *Runtime) NextTaskID() TaskID {
	return TaskID(rt.nextID.Add(1))
}

func (rt *Runtime) nextCarrierToken() uint64 {
	return rt.nextCarrier.Add(1)
}

// IsClosed reports whether Close was called.
func (rt *Runtime) IsClosed() bool { return rt.closed.Load() }

func (rt *Runtime) register(t *Task) error {
	if rt.closed.Load() {
		return ErrRuntimeClosed
	}
	rt.tasks.Store(t.ID(), t)
	return nil
}

// Task returns the registered task with the given id.
func (rt *Runtime) Task(id TaskID) (*Task, bool) {
	return rt.tasks.Load(id)
}

// Tasks returns all registered tasks ordered by id.
func (rt *Runtime) Tasks() []*Task {
	var out []*Task
	rt.tasks.Range(func(_ TaskID, t *Task) bool {
		out = append(out, t)
		return true
	})
	slices.SortFunc(out, func(a, b *Task) int {
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		default:
			return 0
		}
	})
	return out
}

// recordPosted updates the error counters for an accepted own-task record.
func (rt *Runtime) recordPosted(rec *ErrorRecord) {
	if rec.Impact().IsFatal() {
		rt.fatalErrors.Add(1)
	} else {
		rt.userErrors.Add(1)
	}
}

func (rt *Runtime) recordWarning() {
	rt.warnings.Add(1)
}

// fanOut posts a fatal record to every live foreign-error listener other than its
// source and returns how many listeners accepted it.
func (rt *Runtime) fanOut(rec *ErrorRecord) int {
	var accepted int
	for _, t := range rt.Tasks() {
		if t.ID() == rec.TaskID() || !t.identity.Has(CapForeignErrorListener) {
			continue
		}
		if t.State().isFinal() {
			continue
		}
		if t.slot.Post(rec) {
			accepted++
		}
	}
	if accepted > 0 {
		rt.foreignPosted.Add(int64(accepted))
	}
	return accepted
}

// Close marks the runtime closed, cancels every own-thread task still running, waits for
// them to finish within ctx, leaves every enclosing task and tears down every task's error
// slot, foreign error table and queue. Unfinished tasks and foreign errors
// nobody looked at are reported in the returned error.
func (rt *Runtime) Close(ctx context.Context) error {
	rt.closeOnce.Do(func() {
		rt.closed.Store(true)
		rt.modes.SetSharedCleanup(true)

		tasks := rt.Tasks()
		for _, t := range tasks {
			if t.identity.CarrierKind() == CarrierOwnThread && t.isStarted() && !t.State().isFinal() {
				_ = t.Cancel()
			}
		}

		var errs *errors.MultiError
		for _, t := range tasks {
			if t.identity.CarrierKind() == CarrierOwnThread && t.isStarted() {
				if err := t.Join(ctx); err != nil {
					errs = errs.Append(errors.Errorf("task %s did not finish: %w", t.identity, err))
				}
			}
			if pending := t.teardown(); pending > 0 {
				errs = errs.Append(errors.Errorf("task %s: %d unresolved foreign errors", t.identity, pending))
			}
			rt.tasks.Delete(t.ID())
		}

		rt.closeErr = errs.ErrorOrNil()
		if rt.closeErr != nil {
			rt.logger.Warn("runtime closed with errors", F("error", rt.closeErr))
		} else {
			rt.logger.Debug("runtime closed", F("tasks", len(tasks)))
		}
	})
	return rt.closeErr
}

// Stats returns a snapshot of the runtime.
func (rt *Runtime) Stats() RuntimeStats {
	return RuntimeStats{
		Tasks:         rt.tasks.Size(),
		UserErrors:    rt.userErrors.Load(),
		FatalErrors:   rt.fatalErrors.Load(),
		Warnings:      rt.warnings.Load(),
		ForeignPosted: rt.foreignPosted.Load(),
		Modes:         rt.modes.Settings(),
		Closed:        rt.closed.Load(),
	}
}
