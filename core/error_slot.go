package core

import (
	"sync"

	"github.com/xcofdk/xcofdk-py-sub004/internal/errors"
)

// ErrorNotifier is the per-task error notification callback.
// It reports whether it consumed the record. Panics are recovered and count as not consumed.
type ErrorNotifier func(rec *ErrorRecord) (consumed bool)

// TaskErrorSlot holds the current error record of one task.
//
// A current record blocks new own-task records until it is cleared.
// Foreign records (raised by another task) never touch the current record: they are
// handed to the notifier and, unless consumed, deposited in the foreign error table.
type TaskErrorSlot struct {
	mu       sync.Mutex
	holder   *TaskIdentity
	resolver ImpactResolver
	current  *ErrorRecord
	torn     bool

	foreign        *ForeignErrorBinTable
	notifier       ErrorNotifier
	ownerCondition func() bool

	logger  Logger
	metrics Metrics
}

// SlotOption configures a TaskErrorSlot.
type SlotOption func(*TaskErrorSlot)

// WithErrorNotifier registers the error notification callback.
func WithErrorNotifier(n ErrorNotifier) SlotOption {
	return func(s *TaskErrorSlot) { s.notifier = n }
}

// WithForeignErrorTable routes accepted foreign records into table.
func WithForeignErrorTable(table *ForeignErrorBinTable) SlotOption {
	return func(s *TaskErrorSlot) { s.foreign = table }
}

// WithOwnerCondition installs a check reporting that the holder has reached a final state.
// It is evaluated before the slot lock is taken.
func WithOwnerCondition(final func() bool) SlotOption {
	return func(s *TaskErrorSlot) { s.ownerCondition = final }
}

// WithSlotLogger sets the logger.
func WithSlotLogger(l Logger) SlotOption {
	return func(s *TaskErrorSlot) { s.logger = l }
}

// WithSlotMetrics sets the metrics collector.
func WithSlotMetrics(m Metrics) SlotOption {
	return func(s *TaskErrorSlot) { s.metrics = m }
}

// NewTaskErrorSlot creates an empty slot for holder.
func NewTaskErrorSlot(holder *TaskIdentity, modes ModeProvider, opts ...SlotOption) *TaskErrorSlot {
	s := &TaskErrorSlot{
		holder:   holder,
		resolver: ImpactResolver{Modes: modes},
		logger:   NewNoOpLogger(),
		metrics:  &NilMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Post offers rec to the slot and reports whether it was accepted.
func (s *TaskErrorSlot) Post(rec *ErrorRecord) bool {
	if !rec.valid() {
		s.logger.Warn("malformed error record rejected", F("task", s.holder.Name()))
		return false
	}
	if rec.TaskID() != s.holder.ID() {
		return s.postForeign(rec)
	}

	ownerFinal := s.ownerCondition != nil && s.ownerCondition()

	if !s.postOwn(rec, ownerFinal) {
		s.logger.Debug("error record rejected",
			F("task", s.holder.Name()),
			F("uid", rec.UID()),
			F("impact", rec.Impact()))
		return false
	}

	s.metrics.RecordErrorPosted(s.holder.Name(), rec.Impact())
	s.notify(rec)
	return true
}

// postOwn stores rec as the current record. A held record always carries an impact,
// so it blocks every new own-task record until it is cleared.
func (s *TaskErrorSlot) postOwn(rec *ErrorRecord, ownerFinal bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current
	if cur != nil && cur.UID() == rec.UID() {
		return false
	}
	if s.torn {
		rec.classify(NoImpactByOwnerCondition)
		return false
	}
	if cur != nil && cur.Impact().HasImpact() {
		rec.classify(NoImpactBySupersededRecord)
		return false
	}

	if !rec.Impact().IsAssigned() {
		rec.classify(s.resolver.Resolve(rec, s.holder, ownerFinal))
	}
	if !rec.Impact().HasImpact() {
		return false
	}

	s.current = rec
	return true
}

func (s *TaskErrorSlot) postForeign(rec *ErrorRecord) bool {
	if !s.holder.Has(CapForeignErrorListener) {
		s.logger.Debug("foreign error rejected, no listener capability",
			F("task", s.holder.Name()),
			F("source", rec.TaskName()))
		return false
	}

	if !rec.Impact().IsAssigned() {
		rec.classify(s.resolver.Resolve(rec, nil, false))
	}
	if !rec.Impact().HasImpact() {
		return false
	}

	s.mu.Lock()
	torn, table := s.torn, s.foreign
	s.mu.Unlock()
	if torn {
		return false
	}

	if s.notify(rec) {
		return true
	}
	if table == nil {
		s.logger.Warn("foreign error dropped, no notifier consumed it and no table holds it",
			F("task", s.holder.Name()),
			F("source", rec.TaskName()),
			F("uid", rec.UID()))
		return false
	}

	switch table.AddForeignError(s.holder.ID(), rec, false) {
	case AddAccepted:
		return true
	default:
		return false
	}
}

// notify invokes the notifier outside the slot lock.
func (s *TaskErrorSlot) notify(rec *ErrorRecord) (consumed bool) {
	if s.notifier == nil {
		return false
	}

	defer errors.Recover(func(cause error) {
		s.logger.Warn("error notifier panicked",
			F("task", s.holder.Name()),
			F("cause", cause))
		consumed = false
	})

	return s.notifier(rec)
}

// CurrentRecord returns the current record, nil if none.
func (s *TaskErrorSlot) CurrentRecord() *ErrorRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// HasFatal reports a current fatal-class record.
func (s *TaskErrorSlot) HasFatal() bool {
	rec := s.CurrentRecord()
	return rec != nil && rec.Impact().IsFatal()
}

// Clear releases the current record. It is refused for a die-caused record that no
// supervisor has acknowledged yet. Clearing an empty slot succeeds.
func (s *TaskErrorSlot) Clear() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current
	if cur == nil {
		return true
	}
	if cur.Impact().IsDieCaused() && !cur.IsAcknowledged() {
		s.logger.Warn("refusing to clear unacknowledged die error",
			F("task", s.holder.Name()),
			F("uid", cur.UID()))
		return false
	}

	cur.release()
	s.current = nil
	return true
}

// Teardown force-clears the slot on the final teardown path. Later posts are rejected.
func (s *TaskErrorSlot) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.current.release()
		s.current = nil
	}
	s.torn = true
}
