package core

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/xcofdk/xcofdk-py-sub004/internal/errors"
)

// AnonymousErrorCode marks a record raised without an error code.
const AnonymousErrorCode = -1

// ErrorSeverity separates recoverable user errors from fatal errors.
type ErrorSeverity int

const (
	SeverityUserError ErrorSeverity = iota
	SeverityFatal
)

func (s ErrorSeverity) String() string {
	switch s {
	case SeverityUserError:
		return "user-error"
	case SeverityFatal:
		return "fatal"
	default:
		return fmt.Sprintf("ErrorSeverity(%d)", int(s))
	}
}

// ErrorRecord describes one error occurrence.
// The description is immutable; the impact is assigned once, and the
// acknowledged/released flags are bookkeeping updated atomically.
type ErrorRecord struct {
	uid      uuid.UUID
	taskID   TaskID
	taskName string
	severity ErrorSeverity
	code     int
	message  string
	long     string
	cause    error

	byReturnCode bool
	linked       bool

	// origin is set on the copies kept by foreign error bins.
	origin *ErrorRecord

	impact       atomic.Int32
	acknowledged atomic.Bool
	released     atomic.Bool
}

// ErrorOption configures a new ErrorRecord.
type ErrorOption func(*ErrorRecord)

// WithErrorCode sets the numeric error code.
func WithErrorCode(code int) ErrorOption {
	return func(r *ErrorRecord) { r.code = code }
}

// WithLongMessage sets the detailed message.
func WithLongMessage(msg string) ErrorOption {
	return func(r *ErrorRecord) { r.long = msg }
}

// WithCause attaches the underlying error. The long message defaults to its stack trace.
func WithCause(err error) ErrorOption {
	return func(r *ErrorRecord) { r.cause = err }
}

// WithReturnCode marks a fatal record raised through a callback's return value.
func WithReturnCode() ErrorOption {
	return func(r *ErrorRecord) { r.byReturnCode = true }
}

// WithLinkage marks a record raised as a consequence of another record.
func WithLinkage() ErrorOption {
	return func(r *ErrorRecord) { r.linked = true }
}

// NewErrorRecord creates an unclassified record owned by owner.
func NewErrorRecord(owner *TaskIdentity, severity ErrorSeverity, message string, opts ...ErrorOption) *ErrorRecord {
	r := &ErrorRecord{
		uid:      uuid.New(),
		severity: severity,
		code:     AnonymousErrorCode,
		message:  message,
	}
	if owner != nil {
		r.taskID = owner.ID()
		r.taskName = owner.Name()
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.long == "" && r.cause != nil {
		r.long = errors.Stack(r.cause)
	}
	return r
}

// NewUserError creates a non-fatal record.
func NewUserError(owner *TaskIdentity, message string, opts ...ErrorOption) *ErrorRecord {
	return NewErrorRecord(owner, SeverityUserError, message, opts...)
}

// NewFatalError creates a fatal record.
func NewFatalError(owner *TaskIdentity, message string, opts ...ErrorOption) *ErrorRecord {
	return NewErrorRecord(owner, SeverityFatal, message, opts...)
}

func (r *ErrorRecord) UID() uuid.UUID          { return r.uid }
func (r *ErrorRecord) TaskID() TaskID          { return r.taskID }
func (r *ErrorRecord) TaskName() string        { return r.taskName }
func (r *ErrorRecord) Severity() ErrorSeverity { return r.severity }
func (r *ErrorRecord) IsFatal() bool           { return r.severity == SeverityFatal }
func (r *ErrorRecord) Code() int               { return r.code }
func (r *ErrorRecord) IsAnonymous() bool       { return r.code == AnonymousErrorCode }
func (r *ErrorRecord) Message() string         { return r.message }
func (r *ErrorRecord) LongMessage() string     { return r.long }
func (r *ErrorRecord) Cause() error            { return r.cause }
func (r *ErrorRecord) ByReturnCode() bool      { return r.byReturnCode }
func (r *ErrorRecord) IsLinked() bool          { return r.linked }

// Impact returns the assigned impact, ImpactUnassigned before classification.
func (r *ErrorRecord) Impact() ErrorImpact { return ErrorImpact(r.impact.Load()) }

// classify assigns the impact unless one was assigned before.
func (r *ErrorRecord) classify(impact ErrorImpact) bool {
	return r.impact.CompareAndSwap(int32(ImpactUnassigned), int32(impact))
}

// Acknowledge marks the record as handled by a supervisor.
// Acknowledging a bin copy acknowledges the original record too.
func (r *ErrorRecord) Acknowledge() {
	r.acknowledged.Store(true)
	if r.origin != nil {
		r.origin.Acknowledge()
	}
}

func (r *ErrorRecord) IsAcknowledged() bool { return r.acknowledged.Load() }

// IsReleased reports that the holder of the record let go of it.
func (r *ErrorRecord) IsReleased() bool { return r.released.Load() }

// IsResolved reports a record that no longer needs attention.
func (r *ErrorRecord) IsResolved() bool {
	return r.acknowledged.Load() || r.released.Load()
}

func (r *ErrorRecord) release() { r.released.Store(true) }

// Origin returns the record a bin copy was made from, nil for originals.
func (r *ErrorRecord) Origin() *ErrorRecord { return r.origin }

// valid reports a well-formed record.
func (r *ErrorRecord) valid() bool {
	return r != nil && !r.taskID.IsZero() && r.message != "" &&
		(r.severity == SeverityUserError || r.severity == SeverityFatal)
}

// foreignCopy returns the copy a foreign error bin keeps for r.
// The copy shares the unique id and impact but tracks its own resolution.
func (r *ErrorRecord) foreignCopy() *ErrorRecord {
	if r.origin != nil {
		return r
	}
	c := &ErrorRecord{
		uid:          r.uid,
		taskID:       r.taskID,
		taskName:     r.taskName,
		severity:     r.severity,
		code:         r.code,
		message:      r.message,
		long:         r.long,
		cause:        r.cause,
		byReturnCode: r.byReturnCode,
		linked:       r.linked,
		origin:       r,
	}
	c.impact.Store(r.impact.Load())
	c.acknowledged.Store(r.acknowledged.Load())
	return c
}

func (r *ErrorRecord) String() string {
	code := "anonymous"
	if !r.IsAnonymous() {
		code = fmt.Sprintf("%d", r.code)
	}
	return fmt.Sprintf("[%s] %s %s code=%s: %s", r.taskName, r.severity, r.Impact(), code, r.message)
}
