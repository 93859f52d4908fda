package core

import (
	"fmt"
	"sync/atomic"
)

// ErrorImpact is the disposition assigned to an ErrorRecord, exactly once.
// Values below ImpactByUserError are no-impact reasons.
type ErrorImpact int32

const (
	ImpactUnassigned ErrorImpact = iota

	NoImpactBySupersededRecord
	NoImpactBySharedCleanup
	NoImpactByOwnerCondition
	NoImpactByLinkage

	ImpactByUserError
	ImpactByFatalError
	ImpactByFatalReturnCode
	ImpactByDieError
	ImpactByDieException
	ImpactByLogException
)

var errorImpactNames = [...]string{
	"Unassigned",
	"NoImpactBySupersededRecord",
	"NoImpactBySharedCleanup",
	"NoImpactByOwnerCondition",
	"NoImpactByLinkage",
	"ImpactByUserError",
	"ImpactByFatalError",
	"ImpactByFatalReturnCode",
	"ImpactByDieError",
	"ImpactByDieException",
	"ImpactByLogException",
}

func (i ErrorImpact) String() string {
	if i < ImpactUnassigned || i > ImpactByLogException {
		return fmt.Sprintf("ErrorImpact(%d)", int32(i))
	}
	return errorImpactNames[i]
}

func (i ErrorImpact) IsAssigned() bool { return i != ImpactUnassigned }

// HasImpact reports an impact reason.
func (i ErrorImpact) HasImpact() bool { return i >= ImpactByUserError && i <= ImpactByLogException }

// IsNoImpact reports a no-impact reason.
func (i ErrorImpact) IsNoImpact() bool { return i > ImpactUnassigned && i < ImpactByUserError }

// IsFatal reports every fatal-class impact.
func (i ErrorImpact) IsFatal() bool { return i > ImpactByUserError && i <= ImpactByLogException }

func (i ErrorImpact) IsDieCaused() bool { return i == ImpactByDieError || i == ImpactByDieException }

// Raises reports whether the error is to be surfaced to the raising caller.
func (i ErrorImpact) Raises() bool { return i == ImpactByDieException || i == ImpactByLogException }

// =============================================================================
// Mode flags
// =============================================================================

// ModeProvider exposes the currently configured error modes.
type ModeProvider interface {
	DieMode() bool
	DieExceptionMode() bool
	ExceptionMode() bool
	ReleaseMode() bool
	SharedCleanupInProgress() bool
}

// ModeSettings is a static snapshot of mode flags.
type ModeSettings struct {
	DieMode          bool
	DieExceptionMode bool
	ExceptionMode    bool
	ReleaseMode      bool
}

// ModeFlags is a concurrently updatable ModeProvider.
type ModeFlags struct {
	die, dieException, exception, release, cleanup atomic.Bool
}

// NewModeFlags creates flags initialized from settings.
func NewModeFlags(s ModeSettings) *ModeFlags {
	f := &ModeFlags{}
	f.Apply(s)
	return f
}

// Apply replaces all mode settings.
func (f *ModeFlags) Apply(s ModeSettings) {
	f.die.Store(s.DieMode)
	f.dieException.Store(s.DieExceptionMode)
	f.exception.Store(s.ExceptionMode)
	f.release.Store(s.ReleaseMode)
}

// Settings returns a snapshot.
func (f *ModeFlags) Settings() ModeSettings {
	return ModeSettings{
		DieMode:          f.die.Load(),
		DieExceptionMode: f.dieException.Load(),
		ExceptionMode:    f.exception.Load(),
		ReleaseMode:      f.release.Load(),
	}
}

func (f *ModeFlags) DieMode() bool                 { return f.die.Load() }
func (f *ModeFlags) DieExceptionMode() bool        { return f.dieException.Load() }
func (f *ModeFlags) ExceptionMode() bool           { return f.exception.Load() }
func (f *ModeFlags) ReleaseMode() bool             { return f.release.Load() }
func (f *ModeFlags) SharedCleanupInProgress() bool { return f.cleanup.Load() }

// SetSharedCleanup marks the runtime-wide cleanup phase.
func (f *ModeFlags) SetSharedCleanup(v bool) { f.cleanup.Store(v) }

// =============================================================================
// ImpactResolver
// =============================================================================

// ImpactResolver is the stateless rules engine deciding the impact of a new record.
type ImpactResolver struct {
	Modes ModeProvider
}

// Resolve computes the impact of rec. owner is the identity of the task the record
// belongs to (nil when unknown); ownerFinal reports that the owner has already
// reached a final state.
func (r ImpactResolver) Resolve(rec *ErrorRecord, owner *TaskIdentity, ownerFinal bool) ErrorImpact {
	switch {
	case rec.IsLinked():
		return NoImpactByLinkage
	case r.Modes != nil && r.Modes.SharedCleanupInProgress():
		return NoImpactBySharedCleanup
	case ownerFinal:
		return NoImpactByOwnerCondition
	case !rec.IsFatal():
		return ImpactByUserError
	}

	if r.Modes != nil && r.Modes.DieMode() {
		if r.Modes.DieExceptionMode() && owner.Has(CapDieExceptionTarget) {
			return ImpactByDieException
		}
		return ImpactByDieError
	}
	if r.Modes != nil && r.Modes.ExceptionMode() {
		return ImpactByLogException
	}
	if rec.ByReturnCode() {
		return ImpactByFatalReturnCode
	}
	return ImpactByFatalError
}
