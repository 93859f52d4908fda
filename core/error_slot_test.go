package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSlotFixture(caps Capability, settings ModeSettings, opts ...SlotOption) (*TaskIdentity, *ModeFlags, *TaskErrorSlot) {
	holder := NewTaskIdentity(1, "holder", CarrierOwnThread, caps, 0)
	modes := NewModeFlags(settings)
	return holder, modes, NewTaskErrorSlot(holder, modes, opts...)
}

// TestTaskErrorSlot_SecondFatalRejected verifies that a current fatal record is never replaced
// Given: A slot holding an own-task fatal record
// When: A second own-task fatal record is posted without clearing
// Then: The second post is rejected as superseded and the slot still reports the first record's id
func TestTaskErrorSlot_SecondFatalRejected(t *testing.T) {
	// Arrange
	holder, _, slot := newSlotFixture(0, ModeSettings{})
	first := NewFatalError(holder, "first")
	second := NewFatalError(holder, "second")

	// Act
	ok1 := slot.Post(first)
	ok2 := slot.Post(second)

	// Assert
	assert.True(t, ok1)
	assert.False(t, ok2)
	require.NotNil(t, slot.CurrentRecord())
	assert.Equal(t, first.UID(), slot.CurrentRecord().UID())
	assert.Equal(t, ImpactByFatalError, first.Impact())
	assert.Equal(t, NoImpactBySupersededRecord, second.Impact())
	assert.True(t, slot.HasFatal())
}

// TestTaskErrorSlot_UserErrorBlocksNewRecords verifies that a held user error is never superseded
// Given: A slot holding a user error
// When: A second user error and a fatal record are posted, then the slot is cleared and the fatal one is reposted
// Then: Both posts are rejected as superseded while the user error is held; after Clear a fresh fatal record is accepted
func TestTaskErrorSlot_UserErrorBlocksNewRecords(t *testing.T) {
	// Arrange
	holder, _, slot := newSlotFixture(0, ModeSettings{})
	userErr := NewUserError(holder, "first")
	require.True(t, slot.Post(userErr))

	// Act
	second := NewUserError(holder, "second")
	okSecond := slot.Post(second)
	fatal := NewFatalError(holder, "fatal")
	okFatal := slot.Post(fatal)

	// Assert
	assert.False(t, okSecond)
	assert.False(t, okFatal)
	assert.Same(t, userErr, slot.CurrentRecord())
	assert.Equal(t, NoImpactBySupersededRecord, second.Impact())
	assert.Equal(t, NoImpactBySupersededRecord, fatal.Impact())
	assert.False(t, slot.HasFatal())

	require.True(t, slot.Clear())
	assert.True(t, userErr.IsReleased())
	retry := NewFatalError(holder, "fatal again")
	assert.True(t, slot.Post(retry))
	assert.Same(t, retry, slot.CurrentRecord())
}

// TestTaskErrorSlot_ForeignRecordDroppedWithoutTable verifies a foreign record nobody keeps is not accepted
// Given: A listener slot with neither a foreign error table nor a notifier, and one whose notifier declines
// When: A fatal record of another task is posted to each
// Then: Both posts report the record as not accepted
func TestTaskErrorSlot_ForeignRecordDroppedWithoutTable(t *testing.T) {
	// Arrange
	source := NewTaskIdentity(2, "source", CarrierOwnThread, 0, 0)
	holder := NewTaskIdentity(1, "holder", CarrierOwnThread, CapForeignErrorListener, 0)
	modes := NewModeFlags(ModeSettings{})
	bare := NewTaskErrorSlot(holder, modes)
	declining := NewTaskErrorSlot(holder, modes, WithErrorNotifier(func(*ErrorRecord) bool { return false }))

	// Act
	okBare := bare.Post(NewFatalError(source, "lost"))
	okDeclining := declining.Post(NewFatalError(source, "declined"))

	// Assert
	assert.False(t, okBare)
	assert.False(t, okDeclining)
	assert.Nil(t, bare.CurrentRecord())
}

// TestTaskErrorSlot_DuplicateAndMalformed verifies rejected inputs
// Given: A slot holding a record
// When: The same record is posted again, and a record without message is posted
// Then: Both posts are rejected and the current record is unchanged
func TestTaskErrorSlot_DuplicateAndMalformed(t *testing.T) {
	// Arrange
	holder, _, slot := newSlotFixture(0, ModeSettings{})
	rec := NewUserError(holder, "once")
	require.True(t, slot.Post(rec))

	// Act and Assert
	assert.False(t, slot.Post(rec))
	assert.False(t, slot.Post(NewUserError(holder, "")))
	assert.False(t, slot.Post(nil))
	assert.Same(t, rec, slot.CurrentRecord())
}

// TestTaskErrorSlot_NoImpactReasons verifies the no-impact classifications
// Given: Linked records, shared cleanup and a final owner
// When: Records are posted
// Then: Each is rejected with its no-impact reason and the slot stays empty
func TestTaskErrorSlot_NoImpactReasons(t *testing.T) {
	t.Run("linkage", func(t *testing.T) {
		holder, _, slot := newSlotFixture(0, ModeSettings{})
		rec := NewFatalError(holder, "linked", WithLinkage())

		assert.False(t, slot.Post(rec))
		assert.Equal(t, NoImpactByLinkage, rec.Impact())
		assert.Nil(t, slot.CurrentRecord())
	})

	t.Run("shared cleanup", func(t *testing.T) {
		holder, modes, slot := newSlotFixture(0, ModeSettings{})
		modes.SetSharedCleanup(true)
		rec := NewFatalError(holder, "late")

		assert.False(t, slot.Post(rec))
		assert.Equal(t, NoImpactBySharedCleanup, rec.Impact())
	})

	t.Run("owner condition", func(t *testing.T) {
		holder, _, slot := newSlotFixture(0, ModeSettings{}, WithOwnerCondition(func() bool { return true }))
		rec := NewUserError(holder, "after the end")

		assert.False(t, slot.Post(rec))
		assert.Equal(t, NoImpactByOwnerCondition, rec.Impact())
	})
}

// TestTaskErrorSlot_ModePrecedence verifies the fatal impact chosen per mode
// Given: Fatal records under die, die-exception, exception and default modes
// When: They are posted
// Then: The impact follows die before exception before return code before plain fatal
func TestTaskErrorSlot_ModePrecedence(t *testing.T) {
	tests := []struct {
		name     string
		caps     Capability
		settings ModeSettings
		opts     []ErrorOption
		want     ErrorImpact
	}{
		{"default", 0, ModeSettings{}, nil, ImpactByFatalError},
		{"return code", 0, ModeSettings{}, []ErrorOption{WithReturnCode()}, ImpactByFatalReturnCode},
		{"exception", 0, ModeSettings{ExceptionMode: true}, []ErrorOption{WithReturnCode()}, ImpactByLogException},
		{"die", 0, ModeSettings{DieMode: true, ExceptionMode: true}, nil, ImpactByDieError},
		{"die exception without target", 0, ModeSettings{DieMode: true, DieExceptionMode: true}, nil, ImpactByDieError},
		{"die exception", CapDieExceptionTarget, ModeSettings{DieMode: true, DieExceptionMode: true}, nil, ImpactByDieException},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			holder, _, slot := newSlotFixture(tt.caps, tt.settings)
			rec := NewFatalError(holder, tt.name, tt.opts...)

			require.True(t, slot.Post(rec))
			assert.Equal(t, tt.want, rec.Impact())
			assert.True(t, rec.Impact().IsFatal())
		})
	}
}

// TestTaskErrorSlot_ClearDieRequiresAcknowledge verifies die records survive an unacknowledged clear
// Given: A slot holding a die-caused record
// When: Clear is called before and after the record is acknowledged
// Then: The first clear is refused and the second succeeds
func TestTaskErrorSlot_ClearDieRequiresAcknowledge(t *testing.T) {
	// Arrange
	holder, _, slot := newSlotFixture(0, ModeSettings{DieMode: true})
	rec := NewFatalError(holder, "die")
	require.True(t, slot.Post(rec))
	require.True(t, rec.Impact().IsDieCaused())

	// Act and Assert
	assert.False(t, slot.Clear())
	assert.Same(t, rec, slot.CurrentRecord())

	rec.Acknowledge()
	assert.True(t, slot.Clear())
	assert.Nil(t, slot.CurrentRecord())
	assert.True(t, rec.IsReleased())
	assert.True(t, slot.Clear(), "clearing an empty slot succeeds")
}

// TestTaskErrorSlot_ForeignRecords verifies the foreign path
// Given: A listener slot with a foreign error table and a slot without the listener capability
// When: A record of another task is posted to both
// Then: The listener deposits it in its table without touching the current record; the other rejects it
func TestTaskErrorSlot_ForeignRecords(t *testing.T) {
	// Arrange
	source := NewTaskIdentity(2, "source", CarrierOwnThread, 0, 0)
	holder := NewTaskIdentity(1, "holder", CarrierOwnThread, CapForeignErrorListener, 0)
	table := NewForeignErrorBinTable(holder)
	modes := NewModeFlags(ModeSettings{})
	listener := NewTaskErrorSlot(holder, modes, WithForeignErrorTable(table))
	_, _, plain := newSlotFixture(0, ModeSettings{})

	own := NewUserError(holder, "own")
	require.True(t, listener.Post(own))
	foreign := NewFatalError(source, "foreign")

	// Act
	accepted := listener.Post(foreign)
	duplicate := listener.Post(foreign)
	rejected := plain.Post(foreign)

	// Assert
	assert.True(t, accepted)
	assert.False(t, duplicate)
	assert.False(t, rejected)
	assert.Same(t, own, listener.CurrentRecord())
	require.NotNil(t, table.Bin(source.ID()))
	assert.Equal(t, foreign.UID(), table.Bin(source.ID()).Current().UID())
}

// TestTaskErrorSlot_NotifierConsumes verifies the notification callback
// Given: A listener slot whose notifier consumes foreign records and panics on own records
// When: A foreign and an own record are posted
// Then: The consumed foreign record is not binned and the panic does not escape Post
func TestTaskErrorSlot_NotifierConsumes(t *testing.T) {
	// Arrange
	source := NewTaskIdentity(2, "source", CarrierOwnThread, 0, 0)
	holder := NewTaskIdentity(1, "holder", CarrierOwnThread, CapForeignErrorListener, 0)
	table := NewForeignErrorBinTable(holder)
	var seen []*ErrorRecord
	slot := NewTaskErrorSlot(holder, NewModeFlags(ModeSettings{}),
		WithForeignErrorTable(table),
		WithErrorNotifier(func(rec *ErrorRecord) bool {
			seen = append(seen, rec)
			if rec.TaskID() == holder.ID() {
				panic("notifier failure")
			}
			return true
		}))

	// Act
	foreignOK := slot.Post(NewFatalError(source, "foreign"))
	ownOK := slot.Post(NewUserError(holder, "own"))

	// Assert
	assert.True(t, foreignOK)
	assert.True(t, ownOK)
	assert.Len(t, seen, 2)
	assert.Equal(t, 0, table.Len())
}

// TestTaskErrorSlot_Teardown verifies the final teardown path
// Given: A slot holding an unacknowledged die record
// When: Teardown is called and a new record is posted
// Then: The record is force-released and the new post is rejected
func TestTaskErrorSlot_Teardown(t *testing.T) {
	// Arrange
	holder, _, slot := newSlotFixture(0, ModeSettings{DieMode: true})
	rec := NewFatalError(holder, "die")
	require.True(t, slot.Post(rec))

	// Act
	slot.Teardown()

	// Assert
	assert.Nil(t, slot.CurrentRecord())
	assert.True(t, rec.IsReleased())
	late := NewUserError(holder, "late")
	assert.False(t, slot.Post(late))
	assert.Equal(t, NoImpactByOwnerCondition, late.Impact())
}
