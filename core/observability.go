package core

import "time"

// QueueStats represents observability state for a BlockingQueue.
type QueueStats struct {
	Name     string
	Policy   QueuePolicy
	Order    QueueOrder
	Capacity int
	Len      int
	State    QueueState
	Pushed   int64
	Popped   int64
	Rejected int64
}

// TaskStats represents observability state for a Task.
type TaskStats struct {
	ID             TaskID
	Name           string
	Kind           CarrierKind
	State          TaskState
	Alive          bool
	CurrentError   *ErrorRecord
	ForeignBins    int
	ItemsProcessed int64
	Queue          *QueueStats
	LastTransition time.Time
}

// RuntimeStats represents observability state for a Runtime.
type RuntimeStats struct {
	Tasks         int
	UserErrors    int64
	FatalErrors   int64
	Warnings      int64
	ForeignPosted int64
	Modes         ModeSettings
	Closed        bool
}
