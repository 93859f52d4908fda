package core

import (
	"context"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task callback panics.
// The panic has already been converted into a fatal ErrorRecord when this is called;
// the handler is a notification hook for custom logging or crash reporting.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a task callback panics.
	//
	// Parameters:
	// - ctx: The context of the task that panicked
	// - task: The identity of the task whose callback panicked
	// - phase: The lifecycle phase the panic occurred in ("setup", "run", "teardown", ...)
	// - panicInfo: The error recovered from the callback, including its stack trace
	HandlePanic(ctx context.Context, task *TaskIdentity, phase string, panicInfo error)
}

// LoggingPanicHandler reports panics through a Logger.
type LoggingPanicHandler struct {
	Logger Logger
}

// HandlePanic logs the panic at error level.
func (h *LoggingPanicHandler) HandlePanic(ctx context.Context, task *TaskIdentity, phase string, panicInfo error) {
	if h.Logger == nil {
		return
	}
	h.Logger.Error("task panicked",
		F("task", task.Name()),
		F("task_id", task.ID()),
		F("phase", phase),
		F("panic", panicInfo))
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting runtime metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// Methods should be non-blocking and fast; several are called while a component lock is held.
type Metrics interface {
	// RecordQueueDepth records the current number of items in a queue.
	RecordQueueDepth(queueName string, depth int)

	// RecordQueueRejected records that a push or pop was refused.
	//
	// Parameters:
	// - queueName: The name of the queue
	// - reason: Why the operation was refused ("full", "empty", "shutdown", "timeout")
	RecordQueueRejected(queueName string, reason string)

	// RecordErrorPosted records an error record accepted by a task's error slot.
	RecordErrorPosted(taskName string, impact ErrorImpact)

	// RecordStateTransition records a lifecycle transition of a task.
	RecordStateTransition(taskName string, from, to TaskState)

	// RecordForeignErrorsHarvested records how many pending fatal foreign errors a supervisor harvested.
	RecordForeignErrorsHarvested(ownerName string, count int)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

// RecordQueueDepth is a no-op.
func (m *NilMetrics) RecordQueueDepth(queueName string, depth int) {}

// RecordQueueRejected is a no-op.
func (m *NilMetrics) RecordQueueRejected(queueName string, reason string) {}

// RecordErrorPosted is a no-op.
func (m *NilMetrics) RecordErrorPosted(taskName string, impact ErrorImpact) {}

// RecordStateTransition is a no-op.
func (m *NilMetrics) RecordStateTransition(taskName string, from, to TaskState) {}

// RecordForeignErrorsHarvested is a no-op.
func (m *NilMetrics) RecordForeignErrorsHarvested(ownerName string, count int) {}

// =============================================================================
// RuntimeConfig: Configuration for Runtime
// =============================================================================

// RuntimeConfig holds configuration options for a Runtime.
// All handlers are optional; if not provided, default implementations will be used.
type RuntimeConfig struct {
	// Logger receives structured runtime logs. Defaults to a logrus logger at info level.
	Logger Logger

	// Metrics records runtime metrics. Defaults to NilMetrics.
	Metrics Metrics

	// PanicHandler is notified of task callback panics. Defaults to LoggingPanicHandler.
	PanicHandler PanicHandler

	// Modes holds the initial die/exception/release mode settings.
	Modes ModeSettings

	// TransitionHistory is the number of recent state transitions kept per task.
	TransitionHistory int

	// QueueBudget bounds queue teardown for queues created by the runtime.
	QueueBudget QuiesceBudget
}

// DefaultRuntimeConfig returns a config with default handlers.
func DefaultRuntimeConfig() *RuntimeConfig {
	logger := NewDefaultLogger("info")
	return &RuntimeConfig{
		Logger:            logger,
		Metrics:           &NilMetrics{},
		PanicHandler:      &LoggingPanicHandler{Logger: logger},
		Modes:             ModeSettings{ReleaseMode: true},
		TransitionHistory: defaultTransitionHistoryCapacity,
		QueueBudget:       DefaultQuiesceBudget(),
	}
}
