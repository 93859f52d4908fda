package prometheus

import (
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcofdk/xcofdk-py-sub004/core"
)

func TestMetricsExporter_RecordMethods(t *testing.T) {
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("xcore", reg)
	require.NoError(t, err)

	exporter.RecordQueueDepth("inbox", 7)
	exporter.RecordQueueRejected("inbox", "full")
	exporter.RecordErrorPosted("worker", core.ImpactByFatalReturnCode)
	exporter.RecordStateTransition("worker", core.StateRunning, core.StatePendingStopRequest)
	exporter.RecordForeignErrorsHarvested("supervisor", 3)
	exporter.RecordForeignErrorsHarvested("supervisor", 0)

	assert.Equal(t, 7.0, testutil.ToFloat64(exporter.queueDepth.WithLabelValues("inbox")))
	assert.Equal(t, 1.0, testutil.ToFloat64(exporter.queueRejected.WithLabelValues("inbox", "full")))
	assert.Equal(t, 1.0, testutil.ToFloat64(exporter.errorsPosted.WithLabelValues("worker", "fatal_return_code")))
	assert.Equal(t, 1.0, testutil.ToFloat64(exporter.stateTransitions.WithLabelValues("worker", "PendingStopRequest")))
	assert.Equal(t, 3.0, counterValue(t, exporter.foreignHarvested.WithLabelValues("supervisor")))
}

func TestMetricsExporter_AlreadyRegisteredReuse(t *testing.T) {
	reg := prom.NewRegistry()
	first, err := NewMetricsExporter("xcore", reg)
	require.NoError(t, err)
	second, err := NewMetricsExporter("xcore", reg)
	require.NoError(t, err)

	first.RecordQueueRejected("inbox", "shutdown")
	second.RecordQueueRejected("inbox", "shutdown")

	assert.Equal(t, 2.0, testutil.ToFloat64(first.queueRejected.WithLabelValues("inbox", "shutdown")))
}

func TestMetricsExporter_NilSafe(t *testing.T) {
	var exporter *MetricsExporter

	exporter.RecordQueueDepth("inbox", 1)
	exporter.RecordErrorPosted("", core.ImpactByUserError)
}

// TestMetricsExporter_WiredIntoRuntime verifies end-to-end export from a runtime
// Given: A runtime using the exporter as its Metrics
// When: A task logs a user error and leaves
// Then: The error and the transitions are counted
func TestMetricsExporter_WiredIntoRuntime(t *testing.T) {
	// Arrange
	reg := prom.NewRegistry()
	exporter, err := NewMetricsExporter("", reg)
	require.NoError(t, err)
	rt := core.NewRuntime(&core.RuntimeConfig{Logger: core.NewNoOpLogger(), Metrics: exporter})
	task, err := core.NewEnclosingTask(rt, "main", core.CapUserTask)
	require.NoError(t, err)

	// Act
	require.NoError(t, task.LogError("bad input"))
	task.Leave()

	// Assert
	assert.Equal(t, 1.0, testutil.ToFloat64(exporter.errorsPosted.WithLabelValues("main", "user_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(exporter.stateTransitions.WithLabelValues("main", "Done")))
	n, err := testutil.GatherAndCount(reg, "xcore_task_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func counterValue(t *testing.T, c prom.Counter) float64 {
	t.Helper()
	msg := &dto.Metric{}
	require.NoError(t, c.Write(msg))
	return msg.GetCounter().GetValue()
}
