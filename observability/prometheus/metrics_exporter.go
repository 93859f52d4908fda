package prometheus

import (
	"errors"
	"fmt"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/xcofdk/xcofdk-py-sub004/core"
)

const defaultNamespace = "xcore"

// MetricsExporter adapts core.Metrics to Prometheus collectors.
type MetricsExporter struct {
	queueDepth       *prom.GaugeVec
	queueRejected    *prom.CounterVec
	errorsPosted     *prom.CounterVec
	stateTransitions *prom.CounterVec
	foreignHarvested *prom.CounterVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors for core.Metrics.
func NewMetricsExporter(namespace string, reg prom.Registerer) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}

	queueDepthVec := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Current queue depth.",
	}, []string{"queue"})
	rejectedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "queue_rejected_total",
		Help:      "Total number of refused pushes and pops.",
	}, []string{"queue", "reason"})
	postedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "errors_posted_total",
		Help:      "Total number of error records accepted by task error slots.",
	}, []string{"task", "impact"})
	transitionVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "task_transitions_total",
		Help:      "Total number of task lifecycle transitions by target state.",
	}, []string{"task", "state"})
	harvestedVec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Name:      "foreign_errors_harvested_total",
		Help:      "Total number of pending fatal foreign errors harvested.",
	}, []string{"owner"})

	var err error
	if queueDepthVec, err = registerCollector(reg, queueDepthVec); err != nil {
		return nil, err
	}
	if rejectedVec, err = registerCollector(reg, rejectedVec); err != nil {
		return nil, err
	}
	if postedVec, err = registerCollector(reg, postedVec); err != nil {
		return nil, err
	}
	if transitionVec, err = registerCollector(reg, transitionVec); err != nil {
		return nil, err
	}
	if harvestedVec, err = registerCollector(reg, harvestedVec); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		queueDepth:       queueDepthVec,
		queueRejected:    rejectedVec,
		errorsPosted:     postedVec,
		stateTransitions: transitionVec,
		foreignHarvested: harvestedVec,
	}, nil
}

// RecordQueueDepth records queue depth.
func (m *MetricsExporter) RecordQueueDepth(queueName string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(normalizeLabel(queueName, "unknown")).Set(float64(depth))
}

// RecordQueueRejected records refused queue operations.
func (m *MetricsExporter) RecordQueueRejected(queueName string, reason string) {
	if m == nil {
		return
	}
	m.queueRejected.WithLabelValues(normalizeLabel(queueName, "unknown"), normalizeLabel(reason, "unknown")).Inc()
}

// RecordErrorPosted records accepted error records by impact.
func (m *MetricsExporter) RecordErrorPosted(taskName string, impact core.ErrorImpact) {
	if m == nil {
		return
	}
	m.errorsPosted.WithLabelValues(normalizeLabel(taskName, "unknown"), impactLabel(impact)).Inc()
}

// RecordStateTransition records lifecycle transitions by target state.
func (m *MetricsExporter) RecordStateTransition(taskName string, from, to core.TaskState) {
	if m == nil {
		return
	}
	m.stateTransitions.WithLabelValues(normalizeLabel(taskName, "unknown"), stateLabel(to)).Inc()
}

// RecordForeignErrorsHarvested records harvested foreign errors.
func (m *MetricsExporter) RecordForeignErrorsHarvested(ownerName string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.foreignHarvested.WithLabelValues(normalizeLabel(ownerName, "unknown")).Add(float64(count))
}

func normalizeLabel(v string, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func impactLabel(impact core.ErrorImpact) string {
	switch impact {
	case core.ImpactByUserError:
		return "user_error"
	case core.ImpactByFatalError:
		return "fatal_error"
	case core.ImpactByFatalReturnCode:
		return "fatal_return_code"
	case core.ImpactByDieError:
		return "die_error"
	case core.ImpactByDieException:
		return "die_exception"
	case core.ImpactByLogException:
		return "log_exception"
	default:
		return "unknown"
	}
}

func stateLabel(s core.TaskState) string {
	if !s.IsValid() {
		return "unknown"
	}
	return s.String()
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var alreadyRegisteredErr prom.AlreadyRegisteredError
	if errors.As(err, &alreadyRegisteredErr) {
		existing, ok := alreadyRegisteredErr.ExistingCollector.(T)
		if !ok {
			return collector, fmt.Errorf("collector type mismatch for %T", collector)
		}
		return existing, nil
	}

	return collector, err
}
