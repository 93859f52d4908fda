package prometheus

import (
	"context"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/xcofdk/xcofdk-py-sub004/core"
)

// QueueSnapshotProvider provides current queue stats snapshots.
type QueueSnapshotProvider interface {
	Stats() core.QueueStats
}

// TaskSnapshotProvider provides current task stats snapshots.
type TaskSnapshotProvider interface {
	Stats() core.TaskStats
}

// RuntimeSnapshotProvider provides current runtime stats snapshots and the tasks to poll.
type RuntimeSnapshotProvider interface {
	Stats() core.RuntimeStats
	Tasks() []*core.Task
}

// SnapshotPoller periodically exports queue/task/runtime Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	mu       sync.RWMutex
	queues   map[string]QueueSnapshotProvider
	runtimes map[string]RuntimeSnapshotProvider

	queueLen      *prom.GaugeVec
	queueCapacity *prom.GaugeVec
	queueRejected *prom.GaugeVec
	queueShutdown *prom.GaugeVec

	taskState     *prom.GaugeVec
	taskAlive     *prom.GaugeVec
	taskProcessed *prom.GaugeVec
	taskForeign   *prom.GaugeVec

	runtimeTasks  *prom.GaugeVec
	runtimeErrors *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	gauge := func(name, help string, labels ...string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{Namespace: defaultNamespace, Name: name, Help: help}, labels)
	}

	p := &SnapshotPoller{
		interval: interval,
		queues:   make(map[string]QueueSnapshotProvider),
		runtimes: make(map[string]RuntimeSnapshotProvider),

		queueLen:      gauge("queue_len", "Queued items per queue.", "queue", "policy"),
		queueCapacity: gauge("queue_capacity", "Queue capacity (0=unbounded).", "queue", "policy"),
		queueRejected: gauge("queue_rejected", "Queue refused operation count snapshot.", "queue", "policy"),
		queueShutdown: gauge("queue_shutting_down", "Queue shutdown state (1=shutting down, 0=open).", "queue", "policy"),

		taskState:     gauge("task_state", "Task lifecycle state ordinal.", "task", "kind"),
		taskAlive:     gauge("task_alive", "Task carrier aliveness (1=alive, 0=dead).", "task", "kind"),
		taskProcessed: gauge("task_items_processed", "Items processed from the task's external queue.", "task", "kind"),
		taskForeign:   gauge("task_foreign_bins", "Live foreign error bins of the task.", "task", "kind"),

		runtimeTasks:  gauge("runtime_tasks", "Registered tasks per runtime.", "runtime"),
		runtimeErrors: gauge("runtime_errors", "Error counters per runtime.", "runtime", "class"),
	}

	for _, c := range []**prom.GaugeVec{
		&p.queueLen, &p.queueCapacity, &p.queueRejected, &p.queueShutdown,
		&p.taskState, &p.taskAlive, &p.taskProcessed, &p.taskForeign,
		&p.runtimeTasks, &p.runtimeErrors,
	} {
		registered, err := registerCollector(reg, *c)
		if err != nil {
			return nil, err
		}
		*c = registered
	}
	return p, nil
}

// AddQueue adds or replaces a queue snapshot provider by name.
func (p *SnapshotPoller) AddQueue(name string, provider QueueSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "queue")
	p.mu.Lock()
	p.queues[name] = provider
	p.mu.Unlock()
}

// AddRuntime adds or replaces a runtime snapshot provider by name.
// Every task registered with the runtime at poll time is exported too.
func (p *SnapshotPoller) AddRuntime(name string, provider RuntimeSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "runtime")
	p.mu.Lock()
	p.runtimes[name] = provider
	p.mu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for name, provider := range p.queues {
		p.collectQueue(name, provider.Stats())
	}

	for name, provider := range p.runtimes {
		stats := provider.Stats()
		p.runtimeTasks.WithLabelValues(name).Set(float64(stats.Tasks))
		p.runtimeErrors.WithLabelValues(name, "user").Set(float64(stats.UserErrors))
		p.runtimeErrors.WithLabelValues(name, "fatal").Set(float64(stats.FatalErrors))
		p.runtimeErrors.WithLabelValues(name, "warning").Set(float64(stats.Warnings))
		p.runtimeErrors.WithLabelValues(name, "foreign_posted").Set(float64(stats.ForeignPosted))

		for _, task := range provider.Tasks() {
			p.collectTask(task.Stats())
		}
	}
}

func (p *SnapshotPoller) collectQueue(name string, stats core.QueueStats) {
	policy := stats.Policy.String()
	p.queueLen.WithLabelValues(name, policy).Set(float64(stats.Len))
	p.queueCapacity.WithLabelValues(name, policy).Set(float64(stats.Capacity))
	p.queueRejected.WithLabelValues(name, policy).Set(float64(stats.Rejected))
	p.queueShutdown.WithLabelValues(name, policy).Set(boolGauge(stats.State == core.QueueShuttingDown))
}

func (p *SnapshotPoller) collectTask(stats core.TaskStats) {
	name := normalizeLabel(stats.Name, stats.ID.String())
	kind := stats.Kind.String()
	p.taskState.WithLabelValues(name, kind).Set(float64(stats.State))
	p.taskAlive.WithLabelValues(name, kind).Set(boolGauge(stats.Alive))
	p.taskProcessed.WithLabelValues(name, kind).Set(float64(stats.ItemsProcessed))
	p.taskForeign.WithLabelValues(name, kind).Set(float64(stats.ForeignBins))
	if stats.Queue != nil {
		p.collectQueue(normalizeLabel(stats.Queue.Name, name), *stats.Queue)
	}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
