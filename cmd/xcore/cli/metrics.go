package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xcofdk/xcofdk-py-sub004/core"
	xprom "github.com/xcofdk/xcofdk-py-sub004/observability/prometheus"
)

const pollInterval = 500 * time.Millisecond

// observability bundles the metrics plumbing of one command run.
// The zero value (metrics disabled) is usable.
type observability struct {
	metrics core.Metrics
	poller  *xprom.SnapshotPoller
}

// setupMetrics builds the exporter and snapshot poller on a fresh registry and serves
// it on addr until ctx is done. An empty addr disables metrics.
func setupMetrics(ctx context.Context, addr string, logger core.Logger) (*observability, error) {
	if addr == "" {
		return &observability{}, nil
	}

	reg := prom.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	exporter, err := xprom.NewMetricsExporter("", reg)
	if err != nil {
		return nil, err
	}
	poller, err := xprom.NewSnapshotPoller(reg, pollInterval)
	if err != nil {
		return nil, err
	}

	startMetricsServer(ctx, addr, reg, logger)
	return &observability{metrics: exporter, poller: poller}, nil
}

func (o *observability) watchQueue(name string, q xprom.QueueSnapshotProvider) {
	if o.poller != nil {
		o.poller.AddQueue(name, q)
	}
}

func (o *observability) watchRuntime(name string, rt xprom.RuntimeSnapshotProvider) {
	if o.poller != nil {
		o.poller.AddRuntime(name, rt)
	}
}

func (o *observability) start(ctx context.Context) {
	if o.poller != nil {
		o.poller.Start(ctx)
	}
}

func (o *observability) stop() {
	if o.poller != nil {
		o.poller.Stop()
	}
}

// startMetricsServer starts a /metrics HTTP endpoint in a background goroutine.
// The server shuts down gracefully when ctx is cancelled.
func startMetricsServer(ctx context.Context, addr string, reg *prom.Registry, logger core.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics server starting", core.F("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", core.F("error", err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
}
