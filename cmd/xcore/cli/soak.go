package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xcofdk/xcofdk-py-sub004/config"
	"github.com/xcofdk/xcofdk-py-sub004/core"
	"github.com/xcofdk/xcofdk-py-sub004/internal/errors"
)

const retryPause = 200 * time.Microsecond

var soakCmd = &cobra.Command{
	Use:   "soak",
	Short: "Run producers and consumers over one queue and print its stats",
	Long: `Run --producers goroutines pushing --items integers in total through one
queue drained by --consumers goroutines. Exception-on-full producers retry
refused pushes; block-on-full producers block. The queue is torn down once
every item was consumed.`,
	RunE: runSoak,
}

func init() {
	soakCmd.Flags().String("queue-name", "soak", "queue name used in logs and metrics")
	soakCmd.Flags().String("queue-policy", "block-on-full", "unbounded | exception-on-full | block-on-full")
	soakCmd.Flags().Int("queue-capacity", 64, "capacity of a bounded queue")
	soakCmd.Flags().String("queue-order", "fifo", "fifo | lifo")
	soakCmd.Flags().Int("producers", 4, "number of producer goroutines")
	soakCmd.Flags().Int("consumers", 2, "number of consumer goroutines")
	soakCmd.Flags().Int("items", 10000, "total number of items pushed")

	bindFlag("queue_name", soakCmd.Flags(), "queue-name")
	bindFlag("queue_policy", soakCmd.Flags(), "queue-policy")
	bindFlag("queue_capacity", soakCmd.Flags(), "queue-capacity")
	bindFlag("queue_order", soakCmd.Flags(), "queue-order")
	bindFlag("producers", soakCmd.Flags(), "producers")
	bindFlag("consumers", soakCmd.Flags(), "consumers")
	bindFlag("items", soakCmd.Flags(), "items")
}

func runSoak(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := core.NewDefaultLogger(cfg.LogLevel).With(core.F("command", "soak"))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs, err := setupMetrics(ctx, cfg.MetricsAddr, logger)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	start := time.Now()
	stats, err := soak(ctx, cfg, logger, obs)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "queue %s (%s, %s, capacity %d)\n", stats.Name, stats.Policy, stats.Order, stats.Capacity)
	fmt.Fprintf(out, "  pushed:   %d\n", stats.Pushed)
	fmt.Fprintf(out, "  popped:   %d\n", stats.Popped)
	fmt.Fprintf(out, "  rejected: %d\n", stats.Rejected)
	fmt.Fprintf(out, "  elapsed:  %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

// soak pushes cfg.Items integers through the configured queue and returns its final stats.
func soak(ctx context.Context, cfg config.Config, logger core.Logger, obs *observability) (core.QueueStats, error) {
	opts, err := cfg.QueueOptions()
	if err != nil {
		return core.QueueStats{}, err
	}
	opts.Logger = logger
	opts.Metrics = obs.metrics

	q, err := core.NewBlockingQueue[int](opts)
	if err != nil {
		return core.QueueStats{}, err
	}
	obs.watchQueue(q.Name(), q)
	obs.start(ctx)
	defer obs.stop()

	producers := max(cfg.Producers, 1)
	consumers := max(cfg.Consumers, 1)

	var consumed atomic.Int64
	var sum atomic.Int64

	cg, cctx := errgroup.WithContext(ctx)
	for i := 0; i < consumers; i++ {
		cg.Go(func() error {
			return consume(cctx, q, &consumed, &sum)
		})
	}

	pg, pctx := errgroup.WithContext(ctx)
	for p := 0; p < producers; p++ {
		lo, hi := split(cfg.Items, producers, p)
		pg.Go(func() error {
			return produce(pctx, q, lo, hi)
		})
	}

	perr := pg.Wait()
	if perr == nil {
		for consumed.Load() < int64(cfg.Items) && ctx.Err() == nil {
			time.Sleep(time.Millisecond)
		}
	}

	if !q.Teardown() {
		logger.Warn("queue did not quiesce", core.F("queue", q.Name()))
	}
	var errs *errors.MultiError
	errs = errs.Append(perr)
	errs = errs.Append(cg.Wait())
	if err := errs.ErrorOrNil(); err != nil {
		return q.Stats(), err
	}

	want := int64(cfg.Items) * int64(cfg.Items-1) / 2
	if ctx.Err() == nil && sum.Load() != want {
		return q.Stats(), errors.Errorf("checksum mismatch: got %d, want %d", sum.Load(), want)
	}
	logger.Info("soak finished", core.F("consumed", consumed.Load()))
	return q.Stats(), nil
}

// split returns the half-open item range of producer p.
func split(items, producers, p int) (int, int) {
	per := items / producers
	lo := p * per
	hi := lo + per
	if p == producers-1 {
		hi = items
	}
	return lo, hi
}

func produce(ctx context.Context, q *core.BlockingQueue[int], lo, hi int) error {
	for i := lo; i < hi; {
		ok, err := q.PushContext(ctx, i)
		switch {
		case errors.Is(err, core.ErrQueueFull):
			time.Sleep(retryPause)
			continue
		case err != nil:
			return err
		case !ok:
			if q.IsShuttingDown() {
				return core.ErrQueueShutdown
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		i++
	}
	return nil
}

func consume(ctx context.Context, q *core.BlockingQueue[int], consumed, sum *atomic.Int64) error {
	for {
		item, ok, err := q.PopContext(ctx)
		switch {
		case errors.Is(err, core.ErrQueueEmpty):
			time.Sleep(retryPause)
			continue
		case err != nil:
			return err
		case ok:
			sum.Add(int64(item))
			consumed.Add(1)
			continue
		}
		if q.IsShuttingDown() || ctx.Err() != nil {
			return nil
		}
		// Unbounded queues report an empty pop as ok == false.
		time.Sleep(retryPause)
	}
}
