package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xcofdk/xcofdk-py-sub004/config"
	"github.com/xcofdk/xcofdk-py-sub004/core"
	"github.com/xcofdk/xcofdk-py-sub004/internal/errors"
)

const workerCycle = 10 * time.Millisecond

var superviseCmd = &cobra.Command{
	Use:   "supervise",
	Short: "Run failing worker tasks under a supervisor harvesting their fatal errors",
	Long: `Start one supervisor task listening for foreign errors and --workers worker
tasks. Each worker reports a few user errors and then fails: by a fatal
error, by a panic or by an abort return code, in turn. The supervisor
harvests and acknowledges every fatal error until all workers failed or
--duration elapsed, then the runtime is closed.`,
	RunE: runSupervise,
}

func init() {
	superviseCmd.Flags().Int("workers", 3, "number of worker tasks")
	superviseCmd.Flags().Duration("duration", 2*time.Second, "upper bound of the run")
	bindFlag("workers", superviseCmd.Flags(), "workers")
	bindFlag("duration", superviseCmd.Flags(), "duration")
}

func runSupervise(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := core.NewDefaultLogger(cfg.LogLevel).With(core.F("command", "supervise"))
	obs, err := setupMetrics(ctx, cfg.MetricsAddr, logger)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	return supervise(ctx, cfg, obs, cmd.OutOrStdout())
}

// workerFailure is the way a worker ends.
type workerFailure int

const (
	failByFatal workerFailure = iota
	failByPanic
	failByAbort
)

// newWorker creates a worker that reports userErrors user errors, one per cycle, and then fails.
// Each cycle clears the user error of the one before, since a held record blocks new ones.
func newWorker(rt *core.Runtime, idx, userErrors int) (*core.Task, error) {
	failure := workerFailure(idx % 3)
	var cycles int
	return core.NewTask(rt, core.TaskCallbacks{
		Run: func(_ context.Context, t *core.Task) (core.ExecResult, error) {
			cycles++
			t.ClearError()
			if cycles <= userErrors {
				if err := t.LogError(fmt.Sprintf("cycle %d: transient failure", cycles), core.WithErrorCode(100+cycles)); err != nil {
					return core.ExecStop, err
				}
				return core.ExecContinue, nil
			}
			switch failure {
			case failByPanic:
				panic(fmt.Sprintf("%s: corrupted state", t.Name()))
			case failByAbort:
				return core.ExecAbort, nil
			default:
				if err := t.LogFatal("giving up", core.WithErrorCode(500)); err != nil {
					return core.ExecStop, err
				}
				return core.ExecContinue, nil
			}
		},
	}, core.TaskOptions{
		Name:          fmt.Sprintf("worker-%d", idx),
		Capabilities:  core.CapUserTask,
		CycleInterval: workerCycle,
	})
}

// newSupervisor creates a listener task that acknowledges every harvested foreign error
// and stops once want errors were seen.
func newSupervisor(rt *core.Runtime, want int, out io.Writer, seen *atomic.Int64) (*core.Task, error) {
	return core.NewTask(rt, core.TaskCallbacks{
		Run: func(_ context.Context, t *core.Task) (core.ExecResult, error) {
			for _, rec := range t.HarvestForeignErrors() {
				fmt.Fprintf(out, "supervisor: %s failed: %s (impact %s)\n", rec.TaskName(), rec.Message(), rec.Impact())
				rec.Acknowledge()
				seen.Add(1)
			}
			if seen.Load() >= int64(want) {
				return core.ExecStop, nil
			}
			return core.ExecContinue, nil
		},
	}, core.TaskOptions{
		Name:          "supervisor",
		Capabilities:  core.CapUserTask | core.CapErrorObserver | core.CapForeignErrorListener,
		CycleInterval: workerCycle,
	})
}

func supervise(ctx context.Context, cfg config.Config, obs *observability, out io.Writer) error {
	rt := core.NewRuntime(cfg.RuntimeConfig(obs.metrics))
	obs.watchRuntime("xcore", rt)
	obs.start(ctx)
	defer obs.stop()

	workers := max(cfg.Workers, 1)

	var seen atomic.Int64
	supervisor, err := newSupervisor(rt, workers, out, &seen)
	if err != nil {
		return err
	}

	var errs *errors.MultiError
	tasks := []*core.Task{supervisor}
	for i := 0; i < workers; i++ {
		w, err := newWorker(rt, i, 2)
		if err != nil {
			errs = errs.Append(err)
			continue
		}
		tasks = append(tasks, w)
	}
	for _, t := range tasks {
		errs = errs.Append(t.Start())
	}

	waitCtx, cancel := context.WithTimeout(ctx, max(cfg.Duration, workerCycle))
	defer cancel()
	if err := supervisor.Join(waitCtx); err != nil {
		rt.Logger().Warn("supervisor did not finish in time", core.F("seen", seen.Load()), core.F("want", workers))
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	errs = errs.Append(rt.Close(closeCtx))

	for _, t := range tasks {
		fmt.Fprintf(out, "%-12s %s\n", t.Name(), t.State())
		history := t.RecentTransitions(0)
		for i := len(history) - 1; i >= 0; i-- {
			fmt.Fprintf(out, "    %s -> %s\n", history[i].From, history[i].To)
		}
	}
	stats := rt.Stats()
	fmt.Fprintf(out, "user errors: %d, fatal errors: %d, foreign posted: %d, harvested: %d\n",
		stats.UserErrors, stats.FatalErrors, stats.ForeignPosted, seen.Load())

	return errs.ErrorOrNil()
}
