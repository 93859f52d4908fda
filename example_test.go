package xcore_test

import (
	"context"
	"fmt"
	"time"

	xcore "github.com/xcofdk/xcofdk-py-sub004"
	"github.com/xcofdk/xcofdk-py-sub004/core"
)

func quietRuntime() *xcore.Runtime {
	cfg := xcore.DefaultRuntimeConfig()
	cfg.Logger = core.NewNoOpLogger()
	cfg.PanicHandler = &core.LoggingPanicHandler{}
	return xcore.NewRuntime(cfg)
}

// ExampleNewTask demonstrates the basic usage with only one import.
func ExampleNewTask() {
	rt := quietRuntime()
	defer rt.Close(context.Background())

	cycles := 0
	task, err := xcore.NewTask(rt, xcore.TaskCallbacks{
		Run: func(ctx context.Context, t *xcore.Task) (xcore.ExecResult, error) {
			cycles++
			fmt.Println("Cycle", cycles)
			if cycles == 3 {
				return xcore.ExecStop, nil
			}
			return xcore.ExecContinue, nil
		},
	}, xcore.TaskOptions{Name: "counter"})
	if err != nil {
		fmt.Println(err)
		return
	}

	_ = task.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = task.Join(ctx)
	fmt.Println(task.State())

	// Output:
	// Cycle 1
	// Cycle 2
	// Cycle 3
	// Done
}

// ExampleNewBlockingQueue demonstrates FIFO handoff and a draining shutdown.
func ExampleNewBlockingQueue() {
	q, err := xcore.NewBlockingQueue[string](xcore.QueueOptions{
		Name:     "inbox",
		Policy:   xcore.PolicyExceptionOnFull,
		Capacity: 2,
	})
	if err != nil {
		fmt.Println(err)
		return
	}

	_, _ = q.Push("first")
	_, _ = q.Push("second")
	if _, err := q.Push("third"); err != nil {
		fmt.Println("push:", err)
	}

	item, _, _ := q.Pop()
	fmt.Println(item)

	q.SetReleaser(func(s string) { fmt.Println("released", s) })
	q.Shutdown()
	_, ok, _ := q.Pop()
	fmt.Println("ok after shutdown:", ok)

	// Output:
	// push: queue full
	// first
	// released second
	// ok after shutdown: false
}

// ExampleTask_HarvestForeignErrors demonstrates a supervisor collecting another task's fatal error.
func ExampleTask_HarvestForeignErrors() {
	rt := quietRuntime()
	defer rt.Close(context.Background())

	supervisor, _ := xcore.NewEnclosingTask(rt, "supervisor", xcore.CapUserTask|xcore.CapForeignErrorListener)
	worker, _ := xcore.NewTask(rt, xcore.TaskCallbacks{
		Run: func(ctx context.Context, t *xcore.Task) (xcore.ExecResult, error) {
			_ = t.LogFatal("disk gone")
			return xcore.ExecContinue, nil
		},
	}, xcore.TaskOptions{Name: "worker"})

	_ = worker.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = worker.Join(ctx)

	for _, rec := range supervisor.HarvestForeignErrors() {
		fmt.Printf("%s: %s\n", rec.TaskName(), rec.Message())
		rec.Acknowledge()
	}
	fmt.Println(worker.State())
	supervisor.Leave()

	// Output:
	// worker: disk gone
	// Failed
}
