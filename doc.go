// Package xcore provides the concurrency core of a task execution framework: a task
// lifecycle state machine, per-task error slots, bins for errors raised by other
// tasks, and a bounded blocking queue for backpressure between producers and consumers.
//
// All state hangs off an explicitly constructed Runtime. There are no process-wide
// singletons: mode flags, task ids, the task registry and the error counters are
// owned by the Runtime the tasks are created against.
//
// # Quick Start
//
// Create a runtime and a task, start it and wait for it:
//
//	rt := xcore.NewRuntime(nil)
//	defer rt.Close(context.Background())
//
//	task, err := xcore.NewTask(rt, xcore.TaskCallbacks{
//		Run: func(ctx context.Context, t *xcore.Task) (xcore.ExecResult, error) {
//			// one cycle of work
//			return xcore.ExecStop, nil
//		},
//	}, xcore.TaskOptions{Name: "worker"})
//	if err != nil {
//		return err
//	}
//	_ = task.Start()
//	_ = task.Join(ctx)
//
// # Key Concepts
//
// TaskState: the lifecycle of a task. States are ordered; transitions are idempotent
// and a state read may heal a task whose carrier died without reaching a final state.
//
// ErrorRecord: an error reported by a task, classified once with an ErrorImpact
// depending on its severity and the runtime modes (die, exception, release).
//
// TaskErrorSlot: holds the current error of a task. A fatal record cannot be replaced;
// a user error is superseded by the next record.
//
// ForeignErrorBinTable: keeps, per source task, the fatal errors other tasks raised,
// for a task holding the foreign-error listener capability. Supervisors harvest them.
//
// BlockingQueue: a capacity-bounded deque with unbounded, exception-on-full and
// block-on-full policies, FIFO or LIFO order, timed waits and a draining shutdown.
//
// # Example
//
//	q, _ := xcore.NewBlockingQueue[int](xcore.QueueOptions{
//		Name:     "inbox",
//		Policy:   xcore.PolicyBlockOnFull,
//		Capacity: 64,
//	})
//
//	go func() {
//		for i := 0; i < 100; i++ {
//			_, _ = q.Push(i)
//		}
//	}()
//
//	for {
//		item, ok, _ := q.PopWait(time.Second)
//		if !ok {
//			break
//		}
//		fmt.Println(item)
//	}
//	q.Teardown()
package xcore
