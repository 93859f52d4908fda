package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xcofdk/xcofdk-py-sub004/internal/errors"
)

const (
	defaultQueueCap     = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4
)

// QueuePolicy selects what happens when a bounded queue is full or empty.
type QueuePolicy int

const (
	// PolicyUnbounded: no capacity, never blocks, never raises
	PolicyUnbounded QueuePolicy = iota

	// PolicyExceptionOnFull: bounded; a push on a full queue (or a pop on an empty one)
	// returns ErrQueueFull (ErrQueueEmpty) instead of blocking
	PolicyExceptionOnFull

	// PolicyBlockOnFull: bounded; a push on a full queue blocks until a slot frees,
	// a pop on an empty queue blocks until an item arrives
	PolicyBlockOnFull
)

func (p QueuePolicy) String() string {
	switch p {
	case PolicyUnbounded:
		return "unbounded"
	case PolicyExceptionOnFull:
		return "exception-on-full"
	case PolicyBlockOnFull:
		return "block-on-full"
	default:
		return fmt.Sprintf("QueuePolicy(%d)", int(p))
	}
}

// QueueOrder selects the pop end of the queue.
type QueueOrder int

const (
	OrderFIFO QueueOrder = iota
	OrderLIFO
)

func (o QueueOrder) String() string {
	if o == OrderLIFO {
		return "lifo"
	}
	return "fifo"
}

// QueueState is the state of a BlockingQueue.
// The waiting states are only entered under PolicyBlockOnFull.
type QueueState int32

const (
	QueueIdle QueueState = iota
	QueueWaitingEmpty
	QueueWaitingFull
	QueueShuttingDown
)

func (s QueueState) String() string {
	switch s {
	case QueueIdle:
		return "idle"
	case QueueWaitingEmpty:
		return "waiting-empty"
	case QueueWaitingFull:
		return "waiting-full"
	case QueueShuttingDown:
		return "shutting-down"
	default:
		return fmt.Sprintf("QueueState(%d)", int32(s))
	}
}

// queueElement is either an item or the shutdown marker.
type queueElement[T any] struct {
	item   T
	marker bool
}

// QueueOptions configures a BlockingQueue.
type QueueOptions struct {
	Name     string
	Policy   QueuePolicy
	Capacity int
	Order    QueueOrder

	// Budget bounds the busy-wait of Teardown. Zero value means DefaultQuiesceBudget.
	Budget QuiesceBudget

	Metrics Metrics
	Logger  Logger
}

// direction is the admission lock and binary semaphore of one side of the queue.
type direction struct {
	admission chan struct{}
	sem       chan struct{}
}

func newDirection() direction {
	return direction{admission: make(chan struct{}, 1), sem: make(chan struct{}, 1)}
}

// signal releases the binary semaphore; a release on a released semaphore is a no-op.
func (d direction) signal() {
	select {
	case d.sem <- struct{}{}:
	default:
	}
}

func (d direction) wait(w waiter) bool {
	select {
	case <-d.sem:
		return true
	case <-w.deadline:
		return false
	case <-w.done:
		return false
	}
}

func (d direction) acquire(w waiter) bool {
	select {
	case d.admission <- struct{}{}:
		return true
	case <-w.deadline:
		return false
	case <-w.done:
		return false
	}
}

func (d direction) tryAcquire() bool {
	select {
	case d.admission <- struct{}{}:
		return true
	default:
		return false
	}
}

func (d direction) release() {
	<-d.admission
}

// waiter carries the abort conditions of a blocking call.
type waiter struct {
	block    bool
	deadline <-chan time.Time
	done     <-chan struct{}
}

// BlockingQueue is a capacity-bounded deque used for backpressure between producers and consumers.
//
// Locking: the data lock guards the deque and the waiting flags. An operation first tries a
// fast path under the data lock alone. If it has to block, it takes the admission lock of its
// direction (only one blocked producer and one blocked consumer at a time), re-checks under
// the data lock, and when still blocked raises its waiting flag, drops the data lock and waits
// on the binary semaphore of its direction. A pop wakes the push side, a push wakes the pop
// side, so a blocked caller never queues behind a waiter of the opposite direction. A release
// that happens before the waiter starts waiting is kept by the semaphore.
type BlockingQueue[T any] struct {
	name     string
	policy   QueuePolicy
	order    QueueOrder
	capacity int

	pushSide direction
	popSide  direction

	mu           sync.Mutex
	items        []queueElement[T]
	markers      int
	shuttingDown bool
	waitingFull  bool
	waitingEmpty bool
	pushed       int64
	popped       int64
	rejected     int64

	releaser func(T)
	budget   QuiesceBudget
	metrics  Metrics
	logger   Logger
}

// NewBlockingQueue creates a queue. Bounded policies require a positive capacity;
// the capacity of an unbounded queue is always 0.
func NewBlockingQueue[T any](opts QueueOptions) (*BlockingQueue[T], error) {
	switch opts.Policy {
	case PolicyUnbounded:
		opts.Capacity = 0
	case PolicyExceptionOnFull, PolicyBlockOnFull:
		if opts.Capacity < 1 {
			return nil, errors.Errorf("queue %q: policy %s requires a positive capacity, got %d", opts.Name, opts.Policy, opts.Capacity)
		}
	default:
		return nil, errors.Errorf("queue %q: unknown policy %d", opts.Name, int(opts.Policy))
	}
	if opts.Order != OrderFIFO && opts.Order != OrderLIFO {
		return nil, errors.Errorf("queue %q: unknown order %d", opts.Name, int(opts.Order))
	}

	q := &BlockingQueue[T]{
		name:      opts.Name,
		policy:    opts.Policy,
		order:     opts.Order,
		capacity:  opts.Capacity,
		pushSide:  newDirection(),
		popSide:   newDirection(),
		items:     make([]queueElement[T], 0, defaultQueueCap),
		budget:    opts.Budget,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
	if q.name == "" {
		q.name = "queue"
	}
	if q.budget == (QuiesceBudget{}) {
		q.budget = DefaultQuiesceBudget()
	}
	if q.metrics == nil {
		q.metrics = &NilMetrics{}
	}
	if q.logger == nil {
		q.logger = NewNoOpLogger()
	}
	return q, nil
}

// SetReleaser installs the function releasing items discarded by shutdown.
// Call it before the queue is shared.
func (q *BlockingQueue[T]) SetReleaser(fn func(T)) {
	q.releaser = fn
}

func (q *BlockingQueue[T]) Name() string        { return q.name }
func (q *BlockingQueue[T]) Policy() QueuePolicy { return q.policy }
func (q *BlockingQueue[T]) Order() QueueOrder   { return q.order }

// Capacity returns the bound of the queue, 0 if unbounded.
func (q *BlockingQueue[T]) Capacity() int { return q.capacity }

// Len returns the number of queued items.
func (q *BlockingQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lenLocked()
}

func (q *BlockingQueue[T]) IsEmpty() bool { return q.Len() == 0 }

func (q *BlockingQueue[T]) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.fullLocked()
}

// State returns the current queue state.
func (q *BlockingQueue[T]) State() QueueState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stateLocked()
}

func (q *BlockingQueue[T]) stateLocked() QueueState {
	switch {
	case q.shuttingDown:
		return QueueShuttingDown
	case q.waitingFull:
		return QueueWaitingFull
	case q.waitingEmpty:
		return QueueWaitingEmpty
	default:
		return QueueIdle
	}
}

// IsShuttingDown reports whether Shutdown was called.
func (q *BlockingQueue[T]) IsShuttingDown() bool { return q.State() == QueueShuttingDown }

// =============================================================================
// Push
// =============================================================================

// Push appends item. It blocks while a block-on-full queue is full.
// An exception-on-full queue returns ErrQueueFull when full.
// It returns false without error when the queue is shutting down.
func (q *BlockingQueue[T]) Push(item T) (bool, error) {
	return q.push(item, waiter{block: true})
}

// PushWait is Push giving up after timeout. A non-positive timeout does not wait.
func (q *BlockingQueue[T]) PushWait(item T, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		return q.PushNowait(item)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	return q.push(item, waiter{block: true, deadline: timer.C})
}

// PushContext is Push giving up when ctx is done.
func (q *BlockingQueue[T]) PushContext(ctx context.Context, item T) (bool, error) {
	return q.push(item, waiter{block: true, done: ctx.Done()})
}

// PushNowait is Push that never blocks: a full block-on-full queue returns false.
func (q *BlockingQueue[T]) PushNowait(item T) (bool, error) {
	return q.push(item, waiter{})
}

func (q *BlockingQueue[T]) push(item T, w waiter) (bool, error) {
	q.mu.Lock()
	if q.shuttingDown {
		discarded := q.shutdownResidueLocked()
		q.mu.Unlock()
		q.reject("shutdown", discarded)
		return false, nil
	}
	if !q.fullLocked() {
		depth, wake := q.appendLocked(item)
		q.mu.Unlock()
		q.afterPush(depth, wake)
		return true, nil
	}
	q.mu.Unlock()

	switch {
	case q.policy == PolicyExceptionOnFull:
		q.reject("full", nil)
		return false, ErrQueueFull
	case !w.block:
		q.reject("full", nil)
		return false, nil
	}
	return q.pushSlow(item, w)
}

func (q *BlockingQueue[T]) pushSlow(item T, w waiter) (bool, error) {
	if !q.pushSide.acquire(w) {
		q.reject("timeout", nil)
		return false, nil
	}
	defer q.pushSide.release()

	for {
		q.mu.Lock()
		if q.shuttingDown {
			discarded := q.shutdownResidueLocked()
			q.mu.Unlock()
			q.pushSide.signal()
			q.reject("shutdown", discarded)
			return false, nil
		}
		if !q.fullLocked() {
			depth, wake := q.appendLocked(item)
			q.mu.Unlock()
			q.afterPush(depth, wake)
			return true, nil
		}
		q.waitingFull = true
		q.mu.Unlock()

		if !q.pushSide.wait(w) {
			q.abandonWait(&q.waitingFull)
			q.reject("timeout", nil)
			return false, nil
		}
	}
}

// =============================================================================
// Pop
// =============================================================================

// Pop removes the next item. It blocks while a block-on-full queue is empty.
// An exception-on-full queue returns ErrQueueEmpty when empty; an unbounded queue
// returns ok == false. During shutdown ok is false.
func (q *BlockingQueue[T]) Pop() (T, bool, error) {
	return q.pop(waiter{block: true})
}

// PopWait is Pop giving up after timeout. A non-positive timeout does not wait.
func (q *BlockingQueue[T]) PopWait(timeout time.Duration) (T, bool, error) {
	if timeout <= 0 {
		return q.PopNowait()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	return q.pop(waiter{block: true, deadline: timer.C})
}

// PopContext is Pop giving up when ctx is done.
func (q *BlockingQueue[T]) PopContext(ctx context.Context) (T, bool, error) {
	return q.pop(waiter{block: true, done: ctx.Done()})
}

// PopNowait is Pop that never blocks. ok == false with a nil error means "no item".
func (q *BlockingQueue[T]) PopNowait() (T, bool, error) {
	return q.pop(waiter{})
}

// PopBlockingQueue polls a block-on-full queue, sleeping between attempts instead of
// waiting on the semaphore, until an item arrives or the queue shuts down.
// Other policies behave like PopNowait.
func (q *BlockingQueue[T]) PopBlockingQueue(sleep time.Duration) (T, bool, error) {
	if q.policy != PolicyBlockOnFull {
		return q.PopNowait()
	}
	if sleep <= 0 {
		sleep = time.Millisecond
	}
	for {
		item, ok, err := q.PopNowait()
		if ok || err != nil {
			return item, ok, err
		}
		if q.IsShuttingDown() {
			var zero T
			return zero, false, nil
		}
		time.Sleep(sleep)
	}
}

func (q *BlockingQueue[T]) pop(w waiter) (T, bool, error) {
	var zero T

	q.mu.Lock()
	if q.shuttingDown {
		discarded := q.shutdownResidueLocked()
		q.mu.Unlock()
		q.reject("shutdown", discarded)
		return zero, false, nil
	}
	if q.lenLocked() > 0 {
		item, depth, wake := q.takeLocked()
		q.mu.Unlock()
		q.afterPop(depth, wake)
		return item, true, nil
	}
	q.mu.Unlock()

	switch {
	case q.policy == PolicyExceptionOnFull:
		q.reject("empty", nil)
		return zero, false, ErrQueueEmpty
	case q.policy == PolicyUnbounded, !w.block:
		return zero, false, nil
	}
	return q.popSlow(w)
}

func (q *BlockingQueue[T]) popSlow(w waiter) (T, bool, error) {
	var zero T

	if !q.popSide.acquire(w) {
		q.reject("timeout", nil)
		return zero, false, nil
	}
	defer q.popSide.release()

	for {
		q.mu.Lock()
		if q.shuttingDown {
			discarded := q.shutdownResidueLocked()
			q.mu.Unlock()
			q.popSide.signal()
			q.reject("shutdown", discarded)
			return zero, false, nil
		}
		if q.lenLocked() > 0 {
			item, depth, wake := q.takeLocked()
			q.mu.Unlock()
			q.afterPop(depth, wake)
			return item, true, nil
		}
		q.waitingEmpty = true
		q.mu.Unlock()

		if !q.popSide.wait(w) {
			q.abandonWait(&q.waitingEmpty)
			q.reject("timeout", nil)
			return zero, false, nil
		}
	}
}

// =============================================================================
// Shutdown
// =============================================================================

// Shutdown drains the queue, releasing every drained item, leaves the shutdown marker
// as the only element and wakes the blocked callers, if any. Every later push or pop
// fails immediately.
func (q *BlockingQueue[T]) Shutdown() {
	q.mu.Lock()
	if q.shuttingDown {
		q.mu.Unlock()
		return
	}
	q.shuttingDown = true
	q.waitingFull = false
	q.waitingEmpty = false

	drained := make([]T, 0, len(q.items))
	for _, e := range q.items {
		if !e.marker {
			drained = append(drained, e.item)
		}
	}
	q.items = append(make([]queueElement[T], 0, 1), queueElement[T]{marker: true})
	q.markers = 1
	q.mu.Unlock()

	q.release(drained...)
	q.metrics.RecordQueueDepth(q.name, 0)
	q.logger.Debug("queue shutting down", F("queue", q.name), F("drained", len(drained)))

	q.pushSide.signal()
	q.popSide.signal()
}

// Teardown shuts the queue down and busy-waits, within the quiesce budget, until the
// marker is the only element and no caller is left in the blocking path.
// It reports whether the queue quiesced.
func (q *BlockingQueue[T]) Teardown() bool {
	q.Shutdown()

	quiesced := q.budget.await(func() bool {
		q.mu.Lock()
		n := len(q.items)
		q.mu.Unlock()
		if n != 1 {
			return false
		}
		if !q.pushSide.tryAcquire() {
			return false
		}
		q.pushSide.release()
		if !q.popSide.tryAcquire() {
			return false
		}
		q.popSide.release()
		return true
	})
	if !quiesced {
		q.logger.Warn("queue did not quiesce on teardown", F("queue", q.name))
	}
	return quiesced
}

// =============================================================================
// Internals
// =============================================================================

func (q *BlockingQueue[T]) lenLocked() int {
	return len(q.items) - q.markers
}

func (q *BlockingQueue[T]) fullLocked() bool {
	return q.policy != PolicyUnbounded && q.lenLocked() >= q.capacity
}

// appendLocked adds item and reports whether a waiting consumer must be woken.
func (q *BlockingQueue[T]) appendLocked(item T) (depth int, wake bool) {
	q.items = append(q.items, queueElement[T]{item: item})
	q.pushed++
	if q.waitingEmpty {
		q.waitingEmpty = false
		wake = true
	}
	return q.lenLocked(), wake
}

// takeLocked removes the next item and reports whether a waiting producer must be woken.
func (q *BlockingQueue[T]) takeLocked() (item T, depth int, wake bool) {
	if q.order == OrderLIFO {
		last := len(q.items) - 1
		item = q.items[last].item
		q.items[last] = queueElement[T]{}
		q.items = q.items[:last]
	} else {
		item = q.items[0].item
		// Zero out the element in the underlying array to prevent memory leak
		q.items[0] = queueElement[T]{}
		q.items = q.items[1:]
		q.maybeCompactLocked()
	}
	q.popped++
	if q.waitingFull {
		q.waitingFull = false
		wake = true
	}
	return item, q.lenLocked(), wake
}

func (q *BlockingQueue[T]) maybeCompactLocked() {
	n := len(q.items)
	c := cap(q.items)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.items = make([]queueElement[T], 0, defaultQueueCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	newCap := max(max(c/2, defaultQueueCap), n)

	newSlice := make([]queueElement[T], n, newCap)
	copy(newSlice, q.items)
	q.items = newSlice
}

// shutdownResidueLocked discards one element when more than the single marker is left,
// preferring a duplicate marker, and returns the discarded item, if any.
func (q *BlockingQueue[T]) shutdownResidueLocked() []T {
	if len(q.items) <= 1 {
		return nil
	}
	for i, e := range q.items {
		if e.marker && q.markers > 1 {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.markers--
			return nil
		}
	}
	for i, e := range q.items {
		if !e.marker {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return []T{e.item}
		}
	}
	return nil
}

// abandonWait lowers a waiting flag after a timed out or cancelled wait.
func (q *BlockingQueue[T]) abandonWait(flag *bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	*flag = false
}

// afterPush wakes a consumer blocked on an empty queue.
func (q *BlockingQueue[T]) afterPush(depth int, wake bool) {
	if wake {
		q.popSide.signal()
	}
	q.metrics.RecordQueueDepth(q.name, depth)
}

// afterPop wakes a producer blocked on a full queue.
func (q *BlockingQueue[T]) afterPop(depth int, wake bool) {
	if wake {
		q.pushSide.signal()
	}
	q.metrics.RecordQueueDepth(q.name, depth)
}

func (q *BlockingQueue[T]) reject(reason string, discarded []T) {
	q.mu.Lock()
	q.rejected++
	q.mu.Unlock()

	q.release(discarded...)
	q.metrics.RecordQueueRejected(q.name, reason)
}

func (q *BlockingQueue[T]) release(items ...T) {
	if q.releaser == nil {
		return
	}
	for _, item := range items {
		q.releaser(item)
	}
}

// Stats returns a snapshot of the queue.
func (q *BlockingQueue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return QueueStats{
		Name:     q.name,
		Policy:   q.policy,
		Order:    q.order,
		Capacity: q.capacity,
		Len:      q.lenLocked(),
		State:    q.stateLocked(),
		Pushed:   q.pushed,
		Popped:   q.popped,
		Rejected: q.rejected,
	}
}
