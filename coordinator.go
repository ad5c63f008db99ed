package conductor

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Coordinator pool bounds and scaling policy.
const (
	DefaultMinWorkers = 2
	DefaultMaxWorkers = 10

	coordinatorInterval = 5 * time.Second
	shutdownGrace       = 30 * time.Second

	scaleUpUtilization   = 0.8
	scaleUpQueueDepth    = 5
	scaleUpAvgWait       = 2 * time.Second
	scaleDownUtilization = 0.3
	scaleDownQueueDepth  = 2
	scaleDownMinIdle     = 2

	// EMA weights for average wait and task time.
	emaOld = 0.8
	emaNew = 0.2
)

// Task is a unit of coordinated work. The context is canceled when the
// coordinator shuts down.
type Task func(ctx context.Context) error

// TaskHandle tracks a submitted task to completion.
type TaskHandle struct {
	id   string
	done chan struct{}
	err  error
}

// ID returns the task's assigned ID.
func (h *TaskHandle) ID() string { return h.id }

// Wait blocks until the task completes or ctx ends, returning the task's
// error (or ctx.Err()).
func (h *TaskHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CoordinatorMetrics is a sampled view of pool state. Wait and task times
// are exponential moving averages; scaling decisions read these, never
// instantaneous values.
type CoordinatorMetrics struct {
	Workers        int
	Busy           int
	QueueDepth     int
	Utilization    float64
	AvgWaitSeconds float64
	AvgTaskSeconds float64
	SuccessRate    float64
	Efficiency     float64
}

type queuedTask struct {
	priority   int
	seq        uint64
	enqueuedAt time.Time
	fn         Task
	handle     *TaskHandle
}

// Coordinator is a bounded, priority-ordered worker pool that scales itself
// between min and max workers based on sampled utilization, queue depth, and
// wait time.
type Coordinator struct {
	min      int
	max      int
	interval time.Duration
	grace    time.Duration
	logger   *slog.Logger
	tracer   Tracer

	baseCtx context.Context
	cancel  context.CancelFunc

	mu        sync.Mutex
	queue     taskQueue
	seq       uint64
	workers   int
	busy      int
	closed    bool
	avgWait   float64 // seconds, EMA
	avgTask   float64 // seconds, EMA
	completed int64
	succeeded int64
	lastScale time.Time

	notify      chan struct{} // wakes the dispatcher on submit
	taskCh      chan *queuedTask
	shrink      chan struct{}
	stopWorkers chan struct{}
	stopLoops   chan struct{}
	wg          sync.WaitGroup
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WorkerBounds sets the minimum and maximum pool size.
func WorkerBounds(min, max int) CoordinatorOption {
	return func(c *Coordinator) { c.min, c.max = min, max }
}

// ScaleInterval overrides the metrics sampling interval (default 5s).
func ScaleInterval(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.interval = d }
}

// ShutdownGrace overrides how long Close waits for queued and running tasks
// before canceling them (default 30s).
func ShutdownGrace(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.grace = d }
}

// CoordinatorLogger sets the structured logger.
func CoordinatorLogger(l *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = l }
}

// CoordinatorTracer sets the tracer for per-task spans.
func CoordinatorTracer(t Tracer) CoordinatorOption {
	return func(c *Coordinator) { c.tracer = t }
}

// NewCoordinator creates and starts a coordinator with min workers running.
func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		min:         DefaultMinWorkers,
		max:         DefaultMaxWorkers,
		interval:    coordinatorInterval,
		grace:       shutdownGrace,
		notify:      make(chan struct{}, 1),
		taskCh:      make(chan *queuedTask),
		shrink:      make(chan struct{}),
		stopWorkers: make(chan struct{}),
		stopLoops:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = nopLogger
	}
	if c.min < 1 {
		c.min = 1
	}
	if c.max < c.min {
		c.max = c.min
	}
	c.baseCtx, c.cancel = context.WithCancel(context.Background())

	for i := 0; i < c.min; i++ {
		c.spawn()
	}
	go c.dispatch()
	go c.scaleLoop()
	return c
}

// Submit enqueues fn with the given priority (higher runs first; ties run in
// submission order). Returns ErrClosed after Close.
func (c *Coordinator) Submit(priority int, fn Task) (*TaskHandle, error) {
	h := &TaskHandle{id: NewID(), done: make(chan struct{})}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.seq++
	heap.Push(&c.queue, &queuedTask{
		priority:   priority,
		seq:        c.seq,
		enqueuedAt: time.Now(),
		fn:         fn,
		handle:     h,
	})
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return h, nil
}

// Metrics returns a point-in-time metrics snapshot.
func (c *Coordinator) Metrics() CoordinatorMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metricsLocked()
}

func (c *Coordinator) metricsLocked() CoordinatorMetrics {
	m := CoordinatorMetrics{
		Workers:        c.workers,
		Busy:           c.busy,
		QueueDepth:     c.queue.Len(),
		AvgWaitSeconds: c.avgWait,
		AvgTaskSeconds: c.avgTask,
		SuccessRate:    1,
	}
	if c.workers > 0 {
		m.Utilization = float64(c.busy) / float64(c.workers)
	}
	if c.completed > 0 {
		m.SuccessRate = float64(c.succeeded) / float64(c.completed)
	}
	throughput := 1.0
	if c.avgTask > 0 {
		throughput = 10 / c.avgTask
		if throughput > 1 {
			throughput = 1
		}
	}
	m.Efficiency = 0.7*m.SuccessRate + 0.3*throughput
	return m
}

// Close stops intake, drains queued and running tasks for up to the grace
// period, then cancels the remainder and stops all workers. Tasks still
// queued at that point complete with ErrClosed so no handle is left waiting.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	deadline := time.Now().Add(c.grace)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		idle := c.queue.Len() == 0 && c.busy == 0
		c.mu.Unlock()
		if idle {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	c.cancel()
	close(c.stopLoops)
	close(c.stopWorkers)
	c.wg.Wait()

	// Anything still in the heap never reached a worker.
	c.mu.Lock()
	for c.queue.Len() > 0 {
		t := heap.Pop(&c.queue).(*queuedTask)
		t.handle.err = ErrClosed
		close(t.handle.done)
	}
	c.mu.Unlock()
}

// --- internals ---

// dispatch moves tasks from the priority queue to idle workers.
func (c *Coordinator) dispatch() {
	for {
		c.mu.Lock()
		if c.queue.Len() == 0 {
			c.mu.Unlock()
			select {
			case <-c.notify:
				continue
			case <-c.stopLoops:
				return
			}
		}
		t := heap.Pop(&c.queue).(*queuedTask)
		c.mu.Unlock()

		select {
		case c.taskCh <- t:
		case <-c.stopLoops:
			t.handle.err = ErrClosed
			close(t.handle.done)
			return
		}
	}
}

func (c *Coordinator) spawn() {
	c.mu.Lock()
	c.workers++
	c.mu.Unlock()
	c.wg.Add(1)
	go c.worker()
}

func (c *Coordinator) worker() {
	defer c.wg.Done()
	for {
		select {
		case t := <-c.taskCh:
			c.run(t)
		case <-c.shrink:
			c.mu.Lock()
			c.workers--
			c.mu.Unlock()
			return
		case <-c.stopWorkers:
			return
		}
	}
}

func (c *Coordinator) run(t *queuedTask) {
	wait := time.Since(t.enqueuedAt).Seconds()
	c.mu.Lock()
	c.busy++
	c.avgWait = ema(c.avgWait, wait, c.completed == 0)
	c.mu.Unlock()

	ctx := c.baseCtx
	if c.tracer != nil {
		var span Span
		ctx, span = c.tracer.Start(ctx, "coordinator.task",
			StringAttr("task.id", t.handle.id),
			IntAttr("task.priority", t.priority))
		defer span.End()
	}

	start := time.Now()
	err := runRecovered(ctx, t.fn)
	elapsed := time.Since(start).Seconds()

	c.mu.Lock()
	c.busy--
	c.avgTask = ema(c.avgTask, elapsed, c.completed == 0)
	c.completed++
	if err == nil {
		c.succeeded++
	}
	c.mu.Unlock()

	t.handle.err = err
	close(t.handle.done)
	if err != nil {
		c.logger.Warn("task failed", "task", t.handle.id, "error", err)
	}
}

// scaleLoop samples metrics and adjusts the pool, one worker per interval.
func (c *Coordinator) scaleLoop() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopLoops:
			return
		case <-ticker.C:
			c.maybeScale()
		}
	}
}

func (c *Coordinator) maybeScale() {
	c.mu.Lock()
	m := c.metricsLocked()
	workers := c.workers
	cooling := time.Since(c.lastScale) < c.interval
	c.mu.Unlock()
	if cooling {
		return
	}

	idle := m.Workers - m.Busy
	switch {
	case workers < c.max &&
		m.Utilization > scaleUpUtilization &&
		m.QueueDepth > scaleUpQueueDepth &&
		m.AvgWaitSeconds > scaleUpAvgWait.Seconds():
		c.spawn()
		c.markScaled()
		c.logger.Info("scaled up", "workers", workers+1, "queue", m.QueueDepth)

	case workers > c.min &&
		m.Utilization < scaleDownUtilization &&
		m.QueueDepth < scaleDownQueueDepth &&
		idle >= scaleDownMinIdle:
		// Only an idle worker will pick this up; skip if all are busy.
		select {
		case c.shrink <- struct{}{}:
			c.markScaled()
			c.logger.Info("scaled down", "workers", workers-1)
		default:
		}
	}
}

func (c *Coordinator) markScaled() {
	c.mu.Lock()
	c.lastScale = time.Now()
	c.mu.Unlock()
}

func ema(old, sample float64, first bool) float64 {
	if first {
		return sample
	}
	return emaOld*old + emaNew*sample
}

func runRecovered(ctx context.Context, fn Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task panic: %v", p)
		}
	}()
	return fn(ctx)
}

// --- priority queue ---

// taskQueue orders by priority descending, then submission order.
type taskQueue []*queuedTask

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *taskQueue) Push(x any) { *q = append(*q, x.(*queuedTask)) }

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}
