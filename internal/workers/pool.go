package workers

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aatumaykin/nexbeat/internal/guard"
	"github.com/aatumaykin/nexbeat/internal/logger"
	"github.com/aatumaykin/nexbeat/internal/metrics"
)

type queuedTask struct {
	req    Request
	handle *Handle
	ctx    context.Context
	cancel context.CancelFunc
}

// WorkerPool manages a pool of goroutine workers for concurrent task execution.
type WorkerPool struct {
	taskQueue chan queuedTask
	workers   int
	wg        *taskWaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *logger.Logger
	stats     *PoolMetrics
	prom      *metrics.Metrics
	guard     *guard.Guard
	timeout   time.Duration
	onResult  func(Result)

	mu       sync.RWMutex
	bodies   map[string]Body
	inflight map[string]context.CancelFunc
	started  bool
	stopped  bool
}

// Option configures a WorkerPool.
type Option func(*WorkerPool)

// WithGuard runs every body inside g.
func WithGuard(g *guard.Guard) Option {
	return func(p *WorkerPool) { p.guard = g }
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *WorkerPool) { p.prom = m }
}

// WithTaskTimeout bounds every task. Zero means no bound.
func WithTaskTimeout(d time.Duration) Option {
	return func(p *WorkerPool) { p.timeout = d }
}

// WithResultHook is called after every finished task.
func WithResultHook(fn func(Result)) Option {
	return func(p *WorkerPool) { p.onResult = fn }
}

// NewPool creates a new worker pool with the specified configuration.
func NewPool(workers int, bufferSize int, log *logger.Logger, opts ...Option) *WorkerPool {
	if workers <= 0 {
		workers = DefaultPoolSize
	}
	if bufferSize <= 0 {
		bufferSize = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		taskQueue: make(chan queuedTask, bufferSize),
		workers:   workers,
		wg:        newTaskWaitGroup(),
		ctx:       ctx,
		cancel:    cancel,
		logger:    log.Component("workers"),
		stats:     &PoolMetrics{},
		bodies:    make(map[string]Body),
		inflight:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register binds a task name to a body. Registering a name twice replaces the body.
func (p *WorkerPool) Register(name string, body Body) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bodies[name] = body
}

// TaskNames returns the registered names in sorted order.
func (p *WorkerPool) TaskNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.bodies))
	for name := range p.bodies {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Start initializes and starts all worker goroutines.
func (p *WorkerPool) Start() {
	p.mu.Lock()
	if p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.logger.Info("starting worker pool",
		logger.Field{Key: "workers", Value: p.workers},
		logger.Field{Key: "buffer_size", Value: cap(p.taskQueue)})

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Dispatch enqueues req without blocking and returns its handle.
// Unknown task names, a full queue and a stopped pool wrap ErrDispatchFailed.
func (p *WorkerPool) Dispatch(ctx context.Context, req Request) (*Handle, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: pool stopped", ErrDispatchFailed)
	}
	if _, ok := p.bodies[req.TaskName]; !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: unknown task %q", ErrDispatchFailed, req.TaskName)
	}
	if _, dup := p.inflight[req.ID]; dup {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: task %s already in flight", ErrDispatchFailed, req.ID)
	}

	taskCtx, cancel := context.WithCancel(p.ctx)
	qt := queuedTask{req: req, handle: newHandle(req.ID, req.TaskName), ctx: taskCtx, cancel: cancel}

	select {
	case p.taskQueue <- qt:
		p.inflight[req.ID] = cancel
	default:
		p.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("%w: queue full (%d)", ErrDispatchFailed, cap(p.taskQueue))
	}
	p.mu.Unlock()

	p.incrementSubmitted()
	p.prom.TaskDispatched(req.TaskName)
	p.prom.SetQueueDepth(len(p.taskQueue))

	p.logger.DebugCtx(ctx, "task dispatched",
		logger.Field{Key: "task_id", Value: req.ID},
		logger.Field{Key: "task_name", Value: req.TaskName},
		logger.Field{Key: "schedule_id", Value: req.ScheduleID})

	return qt.handle, nil
}

// Cancel cancels a queued or running task. It reports whether id was in flight.
func (p *WorkerPool) Cancel(id string) bool {
	p.mu.Lock()
	cancel, ok := p.inflight[id]
	p.mu.Unlock()
	if ok {
		cancel()
		p.logger.Info("task cancelled", logger.Field{Key: "task_id", Value: id})
	}
	return ok
}

// InFlight reports whether id is queued or running.
func (p *WorkerPool) InFlight(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.inflight[id]
	return ok
}

// Stop cancels running tasks, waits for workers and fails anything still
// queued. Queued tasks of a schedule pass through the guard so their rows
// are released.
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	// No dispatcher can enqueue once stopped is set.
	close(p.taskQueue)
	for qt := range p.taskQueue {
		p.forget(qt.req.ID)
		qt.cancel()
		if qt.req.ScheduleID != 0 {
			// The body sees a cancelled context and never starts; the
			// guard still clears the row the beat marked running.
			if err := p.executeTask(qt.ctx, qt.req); err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Warn("failed to release queued task",
					logger.Field{Key: "task_id", Value: qt.req.ID},
					logger.Field{Key: "schedule_id", Value: qt.req.ScheduleID},
					logger.Field{Key: "error", Value: err})
			}
		}
		qt.handle.finish(fmt.Errorf("%w: pool stopped before task %s ran", context.Canceled, qt.req.ID))
		p.incrementCancelled()
	}

	stats := p.Metrics()
	p.logger.Info("worker pool stopped",
		logger.Field{Key: "tasks_submitted", Value: stats.TasksSubmitted},
		logger.Field{Key: "tasks_completed", Value: stats.TasksCompleted},
		logger.Field{Key: "tasks_failed", Value: stats.TasksFailed},
		logger.Field{Key: "tasks_cancelled", Value: stats.TasksCancelled})
}

// Run starts the pool and stops it when ctx is done.
func (p *WorkerPool) Run(ctx context.Context) error {
	p.Start()
	<-ctx.Done()
	p.Stop()
	return nil
}

// WorkerCount returns the number of active workers.
func (p *WorkerPool) WorkerCount() int {
	return p.workers
}

// QueueSize returns the current number of tasks waiting in the queue.
func (p *WorkerPool) QueueSize() int {
	return len(p.taskQueue)
}

func (p *WorkerPool) forget(id string) {
	p.mu.Lock()
	delete(p.inflight, id)
	p.mu.Unlock()
}

func (p *WorkerPool) body(name string) (Body, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.bodies[name]
	return b, ok
}

// taskWaitGroup wraps sync.WaitGroup with thread-safe metrics access.
type taskWaitGroup struct {
	sync.RWMutex
	wg sync.WaitGroup
}

func newTaskWaitGroup() *taskWaitGroup {
	return &taskWaitGroup{}
}

func (twg *taskWaitGroup) Add(delta int) {
	twg.wg.Add(delta)
}

func (twg *taskWaitGroup) Done() {
	twg.wg.Done()
}

func (twg *taskWaitGroup) Wait() {
	twg.wg.Wait()
}
