package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fintrack/internal/log"
	"fintrack/internal/session"

	"golang.org/x/sync/errgroup"
)

// RemoteQueue schedules the remote leg of a local mutation. Submit must not
// block and must eventually resolve the receipt.
type RemoteQueue interface {
	Submit(sess session.Context, task RemoteTask, receipt *Receipt)
}

// InProcessQueueConfig holds configuration for the in-process remote queue
type InProcessQueueConfig struct {
	// Workers is the number of concurrent remote calls (default: 2)
	Workers int

	// QueueSize is how many tasks may wait before Submit rejects (default: 64)
	QueueSize int

	// TaskTimeout bounds a single remote call (default: 15s)
	TaskTimeout time.Duration
}

// DefaultInProcessQueueConfig returns sensible defaults
func DefaultInProcessQueueConfig() InProcessQueueConfig {
	return InProcessQueueConfig{
		Workers:     2,
		QueueSize:   64,
		TaskTimeout: 15 * time.Second,
	}
}

type queuedTask struct {
	token   string
	task    RemoteTask
	receipt *Receipt
}

// InProcessQueue runs remote tasks on a fixed pool of goroutines that belong
// to the queue, not to the callers. A task outlives the request that
// submitted it; it is bounded by the queue lifetime and TaskTimeout.
type InProcessQueue struct {
	leg    *RemoteLeg
	config InProcessQueueConfig

	// Lifecycle management
	mu      sync.Mutex
	running bool
	jobs    chan queuedTask
	stopCh  chan struct{}
	doneCh  chan struct{}
	cancel  context.CancelFunc
}

// NewInProcessQueue creates a new queue; call Start before submitting.
func NewInProcessQueue(leg *RemoteLeg, config InProcessQueueConfig) *InProcessQueue {
	def := DefaultInProcessQueueConfig()
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = def.TaskTimeout
	}
	return &InProcessQueue{leg: leg, config: config}
}

// Start launches the workers. Returns an error if already running.
// Cancelling ctx aborts in-flight remote calls.
func (q *InProcessQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return fmt.Errorf("remote queue is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	jobs := make(chan queuedTask, q.config.QueueSize)
	stop := make(chan struct{})
	done := make(chan struct{})
	q.running = true
	q.cancel = cancel
	q.jobs, q.stopCh, q.doneCh = jobs, stop, done

	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < q.config.Workers; i++ {
		g.Go(func() error {
			q.runLoop(gctx, jobs, stop)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		q.drain(jobs)
		close(done)
	}()

	slog.InfoContext(ctx, "Remote queue started",
		log.FieldComponent, log.ComponentQueue,
		"workers", q.config.Workers,
		"queue_size", q.config.QueueSize)
	return nil
}

// Submit enqueues the task without blocking. A full or stopped queue
// resolves the receipt as failed.
func (q *InProcessQueue) Submit(sess session.Context, task RemoteTask, receipt *Receipt) {
	token, ok := sess.CurrentBearer()
	if !ok {
		receipt.resolve(RemoteSkipped, nil)
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		q.reject(task, receipt, ErrQueueStopped)
		return
	}
	select {
	case q.jobs <- queuedTask{token: token, task: task, receipt: receipt}:
	default:
		q.reject(task, receipt, ErrQueueFull)
	}
}

func (q *InProcessQueue) reject(task RemoteTask, receipt *Receipt, err error) {
	slog.Warn("Remote task rejected",
		log.FieldComponent, log.ComponentQueue,
		log.FieldTaskID, task.ID,
		log.FieldEntity, string(task.Entity),
		log.FieldLocalID, task.LocalID,
		log.FieldError, err)
	receipt.resolve(RemoteFailed, err)
}

// Stop stops accepting tasks, lets in-flight calls finish and fails whatever
// is still waiting. If ctx ends first, in-flight calls are cancelled.
func (q *InProcessQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	close(q.stopCh)
	done, cancel := q.doneCh, q.cancel
	q.mu.Unlock()

	defer cancel()
	select {
	case <-done:
		slog.InfoContext(ctx, "Remote queue stopped gracefully", log.FieldComponent, log.ComponentQueue)
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		slog.WarnContext(ctx, "Remote queue stop timed out", log.FieldComponent, log.ComponentQueue)
		return ctx.Err()
	}
}

// IsRunning returns whether the queue is accepting tasks
func (q *InProcessQueue) IsRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}

// Pending returns how many tasks are waiting for a worker.
func (q *InProcessQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.jobs == nil {
		return 0
	}
	return len(q.jobs)
}

func (q *InProcessQueue) runLoop(ctx context.Context, jobs <-chan queuedTask, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case j := <-jobs:
			q.process(ctx, j)
		}
	}
}

func (q *InProcessQueue) process(ctx context.Context, j queuedTask) {
	taskCtx, cancel := context.WithTimeout(ctx, q.config.TaskTimeout)
	defer cancel()

	if err := q.leg.Execute(taskCtx, j.token, j.task); err != nil {
		slog.WarnContext(ctx, "Remote sync failed, local copy kept",
			log.FieldComponent, log.ComponentSync,
			log.FieldTaskID, j.task.ID,
			log.FieldOperation, string(j.task.Kind),
			log.FieldEntity, string(j.task.Entity),
			log.FieldUserID, j.task.UserID,
			log.FieldLocalID, j.task.LocalID,
			log.FieldServerID, j.task.ServerID,
			log.FieldError, err)
		j.receipt.resolve(RemoteFailed, err)
		return
	}
	j.receipt.resolve(RemoteSynced, nil)
}

// drain fails tasks that were still waiting when the workers exited.
func (q *InProcessQueue) drain(jobs chan queuedTask) {
	for {
		select {
		case j := <-jobs:
			j.receipt.resolve(RemoteFailed, ErrQueueStopped)
		default:
			return
		}
	}
}
