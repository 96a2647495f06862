package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fintrack/internal/log"
	"fintrack/internal/session"
)

// TaskPublisher hands a task to durable storage, e.g. a message broker.
type TaskPublisher interface {
	PublishTask(ctx context.Context, task RemoteTask) error
}

const durableQueueSize = 64

type publishJob struct {
	task    RemoteTask
	receipt *Receipt
}

// DurableQueue publishes remote tasks instead of running them. A separate
// worker executes them with its own session, so the receipt only tells
// whether the task was accepted. Publishing happens on the queue's own
// goroutine; a slow or unreachable broker never delays the local write.
type DurableQueue struct {
	publisher TaskPublisher
	timeout   time.Duration

	mu     sync.Mutex
	closed bool
	jobs   chan publishJob
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// NewDurableQueue starts the publishing goroutine. Call Close to stop it.
func NewDurableQueue(publisher TaskPublisher, publishTimeout time.Duration) *DurableQueue {
	if publishTimeout <= 0 {
		publishTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &DurableQueue{
		publisher: publisher,
		timeout:   publishTimeout,
		jobs:      make(chan publishJob, durableQueueSize),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	go q.run()
	return q
}

// Submit enqueues the publish and returns with the receipt pending. A full
// or closed queue fails the receipt; the caller's local write has already
// committed either way.
func (q *DurableQueue) Submit(sess session.Context, task RemoteTask, receipt *Receipt) {
	if !sess.Authenticated() {
		receipt.resolve(RemoteSkipped, nil)
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.fail(task, receipt, ErrQueueStopped)
		return
	}
	select {
	case q.jobs <- publishJob{task: task, receipt: receipt}:
	default:
		q.fail(task, receipt, ErrQueueFull)
	}
}

// Close stops accepting tasks and waits for the waiting ones to be
// published. If ctx ends first, outstanding publishes are cancelled and fail
// their receipts.
func (q *DurableQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		slog.WarnContext(ctx, "Durable queue close timed out", log.FieldComponent, log.ComponentQueue)
		return ctx.Err()
	}
}

// Pending returns how many tasks are waiting to be published.
func (q *DurableQueue) Pending() int {
	return len(q.jobs)
}

func (q *DurableQueue) run() {
	defer close(q.done)
	for j := range q.jobs {
		q.publish(j)
	}
}

func (q *DurableQueue) publish(j publishJob) {
	ctx, cancel := context.WithTimeout(q.ctx, q.timeout)
	defer cancel()

	if err := q.publisher.PublishTask(ctx, j.task); err != nil {
		q.fail(j.task, j.receipt, err)
		return
	}
	j.receipt.resolve(RemoteQueued, nil)
}

func (q *DurableQueue) fail(task RemoteTask, receipt *Receipt, err error) {
	slog.Warn("Failed to publish remote task, local copy kept",
		log.FieldComponent, log.ComponentQueue,
		log.FieldTaskID, task.ID,
		log.FieldOperation, string(task.Kind),
		log.FieldEntity, string(task.Entity),
		log.FieldLocalID, task.LocalID,
		log.FieldError, err)
	receipt.resolve(RemoteFailed, err)
}
