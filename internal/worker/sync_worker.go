package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/services"
	"fintrack/internal/session"
)

// TaskExecutor runs one remote task with the given bearer.
type TaskExecutor interface {
	Execute(ctx context.Context, token string, task services.RemoteTask) error
}

// Syncer is the convergence pass run periodically.
type Syncer interface {
	Sync(ctx context.Context, sess session.Context) (services.SyncReport, error)
}

// SessionLoader yields the session persisted by the CLI.
type SessionLoader interface {
	Load(ctx context.Context) (session.Context, error)
}

type Config struct {
	// MaxRetries is how many times a failing task is retried before it is dropped
	MaxRetries int
	// SyncInterval is the period of the background Sync; zero disables it
	SyncInterval time.Duration
	// Backoff returns the delay before retry number attempt
	Backoff func(attempt int) time.Duration
}

// SyncWorker executes remote tasks consumed from the broker on behalf of the
// persisted session and periodically pulls and pushes the ledger.
type SyncWorker struct {
	executor TaskExecutor
	syncer   Syncer
	sessions SessionLoader
	config   Config
}

func NewSyncWorker(executor TaskExecutor, syncer Syncer, sessions SessionLoader, config Config) *SyncWorker {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.Backoff == nil {
		config.Backoff = amqp.Backoff
	}
	return &SyncWorker{
		executor: executor,
		syncer:   syncer,
		sessions: sessions,
		config:   config,
	}
}

// HandleTaskMessage processes a single task message from AMQP. Returning nil
// acknowledges the message, including tasks that are dropped for good.
func (w *SyncWorker) HandleTaskMessage(ctx context.Context, msg *amqp.TaskMessage) error {
	task := msg.Task

	sess, err := w.sessions.Load(ctx)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	token, ok := sess.CurrentBearer()
	if !ok {
		slog.WarnContext(ctx, "No session, dropping remote task",
			log.FieldComponent, log.ComponentWorker,
			log.FieldTaskID, task.ID,
			log.FieldUserID, task.UserID)
		return nil
	}
	if sess.CurrentUserID() != task.UserID {
		slog.WarnContext(ctx, "Remote task belongs to another user, dropping",
			log.FieldComponent, log.ComponentWorker,
			log.FieldTaskID, task.ID,
			log.FieldUserID, task.UserID,
			"session_user_id", sess.CurrentUserID())
		return nil
	}

	for attempt := task.Attempt; ; attempt++ {
		err := w.executor.Execute(ctx, token, task)
		if err == nil {
			slog.InfoContext(ctx, "Remote task completed",
				log.FieldComponent, log.ComponentWorker,
				log.FieldTaskID, task.ID,
				log.FieldOperation, string(task.Kind),
				log.FieldEntity, string(task.Entity),
				log.FieldLocalID, task.LocalID,
				log.FieldAttempt, attempt+1)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryable(err) || attempt >= w.config.MaxRetries {
			slog.ErrorContext(ctx, "Remote task failed, giving up",
				log.FieldComponent, log.ComponentWorker,
				log.FieldTaskID, task.ID,
				log.FieldOperation, string(task.Kind),
				log.FieldEntity, string(task.Entity),
				log.FieldLocalID, task.LocalID,
				log.FieldServerID, task.ServerID,
				log.FieldAttempt, attempt+1,
				log.FieldError, err)
			return nil
		}

		wait := w.config.Backoff(attempt)
		slog.WarnContext(ctx, "Remote task failed, retrying",
			log.FieldComponent, log.ComponentWorker,
			log.FieldTaskID, task.ID,
			log.FieldAttempt, attempt+1,
			"retry_in", wait,
			log.FieldError, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// retryable reports whether another attempt could succeed. Authentication
// and client errors will not change by retrying.
func retryable(err error) bool {
	if errors.Is(err, core.ErrUnauthenticated) || errors.Is(err, core.ErrInvalidRecord) {
		return false
	}
	var protoErr *core.RemoteProtocolError
	if errors.As(err, &protoErr) {
		return protoErr.StatusCode == 0 ||
			protoErr.StatusCode >= http.StatusInternalServerError ||
			protoErr.StatusCode == http.StatusTooManyRequests ||
			protoErr.StatusCode == http.StatusRequestTimeout
	}
	return true
}

// SyncOnce runs one Sync with the persisted session. An anonymous session is
// not an error; there is simply nothing to sync.
func (w *SyncWorker) SyncOnce(ctx context.Context) error {
	sess, err := w.sessions.Load(ctx)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if !sess.Authenticated() {
		slog.DebugContext(ctx, "No session, skipping periodic sync", log.FieldComponent, log.ComponentWorker)
		return nil
	}

	start := time.Now()
	report, err := w.syncer.Sync(ctx, sess)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	slog.InfoContext(ctx, "Periodic sync completed",
		log.FieldComponent, log.ComponentWorker,
		log.FieldUserID, sess.CurrentUserID(),
		"transactions_inserted", report.Transactions.Inserted,
		"transactions_updated", report.Transactions.Updated,
		"budgets_inserted", report.Budgets.Inserted,
		"budgets_updated", report.Budgets.Updated,
		"categories_inserted", report.Categories.Inserted,
		"pushed", report.Push.Accepted,
		log.FieldDuration, time.Since(start).Milliseconds())
	return nil
}

// RunPeriodicSync calls SyncOnce every SyncInterval until ctx ends. Failures
// are logged and the loop continues.
func (w *SyncWorker) RunPeriodicSync(ctx context.Context) error {
	if w.config.SyncInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(w.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.SyncOnce(ctx); err != nil && ctx.Err() == nil {
				slog.ErrorContext(ctx, "Periodic sync failed",
					log.FieldComponent, log.ComponentWorker,
					log.FieldError, err)
			}
		}
	}
}

// StartupSync runs one sync at worker start to catch up after downtime.
func (w *SyncWorker) StartupSync(ctx context.Context) {
	if err := w.SyncOnce(ctx); err != nil {
		slog.WarnContext(ctx, "Startup sync failed, continuing",
			log.FieldComponent, log.ComponentWorker,
			log.FieldError, err)
	}
}
