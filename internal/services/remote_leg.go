package services

import (
	"context"
	"fmt"
	"log/slog"

	"fintrack/internal/core"
	"fintrack/internal/log"
)

// RemoteLeg executes remote tasks against the backend. Both the in-process
// queue and the AMQP worker run tasks through it.
type RemoteLeg struct {
	remote RemoteLedger
}

func NewRemoteLeg(remote RemoteLedger) *RemoteLeg {
	return &RemoteLeg{remote: remote}
}

// Execute performs one task with the given bearer. The remote's answer is not
// written back locally; pull is what picks up server ids.
func (l *RemoteLeg) Execute(ctx context.Context, token string, t RemoteTask) error {
	if token == "" {
		return core.ErrUnauthenticated
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidRecord, err)
	}

	var err error
	switch t.Entity {
	case EntityTransaction:
		switch t.Kind {
		case TaskCreate:
			_, err = l.remote.CreateTransaction(ctx, token, *t.Transaction)
		case TaskUpdate:
			_, err = l.remote.UpdateTransaction(ctx, token, t.ServerID, *t.Transaction)
		case TaskDelete:
			err = l.remote.DeleteTransaction(ctx, token, t.ServerID)
		}
	case EntityBudget:
		switch t.Kind {
		case TaskCreate:
			_, err = l.remote.CreateBudget(ctx, token, *t.Budget)
		case TaskUpdate:
			_, err = l.remote.UpdateBudget(ctx, token, t.ServerID, *t.Budget)
		case TaskDelete:
			err = l.remote.DeleteBudget(ctx, token, t.ServerID)
		}
	case EntityCategory:
		switch t.Kind {
		case TaskCreate:
			_, err = l.remote.CreateCategory(ctx, token, *t.Category)
		case TaskDelete:
			err = l.remote.DeleteCategory(ctx, token, t.ServerID)
		}
	}
	if err != nil {
		return err
	}

	slog.DebugContext(ctx, "Remote task completed",
		log.FieldComponent, log.ComponentSync,
		log.FieldTaskID, t.ID,
		log.FieldOperation, string(t.Kind),
		log.FieldEntity, string(t.Entity),
		log.FieldLocalID, t.LocalID)
	return nil
}
