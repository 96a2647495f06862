package services

import (
	"errors"
	"fmt"
	"time"

	"fintrack/internal/dto"

	"github.com/google/uuid"
)

type TaskKind string

const (
	TaskCreate TaskKind = "create"
	TaskUpdate TaskKind = "update"
	TaskDelete TaskKind = "delete"
)

type EntityKind string

const (
	EntityTransaction EntityKind = "transaction"
	EntityBudget      EntityKind = "budget"
	EntityCategory    EntityKind = "category"
)

var (
	ErrQueueFull    = errors.New("remote queue is full")
	ErrQueueStopped = errors.New("remote queue is stopped")
)

// RemoteTask is one remote call scheduled after a local write. It carries the
// wire payload but never the credential; whoever executes it supplies the
// bearer of the owning user.
type RemoteTask struct {
	ID          string              `json:"id"`
	Kind        TaskKind            `json:"kind"`
	Entity      EntityKind          `json:"entity"`
	UserID      string              `json:"userId"`
	LocalID     int64               `json:"localId"`
	ServerID    string              `json:"serverId,omitempty"`
	Transaction *dto.TransactionDTO `json:"transaction,omitempty"`
	Budget      *dto.BudgetDTO      `json:"budget,omitempty"`
	Category    *dto.CategoryDTO    `json:"category,omitempty"`
	Attempt     int                 `json:"attempt"`
	CreatedAt   time.Time           `json:"createdAt"`
}

func newTask(kind TaskKind, entity EntityKind, userID string, localID int64, serverID string) RemoteTask {
	return RemoteTask{
		ID:        uuid.NewString(),
		Kind:      kind,
		Entity:    entity,
		UserID:    userID,
		LocalID:   localID,
		ServerID:  serverID,
		CreatedAt: time.Now().UTC(),
	}
}

func (t RemoteTask) String() string {
	return fmt.Sprintf("%s %s local=%d server=%q", t.Kind, t.Entity, t.LocalID, t.ServerID)
}

// Validate checks that the task carries what its kind needs.
func (t RemoteTask) Validate() error {
	switch t.Kind {
	case TaskCreate, TaskUpdate, TaskDelete:
	default:
		return fmt.Errorf("unknown task kind %q", t.Kind)
	}
	if t.Kind != TaskCreate && t.ServerID == "" {
		return fmt.Errorf("%s %s without server id", t.Kind, t.Entity)
	}
	if t.Kind == TaskDelete {
		return nil
	}
	switch t.Entity {
	case EntityTransaction:
		if t.Transaction == nil {
			return errors.New("transaction task without payload")
		}
	case EntityBudget:
		if t.Budget == nil {
			return errors.New("budget task without payload")
		}
	case EntityCategory:
		if t.Category == nil {
			return errors.New("category task without payload")
		}
		if t.Kind == TaskUpdate {
			return errors.New("categories cannot be updated remotely")
		}
	default:
		return fmt.Errorf("unknown entity %q", t.Entity)
	}
	return nil
}
