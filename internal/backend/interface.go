package backend

import (
	"context"
	"time"

	"fintrack/internal/services"
)

// CleanupFunc releases the resources behind a queue
type CleanupFunc func(ctx context.Context) error

// QueueResult contains the queue instance and its cleanup function
type QueueResult struct {
	Queue   services.RemoteQueue
	Cleanup CleanupFunc
}

// Factory creates remote queues based on configuration
type Factory interface {
	// CreateQueue builds the queue that runs the remote leg of mutations.
	// leg is only used by queues that execute tasks in process.
	CreateQueue(ctx context.Context, config Config, leg *services.RemoteLeg) (*QueueResult, error)
}

// Config holds configuration for queue creation
type Config struct {
	Type QueueType

	// In-process queue
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration

	// AMQP queue
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

// QueueType represents the type of remote queue
type QueueType string

const (
	MemoryQueue QueueType = "memory"
	AMQPQueue   QueueType = "amqp"
)

// String implements fmt.Stringer
func (qt QueueType) String() string {
	return string(qt)
}

// IsValid returns true if the queue type is valid
func (qt QueueType) IsValid() bool {
	switch qt {
	case MemoryQueue, AMQPQueue:
		return true
	default:
		return false
	}
}
