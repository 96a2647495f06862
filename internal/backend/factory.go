package backend

import (
	"context"
	"fmt"
	"log/slog"

	"fintrack/internal/amqp"
	"fintrack/internal/log"
	"fintrack/internal/services"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new queue factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger.With(log.FieldComponent, log.ComponentBackend),
	}
}

// CreateQueue implements Factory.CreateQueue
func (f *DefaultFactory) CreateQueue(ctx context.Context, config Config, leg *services.RemoteLeg) (*QueueResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case MemoryQueue:
		return f.createMemoryQueue(ctx, config, leg)
	case AMQPQueue:
		return f.createAMQPQueue(config)
	default:
		return nil, fmt.Errorf("unsupported queue type: %s", config.Type)
	}
}

func (f *DefaultFactory) createMemoryQueue(ctx context.Context, config Config, leg *services.RemoteLeg) (*QueueResult, error) {
	if leg == nil {
		return nil, fmt.Errorf("memory queue needs a remote leg")
	}

	queue := services.NewInProcessQueue(leg, services.InProcessQueueConfig{
		Workers:     config.Workers,
		QueueSize:   config.QueueSize,
		TaskTimeout: config.TaskTimeout,
	})
	// Workers outlive individual requests; only Cleanup stops them.
	if err := queue.Start(context.WithoutCancel(ctx)); err != nil {
		return nil, fmt.Errorf("start in-process queue: %w", err)
	}

	f.logger.Info("Initialized in-process remote queue",
		"workers", config.Workers,
		"queue_size", config.QueueSize)

	return &QueueResult{
		Queue:   queue,
		Cleanup: queue.Stop,
	}, nil
}

func (f *DefaultFactory) createAMQPQueue(config Config) (*QueueResult, error) {
	client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AMQP client: %w", err)
	}

	f.logger.Info("Initialized AMQP remote queue",
		"exchange", config.AMQPExchange,
		"queue", config.AMQPQueue)

	queue := services.NewDurableQueue(client, config.TaskTimeout)
	return &QueueResult{
		Queue: queue,
		Cleanup: func(ctx context.Context) error {
			closeErr := queue.Close(ctx)
			if err := client.Close(); err != nil {
				return err
			}
			return closeErr
		},
	}, nil
}
