package backend

import (
	"fmt"

	"fintrack/internal/config"
)

// FromAppConfig converts the application config to queue config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	queueType := QueueType(appConfig.QueueBackend)
	if !queueType.IsValid() {
		return Config{}, fmt.Errorf("invalid queue backend in config: %s", appConfig.QueueBackend)
	}

	return Config{
		Type: queueType,

		Workers:     appConfig.QueueWorkers,
		QueueSize:   appConfig.QueueSize,
		TaskTimeout: appConfig.RemoteTimeout,

		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		AMQPQueue:    appConfig.AMQPQueue,
	}, nil
}

// Validate validates the queue configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid queue type: %s", c.Type)
	}

	switch c.Type {
	case AMQPQueue:
		if c.AMQPURL == "" {
			return fmt.Errorf("AMQP URL is required for amqp queue")
		}
		if c.AMQPExchange == "" || c.AMQPQueue == "" {
			return fmt.Errorf("AMQP exchange and queue names are required for amqp queue")
		}

	case MemoryQueue:
		// Zero values fall back to the in-process defaults
	}

	return nil
}

// GetQueueTypes returns all valid queue types
func GetQueueTypes() []QueueType {
	return []QueueType{MemoryQueue, AMQPQueue}
}

// GetQueueTypeStrings returns all valid queue type strings
func GetQueueTypeStrings() []string {
	types := GetQueueTypes()
	strings := make([]string, len(types))
	for i, t := range types {
		strings[i] = t.String()
	}
	return strings
}
