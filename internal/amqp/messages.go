package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"fintrack/internal/services"
)

// MessageVersion is bumped when the TaskMessage layout changes incompatibly.
const MessageVersion = 1

// TaskMessage carries one remote task. It holds the full wire payload so the
// worker does not need the local database, but never a credential.
type TaskMessage struct {
	Version     int                 `json:"v"`
	Task        services.RemoteTask `json:"task"`
	PublishedAt time.Time           `json:"publishedAt"`
}

// NewTaskMessage wraps a task for publishing
func NewTaskMessage(task services.RemoteTask) *TaskMessage {
	return &TaskMessage{
		Version:     MessageVersion,
		Task:        task,
		PublishedAt: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *TaskMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// TaskMessageFromJSON decodes and validates a message body.
func TaskMessageFromJSON(data []byte) (*TaskMessage, error) {
	var msg TaskMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Version != MessageVersion {
		return nil, fmt.Errorf("unsupported message version %d", msg.Version)
	}
	if err := msg.Task.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}
	return &msg, nil
}
