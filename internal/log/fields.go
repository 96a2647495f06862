package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldSuccess     = "success"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldUserID      = "user_id"
	FieldLocalID     = "local_id"
	FieldServerID    = "server_id"
	FieldEntity      = "entity"
	FieldTaskID      = "task_id"
	FieldAttempt     = "attempt"
	FieldRemote      = "remote_status"
	FieldAmount      = "amount"
	FieldTxType      = "tx_type"
	FieldInserted    = "inserted"
	FieldUpdated     = "updated"
	FieldSkipped     = "skipped"
	FieldCount       = "count"
	FieldQueueLength = "queue_length"
)

// Components defines standard component names
const (
	ComponentApp     = "app"
	ComponentSync    = "sync"
	ComponentStorage = "storage"
	ComponentRemote  = "remote"
	ComponentSession = "session"
	ComponentQueue   = "queue"
	ComponentAMQP    = "amqp"
	ComponentWorker  = "worker"
	ComponentCache   = "cache"
	ComponentBackend = "backend"
	ComponentCLI     = "cli"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpRead     = "read"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpList     = "list"
	OpPull     = "pull"
	OpPush     = "push"
	OpSync     = "sync"
	OpLogin    = "login"
	OpRegister = "register"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeDatabase      = "database_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeProtocol      = "protocol_error"
	ErrorTypeAuth          = "auth_error"
	ErrorTypeNotFound      = "not_found_error"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithRequestID adds request ID field
func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithRecord adds the identity of a ledger record
func (f LogFields) WithRecord(entity, userID string, localID int64, serverID string) LogFields {
	f[FieldEntity] = entity
	f[FieldUserID] = userID
	if localID != 0 {
		f[FieldLocalID] = localID
	}
	if serverID != "" {
		f[FieldServerID] = serverID
	}
	return f
}

// WithHTTPResponse adds outgoing request outcome fields
func (f LogFields) WithHTTPResponse(method, path string, statusCode int, durationMs int64) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = statusCode >= 200 && statusCode < 300
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
