package audit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mongocrypt-go/core/internal/config"
	"github.com/mongocrypt-go/core/internal/status"
)

// EventType classifies a context-lifecycle audit event.
type EventType string

const (
	// EventTypeInit marks a context being minted (spec §4.4).
	EventTypeInit EventType = "context_init"
	// EventTypeFinalize marks a context reaching Finalize.
	EventTypeFinalize EventType = "context_finalize"
	// EventTypeKMS marks a KMSProvider wrap/unwrap round trip.
	EventTypeKMS EventType = "kms_operation"
)

// AuditEvent represents a single audit log event in a context's lifecycle.
type AuditEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	CtxID     uint32                 `json:"ctx_id"`
	Kind      string                 `json:"kind,omitempty"`
	State     string                 `json:"state,omitempty"`
	Success   bool                   `json:"success"`
	Category  string                 `json:"category,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Duration  time.Duration          `json:"duration_ms,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Logger is the interface for audit logging of a context's lifecycle.
type Logger interface {
	// Log logs an audit event.
	Log(event *AuditEvent) error

	// LogContextInit logs a context being minted, including any init-time
	// status (e.g. a rejected option combination per spec §4.4).
	LogContextInit(ctxID uint32, kind, state string, st *status.Status)

	// LogContextFinalize logs a context reaching Finalize, its outcome, and
	// the elapsed time since it was minted.
	LogContextFinalize(ctxID uint32, kind string, success bool, st *status.Status, duration time.Duration)

	// LogKMSOperation logs a KMSProvider wrap/unwrap round trip.
	LogKMSOperation(provider, operation string, success bool, err error, duration time.Duration)

	// GetEvents returns all audit events (for testing/querying).
	GetEvents() []*AuditEvent

	// Close closes the logger and its underlying writer.
	Close() error
}

// auditLogger implements the Logger interface.
type auditLogger struct {
	mu         sync.Mutex
	events     []*AuditEvent
	maxEvents  int
	writer     EventWriter
	redactKeys []string
}

// EventWriter is an interface for writing audit events.
type EventWriter interface {
	WriteEvent(event *AuditEvent) error
}

// NewLogger creates a new audit logger.
func NewLogger(maxEvents int, writer EventWriter) Logger {
	return NewLoggerWithRedaction(maxEvents, writer, nil)
}

// NewLoggerWithRedaction creates a new audit logger with redaction keys.
func NewLoggerWithRedaction(maxEvents int, writer EventWriter, redactKeys []string) Logger {
	if writer == nil {
		writer = &defaultWriter{}
	}
	return &auditLogger{
		events:     make([]*AuditEvent, 0, maxEvents),
		maxEvents:  maxEvents,
		writer:     writer,
		redactKeys: redactKeys,
	}
}

// NewLoggerFromConfig creates a new audit logger from configuration,
// selecting a sink the way the teacher's internal/s3 provider-profile
// table selected a backing client.
func NewLoggerFromConfig(cfg config.AuditConfig) (Logger, error) {
	var writer EventWriter

	switch cfg.Sink.Type {
	case "http":
		writer = NewHTTPSink(cfg.Sink.Endpoint, cfg.Sink.Headers)
	case "file":
		writer = NewFileSink(cfg.Sink.FilePath)
	case "stdout", "":
		writer = &defaultWriter{}
	default:
		return nil, fmt.Errorf("unknown sink type: %s", cfg.Sink.Type)
	}

	if cfg.Sink.BatchSize > 0 || cfg.Sink.FlushInterval > 0 {
		writer = NewBatchSink(writer, cfg.Sink.BatchSize, time.Duration(cfg.Sink.FlushInterval)*time.Second, cfg.Sink.RetryCount, time.Duration(cfg.Sink.RetryBackoff)*time.Second)
	}

	maxEvents := cfg.MaxEvents
	if maxEvents == 0 {
		maxEvents = 1000
	}
	return NewLoggerWithRedaction(maxEvents, writer, cfg.RedactMetadataKeys), nil
}

// Log logs an audit event.
func (l *auditLogger) Log(event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writer != nil {
		_ = l.writer.WriteEvent(event)
	}

	l.events = append(l.events, event)
	if len(l.events) > l.maxEvents {
		l.events = l.events[len(l.events)-l.maxEvents:]
	}
	return nil
}

// Close closes the logger and its underlying writer.
func (l *auditLogger) Close() error {
	if closer, ok := l.writer.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

func (l *auditLogger) redactMetadata(metadata map[string]interface{}) map[string]interface{} {
	if len(l.redactKeys) == 0 || len(metadata) == 0 {
		return metadata
	}

	needsRedaction := false
	for _, k := range l.redactKeys {
		if _, ok := metadata[k]; ok {
			needsRedaction = true
			break
		}
	}
	if !needsRedaction {
		return metadata
	}

	clone := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		clone[k] = v
	}
	for _, key := range l.redactKeys {
		if _, ok := clone[key]; ok {
			clone[key] = "[REDACTED]"
		}
	}
	return clone
}

// LogContextInit logs a context being minted.
func (l *auditLogger) LogContextInit(ctxID uint32, kind, state string, st *status.Status) {
	event := &AuditEvent{
		Timestamp: time.Now(),
		EventType: EventTypeInit,
		CtxID:     ctxID,
		Kind:      kind,
		State:     state,
		Success:   st.Ok(),
	}
	if !st.Ok() {
		event.Category = st.Category.String()
		event.Error = st.Error()
	}
	l.Log(event)
}

// LogContextFinalize logs a context reaching Finalize.
func (l *auditLogger) LogContextFinalize(ctxID uint32, kind string, success bool, st *status.Status, duration time.Duration) {
	event := &AuditEvent{
		Timestamp: time.Now(),
		EventType: EventTypeFinalize,
		CtxID:     ctxID,
		Kind:      kind,
		Success:   success,
		Duration:  duration,
	}
	if st != nil && !st.Ok() {
		event.Category = st.Category.String()
		event.Error = st.Error()
	}
	l.Log(event)
}

// LogKMSOperation logs a KMSProvider wrap/unwrap round trip.
func (l *auditLogger) LogKMSOperation(provider, operation string, success bool, err error, duration time.Duration) {
	event := &AuditEvent{
		Timestamp: time.Now(),
		EventType: EventTypeKMS,
		Success:   success,
		Duration:  duration,
		Metadata:  l.redactMetadata(map[string]interface{}{"provider": provider, "operation": operation}),
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

// GetEvents returns all audit events (for testing/querying).
func (l *auditLogger) GetEvents() []*AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := make([]*AuditEvent, len(l.events))
	copy(events, l.events)
	return events
}

// defaultWriter is a default implementation that writes to stdout as JSON.
type defaultWriter struct{}

func (w *defaultWriter) WriteEvent(event *AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	fmt.Printf("%s\n", string(data))
	return nil
}
