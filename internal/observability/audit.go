package observability

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Audit event kinds
const (
	AuditRun  = "run"
	AuditTool = "tool"
)

// AuditEvent is one line of the audit trail: a run starting or finishing,
// or a single tool invocation inside a run
type AuditEvent struct {
	Kind      string                 `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id"`
	RunID     string                 `json:"run_id,omitempty"`
	Tool      string                 `json:"tool,omitempty"`
	Action    string                 `json:"action"`
	Status    string                 `json:"status"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// AuditLogger appends audit events as JSON lines
type AuditLogger struct {
	mu     sync.Mutex
	out    zerolog.Logger
	closer io.Closer
}

var (
	auditMu  sync.RWMutex
	auditLog *AuditLogger
)

// NewAuditLogger creates an audit logger over w
func NewAuditLogger(w io.Writer) *AuditLogger {
	return &AuditLogger{out: zerolog.New(w)}
}

// GetAuditLogger returns the process audit logger. Until InitAuditLogger
// succeeds it writes to stderr.
func GetAuditLogger() *AuditLogger {
	auditMu.RLock()
	a := auditLog
	auditMu.RUnlock()
	if a != nil {
		return a
	}

	auditMu.Lock()
	defer auditMu.Unlock()
	if auditLog == nil {
		auditLog = NewAuditLogger(os.Stderr)
	}
	return auditLog
}

// InitAuditLogger makes path the destination of the process audit trail
func InitAuditLogger(path string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	a := NewAuditLogger(file)
	a.closer = file

	auditMu.Lock()
	auditLog = a
	auditMu.Unlock()
	return nil
}

// Record writes ev. When ctx carries a sampled span, the event is also
// attached to it and the trace id recorded.
func (a *AuditLogger) Record(ctx context.Context, ev AuditEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		ev.TraceID = span.SpanContext().TraceID().String()
		span.AddEvent("audit."+ev.Action, trace.WithAttributes(
			attribute.String("audit.kind", ev.Kind),
			attribute.String("audit.status", ev.Status),
			attribute.String("audit.tool", ev.Tool),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	e := a.out.Log().
		Time("timestamp", ev.Timestamp).
		Str("kind", ev.Kind).
		Str("session_id", ev.SessionID).
		Str("action", ev.Action).
		Str("status", ev.Status)
	if ev.RunID != "" {
		e = e.Str("run_id", ev.RunID)
	}
	if ev.Tool != "" {
		e = e.Str("tool", ev.Tool)
	}
	if ev.TraceID != "" {
		e = e.Str("trace_id", ev.TraceID)
	}
	if len(ev.Metadata) > 0 {
		e = e.Interface("metadata", ev.Metadata)
	}
	e.Send()
}

// Close releases the destination file, if any
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}

// RecordRunAudit records a run lifecycle event
func RecordRunAudit(ctx context.Context, sessionID, runID, action, status string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Kind:      AuditRun,
		SessionID: sessionID,
		RunID:     runID,
		Action:    action,
		Status:    status,
		Metadata:  metadata,
	})
}

// RecordToolAudit records one tool invocation
func RecordToolAudit(ctx context.Context, sessionID, runID, tool, status string, duration time.Duration) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Kind:      AuditTool,
		SessionID: sessionID,
		RunID:     runID,
		Tool:      tool,
		Action:    "invoke",
		Status:    status,
		Metadata:  map[string]interface{}{"duration_ms": duration.Milliseconds()},
	})
}
