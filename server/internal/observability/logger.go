package observability

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	// LogFieldSessionID is the field name for session ID.
	LogFieldSessionID = "session_id"
	// LogFieldSequence is the field name for the inbound message sequence.
	LogFieldSequence = "sequence"
	// LogFieldProviderID is the field name for the generation provider ID.
	LogFieldProviderID = "provider_id"
	// LogFieldDuration is the field name for duration in milliseconds.
	LogFieldDuration = "duration_ms"
	// LogFieldErrorCode is the field name for error code.
	LogFieldErrorCode = "error_code"
	// LogFieldEventType is the field name for outbound event type.
	LogFieldEventType = "event_type"
	// LogFieldCycleID is the field name for the synthesis cycle ID.
	LogFieldCycleID = "cycle_id"
)

// SessionContext carries structured logging state for one live session.
type SessionContext struct {
	SessionID string
	StartTime time.Time
	Logger    *slog.Logger
}

// NewSessionContext creates a session context with a generated session ID.
func NewSessionContext(logger *slog.Logger) *SessionContext {
	return NewSessionContextWithID(logger, uuid.New().String())
}

// NewSessionContextWithID creates a session context for a specific session ID.
func NewSessionContextWithID(logger *slog.Logger, sessionID string) *SessionContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionContext{
		SessionID: sessionID,
		StartTime: time.Now(),
		Logger:    logger,
	}
}

// Info logs an info message with the session's base attributes.
func (s *SessionContext) Info(msg string, attrs ...slog.Attr) {
	s.Logger.LogAttrs(context.Background(), slog.LevelInfo, msg, s.withBase(attrs)...)
}

// Debug logs a debug message.
func (s *SessionContext) Debug(msg string, attrs ...slog.Attr) {
	s.Logger.LogAttrs(context.Background(), slog.LevelDebug, msg, s.withBase(attrs)...)
}

// Warn logs a warning message.
func (s *SessionContext) Warn(msg string, attrs ...slog.Attr) {
	s.Logger.LogAttrs(context.Background(), slog.LevelWarn, msg, s.withBase(attrs)...)
}

// Error logs an error message with the error appended.
func (s *SessionContext) Error(msg string, err error, attrs ...slog.Attr) {
	all := append(attrs, slog.String("error", err.Error()))
	s.Logger.LogAttrs(context.Background(), slog.LevelError, msg, s.withBase(all)...)
}

// Duration returns the elapsed time since the session started.
func (s *SessionContext) Duration() time.Duration {
	return time.Since(s.StartTime)
}

func (s *SessionContext) withBase(attrs []slog.Attr) []slog.Attr {
	base := []slog.Attr{slog.String(LogFieldSessionID, s.SessionID)}
	return append(base, attrs...)
}

// NewCycleID generates a unique identifier for one synthesis cycle.
func NewCycleID() string {
	return uuid.New().String()
}
