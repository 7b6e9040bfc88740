package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, so business context (ticket_id, session_id,
// job_key, etc.) is included in every log statement without being passed around.
type LogFields struct {
	TicketID  *int64  // Ticket ID
	SessionID *string // Browser session ID
	ThreadID  *int64  // Staff group discussion thread ID
	UpdateID  *int64  // Telegram update ID
	JobKey    *string // Timer job key, e.g. "autoclose:42"
	MessageID *string // Redis stream message ID
	Channel   *string // PLATFORM or WEB
	Component string  // Component name (OTel semantic convention style, e.g., "relay.mirror")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

// mergeFields merges two LogFields, preferring non-nil/non-empty values from 'new'.
func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.TicketID != nil {
		result.TicketID = new.TicketID
	}
	if new.SessionID != nil {
		result.SessionID = new.SessionID
	}
	if new.ThreadID != nil {
		result.ThreadID = new.ThreadID
	}
	if new.UpdateID != nil {
		result.UpdateID = new.UpdateID
	}
	if new.JobKey != nil {
		result.JobKey = new.JobKey
	}
	if new.MessageID != nil {
		result.MessageID = new.MessageID
	}
	if new.Channel != nil {
		result.Channel = new.Channel
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{TicketID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen runes, appending "..." if truncated.
// Useful for logging message text.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
