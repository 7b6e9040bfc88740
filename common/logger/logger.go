package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/trace"

	"supportdesk.app/relay/core/config"
)

// Setup installs the process-wide slog handler. Production with an OTLP
// endpoint ships records through the OTel log bridge; everything else
// writes JSON (production) or text to stdout.
func Setup(cfg config.Config) {
	slog.SetDefault(slog.New(NewHandler(cfg, os.Stdout)))
}

// NewHandler builds the handler Setup installs, writing to w unless records
// go to the OTel bridge.
func NewHandler(cfg config.Config, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: level(cfg)}

	switch {
	case cfg.IsProduction() && cfg.OTel.Enabled():
		// The bridge carries trace context natively; only the log fields
		// need adding.
		return &TraceHandler{
			Handler: otelslog.NewHandler(cfg.OTel.ServiceName,
				otelslog.WithLoggerProvider(global.GetLoggerProvider())),
			skipTrace: true,
		}
	case cfg.IsProduction():
		return NewTraceHandler(slog.NewJSONHandler(w, opts))
	default:
		return NewTraceHandler(slog.NewTextHandler(w, opts))
	}
}

func level(cfg config.Config) slog.Level {
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info":
		return slog.LevelInfo
	}
	if cfg.IsDevelopment() {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// TraceHandler stamps every record with the active trace ids and the
// LogFields carried by ctx.
type TraceHandler struct {
	slog.Handler
	skipTrace bool
}

func NewTraceHandler(h slog.Handler) *TraceHandler {
	return &TraceHandler{Handler: h}
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.skipTrace {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			r.AddAttrs(
				slog.String("trace_id", sc.TraceID().String()),
				slog.String("span_id", sc.SpanID().String()),
			)
		}
	}
	r.AddAttrs(GetLogFields(ctx).attrs()...)
	return h.Handler.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs), skipTrace: h.skipTrace}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name), skipTrace: h.skipTrace}
}

func (f LogFields) attrs() []slog.Attr {
	var out []slog.Attr
	if f.TicketID != nil {
		out = append(out, slog.Int64("ticket_id", *f.TicketID))
	}
	if f.SessionID != nil {
		out = append(out, slog.String("session_id", *f.SessionID))
	}
	if f.ThreadID != nil {
		out = append(out, slog.Int64("thread_id", *f.ThreadID))
	}
	if f.UpdateID != nil {
		out = append(out, slog.Int64("update_id", *f.UpdateID))
	}
	if f.JobKey != nil {
		out = append(out, slog.String("job_key", *f.JobKey))
	}
	if f.MessageID != nil {
		out = append(out, slog.String("message_id", *f.MessageID))
	}
	if f.Channel != nil {
		out = append(out, slog.String("channel", *f.Channel))
	}
	if f.Component != "" {
		out = append(out, slog.String("component", f.Component))
	}
	return out
}
