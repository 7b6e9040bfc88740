package logger

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "supportdesk-relay"

// SpanContext is a started span together with the context carrying it.
type SpanContext struct {
	ctx  context.Context
	span trace.Span
}

// StartTicketSpan starts a child span for work on one ticket, e.g.
// "ticket.transition" or "mirror.customer_to_staff".
//
//	sc := logger.StartTicketSpan(ctx, "ticket.transition", ticket.ID)
//	defer sc.End()
//	ctx = sc.Context()
func StartTicketSpan(ctx context.Context, name string, ticketID int64, attrs ...attribute.KeyValue) *SpanContext {
	attrs = append(attrs, attribute.Int64("ticket.id", ticketID))
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
	return &SpanContext{ctx: ctx, span: span}
}

// StartJobSpan starts the consumer span of a timer job. traceIDHex is the
// trace that scheduled the job, possibly in another process and hours ago;
// when valid the span joins that trace, otherwise it starts a new one.
func StartJobSpan(ctx context.Context, traceIDHex, kind string, ticketID int64) *SpanContext {
	opts := []trace.SpanStartOption{
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("job.kind", kind),
			attribute.Int64("ticket.id", ticketID),
		),
	}

	if traceID, err := trace.TraceIDFromHex(traceIDHex); err == nil {
		remote := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    traceID,
			TraceFlags: trace.FlagsSampled,
			Remote:     true,
		})
		opts = append(opts, trace.WithLinks(trace.Link{SpanContext: remote}))
		ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "timer.process_job", opts...)
	return &SpanContext{ctx: ctx, span: span}
}

// TraceID returns the hex trace id active in ctx, or "" when there is none.
// Timer jobs carry it so the firing can be joined to the scheduling trace.
func TraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

func (sc *SpanContext) Context() context.Context {
	return sc.ctx
}

// End completes the span. Safe to call more than once.
func (sc *SpanContext) End() {
	if sc.span != nil {
		sc.span.End()
	}
}

// RecordError marks the span failed with err. A nil err is ignored.
func (sc *SpanContext) RecordError(err error) {
	if sc.span == nil || err == nil {
		return
	}
	sc.span.RecordError(err)
	sc.span.SetStatus(codes.Error, err.Error())
}
