package agent

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/GoCodeAlone/deepagent/provider"
)

var tracer = otel.Tracer("github.com/GoCodeAlone/deepagent/agent")

func startRunSpan(ctx context.Context, name, sessionID string, streaming bool) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "agent.run")
	span.SetAttributes(
		attribute.String("agent.name", name),
		attribute.String("agent.session", sessionID),
		attribute.Bool("agent.streaming", streaming),
	)
	return ctx, span
}

func startStepSpan(ctx context.Context, step int) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "agent.step")
	span.SetAttributes(attribute.Int("agent.step", step))
	return ctx, span
}

func startToolSpan(ctx context.Context, call provider.ToolCall) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "tool."+call.Name)
	span.SetAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	)
	return ctx, span
}

func startCompressSpan(ctx context.Context, summarized, kept int) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "agent.compress")
	span.SetAttributes(
		attribute.Int("compress.summarized", summarized),
		attribute.Int("compress.kept", kept),
	)
	return ctx, span
}

// endSpan records err, if any, and ends the span.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
