package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "issueforge"

// StartSessionSpan starts the root span of a session.
func StartSessionSpan(ctx context.Context, sessionID, target string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "session",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("session.target", target),
		),
	)
}

// StartStateSpan starts a span for one scheduler state.
func StartStateSpan(ctx context.Context, state string, iteration int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "state."+state,
		trace.WithAttributes(
			attribute.String("scheduler.state", state),
			attribute.Int("session.iteration", iteration),
		),
	)
}

// StartPushSpan starts a span for a push through the divergence resolver.
func StartPushSpan(ctx context.Context, remote, branch string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "push",
		trace.WithAttributes(
			attribute.String("git.remote", remote),
			attribute.String("git.branch", branch),
		),
	)
}
