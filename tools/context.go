package tools

import "context"

// Context key types for the running agent loop.
type contextKey int

const (
	// ContextKeySessionID carries the session whose task graph tools act on.
	ContextKeySessionID contextKey = iota
	// ContextKeyAgentName carries the name of the running agent.
	ContextKeyAgentName
)

// SessionIDFromContext returns the session id from context, if set.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeySessionID).(string)
	return v, ok && v != ""
}

// AgentNameFromContext returns the agent name from context, if set.
func AgentNameFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ContextKeyAgentName).(string)
	return v, ok && v != ""
}

// WithSessionID returns a context with the session id set.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeySessionID, id)
}

// WithAgentName returns a context with the agent name set.
func WithAgentName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ContextKeyAgentName, name)
}
