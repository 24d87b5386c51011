package loopguard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/GoCodeAlone/deepagent/plugin"
	"github.com/GoCodeAlone/deepagent/provider"
	"github.com/GoCodeAlone/deepagent/stream"
	"github.com/GoCodeAlone/deepagent/tools"
)

// guard tracks one detector per session.
type guard struct {
	limits Limits
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
}

type sessionState struct {
	detector *Detector
	status   Status
	reason   string
}

// Middleware records every executed tool call. After a warning the next
// model request carries a nudge; after a stop it carries an instruction to
// answer and no tool definitions, which ends the run on the next reply.
func Middleware(limits Limits, logger *slog.Logger) *plugin.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	g := &guard{limits: limits, logger: logger, sessions: make(map[string]*sessionState)}
	return &plugin.Middleware{
		Name:         "loopguard",
		OnStepFinish: g.onStepFinish,
		BeforeModel:  g.beforeModel,
	}
}

func (g *guard) onStepFinish(ctx context.Context, info plugin.StepInfo) {
	session, _ := tools.SessionIDFromContext(ctx)
	g.mu.Lock()
	st, ok := g.sessions[session]
	if !ok || info.Step == 1 {
		st = &sessionState{detector: NewDetector(g.limits)}
		g.sessions[session] = st
	}
	for _, r := range info.Results {
		st.detector.Record(r.Call.Name, r.Call.Arguments, r.Output, r.IsError)
	}
	status, reason := st.detector.Check()
	if status > st.status {
		st.status, st.reason = status, reason
	}
	g.mu.Unlock()

	if status != StatusOK {
		name, _ := tools.AgentNameFromContext(ctx)
		g.logger.Warn("tool loop detected", "agent", name, "session", session, "step", info.Step, "status", status.String(), "reason", reason)
	}
}

func (g *guard) beforeModel(ctx context.Context, req *plugin.ModelRequest) error {
	session, _ := tools.SessionIDFromContext(ctx)
	g.mu.Lock()
	st, ok := g.sessions[session]
	if !ok || req.Step == 1 {
		// A new run starts clean.
		delete(g.sessions, session)
		g.mu.Unlock()
		return nil
	}
	status, reason := st.status, st.reason
	if status == StatusWarn {
		st.status, st.reason = StatusOK, ""
	}
	g.mu.Unlock()

	switch status {
	case StatusWarn:
		req.Messages = append(req.Messages, provider.Message{
			Role:    provider.RoleUser,
			Content: fmt.Sprintf("[loop warning] %s. Try a different approach.", reason),
		})
	case StatusStop:
		req.Messages = append(req.Messages, provider.Message{
			Role:    provider.RoleUser,
			Content: fmt.Sprintf("[loop stopped] %s. Do not call any more tools; give your final answer now.", reason),
		})
		req.Tools = nil
		stream.Emit(ctx, stream.TypeNotification, stream.NotificationData{Level: "warning", Message: "tool loop stopped: " + reason})
	}
	return nil
}
