package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/GoCodeAlone/deepagent/provider"
	"github.com/GoCodeAlone/deepagent/stream"
	"github.com/GoCodeAlone/deepagent/task"
)

const (
	summarizerPrompt = "You are a precise conversation summarizer. Merge the existing summary and the " +
		"new conversation excerpt into one updated narrative. Preserve goals, decisions, task " +
		"progress, tool results and open questions. Omit greetings and repetition."
	noSummary = "No prior summary."

	// summarizedThroughKey records in AgentState.Metadata how many leading
	// history messages the stored summary already covers.
	summarizedThroughKey = "summarized_through"
)

// compression tracks which part of the live history the summary covers.
type compression struct {
	through int
}

// splitForCompression splits msgs into the batch to summarize and the tail
// to keep. The tail holds the last threshold/2 messages minus any leading
// tool results, which are only valid right after the assistant call that
// produced them.
func splitForCompression(msgs []provider.Message, threshold int) (batch, tail []provider.Message) {
	keep := threshold / 2
	if keep > len(msgs) {
		keep = len(msgs)
	}
	start := len(msgs) - keep
	for start < len(msgs) && msgs[start].Role == provider.RoleTool {
		start++
	}
	return msgs[:start], msgs[start:]
}

// prepare returns the message list for one step, compressing when the live
// history exceeds MaxContextMessages. The live history itself is unchanged.
func (r *run) prepare(ctx context.Context, live []provider.Message) []provider.Message {
	threshold := r.a.cfg.MaxContextMessages
	if threshold <= 0 || len(live) <= threshold {
		return live
	}
	batch, tail := splitForCompression(live, threshold)
	if len(batch) == 0 {
		return tail
	}

	var fresh []provider.Message
	if r.compress.through < len(batch) {
		fresh = batch[r.compress.through:]
	}
	if len(fresh) == 0 {
		if r.state.Summary == "" {
			return tail
		}
		return withSummary(r.state.Summary, tail)
	}

	ctx, span := startCompressSpan(ctx, len(fresh), len(tail))
	summary, err := r.summarize(ctx, r.state.Summary, fresh)
	endSpan(span, err)
	if err != nil {
		r.warn(ctx, fmt.Sprintf("context summarization failed, continuing with the last %d messages: %v", len(tail), err))
		return tail
	}

	// The covered prefix only moves with a stored summary; otherwise the next
	// step summarizes the same messages again.
	if err := r.a.cfg.Store.SaveSummary(ctx, r.a.cfg.SessionID, summary); err != nil {
		r.warn(ctx, fmt.Sprintf("summary was not saved: %v", err))
	} else {
		r.state.Summary = summary
		r.compress.through = len(batch)
	}
	r.a.logger.Info("context compressed", "summarized", len(fresh), "kept", len(tail))
	stream.Emit(ctx, stream.TypeSummarization, stream.SummarizationData{
		Summarized: len(fresh),
		Kept:       len(tail),
		Summary:    summary,
	})
	return withSummary(summary, tail)
}

// summarize asks the model to merge prior into one narrative with msgs.
func (r *run) summarize(ctx context.Context, prior string, msgs []provider.Message) (string, error) {
	if prior == "" {
		prior = noSummary
	}
	req := []provider.Message{
		{Role: provider.RoleSystem, Content: summarizerPrompt},
		{Role: provider.RoleUser, Content: "Existing summary:\n" + prior + "\n\nNew conversation:\n" + transcript(msgs)},
	}
	resp, err := r.a.cfg.Provider.Chat(ctx, req, nil)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("empty summary")
	}
	return resp.Content, nil
}

func transcript(msgs []provider.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		switch {
		case m.Role == provider.RoleTool:
			fmt.Fprintf(&sb, "[tool %s]: %s\n\n", m.ToolName, m.Content)
		case len(m.ToolCalls) > 0:
			names := make([]string, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				names[i] = tc.Name
			}
			fmt.Fprintf(&sb, "[%s]: %s (called %s)\n\n", m.Role, m.Content, strings.Join(names, ", "))
		default:
			fmt.Fprintf(&sb, "[%s]: %s\n\n", m.Role, m.Content)
		}
	}
	return sb.String()
}

func withSummary(summary string, tail []provider.Message) []provider.Message {
	out := make([]provider.Message, 0, len(tail)+1)
	out = append(out, provider.Message{
		Role:    provider.RoleSystem,
		Content: "Summary of the earlier conversation:\n" + summary,
	})
	return append(out, tail...)
}

func summarizedThrough(st *task.AgentState) int {
	switch v := st.Metadata[summarizedThroughKey].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

func setSummarizedThrough(st *task.AgentState, n int) {
	if n == 0 {
		return
	}
	if st.Metadata == nil {
		st.Metadata = make(map[string]any)
	}
	st.Metadata[summarizedThroughKey] = n
}
