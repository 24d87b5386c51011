package plugin

import (
	"context"
	"strings"

	"github.com/GoCodeAlone/deepagent/provider"
)

// Groups maps "group:" patterns to the tool names they cover.
var Groups = map[string][]string{
	"group:task": {
		"task_create", "task_update", "task_get", "task_list", "task_delete",
		"task_available", "task_execution_order",
	},
	"group:template": {"template_list", "template_apply", "template_save", "template_delete"},
	"group:delegate": {"delegate"},
}

// Match reports whether a tool name matches a pattern. Patterns are exact
// names, "*", "group:<name>" or a "prefix*" wildcard.
func Match(pattern, name string) bool {
	switch {
	case pattern == name, pattern == "*":
		return true
	case strings.HasPrefix(pattern, "group:"):
		for _, n := range Groups[pattern] {
			if n == name {
				return true
			}
		}
		return false
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}
	return false
}

// MatchAny reports whether name matches at least one pattern.
func MatchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if Match(p, name) {
			return true
		}
	}
	return false
}

// ToolSet is a name-indexed set of tools that remembers insertion order.
type ToolSet struct {
	order []string
	tools map[string]Tool
}

// NewToolSet creates a set from tools; later tools replace earlier ones.
func NewToolSet(tools ...Tool) *ToolSet {
	s := &ToolSet{tools: make(map[string]Tool)}
	for _, t := range tools {
		s.Add(t)
	}
	return s
}

// Add inserts or replaces a tool. A replaced tool keeps its position.
func (s *ToolSet) Add(t Tool) {
	if _, ok := s.tools[t.Name()]; !ok {
		s.order = append(s.order, t.Name())
	}
	s.tools[t.Name()] = t
}

// Get returns a tool by name.
func (s *ToolSet) Get(name string) (Tool, bool) {
	if s == nil {
		return nil, false
	}
	t, ok := s.tools[name]
	return t, ok
}

// Names returns tool names in insertion order.
func (s *ToolSet) Names() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.order...)
}

// Len returns the number of tools.
func (s *ToolSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Tools returns the tools in insertion order.
func (s *ToolSet) Tools() []Tool {
	if s == nil {
		return nil
	}
	out := make([]Tool, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.tools[n])
	}
	return out
}

// Defs returns the provider definitions of every tool.
func (s *ToolSet) Defs() []provider.ToolDef {
	var defs []provider.ToolDef
	for _, t := range s.Tools() {
		defs = append(defs, t.Definition())
	}
	return defs
}

// Filter returns the tools whose names match any of the patterns.
func (s *ToolSet) Filter(patterns []string) *ToolSet {
	out := NewToolSet()
	for _, t := range s.Tools() {
		if MatchAny(patterns, t.Name()) {
			out.Add(t)
		}
	}
	return out
}

// Without returns a copy of the set minus the named tools.
func (s *ToolSet) Without(names ...string) *ToolSet {
	out := NewToolSet()
	for _, t := range s.Tools() {
		skip := false
		for _, n := range names {
			if t.Name() == n {
				skip = true
				break
			}
		}
		if !skip {
			out.Add(t)
		}
	}
	return out
}

// Assemble builds the tool set of a run: the union of middleware tools in
// order (later wins), restricted to the allow-list when one is given, then
// the caller's tools, which take precedence and are never filtered.
func Assemble(mws []*Middleware, allow []string, caller []Tool) *ToolSet {
	union := NewToolSet()
	for _, m := range mws {
		for _, t := range m.Tools {
			union.Add(t)
		}
	}
	if len(allow) > 0 {
		union = union.Filter(allow)
	}
	for _, t := range caller {
		union.Add(t)
	}
	return union
}

type toolSetKey struct{}

// WithToolSet attaches the running loop's tool set to ctx.
func WithToolSet(ctx context.Context, s *ToolSet) context.Context {
	return context.WithValue(ctx, toolSetKey{}, s)
}

// ToolSetFromContext returns the running loop's tool set, or nil.
func ToolSetFromContext(ctx context.Context) *ToolSet {
	s, _ := ctx.Value(toolSetKey{}).(*ToolSet)
	return s
}
