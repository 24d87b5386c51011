package plugin

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func namedTool(name, desc string) Tool {
	return &Func{ToolName: name, Desc: desc, Fn: func(context.Context, map[string]any) (any, error) {
		return desc, nil
	}}
}

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern, name string
		want          bool
	}{
		{"task_create", "task_create", true},
		{"task_create", "task_update", false},
		{"*", "anything", true},
		{"task_*", "task_list", true},
		{"task_*", "template_list", false},
		{"group:task", "task_execution_order", true},
		{"group:task", "template_apply", false},
		{"group:template", "template_apply", true},
		{"group:unknown", "task_list", false},
	}
	for _, tc := range cases {
		if got := Match(tc.pattern, tc.name); got != tc.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tc.pattern, tc.name, got, tc.want)
		}
	}
}

func TestAssemble_PrecedenceAndAllowList(t *testing.T) {
	first := &Middleware{Name: "first", Tools: []Tool{namedTool("read", "first-read"), namedTool("write", "first-write")}}
	second := &Middleware{Name: "second", Tools: []Tool{namedTool("read", "second-read"), namedTool("shell", "shell")}}
	caller := []Tool{namedTool("write", "caller-write"), namedTool("custom", "custom")}

	all := Assemble([]*Middleware{first, second}, nil, caller)
	if diff := cmp.Diff([]string{"read", "write", "shell", "custom"}, all.Names()); diff != "" {
		t.Errorf("names (-want +got):\n%s", diff)
	}
	if tool, _ := all.Get("read"); tool.Description() != "second-read" {
		t.Errorf("read = %q, want later middleware to win", tool.Description())
	}
	if tool, _ := all.Get("write"); tool.Description() != "caller-write" {
		t.Errorf("write = %q, want caller tool to win", tool.Description())
	}

	// The allow-list restricts middleware tools but never caller tools.
	allowed := Assemble([]*Middleware{first, second}, []string{"read"}, caller)
	if diff := cmp.Diff([]string{"read", "write", "custom"}, allowed.Names()); diff != "" {
		t.Errorf("allowed names (-want +got):\n%s", diff)
	}
	if tool, _ := allowed.Get("write"); tool.Description() != "caller-write" {
		t.Errorf("write = %q", tool.Description())
	}
	if defs := allowed.Defs(); len(defs) != 3 || defs[0].Parameters["type"] != "object" {
		t.Errorf("Defs = %+v", defs)
	}
	if got := allowed.Without("read", "custom").Names(); len(got) != 1 || got[0] != "write" {
		t.Errorf("Without = %v", got)
	}
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(&Middleware{Name: "tasks"}, &Middleware{Name: "delegation"})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := reg.Register(&Middleware{Name: "tasks"}); err == nil {
		t.Error("duplicate name accepted")
	}
	if err := reg.Register(&Middleware{}); err == nil {
		t.Error("unnamed middleware accepted")
	}
	if err := reg.Unregister("tasks"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	if err := reg.Unregister("tasks"); err == nil {
		t.Error("second Unregister succeeded")
	}
	list := reg.List()
	if len(list) != 1 || list[0].Name != "delegation" {
		t.Errorf("List = %v", list)
	}
}

func TestToolSetContext(t *testing.T) {
	if ToolSetFromContext(context.Background()) != nil {
		t.Error("expected nil tool set on bare context")
	}
	set := NewToolSet(namedTool("a", "a"))
	ctx := WithToolSet(context.Background(), set)
	if got := ToolSetFromContext(ctx); got.Len() != 1 {
		t.Errorf("Len = %d", got.Len())
	}
	var nilSet *ToolSet
	if nilSet.Len() != 0 || nilSet.Names() != nil {
		t.Error("nil set should be empty")
	}
}
