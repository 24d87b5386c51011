// Package plugin defines the capability modules the agent loop composes:
// tools the model can call and middleware that contributes tools, prompt
// text and lifecycle hooks.
package plugin

import (
	"context"

	"github.com/GoCodeAlone/deepagent/provider"
)

// Tool extends agents with a callable capability.
type Tool interface {
	// Name returns the unique tool identifier.
	Name() string

	// Description returns a human-readable description.
	Description() string

	// Definition returns the tool definition for the model provider.
	Definition() provider.ToolDef

	// Execute runs the tool with the given arguments.
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Func is a Tool backed by a function.
type Func struct {
	ToolName string
	Desc     string
	Schema   map[string]any
	Fn       func(ctx context.Context, args map[string]any) (any, error)
}

func (f *Func) Name() string        { return f.ToolName }
func (f *Func) Description() string { return f.Desc }

func (f *Func) Definition() provider.ToolDef {
	schema := f.Schema
	if schema == nil {
		schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return provider.ToolDef{Name: f.ToolName, Description: f.Desc, Parameters: schema}
}

func (f *Func) Execute(ctx context.Context, args map[string]any) (any, error) {
	return f.Fn(ctx, args)
}
