package tools

import (
	"context"
	"log/slog"
)

// Collection is the dispatch table: the fixed set of capabilities bound
// to one session's instance, keyed by tool name.
type Collection struct {
	tools  map[string]Tool
	order  []string
	logger *slog.Logger
}

// NewCollection builds the standard capability set against one desk.
func NewCollection(desk Desk, logger *slog.Logger) *Collection {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collection{
		tools:  make(map[string]Tool),
		logger: logger,
	}
	for _, t := range []Tool{
		NewBashTool(desk),
		NewComputerTool(desk),
		NewEditorTool(desk),
	} {
		c.tools[t.Name()] = t
		c.order = append(c.order, t.Name())
	}
	return c
}

// Schemas lists the tool schemas in registration order, for the
// inference provider.
func (c *Collection) Schemas() []Schema {
	schemas := make([]Schema, 0, len(c.order))
	for _, name := range c.order {
		schemas = append(schemas, c.tools[name].Schema())
	}
	return schemas
}

// Invoke dispatches one tool call by name. A nil return means there is
// nothing to report for the call: the name was unknown or the capability
// broke. Capability failures never propagate out of the table.
//
// A shell invocation whose result carries no output, no error, and no
// image leaves the agent blind, so the table substitutes a screenshot
// taken through the computer capability.
func (c *Collection) Invoke(ctx context.Context, name string, input map[string]any) *Result {
	tool, ok := c.tools[name]
	if !ok {
		c.logger.Warn("Unknown tool requested", "tool", name)
		return nil
	}

	result := c.run(ctx, tool, input)

	if name == bashToolName && result.Empty() && ctx.Err() == nil {
		c.logger.Debug("Blind shell result, substituting screenshot")
		result = c.run(ctx, c.tools[computerToolName], map[string]any{"action": "screenshot"})
		if result == nil {
			// The shell call itself succeeded; don't let a broken
			// capture swallow the tool result entirely.
			result = &Result{}
		}
	}
	return result
}

// run executes one capability, converting panics and errors into a nil
// result.
func (c *Collection) run(ctx context.Context, tool Tool, input map[string]any) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Tool panicked", "tool", tool.Name(), "panic", r)
			result = nil
		}
	}()

	result, err := tool.Invoke(ctx, input)
	if err != nil {
		c.logger.Error("Tool failed", "tool", tool.Name(), "error", err)
		return nil
	}
	return result
}
