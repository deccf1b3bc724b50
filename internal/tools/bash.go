package tools

import (
	"context"
	"fmt"
	"strings"
)

const bashToolName = "bash"

// BashTool runs shell commands on the desk. Each command executes in a
// fresh login shell; there is no persistent shell process to restart.
type BashTool struct {
	desk Desk
}

func NewBashTool(desk Desk) *BashTool {
	return &BashTool{desk: desk}
}

func (t *BashTool) Name() string { return bashToolName }

func (t *BashTool) Schema() Schema {
	return Schema{
		Name:        bashToolName,
		Description: "Run a shell command on the desktop and return its output. Commands run non-interactively in a fresh shell.",
		Properties: map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to run.",
			},
			"restart": map[string]any{
				"type":        "boolean",
				"description": "Restart the shell instead of running a command.",
			},
		},
	}
}

func (t *BashTool) Invoke(ctx context.Context, input map[string]any) (*Result, error) {
	if boolArg(input, "restart") {
		return &Result{Output: "shell restarted"}, nil
	}

	command := strArg(input, "command")
	if command == "" {
		return &Result{Error: "no command provided"}, nil
	}

	stdout, stderr, code, err := t.desk.Exec(ctx, command)
	if err != nil {
		return nil, fmt.Errorf("bash: %w", err)
	}

	if code != 0 {
		msg := strings.TrimSpace(stderr)
		if msg == "" {
			msg = fmt.Sprintf("exit status %d", code)
		}
		return &Result{Output: stdout, Error: msg}, nil
	}

	out := stdout
	if s := strings.TrimSpace(stderr); s != "" {
		if out != "" {
			out += "\n"
		}
		out += s
	}
	return &Result{Output: out}, nil
}
