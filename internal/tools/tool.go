// Package tools binds the agent's capabilities (shell, pointer/screen,
// file editing) to one live desk instance and dispatches model tool
// calls to them by name.
package tools

import "context"

// Desk is the slice of a sandbox instance the capabilities need.
type Desk interface {
	Exec(ctx context.Context, command string) (stdout, stderr string, exitCode int, err error)
	Screenshot(ctx context.Context) (string, error)
	Xdotool(ctx context.Context, args ...string) (string, error)
	ReadFile(ctx context.Context, path string) (string, error)
	WriteFile(ctx context.Context, path, content string) error
}

// Tool is one capability bound to a session's instance.
//
// Invoke separates two failure planes: expected failures the model should
// see (bad input, nonzero exit) go in Result.Error with a nil error, while
// a non-nil error means the capability itself broke and the dispatcher
// will suppress the result entirely.
type Tool interface {
	Name() string
	Schema() Schema
	Invoke(ctx context.Context, input map[string]any) (*Result, error)
}

// Schema describes a tool to the inference provider.
type Schema struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

// Result is the output of one tool invocation. All fields are optional;
// Error marks the result as a failure without halting the turn.
type Result struct {
	Output      string
	Error       string
	Base64Image string
}

// Empty reports whether the result carries nothing observable.
func (r *Result) Empty() bool {
	return r == nil || (r.Output == "" && r.Error == "" && r.Base64Image == "")
}

func strArg(input map[string]any, key string) string {
	v, _ := input[key].(string)
	return v
}

func boolArg(input map[string]any, key string) bool {
	v, _ := input[key].(bool)
	return v
}

// intValue coerces a decoded JSON number. Inputs arrive as float64 from
// encoding/json but tests and callers may pass ints directly.
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

func intArg(input map[string]any, key string) (int, bool) {
	return intValue(input[key])
}

// coordArg extracts an [x, y] pixel coordinate pair.
func coordArg(input map[string]any) (x, y int, ok bool) {
	raw, isSlice := input["coordinate"].([]any)
	if !isSlice || len(raw) != 2 {
		return 0, 0, false
	}
	x, okX := intValue(raw[0])
	y, okY := intValue(raw[1])
	if !okX || !okY {
		return 0, 0, false
	}
	return x, y, true
}
