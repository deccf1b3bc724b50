package tools

import (
	"context"
	"fmt"
	"strings"
)

const (
	editorToolName = "str_replace_editor"

	snippetContextLines = 4
	viewLineLimit       = 500
)

// EditorTool views and edits text files on the desk. Edit history is
// held in memory per session so undo_edit can restore the previous
// content of a path.
type EditorTool struct {
	desk    Desk
	history map[string][]string
}

func NewEditorTool(desk Desk) *EditorTool {
	return &EditorTool{desk: desk, history: make(map[string][]string)}
}

func (t *EditorTool) Name() string { return editorToolName }

func (t *EditorTool) Schema() Schema {
	return Schema{
		Name:        editorToolName,
		Description: "View, create, and edit text files on the desktop. str_replace replaces one unique occurrence; insert adds text after a line; undo_edit reverts the last edit to a path.",
		Properties: map[string]any{
			"command": map[string]any{
				"type":        "string",
				"enum":        []string{"view", "create", "str_replace", "insert", "undo_edit"},
				"description": "The edit command to run.",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Absolute path to the file or directory.",
			},
			"file_text": map[string]any{
				"type":        "string",
				"description": "Content for the create command.",
			},
			"old_str": map[string]any{
				"type":        "string",
				"description": "Exact text to replace; must occur exactly once.",
			},
			"new_str": map[string]any{
				"type":        "string",
				"description": "Replacement text for str_replace, or the text to insert.",
			},
			"insert_line": map[string]any{
				"type":        "integer",
				"description": "Line number after which to insert (0 inserts at the top).",
			},
			"view_range": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "integer"},
				"description": "[start, end] line range for view; end -1 means to the end of file.",
			},
		},
		Required: []string{"command", "path"},
	}
}

func (t *EditorTool) Invoke(ctx context.Context, input map[string]any) (*Result, error) {
	command := strArg(input, "command")
	path := strArg(input, "path")
	if path == "" {
		return &Result{Error: "path is required"}, nil
	}
	if !strings.HasPrefix(path, "/") {
		return &Result{Error: fmt.Sprintf("path %s must be absolute", path)}, nil
	}

	switch command {
	case "view":
		return t.view(ctx, path, input)
	case "create":
		return t.create(ctx, path, input)
	case "str_replace":
		return t.strReplace(ctx, path, input)
	case "insert":
		return t.insert(ctx, path, input)
	case "undo_edit":
		return t.undoEdit(ctx, path)
	case "":
		return &Result{Error: "no command provided"}, nil
	default:
		return &Result{Error: fmt.Sprintf("unknown command %q", command)}, nil
	}
}

func (t *EditorTool) view(ctx context.Context, path string, input map[string]any) (*Result, error) {
	// Directories get a shallow listing instead of file content.
	if _, _, code, err := t.desk.Exec(ctx, fmt.Sprintf("test -d %q", path)); err != nil {
		return nil, fmt.Errorf("editor view: %w", err)
	} else if code == 0 {
		listing, stderr, code, err := t.desk.Exec(ctx,
			fmt.Sprintf(`find %q -maxdepth 2 -not -path '*/.*' | sort`, path))
		if err != nil {
			return nil, fmt.Errorf("editor view: %w", err)
		}
		if code != 0 {
			return &Result{Error: strings.TrimSpace(stderr)}, nil
		}
		out := fmt.Sprintf("Files and directories up to 2 levels deep in %s:\n%s", path, listing)
		return &Result{Output: out}, nil
	}

	content, err := t.readFile(ctx, path)
	if err != nil {
		return t.fileFailure(ctx, err)
	}

	lines := strings.Split(content, "\n")
	start, end := 1, len(lines)
	if raw, ok := input["view_range"].([]any); ok {
		if len(raw) != 2 {
			return &Result{Error: "view_range must be [start, end]"}, nil
		}
		s, okS := intValue(raw[0])
		e, okE := intValue(raw[1])
		if !okS || !okE || s < 1 || s > len(lines) {
			return &Result{Error: fmt.Sprintf("invalid view_range for file with %d lines", len(lines))}, nil
		}
		if e == -1 || e > len(lines) {
			e = len(lines)
		}
		if e < s {
			return &Result{Error: "view_range end precedes start"}, nil
		}
		start, end = s, e
	}

	if end-start+1 > viewLineLimit {
		end = start + viewLineLimit - 1
	}
	return &Result{Output: numberLines(lines[start-1:end], start)}, nil
}

func (t *EditorTool) create(ctx context.Context, path string, input map[string]any) (*Result, error) {
	fileText, ok := input["file_text"].(string)
	if !ok {
		return &Result{Error: "create requires file_text"}, nil
	}

	if prev, err := t.readFile(ctx, path); err == nil {
		t.history[path] = append(t.history[path], prev)
	}

	if err := t.desk.WriteFile(ctx, path, fileText); err != nil {
		return t.fileFailure(ctx, err)
	}
	return &Result{Output: fmt.Sprintf("File created at %s", path)}, nil
}

func (t *EditorTool) strReplace(ctx context.Context, path string, input map[string]any) (*Result, error) {
	oldStr, ok := input["old_str"].(string)
	if !ok || oldStr == "" {
		return &Result{Error: "str_replace requires a non-empty old_str"}, nil
	}
	newStr := strArg(input, "new_str")

	content, err := t.readFile(ctx, path)
	if err != nil {
		return t.fileFailure(ctx, err)
	}

	switch count := strings.Count(content, oldStr); count {
	case 0:
		return &Result{Error: fmt.Sprintf("old_str was not found in %s", path)}, nil
	case 1:
	default:
		return &Result{Error: fmt.Sprintf("old_str occurs %d times in %s; it must be unique", count, path)}, nil
	}

	updated := strings.Replace(content, oldStr, newStr, 1)
	t.history[path] = append(t.history[path], content)
	if err := t.desk.WriteFile(ctx, path, updated); err != nil {
		return t.fileFailure(ctx, err)
	}

	editLine := strings.Count(content[:strings.Index(content, oldStr)], "\n") + 1
	out := fmt.Sprintf("File %s edited.\n%s", path, snippetAround(updated, editLine))
	return &Result{Output: out}, nil
}

func (t *EditorTool) insert(ctx context.Context, path string, input map[string]any) (*Result, error) {
	insertLine, ok := intArg(input, "insert_line")
	if !ok {
		return &Result{Error: "insert requires insert_line"}, nil
	}
	newStr, ok := input["new_str"].(string)
	if !ok {
		return &Result{Error: "insert requires new_str"}, nil
	}

	content, err := t.readFile(ctx, path)
	if err != nil {
		return t.fileFailure(ctx, err)
	}

	lines := strings.Split(content, "\n")
	if insertLine < 0 || insertLine > len(lines) {
		return &Result{Error: fmt.Sprintf("insert_line %d out of range for file with %d lines", insertLine, len(lines))}, nil
	}

	inserted := strings.Split(newStr, "\n")
	updated := make([]string, 0, len(lines)+len(inserted))
	updated = append(updated, lines[:insertLine]...)
	updated = append(updated, inserted...)
	updated = append(updated, lines[insertLine:]...)

	t.history[path] = append(t.history[path], content)
	joined := strings.Join(updated, "\n")
	if err := t.desk.WriteFile(ctx, path, joined); err != nil {
		return t.fileFailure(ctx, err)
	}

	out := fmt.Sprintf("File %s edited.\n%s", path, snippetAround(joined, insertLine+1))
	return &Result{Output: out}, nil
}

func (t *EditorTool) undoEdit(ctx context.Context, path string) (*Result, error) {
	stack := t.history[path]
	if len(stack) == 0 {
		return &Result{Error: fmt.Sprintf("no edit history for %s", path)}, nil
	}

	prev := stack[len(stack)-1]
	if err := t.desk.WriteFile(ctx, path, prev); err != nil {
		return t.fileFailure(ctx, err)
	}
	t.history[path] = stack[:len(stack)-1]
	return &Result{Output: fmt.Sprintf("Last edit to %s undone", path)}, nil
}

func (t *EditorTool) readFile(ctx context.Context, path string) (string, error) {
	return t.desk.ReadFile(ctx, path)
}

// fileFailure reports a read/write problem to the model unless the
// context was canceled, which is a hard stop instead.
func (t *EditorTool) fileFailure(ctx context.Context, err error) (*Result, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return &Result{Error: err.Error()}, nil
}

func numberLines(lines []string, start int) string {
	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "%6d\t%s\n", start+i, line)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// snippetAround renders a numbered window of content centered on line.
func snippetAround(content string, line int) string {
	lines := strings.Split(content, "\n")
	start := line - snippetContextLines
	if start < 1 {
		start = 1
	}
	end := line + snippetContextLines
	if end > len(lines) {
		end = len(lines)
	}
	return numberLines(lines[start-1:end], start)
}
