package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	computerToolName = "computer"

	// Pause between an input action and its follow-up screenshot so the
	// UI has settled by capture time.
	screenshotSettle = 500 * time.Millisecond

	typeDelayMs = 12

	defaultScrollClicks = 3
)

// X11 wheel button numbers for scroll directions.
var scrollButtons = map[string]string{
	"up":    "4",
	"down":  "5",
	"left":  "6",
	"right": "7",
}

// ComputerTool drives the desk's pointer, keyboard, and screen through
// xdotool and scrot.
type ComputerTool struct {
	desk Desk
}

func NewComputerTool(desk Desk) *ComputerTool {
	return &ComputerTool{desk: desk}
}

func (t *ComputerTool) Name() string { return computerToolName }

func (t *ComputerTool) Schema() Schema {
	return Schema{
		Name:        computerToolName,
		Description: "Interact with the desktop's screen, keyboard, and mouse. Every input action returns a fresh screenshot.",
		Properties: map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []string{
					"key", "type", "mouse_move", "left_click", "left_click_drag",
					"right_click", "middle_click", "double_click", "scroll",
					"screenshot", "cursor_position",
				},
				"description": "The action to perform.",
			},
			"coordinate": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "integer"},
				"description": "[x, y] pixel coordinate for pointer actions.",
			},
			"text": map[string]any{
				"type":        "string",
				"description": "Text to type, or an xdotool key chord such as ctrl+s.",
			},
			"scroll_direction": map[string]any{
				"type":        "string",
				"enum":        []string{"up", "down", "left", "right"},
				"description": "Direction for the scroll action.",
			},
			"scroll_amount": map[string]any{
				"type":        "integer",
				"description": "Number of wheel clicks to scroll, default 3.",
			},
		},
		Required: []string{"action"},
	}
}

func (t *ComputerTool) Invoke(ctx context.Context, input map[string]any) (*Result, error) {
	action := strArg(input, "action")

	switch action {
	case "screenshot":
		return t.screenshot(ctx)

	case "cursor_position":
		out, err := t.desk.Xdotool(ctx, "getmouselocation", "--shell")
		if err != nil {
			return t.xdoFailure(ctx, err)
		}
		return &Result{Output: parseMouseLocation(out)}, nil

	case "key":
		text := strArg(input, "text")
		if text == "" {
			return &Result{Error: "key action requires text"}, nil
		}
		return t.inputAction(ctx, "key", "--", text)

	case "type":
		text := strArg(input, "text")
		if text == "" {
			return &Result{Error: "type action requires text"}, nil
		}
		return t.inputAction(ctx, "type", "--delay", strconv.Itoa(typeDelayMs), "--", text)

	case "mouse_move":
		x, y, ok := coordArg(input)
		if !ok {
			return &Result{Error: "mouse_move requires a [x, y] coordinate"}, nil
		}
		return t.inputAction(ctx, "mousemove", "--sync", strconv.Itoa(x), strconv.Itoa(y))

	case "left_click":
		return t.click(ctx, input, "1", false)

	case "right_click":
		return t.click(ctx, input, "3", false)

	case "middle_click":
		return t.click(ctx, input, "2", false)

	case "double_click":
		return t.click(ctx, input, "1", true)

	case "scroll":
		return t.scroll(ctx, input)

	case "left_click_drag":
		x, y, ok := coordArg(input)
		if !ok {
			return &Result{Error: "left_click_drag requires a target [x, y] coordinate"}, nil
		}
		args := []string{"mousedown", "1", "mousemove", "--sync", strconv.Itoa(x), strconv.Itoa(y), "mouseup", "1"}
		return t.inputAction(ctx, args...)

	case "":
		return &Result{Error: "no action provided"}, nil

	default:
		return &Result{Error: fmt.Sprintf("unknown action %q", action)}, nil
	}
}

// click optionally moves to an explicit coordinate first, then clicks.
func (t *ComputerTool) click(ctx context.Context, input map[string]any, button string, double bool) (*Result, error) {
	var args []string
	if x, y, ok := coordArg(input); ok {
		args = append(args, "mousemove", "--sync", strconv.Itoa(x), strconv.Itoa(y))
	}
	if double {
		args = append(args, "click", "--repeat", "2", "--delay", "125", button)
	} else {
		args = append(args, "click", button)
	}
	return t.inputAction(ctx, args...)
}

// scroll turns wheel clicks into X11 button presses, optionally moving
// to a coordinate first so the scroll lands on the right widget.
func (t *ComputerTool) scroll(ctx context.Context, input map[string]any) (*Result, error) {
	button, ok := scrollButtons[strArg(input, "scroll_direction")]
	if !ok {
		return &Result{Error: "scroll requires scroll_direction up, down, left, or right"}, nil
	}
	clicks := defaultScrollClicks
	if n, ok := intArg(input, "scroll_amount"); ok {
		if n < 1 {
			return &Result{Error: "scroll_amount must be at least 1"}, nil
		}
		clicks = n
	}

	var args []string
	if x, y, ok := coordArg(input); ok {
		args = append(args, "mousemove", "--sync", strconv.Itoa(x), strconv.Itoa(y))
	}
	args = append(args, "click", "--repeat", strconv.Itoa(clicks), button)
	return t.inputAction(ctx, args...)
}

// inputAction runs an xdotool command and follows it with a screenshot
// so the model always sees the effect of its input.
func (t *ComputerTool) inputAction(ctx context.Context, args ...string) (*Result, error) {
	out, err := t.desk.Xdotool(ctx, args...)
	if err != nil {
		return t.xdoFailure(ctx, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(screenshotSettle):
	}

	shot, err := t.desk.Screenshot(ctx)
	if err != nil {
		// The action itself succeeded; report it with the capture failure.
		return &Result{Output: out, Error: fmt.Sprintf("screenshot after action failed: %v", err)}, nil
	}
	return &Result{Output: out, Base64Image: shot}, nil
}

func (t *ComputerTool) screenshot(ctx context.Context) (*Result, error) {
	shot, err := t.desk.Screenshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &Result{Error: fmt.Sprintf("screenshot failed: %v", err)}, nil
	}
	return &Result{Base64Image: shot}, nil
}

// xdoFailure converts an xdotool error into a structured result unless
// the context was canceled, which the dispatcher treats as a hard stop.
func (t *ComputerTool) xdoFailure(ctx context.Context, err error) (*Result, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return &Result{Error: err.Error()}, nil
}

// parseMouseLocation turns `getmouselocation --shell` output (X=…\nY=…)
// into the compact "X=…,Y=…" form.
func parseMouseLocation(out string) string {
	var x, y string
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "X="):
			x = line
		case strings.HasPrefix(line, "Y="):
			y = line
		}
	}
	if x == "" || y == "" {
		return strings.TrimSpace(out)
	}
	return x + "," + y
}
