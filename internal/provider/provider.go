// Package provider binds the session loop to an inference backend. A
// Provider turns the conversation history plus tool schemas into one
// model response, decomposed into the ordered parts the engine consumes.
package provider

import (
	"context"
	"strings"

	"github.com/deskloop/deskloop/internal/chat"
	"github.com/deskloop/deskloop/internal/tools"
)

// ThinkingSuffix marks model names that request extended thinking; the
// suffix is stripped before the name goes to the API.
const ThinkingSuffix = "-thinking"

var supportedModels = []string{
	"claude-3-7-sonnet-20250219",
	"claude-3-7-sonnet-20250219" + ThinkingSuffix,
	"claude-3-5-sonnet-20241022",
}

// SupportedModels returns the model names sessions may request.
func SupportedModels() []string {
	return append([]string(nil), supportedModels...)
}

// SupportedModel reports whether name is an accepted model.
func SupportedModel(name string) bool {
	for _, m := range supportedModels {
		if m == name {
			return true
		}
	}
	return false
}

// BaseModel strips the thinking suffix, returning the API model name and
// whether extended thinking was requested.
func BaseModel(name string) (string, bool) {
	if strings.HasSuffix(name, ThinkingSuffix) {
		return strings.TrimSuffix(name, ThinkingSuffix), true
	}
	return name, false
}

// PartType tags one variant of a response part.
type PartType string

const (
	PartText      PartType = "text"
	PartReasoning PartType = "reasoning"
	PartToolCall  PartType = "tool_call"
)

// Part is one element of a model response, in response order.
type Part struct {
	Type     PartType
	Text     string
	ToolCall *ToolCall
}

// ToolCall is the model's request to invoke one tool.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// Completion is one full model response. StopReason carries the API's
// termination reason for logging; the loop itself keys off the parts.
type Completion struct {
	Parts      []Part
	StopReason string
}

// Provider performs one synchronous inference call. Implementations must
// honor ctx cancellation.
type Provider interface {
	Complete(ctx context.Context, history []chat.Message, system string, schemas []tools.Schema) (*Completion, error)
}
