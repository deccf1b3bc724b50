// Package wire defines the JSON frames exchanged over a chat session socket.
package wire

import "time"

// Handshake is the first frame a client must send after connecting.
// APIKey is required; the connection is rejected without it. Saved browser
// state is named by auth_state_id, with context_id accepted as a legacy
// alias.
type Handshake struct {
	APIKey      string `json:"api_key"`
	ModelName   string `json:"model_name,omitempty"`
	AuthStateID string `json:"auth_state_id,omitempty"`
	ContextID   string `json:"context_id,omitempty"`
}

// AuthState returns the effective saved-browser-state reference.
func (h *Handshake) AuthState() string {
	if h.AuthStateID != "" {
		return h.AuthStateID
	}
	return h.ContextID
}

// Command frames follow the handshake. They are keyed rather than
// type-tagged: control frames carry "command", chat frames carry "message".
// Message is a pointer so that a present-but-empty message is still
// distinguishable from an absent key.
type Command struct {
	Command string  `json:"command,omitempty"`
	Message *string `json:"message,omitempty"`
}

// Control commands accepted inside Command.Command.
const (
	CommandTerminate = "terminate"
	CommandPause     = "pause"
)

// Event types sent to the client. Every server frame is an Event with
// exactly one of these in Type.
const (
	EventText         = "text"
	EventReasoning    = "reasoning"
	EventToolUse      = "tool_use"
	EventToolResult   = "tool_result"
	EventInstanceInfo = "instance_info"
	EventStreamURL    = "stream_url"
	EventLoopComplete = "loop_complete"
	EventLoopPaused   = "loop_paused"
	EventOutOfCredits = "out_of_credits"
)

// Event is a single server-to-client frame. Only the fields relevant to
// Type are populated; the rest marshal away.
type Event struct {
	Type        string         `json:"type"`
	Content     string         `json:"content,omitempty"`
	Output      string         `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	Base64Image string         `json:"base64_image,omitempty"`
	Name        string         `json:"name,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	URL         string         `json:"url,omitempty"`
	InstanceID  string         `json:"instance_id,omitempty"`
	LaunchTime  string         `json:"launch_time,omitempty"`
}

// Text is an assistant text part.
func Text(content string) Event {
	return Event{Type: EventText, Content: content}
}

// Reasoning is one assistant reasoning part.
func Reasoning(content string) Event {
	return Event{Type: EventReasoning, Content: content}
}

// ToolUse announces a tool invocation before it is dispatched.
func ToolUse(name string, input map[string]any) Event {
	return Event{Type: EventToolUse, Name: name, Input: input}
}

// ToolResult reports a finished tool invocation. Any of the three fields
// may be empty.
func ToolResult(output, errMsg, base64Image string) Event {
	return Event{Type: EventToolResult, Output: output, Error: errMsg, Base64Image: base64Image}
}

// Status reports session lifecycle progress. Status frames share the
// tool_result type so clients render them inline with tool output.
func Status(message string) Event {
	return Event{Type: EventToolResult, Output: message}
}

// ErrorResult reports a user-visible failure as an error-carrying
// tool_result frame.
func ErrorResult(message string) Event {
	return Event{Type: EventToolResult, Error: message}
}

// InstanceInfo announces the provisioned instance and its live view URL.
func InstanceInfo(url, instanceID string, launchTime time.Time) Event {
	return Event{
		Type:       EventInstanceInfo,
		URL:        url,
		InstanceID: instanceID,
		LaunchTime: launchTime.Format(time.RFC3339),
	}
}

// StreamURL re-announces the live view URL on its own.
func StreamURL(url string) Event {
	return Event{Type: EventStreamURL, URL: url}
}

// LoopComplete marks the end of a turn.
func LoopComplete() Event {
	return Event{Type: EventLoopComplete, Content: "Loop complete"}
}

// LoopPaused acknowledges a pause request taking effect.
func LoopPaused() Event {
	return Event{Type: EventLoopPaused, Content: "Loop paused"}
}

// OutOfCredits tells the client the user's balance blocked a turn.
func OutOfCredits() Event {
	return Event{Type: EventOutOfCredits, Content: "Out of credits"}
}
