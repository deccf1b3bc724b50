// Package chat holds the conversation model shared by the turn engine and
// the inference provider: messages, their content parts, and the
// per-session history with its image retention policy.
package chat

// Role identifies which side of the conversation authored a message.
type Role string

// Conversation roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType discriminates the Part union.
type PartType string

// Part variants.
const (
	PartText       PartType = "text"
	PartToolUse    PartType = "tool_use"
	PartToolResult PartType = "tool_result"
	PartImage      PartType = "image"
)

// ChunkType discriminates the chunks nested inside a tool result.
type ChunkType string

// Chunk variants.
const (
	ChunkText  ChunkType = "text"
	ChunkImage ChunkType = "image"
)

// Message is one conversation entry: a role and an ordered list of parts.
type Message struct {
	Role  Role
	Parts []Part
}

// Part is one content element of a message. Type selects the variant and
// only that variant's field is set.
type Part struct {
	Type       PartType
	Text       string
	ToolUse    *ToolUse
	ToolResult *ToolResult
	Image      *Image
}

// ToolUse records an assistant request to invoke a tool.
type ToolUse struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResult records the outcome of one tool invocation. Error results
// carry IsError and a single text chunk holding the error string; success
// results carry an optional text chunk followed by an optional image chunk.
type ToolResult struct {
	ToolUseID string
	IsError   bool
	Content   []Chunk
}

// Chunk is one element of tool-result content.
type Chunk struct {
	Type  ChunkType
	Text  string
	Image *Image
}

// Image is base64-encoded image data with its media type.
type Image struct {
	MediaType string
	Data      string
}

// MediaTypePNG is the media type of every screenshot this system produces.
const MediaTypePNG = "image/png"

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

// ToolUsePart builds a tool invocation request part.
func ToolUsePart(id, name string, input map[string]any) Part {
	return Part{Type: PartToolUse, ToolUse: &ToolUse{ID: id, Name: name, Input: input}}
}

// NewToolResultPart encodes a tool outcome as a history part. A non-empty
// error wins: the part becomes an error result whose only content is the
// error text. Otherwise output text and a PNG image are included when
// present.
func NewToolResultPart(toolUseID, output, errMsg, base64PNG string) Part {
	if errMsg != "" {
		return Part{Type: PartToolResult, ToolResult: &ToolResult{
			ToolUseID: toolUseID,
			IsError:   true,
			Content:   []Chunk{{Type: ChunkText, Text: errMsg}},
		}}
	}

	var chunks []Chunk
	if output != "" {
		chunks = append(chunks, Chunk{Type: ChunkText, Text: output})
	}
	if base64PNG != "" {
		chunks = append(chunks, Chunk{
			Type:  ChunkImage,
			Image: &Image{MediaType: MediaTypePNG, Data: base64PNG},
		})
	}
	return Part{Type: PartToolResult, ToolResult: &ToolResult{ToolUseID: toolUseID, Content: chunks}}
}

// UserText builds a user message holding a single text part.
func UserText(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{TextPart(text)}}
}

// UserMessage builds a user message from arbitrary parts.
func UserMessage(parts ...Part) Message {
	return Message{Role: RoleUser, Parts: parts}
}

// AssistantMessage builds an assistant message from arbitrary parts.
func AssistantMessage(parts ...Part) Message {
	return Message{Role: RoleAssistant, Parts: parts}
}
