package provider

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/deskloop/deskloop/internal/chat"
	"github.com/deskloop/deskloop/internal/tools"
)

func TestBaseModel(t *testing.T) {
	model, thinking := BaseModel("claude-3-7-sonnet-20250219-thinking")
	if model != "claude-3-7-sonnet-20250219" {
		t.Fatalf("expected suffix stripped, got %q", model)
	}
	if !thinking {
		t.Fatal("expected thinking to be enabled")
	}

	model, thinking = BaseModel("claude-3-5-sonnet-20241022")
	if model != "claude-3-5-sonnet-20241022" || thinking {
		t.Fatalf("expected plain model unchanged, got %q thinking=%v", model, thinking)
	}
}

func TestSupportedModel(t *testing.T) {
	for _, name := range SupportedModels() {
		if !SupportedModel(name) {
			t.Fatalf("expected %s to be supported", name)
		}
	}
	if SupportedModel("claude-instant-v1") {
		t.Fatal("expected unknown model to be rejected")
	}
}

func TestEncodeMessagesRolesAndParts(t *testing.T) {
	history := []chat.Message{
		chat.UserText("open the browser"),
		chat.AssistantMessage(
			chat.TextPart("Opening it now."),
			chat.ToolUsePart("toolu_1", "bash", map[string]any{"command": "ls"}),
		),
		chat.UserMessage(chat.NewToolResultPart("toolu_1", "done", "", "aW1n")),
	}

	encoded := encodeMessages(history)
	if len(encoded) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(encoded))
	}

	if encoded[0].Role != anthropic.MessageParamRoleUser {
		t.Fatalf("expected user role, got %s", encoded[0].Role)
	}
	if encoded[1].Role != anthropic.MessageParamRoleAssistant {
		t.Fatalf("expected assistant role, got %s", encoded[1].Role)
	}

	assistant := encoded[1].Content
	if len(assistant) != 2 {
		t.Fatalf("expected 2 assistant blocks, got %d", len(assistant))
	}
	if assistant[0].OfText == nil || assistant[0].OfText.Text != "Opening it now." {
		t.Fatalf("expected text block, got %+v", assistant[0])
	}
	if assistant[1].OfToolUse == nil || assistant[1].OfToolUse.ID != "toolu_1" {
		t.Fatalf("expected tool_use block, got %+v", assistant[1])
	}

	results := encoded[2].Content
	if len(results) != 1 || results[0].OfToolResult == nil {
		t.Fatalf("expected one tool_result block, got %+v", results)
	}
	tr := results[0].OfToolResult
	if tr.ToolUseID != "toolu_1" {
		t.Fatalf("expected tool_use_id toolu_1, got %s", tr.ToolUseID)
	}
	if len(tr.Content) != 2 {
		t.Fatalf("expected text+image chunks, got %d", len(tr.Content))
	}
	if tr.Content[0].OfText == nil || tr.Content[0].OfText.Text != "done" {
		t.Fatalf("expected text chunk, got %+v", tr.Content[0])
	}
	img := tr.Content[1].OfImage
	if img == nil || img.Source.OfBase64 == nil || img.Source.OfBase64.Data != "aW1n" {
		t.Fatalf("expected base64 image chunk, got %+v", tr.Content[1])
	}
}

func TestEncodeMessagesSkipsEmptyMessages(t *testing.T) {
	history := []chat.Message{
		{Role: chat.RoleAssistant},
		chat.UserText("hello"),
	}

	encoded := encodeMessages(history)
	if len(encoded) != 1 {
		t.Fatalf("expected empty message skipped, got %d messages", len(encoded))
	}
}

func TestEncodeToolResultError(t *testing.T) {
	part := chat.NewToolResultPart("toolu_9", "", "command exploded", "")

	block := encodeToolResult(part.ToolResult)
	tr := block.OfToolResult
	if tr == nil {
		t.Fatal("expected tool_result block")
	}
	if !tr.IsError.Value {
		t.Fatal("expected is_error to be set")
	}
	if len(tr.Content) != 1 || tr.Content[0].OfText == nil || tr.Content[0].OfText.Text != "command exploded" {
		t.Fatalf("expected error text chunk, got %+v", tr.Content)
	}
}

func TestEncodeSchemas(t *testing.T) {
	schemas := []tools.Schema{
		{
			Name:        "bash",
			Description: "Run a command.",
			Properties:  map[string]any{"command": map[string]any{"type": "string"}},
		},
		{
			Name:       "computer",
			Properties: map[string]any{"action": map[string]any{"type": "string"}},
			Required:   []string{"action"},
		},
	}

	encoded := encodeSchemas(schemas)
	if len(encoded) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(encoded))
	}

	bash := encoded[0].OfTool
	if bash == nil || bash.Name != "bash" {
		t.Fatalf("expected bash tool, got %+v", encoded[0])
	}
	if bash.Description.Value != "Run a command." {
		t.Fatalf("expected description, got %+v", bash.Description)
	}

	computer := encoded[1].OfTool
	if computer == nil || len(computer.InputSchema.Required) != 1 || computer.InputSchema.Required[0] != "action" {
		t.Fatalf("expected required action, got %+v", encoded[1])
	}
}
