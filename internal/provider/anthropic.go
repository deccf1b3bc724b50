package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/deskloop/deskloop/internal/chat"
	"github.com/deskloop/deskloop/internal/tools"
)

// AnthropicOptions configures one session's provider. The API key is the
// client's own; the server never injects a shared key.
type AnthropicOptions struct {
	APIKey         string
	BaseURL        string
	Model          string // may carry the thinking suffix
	MaxTokens      int64
	ThinkingBudget int64
}

// AnthropicProvider implements Provider against the Anthropic Messages
// API.
type AnthropicProvider struct {
	client         anthropic.Client
	model          string
	thinking       bool
	maxTokens      int64
	thinkingBudget int64
}

func NewAnthropicProvider(opts AnthropicOptions) *AnthropicProvider {
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}

	model, thinking := BaseModel(opts.Model)
	maxTokens := opts.MaxTokens
	if thinking && maxTokens <= opts.ThinkingBudget {
		// max_tokens bounds thinking plus output; leave output room.
		maxTokens = opts.ThinkingBudget + 1024
	}

	return &AnthropicProvider{
		client:         anthropic.NewClient(reqOpts...),
		model:          model,
		thinking:       thinking,
		maxTokens:      maxTokens,
		thinkingBudget: opts.ThinkingBudget,
	}
}

func (p *AnthropicProvider) Complete(ctx context.Context, history []chat.Message, system string, schemas []tools.Schema) (*Completion, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: p.maxTokens,
		Messages:  encodeMessages(history),
		Tools:     encodeSchemas(schemas),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if p.thinking {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(p.thinkingBudget)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic completion: %w", err)
	}
	return decodeResponse(resp), nil
}

func encodeMessages(history []chat.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, msg := range history {
		blocks := encodeParts(msg.Parts)
		if len(blocks) == 0 {
			continue
		}
		switch msg.Role {
		case chat.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func encodeParts(parts []chat.Part) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case chat.PartText:
			blocks = append(blocks, anthropic.NewTextBlock(part.Text))

		case chat.PartToolUse:
			blocks = append(blocks, anthropic.ContentBlockParamUnion{
				OfToolUse: &anthropic.ToolUseBlockParam{
					ID:    part.ToolUse.ID,
					Name:  part.ToolUse.Name,
					Input: part.ToolUse.Input,
				},
			})

		case chat.PartToolResult:
			blocks = append(blocks, encodeToolResult(part.ToolResult))

		case chat.PartImage:
			blocks = append(blocks, anthropic.NewImageBlockBase64(part.Image.MediaType, part.Image.Data))
		}
	}
	return blocks
}

func encodeToolResult(tr *chat.ToolResult) anthropic.ContentBlockParamUnion {
	block := anthropic.ToolResultBlockParam{ToolUseID: tr.ToolUseID}
	if tr.IsError {
		block.IsError = anthropic.Bool(true)
	}
	for _, chunk := range tr.Content {
		switch chunk.Type {
		case chat.ChunkText:
			block.Content = append(block.Content, anthropic.ToolResultBlockParamContentUnion{
				OfText: &anthropic.TextBlockParam{Text: chunk.Text},
			})
		case chat.ChunkImage:
			block.Content = append(block.Content, anthropic.ToolResultBlockParamContentUnion{
				OfImage: &anthropic.ImageBlockParam{
					Source: anthropic.ImageBlockParamSourceUnion{
						OfBase64: &anthropic.Base64ImageSourceParam{
							MediaType: anthropic.Base64ImageSourceMediaType(chunk.Image.MediaType),
							Data:      chunk.Image.Data,
						},
					},
				},
			})
		}
	}
	return anthropic.ContentBlockParamUnion{OfToolResult: &block}
}

func encodeSchemas(schemas []tools.Schema) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		tool := anthropic.ToolParam{
			Name: s.Name,
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: s.Properties,
			},
		}
		if s.Description != "" {
			tool.Description = anthropic.String(s.Description)
		}
		if len(s.Required) > 0 {
			tool.InputSchema.Required = s.Required
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return out
}

// decodeResponse flattens the API content blocks into the fixed part
// set the engine understands, preserving response order.
func decodeResponse(msg *anthropic.Message) *Completion {
	comp := &Completion{StopReason: string(msg.StopReason)}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			comp.Parts = append(comp.Parts, Part{Type: PartText, Text: b.Text})

		case anthropic.ThinkingBlock:
			comp.Parts = append(comp.Parts, Part{Type: PartReasoning, Text: b.Thinking})

		case anthropic.ToolUseBlock:
			input := map[string]any{}
			if len(b.Input) > 0 {
				if err := json.Unmarshal(b.Input, &input); err != nil {
					slog.Warn("Undecodable tool input", "tool", b.Name, "error", err)
				}
			}
			comp.Parts = append(comp.Parts, Part{
				Type:     PartToolCall,
				ToolCall: &ToolCall{ID: b.ID, Name: b.Name, Input: input},
			})
		}
	}
	return comp
}
