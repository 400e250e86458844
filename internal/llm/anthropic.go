package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
)

// AnthropicOptions configures the Anthropic adapter.
type AnthropicOptions struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// AnthropicCaller adapts the Anthropic Messages API to the Caller contract.
type AnthropicCaller struct {
	client *anthropic.Client
	opts   AnthropicOptions
}

// NewAnthropicCaller creates an Anthropic-backed caller. Without an explicit
// API key the official client falls back to its environment variables.
func NewAnthropicCaller(optFns ...func(o *AnthropicOptions)) *AnthropicCaller {
	opts := AnthropicOptions{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &AnthropicCaller{
		client: &client,
		opts:   opts,
	}
}

func (a *AnthropicCaller) Name() string { return "anthropic/" + string(a.opts.Model) }

// Call submits the conversation and translates the response into a Turn.
// Rate limit and upstream 5xx failures come back wrapped as TransientError.
func (a *AnthropicCaller) Call(ctx context.Context, messages []Message, tools []ToolDefinition) (*Turn, error) {
	params := anthropic.MessageNewParams{
		Model:       a.opts.Model,
		Messages:    buildAnthropicMessages(messages),
		MaxTokens:   a.opts.MaxTokens,
		Temperature: anthropic.Float(a.opts.Temperature),
	}
	if system := extractSystemBlocks(messages); len(system) > 0 {
		params.System = system
	}
	if len(tools) > 0 {
		params.Tools = buildAnthropicTools(tools)
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		var apierr *anthropic.Error
		if errors.As(err, &apierr) && transientStatus(apierr.StatusCode) {
			return nil, Transient(fmt.Errorf("anthropic api error: %w", err))
		}
		return nil, fmt.Errorf("anthropic api error: %w", err)
	}

	turn := &Turn{}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			textBlock := block.AsText()
			if textBlock.Text != "" {
				if turn.FinalText != "" {
					turn.FinalText += "\n"
				}
				turn.FinalText += textBlock.Text
			}
		case "tool_use":
			toolBlock := block.AsToolUse()
			args := map[string]interface{}{}
			if toolBlock.Input != nil {
				if raw, err := json.Marshal(toolBlock.Input); err == nil {
					_ = json.Unmarshal(raw, &args)
				}
			}
			turn.Requests = append(turn.Requests, ToolRequest{
				ID:   toolBlock.ID,
				Name: toolBlock.Name,
				Args: args,
			})
		}
	}

	return turn, nil
}

// buildAnthropicMessages converts conversation state into Messages API form.
// Tool results travel in a user message following the assistant tool_use turn,
// as the API requires.
func buildAnthropicMessages(messages []Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			// Handled separately via params.System.
		case RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				var input interface{} = call.Args
				if input == nil {
					input = map[string]interface{}{}
				}
				content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			}
			if len(content) > 0 {
				out = append(out, anthropic.NewAssistantMessage(content...))
			}
		case RoleTool:
			var content []anthropic.ContentBlockParamUnion
			for _, result := range msg.ToolResults {
				content = append(content, anthropic.NewToolResultBlock(result.ID, result.Content, result.IsError))
			}
			if len(content) > 0 {
				out = append(out, anthropic.NewUserMessage(content...))
			}
		}
	}

	return out
}

func extractSystemBlocks(messages []Message) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	for _, msg := range messages {
		if msg.Role == RoleSystem && msg.Content != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: msg.Content})
		}
	}
	return blocks
}

func buildAnthropicTools(tools []ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, len(tools))
	for i, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if tool.Schema != nil {
			if properties, ok := tool.Schema["properties"]; ok {
				inputSchema.Properties = properties
			}
			if required, ok := tool.Schema["required"]; ok {
				switch req := required.(type) {
				case []string:
					inputSchema.Required = req
				case []interface{}:
					for _, r := range req {
						if s, ok := r.(string); ok {
							inputSchema.Required = append(inputSchema.Required, s)
						}
					}
				}
			}
		}
		out[i] = anthropic.ToolUnionParamOfTool(inputSchema, tool.Name)
	}
	return out
}
