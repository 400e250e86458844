package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIOptions configures the OpenAI adapter.
type OpenAIOptions struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
}

// OpenAICaller adapts the OpenAI Chat Completions API to the Caller contract.
type OpenAICaller struct {
	client *openai.Client
	opts   OpenAIOptions
}

// NewOpenAICaller creates an OpenAI-backed caller. Without an explicit API
// key the official client falls back to its environment variables.
func NewOpenAICaller(optFns ...func(o *OpenAIOptions)) *OpenAICaller {
	opts := OpenAIOptions{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := openai.NewClient(clientOpts...)

	return &OpenAICaller{
		client: &client,
		opts:   opts,
	}
}

func (o *OpenAICaller) Name() string { return "openai/" + o.opts.Model }

// Call submits the conversation and translates the response into a Turn.
// Rate limit and upstream 5xx failures come back wrapped as TransientError.
func (o *OpenAICaller) Call(ctx context.Context, messages []Message, tools []ToolDefinition) (*Turn, error) {
	params := openai.ChatCompletionNewParams{
		Messages:            buildOpenAIMessages(messages),
		Model:               o.opts.Model,
		Temperature:         openai.Float(o.opts.Temperature),
		MaxCompletionTokens: openai.Int(o.opts.MaxCompletionTokens),
	}
	if len(tools) > 0 {
		params.Tools = buildOpenAITools(tools)
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apierr *openai.Error
		if errors.As(err, &apierr) && transientStatus(apierr.StatusCode) {
			return nil, Transient(fmt.Errorf("openai api error: %w", err))
		}
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai api returned no choices")
	}

	choice := resp.Choices[0]
	turn := &Turn{}
	for _, tc := range choice.Message.ToolCalls {
		args := map[string]interface{}{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("malformed tool call arguments for %q: %w", tc.Function.Name, err)
			}
		}
		turn.Requests = append(turn.Requests, ToolRequest{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	turn.FinalText = choice.Message.Content
	return turn, nil
}

// buildOpenAIMessages converts conversation state into chat completion form.
// Assistant tool calls are followed by one tool message per result.
func buildOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(msg.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls))
			for _, call := range msg.ToolCalls {
				args := "{}"
				if call.Args != nil {
					if raw, err := json.Marshal(call.Args); err == nil {
						args = string(raw)
					}
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
					ID:   call.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: args,
					},
				})
			}
			assistant := &openai.ChatCompletionAssistantMessageParam{
				Role:      "assistant",
				ToolCalls: toolCalls,
			}
			if msg.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case RoleTool:
			for _, result := range msg.ToolResults {
				out = append(out, openai.ToolMessage(result.Content, result.ID))
			}
		}
	}

	return out
}

func buildOpenAITools(tools []ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, len(tools))
	for i, tool := range tools {
		out[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: openai.String(tool.Description),
				Parameters:  tool.Schema,
			},
		}
	}
	return out
}
