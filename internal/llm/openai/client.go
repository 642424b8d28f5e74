// Package openai implements llm.Provider against the OpenAI Chat
// Completions API via github.com/openai/openai-go, as an alternate
// backend alongside internal/llm/anthropic (spec.md §4.4 treats the LLM
// backend as pluggable; "PROVIDER" errors are classified identically
// regardless of which backend raised them).
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/AriseOS/amid/internal/errkind"
	"github.com/AriseOS/amid/internal/llm"
	"github.com/AriseOS/amid/internal/observability"
)

// Client implements llm.Provider on top of the OpenAI Chat Completions API.
type Client struct {
	chat      openai.ChatCompletionService
	model     string
	maxTokens int
}

// New builds a Client from an API key and model identifier (e.g. "gpt-4o").
func New(apiKey, model string, maxTokens int) (*Client, error) {
	if apiKey == "" {
		return nil, errkind.New(errkind.Config, "OPENAI_API_KEY is not set")
	}
	if model == "" {
		return nil, errkind.New(errkind.Config, "openai model identifier is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return &Client{chat: c.Chat.Completions, model: model, maxTokens: maxTokens}, nil
}

func (c *Client) Name() string { return "openai" }

// Complete issues a single Chat.Completions.New call and translates the
// response into llm.Response.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	timer := observability.NewTimer()

	params, err := c.buildParams(req)
	if err != nil {
		timer.ObserveProviderRequest(c.Name(), "invalid_input")
		return nil, errkind.Wrap(errkind.InvalidInput, "build openai request", err)
	}

	resp, err := c.chat.New(ctx, *params)
	if err != nil {
		timer.ObserveProviderRequest(c.Name(), "error")
		return nil, errkind.Wrap(errkind.Provider, "openai chat.completions.new", err)
	}

	timer.ObserveProviderRequest(c.Name(), "ok")
	return translateResponse(resp)
}

func (c *Client) buildParams(req llm.Request) (*openai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("at least one message is required")
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}

	for _, m := range req.Messages {
		msg, err := encodeMessage(m)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg...)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	params := &openai.ChatCompletionNewParams{
		Model:               c.model,
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}
	return params, nil
}

func encodeMessage(m llm.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case llm.RoleUser:
		if len(m.ToolResults) > 0 {
			out := make([]openai.ChatCompletionMessageParamUnion, 0, len(m.ToolResults))
			for _, tr := range m.ToolResults {
				out = append(out, openai.ToolMessage(tr.Content, tr.ToolCallID))
			}
			return out, nil
		}
		return []openai.ChatCompletionMessageParamUnion{openai.UserMessage(m.Text)}, nil

	case llm.RoleAssistant:
		msg := openai.ChatCompletionAssistantMessageParam{}
		if m.Text != "" {
			msg.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
				OfString: openai.String(m.Text),
			}
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ChatCompletionMessageToolCallParam{
				ID:   tc.ID,
				Type: "function",
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: string(tc.Input),
				},
			})
		}
		return []openai.ChatCompletionMessageParamUnion{{OfAssistant: &msg}}, nil

	case llm.RoleSystem:
		return []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(m.Text)}, nil

	default:
		return nil, fmt.Errorf("unsupported message role %q", m.Role)
	}
}

func encodeTools(defs []llm.ToolDefinition) ([]openai.ChatCompletionToolParam, error) {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		var schema map[string]interface{}
		if len(def.InputSchema) > 0 {
			if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("tool %q schema: %w", def.Name, err)
			}
		}
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  schema,
			},
		})
	}
	return out, nil
}

func translateResponse(resp *openai.ChatCompletion) (*llm.Response, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty response")
	}

	choice := resp.Choices[0]
	out := &llm.Response{
		Text:       choice.Message.Content,
		StopReason: mapFinishReason(string(choice.FinishReason)),
		Usage: llm.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: []byte(tc.Function.Arguments),
		})
	}

	return out, nil
}

func mapFinishReason(reason string) llm.StopReason {
	switch reason {
	case "tool_calls":
		return llm.StopToolUse
	case "length":
		return llm.StopMaxTokens
	default:
		return llm.StopEndTurn
	}
}
